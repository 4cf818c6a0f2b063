package composersat

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// graphWalker visits every node reachable from a start node exactly once, calling the callbacks
// concurrently.  The zero value of N must not be a valid node because it marks the parent of the
// start node.
type graphWalker[N comparable, E any] struct {
	// visit is called once per node.  The node's edges are followed only if it returns true.
	visit func(ctx context.Context, n N) (bool, error)
	// edges is called after visit returns true.
	edges func(n N) iter.Seq2[N, E]
	// visitEdge, if non-nil, is called once per edge after both endpoints have been visited.
	visitEdge func(ctx context.Context, parent, child N, e E) error
	log       *slog.Logger
}

type walkItem[N comparable, E any] struct {
	parent N
	child  N
	edge   E
}

func (w *graphWalker[N, E]) walk(ctx context.Context, start N) (retErr error) {
	log := w.log
	if log == nil {
		log = slog.Default()
	}
	var zero N
	nodes, edges := 0, 0
	var descends atomic.Int32
	log.DebugContext(ctx, "graph walk start", "start", start)
	defer func() {
		log.DebugContext(ctx, "graph walk done",
			"nodes", nodes, "edges", edges, "descends", descends.Load(), "err", retErr)
	}()

	// visited maps each node to a channel that is closed once visit has returned for that node.  It
	// is only touched by the dispatch loop.
	visited := map[N]chan struct{}{}
	q := make(chan walkItem[N, E])
	var pending atomic.Int32
	release := func() {
		if pending.Add(-1) == 0 {
			close(q)
		}
	}
	gr, ctx := errgroup.WithContext(ctx)
	send := func(it walkItem[N, E]) {
		pending.Add(1)
		gr.Go(func() error {
			select {
			case <-ctx.Done():
				release()
				return context.Cause(ctx)
			case q <- it:
				return nil
			}
		})
	}
	descend := func(n N, ready chan struct{}) error {
		defer release()
		follow, err := w.visit(ctx, n)
		if err != nil {
			return err
		}
		close(ready)
		if !follow {
			return nil
		}
		descends.Add(1)
		for child, e := range w.edges(n) {
			send(walkItem[N, E]{parent: n, child: child, edge: e})
		}
		return nil
	}
	dispatch := func(it walkItem[N, E]) {
		defer release()
		edges++
		ready, ok := visited[it.child]
		if !ok {
			nodes++
			ready = make(chan struct{})
			visited[it.child] = ready
			pending.Add(1)
			gr.Go(func() error { return descend(it.child, ready) })
		}
		if w.visitEdge == nil || it.parent == zero {
			return
		}
		parentReady := visited[it.parent]
		pending.Add(1)
		gr.Go(func() error {
			defer release()
			select {
			case <-ctx.Done():
				return context.Cause(ctx)
			case <-ready:
			}
			select {
			case <-parentReady:
			default:
				panic(fmt.Errorf("edge %v -> %v visited before its parent", it.parent, it.child))
			}
			return w.visitEdge(ctx, it.parent, it.child, it.edge)
		})
	}
	send(walkItem[N, E]{parent: zero, child: start})
	gr.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return context.Cause(ctx)
			case it, ok := <-q:
				if !ok {
					return nil
				}
				dispatch(it)
			}
		}
	})
	return gr.Wait()
}
