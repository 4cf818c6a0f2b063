package composersat

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"maps"
	"math/rand/v2"
	"slices"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

var testErr = errors.New("test error")

// nameGraph maps a package name to the constraints it puts on other names.
type nameGraph map[string]map[string]string

func (g nameGraph) edges(n string) iter.Seq2[string, Link] {
	return func(yield func(string, Link) bool) {
		for _, target := range slices.Sorted(maps.Keys(g[n])) {
			l := Link{Source: n, Target: target, Kind: LinkRequire, PrettyConstraint: g[n][target]}
			if !yield(target, l) {
				return
			}
		}
	}
}

func TestGraphWalker(t *testing.T) {
	t.Parallel()
	for _, tc := range []struct {
		desc string
		g    nameGraph
		// stop lists names whose edges are not followed.
		stop []string
		want nameGraph
	}{
		{
			desc: "single package",
			g:    nameGraph{"root": {}},
			want: nameGraph{"root": {}},
		},
		{
			desc: "chain",
			g: nameGraph{
				"root":   {"acme/a": "^1.0"},
				"acme/a": {"acme/b": "^2.0"},
				"acme/b": {},
			},
			want: nameGraph{
				"root":   {"acme/a": "^1.0"},
				"acme/a": {"acme/b": "^2.0"},
				"acme/b": {},
			},
		},
		{
			desc: "cycle",
			g: nameGraph{
				"root":   {"acme/a": "*"},
				"acme/a": {"acme/b": "^1.0"},
				"acme/b": {"acme/a": "^1.0"},
			},
			want: nameGraph{
				"root":   {"acme/a": "*"},
				"acme/a": {"acme/b": "^1.0"},
				"acme/b": {"acme/a": "^1.0"},
			},
		},
		{
			desc: "unreachable names are not visited",
			g: nameGraph{
				"root":      {"acme/a": "*"},
				"acme/a":    {},
				"acme/lost": {"acme/a": "*"},
			},
			want: nameGraph{
				"root":   {"acme/a": "*"},
				"acme/a": {},
			},
		},
		{
			desc: "stopped names are visited but not expanded",
			g: nameGraph{
				"root":     {"php": ">=8.1", "acme/a": "*"},
				"php":      {"ext-json": "*"},
				"ext-json": {},
				"acme/a":   {"php": ">=8.2"},
			},
			stop: []string{"php"},
			want: nameGraph{
				"root":   {"php": ">=8.1", "acme/a": "*"},
				"php":    {},
				"acme/a": {"php": ">=8.2"},
			},
		},
		{
			desc: "wide",
			g:    newWideGraph(t),
			want: newWideGraph(t),
		},
	} {
		t.Run(tc.desc, func(t *testing.T) {
			t.Parallel()
			// Random sleeps shuffle the order of the concurrent callbacks.
			for i := range 5 {
				t.Run(strconv.Itoa(i), func(t *testing.T) {
					t.Parallel()
					var mu sync.Mutex
					got := nameGraph{}
					w := &graphWalker[string, Link]{
						visit: func(ctx context.Context, n string) (bool, error) {
							time.Sleep(rand.N(5 * time.Millisecond))
							if n == "" {
								t.Error("zero node visited")
							}
							mu.Lock()
							defer mu.Unlock()
							if _, ok := got[n]; ok {
								t.Errorf("%v visited twice", n)
							}
							got[n] = map[string]string{}
							return !slices.Contains(tc.stop, n), nil
						},
						edges: tc.g.edges,
						visitEdge: func(ctx context.Context, p, n string, l Link) error {
							time.Sleep(rand.N(5 * time.Millisecond))
							mu.Lock()
							defer mu.Unlock()
							if got[p] == nil || got[n] == nil {
								t.Errorf("edge %v -> %v visited before its endpoints", p, n)
								return nil
							}
							if l.Source != p || l.Target != n {
								t.Errorf("edge %v -> %v carries link %v", p, n, l)
							}
							got[p][n] = l.PrettyConstraint
							return nil
						},
					}
					if err := w.walk(t.Context(), "root"); err != nil {
						t.Fatal(err)
					}
					if diff := cmp.Diff(tc.want, got); diff != "" {
						t.Errorf("walked graph differs from expected (-want, +got):\n%s", diff)
					}
				})
			}
		})
	}
}

func TestGraphWalker_VisitsConcurrently(t *testing.T) {
	t.Parallel()
	g := newWideGraph(t)
	// Every direct dependency of root blocks in visit until all of them have started, which can
	// only happen if the walker runs them concurrently.
	var started sync.WaitGroup
	started.Add(len(g["root"]))
	allStarted := make(chan struct{})
	go func() {
		started.Wait()
		close(allStarted)
	}()
	w := &graphWalker[string, Link]{
		visit: func(ctx context.Context, n string) (bool, error) {
			if _, ok := g["root"][n]; !ok {
				return true, nil
			}
			started.Done()
			select {
			case <-ctx.Done():
				return false, context.Cause(ctx)
			case <-allStarted:
			case <-time.After(10 * time.Second):
				return false, fmt.Errorf("%v: other visits did not start", n)
			}
			return true, nil
		},
		edges: g.edges,
	}
	if err := w.walk(t.Context(), "root"); err != nil {
		t.Fatal(err)
	}
}

func TestGraphWalker_Errors(t *testing.T) {
	t.Parallel()
	g := newWideGraph(t)
	for _, tc := range []struct {
		desc      string
		visitErr  bool
		edgeErr   bool
		failingOn string
	}{
		{desc: "visit", visitErr: true, failingOn: "acme/b-7"},
		{desc: "visitEdge", edgeErr: true, failingOn: "acme/b-3"},
	} {
		t.Run(tc.desc, func(t *testing.T) {
			t.Parallel()
			w := &graphWalker[string, Link]{
				visit: func(ctx context.Context, n string) (bool, error) {
					if tc.visitErr && n == tc.failingOn {
						return false, fmt.Errorf("fetching %v: %w", n, testErr)
					}
					return true, nil
				},
				edges: g.edges,
				visitEdge: func(ctx context.Context, p, n string, l Link) error {
					if tc.edgeErr && p == tc.failingOn {
						return testErr
					}
					return nil
				},
			}
			if err := w.walk(t.Context(), "root"); !errors.Is(err, testErr) {
				t.Errorf("got error %v, want %v", err, testErr)
			}
		})
	}
}

func TestGraphWalker_ContextCancel(t *testing.T) {
	t.Parallel()
	g := nameGraph{"root": {"acme/c": "*"}, "acme/c": {}}
	for n := range newWideGraph(t)["root"] {
		g["acme/c"][n] = "*"
	}
	ctx, cancel := context.WithCancelCause(t.Context())
	defer cancel(nil)
	var blocked, cancelled atomic.Int32
	w := &graphWalker[string, Link]{
		visit: func(ctx context.Context, n string) (bool, error) {
			if n == "acme/c" {
				cancel(testErr)
			}
			if !strings.HasPrefix(n, "acme/b-") {
				return true, nil
			}
			blocked.Add(1)
			<-ctx.Done()
			cancelled.Add(1)
			return false, context.Cause(ctx)
		},
		edges: g.edges,
	}
	if err := w.walk(ctx, "root"); !errors.Is(err, testErr) {
		t.Errorf("got error %v, want %v", err, testErr)
	}
	if b, c := blocked.Load(), cancelled.Load(); b != c {
		t.Errorf("%v visits blocked but only %v saw the cancellation", b, c)
	}
}

// newWideGraph returns a graph where root requires many packages that all require acme/c.
func newWideGraph(t *testing.T) nameGraph {
	t.Helper()
	g := nameGraph{"root": {}, "acme/c": {}}
	const width = 200
	for i := range width {
		n := fmt.Sprintf("acme/b-%v", i)
		g["root"][n] = "^1." + strconv.Itoa(i)
		g[n] = map[string]string{"acme/c": "^1.0"}
	}
	return g
}
