package composersat

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/rhansen/composersat/internal/logging"
	"github.com/rhansen/composersat/internal/syncmap"
)

// A PoolLoader builds a [Pool] by fetching, concurrently, every package name reachable from a
// request's root requirements.
type PoolLoader struct {
	repos []Repository
	log   *slog.Logger
	// requiredBy records, for each fetched name, the links through which the last load reached it.
	requiredBy *syncmap.Map[string, *linkList]
}

type linkList struct {
	mu    sync.Mutex
	links []Link
}

// NewPoolLoader returns a loader that queries repos in priority order: for each name, the first
// repository that returns a non-empty result wins and later repositories are not consulted.
func NewPoolLoader(repos ...Repository) *PoolLoader {
	return &PoolLoader{repos: repos, log: slog.Default()}
}

// WithLogger sets the loader's logger and returns l.
func (l *PoolLoader) WithLogger(log *slog.Logger) *PoolLoader {
	l.log = log
	return l
}

// loadNode is a node of the name graph walked by [PoolLoader.Load].  The start node has root set.
type loadNode struct {
	name string
	root bool
}

// Load fetches every name reachable from req and returns the resulting pool.  Names reachable only
// through candidates' development requirements are not fetched.  The pool's insertion order is
// deterministic: names are sorted, and each name's candidates keep the order the repository
// returned them in.  Candidates returned for several names are only added once.  The request's
// inline aliases are passed on to [NewPool].
func (l *PoolLoader) Load(ctx context.Context, req *Request) (*Pool, error) {
	var fetched syncmap.Map[string, []*Candidate]
	l.requiredBy = &syncmap.Map[string, *linkList]{}
	w := &graphWalker[loadNode, Link]{
		log: l.log,
		visit: func(ctx context.Context, n loadNode) (bool, error) {
			if n.root {
				return true, nil
			}
			cands, err := l.fetch(ctx, n.name)
			if err != nil {
				return false, err
			}
			fetched.LoadOrStore(n.name, cands)
			return true, nil
		},
		edges: func(n loadNode) iter.Seq2[loadNode, Link] {
			return func(yield func(loadNode, Link) bool) {
				if n.root {
					for _, r := range req.Requires {
						lk := Link{
							Source:           "root",
							Target:           r.Name,
							Kind:             linkKindFor(r),
							Constraint:       r.Constraint,
							PrettyConstraint: r.Constraint.String(),
						}
						if !yield(loadNode{name: r.Name}, lk) {
							return
						}
					}
					for _, id := range req.Fixed {
						if !yield(loadNode{name: id.Name}, Link{Source: "root", Target: id.Name}) {
							return
						}
					}
					return
				}
				cands, _ := fetched.Load(n.name)
				for _, c := range cands {
					for _, lk := range c.Requires {
						if !yield(loadNode{name: lk.Target}, lk) {
							return
						}
					}
				}
			}
		},
		visitEdge: func(ctx context.Context, _, child loadNode, lk Link) error {
			ll, _ := l.requiredBy.LoadOrStore(child.name, &linkList{})
			ll.mu.Lock()
			defer ll.mu.Unlock()
			ll.links = append(ll.links, lk)
			return nil
		},
	}
	if err := w.walk(ctx, loadNode{root: true}); err != nil {
		return nil, err
	}
	byName := fetched.ToMap()
	seen := mapset.NewThreadUnsafeSet[string]()
	var cands []*Candidate
	for _, name := range slices.Sorted(maps.Keys(byName)) {
		for _, c := range byName[name] {
			if seen.Add(c.Id().Key()) {
				cands = append(cands, c)
			}
		}
	}
	l.log.DebugContext(ctx, "pool loaded", "names", len(byName), "candidates", len(cands))
	return NewPool(cands, req.Aliases...)
}

func linkKindFor(r Requirement) LinkKind {
	if r.Dev {
		return LinkRequireDev
	}
	return LinkRequire
}

// RequiredBy returns the links through which the last [PoolLoader.Load] reached name, sorted by
// source name and constraint, without duplicates.
func (l *PoolLoader) RequiredBy(name string) []Link {
	if l.requiredBy == nil {
		return nil
	}
	ll, ok := l.requiredBy.Load(strings.ToLower(name))
	if !ok {
		return nil
	}
	ll.mu.Lock()
	defer ll.mu.Unlock()
	links := slices.SortedFunc(slices.Values(ll.links), func(a, b Link) int {
		if c := strings.Compare(a.Source, b.Source); c != 0 {
			return c
		}
		return strings.Compare(a.PrettyConstraint, b.PrettyConstraint)
	})
	return slices.CompactFunc(links, func(a, b Link) bool {
		return a.Source == b.Source && a.PrettyConstraint == b.PrettyConstraint
	})
}

func (l *PoolLoader) fetch(ctx context.Context, name string) ([]*Candidate, error) {
	for _, r := range l.repos {
		cands, err := r.FetchCandidates(ctx, name)
		if err != nil {
			return nil, &RepositoryError{Repository: fmt.Sprint(r), Package: name, Err: err}
		}
		if len(cands) > 0 {
			l.log.Log(ctx, logging.LevelTrace, "fetched", "package", name, "repository", fmt.Sprint(r),
				"candidates", len(cands))
			return cands, nil
		}
	}
	return nil, nil
}

// LoadPool is a convenience wrapper around [NewPoolLoader] and [PoolLoader.Load].
func LoadPool(ctx context.Context, req *Request, repos ...Repository) (*Pool, error) {
	return NewPoolLoader(repos...).Load(ctx, req)
}
