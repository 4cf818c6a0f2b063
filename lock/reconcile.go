package lock

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/rhansen/composersat"
	"github.com/rhansen/composersat/internal/jsonobj"
	"github.com/rhansen/composersat/platform"
	"github.com/rhansen/composersat/semver"
)

// IsStale reports whether l no longer describes m: the content hash differs, or the locked
// platform requirements or platform overrides differ from the manifest's.
func IsStale(l *Lock, m *Manifest) (bool, error) {
	hash, err := ContentHash(m)
	if err != nil {
		return false, err
	}
	if l.ContentHash != hash {
		return true, nil
	}
	if !sameMembers(l.Platform, platformRequirements(m.Require)) ||
		!sameMembers(l.PlatformDev, platformRequirements(m.RequireDev)) {
		return true, nil
	}
	overrides, err := overridesObject(m.PlatformOverrides)
	if err != nil {
		return false, err
	}
	return !sameMembers(l.PlatformOverrides, overrides), nil
}

func sameMembers(a, b jsonobj.Object) bool {
	if a.Len() != b.Len() {
		return false
	}
	for k, v := range a.All() {
		w, ok := b.Get(k)
		if !ok {
			return false
		}
		av, err1 := jsonobj.Marshal(v)
		bv, err2 := jsonobj.Marshal(w)
		if err1 != nil || err2 != nil || string(av) != string(bv) {
			return false
		}
	}
	return true
}

// overridesObject encodes platform overrides sorted by name, with disabled packages as false.
func overridesObject(overrides map[string]string) (jsonobj.Object, error) {
	var o jsonobj.Object
	for _, name := range slices.Sorted(maps.Keys(overrides)) {
		var v any = overrides[name]
		if v == platform.Disabled {
			v = false
		}
		if err := o.SetValue(name, v); err != nil {
			return jsonobj.Object{}, err
		}
	}
	return o, nil
}

// NewLock returns the lock file for ds, a solution of m's request.  Packages reachable from the
// non-development root requirements go to [Lock.Packages]; the rest go to [Lock.PackagesDev].
// Platform packages are never locked.
func NewLock(m *Manifest, ds *composersat.DecisionSet) (*Lock, error) {
	hash, err := ContentHash(m)
	if err != nil {
		return nil, err
	}
	req, err := m.Request()
	if err != nil {
		return nil, err
	}
	overrides, err := overridesObject(m.PlatformOverrides)
	if err != nil {
		return nil, err
	}
	l := &Lock{
		Readme:            Readme,
		ContentHash:       hash,
		MinimumStability:  m.MinimumStability,
		StabilityFlags:    maps.Clone(req.StabilityFlags),
		Aliases:           newAliases(req),
		PreferStable:      m.PreferStable,
		Platform:          platformRequirements(m.Require),
		PlatformDev:       platformRequirements(m.RequireDev),
		PlatformOverrides: overrides,
		PluginAPIVersion:  platform.PluginAPIVersion,
	}
	prod := prodPackages(req, ds)
	for c := range ds.All() {
		switch {
		case platform.IsPlatform(c.Name):
		case prod.Contains(c.Name):
			l.Packages = append(l.Packages, c)
		default:
			l.PackagesDev = append(l.PackagesDev, c)
		}
	}
	return l, nil
}

// prodPackages returns the names of the selected packages reachable from the non-development root
// requirements.
func prodPackages(req *composersat.Request, ds *composersat.DecisionSet) mapset.Set[string] {
	seen := mapset.NewThreadUnsafeSet[string]()
	var queue []*composersat.Candidate
	visit := func(c *composersat.Candidate) {
		if seen.Add(c.Name) {
			queue = append(queue, c)
		}
	}
	for _, r := range req.Requires {
		if r.Dev {
			continue
		}
		l := composersat.Link{
			Target:     r.Name,
			Kind:       composersat.LinkRequire,
			Constraint: r.Constraint.WithDefaultStability(semver.StabilityDev),
		}
		if c, ok := ds.Satisfier(l); ok {
			visit(c)
		}
	}
	for len(queue) > 0 {
		c := queue[0]
		queue = queue[1:]
		for d := range ds.Deps(c, false) {
			visit(d)
		}
	}
	return seen
}

// A Result is the outcome of [Reconcile].
type Result struct {
	// Decisions is the decision set to install.
	Decisions *composersat.DecisionSet
	// Lock is the lock file describing Decisions.  It is the input lock if no solve was needed.
	Lock *Lock
	// Transaction turns the input lock's packages into Decisions.  Platform packages are left out.
	Transaction composersat.Transaction
	// Solved reports whether the solver ran.
	Solved bool
}

// An Option adjusts [Reconcile].
type Option func(*config)

type config struct {
	update       bool
	allow        []string
	preferLowest bool
	solveOpts    []composersat.SolveOption
	logger       *slog.Logger
}

// WithUpdate forces a solve even if the lock file is fresh.  With no names, every package may
// change and the lock file's versions are not preferred.  With names, only those packages may move
// off their locked versions.
func WithUpdate(names ...string) Option {
	return func(c *config) {
		c.update = true
		c.allow = names
	}
}

// WithPreferLowest makes the solver prefer the lowest acceptable versions.
func WithPreferLowest(b bool) Option {
	return func(c *config) { c.preferLowest = b }
}

// WithSolveOptions passes extra options to [composersat.Solve].  They are applied after the
// options Reconcile derives from the manifest.
func WithSolveOptions(opts ...composersat.SolveOption) Option {
	return func(c *config) { c.solveOpts = append(c.solveOpts, opts...) }
}

// WithLogger sets the logger.  The default is [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(c *config) { c.logger = l }
}

// Reconcile brings a lock file up to date with m.  If l is fresh (see [IsStale]) and no update is
// requested, its decision set is returned without solving.  Otherwise the request from m is solved
// over pool, preferring the versions in l if there is one, and a new lock file is built.
//
// Reconcile is idempotent: reconciling the returned lock file with the same manifest does not
// solve again and yields the same lock file.
func Reconcile(ctx context.Context, pool *composersat.Pool, m *Manifest, l *Lock, opts ...Option) (*Result, error) {
	cfg := config{logger: slog.Default()}
	for _, opt := range opts {
		opt(&cfg)
	}
	var old *composersat.DecisionSet
	if l != nil {
		var err error
		if old, err = l.DecisionSet(); err != nil {
			return nil, fmt.Errorf("bad lock file: %w", err)
		}
		stale, err := IsStale(l, m)
		if err != nil {
			return nil, err
		}
		if !stale && !cfg.update {
			cfg.logger.DebugContext(ctx, "lock file is fresh", "packages", old.Len())
			return &Result{Decisions: old, Lock: l}, nil
		}
		cfg.logger.DebugContext(ctx, "lock file needs an update", "stale", stale, "update", cfg.update)
	}
	req, err := m.Request()
	if err != nil {
		return nil, err
	}
	policy := composersat.DefaultPolicy()
	policy.PreferStable = m.PreferStable
	policy.PreferLowest = cfg.preferLowest
	solveOpts := []composersat.SolveOption{
		composersat.WithPolicy(policy),
		composersat.WithLogger(cfg.logger),
	}
	switch {
	case old == nil:
	case cfg.update && len(cfg.allow) == 0:
	case cfg.update:
		solveOpts = append(solveOpts, composersat.WithLocked(old), composersat.WithUpdateAllowList(cfg.allow...))
	default:
		solveOpts = append(solveOpts, composersat.WithLocked(old))
	}
	ds, err := composersat.Solve(ctx, pool, req, append(solveOpts, cfg.solveOpts...)...)
	if err != nil {
		return nil, err
	}
	nl, err := NewLock(m, ds)
	if err != nil {
		return nil, err
	}
	nl.PreferLowest = cfg.preferLowest
	tx := slices.DeleteFunc(composersat.Diff(old, ds), func(op composersat.Operation) bool {
		return platform.IsPlatform(op.Name())
	})
	return &Result{Decisions: ds, Lock: nl, Transaction: tx, Solved: true}, nil
}
