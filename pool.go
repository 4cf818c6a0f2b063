package composersat

import (
	"errors"
	"fmt"
	"iter"
	"maps"
	"slices"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/rhansen/composersat/internal/itertools"
	"github.com/rhansen/composersat/semver"
)

var (
	// ErrProvideCycle is wrapped by a [BuildError] of kind [ProvideCycle].
	ErrProvideCycle = errors.New("provide/replace cycle")
	// ErrDuplicateCandidate is wrapped by a [BuildError] of kind [DuplicateCandidate].
	ErrDuplicateCandidate = errors.New("duplicate candidate")
)

// BuildErrorKind classifies a [BuildError].
type BuildErrorKind int

const (
	ProvideCycle BuildErrorKind = iota + 1
	DuplicateCandidate
)

// BuildError reports malformed repository data found while building a [Pool].
type BuildError struct {
	Kind BuildErrorKind
	// Package is the offending package name.
	Package string
	// Cycle lists the package names that form a provide/replace cycle, starting and ending with the
	// same name.
	Cycle []string
}

func (e *BuildError) Error() string {
	if e.Kind == ProvideCycle {
		return fmt.Sprintf("%v: %v", ErrProvideCycle, strings.Join(e.Cycle, " -> "))
	}
	return fmt.Sprintf("%v: %v", ErrDuplicateCandidate, e.Package)
}

func (e *BuildError) Unwrap() error {
	if e.Kind == ProvideCycle {
		return ErrProvideCycle
	}
	return ErrDuplicateCandidate
}

type provider struct {
	c    *Candidate
	link Link
}

// A Pool is an immutable index of every known [Candidate].  It is safe for concurrent use by any
// number of solves.
type Pool struct {
	// candidates is in insertion order, followed by the aliases.  A candidate's id is its index
	// plus one.
	candidates []*Candidate
	ids        map[*Candidate]int
	byKey      map[string]*Candidate
	byName     map[string][]*Candidate
	providers  map[string][]provider
}

// NewPool indexes the given candidates.  Insertion order breaks ties between otherwise equally
// preferable candidates, so callers that want deterministic results must supply candidates in a
// deterministic order.
//
// Aliases are added after the candidates: first one for each inline alias whose package and
// version are in candidates, then one for each branch alias a candidate declares in its
// "extra.branch-alias" metadata.  An alias whose version is already taken is dropped.
//
// NewPool fails with a [BuildError] if two candidates share a name and an equivalent version, or
// if provide/replace links form a cycle among package names.  A link from a package to its own
// name is ignored.
func NewPool(candidates []*Candidate, inline ...InlineAlias) (*Pool, error) {
	p := &Pool{
		ids:       make(map[*Candidate]int, len(candidates)),
		byKey:     make(map[string]*Candidate, len(candidates)),
		byName:    map[string][]*Candidate{},
		providers: map[string][]provider{},
	}
	for _, c := range candidates {
		if !p.add(c) {
			return nil, &BuildError{Kind: DuplicateCandidate, Package: c.Id().String()}
		}
	}
	for _, ia := range inline {
		base, ok := p.byKey[PackageId{ia.Name, ia.Version}.Key()]
		if !ok || base.IsAlias() {
			continue
		}
		a, err := NewAlias(base, ia.Alias.String())
		if err != nil {
			return nil, err
		}
		p.add(a)
	}
	for _, c := range candidates {
		for _, a := range c.branchAliases() {
			p.add(a)
		}
	}
	for _, cs := range p.byName {
		// Newest first.  The sort is stable so equal versions keep insertion order.
		slices.SortStableFunc(cs, func(a, b *Candidate) int { return semver.Compare(b.Version, a.Version) })
	}
	if err := p.checkCycles(); err != nil {
		return nil, err
	}
	return p, nil
}

// add indexes c and reports whether its name and version were new.
func (p *Pool) add(c *Candidate) bool {
	key := c.Id().Key()
	if _, dup := p.byKey[key]; dup {
		return false
	}
	p.candidates = append(p.candidates, c)
	p.byKey[key] = c
	p.ids[c] = len(p.candidates)
	p.byName[c.Name] = append(p.byName[c.Name], c)
	for l := range c.ProvideLinks() {
		if l.Target != c.Name {
			p.providers[l.Target] = append(p.providers[l.Target], provider{c, l})
		}
	}
	return true
}

// checkCycles runs a depth-first search over the name graph whose edges are provide and replace
// links.
func (p *Pool) checkCycles() error {
	edges := map[string][]string{}
	for _, c := range p.candidates {
		for l := range c.ProvideLinks() {
			if l.Target != c.Name && !slices.Contains(edges[c.Name], l.Target) {
				edges[c.Name] = append(edges[c.Name], l.Target)
			}
		}
	}
	done := mapset.NewThreadUnsafeSet[string]()
	onStack := map[string]int{}
	var stack []string
	var visit func(n string) error
	visit = func(n string) error {
		if i, ok := onStack[n]; ok {
			cycle := append(slices.Clone(stack[i:]), n)
			return &BuildError{Kind: ProvideCycle, Package: n, Cycle: cycle}
		}
		if done.Contains(n) {
			return nil
		}
		onStack[n] = len(stack)
		stack = append(stack, n)
		for _, m := range edges[n] {
			if err := visit(m); err != nil {
				return err
			}
		}
		stack = stack[:len(stack)-1]
		delete(onStack, n)
		done.Add(n)
		return nil
	}
	for _, n := range slices.Sorted(maps.Keys(edges)) {
		if err := visit(n); err != nil {
			return err
		}
	}
	return nil
}

// Len returns the number of candidates in the pool, aliases included.
func (p *Pool) Len() int { return len(p.candidates) }

// All iterates over every candidate in insertion order, then over the aliases.
func (p *Pool) All() iter.Seq[*Candidate] { return slices.Values(p.candidates) }

// Names returns the sorted names of every package with at least one candidate.
func (p *Pool) Names() []string { return slices.Sorted(maps.Keys(p.byName)) }

// Lookup returns the candidates named name, newest first.  Candidates with equal versions keep
// their insertion order.
func (p *Pool) Lookup(name string) []*Candidate {
	return slices.Clone(p.byName[strings.ToLower(name)])
}

// Candidate returns the candidate identified by id, if any.
func (p *Pool) Candidate(id PackageId) (*Candidate, bool) {
	c, ok := p.byKey[id.Key()]
	return c, ok
}

// Id returns the pool-assigned identifier of c: a positive integer that reflects insertion order.
// It returns 0 if c is not in the pool.
func (p *Pool) Id(c *Candidate) int { return p.ids[c] }

// ById is the inverse of [Pool.Id].
func (p *Pool) ById(id int) *Candidate { return p.candidates[id-1] }

// Providers iterates over the candidates (other than those named name) that provide or replace
// name, with the responsible link, in insertion order.
func (p *Pool) Providers(name string) iter.Seq2[*Candidate, Link] {
	return func(yield func(*Candidate, Link) bool) {
		for _, a := range p.providers[strings.ToLower(name)] {
			if !yield(a.c, a.link) {
				return
			}
		}
	}
}

// Satisfiers lazily yields every candidate that can satisfy a requirement on name with the given
// constraint: first the candidates named name that the constraint matches (newest first), then the
// candidates that provide or replace name with a link whose constraint intersects the requirement
// (in insertion order).  A candidate appears at most once.  Providers below the constraint's
// stability floor are skipped.
func (p *Pool) Satisfiers(name string, c semver.Constraint) iter.Seq[*Candidate] {
	name = strings.ToLower(name)
	own := itertools.Filter(slices.Values(p.byName[name]), func(cand *Candidate) bool {
		return c.Matches(cand.Version)
	})
	providers := func(yield func(*Candidate) bool) {
		seen := mapset.NewThreadUnsafeSet[*Candidate]()
		for cand, l := range p.Providers(name) {
			if cand.Stability() < c.StabilityFloor() || !l.Constraint.Intersects(c) {
				continue
			}
			if seen.Add(cand) && !yield(cand) {
				return
			}
		}
	}
	return itertools.Cat(own, providers)
}

// Replaces reports whether candidate c replaces name.
func Replaces(c *Candidate, name string) bool {
	return slices.ContainsFunc(c.Replaces, func(l Link) bool { return l.Target == name })
}
