package composersat

import (
	"fmt"
	"iter"
	"maps"
	"slices"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/rhansen/composersat/internal/itertools"
	"github.com/rhansen/composersat/semver"
)

// A DecisionSet is the outcome of a successful [Solve]: at most one selected [Candidate] per
// package name, plus the names the solver considered and explicitly left uninstalled.
//
// A DecisionSet is immutable.
type DecisionSet struct {
	selected map[string]*Candidate
	// aliases holds the installed aliases by name.  Each stands for a selected candidate.
	aliases map[string][]*Candidate
	absent  mapset.Set[string]
}

// NewDecisionSet returns a [DecisionSet] selecting the given candidates.  It is typically used to
// turn a lock file back into a prior decision set for [WithLocked].  An alias among cands is kept
// for [DecisionSet.Satisfier] but is not selected itself.
func NewDecisionSet(cands ...*Candidate) (*DecisionSet, error) {
	ds := &DecisionSet{
		selected: make(map[string]*Candidate, len(cands)),
		aliases:  map[string][]*Candidate{},
		absent:   mapset.NewThreadUnsafeSet[string](),
	}
	for _, c := range cands {
		if c.AliasOf != nil {
			ds.aliases[c.Name] = append(ds.aliases[c.Name], c)
			continue
		}
		if old, dup := ds.selected[c.Name]; dup {
			return nil, fmt.Errorf("conflicting decisions for %v: %v and %v", c.Name, old, c)
		}
		ds.selected[c.Name] = c
	}
	for _, as := range ds.aliases {
		for _, a := range as {
			if !ds.Installed(a.AliasOf.Id()) {
				return nil, fmt.Errorf("%v is selected without %v", a, a.AliasOf)
			}
		}
	}
	return ds, nil
}

// Selected returns the candidate installed under the given name.
func (ds *DecisionSet) Selected(name string) (*Candidate, bool) {
	c, ok := ds.selected[strings.ToLower(name)]
	return c, ok
}

// Installed reports whether a candidate with the given id is selected.
func (ds *DecisionSet) Installed(id PackageId) bool {
	c, ok := ds.selected[id.Name]
	return ok && c.Id().Key() == id.Key()
}

// Absent reports whether the solver decided that no candidate named name is installed.  Names the
// solver never reached are neither selected nor absent.
func (ds *DecisionSet) Absent(name string) bool {
	return ds.absent.Contains(strings.ToLower(name))
}

// Len returns the number of selected candidates.
func (ds *DecisionSet) Len() int { return len(ds.selected) }

// Names returns the sorted names of the selected candidates.
func (ds *DecisionSet) Names() []string { return slices.Sorted(maps.Keys(ds.selected)) }

// All iterates over the selected candidates sorted by name.
func (ds *DecisionSet) All() iter.Seq[*Candidate] {
	return itertools.Map(slices.Values(ds.Names()), func(n string) *Candidate { return ds.selected[n] })
}

// Ids returns the ids of the selected candidates sorted by name.
func (ds *DecisionSet) Ids() []PackageId {
	return slices.Collect(itertools.Map(ds.All(), (*Candidate).Id))
}

// Equal reports whether both decision sets select equivalent versions of the same packages.
func (ds *DecisionSet) Equal(o *DecisionSet) bool {
	if ds == nil || o == nil {
		return ds == o
	}
	if len(ds.selected) != len(o.selected) {
		return false
	}
	for n, c := range ds.selected {
		oc, ok := o.selected[n]
		if !ok || !c.Version.Equal(oc.Version) {
			return false
		}
	}
	return true
}

func (ds *DecisionSet) String() string {
	return "{" + strings.Join(slices.Collect(itertools.Stringify(slices.Values(ds.Ids()))), ", ") + "}"
}

// Satisfier returns the selected candidate that satisfies the given require link, if any.  A
// candidate with the link's target name is checked first, then its installed aliases (in which case
// the aliased candidate is returned), then every selected provider or replacer in name order.
func (ds *DecisionSet) Satisfier(l Link) (*Candidate, bool) {
	if c, ok := ds.selected[l.Target]; ok && l.Constraint.Matches(c.Version) {
		return c, true
	}
	for _, a := range ds.aliases[l.Target] {
		if l.Constraint.Matches(a.Version) {
			return a.AliasOf, true
		}
	}
	for c := range ds.All() {
		for a := range c.ProvideLinks() {
			if a.Target == l.Target && a.Constraint.Intersects(l.Constraint) {
				return c, true
			}
		}
	}
	return nil, false
}

// Deps iterates over the selected candidates that satisfy c's requirements, in the order the
// requirements are declared, with the responsible link.  Requirements that nothing satisfies are
// skipped.  Development requirements are included only if dev is true.
func (ds *DecisionSet) Deps(c *Candidate, dev bool) iter.Seq2[*Candidate, Link] {
	links := slices.Values(c.Requires)
	if dev {
		links = itertools.Cat(links, slices.Values(c.RequiresDev))
	}
	return func(yield func(*Candidate, Link) bool) {
		for l := range links {
			l.Constraint = l.Constraint.WithDefaultStability(semver.StabilityDev)
			if d, ok := ds.Satisfier(l); ok && !yield(d, l) {
				return
			}
		}
	}
}
