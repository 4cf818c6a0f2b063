package composersat

import (
	"slices"
	"strconv"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/rhansen/composersat/semver"
)

// A rule is a clause over candidate literals.  Literal +i means "the candidate with pool id i is
// installed" and -i means it is not.  A rule is satisfied if at least one of its literals is true.
type rule struct {
	kind ReasonKind
	// lits[0] and lits[1] are the watched literals of rules with two or more literals.
	lits []int
	// id is the generation order, or -1 for learned rules.
	id int

	source  *Candidate
	link    Link
	req     Requirement
	fixed   PackageId
	targets []*Candidate
	// reasons holds the rules a learned rule was derived from.
	reasons []*rule
}

func (r *rule) key() string {
	s := slices.Sorted(slices.Values(r.lits))
	var b strings.Builder
	for i, l := range s {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(strconv.Itoa(l))
	}
	return b.String()
}

func (r *rule) tautology() bool {
	for _, l := range r.lits {
		if slices.Contains(r.lits, -l) {
			return true
		}
	}
	return false
}

// ruleSet is the result of rule generation.
type ruleSet struct {
	pool  *Pool
	rules []*rule
	keys  mapset.Set[string]
	// reachable holds every candidate reached from the request, in breadth-first order.
	reachable []*Candidate
	seen      mapset.Set[*Candidate]
}

func (rs *ruleSet) add(r *rule) {
	if r.tautology() {
		return
	}
	switch r.kind {
	case ReasonRootRequire, ReasonFixed:
		// Root rules carry the requirement that produced them, so equivalent ones are kept.
	default:
		if !rs.keys.Add(r.key()) {
			return
		}
	}
	r.id = len(rs.rules)
	rs.rules = append(rs.rules, r)
}

func (rs *ruleSet) enqueue(cs ...*Candidate) {
	for _, c := range cs {
		if rs.seen.Add(c) {
			rs.reachable = append(rs.reachable, c)
		}
	}
}

func (rs *ruleSet) ids(cs []*Candidate) []int {
	ret := make([]int, len(cs))
	for i, c := range cs {
		ret[i] = rs.pool.Id(c)
	}
	return ret
}

// generateRules walks the pool breadth-first from the request's root requirements and fixed
// packages and returns the rules that encode every reachable candidate's links.
func generateRules(pool *Pool, req *Request) *ruleSet {
	rs := &ruleSet{
		pool: pool,
		keys: mapset.NewThreadUnsafeSet[string](),
		seen: mapset.NewThreadUnsafeSet[*Candidate](),
	}
	for _, r := range req.Requires {
		targets := slices.Collect(pool.Satisfiers(r.Name, req.effective(r.Name, r.Constraint)))
		rs.add(&rule{kind: ReasonRootRequire, lits: rs.ids(targets), req: r, targets: targets})
		rs.enqueue(targets...)
	}
	for _, r := range req.Conflicts {
		for t := range pool.Satisfiers(r.Name, r.Constraint.WithDefaultStability(semver.StabilityDev)) {
			rs.add(&rule{kind: ReasonRootConflict, lits: []int{-pool.Id(t)}, req: r, targets: []*Candidate{t}})
		}
	}
	for _, id := range req.Fixed {
		c, ok := pool.Candidate(id)
		if !ok {
			rs.add(&rule{kind: ReasonFixed, fixed: id})
			continue
		}
		rs.add(&rule{kind: ReasonFixed, lits: []int{pool.Id(c)}, fixed: id, targets: []*Candidate{c}})
		rs.enqueue(c)
	}
	// rs.reachable grows while it is being walked.
	for i := 0; i < len(rs.reachable); i++ {
		c := rs.reachable[i]
		cid := pool.Id(c)
		if c.AliasOf != nil {
			rs.add(&rule{
				kind:    ReasonAlias,
				lits:    []int{-cid, pool.Id(c.AliasOf)},
				source:  c,
				targets: []*Candidate{c.AliasOf},
			})
			rs.enqueue(c.AliasOf)
		}
		for _, l := range c.Requires {
			targets := slices.Collect(pool.Satisfiers(l.Target, req.effective(l.Target, l.Constraint)))
			rs.add(&rule{
				kind:    ReasonRequires,
				lits:    append([]int{-cid}, rs.ids(targets)...),
				source:  c,
				link:    l,
				targets: targets,
			})
			rs.enqueue(targets...)
		}
		for _, l := range c.Conflicts {
			for t := range pool.Satisfiers(l.Target, l.Constraint.WithDefaultStability(semver.StabilityDev)) {
				if t.base() == c.base() {
					continue
				}
				rs.add(&rule{
					kind:    ReasonConflict,
					lits:    []int{-cid, -pool.Id(t)},
					source:  c,
					link:    l,
					targets: []*Candidate{t},
				})
			}
		}
	}
	rs.addSameNameRules()
	return rs
}

// addSameNameRules forbids installing two reachable candidates that share a name.  A replacer
// shares the names it replaces.  Aliases are left out: each one implies the candidate it stands
// for, which is covered.
func (rs *ruleSet) addSameNameRules() {
	var names []string
	groups := map[string][]*Candidate{}
	join := func(name string, c *Candidate) {
		g, ok := groups[name]
		if !ok {
			names = append(names, name)
		}
		if !slices.Contains(g, c) {
			groups[name] = append(g, c)
		}
	}
	for _, c := range rs.reachable {
		if c.AliasOf != nil {
			continue
		}
		join(c.Name, c)
		for _, l := range c.Replaces {
			if l.Target != c.Name {
				join(l.Target, c)
			}
		}
	}
	for _, name := range names {
		g := groups[name]
		for i, a := range g {
			for _, b := range g[i+1:] {
				rs.add(&rule{
					kind:    ReasonSameName,
					lits:    []int{-rs.pool.Id(a), -rs.pool.Id(b)},
					req:     Requirement{Name: name},
					targets: []*Candidate{a, b},
				})
			}
		}
	}
}
