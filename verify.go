package composersat

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"maps"
	"slices"

	sat "github.com/crillab/gophersat/solver"
	"github.com/rhansen/composersat/internal/itertools"
	"github.com/rhansen/composersat/semver"
)

// ErrInvalidDecisions is wrapped by the error [Verify] returns for a decision set that violates a
// rule.
var ErrInvalidDecisions = errors.New("decision set does not satisfy the request")

// Verify checks ds against pool and req with an independent pseudo-boolean encoding solved by
// gophersat.  Every candidate in the pool is encoded, not just those reachable from the request.
// Aliases are left free: any alias of a selected candidate may count as installed.
// It returns nil if ds installs only pooled candidates, satisfies every root requirement and every
// installed candidate's requirements, and violates no conflict, pin, or one-per-name constraint.
func Verify(pool *Pool, req *Request, ds *DecisionSet) error {
	for c := range ds.All() {
		if _, ok := pool.Candidate(c.Id()); !ok {
			return fmt.Errorf("%w: %v is not in the pool", ErrInvalidDecisions, c.Id())
		}
	}
	constrs, err := encodeSat(pool, req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidDecisions, err)
	}
	for c := range pool.All() {
		if c.AliasOf != nil {
			continue
		}
		lit := satLit(pool, c)
		if !ds.Installed(c.Id()) {
			lit = -lit
		}
		constrs = append(constrs, sat.PropClause(lit))
	}
	s := sat.New(sat.ParsePBConstrs(constrs))
	if status := s.Solve(); status != sat.Sat {
		return fmt.Errorf("%w (SAT status: %v)", ErrInvalidDecisions, status)
	}
	return nil
}

// SolveSat is an alternative to [Solve] that hands the whole problem to gophersat and asks for a
// solution installing as few candidates as possible.  It ignores [Policy] and is meant for
// cross-checking [Solve] on small pools.
func SolveSat(ctx context.Context, pool *Pool, req *Request) (*DecisionSet, error) {
	if err := context.Cause(ctx); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	constrs, err := encodeSat(pool, req)
	if err != nil {
		return nil, err
	}
	prob := sat.ParsePBConstrs(constrs)
	prob.SetCostFunc(
		slices.Collect(itertools.Map(itertools.Range(0, sat.Var(pool.Len())), sat.Var.Lit)),
		slices.Repeat([]int{1}, pool.Len()))
	s := sat.New(prob)
	if cost := s.Minimize(); cost < 0 {
		return nil, fmt.Errorf("%w (SAT solver found no model)", ErrUnsatisfiable)
	}
	var sel []*Candidate
	for v := range satModelTrueVars(s.Model()) {
		sel = append(sel, pool.ById(int(v)+1))
	}
	return NewDecisionSet(sel...)
}

// satLit returns c's literal in the gophersat encoding, where pool id i is variable i-1.
func satLit(pool *Pool, c *Candidate) int {
	return int(sat.Var(pool.Id(c) - 1).Int())
}

func encodeSat(pool *Pool, req *Request) ([]sat.PBConstr, error) {
	lits := func(cs []*Candidate) []int {
		return slices.Collect(itertools.Map(slices.Values(cs), func(c *Candidate) int { return satLit(pool, c) }))
	}
	// Trivially true, but it mentions every variable so the model covers the whole pool.
	constrs := []sat.PBConstr{sat.AtMost(lits(slices.Collect(pool.All())), pool.Len())}
	for _, r := range req.Requires {
		targets := slices.Collect(pool.Satisfiers(r.Name, req.effective(r.Name, r.Constraint)))
		if len(targets) == 0 {
			return nil, fmt.Errorf("%w: nothing satisfies root requirement %v", ErrUnsatisfiable, r)
		}
		constrs = append(constrs, sat.PropClause(lits(targets)...))
	}
	for _, r := range req.Conflicts {
		for t := range pool.Satisfiers(r.Name, r.Constraint.WithDefaultStability(semver.StabilityDev)) {
			constrs = append(constrs, sat.PropClause(-satLit(pool, t)))
		}
	}
	for _, id := range req.Fixed {
		c, ok := pool.Candidate(id)
		if !ok {
			return nil, fmt.Errorf("%w: fixed package %v is not in the pool", ErrUnsatisfiable, id)
		}
		constrs = append(constrs, sat.PropClause(satLit(pool, c)))
	}
	groups := map[string][]*Candidate{}
	for c := range pool.All() {
		lit := satLit(pool, c)
		if c.AliasOf != nil {
			constrs = append(constrs, sat.PropClause(-lit, satLit(pool, c.AliasOf)))
		} else {
			groups[c.Name] = append(groups[c.Name], c)
			for _, l := range c.Replaces {
				if l.Target != c.Name && !slices.Contains(groups[l.Target], c) {
					groups[l.Target] = append(groups[l.Target], c)
				}
			}
		}
		for _, l := range c.Requires {
			targets := slices.Collect(pool.Satisfiers(l.Target, req.effective(l.Target, l.Constraint)))
			constrs = append(constrs, sat.PropClause(append([]int{-lit}, lits(targets)...)...))
		}
		for _, l := range c.Conflicts {
			for t := range pool.Satisfiers(l.Target, l.Constraint.WithDefaultStability(semver.StabilityDev)) {
				if t.base() != c.base() {
					constrs = append(constrs, sat.PropClause(-lit, -satLit(pool, t)))
				}
			}
		}
	}
	for _, name := range slices.Sorted(maps.Keys(groups)) {
		if g := groups[name]; len(g) > 1 {
			constrs = append(constrs, sat.AtMost(lits(g), 1))
		}
	}
	return constrs, nil
}

func satModelTrueVars(model []bool) iter.Seq[sat.Var] {
	return itertools.Map21(
		itertools.Filter2(
			slices.All(model),
			func(_ int, isSel bool) bool { return isSel }),
		func(v int, _ bool) sat.Var { return sat.Var(v) })
}
