package composersat

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"

	"github.com/crillab/gophersat/explain"
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/rhansen/composersat/internal/logging"
)

// A SolveOption configures [Solve].
type SolveOption func(*solveConfig)

type solveConfig struct {
	locked       *DecisionSet
	allow        mapset.Set[string]
	policy       Policy
	maxDecisions int
	logger       *slog.Logger
}

// WithLocked supplies a prior decision set as a soft preference: whenever several candidates
// satisfy a rule, the previously selected version is tried first (subject to the [Policy] order).
func WithLocked(ds *DecisionSet) SolveOption {
	return func(c *solveConfig) { c.locked = ds }
}

// WithUpdateAllowList restricts an update to the named packages.  Every other package selected in
// the [WithLocked] decision set is pinned to its locked version if the pool still has it, and the
// named packages lose their locked preference.
func WithUpdateAllowList(names ...string) SolveOption {
	return func(c *solveConfig) {
		if c.allow == nil {
			c.allow = mapset.NewThreadUnsafeSet[string]()
		}
		for _, n := range names {
			c.allow.Add(strings.ToLower(n))
		}
	}
}

// WithPolicy replaces [DefaultPolicy].
func WithPolicy(p Policy) SolveOption {
	return func(c *solveConfig) { c.policy = p }
}

// WithMaxDecisions bounds the number of decisions the solver may make before giving up with
// [ErrTimeout].  Zero means unbounded.
func WithMaxDecisions(n int) SolveOption {
	return func(c *solveConfig) { c.maxDecisions = n }
}

// WithLogger sets the logger used for progress and trace messages.  The default is
// [slog.Default].
func WithLogger(l *slog.Logger) SolveOption {
	return func(c *solveConfig) { c.logger = l }
}

// Solve selects at most one candidate per package name from pool such that every root requirement
// in req is satisfied, every installed candidate's requirements are satisfied, and no two
// installed candidates conflict.
//
// The search is conflict-driven: rules are propagated with two watched literals, each conflict
// yields a learned rule, and the solver backjumps to the level that learned rule implicates.  If
// no solution exists, the returned error is an [*UnsatisfiableError].  If ctx is done or the
// decision budget is exhausted before the search ends, the returned error wraps [ErrTimeout].
//
// Solve is deterministic: the same pool (built from candidates in the same order) and request
// always produce the same [DecisionSet].
func Solve(ctx context.Context, pool *Pool, req *Request, opts ...SolveOption) (*DecisionSet, error) {
	cfg := solveConfig{policy: DefaultPolicy(), logger: slog.Default()}
	for _, opt := range opts {
		opt(&cfg)
	}
	req = req.clone()
	if cfg.locked != nil && cfg.allow != nil {
		var kept []*Candidate
		for c := range cfg.locked.All() {
			if cfg.allow.Contains(c.Name) {
				continue
			}
			kept = append(kept, c)
			if _, ok := pool.Candidate(c.Id()); ok {
				req.Fix(c.Id())
			}
		}
		// Names are unique in a decision set, so this cannot fail.
		cfg.locked, _ = NewDecisionSet(kept...)
	}
	s := newSolver(pool, req, &cfg)
	cfg.logger.DebugContext(ctx, "rules generated",
		"candidates", len(s.rs.reachable), "rules", len(s.rs.rules))
	ds, err := s.run(ctx)
	cfg.logger.DebugContext(ctx, "solve done",
		"decisions", s.decisions, "conflicts", s.conflicts, "learned", len(s.learned), "err", err)
	return ds, err
}

type solver struct {
	pool *Pool
	req  *Request
	cfg  *solveConfig
	rs   *ruleSet

	// Indexed by pool id.  value is 1 for installed, -1 for not installed, 0 for undecided.
	value  []int8
	level  []int
	reason []*rule

	trail    []int
	trailLim []int
	qhead    int
	// watches is indexed by watchIdx(lit) and holds the rules watching lit.
	watches [][]*rule
	units   []*rule
	learned []*rule

	// roots holds the root requirement rules in generation order.  requires is indexed by pool id
	// and holds the requires rules of that candidate.  pos maps a pool id to its index in
	// rs.reachable, or -1.
	roots    []*rule
	requires [][]*rule
	pos      []int
	// Every root rule before rootNext is satisfied.  Every reachable candidate before reqNext is
	// undecided, not installed, or installed with all of its requires rules satisfied.
	// cursorLim holds both cursors as they were when each decision level was pushed.
	rootNext  int
	reqNext   int
	cursorLim [][2]int

	decisions int
	conflicts int
}

func newSolver(pool *Pool, req *Request, cfg *solveConfig) *solver {
	n := pool.Len() + 1
	s := &solver{
		pool:     pool,
		req:      req,
		cfg:      cfg,
		rs:       generateRules(pool, req),
		value:    make([]int8, n),
		level:    make([]int, n),
		reason:   make([]*rule, n),
		watches:  make([][]*rule, 2*n),
		requires: make([][]*rule, n),
		pos:      slices.Repeat([]int{-1}, n),
	}
	for _, r := range s.rs.rules {
		s.attach(r)
		switch r.kind {
		case ReasonRootRequire:
			s.roots = append(s.roots, r)
		case ReasonRequires:
			id := pool.Id(r.source)
			s.requires[id] = append(s.requires[id], r)
		}
	}
	for i, c := range s.rs.reachable {
		s.pos[pool.Id(c)] = i
	}
	return s
}

func abs(l int) int {
	if l < 0 {
		return -l
	}
	return l
}

func watchIdx(l int) int {
	if l < 0 {
		return 2*(-l) + 1
	}
	return 2 * l
}

func (s *solver) litValue(l int) int8 {
	if l < 0 {
		return -s.value[-l]
	}
	return s.value[l]
}

func (s *solver) decisionLevel() int { return len(s.trailLim) }

func (s *solver) attach(r *rule) {
	if len(r.lits) < 2 {
		s.units = append(s.units, r)
		return
	}
	s.watches[watchIdx(r.lits[0])] = append(s.watches[watchIdx(r.lits[0])], r)
	s.watches[watchIdx(r.lits[1])] = append(s.watches[watchIdx(r.lits[1])], r)
}

func (s *solver) assign(l int, why *rule) {
	v := abs(l)
	if l > 0 {
		s.value[v] = 1
	} else {
		s.value[v] = -1
	}
	s.level[v] = s.decisionLevel()
	s.reason[v] = why
	s.trail = append(s.trail, l)
	if p := s.pos[v]; l > 0 && p >= 0 && p < s.reqNext {
		s.reqNext = p
	}
}

// newLevel pushes a decision level.
func (s *solver) newLevel() {
	s.trailLim = append(s.trailLim, len(s.trail))
	s.cursorLim = append(s.cursorLim, [2]int{s.rootNext, s.reqNext})
}

// propagate performs unit propagation and returns a falsified rule, if any.
func (s *solver) propagate() *rule {
	for s.qhead < len(s.trail) {
		falseLit := -s.trail[s.qhead]
		s.qhead++
		wi := watchIdx(falseLit)
		ws := s.watches[wi]
		j := 0
		var confl *rule
	next:
		for _, r := range ws {
			if confl != nil {
				ws[j] = r
				j++
				continue
			}
			if r.lits[0] == falseLit {
				r.lits[0], r.lits[1] = r.lits[1], r.lits[0]
			}
			if s.litValue(r.lits[0]) > 0 {
				ws[j] = r
				j++
				continue
			}
			for k := 2; k < len(r.lits); k++ {
				if s.litValue(r.lits[k]) >= 0 {
					r.lits[1], r.lits[k] = r.lits[k], r.lits[1]
					s.watches[watchIdx(r.lits[1])] = append(s.watches[watchIdx(r.lits[1])], r)
					continue next
				}
			}
			ws[j] = r
			j++
			if s.litValue(r.lits[0]) < 0 {
				confl = r
				continue
			}
			s.assign(r.lits[0], r)
		}
		s.watches[wi] = ws[:j]
		if confl != nil {
			s.qhead = len(s.trail)
			return confl
		}
	}
	return nil
}

// backjump undoes every assignment above the given level.
func (s *solver) backjump(lvl int) {
	if s.decisionLevel() <= lvl {
		return
	}
	start := s.trailLim[lvl]
	for _, l := range s.trail[start:] {
		v := abs(l)
		s.value[v] = 0
		s.reason[v] = nil
		s.level[v] = 0
	}
	s.trail = s.trail[:start]
	s.trailLim = s.trailLim[:lvl]
	s.rootNext, s.reqNext = s.cursorLim[lvl][0], s.cursorLim[lvl][1]
	s.cursorLim = s.cursorLim[:lvl]
	s.qhead = len(s.trail)
}

// analyze derives a learned rule from a conflict at a non-zero level using the first unique
// implication point.  It returns the learned rule and the level to backjump to.
func (s *solver) analyze(confl *rule) (*rule, int) {
	seen := make([]bool, len(s.value))
	learnt := []int{0}
	var reasons []*rule
	counter := 0
	p := 0
	idx := len(s.trail) - 1
	cur := s.decisionLevel()
	for {
		reasons = append(reasons, confl)
		for _, q := range confl.lits {
			v := abs(q)
			if (p != 0 && v == abs(p)) || seen[v] {
				continue
			}
			seen[v] = true
			switch {
			case s.level[v] == 0:
				reasons = append(reasons, s.reason[v])
			case s.level[v] == cur:
				counter++
			default:
				learnt = append(learnt, q)
			}
		}
		for !seen[abs(s.trail[idx])] {
			idx--
		}
		p = s.trail[idx]
		idx--
		confl = s.reason[abs(p)]
		counter--
		if counter == 0 {
			break
		}
	}
	learnt[0] = -p
	bt := 0
	for i := 1; i < len(learnt); i++ {
		if lv := s.level[abs(learnt[i])]; lv > bt {
			bt = lv
			learnt[1], learnt[i] = learnt[i], learnt[1]
		}
	}
	return &rule{kind: reasonLearned, lits: learnt, id: -1, reasons: reasons}, bt
}

// explain collects the generated rules behind a conflict at level zero.
func (s *solver) explain(confl *rule) []*rule {
	done := mapset.NewThreadUnsafeSet[*rule]()
	var out []*rule
	queue := []*rule{confl}
	for len(queue) > 0 {
		r := queue[0]
		queue = queue[1:]
		if r == nil || !done.Add(r) {
			continue
		}
		if r.kind == reasonLearned {
			queue = append(queue, r.reasons...)
		} else {
			out = append(out, r)
		}
		for _, l := range r.lits {
			if v := abs(l); s.value[v] != 0 && s.level[v] == 0 {
				queue = append(queue, s.reason[v])
			}
		}
	}
	return minimizeRules(out)
}

// minimizeRules shrinks a contradictory rule set to a minimal unsatisfiable subset.  Large sets
// and any failure fall back to the input.
func minimizeRules(rules []*rule) []*rule {
	const maxRules = 200
	if len(rules) < 2 || len(rules) > maxRules {
		return rules
	}
	byKey := map[string]*rule{}
	maxVar := 0
	var b strings.Builder
	for _, r := range rules {
		if len(r.lits) == 0 {
			return []*rule{r}
		}
		if _, ok := byKey[r.key()]; !ok {
			byKey[r.key()] = r
		}
		for _, l := range r.lits {
			maxVar = max(maxVar, abs(l))
		}
	}
	fmt.Fprintf(&b, "p cnf %d %d\n", maxVar, len(byKey))
	for _, r := range rules {
		if byKey[r.key()] != r {
			continue
		}
		for _, l := range r.lits {
			b.WriteString(strconv.Itoa(l))
			b.WriteByte(' ')
		}
		b.WriteString("0\n")
	}
	pb, err := explain.ParseCNF(strings.NewReader(b.String()))
	if err != nil {
		return rules
	}
	mus, err := pb.MUS()
	if err != nil {
		return rules
	}
	var out []*rule
	for _, clause := range mus.Clauses {
		r, ok := byKey[(&rule{lits: clause}).key()]
		if !ok {
			return rules
		}
		out = append(out, r)
	}
	if len(out) == 0 {
		return rules
	}
	return out
}

func (s *solver) unsatisfiable(confl *rule) error {
	return &UnsatisfiableError{Problem: newProblem(s.explain(confl))}
}

func (s *solver) satisfied(r *rule) bool {
	return slices.ContainsFunc(r.lits, func(l int) bool { return s.litValue(l) > 0 })
}

// pick returns the policy's choice among the undecided candidates of r, or 0 if there are none.
func (s *solver) pick(r *rule, requested string) int {
	var cands []*Candidate
	for _, l := range r.lits {
		if l > 0 && s.value[l] == 0 {
			cands = append(cands, s.pool.ById(l))
		}
	}
	if c := s.cfg.policy.Best(s.pool, requested, s.cfg.locked, cands); c != nil {
		return s.pool.Id(c)
	}
	return 0
}

// nextDecision returns the candidate to install next, or 0 if no rule needs a decision.  Root
// rules come first, then the requires rules of installed candidates in generation order.
func (s *solver) nextDecision() int {
	for i := s.rootNext; i < len(s.roots); i++ {
		r := s.roots[i]
		if s.satisfied(r) {
			if i == s.rootNext {
				s.rootNext++
			}
			continue
		}
		if l := s.pick(r, r.req.Name); l != 0 {
			return l
		}
	}
	for i := s.reqNext; i < len(s.rs.reachable); i++ {
		id := s.pool.Id(s.rs.reachable[i])
		clean := true
		if s.value[id] > 0 {
			for _, r := range s.requires[id] {
				if s.satisfied(r) {
					continue
				}
				if l := s.pick(r, r.link.Target); l != 0 {
					return l
				}
				clean = false
			}
		}
		if clean && i == s.reqNext {
			s.reqNext++
		}
	}
	return 0
}

// decideRest marks every undecided candidate not installed at one new decision level.  It is only
// called once every root rule and every installed candidate's requires rules are satisfied, so
// the assignment satisfies all rules and needs no propagation.
func (s *solver) decideRest() {
	s.newLevel()
	for v := 1; v < len(s.value); v++ {
		if s.value[v] == 0 {
			s.assign(-v, nil)
		}
	}
	s.qhead = len(s.trail)
}

func (s *solver) checkBudget(ctx context.Context) error {
	if err := context.Cause(ctx); err != nil {
		return fmt.Errorf("%w after %d decisions: %w", ErrTimeout, s.decisions, err)
	}
	if s.cfg.maxDecisions > 0 && s.decisions >= s.cfg.maxDecisions {
		return fmt.Errorf("%w: decision budget of %d exhausted", ErrTimeout, s.cfg.maxDecisions)
	}
	return nil
}

func (s *solver) run(ctx context.Context) (*DecisionSet, error) {
	for _, r := range s.units {
		if len(r.lits) == 0 {
			return nil, &UnsatisfiableError{Problem: newProblem([]*rule{r})}
		}
		switch s.litValue(r.lits[0]) {
		case 0:
			s.assign(r.lits[0], r)
		case -1:
			return nil, s.unsatisfiable(r)
		}
	}
	for {
		if confl := s.propagate(); confl != nil {
			s.conflicts++
			if s.decisionLevel() == 0 {
				return nil, s.unsatisfiable(confl)
			}
			learnt, bt := s.analyze(confl)
			s.cfg.logger.Log(ctx, logging.LevelTrace, "learned rule",
				"lits", learnt.lits, "backjump", bt, "from", s.decisionLevel())
			s.backjump(bt)
			s.learned = append(s.learned, learnt)
			if len(learnt.lits) > 1 {
				s.attach(learnt)
			}
			s.assign(learnt.lits[0], learnt)
			continue
		}
		if err := s.checkBudget(ctx); err != nil {
			return nil, err
		}
		s.decisions++
		lit := s.nextDecision()
		if lit == 0 {
			s.decideRest()
			s.cfg.logger.Log(ctx, logging.LevelTrace, "remaining candidates not installed",
				"level", s.decisionLevel())
			break
		}
		s.newLevel()
		s.cfg.logger.Log(ctx, logging.LevelTrace, "decide",
			"level", s.decisionLevel(), "candidate", s.pool.ById(lit))
		s.assign(lit, nil)
	}
	return s.decisionSet(), nil
}

func (s *solver) decisionSet() *DecisionSet {
	ds := &DecisionSet{
		selected: map[string]*Candidate{},
		aliases:  map[string][]*Candidate{},
		absent:   mapset.NewThreadUnsafeSet[string](),
	}
	for _, c := range s.rs.reachable {
		switch {
		case s.value[s.pool.Id(c)] <= 0:
		case c.AliasOf != nil:
			ds.aliases[c.Name] = append(ds.aliases[c.Name], c)
		default:
			ds.selected[c.Name] = c
		}
	}
	for _, c := range s.rs.reachable {
		if _, ok := ds.selected[c.Name]; !ok {
			ds.absent.Add(c.Name)
		}
	}
	return ds
}
