package semver

import (
	"regexp"
	"slices"
	"strings"
)

type bound struct {
	v         Version
	inclusive bool
	set       bool // Unbounded if false.
}

func (b bound) cmpLo(o bound) int {
	switch {
	case !b.set && !o.set:
		return 0
	case !b.set:
		return -1
	case !o.set:
		return 1
	}
	if c := Compare(b.v, o.v); c != 0 {
		return c
	}
	// At the same version an exclusive lower bound is tighter.
	switch {
	case b.inclusive == o.inclusive:
		return 0
	case b.inclusive:
		return -1
	}
	return 1
}

func (b bound) cmpHi(o bound) int {
	switch {
	case !b.set && !o.set:
		return 0
	case !b.set:
		return 1
	case !o.set:
		return -1
	}
	if c := Compare(b.v, o.v); c != 0 {
		return c
	}
	switch {
	case b.inclusive == o.inclusive:
		return 0
	case b.inclusive:
		return 1
	}
	return -1
}

// interval is a contiguous range of numeric versions.
type interval struct {
	lo, hi bound
}

func (iv interval) contains(v Version) bool {
	if v.IsBranch() {
		return false
	}
	if iv.lo.set {
		c := Compare(v, iv.lo.v)
		if c < 0 || (c == 0 && !iv.lo.inclusive) {
			return false
		}
	}
	if iv.hi.set {
		c := Compare(v, iv.hi.v)
		if c > 0 || (c == 0 && !iv.hi.inclusive) {
			return false
		}
	}
	return true
}

func (iv interval) empty() bool {
	if !iv.lo.set || !iv.hi.set {
		return false
	}
	c := Compare(iv.lo.v, iv.hi.v)
	return c > 0 || (c == 0 && !(iv.lo.inclusive && iv.hi.inclusive))
}

func (iv interval) intersect(o interval) (interval, bool) {
	ret := iv
	if iv.lo.cmpLo(o.lo) < 0 {
		ret.lo = o.lo
	}
	if iv.hi.cmpHi(o.hi) > 0 {
		ret.hi = o.hi
	}
	return ret, !ret.empty()
}

func (iv interval) String() string {
	if iv.lo.set && iv.hi.set && iv.lo.inclusive && iv.hi.inclusive && Compare(iv.lo.v, iv.hi.v) == 0 {
		return "==" + iv.lo.v.Normalized()
	}
	var parts []string
	if iv.lo.set {
		op := ">"
		if iv.lo.inclusive {
			op = ">="
		}
		parts = append(parts, op+iv.lo.v.Normalized())
	}
	if iv.hi.set {
		op := "<"
		if iv.hi.inclusive {
			op = "<="
		}
		parts = append(parts, op+iv.hi.v.Normalized())
	}
	if len(parts) == 0 {
		return "*"
	}
	return strings.Join(parts, " ")
}

// versionSet is the set of versions admitted by a constraint, ignoring stability.
type versionSet struct {
	any      bool
	ranges   []interval
	branches []string
}

func (s versionSet) and(o versionSet) versionSet {
	switch {
	case s.any:
		return o
	case o.any:
		return s
	}
	var ret versionSet
	for _, a := range s.ranges {
		for _, b := range o.ranges {
			if iv, ok := a.intersect(b); ok {
				ret.ranges = append(ret.ranges, iv)
			}
		}
	}
	for _, b := range s.branches {
		if slices.Contains(o.branches, b) {
			ret.branches = append(ret.branches, b)
		}
	}
	return ret
}

func (s versionSet) or(o versionSet) versionSet {
	return versionSet{
		any:      s.any || o.any,
		ranges:   append(slices.Clip(s.ranges), o.ranges...),
		branches: append(slices.Clip(s.branches), o.branches...),
	}
}

func (s versionSet) isEmpty() bool {
	return !s.any && len(s.ranges) == 0 && len(s.branches) == 0
}

// Constraint is an immutable predicate over [Version] values, parsed by [ParseConstraint].
type Constraint struct {
	text string
	set  versionSet
	// floor is the stability floor written by the author, valid if explicit is true.
	floor    Stability
	explicit bool
	// dflt is the stability floor used when the author did not write one.
	dflt Stability
}

// MatchAll returns the "*" constraint.
func MatchAll() Constraint {
	return Constraint{text: "*", set: versionSet{any: true}, dflt: StabilityStable}
}

var (
	orSplitRe    = regexp.MustCompile(`\s*\|\|?\s*`)
	andSplitRe   = regexp.MustCompile(`\s*,\s*|\s+`)
	opSpaceRe    = regexp.MustCompile(`(^|[\s,])(<>|!=|>=|<=|==|=|<|>|\^|~)\s+`)
	hyphenRe     = regexp.MustCompile(`^(\S+)\s+-\s+(\S+)$`)
	aliasExprRe  = regexp.MustCompile(`^(\S+)\s+as\s+\S+$`)
	inlineRe     = regexp.MustCompile(`^([^,\s#|@]+)(?:@\S+)?(?:#\S+)?\s+as\s+([^,\s|@]+)(?:@\S+)?$`)
	operatorRe   = regexp.MustCompile(`^(<>|!=|>=|<=|==|=|<|>|\^|~)?(.+)$`)
	wildcardRe   = regexp.MustCompile(`^v?(\d+)(?:\.(\d+))?(?:\.(\d+))?(?:\.[xX*])+$`)
	anyWildcards = []string{"*", "x", "X", "*.*", "x.x", "*.*.*"}
)

// ParseConstraint parses a requirement string.  Supported forms:
//
//   - exact: "1.2.3", "=1.2.3", "==1.2.3"
//   - comparators: "<", "<=", ">", ">=", "!=" (also "<>")
//   - conjunction by whitespace or comma: ">=1.0 <2.0", ">=1.0, <2.0"
//   - disjunction by "||" (or "|"): "^1.0 || ^2.0"
//   - caret: "^1.2" is ">=1.2.0 <2.0.0", "^0.2" is ">=0.2.0 <0.3.0"
//   - tilde: "~1.2" is ">=1.2.0 <1.3.0", "~1" is ">=1.0.0 <2.0.0"
//   - wildcard: "1.2.*" and "1.2.x" are ">=1.2.0 <1.3.0"
//   - hyphen range: "1.0 - 2.0" is ">=1.0.0 <=2.0.0"
//   - any: "*"
//   - branches: "dev-main", "dev-main#abc123"
//   - stability flags: "^1.0@beta", "@dev"
//   - inline aliases: "dev-main as 1.0.x-dev" (only the left side is used; see [InlineAlias])
//
// Lower bounds of ranges and exclusive upper bounds without an explicit pre-release label are
// extended to the lowest pre-release of their version, so "<2.0" rejects "2.0.0-beta1".
func ParseConstraint(text string) (Constraint, error) {
	s := strings.TrimSpace(text)
	if s == "" {
		return Constraint{}, &ParseError{InvalidConstraintFormat, text, "empty constraint"}
	}
	c := Constraint{text: s, dflt: StabilityStable, floor: StabilityStable}
	first := true
	for _, group := range orSplitRe.Split(s, -1) {
		gs, err := c.parseGroup(text, group)
		if err != nil {
			return Constraint{}, err
		}
		if first {
			c.set = gs
			first = false
		} else {
			c.set = c.set.or(gs)
		}
	}
	return c, nil
}

// InlineAlias splits a requirement of the form "dev-main as 1.0.x-dev" into the version it
// requires and the version that one should also be known as.  ok is false if text has any other
// form, or if the alias is a branch.
func InlineAlias(text string) (version, alias Version, ok bool) {
	m := inlineRe.FindStringSubmatch(strings.TrimSpace(text))
	if m == nil {
		return Version{}, Version{}, false
	}
	version, err := ParseVersion(m[1])
	if err != nil {
		return Version{}, Version{}, false
	}
	alias, err = ParseVersion(m[2])
	if err != nil || alias.IsBranch() {
		return Version{}, Version{}, false
	}
	return version, alias, true
}

// MustParseConstraint is like [ParseConstraint] but panics on error.
func MustParseConstraint(text string) Constraint {
	c, err := ParseConstraint(text)
	if err != nil {
		panic(err)
	}
	return c
}

func (c *Constraint) noteStability(s Stability) {
	if !c.explicit || s < c.floor {
		c.floor = s
	}
	c.explicit = true
}

func (c *Constraint) parseGroup(text, group string) (versionSet, error) {
	group = strings.TrimSpace(group)
	if group == "" {
		return versionSet{}, &ParseError{InvalidConstraintFormat, text, "empty alternative"}
	}
	if m := aliasExprRe.FindStringSubmatch(group); m != nil {
		group = m[1]
	}
	if m := hyphenRe.FindStringSubmatch(group); m != nil {
		return c.parseHyphen(text, m[1], m[2])
	}
	group = opSpaceRe.ReplaceAllString(group, "$1$2")
	ret := versionSet{any: true}
	for _, term := range andSplitRe.Split(group, -1) {
		if term == "" {
			return versionSet{}, &ParseError{InvalidConstraintFormat, text, "empty term"}
		}
		ts, err := c.parseTerm(text, term)
		if err != nil {
			return versionSet{}, err
		}
		ret = ret.and(ts)
	}
	return ret, nil
}

func (c *Constraint) parseOperand(text, s string) (Version, error) {
	v, err := ParseVersion(s)
	if err != nil {
		return Version{}, &ParseError{InvalidConstraintFormat, text, err.Error()}
	}
	if v.IsBranch() {
		return Version{}, &ParseError{InvalidConstraintFormat, text,
			"branch " + s + " can only be required exactly"}
	}
	if v.IsPrerelease() {
		c.noteStability(v.Stability())
	}
	return v, nil
}

func (c *Constraint) parseHyphen(text, from, to string) (versionSet, error) {
	lo, err := c.parseOperand(text, from)
	if err != nil {
		return versionSet{}, err
	}
	hi, err := c.parseOperand(text, to)
	if err != nil {
		return versionSet{}, err
	}
	if !lo.hasLabel {
		lo = lo.devFloor()
	}
	return versionSet{ranges: []interval{{
		lo: bound{v: lo, inclusive: true, set: true},
		hi: bound{v: hi, inclusive: true, set: true},
	}}}, nil
}

func (c *Constraint) parseTerm(text, term string) (versionSet, error) {
	if i := strings.LastIndexByte(term, '@'); i >= 0 {
		st, err := ParseStability(term[i+1:])
		if err != nil || term[i+1:] == "" {
			return versionSet{}, &ParseError{InvalidConstraintFormat, text,
				"invalid stability flag " + term[i:]}
		}
		c.noteStability(st)
		if term = term[:i]; term == "" {
			term = "*"
		}
	}
	if slices.Contains(anyWildcards, term) {
		return versionSet{any: true}, nil
	}
	m := operatorRe.FindStringSubmatch(term)
	if m == nil {
		return versionSet{}, &ParseError{InvalidConstraintFormat, text, "invalid term " + term}
	}
	op, operand := m[1], m[2]
	if b, ok := strings.CutPrefix(operand, "dev-"); ok && (op == "" || op == "=" || op == "==") {
		b, _, _ = strings.Cut(b, "#")
		if b == "" {
			return versionSet{}, &ParseError{InvalidConstraintFormat, text, "empty branch name"}
		}
		c.noteStability(StabilityDev)
		return versionSet{branches: []string{b}}, nil
	}
	if op == "" {
		if wm := wildcardRe.FindStringSubmatch(operand); wm != nil {
			v, err := c.parseOperand(text, strings.Join(slices.DeleteFunc(wm[1:], isEmpty), "."))
			if err != nil {
				return versionSet{}, err
			}
			return rangeSet(v.devFloor(), v.bump(int(v.nSegs))), nil
		}
	}
	v, err := c.parseOperand(text, operand)
	if err != nil {
		return versionSet{}, err
	}
	lo := v
	if !v.hasLabel {
		lo = v.devFloor()
	}
	switch op {
	case "", "=", "==":
		return versionSet{ranges: []interval{{
			lo: bound{v: v, inclusive: true, set: true},
			hi: bound{v: v, inclusive: true, set: true},
		}}}, nil
	case "!=", "<>":
		return versionSet{ranges: []interval{
			{hi: bound{v: v, set: true}},
			{lo: bound{v: v, set: true}},
		}}, nil
	case ">=":
		return versionSet{ranges: []interval{{lo: bound{v: lo, inclusive: true, set: true}}}}, nil
	case ">":
		return versionSet{ranges: []interval{{lo: bound{v: v, set: true}}}}, nil
	case "<":
		return versionSet{ranges: []interval{{hi: bound{v: lo, set: true}}}}, nil
	case "<=":
		return versionSet{ranges: []interval{{hi: bound{v: v, inclusive: true, set: true}}}}, nil
	case "^":
		pos := 3
		switch n := max(int(v.nSegs), 1); {
		case v.segs[0] != 0 || n == 1:
			pos = 1
		case v.segs[1] != 0 || n == 2:
			pos = 2
		}
		return rangeSet(lo, v.bump(pos)), nil
	case "~":
		pos := 1
		switch n := max(int(v.nSegs), 1); n {
		case 2, 3:
			pos = 2
		case 4:
			pos = 3
		}
		return rangeSet(lo, v.bump(pos)), nil
	}
	return versionSet{}, &ParseError{InvalidConstraintFormat, text, "unknown operator " + op}
}

func isEmpty(s string) bool { return s == "" }

// rangeSet returns the set [lo, hi) where hi is extended down to its lowest pre-release.
func rangeSet(lo, hi Version) versionSet {
	return versionSet{ranges: []interval{{
		lo: bound{v: lo, inclusive: true, set: true},
		hi: bound{v: hi.devFloor(), set: true},
	}}}
}

// bump returns the version with segment pos (1-based) incremented and later segments zeroed.
func (v Version) bump(pos int) Version {
	var ret Version
	copy(ret.segs[:pos-1], v.segs[:pos-1])
	ret.segs[pos-1] = v.segs[pos-1] + 1
	ret.nSegs = uint8(pos)
	ret.label = labelRelease
	return ret
}

// Matches reports whether v satisfies c.  A version below c's stability floor never matches.
func (c Constraint) Matches(v Version) bool {
	if v.Stability() < c.StabilityFloor() {
		return false
	}
	if c.set.any {
		return true
	}
	if v.IsBranch() {
		return slices.Contains(c.set.branches, v.branch)
	}
	for _, iv := range c.set.ranges {
		if iv.contains(v) {
			return true
		}
	}
	return false
}

// Intersects reports whether some version satisfies both c and o, ignoring stability.  It is used
// to decide whether a provide or replace link can serve a requirement.
func (c Constraint) Intersects(o Constraint) bool {
	switch {
	case c.set.isEmpty() || o.set.isEmpty():
		return false
	case c.set.any || o.set.any:
		return true
	}
	return !c.set.and(o.set).isEmpty()
}

// StabilityFloor returns the lowest stability tier c admits.
func (c Constraint) StabilityFloor() Stability {
	if c.explicit {
		return c.floor
	}
	return c.dflt
}

// ExplicitStability returns the stability floor written into the constraint text, if any.
func (c Constraint) ExplicitStability() (Stability, bool) {
	return c.floor, c.explicit
}

// WithDefaultStability returns a copy of c whose stability floor is s unless c names its own floor.
func (c Constraint) WithDefaultStability(s Stability) Constraint {
	c.dflt = s
	return c
}

// IsAny reports whether c admits every version (subject to stability).
func (c Constraint) IsAny() bool { return c.set.any }

// String returns the text c was parsed from.
func (c Constraint) String() string { return c.text }

// Normalized returns a canonical rendering of the version ranges c admits, e.g., ">=1.2.0.0-dev
// <2.0.0.0-dev".  Stability flags are omitted.
func (c Constraint) Normalized() string {
	if c.set.any {
		return "*"
	}
	var parts []string
	for _, iv := range c.set.ranges {
		parts = append(parts, iv.String())
	}
	for _, b := range c.set.branches {
		parts = append(parts, "==dev-"+b)
	}
	if len(parts) == 0 {
		return "<none>"
	}
	return strings.Join(parts, " || ")
}
