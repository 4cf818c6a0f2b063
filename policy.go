package composersat

import (
	"fmt"
	"slices"
	"strings"

	"github.com/rhansen/composersat/semver"
)

// A Preference is one criterion the solver uses to order otherwise equally valid candidates.
type Preference int

const (
	// PreferLocked ranks the version recorded in the prior decision set (see [WithLocked]) first.
	PreferLocked Preference = iota
	// PreferRequestedName ranks candidates named exactly as the requirement first, then candidates
	// from the same vendor, then any other provider or replacer.
	PreferRequestedName
	// PreferStability ranks more stable versions first.  It has no effect unless
	// [Policy.PreferStable] is set.
	PreferStability
	// PreferVersion ranks higher versions first (lower ones with [Policy.PreferLowest]).
	PreferVersion
)

var preferenceNames = [...]string{"locked", "name", "stability", "version"}

func (p Preference) String() string {
	if int(p) < len(preferenceNames) {
		return preferenceNames[p]
	}
	return fmt.Sprintf("Preference(%d)", int(p))
}

// ParsePreference is the inverse of [Preference.String].
func ParsePreference(s string) (Preference, error) {
	i := slices.Index(preferenceNames[:], strings.ToLower(strings.TrimSpace(s)))
	if i < 0 {
		return 0, fmt.Errorf("unknown preference %q; expected one of: %v", s,
			strings.Join(preferenceNames[:], ", "))
	}
	return Preference(i), nil
}

var (
	// DefaultPolicyOrder keeps the locked version unless a rule forces a change.
	DefaultPolicyOrder = []Preference{PreferLocked, PreferRequestedName, PreferStability, PreferVersion}
	// StabilityFirstPolicyOrder moves off a locked pre-release as soon as a stable version
	// satisfies the same rule.
	StabilityFirstPolicyOrder = []Preference{PreferStability, PreferLocked, PreferRequestedName, PreferVersion}
)

// A Policy decides which candidate the solver tries first when several satisfy a rule.  Candidates
// that compare equal under every preference in Order are ranked by pool insertion order.
type Policy struct {
	Order        []Preference
	PreferStable bool
	PreferLowest bool
}

// DefaultPolicy returns a [Policy] with [DefaultPolicyOrder] that prefers stable, higher versions.
func DefaultPolicy() Policy {
	return Policy{Order: DefaultPolicyOrder, PreferStable: true}
}

// Sort orders cs from most to least preferred for a rule addressed to the package named
// requested.  locked may be nil.
func (p Policy) Sort(pool *Pool, requested string, locked *DecisionSet, cs []*Candidate) {
	slices.SortStableFunc(cs, func(a, b *Candidate) int {
		if cmp := p.compare(requested, locked, a, b); cmp != 0 {
			return cmp
		}
		return pool.Id(a) - pool.Id(b)
	})
}

// Best returns the most preferred of cs, or nil if cs is empty.
func (p Policy) Best(pool *Pool, requested string, locked *DecisionSet, cs []*Candidate) *Candidate {
	var best *Candidate
	for _, c := range cs {
		if best == nil {
			best = c
			continue
		}
		cmp := p.compare(requested, locked, c, best)
		if cmp < 0 || (cmp == 0 && pool.Id(c) < pool.Id(best)) {
			best = c
		}
	}
	return best
}

// compare returns a negative number if a is preferred over b.
func (p Policy) compare(requested string, locked *DecisionSet, a, b *Candidate) int {
	for _, pref := range p.Order {
		var cmp int
		switch pref {
		case PreferLocked:
			cmp = boolRank(isLocked(locked, a)) - boolRank(isLocked(locked, b))
		case PreferRequestedName:
			cmp = nameRank(requested, a) - nameRank(requested, b)
		case PreferStability:
			if p.PreferStable {
				cmp = int(b.Stability()) - int(a.Stability())
			}
		case PreferVersion:
			cmp = semver.Compare(b.Version, a.Version)
			if p.PreferLowest {
				cmp = -cmp
			}
		}
		if cmp != 0 {
			return cmp
		}
	}
	return 0
}

func boolRank(b bool) int {
	if b {
		return 0
	}
	return 1
}

func isLocked(locked *DecisionSet, c *Candidate) bool {
	if locked == nil {
		return false
	}
	c = c.base()
	l, ok := locked.Selected(c.Name)
	return ok && l.Id().Key() == c.Id().Key()
}

func vendor(name string) string {
	v, _, _ := strings.Cut(name, "/")
	return v
}

func nameRank(requested string, c *Candidate) int {
	switch {
	case requested == "" || c.Name == requested:
		return 0
	case strings.Contains(requested, "/") && vendor(c.Name) == vendor(requested):
		return 1
	default:
		return 2
	}
}
