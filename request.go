package composersat

import (
	"fmt"
	"maps"
	"strings"

	"github.com/rhansen/composersat/semver"
)

// A Requirement is a constraint on a package name stated by the root of the dependency graph
// (usually the project's manifest).
type Requirement struct {
	Name       string
	Constraint semver.Constraint
	// Dev is true for requirements that only apply during development ("require-dev").
	Dev bool
}

func (r Requirement) String() string {
	return r.Name + " " + r.Constraint.String()
}

// An InlineAlias lets one version of a root-required package also satisfy requirements on
// another version, as in "dev-main as 1.0.x-dev".
type InlineAlias struct {
	Name    string
	Version semver.Version
	Alias   semver.Version
}

// A Request describes what a solve must achieve.  Build one with [NewRequest] and its methods;
// the solver takes a private copy, so later modifications do not affect a running solve.
type Request struct {
	// Requires lists the root requirements in manifest order.  Order matters: the solver makes
	// decisions for earlier requirements first.
	Requires []Requirement
	// Conflicts lists root conflicts.  No candidate matched by a conflict may be installed.
	Conflicts []Requirement
	// Fixed lists candidates that must be installed exactly as given (e.g., platform packages or
	// locked packages excluded from a partial update).
	Fixed []PackageId
	// MinimumStability is the default stability floor of every link.
	MinimumStability semver.Stability
	// StabilityFlags overrides MinimumStability per package name.
	StabilityFlags map[string]semver.Stability
	// Aliases lists the inline aliases of the root requirements in the order they were added.
	// Pass them to [NewPool].
	Aliases []InlineAlias
}

// NewRequest returns an empty [Request] with a stable minimum stability.
func NewRequest() *Request {
	return &Request{MinimumStability: semver.StabilityStable, StabilityFlags: map[string]semver.Stability{}}
}

// Require adds a root requirement parsed from constraint.  An explicit stability flag in the
// constraint (e.g., "^1.0@beta") lowers the package's stability floor, and an inline alias
// ("dev-main as 1.0.x-dev") is recorded in [Request.Aliases].
func (r *Request) Require(name, constraint string) error {
	return r.require(name, constraint, false)
}

// RequireDev is like [Request.Require] for development requirements.
func (r *Request) RequireDev(name, constraint string) error {
	return r.require(name, constraint, true)
}

func (r *Request) require(name, constraint string, dev bool) error {
	if err := CheckName(name); err != nil {
		return err
	}
	c, err := semver.ParseConstraint(constraint)
	if err != nil {
		return fmt.Errorf("root requirement %v: %w", name, err)
	}
	name = strings.ToLower(name)
	if s, ok := c.ExplicitStability(); ok && s < r.MinimumStability {
		if r.StabilityFlags == nil {
			r.StabilityFlags = map[string]semver.Stability{}
		}
		if old, ok := r.StabilityFlags[name]; !ok || s < old {
			r.StabilityFlags[name] = s
		}
	}
	r.Requires = append(r.Requires, Requirement{Name: name, Constraint: c, Dev: dev})
	if v, a, ok := semver.InlineAlias(constraint); ok {
		r.Aliases = append(r.Aliases, InlineAlias{Name: name, Version: v, Alias: a})
	}
	return nil
}

// Conflict adds a root conflict parsed from constraint.
func (r *Request) Conflict(name, constraint string) error {
	if err := CheckName(name); err != nil {
		return err
	}
	c, err := semver.ParseConstraint(constraint)
	if err != nil {
		return fmt.Errorf("root conflict %v: %w", name, err)
	}
	r.Conflicts = append(r.Conflicts, Requirement{Name: strings.ToLower(name), Constraint: c})
	return nil
}

// Fix pins the given package.  The pinned candidate must be in the pool passed to [Solve].
func (r *Request) Fix(id PackageId) {
	r.Fixed = append(r.Fixed, id)
}

// StabilityFor returns the stability floor that applies to links targeting name.
func (r *Request) StabilityFor(name string) semver.Stability {
	if s, ok := r.StabilityFlags[strings.ToLower(name)]; ok {
		return s
	}
	return r.MinimumStability
}

// WithoutDev returns a copy of r without its development requirements.
func (r *Request) WithoutDev() *Request {
	ret := r.clone()
	ret.Requires = ret.Requires[:0]
	for _, req := range r.Requires {
		if !req.Dev {
			ret.Requires = append(ret.Requires, req)
		}
	}
	return ret
}

func (r *Request) clone() *Request {
	return &Request{
		Requires:         append([]Requirement(nil), r.Requires...),
		Conflicts:        append([]Requirement(nil), r.Conflicts...),
		Fixed:            append([]PackageId(nil), r.Fixed...),
		MinimumStability: r.MinimumStability,
		StabilityFlags:   maps.Clone(r.StabilityFlags),
		Aliases:          append([]InlineAlias(nil), r.Aliases...),
	}
}

// effective returns c with the default stability floor for name applied.
func (r *Request) effective(name string, c semver.Constraint) semver.Constraint {
	return c.WithDefaultStability(r.StabilityFor(name))
}
