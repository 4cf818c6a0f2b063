package composersat

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/rhansen/composersat/internal/itertools"
)

var (
	// ErrUnsatisfiable is wrapped by [UnsatisfiableError].
	ErrUnsatisfiable = errors.New("requirements could not be resolved to an installable set of packages")
	// ErrTimeout is returned when a solve is cancelled or exhausts its decision budget.  No partial
	// result is returned.
	ErrTimeout = errors.New("solve timed out")
)

// ReasonKind identifies the origin of a [Reason].
type ReasonKind int

const (
	// ReasonRootRequire: a root requirement must be satisfied.
	ReasonRootRequire ReasonKind = iota
	// ReasonRootConflict: a root conflict excludes a candidate.
	ReasonRootConflict
	// ReasonFixed: a candidate is pinned.
	ReasonFixed
	// ReasonRequires: an installed candidate's requirement must be satisfied.
	ReasonRequires
	// ReasonConflict: two candidates conflict.
	ReasonConflict
	// ReasonSameName: only one candidate per name may be installed.
	ReasonSameName
	// ReasonAlias: an installed alias needs the candidate it stands for.
	ReasonAlias

	reasonLearned
)

// A Reason is one link in the explanation of an unsatisfiable request.
type Reason struct {
	Kind ReasonKind
	// Package is the candidate whose link produced the reason (ReasonRequires, ReasonConflict), or
	// the alias (ReasonAlias).
	Package *Candidate
	// Link is the responsible link (ReasonRequires, ReasonConflict).
	Link Link
	// Requirement is the responsible root requirement or conflict (ReasonRootRequire,
	// ReasonRootConflict).  For ReasonSameName only its Name is set.
	Requirement Requirement
	// Fixed is the pinned package (ReasonFixed).
	Fixed PackageId
	// Candidates lists the candidates the reason mentions: the satisfiers of a requirement, the
	// conflicting candidate, or the candidates sharing a name.
	Candidates []*Candidate
}

func reasonFromRule(r *rule) Reason {
	return Reason{
		Kind:        r.kind,
		Package:     r.source,
		Link:        r.link,
		Requirement: r.req,
		Fixed:       r.fixed,
		Candidates:  slices.Clone(r.targets),
	}
}

// formatCandidates renders candidates grouped by name, e.g., "a/a[1.0.0, 2.0.0], b/b[1.0]".
func formatCandidates(cs []*Candidate) string {
	var names []string
	versions := map[string][]string{}
	for _, c := range cs {
		if _, ok := versions[c.PrettyName]; !ok {
			names = append(names, c.PrettyName)
		}
		versions[c.PrettyName] = append(versions[c.PrettyName], c.PrettyVersion)
	}
	parts := make([]string, len(names))
	for i, n := range names {
		parts[i] = n + "[" + strings.Join(versions[n], ", ") + "]"
	}
	return strings.Join(parts, ", ")
}

func satisfiedBy(cs []*Candidate) string {
	if len(cs) == 0 {
		return "no matching package found"
	}
	return "satisfiable by " + formatCandidates(cs)
}

func (r Reason) String() string {
	switch r.Kind {
	case ReasonRootRequire:
		return fmt.Sprintf("root requires %v -> %v", r.Requirement, satisfiedBy(r.Candidates))
	case ReasonRootConflict:
		return fmt.Sprintf("root conflicts with %v -> %v", r.Requirement, formatCandidates(r.Candidates))
	case ReasonFixed:
		if len(r.Candidates) == 0 {
			return fmt.Sprintf("%v is fixed but is not available", r.Fixed)
		}
		return fmt.Sprintf("%v is fixed", r.Candidates[0])
	case ReasonRequires:
		return fmt.Sprintf("%v requires %v %v -> %v", r.Package, r.Link.Target, r.Link.PrettyConstraint,
			satisfiedBy(r.Candidates))
	case ReasonConflict:
		return fmt.Sprintf("%v conflicts with %v %v -> %v", r.Package, r.Link.Target,
			r.Link.PrettyConstraint, formatCandidates(r.Candidates))
	case ReasonSameName:
		return fmt.Sprintf("only one of %v can be installed", formatCandidates(r.Candidates))
	case ReasonAlias:
		return fmt.Sprintf("%v %v is an alias of %v", r.Package.PrettyName, r.Package.PrettyVersion,
			r.Package.AliasOf)
	}
	return fmt.Sprintf("ReasonKind(%d)", int(r.Kind))
}

// A Problem explains why a request cannot be satisfied.  Reasons are ordered with root reasons
// first, then in the order the solver generated them.  Together they are contradictory, and with
// few enough rules removing any one of them makes the rest satisfiable.
type Problem struct {
	Reasons []Reason
}

// newProblem converts rules into reasons, merging same-name rules about the same name into one
// reason.
func newProblem(rules []*rule) *Problem {
	rules = slices.Clone(rules)
	slices.SortFunc(rules, func(a, b *rule) int { return a.id - b.id })
	p := &Problem{}
	sameName := map[string]int{}
	for _, r := range rules {
		if r.kind != ReasonSameName {
			p.Reasons = append(p.Reasons, reasonFromRule(r))
			continue
		}
		i, ok := sameName[r.req.Name]
		if !ok {
			sameName[r.req.Name] = len(p.Reasons)
			p.Reasons = append(p.Reasons, reasonFromRule(r))
			continue
		}
		for _, c := range r.targets {
			if !slices.Contains(p.Reasons[i].Candidates, c) {
				p.Reasons[i].Candidates = append(p.Reasons[i].Candidates, c)
			}
		}
	}
	for i := range p.Reasons {
		if p.Reasons[i].Kind == ReasonSameName {
			SortCandidates(p.Reasons[i].Candidates)
		}
	}
	return p
}

// Lines returns one human-readable line per reason.
func (p *Problem) Lines() []string {
	return slices.Collect(itertools.Stringify(slices.Values(p.Reasons)))
}

func (p *Problem) String() string {
	var b strings.Builder
	for _, l := range p.Lines() {
		fmt.Fprintf(&b, "  - %v\n", l)
	}
	return b.String()
}

// UnsatisfiableError is returned by [Solve] when no [DecisionSet] satisfies the request.
type UnsatisfiableError struct {
	Problem *Problem
}

func (e *UnsatisfiableError) Error() string {
	return fmt.Sprintf("%v:\n%v", ErrUnsatisfiable, e.Problem)
}

func (e *UnsatisfiableError) Unwrap() error { return ErrUnsatisfiable }
