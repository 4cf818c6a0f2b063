package composersat

import (
	"fmt"
	"strings"

	"github.com/rhansen/composersat/semver"
)

// LinkKind is the relationship a [Link] expresses.
type LinkKind int

const (
	LinkRequire LinkKind = iota
	LinkRequireDev
	LinkConflict
	LinkProvide
	LinkReplace
)

var linkKindKeys = [...]string{"require", "require-dev", "conflict", "provide", "replace"}

var linkKindVerbs = [...]string{
	"requires", "requires (for development)", "conflicts with", "provides", "replaces",
}

// AllLinkKinds lists every [LinkKind] in the order Composer writes them into package metadata.
var AllLinkKinds = []LinkKind{LinkRequire, LinkConflict, LinkProvide, LinkReplace, LinkRequireDev}

// Key returns the JSON key that holds links of this kind in package metadata, e.g., "require-dev".
func (k LinkKind) Key() string { return linkKindKeys[k] }

func (k LinkKind) String() string { return linkKindVerbs[k] }

// ParseLinkKind is the inverse of [LinkKind.Key].
func ParseLinkKind(key string) (LinkKind, bool) {
	for i, k := range linkKindKeys {
		if k == key {
			return LinkKind(i), true
		}
	}
	return 0, false
}

// A Link is a directed relationship from one package to a constraint on another package name.
type Link struct {
	Source     string
	Target     string
	Kind       LinkKind
	Constraint semver.Constraint
	// PrettyConstraint is the constraint as the package author wrote it.  It differs from
	// Constraint.String() for "self.version" links.
	PrettyConstraint string
}

// NewLink parses constraint and returns the resulting [Link].  Names are lower-cased.
func NewLink(source, target string, kind LinkKind, constraint string) (Link, error) {
	if err := CheckName(target); err != nil {
		return Link{}, fmt.Errorf("%v %v: %w", source, kind, err)
	}
	c, err := semver.ParseConstraint(constraint)
	if err != nil {
		return Link{}, fmt.Errorf("%v %v %v: %w", source, kind, target, err)
	}
	return Link{
		Source:           strings.ToLower(source),
		Target:           strings.ToLower(target),
		Kind:             kind,
		Constraint:       c,
		PrettyConstraint: c.String(),
	}, nil
}

func (l Link) String() string {
	return fmt.Sprintf("%v %v %v %v", l.Source, l.Kind, l.Target, l.PrettyConstraint)
}
