package composersat

import (
	"encoding/json"
	"fmt"
	"iter"
	"slices"
	"strings"

	"github.com/rhansen/composersat/internal/jsonobj"
	"github.com/rhansen/composersat/semver"
)

// A Candidate is one concrete version of a package, with its links to other packages.  Candidates
// are owned by a [Pool] once the pool is built and must not be modified afterwards.
type Candidate struct {
	// Name is the lower-cased package name.
	Name string
	// PrettyName is the package name as the author spelled it.
	PrettyName string
	Version    semver.Version
	// PrettyVersion is the version as the author spelled it (e.g., "v2.1.0").
	PrettyVersion string

	Requires    []Link
	RequiresDev []Link
	Conflicts   []Link
	Provides    []Link
	Replaces    []Link

	// Metadata holds every other member of the package's JSON description (source, dist, autoload,
	// etc.) in document order.  It is opaque to the solver and is written back verbatim to lock
	// files.
	Metadata jsonobj.Object

	// AliasOf is set on an alias: a stand-in that lets AliasOf satisfy requirements on another
	// version of the same package.  Installing an alias installs AliasOf.
	AliasOf *Candidate
}

// NewCandidate returns a [Candidate] with no links.
func NewCandidate(name, version string) (*Candidate, error) {
	if err := CheckName(name); err != nil {
		return nil, err
	}
	v, err := semver.ParseVersion(version)
	if err != nil {
		return nil, fmt.Errorf("package %v: %w", name, err)
	}
	return &Candidate{
		Name:          strings.ToLower(name),
		PrettyName:    name,
		Version:       v,
		PrettyVersion: version,
	}, nil
}

// NewAlias returns an alias of base with the given version.  The alias has base's links, except
// that "self.version" constraints refer to the alias version.
func NewAlias(base *Candidate, version string) (*Candidate, error) {
	v, err := semver.ParseVersion(version)
	if err != nil {
		return nil, fmt.Errorf("alias of %v: %w", base, err)
	}
	if v.IsBranch() {
		return nil, fmt.Errorf("alias of %v: %v is a branch", base, version)
	}
	a := &Candidate{
		Name:          base.Name,
		PrettyName:    base.PrettyName,
		Version:       v,
		PrettyVersion: version,
		AliasOf:       base,
	}
	for _, kind := range AllLinkKinds {
		for _, l := range base.Links(kind) {
			if strings.TrimSpace(l.PrettyConstraint) == "self.version" {
				if err := a.AddLink(kind, l.Target, l.PrettyConstraint); err != nil {
					return nil, err
				}
				continue
			}
			l.Source = a.Name
			links := a.linksPtr(kind)
			*links = append(*links, l)
		}
	}
	return a, nil
}

// branchAliases returns the aliases declared by c's "extra.branch-alias" member, which maps
// branch versions to numeric development versions (e.g., {"dev-main": "1.x-dev"}).  Entries for
// other versions and malformed entries are ignored.
func (c *Candidate) branchAliases() []*Candidate {
	var extra struct {
		BranchAlias jsonobj.Object `json:"branch-alias"`
	}
	if ok, err := jsonobj.Decode(c.Metadata, "extra", &extra); !ok || err != nil {
		return nil
	}
	var ret []*Candidate
	for from, raw := range extra.BranchAlias.All() {
		var to string
		if err := json.Unmarshal(raw, &to); err != nil {
			continue
		}
		fv, err := semver.ParseVersion(from)
		if err != nil || !fv.Equal(c.Version) || fv.Stability() != semver.StabilityDev {
			continue
		}
		tv, err := semver.ParseVersion(to)
		if err != nil || tv.IsBranch() || tv.Stability() != semver.StabilityDev {
			continue
		}
		if a, err := NewAlias(c, to); err == nil {
			ret = append(ret, a)
		}
	}
	return ret
}

// IsAlias reports whether c is an alias of another candidate.
func (c *Candidate) IsAlias() bool { return c.AliasOf != nil }

func (c *Candidate) base() *Candidate {
	if c.AliasOf != nil {
		return c.AliasOf
	}
	return c
}

// AddLink parses constraint and appends a link of the given kind.  The special constraint
// "self.version" stands for the candidate's own version.
func (c *Candidate) AddLink(kind LinkKind, target, constraint string) error {
	pretty := constraint
	if strings.TrimSpace(constraint) == "self.version" {
		constraint = c.Version.String()
	}
	l, err := NewLink(c.Name, target, kind, constraint)
	if err != nil {
		return err
	}
	l.PrettyConstraint = pretty
	links := c.linksPtr(kind)
	*links = append(*links, l)
	return nil
}

func (c *Candidate) linksPtr(kind LinkKind) *[]Link {
	switch kind {
	case LinkRequire:
		return &c.Requires
	case LinkRequireDev:
		return &c.RequiresDev
	case LinkConflict:
		return &c.Conflicts
	case LinkProvide:
		return &c.Provides
	case LinkReplace:
		return &c.Replaces
	}
	panic(fmt.Errorf("unknown link kind %d", kind))
}

// Links returns the candidate's links of the given kind.
func (c *Candidate) Links(kind LinkKind) []Link { return *c.linksPtr(kind) }

// ProvideLinks iterates over the provide and replace links, which let c satisfy requirements
// addressed to other names.
func (c *Candidate) ProvideLinks() iter.Seq[Link] {
	return func(yield func(Link) bool) {
		for _, l := range c.Provides {
			if !yield(l) {
				return
			}
		}
		for _, l := range c.Replaces {
			if !yield(l) {
				return
			}
		}
	}
}

// Id returns the candidate's name and version.
func (c *Candidate) Id() PackageId { return PackageId{c.Name, c.Version} }

// Stability returns the stability tier of the candidate's version.
func (c *Candidate) Stability() semver.Stability { return c.Version.Stability() }

func (c *Candidate) String() string {
	if c.AliasOf != nil {
		return c.PrettyName + " " + c.PrettyVersion + " (alias of " + c.AliasOf.PrettyVersion + ")"
	}
	return c.PrettyName + " " + c.PrettyVersion
}

// lockKeyOrder is the member order Composer uses when it dumps a package into a lock file.
var lockKeyOrder = []string{
	"name", "version", "source", "dist", "require", "conflict", "provide", "replace", "require-dev",
	"suggest", "default-branch", "bin", "type", "extra", "installation-source", "autoload",
	"autoload-dev", "notification-url", "include-path", "php-ext", "archive", "scripts", "license",
	"authors", "description", "homepage", "keywords", "repositories", "support", "funding",
	"abandoned",
}

// ToObject returns the candidate's JSON description in the member order of a Composer lock file.
func (c *Candidate) ToObject() (jsonobj.Object, error) {
	o := c.Metadata.Clone()
	o.Delete("version_normalized")
	if err := o.SetValue("name", c.PrettyName); err != nil {
		return jsonobj.Object{}, err
	}
	if err := o.SetValue("version", c.PrettyVersion); err != nil {
		return jsonobj.Object{}, err
	}
	for _, kind := range AllLinkKinds {
		links := c.Links(kind)
		if len(links) == 0 {
			o.Delete(kind.Key())
			continue
		}
		var lo jsonobj.Object
		for _, l := range links {
			if err := lo.SetValue(l.Target, l.PrettyConstraint); err != nil {
				return jsonobj.Object{}, err
			}
		}
		if err := o.SetValue(kind.Key(), lo); err != nil {
			return jsonobj.Object{}, err
		}
	}
	return o.Reorder(lockKeyOrder, []string{"time"}), nil
}

func (c *Candidate) MarshalJSON() ([]byte, error) {
	o, err := c.ToObject()
	if err != nil {
		return nil, err
	}
	return jsonobj.Marshal(o)
}

// CandidateFromJSON decodes a package description in Composer's format.  Members other than the
// name, version, and link maps are kept in [Candidate.Metadata].
func CandidateFromJSON(data []byte) (*Candidate, error) {
	var o jsonobj.Object
	if err := json.Unmarshal(data, &o); err != nil {
		return nil, fmt.Errorf("failed to decode package: %w", err)
	}
	return CandidateFromObject(o)
}

// CandidateFromObject is like [CandidateFromJSON] but takes an already-decoded object.
func CandidateFromObject(o jsonobj.Object) (*Candidate, error) {
	var name, version string
	if _, err := jsonobj.Decode(o, "name", &name); err != nil {
		return nil, err
	}
	if _, err := jsonobj.Decode(o, "version", &version); err != nil {
		return nil, fmt.Errorf("package %v: %w", name, err)
	}
	c, err := NewCandidate(name, version)
	if err != nil {
		return nil, err
	}
	for key, raw := range o.All() {
		kind, isLink := ParseLinkKind(key)
		switch {
		case key == "name" || key == "version":
			continue
		case !isLink:
			c.Metadata.Set(key, raw)
			continue
		}
		var links jsonobj.Object
		if err := json.Unmarshal(raw, &links); err != nil {
			return nil, fmt.Errorf("package %v: bad %q: %w", c, key, err)
		}
		for target, rawConstraint := range links.All() {
			var constraint string
			if err := json.Unmarshal(rawConstraint, &constraint); err != nil {
				return nil, fmt.Errorf("package %v: bad %q constraint for %v: %w", c, key, target, err)
			}
			if err := c.AddLink(kind, target, constraint); err != nil {
				return nil, err
			}
		}
	}
	return c, nil
}

// CandidateCompare orders candidates by name, then by version.
func CandidateCompare(a, b *Candidate) int {
	return PackageIdCompare(a.Id(), b.Id())
}

// SortCandidates sorts cs by name, then by version.
func SortCandidates(cs []*Candidate) {
	slices.SortStableFunc(cs, CandidateCompare)
}
