// Package semver implements the version and constraint algebra used by Composer-style package
// managers.
//
// A [Version] is parsed from text such as "1.2.3", "v2.0.0-beta2", "1.x-dev", or "dev-main".  A
// [Constraint] is parsed from a requirement string such as "^1.2 || ~2.0@beta" and answers one
// question: does it [Constraint.Matches] a given [Version]?
//
// Versions carry a [Stability] derived from their pre-release label.  Constraints only admit
// versions at or above their stability floor, which is stable unless the constraint names a lower
// tier explicitly (a "@beta" flag or a pre-release version in an operand) or the caller lowers the
// default with [Constraint.WithDefaultStability].
package semver

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	// ErrInvalidVersion is wrapped by every [ParseError] of kind [InvalidVersionFormat].
	ErrInvalidVersion = errors.New("invalid version format")
	// ErrInvalidConstraint is wrapped by every [ParseError] of kind [InvalidConstraintFormat].
	ErrInvalidConstraint = errors.New("invalid constraint format")
)

// ErrorKind classifies a [ParseError].
type ErrorKind int

const (
	InvalidVersionFormat ErrorKind = iota + 1
	InvalidConstraintFormat
)

// ParseError reports malformed version or constraint text.  It always carries the offending input
// so that callers can render a precise message.
type ParseError struct {
	Kind   ErrorKind
	Input  string
	Reason string
}

func (e *ParseError) Error() string {
	what := "version"
	if e.Kind == InvalidConstraintFormat {
		what = "constraint"
	}
	if e.Reason == "" {
		return fmt.Sprintf("invalid %s %q", what, e.Input)
	}
	return fmt.Sprintf("invalid %s %q: %s", what, e.Input, e.Reason)
}

func (e *ParseError) Unwrap() error {
	if e.Kind == InvalidConstraintFormat {
		return ErrInvalidConstraint
	}
	return ErrInvalidVersion
}

// Stability is the maturity tier of a version.  Tiers are ordered so that a larger value is more
// stable.
type Stability int

const (
	StabilityDev Stability = iota
	StabilityAlpha
	StabilityBeta
	StabilityRC
	StabilityStable
)

var stabilityNames = [...]string{"dev", "alpha", "beta", "RC", "stable"}

func (s Stability) String() string {
	if s < StabilityDev || s > StabilityStable {
		return fmt.Sprintf("Stability(%d)", int(s))
	}
	return stabilityNames[s]
}

// Code returns the numeric code Composer uses for s in the "stability-flags" section of a lock
// file.
func (s Stability) Code() int {
	return (int(StabilityStable) - int(s)) * 5
}

// StabilityFromCode is the inverse of [Stability.Code].
func StabilityFromCode(code int) (Stability, error) {
	if code < 0 || code > 20 || code%5 != 0 {
		return 0, fmt.Errorf("invalid stability code %d", code)
	}
	return StabilityStable - Stability(code/5), nil
}

// ParseStability parses a stability name.  Matching is case-insensitive.
func ParseStability(s string) (Stability, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "dev":
		return StabilityDev, nil
	case "alpha", "a":
		return StabilityAlpha, nil
	case "beta", "b":
		return StabilityBeta, nil
	case "rc":
		return StabilityRC, nil
	case "stable", "":
		return StabilityStable, nil
	}
	return 0, fmt.Errorf("unknown stability %q; expected one of: %v", s,
		strings.Join(stabilityNames[:], ", "))
}

// label is the pre-release label of a numeric version.  The order matters: it is the sort order
// of versions that share numeric segments.
type label uint8

const (
	labelDev label = iota
	labelAlpha
	labelBeta
	labelRC
	labelRelease
	labelPatch
)

func (l label) String() string {
	return [...]string{"dev", "alpha", "beta", "RC", "", "patch"}[l]
}

func (l label) stability() Stability {
	switch l {
	case labelDev:
		return StabilityDev
	case labelAlpha:
		return StabilityAlpha
	case labelBeta:
		return StabilityBeta
	case labelRC:
		return StabilityRC
	}
	return StabilityStable
}

func parseLabel(s string) label {
	switch s {
	case "dev":
		return labelDev
	case "alpha", "a":
		return labelAlpha
	case "beta", "b":
		return labelBeta
	case "rc":
		return labelRC
	case "patch", "pl", "p":
		return labelPatch
	}
	return labelRelease
}

// branchAliasSeg is the segment value that stands in for "x" in a branch alias like "1.x-dev".
const branchAliasSeg = 9999999

// Version is an immutable parsed version.  The zero value is equivalent to "0-dev".
//
// Two versions are equivalent if [Compare] returns 0; use [Version.Equal] rather than == because
// equivalent spellings (e.g., "1.0" and "1.0.0.0") produce different values.  Version values are
// comparable so they can be used as map keys, but such maps distinguish equivalent spellings; key
// on [Version.Normalized] to avoid that.
type Version struct {
	segs  [4]uint64
	nSegs uint8 // Number of segments written by the author (1-4); 0 means 1.
	label label
	// pre holds the dot-separated numeric sub-segments of the pre-release label, e.g., "2" for
	// "beta2" or "1.3" for "RC1.3".
	pre      string
	build    string
	alias    bool   // Branch alias such as "1.x-dev".
	branch   string // Non-empty for "dev-<branch>" versions.
	hasLabel bool   // True if the label (even "stable") was written out.
}

var (
	versionRe = regexp.MustCompile(
		`^v?(\d+)(?:\.(\d+))?(?:\.(\d+))?(?:\.(\d+))?` +
			`(?:[._-]?(stable|beta|b|rc|alpha|a|patch|pl|p|dev)((?:[.-]?\d+)*))?$`)
	aliasRe = regexp.MustCompile(`^v?(\d+)(?:\.(\d+))?(?:\.(\d+))?\.[x*][.-]?dev$`)
)

// ParseVersion parses a version string.  Stability labels are matched case-insensitively and
// build metadata ("+...") is retained for [Version.String] but ignored by comparisons.
func ParseVersion(text string) (Version, error) {
	s := strings.TrimSpace(text)
	if s == "" {
		return Version{}, &ParseError{InvalidVersionFormat, text, "empty string"}
	}
	if b, ok := strings.CutPrefix(s, "dev-"); ok {
		if b == "" || strings.ContainsAny(b, " \t,|") {
			return Version{}, &ParseError{InvalidVersionFormat, text, "invalid branch name"}
		}
		return Version{branch: b, label: labelDev}, nil
	}
	var v Version
	if i := strings.IndexByte(s, '+'); i >= 0 {
		v.build = s[i+1:]
		s = s[:i]
		if v.build == "" {
			return Version{}, &ParseError{InvalidVersionFormat, text, "empty build metadata"}
		}
	}
	lower := strings.ToLower(s)
	if m := aliasRe.FindStringSubmatch(lower); m != nil {
		if v.build != "" {
			return Version{}, &ParseError{InvalidVersionFormat, text, "build metadata on branch alias"}
		}
		v.alias = true
		v.label = labelDev
		if err := v.setSegs(text, m[1:4]); err != nil {
			return Version{}, err
		}
		for i := int(v.nSegs); i < len(v.segs); i++ {
			v.segs[i] = branchAliasSeg
		}
		return v, nil
	}
	m := versionRe.FindStringSubmatch(lower)
	if m == nil {
		return Version{}, &ParseError{InvalidVersionFormat, text, ""}
	}
	if err := v.setSegs(text, m[1:5]); err != nil {
		return Version{}, err
	}
	v.label = labelRelease
	if m[5] != "" {
		v.hasLabel = true
		v.label = parseLabel(m[5])
		v.pre = canonicalPre(m[6])
		if v.label == labelRelease && v.pre != "" {
			return Version{}, &ParseError{InvalidVersionFormat, text, "stable label takes no number"}
		}
	}
	return v, nil
}

// canonicalPre returns the pre-release sub-segments of s joined by dots, without leading zeros, so
// that "beta01" and "beta1" are spelled alike.
func canonicalPre(s string) string {
	s = strings.TrimLeft(s, ".-")
	if s == "" {
		return ""
	}
	parts := strings.FieldsFunc(s, func(r rune) bool { return r == '.' || r == '-' })
	for i, p := range parts {
		if t := strings.TrimLeft(p, "0"); t != "" {
			parts[i] = t
		} else {
			parts[i] = "0"
		}
	}
	return strings.Join(parts, ".")
}

// MustParseVersion is like [ParseVersion] but panics on error.
func MustParseVersion(text string) Version {
	v, err := ParseVersion(text)
	if err != nil {
		panic(err)
	}
	return v
}

func (v *Version) setSegs(text string, segs []string) error {
	for i, s := range segs {
		if s == "" {
			break
		}
		n, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			return &ParseError{InvalidVersionFormat, text, err.Error()}
		}
		v.segs[i] = n
		v.nSegs = uint8(i + 1)
	}
	return nil
}

// IsBranch reports whether v names a development branch ("dev-main").
func (v Version) IsBranch() bool { return v.branch != "" }

// Branch returns the branch name of a branch version, or the empty string.
func (v Version) Branch() string { return v.branch }

// IsBranchAlias reports whether v is a numeric branch alias such as "1.x-dev".
func (v Version) IsBranchAlias() bool { return v.alias }

// Segments returns the four numeric segments of v.  Unwritten segments are zero.
func (v Version) Segments() [4]uint64 { return v.segs }

// Stability returns the stability tier implied by v's pre-release label.
func (v Version) Stability() Stability { return v.label.stability() }

// IsPrerelease reports whether v sorts below the release with the same numeric segments.
func (v Version) IsPrerelease() bool { return v.label < labelRelease }

func (v Version) segString(n int) string {
	if n < 1 {
		n = 1
	}
	parts := make([]string, n)
	for i := range n {
		parts[i] = strconv.FormatUint(v.segs[i], 10)
	}
	return strings.Join(parts, ".")
}

func (v Version) suffix() string {
	if v.label == labelRelease {
		if v.hasLabel {
			return "-stable"
		}
		return ""
	}
	return "-" + v.label.String() + v.pre
}

// String returns the canonical spelling of v.  [ParseVersion] of the result yields a Version that
// is == to v.
func (v Version) String() string {
	switch {
	case v.branch != "":
		return "dev-" + v.branch
	case v.alias:
		return v.segString(int(v.nSegs)) + ".x-dev"
	}
	s := v.segString(int(v.nSegs)) + v.suffix()
	if v.build != "" {
		s += "+" + v.build
	}
	return s
}

// Normalized returns Composer's normalized spelling of v, e.g., "1.2.0.0-beta2".  Equivalent
// versions have the same normalized spelling.
func (v Version) Normalized() string {
	switch {
	case v.branch != "":
		return "dev-" + v.branch
	case v.alias:
		return v.segString(4) + "-dev"
	}
	if v.label == labelRelease {
		return v.segString(4)
	}
	return v.segString(4) + "-" + v.label.String() + v.pre
}

// Compare returns -1, 0, or +1 depending on whether a sorts before, equivalent to, or after b.
// The order is total.  Branch versions sort below every numeric version and among themselves by
// name.  Build metadata is ignored.
func Compare(a, b Version) int {
	switch ab, bb := a.branch != "", b.branch != ""; {
	case ab && bb:
		return strings.Compare(a.branch, b.branch)
	case ab:
		return -1
	case bb:
		return 1
	}
	for i := range a.segs {
		if c := cmpUint(a.segs[i], b.segs[i]); c != 0 {
			return c
		}
	}
	if c := cmpUint(uint64(a.label), uint64(b.label)); c != 0 {
		return c
	}
	return comparePre(a.pre, b.pre)
}

func comparePre(a, b string) int {
	if a == b {
		return 0
	}
	as := strings.Split(a, ".")
	bs := strings.Split(b, ".")
	if a == "" {
		as = nil
	}
	if b == "" {
		bs = nil
	}
	for i := 0; i < len(as) && i < len(bs); i++ {
		an, _ := strconv.ParseUint(as[i], 10, 64)
		bn, _ := strconv.ParseUint(bs[i], 10, 64)
		if c := cmpUint(an, bn); c != 0 {
			return c
		}
	}
	return cmpUint(uint64(len(as)), uint64(len(bs)))
}

func cmpUint(a, b uint64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// Compare is a method form of [Compare].
func (v Version) Compare(o Version) int { return Compare(v, o) }

// Equal reports whether v and o are equivalent.
func (v Version) Equal(o Version) bool { return Compare(v, o) == 0 }

// Less reports whether v sorts before o.
func (v Version) Less(o Version) bool { return Compare(v, o) < 0 }

// devFloor returns the lowest version with the same numeric segments as v.  Exclusive upper
// bounds and inclusive lower bounds of ranges use it so that "<2.0" rejects "2.0-beta1" and
// "^1.0@beta" admits "1.0-beta1".
func (v Version) devFloor() Version {
	f := v
	f.label = labelDev
	f.pre = ""
	f.hasLabel = true
	f.build = ""
	return f
}
