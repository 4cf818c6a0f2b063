package semver

import (
	"errors"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestParseConstraintNormalized(t *testing.T) {
	t.Parallel()
	for _, tc := range []struct {
		desc string
		in   string
		want string
	}{
		{desc: "exact", in: "1.2.3", want: "==1.2.3.0"},
		{desc: "exact with operator", in: "==1.2.3", want: "==1.2.3.0"},
		{desc: "greater or equal", in: ">=1.2", want: ">=1.2.0.0-dev"},
		{desc: "greater", in: ">1.2", want: ">1.2.0.0"},
		{desc: "less", in: "<2.0", want: "<2.0.0.0-dev"},
		{desc: "less or equal", in: "<=2.0", want: "<=2.0.0.0"},
		{desc: "not equal", in: "!=1.5", want: "<1.5.0.0 || >1.5.0.0"},
		{desc: "and by space", in: ">=1.0 <2.0", want: ">=1.0.0.0-dev <2.0.0.0-dev"},
		{desc: "and by comma", in: ">=1.0, <2.0", want: ">=1.0.0.0-dev <2.0.0.0-dev"},
		{desc: "space after operator", in: ">= 1.0 < 2.0", want: ">=1.0.0.0-dev <2.0.0.0-dev"},
		{desc: "or", in: "^1.0 || ^2.0", want: ">=1.0.0.0-dev <2.0.0.0-dev || >=2.0.0.0-dev <3.0.0.0-dev"},
		{desc: "single pipe or", in: "1.0|2.0", want: "==1.0.0.0 || ==2.0.0.0"},
		{desc: "caret major", in: "^1.2.3", want: ">=1.2.3.0-dev <2.0.0.0-dev"},
		{desc: "caret minor", in: "^0.2.3", want: ">=0.2.3.0-dev <0.3.0.0-dev"},
		{desc: "caret patch", in: "^0.0.3", want: ">=0.0.3.0-dev <0.0.4.0-dev"},
		{desc: "caret zero", in: "^0", want: ">=0.0.0.0-dev <1.0.0.0-dev"},
		{desc: "caret zero zero", in: "^0.0", want: ">=0.0.0.0-dev <0.1.0.0-dev"},
		{desc: "tilde major", in: "~1", want: ">=1.0.0.0-dev <2.0.0.0-dev"},
		{desc: "tilde minor", in: "~1.2", want: ">=1.2.0.0-dev <1.3.0.0-dev"},
		{desc: "tilde patch", in: "~1.2.3", want: ">=1.2.3.0-dev <1.3.0.0-dev"},
		{desc: "tilde four", in: "~1.2.3.4", want: ">=1.2.3.4-dev <1.2.4.0-dev"},
		{desc: "wildcard star", in: "1.2.*", want: ">=1.2.0.0-dev <1.3.0.0-dev"},
		{desc: "wildcard x", in: "1.x", want: ">=1.0.0.0-dev <2.0.0.0-dev"},
		{desc: "hyphen", in: "1.0 - 2.0", want: ">=1.0.0.0-dev <=2.0.0.0"},
		{desc: "any", in: "*", want: "*"},
		{desc: "any with flag", in: "@dev", want: "*"},
		{desc: "branch", in: "dev-main", want: "==dev-main"},
		{desc: "branch with ref", in: "dev-main#abc123", want: "==dev-main"},
		{desc: "inline alias", in: "dev-main as 1.0.x-dev", want: "==dev-main"},
		{desc: "branch alias", in: "2.x-dev", want: "==2.9999999.9999999.9999999-dev"},
		{desc: "disjoint and", in: ">=2.0 <1.0", want: "<none>"},
	} {
		t.Run(tc.desc, func(t *testing.T) {
			t.Parallel()
			c, err := ParseConstraint(tc.in)
			if err != nil {
				t.Fatalf("ParseConstraint(%q) failed: %v", tc.in, err)
			}
			if diff := cmp.Diff(tc.want, c.Normalized()); diff != "" {
				t.Errorf("Normalized() mismatch (-want, +got):\n%s", diff)
			}
			if got := c.String(); got != tc.in {
				t.Errorf("String() = %q, want %q", got, tc.in)
			}
		})
	}
}

func TestParseConstraintErrors(t *testing.T) {
	t.Parallel()
	for _, in := range []string{"", "   ", "foo", "^", ">=", "1.0 ||", "|| 1.0", "^1.0@wat", ">=dev-main", "1.2.3.4.5"} {
		t.Run(fmt.Sprintf("%q", in), func(t *testing.T) {
			t.Parallel()
			_, err := ParseConstraint(in)
			if !errors.Is(err, ErrInvalidConstraint) {
				t.Fatalf("ParseConstraint(%q) error = %v, want %v", in, err, ErrInvalidConstraint)
			}
			var pe *ParseError
			if !errors.As(err, &pe) || pe.Input != in || pe.Kind != InvalidConstraintFormat {
				t.Errorf("ParseConstraint(%q) error = %#v, want *ParseError carrying the input", in, err)
			}
		})
	}
}

func TestConstraintMatches(t *testing.T) {
	t.Parallel()
	for _, tc := range []struct {
		desc       string
		constraint string
		yes, no    []string
	}{
		{
			desc:       "caret",
			constraint: "^1.2.3",
			yes:        []string{"1.2.3", "1.2.4", "1.9.9", "1.99.0.1"},
			no:         []string{"1.2.2", "2.0.0", "2.0.0-beta1", "1.5.0-beta1", "0.9.0", "dev-main"},
		},
		{
			desc:       "caret below one",
			constraint: "^0.2.3",
			yes:        []string{"0.2.3", "0.2.9"},
			no:         []string{"0.2.2", "0.3.0", "1.0.0"},
		},
		{
			desc:       "tilde",
			constraint: "~1.2",
			yes:        []string{"1.2.0", "1.2.9"},
			no:         []string{"1.3.0", "1.1.9", "2.0.0"},
		},
		{
			desc:       "wildcard",
			constraint: "1.2.*",
			yes:        []string{"1.2.0", "1.2.99"},
			no:         []string{"1.3.0", "1.1.0"},
		},
		{
			desc:       "hyphen is inclusive",
			constraint: "1.0 - 2.0",
			yes:        []string{"1.0.0", "1.5.0", "2.0.0"},
			no:         []string{"2.0.1", "0.9.0"},
		},
		{
			desc:       "exact ignores build metadata",
			constraint: "1.0.0",
			yes:        []string{"1.0.0", "1.0", "1.0.0+build7"},
			no:         []string{"1.0.1", "1.0.0-RC1"},
		},
		{
			desc:       "not equal",
			constraint: "!=1.5.0",
			yes:        []string{"1.4.0", "1.6.0"},
			no:         []string{"1.5.0"},
		},
		{
			desc:       "stability flag",
			constraint: "^1.0@beta",
			yes:        []string{"1.0.0", "1.1.0-beta2", "1.1.0-RC1", "1.0.0-beta1"},
			no:         []string{"1.1.0-alpha1", "1.1.0-dev", "2.0.0-beta1"},
		},
		{
			desc:       "pre-release operand lowers floor",
			constraint: ">=1.0.0-alpha1",
			yes:        []string{"1.0.0-alpha1", "1.0.0-beta1", "3.0.0"},
			no:         []string{"1.0.0-dev", "0.9.0"},
		},
		{
			desc:       "any admits only stable by default",
			constraint: "*",
			yes:        []string{"0.0.1", "99.0.0"},
			no:         []string{"1.0.0-RC1", "dev-main"},
		},
		{
			desc:       "any at dev admits branches",
			constraint: "*@dev",
			yes:        []string{"dev-main", "1.0.0-alpha1", "1.x-dev"},
		},
		{
			desc:       "branch",
			constraint: "dev-main",
			yes:        []string{"dev-main"},
			no:         []string{"dev-other", "1.0.0"},
		},
		{
			desc:       "branch alias",
			constraint: "1.x-dev",
			yes:        []string{"1.x-dev"},
			no:         []string{"1.0.0", "2.x-dev"},
		},
		{
			desc:       "or of ands",
			constraint: ">=1.0 <1.1 || >=2.0 <2.1",
			yes:        []string{"1.0.5", "2.0.0"},
			no:         []string{"1.1.0", "1.9.0", "2.1.0"},
		},
	} {
		t.Run(tc.desc, func(t *testing.T) {
			t.Parallel()
			c := MustParseConstraint(tc.constraint)
			for _, s := range tc.yes {
				if !c.Matches(MustParseVersion(s)) {
					t.Errorf("%q does not match %q, want match", tc.constraint, s)
				}
			}
			for _, s := range tc.no {
				if c.Matches(MustParseVersion(s)) {
					t.Errorf("%q matches %q, want no match", tc.constraint, s)
				}
			}
		})
	}
}

// TestCaretProperty checks that "^1.2.3" matches v iff 1.2.3 <= v < 2.0.0 and "^0.2.3" matches v
// iff 0.2.3 <= v < 0.3.0 over a grid of stable versions.
func TestCaretProperty(t *testing.T) {
	t.Parallel()
	for _, tc := range []struct {
		constraint string
		lo, hi     string
	}{
		{"^1.2.3", "1.2.3", "2.0.0"},
		{"^0.2.3", "0.2.3", "0.3.0"},
	} {
		c := MustParseConstraint(tc.constraint)
		lo, hi := MustParseVersion(tc.lo), MustParseVersion(tc.hi)
		for major := range 3 {
			for minor := range 4 {
				for patch := range 5 {
					v := MustParseVersion(fmt.Sprintf("%d.%d.%d", major, minor, patch))
					want := !v.Less(lo) && v.Less(hi)
					if got := c.Matches(v); got != want {
						t.Errorf("%q.Matches(%v) = %v, want %v", tc.constraint, v, got, want)
					}
				}
			}
		}
	}
}

func TestWithDefaultStability(t *testing.T) {
	t.Parallel()
	beta := MustParseVersion("1.1.0-beta1")
	c := MustParseConstraint("^1.0")
	if c.Matches(beta) {
		t.Errorf("%q matches %v at the default floor", c, beta)
	}
	if !c.WithDefaultStability(StabilityDev).Matches(beta) {
		t.Errorf("%q does not match %v with a dev floor", c, beta)
	}
	// An explicit flag always wins over the default.
	rc := MustParseConstraint("^1.0@RC")
	if rc.WithDefaultStability(StabilityDev).Matches(beta) {
		t.Errorf("%q matches %v with a dev default floor", rc, beta)
	}
	if got, ok := rc.ExplicitStability(); !ok || got != StabilityRC {
		t.Errorf("ExplicitStability() = %v, %v; want %v, true", got, ok, StabilityRC)
	}
	if _, ok := c.ExplicitStability(); ok {
		t.Errorf("ExplicitStability() of %q reported a floor", c)
	}
}

func TestConstraintIntersects(t *testing.T) {
	t.Parallel()
	for _, tc := range []struct {
		a, b string
		want bool
	}{
		{"^1.0", "1.5.0", true},
		{"^1.0", "2.0.0", false},
		{"^1.0", "^1.5", true},
		{"^1.0", "^2.0", false},
		{"<1.0", ">=1.0", false},
		{"<=1.0", ">=1.0", true},
		{"*", "^3.0", true},
		{"dev-main", "dev-main", true},
		{"dev-main", "^1.0", false},
		{">=2.0 <1.0", "*", false},
	} {
		a, b := MustParseConstraint(tc.a), MustParseConstraint(tc.b)
		if got := a.Intersects(b); got != tc.want {
			t.Errorf("%q.Intersects(%q) = %v, want %v", tc.a, tc.b, got, tc.want)
		}
		if got := b.Intersects(a); got != tc.want {
			t.Errorf("%q.Intersects(%q) = %v, want %v", tc.b, tc.a, got, tc.want)
		}
	}
}

func TestInlineAlias(t *testing.T) {
	t.Parallel()
	for _, tc := range []struct {
		desc      string
		in        string
		wantOK    bool
		wantVer   string
		wantAlias string
	}{
		{desc: "branch as branch alias", in: "dev-main as 1.0.x-dev", wantOK: true, wantVer: "dev-main", wantAlias: "1.0.9999999.9999999-dev"},
		{desc: "commit reference", in: "dev-main#abc123 as 2.1.x-dev", wantOK: true, wantVer: "dev-main", wantAlias: "2.1.9999999.9999999-dev"},
		{desc: "stability flag", in: "dev-main@dev as 1.x-dev", wantOK: true, wantVer: "dev-main", wantAlias: "1.9999999.9999999.9999999-dev"},
		{desc: "numeric version", in: "1.0.0 as 1.1.0", wantOK: true, wantVer: "1.0.0.0", wantAlias: "1.1.0.0"},
		{desc: "no alias", in: "dev-main"},
		{desc: "range", in: "^1.0 as 1.1.0"},
		{desc: "disjunction", in: "dev-main as 1.0.x-dev || ^2.0"},
		{desc: "alias is a branch", in: "dev-main as dev-other"},
	} {
		t.Run(tc.desc, func(t *testing.T) {
			t.Parallel()
			v, a, ok := InlineAlias(tc.in)
			if ok != tc.wantOK {
				t.Fatalf("InlineAlias(%q) ok = %v, want %v", tc.in, ok, tc.wantOK)
			}
			if !ok {
				return
			}
			if got := v.Normalized(); got != tc.wantVer {
				t.Errorf("version = %q, want %q", got, tc.wantVer)
			}
			if got := a.Normalized(); got != tc.wantAlias {
				t.Errorf("alias = %q, want %q", got, tc.wantAlias)
			}
		})
	}
}

func TestBranchAliasMatchesRanges(t *testing.T) {
	t.Parallel()
	v := MustParseVersion("1.x-dev")
	for _, tc := range []struct {
		c    string
		want bool
	}{
		{"^1.0@dev", true},
		{"^1.0", false},
		{"1.x-dev", true},
		{"^2.0@dev", false},
		{"dev-main", false},
	} {
		if got := MustParseConstraint(tc.c).Matches(v); got != tc.want {
			t.Errorf("%q.Matches(%v) = %v, want %v", tc.c, v, got, tc.want)
		}
	}
}
