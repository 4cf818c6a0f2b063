package composersat_test

import (
	"errors"
	"slices"
	"testing"

	"github.com/google/go-cmp/cmp"
	. "github.com/rhansen/composersat"
	"github.com/rhansen/composersat/internal/itertools"
	fr "github.com/rhansen/composersat/internal/test/fakerepo"
	"github.com/rhansen/composersat/semver"
)

func candStrings(cs []*Candidate) []string {
	return slices.Collect(itertools.Stringify(slices.Values(cs)))
}

func TestPool_Satisfiers(t *testing.T) {
	t.Parallel()
	pool := fr.NewTestFakeRepo(t).AddAll(
		[]fr.Option{fr.Id("acme/a@1.0.0")},
		[]fr.Option{fr.Id("acme/a@2.0.0")},
		[]fr.Option{fr.Id("acme/a@1.5.0")},
		[]fr.Option{fr.Id("acme/a@2.1.0-beta1")},
		[]fr.Option{fr.Id("fork/a@1.0.0"), fr.Replace("acme/a", "1.2.0")},
		[]fr.Option{fr.Id("virt/impl@1.0.0"), fr.Provide("acme/a", "^3.0")},
		[]fr.Option{fr.Id("dev/impl@1.0.0-alpha1"), fr.Provide("acme/a", "*")},
	).Pool()
	for _, tc := range []struct {
		desc       string
		name       string
		constraint string
		stability  semver.Stability
		want       []string
	}{
		{
			desc:       "own versions newest first then providers",
			name:       "acme/a",
			constraint: "^1.0",
			stability:  semver.StabilityStable,
			want:       []string{"acme/a 1.5.0", "acme/a 1.0.0", "fork/a 1.0.0"},
		},
		{
			desc:       "provider only",
			name:       "acme/a",
			constraint: ">=3.0",
			stability:  semver.StabilityStable,
			want:       []string{"virt/impl 1.0.0"},
		},
		{
			desc:       "stability floor applies to versions and providers",
			name:       "acme/a",
			constraint: "*",
			stability:  semver.StabilityAlpha,
			want: []string{
				"acme/a 2.1.0-beta1", "acme/a 2.0.0", "acme/a 1.5.0", "acme/a 1.0.0",
				"fork/a 1.0.0", "virt/impl 1.0.0", "dev/impl 1.0.0-alpha1",
			},
		},
		{
			desc:       "case-insensitive name",
			name:       "ACME/A",
			constraint: "2.0.0",
			stability:  semver.StabilityStable,
			want:       []string{"acme/a 2.0.0"},
		},
		{
			desc:       "unknown name",
			name:       "acme/missing",
			constraint: "*",
			stability:  semver.StabilityStable,
		},
	} {
		t.Run(tc.desc, func(t *testing.T) {
			t.Parallel()
			c := semver.MustParseConstraint(tc.constraint).WithDefaultStability(tc.stability)
			got := candStrings(slices.Collect(pool.Satisfiers(tc.name, c)))
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Errorf("satisfiers differ from expected (-want, +got):\n%s", diff)
			}
		})
	}
}

func TestPool_Lookup(t *testing.T) {
	t.Parallel()
	repo := fr.NewTestFakeRepo(t).AddAll(
		[]fr.Option{fr.Id("acme/a@1.0.0")},
		[]fr.Option{fr.Id("acme/a@3.0.0")},
		[]fr.Option{fr.Id("acme/b@1.0.0")},
		[]fr.Option{fr.Id("acme/a@2.0.0")},
	)
	pool := repo.Pool()
	if diff := cmp.Diff([]string{"acme/a 3.0.0", "acme/a 2.0.0", "acme/a 1.0.0"}, candStrings(pool.Lookup("acme/a"))); diff != "" {
		t.Errorf("Lookup() differs from expected (-want, +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"acme/a", "acme/b"}, pool.Names()); diff != "" {
		t.Errorf("Names() differs from expected (-want, +got):\n%s", diff)
	}
	if got, want := pool.Len(), 4; got != want {
		t.Errorf("Len() = %v, want %v", got, want)
	}
	c := repo.Candidate("acme/b@1.0.0")
	if got, want := pool.Id(c), 3; got != want {
		t.Errorf("Id(%v) = %v, want %v", c, got, want)
	}
	if got := pool.ById(3); got != c {
		t.Errorf("ById(3) = %v, want %v", got, c)
	}
	id, err := ParsePackageId("acme/a@2.0")
	if err != nil {
		t.Fatal(err)
	}
	if got, ok := pool.Candidate(id); !ok || got.PrettyVersion != "2.0.0" {
		t.Errorf("Candidate(%v) = %v, %v; want acme/a 2.0.0", id, got, ok)
	}
}

func TestNewPool_Aliases(t *testing.T) {
	t.Parallel()
	for _, tc := range []struct {
		desc   string
		cands  [][]fr.Option
		inline string
		want   []string
	}{
		{
			desc: "branch alias",
			cands: [][]fr.Option{
				{fr.Id("acme/a@dev-main"), fr.BranchAlias("dev-main", "1.x-dev")},
				{fr.Id("acme/a@1.0.0")},
			},
			want: []string{"acme/a 1.x-dev (alias of dev-main)", "acme/a 1.0.0", "acme/a dev-main"},
		},
		{
			desc: "inline alias",
			cands: [][]fr.Option{
				{fr.Id("acme/a@dev-feature")},
				{fr.Id("acme/a@1.0.0")},
			},
			inline: "dev-feature as 1.2.0",
			want:   []string{"acme/a 1.2.0 (alias of dev-feature)", "acme/a 1.0.0", "acme/a dev-feature"},
		},
		{
			desc: "alias of a taken version is dropped",
			cands: [][]fr.Option{
				{fr.Id("acme/a@dev-main"), fr.BranchAlias("dev-main", "1.x-dev")},
				{fr.Id("acme/a@1.x-dev")},
			},
			want: []string{"acme/a 1.x-dev", "acme/a dev-main"},
		},
		{
			desc: "branch alias of another branch is ignored",
			cands: [][]fr.Option{
				{fr.Id("acme/a@dev-main"), fr.BranchAlias("dev-other", "1.x-dev")},
			},
			want: []string{"acme/a dev-main"},
		},
		{
			desc: "branch alias to a stable version is ignored",
			cands: [][]fr.Option{
				{fr.Id("acme/a@dev-main"), fr.BranchAlias("dev-main", "1.0.0")},
			},
			want: []string{"acme/a dev-main"},
		},
		{
			desc:   "inline alias of a missing version is ignored",
			cands:  [][]fr.Option{{fr.Id("acme/a@1.0.0")}},
			inline: "dev-main as 1.0.x-dev",
			want:   []string{"acme/a 1.0.0"},
		},
	} {
		t.Run(tc.desc, func(t *testing.T) {
			t.Parallel()
			req := NewRequest()
			if tc.inline != "" {
				if err := req.Require("acme/a", tc.inline); err != nil {
					t.Fatal(err)
				}
			}
			pool, err := NewPool(fr.NewTestFakeRepo(t).AddAll(tc.cands...).Candidates(), req.Aliases...)
			if err != nil {
				t.Fatal(err)
			}
			if diff := cmp.Diff(tc.want, candStrings(pool.Lookup("acme/a"))); diff != "" {
				t.Errorf("Lookup() differs from expected (-want, +got):\n%s", diff)
			}
			for _, c := range pool.Lookup("acme/a") {
				if c.IsAlias() && pool.Id(c.AliasOf) == 0 {
					t.Errorf("%v is an alias of a candidate outside the pool", c)
				}
			}
		})
	}
}

func TestNewPool_Errors(t *testing.T) {
	t.Parallel()
	for _, tc := range []struct {
		desc      string
		cands     [][]fr.Option
		wantErr   error
		wantCycle []string
	}{
		{
			desc: "duplicate version",
			cands: [][]fr.Option{
				{fr.Id("acme/a@1.0")},
				{fr.Id("acme/a@1.0.0")},
			},
			wantErr: ErrDuplicateCandidate,
		},
		{
			desc: "duplicate pre-release with a leading zero",
			cands: [][]fr.Option{
				{fr.Id("acme/a@1.0-beta1")},
				{fr.Id("acme/a@1.0-beta01")},
			},
			wantErr: ErrDuplicateCandidate,
		},
		{
			desc: "provide cycle",
			cands: [][]fr.Option{
				{fr.Id("acme/a@1.0.0"), fr.Provide("acme/b", "1.0.0")},
				{fr.Id("acme/b@1.0.0"), fr.Replace("acme/a", "1.0.0")},
			},
			wantErr:   ErrProvideCycle,
			wantCycle: []string{"acme/a", "acme/b", "acme/a"},
		},
		{
			desc: "self provide is ignored",
			cands: [][]fr.Option{
				{fr.Id("acme/a@1.0.0"), fr.Provide("acme/a", "1.0.0")},
			},
		},
	} {
		t.Run(tc.desc, func(t *testing.T) {
			t.Parallel()
			repo := fr.NewTestFakeRepo(t).AddAll(tc.cands...)
			_, err := NewPool(repo.Candidates())
			if !errors.Is(err, tc.wantErr) || (err == nil) != (tc.wantErr == nil) {
				t.Fatalf("got error %v, want %v", err, tc.wantErr)
			}
			if tc.wantCycle == nil {
				return
			}
			var be *BuildError
			if !errors.As(err, &be) {
				t.Fatalf("error %v is not a *BuildError", err)
			}
			if diff := cmp.Diff(tc.wantCycle, be.Cycle); diff != "" {
				t.Errorf("cycle differs from expected (-want, +got):\n%s", diff)
			}
		})
	}
}
