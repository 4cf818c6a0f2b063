package scenario_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/rhansen/composersat"
	"github.com/rhansen/composersat/internal/scenario"
)

func TestScenarios(t *testing.T) {
	t.Parallel()
	scenarios, err := scenario.LoadDir("testdata")
	if err != nil {
		t.Fatal(err)
	}
	if len(scenarios) == 0 {
		t.Fatal("no scenarios in testdata")
	}
	for _, s := range scenarios {
		t.Run(s.Name, func(t *testing.T) {
			t.Parallel()
			o, err := s.Run(t.Context())
			if err != nil {
				t.Fatal(err)
			}
			if err := s.Check(o); err != nil {
				t.Error(err)
			}
		})
	}
}

func TestParse_KeepsRequirementOrder(t *testing.T) {
	t.Parallel()
	s, err := scenario.Parse("order", []byte(`
request:
  require:
    zz/last: "^1.0"
    aa/first: "~2.1"
    mm/middle: "*"
`))
	if err != nil {
		t.Fatal(err)
	}
	want := scenario.Links{{"zz/last", "^1.0"}, {"aa/first", "~2.1"}, {"mm/middle", "*"}}
	if diff := cmp.Diff(want, s.Request.Require); diff != "" {
		t.Errorf("requirements differ from expected (-want, +got):\n%s", diff)
	}
}

func TestParse_Errors(t *testing.T) {
	t.Parallel()
	for _, tc := range []struct {
		desc string
		in   string
	}{
		{desc: "unknown key", in: "packagez: []\n"},
		{desc: "links not a mapping", in: "request:\n  require: [acme/a]\n"},
		{desc: "not yaml", in: "packages: [\n"},
	} {
		t.Run(tc.desc, func(t *testing.T) {
			t.Parallel()
			if s, err := scenario.Parse(tc.desc, []byte(tc.in)); err == nil {
				t.Errorf("Parse(%q) = %+v, want error", tc.in, s)
			}
		})
	}
}

func TestRun_BadScenario(t *testing.T) {
	t.Parallel()
	for _, tc := range []struct {
		desc string
		in   string
		want string
	}{
		{
			desc: "bad version",
			in:   "packages:\n  - {name: acme/a, version: banana}\n",
			want: "acme/a",
		},
		{
			desc: "non-platform name in platform",
			in:   "platform: {acme/a: 1.0.0}\n",
			want: "not a platform package",
		},
		{
			desc: "locked package not in pool",
			in:   "packages:\n  - {name: acme/a, version: 1.0.0}\nlocked: [acme/a@2.0.0]\n",
			want: "not in the pool",
		},
		{
			desc: "unknown preference",
			in:   "request:\n  policy: [newest]\n",
			want: "unknown preference",
		},
	} {
		t.Run(tc.desc, func(t *testing.T) {
			t.Parallel()
			s, err := scenario.Parse(tc.desc, []byte(tc.in))
			if err != nil {
				t.Fatal(err)
			}
			if _, err := s.Run(t.Context()); err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Errorf("Run() = %v, want error containing %q", err, tc.want)
			}
		})
	}
}

func TestCheck_ReportsMismatch(t *testing.T) {
	t.Parallel()
	s, err := scenario.Parse("mismatch", []byte(`
packages:
  - {name: acme/a, version: 1.0.0}
request:
  require: {acme/a: "*"}
expect:
  problem: [something]
`))
	if err != nil {
		t.Fatal(err)
	}
	o, err := s.Run(t.Context())
	if err != nil {
		t.Fatal(err)
	}
	if o.Err != nil {
		t.Fatalf("solve failed: %v", o.Err)
	}
	if err := s.Check(o); err == nil || !strings.Contains(err.Error(), "want failure") {
		t.Errorf("Check() = %v, want a mismatch", err)
	}
}

func TestOutcome_Problem(t *testing.T) {
	t.Parallel()
	s, err := scenario.Parse("unsat", []byte(`
request:
  require: {acme/a: "^1.0"}
`))
	if err != nil {
		t.Fatal(err)
	}
	o, err := s.Run(t.Context())
	if err != nil {
		t.Fatal(err)
	}
	if !errors.Is(o.Err, composersat.ErrUnsatisfiable) {
		t.Fatalf("got error %v, want %v", o.Err, composersat.ErrUnsatisfiable)
	}
	want := []string{"root requires acme/a ^1.0 -> no matching package found"}
	if diff := cmp.Diff(want, o.Problem().Lines()); diff != "" {
		t.Errorf("problem differs from expected (-want, +got):\n%s", diff)
	}
}
