// Package scenario loads solver scenarios from YAML files.  A scenario lists the candidates of a
// repository, the platform packages, a request, an optional prior decision set, and the expected
// outcome.  Scenarios drive table tests and the command's scenario runner.
package scenario

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/rhansen/composersat"
	"github.com/rhansen/composersat/internal/itertools"
	"github.com/rhansen/composersat/platform"
	"github.com/rhansen/composersat/semver"
	"gopkg.in/yaml.v3"
)

// A Link is one entry of a link map such as "require".
type Link struct {
	Name       string
	Constraint string
}

// Links is a YAML mapping from package name to constraint that keeps the document order.  Order
// matters for root requirements because the solver decides them in declaration order.
type Links []Link

func (ls *Links) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: expected a mapping of package names to constraints", n.Line)
	}
	*ls = nil
	for i := 0; i+1 < len(n.Content); i += 2 {
		var l Link
		if err := n.Content[i].Decode(&l.Name); err != nil {
			return err
		}
		if err := n.Content[i+1].Decode(&l.Constraint); err != nil {
			return err
		}
		*ls = append(*ls, l)
	}
	return nil
}

// Package describes one candidate.
type Package struct {
	Name       string `yaml:"name"`
	Version    string `yaml:"version"`
	Require    Links  `yaml:"require"`
	RequireDev Links  `yaml:"require-dev"`
	Conflict   Links  `yaml:"conflict"`
	Provide    Links  `yaml:"provide"`
	Replace    Links  `yaml:"replace"`
	// BranchAlias becomes the candidate's "extra.branch-alias" metadata.
	BranchAlias map[string]string `yaml:"branch-alias"`
}

// Candidate converts p to a [composersat.Candidate].
func (p Package) Candidate() (*composersat.Candidate, error) {
	c, err := composersat.NewCandidate(p.Name, p.Version)
	if err != nil {
		return nil, err
	}
	for _, kl := range []struct {
		kind  composersat.LinkKind
		links Links
	}{
		{composersat.LinkRequire, p.Require},
		{composersat.LinkRequireDev, p.RequireDev},
		{composersat.LinkConflict, p.Conflict},
		{composersat.LinkProvide, p.Provide},
		{composersat.LinkReplace, p.Replace},
	} {
		for _, l := range kl.links {
			if err := c.AddLink(kl.kind, l.Name, l.Constraint); err != nil {
				return nil, err
			}
		}
	}
	if len(p.BranchAlias) > 0 {
		if err := c.Metadata.SetValue("extra", map[string]any{"branch-alias": p.BranchAlias}); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Request describes the root of the solve.
type Request struct {
	Require    Links    `yaml:"require"`
	RequireDev Links    `yaml:"require-dev"`
	Conflict   Links    `yaml:"conflict"`
	Fixed      []string `yaml:"fixed"`
	// MinimumStability defaults to "stable".
	MinimumStability string `yaml:"minimum-stability"`
	// PreferStable defaults to true.
	PreferStable *bool `yaml:"prefer-stable"`
	PreferLowest bool  `yaml:"prefer-lowest"`
	// Policy lists preference names (see [composersat.ParsePreference]).  Empty means
	// [composersat.DefaultPolicyOrder].
	Policy []string `yaml:"policy"`
	NoDev  bool     `yaml:"no-dev"`
}

// Expect is the expected outcome.  Exactly one of Installed and Problem should be set.
type Expect struct {
	// Installed lists the "name@version" ids of the decision set, sorted by name.
	Installed []string `yaml:"installed"`
	// Problem lists the lines of the unsatisfiability explanation.
	Problem []string `yaml:"problem"`
	// Operations lists the transaction from the locked decision set, if checked.
	Operations []string `yaml:"operations"`
}

// A Scenario is one solver test case.
type Scenario struct {
	// Name is the file name without its extension.
	Name        string            `yaml:"-"`
	Description string            `yaml:"description"`
	Packages    []Package         `yaml:"packages"`
	Platform    map[string]string `yaml:"platform"`
	Request     Request           `yaml:"request"`
	// Locked lists the "name@version" ids of the prior decision set.
	Locked []string `yaml:"locked"`
	// Update is the update allow list.  It only has an effect together with Locked.
	Update []string `yaml:"update"`
	Expect Expect   `yaml:"expect"`
}

// Parse decodes a scenario.  Unknown keys are rejected.
func Parse(name string, data []byte) (*Scenario, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	s := &Scenario{Name: name}
	if err := dec.Decode(s); err != nil {
		return nil, fmt.Errorf("scenario %v: %w", name, err)
	}
	return s, nil
}

// Load reads and parses the scenario file at path.
func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)), data)
}

// LoadDir loads every *.yaml file in dir, sorted by file name.
func LoadDir(dir string) ([]*Scenario, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil {
		return nil, err
	}
	slices.Sort(paths)
	var ret []*Scenario
	for _, p := range paths {
		s, err := Load(p)
		if err != nil {
			return nil, err
		}
		ret = append(ret, s)
	}
	return ret, nil
}

// Candidates returns the scenario's packages in document order followed by its platform packages
// sorted by name.
func (s *Scenario) Candidates() ([]*composersat.Candidate, error) {
	var ret []*composersat.Candidate
	for _, p := range s.Packages {
		c, err := p.Candidate()
		if err != nil {
			return nil, fmt.Errorf("scenario %v: %w", s.Name, err)
		}
		ret = append(ret, c)
	}
	pcs, err := platform.Candidates(s.Platform)
	if err != nil {
		return nil, fmt.Errorf("scenario %v: %w", s.Name, err)
	}
	return append(ret, pcs...), nil
}

// NewRequest builds the scenario's [composersat.Request].
func (s *Scenario) NewRequest() (*composersat.Request, error) {
	req := composersat.NewRequest()
	if ms := s.Request.MinimumStability; ms != "" {
		stab, err := semver.ParseStability(ms)
		if err != nil {
			return nil, fmt.Errorf("scenario %v: %w", s.Name, err)
		}
		req.MinimumStability = stab
	}
	for _, l := range s.Request.Require {
		if err := req.Require(l.Name, l.Constraint); err != nil {
			return nil, fmt.Errorf("scenario %v: %w", s.Name, err)
		}
	}
	for _, l := range s.Request.RequireDev {
		if err := req.RequireDev(l.Name, l.Constraint); err != nil {
			return nil, fmt.Errorf("scenario %v: %w", s.Name, err)
		}
	}
	for _, l := range s.Request.Conflict {
		if err := req.Conflict(l.Name, l.Constraint); err != nil {
			return nil, fmt.Errorf("scenario %v: %w", s.Name, err)
		}
	}
	for _, f := range s.Request.Fixed {
		id, err := composersat.ParsePackageId(f)
		if err != nil {
			return nil, fmt.Errorf("scenario %v: %w", s.Name, err)
		}
		req.Fix(id)
	}
	if s.Request.NoDev {
		req = req.WithoutDev()
	}
	return req, nil
}

// Policy returns the scenario's [composersat.Policy].
func (s *Scenario) Policy() (composersat.Policy, error) {
	p := composersat.DefaultPolicy()
	if s.Request.PreferStable != nil {
		p.PreferStable = *s.Request.PreferStable
	}
	p.PreferLowest = s.Request.PreferLowest
	if len(s.Request.Policy) > 0 {
		p.Order = nil
		for _, name := range s.Request.Policy {
			pref, err := composersat.ParsePreference(name)
			if err != nil {
				return composersat.Policy{}, fmt.Errorf("scenario %v: %w", s.Name, err)
			}
			p.Order = append(p.Order, pref)
		}
	}
	return p, nil
}

// An Outcome is the result of [Scenario.Run].
type Outcome struct {
	Pool    *composersat.Pool
	Request *composersat.Request
	// Locked is the prior decision set, or nil.
	Locked *composersat.DecisionSet
	// Decisions is nil if the solve failed.
	Decisions *composersat.DecisionSet
	// Err is the solve error, if any.
	Err error
}

// Problem returns the unsatisfiability explanation, or nil if the solve did not fail that way.
func (o *Outcome) Problem() *composersat.Problem {
	var ue *composersat.UnsatisfiableError
	if errors.As(o.Err, &ue) {
		return ue.Problem
	}
	return nil
}

// Run builds the scenario's pool and request and solves.  Errors in the scenario itself are
// returned; solve failures are reported in [Outcome.Err].
func (s *Scenario) Run(ctx context.Context) (*Outcome, error) {
	cands, err := s.Candidates()
	if err != nil {
		return nil, err
	}
	req, err := s.NewRequest()
	if err != nil {
		return nil, err
	}
	pool, err := composersat.NewPool(cands, req.Aliases...)
	if err != nil {
		return nil, fmt.Errorf("scenario %v: %w", s.Name, err)
	}
	policy, err := s.Policy()
	if err != nil {
		return nil, err
	}
	o := &Outcome{Pool: pool, Request: req}
	opts := []composersat.SolveOption{composersat.WithPolicy(policy)}
	if len(s.Locked) > 0 {
		var locked []*composersat.Candidate
		for _, l := range s.Locked {
			id, err := composersat.ParsePackageId(l)
			if err != nil {
				return nil, fmt.Errorf("scenario %v: %w", s.Name, err)
			}
			c, ok := pool.Candidate(id)
			if !ok {
				return nil, fmt.Errorf("scenario %v: locked package %v is not in the pool", s.Name, id)
			}
			locked = append(locked, c)
		}
		if o.Locked, err = composersat.NewDecisionSet(locked...); err != nil {
			return nil, fmt.Errorf("scenario %v: %w", s.Name, err)
		}
		opts = append(opts, composersat.WithLocked(o.Locked))
		if len(s.Update) > 0 {
			opts = append(opts, composersat.WithUpdateAllowList(s.Update...))
		}
	}
	o.Decisions, o.Err = composersat.Solve(ctx, pool, req, opts...)
	return o, nil
}

// Check compares o against the scenario's expectations.  Successful solves are also checked with
// [composersat.Verify].
func (s *Scenario) Check(o *Outcome) error {
	var errs []error
	exp := s.Expect
	switch {
	case o.Err != nil && o.Problem() == nil:
		errs = append(errs, fmt.Errorf("solve failed: %w", o.Err))
	case o.Err != nil && exp.Problem == nil:
		errs = append(errs, fmt.Errorf("got unexpected failure:\n%v", o.Problem()))
	case o.Err != nil:
		if diff := cmp.Diff(exp.Problem, o.Problem().Lines()); diff != "" {
			errs = append(errs, fmt.Errorf("problem differs from expected (-want, +got):\n%s", diff))
		}
	case exp.Problem != nil:
		errs = append(errs, fmt.Errorf("got decision set %v, want failure", o.Decisions))
	default:
		got := slices.Collect(itertools.Stringify(slices.Values(o.Decisions.Ids())))
		if diff := cmp.Diff(exp.Installed, got, cmpopts.EquateEmpty()); diff != "" {
			errs = append(errs, fmt.Errorf("decision set differs from expected (-want, +got):\n%s", diff))
		}
		if err := composersat.Verify(o.Pool, o.Request, o.Decisions); err != nil {
			errs = append(errs, err)
		}
		if exp.Operations != nil {
			var got []string
			for _, op := range composersat.Diff(o.Locked, o.Decisions) {
				got = append(got, op.String())
			}
			if diff := cmp.Diff(exp.Operations, got, cmpopts.EquateEmpty()); diff != "" {
				errs = append(errs, fmt.Errorf("operations differ from expected (-want, +got):\n%s", diff))
			}
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("scenario %v: %w", s.Name, err)
	}
	return nil
}
