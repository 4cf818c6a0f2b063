// Package fakerepo makes it easy to create an in-memory package repository populated with fake
// candidates to facilitate testing.
package fakerepo

import (
	"context"
	"fmt"
	"os"
	"slices"
	"strings"
	"sync"
	"testing"

	cs "github.com/rhansen/composersat"
)

type config struct {
	name, version string
	links         []link
	metadata      []metadatum
}

type link struct {
	kind               cs.LinkKind
	target, constraint string
}

type metadatum struct {
	key   string
	value any
}

// An Option controls the creation of a fake candidate.
type Option func(*config) error

// Id returns an option that sets the fake candidate's name and version.  The given string has the
// form name@version, e.g., "vendor/foo@1.2.3".
func Id(nameVer string) Option {
	return func(cfg *config) error {
		name, ver, ok := strings.Cut(nameVer, "@")
		if !ok {
			return fmt.Errorf("candidate id %q has no version", nameVer)
		}
		cfg.name, cfg.version = name, ver
		return nil
	}
}

func linkOption(kind cs.LinkKind, target, constraint string) Option {
	return func(cfg *config) error {
		cfg.links = append(cfg.links, link{kind, target, constraint})
		return nil
	}
}

// Require returns an option that adds a require link, e.g., Require("vendor/bar", "^1.0").
func Require(target, constraint string) Option {
	return linkOption(cs.LinkRequire, target, constraint)
}

// RequireDev returns an option that adds a require-dev link.
func RequireDev(target, constraint string) Option {
	return linkOption(cs.LinkRequireDev, target, constraint)
}

// Conflict returns an option that adds a conflict link.
func Conflict(target, constraint string) Option {
	return linkOption(cs.LinkConflict, target, constraint)
}

// Provide returns an option that adds a provide link.
func Provide(target, constraint string) Option {
	return linkOption(cs.LinkProvide, target, constraint)
}

// Replace returns an option that adds a replace link.
func Replace(target, constraint string) Option {
	return linkOption(cs.LinkReplace, target, constraint)
}

// Metadata returns an option that sets an opaque member of the candidate's JSON description (e.g.,
// "dist").  value is encoded with encoding/json.
func Metadata(key string, value any) Option {
	return func(cfg *config) error {
		cfg.metadata = append(cfg.metadata, metadatum{key, value})
		return nil
	}
}

// BranchAlias returns an option that declares a branch alias in the candidate's "extra" member.
func BranchAlias(branch, alias string) Option {
	return Metadata("extra", map[string]any{"branch-alias": map[string]string{branch: alias}})
}

// New creates a fake candidate.  Id is required.
func New(opts ...Option) (*cs.Candidate, error) {
	cfg := &config{}
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}
	if cfg.name == "" {
		return nil, fmt.Errorf("fake candidate has no name")
	}
	c, err := cs.NewCandidate(cfg.name, cfg.version)
	if err != nil {
		return nil, err
	}
	for _, l := range cfg.links {
		if err := c.AddLink(l.kind, l.target, l.constraint); err != nil {
			return nil, err
		}
	}
	for _, m := range cfg.metadata {
		if err := c.Metadata.SetValue(m.key, m.value); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// A FakeRepo is an in-memory [cs.Repository] that records how often each name is fetched and can
// be told to fail.  It is safe for concurrent use.
type FakeRepo struct {
	name string

	mu       sync.Mutex
	cands    []*cs.Candidate
	failures map[string]error
	fetches  map[string]int
}

var _ cs.Repository = (*FakeRepo)(nil)

// NewFakeRepo returns an empty [FakeRepo].  The name shows up in errors.
func NewFakeRepo(name string) *FakeRepo {
	return &FakeRepo{name: name, failures: map[string]error{}, fetches: map[string]int{}}
}

func (r *FakeRepo) String() string { return r.name }

// Add creates a fake candidate (see [New]) and adds it to the repository.
func (r *FakeRepo) Add(opts ...Option) error {
	c, err := New(opts...)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cands = append(r.cands, c)
	return nil
}

// AddAll is a convenience method to make it easier to add many candidates at a time.
func (r *FakeRepo) AddAll(optss ...[]Option) error {
	for _, opts := range optss {
		if err := r.Add(opts...); err != nil {
			return err
		}
	}
	return nil
}

// AddFromFile adds every candidate in a Composer packages.json document.
func (r *FakeRepo) AddFromFile(fn string) (retErr error) {
	f, err := os.Open(fn)
	if err != nil {
		return err
	}
	defer func() {
		if err := f.Close(); retErr == nil {
			retErr = err
		}
	}()
	cands, err := cs.ReadPackagesJSON(f)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cands = append(r.cands, cands...)
	return nil
}

// Fail makes every later fetch of name fail with err.  A nil err clears the failure.
func (r *FakeRepo) Fail(name string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err == nil {
		delete(r.failures, name)
		return
	}
	r.failures[name] = err
}

// Fetches returns the number of times name has been fetched.
func (r *FakeRepo) Fetches(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fetches[name]
}

// Candidates returns every candidate in insertion order.
func (r *FakeRepo) Candidates() []*cs.Candidate {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.cands)
}

func (r *FakeRepo) FetchCandidates(ctx context.Context, name string) ([]*cs.Candidate, error) {
	if err := context.Cause(ctx); err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.fetches[name]++
	err := r.failures[name]
	static := cs.NewStaticRepository(r.name, r.cands...)
	r.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return static.FetchCandidates(ctx, name)
}

// Pool builds a [cs.Pool] from every candidate in insertion order.
func (r *FakeRepo) Pool() (*cs.Pool, error) {
	return cs.NewPool(r.Candidates())
}

// A TestFakeRepo is like [FakeRepo] but with a more ergonomic interface meant for unit tests.
type TestFakeRepo struct {
	*FakeRepo
	t *testing.T
}

func NewTestFakeRepo(t *testing.T) *TestFakeRepo {
	t.Helper()
	return &TestFakeRepo{FakeRepo: NewFakeRepo(t.Name()), t: t}
}

func (r *TestFakeRepo) Add(opts ...Option) *TestFakeRepo {
	r.t.Helper()
	if err := r.FakeRepo.Add(opts...); err != nil {
		r.t.Fatal(err)
	}
	return r
}

func (r *TestFakeRepo) AddAll(optss ...[]Option) *TestFakeRepo {
	r.t.Helper()
	if err := r.FakeRepo.AddAll(optss...); err != nil {
		r.t.Fatal(err)
	}
	return r
}

func (r *TestFakeRepo) AddFromFile(fn string) *TestFakeRepo {
	r.t.Helper()
	if err := r.FakeRepo.AddFromFile(fn); err != nil {
		r.t.Fatal(err)
	}
	return r
}

func (r *TestFakeRepo) Pool() *cs.Pool {
	r.t.Helper()
	p, err := r.FakeRepo.Pool()
	if err != nil {
		r.t.Fatal(err)
	}
	return p
}

// Candidate returns the candidate with the given "name@version" id.
func (r *TestFakeRepo) Candidate(nameVer string) *cs.Candidate {
	r.t.Helper()
	id, err := cs.ParsePackageId(nameVer)
	if err != nil {
		r.t.Fatal(err)
	}
	for _, c := range r.Candidates() {
		if c.Id().Key() == id.Key() {
			return c
		}
	}
	r.t.Fatalf("no candidate %v", nameVer)
	return nil
}
