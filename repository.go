package composersat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/rhansen/composersat/internal/jsonobj"
)

// ErrRepositoryUnavailable is wrapped by [RepositoryError].
var ErrRepositoryUnavailable = errors.New("repository unavailable")

// A Repository supplies candidates by package name.
//
// FetchCandidates must return every candidate named name and should also return the candidates
// that provide or replace name.  An empty result means that the repository does not know the name.
// Failures to reach the repository's backing store must be reported as errors, never as an empty
// result.  Results must be deterministic for a given name.
type Repository interface {
	FetchCandidates(ctx context.Context, name string) ([]*Candidate, error)
}

// RepositoryError reports a failed [Repository.FetchCandidates] call.
type RepositoryError struct {
	// Repository describes the failing repository.
	Repository string
	Package    string
	Err        error
}

func (e *RepositoryError) Error() string {
	return fmt.Sprintf("%v: %v: fetching %v: %v", ErrRepositoryUnavailable, e.Repository, e.Package, e.Err)
}

func (e *RepositoryError) Unwrap() []error { return []error{ErrRepositoryUnavailable, e.Err} }

// StaticRepository is an in-memory [Repository].
type StaticRepository struct {
	name       string
	candidates []*Candidate
}

var _ Repository = (*StaticRepository)(nil)

// NewStaticRepository returns a [StaticRepository] holding cands.  The name is used in error
// messages and logs.
func NewStaticRepository(name string, cands ...*Candidate) *StaticRepository {
	return &StaticRepository{name: name, candidates: slices.Clone(cands)}
}

func (r *StaticRepository) String() string { return r.name }

// Candidates returns every candidate in the repository in insertion order.
func (r *StaticRepository) Candidates() []*Candidate { return slices.Clone(r.candidates) }

func (r *StaticRepository) FetchCandidates(ctx context.Context, name string) ([]*Candidate, error) {
	if err := context.Cause(ctx); err != nil {
		return nil, err
	}
	name = strings.ToLower(name)
	var own, others []*Candidate
	for _, c := range r.candidates {
		switch {
		case c.Name == name:
			own = append(own, c)
		case slices.ContainsFunc(slices.Collect(c.ProvideLinks()), func(l Link) bool { return l.Target == name }):
			others = append(others, c)
		}
	}
	return append(own, others...), nil
}

// ReadPackagesJSON decodes a Composer repository document ("packages.json").  The "packages"
// member maps each package name either to an object keyed by version or to an array of version
// objects.  Candidates are returned in document order.
func ReadPackagesJSON(r io.Reader) ([]*Candidate, error) {
	var doc jsonobj.Object
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode packages.json: %w", err)
	}
	var pkgs jsonobj.Object
	if ok, err := jsonobj.Decode(doc, "packages", &pkgs); err != nil {
		return nil, fmt.Errorf("packages.json: %w", err)
	} else if !ok {
		return nil, errors.New("packages.json: missing \"packages\" member")
	}
	var ret []*Candidate
	for name, raw := range pkgs.All() {
		var versions []jsonobj.Object
		if err := json.Unmarshal(raw, &versions); err != nil {
			var byVersion jsonobj.Object
			if err2 := json.Unmarshal(raw, &byVersion); err2 != nil {
				return nil, fmt.Errorf("packages.json: package %v: %w", name, err)
			}
			for _, vraw := range byVersion.All() {
				var o jsonobj.Object
				if err := json.Unmarshal(vraw, &o); err != nil {
					return nil, fmt.Errorf("packages.json: package %v: %w", name, err)
				}
				versions = append(versions, o)
			}
		}
		for _, o := range versions {
			if !o.Has("name") {
				if err := o.SetValue("name", name); err != nil {
					return nil, err
				}
			}
			c, err := CandidateFromObject(o)
			if err != nil {
				return nil, fmt.Errorf("packages.json: %w", err)
			}
			ret = append(ret, c)
		}
	}
	return ret, nil
}
