package composersat_test

import (
	"errors"
	"slices"
	"testing"

	"github.com/google/go-cmp/cmp"
	. "github.com/rhansen/composersat"
	fr "github.com/rhansen/composersat/internal/test/fakerepo"
)

func TestPoolLoader_Load(t *testing.T) {
	t.Parallel()
	primary := fr.NewFakeRepo("primary")
	if err := primary.AddAll(
		[]fr.Option{fr.Id("acme/app@1.0.0"), fr.Require("acme/lib", "^1.0"), fr.RequireDev("acme/devtool", "*")},
		[]fr.Option{fr.Id("acme/lib@1.0.0"), fr.Require("psr/log-implementation", "^1.0")},
		[]fr.Option{fr.Id("acme/lib@1.1.0"), fr.Require("psr/log-implementation", "^1.0")},
		[]fr.Option{fr.Id("acme/devtool@1.0.0")},
		[]fr.Option{fr.Id("vendor/log@1.0.0"), fr.Provide("psr/log-implementation", "1.0.0")},
		[]fr.Option{fr.Id("acme/unrelated@1.0.0")},
	); err != nil {
		t.Fatal(err)
	}
	secondary := fr.NewFakeRepo("secondary")
	if err := secondary.AddAll(
		[]fr.Option{fr.Id("acme/lib@9.0.0")},
		[]fr.Option{fr.Id("acme/extra@1.0.0")},
	); err != nil {
		t.Fatal(err)
	}
	req := newRequest(t, tReq{"acme/app", "*"}, tReq{"acme/extra", "*"})
	loader := NewPoolLoader(primary, secondary)
	pool, err := loader.Load(t.Context(), req)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{
		"acme/app 1.0.0",
		"acme/extra 1.0.0",
		"acme/lib 1.0.0",
		"acme/lib 1.1.0",
		"vendor/log 1.0.0",
	}
	if diff := cmp.Diff(want, candStrings(slices.Collect(pool.All()))); diff != "" {
		t.Errorf("pool differs from expected (-want, +got):\n%s", diff)
	}
	for _, name := range []string{"acme/app", "acme/lib", "psr/log-implementation", "acme/extra"} {
		if got := primary.Fetches(name); got != 1 {
			t.Errorf("primary fetched %v %v times, want 1", name, got)
		}
	}
	for _, name := range []string{"acme/devtool", "acme/unrelated", "vendor/log"} {
		if got := primary.Fetches(name); got != 0 {
			t.Errorf("primary fetched %v %v times, want 0", name, got)
		}
	}
	if got := secondary.Fetches("acme/lib"); got != 0 {
		t.Errorf("secondary fetched acme/lib %v times, want 0", got)
	}
	if got := secondary.Fetches("acme/extra"); got != 1 {
		t.Errorf("secondary fetched acme/extra %v times, want 1", got)
	}

	var gotBy []string
	for _, l := range loader.RequiredBy("psr/log-implementation") {
		gotBy = append(gotBy, l.Source+" "+l.PrettyConstraint)
	}
	if diff := cmp.Diff([]string{"acme/lib ^1.0"}, gotBy); diff != "" {
		t.Errorf("RequiredBy() differs from expected (-want, +got):\n%s", diff)
	}

	ds, err := Solve(t.Context(), pool, req)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"acme/app@1.0.0", "acme/extra@1.0.0", "acme/lib@1.1.0", "vendor/log@1.0.0"}, idStrings(ds)); diff != "" {
		t.Errorf("decision set differs from expected (-want, +got):\n%s", diff)
	}
}

func TestPoolLoader_Failure(t *testing.T) {
	t.Parallel()
	repo := fr.NewFakeRepo("flaky")
	if err := repo.AddAll(
		[]fr.Option{fr.Id("acme/app@1.0.0"), fr.Require("acme/lib", "^1.0")},
		[]fr.Option{fr.Id("acme/lib@1.0.0")},
	); err != nil {
		t.Fatal(err)
	}
	repo.Fail("acme/lib", testErr)
	req := newRequest(t, tReq{"acme/app", "*"})
	_, err := LoadPool(t.Context(), req, repo)
	if !errors.Is(err, ErrRepositoryUnavailable) || !errors.Is(err, testErr) {
		t.Fatalf("got error %v, want %v wrapping %v", err, ErrRepositoryUnavailable, testErr)
	}
	var re *RepositoryError
	if !errors.As(err, &re) || re.Package != "acme/lib" || re.Repository != "flaky" {
		t.Errorf("got error %#v, want a *RepositoryError for acme/lib from flaky", err)
	}

	repo.Fail("acme/lib", nil)
	if _, err := LoadPool(t.Context(), req, repo); err != nil {
		t.Errorf("LoadPool() after recovery = %v", err)
	}
}

type testError struct{}

func (testError) Error() string { return "testError" }

var testErr error = testError{}
