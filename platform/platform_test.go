package platform_test

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/rhansen/composersat"
	"github.com/rhansen/composersat/platform"
)

func TestIsPlatform(t *testing.T) {
	t.Parallel()
	for name, want := range map[string]bool{
		"php":                  true,
		"PHP-64bit":            true,
		"ext-json":             true,
		"lib-icu":              true,
		"composer-runtime-api": true,
		"hhvm":                 true,
		"monolog/monolog":      false,
		"phpunit/phpunit":      false,
		"php-foo":              false,
		"extension":            false,
	} {
		if got := platform.IsPlatform(name); got != want {
			t.Errorf("IsPlatform(%q) = %v, want %v", name, got, want)
		}
	}
}

func TestApply(t *testing.T) {
	t.Parallel()
	got := platform.Apply(
		map[string]string{"php": "8.3.1", "ext-json": "8.3.1", "ext-xdebug": "3.3.0"},
		map[string]string{"PHP": "8.1.0", "ext-xdebug": platform.Disabled, "ext-mongodb": "1.17.0"})
	want := map[string]string{"php": "8.1.0", "ext-json": "8.3.1", "ext-mongodb": "1.17.0"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Apply() differs from expected (-want, +got):\n%s", diff)
	}
}

func TestCandidates(t *testing.T) {
	t.Parallel()
	cands, err := platform.Candidates(map[string]string{"php": "8.2.0", "ext-json": "8.2.0", "composer": "2.8.0"})
	if err != nil {
		t.Fatal(err)
	}
	var got []string
	for _, c := range cands {
		got = append(got, c.String())
		if !c.Metadata.Has("type") {
			t.Errorf("%v has no type", c)
		}
	}
	if diff := cmp.Diff([]string{"composer 2.8.0", "ext-json 8.2.0", "php 8.2.0"}, got); diff != "" {
		t.Errorf("Candidates() differs from expected (-want, +got):\n%s", diff)
	}
	if _, err := platform.Candidates(map[string]string{"acme/lib": "1.0.0"}); err == nil {
		t.Errorf("Candidates() accepted a non-platform name")
	}
	if _, err := platform.Candidates(map[string]string{"php": "not a version"}); err == nil {
		t.Errorf("Candidates() accepted a bad version")
	}
}

func TestRepository_Solve(t *testing.T) {
	t.Parallel()
	prepo, err := platform.NewRepository(map[string]string{"php": "8.1.12", "ext-json": "8.1.12"})
	if err != nil {
		t.Fatal(err)
	}
	lib2, err := composersat.CandidateFromJSON([]byte(`{"name":"acme/lib","version":"2.0.0","require":{"php":">=8.2"}}`))
	if err != nil {
		t.Fatal(err)
	}
	lib1, err := composersat.CandidateFromJSON([]byte(`{"name":"acme/lib","version":"1.0.0","require":{"php":">=7.4","ext-json":"*"}}`))
	if err != nil {
		t.Fatal(err)
	}
	repo := composersat.NewStaticRepository("test", lib2, lib1)
	req := composersat.NewRequest()
	if err := req.Require("acme/lib", "*"); err != nil {
		t.Fatal(err)
	}
	pool, err := composersat.LoadPool(t.Context(), req, repo, prepo)
	if err != nil {
		t.Fatal(err)
	}
	ds, err := composersat.Solve(t.Context(), pool, req)
	if err != nil {
		t.Fatal(err)
	}
	got := slices.Collect(func(yield func(string) bool) {
		for _, id := range ds.Ids() {
			if !yield(id.String()) {
				return
			}
		}
	})
	if diff := cmp.Diff([]string{"acme/lib@1.0.0", "ext-json@8.1.12", "php@8.1.12"}, got); diff != "" {
		t.Errorf("decision set differs from expected (-want, +got):\n%s", diff)
	}
}

func writeFakePHP(t *testing.T, output string, exitCode int) string {
	t.Helper()
	fn := filepath.Join(t.TempDir(), "php")
	script := "#!/bin/sh\ncat <<'EOF'\n" + output + "\nEOF\n"
	if exitCode != 0 {
		script += "echo 'PHP Fatal error: boom' >&2\n"
	}
	script += "exit " + strconv.Itoa(exitCode) + "\n"
	if err := os.WriteFile(fn, []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}
	return fn
}

// The Detect tests are not parallel: executing a freshly written file races with concurrent forks
// (ETXTBSY).
func TestDetect(t *testing.T) {
	php := writeFakePHP(t, strings.Join([]string{
		`{"name":"php","version":"8.2.7-1ubuntu2"}`,
		`{"name":"php-64bit","version":"8.2.7"}`,
		`{"name":"ext-json","version":"8.2.7"}`,
		`{"name":"ext-weird","version":"unknown"}`,
		`{"name":"lib-icu","version":"72.1"}`,
		`{"name":"not/platform","version":"1.0"}`,
	}, "\n"), 0)
	got, err := platform.Detect(context.Background(), php)
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]string{
		"php":                  "8.2.7",
		"php-64bit":            "8.2.7",
		"ext-json":             "8.2.7",
		"ext-weird":            "0",
		"lib-icu":              "72.1",
		"composer":             platform.ComposerVersion,
		"composer-runtime-api": platform.RuntimeAPIVersion,
		"composer-plugin-api":  platform.PluginAPIVersion,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Detect() differs from expected (-want, +got):\n%s", diff)
	}
	if _, err := platform.Candidates(got); err != nil {
		t.Errorf("Candidates(Detect()) = %v", err)
	}
}

func TestDetect_Failure(t *testing.T) {
	php := writeFakePHP(t, "", 2)
	_, err := platform.Detect(t.Context(), php)
	if err == nil || !strings.Contains(err.Error(), "boom") {
		t.Errorf("Detect() = %v, want an error mentioning stderr", err)
	}
}
