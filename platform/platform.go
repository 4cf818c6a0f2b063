// Package platform models the pseudo-packages that describe the environment a project runs in:
// the PHP interpreter ("php", "php-64bit"), its extensions ("ext-json"), system libraries
// ("lib-icu"), and the package manager's own APIs ("composer-runtime-api").  These are never
// downloaded; they are candidates with exactly one version each that the solver treats like any
// other package.
package platform

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"regexp"
	"slices"
	"strings"

	"github.com/rhansen/composersat"
	"github.com/rhansen/composersat/internal/command"
	"github.com/rhansen/composersat/semver"
)

// Versions of the package manager's virtual packages.
const (
	ComposerVersion   = "2.8.0"
	RuntimeAPIVersion = "2.2.2"
	PluginAPIVersion  = "2.6.0"
)

var exactNames = []string{
	"php", "php-64bit", "php-ipv6", "php-zts", "php-debug", "hhvm",
	"composer", "composer-runtime-api", "composer-plugin-api",
}

// IsPlatform reports whether name is a platform package name.
func IsPlatform(name string) bool {
	name = strings.ToLower(name)
	return slices.Contains(exactNames, name) ||
		strings.HasPrefix(name, "ext-") || strings.HasPrefix(name, "lib-")
}

// Disabled is the override value that removes a detected platform package.
const Disabled = "false"

// Apply returns detected with overrides applied.  An override replaces the detected version, adds
// a package that was not detected, or, if its value is [Disabled], removes the package.
func Apply(detected, overrides map[string]string) map[string]string {
	ret := make(map[string]string, len(detected)+len(overrides))
	for n, v := range detected {
		ret[strings.ToLower(n)] = v
	}
	for n, v := range overrides {
		n = strings.ToLower(n)
		if v == Disabled {
			delete(ret, n)
			continue
		}
		ret[n] = v
	}
	return ret
}

// Candidates returns one candidate per entry of versions, sorted by name.  Each candidate's
// metadata marks it as a platform package.
func Candidates(versions map[string]string) ([]*composersat.Candidate, error) {
	var ret []*composersat.Candidate
	for _, name := range slices.Sorted(maps.Keys(versions)) {
		if !IsPlatform(name) {
			return nil, fmt.Errorf("%v is not a platform package name", name)
		}
		c, err := composersat.NewCandidate(name, versions[name])
		if err != nil {
			return nil, fmt.Errorf("platform package %v: %w", name, err)
		}
		if err := c.Metadata.SetValue("type", "platform"); err != nil {
			return nil, err
		}
		ret = append(ret, c)
	}
	return ret, nil
}

// NewRepository returns a [composersat.Repository] holding the platform packages in versions.
func NewRepository(versions map[string]string) (*composersat.StaticRepository, error) {
	cands, err := Candidates(versions)
	if err != nil {
		return nil, err
	}
	return composersat.NewStaticRepository("platform", cands...), nil
}

// Defaults returns the package manager's own virtual packages.
func Defaults() map[string]string {
	return map[string]string{
		"composer":             ComposerVersion,
		"composer-runtime-api": RuntimeAPIVersion,
		"composer-plugin-api":  PluginAPIVersion,
	}
}

// detectScript prints one JSON object per platform package.
const detectScript = `
$out = function ($name, $version) {
    echo json_encode(array('name' => $name, 'version' => (string) $version)), "\n";
};
$out('php', PHP_VERSION);
if (PHP_INT_SIZE === 8) { $out('php-64bit', PHP_VERSION); }
if (defined('AF_INET6')) { $out('php-ipv6', PHP_VERSION); }
if (PHP_ZTS) { $out('php-zts', PHP_VERSION); }
if (PHP_DEBUG) { $out('php-debug', PHP_VERSION); }
foreach (get_loaded_extensions() as $ext) {
    $v = phpversion($ext);
    $out('ext-' . strtolower(str_replace(' ', '-', $ext)), $v === false ? '0' : $v);
}
if (defined('INTL_ICU_VERSION')) { $out('lib-icu', INTL_ICU_VERSION); }
if (defined('OPENSSL_VERSION_TEXT') && preg_match('{^OpenSSL ([\d.]+)}', OPENSSL_VERSION_TEXT, $m)) {
    $out('lib-openssl', $m[1]);
}
if (defined('LIBXML_DOTTED_VERSION')) { $out('lib-libxml', LIBXML_DOTTED_VERSION); }
if (defined('CURL_VERSION_STR')) { $out('lib-curl', CURL_VERSION_STR); }
`

type detected struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

var leadingVersion = regexp.MustCompile(`^v?\d+(\.\d+){0,3}`)

// cleanVersion reduces a version reported by the interpreter (e.g., "8.2.7-1ubuntu2") to something
// [semver.ParseVersion] accepts.  Versions with no recognizable numeric prefix become "0".
func cleanVersion(v string) string {
	v = strings.TrimSpace(v)
	if _, err := semver.ParseVersion(v); err == nil {
		return v
	}
	if m := leadingVersion.FindString(v); m != "" {
		return m
	}
	return "0"
}

// Detect runs the PHP interpreter at php (a path or a name looked up in $PATH) and returns the
// platform packages it reports, plus [Defaults].
func Detect(ctx context.Context, php string) (map[string]string, error) {
	ret := Defaults()
	objs, done := command.DecodeJSONStream[detected](ctx, "", php, "-r", detectScript)
	for d := range objs {
		name := strings.ToLower(d.Name)
		if !IsPlatform(name) {
			slog.WarnContext(ctx, "ignoring unexpected platform package", "name", d.Name)
			continue
		}
		ret[name] = cleanVersion(d.Version)
	}
	if err := done(); err != nil {
		return nil, fmt.Errorf("failed to detect platform packages: %w", err)
	}
	slog.DebugContext(ctx, "platform detected", "packages", len(ret))
	return ret, nil
}
