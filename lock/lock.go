// Package lock reads and writes Composer lock files and reconciles them with a project manifest.
// A lock file records the [composersat.DecisionSet] of the last successful solve together with a
// fingerprint of the manifest it was computed from, so that later runs can reuse it without
// solving again as long as the manifest has not changed.
package lock

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"os"
	"slices"

	"github.com/rhansen/composersat"
	"github.com/rhansen/composersat/internal/jsonobj"
	"github.com/rhansen/composersat/semver"
)

// Readme is the default "_readme" of a new lock file.
var Readme = []string{
	"This file locks the dependencies of your project to a known state",
	"Read more about it at https://getcomposer.org/doc/01-basic-usage.md#installing-dependencies",
	"This file is @generated automatically",
}

// knownKeys are the top-level lock file members in the order Composer writes them.
var knownKeys = []string{
	"_readme", "content-hash", "packages", "packages-dev", "aliases", "minimum-stability",
	"stability-flags", "prefer-stable", "prefer-lowest", "platform", "platform-dev",
	"platform-overrides", "plugin-api-version",
}

// A Lock is the contents of a composer.lock file.
type Lock struct {
	Readme      []string
	ContentHash string
	// Packages and PackagesDev are sorted by name.  PackagesDev holds the packages that only
	// development requirements need.
	Packages         []*composersat.Candidate
	PackagesDev      []*composersat.Candidate
	Aliases          []Alias
	MinimumStability semver.Stability
	// StabilityFlags records per-package stability overrides from the root requirements.  It is
	// written with Composer's numeric codes, sorted by name.
	StabilityFlags map[string]semver.Stability
	PreferStable   bool
	PreferLowest   bool
	// Platform and PlatformDev hold the root requirements on platform packages.
	Platform    jsonobj.Object
	PlatformDev jsonobj.Object
	// PlatformOverrides holds the manifest's config.platform; it is omitted when empty.
	PlatformOverrides jsonobj.Object
	PluginAPIVersion  string

	// extra holds unknown top-level members, which are written back after the known ones.
	extra jsonobj.Object
}

// An Alias records an inline alias of a root requirement ("dev-main as 1.0.x-dev").
type Alias struct {
	Package string `json:"package"`
	// Version is the normalized aliased version.
	Version         string `json:"version"`
	Alias           string `json:"alias"`
	AliasNormalized string `json:"alias_normalized"`
}

// newAliases returns the lock entries for the request's inline aliases.
func newAliases(req *composersat.Request) []Alias {
	var ret []Alias
	for _, a := range req.Aliases {
		ret = append(ret, Alias{
			Package:         a.Name,
			Version:         a.Version.Normalized(),
			Alias:           a.Alias.String(),
			AliasNormalized: a.Alias.Normalized(),
		})
	}
	return ret
}

func decodePackages(doc jsonobj.Object, key string) ([]*composersat.Candidate, error) {
	var objs []jsonobj.Object
	if _, err := jsonobj.Decode(doc, key, &objs); err != nil {
		return nil, err
	}
	var ret []*composersat.Candidate
	for _, o := range objs {
		c, err := composersat.CandidateFromObject(o)
		if err != nil {
			return nil, fmt.Errorf("%v: %w", key, err)
		}
		ret = append(ret, c)
	}
	return ret, nil
}

// Read decodes a lock file.
func Read(r io.Reader) (*Lock, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	var doc jsonobj.Object
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode lock file: %w", err)
	}
	l := &Lock{MinimumStability: semver.StabilityStable}
	for _, f := range []func() error{
		func() (err error) { _, err = jsonobj.Decode(doc, "_readme", &l.Readme); return },
		func() (err error) { _, err = jsonobj.Decode(doc, "content-hash", &l.ContentHash); return },
		func() (err error) { l.Packages, err = decodePackages(doc, "packages"); return },
		func() (err error) { l.PackagesDev, err = decodePackages(doc, "packages-dev"); return },
		func() (err error) { _, err = jsonobj.Decode(doc, "aliases", &l.Aliases); return },
		func() error {
			var ms string
			if ok, err := jsonobj.Decode(doc, "minimum-stability", &ms); !ok || err != nil {
				return err
			}
			s, err := semver.ParseStability(ms)
			l.MinimumStability = s
			return err
		},
		func() error {
			var flags map[string]int
			if ok, err := decodeMap(doc, "stability-flags", &flags); !ok || err != nil {
				return err
			}
			l.StabilityFlags = make(map[string]semver.Stability, len(flags))
			for name, code := range flags {
				s, err := semver.StabilityFromCode(code)
				if err != nil {
					return fmt.Errorf("stability flag for %v: %w", name, err)
				}
				l.StabilityFlags[name] = s
			}
			return nil
		},
		func() (err error) { _, err = jsonobj.Decode(doc, "prefer-stable", &l.PreferStable); return },
		func() (err error) { _, err = jsonobj.Decode(doc, "prefer-lowest", &l.PreferLowest); return },
		func() (err error) { _, err = jsonobj.Decode(doc, "platform", &l.Platform); return },
		func() (err error) { _, err = jsonobj.Decode(doc, "platform-dev", &l.PlatformDev); return },
		func() (err error) { _, err = jsonobj.Decode(doc, "platform-overrides", &l.PlatformOverrides); return },
		func() (err error) { _, err = jsonobj.Decode(doc, "plugin-api-version", &l.PluginAPIVersion); return },
	} {
		if err := f(); err != nil {
			return nil, fmt.Errorf("bad lock file: %w", err)
		}
	}
	for k, v := range doc.All() {
		if !slices.Contains(knownKeys, k) {
			l.extra.Set(k, v)
		}
	}
	return l, nil
}

// decodeMap is like [jsonobj.Decode] for a map-valued member, but also accepts the empty array PHP
// writes for an empty map.
func decodeMap[V any](doc jsonobj.Object, key string, dst *map[string]V) (bool, error) {
	var o jsonobj.Object
	if ok, err := jsonobj.Decode(doc, key, &o); !ok || err != nil {
		return ok, err
	}
	*dst = make(map[string]V, o.Len())
	for k, raw := range o.All() {
		var v V
		if err := json.Unmarshal(raw, &v); err != nil {
			return true, fmt.Errorf("failed to decode %q member %q: %w", key, k, err)
		}
		(*dst)[k] = v
	}
	return true, nil
}

// Load reads the lock file at path.  It returns an error satisfying errors.Is(err, fs.ErrNotExist)
// if there is none.
func Load(path string) (retL *Lock, retErr error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := f.Close(); retErr == nil {
			retErr = err
		}
	}()
	l, err := Read(f)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", path, err)
	}
	return l, nil
}

// stabilityFlagsObject encodes flags with Composer's numeric codes, sorted by name.
func stabilityFlagsObject(flags map[string]semver.Stability) (jsonobj.Object, error) {
	var o jsonobj.Object
	for _, name := range slices.Sorted(maps.Keys(flags)) {
		if err := o.SetValue(name, flags[name].Code()); err != nil {
			return jsonobj.Object{}, err
		}
	}
	return o, nil
}

func packagesValue(cs []*composersat.Candidate) []*composersat.Candidate {
	if cs == nil {
		return []*composersat.Candidate{}
	}
	return cs
}

// Object returns the lock file as a JSON object in Composer's member order.
func (l *Lock) Object() (jsonobj.Object, error) {
	readme := l.Readme
	if readme == nil {
		readme = Readme
	}
	aliases := l.Aliases
	if aliases == nil {
		aliases = []Alias{}
	}
	flags, err := stabilityFlagsObject(l.StabilityFlags)
	if err != nil {
		return jsonobj.Object{}, err
	}
	var o jsonobj.Object
	for _, m := range []struct {
		key string
		v   any
	}{
		{"_readme", readme},
		{"content-hash", l.ContentHash},
		{"packages", packagesValue(l.Packages)},
		{"packages-dev", packagesValue(l.PackagesDev)},
		{"aliases", aliases},
		{"minimum-stability", l.MinimumStability.String()},
		{"stability-flags", flags},
		{"prefer-stable", l.PreferStable},
		{"prefer-lowest", l.PreferLowest},
		{"platform", l.Platform},
		{"platform-dev", l.PlatformDev},
		{"platform-overrides", l.PlatformOverrides},
		{"plugin-api-version", l.PluginAPIVersion},
	} {
		switch m.key {
		case "platform-overrides":
			if l.PlatformOverrides.Len() == 0 {
				continue
			}
		case "plugin-api-version":
			if l.PluginAPIVersion == "" {
				continue
			}
		}
		if err := o.SetValue(m.key, m.v); err != nil {
			return jsonobj.Object{}, err
		}
	}
	for k, v := range l.extra.All() {
		o.Set(k, v)
	}
	return o, nil
}

// Write encodes the lock file the way Composer does: four-space indentation, unescaped slashes
// and unicode, and a trailing newline.
func (l *Lock) Write(w io.Writer) error {
	o, err := l.Object()
	if err != nil {
		return err
	}
	b, err := jsonobj.MarshalPretty(o)
	if err != nil {
		return err
	}
	_, err = w.Write(b)
	return err
}

// Save writes the lock file to path.
func (l *Lock) Save(path string) error {
	var buf bytes.Buffer
	if err := l.Write(&buf); err != nil {
		return err
	}
	return os.WriteFile(path, buf.Bytes(), 0o644)
}

// DecisionSet returns the locked packages, including development packages, as a decision set.
func (l *Lock) DecisionSet() (*composersat.DecisionSet, error) {
	return composersat.NewDecisionSet(slices.Concat(l.Packages, l.PackagesDev)...)
}

// Fixed returns the ids of every locked package.  Pinning them reproduces the locked decision set.
func (l *Lock) Fixed() []composersat.PackageId {
	var ret []composersat.PackageId
	for _, c := range slices.Concat(l.Packages, l.PackagesDev) {
		ret = append(ret, c.Id())
	}
	return ret
}
