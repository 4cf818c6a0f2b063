package lock

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/rhansen/composersat"
	"github.com/rhansen/composersat/internal/jsonobj"
	"github.com/rhansen/composersat/platform"
	"github.com/rhansen/composersat/semver"
)

// A Requirement is one entry of a manifest link map, as written.
type Requirement struct {
	Name       string
	Constraint string
}

// A Manifest is the part of a project's composer.json that affects dependency resolution.  The
// full document is kept so that [ContentHash] sees exactly what the author wrote.
type Manifest struct {
	Name string
	// Require, RequireDev, and Conflict keep document order.
	Require    []Requirement
	RequireDev []Requirement
	Conflict   []Requirement
	// MinimumStability defaults to stable.
	MinimumStability semver.Stability
	PreferStable     bool
	// PlatformOverrides holds config.platform.  A package disabled with false maps to
	// [platform.Disabled].
	PlatformOverrides map[string]string

	doc jsonobj.Object
}

func decodeRequirements(o jsonobj.Object, key string) ([]Requirement, error) {
	var links jsonobj.Object
	if ok, err := jsonobj.Decode(o, key, &links); !ok || err != nil {
		return nil, err
	}
	var ret []Requirement
	for name, raw := range links.All() {
		var c string
		if err := json.Unmarshal(raw, &c); err != nil {
			return nil, fmt.Errorf("bad %q constraint for %v: %w", key, name, err)
		}
		ret = append(ret, Requirement{name, c})
	}
	return ret, nil
}

// ParseManifest decodes a composer.json document.
func ParseManifest(data []byte) (*Manifest, error) {
	m := &Manifest{MinimumStability: semver.StabilityStable}
	if err := json.Unmarshal(data, &m.doc); err != nil {
		return nil, fmt.Errorf("failed to decode manifest: %w", err)
	}
	if _, err := jsonobj.Decode(m.doc, "name", &m.Name); err != nil {
		return nil, err
	}
	var err error
	if m.Require, err = decodeRequirements(m.doc, "require"); err != nil {
		return nil, err
	}
	if m.RequireDev, err = decodeRequirements(m.doc, "require-dev"); err != nil {
		return nil, err
	}
	if m.Conflict, err = decodeRequirements(m.doc, "conflict"); err != nil {
		return nil, err
	}
	var ms string
	if ok, err := jsonobj.Decode(m.doc, "minimum-stability", &ms); err != nil {
		return nil, err
	} else if ok {
		if m.MinimumStability, err = semver.ParseStability(ms); err != nil {
			return nil, fmt.Errorf("bad minimum-stability: %w", err)
		}
	}
	if _, err := jsonobj.Decode(m.doc, "prefer-stable", &m.PreferStable); err != nil {
		return nil, err
	}
	overrides, err := platformOverrides(m.doc)
	if err != nil {
		return nil, err
	}
	m.PlatformOverrides = overrides
	return m, nil
}

// platformOverrides extracts config.platform, or nil if it is absent.
func platformOverrides(doc jsonobj.Object) (map[string]string, error) {
	var cfg, plat jsonobj.Object
	if ok, err := jsonobj.Decode(doc, "config", &cfg); !ok || err != nil {
		return nil, err
	}
	if ok, err := jsonobj.Decode(cfg, "platform", &plat); !ok || err != nil {
		return nil, err
	}
	ret := map[string]string{}
	for name, raw := range plat.All() {
		var v any
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, err
		}
		switch v := v.(type) {
		case string:
			ret[name] = v
		case bool:
			if v {
				return nil, fmt.Errorf("config.platform.%v: true is not a version", name)
			}
			ret[name] = platform.Disabled
		default:
			return nil, fmt.Errorf("config.platform.%v: expected a version string or false", name)
		}
	}
	return ret, nil
}

// LoadManifest reads and parses the manifest at path.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	m, err := ParseManifest(data)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", path, err)
	}
	return m, nil
}

// Request returns the [composersat.Request] the manifest describes, including development
// requirements.
func (m *Manifest) Request() (*composersat.Request, error) {
	req := composersat.NewRequest()
	req.MinimumStability = m.MinimumStability
	for _, r := range m.Require {
		if err := req.Require(r.Name, r.Constraint); err != nil {
			return nil, err
		}
	}
	for _, r := range m.RequireDev {
		if err := req.RequireDev(r.Name, r.Constraint); err != nil {
			return nil, err
		}
	}
	for _, r := range m.Conflict {
		if err := req.Conflict(r.Name, r.Constraint); err != nil {
			return nil, err
		}
	}
	return req, nil
}

// platformRequirements returns the requirements on platform packages, lower-cased, in document
// order.
func platformRequirements(reqs []Requirement) jsonobj.Object {
	var ret jsonobj.Object
	for _, r := range reqs {
		if platform.IsPlatform(r.Name) {
			// A string always encodes.
			_ = ret.SetValue(strings.ToLower(r.Name), r.Constraint)
		}
	}
	return ret
}
