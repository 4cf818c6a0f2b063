package lock

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"

	"github.com/rhansen/composersat/internal/jsonobj"
)

// hashedKeys are the top-level manifest members that affect the content hash.
var hashedKeys = []string{
	"name", "version", "require", "require-dev", "conflict", "replace", "provide",
	"minimum-stability", "prefer-stable", "repositories", "extra",
}

// ContentHash returns the fingerprint of the manifest members that affect resolution, computed the
// way Composer computes a lock file's "content-hash": the relevant members (plus config.platform)
// sorted by key, encoded as compact PHP-style JSON, and hashed with MD5.  Member order below the
// top level is preserved, so reordering requirements changes the hash.
func ContentHash(m *Manifest) (string, error) {
	var rel jsonobj.Object
	for _, k := range hashedKeys {
		if v, ok := m.doc.Get(k); ok {
			rel.Set(k, v)
		}
	}
	var cfg jsonobj.Object
	if _, err := jsonobj.Decode(m.doc, "config", &cfg); err != nil {
		return "", err
	}
	if plat, ok := cfg.Get("platform"); ok {
		var c jsonobj.Object
		c.Set("platform", json.RawMessage(plat))
		if err := rel.SetValue("config", c); err != nil {
			return "", err
		}
	}
	b, err := jsonobj.MarshalPHPCompact(rel.SortKeys())
	if err != nil {
		return "", err
	}
	sum := md5.Sum(b)
	return hex.EncodeToString(sum[:]), nil
}
