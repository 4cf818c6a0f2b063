package composersat

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/rhansen/composersat/semver"
)

// A PackageId identifies a specific version of a specific package.  Package names are
// case-insensitive; [NewPackageId] and [ParsePackageId] lower-case them.
//
// PackageId is comparable, but two ids whose versions are equivalent spellings (e.g., "1.0" and
// "1.0.0") are not ==.  Use [PackageId.Key] to obtain a map key that identifies the package
// regardless of spelling.
type PackageId struct {
	Name    string
	Version semver.Version
}

// NewPackageId constructs a new [PackageId] from its name and version components.
func NewPackageId(name string, v semver.Version) PackageId {
	return PackageId{Name: strings.ToLower(name), Version: v}
}

// ParsePackageId parses a "name@version" or "name version" string, e.g., "monolog/monolog@3.5.0".
func ParsePackageId(s string) (PackageId, error) {
	name, ver, ok := strings.Cut(strings.TrimSpace(s), "@")
	if !ok {
		name, ver, ok = strings.Cut(strings.TrimSpace(s), " ")
	}
	if !ok {
		return PackageId{}, fmt.Errorf("package id %q has no version", s)
	}
	if err := CheckName(name); err != nil {
		return PackageId{}, err
	}
	v, err := semver.ParseVersion(ver)
	if err != nil {
		return PackageId{}, err
	}
	return NewPackageId(name, v), nil
}

// CheckName asserts that name is a syntactically valid package name.  Both "vendor/package" names
// and platform names such as "php" or "ext-json" are accepted.
func CheckName(name string) error {
	if name == "" {
		return errors.New("package name is the empty string")
	}
	if strings.IndexFunc(name, func(r rune) bool {
		return unicode.IsSpace(r) || r == '@' || r == ',' || r == '|'
	}) >= 0 {
		return fmt.Errorf("package name %q contains an invalid character", name)
	}
	if strings.HasPrefix(name, "/") || strings.HasSuffix(name, "/") || strings.Count(name, "/") > 1 {
		return fmt.Errorf("package name %q is not of the form vendor/package", name)
	}
	return nil
}

// Key returns a string that is equal for two ids if and only if they name the same package and
// equivalent versions.
func (id PackageId) Key() string {
	return id.Name + "@" + id.Version.Normalized()
}

func (id PackageId) String() string {
	return id.Name + "@" + id.Version.String()
}

// PackageIdCompare returns [strings.Compare] using each [PackageId]'s [PackageId.Name] if the two
// names differ, otherwise it returns [semver.Compare] using each [PackageId]'s [PackageId.Version].
func PackageIdCompare(a, b PackageId) int {
	if cmp := strings.Compare(a.Name, b.Name); cmp != 0 {
		return cmp
	}
	return semver.Compare(a.Version, b.Version)
}
