// Package semver parses and orders semantic versions and the version
// specifications ("~>1.2", "^1.2.3", ">=1.0.0 <2.0.0", ...) that select among
// them.
//
// Parsing is total: Parse never panics, and IsValidString is decidable
// without throwing. Ordering follows the semver 2.0.0 precedence rules
// (numeric triple, then prerelease identifiers; build metadata is ignored)
// by delegating to Masterminds/semver/v3 for the underlying comparison.
package semver

import (
	"fmt"
	"strings"

	mmsemver "github.com/Masterminds/semver/v3"
)

// Semver is an immutable semantic version.
type Semver struct {
	v *mmsemver.Version
}

// ParseError reports a malformed version string.
type ParseError struct {
	Input string
	Err   error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("semver: invalid version %q: %v", e.Input, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Parse parses a semantic version string. Parse is total: it never
// panics, returning a *ParseError for any malformed input instead.
func Parse(s string) (Semver, error) {
	v, err := mmsemver.StrictNewVersion(strings.TrimSpace(s))
	if err != nil {
		return Semver{}, &ParseError{Input: s, Err: err}
	}
	return Semver{v: v}, nil
}

// MustParse parses s and panics on error. Intended for literals in tests
// and constant tables, never for untrusted input.
func MustParse(s string) Semver {
	sv, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return sv
}

// IsValidString reports whether s parses as a semantic version, without
// ever panicking.
func IsValidString(s string) bool {
	_, err := Parse(s)
	return err == nil
}

// IsZero reports whether s is the zero value (no version parsed).
func (s Semver) IsZero() bool { return s.v == nil }

// Major returns the major version component.
func (s Semver) Major() int64 {
	if s.v == nil {
		return 0
	}
	return s.v.Major()
}

// Minor returns the minor version component.
func (s Semver) Minor() int64 {
	if s.v == nil {
		return 0
	}
	return s.v.Minor()
}

// Patch returns the patch version component.
func (s Semver) Patch() int64 {
	if s.v == nil {
		return 0
	}
	return s.v.Patch()
}

// Prerelease returns the dot-separated prerelease identifiers, or nil if
// this version carries none.
func (s Semver) Prerelease() []string {
	if s.v == nil || s.v.Prerelease() == "" {
		return nil
	}
	return strings.Split(s.v.Prerelease(), ".")
}

// Build returns the dot-separated build metadata identifiers, or nil if
// this version carries none. Build metadata is ignored for ordering.
func (s Semver) Build() []string {
	if s.v == nil || s.v.Metadata() == "" {
		return nil
	}
	return strings.Split(s.v.Metadata(), ".")
}

// String renders the version in canonical form.
func (s Semver) String() string {
	if s.v == nil {
		return ""
	}
	return s.v.String()
}

// Compare returns -1, 0, or 1 as a is less than, equal to, or greater
// than b, per semver 2.0.0 precedence (build metadata ignored). The
// total order satisfies Compare(a,b) == -Compare(b,a).
func Compare(a, b Semver) int {
	if a.v == nil && b.v == nil {
		return 0
	}
	if a.v == nil {
		return -1
	}
	if b.v == nil {
		return 1
	}
	return a.v.Compare(b.v)
}

// Compare is the method form of Compare(s, other).
func (s Semver) Compare(other Semver) int {
	return Compare(s, other)
}

// Less reports whether s orders before other.
func (s Semver) Less(other Semver) bool {
	return s.Compare(other) < 0
}

// Equal reports whether s and other compare equal (build metadata
// ignored, per semver precedence rules).
func (s Semver) Equal(other Semver) bool {
	return s.Compare(other) == 0
}

// mustBuild returns the version X.Y.Z[-pre] built from components,
// optionally carrying the "0" prerelease identifier used for exclusive
// tilde/caret upper bounds (see spec.go). Parsing is infallible for the
// inputs this package constructs internally; a failure indicates a bug
// in the caller and is surfaced as a panic, matching Go convention for
// programmer errors rather than data errors.
func mustBuild(major, minor, patch int64, prerelease string) Semver {
	s := fmt.Sprintf("%d.%d.%d", major, minor, patch)
	if prerelease != "" {
		s += "-" + prerelease
	}
	sv, err := Parse(s)
	if err != nil {
		panic(fmt.Sprintf("semver: internal construction failed for %q: %v", s, err))
	}
	return sv
}
