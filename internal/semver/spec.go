package semver

import (
	"fmt"
	"strconv"
	"strings"
)

// Kind identifies a VersionSpec variant.
type Kind int

const (
	// KindMatchAll matches every non-prerelease version ("*").
	KindMatchAll Kind = iota
	// KindCaretRange matches versions compatible with the leftmost
	// non-zero component ("^1.2.3").
	KindCaretRange
	// KindTildeRange matches versions bounded by the next minor (or
	// major, for a two-component spec) version ("~>1.2.3").
	KindTildeRange
	// KindEquals matches exactly one version ("==1.2.3" or bare "1.2.3").
	KindEquals
	// KindGreaterThan matches versions above (or at, if LowerIncluded) a
	// bound (">1.2.3", ">=1.2.3").
	KindGreaterThan
	// KindLessThan matches versions below (or at, if UpperIncluded) a
	// bound ("<1.2.3", "<=1.2.3").
	KindLessThan
	// KindCompound matches a contiguous range with independent lower and
	// upper bounds (">=1.2.3 <3.0.0").
	KindCompound
)

// SpecError reports a malformed version specification.
type SpecError struct {
	Input string
	Msg   string
}

func (e *SpecError) Error() string {
	return fmt.Sprintf("semver: invalid version spec %q: %s", e.Input, e.Msg)
}

// VersionSpec selects a subset of the version line. See Parse for the
// recognized surface syntax.
//
// Invariant: a version carrying a prerelease tag matches only when the
// spec's lower bound itself carries a prerelease tag (resolved open
// question: "*" has no lower bound and so never matches a prerelease).
type VersionSpec struct {
	kind Kind
	raw  string

	lower              Semver
	lowerIncluded      bool
	lowerHasPrerelease bool

	upper         Semver
	upperIncluded bool
}

// MatchAll returns the "*" spec.
func MatchAll() VersionSpec {
	return VersionSpec{kind: KindMatchAll, raw: "*"}
}

// Raw returns the original spec text as parsed.
func (s VersionSpec) Raw() string { return s.raw }

// Kind returns the spec's variant.
func (s VersionSpec) Kind() Kind { return s.kind }

// ParseSpec parses a version specification. Recognized forms:
//
//	"*"                  MatchAll
//	"~>X.Y.Z" / "~>X.Y"  TildeRange (upper bound excludes next minor/major, "-0" suffixed)
//	"^X.Y[.Z]"           CaretRange (upper bound excludes next leftmost-nonzero bump)
//	"==X.Y.Z"            Equals
//	"X.Y.Z"              Equals (bare version)
//	">X", ">=X"          GreaterThan
//	"<X", "<=X"          LessThan
//	">=A <B" (any combination of the above two clauses) Compound
func ParseSpec(s string) (VersionSpec, error) {
	raw := s
	s = strings.TrimSpace(s)
	if s == "" {
		return VersionSpec{}, &SpecError{Input: raw, Msg: "empty spec"}
	}

	if s == "*" {
		return VersionSpec{kind: KindMatchAll, raw: raw}, nil
	}

	if strings.HasPrefix(s, "~>") {
		return parseTilde(raw, strings.TrimSpace(s[2:]))
	}

	if strings.HasPrefix(s, "^") {
		return parseCaret(raw, strings.TrimSpace(s[1:]))
	}

	if strings.HasPrefix(s, "==") {
		v, err := Parse(strings.TrimSpace(s[2:]))
		if err != nil {
			return VersionSpec{}, &SpecError{Input: raw, Msg: err.Error()}
		}
		return equalsSpec(raw, v), nil
	}

	// Compound: two whitespace-separated bound clauses.
	if fields := strings.Fields(s); len(fields) == 2 {
		return parseCompound(raw, fields[0], fields[1])
	}

	if clause, ok := boundPrefix(s); ok {
		return parseSingleBound(raw, s, clause)
	}

	// Bare version: equals.
	v, err := Parse(s)
	if err != nil {
		return VersionSpec{}, &SpecError{Input: raw, Msg: err.Error()}
	}
	return equalsSpec(raw, v), nil
}

type boundOp int

const (
	opGT boundOp = iota
	opGTE
	opLT
	opLTE
)

// boundPrefix recognizes a single ">","<",">=","<=" prefixed clause.
func boundPrefix(s string) (boundOp, bool) {
	switch {
	case strings.HasPrefix(s, ">="):
		return opGTE, true
	case strings.HasPrefix(s, ">"):
		return opGT, true
	case strings.HasPrefix(s, "<="):
		return opLTE, true
	case strings.HasPrefix(s, "<"):
		return opLT, true
	}
	return 0, false
}

func stripOp(s string, op boundOp) string {
	switch op {
	case opGTE, opLTE:
		return strings.TrimSpace(s[2:])
	default:
		return strings.TrimSpace(s[1:])
	}
}

func parseSingleBound(raw, clause string, op boundOp) (VersionSpec, error) {
	v, err := Parse(stripOp(clause, op))
	if err != nil {
		return VersionSpec{}, &SpecError{Input: raw, Msg: err.Error()}
	}
	switch op {
	case opGT, opGTE:
		return VersionSpec{
			kind:               KindGreaterThan,
			raw:                raw,
			lower:              v,
			lowerIncluded:      op == opGTE,
			lowerHasPrerelease: len(v.Prerelease()) > 0,
		}, nil
	default:
		return VersionSpec{
			kind:          KindLessThan,
			raw:           raw,
			upper:         v,
			upperIncluded: op == opLTE,
		}, nil
	}
}

func parseCompound(raw, a, b string) (VersionSpec, error) {
	aOp, aOK := boundPrefix(a)
	bOp, bOK := boundPrefix(b)
	if !aOK || !bOK {
		return VersionSpec{}, &SpecError{Input: raw, Msg: "compound spec requires two bound clauses"}
	}

	var lowClause, highClause string
	var lowOp, highOp boundOp
	switch {
	case (aOp == opGT || aOp == opGTE) && (bOp == opLT || bOp == opLTE):
		lowClause, lowOp = a, aOp
		highClause, highOp = b, bOp
	case (bOp == opGT || bOp == opGTE) && (aOp == opLT || aOp == opLTE):
		lowClause, lowOp = b, bOp
		highClause, highOp = a, aOp
	default:
		return VersionSpec{}, &SpecError{Input: raw, Msg: "compound spec requires one lower and one upper bound"}
	}

	lowV, err := Parse(stripOp(lowClause, lowOp))
	if err != nil {
		return VersionSpec{}, &SpecError{Input: raw, Msg: err.Error()}
	}
	highV, err := Parse(stripOp(highClause, highOp))
	if err != nil {
		return VersionSpec{}, &SpecError{Input: raw, Msg: err.Error()}
	}

	return VersionSpec{
		kind:               KindCompound,
		raw:                raw,
		lower:              lowV,
		lowerIncluded:      lowOp == opGTE,
		lowerHasPrerelease: len(lowV.Prerelease()) > 0,
		upper:              highV,
		upperIncluded:      highOp == opLTE,
	}, nil
}

func equalsSpec(raw string, v Semver) VersionSpec {
	return VersionSpec{
		kind:               KindEquals,
		raw:                raw,
		lower:              v,
		lowerIncluded:      true,
		lowerHasPrerelease: len(v.Prerelease()) > 0,
		upper:              v,
		upperIncluded:      true,
	}
}

// numericComponents splits the numeric dotted prefix of a version string
// (before any "-prerelease" or "+build" suffix) and parses each part,
// defaulting missing trailing components to 0. Used by the tilde/caret
// parsers, which accept partial versions ("1.2", "1") that Parse itself
// (backed by Masterminds/semver) would reject outright.
func numericComponents(s string) (major, minor, patch int64, given int, err error) {
	core := s
	if i := strings.IndexAny(core, "-+"); i >= 0 {
		core = core[:i]
	}
	parts := strings.Split(core, ".")
	if len(parts) == 0 || len(parts) > 3 {
		return 0, 0, 0, 0, fmt.Errorf("expected 1-3 numeric components, got %q", s)
	}
	nums := make([]int64, 3)
	for i, p := range parts {
		n, convErr := strconv.ParseInt(p, 10, 64)
		if convErr != nil {
			return 0, 0, 0, 0, fmt.Errorf("invalid numeric component %q: %w", p, convErr)
		}
		nums[i] = n
	}
	return nums[0], nums[1], nums[2], len(parts), nil
}

func parseTilde(raw, body string) (VersionSpec, error) {
	major, minor, patch, given, err := numericComponents(body)
	if err != nil {
		return VersionSpec{}, &SpecError{Input: raw, Msg: err.Error()}
	}
	lower := mustBuild(major, minor, patch, prereleaseOf(body))

	var upper Semver
	switch given {
	case 3:
		upper = mustBuild(major, minor+1, 0, "0")
	default: // 1 or 2 components: bump major
		upper = mustBuild(major+1, 0, 0, "0")
	}

	return VersionSpec{
		kind:               KindTildeRange,
		raw:                raw,
		lower:              lower,
		lowerIncluded:      true,
		lowerHasPrerelease: len(lower.Prerelease()) > 0,
		upper:              upper,
		upperIncluded:      false,
	}, nil
}

func parseCaret(raw, body string) (VersionSpec, error) {
	major, minor, patch, _, err := numericComponents(body)
	if err != nil {
		return VersionSpec{}, &SpecError{Input: raw, Msg: err.Error()}
	}
	lower := mustBuild(major, minor, patch, prereleaseOf(body))

	var upper Semver
	switch {
	case major != 0:
		upper = mustBuild(major+1, 0, 0, "0")
	case minor != 0:
		upper = mustBuild(0, minor+1, 0, "0")
	case patch != 0:
		upper = mustBuild(0, 0, patch+1, "0")
	default:
		upper = mustBuild(0, 0, 1, "0")
	}

	return VersionSpec{
		kind:               KindCaretRange,
		raw:                raw,
		lower:              lower,
		lowerIncluded:      true,
		lowerHasPrerelease: len(lower.Prerelease()) > 0,
		upper:              upper,
		upperIncluded:      false,
	}, nil
}

// prereleaseOf extracts a "-prerelease" suffix from a partial version
// string, if present, so "~>1.2.3-beta" carries it onto the lower bound.
func prereleaseOf(body string) string {
	if i := strings.Index(body, "-"); i >= 0 {
		if j := strings.Index(body[i:], "+"); j >= 0 {
			return body[i+1 : i+j]
		}
		return body[i+1:]
	}
	return ""
}

// Matches reports whether v satisfies the spec. Matches is decidable in
// constant time and is monotonic with respect to version ordering within
// a contiguous range.
func (s VersionSpec) Matches(v Semver) bool {
	if len(v.Prerelease()) > 0 && !s.lowerHasPrerelease {
		return false
	}

	switch s.kind {
	case KindMatchAll:
		return true
	case KindEquals:
		return v.Compare(s.lower) == 0
	case KindGreaterThan:
		c := v.Compare(s.lower)
		if s.lowerIncluded {
			return c >= 0
		}
		return c > 0
	case KindLessThan:
		c := v.Compare(s.upper)
		if s.upperIncluded {
			return c <= 0
		}
		return c < 0
	case KindTildeRange, KindCaretRange, KindCompound:
		lc := v.Compare(s.lower)
		lowOK := lc > 0 || (lc == 0 && s.lowerIncluded)
		uc := v.Compare(s.upper)
		upOK := uc < 0 || (uc == 0 && s.upperIncluded)
		return lowOK && upOK
	default:
		return false
	}
}

// Matches is the free-function form, mirroring the spec's matches(spec, ver)
// notation.
func Matches(spec VersionSpec, v Semver) bool {
	return spec.Matches(v)
}
