// Package depdag implements C7: building and resolving the dependency
// DAG from a root recipe, a profile, a DepService, and a Heuristics
// version-selection policy.
package depdag

import (
	"sort"

	"github.com/dopamine-pm/dopamine/internal/depservice"
	"github.com/dopamine-pm/dopamine/internal/semver"
)

// Mode names a version-selection policy (spec §4.7 scoring table).
type Mode string

const (
	PreferSystem Mode = "prefer-system"
	PreferCache  Mode = "prefer-cache"
	PreferLocal  Mode = "prefer-local"
	PickHighest  Mode = "pick-highest"
)

// SystemPolicy names the system-location eligibility rule (spec §3:
// "system ∈ {Allow, Disallow, AllowedList(set), DisallowedList(set)}").
// The zero value behaves as Allow, so a Heuristics built without
// naming System (as every pre-existing caller in this tree does)
// keeps its prior unrestricted-system behavior.
type SystemPolicy string

const (
	// SystemAllow permits the system location for every package.
	SystemAllow SystemPolicy = "allow"
	// SystemDisallow blocks the system location entirely.
	SystemDisallow SystemPolicy = "disallow"
	// SystemAllowedList permits the system location only for names in
	// SystemList.
	SystemAllowedList SystemPolicy = "allowed-list"
	// SystemDisallowedList permits the system location for every name
	// except those in SystemList.
	SystemDisallowedList SystemPolicy = "disallowed-list"
)

// Heuristics configures chooseVersion and the system-location filter
// (spec §3, §6). SystemList is consulted only when System is
// SystemAllowedList or SystemDisallowedList.
type Heuristics struct {
	Mode       Mode         `json:"mode"`
	System     SystemPolicy `json:"system"`
	SystemList []string     `json:"system-list,omitempty"`
}

// AllowSystemFor reports whether the system location is eligible for
// name under these heuristics.
func (h Heuristics) AllowSystemFor(name string) bool {
	switch h.System {
	case SystemDisallow:
		return false
	case SystemAllowedList:
		return containsName(h.SystemList, name)
	case SystemDisallowedList:
		return !containsName(h.SystemList, name)
	default:
		return true
	}
}

func containsName(list []string, name string) bool {
	for _, n := range list {
		if n == name {
			return true
		}
	}
	return false
}

// Candidate is one (version, location, revision) triple under
// consideration for a DagPack.
type Candidate struct {
	Version  semver.Semver
	Location depservice.Location
	Revision string
}

func locationBase(mode Mode, loc depservice.Location, n int) int {
	switch mode {
	case PreferSystem:
		switch loc {
		case depservice.LocationSystem:
			return 10 * n
		case depservice.LocationCache:
			return 5 * n
		default:
			return 0
		}
	case PreferCache:
		switch loc {
		case depservice.LocationSystem:
			return 5 * n
		case depservice.LocationCache:
			return 10 * n
		default:
			return 0
		}
	case PreferLocal:
		switch loc {
		case depservice.LocationSystem:
			return 10 * n
		case depservice.LocationCache:
			return 10*n + 1
		default:
			return 0
		}
	case PickHighest:
		switch loc {
		case depservice.LocationSystem:
			return 1
		case depservice.LocationCache:
			return 5 * n
		default:
			return 0
		}
	default:
		return 0
	}
}

func versionBump(mode Mode, n int) int {
	switch mode {
	case PreferLocal:
		return 2
	case PickHighest:
		return 10 * n
	default:
		return 1
	}
}

// ChooseVersion implements the spec §4.7 scoring table: ties are broken
// by higher version, then by preferred location (the order the scoring
// table lists: system, cache, network). Determinism: the result depends
// only on (candidates, heuristics) (spec §8 property 7).
func ChooseVersion(candidates []Candidate, h Heuristics) Candidate {
	n := len(candidates)
	distinct := distinctVersionsSorted(candidates)
	rankOf := make(map[string]int, len(distinct))
	for i, v := range distinct {
		rankOf[v.String()] = i
	}

	bump := versionBump(h.Mode, n)
	best := candidates[0]
	bestScore := -1
	for _, c := range candidates {
		score := locationBase(h.Mode, c.Location, n) + bump*rankOf[c.Version.String()]
		if score > bestScore ||
			(score == bestScore && semver.Compare(c.Version, best.Version) > 0) ||
			(score == bestScore && c.Version.Equal(best.Version) && c.Location < best.Location) {
			best = c
			bestScore = score
		}
	}
	return best
}

func distinctVersionsSorted(candidates []Candidate) []semver.Semver {
	seen := make(map[string]semver.Semver)
	for _, c := range candidates {
		seen[c.Version.String()] = c.Version
	}
	out := make([]semver.Semver, 0, len(seen))
	for _, v := range seen {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return semver.Compare(out[i], out[j]) < 0 })
	return out
}
