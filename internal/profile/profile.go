// Package profile describes the host, build type, and toolchain used for
// a build, and derives the deterministic digest that keys every cached
// artifact downstream of it (see internal/buildid).
package profile

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/dopamine-pm/dopamine/internal/platform"
)

// BuildType is the optimization/debug posture of a build.
type BuildType string

const (
	BuildDebug   BuildType = "debug"
	BuildRelease BuildType = "release"
)

// Tool describes one detected toolchain component, keyed by a stable id
// ("dc", "cc", "cxx", "msvc", ...).
type Tool struct {
	ID             string
	Name           string
	Version        string
	Path           string
	MSVCLineVer    string // set only for id == "msvc"
	MSVCDisplayVer string // set only for id == "msvc"
}

// Profile is the immutable, hashable description of a build environment.
// Two profiles with an equal DigestHash are interchangeable for caching
// purposes (spec invariant).
type Profile struct {
	Basename  string
	Target    platform.Target
	BuildType BuildType
	Tools     map[string]Tool

	digestHash string
}

// New builds a Profile from its components and computes DigestHash.
func New(basename string, target platform.Target, buildType BuildType, tools map[string]Tool) Profile {
	p := Profile{Basename: basename, Target: target, BuildType: buildType, Tools: cloneTools(tools)}
	p.digestHash = p.computeDigest()
	return p
}

func cloneTools(tools map[string]Tool) map[string]Tool {
	out := make(map[string]Tool, len(tools))
	for k, v := range tools {
		out[k] = v
	}
	return out
}

// DigestHash returns the SHA-1 hex digest over the canonical serialization.
func (p Profile) DigestHash() string { return p.digestHash }

// Matchable adapts Profile to recipe.Matchable so WhenClause evaluation
// can run against either a detected host Target or a Profile directly.
func (p Profile) Matchable() platform.Target { return p.Target }

// canonicalLines renders the profile's fields in a fixed order so that
// re-serializing and re-parsing always yields the same bytes, and
// therefore the same digest (spec invariant 5).
func (p Profile) canonicalLines() []string {
	lines := make([]string, 0, 8+len(p.Tools))
	lines = append(lines,
		"basename="+p.Basename,
		"os="+p.Target.OS(),
		"arch="+p.Target.Arch(),
		"linux_family="+p.Target.LinuxFamily(),
		"libc="+p.Target.Libc(),
		"build_type="+string(p.BuildType),
	)

	ids := make([]string, 0, len(p.Tools))
	for id := range p.Tools {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		t := p.Tools[id]
		lines = append(lines, fmt.Sprintf("tool.%s=%s|%s|%s|%s|%s", id, t.Name, t.Version, t.Path, t.MSVCLineVer, t.MSVCDisplayVer))
	}
	return lines
}

func (p Profile) computeDigest() string {
	h := sha1.New()
	for _, line := range p.canonicalLines() {
		h.Write([]byte(line))
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// String renders the canonical serialization used for Parse round-trips.
func (p Profile) String() string {
	return strings.Join(p.canonicalLines(), "\n")
}

// Parse reconstructs a Profile from its canonical serialization. Only the
// fields String emits are recovered; callers that need the full Target
// detail should carry it alongside rather than relying on Parse for
// anything but the digest round-trip contract (spec invariant 5).
func Parse(s string) (Profile, error) {
	var basename, os_, arch, linuxFamily, libc, buildType string
	tools := map[string]Tool{}

	for _, line := range strings.Split(s, "\n") {
		if line == "" {
			continue
		}
		key, val, ok := strings.Cut(line, "=")
		if !ok {
			return Profile{}, fmt.Errorf("profile: malformed line %q", line)
		}
		switch {
		case key == "basename":
			basename = val
		case key == "os":
			os_ = val
		case key == "arch":
			arch = val
		case key == "linux_family":
			linuxFamily = val
		case key == "libc":
			libc = val
		case key == "build_type":
			buildType = val
		case strings.HasPrefix(key, "tool."):
			id := strings.TrimPrefix(key, "tool.")
			parts := strings.SplitN(val, "|", 5)
			for len(parts) < 5 {
				parts = append(parts, "")
			}
			tools[id] = Tool{ID: id, Name: parts[0], Version: parts[1], Path: parts[2], MSVCLineVer: parts[3], MSVCDisplayVer: parts[4]}
		default:
			return Profile{}, fmt.Errorf("profile: unknown field %q", key)
		}
	}

	target := platform.NewTarget(os_+"/"+arch, linuxFamily, libc)
	return New(basename, target, BuildType(buildType), tools), nil
}

// Subset returns a Profile retaining only the tools required for langs,
// with a freshly computed digest.
func (p Profile) Subset(langs []string) Profile {
	required := toolIDsForLangs(langs)
	kept := make(map[string]Tool)
	for id, t := range p.Tools {
		if required[id] {
			kept[id] = t
		}
	}
	return New(p.Basename, p.Target, p.BuildType, kept)
}

// WithBuildType returns a copy of p carrying a different BuildType.
func (p Profile) WithBuildType(bt BuildType) Profile {
	return New(p.Basename, p.Target, bt, p.Tools)
}

// toolIDsForLangs maps recipe languages to the toolchain ids their build
// steps may invoke.
func toolIDsForLangs(langs []string) map[string]bool {
	ids := make(map[string]bool)
	for _, lang := range langs {
		switch strings.ToLower(lang) {
		case "c":
			ids["cc"] = true
		case "c++", "cpp", "cxx":
			ids["cxx"] = true
		case "d":
			ids["dc"] = true
		default:
			// Unrecognized languages carry no implied toolchain
			// requirement; the recipe's own build hook is
			// responsible for anything it needs beyond cc/cxx/dc.
		}
	}
	return ids
}

// CollectEnvironment yields the environment variables a build needs to
// locate its toolchain (CC, CXX, DC, and MSVC paths where applicable).
func (p Profile) CollectEnvironment() map[string]string {
	env := make(map[string]string)
	if t, ok := p.Tools["cc"]; ok {
		env["CC"] = t.Path
	}
	if t, ok := p.Tools["cxx"]; ok {
		env["CXX"] = t.Path
	}
	if t, ok := p.Tools["dc"]; ok {
		env["DC"] = t.Path
	}
	if t, ok := p.Tools["msvc"]; ok {
		env["MSVC_PATH"] = t.Path
		if t.MSVCLineVer != "" {
			env["MSVC_LINE_VERSION"] = t.MSVCLineVer
		}
		if t.MSVCDisplayVer != "" {
			env["MSVC_DISPLAY_VERSION"] = t.MSVCDisplayVer
		}
	}
	return env
}
