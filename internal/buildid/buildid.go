// Package buildid implements C8: a deterministic 40-hex digest over a
// profile, its build type, the DAG's resolved dependency set, and the
// recipe's build options, used as the cache key for a build's outputs.
package buildid

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"sort"
)

// Dependency is one resolved (name, version, revision) triple, already
// ordered topologically by the caller (spec §4.8: "in topological
// order" — order is significant and not re-sorted here).
type Dependency struct {
	Name     string
	Version  string
	Revision string
}

// Input gathers everything BuildId digests, in the order the spec
// fixes: profile digest, build type, topologically ordered resolved
// dependencies, then recipe options sorted by key.
type Input struct {
	ProfileDigest string
	BuildType     string
	Dependencies  []Dependency
	Options       map[string]string
}

// ID is the computed 40-hex-char digest plus its derived short prefix.
type ID struct {
	Full string
}

// Short returns the 10-char prefix used as the on-disk build-config
// directory name (spec §4.8 requirement 3).
func (id ID) Short() string {
	if len(id.Full) < 10 {
		return id.Full
	}
	return id.Full[:10]
}

func (id ID) String() string { return id.Full }

// Compute derives the BuildId deterministically from in. The digest is
// stable across host OS: it never reads wall-clock time, hostnames, or
// filesystem paths, only the canonical fields of in.
func Compute(in Input) ID {
	h := sha1.New()
	writeLine(h, "profile", in.ProfileDigest)
	writeLine(h, "build-type", in.BuildType)

	for _, d := range in.Dependencies {
		writeLine(h, "dep", fmt.Sprintf("%s@%s#%s", d.Name, d.Version, d.Revision))
	}

	keys := make([]string, 0, len(in.Options))
	for k := range in.Options {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		writeLine(h, "option", k+"="+in.Options[k])
	}

	return ID{Full: hex.EncodeToString(h.Sum(nil))}
}

func writeLine(h interface{ Write([]byte) (int, error) }, field, value string) {
	h.Write([]byte(field))
	h.Write([]byte{'='})
	h.Write([]byte(value))
	h.Write([]byte{'\n'})
}
