package depdag

import (
	"encoding/json"
	"sort"

	"github.com/dopamine-pm/dopamine/internal/semver"
)

// LockfileVersion is the dopamine-lock-ver field written to every
// lock file produced by this package.
const LockfileVersion = 1

// LockPackageVersion is one retained (version, location) entry for a
// package in the lock file.
type LockPackageVersion struct {
	Version      string   `json:"version"`
	Location     string   `json:"location"`
	Status       string   `json:"status"`
	Revision     string   `json:"revision,omitempty"`
	Langs        []string `json:"langs,omitempty"`
	Dependencies []string `json:"dependencies,omitempty"`

	// unknown preserves any fields this reader doesn't recognize, so a
	// rewrite round-trips bytes it doesn't understand (spec §8 property:
	// unknown keys survive a load-then-save cycle).
	unknown map[string]json.RawMessage
}

// MarshalJSON merges known fields with any preserved unknown ones.
func (v LockPackageVersion) MarshalJSON() ([]byte, error) {
	merged := map[string]json.RawMessage{}
	for k, raw := range v.unknown {
		merged[k] = raw
	}
	set := func(key string, val interface{}) error {
		raw, err := json.Marshal(val)
		if err != nil {
			return err
		}
		merged[key] = raw
		return nil
	}
	if err := set("version", v.Version); err != nil {
		return nil, err
	}
	if err := set("location", v.Location); err != nil {
		return nil, err
	}
	if err := set("status", v.Status); err != nil {
		return nil, err
	}
	if v.Revision != "" {
		if err := set("revision", v.Revision); err != nil {
			return nil, err
		}
	}
	if len(v.Langs) > 0 {
		if err := set("langs", v.Langs); err != nil {
			return nil, err
		}
	}
	if len(v.Dependencies) > 0 {
		if err := set("dependencies", v.Dependencies); err != nil {
			return nil, err
		}
	}
	return json.Marshal(merged)
}

// UnmarshalJSON decodes known fields and stashes the rest in unknown.
func (v *LockPackageVersion) UnmarshalJSON(data []byte) error {
	raw := map[string]json.RawMessage{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if b, ok := raw["version"]; ok {
		json.Unmarshal(b, &v.Version)
		delete(raw, "version")
	}
	if b, ok := raw["location"]; ok {
		json.Unmarshal(b, &v.Location)
		delete(raw, "location")
	}
	if b, ok := raw["status"]; ok {
		json.Unmarshal(b, &v.Status)
		delete(raw, "status")
	}
	if b, ok := raw["revision"]; ok {
		json.Unmarshal(b, &v.Revision)
		delete(raw, "revision")
	}
	if b, ok := raw["langs"]; ok {
		json.Unmarshal(b, &v.Langs)
		delete(raw, "langs")
	}
	if b, ok := raw["dependencies"]; ok {
		json.Unmarshal(b, &v.Dependencies)
		delete(raw, "dependencies")
	}
	v.unknown = raw
	return nil
}

// LockPackage is one package name's retained versions.
type LockPackage struct {
	Name     string               `json:"name"`
	Versions []LockPackageVersion `json:"versions"`
}

// LockFile is the on-disk lock-file format (spec §6 external interface).
type LockFile struct {
	DopamineLockVer int           `json:"dopamine-lock-ver"`
	Heuristics      Heuristics    `json:"heuristics"`
	Packages        []LockPackage `json:"packages"`
	unknown         map[string]json.RawMessage
}

// MarshalJSON merges known top-level fields with preserved unknown ones.
func (f LockFile) MarshalJSON() ([]byte, error) {
	merged := map[string]json.RawMessage{}
	for k, raw := range f.unknown {
		merged[k] = raw
	}
	set := func(key string, val interface{}) error {
		raw, err := json.Marshal(val)
		if err != nil {
			return err
		}
		merged[key] = raw
		return nil
	}
	if err := set("dopamine-lock-ver", f.DopamineLockVer); err != nil {
		return nil, err
	}
	if err := set("heuristics", f.Heuristics); err != nil {
		return nil, err
	}
	if err := set("packages", f.Packages); err != nil {
		return nil, err
	}
	return json.Marshal(merged)
}

// UnmarshalJSON decodes known top-level fields and stashes the rest.
func (f *LockFile) UnmarshalJSON(data []byte) error {
	raw := map[string]json.RawMessage{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if b, ok := raw["dopamine-lock-ver"]; ok {
		json.Unmarshal(b, &f.DopamineLockVer)
		delete(raw, "dopamine-lock-ver")
	}
	if b, ok := raw["heuristics"]; ok {
		json.Unmarshal(b, &f.Heuristics)
		delete(raw, "heuristics")
	}
	if b, ok := raw["packages"]; ok {
		json.Unmarshal(b, &f.Packages)
		delete(raw, "packages")
	}
	f.unknown = raw
	return nil
}

// ToLockFile serializes the resolved/compatible state of d into the
// canonical lock-file shape (spec §4.7: "packages sorted by name,
// versions sorted by (version, location)").
func (d *Pack) ToLockFile() LockFile {
	names := make([]string, 0, len(d.Packs))
	for name := range d.Packs {
		names = append(names, name)
	}
	sort.Strings(names)

	lf := LockFile{DopamineLockVer: LockfileVersion, Heuristics: d.Heuristics}
	for _, name := range names {
		pack := d.Packs[name]
		nodes := make([]*DagNode, len(pack.Nodes))
		copy(nodes, pack.Nodes)
		sort.Slice(nodes, func(i, j int) bool {
			if cmp := semver.Compare(nodes[i].Cand.Version, nodes[j].Cand.Version); cmp != 0 {
				return cmp < 0
			}
			return nodes[i].Cand.Location < nodes[j].Cand.Location
		})

		lp := LockPackage{Name: name}
		for _, n := range nodes {
			deps := dependencyNames(pack, n)
			lp.Versions = append(lp.Versions, LockPackageVersion{
				Version:      n.Cand.Version.String(),
				Location:     n.Cand.Location.String(),
				Status:       string(n.Status),
				Revision:     n.Cand.Revision,
				Langs:        n.Langs,
				Dependencies: deps,
			})
		}
		lf.Packages = append(lf.Packages, lp)
	}
	return lf
}

func dependencyNames(pack *DagPack, n *DagNode) []string {
	var out []string
	for _, e := range pack.OutEdges {
		if e.Up == n {
			out = append(out, e.Down.Name)
		}
	}
	sort.Strings(out)
	return out
}

// MarshalCanonicalJSON renders f with sorted map keys and two-space
// indentation, for a stable, diffable lock file on disk.
func MarshalCanonicalJSON(f LockFile) ([]byte, error) {
	return json.MarshalIndent(f, "", "  ")
}

// TraverseTopDownResolved visits every resolved node reachable from the
// root, parents before children, skipping a pack with no resolved node.
func (d *Pack) TraverseTopDownResolved() []*DagNode {
	var post []*DagNode
	visited := map[*DagPack]bool{}
	var walk func(pack *DagPack)
	walk = func(pack *DagPack) {
		if visited[pack] || pack.ResolvedNode == nil {
			return
		}
		visited[pack] = true
		for _, e := range pack.OutEdges {
			if e.OnResolvedPath {
				walk(e.Down)
			}
		}
		post = append(post, pack.ResolvedNode)
	}
	walk(d.Root)
	out := make([]*DagNode, len(post))
	for i, n := range post {
		out[len(post)-1-i] = n
	}
	return out
}

// TraverseBottomUpResolved returns the same node set as
// TraverseTopDownResolved but in dependency-first (leaves-first) order,
// suitable for driving a Stager build pipeline (spec §5).
func (d *Pack) TraverseBottomUpResolved() []*DagNode {
	topDown := d.TraverseTopDownResolved()
	out := make([]*DagNode, len(topDown))
	for i, n := range topDown {
		out[len(topDown)-1-i] = n
	}
	return dedupeStable(out)
}

func dedupeStable(nodes []*DagNode) []*DagNode {
	seen := map[*DagNode]bool{}
	out := make([]*DagNode, 0, len(nodes))
	for _, n := range nodes {
		if seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}

// CollectLangs returns the sorted, de-duplicated union of every
// resolved node's declared langs, consulted by Stager to pick a
// toolchain profile (spec §4.7: "collectLangs").
func CollectLangs(d *Pack) []string {
	seen := map[string]bool{}
	for _, n := range d.TraverseTopDownResolved() {
		for _, l := range n.Langs {
			seen[l] = true
		}
	}
	out := make([]string, 0, len(seen))
	for l := range seen {
		out = append(out, l)
	}
	sort.Strings(out)
	return out
}

// LockfileStale reports whether the DAG should be rebuilt: the spec's
// staleness rule is lockfile.mtime > recipeFile.mtime for freshness, so
// this returns true (stale) when that does NOT hold.
func LockfileStale(lockMtime, recipeMtime int64) bool {
	return !(lockMtime > recipeMtime)
}
