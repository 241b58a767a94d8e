package depdag

import (
	"context"
	"fmt"
	"sort"

	"github.com/dopamine-pm/dopamine/internal/depservice"
	"github.com/dopamine-pm/dopamine/internal/recipe"
	"github.com/dopamine-pm/dopamine/internal/semver"
)

// NodeStatus classifies a retained node once the DAG is resolved (spec
// §6 lock-file format: "status ∈ {resolved, compatible, removed}").
type NodeStatus string

const (
	StatusResolved   NodeStatus = "resolved"
	StatusCompatible NodeStatus = "compatible"
	StatusRemoved    NodeStatus = "removed"
)

// DagNode is one (pack, candidate) pairing visited during preparation.
type DagNode struct {
	Pack   *DagPack
	Cand   Candidate
	Status NodeStatus
	Langs  []string
}

// DagEdge is a dependency edge from an up node to a down pack, carrying
// the VersionSpec that constrained the selection.
type DagEdge struct {
	Up             *DagNode
	Down           *DagPack
	Spec           string
	OnResolvedPath bool
}

// DagPack aggregates every candidate version known for one package
// name, the nodes retained for it, and its resolved selection.
type DagPack struct {
	Name         string
	AllVersions  []Candidate
	Nodes        []*DagNode
	ResolvedNode *DagNode
	OutEdges     []*DagEdge
}

func (p *DagPack) addVersion(c Candidate) {
	for _, existing := range p.AllVersions {
		if existing.Version.Equal(c.Version) && existing.Location == c.Location {
			return
		}
	}
	p.AllVersions = append(p.AllVersions, c)
}

func (p *DagPack) nodeFor(c Candidate) *DagNode {
	for _, n := range p.Nodes {
		if n.Cand.Version.Equal(c.Version) && n.Cand.Location == c.Location {
			return n
		}
	}
	n := &DagNode{Pack: p, Cand: c}
	p.Nodes = append(p.Nodes, n)
	return n
}

// CyclicDependencyError reports a cycle discovered during preparation.
type CyclicDependencyError struct {
	Chain []string
}

func (e *CyclicDependencyError) Error() string {
	return fmt.Sprintf("depdag: cyclic dependency: %v", e.Chain)
}

// DagPackResolver is the narrow collaborator Prepare needs for reading a
// non-root node's dependency list and recipe metadata (DepService
// satisfies this with its Recipe method).
type DagPackResolver interface {
	Recipe(ctx context.Context, name string, av depservice.AvailVersion, revision string) (*recipe.Recipe, error)
	AvailableVersions(ctx context.Context, name string) ([]depservice.AvailVersion, error)
}

// Pack is the resolved, in-memory dependency graph produced by Prepare.
type Pack struct {
	Root       *DagPack
	Packs      map[string]*DagPack
	Heuristics Heuristics
	resolved   bool
}

// Resolved reports whether every reachable pack has a resolved node.
func (d *Pack) Resolved() bool { return d.resolved }

type visitKey struct {
	name    string
	version string
	loc     depservice.Location
}

// Prepare builds the DAG rooted at rootRecipe, per spec §4.7. onPlatform
// filters WhenClause-guarded dependencies (usually profile.Matchable()).
func Prepare(ctx context.Context, rootRecipe *recipe.Recipe, onPlatform recipe.Matchable, service DagPackResolver, h Heuristics) (*Pack, error) {
	rootVersion, err := rootRecipe.ParsedVersion()
	if err != nil {
		return nil, fmt.Errorf("depdag: root recipe version: %w", err)
	}

	packs := map[string]*DagPack{}
	root := &DagPack{Name: rootRecipe.Name()}
	packs[root.Name] = root
	rootCand := Candidate{Version: rootVersion, Location: depservice.LocationCache}
	root.addVersion(rootCand)
	rootNode := root.nodeFor(rootCand)
	rootNode.Langs = rootRecipe.Metadata.Langs

	visited := map[visitKey]bool{}
	var chain []string

	var visit func(pack *DagPack, cand Candidate, r *recipe.Recipe) error
	visit = func(pack *DagPack, cand Candidate, r *recipe.Recipe) error {
		key := visitKey{name: pack.Name, version: cand.Version.String(), loc: cand.Location}
		for _, name := range chain {
			if name == pack.Name {
				return &CyclicDependencyError{Chain: append(append([]string{}, chain...), pack.Name)}
			}
		}
		if visited[key] {
			return nil
		}
		visited[key] = true
		chain = append(chain, pack.Name)
		defer func() { chain = chain[:len(chain)-1] }()

		node := pack.nodeFor(cand)
		if r != nil {
			node.Langs = r.Metadata.Langs
		}

		if cand.Location == depservice.LocationSystem || r == nil {
			return nil
		}

		for _, dep := range r.ActiveDependencies(onPlatform) {
			downPack, ok := packs[dep.Name]
			if !ok {
				downPack = &DagPack{Name: dep.Name}
				packs[dep.Name] = downPack
			}

			spec, err := parseSpecOrAll(dep.Spec)
			if err != nil {
				return fmt.Errorf("depdag: dependency %q spec %q: %w", dep.Name, dep.Spec, err)
			}

			avail, err := service.AvailableVersions(ctx, dep.Name)
			if err != nil {
				return fmt.Errorf("depdag: available versions for %q: %w", dep.Name, err)
			}

			for _, av := range avail {
				if av.Location == depservice.LocationSystem && !h.AllowSystemFor(dep.Name) {
					continue
				}
				if !spec.Matches(av.Version) {
					continue
				}
				downPack.addVersion(Candidate{Version: av.Version, Location: av.Location, Revision: av.Revision})
			}

			edge := &DagEdge{Up: node, Down: downPack, Spec: dep.Spec}
			pack.OutEdges = append(pack.OutEdges, edge)

			if len(downPack.AllVersions) == 0 {
				continue
			}
			candidates := make([]Candidate, len(downPack.AllVersions))
			copy(candidates, downPack.AllVersions)
			sortCandidates(candidates)
			pick := ChooseVersion(candidates, h)

			var downRecipe *recipe.Recipe
			if pick.Location != depservice.LocationSystem {
				av := depservice.AvailVersion{Version: pick.Version, Location: pick.Location, Revision: pick.Revision}
				downRecipe, err = service.Recipe(ctx, dep.Name, av, pick.Revision)
				if err != nil {
					return fmt.Errorf("depdag: load recipe %q: %w", dep.Name, err)
				}
			}

			if err := visit(downPack, pick, downRecipe); err != nil {
				return err
			}
		}
		return nil
	}

	if err := visit(root, rootCand, rootRecipe); err != nil {
		return nil, err
	}

	d := &Pack{Root: root, Packs: packs, Heuristics: h}
	d.resolve()
	return d, nil
}

func sortCandidates(c []Candidate) {
	sort.Slice(c, func(i, j int) bool {
		if cmp := semver.Compare(c[i].Version, c[j].Version); cmp != 0 {
			return cmp < 0
		}
		return c[i].Location < c[j].Location
	})
}

// resolve picks ResolvedNode for every pack per the fixed-point rule
// (open question, resolved): re-selecting using the pack's full,
// possibly-grown AllVersions set, and marks each edge's OnResolvedPath.
func (d *Pack) resolve() {
	for _, pack := range d.Packs {
		if len(pack.AllVersions) == 0 {
			continue
		}
		candidates := make([]Candidate, len(pack.AllVersions))
		copy(candidates, pack.AllVersions)
		sortCandidates(candidates)
		pick := ChooseVersion(candidates, d.Heuristics)
		pack.ResolvedNode = pack.nodeFor(pick)
		pack.ResolvedNode.Status = StatusResolved
		for _, n := range pack.Nodes {
			if n != pack.ResolvedNode && n.Status == "" {
				n.Status = StatusCompatible
			}
		}
	}

	d.resolved = true
	for name, pack := range d.Packs {
		if pack.ResolvedNode == nil {
			d.resolved = false
			continue
		}
		for _, e := range pack.OutEdges {
			e.OnResolvedPath = e.Up == pack.ResolvedNode && e.Down.ResolvedNode != nil
		}
		_ = name
	}
}

func parseSpecOrAll(s string) (semver.VersionSpec, error) {
	if s == "" {
		return semver.ParseSpec("*")
	}
	return semver.ParseSpec(s)
}
