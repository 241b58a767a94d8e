package stager

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/dopamine-pm/dopamine/internal/depdag"
)

// LeafFunc builds one resolved DAG node, given a Stager scoped to that
// node's own RecipeHost (spec §5: "parallel execution is permitted
// across independent DAG leaves only when each worker owns its own
// RecipeHost instance").
type LeafFunc func(ctx context.Context, node *depdag.DagNode) error

// RunBottomUp drives every resolved node in pack through build, in the
// deterministic bottom-up order, running nodes with no unfinished
// dependency concurrently up to maxParallel at a time. maxParallel <= 0
// means unlimited.
func RunBottomUp(ctx context.Context, pack *depdag.Pack, maxParallel int, build LeafFunc) error {
	order := pack.TraverseBottomUpResolved()
	done := make(map[*depdag.DagNode]bool, len(order))

	depsOf := dependencyIndex(pack)

	g, gctx := errgroup.WithContext(ctx)
	if maxParallel > 0 {
		g.SetLimit(maxParallel)
	}

	remaining := append([]*depdag.DagNode{}, order...)
	for len(remaining) > 0 {
		var ready []*depdag.DagNode
		var rest []*depdag.DagNode
		for _, n := range remaining {
			if allDone(depsOf[n], done) {
				ready = append(ready, n)
			} else {
				rest = append(rest, n)
			}
		}
		if len(ready) == 0 {
			// Shouldn't happen for an acyclic resolved DAG, but avoid an
			// infinite loop if it somehow does.
			break
		}
		for _, n := range ready {
			n := n
			g.Go(func() error {
				return build(gctx, n)
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
		for _, n := range ready {
			done[n] = true
		}
		remaining = rest
		g, gctx = errgroup.WithContext(ctx)
		if maxParallel > 0 {
			g.SetLimit(maxParallel)
		}
	}
	return nil
}

func dependencyIndex(pack *depdag.Pack) map[*depdag.DagNode][]*depdag.DagNode {
	out := map[*depdag.DagNode][]*depdag.DagNode{}
	for _, p := range pack.Packs {
		for _, e := range p.OutEdges {
			if !e.OnResolvedPath {
				continue
			}
			out[e.Up] = append(out[e.Up], e.Down.ResolvedNode)
		}
	}
	return out
}

func allDone(deps []*depdag.DagNode, done map[*depdag.DagNode]bool) bool {
	for _, d := range deps {
		if !done[d] {
			return false
		}
	}
	return true
}
