package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dopamine-pm/dopamine/internal/buildid"
	"github.com/dopamine-pm/dopamine/internal/config"
	"github.com/dopamine-pm/dopamine/internal/depdag"
	"github.com/dopamine-pm/dopamine/internal/depservice"
	"github.com/dopamine-pm/dopamine/internal/layout"
	"github.com/dopamine-pm/dopamine/internal/profile"
	"github.com/dopamine-pm/dopamine/internal/recipe"
	"github.com/dopamine-pm/dopamine/internal/stager"
)

var (
	buildHeuristic   string
	buildSystemAllow []string
	buildSystemBlock []string
	buildNoSystem    bool
	buildParallel    int
	buildType        string
)

var buildCmd = &cobra.Command{
	Use:   "build <recipe.toml>",
	Short: "Resolve a recipe's dependencies and drive every package through its stages",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := loadRecipe(args[0])
		if err != nil {
			exitWithCode(ExitRecipeError)
			return err
		}
		recipeInfo, err := os.Stat(args[0])
		if err != nil {
			return err
		}

		prof, err := hostProfile()
		if err != nil {
			return err
		}
		if buildType == "debug" {
			prof = prof.WithBuildType(profile.BuildDebug)
		}

		cfg, err := config.DefaultConfig()
		if err != nil {
			return err
		}
		if err := cfg.EnsureDirectories(); err != nil {
			return err
		}

		svc, err := newDepService(cfg, logger)
		if err != nil {
			return err
		}

		h, err := systemPolicyFromFlags(buildNoSystem, buildSystemAllow, buildSystemBlock)
		if err != nil {
			return err
		}
		h.Mode = depdag.Mode(buildHeuristic)
		pack, err := depdag.Prepare(cmd.Context(), r, prof.Matchable(), svc, h)
		if err != nil {
			exitWithCode(ExitDepError)
			return err
		}

		paths := layout.New(cfg)
		archiver := newArchiver()

		recipes := map[string]*recipe.Recipe{r.Name(): r}

		leaf := func(ctx context.Context, node *depdag.DagNode) error {
			name := node.Pack.Name
			rec := recipes[name]
			if rec == nil {
				av := depservice.AvailVersion{Version: node.Cand.Version, Location: node.Cand.Location, Revision: node.Cand.Revision}
				fetched, err := svc.Recipe(ctx, name, av, node.Cand.Revision)
				if err != nil {
					return fmt.Errorf("load recipe %q: %w", name, err)
				}
				rec = fetched
				recipes[name] = rec
			}
			recipeMtime := recipeInfo.ModTime()
			if p := rec.Path(); p != "" {
				if info, err := os.Stat(p); err == nil {
					recipeMtime = info.ModTime()
				}
			}

			var deps []buildid.Dependency
			for _, e := range node.Pack.OutEdges {
				if e.OnResolvedPath {
					deps = append(deps, buildid.Dependency{
						Name:     e.Down.Name,
						Version:  e.Down.ResolvedNode.Cand.Version.String(),
						Revision: e.Down.ResolvedNode.Cand.Revision,
					})
				}
			}
			id := buildid.Compute(buildid.Input{
				ProfileDigest: prof.DigestHash(),
				BuildType:     string(prof.BuildType),
				Dependencies:  deps,
			})

			recipeDir := rec.RecipeDir()
			dirs := recipe.BuildDirs{
				Source:  recipeDir,
				Build:   paths.BuildDir(recipeDir, id.Short()),
				Install: paths.InstallDir(recipeDir, id.Short()),
			}
			plan := stager.Plan{
				RecipeDir:     recipeDir,
				BuildIDPrefix: id.Short(),
				Dirs:          dirs,
				RecipeMtime:   recipeMtime,
				ArchivePath:   paths.BuildConfigDir(recipeDir, id.Short()) + ".tar.xz",
			}

			target := prof.Matchable()
			exec := recipe.NewExecutor(nil, archiver, logger)
			host := recipe.NewHost(rec, exec, target, logger)
			st := stager.New(host, paths, archiver, logger)

			printInfof("building %s@%s (%s)\n", name, node.Cand.Version, id.Short())
			return st.Run(ctx, plan, prof.CollectEnvironment())
		}

		if err := stager.RunBottomUp(cmd.Context(), pack, buildParallel, leaf); err != nil {
			exitWithCode(ExitBuildFailed)
			return err
		}
		printInfo("build complete")
		return nil
	},
}

func init() {
	buildCmd.Flags().StringVar(&buildHeuristic, "heuristic", string(depdag.PreferCache), "version-selection mode")
	buildCmd.Flags().StringSliceVar(&buildSystemAllow, "allow-system", nil, "package names eligible for the system location (default: all)")
	buildCmd.Flags().StringSliceVar(&buildSystemBlock, "block-system", nil, "package names ineligible for the system location (default: none)")
	buildCmd.Flags().BoolVar(&buildNoSystem, "no-system", false, "never consider the system location")
	buildCmd.Flags().IntVar(&buildParallel, "parallel", 0, "max concurrent leaf builds (0 = unbounded)")
	buildCmd.Flags().StringVar(&buildType, "type", "release", "build type: release or debug")
}
