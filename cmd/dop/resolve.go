package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/dopamine-pm/dopamine/internal/config"
	"github.com/dopamine-pm/dopamine/internal/depdag"
)

var (
	resolveHeuristic   string
	resolveSystemAllow []string
	resolveSystemBlock []string
	resolveNoSystem    bool
	resolveLockOut     string
)

var resolveCmd = &cobra.Command{
	Use:   "resolve <recipe.toml>",
	Short: "Build the dependency DAG for a recipe and print its lock file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := loadRecipe(args[0])
		if err != nil {
			exitWithCode(ExitRecipeError)
			return err
		}

		prof, err := hostProfile()
		if err != nil {
			return err
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

		h, err := systemPolicyFromFlags(resolveNoSystem, resolveSystemAllow, resolveSystemBlock)
		if err != nil {
			return err
		}
		h.Mode = depdag.Mode(resolveHeuristic)
		pack, err := depdag.Prepare(cmd.Context(), r, prof.Matchable(), svc, h)
		if err != nil {
			exitWithCode(ExitDepError)
			return err
		}

		lf := pack.ToLockFile()
		raw, err := depdag.MarshalCanonicalJSON(lf)
		if err != nil {
			return err
		}

		if resolveLockOut == "" || resolveLockOut == "-" {
			printInfo(string(raw))
			return nil
		}
		return os.WriteFile(resolveLockOut, append(raw, '\n'), 0o644)
	},
}

func init() {
	resolveCmd.Flags().StringVar(&resolveHeuristic, "heuristic", string(depdag.PreferCache), "version-selection mode (prefer-system, prefer-cache, prefer-local, pick-highest)")
	resolveCmd.Flags().StringSliceVar(&resolveSystemAllow, "allow-system", nil, "package names eligible for the system location (default: all)")
	resolveCmd.Flags().StringSliceVar(&resolveSystemBlock, "block-system", nil, "package names ineligible for the system location (default: none)")
	resolveCmd.Flags().BoolVar(&resolveNoSystem, "no-system", false, "never consider the system location")
	resolveCmd.Flags().StringVarP(&resolveLockOut, "out", "o", "", "write the lock file here instead of stdout")
}
