package recipe

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	dopamlog "github.com/dopamine-pm/dopamine/internal/log"
)

// Load reads and parses a dopamine.toml file, classifying it and
// validating every When clause it declares.
func Load(path string) (*Recipe, error) {
	var r Recipe
	if _, err := toml.DecodeFile(path, &r); err != nil {
		return nil, &LoadError{Path: path, Msg: "parse failed", Err: err}
	}
	r.path = path

	if r.Metadata.Name == "" {
		return nil, &LoadError{Path: path, Msg: "missing metadata.name"}
	}
	if _, err := r.ParsedVersion(); err != nil {
		return nil, &LoadError{Path: path, Msg: "invalid version", Err: err}
	}

	for i := range r.Dependencies {
		if err := r.Dependencies[i].When.Validate(); err != nil {
			return nil, &LoadError{Path: path, Msg: fmt.Sprintf("dependency %q", r.Dependencies[i].Name), Err: err}
		}
	}

	if err := r.classify(); err != nil {
		return nil, &LoadError{Path: path, Msg: "classification failed", Err: err}
	}
	return &r, nil
}

// Revision resolves the recipe's content fingerprint per the spec §4.4
// resolution order: an explicit argument wins, then a declared
// revision.value override, then the SHA-1 of the recipe file's bytes.
func (r *Recipe) Revision(explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	if r.Revision.Value != "" && r.Revision.Value != "content" {
		return r.Revision.Value, nil
	}
	return r.contentHash()
}

func (r *Recipe) contentHash() (string, error) {
	if r.path == "" {
		return "", fmt.Errorf("recipe %q: no backing file to hash", r.Metadata.Name)
	}
	data, err := os.ReadFile(r.path)
	if err != nil {
		return "", fmt.Errorf("recipe %q: read for revision hash: %w", r.Metadata.Name, err)
	}
	sum := sha1.Sum(data)
	return hex.EncodeToString(sum[:]), nil
}

// ActiveDependencies filters Dependencies down to those whose When clause
// matches target, in declaration order.
func (r *Recipe) ActiveDependencies(target Matchable) []DependencyBlock {
	out := make([]DependencyBlock, 0, len(r.Dependencies))
	for _, d := range r.Dependencies {
		if d.When.Matches(target) {
			out = append(out, d)
		}
	}
	return out
}

// BuildDirs names the three working directories a hook evaluation runs
// against: the fetched/unpacked source tree, a scratch build directory,
// and the staging install prefix.
type BuildDirs struct {
	Source  string
	Build   string
	Install string
}

// RecipeHost evaluates one recipe's hooks against a concrete set of
// directories and a resolved dependency environment. Each RecipeHost
// evaluation is single-threaded (spec §5); parallelism across
// independent DAG leaves uses one RecipeHost per leaf.
type RecipeHost struct {
	Recipe   *Recipe
	Executor *Executor
	Target   Matchable
	Log      dopamlog.Logger
}

// NewHost constructs a RecipeHost for r, evaluated against target using
// exec as the step executor. A nil Log falls back to a noop logger.
func NewHost(r *Recipe, exec *Executor, target Matchable, log dopamlog.Logger) *RecipeHost {
	if log == nil {
		log = dopamlog.NewNoop()
	}
	return &RecipeHost{Recipe: r, Executor: exec, Target: target, Log: log}
}

// Dependencies returns the recipe's platform-filtered dependency list.
func (h *RecipeHost) Dependencies() []DependencyBlock {
	return h.Recipe.ActiveDependencies(h.Target)
}

// Source runs the source-fetch hook, if the recipe declares one via
// [source].fetch. A recipe with a constant source.path performs no
// fetch; the caller is expected to resolve that path itself.
func (h *RecipeHost) Source(ctx context.Context, dirs BuildDirs, env map[string]string) error {
	return h.runSteps(ctx, h.Recipe.Source.Fetch, dirs.Source, env)
}

// Build runs the build hook's ordered step list.
func (h *RecipeHost) Build(ctx context.Context, dirs BuildDirs, env map[string]string) error {
	return h.runSteps(ctx, h.Recipe.Steps.Build, dirs.Build, env)
}

// Stage runs the stage hook's ordered step list. Callers should check
// h.Recipe.HasStage() first: when false and the recipe sets
// stage_disabled, the Stager installs the build output to the archive
// prefix directly and never calls Stage.
func (h *RecipeHost) Stage(ctx context.Context, dirs BuildDirs, env map[string]string) error {
	return h.runSteps(ctx, h.Recipe.Steps.Stage, dirs.Install, env)
}

// PostStage runs the post-stage hook, for steps that must run after
// staging regardless of whether staging itself ran (e.g. permission
// fixups, pkg-config file generation).
func (h *RecipeHost) PostStage(ctx context.Context, dirs BuildDirs, env map[string]string) error {
	return h.runSteps(ctx, h.Recipe.Steps.PostStage, dirs.Install, env)
}

func (h *RecipeHost) runSteps(ctx context.Context, steps []Step, workDir string, env map[string]string) error {
	local := cloneEnv(env)
	for i, step := range steps {
		if !step.Applies(h.Target) {
			h.Log.Debug("step skipped by when clause", "action", step.Action, "index", i)
			continue
		}
		if step.Action == ActionEnvSet {
			applyEnvSet(step, local)
			continue
		}
		h.Log.Debug("running step", "action", step.Action, "index", i, "note", step.Note)
		if err := h.Executor.Run(ctx, step, workDir, local); err != nil {
			return fmt.Errorf("recipe %q step %d (%s): %w", h.Recipe.Metadata.Name, i, step.Action, err)
		}
	}
	return nil
}

func cloneEnv(env map[string]string) map[string]string {
	out := make(map[string]string, len(env))
	for k, v := range env {
		out[k] = v
	}
	return out
}

func applyEnvSet(step Step, env map[string]string) {
	for k, v := range step.Params {
		if s, ok := v.(string); ok {
			env[k] = s
		}
	}
}

// RecipeDir returns the directory containing the recipe file.
func (r *Recipe) RecipeDir() string {
	if r.path == "" {
		return ""
	}
	return filepath.Dir(r.path)
}

// Path returns the absolute path Load read this recipe from.
func (r *Recipe) Path() string {
	return r.path
}
