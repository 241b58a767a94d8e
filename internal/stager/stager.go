// Package stager implements C9: driving a single package through its
// source/configure/build/install/stage/archive stages, with progress
// recorded by flag files so that a rerun skips whatever is still fresh.
package stager

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/dopamine-pm/dopamine/internal/archive"
	"github.com/dopamine-pm/dopamine/internal/layout"
	dopamlog "github.com/dopamine-pm/dopamine/internal/log"
	"github.com/dopamine-pm/dopamine/internal/recipe"
)

// State names one point in the Stager's state machine (spec §4.9).
type State string

const (
	StateFresh        State = "fresh"
	StateSourceReady  State = "source-ready"
	StateConfigReady  State = "config-ready"
	StateBuildReady   State = "build-ready"
	StateInstallReady State = "install-ready"
	StateArchiveReady State = "archive-ready"
)

// Stage identifies one of the Stager's transition functions, named for
// error wrapping and logging.
type Stage string

const (
	StageSource    Stage = "source"
	StageConfigure Stage = "configure"
	StageBuild     Stage = "build"
	StageInstall   Stage = "install"
	StageStage     Stage = "stage"
	StageArchive   Stage = "archive"
)

// StageError reports which stage failed and wraps the underlying cause
// (spec §7/§4.9: "exceptions from recipe hooks are surfaced to the
// caller").
type StageError struct {
	Stage Stage
	Name  string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stager: %s: stage %s: %v", e.Name, e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// Plan names the concrete on-disk locations one Stager run drives a
// package through, and the recipe file's mtime used for the staleness
// rule (spec §4.3).
type Plan struct {
	RecipeDir     string
	BuildIDPrefix string
	Dirs          recipe.BuildDirs
	RecipeMtime   time.Time
	ArchivePath   string
}

// Stager drives one package's recipe through its stages, using host to
// evaluate hooks and paths/archiver for on-disk state and packaging.
type Stager struct {
	Host     *recipe.RecipeHost
	Paths    layout.Paths
	Archiver recipe.Archiver
	Log      dopamlog.Logger
}

// New constructs a Stager. A nil log falls back to a noop logger; a nil
// archiver falls back to the tar+xz codec.
func New(host *recipe.RecipeHost, paths layout.Paths, archiver recipe.Archiver, log dopamlog.Logger) *Stager {
	if log == nil {
		log = dopamlog.NewNoop()
	}
	if archiver == nil {
		archiver = archive.New()
	}
	return &Stager{Host: host, Paths: paths, Archiver: archiver, Log: log}
}

func (s *Stager) name() string { return s.Host.Recipe.Name() }

// Run drives the package through every stage up to and including
// archiving, skipping any stage whose flag file is already fresh.
func (s *Stager) Run(ctx context.Context, plan Plan, env map[string]string) error {
	if err := s.ensureSource(ctx, plan, env); err != nil {
		return err
	}
	if err := s.ensureConfigure(ctx, plan, env); err != nil {
		return err
	}
	if err := s.ensureBuild(ctx, plan, env); err != nil {
		return err
	}
	if err := s.ensureInstall(ctx, plan, env); err != nil {
		return err
	}
	if err := s.ensureStage(ctx, plan, env); err != nil {
		return err
	}
	return s.ensureArchive(ctx, plan)
}

func (s *Stager) ensureSource(ctx context.Context, plan Plan, env map[string]string) error {
	flag := s.Paths.SourceFlag(plan.RecipeDir)
	if layout.IsFresh(flag, nil, plan.RecipeMtime) {
		return nil
	}
	if s.Host.Recipe.Source.IsEmpty() {
		return flag.Touch(plan.Dirs.Source)
	}
	if err := os.MkdirAll(plan.Dirs.Source, 0o755); err != nil {
		return &StageError{Stage: StageSource, Name: s.name(), Err: err}
	}
	if err := s.Host.Source(ctx, plan.Dirs, env); err != nil {
		return &StageError{Stage: StageSource, Name: s.name(), Err: err}
	}
	return flag.Touch(plan.Dirs.Source)
}

// ensureConfigure is a bookkeeping-only transition: the recipe model
// folds configure steps into the build hook (cmake/meson actions run
// their own configure+build two-step, see internal/recipe/exec.go), so
// this stage only exists to give ConfigReady a flag to stand on.
func (s *Stager) ensureConfigure(ctx context.Context, plan Plan, env map[string]string) error {
	flag := s.Paths.ConfigOkFlag(plan.RecipeDir, plan.BuildIDPrefix)
	source := s.Paths.SourceFlag(plan.RecipeDir)
	if layout.IsFresh(flag, []layout.FlagFile{source}, plan.RecipeMtime) {
		return nil
	}
	if err := os.MkdirAll(plan.Dirs.Build, 0o755); err != nil {
		return &StageError{Stage: StageConfigure, Name: s.name(), Err: err}
	}
	return flag.Touch("")
}

func (s *Stager) ensureBuild(ctx context.Context, plan Plan, env map[string]string) error {
	flag := s.Paths.BuildOkFlag(plan.RecipeDir, plan.BuildIDPrefix)
	config := s.Paths.ConfigOkFlag(plan.RecipeDir, plan.BuildIDPrefix)
	if layout.IsFresh(flag, []layout.FlagFile{config}, plan.RecipeMtime) {
		return nil
	}
	if err := s.Host.Build(ctx, plan.Dirs, env); err != nil {
		return &StageError{Stage: StageBuild, Name: s.name(), Err: err}
	}
	return flag.Touch("")
}

func (s *Stager) ensureInstall(ctx context.Context, plan Plan, env map[string]string) error {
	flag := s.Paths.InstallOkFlag(plan.RecipeDir, plan.BuildIDPrefix)
	build := s.Paths.BuildOkFlag(plan.RecipeDir, plan.BuildIDPrefix)
	if layout.IsFresh(flag, []layout.FlagFile{build}, plan.RecipeMtime) {
		return nil
	}
	if err := os.MkdirAll(plan.Dirs.Install, 0o755); err != nil {
		return &StageError{Stage: StageInstall, Name: s.name(), Err: err}
	}
	return flag.Touch("")
}

// ensureStage runs the stage hook only when the recipe defines one.
// When HasStage() is false and the recipe set stage_disabled, the
// archive targets the install prefix directly with no relocation hook.
func (s *Stager) ensureStage(ctx context.Context, plan Plan, env map[string]string) error {
	if !s.Host.Recipe.HasStage() {
		return nil
	}
	if err := s.Host.Stage(ctx, plan.Dirs, env); err != nil {
		return &StageError{Stage: StageStage, Name: s.name(), Err: err}
	}
	if err := s.Host.PostStage(ctx, plan.Dirs, env); err != nil {
		return &StageError{Stage: StageStage, Name: s.name(), Err: err}
	}
	return nil
}

func (s *Stager) ensureArchive(ctx context.Context, plan Plan) error {
	flag := s.Paths.ArchiveOkFlag(plan.RecipeDir, plan.BuildIDPrefix)
	install := s.Paths.InstallOkFlag(plan.RecipeDir, plan.BuildIDPrefix)
	if layout.IsFresh(flag, []layout.FlagFile{install}, plan.RecipeMtime) {
		return nil
	}
	if err := s.Archiver.Create(plan.Dirs.Install, plan.ArchivePath); err != nil {
		return &StageError{Stage: StageArchive, Name: s.name(), Err: err}
	}
	return flag.Touch(plan.ArchivePath)
}

// Status inspects which stage the package has reached, without running
// anything (used by callers reporting progress or deciding whether a
// rebuild is needed at all).
func (s *Stager) Status(plan Plan) State {
	source := s.Paths.SourceFlag(plan.RecipeDir)
	config := s.Paths.ConfigOkFlag(plan.RecipeDir, plan.BuildIDPrefix)
	build := s.Paths.BuildOkFlag(plan.RecipeDir, plan.BuildIDPrefix)
	install := s.Paths.InstallOkFlag(plan.RecipeDir, plan.BuildIDPrefix)
	archiveFlag := s.Paths.ArchiveOkFlag(plan.RecipeDir, plan.BuildIDPrefix)

	switch {
	case layout.IsFresh(archiveFlag, []layout.FlagFile{install}, plan.RecipeMtime):
		return StateArchiveReady
	case layout.IsFresh(install, []layout.FlagFile{build}, plan.RecipeMtime):
		return StateInstallReady
	case layout.IsFresh(build, []layout.FlagFile{config}, plan.RecipeMtime):
		return StateBuildReady
	case layout.IsFresh(config, []layout.FlagFile{source}, plan.RecipeMtime):
		return StateConfigReady
	case layout.IsFresh(source, nil, plan.RecipeMtime):
		return StateSourceReady
	default:
		return StateFresh
	}
}
