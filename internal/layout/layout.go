// Package layout implements the deterministic on-disk cache layout and
// the flag-file staleness rule (spec §4.3) that the Stager uses to skip
// stages that are already up to date.
package layout

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dopamine-pm/dopamine/internal/config"
)

// FlagFile is a small on-disk marker whose mtime carries the semantic
// "this stage completed at this time" signal. An absent flag file is a
// valid FlagFile value (Exists reports false).
type FlagFile struct {
	Path string
}

// Exists reports whether the flag file is present.
func (f FlagFile) Exists() bool {
	_, err := os.Stat(f.Path)
	return err == nil
}

// Mtime returns the flag file's modification time, or the zero time if
// the file does not exist.
func (f FlagFile) Mtime() time.Time {
	info, err := os.Stat(f.Path)
	if err != nil {
		return time.Time{}
	}
	return info.ModTime()
}

// Touch creates or updates the flag file, optionally writing payload as
// its contents, and sets its mtime to now.
func (f FlagFile) Touch(payload string) error {
	if err := os.MkdirAll(filepath.Dir(f.Path), 0o755); err != nil {
		return fmt.Errorf("layout: mkdir for flag %s: %w", f.Path, err)
	}
	if err := os.WriteFile(f.Path, []byte(payload), 0o644); err != nil {
		return fmt.Errorf("layout: touch flag %s: %w", f.Path, err)
	}
	now := time.Now()
	if err := os.Chtimes(f.Path, now, now); err != nil {
		return fmt.Errorf("layout: chtimes flag %s: %w", f.Path, err)
	}
	return nil
}

// Read returns the flag file's payload text. Returns an empty string if
// the file does not exist.
func (f FlagFile) Read() (string, error) {
	data, err := os.ReadFile(f.Path)
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("layout: read flag %s: %w", f.Path, err)
	}
	return string(data), nil
}

// Remove deletes the flag file, if present. Removing an absent flag is
// not an error (it invalidates the stage it marks, which is the safe
// outcome).
func (f FlagFile) Remove() error {
	err := os.Remove(f.Path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("layout: remove flag %s: %w", f.Path, err)
	}
	return nil
}

// IsFresh implements the spec's staleness rule: successor is satisfied
// for every prerequisite iff it exists, postdates every prerequisite's
// flag, and postdates the recipe file. An empty prerequisites slice
// means "no dependency besides the recipe file itself" (e.g. the first
// stage, source readiness).
func IsFresh(successor FlagFile, prerequisites []FlagFile, recipeMtime time.Time) bool {
	if !successor.Exists() {
		return false
	}
	sm := successor.Mtime()
	if !sm.After(recipeMtime) {
		return false
	}
	for _, p := range prerequisites {
		if !p.Exists() {
			return false
		}
		if !sm.After(p.Mtime()) {
			return false
		}
	}
	return true
}

// Paths resolves every cache and work-directory path named in spec §4.3,
// rooted at the resolved Config.
type Paths struct {
	cfg *config.Config
}

// New returns a Paths rooted at cfg.
func New(cfg *config.Config) Paths {
	return Paths{cfg: cfg}
}

// RevisionDir is the content-addressed recipe tree for (name, version,
// revision): cache/packages/<name>/<version>/<revision>/.
func (p Paths) RevisionDir(name, version, revision string) string {
	return filepath.Join(p.cfg.PackagesDir, name, version, revision)
}

// VersionDir is cache/packages/<name>/<version>/, the parent of every
// revision directory for that version.
func (p Paths) VersionDir(name, version string) string {
	return filepath.Join(p.cfg.PackagesDir, name, version)
}

// PackageDir is cache/packages/<name>/, the parent of every version
// directory for that package.
func (p Paths) PackageDir(name string) string {
	return filepath.Join(p.cfg.PackagesDir, name)
}

// RevisionFlag is the per-revision lock/flag sibling file,
// cache/packages/<name>/<version>/.<revision>, which marks a revision
// directory as fully written (as opposed to torn mid-fetch).
func (p Paths) RevisionFlag(name, version, revision string) FlagFile {
	return FlagFile{Path: filepath.Join(p.VersionDir(name, version), "."+revision)}
}

// RecipeFile is the recipe file within a revision directory.
func (p Paths) RecipeFile(name, version, revision string) string {
	return filepath.Join(p.RevisionDir(name, version, revision), RecipeFileName)
}

// RecipeFileName is the recognized recipe file name at a package root
// (spec §6). RecipeHost evaluates it as a typed declarative document,
// so the file carries the ".toml" extension while keeping the
// "dopamine" stem.
const RecipeFileName = "dopamine.toml"

// RecipeDopDir is <recipeDir>/.dop, the root of all work-directory state
// for an in-tree recipe being built.
func (p Paths) RecipeDopDir(recipeDir string) string {
	return filepath.Join(recipeDir, ".dop")
}

// BuildConfigDir is <recipeDir>/.dop/<build-id[0..10]>, the work
// directory for one BuildConfig.
func (p Paths) BuildConfigDir(recipeDir, buildIDPrefix string) string {
	return filepath.Join(p.RecipeDopDir(recipeDir), buildIDPrefix)
}

// BuildDir is the build sandbox within a BuildConfig's work directory.
func (p Paths) BuildDir(recipeDir, buildIDPrefix string) string {
	return filepath.Join(p.BuildConfigDir(recipeDir, buildIDPrefix), "build")
}

// InstallDir is the staged install prefix within a BuildConfig's work
// directory.
func (p Paths) InstallDir(recipeDir, buildIDPrefix string) string {
	return filepath.Join(p.BuildConfigDir(recipeDir, buildIDPrefix), "install")
}

// ConfigOkFlag marks configure-stage completion for a BuildConfig.
func (p Paths) ConfigOkFlag(recipeDir, buildIDPrefix string) FlagFile {
	return FlagFile{Path: filepath.Join(p.BuildConfigDir(recipeDir, buildIDPrefix), ".config-ok")}
}

// BuildOkFlag marks build-stage completion for a BuildConfig.
func (p Paths) BuildOkFlag(recipeDir, buildIDPrefix string) FlagFile {
	return FlagFile{Path: filepath.Join(p.BuildConfigDir(recipeDir, buildIDPrefix), ".build-ok")}
}

// InstallOkFlag marks install-stage completion for a BuildConfig.
func (p Paths) InstallOkFlag(recipeDir, buildIDPrefix string) FlagFile {
	return FlagFile{Path: filepath.Join(p.BuildConfigDir(recipeDir, buildIDPrefix), ".install-ok")}
}

// ArchiveOkFlag marks archive-stage completion for a BuildConfig. The
// archive stage is not named in the §4.3 layout diagram (which predates
// the Stager's archive step); it is placed alongside the other flags for
// the same BuildConfig.
func (p Paths) ArchiveOkFlag(recipeDir, buildIDPrefix string) FlagFile {
	return FlagFile{Path: filepath.Join(p.BuildConfigDir(recipeDir, buildIDPrefix), ".archive-ok")}
}

// SourceFlag is <recipeDir>/.dop/.source, pointing at the fetched source
// directory. Its payload is the absolute source directory path.
func (p Paths) SourceFlag(recipeDir string) FlagFile {
	return FlagFile{Path: filepath.Join(p.RecipeDopDir(recipeDir), ".source")}
}

// StateFile is <recipeDir>/.dop/state.json, holding {srcDir?, buildTime?}.
func (p Paths) StateFile(recipeDir string) string {
	return filepath.Join(p.RecipeDopDir(recipeDir), "state.json")
}

// State is the top-level per-recipe state document (spec §6).
type State struct {
	SrcDir    string `json:"srcDir,omitempty"`
	BuildTime string `json:"buildTime,omitempty"`
}

// ReadState loads the state file at path. A missing file yields a zero
// State and no error.
func ReadState(path string) (State, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return State{}, nil
	}
	if err != nil {
		return State{}, fmt.Errorf("layout: read state %s: %w", path, err)
	}
	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		return State{}, fmt.Errorf("layout: parse state %s: %w", path, err)
	}
	return s, nil
}

// WriteState atomically writes the state file at path.
func WriteState(path string, s State) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("layout: mkdir for state %s: %w", path, err)
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("layout: marshal state: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("layout: write state tmp %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("layout: rename state %s: %w", path, err)
	}
	return nil
}
