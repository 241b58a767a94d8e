// Package recipe implements C4 RecipeHost: loading, classifying, and
// evaluating a declarative dopamine.toml recipe file.
//
// A recipe is a typed declarative document plus a constrained
// expression layer for conditional dependencies and steps, not a
// sandboxed scripting host: there is no embedded interpreter, hooks are
// ordered step lists evaluated directly by RecipeHost.
package recipe

import (
	"fmt"

	"github.com/dopamine-pm/dopamine/internal/semver"
)

// Kind classifies a loaded recipe (spec §3: a light recipe has no build
// hook; a package recipe must have one and a source).
type Kind string

const (
	KindLight   Kind = "light"
	KindPackage Kind = "package"
)

// Metadata carries the recipe's descriptive fields.
type Metadata struct {
	Name          string   `toml:"name"`
	Description   string   `toml:"description,omitempty"`
	License       string   `toml:"license,omitempty"`
	Copyright     string   `toml:"copyright,omitempty"`
	Langs         []string `toml:"langs,omitempty"`
	VersionFormat string   `toml:"version_format,omitempty"`
	// Type, if set explicitly to "light", satisfies the light-recipe
	// classification rule even when Dependencies only contains
	// conditional (When-guarded) entries that may resolve to empty on
	// the evaluating platform.
	Type string `toml:"type,omitempty"`
}

// DependencyBlock is one declared dependency, optionally platform-gated.
type DependencyBlock struct {
	Name    string                 `toml:"name"`
	Spec    string                 `toml:"spec"`
	Options map[string]interface{} `toml:"options,omitempty"`
	When    *WhenClause            `toml:"when,omitempty"`
}

// Source describes how a package recipe's source tree is obtained:
// either a constant path relative to the recipe root, or an ordered list
// of fetch steps that produce a directory.
type Source struct {
	Path  string `toml:"path,omitempty"`
	Fetch []Step `toml:"fetch,omitempty"`
}

// IsEmpty reports whether no source is declared at all.
func (s Source) IsEmpty() bool {
	return s.Path == "" && len(s.Fetch) == 0
}

// Steps groups the three build-phase hook step lists (spec §4.4:
// build/stage/post_stage).
type Steps struct {
	Build     []Step `toml:"build,omitempty"`
	Stage     []Step `toml:"stage,omitempty"`
	PostStage []Step `toml:"post_stage,omitempty"`
}

// RevisionSection configures the revision fingerprint (spec §4.4
// resolution order: explicit argument, then host-computed content hash,
// then this declared override).
type RevisionSection struct {
	// Value, if set, overrides the content hash with a literal string.
	// Omit (or set to "content", the default) to use the SHA-1 of the
	// recipe file's bytes.
	Value string `toml:"value,omitempty"`
}

// Recipe is the parsed, validated in-memory form of a dopamine.toml
// file. Use Load to construct one.
type Recipe struct {
	Metadata      Metadata          `toml:"metadata"`
	Version       string            `toml:"version"`
	Dependencies  []DependencyBlock `toml:"dependencies"`
	Source        Source            `toml:"source"`
	Steps         Steps             `toml:"steps"`
	StageDisabled bool              `toml:"stage_disabled,omitempty"`
	Revision      RevisionSection   `toml:"revision"`

	// Kind is computed at load time, not read from TOML.
	Kind Kind `toml:"-"`

	// path is the absolute path to the source dopamine.toml, retained
	// for content-hash revision computation and relative source
	// resolution.
	path string `toml:"-"`
}

// LoadError reports a structural or parse failure while loading a
// recipe (spec §7: RecipeError, "surfaced with recipe filename").
type LoadError struct {
	Path string
	Msg  string
	Err  error
}

func (e *LoadError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("recipe: %s: %s: %v", e.Path, e.Msg, e.Err)
	}
	return fmt.Sprintf("recipe: %s: %s", e.Path, e.Msg)
}

func (e *LoadError) Unwrap() error { return e.Err }

// Name returns the recipe's package name.
func (r *Recipe) Name() string { return r.Metadata.Name }

// ParsedVersion parses Version as a Semver.
func (r *Recipe) ParsedVersion() (semver.Semver, error) {
	return semver.Parse(r.Version)
}

// IsLight reports whether this is a light (dependency-only) recipe.
func (r *Recipe) IsLight() bool { return r.Kind == KindLight }

// IsPackage reports whether this is a buildable package recipe.
func (r *Recipe) IsPackage() bool { return r.Kind == KindPackage }

// HasStage reports whether the recipe defines a stage hook. When false
// and StageDisabled is set, Stager treats "stage = false": the archive
// stage targets the install prefix directly and no relocation hook runs.
func (r *Recipe) HasStage() bool { return len(r.Steps.Stage) > 0 }

// classify applies the spec §4.4 classification rule and returns a
// structural validation error if violated.
func (r *Recipe) classify() error {
	hasBuild := len(r.Steps.Build) > 0
	switch {
	case hasBuild:
		r.Kind = KindPackage
		if r.Source.IsEmpty() {
			return fmt.Errorf("package recipe %q declares a build hook but no [source]", r.Metadata.Name)
		}
	case r.Metadata.Type == string(KindLight):
		r.Kind = KindLight
	case len(r.Dependencies) > 0:
		r.Kind = KindLight
	default:
		return fmt.Errorf("recipe %q has no build hook and no dependencies: cannot classify as light or package", r.Metadata.Name)
	}
	return nil
}
