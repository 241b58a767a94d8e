package functional

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/cucumber/godog"
)

func aCleanDopamineEnvironment(ctx context.Context) (context.Context, error) {
	return ctx, nil
}

func aRecipeFile(ctx context.Context, filename string, doc *godog.DocString) (context.Context, error) {
	state := getState(ctx)
	path := filepath.Join(state.recipeDir, filename)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return ctx, err
	}
	return ctx, os.WriteFile(path, []byte(doc.Content), 0o644)
}

func theRegistryHasPackage(ctx context.Context, name, version, revision string, doc *godog.DocString) (context.Context, error) {
	state := getState(ctx)
	state.catalog.packages[name] = append(state.catalog.packages[name], registryVersionEntry{version: version, revision: revision})
	state.catalog.recipeTexts[revision] = doc.Content
	return ctx, nil
}

func theCacheHasPackage(ctx context.Context, name, version, revision string, doc *godog.DocString) (context.Context, error) {
	state := getState(ctx)
	dir := filepath.Join(state.homeDir, "cache", "packages", name, version, revision)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return ctx, err
	}
	return ctx, os.WriteFile(filepath.Join(dir, "dopamine.toml"), []byte(doc.Content), 0o644)
}

// theSystemReportsPackage installs (or extends) a fake pkg-config on
// PATH that reports version for name and fails for every other name,
// simulating the LocationSystem backend without a real toolchain.
func theSystemReportsPackage(ctx context.Context, name, version string) (context.Context, error) {
	state := getState(ctx)
	if state.sysVersions == nil {
		state.sysVersions = map[string]string{}
	}
	state.sysVersions[name] = version

	var b strings.Builder
	b.WriteString("#!/bin/sh\ncase \"$2\" in\n")
	for n, v := range state.sysVersions {
		fmt.Fprintf(&b, "  %s) echo %q; exit 0 ;;\n", n, v)
	}
	b.WriteString("  *) exit 1 ;;\nesac\n")

	script := filepath.Join(state.pathExtra, "pkg-config")
	if err := os.WriteFile(script, []byte(b.String()), 0o755); err != nil {
		return ctx, err
	}
	return ctx, nil
}

func iRun(ctx context.Context, command string) (context.Context, error) {
	state := getState(ctx)
	if state == nil {
		return ctx, fmt.Errorf("no test state; is the Before hook running?")
	}

	args := strings.Fields(command)
	if len(args) > 0 && args[0] == "dop" {
		args[0] = state.binPath
	}

	cmd := exec.Command(args[0], args[1:]...)
	cmd.Dir = state.recipeDir
	cmd.Env = append(os.Environ(),
		"DOP_HOME="+state.homeDir,
		"DOP_REGISTRY="+state.registry.URL,
		"PATH="+state.pathExtra+string(os.PathListSeparator)+os.Getenv("PATH"),
	)

	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	state.stdout = stdout.String()
	state.stderr = stderr.String()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			state.exitCode = exitErr.ExitCode()
		} else {
			return ctx, fmt.Errorf("command execution failed: %w", err)
		}
	} else {
		state.exitCode = 0
	}
	return ctx, nil
}

// iTouchTheRecipeFile bumps a recipe file's mtime a full second into
// the future, so the Stager's flag-freshness comparison (spec §4.9:
// "greater than the recipe file mtime") is unambiguous regardless of
// filesystem mtime resolution.
func iTouchTheRecipeFile(ctx context.Context, filename string) error {
	state := getState(ctx)
	path := filepath.Join(state.recipeDir, filename)
	future := time.Now().Add(2 * time.Second)
	return os.Chtimes(path, future, future)
}

// findBuildArchive locates the single .tar.xz the Stager's archive
// step drops directly under the recipe's .dop directory (sibling of the
// per-buildid work dirs, not nested under one), per layout.BuildConfigDir.
func findBuildArchive(state *testState) (string, error) {
	matches, err := filepath.Glob(filepath.Join(state.recipeDir, ".dop", "*.tar.xz"))
	if err != nil {
		return "", err
	}
	if len(matches) != 1 {
		return "", fmt.Errorf("expected exactly one build archive under .dop, found %d: %v", len(matches), matches)
	}
	return matches[0], nil
}

// iRecordTheModificationTimeOfTheBuildArchive stashes the archive's
// mtime so a later rerun's staleness can be judged by comparison, since
// the Stager has no "up-to-date" log line to assert against directly.
func iRecordTheModificationTimeOfTheBuildArchive(ctx context.Context) error {
	state := getState(ctx)
	path, err := findBuildArchive(state)
	if err != nil {
		return err
	}
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	state.recordedMtime = info.ModTime()
	return nil
}

func theBuildArchiveModificationTimeIsUnchanged(ctx context.Context) error {
	state := getState(ctx)
	path, err := findBuildArchive(state)
	if err != nil {
		return err
	}
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if !info.ModTime().Equal(state.recordedMtime) {
		return fmt.Errorf("expected archive mtime unchanged at %s, was %s, now %s", path, state.recordedMtime, info.ModTime())
	}
	return nil
}

func theBuildArchiveModificationTimeIsNewer(ctx context.Context) error {
	state := getState(ctx)
	path, err := findBuildArchive(state)
	if err != nil {
		return err
	}
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if !info.ModTime().After(state.recordedMtime) {
		return fmt.Errorf("expected archive mtime to advance past %s, got %s", state.recordedMtime, info.ModTime())
	}
	return nil
}

func theExitCodeIs(ctx context.Context, expected int) error {
	state := getState(ctx)
	if state.exitCode != expected {
		return fmt.Errorf("expected exit code %d, got %d\nstdout: %s\nstderr: %s",
			expected, state.exitCode, state.stdout, state.stderr)
	}
	return nil
}

func theOutputContains(ctx context.Context, expected string) error {
	state := getState(ctx)
	if !strings.Contains(state.stdout, expected) && !strings.Contains(state.stderr, expected) {
		return fmt.Errorf("expected output to contain %q\nstdout: %s\nstderr: %s", expected, state.stdout, state.stderr)
	}
	return nil
}

func theOutputDoesNotContain(ctx context.Context, unexpected string) error {
	state := getState(ctx)
	if strings.Contains(state.stdout, unexpected) || strings.Contains(state.stderr, unexpected) {
		return fmt.Errorf("expected output not to contain %q\nstdout: %s\nstderr: %s", unexpected, state.stdout, state.stderr)
	}
	return nil
}

type lockVersionView struct {
	Version  string `json:"version"`
	Location string `json:"location"`
	Status   string `json:"status"`
}

type lockPackageView struct {
	Name     string            `json:"name"`
	Versions []lockVersionView `json:"versions"`
}

type lockFileView struct {
	Packages []lockPackageView `json:"packages"`
}

func theLockFileResolves(ctx context.Context, name, version, location string) error {
	state := getState(ctx)
	var lf lockFileView
	if err := json.Unmarshal([]byte(state.stdout), &lf); err != nil {
		return fmt.Errorf("parse lock file from stdout: %w\nstdout: %s", err, state.stdout)
	}
	for _, pkg := range lf.Packages {
		if pkg.Name != name {
			continue
		}
		for _, v := range pkg.Versions {
			if v.Version == version && v.Location == location && v.Status == "resolved" {
				return nil
			}
		}
	}
	return fmt.Errorf("no resolved entry for %s@%s at %s in lock file:\n%s", name, version, location, state.stdout)
}
