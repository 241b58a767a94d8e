// Package functional drives the compiled dop binary through concrete
// end-to-end scenarios: godog features exec a real binary against a
// disposable DOP_HOME, never the package APIs directly.
package functional

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/cucumber/godog"
)

type stateKeyType struct{}

var stateKey = stateKeyType{}

type registryCatalog struct {
	// packages maps name -> ordered (version, revision) entries; the
	// revision doubles as the recipe ID.
	packages map[string][]registryVersionEntry
	// recipeTexts maps recipeID (== revision, in these fixtures) -> body.
	recipeTexts map[string]string
}

type registryVersionEntry struct {
	version  string
	revision string
}

type testState struct {
	homeDir       string
	recipeDir     string
	binPath       string
	pathExtra     string // prepended to PATH, holds fixture pkg-config scripts
	sysVersions   map[string]string
	stdout        string
	stderr        string
	exitCode      int
	catalog       *registryCatalog
	registry      *httptest.Server
	recordedMtime time.Time
}

func getState(ctx context.Context) *testState {
	if s, ok := ctx.Value(stateKey).(*testState); ok {
		return s
	}
	return nil
}

func setState(ctx context.Context, s *testState) context.Context {
	return context.WithValue(ctx, stateKey, s)
}

func newRegistryServer(cat *registryCatalog) *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/packages/", func(w http.ResponseWriter, r *http.Request) {
		name := strings.TrimPrefix(r.URL.Path, "/v1/packages/")
		entries, ok := cat.packages[name]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		type recipeRef struct {
			ID       string `json:"id"`
			Revision string `json:"revision"`
		}
		type versionEntry struct {
			Version string      `json:"version"`
			Recipes []recipeRef `json:"recipes"`
		}
		type packageResource struct {
			Name     string         `json:"name"`
			Versions []versionEntry `json:"versions"`
		}
		out := packageResource{Name: name}
		for _, e := range entries {
			out.Versions = append(out.Versions, versionEntry{
				Version: e.version,
				Recipes: []recipeRef{{ID: e.revision, Revision: e.revision}},
			})
		}
		json.NewEncoder(w).Encode(out)
	})
	mux.HandleFunc("/v1/recipes/", func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimPrefix(r.URL.Path, "/v1/recipes/")
		text, ok := cat.recipeTexts[id]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		type recipeResource struct {
			ID   string `json:"id"`
			Text string `json:"text"`
		}
		json.NewEncoder(w).Encode(recipeResource{ID: id, Text: text})
	})
	return httptest.NewServer(mux)
}

func TestFeatures(t *testing.T) {
	binPath := os.Getenv("DOP_TEST_BINARY")
	if binPath == "" {
		t.Skip("DOP_TEST_BINARY not set; build cmd/dop and set it to run this suite")
	}
	absBin, err := filepath.Abs(binPath)
	if err != nil {
		t.Fatalf("resolving binary path: %v", err)
	}
	binPath = absBin

	opts := &godog.Options{
		Format:   "pretty",
		Paths:    []string{"features"},
		TestingT: t,
	}
	if tags := os.Getenv("DOP_TEST_TAGS"); tags != "" {
		opts.Tags = tags
	}

	suite := godog.TestSuite{
		ScenarioInitializer: func(ctx *godog.ScenarioContext) {
			initializeScenario(ctx, binPath)
		},
		Options: opts,
	}
	if suite.Run() != 0 {
		t.Fatal("functional tests failed")
	}
}

func initializeScenario(ctx *godog.ScenarioContext, binPath string) {
	ctx.Before(func(ctx context.Context, sc *godog.Scenario) (context.Context, error) {
		root := t_TempDirFor(sc.Name)
		homeDir := filepath.Join(root, "home")
		recipeDir := filepath.Join(root, "recipe")
		pathExtra := filepath.Join(root, "fakebin")
		for _, d := range []string{homeDir, recipeDir, pathExtra} {
			if err := os.MkdirAll(d, 0o755); err != nil {
				return ctx, err
			}
		}

		cat := &registryCatalog{packages: map[string][]registryVersionEntry{}, recipeTexts: map[string]string{}}
		srv := newRegistryServer(cat)

		state := &testState{
			homeDir:   homeDir,
			recipeDir: recipeDir,
			binPath:   binPath,
			pathExtra: pathExtra,
			catalog:   cat,
			registry:  srv,
		}
		return setState(ctx, state), nil
	})

	ctx.After(func(ctx context.Context, sc *godog.Scenario, err error) (context.Context, error) {
		if s := getState(ctx); s != nil && s.registry != nil {
			s.registry.Close()
		}
		return ctx, nil
	})

	ctx.Step(`^a clean dopamine environment$`, aCleanDopamineEnvironment)
	ctx.Step(`^a recipe file "([^"]*)":$`, aRecipeFile)
	ctx.Step(`^the registry has package "([^"]*)" version "([^"]*)" revision "([^"]*)" with recipe:$`, theRegistryHasPackage)
	ctx.Step(`^the cache has package "([^"]*)" version "([^"]*)" revision "([^"]*)" with recipe:$`, theCacheHasPackage)
	ctx.Step(`^the system reports package "([^"]*)" at version "([^"]*)"$`, theSystemReportsPackage)
	ctx.Step(`^I run "([^"]*)"$`, iRun)
	ctx.Step(`^I touch the recipe file "([^"]*)"$`, iTouchTheRecipeFile)
	ctx.Step(`^the exit code is (\d+)$`, theExitCodeIs)
	ctx.Step(`^the output contains "([^"]*)"$`, theOutputContains)
	ctx.Step(`^the output does not contain "([^"]*)"$`, theOutputDoesNotContain)
	ctx.Step(`^the lock file resolves "([^"]*)" to version "([^"]*)" at location "([^"]*)"$`, theLockFileResolves)
	ctx.Step(`^I record the modification time of the build archive$`, iRecordTheModificationTimeOfTheBuildArchive)
	ctx.Step(`^the build archive's modification time is unchanged$`, theBuildArchiveModificationTimeIsUnchanged)
	ctx.Step(`^the build archive's modification time is newer than before$`, theBuildArchiveModificationTimeIsNewer)
}

// t_TempDirFor returns a fresh scratch directory per scenario. godog
// scenarios don't receive a *testing.T, so this mirrors t.TempDir's
// cleanup-free half: a unique directory under os.TempDir, left for the
// OS to reclaim rather than removed at scenario end.
func t_TempDirFor(name string) string {
	dir, err := os.MkdirTemp("", "dop-functional-*")
	if err != nil {
		panic(err)
	}
	_ = name
	return dir
}
