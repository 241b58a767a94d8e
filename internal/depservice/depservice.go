// Package depservice implements C6: aggregating package availability
// across the system probe, the local recipe cache, and the registry.
package depservice

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dopamine-pm/dopamine/internal/config"
	"github.com/dopamine-pm/dopamine/internal/layout"
	"github.com/dopamine-pm/dopamine/internal/lock"
	dopamlog "github.com/dopamine-pm/dopamine/internal/log"
	"github.com/dopamine-pm/dopamine/internal/recipe"
	"github.com/dopamine-pm/dopamine/internal/registryclient"
	"github.com/dopamine-pm/dopamine/internal/semver"
)

// Location names where a candidate version was discovered (spec §4.6/§4.7
// scoring table: system, cache, network).
type Location int

const (
	LocationSystem Location = iota
	LocationCache
	LocationNetwork
)

func (l Location) String() string {
	switch l {
	case LocationSystem:
		return "system"
	case LocationCache:
		return "cache"
	case LocationNetwork:
		return "network"
	default:
		return "unknown"
	}
}

// AvailVersion is one discovered (version, location) candidate, with its
// revision when known (system locations have no revision/recipe).
type AvailVersion struct {
	Version  semver.Semver
	Location Location
	Revision string
}

// NotFoundError reports that a recipe could not be located at any
// source for the requested (name, version, revision).
type NotFoundError struct {
	Name, Version, Revision string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("depservice: no recipe found for %s %s (revision %s)", e.Name, e.Version, e.Revision)
}

// SystemProbe resolves the versions of name visible to the host's
// pkg-config-like tool. Returning a non-nil error permanently disables
// the system backend for the remaining lifetime of the Service (spec
// §4.6: "malformed output is non-fatal and permanently disables the
// system backend for the session").
type SystemProbe func(ctx context.Context, name string) ([]string, error)

// DefaultSystemProbe shells out to pkg-config --modversion.
func DefaultSystemProbe(ctx context.Context, name string) ([]string, error) {
	out, err := exec.CommandContext(ctx, "pkg-config", "--modversion", name).Output()
	if err != nil {
		// Absence of the tool or the package is not malformed output;
		// it just means no system candidate, not backend disablement.
		return nil, nil
	}
	v := strings.TrimSpace(string(out))
	if v == "" {
		return nil, fmt.Errorf("depservice: pkg-config returned empty version for %s", name)
	}
	return []string{v}, nil
}

type memoKey struct {
	name, version, revision string
}

// Service aggregates system, cache, and network availability and
// resolves recipes from them, memoising parsed recipes in-process.
type Service struct {
	cfg      *config.Config
	paths    layout.Paths
	registry *registryclient.Client
	probe    SystemProbe
	log      dopamlog.Logger

	systemDisabled atomic.Bool

	// trustedKeys maps an uppercased PGP fingerprint to its armored
	// public key. When non-empty, a network-fetched recipe carrying a
	// Signature/SignerFingerprint must verify against one of these keys
	// or the fetch is rejected.
	trustedKeys map[string]string

	mu   sync.Mutex
	memo map[memoKey]*recipe.Recipe
}

// New constructs a Service. registry may be nil if network lookups are
// never needed (e.g. fully offline resolution against the cache).
func New(cfg *config.Config, registry *registryclient.Client, probe SystemProbe, log dopamlog.Logger) *Service {
	if probe == nil {
		probe = DefaultSystemProbe
	}
	if log == nil {
		log = dopamlog.NewNoop()
	}
	return &Service{
		cfg:      cfg,
		paths:    layout.New(cfg),
		registry: registry,
		probe:    probe,
		log:      log,
		memo:     make(map[memoKey]*recipe.Recipe),
	}
}

// TrustKey registers an armored public key under its normalized
// fingerprint, enabling signature verification for recipes the registry
// signs with it.
func (s *Service) TrustKey(fingerprint, armoredPublicKey string) {
	if s.trustedKeys == nil {
		s.trustedKeys = map[string]string{}
	}
	s.trustedKeys[NormalizeFingerprint(fingerprint)] = armoredPublicKey
}

// AvailableVersions aggregates candidates from all three sources,
// sorted ascending by (version, location).
func (s *Service) AvailableVersions(ctx context.Context, name string) ([]AvailVersion, error) {
	var out []AvailVersion

	if !s.systemDisabled.Load() {
		versions, err := s.probe(ctx, name)
		if err != nil {
			s.log.Warn("system probe returned malformed output, disabling system backend", "name", name, "err", err)
			s.systemDisabled.Store(true)
		} else {
			for _, v := range versions {
				parsed, err := semver.Parse(v)
				if err != nil {
					continue
				}
				out = append(out, AvailVersion{Version: parsed, Location: LocationSystem})
			}
		}
	}

	cacheVersions, err := s.cacheVersions(name)
	if err != nil {
		return nil, err
	}
	out = append(out, cacheVersions...)

	if s.registry != nil {
		networkVersions, err := s.networkVersions(ctx, name)
		if err != nil {
			return nil, err
		}
		out = append(out, networkVersions...)
	}

	sort.Slice(out, func(i, j int) bool {
		if cmp := semver.Compare(out[i].Version, out[j].Version); cmp != 0 {
			return cmp < 0
		}
		return out[i].Location < out[j].Location
	})
	return out, nil
}

func (s *Service) cacheVersions(name string) ([]AvailVersion, error) {
	pkgDir := s.paths.PackageDir(name)
	versionEntries, err := os.ReadDir(pkgDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("depservice: scan %s: %w", pkgDir, err)
	}

	var out []AvailVersion
	for _, ve := range versionEntries {
		if !ve.IsDir() {
			continue
		}
		v, err := semver.Parse(ve.Name())
		if err != nil {
			continue // not a valid semver folder name; skip per spec §4.6
		}

		revDir := filepath.Join(pkgDir, ve.Name())
		revisions, err := os.ReadDir(revDir)
		if err != nil {
			continue
		}
		for _, re := range revisions {
			if !re.IsDir() {
				continue
			}
			revLock, err := lock.AcquireShared(filepath.Join(revDir, re.Name()))
			if err != nil {
				continue
			}
			recipePath := s.paths.RecipeFile(name, ve.Name(), re.Name())
			if _, statErr := os.Stat(recipePath); statErr == nil {
				out = append(out, AvailVersion{Version: v, Location: LocationCache, Revision: re.Name()})
			}
			revLock.Unlock()
		}
	}
	return out, nil
}

func (s *Service) networkVersions(ctx context.Context, name string) ([]AvailVersion, error) {
	pkg, err := s.registry.GetPackage(ctx, name)
	if err != nil {
		var rerr *registryclient.RegistryError
		if ok := asRegistryError(err, &rerr); ok && rerr.Type == registryclient.ErrHTTP && rerr.StatusCode == 404 {
			return nil, nil
		}
		return nil, err
	}
	var out []AvailVersion
	for _, ve := range pkg.Versions {
		v, err := semver.Parse(ve.Version)
		if err != nil {
			continue
		}
		for _, rec := range ve.Recipes {
			out = append(out, AvailVersion{Version: v, Location: LocationNetwork, Revision: rec.Revision})
		}
	}
	return out, nil
}

// Recipe resolves the Recipe for (name, availVer), consulting the
// in-process memo first, then the cache, then the network. System
// locations have no recipe; callers must not call Recipe for them
// (spec §4.6 precondition).
func (s *Service) Recipe(ctx context.Context, name string, av AvailVersion, revision string) (*recipe.Recipe, error) {
	if av.Location == LocationSystem {
		return nil, fmt.Errorf("depservice: system location %s has no recipe", name)
	}
	if revision == "" {
		revision = av.Revision
	}

	key := memoKey{name: name, version: av.Version.String(), revision: revision}
	s.mu.Lock()
	if r, ok := s.memo[key]; ok {
		s.mu.Unlock()
		return r, nil
	}
	s.mu.Unlock()

	r, err := s.loadRecipe(ctx, name, av, revision)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.memo[key] = r
	s.mu.Unlock()
	return r, nil
}

func (s *Service) loadRecipe(ctx context.Context, name string, av AvailVersion, revision string) (*recipe.Recipe, error) {
	versionStr := av.Version.String()
	revDir := s.paths.RevisionDir(name, versionStr, revision)
	recipePath := s.paths.RecipeFile(name, versionStr, revision)

	revLock, err := lock.AcquireShared(revDir)
	if err == nil {
		if _, statErr := os.Stat(recipePath); statErr == nil {
			r, loadErr := recipe.Load(recipePath)
			revLock.Unlock()
			if loadErr == nil {
				return r, nil
			}
		} else {
			revLock.Unlock()
		}
	}

	if av.Location == LocationCache {
		return nil, &NotFoundError{Name: name, Version: versionStr, Revision: revision}
	}

	return s.fetchAndCache(ctx, name, versionStr, revision, recipePath, revDir)
}

func (s *Service) fetchAndCache(ctx context.Context, name, version, revision, recipePath, revDir string) (*recipe.Recipe, error) {
	if s.registry == nil {
		return nil, &NotFoundError{Name: name, Version: version, Revision: revision}
	}

	res, err := s.registry.GetRecipe(ctx, revision)
	if err != nil {
		if stale, staleErr := s.staleFallback(name, version, revision, recipePath, err); staleErr == nil {
			return stale, nil
		}
		return nil, err
	}

	if err := s.verifySignature(name, revision, res); err != nil {
		return nil, err
	}

	writeLock, err := lock.AcquireExclusive(revDir)
	if err != nil {
		return nil, fmt.Errorf("depservice: lock %s: %w", revDir, err)
	}
	defer writeLock.Unlock()

	if err := os.MkdirAll(filepath.Dir(recipePath), 0o755); err != nil {
		return nil, fmt.Errorf("depservice: mkdir for %s: %w", recipePath, err)
	}
	tmp := recipePath + ".tmp"
	if err := os.WriteFile(tmp, []byte(res.Text), 0o644); err != nil {
		return nil, fmt.Errorf("depservice: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, recipePath); err != nil {
		return nil, fmt.Errorf("depservice: rename %s: %w", tmp, err)
	}

	return recipe.Load(recipePath)
}

// verifySignature enforces recipe integrity when the registry supplied
// a signature and the caller has trusted a matching key. A recipe with
// no signature, or served by an untrusted registry with no TrustKey
// calls at all, passes through unchecked: signing is opt-in per registry.
func (s *Service) verifySignature(name, revision string, res *registryclient.RecipeResource) error {
	if res.Signature == "" || len(s.trustedKeys) == 0 {
		return nil
	}
	key, ok := s.trustedKeys[NormalizeFingerprint(res.SignerFingerprint)]
	if !ok {
		return &SignatureVerificationError{Name: name, Revision: revision, Err: fmt.Errorf("signer fingerprint %s is not trusted", res.SignerFingerprint)}
	}
	if err := VerifyRecipeSignature(res.Text, res.Signature, key); err != nil {
		return &SignatureVerificationError{Name: name, Revision: revision, Err: err}
	}
	return nil
}

// staleFallback implements the stale-if-error policy: when a network
// fetch fails but a previously cached copy exists and is no older than
// config.GetRevisionCacheMaxStale(), serve it with a warning instead of
// failing the whole resolution. cause is only used for the log line.
func (s *Service) staleFallback(name, version, revision, recipePath string, cause error) (*recipe.Recipe, error) {
	if !config.GetRevisionCacheStaleFallback() {
		return nil, fmt.Errorf("depservice: stale fallback disabled")
	}
	info, statErr := os.Stat(recipePath)
	if statErr != nil {
		return nil, statErr
	}
	if time.Since(info.ModTime()) > config.GetRevisionCacheMaxStale() {
		return nil, fmt.Errorf("depservice: cached copy of %s %s (revision %s) exceeds max stale window", name, version, revision)
	}
	r, err := recipe.Load(recipePath)
	if err != nil {
		return nil, err
	}
	s.log.Warn("network fetch failed, serving stale cached recipe", "name", name, "version", version, "revision", revision, "err", cause)
	return r, nil
}

func asRegistryError(err error, target **registryclient.RegistryError) bool {
	for err != nil {
		if rerr, ok := err.(*registryclient.RegistryError); ok {
			*target = rerr
			return true
		}
		unwrapper, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = unwrapper.Unwrap()
	}
	return false
}
