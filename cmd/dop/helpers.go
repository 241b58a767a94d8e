package main

import (
	"fmt"

	"github.com/dopamine-pm/dopamine/internal/archive"
	"github.com/dopamine-pm/dopamine/internal/config"
	"github.com/dopamine-pm/dopamine/internal/depdag"
	"github.com/dopamine-pm/dopamine/internal/depservice"
	"github.com/dopamine-pm/dopamine/internal/httputil"
	dopamlog "github.com/dopamine-pm/dopamine/internal/log"
	"github.com/dopamine-pm/dopamine/internal/platform"
	"github.com/dopamine-pm/dopamine/internal/profile"
	"github.com/dopamine-pm/dopamine/internal/recipe"
	"github.com/dopamine-pm/dopamine/internal/registryclient"
)

// printInfo writes a line to stdout unless --quiet was given.
func printInfo(a ...interface{}) {
	if !quietFlag {
		fmt.Println(a...)
	}
}

// printInfof is the Printf-shaped counterpart of printInfo.
func printInfof(format string, a ...interface{}) {
	if !quietFlag {
		fmt.Printf(format, a...)
	}
}

// loadRecipe parses the dopamine.toml at path, the only supported recipe
// source for this CLI (registry publish takes a local file too).
func loadRecipe(path string) (*recipe.Recipe, error) {
	return recipe.Load(path)
}

// hostProfile builds a Profile from the running host for commands that
// don't take an explicit --profile string (spec §4.2 default path).
func hostProfile() (profile.Profile, error) {
	target, err := platform.DetectTarget()
	if err != nil {
		return profile.Profile{}, fmt.Errorf("detect platform: %w", err)
	}
	return profile.New("host", target, profile.BuildRelease, nil), nil
}

// newDepService wires a depservice.Service against the configured
// registry, or a registry-less (cache + system probe only) instance when
// no registry host is reachable-by-configuration.
func newDepService(cfg *config.Config, log dopamlog.Logger) (*depservice.Service, error) {
	var client *registryclient.Client
	if cfg.Registry != "" {
		c, err := registryclient.New(cfg.Registry, registryclient.WithHTTPClient(httputil.NewSecureClient(httputil.ClientOptions{Timeout: config.GetAPITimeout()})))
		if err != nil {
			return nil, fmt.Errorf("construct registry client: %w", err)
		}
		client = c
	}
	return depservice.New(cfg, client, depservice.DefaultSystemProbe, log), nil
}

// newArchiver returns the xz-backed Archiver used by both the Stager's
// archive stage and recipe publish's upload step.
func newArchiver() recipe.Archiver {
	return archive.New()
}

// systemPolicyFromFlags maps the resolve/build --no-system,
// --allow-system, and --block-system flags onto the depdag.SystemPolicy
// sum type (spec §3). --no-system wins outright; otherwise a non-empty
// --allow-system yields an allowed-list, a non-empty --block-system
// yields a disallowed-list, and naming both is a usage error since they
// express mutually exclusive policies.
func systemPolicyFromFlags(noSystem bool, allow, block []string) (depdag.Heuristics, error) {
	switch {
	case noSystem:
		return depdag.Heuristics{System: depdag.SystemDisallow}, nil
	case len(allow) > 0 && len(block) > 0:
		return depdag.Heuristics{}, fmt.Errorf("--allow-system and --block-system are mutually exclusive")
	case len(allow) > 0:
		return depdag.Heuristics{System: depdag.SystemAllowedList, SystemList: allow}, nil
	case len(block) > 0:
		return depdag.Heuristics{System: depdag.SystemDisallowedList, SystemList: block}, nil
	default:
		return depdag.Heuristics{System: depdag.SystemAllow}, nil
	}
}
