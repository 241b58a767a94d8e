package main

import "os"

// Exit codes mirror spec §7's error taxonomy closely enough for scripts
// to distinguish failure modes without parsing stderr.
const (
	ExitSuccess     = 0
	ExitGeneral     = 1
	ExitUsage       = 2
	ExitRecipeError = 3
	ExitDepError    = 4
	ExitRegistry    = 5
	ExitBuildFailed = 6
	ExitCancelled   = 130
)

func exitWithCode(code int) {
	os.Exit(code)
}
