package recipe_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dopamine-pm/dopamine/internal/platform"
	"github.com/dopamine-pm/dopamine/internal/recipe"
)

func TestWhenClause_EmptyMatchesEverything(t *testing.T) {
	var w *recipe.WhenClause
	assert.True(t, w.Matches(platform.NewTarget("linux/amd64", "debian", "glibc")))
}

func TestWhenClause_PlatformTupleExactMatch(t *testing.T) {
	w := &recipe.WhenClause{Platform: []string{"linux/amd64", "darwin/arm64"}}
	assert.True(t, w.Matches(platform.NewTarget("linux/amd64", "debian", "glibc")))
	assert.True(t, w.Matches(platform.NewTarget("darwin/arm64", "", "")))
	assert.False(t, w.Matches(platform.NewTarget("linux/arm64", "debian", "glibc")))
}

func TestWhenClause_OSArrayMatchesAnyArch(t *testing.T) {
	w := &recipe.WhenClause{OS: []string{"linux"}}
	assert.True(t, w.Matches(platform.NewTarget("linux/amd64", "debian", "glibc")))
	assert.True(t, w.Matches(platform.NewTarget("linux/arm64", "rhel", "glibc")))
	assert.False(t, w.Matches(platform.NewTarget("darwin/arm64", "", "")))
}

func TestWhenClause_ArchAndLinuxFamilyFilters(t *testing.T) {
	w := &recipe.WhenClause{OS: []string{"linux"}, Arch: "amd64", LinuxFamily: "debian"}
	assert.True(t, w.Matches(platform.NewTarget("linux/amd64", "debian", "glibc")))
	assert.False(t, w.Matches(platform.NewTarget("linux/amd64", "rhel", "glibc")))
	assert.False(t, w.Matches(platform.NewTarget("linux/arm64", "debian", "glibc")))
}

func TestWhenClause_Validate_RejectsPlatformAndOSTogether(t *testing.T) {
	w := &recipe.WhenClause{Platform: []string{"linux/amd64"}, OS: []string{"darwin"}}
	require.Error(t, w.Validate())
}

func TestWhenClause_IsEmpty(t *testing.T) {
	var w *recipe.WhenClause
	assert.True(t, w.IsEmpty())
	w = &recipe.WhenClause{}
	assert.True(t, w.IsEmpty())
	w = &recipe.WhenClause{Arch: "amd64"}
	assert.False(t, w.IsEmpty())
}
