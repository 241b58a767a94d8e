package buildid_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dopamine-pm/dopamine/internal/buildid"
)

func baseInput() buildid.Input {
	return buildid.Input{
		ProfileDigest: "abc123",
		BuildType:     "release",
		Dependencies: []buildid.Dependency{
			{Name: "zlib", Version: "1.2.13", Revision: "rev1"},
			{Name: "openssl", Version: "3.0.0", Revision: "rev2"},
		},
		Options: map[string]string{"shared": "true", "tests": "false"},
	}
}

func TestCompute_Is40HexChars(t *testing.T) {
	id := buildid.Compute(baseInput())
	assert.Len(t, id.Full, 40)
	for _, c := range id.Full {
		assert.True(t, (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f'))
	}
}

func TestCompute_Deterministic(t *testing.T) {
	a := buildid.Compute(baseInput())
	b := buildid.Compute(baseInput())
	assert.Equal(t, a.Full, b.Full)
}

func TestCompute_DiffersOnProfileChange(t *testing.T) {
	a := buildid.Compute(baseInput())
	in := baseInput()
	in.ProfileDigest = "different"
	b := buildid.Compute(in)
	assert.NotEqual(t, a.Full, b.Full)
}

func TestCompute_DiffersOnDependencyOrder(t *testing.T) {
	in := baseInput()
	a := buildid.Compute(in)

	reordered := baseInput()
	reordered.Dependencies[0], reordered.Dependencies[1] = reordered.Dependencies[1], reordered.Dependencies[0]
	b := buildid.Compute(reordered)

	assert.NotEqual(t, a.Full, b.Full)
}

func TestCompute_OptionKeyOrderDoesNotMatter(t *testing.T) {
	a := buildid.Compute(baseInput())

	in := baseInput()
	in.Options = map[string]string{"tests": "false", "shared": "true"}
	b := buildid.Compute(in)

	assert.Equal(t, a.Full, b.Full)
}

func TestShort_ReturnsTenCharPrefix(t *testing.T) {
	id := buildid.Compute(baseInput())
	assert.Len(t, id.Short(), 10)
	assert.Equal(t, id.Full[:10], id.Short())
}
