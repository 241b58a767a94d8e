package recipe_test

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dopamine-pm/dopamine/internal/recipe"
)

func TestExecutor_Download_VerifiesChecksum(t *testing.T) {
	payload := []byte("package contents")
	sum := sha256.Sum256(payload)
	checksum := hex.EncodeToString(sum[:])

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(payload)
	}))
	defer srv.Close()

	dir := t.TempDir()
	exec := recipe.NewExecutor(srv.Client(), nil, nil)
	step := recipe.Step{Action: recipe.ActionDownload, Params: map[string]interface{}{
		"url":      srv.URL,
		"dest":     "archive.bin",
		"checksum": checksum,
	}}

	require.NoError(t, exec.Run(context.Background(), step, dir, nil))
	got, err := os.ReadFile(filepath.Join(dir, "archive.bin"))
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestExecutor_Download_RejectsChecksumMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("unexpected"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	exec := recipe.NewExecutor(srv.Client(), nil, nil)
	step := recipe.Step{Action: recipe.ActionDownload, Params: map[string]interface{}{
		"url":      srv.URL,
		"dest":     "archive.bin",
		"checksum": "0000000000000000000000000000000000000000000000000000000000000000",
	}}

	err := exec.Run(context.Background(), step, dir, nil)
	require.Error(t, err)
	assert.NoFileExists(t, filepath.Join(dir, "archive.bin"))
}

func TestExecutor_Checksum_Standalone(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "file.bin")
	require.NoError(t, os.WriteFile(path, []byte("data"), 0o644))
	sum := sha256.Sum256([]byte("data"))

	exec := recipe.NewExecutor(nil, nil, nil)
	step := recipe.Step{Action: recipe.ActionChecksum, Params: map[string]interface{}{
		"path":   path,
		"sha256": hex.EncodeToString(sum[:]),
	}}
	require.NoError(t, exec.Run(context.Background(), step, dir, nil))
}

func TestExecutor_PkgConfFile_WritesExpectedFields(t *testing.T) {
	dir := t.TempDir()
	exec := recipe.NewExecutor(nil, nil, nil)
	step := recipe.Step{Action: recipe.ActionPkgConfFile, Params: map[string]interface{}{
		"path": "lib.pc",
		"fields": map[string]interface{}{
			"prefix":  "/usr/local",
			"libdir":  "${prefix}/lib",
			"Name":    "demo",
			"Version": "1.0.0",
			"Libs":    "-ldemo",
		},
	}}
	require.NoError(t, exec.Run(context.Background(), step, dir, nil))

	data, err := os.ReadFile(filepath.Join(dir, "lib.pc"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "prefix=/usr/local")
	assert.Contains(t, string(data), "Name: demo")
	assert.Contains(t, string(data), "Version: 1.0.0")
}

func TestExecutor_Symlink(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "real.txt")
	require.NoError(t, os.WriteFile(target, []byte("x"), 0o644))

	exec := recipe.NewExecutor(nil, nil, nil)
	step := recipe.Step{Action: recipe.ActionSymlink, Params: map[string]interface{}{
		"target": target,
		"link":   filepath.Join(dir, "link.txt"),
	}}
	require.NoError(t, exec.Run(context.Background(), step, dir, nil))

	resolved, err := os.Readlink(filepath.Join(dir, "link.txt"))
	require.NoError(t, err)
	assert.Equal(t, target, resolved)
}

func TestExecutor_UnrecognizedAction(t *testing.T) {
	exec := recipe.NewExecutor(nil, nil, nil)
	step := recipe.Step{Action: "frobnicate"}
	err := exec.Run(context.Background(), step, t.TempDir(), nil)
	require.Error(t, err)
}
