package archive_test

import (
	"archive/tar"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ulikunitz/xz"

	"github.com/dopamine-pm/dopamine/internal/archive"
)

func TestCreateThenExtract_RoundTrip(t *testing.T) {
	src := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(src, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "top.txt"), []byte("top"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(src, "sub", "nested.txt"), []byte("nested"), 0o644))
	require.NoError(t, os.Symlink("nested.txt", filepath.Join(src, "sub", "link.txt")))

	a := archive.New()
	archivePath := filepath.Join(t.TempDir(), "out.tar.xz")
	require.NoError(t, a.Create(src, archivePath))

	dest := t.TempDir()
	require.NoError(t, a.Extract(archivePath, dest))

	top, err := os.ReadFile(filepath.Join(dest, "top.txt"))
	require.NoError(t, err)
	assert.Equal(t, "top", string(top))

	nested, err := os.ReadFile(filepath.Join(dest, "sub", "nested.txt"))
	require.NoError(t, err)
	assert.Equal(t, "nested", string(nested))

	link, err := os.Readlink(filepath.Join(dest, "sub", "link.txt"))
	require.NoError(t, err)
	assert.Equal(t, "nested.txt", link)
}

func TestExtract_RejectsAbsoluteSymlinkTarget(t *testing.T) {
	// Hand-build a tar.xz whose only entry is a symlink to an absolute
	// path; Extract must refuse it rather than create the link.
	archivePath := filepath.Join(t.TempDir(), "evil.tar.xz")
	f, err := os.Create(archivePath)
	require.NoError(t, err)
	xzw, err := xz.NewWriter(f)
	require.NoError(t, err)
	tw := tar.NewWriter(xzw)
	require.NoError(t, tw.WriteHeader(&tar.Header{Name: "evil", Typeflag: tar.TypeSymlink, Linkname: "/etc/passwd", Mode: 0o777}))
	require.NoError(t, tw.Close())
	require.NoError(t, xzw.Close())
	require.NoError(t, f.Close())

	dest := t.TempDir()
	err = archive.New().Extract(archivePath, dest)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "absolute symlink target")
	_, statErr := os.Lstat(filepath.Join(dest, "evil"))
	assert.True(t, os.IsNotExist(statErr))
}
