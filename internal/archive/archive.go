// Package archive implements the tar+xz codec behind the Archiver
// interface Stager, RegistryClient, and recipe.Executor depend on.
// Compression and tar codecs are specified only by interface (design
// note, spec §6); this package is the one concrete implementation.
package archive

import (
	"archive/tar"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ulikunitz/xz"
)

// XZArchiver extracts and creates tar archives compressed with xz.
type XZArchiver struct{}

// New returns the default xz-backed Archiver.
func New() *XZArchiver { return &XZArchiver{} }

// Extract unpacks archivePath (a tar.xz file) into destDir. Entries
// escaping destDir via path traversal or absolute symlink targets are
// rejected.
func (XZArchiver) Extract(archivePath, destDir string) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("archive: open %s: %w", archivePath, err)
	}
	defer f.Close()

	xzr, err := xz.NewReader(f)
	if err != nil {
		return fmt.Errorf("archive: xz reader: %w", err)
	}

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return fmt.Errorf("archive: mkdir %s: %w", destDir, err)
	}

	tr := tar.NewReader(xzr)
	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("archive: read tar header: %w", err)
		}

		cleanPath := strings.TrimPrefix(header.Name, "./")
		target := filepath.Join(destDir, cleanPath)
		if !withinDir(target, destDir) {
			return fmt.Errorf("archive: entry %q escapes destination directory", header.Name)
		}

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return fmt.Errorf("archive: mkdir %s: %w", target, err)
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return fmt.Errorf("archive: mkdir %s: %w", filepath.Dir(target), err)
			}
			out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(header.Mode))
			if err != nil {
				return fmt.Errorf("archive: create %s: %w", target, err)
			}
			if _, err := io.Copy(out, tr); err != nil {
				out.Close()
				return fmt.Errorf("archive: write %s: %w", target, err)
			}
			out.Close()
		case tar.TypeSymlink:
			if filepath.IsAbs(header.Linkname) {
				return fmt.Errorf("archive: absolute symlink target not allowed: %s -> %s", header.Name, header.Linkname)
			}
			resolved := filepath.Join(filepath.Dir(target), header.Linkname)
			if !withinDir(resolved, destDir) {
				return fmt.Errorf("archive: symlink %q escapes destination directory", header.Name)
			}
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return fmt.Errorf("archive: mkdir %s: %w", filepath.Dir(target), err)
			}
			_ = os.Remove(target)
			if err := os.Symlink(header.Linkname, target); err != nil {
				return fmt.Errorf("archive: symlink %s: %w", target, err)
			}
		}
	}
	return nil
}

// Create walks srcDir and writes a tar.xz archive to archivePath.
// Archive entry names are relative to srcDir.
func (XZArchiver) Create(srcDir, archivePath string) error {
	if err := os.MkdirAll(filepath.Dir(archivePath), 0o755); err != nil {
		return fmt.Errorf("archive: mkdir %s: %w", filepath.Dir(archivePath), err)
	}
	out, err := os.Create(archivePath)
	if err != nil {
		return fmt.Errorf("archive: create %s: %w", archivePath, err)
	}
	defer out.Close()

	xzw, err := xz.NewWriter(out)
	if err != nil {
		return fmt.Errorf("archive: xz writer: %w", err)
	}
	defer xzw.Close()

	tw := tar.NewWriter(xzw)
	defer tw.Close()

	return filepath.Walk(srcDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(srcDir, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}

		var link string
		if info.Mode()&os.ModeSymlink != 0 {
			link, err = os.Readlink(path)
			if err != nil {
				return fmt.Errorf("archive: readlink %s: %w", path, err)
			}
		}

		header, err := tar.FileInfoHeader(info, link)
		if err != nil {
			return fmt.Errorf("archive: build header for %s: %w", path, err)
		}
		header.Name = filepath.ToSlash(rel)

		if err := tw.WriteHeader(header); err != nil {
			return fmt.Errorf("archive: write header for %s: %w", path, err)
		}

		if info.Mode().IsRegular() {
			in, err := os.Open(path)
			if err != nil {
				return fmt.Errorf("archive: open %s: %w", path, err)
			}
			defer in.Close()
			if _, err := io.Copy(tw, in); err != nil {
				return fmt.Errorf("archive: write %s: %w", path, err)
			}
		}
		return nil
	})
}

func withinDir(target, base string) bool {
	absTarget, err := filepath.Abs(target)
	if err != nil {
		return false
	}
	absBase, err := filepath.Abs(base)
	if err != nil {
		return false
	}
	return absTarget == absBase || strings.HasPrefix(absTarget, absBase+string(os.PathSeparator))
}
