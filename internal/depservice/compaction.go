package depservice

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/dopamine-pm/dopamine/internal/lock"
)

// revisionInfo is one on-disk revision directory considered for
// compaction, along with its aggregate size and last-access proxy
// (recipe file mtime, since revisions are read-mostly).
type revisionInfo struct {
	name, version, revision string
	dir                     string
	size                    int64
	mtime                   time.Time
}

// Compact scans the cache and, if its aggregate size exceeds limit,
// compacts least-recently-used revisions until it no longer does: each
// revision's recipe file is zstd-compressed into
// cache/packages/<name>/<version>/<revision>.zst and the revision
// directory is removed. Compacted revisions drop out of the live
// AvailableVersions scan since their recipe file no longer exists
// uncompressed; DecompactRevision restores the recipe file on demand.
func (s *Service) Compact(limit int64) error {
	revisions, total, err := s.scanRevisions()
	if err != nil {
		return err
	}
	if total <= limit {
		return nil
	}

	sort.Slice(revisions, func(i, j int) bool { return revisions[i].mtime.Before(revisions[j].mtime) })

	for _, rev := range revisions {
		if total <= limit {
			break
		}
		freed, err := s.compactOne(rev)
		if err != nil {
			s.log.Warn("compaction: failed to compact revision", "dir", rev.dir, "err", err)
			continue
		}
		total -= freed
	}
	return nil
}

func (s *Service) scanRevisions() ([]revisionInfo, int64, error) {
	var out []revisionInfo
	var total int64

	packages, err := os.ReadDir(s.cfg.PackagesDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, 0, nil
		}
		return nil, 0, fmt.Errorf("depservice: scan %s: %w", s.cfg.PackagesDir, err)
	}
	for _, pkg := range packages {
		if !pkg.IsDir() {
			continue
		}
		versions, err := os.ReadDir(filepath.Join(s.cfg.PackagesDir, pkg.Name()))
		if err != nil {
			continue
		}
		for _, ver := range versions {
			if !ver.IsDir() {
				continue
			}
			revDirPath := filepath.Join(s.cfg.PackagesDir, pkg.Name(), ver.Name())
			revisions, err := os.ReadDir(revDirPath)
			if err != nil {
				continue
			}
			for _, rev := range revisions {
				if !rev.IsDir() {
					continue
				}
				dir := filepath.Join(revDirPath, rev.Name())
				size, mtime, err := dirSizeAndMtime(dir)
				if err != nil {
					continue
				}
				total += size
				out = append(out, revisionInfo{
					name: pkg.Name(), version: ver.Name(), revision: rev.Name(),
					dir: dir, size: size, mtime: mtime,
				})
			}
		}
	}
	return out, total, nil
}

func dirSizeAndMtime(dir string) (int64, time.Time, error) {
	var size int64
	var newest time.Time
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		size += info.Size()
		if info.ModTime().After(newest) {
			newest = info.ModTime()
		}
		return nil
	})
	return size, newest, err
}

// compactOne zstd-compresses a revision's recipe file (no tar framing,
// and not internal/archive's tar+xz codec, which is reserved for
// build/source archives) into a .zst sibling blob and removes the whole
// revision directory, returning the bytes freed. Files in the directory
// other than the recipe file are not kept in the blob.
func (s *Service) compactOne(rev revisionInfo) (int64, error) {
	writeLock, err := lock.AcquireExclusive(rev.dir)
	if err != nil {
		return 0, err
	}
	defer writeLock.Unlock()

	recipePath := s.paths.RecipeFile(rev.name, rev.version, rev.revision)
	data, err := os.ReadFile(recipePath)
	if err != nil {
		return 0, err
	}

	blobPath := filepath.Join(filepath.Dir(rev.dir), rev.revision+".zst")
	f, err := os.Create(blobPath)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	w, err := zstd.NewWriter(f)
	if err != nil {
		return 0, err
	}
	if _, err := w.Write(data); err != nil {
		w.Close()
		return 0, err
	}
	if err := w.Close(); err != nil {
		return 0, err
	}

	if err := os.RemoveAll(rev.dir); err != nil {
		return 0, err
	}
	return rev.size, nil
}

// DecompactRevision restores a previously compacted revision's recipe
// file from its .zst blob, for the rare case a stale-if-error fallback
// or an offline resolve needs it again.
func (s *Service) DecompactRevision(name, version, revision string) error {
	blobPath := filepath.Join(s.paths.VersionDir(name, version), revision+".zst")
	f, err := os.Open(blobPath)
	if err != nil {
		return fmt.Errorf("depservice: no compacted blob for %s %s %s: %w", name, version, revision, err)
	}
	defer f.Close()

	r, err := zstd.NewReader(f)
	if err != nil {
		return err
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}

	recipePath := s.paths.RecipeFile(name, version, revision)
	if err := os.MkdirAll(filepath.Dir(recipePath), 0o755); err != nil {
		return err
	}
	tmp := recipePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, recipePath)
}
