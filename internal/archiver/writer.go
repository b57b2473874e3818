package archiver

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
)

const tempSuffix = ".tmp"

// Writer commits fetched bytes to an archive directory and maintains the
// latest pointer. Items become visible under their final name only through
// an atomic rename.
type Writer struct {
	symlinks bool
	logger   *zap.Logger

	// beforeCommit runs after the temp file is complete and before the rename.
	beforeCommit func(tmpPath, finalPath string)
}

// NewWriter returns a Writer. symlinks reports whether the file system
// supports symbolic links; see ProbeSymlinks.
func NewWriter(symlinks bool, logger *zap.Logger) *Writer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Writer{symlinks: symlinks, logger: logger}
}

// SymlinksEnabled reports the pointer mode chosen at startup.
func (w *Writer) SymlinksEnabled() bool {
	return w.symlinks
}

// Write stores body as <dir>/<YYYYMMDD_HHMMSS><ext> and points latest at it.
// A pointer failure is logged and does not fail the write.
func (w *Writer) Write(dir string, body []byte, ext string, ts time.Time) (string, error) {
	if len(body) == 0 {
		return "", errors.New("refusing to archive empty body")
	}
	name := FilenameForTimestamp(ts, ext)
	target := filepath.Join(dir, name)
	if err := w.writeAtomic(dir, name, body); err != nil {
		return "", err
	}
	if err := w.updateLatest(dir, name, body); err != nil {
		w.logger.Error("failed to update latest pointer",
			zap.String("dir", dir),
			zap.String("item", name),
			zap.Error(err),
		)
	}
	return target, nil
}

func (w *Writer) writeAtomic(dir, name string, body []byte) error {
	final := filepath.Join(dir, name)
	tmp := filepath.Join(dir, "."+name+tempSuffix)
	if err := writeFileSynced(tmp, body); err != nil {
		removeQuietly(tmp)
		return fmt.Errorf("write temp file %s: %w", tmp, err)
	}
	if w.beforeCommit != nil {
		w.beforeCommit(tmp, final)
	}
	if err := os.Rename(tmp, final); err != nil {
		removeQuietly(tmp)
		return fmt.Errorf("commit %s: %w", final, err)
	}
	syncDir(dir)
	return nil
}

func (w *Writer) updateLatest(dir, name string, body []byte) error {
	if w.symlinks {
		err := replaceWithSymlink(dir, name)
		if err == nil {
			return nil
		}
		w.logger.Warn("symlink latest failed, falling back to copy",
			zap.String("dir", dir),
			zap.Error(err),
		)
	}
	if err := w.writeAtomic(dir, LatestName, body); err != nil {
		return fmt.Errorf("copy latest: %w", err)
	}
	return nil
}

func replaceWithSymlink(dir, name string) error {
	tmp := filepath.Join(dir, "."+LatestName+".link"+tempSuffix)
	removeQuietly(tmp)
	if err := os.Symlink(name, tmp); err != nil {
		return fmt.Errorf("create symlink: %w", err)
	}
	if err := os.Rename(tmp, filepath.Join(dir, LatestName)); err != nil {
		removeQuietly(tmp)
		return fmt.Errorf("replace latest: %w", err)
	}
	return nil
}

func writeFileSynced(path string, body []byte) error {
	// #nosec G302 G304 -- archived images are world-readable for the presentation layer.
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("open: %w", err)
	}
	if _, err := f.Write(body); err != nil {
		_ = f.Close()
		return fmt.Errorf("write: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("sync: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close: %w", err)
	}
	return nil
}

func syncDir(dir string) {
	// #nosec G304 -- dir is an archive directory resolved at startup.
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = d.Sync()
	_ = d.Close()
}

func removeQuietly(path string) {
	_ = os.Remove(path)
}

// ProbeSymlinks reports whether symbolic links can be created under dir.
// It is meant to run once at startup.
func ProbeSymlinks(dir string) bool {
	probeDir, err := os.MkdirTemp(dir, ".symlink-probe-")
	if err != nil {
		return false
	}
	defer os.RemoveAll(probeDir) //nolint:errcheck // best-effort cleanup
	return os.Symlink("target", filepath.Join(probeDir, "link")) == nil
}
