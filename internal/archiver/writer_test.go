package archiver

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var archivedName = regexp.MustCompile(`^\d{8}_\d{6}\.[A-Za-z0-9]+$`)

func TestWriterWritesItemAndLatest(t *testing.T) {
	t.Parallel()

	for _, symlinks := range []bool{false, true} {
		t.Run(fmt.Sprintf("symlinks=%v", symlinks), func(t *testing.T) {
			t.Parallel()
			dir := t.TempDir()
			if symlinks && !ProbeSymlinks(dir) {
				t.Skip("file system does not support symlinks")
			}
			w := NewWriter(symlinks, zap.NewNop())
			ts := time.Date(2020, 1, 2, 3, 4, 5, 0, time.UTC)

			path, err := w.Write(dir, []byte("jpeg-bytes"), ".jpg", ts)
			require.NoError(t, err)
			assert.Equal(t, filepath.Join(dir, "20200102_030405.jpg"), path)

			// #nosec G304 -- test reads from the controlled temp directory.
			data, err := os.ReadFile(path)
			require.NoError(t, err)
			assert.Equal(t, []byte("jpeg-bytes"), data)

			latest := filepath.Join(dir, LatestName)
			info, err := os.Lstat(latest)
			require.NoError(t, err)
			if symlinks {
				require.NotZero(t, info.Mode()&os.ModeSymlink)
				target, err := os.Readlink(latest)
				require.NoError(t, err)
				assert.Equal(t, "20200102_030405.jpg", target)
			} else {
				assert.True(t, info.Mode().IsRegular())
			}
			// #nosec G304 -- test reads from the controlled temp directory.
			latestData, err := os.ReadFile(latest)
			require.NoError(t, err)
			assert.Equal(t, data, latestData)
			assertNoTempFiles(t, dir)
		})
	}
}

func TestWriterLatestTracksNewestItem(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	w := NewWriter(ProbeSymlinks(dir), zap.NewNop())
	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		body := []byte(fmt.Sprintf("frame-%d", i))
		_, err := w.Write(dir, body, ".png", start.Add(time.Duration(i)*time.Minute))
		require.NoError(t, err)

		// #nosec G304 -- test reads from the controlled temp directory.
		latest, err := os.ReadFile(filepath.Join(dir, LatestName))
		require.NoError(t, err)
		assert.Equal(t, body, latest, "latest after write %d", i)
	}

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var items []string
	for _, e := range entries {
		if archivedName.MatchString(e.Name()) {
			items = append(items, e.Name())
		}
	}
	assert.Len(t, items, 5)
}

func TestWriterNeverExposesPartialItem(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	w := NewWriter(ProbeSymlinks(dir), zap.NewNop())
	body := []byte("a complete image payload")
	hookRan := false

	w.beforeCommit = func(tmpPath, finalPath string) {
		if filepath.Base(finalPath) == LatestName {
			return
		}
		hookRan = true
		time.Sleep(20 * time.Millisecond)

		_, err := os.Stat(finalPath)
		assert.True(t, os.IsNotExist(err), "final name visible before commit")

		entries, err := os.ReadDir(dir)
		require.NoError(t, err)
		for _, e := range entries {
			assert.False(t, archivedName.MatchString(e.Name()), "archived name %s visible before commit", e.Name())
		}

		// #nosec G304 -- test reads from the controlled temp directory.
		staged, err := os.ReadFile(tmpPath)
		require.NoError(t, err)
		assert.Equal(t, body, staged)
	}

	path, err := w.Write(dir, body, ".jpg", time.Date(2021, 6, 7, 8, 9, 10, 0, time.UTC))
	require.NoError(t, err)
	require.True(t, hookRan)

	// #nosec G304 -- test reads from the controlled temp directory.
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, body, data)
}

func TestWriterFailureLeavesPreviousLatest(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	w := NewWriter(false, zap.NewNop())
	_, err := w.Write(dir, []byte("first"), ".jpg", time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	_, err = w.Write(filepath.Join(dir, "missing"), []byte("second"), ".jpg", time.Now())
	require.Error(t, err)

	_, err = w.Write(dir, nil, ".jpg", time.Now())
	require.Error(t, err)

	// #nosec G304 -- test reads from the controlled temp directory.
	latest, err := os.ReadFile(filepath.Join(dir, LatestName))
	require.NoError(t, err)
	assert.Equal(t, []byte("first"), latest)
	assertNoTempFiles(t, dir)
}

func TestWriterFallsBackToCopyWhenSymlinkFails(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	if !ProbeSymlinks(dir) {
		t.Skip("file system does not support symlinks")
	}
	// A non-empty directory at the staging name makes the symlink attempt fail.
	blocker := filepath.Join(dir, "."+LatestName+".link"+tempSuffix)
	require.NoError(t, os.Mkdir(blocker, 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(blocker, "keep"), []byte("x"), 0o600))

	w := NewWriter(true, zap.NewNop())
	_, err := w.Write(dir, []byte("payload"), ".jpg", time.Date(2023, 3, 3, 3, 3, 3, 0, time.UTC))
	require.NoError(t, err)

	info, err := os.Lstat(filepath.Join(dir, LatestName))
	require.NoError(t, err)
	assert.True(t, info.Mode().IsRegular())
	// #nosec G304 -- test reads from the controlled temp directory.
	latest, err := os.ReadFile(filepath.Join(dir, LatestName))
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), latest)
}

func TestProbeSymlinksLeavesNothingBehind(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	_ = ProbeSymlinks(dir)
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.False(t, ProbeSymlinks(filepath.Join(dir, "missing")))
}

func assertNoTempFiles(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotEqual(t, tempSuffix, filepath.Ext(e.Name()), "leftover temp file %s", e.Name())
	}
}
