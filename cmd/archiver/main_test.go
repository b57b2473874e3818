package main

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearSourceEnv unsets every variable that can configure a source or the
// storage location so the test controls them through the config file.
func clearSourceEnv(t *testing.T) {
	t.Helper()
	for _, name := range []string{
		"IMAGE_URL", "SOURCES", "SOURCE_ID", "STORAGE_DIR", "STORAGE_ROOT",
		"ARCHIVER_SOURCES_URL", "ARCHIVER_SOURCES_SPEC", "ARCHIVER_SOURCES_ID",
		"ARCHIVER_STORAGE_DIR", "ARCHIVER_STORAGE_ROOT", "ARCHIVER_SERVER_PORT",
	} {
		t.Setenv(name, "")
	}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestRunNoSourcesExitsTwo(t *testing.T) {
	clearSourceEnv(t)
	root := filepath.Join(t.TempDir(), "archive")
	cfgPath := writeConfig(t, "storage:\n  root: "+root+"\n")

	var stderr bytes.Buffer
	code := run([]string{"-config", cfgPath}, &stderr)

	assert.Equal(t, exitNoSources, code)
	assert.NoDirExists(t, root, "no archive directory is created without sources")
}

func TestRunRejectsUnknownFlag(t *testing.T) {
	var stderr bytes.Buffer
	code := run([]string{"-bogus"}, &stderr)

	assert.Equal(t, exitStartup, code)
	assert.Contains(t, stderr.String(), "bogus")
}

func TestRunMissingConfigFileExitsOne(t *testing.T) {
	clearSourceEnv(t)

	var stderr bytes.Buffer
	code := run([]string{"-config", filepath.Join(t.TempDir(), "absent.yaml")}, &stderr)

	assert.Equal(t, exitStartup, code)
	assert.Contains(t, stderr.String(), "load config failed")
}

func TestRunOnceArchivesEachSource(t *testing.T) {
	clearSourceEnv(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		_, _ = w.Write([]byte{0xFF, 0xD8, 0xFF, 0xD9})
	}))
	t.Cleanup(srv.Close)

	root := filepath.Join(t.TempDir(), "archive")
	cfgPath := writeConfig(t, "sources:\n  spec: \"front="+srv.URL+"/cam.jpg\"\nstorage:\n  root: "+root+"\n")

	var stderr bytes.Buffer
	code := run([]string{"-config", cfgPath, "-once"}, &stderr)
	require.Equal(t, exitOK, code, stderr.String())

	entries, err := os.ReadDir(filepath.Join(root, "front", "images"))
	require.NoError(t, err)
	var items int
	for _, e := range entries {
		if e.Name() != "latest" {
			items++
		}
	}
	assert.Equal(t, 1, items)
	assert.FileExists(t, filepath.Join(root, "front", "images", "latest"))
}
