package main

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/image-archiver/internal/archiver"
	"github.com/JakeFAU/image-archiver/internal/config"
)

func httpSources(t *testing.T) []archiver.Source {
	t.Helper()
	return []archiver.Source{{
		ID:   "front",
		URL:  "http://cam.example/front.jpg",
		Dir:  filepath.Join(t.TempDir(), "front", "images"),
		Mode: archiver.ModeHTTP,
	}}
}

func TestBuildServicesDefaults(t *testing.T) {
	t.Parallel()

	svc, err := buildServices(context.Background(), config.Config{}, httpSources(t), prometheus.NewRegistry(), zap.NewNop())
	require.NoError(t, err)
	defer svc.Close(zap.NewNop())

	require.NotNil(t, svc.status)
	require.Len(t, svc.options, 1)
	require.Len(t, svc.closers, 1)
}

func TestBuildServicesLocalMirror(t *testing.T) {
	t.Parallel()

	cfg := config.Config{Mirror: config.MirrorConfig{LocalDir: filepath.Join(t.TempDir(), "mirror")}}
	svc, err := buildServices(context.Background(), cfg, httpSources(t), prometheus.NewRegistry(), zap.NewNop())
	require.NoError(t, err)
	defer svc.Close(zap.NewNop())

	require.Len(t, svc.options, 2)
}

func TestBuildServicesRejectsBadHeadlessViewport(t *testing.T) {
	t.Parallel()

	sources := httpSources(t)
	sources[0].Mode = archiver.ModeScreenshot
	_, err := buildServices(context.Background(), config.Config{}, sources, prometheus.NewRegistry(), zap.NewNop())
	require.Error(t, err)
}

func TestBuildServicesDuplicateRegistration(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	svc, err := buildServices(context.Background(), config.Config{}, httpSources(t), reg, zap.NewNop())
	require.NoError(t, err)
	defer svc.Close(zap.NewNop())

	_, err = buildServices(context.Background(), config.Config{}, httpSources(t), reg, zap.NewNop())
	require.Error(t, err)
}
