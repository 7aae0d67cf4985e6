package config_test

import (
	"slices"
	"testing"

	"github.com/MrWong99/photobox/internal/config"
)

func base() *config.Config {
	cfg := &config.Config{
		Server: config.ServerConfig{LogLevel: config.LogInfo},
		Ingest: config.IngestConfig{Patterns: []string{"a/*.jpg", "b/*.jpg"}},
	}
	config.ApplyDefaults(cfg)
	return cfg
}

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()

	d := config.Diff(base(), base())
	if d.Changed() {
		t.Errorf("identical configs differ: %+v", d)
	}
}

func TestDiff_HotReloadable(t *testing.T) {
	t.Parallel()

	old, new := base(), base()
	new.Server.LogLevel = config.LogDebug
	new.Ingest.Patterns = []string{"b/*.jpg", "c/*.png", "c/*.png"}
	new.Collections.Manifest = "collections.yaml"

	d := config.Diff(old, new)
	if !d.LogLevelChanged || d.NewLogLevel != config.LogDebug {
		t.Errorf("log level diff = %+v", d)
	}
	if !slices.Equal(d.PatternsAdded, []string{"c/*.png"}) {
		t.Errorf("PatternsAdded = %v", d.PatternsAdded)
	}
	if !slices.Equal(d.PatternsRemoved, []string{"a/*.jpg"}) {
		t.Errorf("PatternsRemoved = %v", d.PatternsRemoved)
	}
	if !d.ManifestChanged {
		t.Error("ManifestChanged = false")
	}
	if len(d.RestartRequired) != 0 {
		t.Errorf("RestartRequired = %v", d.RestartRequired)
	}
}

func TestDiff_RestartRequired(t *testing.T) {
	t.Parallel()

	old, new := base(), base()
	new.Server.ListenAddr = ":9999"
	new.Store.Backend = config.BackendSQLite
	new.Ingest.S3.Bucket = "photos"

	d := config.Diff(old, new)
	want := []string{"server.listen_addr", "store", "ingest.s3"}
	if !slices.Equal(d.RestartRequired, want) {
		t.Errorf("RestartRequired = %v, want %v", d.RestartRequired, want)
	}
	if !d.Changed() {
		t.Error("Changed() = false")
	}
}
