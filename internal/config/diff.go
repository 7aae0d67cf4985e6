package config

import "slices"

// ConfigDiff describes what changed between two configs. Changes the
// running server can apply are itemised; everything else is listed in
// RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// PatternsAdded are ingest patterns present only in the new config.
	// Removed patterns are reported but nothing is un-ingested.
	PatternsAdded   []string
	PatternsRemoved []string

	ManifestChanged bool

	// RestartRequired names changed settings that only take effect after a
	// restart.
	RestartRequired []string
}

// Changed reports whether anything differs.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || len(d.PatternsAdded) > 0 || len(d.PatternsRemoved) > 0 ||
		d.ManifestChanged || len(d.RestartRequired) > 0
}

// Diff compares old and new configs.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	for _, p := range new.Ingest.Patterns {
		if !slices.Contains(old.Ingest.Patterns, p) && !slices.Contains(d.PatternsAdded, p) {
			d.PatternsAdded = append(d.PatternsAdded, p)
		}
	}
	for _, p := range old.Ingest.Patterns {
		if !slices.Contains(new.Ingest.Patterns, p) && !slices.Contains(d.PatternsRemoved, p) {
			d.PatternsRemoved = append(d.PatternsRemoved, p)
		}
	}

	d.ManifestChanged = old.Collections.Manifest != new.Collections.Manifest

	restart := func(field string, changed bool) {
		if changed {
			d.RestartRequired = append(d.RestartRequired, field)
		}
	}
	restart("server.listen_addr", old.Server.ListenAddr != new.Server.ListenAddr)
	restart("store", old.Store != new.Store)
	restart("ingest.source", old.Ingest.Source != new.Ingest.Source)
	restart("ingest.root", old.Ingest.Root != new.Ingest.Root)
	restart("ingest.s3", old.Ingest.S3 != new.Ingest.S3)
	restart("collections.restore_on_failed_reparent",
		old.Collections.RestoreOnFailedReparent != new.Collections.RestoreOnFailedReparent)
	return d
}
