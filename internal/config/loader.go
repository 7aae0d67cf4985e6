package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and validates
// the result. An empty document yields the default configuration.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg is coherent. It returns a joined error listing all
// failures; soft problems are logged as warnings.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Store
	st := cfg.Store
	if st.Backend != "" && !st.Backend.IsValid() {
		errs = append(errs, fmt.Errorf("store.backend %q is invalid; valid values: memory, sqlite, postgres", st.Backend))
	}
	if st.Backend == BackendPostgres && st.PostgresDSN == "" {
		errs = append(errs, errors.New("store.postgres_dsn is required when store.backend is postgres"))
	}
	if st.Timeout < 0 {
		errs = append(errs, fmt.Errorf("store.timeout %s must not be negative", st.Timeout))
	}
	if st.MaxAttempts < 0 {
		errs = append(errs, fmt.Errorf("store.max_attempts %d must not be negative", st.MaxAttempts))
	}
	if st.FlushInterval < 0 {
		errs = append(errs, fmt.Errorf("store.flush_interval %s must not be negative", st.FlushInterval))
	}
	if st.Backend == BackendMemory && st.ResetOnStart {
		slog.Warn("store.reset_on_start has no effect with the memory backend")
	}
	if st.Backend != BackendPostgres && st.PostgresDSN != "" {
		slog.Warn("store.postgres_dsn is set but store.backend is not postgres", "backend", st.Backend)
	}

	// Ingest
	in := cfg.Ingest
	if in.Source != "" && !in.Source.IsValid() {
		errs = append(errs, fmt.Errorf("ingest.source %q is invalid; valid values: local, s3", in.Source))
	}
	if in.Source == SourceS3 {
		if in.S3.Bucket == "" {
			errs = append(errs, errors.New("ingest.s3.bucket is required when ingest.source is s3"))
		}
		if (in.S3.AccessKeyID == "") != (in.S3.SecretAccessKey == "") {
			errs = append(errs, errors.New("ingest.s3.access_key_id and ingest.s3.secret_access_key must be set together"))
		}
	}
	seen := make(map[string]int, len(in.Patterns))
	for i, p := range in.Patterns {
		prefix := fmt.Sprintf("ingest.patterns[%d]", i)
		switch {
		case strings.TrimSpace(p) == "":
			errs = append(errs, fmt.Errorf("%s is empty", prefix))
			continue
		case strings.HasPrefix(p, "/"):
			errs = append(errs, fmt.Errorf("%s %q must be relative to the source root", prefix, p))
			continue
		}
		if _, err := path.Match(p, ""); err != nil {
			errs = append(errs, fmt.Errorf("%s %q: %w", prefix, p, err))
			continue
		}
		if prev, ok := seen[p]; ok {
			slog.Warn("duplicate ingest pattern", "pattern", p, "first", prev, "again", i)
		}
		seen[p] = i
	}

	if len(in.Patterns) == 0 && cfg.Collections.Manifest == "" {
		slog.Warn("no ingest patterns and no manifest configured; the collection starts with persisted state only")
	}
	return errors.Join(errs...)
}
