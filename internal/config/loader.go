package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Load reads and parses a configuration from the given YAML file path.
// After parsing, defaults are applied to every unset field.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

// LoadDefault searches for a config in standard locations and loads the
// first one found. Search order: ./oxidize.yaml, ~/.oxidize/config.yaml.
// When none exists, the built-in defaults are returned.
func LoadDefault() (*Config, error) {
	candidates := []string{"oxidize.yaml"}

	home, err := os.UserHomeDir()
	if err == nil {
		candidates = append(candidates, filepath.Join(home, ".oxidize", "config.yaml"))
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
	}

	return Default(), nil
}

// Default returns the built-in configuration.
func Default() *Config {
	var cfg Config
	applyDefaults(&cfg)
	return &cfg
}

// applyDefaults fills every unset field with its built-in value. The
// Rust toolchain, markers, and signatures here mirror the migration
// target the tool ships with.
func applyDefaults(cfg *Config) {
	o := &cfg.Oracle
	if o.Model == "" {
		o.Model = "claude-sonnet-4-20250514"
	}
	if o.MaxTokens <= 0 {
		o.MaxTokens = 8192
	}
	if o.Timeout <= 0 {
		o.Timeout = Duration(5 * time.Minute)
	}
	if o.APIKeyEnv == "" {
		o.APIKeyEnv = "ANTHROPIC_API_KEY"
	}

	w := &cfg.Workspace
	if w.OutputDir == "" {
		w.OutputDir = "./output"
	}
	if w.DebugDir == "" {
		w.DebugDir = "./debug"
	}
	if w.PrimaryFile == "" {
		w.PrimaryFile = "src/main.rs"
	}
	if w.ManifestFile == "" {
		w.ManifestFile = "Cargo.toml"
	}

	t := &cfg.Toolchain
	if t.CheckCommand == "" {
		t.CheckCommand = "cargo check"
	}
	if t.BuildCommand == "" {
		t.BuildCommand = "cargo build --release"
	}
	if t.LintCommand == "" {
		t.LintCommand = "cargo clippy -- -D warnings"
	}
	if t.Timeout <= 0 {
		t.Timeout = Duration(5 * time.Minute)
	}

	l := &cfg.Loops
	if l.VerifyFixAttempts <= 0 {
		l.VerifyFixAttempts = 4
	}
	if l.BuildFixAttempts <= 0 {
		l.BuildFixAttempts = 6
	}
	if l.ProbeFixAttempts <= 0 {
		l.ProbeFixAttempts = 3
	}

	s := &cfg.Server
	if s.Host == "" {
		s.Host = "127.0.0.1"
	}
	if s.Port <= 0 {
		s.Port = 8080
	}
	if s.ServeCommand == "" {
		s.ServeCommand = "cargo run --release"
	}
	if s.StartupTimeout <= 0 {
		s.StartupTimeout = Duration(60 * time.Second)
	}
	if s.RequestTimeout <= 0 {
		s.RequestTimeout = Duration(30 * time.Second)
	}
	if s.PollInterval <= 0 {
		s.PollInterval = Duration(500 * time.Millisecond)
	}
	if s.GraceWindow <= 0 {
		s.GraceWindow = Duration(5 * time.Second)
	}
	if len(s.GetMarkers) == 0 {
		s.GetMarkers = []string{"<html", "<form"}
	}
	if len(s.PostMarkers) == 0 {
		s.PostMarkers = []string{"<html", "<img"}
	}
	if len(s.FailureSignatures) == 0 {
		s.FailureSignatures = []string{"error", "panic", "unwrap failed", "fatal"}
	}
}
