package config

import "fmt"

// ValidationError represents a single validation issue with a config.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Validate checks a Config for structural and semantic errors. It
// returns a slice of all validation errors found (empty if valid).
// Defaults are assumed to have been applied already.
func Validate(cfg *Config) []ValidationError {
	var errs []ValidationError

	if cfg.Oracle.Model == "" {
		errs = append(errs, ValidationError{Field: "oracle.model", Message: "is required"})
	}
	if cfg.Oracle.MaxTokens <= 0 {
		errs = append(errs, ValidationError{Field: "oracle.max_tokens", Message: "must be positive"})
	}
	if cfg.Oracle.Temperature < 0 || cfg.Oracle.Temperature > 1 {
		errs = append(errs, ValidationError{Field: "oracle.temperature", Message: "must be between 0 and 1"})
	}

	for _, f := range []struct {
		field, value string
	}{
		{"workspace.output_dir", cfg.Workspace.OutputDir},
		{"workspace.primary_file", cfg.Workspace.PrimaryFile},
		{"workspace.manifest_file", cfg.Workspace.ManifestFile},
		{"toolchain.check_command", cfg.Toolchain.CheckCommand},
		{"toolchain.build_command", cfg.Toolchain.BuildCommand},
		{"toolchain.lint_command", cfg.Toolchain.LintCommand},
		{"server.serve_command", cfg.Server.ServeCommand},
	} {
		if f.value == "" {
			errs = append(errs, ValidationError{Field: f.field, Message: "is required"})
		}
	}

	for _, b := range []struct {
		field string
		value int
	}{
		{"loops.verify_fix_attempts", cfg.Loops.VerifyFixAttempts},
		{"loops.build_fix_attempts", cfg.Loops.BuildFixAttempts},
		{"loops.probe_fix_attempts", cfg.Loops.ProbeFixAttempts},
	} {
		if b.value <= 0 {
			errs = append(errs, ValidationError{Field: b.field, Message: "must be positive"})
		}
	}

	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		errs = append(errs, ValidationError{Field: "server.port", Message: "must be a valid TCP port"})
	}
	if cfg.Server.PollInterval > cfg.Server.StartupTimeout {
		errs = append(errs, ValidationError{
			Field:   "server.poll_interval",
			Message: "must not exceed server.startup_timeout",
		})
	}

	return errs
}
