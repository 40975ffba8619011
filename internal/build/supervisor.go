package build

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/oxidize-tools/oxidize/internal/harness"
	"github.com/oxidize-tools/oxidize/internal/oracle"
)

// Config describes the toolchain and workspace the supervisor drives.
type Config struct {
	OutputDir      string
	PrimaryFile    string // path under OutputDir, e.g. "src/main.rs"
	ManifestFile   string // path under OutputDir, e.g. "Cargo.toml"
	CheckCommand   string // fast syntax/type validation, e.g. "cargo check"
	BuildCommand   string // produce runnable artifact, e.g. "cargo build --release"
	LintCommand    string // e.g. "cargo clippy -- -D warnings"
	Timeout        time.Duration
	MaxFixAttempts int
}

func (c *Config) applyDefaults() {
	if c.PrimaryFile == "" {
		c.PrimaryFile = "src/main.rs"
	}
	if c.ManifestFile == "" {
		c.ManifestFile = "Cargo.toml"
	}
	if c.Timeout <= 0 {
		c.Timeout = 5 * time.Minute
	}
	if c.MaxFixAttempts <= 0 {
		c.MaxFixAttempts = 6
	}
}

// Info records the toolchain invocations of a successful run.
type Info struct {
	OutputDir     string        `json:"output_dir"`
	LogFile       string        `json:"log_file"`
	CheckDuration time.Duration `json:"check_duration"`
	LintDuration  time.Duration `json:"lint_duration"`
	BuildDuration time.Duration `json:"build_duration"`
}

// Result is the terminal output of the supervisor.
type Result struct {
	Success   bool
	Candidate oracle.Candidate
	Err       error
	Info      *Info
}

// CompilationError reports that the check step (or its fix sub-loop)
// could not produce compiling code.
type CompilationError struct {
	Output string
}

func (e *CompilationError) Error() string {
	return "compilation failed: " + e.Output
}

// LintError reports that the lint step could not be fixed within bounds.
type LintError struct {
	Output string
}

func (e *LintError) Error() string {
	return "lint failed: " + e.Output
}

// Supervisor materializes a candidate into the working directory, runs
// toolchain check and lint, and drives bounded oracle fix sub-loops on
// failure. The compilation and lint sub-loops count attempts separately,
// and lint never runs against code that does not compile.
type Supervisor struct {
	runner harness.Runner
	oracle oracle.Oracle
	cfg    Config
	log    *zap.Logger
}

// NewSupervisor creates a Supervisor.
func NewSupervisor(runner harness.Runner, o oracle.Oracle, cfg Config, log *zap.Logger) *Supervisor {
	cfg.applyDefaults()
	if log == nil {
		log = zap.NewNop()
	}
	return &Supervisor{runner: runner, oracle: o, cfg: cfg, log: log}
}

// Run takes a candidate through check, lint, and a final full build.
// The returned Result carries the last candidate even on failure so the
// caller can persist partial progress.
func (s *Supervisor) Run(ctx context.Context, cand oracle.Candidate, analysis string) (*Result, error) {
	info := &Info{
		OutputDir: s.cfg.OutputDir,
		LogFile:   filepath.Join(s.cfg.OutputDir, "build.log"),
	}

	// Check phase.
	cand, dur, err := s.fixable(ctx, cand, analysis, "compilation", s.cfg.CheckCommand)
	if err != nil {
		var cerr *checkFailed
		if errors.As(err, &cerr) {
			s.log.Error("compilation fix loop exhausted", zap.String("error", truncate(cerr.output, 400)))
			return &Result{Candidate: cand, Err: &CompilationError{Output: cerr.output}, Info: info}, nil
		}
		return nil, err
	}
	info.CheckDuration = dur
	s.log.Info("check passed", zap.Duration("duration", dur))

	// Lint phase. Only reached with compiling code.
	cand, dur, err = s.fixable(ctx, cand, analysis, "lint", s.cfg.LintCommand)
	if err != nil {
		var cerr *checkFailed
		if errors.As(err, &cerr) {
			s.log.Error("lint fix loop exhausted", zap.String("error", truncate(cerr.output, 400)))
			return &Result{Candidate: cand, Err: &LintError{Output: cerr.output}, Info: info}, nil
		}
		return nil, err
	}
	info.LintDuration = dur
	s.log.Info("lint passed", zap.Duration("duration", dur))

	// Full build to produce the runnable artifact.
	out, err := s.toolchain(ctx, cand, s.cfg.BuildCommand)
	if err != nil {
		return nil, err
	}
	if out.ExitCode != 0 {
		// Check passed but the full build did not; surface as a
		// compilation failure without another fix loop.
		return &Result{Candidate: cand, Err: &CompilationError{Output: out.Stderr}, Info: info}, nil
	}
	info.BuildDuration = out.Duration
	s.log.Info("build complete", zap.Duration("duration", out.Duration), zap.String("output_dir", s.cfg.OutputDir))

	return &Result{Success: true, Candidate: cand, Info: info}, nil
}

// checkFailed is the internal signal that a toolchain step still fails
// after the fix sub-loop.
type checkFailed struct {
	output string
}

func (e *checkFailed) Error() string { return e.output }

// fixable runs one toolchain command and, on failure, a bounded oracle fix
// sub-loop. Each successful fix replaces the candidate; each failed check
// keeps the latest diagnostic for the next fix call.
func (s *Supervisor) fixable(ctx context.Context, cand oracle.Candidate, analysis, label, command string) (oracle.Candidate, time.Duration, error) {
	out, err := s.toolchain(ctx, cand, command)
	if err != nil {
		return cand, 0, err
	}
	if out.ExitCode == 0 {
		return cand, out.Duration, nil
	}

	errText := diagnostic(out)
	s.log.Warn(label+" failed, entering fix loop",
		zap.Int("max_attempts", s.cfg.MaxFixAttempts),
		zap.String("error", truncate(errText, 400)))

	for attempt := 1; attempt <= s.cfg.MaxFixAttempts; attempt++ {
		fixed, err := s.oracle.Fix(ctx, cand, &oracle.Verification{
			CriticalDifferences: map[string][]string{
				"build": {label + ": " + errText},
			},
		}, analysis)
		if err != nil {
			if ctx.Err() != nil {
				return cand, 0, ctx.Err()
			}
			s.log.Warn(label+" fix attempt failed", zap.Int("attempt", attempt), zap.Error(err))
			continue
		}

		out, err := s.toolchain(ctx, fixed, command)
		if err != nil {
			return cand, 0, err
		}
		// The fixed candidate becomes the base for the next attempt
		// whether or not it passes.
		cand = fixed
		if out.ExitCode == 0 {
			s.log.Info(label+" fix successful", zap.Int("attempt", attempt))
			return cand, out.Duration, nil
		}
		errText = diagnostic(out)
	}

	return cand, 0, &checkFailed{output: fmt.Sprintf("failed to fix %s after %d attempts: %s", label, s.cfg.MaxFixAttempts, errText)}
}

// toolchain materializes the candidate and runs one toolchain command,
// recording a human-readable build log for the attempt. Timeouts are
// folded into the diagnostic output so the fix loop can react; spawn
// failures escalate since no fix will install a missing toolchain.
func (s *Supervisor) toolchain(ctx context.Context, cand oracle.Candidate, command string) (*harness.Output, error) {
	if err := Materialize(s.cfg.OutputDir, cand, s.cfg.PrimaryFile, s.cfg.ManifestFile); err != nil {
		return nil, err
	}

	out, err := s.runner.Run(ctx, s.cfg.OutputDir, command, s.cfg.Timeout, nil)
	if err != nil {
		var terr *harness.TimeoutError
		if errors.As(err, &terr) {
			out = &harness.Output{ExitCode: -1, Stderr: terr.Error(), Duration: s.cfg.Timeout}
		} else {
			return nil, err
		}
	}

	if logErr := writeBuildLog(filepath.Join(s.cfg.OutputDir, "build.log"), command, s.cfg.OutputDir, out); logErr != nil {
		s.log.Warn("write build log", zap.Error(logErr))
	}
	return out, nil
}

// diagnostic reduces a failed command's output to what a fix prompt
// needs, preferring stderr and trimming cargo's progress noise.
func diagnostic(out *harness.Output) string {
	text := out.Stderr
	if text == "" {
		text = out.Stdout
	}
	return ExtractCompilerErrors(text)
}

// Materialize writes a candidate's files into the working directory using
// the configured layout.
func Materialize(dir string, cand oracle.Candidate, primaryFile, manifestFile string) error {
	primary := filepath.Join(dir, primaryFile)
	if err := os.MkdirAll(filepath.Dir(primary), 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", filepath.Dir(primary), err)
	}
	if err := os.WriteFile(primary, []byte(cand.Code), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", primary, err)
	}
	manifest := filepath.Join(dir, manifestFile)
	if err := os.WriteFile(manifest, []byte(cand.Manifest), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", manifest, err)
	}
	return nil
}

// writeBuildLog records one toolchain attempt in build.log.
func writeBuildLog(path, command, dir string, out *harness.Output) error {
	log := fmt.Sprintf(`========== Build Log ==========
Command: %s
Working Directory: %s
Exit Code: %d
Duration: %.2f seconds
Timestamp: %s

STDOUT:
%s

STDERR:
%s
==============================
`, command, dir, out.ExitCode, out.Duration.Seconds(), time.Now().Format(time.RFC3339), out.Stdout, out.Stderr)
	return os.WriteFile(path, []byte(log), 0o644)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
