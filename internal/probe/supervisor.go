package probe

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/oxidize-tools/oxidize/internal/build"
	"github.com/oxidize-tools/oxidize/internal/oracle"
)

// SupervisorConfig bounds the probe fix loop and names the workspace
// layout used to rematerialize fixed candidates.
type SupervisorConfig struct {
	ArtifactDir    string
	PrimaryFile    string // path under ArtifactDir, e.g. "src/main.rs"
	ManifestFile   string // path under ArtifactDir, e.g. "Cargo.toml"
	MaxFixAttempts int
}

func (c *SupervisorConfig) applyDefaults() {
	if c.PrimaryFile == "" {
		c.PrimaryFile = "src/main.rs"
	}
	if c.ManifestFile == "" {
		c.ManifestFile = "Cargo.toml"
	}
	if c.MaxFixAttempts <= 0 {
		c.MaxFixAttempts = 3
	}
}

// SupervisorResult is the terminal output of the probe fix loop.
type SupervisorResult struct {
	Result *Result
	// Candidate is the last candidate that was probed; it differs from
	// the input only when at least one fix was applied.
	Candidate oracle.Candidate
	// FixAttempts counts oracle fix calls that were made.
	FixAttempts int
}

// ServiceProber runs one probe pass against an artifact directory.
// *Probe is the production implementation.
type ServiceProber interface {
	Run(ctx context.Context, artifactDir string) *Result
}

// Supervisor runs the service probe and, on failure, drives a bounded
// oracle fix loop. Each applied fix is rematerialized into the artifact
// directory so the next probe exercises the fixed code, and the caller
// is expected to rebuild before trusting a passing re-probe.
type Supervisor struct {
	probe  ServiceProber
	oracle oracle.Oracle
	cfg    SupervisorConfig
	log    *zap.Logger
}

// NewSupervisor creates a probe Supervisor.
func NewSupervisor(p ServiceProber, o oracle.Oracle, cfg SupervisorConfig, log *zap.Logger) *Supervisor {
	cfg.applyDefaults()
	if log == nil {
		log = zap.NewNop()
	}
	return &Supervisor{probe: p, oracle: o, cfg: cfg, log: log}
}

// Run probes the artifact and retries through the fix loop while probes
// fail. The final Result always reflects the last probe that actually
// ran, pass or fail.
func (s *Supervisor) Run(ctx context.Context, cand oracle.Candidate) (*SupervisorResult, error) {
	res := s.probe.Run(ctx, s.cfg.ArtifactDir)
	if res.Success {
		return &SupervisorResult{Result: res, Candidate: cand}, nil
	}

	s.log.Warn("service probe failed, entering fix loop",
		zap.Int("max_attempts", s.cfg.MaxFixAttempts),
		zap.Error(res.Err))

	fixes := 0
	for attempt := 1; attempt <= s.cfg.MaxFixAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		category, errText := classifyFailure(res.Err)
		fixed, err := s.oracle.Fix(ctx, cand, &oracle.Verification{
			CriticalDifferences: map[string][]string{
				category: {errText},
			},
		}, "")
		fixes++
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			s.log.Warn("probe fix attempt failed", zap.Int("attempt", attempt), zap.Error(err))
			continue
		}
		cand = fixed

		// The fixed code must be on disk before the next probe or the
		// retry would just re-test the old artifact.
		if err := build.Materialize(s.cfg.ArtifactDir, cand, s.cfg.PrimaryFile, s.cfg.ManifestFile); err != nil {
			return nil, err
		}

		res = s.probe.Run(ctx, s.cfg.ArtifactDir)
		if res.Success {
			s.log.Info("probe fix successful", zap.Int("attempt", attempt))
			return &SupervisorResult{Result: res, Candidate: cand, FixAttempts: fixes}, nil
		}
		s.log.Warn("re-probe failed", zap.Int("attempt", attempt), zap.Error(res.Err))
	}

	s.log.Error("probe fix loop exhausted", zap.Int("attempts", fixes))
	return &SupervisorResult{Result: res, Candidate: cand, FixAttempts: fixes}, nil
}

// classifyFailure buckets a probe failure so the fix prompt can focus on
// the right subsystem. Rendering failures get their own category since
// they usually point at output generation rather than server plumbing.
func classifyFailure(err error) (category, text string) {
	if err == nil {
		return "server", ""
	}
	text = err.Error()
	lower := strings.ToLower(text)
	if strings.Contains(lower, "image verification failed") || strings.Contains(lower, "cannot identify image file") {
		return "image", text
	}
	return "server", text
}
