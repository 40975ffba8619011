package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/oxidize-tools/oxidize/internal/build"
	"github.com/oxidize-tools/oxidize/internal/oracle"
	"github.com/oxidize-tools/oxidize/internal/probe"
	"github.com/oxidize-tools/oxidize/internal/verify"
)

// Stage statuses in the completion record.
const (
	StagePassed  = "passed"
	StageFailed  = "failed"
	StageSkipped = "skipped"
)

// StageOrder is the fixed execution order of the pipeline.
var StageOrder = []string{"analyze", "generate", "verify", "build", "probe"}

// Verifier runs the bounded verify/fix loop. *verify.Loop is the
// production implementation.
type Verifier interface {
	Run(ctx context.Context, source string, cand oracle.Candidate, analysis string) (*verify.Result, error)
}

// Builder runs toolchain check/lint/build with fix sub-loops.
// *build.Supervisor is the production implementation.
type Builder interface {
	Run(ctx context.Context, cand oracle.Candidate, analysis string) (*build.Result, error)
}

// Prober boots and exercises the built artifact with its fix sub-loop.
// *probe.Supervisor is the production implementation.
type Prober interface {
	Run(ctx context.Context, cand oracle.Candidate) (*probe.SupervisorResult, error)
}

// VerificationError reports that the verify fix loop exhausted its
// attempts without converging on a match.
type VerificationError struct {
	Score  float64
	Issues int
}

func (e *VerificationError) Error() string {
	return fmt.Sprintf("verification did not converge: %d issues remain (score %.1f)", e.Issues, e.Score)
}

// RunResult is the uniform completion record for one pipeline run. Err
// holds the failure of the first failed stage; Stages maps every stage
// name to passed, failed, or skipped.
type RunResult struct {
	Success   bool
	Candidate oracle.Candidate
	Context   *Context
	Metrics   *Metrics
	Stages    map[string]string
	Err       error
}

// Controller sequences the pipeline stages in fixed order, threading the
// shared context record between them. A terminal stage failure
// short-circuits the rest, which are reported as skipped. The controller
// never retries; every bounded loop retries its own error category
// internally and escalates only once its attempts run out.
type Controller struct {
	oracle   oracle.Oracle
	verifier Verifier
	builder  Builder
	prober   Prober
	relay    *UsageRelay
	log      *zap.Logger
}

// AttachUsageRelay binds the relay to each run's state for the run's
// duration, so oracle usage lands in that run's metrics.
func (c *Controller) AttachUsageRelay(r *UsageRelay) {
	c.relay = r
}

// NewController wires the pipeline stages together.
func NewController(o oracle.Oracle, v Verifier, b Builder, p Prober, log *zap.Logger) *Controller {
	if log == nil {
		log = zap.NewNop()
	}
	return &Controller{oracle: o, verifier: v, builder: b, prober: p, log: log}
}

// Run executes one migration over the given source program. The state
// ledger is created fresh here so independent runs never share state,
// and the aggregator is finalized exactly once, at the end.
func (c *Controller) Run(ctx context.Context, sourcePath, source string) *RunResult {
	state := NewMigrationState()
	if c.relay != nil {
		c.relay.Bind(state)
		defer c.relay.Bind(nil)
	}
	pc := &Context{SourcePath: sourcePath, Source: source}

	stages := make(map[string]string, len(StageOrder))
	for _, name := range StageOrder {
		stages[name] = StageSkipped
	}

	var runErr error
	run := func(name string, fn func() error) {
		if runErr != nil {
			return
		}
		start := time.Now()
		c.log.Info("stage starting", zap.String("stage", name))
		if err := fn(); err != nil {
			stages[name] = StageFailed
			runErr = fmt.Errorf("%s: %w", name, err)
			c.log.Error("stage failed", zap.String("stage", name), zap.Error(err))
			return
		}
		stages[name] = StagePassed
		c.log.Info("stage complete", zap.String("stage", name), zap.Duration("duration", time.Since(start)))
	}

	run("analyze", func() error {
		analysis, err := c.oracle.Analyze(ctx, pc.Source)
		if err != nil {
			return err
		}
		pc.Analysis = analysis
		return nil
	})

	run("generate", func() error {
		if pc.Analysis == "" {
			return errors.New("no analysis available")
		}
		cand, err := c.oracle.Generate(ctx, pc.Source, pc.Analysis)
		if err != nil {
			return err
		}
		pc.Candidate = cand
		return nil
	})

	run("verify", func() error {
		if pc.Candidate.Empty() {
			return errors.New("no candidate available")
		}
		res, err := c.verifier.Run(ctx, pc.Source, pc.Candidate, pc.Analysis)
		if err != nil {
			return err
		}
		pc.Candidate = res.Candidate
		pc.Verification = res.Verification
		pc.Score = res.Score

		// First aggregator checkpoint: end of the verify fix loop.
		state.UpdateBest(res.Verification, res.Candidate)

		if !res.Verification.Matches {
			return &VerificationError{Score: res.Score, Issues: res.Verification.IssueCount()}
		}
		return nil
	})

	run("build", func() error {
		res, err := c.builder.Run(ctx, pc.Candidate, pc.Analysis)
		if err != nil {
			return err
		}
		pc.Candidate = res.Candidate
		pc.BuildInfo = res.Info
		if !res.Success {
			return res.Err
		}
		return nil
	})

	run("probe", func() error {
		res, err := c.prober.Run(ctx, pc.Candidate)
		if err != nil {
			return err
		}
		pc.Candidate = res.Candidate
		pc.Diagnostics = res.Result.Diagnostics
		if !res.Result.Success {
			return res.Result.Err
		}
		return nil
	})

	// Second aggregator checkpoint: end of run.
	metrics := state.Finalize()

	if runErr == nil {
		c.log.Info("migration succeeded",
			zap.Duration("duration", metrics.Duration),
			zap.Int("oracle_calls", metrics.OracleCalls))
	} else {
		c.log.Error("migration failed",
			zap.Error(runErr),
			zap.Float64("best_score", metrics.BestScore))
	}

	return &RunResult{
		Success:   runErr == nil,
		Candidate: pc.Candidate,
		Context:   pc,
		Metrics:   metrics,
		Stages:    stages,
		Err:       runErr,
	}
}
