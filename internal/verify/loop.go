package verify

import (
	"context"
	"math"

	"go.uber.org/zap"

	"github.com/oxidize-tools/oxidize/internal/oracle"
)

// Loop repeatedly verifies and fixes a candidate against the source
// program, retaining the best-scoring iteration even when later attempts
// regress. It performs oracle calls only; no process spawning.
type Loop struct {
	oracle      oracle.Oracle
	maxAttempts int
	log         *zap.Logger
}

// NewLoop creates a Loop bounded by maxAttempts fix rounds.
func NewLoop(o oracle.Oracle, maxAttempts int, log *zap.Logger) *Loop {
	if maxAttempts <= 0 {
		maxAttempts = 4
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Loop{oracle: o, maxAttempts: maxAttempts, log: log}
}

// Result is the outcome of one verify/fix loop run.
type Result struct {
	Candidate    oracle.Candidate
	Verification *oracle.Verification
	Score        float64
	// Attempts is the fix round that produced the returned candidate;
	// zero when the initial verification already matched.
	Attempts int
	// NoSuccessfulFix marks that no fix attempt ever produced a
	// scoreable verification; the original candidate is returned.
	NoSuccessfulFix bool
}

// Run verifies the candidate and, while it does not match, applies bounded
// fix attempts. Each attempt feeds the latest candidate to the next fix so
// later fixes build on partial progress, but the best-scoring candidate
// seen is what gets returned on exhaustion.
func (l *Loop) Run(ctx context.Context, source string, cand oracle.Candidate, analysis string) (*Result, error) {
	v, err := l.oracle.Verify(ctx, source, cand, analysis)
	if err != nil {
		return nil, err
	}
	if v.Matches {
		l.log.Info("verification passed, no fixes needed")
		return &Result{Candidate: cand, Verification: v, Score: math.Inf(1)}, nil
	}

	l.log.Info("verification failed, entering fix loop",
		zap.Int("issues", v.IssueCount()),
		zap.Int("max_attempts", l.maxAttempts))

	var best *Result
	bestScore := math.Inf(-1)
	current := cand
	currentV := v

	for attempt := 1; attempt <= l.maxAttempts; attempt++ {
		fixed, err := l.oracle.Fix(ctx, current, currentV, analysis)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			l.log.Warn("fix attempt failed", zap.Int("attempt", attempt), zap.Error(err))
			continue
		}

		newV, err := l.oracle.Verify(ctx, source, fixed, analysis)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			l.log.Warn("re-verification failed", zap.Int("attempt", attempt), zap.Error(err))
			continue
		}

		score := Score(newV)
		l.log.Info("fix attempt scored",
			zap.Int("attempt", attempt),
			zap.Float64("score", score),
			zap.Int("issues", newV.IssueCount()))

		if score > bestScore {
			bestScore = score
			best = &Result{Candidate: fixed, Verification: newV, Score: score, Attempts: attempt}
		}

		// Iterate from the latest result, not the best one.
		current = fixed
		currentV = newV

		if newV.Matches {
			l.log.Info("fixes successful", zap.Int("attempt", attempt))
			return &Result{Candidate: fixed, Verification: newV, Score: math.Inf(1), Attempts: attempt}, nil
		}
	}

	if best != nil {
		l.log.Info("fix loop exhausted, using best result",
			zap.Int("best_attempt", best.Attempts),
			zap.Float64("score", best.Score))
		return best, nil
	}

	l.log.Warn("no successful fixes achieved")
	return &Result{
		Candidate:       cand,
		Verification:    v,
		Score:           Score(v),
		NoSuccessfulFix: true,
	}, nil
}
