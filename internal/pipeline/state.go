package pipeline

import (
	"math"
	"sync"
	"time"

	"github.com/oxidize-tools/oxidize/internal/oracle"
	"github.com/oxidize-tools/oxidize/internal/verify"
)

// MigrationState is the run-wide ledger of the best candidate seen and
// the cumulative oracle usage. It lives for exactly one pipeline run and
// is mutated only at two checkpoints: UpdateBest at the end of the
// verify fix loop and Finalize at the end of the run. All other
// components return immutable result values instead of writing here.
type MigrationState struct {
	mu      sync.Mutex
	started time.Time

	bestScore float64
	best      oracle.Candidate
	hasBest   bool

	oracleCalls  int
	inputTokens  int
	outputTokens int
}

// NewMigrationState returns a fresh state with no recorded best.
func NewMigrationState() *MigrationState {
	return &MigrationState{started: time.Now(), bestScore: math.Inf(-1)}
}

// ObserveCall implements oracle.Observer, accumulating usage counters.
func (s *MigrationState) ObserveCall(ev oracle.CallEvent) {
	s.mu.Lock()
	s.oracleCalls++
	s.inputTokens += ev.InputTokens
	s.outputTokens += ev.OutputTokens
	s.mu.Unlock()
}

// UpdateBest recomputes the candidate's score and overwrites the stored
// best only when strictly improved.
func (s *MigrationState) UpdateBest(v *oracle.Verification, cand oracle.Candidate) {
	score := verify.Score(v)
	s.mu.Lock()
	defer s.mu.Unlock()
	if score > s.bestScore {
		s.bestScore = score
		s.best = cand
		s.hasBest = true
	}
}

// UsageRelay is an oracle observer that forwards call events to the
// active run's state. It exists so the oracle client, which is built
// before any run starts, can feed usage into the per-run ledger.
type UsageRelay struct {
	mu    sync.Mutex
	state *MigrationState
}

// NewUsageRelay returns an unbound relay; events are dropped until a
// run binds its state.
func NewUsageRelay() *UsageRelay {
	return &UsageRelay{}
}

// Bind points the relay at a run's state. Bind(nil) detaches it.
func (r *UsageRelay) Bind(s *MigrationState) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
}

func (r *UsageRelay) ObserveCall(ev oracle.CallEvent) {
	r.mu.Lock()
	s := r.state
	r.mu.Unlock()
	if s != nil {
		s.ObserveCall(ev)
	}
}

// Metrics is the aggregated outcome of one run. BestCandidate may differ
// from the pipeline's final candidate when later stages regressed.
type Metrics struct {
	BestScore     float64          `json:"best_score"`
	BestCandidate oracle.Candidate `json:"-"`
	HasBest       bool             `json:"has_best"`
	Duration      time.Duration    `json:"duration"`
	OracleCalls   int              `json:"oracle_calls"`
	InputTokens   int              `json:"input_tokens"`
	OutputTokens  int              `json:"output_tokens"`
}

// Finalize closes out the run and returns the aggregated metrics.
func (s *MigrationState) Finalize() *Metrics {
	s.mu.Lock()
	defer s.mu.Unlock()
	return &Metrics{
		BestScore:     s.bestScore,
		BestCandidate: s.best,
		HasBest:       s.hasBest,
		Duration:      time.Since(s.started),
		OracleCalls:   s.oracleCalls,
		InputTokens:   s.inputTokens,
		OutputTokens:  s.outputTokens,
	}
}
