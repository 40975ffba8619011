package ledger

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/oxidize-tools/oxidize/internal/oracle"
)

// Ledger persists per-attempt debug artifacts under a base directory:
//
//	<base>/attempt_N/config/    run configuration snapshot
//	<base>/attempt_N/src/       candidate files as materialized
//	<base>/attempt_N/prompts/   oracle prompt templates in use
//	<base>/attempt_N/responses/ oracle outputs (analysis, verification)
//	<base>/attempt_N/logs/      oracle call traces, copied toolchain logs
//	<base>/migration_summary.json
//
// Attempts number from 1 and keep counting across process restarts.
type Ledger struct {
	baseDir string
	attempt int
}

// New creates a Ledger rooted at baseDir. The directory is created lazily
// on the first StartAttempt.
func New(baseDir string) *Ledger {
	return &Ledger{baseDir: baseDir}
}

// BaseDir returns the ledger's root directory.
func (l *Ledger) BaseDir() string {
	return l.baseDir
}

// Attempt returns the current attempt number, zero before StartAttempt.
func (l *Ledger) Attempt() int {
	return l.attempt
}

func (l *Ledger) attemptDir() string {
	return filepath.Join(l.baseDir, fmt.Sprintf("attempt_%d", l.attempt))
}

// StartAttempt allocates the next attempt number after any already on
// disk and creates its directory skeleton.
func (l *Ledger) StartAttempt() (int, error) {
	next := l.lastAttemptOnDisk() + 1
	l.attempt = next
	for _, sub := range []string{"config", "src", "prompts", "responses", "logs"} {
		if err := os.MkdirAll(filepath.Join(l.attemptDir(), sub), 0o755); err != nil {
			return 0, fmt.Errorf("mkdir attempt dir: %w", err)
		}
	}
	return next, nil
}

func (l *Ledger) lastAttemptOnDisk() int {
	entries, err := os.ReadDir(l.baseDir)
	if err != nil {
		return 0
	}
	last := 0
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), "attempt_") {
			continue
		}
		n, err := strconv.Atoi(strings.TrimPrefix(e.Name(), "attempt_"))
		if err == nil && n > last {
			last = n
		}
	}
	return last
}

// SaveConfig snapshots the run configuration for the current attempt.
func (l *Ledger) SaveConfig(v interface{}) error {
	return WriteJSON(filepath.Join(l.attemptDir(), "config", "run_config.json"), v)
}

// SavePrompt records one prompt template under its step name.
func (l *Ledger) SavePrompt(step, content string) error {
	return WriteAtomic(filepath.Join(l.attemptDir(), "prompts", step+".md"), []byte(content))
}

// SaveResponse records one oracle output under its step name.
func (l *Ledger) SaveResponse(step, content string) error {
	return WriteAtomic(filepath.Join(l.attemptDir(), "responses", step+".md"), []byte(content))
}

// SaveVerification records a verification result as JSON.
func (l *Ledger) SaveVerification(v *oracle.Verification) error {
	return WriteJSON(filepath.Join(l.attemptDir(), "responses", "verification.json"), v)
}

// SaveCandidate snapshots the candidate's files under src/.
func (l *Ledger) SaveCandidate(cand oracle.Candidate, primaryFile, manifestFile string) error {
	primary := filepath.Join(l.attemptDir(), "src", filepath.Base(primaryFile))
	if err := WriteAtomic(primary, []byte(cand.Code)); err != nil {
		return err
	}
	manifest := filepath.Join(l.attemptDir(), "src", filepath.Base(manifestFile))
	return WriteAtomic(manifest, []byte(cand.Manifest))
}

// SaveLog stores a named log capture for the current attempt.
func (l *Ledger) SaveLog(name, content string) error {
	return WriteAtomic(filepath.Join(l.attemptDir(), "logs", name), []byte(content))
}

// SaveTraces stores the oracle call events collected during the attempt.
func (l *Ledger) SaveTraces(events []oracle.CallEvent) error {
	return WriteJSON(filepath.Join(l.attemptDir(), "logs", "oracle_traces.json"), events)
}

// AttemptRecord is one row of the migration summary.
type AttemptRecord struct {
	Attempt   int       `json:"attempt"`
	Success   bool      `json:"success"`
	Error     string    `json:"error,omitempty"`
	BestScore float64   `json:"best_score"`
	Duration  string    `json:"duration"`
	Timestamp time.Time `json:"timestamp"`
}

// Summary aggregates all attempts for one migration subject.
type Summary struct {
	Source       string          `json:"source"`
	Attempts     []AttemptRecord `json:"attempts"`
	SuccessCount int             `json:"success_count"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

func (l *Ledger) summaryPath() string {
	return filepath.Join(l.baseDir, "migration_summary.json")
}

// RecordAttempt appends one attempt record to the migration summary,
// keeping the cumulative success count, via read-modify-write.
func (l *Ledger) RecordAttempt(source string, rec AttemptRecord) error {
	var sum Summary
	if err := ReadJSON(l.summaryPath(), &sum); err != nil && !os.IsNotExist(err) {
		return err
	}
	sum.Source = source
	sum.Attempts = append(sum.Attempts, rec)
	sort.Slice(sum.Attempts, func(i, j int) bool {
		return sum.Attempts[i].Attempt < sum.Attempts[j].Attempt
	})
	sum.SuccessCount = 0
	for _, a := range sum.Attempts {
		if a.Success {
			sum.SuccessCount++
		}
	}
	sum.UpdatedAt = time.Now().UTC()
	return WriteJSON(l.summaryPath(), &sum)
}

// ReadSummary loads the migration summary, or nil when none exists yet.
func (l *Ledger) ReadSummary() (*Summary, error) {
	var sum Summary
	if err := ReadJSON(l.summaryPath(), &sum); err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return &sum, nil
}
