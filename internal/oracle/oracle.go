package oracle

import (
	"context"
	"fmt"
)

// Candidate is one artifact pair produced by a generate or fix step:
// the primary source file plus its build manifest. Candidates are
// immutable; a fix produces a new Candidate rather than mutating one.
type Candidate struct {
	Code     string `json:"code"`
	Manifest string `json:"manifest"`
}

// Empty reports whether the candidate carries no code at all.
func (c Candidate) Empty() bool {
	return c.Code == "" && c.Manifest == ""
}

// Verification is the oracle's judgment of a candidate against the source
// program. Matches is true iff every category's issue list is empty.
type Verification struct {
	Matches             bool                `json:"matches"`
	CriticalDifferences map[string][]string `json:"critical_differences"`
	Suggestions         []string            `json:"suggestions,omitempty"`
}

// IssueCount returns the total number of remaining issues across categories.
func (v *Verification) IssueCount() int {
	n := 0
	for _, issues := range v.CriticalDifferences {
		n += len(issues)
	}
	return n
}

// Normalize enforces the Matches invariant from the recorded differences.
func (v *Verification) Normalize() {
	v.Matches = v.IssueCount() == 0
}

// Oracle is the external transformation capability. Implementations are
// fallible and possibly slow; repeated calls with identical arguments are
// not assumed deterministic. Every failure is reported as an *Error so
// the enclosing retry loops can treat it as a retryable category.
type Oracle interface {
	// Analyze studies the source program and returns a migration analysis.
	Analyze(ctx context.Context, source string) (string, error)
	// Generate produces an initial candidate from the source and analysis.
	Generate(ctx context.Context, source, analysis string) (Candidate, error)
	// Verify compares a candidate against the source program.
	Verify(ctx context.Context, source string, cand Candidate, analysis string) (*Verification, error)
	// Fix produces a new candidate addressing the given verification result.
	Fix(ctx context.Context, cand Candidate, v *Verification, analysis string) (Candidate, error)
}

// Error wraps a failure of one oracle capability call.
type Error struct {
	Step string // "analyze", "generate", "verify", "fix"
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("oracle %s: %v", e.Step, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}
