package pipeline

import (
	"github.com/oxidize-tools/oxidize/internal/build"
	"github.com/oxidize-tools/oxidize/internal/oracle"
)

// Context is the mutable record threaded through the pipeline stages.
// The Controller owns it for the duration of one run; each stage fills
// in the fields it produces and may replace the candidate.
type Context struct {
	SourcePath string
	Source     string

	// Set by analyze.
	Analysis string

	// Set by generate; replaced by verify, build, and probe fixes.
	Candidate oracle.Candidate

	// Set by the verify fix loop.
	Verification *oracle.Verification
	Score        float64

	// Set by the build supervisor.
	BuildInfo *build.Info

	// Set by the service probe.
	Diagnostics map[string]string
}
