package ledger

import (
	"sync"

	"github.com/oxidize-tools/oxidize/internal/oracle"
)

// TraceLog is an oracle observer that buffers call events in memory for
// later persistence with SaveTraces.
type TraceLog struct {
	mu     sync.Mutex
	events []oracle.CallEvent
}

// NewTraceLog returns an empty TraceLog.
func NewTraceLog() *TraceLog {
	return &TraceLog{}
}

func (t *TraceLog) ObserveCall(ev oracle.CallEvent) {
	t.mu.Lock()
	t.events = append(t.events, ev)
	t.mu.Unlock()
}

// Events returns a copy of the collected events.
func (t *TraceLog) Events() []oracle.CallEvent {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]oracle.CallEvent, len(t.events))
	copy(out, t.events)
	return out
}

// Reset clears the buffer for the next attempt.
func (t *TraceLog) Reset() {
	t.mu.Lock()
	t.events = nil
	t.mu.Unlock()
}
