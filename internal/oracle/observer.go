package oracle

import "time"

// CallEvent describes one completed oracle call, successful or not.
// Events are emitted at the capability boundary; the pipeline core never
// depends on an observer being attached.
type CallEvent struct {
	Step         string        `json:"step"`
	Model        string        `json:"model"`
	Duration     time.Duration `json:"duration"`
	InputTokens  int           `json:"input_tokens"`
	OutputTokens int           `json:"output_tokens"`
	Err          string        `json:"error,omitempty"`
	Timestamp    time.Time     `json:"timestamp"`
}

// TotalTokens returns input plus output tokens for the call.
func (e CallEvent) TotalTokens() int {
	return e.InputTokens + e.OutputTokens
}

// Observer receives call events from an oracle implementation.
type Observer interface {
	ObserveCall(ev CallEvent)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(CallEvent)

func (f ObserverFunc) ObserveCall(ev CallEvent) { f(ev) }

// Observers fans one event out to every attached observer.
type Observers []Observer

func (os Observers) ObserveCall(ev CallEvent) {
	for _, o := range os {
		o.ObserveCall(ev)
	}
}
