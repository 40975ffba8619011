package probe

import (
	"fmt"
	"time"
)

// StartupTimeoutError reports that the service never became ready within
// the startup timeout. The captured log is included for diagnosis.
type StartupTimeoutError struct {
	Timeout time.Duration
	Log     string
}

func (e *StartupTimeoutError) Error() string {
	return fmt.Sprintf("server failed to start within %s\nlog contents:\n%s", e.Timeout, e.Log)
}

// EarlyExitError reports that the service process terminated on its own
// before becoming ready.
type EarlyExitError struct {
	ExitCode int
	Log      string
}

func (e *EarlyExitError) Error() string {
	return fmt.Sprintf("server process exited early (code %d)\nlog contents:\n%s", e.ExitCode, e.Log)
}

// LogSignatureError reports that a known failure signature appeared in the
// service log.
type LogSignatureError struct {
	Signature string
	Line      string
}

func (e *LogSignatureError) Error() string {
	return fmt.Sprintf("failure signature %q in server log: %s", e.Signature, e.Line)
}

// ScriptError reports a non-zero exit from the external test script.
type ScriptError struct {
	ExitCode int
	Output   string
}

func (e *ScriptError) Error() string {
	return fmt.Sprintf("test script exited with code %d:\n%s", e.ExitCode, e.Output)
}

// HTTPError reports a failed or malformed HTTP probe response.
type HTTPError struct {
	Method string
	Status int
	Reason string
}

func (e *HTTPError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s probe failed (status %d): %s", e.Method, e.Status, e.Reason)
	}
	return fmt.Sprintf("%s probe failed: %s", e.Method, e.Reason)
}
