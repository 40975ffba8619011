package harness

import (
	"context"
	"os"
	"os/exec"
	"strings"
	"time"
)

// Output holds the observable result of a finished command.
type Output struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
}

// Runner runs a shell command to completion with a bounded lifetime.
// A non-zero exit code is reported in Output, not as an error; errors are
// reserved for spawn failures and timeouts so callers can branch on
// category.
type Runner interface {
	Run(ctx context.Context, dir, command string, timeout time.Duration, env []string) (*Output, error)
}

// Exec implements Runner by shelling out via `sh -c`.
type Exec struct{}

// NewExec returns a new Exec.
func NewExec() *Exec {
	return &Exec{}
}

func (e *Exec) Run(ctx context.Context, dir, command string, timeout time.Duration, env []string) (*Output, error) {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}

	cmd := exec.Command("sh", "-c", command)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), env...)
	setProcessGroup(cmd)

	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, &SpawnError{Command: command, Err: err}
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var waitErr error
	select {
	case waitErr = <-done:
	case <-timer.C:
		killTree(cmd.Process.Pid)
		<-done
		return nil, &TimeoutError{Command: command, Timeout: timeout}
	case <-ctx.Done():
		killTree(cmd.Process.Pid)
		<-done
		return nil, ctx.Err()
	}

	out := &Output{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}
	if waitErr != nil {
		exitErr, ok := waitErr.(*exec.ExitError)
		if !ok {
			return nil, &SpawnError{Command: command, Err: waitErr}
		}
		out.ExitCode = exitErr.ExitCode()
	}
	return out, nil
}
