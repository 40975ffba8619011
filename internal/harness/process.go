package harness

import (
	"os"
	"os/exec"
	"sync"
	"time"
)

// Handle wraps a live long-running process and its captured-output sink.
// It is owned exclusively by the component that started it until Terminate
// completes.
type Handle interface {
	PID() int
	// Exited reports whether the process has already terminated on its own.
	Exited() bool
	// ExitCode is only meaningful once Exited returns true.
	ExitCode() int
	// Terminate requests graceful termination of the whole process tree,
	// escalates to a forced kill after the grace window, and closes the
	// log sink. It is idempotent and safe on an already-dead process.
	Terminate(grace time.Duration) error
	LogPath() string
}

// Starter launches a long-running command without waiting for completion,
// with combined stdout/stderr redirected to a log file.
type Starter interface {
	Start(dir, command, logPath string, env []string) (Handle, error)
}

// ExecStarter implements Starter via `sh -c`.
type ExecStarter struct{}

// NewExecStarter returns a new ExecStarter.
func NewExecStarter() *ExecStarter {
	return &ExecStarter{}
}

func (s *ExecStarter) Start(dir, command, logPath string, env []string) (Handle, error) {
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, &SpawnError{Command: command, Err: err}
	}

	cmd := exec.Command("sh", "-c", command)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), env...)
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	setProcessGroup(cmd)

	if err := cmd.Start(); err != nil {
		logFile.Close()
		return nil, &SpawnError{Command: command, Err: err}
	}

	p := &process{
		cmd:     cmd,
		logFile: logFile,
		logPath: logPath,
		done:    make(chan struct{}),
	}
	go func() {
		err := cmd.Wait()
		p.mu.Lock()
		p.exited = true
		p.exitCode = exitCodeOf(err)
		p.mu.Unlock()
		close(p.done)
	}()
	return p, nil
}

func exitCodeOf(waitErr error) int {
	if waitErr == nil {
		return 0
	}
	if exitErr, ok := waitErr.(*exec.ExitError); ok {
		return exitErr.ExitCode()
	}
	return -1
}

type process struct {
	cmd     *exec.Cmd
	logFile *os.File
	logPath string
	done    chan struct{}

	mu         sync.Mutex
	exited     bool
	exitCode   int
	terminated bool
}

func (p *process) PID() int {
	return p.cmd.Process.Pid
}

func (p *process) Exited() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exited
}

func (p *process) ExitCode() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitCode
}

func (p *process) LogPath() string {
	return p.logPath
}

func (p *process) Terminate(grace time.Duration) error {
	p.mu.Lock()
	if p.terminated {
		p.mu.Unlock()
		return nil
	}
	p.terminated = true
	p.mu.Unlock()

	defer func() {
		// Log-close failures are reported by Terminate but never block
		// the kill path.
		p.logFile.Sync()
		p.logFile.Close()
	}()

	pid := p.cmd.Process.Pid
	if err := termTree(pid); err == nil {
		select {
		case <-p.done:
			return nil
		case <-time.After(grace):
		}
	}

	killTree(pid)
	<-p.done
	return nil
}
