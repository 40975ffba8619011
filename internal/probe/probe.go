package probe

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/oxidize-tools/oxidize/internal/harness"
)

// State tracks the probe lifecycle. Terminated is terminal; any failure
// passes through Failed before teardown.
type State int

const (
	StateNotStarted State = iota
	StateStarting
	StateReady
	StateProbing
	StateFailed
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "not_started"
	case StateStarting:
		return "starting"
	case StateReady:
		return "ready"
	case StateProbing:
		return "probing"
	case StateFailed:
		return "failed"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Config describes how to boot and exercise the service under test.
type Config struct {
	Host           string
	Port           int
	ServeCommand   string // e.g. "cargo run --release"
	StartupTimeout time.Duration
	RequestTimeout time.Duration
	PollInterval   time.Duration
	GraceWindow    time.Duration // graceful-termination window before force kill
	// TestScript, when set, replaces the built-in HTTP probe sequence
	// with an external executable run in its own directory.
	TestScript string
	// GetMarkers/PostMarkers are substrings the GET and POST response
	// bodies must contain. Empty lists skip body validation.
	GetMarkers        []string
	PostMarkers       []string
	FailureSignatures []string
}

func (c *Config) applyDefaults() {
	if c.Host == "" {
		c.Host = "127.0.0.1"
	}
	if c.Port <= 0 {
		c.Port = 8080
	}
	if c.ServeCommand == "" {
		c.ServeCommand = "cargo run --release"
	}
	if c.StartupTimeout <= 0 {
		c.StartupTimeout = 60 * time.Second
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 30 * time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 500 * time.Millisecond
	}
	if c.GraceWindow <= 0 {
		c.GraceWindow = 5 * time.Second
	}
	if len(c.FailureSignatures) == 0 {
		c.FailureSignatures = DefaultFailureSignatures
	}
}

// Result is the terminal output of one probe run.
type Result struct {
	Success     bool
	Err         error
	Diagnostics map[string]string
}

// Probe boots a candidate artifact as a live service, waits for
// readiness, runs functional checks, and always tears the process tree
// down before returning.
type Probe struct {
	starter harness.Starter
	runner  harness.Runner
	cfg     Config
	http    *http.Client
	log     *zap.Logger

	mu     sync.Mutex
	state  State
	handle harness.Handle
}

// New creates a Probe. The runner is only used for external test scripts.
func New(starter harness.Starter, runner harness.Runner, cfg Config, log *zap.Logger) *Probe {
	cfg.applyDefaults()
	if log == nil {
		log = zap.NewNop()
	}
	return &Probe{
		starter: starter,
		runner:  runner,
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.RequestTimeout},
		log:     log,
		state:   StateNotStarted,
	}
}

// State returns the probe's current lifecycle state.
func (p *Probe) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *Probe) setState(s State) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
}

func (p *Probe) baseURL() string {
	return fmt.Sprintf("http://%s:%d", p.cfg.Host, p.cfg.Port)
}

// Run boots the artifact in artifactDir and probes it. The spawned
// process tree and its log file are always released before Run returns,
// whatever the exit path.
func (p *Probe) Run(ctx context.Context, artifactDir string) *Result {
	logPath := filepath.Join(artifactDir, "server.log")

	p.setState(StateStarting)
	p.log.Info("starting service", zap.String("command", p.cfg.ServeCommand), zap.String("dir", artifactDir))

	diags := map[string]string{"log_file": logPath}

	handle, err := p.starter.Start(artifactDir, p.cfg.ServeCommand, logPath, []string{
		"RUST_BACKTRACE=1",
	})
	if err != nil {
		p.setState(StateFailed)
		p.setState(StateTerminated)
		diags["log_tail"] = tail(readLog(logPath), 4000)
		return &Result{Err: err, Diagnostics: diags}
	}

	p.mu.Lock()
	p.handle = handle
	p.mu.Unlock()
	defer p.teardown()

	// readyOffset marks how much log the startup scans covered; only
	// signatures past it count as new failures later.
	readyOffset, err := p.awaitReady(ctx, handle, logPath)
	if err != nil {
		p.setState(StateFailed)
		p.log.Warn("service never became ready", zap.Error(err))
		diags["log_tail"] = tail(readLog(logPath), 4000)
		return &Result{Err: err, Diagnostics: diags}
	}
	p.setState(StateReady)
	p.log.Info("service is ready")

	p.setState(StateProbing)
	if err := p.probe(ctx, artifactDir, diags); err != nil {
		p.setState(StateFailed)
		diags["log_tail"] = tail(readLog(logPath), 4000)
		return &Result{Err: err, Diagnostics: diags}
	}

	if sig, line, found := scanSignatures(logPath, readyOffset, p.cfg.FailureSignatures); found {
		p.setState(StateFailed)
		diags["log_tail"] = tail(readLog(logPath), 4000)
		return &Result{Err: &LogSignatureError{Signature: sig, Line: line}, Diagnostics: diags}
	}

	p.log.Info("all service probes passed")
	return &Result{Success: true, Diagnostics: diags}
}

// awaitReady polls the liveness endpoint until it answers, the process
// dies, a failure signature appears, or the startup timeout elapses. On
// success it returns the log position its signature scans covered, so
// lines the service writes while answering that first request are still
// seen by the post-probe scan.
func (p *Probe) awaitReady(ctx context.Context, handle harness.Handle, logPath string) (int64, error) {
	deadline := time.Now().Add(p.cfg.StartupTimeout)
	liveness := &http.Client{Timeout: time.Second}

	for time.Now().Before(deadline) {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		// A process that already died will never become ready.
		if handle.Exited() {
			return 0, &EarlyExitError{ExitCode: handle.ExitCode(), Log: readLog(logPath)}
		}
		scanned := logSize(logPath)
		if sig, line, found := scanSignatures(logPath, 0, p.cfg.FailureSignatures); found {
			return 0, &LogSignatureError{Signature: sig, Line: line}
		}

		resp, err := liveness.Get(p.baseURL() + "/")
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return scanned, nil
			}
		}
		time.Sleep(p.cfg.PollInterval)
	}

	return 0, &StartupTimeoutError{Timeout: p.cfg.StartupTimeout, Log: readLog(logPath)}
}

// probe runs either the external test script or the built-in HTTP checks.
func (p *Probe) probe(ctx context.Context, artifactDir string, diags map[string]string) error {
	if p.cfg.TestScript != "" {
		return p.runScript(ctx, artifactDir, diags)
	}
	return p.runHTTPChecks(ctx, diags)
}

// runScript executes the caller-supplied test script in its own
// directory, passing the service coordinates through the environment.
func (p *Probe) runScript(ctx context.Context, artifactDir string, diags map[string]string) error {
	script, err := filepath.Abs(p.cfg.TestScript)
	if err != nil {
		return fmt.Errorf("resolve test script: %w", err)
	}
	env := []string{
		"SERVICE_HOST=" + p.cfg.Host,
		fmt.Sprintf("SERVICE_PORT=%d", p.cfg.Port),
		"ARTIFACT_DIR=" + artifactDir,
	}
	p.log.Info("running test script", zap.String("script", script))

	out, err := p.runner.Run(ctx, filepath.Dir(script), script, p.cfg.RequestTimeout*2, env)
	if err != nil {
		return err
	}
	diags["script_stdout"] = out.Stdout
	diags["script_stderr"] = out.Stderr
	if out.ExitCode != 0 {
		output := out.Stderr
		if output == "" {
			output = out.Stdout
		}
		return &ScriptError{ExitCode: out.ExitCode, Output: output}
	}
	return nil
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

// teardown terminates the process tree and releases the handle; calling
// it twice is a no-op.
func (p *Probe) teardown() {
	p.mu.Lock()
	handle := p.handle
	p.handle = nil
	p.mu.Unlock()

	if handle == nil {
		return
	}
	if err := handle.Terminate(p.cfg.GraceWindow); err != nil {
		// Cleanup failures are logged but never mask the probe result.
		p.log.Warn("terminate service process", zap.Error(err))
	}
	p.setState(StateTerminated)
}
