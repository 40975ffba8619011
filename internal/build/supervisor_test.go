package build

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/oxidize-tools/oxidize/internal/harness"
	"github.com/oxidize-tools/oxidize/internal/oracle"
)

// fakeRunner returns scripted outputs in call order and records the
// commands it saw.
type fakeRunner struct {
	outputs  []*harness.Output
	errs     []error
	idx      int
	commands []string
}

func (f *fakeRunner) Run(ctx context.Context, dir, command string, timeout time.Duration, env []string) (*harness.Output, error) {
	f.commands = append(f.commands, command)
	i := f.idx
	f.idx++
	if i < len(f.errs) && f.errs[i] != nil {
		return nil, f.errs[i]
	}
	if i < len(f.outputs) {
		return f.outputs[i], nil
	}
	return &harness.Output{}, nil
}

// fixOracle counts fix calls and returns sequentially labeled candidates.
type fixOracle struct {
	fixCalls int
	lastDiff *oracle.Verification
	fixErr   error
}

func (f *fixOracle) Analyze(ctx context.Context, source string) (string, error) {
	return "", nil
}

func (f *fixOracle) Generate(ctx context.Context, source, analysis string) (oracle.Candidate, error) {
	return oracle.Candidate{}, nil
}

func (f *fixOracle) Verify(ctx context.Context, source string, cand oracle.Candidate, analysis string) (*oracle.Verification, error) {
	return &oracle.Verification{Matches: true}, nil
}

func (f *fixOracle) Fix(ctx context.Context, cand oracle.Candidate, v *oracle.Verification, analysis string) (oracle.Candidate, error) {
	f.fixCalls++
	f.lastDiff = v
	if f.fixErr != nil {
		return oracle.Candidate{}, f.fixErr
	}
	return oracle.Candidate{
		Code:     fmt.Sprintf("fn main() {} // fix %d", f.fixCalls),
		Manifest: "[package]",
	}, nil
}

func testConfig(t *testing.T) Config {
	t.Helper()
	return Config{
		OutputDir:      t.TempDir(),
		CheckCommand:   "cargo check",
		BuildCommand:   "cargo build --release",
		LintCommand:    "cargo clippy -- -D warnings",
		MaxFixAttempts: 6,
	}
}

func ok() *harness.Output {
	return &harness.Output{ExitCode: 0, Duration: time.Second}
}

func fail(stderr string) *harness.Output {
	return &harness.Output{ExitCode: 101, Stderr: stderr}
}

func TestSupervisor_CleanFirstTry(t *testing.T) {
	runner := &fakeRunner{outputs: []*harness.Output{ok(), ok(), ok()}}
	o := &fixOracle{}
	sup := NewSupervisor(runner, o, testConfig(t), nil)

	res, err := sup.Run(context.Background(), oracle.Candidate{Code: "fn main() {}", Manifest: "[package]"}, "analysis")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.Success {
		t.Fatalf("expected success, got error %v", res.Err)
	}
	if o.fixCalls != 0 {
		t.Errorf("fix calls = %d, want 0", o.fixCalls)
	}
	want := []string{"cargo check", "cargo clippy -- -D warnings", "cargo build --release"}
	if len(runner.commands) != len(want) {
		t.Fatalf("commands = %v", runner.commands)
	}
	for i, w := range want {
		if runner.commands[i] != w {
			t.Errorf("command %d = %q, want %q", i, runner.commands[i], w)
		}
	}
}

func TestSupervisor_CheckFailsOnceThenFixed(t *testing.T) {
	runner := &fakeRunner{outputs: []*harness.Output{
		fail("   Compiling demo v0.1.0\nerror[E0308]: mismatched types\n --> src/main.rs:2:5"), // check
		ok(), // re-check after fix
		ok(), // lint
		ok(), // build
	}}
	o := &fixOracle{}
	cfg := testConfig(t)
	sup := NewSupervisor(runner, o, cfg, nil)

	res, err := sup.Run(context.Background(), oracle.Candidate{Code: "broken", Manifest: "[package]"}, "analysis")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.Success {
		t.Fatalf("expected success, got %v", res.Err)
	}
	if o.fixCalls != 1 {
		t.Errorf("fix calls = %d, want 1", o.fixCalls)
	}

	// The fix payload is a single-category build defect carrying the
	// compiler diagnostic, stripped of cargo's progress lines.
	diffs := o.lastDiff.CriticalDifferences
	if len(diffs) != 1 || len(diffs["build"]) != 1 {
		t.Fatalf("fix differences = %v", diffs)
	}
	if !strings.Contains(diffs["build"][0], "compilation: error[E0308]") {
		t.Errorf("build defect = %q", diffs["build"][0])
	}
	if strings.Contains(diffs["build"][0], "Compiling") {
		t.Errorf("build defect carries compiler noise: %q", diffs["build"][0])
	}

	// Lint ran after the successful fix.
	if runner.commands[2] != "cargo clippy -- -D warnings" {
		t.Errorf("commands = %v", runner.commands)
	}

	// The fixed candidate is what ended up materialized.
	data, err := os.ReadFile(filepath.Join(cfg.OutputDir, "src", "main.rs"))
	if err != nil {
		t.Fatalf("read primary file: %v", err)
	}
	if !strings.Contains(string(data), "fix 1") {
		t.Errorf("materialized code = %q", data)
	}
}

func TestSupervisor_CompilationExhaustionSkipsLint(t *testing.T) {
	// Every check invocation fails.
	var outputs []*harness.Output
	for i := 0; i < 10; i++ {
		outputs = append(outputs, fail("error: it is broken"))
	}
	runner := &fakeRunner{outputs: outputs}
	o := &fixOracle{}
	cfg := testConfig(t)
	cfg.MaxFixAttempts = 3
	sup := NewSupervisor(runner, o, cfg, nil)

	res, err := sup.Run(context.Background(), oracle.Candidate{Code: "broken", Manifest: "m"}, "")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Success {
		t.Fatal("expected failure")
	}
	var cerr *CompilationError
	if !errors.As(res.Err, &cerr) {
		t.Fatalf("Err = %v, want *CompilationError", res.Err)
	}
	if o.fixCalls != 3 {
		t.Errorf("fix calls = %d, want 3", o.fixCalls)
	}
	for _, cmd := range runner.commands {
		if strings.Contains(cmd, "clippy") {
			t.Error("lint must not run when compilation never recovered")
		}
	}
}

func TestSupervisor_LintExhaustionReportsLintError(t *testing.T) {
	outputs := []*harness.Output{ok()} // check passes
	for i := 0; i < 10; i++ {
		outputs = append(outputs, fail("warning treated as error"))
	}
	runner := &fakeRunner{outputs: outputs}
	o := &fixOracle{}
	cfg := testConfig(t)
	cfg.MaxFixAttempts = 2
	sup := NewSupervisor(runner, o, cfg, nil)

	res, err := sup.Run(context.Background(), oracle.Candidate{Code: "c", Manifest: "m"}, "")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	var lerr *LintError
	if !errors.As(res.Err, &lerr) {
		t.Fatalf("Err = %v, want *LintError", res.Err)
	}
	if !strings.Contains(o.lastDiff.CriticalDifferences["build"][0], "lint:") {
		t.Errorf("lint defect = %v", o.lastDiff.CriticalDifferences)
	}
}

func TestSupervisor_FullBuildFailureAfterCleanCheck(t *testing.T) {
	runner := &fakeRunner{outputs: []*harness.Output{ok(), ok(), fail("linker error")}}
	sup := NewSupervisor(runner, &fixOracle{}, testConfig(t), nil)

	res, err := sup.Run(context.Background(), oracle.Candidate{Code: "c", Manifest: "m"}, "")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	var cerr *CompilationError
	if !errors.As(res.Err, &cerr) {
		t.Fatalf("Err = %v, want *CompilationError", res.Err)
	}
}

func TestSupervisor_TimeoutFeedsFixLoop(t *testing.T) {
	runner := &fakeRunner{
		errs:    []error{&harness.TimeoutError{Command: "cargo check", Timeout: time.Minute}},
		outputs: []*harness.Output{nil, ok(), ok(), ok()},
	}
	o := &fixOracle{}
	sup := NewSupervisor(runner, o, testConfig(t), nil)

	res, err := sup.Run(context.Background(), oracle.Candidate{Code: "c", Manifest: "m"}, "")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.Success {
		t.Fatalf("expected recovery after timeout, got %v", res.Err)
	}
	if o.fixCalls != 1 {
		t.Errorf("fix calls = %d, want 1", o.fixCalls)
	}
	if !strings.Contains(o.lastDiff.CriticalDifferences["build"][0], "timed out") {
		t.Errorf("fix payload = %v", o.lastDiff.CriticalDifferences)
	}
}

func TestSupervisor_SpawnErrorEscalates(t *testing.T) {
	runner := &fakeRunner{errs: []error{&harness.SpawnError{Command: "cargo check", Err: os.ErrNotExist}}}
	sup := NewSupervisor(runner, &fixOracle{}, testConfig(t), nil)

	_, err := sup.Run(context.Background(), oracle.Candidate{Code: "c", Manifest: "m"}, "")
	var serr *harness.SpawnError
	if !errors.As(err, &serr) {
		t.Fatalf("err = %v, want *harness.SpawnError", err)
	}
}

func TestSupervisor_WritesBuildLog(t *testing.T) {
	runner := &fakeRunner{outputs: []*harness.Output{ok(), ok(), ok()}}
	cfg := testConfig(t)
	sup := NewSupervisor(runner, &fixOracle{}, cfg, nil)

	if _, err := sup.Run(context.Background(), oracle.Candidate{Code: "c", Manifest: "m"}, ""); err != nil {
		t.Fatalf("Run: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(cfg.OutputDir, "build.log"))
	if err != nil {
		t.Fatalf("read build.log: %v", err)
	}
	if !strings.Contains(string(data), "Command: cargo build --release") {
		t.Errorf("build.log = %q", data)
	}
}

func TestMaterialize(t *testing.T) {
	dir := t.TempDir()
	cand := oracle.Candidate{Code: "fn main() {}", Manifest: "[package]\nname = \"demo\""}
	if err := Materialize(dir, cand, "src/main.rs", "Cargo.toml"); err != nil {
		t.Fatalf("Materialize: %v", err)
	}

	code, err := os.ReadFile(filepath.Join(dir, "src", "main.rs"))
	if err != nil {
		t.Fatalf("read main.rs: %v", err)
	}
	if string(code) != cand.Code {
		t.Errorf("main.rs = %q", code)
	}
	manifest, err := os.ReadFile(filepath.Join(dir, "Cargo.toml"))
	if err != nil {
		t.Fatalf("read Cargo.toml: %v", err)
	}
	if string(manifest) != cand.Manifest {
		t.Errorf("Cargo.toml = %q", manifest)
	}
}
