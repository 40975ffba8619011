package pipeline

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/oxidize-tools/oxidize/internal/build"
	"github.com/oxidize-tools/oxidize/internal/oracle"
	"github.com/oxidize-tools/oxidize/internal/probe"
	"github.com/oxidize-tools/oxidize/internal/verify"
)

// scriptedOracle serves canned analyze/generate results and counts calls.
type scriptedOracle struct {
	analyzeErr  error
	generateErr error

	analyzeCalls  int
	generateCalls int
}

func (o *scriptedOracle) Analyze(context.Context, string) (string, error) {
	o.analyzeCalls++
	if o.analyzeErr != nil {
		return "", o.analyzeErr
	}
	return "flask app with one POST route", nil
}

func (o *scriptedOracle) Generate(context.Context, string, string) (oracle.Candidate, error) {
	o.generateCalls++
	if o.generateErr != nil {
		return oracle.Candidate{}, o.generateErr
	}
	return oracle.Candidate{Code: "fn main() {}", Manifest: "[package]"}, nil
}

func (o *scriptedOracle) Verify(context.Context, string, oracle.Candidate, string) (*oracle.Verification, error) {
	return nil, errors.New("controller must not call verify directly")
}

func (o *scriptedOracle) Fix(context.Context, oracle.Candidate, *oracle.Verification, string) (oracle.Candidate, error) {
	return oracle.Candidate{}, errors.New("controller must not call fix directly")
}

type fakeVerifier struct {
	result *verify.Result
	err    error
	calls  int
}

func (f *fakeVerifier) Run(_ context.Context, _ string, cand oracle.Candidate, _ string) (*verify.Result, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if f.result.Candidate.Empty() {
		f.result.Candidate = cand
	}
	return f.result, nil
}

type fakeBuilder struct {
	result *build.Result
	err    error
	calls  int
}

func (f *fakeBuilder) Run(_ context.Context, cand oracle.Candidate, _ string) (*build.Result, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if f.result.Candidate.Empty() {
		f.result.Candidate = cand
	}
	return f.result, nil
}

type fakeProber struct {
	result *probe.SupervisorResult
	err    error
	calls  int
}

func (f *fakeProber) Run(_ context.Context, cand oracle.Candidate) (*probe.SupervisorResult, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if f.result.Candidate.Empty() {
		f.result.Candidate = cand
	}
	return f.result, nil
}

func matched() *verify.Result {
	return &verify.Result{
		Verification: &oracle.Verification{Matches: true, CriticalDifferences: map[string][]string{}},
		Score:        math.Inf(1),
	}
}

func newTestController(o oracle.Oracle, v Verifier, b Builder, p Prober) *Controller {
	return NewController(o, v, b, p, nil)
}

func TestRunAllStagesPass(t *testing.T) {
	o := &scriptedOracle{}
	v := &fakeVerifier{result: matched()}
	b := &fakeBuilder{result: &build.Result{Success: true, Info: &build.Info{}}}
	p := &fakeProber{result: &probe.SupervisorResult{Result: &probe.Result{Success: true}}}

	res := newTestController(o, v, b, p).Run(context.Background(), "app.py", "print('hi')")
	if !res.Success {
		t.Fatalf("expected success, got %v", res.Err)
	}
	for _, name := range StageOrder {
		if res.Stages[name] != StagePassed {
			t.Errorf("stage %s = %s, want passed", name, res.Stages[name])
		}
	}
	if o.analyzeCalls != 1 || o.generateCalls != 1 || v.calls != 1 || b.calls != 1 || p.calls != 1 {
		t.Errorf("stage call counts: analyze=%d generate=%d verify=%d build=%d probe=%d",
			o.analyzeCalls, o.generateCalls, v.calls, b.calls, p.calls)
	}
	if res.Metrics.BestScore != math.Inf(1) {
		t.Errorf("best score = %f, want +Inf", res.Metrics.BestScore)
	}
}

func TestRunAnalyzeFailureSkipsRest(t *testing.T) {
	o := &scriptedOracle{analyzeErr: &oracle.Error{Step: "analyze", Err: errors.New("overloaded")}}
	v := &fakeVerifier{result: matched()}
	b := &fakeBuilder{result: &build.Result{Success: true}}
	p := &fakeProber{result: &probe.SupervisorResult{Result: &probe.Result{Success: true}}}

	res := newTestController(o, v, b, p).Run(context.Background(), "app.py", "src")
	if res.Success {
		t.Fatal("expected failure")
	}
	if res.Stages["analyze"] != StageFailed {
		t.Errorf("analyze = %s, want failed", res.Stages["analyze"])
	}
	for _, name := range []string{"generate", "verify", "build", "probe"} {
		if res.Stages[name] != StageSkipped {
			t.Errorf("stage %s = %s, want skipped", name, res.Stages[name])
		}
	}
	// The controller never retries a failed stage.
	if o.analyzeCalls != 1 {
		t.Errorf("analyze called %d times, want 1", o.analyzeCalls)
	}
	if v.calls+b.calls+p.calls != 0 {
		t.Errorf("downstream stages ran after terminal failure")
	}
	var oerr *oracle.Error
	if !errors.As(res.Err, &oerr) {
		t.Errorf("error = %v, want wrapped *oracle.Error", res.Err)
	}
}

func TestRunVerificationExhaustion(t *testing.T) {
	// max fix attempts exhausted with no match: the run fails, build and
	// probe never run, and metrics still carry the best score seen.
	v := &fakeVerifier{result: &verify.Result{
		Candidate: oracle.Candidate{Code: "best attempt"},
		Verification: &oracle.Verification{
			Matches: false,
			CriticalDifferences: map[string][]string{
				"core":     {"wrong hash algorithm"},
				"template": {"missing footer"},
			},
		},
		Score:    -3,
		Attempts: 2,
	}}
	b := &fakeBuilder{result: &build.Result{Success: true}}
	p := &fakeProber{result: &probe.SupervisorResult{Result: &probe.Result{Success: true}}}

	res := newTestController(&scriptedOracle{}, v, b, p).Run(context.Background(), "app.py", "src")
	if res.Success {
		t.Fatal("expected failure")
	}
	var verr *VerificationError
	if !errors.As(res.Err, &verr) {
		t.Fatalf("error = %v, want *VerificationError", res.Err)
	}
	if res.Stages["verify"] != StageFailed {
		t.Errorf("verify = %s, want failed", res.Stages["verify"])
	}
	if res.Stages["build"] != StageSkipped || res.Stages["probe"] != StageSkipped {
		t.Errorf("build/probe = %s/%s, want skipped", res.Stages["build"], res.Stages["probe"])
	}
	if b.calls != 0 || p.calls != 0 {
		t.Error("build or probe ran after verification failure")
	}
	if res.Metrics.BestScore != -3 {
		t.Errorf("best score = %f, want -3", res.Metrics.BestScore)
	}
	if !res.Metrics.HasBest || res.Metrics.BestCandidate.Code != "best attempt" {
		t.Errorf("best candidate not retained: %+v", res.Metrics)
	}
}

func TestRunBuildFailureSkipsProbe(t *testing.T) {
	v := &fakeVerifier{result: matched()}
	b := &fakeBuilder{result: &build.Result{
		Candidate: oracle.Candidate{Code: "still broken"},
		Err:       &build.CompilationError{Output: "error[E0308]"},
	}}
	p := &fakeProber{result: &probe.SupervisorResult{Result: &probe.Result{Success: true}}}

	res := newTestController(&scriptedOracle{}, v, b, p).Run(context.Background(), "app.py", "src")
	if res.Success {
		t.Fatal("expected failure")
	}
	var cerr *build.CompilationError
	if !errors.As(res.Err, &cerr) {
		t.Fatalf("error = %v, want *build.CompilationError", res.Err)
	}
	if res.Stages["probe"] != StageSkipped {
		t.Errorf("probe = %s, want skipped", res.Stages["probe"])
	}
	// The failed build's last candidate is still surfaced.
	if res.Candidate.Code != "still broken" {
		t.Errorf("candidate = %q", res.Candidate.Code)
	}
}

func TestRunProbeFailure(t *testing.T) {
	v := &fakeVerifier{result: matched()}
	b := &fakeBuilder{result: &build.Result{Success: true}}
	p := &fakeProber{result: &probe.SupervisorResult{
		Result: &probe.Result{Err: &probe.StartupTimeoutError{}, Diagnostics: map[string]string{"log_file": "x"}},
	}}

	res := newTestController(&scriptedOracle{}, v, b, p).Run(context.Background(), "app.py", "src")
	if res.Success {
		t.Fatal("expected failure")
	}
	var serr *probe.StartupTimeoutError
	if !errors.As(res.Err, &serr) {
		t.Fatalf("error = %v, want *probe.StartupTimeoutError", res.Err)
	}
	if res.Context.Diagnostics["log_file"] != "x" {
		t.Errorf("probe diagnostics not threaded into context")
	}
}

func TestRunsDoNotShareState(t *testing.T) {
	v := &fakeVerifier{result: &verify.Result{
		Candidate:    oracle.Candidate{Code: "partial"},
		Verification: &oracle.Verification{CriticalDifferences: map[string][]string{"core": {"x"}}},
		Score:        -2,
	}}
	b := &fakeBuilder{result: &build.Result{Success: true}}
	p := &fakeProber{result: &probe.SupervisorResult{Result: &probe.Result{Success: true}}}
	c := newTestController(&scriptedOracle{}, v, b, p)

	first := c.Run(context.Background(), "app.py", "src")
	if first.Metrics.BestScore != -2 {
		t.Fatalf("first run best = %f", first.Metrics.BestScore)
	}

	// The second run fails before verify; its metrics must not inherit
	// the first run's best.
	o2 := &scriptedOracle{analyzeErr: errors.New("down")}
	c2 := newTestController(o2, v, b, p)
	second := c2.Run(context.Background(), "app.py", "src")
	if second.Metrics.HasBest {
		t.Errorf("second run leaked best candidate: %+v", second.Metrics)
	}
	if second.Metrics.BestScore != math.Inf(-1) {
		t.Errorf("second run best = %f, want -Inf", second.Metrics.BestScore)
	}
}

func TestUsageRelay(t *testing.T) {
	relay := NewUsageRelay()
	// Unbound events are dropped, not panics.
	relay.ObserveCall(oracle.CallEvent{InputTokens: 5})

	state := NewMigrationState()
	relay.Bind(state)
	relay.ObserveCall(oracle.CallEvent{Step: "analyze", InputTokens: 10, OutputTokens: 3})
	relay.ObserveCall(oracle.CallEvent{Step: "generate", InputTokens: 7, OutputTokens: 20})
	relay.Bind(nil)
	relay.ObserveCall(oracle.CallEvent{InputTokens: 100})

	m := state.Finalize()
	if m.OracleCalls != 2 {
		t.Errorf("oracle calls = %d, want 2", m.OracleCalls)
	}
	if m.InputTokens != 17 || m.OutputTokens != 23 {
		t.Errorf("tokens = %d/%d, want 17/23", m.InputTokens, m.OutputTokens)
	}
}

func TestUpdateBestStrictImprovement(t *testing.T) {
	s := NewMigrationState()
	worse := &oracle.Verification{CriticalDifferences: map[string][]string{"core": {"a", "b"}}}
	better := &oracle.Verification{CriticalDifferences: map[string][]string{"routing": {"a"}}}

	s.UpdateBest(worse, oracle.Candidate{Code: "worse"})
	s.UpdateBest(better, oracle.Candidate{Code: "better"})
	// Equal score must not overwrite.
	s.UpdateBest(better, oracle.Candidate{Code: "same score, later"})

	m := s.Finalize()
	if m.BestCandidate.Code != "better" {
		t.Errorf("best = %q, want the strictly better candidate", m.BestCandidate.Code)
	}
	if m.BestScore != -1 {
		t.Errorf("best score = %f, want -1", m.BestScore)
	}
}
