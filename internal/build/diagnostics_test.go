package build

import (
	"strings"
	"testing"
)

func TestExtractCompilerErrors(t *testing.T) {
	raw := `   Compiling demo v0.1.0
error[E0308]: mismatched types
  --> src/main.rs:4:9
   = note: expected u64, found i32

warning: unused import
error: aborting due to previous error
`
	got := ExtractCompilerErrors(raw)
	if !strings.Contains(got, "error[E0308]") {
		t.Errorf("missing first error block: %q", got)
	}
	if !strings.Contains(got, "aborting due to previous error") {
		t.Errorf("missing second error block: %q", got)
	}
	if strings.Contains(got, "Compiling demo") {
		t.Errorf("compilation noise kept: %q", got)
	}
}

func TestExtractCompilerErrors_PassThrough(t *testing.T) {
	assertion := "AssertionError: expected 200 got 500"
	if got := ExtractCompilerErrors(assertion); got != assertion {
		t.Errorf("assertion output should pass through, got %q", got)
	}
	if got := ExtractCompilerErrors(""); got != "" {
		t.Errorf("empty input should pass through, got %q", got)
	}
	// Output with no recognizable error blocks is returned unchanged.
	plain := "connection refused"
	if got := ExtractCompilerErrors(plain); got != plain {
		t.Errorf("plain output should pass through, got %q", got)
	}
}
