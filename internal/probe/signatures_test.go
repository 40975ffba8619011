package probe

import (
	"os"
	"path/filepath"
	"testing"
)

func writeLog(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "server.log")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestScanSignaturesCaseInsensitive(t *testing.T) {
	path := writeLog(t, "INFO boot ok\nthread 'main' PANICKED at src/main.rs\n")
	sig, line, ok := scanSignatures(path, 0, DefaultFailureSignatures)
	if !ok {
		t.Fatal("expected a match")
	}
	if sig != "panic" {
		t.Errorf("signature = %q, want panic", sig)
	}
	if line != "thread 'main' PANICKED at src/main.rs" {
		t.Errorf("line = %q", line)
	}
}

func TestScanSignaturesOffsetSkipsOldLines(t *testing.T) {
	pre := "error during warmup, recovered\n"
	path := writeLog(t, pre+"all good\n")
	if _, _, ok := scanSignatures(path, int64(len(pre)), DefaultFailureSignatures); ok {
		t.Error("match before offset should be ignored")
	}
	if _, _, ok := scanSignatures(path, 0, DefaultFailureSignatures); !ok {
		t.Error("match from start should be found")
	}
}

func TestScanSignaturesMissingFile(t *testing.T) {
	if _, _, ok := scanSignatures(filepath.Join(t.TempDir(), "absent.log"), 0, DefaultFailureSignatures); ok {
		t.Error("missing log must not match")
	}
}

func TestLogSize(t *testing.T) {
	path := writeLog(t, "12345")
	if got := logSize(path); got != 5 {
		t.Errorf("logSize = %d, want 5", got)
	}
	if got := logSize(filepath.Join(t.TempDir(), "absent.log")); got != 0 {
		t.Errorf("logSize of missing file = %d, want 0", got)
	}
}
