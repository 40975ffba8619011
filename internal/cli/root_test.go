package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestVersionCommand(t *testing.T) {
	SetVersion("1.2.3")
	var buf bytes.Buffer
	versionCmd.SetOut(&buf)
	versionCmd.Run(versionCmd, nil)
	if got := buf.String(); got != "oxidize version 1.2.3\n" {
		t.Errorf("output = %q", got)
	}
}

func TestReadSourceValidation(t *testing.T) {
	dir := t.TempDir()

	goodPath := filepath.Join(dir, "app.py")
	if err := os.WriteFile(goodPath, []byte("print('hi')\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	src, err := readSource(goodPath)
	if err != nil {
		t.Fatalf("valid source rejected: %v", err)
	}
	if !strings.Contains(src, "print") {
		t.Errorf("source = %q", src)
	}

	rsPath := filepath.Join(dir, "main.rs")
	os.WriteFile(rsPath, []byte("fn main() {}"), 0o644)
	if _, err := readSource(rsPath); err == nil || !strings.Contains(err.Error(), "not a Python file") {
		t.Errorf("err = %v, want extension rejection", err)
	}

	emptyPath := filepath.Join(dir, "empty.py")
	os.WriteFile(emptyPath, []byte("  \n"), 0o644)
	if _, err := readSource(emptyPath); err == nil || !strings.Contains(err.Error(), "empty") {
		t.Errorf("err = %v, want empty rejection", err)
	}

	if _, err := readSource(filepath.Join(dir, "absent.py")); err == nil {
		t.Error("missing file accepted")
	}
}

func TestTruncateLeft(t *testing.T) {
	if got := truncateLeft("short.py", 28); got != "short.py" {
		t.Errorf("got %q", got)
	}
	long := "/very/long/path/to/some/project/app.py"
	got := truncateLeft(long, 20)
	if len(got) != 20 || !strings.HasPrefix(got, "...") || !strings.HasSuffix(got, "app.py") {
		t.Errorf("got %q", got)
	}
}
