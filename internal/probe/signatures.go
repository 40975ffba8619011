package probe

import (
	"os"
	"strings"
)

// DefaultFailureSignatures are the log substrings treated as fatal when
// they appear in service output. Matching is case-insensitive.
var DefaultFailureSignatures = []string{
	"error",
	"panic",
	"unwrap failed",
	"fatal",
}

// scanSignatures scans the log file from byte offset for the first line
// containing a failure signature. It returns the matched signature and
// line, or ok=false when the log is clean (or unreadable).
func scanSignatures(logPath string, offset int64, signatures []string) (sig, line string, ok bool) {
	data, err := os.ReadFile(logPath)
	if err != nil || int64(len(data)) <= offset {
		return "", "", false
	}
	for _, l := range strings.Split(string(data[offset:]), "\n") {
		lower := strings.ToLower(l)
		for _, s := range signatures {
			if strings.Contains(lower, strings.ToLower(s)) {
				return s, strings.TrimSpace(l), true
			}
		}
	}
	return "", "", false
}

// logSize returns the current size of the log file, or zero when it does
// not exist yet.
func logSize(logPath string) int64 {
	fi, err := os.Stat(logPath)
	if err != nil {
		return 0
	}
	return fi.Size()
}

// readLog returns the captured log contents, best effort.
func readLog(logPath string) string {
	data, err := os.ReadFile(logPath)
	if err != nil {
		return ""
	}
	return string(data)
}
