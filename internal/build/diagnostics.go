package build

import "strings"

// ExtractCompilerErrors trims toolchain output down to the error blocks so
// fix prompts are not padded with compilation noise. Test-assertion output
// is passed through untouched since its structure is already compact.
func ExtractCompilerErrors(text string) string {
	if text == "" {
		return text
	}
	if strings.Contains(text, "AssertionError") || strings.Contains(text, "Test that") {
		return text
	}

	var blocks []string
	var current []string
	inError := false

	for _, line := range strings.Split(text, "\n") {
		switch {
		case strings.Contains(line, "error[") || strings.Contains(line, "error:"):
			if inError && len(current) > 0 {
				blocks = append(blocks, strings.Join(current, "\n"))
			}
			current = []string{line}
			inError = true
		case inError && strings.TrimSpace(line) != "" && !strings.HasPrefix(line, "   Compiling"):
			current = append(current, line)
		}
	}
	if len(current) > 0 {
		blocks = append(blocks, strings.Join(current, "\n"))
	}

	if len(blocks) == 0 {
		return text
	}
	return strings.Join(blocks, "\n")
}
