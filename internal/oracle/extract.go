package oracle

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

var (
	rustBlockRe = regexp.MustCompile("(?s)```rust\n(.*?)```")
	tomlBlockRe = regexp.MustCompile("(?s)```toml\n(.*?)```")
	jsonBlockRe = regexp.MustCompile("(?s)```json\n(.*?)```")
)

// ExtractCandidate pulls the rust and toml fenced blocks out of a model
// response. Both blocks must be present.
func ExtractCandidate(text string) (Candidate, error) {
	rust := rustBlockRe.FindStringSubmatch(text)
	if rust == nil {
		return Candidate{}, fmt.Errorf("no rust code block found in response")
	}
	toml := tomlBlockRe.FindStringSubmatch(text)
	if toml == nil {
		return Candidate{}, fmt.Errorf("no toml code block found in response")
	}
	return Candidate{
		Code:     strings.TrimSpace(rust[1]),
		Manifest: strings.TrimSpace(toml[1]),
	}, nil
}

// ParseVerification decodes a verification judgment from a model response.
// The response may wrap the JSON in a fenced block, and models are loose
// about the shape of critical_differences values (lists, nested objects,
// bare strings), so values are coerced into flat issue lists.
func ParseVerification(text string) (*Verification, error) {
	raw := text
	if m := jsonBlockRe.FindStringSubmatch(text); m != nil {
		raw = m[1]
	} else if start := strings.Index(raw, "{"); start >= 0 {
		if end := strings.LastIndex(raw, "}"); end > start {
			raw = raw[start : end+1]
		}
	}

	var loose struct {
		Matches             bool                       `json:"matches"`
		CriticalDifferences map[string]json.RawMessage `json:"critical_differences"`
		Suggestions         []string                   `json:"suggestions"`
	}
	if err := json.Unmarshal([]byte(raw), &loose); err != nil {
		return nil, fmt.Errorf("parse verification json: %w", err)
	}

	v := &Verification{
		Matches:             loose.Matches,
		CriticalDifferences: make(map[string][]string),
		Suggestions:         loose.Suggestions,
	}
	for category, rawVal := range loose.CriticalDifferences {
		issues := coerceIssues(rawVal)
		if len(issues) > 0 {
			v.CriticalDifferences[category] = issues
		}
	}
	v.Normalize()
	return v, nil
}

// coerceIssues flattens a critical_differences value into a list of issue
// strings regardless of whether the model emitted a list, an object, or a
// bare string.
func coerceIssues(raw json.RawMessage) []string {
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return nonEmpty(list)
	}

	var obj map[string]string
	if err := json.Unmarshal(raw, &obj); err == nil {
		var issues []string
		for key, val := range obj {
			if strings.TrimSpace(val) == "" {
				continue
			}
			issues = append(issues, key+": "+val)
		}
		return issues
	}

	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		return nonEmpty([]string{single})
	}
	return nil
}

func nonEmpty(issues []string) []string {
	var out []string
	for _, s := range issues {
		if strings.TrimSpace(s) != "" {
			out = append(out, s)
		}
	}
	return out
}
