package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const defaultBaseURL = "https://api.anthropic.com/v1/messages"

const systemPrompt = `You are an expert systems programmer migrating Python web services to Rust.
Respond only in the format each request asks for.`

const analyzePrompt = `Analyze the following Python program for migration to Rust.
Describe its routes, request handling, core algorithms, templates/output format,
and external dependencies. Be concise and concrete.

Python source:
%s`

const generatePrompt = `Migrate the following Python program to Rust based on the analysis.
Produce a complete, compilable program. Respond with exactly two fenced blocks:
a %[1]srust%[1]s block containing src/main.rs and a %[1]stoml%[1]s block containing Cargo.toml.

Analysis:
%[2]s

Python source:
%[3]s`

const verifyPrompt = `Compare the Rust candidate against the original Python program.
Respond with a single JSON object:
{"matches": bool, "critical_differences": {"core": [...], "routing": [...], "template": [...], "build": [...]}, "suggestions": [...]}
Only report differences that change observable behavior. An empty
critical_differences map with matches=true means the migration is faithful.

Analysis:
%s

Python source:
%s

Rust candidate:
%s

Cargo.toml:
%s`

const fixPrompt = `Fix the Rust candidate so the reported differences are resolved while
preserving everything that already works. Respond with exactly two fenced
blocks: a %[1]srust%[1]s block (src/main.rs) and a %[1]stoml%[1]s block (Cargo.toml).

Verification result:
%[2]s

Analysis:
%[3]s

Current src/main.rs:
%[4]s

Current Cargo.toml:
%[5]s`

// PromptTemplates returns the prompt templates by step name, so callers
// can snapshot the prompts in use alongside other debug artifacts.
func PromptTemplates() map[string]string {
	return map[string]string{
		"system":   systemPrompt,
		"analyze":  analyzePrompt,
		"generate": generatePrompt,
		"verify":   verifyPrompt,
		"fix":      fixPrompt,
	}
}

// ClientConfig configures the Anthropic-backed oracle.
type ClientConfig struct {
	BaseURL     string
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
}

// Client implements Oracle against the Anthropic messages API.
type Client struct {
	cfg      ClientConfig
	http     *http.Client
	observer Observer
}

// NewClient creates a Client. An observer may be nil.
func NewClient(cfg ClientConfig, observer Observer) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 8192
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Minute
	}
	return &Client{
		cfg:      cfg,
		http:     &http.Client{Timeout: cfg.Timeout},
		observer: observer,
	}
}

func (c *Client) Analyze(ctx context.Context, source string) (string, error) {
	text, err := c.complete(ctx, "analyze", fmt.Sprintf(analyzePrompt, source))
	if err != nil {
		return "", &Error{Step: "analyze", Err: err}
	}
	return text, nil
}

func (c *Client) Generate(ctx context.Context, source, analysis string) (Candidate, error) {
	text, err := c.complete(ctx, "generate", fmt.Sprintf(generatePrompt, "```", analysis, source))
	if err != nil {
		return Candidate{}, &Error{Step: "generate", Err: err}
	}
	cand, err := ExtractCandidate(text)
	if err != nil {
		return Candidate{}, &Error{Step: "generate", Err: err}
	}
	return cand, nil
}

func (c *Client) Verify(ctx context.Context, source string, cand Candidate, analysis string) (*Verification, error) {
	text, err := c.complete(ctx, "verify", fmt.Sprintf(verifyPrompt, analysis, source, cand.Code, cand.Manifest))
	if err != nil {
		return nil, &Error{Step: "verify", Err: err}
	}
	v, err := ParseVerification(text)
	if err != nil {
		return nil, &Error{Step: "verify", Err: err}
	}
	return v, nil
}

func (c *Client) Fix(ctx context.Context, cand Candidate, v *Verification, analysis string) (Candidate, error) {
	vJSON, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return Candidate{}, &Error{Step: "fix", Err: fmt.Errorf("marshal verification: %w", err)}
	}
	text, err := c.complete(ctx, "fix", fmt.Sprintf(fixPrompt, "```", string(vJSON), analysis, cand.Code, cand.Manifest))
	if err != nil {
		return Candidate{}, &Error{Step: "fix", Err: err}
	}
	fixed, err := ExtractCandidate(text)
	if err != nil {
		return Candidate{}, &Error{Step: "fix", Err: err}
	}
	return fixed, nil
}

type messagesRequest struct {
	Model       string    `json:"model"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature float64   `json:"temperature"`
	System      string    `json:"system"`
	Messages    []message `json:"messages"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messagesResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// complete performs one messages-API round trip and emits a call event.
func (c *Client) complete(ctx context.Context, step, prompt string) (string, error) {
	start := time.Now()
	text, usage, err := c.send(ctx, prompt)

	if c.observer != nil {
		ev := CallEvent{
			Step:         step,
			Model:        c.cfg.Model,
			Duration:     time.Since(start),
			InputTokens:  usage.InputTokens,
			OutputTokens: usage.OutputTokens,
			Timestamp:    start.UTC(),
		}
		if err != nil {
			ev.Err = err.Error()
		}
		c.observer.ObserveCall(ev)
	}

	return text, err
}

type usage struct {
	InputTokens  int
	OutputTokens int
}

func (c *Client) send(ctx context.Context, prompt string) (string, usage, error) {
	body, err := json.Marshal(messagesRequest{
		Model:       c.cfg.Model,
		MaxTokens:   c.cfg.MaxTokens,
		Temperature: c.cfg.Temperature,
		System:      systemPrompt,
		Messages:    []message{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return "", usage{}, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL, bytes.NewReader(body))
	if err != nil {
		return "", usage{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.cfg.APIKey)
	req.Header.Set("anthropic-version", "2023-06-01")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", usage{}, fmt.Errorf("call model api: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", usage{}, fmt.Errorf("read response: %w", err)
	}

	var parsed messagesResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return "", usage{}, fmt.Errorf("decode response (status %d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusOK {
		msg := string(data)
		if parsed.Error != nil {
			msg = parsed.Error.Message
		}
		return "", usage{}, fmt.Errorf("model api status %d: %s", resp.StatusCode, msg)
	}

	var text string
	for _, block := range parsed.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}
	if text == "" {
		return "", usage{}, fmt.Errorf("empty completion")
	}

	return text, usage{
		InputTokens:  parsed.Usage.InputTokens,
		OutputTokens: parsed.Usage.OutputTokens,
	}, nil
}
