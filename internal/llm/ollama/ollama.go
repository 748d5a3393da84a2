// Package ollama implements the LLM provider interface against the native
// Ollama API. It runs fully local: no API key, no cloud round trip.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/wanjiru/amri/internal/llm"
)

const (
	defaultBaseURL = "http://localhost:11434"
	chatPath       = "/api/chat"
	tagsPath       = "/api/tags"

	// maxAttempts bounds the retries when the model answers with prose
	// instead of a runnable command.
	maxAttempts = 3
)

const systemPrompt = `You translate natural language requests into a single POSIX shell command.
Rules:
- Reply with ONLY the command, on one line. No explanations, no markdown, no backticks.
- Prefer simple, portable commands.
- If the request is a question rather than a task, answer it briefly in plain language instead.`

const explainPrompt = `You explain shell commands to non-experts.
Given a command and optionally its output, reply with one or two short plain-language sentences describing what the command does. No markdown.`

const retryPrompt = `That was not a runnable command. Reply with ONLY the shell command on a single line, nothing else.`

// Client implements llm.Provider using the native Ollama chat API.
type Client struct {
	model      string
	baseURL    string
	options    Options
	httpClient *http.Client
	logger     *slog.Logger
}

// Options are Ollama model parameters. Zero values are omitted from the
// request so Ollama's own defaults apply.
type Options struct {
	Temperature float64 `json:"temperature,omitempty"`
	TopK        int     `json:"top_k,omitempty"`
	TopP        float64 `json:"top_p,omitempty"`
	NumPredict  int     `json:"num_predict,omitempty"`
	NumCtx      int     `json:"num_ctx,omitempty"`
}

// Option configures the Ollama client.
type Option func(*Client)

// WithBaseURL overrides the API base URL.
func WithBaseURL(url string) Option {
	return func(c *Client) { c.baseURL = strings.TrimSuffix(url, "/") }
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithOptions sets the model parameters sent with every request.
func WithOptions(opts Options) Option {
	return func(c *Client) { c.options = opts }
}

// NewClient creates an Ollama provider for the given model.
func NewClient(model string, logger *slog.Logger, opts ...Option) *Client {
	c := &Client{
		model:      model,
		baseURL:    defaultBaseURL,
		httpClient: http.DefaultClient,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Name() string { return "ollama" }

// GenerateCommand translates a natural language request into a shell
// command. The model is retried when it replies with prose for something
// that looks like a task; prose replies to questions come back as answers.
func (c *Client) GenerateCommand(ctx context.Context, req *llm.Request) (*llm.Generation, error) {
	input := llm.Truncate(req.Input)

	messages := []apiMessage{{Role: "system", Content: systemPrompt}}
	for _, h := range req.History {
		messages = append(messages, apiMessage{Role: "user", Content: h})
	}
	userContent := input
	if req.WorkDir != "" {
		userContent = "Working directory: " + req.WorkDir + "\nRequest: " + input
	}
	messages = append(messages, apiMessage{Role: "user", Content: userContent})

	var lastReply string
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		content, err := c.chat(ctx, messages)
		if err != nil {
			return nil, err
		}
		lastReply = strings.TrimSpace(content)

		if cmd, ok := extractCommand(content); ok {
			c.logger.DebugContext(ctx, "command generated",
				slog.String("model", c.model),
				slog.Int("attempt", attempt),
			)
			return &llm.Generation{Command: cmd}, nil
		}

		// Prose reply to a question is the answer, not a failure.
		if strings.HasSuffix(strings.TrimSpace(input), "?") {
			return &llm.Generation{Answer: lastReply}, nil
		}

		c.logger.DebugContext(ctx, "non-command reply, retrying",
			slog.Int("attempt", attempt),
		)
		messages = append(messages,
			apiMessage{Role: "assistant", Content: content},
			apiMessage{Role: "user", Content: retryPrompt},
		)
	}

	if lastReply == "" {
		return nil, fmt.Errorf("model %s returned no usable output after %d attempts", c.model, maxAttempts)
	}
	// The model insists on prose. Surface it rather than failing.
	return &llm.Generation{Answer: lastReply}, nil
}

// Explain produces a short plain-language explanation of a command.
func (c *Client) Explain(ctx context.Context, command, output string) (string, error) {
	content := "Command: " + command
	if output != "" {
		content += "\nOutput:\n" + llm.Truncate(output)
	}
	reply, err := c.chat(ctx, []apiMessage{
		{Role: "system", Content: explainPrompt},
		{Role: "user", Content: content},
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(reply), nil
}

// Available probes /api/tags and verifies the configured model is pulled.
func (c *Client) Available(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+tagsPath, nil)
	if err != nil {
		return err
	}
	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("ollama unreachable at %s: %w", c.baseURL, err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		return fmt.Errorf("ollama returned status %d", httpResp.StatusCode)
	}

	var tags tagsResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&tags); err != nil {
		return fmt.Errorf("parsing model list: %w", err)
	}
	for _, m := range tags.Models {
		if m.Name == c.model || strings.TrimSuffix(m.Name, ":latest") == c.model {
			return nil
		}
	}
	return fmt.Errorf("model %s is not pulled (try: ollama pull %s)", c.model, c.model)
}

func (c *Client) chat(ctx context.Context, messages []apiMessage) (string, error) {
	body, err := json.Marshal(apiRequest{
		Model:    c.model,
		Messages: messages,
		Stream:   false,
		Options:  c.options,
	})
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+chatPath, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("creating HTTP request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("sending request: %w", err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return "", fmt.Errorf("reading response body: %w", err)
	}
	if httpResp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("ollama error (status %d): %s", httpResp.StatusCode, string(respBody))
	}

	var apiResp apiResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return "", fmt.Errorf("parsing response: %w", err)
	}
	return apiResp.Message.Content, nil
}

// extractCommand pulls a runnable single-line command out of a model reply,
// tolerating markdown fences and shell prompts the model was told not to
// emit but emits anyway.
func extractCommand(raw string) (string, bool) {
	s := strings.TrimSpace(raw)
	if fenced, ok := extractFence(s); ok {
		s = fenced
	}
	s = strings.TrimSpace(strings.TrimPrefix(s, "$ "))
	s = strings.Trim(s, "`")

	if s == "" || strings.ContainsAny(s, "\n") {
		return "", false
	}
	if looksLikeProse(s) {
		return "", false
	}
	return s, true
}

// extractFence returns the body of the first ``` code fence, if present.
func extractFence(s string) (string, bool) {
	start := strings.Index(s, "```")
	if start == -1 {
		return "", false
	}
	rest := s[start+3:]
	// Language hint on the fence line (```sh, ```bash).
	if nl := strings.Index(rest, "\n"); nl != -1 {
		firstLine := strings.TrimSpace(rest[:nl])
		if firstLine == "" || !strings.ContainsAny(firstLine, " \t") && len(firstLine) <= 10 {
			rest = rest[nl+1:]
		}
	}
	end := strings.Index(rest, "```")
	if end == -1 {
		return "", false
	}
	return strings.TrimSpace(rest[:end]), true
}

var prosePrefixes = []string{
	"i ", "i'", "sure", "here", "to ", "the ", "this ", "that ",
	"you ", "sorry", "unfortunately", "certainly", "of course",
	"it ", "there ", "yes", "no,", "as an",
}

func looksLikeProse(s string) bool {
	lower := strings.ToLower(s)
	for _, p := range prosePrefixes {
		if strings.HasPrefix(lower, p) {
			return true
		}
	}
	return strings.HasSuffix(s, "?")
}

// --- Ollama API wire types (unexported) ---

type apiRequest struct {
	Model    string       `json:"model"`
	Messages []apiMessage `json:"messages"`
	Stream   bool         `json:"stream"`
	Options  Options      `json:"options"`
}

type apiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type apiResponse struct {
	Message apiMessage `json:"message"`
	Done    bool       `json:"done"`
}

type tagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}
