package ai

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// Options configures the OpenRouter client. Zero values fall back to
// DefaultOptions where a default exists.
type Options struct {
	APIKey      string
	BaseURL     string // e.g. "https://openrouter.ai/api/v1"
	Model       string // e.g. "google/gemini-2.5-pro"
	Temperature float32
	MaxTokens   int
	Timeout     time.Duration

	// Attribution headers. Empty values are not sent.
	Referer string
	Title   string
}

// DefaultOptions returns the reference settings.
func DefaultOptions() Options {
	return Options{
		BaseURL:     "https://openrouter.ai/api/v1",
		Model:       "google/gemini-2.5-pro",
		Temperature: 0.7,
		MaxTokens:   2048,
		Timeout:     30 * time.Second,
	}
}

// openRouterClient is the concrete Completer backed by OpenRouter's
// OpenAI-compatible /chat/completions endpoint.
type openRouterClient struct {
	client *openai.Client
	opts   Options
}

// NewOpenRouterClient returns a Completer that calls OpenRouter (or any
// OpenAI-compatible endpoint at opts.BaseURL).
func NewOpenRouterClient(opts Options) Completer {
	def := DefaultOptions()
	if opts.BaseURL == "" {
		opts.BaseURL = def.BaseURL
	}
	if opts.Model == "" {
		opts.Model = def.Model
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = def.MaxTokens
	}
	if opts.Timeout <= 0 {
		opts.Timeout = def.Timeout
	}

	cfg := openai.DefaultConfig(opts.APIKey)
	cfg.BaseURL = opts.BaseURL
	cfg.HTTPClient = &http.Client{
		Timeout: opts.Timeout,
		Transport: &attributionTransport{
			base:    http.DefaultTransport,
			referer: opts.Referer,
			title:   opts.Title,
		},
	}

	return &openRouterClient{
		client: openai.NewClientWithConfig(cfg),
		opts:   opts,
	}
}

// Complete sends one chat-completion request. It never retries.
func (c *openRouterClient) Complete(ctx context.Context, system, prompt string) (string, error) {
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.opts.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: c.opts.Temperature,
		MaxTokens:   c.opts.MaxTokens,
	})
	if err != nil {
		return "", classify(err)
	}

	if len(resp.Choices) == 0 {
		return "", &CallError{Kind: KindProtocol, Err: errors.New("no choices in response")}
	}

	return resp.Choices[0].Message.Content, nil
}

// classify maps a go-openai / net/http error onto a CallError.
func classify(err error) *CallError {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &CallError{Kind: KindStatus, StatusCode: apiErr.HTTPStatusCode, Err: err}
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return &CallError{Kind: KindStatus, StatusCode: reqErr.HTTPStatusCode, Err: err}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return &CallError{Kind: KindTimeout, Err: err}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &CallError{Kind: KindTimeout, Err: err}
	}

	return &CallError{Kind: KindTransport, Err: err}
}

// ─── ATTRIBUTION HEADERS ──────────────────────────────────────────────────────

// attributionTransport adds OpenRouter's optional app attribution headers.
// go-openai has no hook for extra headers, so they are set per round trip.
type attributionTransport struct {
	base    http.RoundTripper
	referer string
	title   string
}

func (t *attributionTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.referer == "" && t.title == "" {
		return t.base.RoundTrip(req)
	}

	req = req.Clone(req.Context())
	if t.referer != "" {
		req.Header.Set("HTTP-Referer", t.referer)
	}
	if t.title != "" {
		req.Header.Set("X-Title", t.title)
	}
	return t.base.RoundTrip(req)
}
