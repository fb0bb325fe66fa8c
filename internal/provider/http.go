package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/allaspectsdev/gateman/internal/router"
	"github.com/allaspectsdev/gateman/internal/tokenizer"
	"github.com/allaspectsdev/gateman/internal/tracing"
)

// anthropicVersion is sent with every Anthropic request.
const anthropicVersion = "2023-06-01"

// HTTPClientOptions configure NewHTTPClient. Zero Timeout and Retry fall
// back to 60 seconds and DefaultRetryPolicy.
type HTTPClientOptions struct {
	Name    string
	BaseURL string
	APIKey  string
	Timeout time.Duration
	Retry   RetryPolicy
}

// HTTPClient talks to an OpenAI-compatible chat-completions endpoint. One
// client serves one provider; the underlying transport pools connections.
type HTTPClient struct {
	name    string
	baseURL string
	apiKey  string
	client  *http.Client
	counter *tokenizer.Tokenizer
	retry   RetryPolicy
}

// NewHTTPClient creates a client for one provider endpoint.
func NewHTTPClient(opts HTTPClientOptions) *HTTPClient {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	retry := opts.Retry
	if retry.MaxAttempts <= 0 {
		retry = DefaultRetryPolicy()
	}

	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}

	return &HTTPClient{
		name:    opts.Name,
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		apiKey:  opts.APIKey,
		client:  &http.Client{Transport: transport, Timeout: timeout},
		counter: tokenizer.New(),
		retry:   retry,
	}
}

// Name returns the provider name this client serves.
func (c *HTTPClient) Name() string { return c.name }

// Close releases pooled connections.
func (c *HTTPClient) Close() error {
	c.client.CloseIdleConnections()
	return nil
}

// Complete sends the request to the provider's chat-completions endpoint.
// Transient failures (transport errors, 429/502/503/504) are retried with
// backoff inside this call, honoring Retry-After when the provider sets it.
func (c *HTTPClient) Complete(ctx context.Context, req Request) (*Completion, error) {
	body, err := json.Marshal(c.buildChatRequest(req))
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}

	url := c.baseURL + "/v1/chat/completions"
	ctx, span := tracing.StartUpstreamSpan(ctx, url, c.name)
	defer span.End()

	var lastErr error
	for attempt := 0; attempt < c.retry.MaxAttempts; attempt++ {
		completion, retryable, hint, err := c.attempt(ctx, url, body, req)
		if err == nil {
			return completion, nil
		}
		lastErr = err
		if !retryable || attempt == c.retry.MaxAttempts-1 {
			break
		}
		delay := c.retry.nextDelay(attempt, hint)
		log.Debug().
			Str("provider", c.name).
			Int("attempt", attempt+1).
			Dur("delay", delay).
			Err(err).
			Msg("retrying upstream request")
		if serr := sleepWithContext(ctx, delay); serr != nil {
			tracing.RecordError(ctx, serr)
			return nil, serr
		}
	}
	tracing.RecordError(ctx, lastErr)
	return nil, lastErr
}

// attempt runs one HTTP round trip. It reports whether a failure is worth
// retrying and any server-requested delay before doing so.
func (c *HTTPClient) attempt(ctx context.Context, url string, body []byte, req Request) (*Completion, bool, time.Duration, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, false, 0, fmt.Errorf("creating upstream request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	c.setAuthHeaders(httpReq)
	tracing.InjectHeaders(ctx, httpReq)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, true, 0, fmt.Errorf("calling %s: %w", c.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		excerpt := readExcerpt(resp.Body)
		err := fmt.Errorf("%s returned %d: %s", c.name, resp.StatusCode, excerpt)
		return nil, isRetryableStatus(resp.StatusCode), parseRetryAfter(resp.Header.Get("Retry-After")), err
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, false, 0, fmt.Errorf("decoding %s response: %w", c.name, err)
	}
	if parsed.Error != nil {
		return nil, false, 0, fmt.Errorf("%s error: %s", c.name, parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return nil, false, 0, fmt.Errorf("%s returned no choices", c.name)
	}

	completion := &Completion{Text: parsed.Choices[0].Message.Content}
	if parsed.Usage != nil {
		completion.TokensIn = parsed.Usage.PromptTokens
		completion.TokensOut = parsed.Usage.CompletionTokens
	}
	// Providers that omit usage still get billed; estimate locally.
	if completion.TokensIn == 0 {
		completion.TokensIn = c.counter.CountMessages(req.Model, []tokenizer.Message{
			{Role: "user", Content: req.Prompt},
		})
	}
	if completion.TokensOut == 0 && completion.Text != "" {
		completion.TokensOut = c.counter.Count(req.Model, completion.Text)
	}
	return completion, false, 0, nil
}

// CheckHealth probes the provider's model listing endpoint and measures the
// round trip. A reachable endpoint answering non-2xx is reported
// unavailable without an error; transport failures are returned as errors.
func (c *HTTPClient) CheckHealth(ctx context.Context) (router.HealthSnapshot, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/models", nil)
	if err != nil {
		return router.HealthSnapshot{}, fmt.Errorf("creating health request: %w", err)
	}
	c.setAuthHeaders(httpReq)

	start := time.Now()
	resp, err := c.client.Do(httpReq)
	if err != nil {
		return router.HealthSnapshot{}, fmt.Errorf("probing %s: %w", c.name, err)
	}
	latency := float64(time.Since(start)) / float64(time.Millisecond)
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	resp.Body.Close()

	return router.HealthSnapshot{
		Provider:     c.name,
		Available:    resp.StatusCode >= 200 && resp.StatusCode < 300,
		SuccessRate:  1,
		AvgLatencyMs: latency,
	}, nil
}

// setAuthHeaders applies the provider family's auth scheme: Anthropic wants
// x-api-key plus an API version header, everyone else takes a bearer token.
func (c *HTTPClient) setAuthHeaders(req *http.Request) {
	switch c.name {
	case "anthropic":
		req.Header.Set("x-api-key", c.apiKey)
		req.Header.Set("anthropic-version", anthropicVersion)
	default:
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}

func (c *HTTPClient) buildChatRequest(req Request) chatRequest {
	out := chatRequest{
		Model:    req.Model,
		Messages: []chatMessage{{Role: "user", Content: req.Prompt}},
	}
	if req.MaxTokens > 0 {
		mt := req.MaxTokens
		out.MaxTokens = &mt
	}
	// Temperature 0 is a deliberate choice; always send it.
	temp := req.Temperature
	out.Temperature = &temp
	return out
}

// readExcerpt returns up to 512 bytes of the body for error messages.
func readExcerpt(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, 512))
	return strings.TrimSpace(string(b))
}

// ---------- chat-completions wire types ----------

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   *int          `json:"max_tokens,omitempty"`
	Temperature *float64      `json:"temperature,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	ID      string       `json:"id,omitempty"`
	Model   string       `json:"model,omitempty"`
	Choices []chatChoice `json:"choices,omitempty"`
	Usage   *chatUsage   `json:"usage,omitempty"`
	Error   *apiError    `json:"error,omitempty"`
}

type chatChoice struct {
	Index        int         `json:"index"`
	Message      chatMessage `json:"message"`
	FinishReason string      `json:"finish_reason,omitempty"`
}

type chatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type apiError struct {
	Message string `json:"message"`
	Type    string `json:"type,omitempty"`
}
