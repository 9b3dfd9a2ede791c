package novita

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"

	"advisor-proxy/internal/domain"
)

const (
	// DefaultBaseURL is Novita AI's OpenAI-compatible API root.
	DefaultBaseURL = "https://api.novita.ai/v3/openai"

	defaultTimeout   = 60 * time.Second
	maxResponseBytes = 1 << 20
	maxErrorBytes    = 4096
)

// chatRequest is the minimal request shape for the Chat Completions endpoint.
// Temperature is never omitted so an explicit zero reaches the provider.
type chatRequest struct {
	Model       string               `json:"model"`
	Messages    []domain.ChatMessage `json:"messages"`
	MaxTokens   int                  `json:"max_tokens"`
	Temperature float64              `json:"temperature"`
}

// chatResponse is the minimal response shape returned by the Chat Completions endpoint.
type chatResponse struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	Model   string `json:"model"`
	Choices []struct {
		Index        int                 `json:"index"`
		Message      *domain.ChatMessage `json:"message"`
		FinishReason string              `json:"finish_reason"`
	} `json:"choices"`
	Usage domain.Usage `json:"usage"`
}

// HTTPStatusError captures non-2xx upstream responses with status-aware context.
// Message is the provider's own error message when the body carried one.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Body       string
	Message    string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("novita: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

func (e *HTTPStatusError) UpstreamMessage() string {
	return e.Message
}

// RetryPolicy enables extra attempts for transport failures only. The zero
// value performs a single attempt.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     time.Duration
}

func (p RetryPolicy) enabled() bool {
	return p.MaxAttempts > 1
}

// Client is a focused OpenAI-compatible client for chat completions. It holds
// no credential; the API key is supplied on every call.
type Client struct {
	baseURL    string
	httpClient *http.Client
	retry      RetryPolicy
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimSpace(baseURL)
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.httpClient = &http.Client{Timeout: d}
	}
}

func WithRetry(p RetryPolicy) Option {
	return func(c *Client) {
		c.retry = p
	}
}

// NewClient creates a Client pointed at DefaultBaseURL unless overridden.
func NewClient(opts ...Option) (*Client, error) {
	c := &Client{
		baseURL:    DefaultBaseURL,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.baseURL != "" {
		u, err := url.Parse(c.baseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return nil, fmt.Errorf("novita: invalid base URL %q", c.baseURL)
		}
	}
	if c.retry.MaxAttempts < 0 || c.retry.Backoff < 0 {
		return nil, errors.New("novita: retry policy must not be negative")
	}
	return c, nil
}

// resolvedHTTPClient returns the configured HTTP client, or a default one if
// none was set (e.g. in tests that nil out the field).
func (c *Client) resolvedHTTPClient() *http.Client {
	if c.httpClient != nil {
		return c.httpClient
	}
	return &http.Client{Timeout: defaultTimeout}
}

func chatURL(baseURL string) string {
	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if base == "" {
		base = DefaultBaseURL
	}
	return base + "/chat/completions"
}

// Complete sends one chat completion request and returns the first choice.
func (c *Client) Complete(ctx context.Context, apiKey string, in domain.CompletionRequest) (domain.Completion, error) {
	if strings.TrimSpace(apiKey) == "" {
		return domain.Completion{}, errors.New("novita: api key must not be empty")
	}
	if in.Model == "" {
		return domain.Completion{}, errors.New("novita: model must not be empty")
	}

	body, err := json.Marshal(chatRequest{
		Model:       in.Model,
		Messages:    in.Messages,
		MaxTokens:   in.MaxTokens,
		Temperature: in.Temperature,
	})
	if err != nil {
		return domain.Completion{}, fmt.Errorf("novita: marshal request: %w", err)
	}

	raw, err := c.send(ctx, chatURL(c.baseURL), apiKey, body)
	if err != nil {
		return domain.Completion{}, fmt.Errorf("novita: request failed: %w", err)
	}

	var payload chatResponse
	if decErr := json.Unmarshal(raw, &payload); decErr != nil {
		return domain.Completion{}, fmt.Errorf("novita: decode response: %w", decErr)
	}
	if len(payload.Choices) == 0 || payload.Choices[0].Message == nil {
		return domain.Completion{}, fmt.Errorf("novita: %w", domain.ErrUnexpectedResponse)
	}
	choice := payload.Choices[0]

	return domain.Completion{
		Message:      *choice.Message,
		FinishReason: choice.FinishReason,
		Usage:        payload.Usage,
	}, nil
}

func (c *Client) send(ctx context.Context, endpoint, apiKey string, body []byte) ([]byte, error) {
	if !c.retry.enabled() {
		return c.doOnce(ctx, endpoint, apiKey, body)
	}

	raw, err := backoff.Retry(ctx, func() ([]byte, error) {
		raw, err := c.doOnce(ctx, endpoint, apiKey, body)
		if err != nil && !retryable(ctx, err) {
			return nil, backoff.Permanent(err)
		}
		return raw, err
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(c.retry.Backoff)),
		backoff.WithMaxTries(uint(c.retry.MaxAttempts)),
	)
	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		err = permanent.Unwrap()
	}
	return raw, err
}

// retryable reports whether err is a transport-level failure. Status errors
// come from a provider that answered, and a cancelled caller is final.
func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	var statusErr *HTTPStatusError
	return !errors.As(err, &statusErr)
}

func (c *Client) doOnce(ctx context.Context, endpoint, apiKey string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+apiKey)
	return c.doJSONRequest(req, endpoint)
}

func (c *Client) doJSONRequest(req *http.Request, endpoint string) ([]byte, error) {
	res, doErr := c.resolvedHTTPClient().Do(req)
	if doErr != nil {
		return nil, doErr
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, maxErrorBytes))
		return nil, &HTTPStatusError{
			StatusCode: res.StatusCode,
			URL:        endpoint,
			Body:       string(buf),
			Message:    upstreamMessage(buf),
		}
	}

	buf, err := io.ReadAll(io.LimitReader(res.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	return buf, nil
}

// upstreamMessage extracts the provider's error message from either
// {"error":{"message":"..."}}, {"error":"..."} or {"message":"..."}.
func upstreamMessage(body []byte) string {
	var envelope struct {
		Error   json.RawMessage `json:"error"`
		Message string          `json:"message"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return ""
	}
	if len(envelope.Error) > 0 {
		var s string
		if err := json.Unmarshal(envelope.Error, &s); err == nil && s != "" {
			return s
		}
		var obj struct {
			Message string `json:"message"`
		}
		if err := json.Unmarshal(envelope.Error, &obj); err == nil && obj.Message != "" {
			return obj.Message
		}
	}
	return envelope.Message
}
