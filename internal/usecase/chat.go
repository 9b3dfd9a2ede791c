package usecase

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"advisor-proxy/internal/domain"
)

const (
	DefaultMaxTokens   = 1000
	DefaultTemperature = 0.7

	PurposeChatbot = "chatbot"
	PurposeProfile = "profile"

	outcomeSuccess = "success"

	DetailsMessagesRequired = "Messages array is required"
	DetailsUnexpectedFormat = "Unexpected response format from Novita AI"
	detailsUnknown          = "Unknown error occurred"
)

type httpStatusCoder interface {
	HTTPStatusCode() int
}

type upstreamMessager interface {
	UpstreamMessage() string
}

// ChatInput is a chat request as received from the client. Messages is kept
// raw so its presence and shape are checked here rather than by the decoder.
// Nil MaxTokens or Temperature select the defaults.
type ChatInput struct {
	Authorization string
	Messages      json.RawMessage
	Model         string
	MaxTokens     *int
	Temperature   *float64
	Purpose       string
}

// ChatService forwards one chat request to the upstream provider and
// normalizes the result. It keeps no state between calls.
type ChatService struct {
	keys KeySource
	llm  LLMClient
	opts options
}

func NewChatService(keys KeySource, llm LLMClient, opts ...Option) (*ChatService, error) {
	if keys == nil {
		return nil, errors.New("usecase: key source must not be nil")
	}
	if llm == nil {
		return nil, errors.New("usecase: llm client must not be nil")
	}
	return &ChatService{keys: keys, llm: llm, opts: buildOptions(opts)}, nil
}

func (s *ChatService) Complete(ctx context.Context, in ChatInput) (domain.CompletionResult, error) {
	apiKey, keyErr := resolveKey(ctx, s.keys, in.Authorization)
	if keyErr != nil {
		return domain.CompletionResult{}, keyErr
	}

	messages, err := decodeMessages(in.Messages)
	if err != nil {
		return domain.CompletionResult{}, newError(ErrorInvalidRequest, "invalid_messages", DetailsMessagesRequired, err)
	}

	req := s.buildRequest(in, messages)
	start := time.Now()
	completion, err := s.llm.Complete(ctx, apiKey, req)
	if err != nil {
		classified := classifyUpstreamError(err)
		s.opts.observe(req.Model, string(classified.Code), start, domain.Usage{})
		s.opts.logger.WarnContext(ctx, "chat completion failed",
			"model", req.Model,
			"code", classified.Code,
			"reason", classified.Reason,
			"err", err,
		)
		return domain.CompletionResult{}, classified
	}
	s.opts.observe(req.Model, outcomeSuccess, start, completion.Usage)

	return completion.Result(), nil
}

func (s *ChatService) buildRequest(in ChatInput, messages []domain.ChatMessage) domain.CompletionRequest {
	model := strings.TrimSpace(in.Model)
	if model == "" {
		model = s.opts.models.Default
		if in.Purpose == PurposeChatbot {
			model = s.opts.models.Chatbot
		}
	}
	maxTokens := DefaultMaxTokens
	if in.MaxTokens != nil {
		maxTokens = *in.MaxTokens
	}
	temperature := DefaultTemperature
	if in.Temperature != nil {
		temperature = *in.Temperature
	}
	if limit := s.opts.historyLimit; limit > 0 && len(messages) > limit {
		messages = messages[len(messages)-limit:]
	}
	return domain.CompletionRequest{
		Model:       model,
		Messages:    messages,
		MaxTokens:   maxTokens,
		Temperature: temperature,
	}
}

// resolveKey maps key source outcomes onto the error taxonomy: a broken
// source is internal, an absent key is the caller's problem.
func resolveKey(ctx context.Context, keys KeySource, authorization string) (string, *Error) {
	apiKey, err := keys.Resolve(ctx, authorization)
	if err != nil {
		return "", newError(ErrorInternal, "credential_source_error", "", err)
	}
	if strings.TrimSpace(apiKey) == "" {
		return "", newError(ErrorUnauthorized, ReasonMissingCredential, "", nil)
	}
	return apiKey, nil
}

func decodeMessages(raw json.RawMessage) ([]domain.ChatMessage, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, errors.New("usecase: messages missing")
	}
	if trimmed[0] != '[' {
		return nil, errors.New("usecase: messages is not an array")
	}
	var messages []domain.ChatMessage
	if err := json.Unmarshal(trimmed, &messages); err != nil {
		return nil, fmt.Errorf("usecase: decode messages: %w", err)
	}
	if len(messages) == 0 {
		return nil, errors.New("usecase: messages is empty")
	}
	return messages, nil
}

// classifyUpstreamError sorts an upstream failure into the taxonomy. Only a
// provider-reported status or message can signal bad credentials or rate
// limiting; everything else is an upstream failure.
func classifyUpstreamError(err error) *Error {
	status, hasStatus := upstreamStatusCode(err)
	message := upstreamErrorMessage(err)

	if hasStatus {
		if status == http.StatusUnauthorized || strings.Contains(strings.ToLower(message), "auth") {
			return newError(ErrorUnauthorized, ReasonInvalidAPIKey, "", err)
		}
		if status == http.StatusTooManyRequests {
			return newError(ErrorRateLimited, "upstream_rate_limited", "", err)
		}
	}

	switch {
	case errors.Is(err, domain.ErrUnexpectedResponse):
		return newError(ErrorUpstream, "unexpected_response_format", DetailsUnexpectedFormat, err)
	case message != "":
		return newError(ErrorUpstream, "upstream_error", message, err)
	case err.Error() != "":
		return newError(ErrorUpstream, "upstream_error", err.Error(), err)
	default:
		return newError(ErrorUpstream, "upstream_error", detailsUnknown, err)
	}
}

func upstreamStatusCode(err error) (int, bool) {
	var statusErr httpStatusCoder
	if !errors.As(err, &statusErr) {
		return 0, false
	}
	return statusErr.HTTPStatusCode(), true
}

func upstreamErrorMessage(err error) string {
	var m upstreamMessager
	if !errors.As(err, &m) {
		return ""
	}
	return strings.TrimSpace(m.UpstreamMessage())
}
