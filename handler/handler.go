package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"

	"advisor-proxy/internal/domain"
	"advisor-proxy/internal/usecase"
)

const (
	headerCorrelationID = "X-Correlation-Id"
	corsMaxAge          = 86400
)

// Error bodies shown to callers. Anything more specific goes in details.
const (
	msgInvalidRequest   = "Invalid request"
	msgMissingKey       = "API key not configured"
	msgInvalidKey       = "Invalid API key"
	msgRateLimited      = "Rate limit exceeded"
	msgUpstreamFailure  = "Failed to get response from Novita AI"
	msgNotFound         = "Not found"
	msgMethodNotAllowed = "Method not allowed"
	msgInternal         = "Internal server error"
	detailsInvalidJSON  = "Request body must be valid JSON"
)

// ChatUseCase is the chat proxy operation.
type ChatUseCase interface {
	Complete(ctx context.Context, in usecase.ChatInput) (domain.CompletionResult, error)
}

// ProfileUseCase is the profile analysis operations. Optional.
type ProfileUseCase interface {
	Analyze(ctx context.Context, in usecase.AnalyzeInput) (usecase.AnalyzeOutput, error)
	Latest(ctx context.Context, userID string) (domain.StoredAnalysis, error)
}

// RequestObserver records one finished request.
type RequestObserver interface {
	ObserveRequest(route string, status int, duration time.Duration)
}

// Handler serves the advisor API for both API Gateway (Handle) and a plain
// HTTP server (Router). Both adapters share routing, error mapping and
// response headers.
type Handler struct {
	chat     ChatUseCase
	profile  ProfileUseCase
	logger   *slog.Logger
	observer RequestObserver
	metrics  http.Handler
}

type Option func(*Handler)

func WithProfile(p ProfileUseCase) Option {
	return func(h *Handler) {
		h.profile = p
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) {
		if l != nil {
			h.logger = l
		}
	}
}

func WithRequestObserver(o RequestObserver) Option {
	return func(h *Handler) {
		h.observer = o
	}
}

// WithMetricsHandler mounts m at /metrics on the Router. Ignored by Handle.
func WithMetricsHandler(m http.Handler) Option {
	return func(h *Handler) {
		h.metrics = m
	}
}

func NewHandler(chat ChatUseCase, opts ...Option) (*Handler, error) {
	if chat == nil {
		return nil, errors.New("handler: chat use case must not be nil")
	}
	h := &Handler{chat: chat, logger: slog.Default()}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// request is the transport-neutral view of an incoming call. Header keys are
// lower-cased.
type request struct {
	method  string
	path    string
	headers map[string]string
	body    string
	vars    map[string]string
}

func (r request) header(name string) string {
	return r.headers[strings.ToLower(name)]
}

// response is what a route produces; body is JSON-encoded unless nil.
type response struct {
	status int
	body   any
}

type errorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func errorBody(status int, msg, details string) response {
	return response{status: status, body: errorResponse{Error: msg, Details: details}}
}

// Handle is the AWS Lambda entry point for API Gateway proxy events.
func (h *Handler) Handle(ctx context.Context, event events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	req := request{
		method:  strings.ToUpper(event.HTTPMethod),
		path:    event.Path,
		headers: lowerKeys(event.Headers),
		body:    event.Body,
	}
	rt, vars := matchRoute(req.path)
	req.vars = vars

	status, headers, body := h.serve(ctx, rt, req)
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers:    headers,
		Body:       body,
	}, nil
}

// serve runs one request through routing, the route function and encoding,
// and logs and records the outcome. rt is nil for unknown paths.
func (h *Handler) serve(ctx context.Context, rt *route, req request) (int, map[string]string, string) {
	start := time.Now()
	correlationID := req.header(headerCorrelationID)
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	logger := h.logger.With("correlation_id", correlationID)

	routeName := "unmatched"
	var resp response
	switch {
	case rt == nil:
		resp = errorBody(http.StatusNotFound, msgNotFound, "")
	case req.method == http.MethodOptions:
		routeName = rt.name
		resp = response{status: http.StatusNoContent}
	case !rt.allows(req.method):
		routeName = rt.name
		resp = errorBody(http.StatusMethodNotAllowed, msgMethodNotAllowed, "")
	default:
		routeName = rt.name
		resp = rt.serve(h, ctx, req)
	}

	body := ""
	if resp.body != nil {
		b, err := json.Marshal(resp.body)
		if err != nil {
			logger.ErrorContext(ctx, "failed to encode response", "route", routeName, "err", err)
			resp.status = http.StatusInternalServerError
			b = []byte(`{"error":"` + msgInternal + `"}`)
		}
		body = string(b)
	}

	duration := time.Since(start)
	if h.observer != nil {
		h.observer.ObserveRequest(routeName, resp.status, duration)
	}
	logger.InfoContext(ctx, "request completed",
		"method", req.method,
		"route", routeName,
		"status", resp.status,
		"duration_ms", duration.Milliseconds(),
	)

	return resp.status, responseHeaders(correlationID, resp.status), body
}

func responseHeaders(correlationID string, status int) map[string]string {
	headers := map[string]string{
		"Access-Control-Allow-Origin":  "*",
		"Access-Control-Allow-Methods": "GET, POST, PUT, DELETE, OPTIONS",
		"Access-Control-Allow-Headers": "Content-Type, Authorization",
		"Access-Control-Max-Age":       strconv.Itoa(corsMaxAge),
		headerCorrelationID:            correlationID,
	}
	if status != http.StatusNoContent {
		headers["Content-Type"] = "application/json"
	}
	return headers
}

// errorResponseFor maps a use case failure onto status and body. Only
// UNAUTHORIZED looks at the reason, to tell a missing key from a rejected one.
func (h *Handler) errorResponseFor(ctx context.Context, err error) response {
	var ue *usecase.Error
	if !errors.As(err, &ue) {
		h.logger.ErrorContext(ctx, "unclassified error", "err", err)
		return errorBody(http.StatusInternalServerError, msgInternal, "")
	}

	switch ue.Code {
	case usecase.ErrorInvalidRequest:
		return errorBody(http.StatusBadRequest, msgInvalidRequest, ue.Details)
	case usecase.ErrorUnauthorized:
		if ue.Reason == usecase.ReasonMissingCredential {
			return errorBody(http.StatusUnauthorized, msgMissingKey, "")
		}
		return errorBody(http.StatusUnauthorized, msgInvalidKey, "")
	case usecase.ErrorRateLimited:
		return errorBody(http.StatusTooManyRequests, msgRateLimited, "")
	case usecase.ErrorUpstream:
		return errorBody(http.StatusInternalServerError, msgUpstreamFailure, ue.Details)
	case usecase.ErrorNotFound:
		return errorBody(http.StatusNotFound, msgNotFound, "")
	default:
		h.logger.ErrorContext(ctx, "internal error", "reason", ue.Reason, "err", ue.Err)
		return errorBody(http.StatusInternalServerError, msgInternal, "")
	}
}

func lowerKeys(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[strings.ToLower(k)] = v
	}
	return out
}
