package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"advisor-proxy/internal/domain"
	"advisor-proxy/internal/usecase"
)

const (
	pathChat           = "/api/chat"
	pathHealth         = "/api/health"
	pathProfileAnalyze = "/api/profile/analyze"
	profilePrefix      = "/api/profile/"
	varUserID          = "userId"
)

type route struct {
	name    string
	pattern string // gorilla/mux template
	methods []string
	serve   func(h *Handler, ctx context.Context, req request) response
}

func (r *route) allows(method string) bool {
	for _, m := range r.methods {
		if m == method {
			return true
		}
	}
	return false
}

// routes is ordered: the analyze path must win over the userId template.
var routes = []*route{
	{name: "chat", pattern: pathChat, methods: []string{http.MethodPost}, serve: (*Handler).serveChat},
	{name: "health", pattern: pathHealth, methods: []string{http.MethodGet}, serve: (*Handler).serveHealth},
	{name: "profile_analyze", pattern: pathProfileAnalyze, methods: []string{http.MethodPost}, serve: (*Handler).serveAnalyzeProfile},
	{name: "profile_get", pattern: profilePrefix + "{" + varUserID + "}", methods: []string{http.MethodGet}, serve: (*Handler).serveGetProfile},
}

// matchRoute resolves a raw path for the Lambda adapter, mirroring the mux
// templates in routes.
func matchRoute(path string) (*route, map[string]string) {
	switch path {
	case pathChat:
		return routes[0], nil
	case pathHealth:
		return routes[1], nil
	case pathProfileAnalyze:
		return routes[2], nil
	}
	if id, ok := strings.CutPrefix(path, profilePrefix); ok && id != "" && !strings.Contains(id, "/") {
		return routes[3], map[string]string{varUserID: id}
	}
	return nil, nil
}

// decodeBody treats an empty body as an empty object so missing fields are
// reported by validation rather than as bad JSON.
func decodeBody(body string, v any) bool {
	if strings.TrimSpace(body) == "" {
		return true
	}
	return json.Unmarshal([]byte(body), v) == nil
}

type chatRequest struct {
	Messages    json.RawMessage `json:"messages"`
	Model       string          `json:"model"`
	MaxTokens   *int            `json:"max_tokens"`
	Temperature *float64        `json:"temperature"`
	Purpose     string          `json:"purpose"`
}

func (h *Handler) serveChat(ctx context.Context, req request) response {
	var in chatRequest
	if !decodeBody(req.body, &in) {
		return errorBody(http.StatusBadRequest, msgInvalidRequest, detailsInvalidJSON)
	}

	out, err := h.chat.Complete(ctx, usecase.ChatInput{
		Authorization: req.header("Authorization"),
		Messages:      in.Messages,
		Model:         in.Model,
		MaxTokens:     in.MaxTokens,
		Temperature:   in.Temperature,
		Purpose:       in.Purpose,
	})
	if err != nil {
		return h.errorResponseFor(ctx, err)
	}
	return response{status: http.StatusOK, body: out}
}

type healthResponse struct {
	Status string `json:"status"`
}

func (h *Handler) serveHealth(context.Context, request) response {
	return response{status: http.StatusOK, body: healthResponse{Status: "ok"}}
}

type analyzeRequest struct {
	UserID  string         `json:"userId"`
	Profile domain.Profile `json:"profile"`
}

func (h *Handler) serveAnalyzeProfile(ctx context.Context, req request) response {
	if h.profile == nil {
		return errorBody(http.StatusNotFound, msgNotFound, "")
	}
	var in analyzeRequest
	if !decodeBody(req.body, &in) {
		return errorBody(http.StatusBadRequest, msgInvalidRequest, detailsInvalidJSON)
	}

	out, err := h.profile.Analyze(ctx, usecase.AnalyzeInput{
		Authorization: req.header("Authorization"),
		UserID:        in.UserID,
		Profile:       in.Profile,
	})
	if err != nil {
		return h.errorResponseFor(ctx, err)
	}
	return response{status: http.StatusOK, body: out}
}

func (h *Handler) serveGetProfile(ctx context.Context, req request) response {
	if h.profile == nil {
		return errorBody(http.StatusNotFound, msgNotFound, "")
	}
	stored, err := h.profile.Latest(ctx, req.vars[varUserID])
	if err != nil {
		return h.errorResponseFor(ctx, err)
	}
	return response{status: http.StatusOK, body: stored}
}
