package usecase

import (
	"context"
	"errors"
	"strings"
	"time"

	"advisor-proxy/internal/domain"
)

const (
	profileMaxTokens   = 2000
	profileTemperature = 0.7
)

// AnalysisStore persists profile analyses per user.
type AnalysisStore interface {
	SaveAnalysis(ctx context.Context, userID, model string, analysis domain.ProfileAnalysis) (domain.StoredAnalysis, error)
	GetLatestAnalysis(ctx context.Context, userID string) (domain.StoredAnalysis, bool, error)
}

type AnalyzeInput struct {
	Authorization string
	UserID        string
	Profile       domain.Profile
}

type AnalyzeOutput struct {
	UserID   string                 `json:"userId,omitempty"`
	Model    string                 `json:"model"`
	Stored   bool                   `json:"stored"`
	Analysis domain.ProfileAnalysis `json:"analysis"`
}

// ProfileService turns a student profile into structured recommendations.
// Upstream and parse failures degrade to a fixed default analysis instead of
// failing the request.
type ProfileService struct {
	keys KeySource
	llm  LLMClient
	opts options
}

func NewProfileService(keys KeySource, llm LLMClient, opts ...Option) (*ProfileService, error) {
	if keys == nil {
		return nil, errors.New("usecase: key source must not be nil")
	}
	if llm == nil {
		return nil, errors.New("usecase: llm client must not be nil")
	}
	return &ProfileService{keys: keys, llm: llm, opts: buildOptions(opts)}, nil
}

func (s *ProfileService) Analyze(ctx context.Context, in AnalyzeInput) (AnalyzeOutput, error) {
	apiKey, keyErr := resolveKey(ctx, s.keys, in.Authorization)
	if keyErr != nil {
		return AnalyzeOutput{}, keyErr
	}

	model := s.opts.models.Profile
	analysis := s.analyze(ctx, apiKey, model, in.Profile)

	out := AnalyzeOutput{
		UserID:   strings.TrimSpace(in.UserID),
		Model:    model,
		Analysis: analysis,
	}
	if s.opts.store == nil || out.UserID == "" {
		return out, nil
	}
	if _, err := s.opts.store.SaveAnalysis(ctx, out.UserID, model, analysis); err != nil {
		return AnalyzeOutput{}, newError(ErrorInternal, "store_write_error", "", err)
	}
	out.Stored = true
	return out, nil
}

func (s *ProfileService) analyze(ctx context.Context, apiKey, model string, p domain.Profile) domain.ProfileAnalysis {
	start := time.Now()
	completion, err := s.llm.Complete(ctx, apiKey, domain.CompletionRequest{
		Model:       model,
		Messages:    buildProfileMessages(p),
		MaxTokens:   profileMaxTokens,
		Temperature: profileTemperature,
	})
	if err != nil {
		classified := classifyUpstreamError(err)
		s.opts.observe(model, string(classified.Code), start, domain.Usage{})
		s.opts.logger.WarnContext(ctx, "profile analysis failed, using fallback",
			"model", model,
			"code", classified.Code,
			"err", err,
		)
		return fallbackAnalysis()
	}
	s.opts.observe(model, outcomeSuccess, start, completion.Usage)

	analysis, err := parseProfileAnalysis(completion.Message.Content)
	if err != nil {
		s.opts.logger.WarnContext(ctx, "profile analysis malformed, using fallback",
			"model", model,
			"err", err,
		)
		return fallbackAnalysis()
	}
	return analysis
}

// Latest returns the most recent stored analysis for userID.
func (s *ProfileService) Latest(ctx context.Context, userID string) (domain.StoredAnalysis, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domain.StoredAnalysis{}, newError(ErrorInvalidRequest, "missing_user_id", "userId is required", nil)
	}
	if s.opts.store == nil {
		return domain.StoredAnalysis{}, newError(ErrorNotFound, "profile_store_disabled", "", nil)
	}
	stored, ok, err := s.opts.store.GetLatestAnalysis(ctx, userID)
	if err != nil {
		return domain.StoredAnalysis{}, newError(ErrorInternal, "store_read_error", "", err)
	}
	if !ok {
		return domain.StoredAnalysis{}, newError(ErrorNotFound, "analysis_not_found", "", nil)
	}
	return stored, nil
}
