package usecase

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"advisor-proxy/internal/domain"
	"advisor-proxy/internal/integrations/novita"
)

type fakeStore struct {
	saved     []domain.StoredAnalysis
	saveErr   error
	latest    domain.StoredAnalysis
	found     bool
	getErr    error
	lastQuery string
}

func (f *fakeStore) SaveAnalysis(_ context.Context, userID, model string, analysis domain.ProfileAnalysis) (domain.StoredAnalysis, error) {
	if f.saveErr != nil {
		return domain.StoredAnalysis{}, f.saveErr
	}
	s := domain.StoredAnalysis{UserID: userID, Model: model, CreatedAt: "2026-01-01T00:00:00Z", Analysis: analysis}
	f.saved = append(f.saved, s)
	return s, nil
}

func (f *fakeStore) GetLatestAnalysis(_ context.Context, userID string) (domain.StoredAnalysis, bool, error) {
	f.lastQuery = userID
	return f.latest, f.found, f.getErr
}

const validAnalysis = `{
	"personalizedInsights": ["Strong STEM background", "Budget fits Germany"],
	"recommendedUniversities": ["TU Munich", "University of Toronto"],
	"scholarshipOpportunities": ["DAAD", "Vanier"],
	"visaRequirements": ["Blocked account", "Study permit"],
	"timelineRecommendations": ["Take IELTS by March", "Apply by June"],
	"budgetAnalysis": "About 12k EUR per year covers living costs.",
	"academicPath": "MSc in Computer Science."
}`

func sampleProfile() domain.Profile {
	return domain.Profile{
		Name:               "Sam",
		PreferredCountries: []string{"Germany", "Canada"},
		AcademicInterests:  []string{"Computer Science"},
		WorkExperience:     "2",
		Budget:             "$20,000",
	}
}

func newTestProfile(t *testing.T, llm LLMClient, opts ...Option) *ProfileService {
	t.Helper()
	svc, err := NewProfileService(&fakeKeys{}, llm, opts...)
	require.NoError(t, err)
	return svc
}

func TestNewProfileService_ValidatesDependencies(t *testing.T) {
	_, err := NewProfileService(nil, &fakeLLM{})
	require.Error(t, err)
	_, err = NewProfileService(&fakeKeys{}, nil)
	require.Error(t, err)
}

func TestAnalyze_HappyPath(t *testing.T) {
	llm := &fakeLLM{out: reply("Here you go:\n" + validAnalysis)}
	svc := newTestProfile(t, llm, WithModels(Models{Profile: "profile/model"}))

	out, err := svc.Analyze(context.Background(), AnalyzeInput{Authorization: "Bearer sk-user", Profile: sampleProfile()})
	require.NoError(t, err)
	require.False(t, out.Analysis.Fallback)
	require.False(t, out.Stored)
	require.Equal(t, "profile/model", out.Model)
	require.Equal(t, []string{"TU Munich", "University of Toronto"}, out.Analysis.RecommendedUniversities)

	require.Equal(t, "profile/model", llm.lastReq.Model)
	require.Equal(t, 2000, llm.lastReq.MaxTokens)
	require.Len(t, llm.lastReq.Messages, 2)
	require.Equal(t, domain.RoleSystem, llm.lastReq.Messages[0].Role)
	require.Contains(t, llm.lastReq.Messages[1].Content, "Preferred Countries: Germany, Canada")
	require.Contains(t, llm.lastReq.Messages[1].Content, "Work Experience: 2 years")
	require.Contains(t, llm.lastReq.Messages[1].Content, "Timeline: Not specified")
}

func TestAnalyze_MissingCredential(t *testing.T) {
	llm := &fakeLLM{out: reply(validAnalysis)}
	svc := newTestProfile(t, llm)

	_, err := svc.Analyze(context.Background(), AnalyzeInput{Profile: sampleProfile()})
	expectError(t, err, ErrorUnauthorized, ReasonMissingCredential)
	require.Zero(t, llm.callCount)
}

func TestAnalyze_FallsBackOnUpstreamError(t *testing.T) {
	llm := &fakeLLM{err: &novita.HTTPStatusError{StatusCode: http.StatusTooManyRequests}}
	obs := &fakeObserver{}
	svc := newTestProfile(t, llm, WithObserver(obs))

	out, err := svc.Analyze(context.Background(), AnalyzeInput{Authorization: "Bearer sk", Profile: sampleProfile()})
	require.NoError(t, err)
	require.True(t, out.Analysis.Fallback)
	require.Equal(t, fallbackAnalysis(), out.Analysis)
	require.Equal(t, string(ErrorRateLimited), obs.seen[0].outcome)
}

func TestAnalyze_FallsBackOnMalformedAnswer(t *testing.T) {
	llm := &fakeLLM{out: reply(`{"personalizedInsights":["only one"]}`)}
	svc := newTestProfile(t, llm)

	out, err := svc.Analyze(context.Background(), AnalyzeInput{Authorization: "Bearer sk", Profile: sampleProfile()})
	require.NoError(t, err)
	require.True(t, out.Analysis.Fallback)
}

func TestAnalyze_PersistsWhenStoreAndUserPresent(t *testing.T) {
	store := &fakeStore{}
	svc := newTestProfile(t, &fakeLLM{out: reply(validAnalysis)}, WithAnalysisStore(store))

	out, err := svc.Analyze(context.Background(), AnalyzeInput{Authorization: "Bearer sk", UserID: " user-1 ", Profile: sampleProfile()})
	require.NoError(t, err)
	require.True(t, out.Stored)
	require.Equal(t, "user-1", out.UserID)
	require.Len(t, store.saved, 1)
	require.Equal(t, "user-1", store.saved[0].UserID)
	require.Equal(t, DefaultModel, store.saved[0].Model)

	out, err = svc.Analyze(context.Background(), AnalyzeInput{Authorization: "Bearer sk", Profile: sampleProfile()})
	require.NoError(t, err)
	require.False(t, out.Stored)
	require.Len(t, store.saved, 1)
}

func TestAnalyze_StoreFailure(t *testing.T) {
	store := &fakeStore{saveErr: errors.New("dynamodb down")}
	svc := newTestProfile(t, &fakeLLM{out: reply(validAnalysis)}, WithAnalysisStore(store))

	_, err := svc.Analyze(context.Background(), AnalyzeInput{Authorization: "Bearer sk", UserID: "user-1", Profile: sampleProfile()})
	expectError(t, err, ErrorInternal, "store_write_error")
}

func TestLatest(t *testing.T) {
	svc := newTestProfile(t, &fakeLLM{})
	_, err := svc.Latest(context.Background(), "user-1")
	expectError(t, err, ErrorNotFound, "profile_store_disabled")

	store := &fakeStore{}
	svc = newTestProfile(t, &fakeLLM{}, WithAnalysisStore(store))

	_, err = svc.Latest(context.Background(), " ")
	expectError(t, err, ErrorInvalidRequest, "missing_user_id")

	_, err = svc.Latest(context.Background(), "user-1")
	expectError(t, err, ErrorNotFound, "analysis_not_found")

	store.getErr = errors.New("boom")
	_, err = svc.Latest(context.Background(), "user-1")
	expectError(t, err, ErrorInternal, "store_read_error")

	store.getErr = nil
	store.found = true
	store.latest = domain.StoredAnalysis{UserID: "user-1", Model: "m"}
	got, err := svc.Latest(context.Background(), "user-1")
	require.NoError(t, err)
	require.Equal(t, "user-1", got.UserID)
	require.Equal(t, "user-1", store.lastQuery)
}

func TestParseProfileAnalysis(t *testing.T) {
	out, err := parseProfileAnalysis("<think>{not json}</think>\n```json\n" + validAnalysis + "\n```")
	require.NoError(t, err)
	require.Equal(t, "MSc in Computer Science.", out.AcademicPath)

	_, err = parseProfileAnalysis("no json here")
	require.ErrorContains(t, err, "no JSON object")

	_, err = parseProfileAnalysis(strings.Replace(validAnalysis, `"academicPath": "MSc in Computer Science."`, `"academicPath": "  "`, 1))
	require.ErrorContains(t, err, "academicPath")

	_, err = parseProfileAnalysis(strings.Replace(validAnalysis, `"budgetAnalysis"`, `"budget"`, 1))
	require.ErrorContains(t, err, "missing field budgetAnalysis")

	_, err = parseProfileAnalysis(strings.Replace(validAnalysis, `["DAAD", "Vanier"]`, `["DAAD"]`, 1))
	require.ErrorContains(t, err, "scholarshipOpportunities")

	_, err = parseProfileAnalysis(`{"personalizedInsights": "not a list"}`)
	require.Error(t, err)
}

func TestBuildAdvisorPrompt_DescribesContract(t *testing.T) {
	content := buildAdvisorPrompt()
	for _, field := range requiredAnalysisFields {
		require.Contains(t, content, `"`+field+`"`)
	}
	require.Contains(t, content, "Only return the JSON object.")
}

func TestBuildProfilePrompt_Defaults(t *testing.T) {
	content := buildProfilePrompt(domain.Profile{PreferredCountries: []string{" ", ""}})
	require.Contains(t, content, "Name: Not provided")
	require.Contains(t, content, "Preferred Countries: Not specified")
	require.Contains(t, content, "Work Experience: Not specified")
	require.NotContains(t, content, "years")
}
