package usecase

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"advisor-proxy/internal/domain"
)

const (
	notProvided  = "Not provided"
	notSpecified = "Not specified"
)

var thinkBlock = regexp.MustCompile(`(?s)<think>.*?</think>`)

var requiredAnalysisFields = []string{
	"personalizedInsights",
	"recommendedUniversities",
	"scholarshipOpportunities",
	"visaRequirements",
	"timelineRecommendations",
	"budgetAnalysis",
	"academicPath",
}

func buildProfileMessages(p domain.Profile) []domain.ChatMessage {
	return []domain.ChatMessage{
		{Role: domain.RoleSystem, Content: buildAdvisorPrompt()},
		{Role: domain.RoleUser, Content: buildProfilePrompt(p)},
	}
}

func buildAdvisorPrompt() string {
	return strings.Join([]string{
		"You are an expert study abroad advisor. Analyze the following student profile and provide detailed, personalized recommendations.",
		"Your response must be a valid JSON object with the following structure:",
		"{",
		`  "personalizedInsights": ["insight1", "insight2", ...],`,
		`  "recommendedUniversities": ["university1", "university2", ...],`,
		`  "scholarshipOpportunities": ["scholarship1", "scholarship2", ...],`,
		`  "visaRequirements": ["requirement1", "requirement2", ...],`,
		`  "timelineRecommendations": ["recommendation1", "recommendation2", ...],`,
		`  "budgetAnalysis": "detailed budget analysis",`,
		`  "academicPath": "detailed academic path recommendation"`,
		"}",
		"Do not include any other text or formatting. Only return the JSON object.",
		"Make sure all arrays contain at least 2 items and all strings are non-empty.",
	}, "\n")
}

func buildProfilePrompt(p domain.Profile) string {
	workExperience := orDefault(p.WorkExperience, notSpecified)
	if strings.TrimSpace(p.WorkExperience) != "" {
		workExperience += " years"
	}
	return strings.Join([]string{
		"Analyze this student profile and provide recommendations in JSON format:",
		"Name: " + orDefault(p.Name, notProvided),
		"Preferred Countries: " + joinOrDefault(p.PreferredCountries),
		"Academic Interests: " + joinOrDefault(p.AcademicInterests),
		"Current Education: " + orDefault(p.CurrentEducation, notSpecified),
		"Work Experience: " + workExperience,
		"English Proficiency: " + orDefault(p.EnglishProficiency, notSpecified),
		"Budget: " + orDefault(p.Budget, notSpecified),
		"Timeline: " + orDefault(p.Timeline, notSpecified),
	}, "\n")
}

func orDefault(s, def string) string {
	if s = strings.TrimSpace(s); s == "" {
		return def
	}
	return s
}

func joinOrDefault(items []string) string {
	kept := make([]string, 0, len(items))
	for _, it := range items {
		if it = strings.TrimSpace(it); it != "" {
			kept = append(kept, it)
		}
	}
	if len(kept) == 0 {
		return notSpecified
	}
	return strings.Join(kept, ", ")
}

// parseProfileAnalysis pulls the outermost JSON object out of a model answer
// and checks it against the advisor prompt's output contract.
func parseProfileAnalysis(content string) (domain.ProfileAnalysis, error) {
	content = thinkBlock.ReplaceAllString(content, "")
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end < start {
		return domain.ProfileAnalysis{}, errors.New("usecase: no JSON object in profile analysis")
	}
	raw := []byte(content[start : end+1])

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return domain.ProfileAnalysis{}, fmt.Errorf("usecase: decode profile analysis: %w", err)
	}
	for _, name := range requiredAnalysisFields {
		if _, ok := fields[name]; !ok {
			return domain.ProfileAnalysis{}, fmt.Errorf("usecase: profile analysis missing field %s", name)
		}
	}

	var out domain.ProfileAnalysis
	if err := json.Unmarshal(raw, &out); err != nil {
		return domain.ProfileAnalysis{}, fmt.Errorf("usecase: decode profile analysis: %w", err)
	}
	lists := map[string][]string{
		"personalizedInsights":     out.PersonalizedInsights,
		"recommendedUniversities":  out.RecommendedUniversities,
		"scholarshipOpportunities": out.ScholarshipOpportunities,
		"visaRequirements":         out.VisaRequirements,
		"timelineRecommendations":  out.TimelineRecommendations,
	}
	for _, name := range requiredAnalysisFields[:5] {
		if len(lists[name]) < 2 {
			return domain.ProfileAnalysis{}, fmt.Errorf("usecase: profile analysis field %s needs at least 2 items", name)
		}
	}
	if strings.TrimSpace(out.BudgetAnalysis) == "" {
		return domain.ProfileAnalysis{}, errors.New("usecase: profile analysis field budgetAnalysis is empty")
	}
	if strings.TrimSpace(out.AcademicPath) == "" {
		return domain.ProfileAnalysis{}, errors.New("usecase: profile analysis field academicPath is empty")
	}
	out.Fallback = false
	return out, nil
}

func fallbackAnalysis() domain.ProfileAnalysis {
	return domain.ProfileAnalysis{
		PersonalizedInsights: []string{
			"Consider your budget when selecting universities",
			"Research scholarship opportunities",
			"Start preparing required documents early",
			"Focus on universities that match your academic interests",
		},
		RecommendedUniversities: []string{
			"Research universities in your preferred countries",
			"Consider program rankings and reputation",
			"Look for universities with strong programs in your field",
			"Check admission requirements and acceptance rates",
		},
		ScholarshipOpportunities: []string{
			"Look for country-specific scholarships",
			"Check university-specific funding options",
			"Research government-sponsored programs",
			"Explore private foundation scholarships",
		},
		VisaRequirements: []string{
			"Gather required academic documents",
			"Prepare financial statements",
			"Check language proficiency requirements",
			"Research visa processing times",
		},
		TimelineRecommendations: []string{
			"Start applications 6-8 months before intended start date",
			"Allow 2-3 months for visa processing",
			"Plan for language test preparation if needed",
			"Consider scholarship application deadlines",
		},
		BudgetAnalysis: "Consider tuition, living expenses, and additional costs when planning your budget. " +
			"Research cost of living in your preferred countries and factor in currency exchange rates.",
		AcademicPath: "Research program requirements and prerequisites for your chosen field of study. " +
			"Consider both short-term and long-term career goals when selecting programs.",
		Fallback: true,
	}
}
