package domain

// Profile is the student profile submitted for analysis.
type Profile struct {
	Name               string   `json:"name,omitempty"`
	Email              string   `json:"email,omitempty"`
	PreferredCountries []string `json:"preferredCountries,omitempty"`
	AcademicInterests  []string `json:"academicInterests,omitempty"`
	CurrentEducation   string   `json:"currentEducation,omitempty"`
	WorkExperience     string   `json:"workExperience,omitempty"`
	EnglishProficiency string   `json:"englishProficiency,omitempty"`
	Budget             string   `json:"budget,omitempty"`
	Timeline           string   `json:"timeline,omitempty"`
}

// ProfileAnalysis holds the structured recommendations produced for a Profile.
// Fallback is set when the analysis is the built-in default rather than a
// model answer.
type ProfileAnalysis struct {
	PersonalizedInsights     []string `json:"personalizedInsights"`
	RecommendedUniversities  []string `json:"recommendedUniversities"`
	ScholarshipOpportunities []string `json:"scholarshipOpportunities"`
	VisaRequirements         []string `json:"visaRequirements"`
	TimelineRecommendations  []string `json:"timelineRecommendations"`
	BudgetAnalysis           string   `json:"budgetAnalysis"`
	AcademicPath             string   `json:"academicPath"`
	Fallback                 bool     `json:"fallback"`
}

// StoredAnalysis is a persisted ProfileAnalysis with its bookkeeping fields.
type StoredAnalysis struct {
	UserID    string          `json:"userId"`
	Model     string          `json:"model"`
	CreatedAt string          `json:"createdAt"`
	Analysis  ProfileAnalysis `json:"analysis"`
}
