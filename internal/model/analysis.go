package model

import (
	"encoding/json"
	"time"
)

// CEFR levels, lowest to highest. CEFRUnknown marks a sentinel analysis.
const (
	CEFRA1      = "A1"
	CEFRA2      = "A2"
	CEFRB1      = "B1"
	CEFRB2      = "B2"
	CEFRC1      = "C1"
	CEFRC2      = "C2"
	CEFRUnknown = "Unknown"
)

// CEFRLevels lists the valid proficiency levels in ascending order.
var CEFRLevels = []string{CEFRA1, CEFRA2, CEFRB1, CEFRB2, CEFRC1, CEFRC2}

// Complexity tiers of the learner's speech.
const (
	ComplexityBeginner     = "Beginner"
	ComplexityIntermediate = "Intermediate"
	ComplexityAdvanced     = "Advanced"
	ComplexityUnknown      = "Unknown"
)

// ComplexityTiers lists the valid complexity tiers.
var ComplexityTiers = []string{ComplexityBeginner, ComplexityIntermediate, ComplexityAdvanced}

// Score bounds for every sub-score
const (
	MinScore = 0.0
	MaxScore = 10.0
)

// AIAnalysis is the LLM enrichment attached to a conversation
type AIAnalysis struct {
	CEFRLevel  string    `json:"cefr_level" bson:"cefr_level"`
	Complexity string    `json:"complexity" bson:"complexity"`
	Scores     Scores    `json:"scores" bson:"scores"`
	Insights   []string  `json:"insights" bson:"insights"`
	AnalyzedAt time.Time `json:"analyzed_at" bson:"analyzed_at"`
}

// Scores holds the four sub-scores, each in [0,10]
type Scores struct {
	Grammar    float64 `json:"grammar" bson:"grammar"`
	Vocabulary float64 `json:"vocabulary" bson:"vocabulary"`
	Fluency    float64 `json:"fluency" bson:"fluency"`
	Coherence  float64 `json:"coherence" bson:"coherence"`
}

// IsSentinel reports whether the analysis is the "unknown/failed" placeholder.
func (a *AIAnalysis) IsSentinel() bool {
	return a.CEFRLevel == CEFRUnknown && a.Scores == (Scores{})
}

// SplitAnalysis is the inverse of ConversationRecord.MergedAnalysis: it
// separates the "ai" key from the provider's analysis blob.
func SplitAnalysis(merged map[string]interface{}) (map[string]interface{}, *AIAnalysis, error) {
	if merged == nil {
		return nil, nil, nil
	}

	provider := make(map[string]interface{}, len(merged))
	var aiValue interface{}
	for k, v := range merged {
		if k == AnalysisAIKey {
			aiValue = v
			continue
		}
		provider[k] = v
	}
	if len(provider) == 0 {
		provider = nil
	}
	if aiValue == nil {
		return provider, nil, nil
	}

	raw, err := json.Marshal(aiValue)
	if err != nil {
		return provider, nil, err
	}
	var analysis AIAnalysis
	if err := json.Unmarshal(raw, &analysis); err != nil {
		return provider, nil, err
	}
	return provider, &analysis, nil
}
