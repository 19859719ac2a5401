package model

import (
	"time"

	"github.com/google/uuid"
)

// Transcript roles as sent by the voice agent provider
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// TranscriptTurn is one speaker turn within a conversation
type TranscriptTurn struct {
	Role    string `json:"role" bson:"role"`
	Message string `json:"message" bson:"message"`
}

// ConversationRecord represents a stored, enriched conversation.
// ConversationID is the idempotency key: at most one record exists per id.
type ConversationRecord struct {
	ID               uuid.UUID              `json:"id"`
	ConversationID   string                 `json:"conversation_id"`
	AgentID          string                 `json:"agent_id"`
	UserID           *string                `json:"user_id,omitempty"`
	Status           *string                `json:"status,omitempty"`
	StartTime        *time.Time             `json:"start_time,omitempty"`
	DurationSeconds  *int                   `json:"duration_seconds,omitempty"`
	Cost             *float64               `json:"cost,omitempty"`
	Transcript       []TranscriptTurn       `json:"transcript"`
	ProviderAnalysis map[string]interface{} `json:"provider_analysis,omitempty"`
	AIAnalysis       *AIAnalysis            `json:"ai_analysis"`
	Metadata         map[string]interface{} `json:"metadata,omitempty"`
	InitiationData   map[string]interface{} `json:"conversation_initiation_client_data,omitempty"`
	CreatedAt        time.Time              `json:"created_at"`
}

// AnalysisAIKey is the key under which the AI analysis is merged into the
// persisted analysis blob.
const AnalysisAIKey = "ai"

// HasTranscript reports whether the record carries a transcript at all.
// List summaries from the provider leave it nil; an empty slice means the
// call had no speech.
func (r *ConversationRecord) HasTranscript() bool {
	return r.Transcript != nil
}

// MergedAnalysis returns the provider analysis with the AI analysis added
// under the "ai" key (nil when enrichment was skipped).
func (r *ConversationRecord) MergedAnalysis() map[string]interface{} {
	merged := make(map[string]interface{}, len(r.ProviderAnalysis)+1)
	for k, v := range r.ProviderAnalysis {
		merged[k] = v
	}
	if r.AIAnalysis != nil {
		merged[AnalysisAIKey] = r.AIAnalysis
	} else {
		merged[AnalysisAIKey] = nil
	}
	return merged
}
