package testsupport

import (
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"convoingest/internal/model"
)

// ConversationOption customizes a fixture record.
type ConversationOption func(*model.ConversationRecord)

// Conversation builds a fully hydrated record with a two-turn transcript.
func Conversation(conversationID string, opts ...ConversationOption) model.ConversationRecord {
	status := "done"
	start := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	duration := 61
	cost := 512.0

	rec := model.ConversationRecord{
		ConversationID:  conversationID,
		AgentID:         "agent_test",
		Status:          &status,
		StartTime:       &start,
		DurationSeconds: &duration,
		Cost:            &cost,
		Transcript: []model.TranscriptTurn{
			{Role: model.RoleAssistant, Message: "Hi! Tell me about your weekend."},
			{Role: model.RoleUser, Message: "I goed to the beach with my friends."},
		},
		ProviderAnalysis: map[string]interface{}{"call_successful": "success"},
		Metadata: map[string]interface{}{
			"start_time_unix_secs": float64(start.Unix()),
			"call_duration_secs":   float64(duration),
			"cost":                 cost,
		},
	}
	for _, opt := range opts {
		opt(&rec)
	}
	return rec
}

// WithAgent sets the agent id.
func WithAgent(agentID string) ConversationOption {
	return func(rec *model.ConversationRecord) {
		rec.AgentID = agentID
	}
}

// WithTranscript replaces the transcript; nil marks a list summary.
func WithTranscript(turns []model.TranscriptTurn) ConversationOption {
	return func(rec *model.ConversationRecord) {
		rec.Transcript = turns
	}
}

// WithCreatedAt pins the creation time.
func WithCreatedAt(t time.Time) ConversationOption {
	return func(rec *model.ConversationRecord) {
		rec.CreatedAt = t
	}
}

// ObservedLogger returns a logger whose entries at or above level are
// captured for assertions.
func ObservedLogger(level zapcore.Level) (*zap.Logger, *observer.ObservedLogs) {
	core, logs := observer.New(level)
	return zap.New(core), logs
}
