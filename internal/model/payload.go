package model

import (
	"encoding/json"
	"math"
	"time"
)

// ConversationPayload is the provider's wire shape for a conversation. The
// webhook "data" object and the get-by-id response share it; list summaries
// carry a subset plus top-level start/duration fields.
type ConversationPayload struct {
	AgentID           string                 `json:"agent_id"`
	ConversationID    string                 `json:"conversation_id"`
	Status            *string                `json:"status,omitempty"`
	UserID            *string                `json:"user_id,omitempty"`
	Transcript        []TranscriptTurn       `json:"transcript,omitempty"`
	Metadata          map[string]interface{} `json:"metadata,omitempty"`
	Analysis          map[string]interface{} `json:"analysis,omitempty"`
	InitiationData    map[string]interface{} `json:"conversation_initiation_client_data,omitempty"`
	StartTimeUnixSecs *int64                 `json:"start_time_unix_secs,omitempty"`
	CallDurationSecs  *int                   `json:"call_duration_secs,omitempty"`
}

// WebhookEvent is the body of an inbound push event
type WebhookEvent struct {
	Type           string              `json:"type"`
	EventTimestamp int64               `json:"event_timestamp,omitempty"`
	Data           ConversationPayload `json:"data"`
}

// EventPostCallTranscription is the only webhook event type that is ingested
const EventPostCallTranscription = "post_call_transcription"

// ToRecord converts the wire payload into a ConversationRecord. Start time,
// duration and cost come from metadata, falling back to the top-level
// summary fields.
func (p ConversationPayload) ToRecord() ConversationRecord {
	rec := ConversationRecord{
		ConversationID:   p.ConversationID,
		AgentID:          p.AgentID,
		UserID:           p.UserID,
		Status:           p.Status,
		Transcript:       p.Transcript,
		ProviderAnalysis: p.Analysis,
		Metadata:         p.Metadata,
		InitiationData:   p.InitiationData,
	}

	if secs, ok := numberField(p.Metadata, "start_time_unix_secs"); ok {
		t := time.Unix(int64(secs), 0).UTC()
		rec.StartTime = &t
	} else if p.StartTimeUnixSecs != nil {
		t := time.Unix(*p.StartTimeUnixSecs, 0).UTC()
		rec.StartTime = &t
	}

	if secs, ok := numberField(p.Metadata, "call_duration_secs"); ok {
		d := int(math.Round(secs))
		rec.DurationSeconds = &d
	} else if p.CallDurationSecs != nil {
		d := *p.CallDurationSecs
		rec.DurationSeconds = &d
	}

	if cost, ok := numberField(p.Metadata, "cost"); ok {
		rec.Cost = &cost
	}

	return rec
}

// numberField reads a numeric metadata value that may have been decoded as
// float64 or json.Number.
func numberField(m map[string]interface{}, key string) (float64, bool) {
	if m == nil {
		return 0, false
	}
	switch v := m[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
