package transcripts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"convoingest/internal/model"
)

// maxListPages bounds cursor pagination within one listing.
const maxListPages = 20

// ElevenLabsProvider implements Provider against the ElevenLabs
// Conversational AI REST API.
type ElevenLabsProvider struct {
	apiKey  string
	baseURL string
	client  *http.Client
	logger  *zap.Logger
}

// NewElevenLabsProvider creates a new ElevenLabs provider
func NewElevenLabsProvider(apiKey, baseURL string, client *http.Client, logger *zap.Logger) *ElevenLabsProvider {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ElevenLabsProvider{
		apiKey:  apiKey,
		baseURL: baseURL,
		client:  client,
		logger:  logger,
	}
}

// Name returns the provider name
func (p *ElevenLabsProvider) Name() string {
	return "elevenlabs"
}

// FetchConversations lists conversations, following the provider's cursor
// when the response advertises more pages.
func (p *ElevenLabsProvider) FetchConversations(ctx context.Context, filter Filter) ([]model.ConversationRecord, error) {
	var (
		records []model.ConversationRecord
		cursor  string
	)

	for page := 0; page < maxListPages; page++ {
		query := url.Values{}
		if filter.AgentID != "" {
			query.Set("agent_id", filter.AgentID)
		}
		if cursor != "" {
			query.Set("cursor", cursor)
		}

		body, status, err := p.get(ctx, "/v1/convai/conversations", query)
		if err != nil {
			return nil, err
		}
		if status < 200 || status >= 300 {
			return nil, p.unavailable(status, fmt.Errorf("list conversations: %s", preview(body)))
		}

		payloads, next := normalizeEnvelope(body)
		if payloads == nil {
			p.logger.Warn("transcripts: unrecognized list envelope",
				zap.String("preview", preview(body)),
				zap.Int("page", page),
			)
			break
		}
		for _, payload := range payloads {
			records = append(records, payload.ToRecord())
		}

		if next == "" || next == cursor {
			break
		}
		cursor = next
	}

	if records == nil {
		records = []model.ConversationRecord{}
	}
	p.logger.Debug("transcripts: listed conversations",
		zap.Int("count", len(records)),
		zap.String("agent_id", filter.AgentID),
	)
	return records, nil
}

// FetchConversationByID returns one conversation with its full transcript.
func (p *ElevenLabsProvider) FetchConversationByID(ctx context.Context, conversationID string) (model.ConversationRecord, error) {
	if conversationID == "" {
		return model.ConversationRecord{}, ErrNotFound
	}

	body, status, err := p.get(ctx, "/v1/convai/conversations/"+url.PathEscape(conversationID), nil)
	if err != nil {
		return model.ConversationRecord{}, err
	}
	if status == http.StatusNotFound {
		return model.ConversationRecord{}, ErrNotFound
	}
	if status < 200 || status >= 300 {
		return model.ConversationRecord{}, p.unavailable(status, fmt.Errorf("get conversation %s: %s", conversationID, preview(body)))
	}

	var payload model.ConversationPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return model.ConversationRecord{}, p.unavailable(status, eris.Wrap(err, "decode conversation"))
	}
	if payload.ConversationID == "" {
		payload.ConversationID = conversationID
	}
	return payload.ToRecord(), nil
}

func (p *ElevenLabsProvider) get(ctx context.Context, path string, query url.Values) ([]byte, int, error) {
	endpoint := p.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, 0, p.unavailable(0, eris.Wrap(err, "create request"))
	}
	req.Header.Set("xi-api-key", p.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, 0, p.unavailable(0, eris.Wrap(err, "send request"))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, p.unavailable(resp.StatusCode, eris.Wrap(err, "read response body"))
	}
	return body, resp.StatusCode, nil
}

func (p *ElevenLabsProvider) unavailable(status int, err error) error {
	return &UnavailableError{Provider: p.Name(), StatusCode: status, Err: err}
}

// normalizeEnvelope accepts a bare array, {"conversations": [...]} or
// {"data": [...]}. It returns nil payloads for any other shape, and the
// next cursor when the provider reports more pages.
func normalizeEnvelope(body []byte) ([]model.ConversationPayload, string) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, ""
	}

	if trimmed[0] == '[' {
		var payloads []model.ConversationPayload
		if err := json.Unmarshal(trimmed, &payloads); err != nil {
			return nil, ""
		}
		return nonNil(payloads), ""
	}

	var envelope struct {
		Conversations json.RawMessage `json:"conversations"`
		Data          json.RawMessage `json:"data"`
		HasMore       bool            `json:"has_more"`
		NextCursor    *string         `json:"next_cursor"`
	}
	if err := json.Unmarshal(trimmed, &envelope); err != nil {
		return nil, ""
	}

	list := envelope.Conversations
	if !isArray(list) {
		list = envelope.Data
	}
	if !isArray(list) {
		return nil, ""
	}

	var payloads []model.ConversationPayload
	if err := json.Unmarshal(list, &payloads); err != nil {
		return nil, ""
	}

	next := ""
	if envelope.HasMore && envelope.NextCursor != nil {
		next = *envelope.NextCursor
	}
	return nonNil(payloads), next
}

func isArray(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '['
}

func nonNil(payloads []model.ConversationPayload) []model.ConversationPayload {
	if payloads == nil {
		return []model.ConversationPayload{}
	}
	return payloads
}

// preview truncates a response body for logs and error messages
func preview(body []byte) string {
	const maxLen = 300
	if len(body) <= maxLen {
		return string(body)
	}
	return string(body[:maxLen]) + "..."
}
