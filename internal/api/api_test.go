package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"convoingest/internal/ai"
	"convoingest/internal/ingest"
	"convoingest/internal/model"
	"convoingest/internal/repository"
	"convoingest/internal/testsupport"
	"convoingest/internal/webhook"
)

const testSecret = "wsec_test"

const transcriptionEvent = `{
	"type": "post_call_transcription",
	"event_timestamp": 1739537297,
	"data": {
		"agent_id": "agent_1",
		"conversation_id": "conv_webhook",
		"status": "done",
		"transcript": [
			{"role": "agent", "message": "Hello! What would you like to talk about?"},
			{"role": "user", "message": "I want practise my English for job interview."}
		],
		"metadata": {"start_time_unix_secs": 1739537297, "call_duration_secs": 22, "cost": 296},
		"analysis": {"call_successful": "success", "transcript_summary": "Interview practice."}
	}
}`

type stubAnalyzer struct{ calls int }

func (s *stubAnalyzer) Analyze(ctx context.Context, transcript []model.TranscriptTurn) ai.Result {
	s.calls++
	return ai.Result{Kind: ai.ResultAnalyzed, Analysis: model.AIAnalysis{
		CEFRLevel:  model.CEFRA2,
		Complexity: model.ComplexityBeginner,
		Scores:     model.Scores{Grammar: 4, Vocabulary: 5, Fluency: 5, Coherence: 6},
		Insights:   []string{"Say \"practise my English\" with \"to\": \"want to practise\"."},
		AnalyzedAt: time.Now().UTC(),
	}}
}

type errIngester struct{ err error }

func (e errIngester) Ingest(ctx context.Context, rec model.ConversationRecord) (ingest.Outcome, error) {
	return 0, e.err
}

type testServer struct {
	router   *gin.Engine
	repo     repository.ConversationRepository
	analyzer *stubAnalyzer
}

func newTestServer(t *testing.T, exposeErrors bool, ingester ingest.Ingester) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	repo := repository.NewMemoryRepository()
	analyzer := &stubAnalyzer{}
	if ingester == nil {
		ingester = ingest.NewCoordinator(repo, analyzer, nil)
	}
	h := NewHandlers(Dependencies{
		Ingester:           ingester,
		Repo:               repo,
		Verifier:           webhook.NewVerifier(testSecret, true),
		ExposeErrorDetails: exposeErrors,
	})

	r := gin.New()
	RegisterRoutes(r, h)
	return &testServer{router: r, repo: repo, analyzer: analyzer}
}

func (s *testServer) postWebhook(t *testing.T, body, signature string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/elevenlabs", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	if signature != "" {
		req.Header.Set(webhook.SignatureHeader, signature)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func signed(body string, at time.Time) string {
	return webhook.SignatureHeaderValue(testSecret, at, []byte(body))
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
	return out
}

func TestWebhookIngestsSignedTranscription(t *testing.T) {
	s := newTestServer(t, true, nil)

	w := s.postWebhook(t, transcriptionEvent, signed(transcriptionEvent, time.Now()))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	if body := decodeBody(t, w); body["received"] != true {
		t.Fatalf("body = %v", body)
	}

	rec, err := s.repo.GetByConversationID(context.Background(), "conv_webhook")
	if err != nil {
		t.Fatalf("record not stored: %v", err)
	}
	if rec.AIAnalysis == nil || rec.AIAnalysis.CEFRLevel != model.CEFRA2 {
		t.Fatalf("ai analysis = %+v", rec.AIAnalysis)
	}
	if rec.DurationSeconds == nil || *rec.DurationSeconds != 22 || rec.Cost == nil || *rec.Cost != 296 {
		t.Fatalf("metadata not derived: %+v", rec)
	}

	// Sender retry: acknowledged, not stored twice, not re-analyzed.
	w = s.postWebhook(t, transcriptionEvent, signed(transcriptionEvent, time.Now()))
	if w.Code != http.StatusOK {
		t.Fatalf("retry status = %d", w.Code)
	}
	if s.analyzer.calls != 1 {
		t.Fatalf("analyzer calls = %d", s.analyzer.calls)
	}
}

func TestWebhookRejectsBadSignatures(t *testing.T) {
	s := newTestServer(t, true, nil)
	cases := map[string]string{
		"missing":      "",
		"malformed":    "garbage",
		"expired":      signed(transcriptionEvent, time.Now().Add(-31*time.Minute)),
		"other body":   signed(`{"type":"post_call_transcription"}`, time.Now()),
		"wrong secret": webhook.SignatureHeaderValue("other", time.Now(), []byte(transcriptionEvent)),
	}
	for name, sig := range cases {
		t.Run(name, func(t *testing.T) {
			w := s.postWebhook(t, transcriptionEvent, sig)
			if w.Code != http.StatusUnauthorized {
				t.Fatalf("status = %d", w.Code)
			}
			if body := decodeBody(t, w); body["error"] != "Invalid signature" {
				t.Fatalf("body = %v", body)
			}
		})
	}
	if exists, _ := s.repo.Exists(context.Background(), "conv_webhook"); exists {
		t.Fatal("rejected webhook was stored")
	}
}

func TestWebhookIgnoresOtherEventTypes(t *testing.T) {
	s := newTestServer(t, true, nil)
	body := `{"type":"post_call_audio","data":{"conversation_id":"conv_audio","agent_id":"agent_1"}}`

	w := s.postWebhook(t, body, signed(body, time.Now()))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if exists, _ := s.repo.Exists(context.Background(), "conv_audio"); exists {
		t.Fatal("ignored event was stored")
	}
}

func TestWebhookInternalErrorDetails(t *testing.T) {
	const badJSON = `{"type": "post_call_transcription", "data": `
	for _, tc := range []struct {
		name         string
		exposeErrors bool
	}{
		{"development", true},
		{"production", false},
	} {
		t.Run(tc.name, func(t *testing.T) {
			s := newTestServer(t, tc.exposeErrors, nil)
			w := s.postWebhook(t, badJSON, signed(badJSON, time.Now()))
			if w.Code != http.StatusInternalServerError {
				t.Fatalf("status = %d", w.Code)
			}
			body := decodeBody(t, w)
			if body["error"] == nil {
				t.Fatalf("missing error: %v", body)
			}
			_, hasDetails := body["details"]
			if hasDetails != tc.exposeErrors {
				t.Fatalf("details present = %v, want %v (%v)", hasDetails, tc.exposeErrors, body)
			}
		})
	}
}

func TestWebhookRejectsOversizedBody(t *testing.T) {
	s := newTestServer(t, true, nil)
	body := `{"type":"post_call_transcription","data":{"conversation_id":"conv_big","padding":"` +
		strings.Repeat("x", maxWebhookBody+1<<20) + `"}}`

	w := s.postWebhook(t, body, signed(body, time.Now()))
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d", w.Code)
	}
	if got := decodeBody(t, w)["error"]; got != "Request body too large" {
		t.Fatalf("error = %v", got)
	}
	if exists, _ := s.repo.Exists(context.Background(), "conv_big"); exists {
		t.Fatal("oversized webhook was stored")
	}
}

func TestWebhookIngestionFailureIs500(t *testing.T) {
	s := newTestServer(t, true, errIngester{err: errors.New("database unavailable")})
	w := s.postWebhook(t, transcriptionEvent, signed(transcriptionEvent, time.Now()))
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", w.Code)
	}
	if body := decodeBody(t, w); body["details"] != "database unavailable" {
		t.Fatalf("body = %v", body)
	}
}

func TestReadAPI(t *testing.T) {
	s := newTestServer(t, true, nil)
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	for i, id := range []string{"conv_old", "conv_new"} {
		rec := testsupport.Conversation(id, testsupport.WithCreatedAt(base.Add(time.Duration(i)*time.Hour)))
		if err := s.repo.Insert(ctx, &rec); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}

	get := func(path string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		s.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		return w
	}

	w := get("/api/v1/conversations?limit=1")
	if w.Code != http.StatusOK {
		t.Fatalf("list status = %d", w.Code)
	}
	data := decodeBody(t, w)["data"].(map[string]interface{})
	items := data["conversations"].([]interface{})
	if len(items) != 1 || items[0].(map[string]interface{})["conversation_id"] != "conv_new" {
		t.Fatalf("list = %v", data)
	}

	w = get("/api/v1/conversations/conv_old")
	if w.Code != http.StatusOK {
		t.Fatalf("get status = %d", w.Code)
	}
	conv := decodeBody(t, w)["data"].(map[string]interface{})["conversation"].(map[string]interface{})
	if conv["conversation_id"] != "conv_old" {
		t.Fatalf("conversation = %v", conv)
	}

	w = get("/api/v1/conversations/missing")
	if w.Code != http.StatusNotFound {
		t.Fatalf("missing status = %d", w.Code)
	}
	if body := decodeBody(t, w); body["success"] != false {
		t.Fatalf("missing body = %v", body)
	}

	if w = get("/health"); w.Code != http.StatusOK {
		t.Fatalf("health status = %d", w.Code)
	}
}
