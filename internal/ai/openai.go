package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rotisserie/eris"
	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"convoingest/internal/config"
	"convoingest/internal/model"
)

const maxInsights = 5

// ChatCompleter is the subset of the OpenAI client used here.
// *openai.Client satisfies it.
type ChatCompleter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Analyzer turns a transcript into a structured analysis. Implementations
// never fail: problems are reported through a degraded Result.
type Analyzer interface {
	Analyze(ctx context.Context, transcript []model.TranscriptTurn) Result
}

// OpenAIAnalyzer implements Analyzer with one chat completion per call.
type OpenAIAnalyzer struct {
	client ChatCompleter
	model  string
	logger *zap.Logger
	now    func() time.Time
}

// NewOpenAIAnalyzer creates an analyzer around a chat client. A nil client
// makes every non-empty analysis degrade.
func NewOpenAIAnalyzer(client ChatCompleter, modelName string, logger *zap.Logger) *OpenAIAnalyzer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if modelName == "" {
		modelName = openai.GPT4oMini
	}
	return &OpenAIAnalyzer{
		client: client,
		model:  modelName,
		logger: logger,
		now:    time.Now,
	}
}

// NewFromConfig builds the analyzer from configuration
func NewFromConfig(cfg *config.Config, logger *zap.Logger) *OpenAIAnalyzer {
	if cfg.OpenAIKey == "" {
		if logger != nil {
			logger.Warn("ai: OPENAI_API_KEY not set; analyses will be degraded")
		}
		return NewOpenAIAnalyzer(nil, cfg.OpenAIModel, logger)
	}

	clientCfg := openai.DefaultConfig(cfg.OpenAIKey)
	if cfg.OpenAIBaseURL != "" {
		clientCfg.BaseURL = cfg.OpenAIBaseURL
	}
	clientCfg.HTTPClient = &http.Client{Timeout: cfg.OpenAITimeout}

	return NewOpenAIAnalyzer(openai.NewClientWithConfig(clientCfg), cfg.OpenAIModel, logger)
}

// Analyze analyzes the transcript. Empty transcripts return the sentinel
// without calling the model; any failure returns a degraded sentinel.
func (a *OpenAIAnalyzer) Analyze(ctx context.Context, transcript []model.TranscriptTurn) Result {
	rendered := RenderTranscript(transcript)
	if rendered == "" {
		return EmptyResult(a.now())
	}
	if a.client == nil {
		return FailedResult(errors.New("OPENAI_API_KEY is not set"), a.now())
	}

	systemPrompt, userPrompt := BuildPrompt(transcript)
	a.logger.Debug("ai: analysis request",
		zap.Int("turns", len(transcript)),
		zap.Int("prompt_chars", len(systemPrompt)+len(userPrompt)),
		zap.String("model", a.model),
	)

	req := openai.ChatCompletionRequest{
		Model: a.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: systemPrompt,
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: userPrompt,
			},
		},
		Temperature: 0.2,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	}

	resp, err := a.client.CreateChatCompletion(ctx, req)
	if err != nil {
		a.logger.Warn("ai: chat completion failed", zap.Error(err))
		return FailedResult(eris.Wrap(err, "chat completion"), a.now())
	}
	if len(resp.Choices) == 0 {
		a.logger.Warn("ai: model returned no choices")
		return FailedResult(errors.New("model returned no choices"), a.now())
	}

	content := resp.Choices[0].Message.Content
	a.logger.Debug("ai: analysis response",
		zap.Int("response_chars", len(content)),
		zap.Int("prompt_tokens", resp.Usage.PromptTokens),
		zap.Int("completion_tokens", resp.Usage.CompletionTokens),
	)

	analysis, err := parseAnalysis(content)
	if err != nil {
		a.logger.Warn("ai: unparseable analysis",
			zap.Error(err),
			zap.String("preview", truncateString(content, 300)),
		)
		return FailedResult(err, a.now())
	}
	analysis.AnalyzedAt = a.now().UTC()

	return Result{Kind: ResultAnalyzed, Analysis: analysis}
}

// analysisResponse is the schema requested from the model
type analysisResponse struct {
	CEFRLevel  string `json:"cefr_level"`
	Complexity string `json:"complexity"`
	Scores     struct {
		Grammar    flexFloat `json:"grammar"`
		Vocabulary flexFloat `json:"vocabulary"`
		Fluency    flexFloat `json:"fluency"`
		Coherence  flexFloat `json:"coherence"`
	} `json:"scores"`
	Insights []string `json:"insights"`
}

func parseAnalysis(content string) (model.AIAnalysis, error) {
	var resp analysisResponse
	if err := json.Unmarshal([]byte(content), &resp); err != nil {
		extracted := extractJSONFromMarkdown(content)
		if err := json.Unmarshal([]byte(extracted), &resp); err != nil {
			return model.AIAnalysis{}, eris.Wrap(err, "parse analysis JSON")
		}
	}

	insights := make([]string, 0, len(resp.Insights))
	for _, insight := range resp.Insights {
		if insight = strings.TrimSpace(insight); insight != "" {
			insights = append(insights, insight)
		}
		if len(insights) == maxInsights {
			break
		}
	}

	return model.AIAnalysis{
		CEFRLevel:  normalizeEnum(resp.CEFRLevel, model.CEFRLevels, model.CEFRUnknown),
		Complexity: normalizeEnum(resp.Complexity, model.ComplexityTiers, model.ComplexityUnknown),
		Scores: model.Scores{
			Grammar:    clampScore(float64(resp.Scores.Grammar)),
			Vocabulary: clampScore(float64(resp.Scores.Vocabulary)),
			Fluency:    clampScore(float64(resp.Scores.Fluency)),
			Coherence:  clampScore(float64(resp.Scores.Coherence)),
		},
		Insights: insights,
	}, nil
}

// normalizeEnum matches value case-insensitively against allowed values.
func normalizeEnum(value string, allowed []string, fallback string) string {
	value = strings.TrimSpace(value)
	for _, candidate := range allowed {
		if strings.EqualFold(value, candidate) {
			return candidate
		}
	}
	return fallback
}

func clampScore(v float64) float64 {
	if math.IsNaN(v) || v < model.MinScore {
		return model.MinScore
	}
	if v > model.MaxScore {
		return model.MaxScore
	}
	return v
}

// flexFloat accepts a JSON number or a numeric string.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(data []byte) error {
	raw := strings.Trim(strings.TrimSpace(string(data)), `"`)
	if raw == "" || raw == "null" {
		*f = 0
		return nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fmt.Errorf("score %q is not a number", raw)
	}
	*f = flexFloat(v)
	return nil
}

// extractJSONFromMarkdown extracts JSON from markdown code blocks
func extractJSONFromMarkdown(content string) string {
	content = strings.TrimSpace(content)

	if strings.HasPrefix(content, "```json") {
		content = strings.TrimPrefix(content, "```json")
		content = strings.TrimSuffix(content, "```")
	} else if strings.HasPrefix(content, "```") {
		content = strings.TrimPrefix(content, "```")
		content = strings.TrimSuffix(content, "```")
	}

	return strings.TrimSpace(content)
}

// truncateString truncates string to at most maxLen bytes without splitting
// a UTF-8 sequence.
func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	cut := maxLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
