package ai

import (
	"fmt"
	"strings"

	"convoingest/internal/model"
)

const systemPrompt = `You are an expert English language assessor reviewing a spoken practice conversation between a learner ("User") and an AI tutor ("Assistant").
Assess ONLY the learner's turns. Be accurate, neutral and grounded in the transcript.
Do not invent information that is not in the transcript.
Return valid JSON only.`

// BuildPrompt builds the system and user prompts for one transcript
func BuildPrompt(transcript []model.TranscriptTurn) (string, string) {
	userPrompt := fmt.Sprintf(`Transcript:
"""
%s
"""

Tasks:
1. Estimate the learner's CEFR level: one of A1, A2, B1, B2, C1, C2.
2. Classify the complexity of the learner's language: one of Beginner, Intermediate, Advanced.
3. Score the learner from 0 to 10 (decimals allowed) on grammar, vocabulary, fluency and coherence.
4. Give at most 5 short, concrete insights the learner can act on.

Return JSON exactly in this format (all fields required):

{
  "cefr_level": "B1",
  "complexity": "Intermediate",
  "scores": {"grammar": 6.5, "vocabulary": 7, "fluency": 6, "coherence": 7},
  "insights": ["insight 1", "insight 2"]
}`, RenderTranscript(transcript))

	return systemPrompt, userPrompt
}

// RenderTranscript renders turns as "User: ..." / "Assistant: ..." lines.
// Turns without text are dropped.
func RenderTranscript(transcript []model.TranscriptTurn) string {
	var builder strings.Builder
	for _, turn := range transcript {
		message := strings.TrimSpace(turn.Message)
		if message == "" {
			continue
		}
		speaker := "Assistant"
		if strings.EqualFold(turn.Role, model.RoleUser) {
			speaker = "User"
		}
		builder.WriteString(speaker)
		builder.WriteString(": ")
		builder.WriteString(message)
		builder.WriteString("\n")
	}
	return strings.TrimSpace(builder.String())
}
