package ai

import (
	"time"

	"convoingest/internal/model"
)

// ResultKind tells a full analysis apart from the sentinel variants.
type ResultKind int

const (
	// ResultAnalyzed carries a parsed model analysis.
	ResultAnalyzed ResultKind = iota
	// ResultEmpty is the sentinel for transcripts without speech.
	ResultEmpty
	// ResultFailed is the sentinel for any analysis failure.
	ResultFailed
)

func (k ResultKind) String() string {
	switch k {
	case ResultAnalyzed:
		return "analyzed"
	case ResultEmpty:
		return "empty"
	case ResultFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Result is always structurally valid. Callers must check Degraded before
// trusting the scores.
type Result struct {
	Kind     ResultKind
	Analysis model.AIAnalysis
	Reason   string
}

// Degraded reports whether Analysis is the sentinel.
func (r Result) Degraded() bool {
	return r.Kind != ResultAnalyzed
}

// Sentinel builds the "unknown" analysis: zero scores, Unknown level and
// complexity, and a single insight explaining why.
func Sentinel(reason string, at time.Time) model.AIAnalysis {
	return model.AIAnalysis{
		CEFRLevel:  model.CEFRUnknown,
		Complexity: model.ComplexityUnknown,
		Scores:     model.Scores{},
		Insights:   []string{reason},
		AnalyzedAt: at.UTC(),
	}
}

// EmptyResult is returned for empty or absent transcripts.
func EmptyResult(at time.Time) Result {
	reason := "transcript is empty; no speech captured"
	return Result{Kind: ResultEmpty, Analysis: Sentinel(reason, at), Reason: reason}
}

// FailedResult is returned when the model call or parsing fails.
func FailedResult(err error, at time.Time) Result {
	reason := "analysis failed: " + err.Error()
	return Result{Kind: ResultFailed, Analysis: Sentinel(reason, at), Reason: reason}
}
