// Package ingest holds the single analyze-merge-persist path shared by the
// webhook and the polling sync loop.
package ingest

import (
	"context"
	"errors"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"convoingest/internal/ai"
	"convoingest/internal/logging"
	"convoingest/internal/model"
	"convoingest/internal/repository"
)

// ErrInvalidRecord is returned for records without a conversation id.
var ErrInvalidRecord = errors.New("ingest: conversation_id is required")

// Outcome of a successful Ingest call
type Outcome int

const (
	// OutcomeStored means a new record was written.
	OutcomeStored Outcome = iota + 1
	// OutcomeAlreadyExists means the conversation was already stored and
	// nothing was written.
	OutcomeAlreadyExists
)

func (o Outcome) String() string {
	switch o {
	case OutcomeStored:
		return "stored"
	case OutcomeAlreadyExists:
		return "already_exists"
	default:
		return "unknown"
	}
}

// Ingester is what the webhook and poller depend on.
type Ingester interface {
	Ingest(ctx context.Context, rec model.ConversationRecord) (Outcome, error)
}

// Coordinator analyzes and persists conversations exactly once.
type Coordinator struct {
	repo     repository.ConversationRepository
	analyzer ai.Analyzer
	logger   *zap.Logger
}

// NewCoordinator creates a coordinator
func NewCoordinator(repo repository.ConversationRepository, analyzer ai.Analyzer, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		repo:     repo,
		analyzer: analyzer,
		logger:   logging.Component(logger, "ingest"),
	}
}

// Ingest stores rec unless its conversation id is already present. Analysis
// failures never abort ingestion; the degraded sentinel is stored instead.
// Only repository errors are returned, in which case nothing was persisted.
func (c *Coordinator) Ingest(ctx context.Context, rec model.ConversationRecord) (Outcome, error) {
	rec.ConversationID = strings.TrimSpace(rec.ConversationID)
	if rec.ConversationID == "" {
		return 0, ErrInvalidRecord
	}
	log := c.logger.With(
		zap.String(logging.FieldConversationID, rec.ConversationID),
		zap.String(logging.FieldAgentID, rec.AgentID),
	)

	exists, err := c.repo.Exists(ctx, rec.ConversationID)
	if err != nil {
		return 0, eris.Wrapf(err, "ingest: check existence of %s", rec.ConversationID)
	}
	if exists {
		log.Info("ingest: conversation already stored, skipping")
		return OutcomeAlreadyExists, nil
	}

	if rec.Transcript == nil {
		rec.Transcript = []model.TranscriptTurn{}
	}

	rec.AIAnalysis = nil
	if len(rec.Transcript) > 0 {
		result := c.analyzer.Analyze(ctx, rec.Transcript)
		if result.Degraded() {
			log.Warn("ingest: analysis degraded, storing sentinel",
				zap.Stringer("kind", result.Kind),
				zap.String("reason", result.Reason),
			)
		}
		analysis := result.Analysis
		rec.AIAnalysis = &analysis
	} else {
		log.Info("ingest: empty transcript, skipping analysis")
	}

	if err := c.repo.Insert(ctx, &rec); err != nil {
		if errors.Is(err, repository.ErrAlreadyExists) {
			log.Info("ingest: conversation stored concurrently, skipping")
			return OutcomeAlreadyExists, nil
		}
		return 0, eris.Wrapf(err, "ingest: persist %s", rec.ConversationID)
	}

	fields := []zap.Field{zap.String("id", rec.ID.String())}
	if rec.AIAnalysis != nil {
		fields = append(fields,
			zap.String("cefr_level", rec.AIAnalysis.CEFRLevel),
			zap.Bool("sentinel", rec.AIAnalysis.IsSentinel()),
		)
	}
	log.Info("ingest: conversation stored", fields...)
	return OutcomeStored, nil
}
