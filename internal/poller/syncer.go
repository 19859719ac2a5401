// Package poller periodically pulls conversations from the transcript
// provider and feeds new ones to the ingestion coordinator.
package poller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"convoingest/internal/ingest"
	"convoingest/internal/logging"
	"convoingest/internal/model"
	"convoingest/internal/transcripts"
)

// DefaultInterval is used when Options.Interval is not positive.
const DefaultInterval = 30 * time.Second

// ErrAlreadyStarted is returned by Start on a running Syncer.
var ErrAlreadyStarted = errors.New("poller: already started")

// Options configures a Syncer
type Options struct {
	Interval time.Duration
	AgentID  string
}

// CycleReport summarizes one RunCycle call.
type CycleReport struct {
	Cycle          int64
	Skipped        bool // another cycle was still running
	Fetched        int
	Candidates     int
	Stored         int
	AlreadyExisted int
	NotFound       int
	Failed         int
}

type itemResult int

const (
	itemStored itemResult = iota
	itemAlreadyExisted
	itemNotFound
	itemFailed
)

// Syncer owns the polling state: the in-progress guard, the set of
// conversation ids already handled in this process, and the cycle counter.
// The seen set only saves repository lookups; idempotency comes from the
// coordinator.
type Syncer struct {
	provider transcripts.Provider
	ingester ingest.Ingester
	opts     Options
	logger   *zap.Logger

	inProgress atomic.Bool
	cycles     atomic.Int64

	mu   sync.Mutex
	seen map[string]struct{}

	runMu  sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Syncer
func New(provider transcripts.Provider, ingester ingest.Ingester, opts Options, logger *zap.Logger) *Syncer {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	return &Syncer{
		provider: provider,
		ingester: ingester,
		opts:     opts,
		logger:   logging.Component(logger, "poller"),
		seen:     make(map[string]struct{}),
	}
}

// Start runs one cycle immediately and then one per interval until ctx is
// cancelled or Stop is called. Each tick runs in its own goroutine; a tick
// that overlaps a running cycle is skipped by the guard.
func (s *Syncer) Start(ctx context.Context) error {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	if s.cancel != nil {
		return ErrAlreadyStarted
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.logger.Info("poller: starting",
		zap.Duration("interval", s.opts.Interval),
		zap.String(logging.FieldAgentID, s.opts.AgentID),
		zap.String("provider", s.provider.Name()),
	)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.opts.Interval)
		defer ticker.Stop()

		s.spawnTick(runCtx)
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				s.spawnTick(runCtx)
			}
		}
	}()
	return nil
}

// Stop cancels the loop and waits for in-flight cycles to return.
func (s *Syncer) Stop() {
	s.runMu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.runMu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	s.wg.Wait()
	s.logger.Info("poller: stopped", zap.Int64("cycles", s.cycles.Load()))
}

func (s *Syncer) spawnTick(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("poller: cycle panicked", zap.Any("panic", r))
			}
		}()

		if _, err := s.RunCycle(ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error("poller: cycle aborted", zap.Error(err))
		}
	}()
}

// RunCycle performs one fetch-and-ingest pass. It returns a report with
// Skipped set, without fetching, when another cycle is in progress. A
// provider failure aborts the cycle; per-conversation failures are logged
// and counted without stopping the batch.
func (s *Syncer) RunCycle(ctx context.Context) (CycleReport, error) {
	var report CycleReport
	if !s.inProgress.CompareAndSwap(false, true) {
		report.Skipped = true
		s.logger.Debug("poller: previous cycle still running, skipping tick")
		return report, nil
	}
	defer s.inProgress.Store(false)

	report.Cycle = s.cycles.Add(1)
	log := s.logger.With(zap.Int64(logging.FieldCycle, report.Cycle))

	records, err := s.provider.FetchConversations(ctx, transcripts.Filter{AgentID: s.opts.AgentID})
	if err != nil {
		return report, eris.Wrapf(err, "poller: fetch conversations (cycle %d)", report.Cycle)
	}
	report.Fetched = len(records)

	candidates := s.unseen(records)
	report.Candidates = len(candidates)

	for _, rec := range candidates {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		result, err := s.processOne(ctx, rec)
		itemLog := log.With(zap.String(logging.FieldConversationID, rec.ConversationID))
		switch result {
		case itemStored:
			report.Stored++
			s.markSeen(rec.ConversationID)
		case itemAlreadyExisted:
			report.AlreadyExisted++
			s.markSeen(rec.ConversationID)
		case itemNotFound:
			report.NotFound++
			s.markSeen(rec.ConversationID)
			itemLog.Warn("poller: conversation listed but not found by id")
		case itemFailed:
			report.Failed++
			itemLog.Error("poller: conversation failed, will retry next cycle", zap.Error(err))
		}
	}

	fields := []zap.Field{
		zap.Int("fetched", report.Fetched),
		zap.Int("candidates", report.Candidates),
		zap.Int("stored", report.Stored),
		zap.Int("already_existed", report.AlreadyExisted),
		zap.Int("not_found", report.NotFound),
		zap.Int("failed", report.Failed),
	}
	if report.Candidates > 0 {
		log.Info("poller: cycle complete", fields...)
	} else {
		log.Debug("poller: cycle complete", fields...)
	}
	return report, nil
}

func (s *Syncer) processOne(ctx context.Context, rec model.ConversationRecord) (result itemResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = itemFailed
			err = fmt.Errorf("poller: panic while processing: %v", r)
		}
	}()

	if !rec.HasTranscript() {
		full, err := s.provider.FetchConversationByID(ctx, rec.ConversationID)
		if errors.Is(err, transcripts.ErrNotFound) {
			return itemNotFound, nil
		}
		if err != nil {
			return itemFailed, eris.Wrap(err, "poller: hydrate conversation")
		}
		if full.AgentID == "" {
			full.AgentID = rec.AgentID
		}
		rec = full
	}

	outcome, err := s.ingester.Ingest(ctx, rec)
	if err != nil {
		return itemFailed, err
	}
	if outcome == ingest.OutcomeAlreadyExists {
		return itemAlreadyExisted, nil
	}
	return itemStored, nil
}

func (s *Syncer) unseen(records []model.ConversationRecord) []model.ConversationRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.ConversationRecord, 0, len(records))
	for _, rec := range records {
		if _, ok := s.seen[rec.ConversationID]; ok {
			continue
		}
		out = append(out, rec)
	}
	return out
}

func (s *Syncer) markSeen(conversationID string) {
	s.mu.Lock()
	s.seen[conversationID] = struct{}{}
	s.mu.Unlock()
}

// SeenCount returns the number of conversation ids handled in this process.
func (s *Syncer) SeenCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.seen)
}
