package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"convoingest/internal/model"
)

type memoryRepository struct {
	mu      sync.Mutex
	records map[string]*model.ConversationRecord
	now     func() time.Time
}

// NewMemoryRepository creates a process-local repository. Data is lost on
// restart.
func NewMemoryRepository() ConversationRepository {
	return &memoryRepository{
		records: make(map[string]*model.ConversationRecord),
		now:     time.Now,
	}
}

func (r *memoryRepository) Exists(ctx context.Context, conversationID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.records[conversationID]
	return ok, nil
}

func (r *memoryRepository) Insert(ctx context.Context, rec *model.ConversationRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.records[rec.ConversationID]; ok {
		return ErrAlreadyExists
	}

	prepareInsert(rec, r.now)
	recCopy := *rec
	r.records[rec.ConversationID] = &recCopy
	return nil
}

func (r *memoryRepository) GetByConversationID(ctx context.Context, conversationID string) (*model.ConversationRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[conversationID]
	if !ok {
		return nil, ErrNotFound
	}
	// Return a copy to avoid race conditions
	recCopy := *rec
	return &recCopy, nil
}

func (r *memoryRepository) List(ctx context.Context, opts ListOptions) ([]model.ConversationRecord, error) {
	opts = opts.Normalized()

	r.mu.Lock()
	matched := make([]model.ConversationRecord, 0, len(r.records))
	for _, rec := range r.records {
		if opts.AgentID != "" && rec.AgentID != opts.AgentID {
			continue
		}
		matched = append(matched, *rec)
	}
	r.mu.Unlock()

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ConversationID > matched[j].ConversationID
	})

	if opts.Offset >= len(matched) {
		return []model.ConversationRecord{}, nil
	}
	end := opts.Offset + opts.Limit
	if end > len(matched) {
		end = len(matched)
	}
	return matched[opts.Offset:end], nil
}

// prepareInsert fills the store-assigned fields.
func prepareInsert(rec *model.ConversationRecord, now func() time.Time) {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now().UTC()
	}
	if rec.Transcript == nil {
		rec.Transcript = []model.TranscriptTurn{}
	}
}
