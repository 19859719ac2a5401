package repository_test

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"convoingest/internal/model"
	"convoingest/internal/repository"
	"convoingest/internal/testsupport"
)

func backends(t *testing.T) map[string]func(t *testing.T) repository.ConversationRepository {
	t.Helper()
	return map[string]func(t *testing.T) repository.ConversationRepository{
		"memory": func(t *testing.T) repository.ConversationRepository { return repository.NewMemoryRepository() },
		"sqlite": func(t *testing.T) repository.ConversationRepository { return testsupport.MustOpenSQLiteRepository(t) },
	}
}

func forEachBackend(t *testing.T, fn func(t *testing.T, repo repository.ConversationRepository)) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			fn(t, open(t))
		})
	}
}

func TestInsertAndGetRoundTrip(t *testing.T) {
	forEachBackend(t, func(t *testing.T, repo repository.ConversationRepository) {
		ctx := context.Background()
		analyzedAt := time.Date(2024, 3, 1, 10, 5, 0, 0, time.UTC)
		rec := testsupport.Conversation("conv_roundtrip")
		rec.AIAnalysis = &model.AIAnalysis{
			CEFRLevel:  model.CEFRB1,
			Complexity: model.ComplexityIntermediate,
			Scores:     model.Scores{Grammar: 6.5, Vocabulary: 7, Fluency: 6, Coherence: 7.5},
			Insights:   []string{"Use past simple of irregular verbs."},
			AnalyzedAt: analyzedAt,
		}

		if err := repo.Insert(ctx, &rec); err != nil {
			t.Fatalf("Insert: %v", err)
		}
		if rec.ID == uuid.Nil || rec.CreatedAt.IsZero() {
			t.Fatalf("Insert did not assign id/created_at: %+v", rec)
		}

		exists, err := repo.Exists(ctx, "conv_roundtrip")
		if err != nil || !exists {
			t.Fatalf("Exists = %v, %v", exists, err)
		}

		got, err := repo.GetByConversationID(ctx, "conv_roundtrip")
		if err != nil {
			t.Fatalf("GetByConversationID: %v", err)
		}
		if got.ID != rec.ID || got.AgentID != rec.AgentID || *got.Status != "done" {
			t.Fatalf("unexpected record: %+v", got)
		}
		if !reflect.DeepEqual(got.Transcript, rec.Transcript) {
			t.Fatalf("transcript = %+v, want %+v", got.Transcript, rec.Transcript)
		}
		if got.StartTime == nil || !got.StartTime.Equal(*rec.StartTime) {
			t.Fatalf("start time = %v", got.StartTime)
		}
		if got.DurationSeconds == nil || *got.DurationSeconds != 61 || got.Cost == nil || *got.Cost != 512 {
			t.Fatalf("duration/cost = %v/%v", got.DurationSeconds, got.Cost)
		}
		if got.AIAnalysis == nil || got.AIAnalysis.CEFRLevel != model.CEFRB1 || got.AIAnalysis.Scores != rec.AIAnalysis.Scores {
			t.Fatalf("ai analysis = %+v", got.AIAnalysis)
		}
		if !got.AIAnalysis.AnalyzedAt.Equal(analyzedAt) {
			t.Fatalf("analyzed_at = %v", got.AIAnalysis.AnalyzedAt)
		}
		if got.ProviderAnalysis["call_successful"] != "success" {
			t.Fatalf("provider analysis = %v", got.ProviderAnalysis)
		}
		if !reflect.DeepEqual(got.Metadata, rec.Metadata) {
			t.Fatalf("metadata = %v, want %v", got.Metadata, rec.Metadata)
		}
	})
}

func TestInsertDuplicateReturnsAlreadyExists(t *testing.T) {
	forEachBackend(t, func(t *testing.T, repo repository.ConversationRepository) {
		ctx := context.Background()
		first := testsupport.Conversation("conv_dup")
		if err := repo.Insert(ctx, &first); err != nil {
			t.Fatalf("first Insert: %v", err)
		}

		second := testsupport.Conversation("conv_dup", testsupport.WithAgent("other_agent"))
		if err := repo.Insert(ctx, &second); !errors.Is(err, repository.ErrAlreadyExists) {
			t.Fatalf("second Insert = %v, want ErrAlreadyExists", err)
		}

		got, err := repo.GetByConversationID(ctx, "conv_dup")
		if err != nil {
			t.Fatalf("GetByConversationID: %v", err)
		}
		if got.AgentID != "agent_test" || got.ID != first.ID {
			t.Fatalf("stored record was replaced: %+v", got)
		}
	})
}

func TestConcurrentInsertsStoreOneRecord(t *testing.T) {
	forEachBackend(t, func(t *testing.T, repo repository.ConversationRepository) {
		ctx := context.Background()
		const workers = 8

		var wg sync.WaitGroup
		errs := make(chan error, workers)
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				rec := testsupport.Conversation("conv_race")
				errs <- repo.Insert(ctx, &rec)
			}()
		}
		wg.Wait()
		close(errs)

		stored := 0
		for err := range errs {
			switch {
			case err == nil:
				stored++
			case errors.Is(err, repository.ErrAlreadyExists):
			default:
				t.Fatalf("unexpected error: %v", err)
			}
		}
		if stored != 1 {
			t.Fatalf("stored %d records, want 1", stored)
		}

		all, err := repo.List(ctx, repository.ListOptions{})
		if err != nil || len(all) != 1 {
			t.Fatalf("List = %d records, %v", len(all), err)
		}
	})
}

func TestGetMissingReturnsNotFound(t *testing.T) {
	forEachBackend(t, func(t *testing.T, repo repository.ConversationRepository) {
		ctx := context.Background()
		if _, err := repo.GetByConversationID(ctx, "nope"); !errors.Is(err, repository.ErrNotFound) {
			t.Fatalf("GetByConversationID = %v, want ErrNotFound", err)
		}
		exists, err := repo.Exists(ctx, "nope")
		if err != nil || exists {
			t.Fatalf("Exists = %v, %v", exists, err)
		}
	})
}

func TestNilAnalysisAndEmptyTranscriptPersist(t *testing.T) {
	forEachBackend(t, func(t *testing.T, repo repository.ConversationRepository) {
		ctx := context.Background()
		rec := testsupport.Conversation("conv_silent", testsupport.WithTranscript([]model.TranscriptTurn{}))
		if err := repo.Insert(ctx, &rec); err != nil {
			t.Fatalf("Insert: %v", err)
		}
		got, err := repo.GetByConversationID(ctx, "conv_silent")
		if err != nil {
			t.Fatalf("GetByConversationID: %v", err)
		}
		if got.AIAnalysis != nil {
			t.Fatalf("expected nil AI analysis, got %+v", got.AIAnalysis)
		}
		if got.Transcript == nil || len(got.Transcript) != 0 {
			t.Fatalf("expected empty transcript, got %#v", got.Transcript)
		}
	})
}

func TestListOrdersFiltersAndPages(t *testing.T) {
	forEachBackend(t, func(t *testing.T, repo repository.ConversationRepository) {
		ctx := context.Background()
		base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
		fixtures := []model.ConversationRecord{
			testsupport.Conversation("conv_a", testsupport.WithCreatedAt(base)),
			testsupport.Conversation("conv_b", testsupport.WithCreatedAt(base.Add(time.Minute))),
			testsupport.Conversation("conv_c", testsupport.WithCreatedAt(base.Add(2*time.Minute)), testsupport.WithAgent("agent_other")),
			testsupport.Conversation("conv_d", testsupport.WithCreatedAt(base.Add(3*time.Minute))),
		}
		for i := range fixtures {
			if err := repo.Insert(ctx, &fixtures[i]); err != nil {
				t.Fatalf("Insert %s: %v", fixtures[i].ConversationID, err)
			}
		}

		ids := func(recs []model.ConversationRecord) []string {
			out := make([]string, 0, len(recs))
			for _, r := range recs {
				out = append(out, r.ConversationID)
			}
			return out
		}

		all, err := repo.List(ctx, repository.ListOptions{})
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		if want := []string{"conv_d", "conv_c", "conv_b", "conv_a"}; !reflect.DeepEqual(ids(all), want) {
			t.Fatalf("List = %v, want %v", ids(all), want)
		}

		filtered, err := repo.List(ctx, repository.ListOptions{AgentID: "agent_test"})
		if err != nil {
			t.Fatalf("List filtered: %v", err)
		}
		if want := []string{"conv_d", "conv_b", "conv_a"}; !reflect.DeepEqual(ids(filtered), want) {
			t.Fatalf("filtered = %v, want %v", ids(filtered), want)
		}

		page, err := repo.List(ctx, repository.ListOptions{Limit: 2, Offset: 1})
		if err != nil {
			t.Fatalf("List paged: %v", err)
		}
		if want := []string{"conv_c", "conv_b"}; !reflect.DeepEqual(ids(page), want) {
			t.Fatalf("page = %v, want %v", ids(page), want)
		}

		beyond, err := repo.List(ctx, repository.ListOptions{Offset: 10})
		if err != nil || len(beyond) != 0 {
			t.Fatalf("beyond = %v, %v", ids(beyond), err)
		}
	})
}

func TestListOptionsNormalized(t *testing.T) {
	cases := []struct {
		in   repository.ListOptions
		want repository.ListOptions
	}{
		{repository.ListOptions{}, repository.ListOptions{Limit: repository.DefaultListLimit}},
		{repository.ListOptions{Limit: 1000, Offset: -4}, repository.ListOptions{Limit: repository.MaxListLimit}},
		{repository.ListOptions{AgentID: "a", Limit: 5, Offset: 3}, repository.ListOptions{AgentID: "a", Limit: 5, Offset: 3}},
	}
	for _, tc := range cases {
		if got := tc.in.Normalized(); got != tc.want {
			t.Errorf("Normalized(%+v) = %+v, want %+v", tc.in, got, tc.want)
		}
	}
}
