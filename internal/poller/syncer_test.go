package poller

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"convoingest/internal/ai"
	"convoingest/internal/ingest"
	"convoingest/internal/model"
	"convoingest/internal/repository"
	"convoingest/internal/testsupport"
	"convoingest/internal/transcripts"
)

type fakeProvider struct {
	mu       sync.Mutex
	records  []model.ConversationRecord
	byID     map[string]model.ConversationRecord
	listErr  error
	block    chan struct{} // when set, FetchConversations waits on it
	entered  chan struct{}
	lists    atomic.Int32
	lookups  atomic.Int32
	lastSeen transcripts.Filter
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) FetchConversations(ctx context.Context, filter transcripts.Filter) ([]model.ConversationRecord, error) {
	f.lists.Add(1)
	f.mu.Lock()
	f.lastSeen = filter
	block, entered := f.block, f.entered
	f.mu.Unlock()

	if entered != nil {
		entered <- struct{}{}
	}
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := make([]model.ConversationRecord, len(f.records))
	copy(out, f.records)
	return out, nil
}

func (f *fakeProvider) FetchConversationByID(ctx context.Context, id string) (model.ConversationRecord, error) {
	f.lookups.Add(1)
	rec, ok := f.byID[id]
	if !ok {
		return model.ConversationRecord{}, transcripts.ErrNotFound
	}
	return rec, nil
}

type noopAnalyzer struct{}

func (noopAnalyzer) Analyze(ctx context.Context, transcript []model.TranscriptTurn) ai.Result {
	return ai.EmptyResult(time.Now())
}

// scriptedIngester stores into a memory repository but can fail or panic
// for chosen ids.
type scriptedIngester struct {
	coord  *ingest.Coordinator
	fail   map[string]error
	panics map[string]bool
	mu     sync.Mutex
	calls  []string
}

func newScriptedIngester() *scriptedIngester {
	return &scriptedIngester{
		coord:  ingest.NewCoordinator(repository.NewMemoryRepository(), noopAnalyzer{}, nil),
		fail:   map[string]error{},
		panics: map[string]bool{},
	}
}

func (s *scriptedIngester) Ingest(ctx context.Context, rec model.ConversationRecord) (ingest.Outcome, error) {
	s.mu.Lock()
	s.calls = append(s.calls, rec.ConversationID)
	err := s.fail[rec.ConversationID]
	panics := s.panics[rec.ConversationID]
	s.mu.Unlock()

	if panics {
		panic("analysis exploded")
	}
	if err != nil {
		return 0, err
	}
	return s.coord.Ingest(ctx, rec)
}

func (s *scriptedIngester) callCount(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		if c == id {
			n++
		}
	}
	return n
}

func threeConversations() []model.ConversationRecord {
	return []model.ConversationRecord{
		testsupport.Conversation("conv_1"),
		testsupport.Conversation("conv_2"),
		testsupport.Conversation("conv_3"),
	}
}

func TestRunCycleIsolatesFailures(t *testing.T) {
	provider := &fakeProvider{records: threeConversations()}
	ingester := newScriptedIngester()
	ingester.fail["conv_2"] = errors.New("repository down")
	s := New(provider, ingester, Options{AgentID: "agent_test"}, nil)

	report, err := s.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if report.Fetched != 3 || report.Stored != 2 || report.Failed != 1 {
		t.Fatalf("report = %+v", report)
	}
	if provider.lastSeen.AgentID != "agent_test" {
		t.Fatalf("filter = %+v", provider.lastSeen)
	}
	if s.inProgress.Load() {
		t.Fatal("guard still held after cycle")
	}

	// The failed conversation is retried; the stored ones are skipped.
	delete(ingester.fail, "conv_2")
	report, err = s.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("second RunCycle: %v", err)
	}
	if report.Candidates != 1 || report.Stored != 1 {
		t.Fatalf("second report = %+v", report)
	}
	if ingester.callCount("conv_1") != 1 || ingester.callCount("conv_2") != 2 {
		t.Fatalf("calls = %v", ingester.calls)
	}
	if report.Cycle != 2 {
		t.Fatalf("cycle = %d", report.Cycle)
	}
}

func TestRunCycleRecoversFromPanics(t *testing.T) {
	provider := &fakeProvider{records: threeConversations()}
	ingester := newScriptedIngester()
	ingester.panics["conv_2"] = true
	s := New(provider, ingester, Options{}, nil)

	report, err := s.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if report.Stored != 2 || report.Failed != 1 {
		t.Fatalf("report = %+v", report)
	}
	if ingester.callCount("conv_3") != 1 {
		t.Fatal("batch stopped after panic")
	}
	if s.inProgress.Load() {
		t.Fatal("guard still held after panic")
	}
}

func TestRunCycleSkipsWhileInProgress(t *testing.T) {
	provider := &fakeProvider{
		records: threeConversations(),
		block:   make(chan struct{}),
		entered: make(chan struct{}, 1),
	}
	s := New(provider, newScriptedIngester(), Options{}, nil)

	done := make(chan CycleReport, 1)
	go func() {
		report, _ := s.RunCycle(context.Background())
		done <- report
	}()
	<-provider.entered

	provider.mu.Lock()
	provider.entered = nil
	provider.mu.Unlock()

	overlap, err := s.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("overlapping RunCycle: %v", err)
	}
	if !overlap.Skipped || overlap.Fetched != 0 {
		t.Fatalf("overlap report = %+v", overlap)
	}
	if got := provider.lists.Load(); got != 1 {
		t.Fatalf("provider listed %d times, want 1", got)
	}

	close(provider.block)
	first := <-done
	if first.Stored != 3 {
		t.Fatalf("first report = %+v", first)
	}
}

func TestRunCycleProviderFailureClearsGuard(t *testing.T) {
	provider := &fakeProvider{listErr: &transcripts.UnavailableError{Provider: "fake", StatusCode: 503, Err: errors.New("down")}}
	s := New(provider, newScriptedIngester(), Options{}, nil)

	if _, err := s.RunCycle(context.Background()); err == nil {
		t.Fatal("expected provider error")
	}
	if s.inProgress.Load() {
		t.Fatal("guard still held after fetch failure")
	}

	provider.listErr = nil
	provider.records = threeConversations()
	report, err := s.RunCycle(context.Background())
	if err != nil || report.Stored != 3 {
		t.Fatalf("recovery cycle = %+v, %v", report, err)
	}
}

func TestRunCycleHydratesSummaries(t *testing.T) {
	summary := testsupport.Conversation("conv_summary", testsupport.WithTranscript(nil))
	gone := testsupport.Conversation("conv_gone", testsupport.WithTranscript(nil))
	provider := &fakeProvider{
		records: []model.ConversationRecord{summary, gone},
		byID: map[string]model.ConversationRecord{
			"conv_summary": testsupport.Conversation("conv_summary", testsupport.WithAgent("")),
		},
	}
	ingester := newScriptedIngester()
	s := New(provider, ingester, Options{}, nil)

	report, err := s.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if report.Stored != 1 || report.NotFound != 1 {
		t.Fatalf("report = %+v", report)
	}
	if provider.lookups.Load() != 2 {
		t.Fatalf("lookups = %d", provider.lookups.Load())
	}
	if s.SeenCount() != 2 {
		t.Fatalf("seen = %d, want 2", s.SeenCount())
	}

	// Both ids are now seen: no further lookups.
	if _, err := s.RunCycle(context.Background()); err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if provider.lookups.Load() != 2 {
		t.Fatalf("lookups after second cycle = %d", provider.lookups.Load())
	}
}

func TestStartRunsImmediatelyAndStops(t *testing.T) {
	provider := &fakeProvider{records: threeConversations()}
	s := New(provider, newScriptedIngester(), Options{Interval: time.Hour}, nil)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := s.Start(context.Background()); !errors.Is(err, ErrAlreadyStarted) {
		t.Fatalf("second Start = %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for s.SeenCount() < 3 {
		if time.Now().After(deadline) {
			t.Fatal("initial cycle did not run")
		}
		time.Sleep(10 * time.Millisecond)
	}

	s.Stop()
	s.Stop()
	if got := provider.lists.Load(); got != 1 {
		t.Fatalf("listed %d times with hour interval, want 1", got)
	}
}
