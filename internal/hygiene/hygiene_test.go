package hygiene

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/duckmemory/duckmem/internal/store"
)

var testNow = time.Date(2026, 3, 14, 3, 0, 0, 0, time.UTC)

type fakeConsolidator struct {
	summaries []string
	err       error
	topics    []string
	texts     [][]string
}

func (f *fakeConsolidator) Consolidate(_ context.Context, topic string, texts []string) ([]string, error) {
	f.topics = append(f.topics, topic)
	f.texts = append(f.texts, texts)
	if f.err != nil {
		return nil, f.err
	}
	return f.summaries, nil
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "memory.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	st.SetClock(func() time.Time { return testNow })
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func mustSaveMemory(t *testing.T, st *store.Store, m store.Memory) int64 {
	t.Helper()
	res, err := st.SaveMemory(context.Background(), m, false)
	if err != nil {
		t.Fatalf("save memory: %v", err)
	}
	return res.ID
}

func TestRunLeavesNoExpiredRows(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	past, future := testNow.Add(-time.Minute), testNow.Add(time.Hour)
	for i, exp := range []*time.Time{&past, &future, nil} {
		if _, err := st.SaveProfileFact(ctx, store.ProfileFact{
			Key: fmt.Sprintf("mood_%d", i), Value: "sliten", Topic: store.TopicEmotions,
			Metadata: store.FactMetadata{ExpiresAt: exp},
		}); err != nil {
			t.Fatal(err)
		}
		mustSaveMemory(t, st, store.Memory{
			Text: fmt.Sprintf("vondt i hodet dag %d", i), Topic: store.TopicHealth,
			Metadata: store.MemoryMetadata{ExpiresAt: exp},
		})
	}

	rep, err := New(st, nil, nil, DefaultOptions()).Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rep.Rows(StepExpire) != 2 {
		t.Fatalf("expired rows = %d, want 2", rep.Rows(StepExpire))
	}

	facts, _ := st.GetProfileFacts(ctx, 0)
	for _, f := range facts {
		if f.Metadata.ExpiresAt != nil && f.Metadata.ExpiresAt.Before(testNow) {
			t.Fatalf("expired fact survived: %+v", f)
		}
	}
	mems, _ := st.ListMemories(ctx, 0)
	for _, m := range mems {
		if m.Metadata.ExpiresAt != nil && m.Metadata.ExpiresAt.Before(testNow) {
			t.Fatalf("expired memory survived: %+v", m)
		}
	}
	if len(facts) != 2 || len(mems) != 2 {
		t.Fatalf("survivors: %d facts, %d memories", len(facts), len(mems))
	}
}

func TestDecayIsMonotonic(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	id := mustSaveMemory(t, st, store.Memory{
		Text: "Osmund reparerte en gammel radio", Topic: store.TopicHobby, Confidence: 0.8,
		LastAccessed: testNow.AddDate(0, 0, -45),
	})

	opts := DefaultOptions()
	opts.Vacuum = false
	h := New(st, nil, nil, opts)
	prev := 0.8
	for run := 0; run < 3; run++ {
		if _, err := h.Run(ctx); err != nil {
			t.Fatalf("run %d: %v", run, err)
		}
		m, ok, _ := st.GetMemory(ctx, id)
		if !ok {
			t.Fatalf("run %d: memory deleted", run)
		}
		if m.Confidence >= prev {
			t.Fatalf("run %d: confidence %v did not decrease from %v", run, m.Confidence, prev)
		}
		prev = m.Confidence
	}
}

func TestEphemeralMemoriesRemoved(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	mustSaveMemory(t, st, store.Memory{Text: "sol i dag", Topic: store.TopicWeather, Confidence: 0.1})
	keep := mustSaveMemory(t, st, store.Memory{Text: "Miriam har bursdag", Topic: store.TopicFamily, Confidence: 0.1})

	rep, err := New(st, nil, nil, DefaultOptions()).Run(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if rep.Rows(StepEphemeral) != 1 {
		t.Fatalf("ephemeral rows = %d", rep.Rows(StepEphemeral))
	}
	if _, ok, _ := st.GetMemory(ctx, keep); !ok {
		t.Fatal("family memory removed")
	}
}

func TestConsolidationReplacesOldMemories(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	old := testNow.AddDate(0, 0, -20)
	for i := 0; i < 5; i++ {
		mustSaveMemory(t, st, store.Memory{
			Text: fmt.Sprintf("hobbyminne %d", i), Topic: store.TopicHobby, Confidence: 0.7, UserName: "Osmund",
			FirstSeen: old.Add(time.Duration(i) * time.Hour),
			Metadata:  store.MemoryMetadata{Importance: i},
		})
	}
	c := &fakeConsolidator{summaries: []string{"Osmund har mange hobbyer", "Osmund liker å skru"}}

	rep, err := New(st, c, nil, DefaultOptions()).Run(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if rep.Rows(StepConsolidate) != 5 {
		t.Fatalf("consolidated rows = %d", rep.Rows(StepConsolidate))
	}
	if len(c.topics) != 1 || c.topics[0] != store.TopicHobby || len(c.texts[0]) != 5 {
		t.Fatalf("unexpected consolidator input %v %v", c.topics, c.texts)
	}

	mems, _ := st.ListMemories(ctx, 0)
	if len(mems) != 2 {
		t.Fatalf("memories after consolidation = %d", len(mems))
	}
	for _, m := range mems {
		if m.Source != store.SourceConsolidated || m.Confidence != 0.85 || m.Metadata.ConsolidatedFrom != 5 ||
			m.UserName != "Osmund" || m.Metadata.Importance != 4 {
			t.Fatalf("unexpected consolidated memory %+v", m)
		}
	}
	if err := st.CheckFullText(ctx); err != nil {
		t.Fatalf("full-text drift: %v", err)
	}
}

func TestFailedStepDoesNotAbortRun(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	old := testNow.AddDate(0, 0, -20)
	for i := 0; i < 4; i++ {
		mustSaveMemory(t, st, store.Memory{Text: fmt.Sprintf("jobbminne %d", i), Topic: store.TopicProjects, FirstSeen: old})
	}
	if _, err := st.SaveMessage(ctx, store.Message{UserText: "gammel", AIResponse: "svar", Timestamp: testNow.AddDate(0, 0, -100)}); err != nil {
		t.Fatal(err)
	}
	if _, err := st.SaveMessage(ctx, store.Message{UserText: "ny", AIResponse: "svar"}); err != nil {
		t.Fatal(err)
	}
	if err := st.RecordContradiction(ctx, store.Contradiction{Key: "a", NewValue: "x", Resolved: true, DetectedAt: testNow.AddDate(0, 0, -40)}); err != nil {
		t.Fatal(err)
	}
	if err := st.RecordContradiction(ctx, store.Contradiction{Key: "b", NewValue: "y", DetectedAt: testNow.AddDate(0, 0, -40)}); err != nil {
		t.Fatal(err)
	}

	c := &fakeConsolidator{err: errors.New("model unavailable")}
	rep, err := New(st, c, nil, DefaultOptions()).Run(ctx)
	if err != nil {
		t.Fatal(err)
	}
	failed := rep.Failed()
	if len(failed) != 1 || failed[0].Name != StepConsolidate {
		t.Fatalf("failed steps = %+v", failed)
	}
	if rep.Rows(StepMessages) != 1 || rep.Rows(StepContradictions) != 1 {
		t.Fatalf("later steps skipped: %+v", rep.Steps)
	}
	if rep.Before.Messages != 2 || rep.After.Messages != 1 {
		t.Fatalf("before/after = %d/%d", rep.Before.Messages, rep.After.Messages)
	}
	open, _ := st.ListContradictions(ctx, false)
	if len(open) != 1 || open[0].Resolved {
		t.Fatalf("contradictions left = %+v", open)
	}
	mems, _ := st.ListMemories(ctx, 0)
	if len(mems) != 4 {
		t.Fatalf("originals must survive a failed consolidation, got %d", len(mems))
	}
}

func TestRunStopsWhenCancelled(t *testing.T) {
	st := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rep, err := New(st, nil, nil, DefaultOptions()).Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run = %v", err)
	}
	if len(rep.Steps) != 0 {
		t.Fatalf("steps ran after cancel: %+v", rep.Steps)
	}
}
