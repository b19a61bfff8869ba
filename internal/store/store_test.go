package store

import (
	"context"
	"math/rand"
	"path/filepath"
	"testing"
	"time"

	"github.com/duckmemory/duckmem/internal/vector"
)

var testNow = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "memory.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	s.SetClock(func() time.Time { return testNow })
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "memory.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("first open: %v", err)
	}
	if _, err := s.SaveMessage(context.Background(), Message{UserText: "hei"}); err != nil {
		t.Fatalf("save message: %v", err)
	}
	_ = s.Close()

	s, err = Open(path)
	if err != nil {
		t.Fatalf("second open: %v", err)
	}
	defer s.Close()
	msgs, err := s.GetUnprocessedMessages(context.Background(), 10)
	if err != nil || len(msgs) != 1 {
		t.Fatalf("expected message to survive reopen: len=%d err=%v", len(msgs), err)
	}
}

func TestMessagesQueue(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	var ids []int64
	for _, text := range []string{"første", "andre", "tredje"} {
		id, err := s.SaveMessage(ctx, Message{UserText: text, AIResponse: "ok", SessionID: "s1", UserName: "Osmund",
			Metadata: MessageMetadata{Topics: []string{"general"}}})
		if err != nil {
			t.Fatalf("save message: %v", err)
		}
		ids = append(ids, id)
	}

	msgs, err := s.GetUnprocessedMessages(ctx, 2)
	if err != nil {
		t.Fatalf("unprocessed: %v", err)
	}
	if len(msgs) != 2 || msgs[0].UserText != "første" || msgs[1].UserText != "andre" {
		t.Fatalf("expected oldest first, got %+v", msgs)
	}
	if msgs[0].Metadata.Topics[0] != "general" {
		t.Fatalf("metadata not round-tripped: %+v", msgs[0].Metadata)
	}

	for i := 0; i < 2; i++ {
		if err := s.MarkProcessed(ctx, ids[0]); err != nil {
			t.Fatalf("mark processed: %v", err)
		}
	}
	msgs, _ = s.GetUnprocessedMessages(ctx, 10)
	if len(msgs) != 2 || msgs[0].ID != ids[1] {
		t.Fatalf("unexpected queue after mark: %+v", msgs)
	}

	before, err := s.MessagesBefore(ctx, ids[2], 2)
	if err != nil || len(before) != 2 || before[0].ID != ids[0] || before[1].ID != ids[1] {
		t.Fatalf("messages before: %+v err=%v", before, err)
	}

	session, err := s.SessionMessages(ctx, "s1")
	if err != nil || len(session) != 3 {
		t.Fatalf("session messages: len=%d err=%v", len(session), err)
	}
}

func TestRecentMessagesFiltersByUser(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	for _, m := range []Message{
		{UserText: "o1", UserName: "Osmund"},
		{UserText: "m1", UserName: "Miriam"},
		{UserText: "o2", UserName: "osmund"},
		{UserText: "m2", UserName: "Miriam"},
	} {
		if _, err := s.SaveMessage(ctx, m); err != nil {
			t.Fatalf("save: %v", err)
		}
	}
	msgs, err := s.RecentMessages(ctx, "Osmund", 5)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(msgs) != 2 || msgs[0].UserText != "o1" || msgs[1].UserText != "o2" {
		t.Fatalf("expected Osmund's two messages oldest first, got %+v", msgs)
	}
}

func TestSessionsAwaitingSummary(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	old := testNow.Add(-time.Hour)
	for _, m := range []Message{
		{UserText: "a", SessionID: "idle", Timestamp: old},
		{UserText: "b", SessionID: "idle", Timestamp: old.Add(time.Minute)},
		{UserText: "c", SessionID: "active", Timestamp: testNow.Add(-5 * time.Minute)},
		{UserText: "d", SessionID: "done", Timestamp: old},
		{UserText: "e", Timestamp: old},
	} {
		if _, err := s.SaveMessage(ctx, m); err != nil {
			t.Fatalf("save: %v", err)
		}
	}
	if err := s.SaveSessionSummary(ctx, SessionSummary{SessionID: "done", Summary: "x", StartTime: old, EndTime: old}); err != nil {
		t.Fatalf("save summary: %v", err)
	}

	ids, err := s.SessionsAwaitingSummary(ctx, testNow.Add(-30*time.Minute))
	if err != nil {
		t.Fatalf("awaiting: %v", err)
	}
	if len(ids) != 1 || ids[0] != "idle" {
		t.Fatalf("expected only idle session, got %v", ids)
	}
}

func TestSessionSummaryOncePerSession(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	sum := SessionSummary{SessionID: "s1", Summary: "Vi snakket om Amiga", MessageCount: 4, StartTime: testNow, EndTime: testNow}
	if err := s.SaveSessionSummary(ctx, sum); err != nil {
		t.Fatalf("first save: %v", err)
	}
	if err := s.SaveSessionSummary(ctx, sum); err != ErrSummaryExists {
		t.Fatalf("expected ErrSummaryExists, got %v", err)
	}
}

func TestLastSessionSkipsBoilerplate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	summaries := []SessionSummary{
		{SessionID: "real", Summary: "Vi snakket om Amiga-samlingen", MessageCount: 6, Mood: MoodNostalgic,
			StartTime: testNow.Add(-3 * time.Hour), EndTime: testNow.Add(-2 * time.Hour), UserName: "Osmund"},
		{SessionID: "boiler", Summary: "Samtale med 4 meldinger. Topics: general", MessageCount: 4,
			StartTime: testNow.Add(-time.Hour), EndTime: testNow.Add(-30 * time.Minute)},
		{SessionID: "short", Summary: "Kort prat", MessageCount: 2,
			StartTime: testNow.Add(-20 * time.Minute), EndTime: testNow.Add(-10 * time.Minute)},
	}
	for _, sum := range summaries {
		if err := s.SaveSessionSummary(ctx, sum); err != nil {
			t.Fatalf("save %s: %v", sum.SessionID, err)
		}
	}

	got, err := s.GetLastSessionSummary(ctx, "Osmund")
	if err != nil {
		t.Fatalf("last session: %v", err)
	}
	if got == nil || got.SessionID != "real" || got.Mood != MoodNostalgic {
		t.Fatalf("expected the real summary, got %+v", got)
	}
	if !got.EndTime.Equal(testNow.Add(-2 * time.Hour)) {
		t.Fatalf("end time not round-tripped: %v", got.EndTime)
	}

	if got, _ := s.GetLastSessionSummary(ctx, "Miriam"); got != nil {
		t.Fatalf("expected no summary for Miriam, got %+v", got)
	}
}

func TestSettingsRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if _, ok, err := s.GetSetting(ctx, "memory_limit"); ok || err != nil {
		t.Fatalf("expected unset, ok=%v err=%v", ok, err)
	}
	for _, v := range []string{"8", "12"} {
		if err := s.SetSetting(ctx, "memory_limit", v); err != nil {
			t.Fatalf("set: %v", err)
		}
	}
	if v, ok, err := s.GetSetting(ctx, "memory_limit"); !ok || err != nil || v != "12" {
		t.Fatalf("unexpected setting: %q ok=%v err=%v", v, ok, err)
	}
}

func TestUsersUpsertAndCount(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if err := s.UpsertUser(ctx, User{Username: "Miriam", DisplayName: "Miriam", Relation: "søster"}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := s.UpsertUser(ctx, User{Username: "Miriam", DisplayName: "Miriam"}); err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := s.IncrementMessageCount(ctx, "miriam"); err != nil {
			t.Fatalf("increment: %v", err)
		}
	}
	u, ok, err := s.GetUser(ctx, "MIRIAM")
	if err != nil || !ok {
		t.Fatalf("get user: ok=%v err=%v", ok, err)
	}
	if u.Relation != "søster" || u.TotalMessages != 3 {
		t.Fatalf("unexpected user: %+v", u)
	}
	if err := s.UpsertUser(ctx, User{Username: "Gjest1", DisplayName: "Gjest1"}); err != nil {
		t.Fatalf("upsert guest: %v", err)
	}
	users, err := s.ListUsers(ctx)
	if err != nil || len(users) != 2 {
		t.Fatalf("list users: len=%d err=%v", len(users), err)
	}
	if g, _, _ := s.GetUser(ctx, "gjest1"); g.Relation != "gjest" {
		t.Fatalf("expected default relation gjest, got %q", g.Relation)
	}
}

func TestInboundSMSQueue(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if _, err := s.SaveInboundSMS(ctx, InboundSMS{SenderName: "Miriam", Message: "  "}); err == nil {
		t.Fatal("expected error for empty sms")
	}
	id, err := s.SaveInboundSMS(ctx, InboundSMS{SenderName: "Miriam", Phone: "+4799999999", Message: "Sara begynner på skolen i august"})
	if err != nil {
		t.Fatalf("save sms: %v", err)
	}
	pending, err := s.PendingInboundSMS(ctx, 5)
	if err != nil || len(pending) != 1 || pending[0].ID != id {
		t.Fatalf("pending: %+v err=%v", pending, err)
	}
	if err := s.MarkSMSProcessed(ctx, id); err != nil {
		t.Fatalf("mark: %v", err)
	}
	if pending, _ := s.PendingInboundSMS(ctx, 5); len(pending) != 0 {
		t.Fatalf("expected empty queue, got %+v", pending)
	}
}

func TestImages(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if _, err := s.SaveImage(ctx, ImageRecord{FilePath: "/img/1.jpg", Sender: "Miriam", Description: "Sara på stranden",
		People: []string{"Sara"}, Timestamp: testNow.Add(-2 * time.Hour)}); err != nil {
		t.Fatalf("save image: %v", err)
	}
	id, err := s.SaveImage(ctx, ImageRecord{FilePath: "/img/2.jpg", Sender: "Arvid", Description: "Ny båt",
		Categories: []string{"båt"}})
	if err != nil {
		t.Fatalf("save image: %v", err)
	}
	recent, err := s.RecentImages(ctx, 5)
	if err != nil || len(recent) != 2 || recent[0].ID != id {
		t.Fatalf("recent images: %+v err=%v", recent, err)
	}
	found, err := s.SearchImages(ctx, "sara", 5)
	if err != nil || len(found) != 1 || found[0].People[0] != "Sara" {
		t.Fatalf("search images: %+v err=%v", found, err)
	}
	if err := s.TouchImage(ctx, id); err != nil {
		t.Fatalf("touch image: %v", err)
	}
	recent, _ = s.RecentImages(ctx, 1)
	if recent[0].AccessedCount != 1 {
		t.Fatalf("expected accessed count 1, got %d", recent[0].AccessedCount)
	}
}

func TestStats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, _ = s.SaveMessage(ctx, Message{UserText: "hei"})
	_, _ = s.SaveProfileFact(ctx, ProfileFact{Key: "father_name", Value: "Arvid", Confidence: 1})
	_, _ = s.SaveMemory(ctx, Memory{Text: "Osmund liker Amiga"}, false)
	st, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if st.Messages != 1 || st.Unprocessed != 1 || st.ProfileFacts != 1 || st.Memories != 1 || st.MemoriesNoEmbedding != 1 {
		t.Fatalf("unexpected stats: %+v", st)
	}
	if st.SizeMB <= 0 {
		t.Fatalf("expected db size, got %v", st.SizeMB)
	}
}

func TestEmbeddingSelfCosine(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 5; i++ {
		vec := make([]float32, vector.Dimension)
		for j := range vec {
			vec[j] = rng.Float32()*2 - 1
		}
		if _, err := s.SaveMemory(ctx, Memory{Text: "minne " + string(rune('a'+i)), Embedding: vec}, false); err != nil {
			t.Fatalf("save memory: %v", err)
		}
	}
	mems, err := s.ListMemories(ctx, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	for _, m := range mems {
		if got := vector.Cosine(m.Embedding, m.Embedding); got < 1-1e-5 || got > 1+1e-5 {
			t.Fatalf("memory %d self cosine %v", m.ID, got)
		}
	}
}
