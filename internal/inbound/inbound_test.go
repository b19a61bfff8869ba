package inbound

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/duckmemory/duckmem/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "memory.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestHandleStoresSMS(t *testing.T) {
	st := newTestStore(t)
	ing := NewIngester(st, NewChannelConsumer())
	ctx := context.Background()

	id, err := ing.Handle(ctx, Record{Topic: "duck.inbound.sms", Value: []byte(
		`{"type":"sms","timestamp":"2026-03-14T09:30:00Z","payload":{"sender_name":" Rigmor ","phone":"+4790000000","message":"Jeg er på hytta i Sokndal"}}`,
	)})
	if err != nil || id == 0 {
		t.Fatalf("Handle = %d, %v", id, err)
	}
	pending, err := st.PendingInboundSMS(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 {
		t.Fatalf("pending = %+v", pending)
	}
	got := pending[0]
	if got.SenderName != "Rigmor" || got.Message != "Jeg er på hytta i Sokndal" ||
		!got.ReceivedAt.Equal(time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)) {
		t.Fatalf("sms = %+v", got)
	}
}

func TestHandleStoresImage(t *testing.T) {
	st := newTestStore(t)
	ing := NewIngester(st, NewChannelConsumer())
	ctx := context.Background()

	if _, err := ing.Handle(ctx, Record{Value: []byte(
		`{"type":"IMAGE","payload":{"filepath":"/data/img/ski.jpg","sender":"Miriam","description":"Sara på ski","people":["Sara"]}}`,
	)}); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	imgs, err := st.RecentImages(ctx, 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(imgs) != 1 || imgs[0].Sender != "Miriam" || len(imgs[0].People) != 1 || imgs[0].People[0] != "Sara" {
		t.Fatalf("images = %+v", imgs)
	}
}

func TestHandleRejectsInvalidRecords(t *testing.T) {
	ing := NewIngester(newTestStore(t), NewChannelConsumer())
	for _, raw := range []string{
		`not json`,
		`{"type":"fax","payload":{}}`,
		`{"type":"sms","payload":{"sender_name":"Rigmor","message":"   "}}`,
		`{"type":"image","payload":{"description":"uten fil"}}`,
		`{"type":"sms","payload":"tekst"}`,
	} {
		if _, err := ing.Handle(context.Background(), Record{Value: []byte(raw)}); !errors.Is(err, ErrInvalid) {
			t.Errorf("Handle(%s) = %v, want ErrInvalid", raw, err)
		}
	}
}

func TestRunDrainsUntilConsumerCloses(t *testing.T) {
	st := newTestStore(t)
	c := NewChannelConsumer()
	c.Send(Record{Value: []byte(`{"type":"sms","payload":{"sender_name":"Kari","message":"Ringer i morgen"}}`)})
	c.Send(Record{Value: []byte(`garbage`)})
	c.Send(Record{Value: []byte(`{"type":"sms","payload":{"phone":"+4791111111","message":"Hei fra Bergen"}}`)})
	_ = c.Close()

	if err := NewIngester(st, c).Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	pending, _ := st.PendingInboundSMS(context.Background(), 10)
	if len(pending) != 2 {
		t.Fatalf("pending = %d, want 2", len(pending))
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	ing := NewIngester(newTestStore(t), NewChannelConsumer())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ing.Run(ctx) }()
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}
