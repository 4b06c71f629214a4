package batcher

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/continuumhq/continuum/internal/model"
)

type memorySink struct {
	mu      sync.Mutex
	batches [][]model.CaptureMessage
	fail    bool
}

func (s *memorySink) InsertCaptureMessages(_ context.Context, msgs []model.CaptureMessage) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return 0, errors.New("sink down")
	}
	batch := make([]model.CaptureMessage, len(msgs))
	copy(batch, msgs)
	s.batches = append(s.batches, batch)
	return len(msgs), nil
}

func (s *memorySink) all() []model.CaptureMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.CaptureMessage
	for _, b := range s.batches {
		out = append(out, b...)
	}
	return out
}

func testLogger() *slog.Logger { return slog.New(slog.DiscardHandler) }

func msg(session uuid.UUID, content string) model.CaptureMessage {
	return model.CaptureMessage{SessionID: session, UserID: "u1", Role: model.RoleUser, Content: content}
}

func TestFlushOnBatchSize(t *testing.T) {
	sink := &memorySink{}
	b := New(sink, 3, time.Hour, testLogger())
	session := uuid.New()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := b.Enqueue(ctx, msg(session, "m")); err != nil {
			t.Fatalf("enqueue %d: %v", i, err)
		}
	}
	if len(sink.batches) != 1 || len(sink.batches[0]) != 3 {
		t.Fatalf("expected one batch of 3, got %+v", sink.batches)
	}
	if b.Pending(session) != 0 {
		t.Fatal("buffer should be empty after size flush")
	}
}

func TestFlushOnTimer(t *testing.T) {
	sink := &memorySink{}
	b := New(sink, 100, 20*time.Millisecond, testLogger())
	session := uuid.New()

	b.Enqueue(context.Background(), msg(session, "only one"))
	time.Sleep(60 * time.Millisecond)

	got := sink.all()
	if len(got) != 1 || got[0].Content != "only one" {
		t.Fatalf("timer flush: %+v", got)
	}
}

func TestSequencePreservesArrivalOrder(t *testing.T) {
	sink := &memorySink{}
	b := New(sink, 2, time.Hour, testLogger())
	session := uuid.New()
	ctx := context.Background()

	for _, c := range []string{"a", "b", "c", "d"} {
		b.Enqueue(ctx, msg(session, c))
	}
	got := sink.all()
	if len(got) != 4 {
		t.Fatalf("expected 4 flushed, got %d", len(got))
	}
	for i, m := range got {
		if m.Seq != int64(i) {
			t.Fatalf("message %d has seq %d", i, m.Seq)
		}
	}
}

func TestCompleteSessionForceFlushes(t *testing.T) {
	sink := &memorySink{}
	b := New(sink, 100, time.Hour, testLogger())
	session := uuid.New()
	ctx := context.Background()

	b.Enqueue(ctx, msg(session, "x"))
	b.Enqueue(ctx, msg(session, "y"))
	if err := b.CompleteSession(ctx, session); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if len(sink.all()) != 2 {
		t.Fatalf("expected 2 flushed, got %d", len(sink.all()))
	}

	// Completing an unknown session is a no-op.
	if err := b.CompleteSession(ctx, uuid.New()); err != nil {
		t.Fatalf("unknown session: %v", err)
	}
}

func TestShutdownFlushesAllSessions(t *testing.T) {
	sink := &memorySink{}
	b := New(sink, 100, time.Hour, testLogger())
	ctx := context.Background()

	s1, s2 := uuid.New(), uuid.New()
	b.Enqueue(ctx, msg(s1, "one"))
	b.Enqueue(ctx, msg(s2, "two"))

	if err := b.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if len(sink.all()) != 2 {
		t.Fatalf("expected both sessions flushed, got %d", len(sink.all()))
	}
}

func TestEnqueueAfterShutdownRejected(t *testing.T) {
	sink := &memorySink{}
	b := New(sink, 100, time.Hour, testLogger())
	session := uuid.New()
	ctx := context.Background()

	b.Enqueue(ctx, msg(session, "before"))
	if err := b.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	if err := b.Enqueue(ctx, msg(session, "late")); !errors.Is(err, ErrClosed) {
		t.Fatalf("enqueue after shutdown = %v, want ErrClosed", err)
	}
	// Nothing was buffered or flushed for the late message.
	got := sink.all()
	if len(got) != 1 || got[0].Content != "before" {
		t.Fatalf("flushed after shutdown: %+v", got)
	}
	if b.Pending(session) != 0 {
		t.Fatal("late message must not be buffered")
	}
}

func TestFailedFlushReprepends(t *testing.T) {
	sink := &memorySink{fail: true}
	b := New(sink, 2, time.Hour, testLogger())
	session := uuid.New()
	ctx := context.Background()

	b.Enqueue(ctx, msg(session, "a"))
	if err := b.Enqueue(ctx, msg(session, "b")); err == nil {
		t.Fatal("expected flush error")
	}
	// Failed batch went back in front, order intact.
	if got := b.Pending(session); got != 2 {
		t.Fatalf("pending after failure = %d, want 2", got)
	}

	sink.mu.Lock()
	sink.fail = false
	sink.mu.Unlock()
	if err := b.CompleteSession(ctx, session); err != nil {
		t.Fatalf("retry flush: %v", err)
	}
	got := sink.all()
	if len(got) != 2 || got[0].Content != "a" || got[1].Content != "b" {
		t.Fatalf("retry order: %+v", got)
	}
}
