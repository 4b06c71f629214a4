// Package batcher accumulates capture-session messages and flushes them in
// transactional batches, by size or by timer, preserving arrival order.
package batcher

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/continuumhq/continuum/internal/model"
	"github.com/continuumhq/continuum/internal/telemetry"
)

// ErrClosed is returned by Enqueue after Shutdown: late messages must fail
// loudly instead of sitting in a buffer nothing will flush.
var ErrClosed = errors.New("batcher: shut down")

// Sink persists one batch transactionally. Satisfied by storage.DB.
type Sink interface {
	InsertCaptureMessages(ctx context.Context, msgs []model.CaptureMessage) (int, error)
}

// Batcher flushes per-session buffers when they reach the batch size or when
// the timer fires after the last arrival.
type Batcher struct {
	sink      Sink
	batchSize int
	timeout   time.Duration
	logger    *slog.Logger

	mu       sync.Mutex
	sessions map[uuid.UUID]*sessionBuffer
	wg       sync.WaitGroup
	closed   bool
}

type sessionBuffer struct {
	mu      sync.Mutex
	pending []model.CaptureMessage
	nextSeq int64
	timer   *time.Timer
}

// New creates a batcher.
func New(sink Sink, batchSize int, timeout time.Duration, logger *slog.Logger) *Batcher {
	return &Batcher{
		sink:      sink,
		batchSize: batchSize,
		timeout:   timeout,
		logger:    logger,
		sessions:  make(map[uuid.UUID]*sessionBuffer),
	}
}

// Enqueue buffers one message, assigning the session's next sequence number.
// A full buffer flushes immediately; otherwise the delayed flush is
// (re-)scheduled. Returns ErrClosed after Shutdown.
func (b *Batcher) Enqueue(ctx context.Context, m model.CaptureMessage) error {
	buf, err := b.buffer(m.SessionID)
	if err != nil {
		return err
	}

	buf.mu.Lock()
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	m.Seq = buf.nextSeq
	buf.nextSeq++
	buf.pending = append(buf.pending, m)

	if len(buf.pending) >= b.batchSize {
		b.stopTimer(buf)
		batch := buf.take()
		buf.mu.Unlock()
		return b.flush(ctx, buf, batch)
	}
	b.reschedule(m.SessionID, buf)
	buf.mu.Unlock()
	return nil
}

// CompleteSession force-flushes a session's pending messages and drops its
// buffer.
func (b *Batcher) CompleteSession(ctx context.Context, sessionID uuid.UUID) error {
	b.mu.Lock()
	buf, ok := b.sessions[sessionID]
	if ok {
		delete(b.sessions, sessionID)
	}
	b.mu.Unlock()
	if !ok {
		return nil
	}

	buf.mu.Lock()
	b.stopTimer(buf)
	batch := buf.take()
	buf.mu.Unlock()
	if len(batch) == 0 {
		return nil
	}
	return b.flush(ctx, buf, batch)
}

// Shutdown force-flushes every session and waits for in-flight timer flushes.
func (b *Batcher) Shutdown(ctx context.Context) error {
	b.mu.Lock()
	b.closed = true
	sessions := make([]*sessionBuffer, 0, len(b.sessions))
	ids := make([]uuid.UUID, 0, len(b.sessions))
	for id, buf := range b.sessions {
		sessions = append(sessions, buf)
		ids = append(ids, id)
	}
	b.sessions = make(map[uuid.UUID]*sessionBuffer)
	b.mu.Unlock()

	var firstErr error
	for i, buf := range sessions {
		buf.mu.Lock()
		b.stopTimer(buf)
		batch := buf.take()
		buf.mu.Unlock()
		if len(batch) == 0 {
			continue
		}
		if err := b.flush(ctx, buf, batch); err != nil && firstErr == nil {
			firstErr = err
			b.logger.Error("batcher: shutdown flush failed",
				"session", ids[i], "messages", len(batch), "error", err)
		}
	}
	b.wg.Wait()
	return firstErr
}

// Pending returns the number of buffered messages for a session. Test hook.
func (b *Batcher) Pending(sessionID uuid.UUID) int {
	b.mu.Lock()
	buf, ok := b.sessions[sessionID]
	b.mu.Unlock()
	if !ok {
		return 0
	}
	buf.mu.Lock()
	defer buf.mu.Unlock()
	return len(buf.pending)
}

func (b *Batcher) buffer(sessionID uuid.UUID) (*sessionBuffer, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}
	buf, ok := b.sessions[sessionID]
	if !ok {
		buf = &sessionBuffer{}
		b.sessions[sessionID] = buf
	}
	return buf, nil
}

// stopTimer disarms a pending flush, releasing its waitgroup slot when it had
// not yet fired. Called with buf.mu held.
func (b *Batcher) stopTimer(buf *sessionBuffer) {
	if buf.timer != nil && buf.timer.Stop() {
		b.wg.Done()
	}
	buf.timer = nil
}

// reschedule arms the delayed flush. Called with buf.mu held.
func (b *Batcher) reschedule(sessionID uuid.UUID, buf *sessionBuffer) {
	b.stopTimer(buf)
	b.wg.Add(1)
	buf.timer = time.AfterFunc(b.timeout, func() {
		defer b.wg.Done()
		buf.mu.Lock()
		batch := buf.take()
		buf.mu.Unlock()
		if len(batch) == 0 {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := b.flush(ctx, buf, batch); err != nil {
			b.logger.Error("batcher: timer flush failed",
				"session", sessionID, "messages", len(batch), "error", err)
		}
	})
}

// take removes and returns the pending batch. Called with buf.mu held.
func (buf *sessionBuffer) take() []model.CaptureMessage {
	batch := buf.pending
	buf.pending = nil
	return batch
}

// flush writes one batch. On failure the batch is re-prepended so order is
// preserved for the next attempt, and the error is surfaced.
func (b *Batcher) flush(ctx context.Context, buf *sessionBuffer, batch []model.CaptureMessage) error {
	if _, err := b.sink.InsertCaptureMessages(ctx, batch); err != nil {
		buf.mu.Lock()
		buf.pending = append(batch, buf.pending...)
		buf.mu.Unlock()
		return err
	}
	telemetry.BatchesFlushed().Add(ctx, 1)
	return nil
}
