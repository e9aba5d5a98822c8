package ingest

import (
	"context"
	"encoding/binary"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/0xMiden/miden-note-transport/internal/model"
	"github.com/0xMiden/miden-note-transport/internal/repository/notes"
	"github.com/0xMiden/miden-note-transport/internal/service/stats"
)

type capturePublisher struct {
	mu    sync.Mutex
	notes []*model.Note
}

func (p *capturePublisher) Publish(n *model.Note) {
	p.mu.Lock()
	p.notes = append(p.notes, n)
	p.mu.Unlock()
}

func (p *capturePublisher) published() []*model.Note {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*model.Note(nil), p.notes...)
}

func newEngine(t *testing.T, cfg Config) (*Engine, *notes.MemoryStore, *capturePublisher) {
	t.Helper()
	store := notes.NewMemoryStore()
	e := New(store, stats.NewCollector(), cfg)
	require.NoError(t, e.Init(context.Background()))
	pub := &capturePublisher{}
	e.SetPublisher(pub)
	return e, store, pub
}

func note(tag uint32, body ...byte) *model.Note {
	header := make([]byte, model.TagSize, model.TagSize+len(body))
	binary.BigEndian.PutUint32(header, tag)
	header = append(header, body...)
	return &model.Note{Tag: tag, Header: header, Details: body}
}

func TestIngestAssignsIDAndTimestamp(t *testing.T) {
	e, store, pub := newEngine(t, Config{})
	ctx := context.Background()

	n := note(7, 1, 2, 3)
	id, err := e.Ingest(ctx, n)
	require.NoError(t, err)
	require.Equal(t, model.DeriveID(n.Header, n.Details), id)
	require.NotZero(t, n.CreatedAt)

	stored, err := store.QueryByTag(ctx, 7, model.Cursor{}, 10)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	require.Equal(t, id, stored[0].ID)

	require.Len(t, pub.published(), 1)
}

func TestIngestValidates(t *testing.T) {
	e, _, _ := newEngine(t, Config{})
	ctx := context.Background()

	_, err := e.Ingest(ctx, &model.Note{Tag: 1})
	require.ErrorIs(t, err, model.ErrEmptyHeader)

	bad := note(7)
	bad.Tag = 8
	_, err = e.Ingest(ctx, bad)
	require.ErrorIs(t, err, model.ErrTagMismatch)
}

func TestIngestIdempotent(t *testing.T) {
	e, store, pub := newEngine(t, Config{})
	ctx := context.Background()

	id1, err := e.Ingest(ctx, note(7, 9))
	require.NoError(t, err)
	id2, err := e.Ingest(ctx, note(7, 9))
	require.NoError(t, err)
	require.Equal(t, id1, id2)

	total, err := store.CountTotal(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, total)

	// The duplicate is not republished.
	require.Len(t, pub.published(), 1)
}

func TestIngestMonotonicTimestamps(t *testing.T) {
	// A clock frozen in place forces the clamp on every assignment.
	frozen := time.Now()
	e, _, _ := newEngine(t, Config{Now: func() time.Time { return frozen }})
	ctx := context.Background()

	var last int64
	for i := 0; i < 50; i++ {
		n := note(3, byte(i))
		_, err := e.Ingest(ctx, n)
		require.NoError(t, err)
		require.Greater(t, n.CreatedAt, last, "created_at must strictly increase")
		last = n.CreatedAt
	}
	require.Equal(t, last, e.LastAssigned())
}

func TestIngestClockRegression(t *testing.T) {
	now := time.Now()
	current := now
	var mu sync.Mutex
	e, _, _ := newEngine(t, Config{Now: func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return current
	}})
	ctx := context.Background()

	first := note(3, 0)
	_, err := e.Ingest(ctx, first)
	require.NoError(t, err)

	// Wall clock regresses by a minute; assignment must still advance.
	mu.Lock()
	current = now.Add(-time.Minute)
	mu.Unlock()

	second := note(3, 1)
	_, err = e.Ingest(ctx, second)
	require.NoError(t, err)
	require.Greater(t, second.CreatedAt, first.CreatedAt)
}

func TestIngestPublishOrder(t *testing.T) {
	e, _, pub := newEngine(t, Config{})
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := e.Ingest(ctx, note(5, byte(i))); err != nil {
				t.Error(err)
			}
		}(i)
	}
	wg.Wait()

	published := pub.published()
	require.Len(t, published, 64)
	for i := 1; i < len(published); i++ {
		require.Greater(t, published[i].CreatedAt, published[i-1].CreatedAt,
			"publishes must follow created_at order")
	}
}

func TestIngestCapacity(t *testing.T) {
	store := notes.NewMemoryStore()
	e := New(store, stats.NewCollector(), Config{MaxInFlight: 1})
	require.NoError(t, e.Init(context.Background()))

	// Occupy the only slot.
	e.sem <- struct{}{}
	_, err := e.Ingest(context.Background(), note(1, 1))
	require.ErrorIs(t, err, model.ErrIngestBusy)
	<-e.sem

	_, err = e.Ingest(context.Background(), note(1, 1))
	require.NoError(t, err)
}

func TestWaitDurable(t *testing.T) {
	e, _, _ := newEngine(t, Config{})
	ctx := context.Background()

	// Nothing in flight: returns immediately, even for a future ts.
	require.NoError(t, e.WaitDurable(ctx, e.LastAssigned()+1000))

	// Simulate an assigned-but-not-durable ingestion.
	n := note(2, 1)
	entry := e.assign(n)

	waitCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	err := e.WaitDurable(waitCtx, n.CreatedAt)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	e.complete(entry, nil)
	require.NoError(t, e.WaitDurable(ctx, n.CreatedAt))
}
