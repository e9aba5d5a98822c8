package hub

import (
	"context"
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/0xMiden/miden-note-transport/internal/model"
	"github.com/0xMiden/miden-note-transport/internal/repository/notes"
	"github.com/0xMiden/miden-note-transport/internal/service/fetch"
	"github.com/0xMiden/miden-note-transport/internal/service/ingest"
	"github.com/0xMiden/miden-note-transport/internal/service/stats"
)

// harness wires a real ingestion engine, fetch engine, and hub over the
// memory store, the same topology the server runs.
type harness struct {
	store *notes.MemoryStore
	ing   *ingest.Engine
	hub   *Hub
	stats *stats.Collector
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	store := notes.NewMemoryStore()
	collector := stats.NewCollector()
	ing := ingest.New(store, collector, ingest.Config{})
	require.NoError(t, ing.Init(context.Background()))
	fe := fetch.New(store, fetch.Config{})
	h := New(fe, ing, collector, cfg)
	ing.SetPublisher(h)
	return &harness{store: store, ing: ing, hub: h, stats: collector}
}

func (h *harness) send(t *testing.T, tag uint32, body ...byte) *model.Note {
	t.Helper()
	header := make([]byte, model.TagSize, model.TagSize+len(body))
	binary.BigEndian.PutUint32(header, tag)
	header = append(header, body...)
	n := &model.Note{Tag: tag, Header: header, Details: body}
	_, err := h.ing.Ingest(context.Background(), n)
	require.NoError(t, err)
	return n
}

func recvOne(t *testing.T, sub *Subscription) *model.Note {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	n, err := sub.Next(ctx)
	require.NoError(t, err)
	return n
}

func TestLiveDelivery(t *testing.T) {
	h := newHarness(t, Config{})
	sub, err := h.hub.Subscribe(context.Background(), 5, nil)
	require.NoError(t, err)
	defer h.hub.Cancel(sub)

	a := h.send(t, 5, 1)
	b := h.send(t, 5, 2)
	h.send(t, 6, 3) // other tag, must not arrive

	require.Equal(t, a.ID, recvOne(t, sub).ID)
	require.Equal(t, b.ID, recvOne(t, sub).ID)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err = sub.Next(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestBackfillThenLive(t *testing.T) {
	h := newHarness(t, Config{})
	a := h.send(t, 5, 1)
	b := h.send(t, 5, 2)

	sub, err := h.hub.Subscribe(context.Background(), 5, &model.Cursor{})
	require.NoError(t, err)
	defer h.hub.Cancel(sub)

	c := h.send(t, 5, 3)

	require.Equal(t, a.ID, recvOne(t, sub).ID)
	require.Equal(t, b.ID, recvOne(t, sub).ID)
	require.Equal(t, c.ID, recvOne(t, sub).ID)
}

func TestBackfillCursorSkipsDelivered(t *testing.T) {
	h := newHarness(t, Config{})
	a := h.send(t, 5, 1)
	b := h.send(t, 5, 2)

	since := model.CursorOf(a)
	sub, err := h.hub.Subscribe(context.Background(), 5, &since)
	require.NoError(t, err)
	defer h.hub.Cancel(sub)

	require.Equal(t, b.ID, recvOne(t, sub).ID)
}

func TestOrderingAcrossBackfillBoundary(t *testing.T) {
	h := newHarness(t, Config{})
	for i := 0; i < 20; i++ {
		h.send(t, 9, byte(i))
	}

	sub, err := h.hub.Subscribe(context.Background(), 9, &model.Cursor{})
	require.NoError(t, err)
	defer h.hub.Cancel(sub)

	for i := 20; i < 40; i++ {
		h.send(t, 9, byte(i))
	}

	var last model.Cursor
	for i := 0; i < 40; i++ {
		n := recvOne(t, sub)
		require.True(t, n.After(last), "delivery must be strictly increasing")
		last = model.CursorOf(n)
	}
}

func TestOverflowDropsOldest(t *testing.T) {
	h := newHarness(t, Config{QueueDepth: 2})
	sub, err := h.hub.Subscribe(context.Background(), 5, nil)
	require.NoError(t, err)
	defer h.hub.Cancel(sub)

	sent := make([]*model.Note, 10)
	for i := range sent {
		sent[i] = h.send(t, 5, byte(i))
	}

	// The subscriber sees the two newest; the rest overflowed.
	require.Equal(t, sent[8].ID, recvOne(t, sub).ID)
	require.Equal(t, sent[9].ID, recvOne(t, sub).ID)
	require.Equal(t, 8, sub.Overflow())
	require.EqualValues(t, 8, h.stats.Snapshot().OverflowCount)
}

func TestSubscriptionLimit(t *testing.T) {
	h := newHarness(t, Config{MaxSubscriptions: 2})

	s1, err := h.hub.Subscribe(context.Background(), 1, nil)
	require.NoError(t, err)
	s2, err := h.hub.Subscribe(context.Background(), 1, nil)
	require.NoError(t, err)

	_, err = h.hub.Subscribe(context.Background(), 1, nil)
	require.ErrorIs(t, err, model.ErrTooManySubscriptions)

	// Cancelling frees a slot.
	h.hub.Cancel(s1)
	s3, err := h.hub.Subscribe(context.Background(), 1, nil)
	require.NoError(t, err)

	h.hub.Cancel(s2)
	h.hub.Cancel(s3)
	require.Equal(t, 0, h.hub.ActiveSubscriptions())
}

func TestCancelEndsNext(t *testing.T) {
	h := newHarness(t, Config{})
	sub, err := h.hub.Subscribe(context.Background(), 5, nil)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := sub.Next(context.Background())
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	h.hub.Cancel(sub)

	select {
	case err := <-done:
		require.ErrorIs(t, err, ErrClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("Next did not return after Cancel")
	}
}

func TestCloseEndsAllSubscriptions(t *testing.T) {
	h := newHarness(t, Config{})
	sub, err := h.hub.Subscribe(context.Background(), 5, nil)
	require.NoError(t, err)

	h.hub.Close()

	_, err = sub.Next(context.Background())
	require.ErrorIs(t, err, ErrClosed)

	_, err = h.hub.Subscribe(context.Background(), 5, nil)
	require.ErrorIs(t, err, ErrClosed)
}

func TestNoGapBetweenBackfillAndLive(t *testing.T) {
	// Hammer the registration handshake: notes sent concurrently with
	// Subscribe must arrive exactly once, in order.
	for round := 0; round < 20; round++ {
		h := newHarness(t, Config{QueueDepth: 4096})
		before := h.send(t, 5, 0, byte(round))

		sendDone := make(chan struct{})
		go func() {
			for i := 1; i <= 30; i++ {
				h.send(t, 5, byte(i), byte(round))
			}
			close(sendDone)
		}()

		sub, err := h.hub.Subscribe(context.Background(), 5, &model.Cursor{})
		require.NoError(t, err)
		<-sendDone

		seen := make(map[model.NoteID]bool)
		var last model.Cursor
		for i := 0; i < 31; i++ {
			n := recvOne(t, sub)
			require.True(t, n.After(last))
			require.False(t, seen[n.ID])
			seen[n.ID] = true
			last = model.CursorOf(n)
		}
		require.True(t, seen[before.ID])
		h.hub.Cancel(sub)
	}
}
