// Package hub maintains the per-tag subscriber registry and delivers
// newly ingested notes to live subscribers with bounded buffering.
package hub

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/0xMiden/miden-note-transport/internal/model"
	"github.com/0xMiden/miden-note-transport/internal/service/stats"
	"github.com/0xMiden/miden-note-transport/internal/utils/log"
)

const (
	DefaultQueueDepth       = 128
	DefaultMaxSubscriptions = 10000
)

// ErrClosed ends a subscription cleanly: the client half-closed, the
// subscription was cancelled, or the server is shutting down.
var ErrClosed = errors.New("subscription closed")

type (
	// Sequencer is the ingestion engine's clock surface. LastAssigned
	// anchors a subscription's live/backfill boundary; WaitDurable
	// makes that boundary fully covered by the store before backfill.
	Sequencer interface {
		LastAssigned() int64
		WaitDurable(ctx context.Context, ts int64) error
	}

	// Fetcher is the fetch engine's paging surface, used for backfill.
	Fetcher interface {
		Fetch(ctx context.Context, tag uint32, cursor model.Cursor, limit int) ([]*model.Note, model.Cursor, error)
	}

	Config struct {
		QueueDepth       int
		MaxSubscriptions int
	}

	Hub struct {
		fetcher Fetcher
		seq     Sequencer
		stats   *stats.Collector
		cfg     Config

		// mu is the registry lock: shared for publish, exclusive for
		// register/unregister. The live-start timestamp is taken while
		// holding it exclusively, so no ingestion can be both missed by
		// backfill and missed by live delivery.
		mu     sync.RWMutex
		subs   map[uint32]map[uint64]*Subscription
		nextID uint64
		count  int
		closed bool
	}

	// Subscription is one live stream over a single tag. Notes arrive
	// in strictly increasing (created_at, id) order: a backfilled
	// prefix up to the live-start timestamp, then live notes after it.
	Subscription struct {
		hub       *Hub
		id        uint64
		tag       uint32
		liveStart int64

		qmu         sync.Mutex
		queue       []*model.Note
		pending     []*model.Note // live notes held back while backfilling
		backfilling bool
		overflow    int
		notify      chan struct{}
		done        chan struct{}
		closeOnce   sync.Once
	}
)

func New(fetcher Fetcher, seq Sequencer, collector *stats.Collector, cfg Config) *Hub {
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = DefaultQueueDepth
	}
	if cfg.MaxSubscriptions <= 0 {
		cfg.MaxSubscriptions = DefaultMaxSubscriptions
	}
	return &Hub{
		fetcher: fetcher,
		seq:     seq,
		stats:   collector,
		cfg:     cfg,
		subs:    make(map[uint32]map[uint64]*Subscription),
	}
}

// Subscribe registers a subscriber for tag. When since is non-nil the
// stored notes after it are replayed before live delivery begins. The
// caller must Cancel the subscription when done.
func (h *Hub) Subscribe(ctx context.Context, tag uint32, since *model.Cursor) (*Subscription, error) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, ErrClosed
	}
	if h.count >= h.cfg.MaxSubscriptions {
		h.mu.Unlock()
		return nil, model.ErrTooManySubscriptions
	}
	h.nextID++
	s := &Subscription{
		hub:         h,
		id:          h.nextID,
		tag:         tag,
		liveStart:   h.seq.LastAssigned(),
		backfilling: since != nil,
		notify:      make(chan struct{}, 1),
		done:        make(chan struct{}),
	}
	tagSubs := h.subs[tag]
	if tagSubs == nil {
		tagSubs = make(map[uint64]*Subscription)
		h.subs[tag] = tagSubs
	}
	tagSubs[s.id] = s
	h.count++
	h.mu.Unlock()
	h.stats.SubscriberAdded()

	if since != nil {
		if err := h.backfill(ctx, s, *since); err != nil {
			h.Cancel(s)
			return nil, err
		}
	}
	return s, nil
}

// backfill replays stored notes in (since, liveStart] into the queue,
// then releases any live notes that arrived meanwhile.
func (h *Hub) backfill(ctx context.Context, s *Subscription, since model.Cursor) error {
	// Everything at or before liveStart must be durable before we read.
	if err := h.seq.WaitDurable(ctx, s.liveStart); err != nil {
		return err
	}

	cursor := since
	for {
		page, next, err := h.fetcher.Fetch(ctx, s.tag, cursor, 0)
		if err != nil {
			return err
		}
		caughtUp := true
		for _, n := range page {
			if n.CreatedAt > s.liveStart {
				break
			}
			s.enqueue(n, true)
		}
		if len(page) > 0 && page[len(page)-1].CreatedAt <= s.liveStart {
			caughtUp = false
			cursor = next
		}
		if caughtUp {
			break
		}
	}

	s.qmu.Lock()
	for _, n := range s.pending {
		s.push(n)
	}
	s.pending = nil
	s.backfilling = false
	s.qmu.Unlock()
	s.signal()
	return nil
}

// Publish hands a newly ingested note to every subscriber of its tag.
// Never blocks: full queues drop their oldest entry.
func (h *Hub) Publish(note *model.Note) {
	h.mu.RLock()
	for _, s := range h.subs[note.Tag] {
		s.enqueue(note, false)
	}
	h.mu.RUnlock()
}

// Cancel removes the subscription and frees its queue. Idempotent.
func (h *Hub) Cancel(s *Subscription) {
	h.mu.Lock()
	tagSubs := h.subs[s.tag]
	if _, ok := tagSubs[s.id]; ok {
		delete(tagSubs, s.id)
		if len(tagSubs) == 0 {
			delete(h.subs, s.tag)
		}
		h.count--
		h.mu.Unlock()
		h.stats.SubscriberRemoved()
	} else {
		h.mu.Unlock()
	}
	s.close()
}

// Close terminates every subscription; used at server shutdown. New
// Subscribe calls fail with ErrClosed afterwards.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	var all []*Subscription
	for _, tagSubs := range h.subs {
		for _, s := range tagSubs {
			all = append(all, s)
		}
	}
	h.subs = make(map[uint32]map[uint64]*Subscription)
	removed := h.count
	h.count = 0
	h.mu.Unlock()

	for _, s := range all {
		s.close()
		h.stats.SubscriberRemoved()
	}
	if removed > 0 {
		log.Info("closed subscriptions on shutdown", zap.Int("count", removed))
	}
}

// ActiveSubscriptions reports the registry size.
func (h *Hub) ActiveSubscriptions() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.count
}

// enqueue adds a note to the subscription. Live notes at or before the
// live-start timestamp are dropped: the backfill covers them.
func (s *Subscription) enqueue(n *model.Note, fromBackfill bool) {
	s.qmu.Lock()
	if !fromBackfill {
		if n.CreatedAt <= s.liveStart {
			s.qmu.Unlock()
			return
		}
		if s.backfilling {
			s.pending = append(s.pending, n)
			if len(s.pending) > s.hub.cfg.QueueDepth {
				s.pending = s.pending[1:]
				s.overflow++
				s.hub.stats.AddOverflow(1)
			}
			s.qmu.Unlock()
			return
		}
	}
	s.push(n)
	s.qmu.Unlock()
	s.signal()
}

// push appends under qmu, applying the drop-oldest overflow policy.
func (s *Subscription) push(n *model.Note) {
	s.queue = append(s.queue, n)
	if len(s.queue) > s.hub.cfg.QueueDepth {
		s.queue = s.queue[1:]
		s.overflow++
		s.hub.stats.AddOverflow(1)
	}
}

func (s *Subscription) signal() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *Subscription) close() {
	s.closeOnce.Do(func() { close(s.done) })
}

// Next blocks until a note is available, the context ends, or the
// subscription is closed (ErrClosed).
func (s *Subscription) Next(ctx context.Context) (*model.Note, error) {
	for {
		s.qmu.Lock()
		if !s.backfilling && len(s.queue) > 0 {
			n := s.queue[0]
			s.queue = s.queue[1:]
			s.qmu.Unlock()
			return n, nil
		}
		s.qmu.Unlock()

		select {
		case <-s.notify:
		case <-s.done:
			return nil, ErrClosed
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Overflow reports how many notes this subscription has dropped.
func (s *Subscription) Overflow() int {
	s.qmu.Lock()
	defer s.qmu.Unlock()
	return s.overflow
}

// Tag returns the subscribed tag.
func (s *Subscription) Tag() uint32 {
	return s.tag
}
