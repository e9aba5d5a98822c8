// Package ingest implements the note ingestion engine: validation,
// identifier derivation, monotonic timestamp assignment, durable
// insert, and ordered hand-off to the subscription hub.
package ingest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/0xMiden/miden-note-transport/internal/model"
	"github.com/0xMiden/miden-note-transport/internal/repository/notes"
	"github.com/0xMiden/miden-note-transport/internal/service/stats"
)

const DefaultMaxInFlight = 1000

type (
	// Publisher receives every newly ingested note, in created_at
	// order. Publish must not block: queue overflow is the publisher's
	// concern, never the ingester's.
	Publisher interface {
		Publish(*model.Note)
	}

	Config struct {
		// MaxInFlight bounds concurrently processed ingestions.
		MaxInFlight int
		// Now is the server clock; defaults to time.Now.
		Now func() time.Time
	}

	Engine struct {
		store     notes.Store
		stats     *stats.Collector
		publisher Publisher
		now       func() time.Time
		sem       chan struct{}

		// mu orders timestamp assignment. Held for O(1) work only,
		// never across I/O.
		mu           sync.Mutex
		lastAssigned int64

		// pubMu guards the ordered pipeline of assigned-but-not-yet-
		// durable ingestions. Entries are appended in assignment order
		// (strictly increasing created_at) and retired from the front,
		// so publishes happen in created_at order and WaitDurable can
		// watch the head.
		pubMu    sync.Mutex
		pipeline []*pipelineEntry
		headCh   chan struct{} // closed and replaced when the head advances
		draining bool
	}

	pipelineEntry struct {
		ts   int64
		done bool
		note *model.Note // nil when the insert failed or was a duplicate
	}
)

func New(store notes.Store, collector *stats.Collector, cfg Config) *Engine {
	maxInFlight := cfg.MaxInFlight
	if maxInFlight <= 0 {
		maxInFlight = DefaultMaxInFlight
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Engine{
		store:  store,
		stats:  collector,
		now:    now,
		sem:    make(chan struct{}, maxInFlight),
		headCh: make(chan struct{}),
	}
}

// SetPublisher wires the subscription hub. Must be called before the
// first Ingest.
func (e *Engine) SetPublisher(p Publisher) {
	e.publisher = p
}

// Init seeds the timestamp clock from the store so assigned timestamps
// stay monotonic across restarts.
func (e *Engine) Init(ctx context.Context) error {
	maxTS, err := e.store.MaxCreatedAt(ctx)
	if err != nil {
		return fmt.Errorf("seed ingestion clock: %w", err)
	}
	e.mu.Lock()
	e.lastAssigned = maxTS
	if wall := e.now().UnixMilli(); wall > e.lastAssigned {
		e.lastAssigned = wall
	}
	e.mu.Unlock()
	return nil
}

// LastAssigned returns the most recently assigned created_at. The hub
// reads it while holding its registry lock to anchor backfill.
func (e *Engine) LastAssigned() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastAssigned
}

// Ingest validates and stores a note, returning its id. Re-submission
// of an already-stored note is an idempotent no-op returning the
// existing id.
func (e *Engine) Ingest(ctx context.Context, note *model.Note) (model.NoteID, error) {
	var zero model.NoteID

	if err := note.Validate(); err != nil {
		return zero, err
	}
	note.ID = model.DeriveID(note.Header, note.Details)

	select {
	case e.sem <- struct{}{}:
	default:
		return zero, model.ErrIngestBusy
	}
	defer func() { <-e.sem }()

	entry := e.assign(note)

	inserted, err := e.store.Insert(ctx, note)
	if err != nil {
		e.complete(entry, nil)
		return zero, err
	}
	if inserted {
		e.stats.RecordIngested(len(note.Header) + len(note.Details))
		e.complete(entry, note)
	} else {
		// Already present; keep the stored timestamp authoritative.
		e.complete(entry, nil)
	}
	return note.ID, nil
}

// assign stamps the note with a monotonically increasing created_at and
// enqueues a pipeline entry in assignment order.
func (e *Engine) assign(note *model.Note) *pipelineEntry {
	e.mu.Lock()
	// Clamp against wall-clock regression: assignments strictly increase.
	ts := e.now().UnixMilli()
	if ts <= e.lastAssigned {
		ts = e.lastAssigned + 1
	}
	e.lastAssigned = ts
	note.CreatedAt = ts

	entry := &pipelineEntry{ts: ts}
	e.pubMu.Lock()
	e.pipeline = append(e.pipeline, entry)
	e.pubMu.Unlock()
	e.mu.Unlock()
	return entry
}

// complete marks an entry durable (or failed) and drains the pipeline
// head, publishing retired notes in created_at order. A single drainer
// runs at a time so batches cannot interleave.
func (e *Engine) complete(entry *pipelineEntry, publish *model.Note) {
	e.pubMu.Lock()
	entry.done = true
	entry.note = publish
	if e.draining {
		e.pubMu.Unlock()
		return
	}
	e.draining = true
	for {
		var batch []*model.Note
		advanced := false
		for len(e.pipeline) > 0 && e.pipeline[0].done {
			head := e.pipeline[0]
			e.pipeline = e.pipeline[1:]
			advanced = true
			if head.note != nil {
				batch = append(batch, head.note)
			}
		}
		if advanced {
			close(e.headCh)
			e.headCh = make(chan struct{})
		}
		if len(batch) == 0 {
			e.draining = false
			e.pubMu.Unlock()
			return
		}
		e.pubMu.Unlock()

		if e.publisher != nil {
			for _, n := range batch {
				e.publisher.Publish(n)
			}
		}
		e.pubMu.Lock()
	}
}

// WaitDurable blocks until every ingestion assigned a created_at <= ts
// has completed its insert (successfully or not). The hub calls this
// before backfilling so a backfill upper bound is fully covered by the
// store.
func (e *Engine) WaitDurable(ctx context.Context, ts int64) error {
	for {
		e.pubMu.Lock()
		pending := len(e.pipeline) > 0 && e.pipeline[0].ts <= ts
		ch := e.headCh
		e.pubMu.Unlock()
		if !pending {
			return nil
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
