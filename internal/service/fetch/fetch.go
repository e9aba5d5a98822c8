// Package fetch implements paged tag queries with composite
// (created_at, id) cursor semantics.
package fetch

import (
	"context"
	"time"

	"github.com/0xMiden/miden-note-transport/internal/model"
	"github.com/0xMiden/miden-note-transport/internal/repository/notes"
)

const (
	DefaultMaxPage = 256
	DefaultLimit   = 64
)

// maxID is the largest note id; used to make a timestamp-only floor
// exclusive of its own millisecond.
var maxID = func() model.NoteID {
	var id model.NoteID
	for i := range id {
		id[i] = 0xff
	}
	return id
}()

type (
	Config struct {
		// MaxPage caps the page size. Zero means DefaultMaxPage.
		MaxPage int
		// Retention bounds visibility: notes older than this are not
		// returned even if the scavenger has not removed them yet.
		Retention time.Duration
		// Now is the server clock; defaults to time.Now.
		Now func() time.Time
	}

	Engine struct {
		store     notes.Store
		maxPage   int
		retention time.Duration
		now       func() time.Time
	}
)

func New(store notes.Store, cfg Config) *Engine {
	maxPage := cfg.MaxPage
	if maxPage <= 0 {
		maxPage = DefaultMaxPage
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Engine{
		store:     store,
		maxPage:   maxPage,
		retention: cfg.Retention,
		now:       now,
	}
}

// MaxPage returns the configured page cap.
func (e *Engine) MaxPage() int {
	return e.maxPage
}

// Fetch returns up to limit notes with the tag strictly after cursor,
// in (created_at ASC, id ASC) order, and the cursor naming the last
// returned note. When the page is empty the request cursor is echoed,
// so clients iterate by feeding the result back.
func (e *Engine) Fetch(ctx context.Context, tag uint32, cursor model.Cursor, limit int) ([]*model.Note, model.Cursor, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > e.maxPage {
		limit = e.maxPage
	}

	effective := cursor
	if e.retention > 0 {
		// Notes past retention stay invisible between scavenger sweeps.
		floor := model.Cursor{
			CreatedAt: e.now().Add(-e.retention).UnixMilli() - 1,
			ID:        maxID,
		}
		if floor.Compare(effective) > 0 {
			effective = floor
		}
	}

	page, err := e.store.QueryByTag(ctx, tag, effective, limit)
	if err != nil {
		return nil, cursor, err
	}
	next := cursor
	if len(page) > 0 {
		next = model.CursorOf(page[len(page)-1])
	}
	return page, next, nil
}
