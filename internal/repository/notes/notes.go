package notes

import (
	"context"
	"fmt"
	"strings"

	"github.com/0xMiden/miden-note-transport/internal/model"
)

// SchemaVersion is the storage layout version. Backends refuse to open
// a store written by a newer layout.
const SchemaVersion = 1

type (
	// Store is the persistence port. All operations are durable before
	// returning success, to the backing engine's own discipline.
	Store interface {
		// Insert stores the note if no record with its id exists.
		// Returns false when the id was already present; the stored
		// record is left untouched in that case.
		Insert(ctx context.Context, note *model.Note) (inserted bool, err error)

		// QueryByTag returns up to limit notes with the given tag lying
		// strictly after the cursor, ordered by (created_at ASC, id ASC).
		QueryByTag(ctx context.Context, tag uint32, cursor model.Cursor, limit int) ([]*model.Note, error)

		// DeleteOlderThan removes every note with created_at <= cutoffMS
		// and returns the number removed.
		DeleteOlderThan(ctx context.Context, cutoffMS int64) (int64, error)

		// CountByTag returns the number of stored notes with the tag.
		CountByTag(ctx context.Context, tag uint32) (int64, error)

		// CountTotal returns the total number of stored notes.
		CountTotal(ctx context.Context) (int64, error)

		// CountTags returns the number of distinct tags stored.
		CountTags(ctx context.Context) (int64, error)

		// MaxCreatedAt returns the largest created_at among stored
		// notes, or 0 when the store is empty. Seeds the ingestion clock.
		MaxCreatedAt(ctx context.Context) (int64, error)

		// Setting reads a scalar setting; empty string when unset.
		Setting(ctx context.Context, key string) (string, error)

		// PutSetting writes a scalar setting.
		PutSetting(ctx context.Context, key, value string) error

		Close(ctx context.Context) error
	}
)

// Open selects a backend from the database URL:
//
//	:memory: or mem://      in-process store
//	sqlite://path, bare path embedded SQLite
//	mongodb://host          MongoDB (database name is fixed)
//	redis://host            Redis
func Open(ctx context.Context, url string) (Store, error) {
	switch {
	case url == "" || url == ":memory:" || strings.HasPrefix(url, "mem://"):
		return NewMemoryStore(), nil
	case strings.HasPrefix(url, "sqlite://"):
		return OpenSqliteStore(ctx, strings.TrimPrefix(url, "sqlite://"))
	case strings.HasPrefix(url, "mongodb://") || strings.HasPrefix(url, "mongodb+srv://"):
		return OpenMongoStore(ctx, url)
	case strings.HasPrefix(url, "redis://") || strings.HasPrefix(url, "rediss://"):
		return OpenRedisStore(ctx, url)
	case !strings.Contains(url, "://"):
		// Bare filesystem path.
		return OpenSqliteStore(ctx, url)
	default:
		return nil, fmt.Errorf("unsupported database url %q", url)
	}
}
