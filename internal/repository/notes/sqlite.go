package notes

import (
	"context"
	"fmt"
	"runtime"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/0xMiden/miden-note-transport/internal/model"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS notes (
	id         BLOB PRIMARY KEY,
	tag        INTEGER NOT NULL,
	header     BLOB NOT NULL,
	details    BLOB NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS notes_tag_created_at ON notes (tag, created_at, id);
CREATE TABLE IF NOT EXISTS settings (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);
`

type (
	// SqliteStore is the embedded durable backend. Connections use WAL
	// journaling and a busy timeout; writes are serialized by SQLite.
	SqliteStore struct {
		pool *sqlitex.Pool
	}
)

// OpenSqliteStore opens (creating if needed) the database file at path
// and ensures the schema.
func OpenSqliteStore(ctx context.Context, path string) (*SqliteStore, error) {
	poolSize := runtime.NumCPU()
	if poolSize < 4 {
		poolSize = 4
	}
	pool, err := sqlitex.NewPool(path, sqlitex.PoolOptions{
		PoolSize: poolSize,
		PrepareConn: func(conn *sqlite.Conn) error {
			for _, pragma := range []string{
				"PRAGMA journal_mode=WAL;",
				"PRAGMA synchronous=NORMAL;",
				"PRAGMA busy_timeout=5000;",
			} {
				if err := sqlitex.ExecuteTransient(conn, pragma, nil); err != nil {
					return err
				}
			}
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}

	s := &SqliteStore{pool: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *SqliteStore) migrate(ctx context.Context) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("sqlite migrate: %w", err)
	}
	defer s.pool.Put(conn)

	if err := sqlitex.ExecuteScript(conn, sqliteSchema, nil); err != nil {
		return fmt.Errorf("sqlite migrate: %w", err)
	}

	var version int64
	err = sqlitex.Execute(conn, `SELECT version FROM schema_version LIMIT 1`, &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			version = stmt.ColumnInt64(0)
			return nil
		},
	})
	if err != nil {
		return fmt.Errorf("sqlite migrate: %w", err)
	}
	switch {
	case version == 0:
		err = sqlitex.Execute(conn, `INSERT INTO schema_version (version) VALUES (?)`, &sqlitex.ExecOptions{
			Args: []any{SchemaVersion},
		})
		if err != nil {
			return fmt.Errorf("sqlite migrate: %w", err)
		}
	case version > SchemaVersion:
		return fmt.Errorf("sqlite schema version %d is newer than supported %d", version, SchemaVersion)
	}
	return nil
}

// withConn runs f on a pooled connection, translating pool failures
// into the port's transient-error sentinel.
func (s *SqliteStore) withConn(ctx context.Context, op string, f func(conn *sqlite.Conn) error) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("sqlite %s: %w: %w", op, model.ErrUnavailable, err)
	}
	defer s.pool.Put(conn)

	if err := f(conn); err != nil {
		return fmt.Errorf("sqlite %s: %w: %w", op, model.ErrUnavailable, err)
	}
	return nil
}

func (s *SqliteStore) Insert(ctx context.Context, note *model.Note) (bool, error) {
	var inserted bool
	err := s.withConn(ctx, "insert", func(conn *sqlite.Conn) error {
		err := sqlitex.Execute(conn,
			`INSERT INTO notes (id, tag, header, details, created_at) VALUES (?, ?, ?, ?, ?)
			 ON CONFLICT (id) DO NOTHING`,
			&sqlitex.ExecOptions{
				Args: []any{note.ID[:], int64(note.Tag), note.Header, note.Details, note.CreatedAt},
			})
		if err != nil {
			return err
		}
		inserted = conn.Changes() == 1
		return nil
	})
	return inserted, err
}

func (s *SqliteStore) QueryByTag(ctx context.Context, tag uint32, cursor model.Cursor, limit int) ([]*model.Note, error) {
	var out []*model.Note
	err := s.withConn(ctx, "query", func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn,
			`SELECT id, tag, header, details, created_at FROM notes
			 WHERE tag = ? AND (created_at > ? OR (created_at = ? AND id > ?))
			 ORDER BY created_at ASC, id ASC
			 LIMIT ?`,
			&sqlitex.ExecOptions{
				Args: []any{int64(tag), cursor.CreatedAt, cursor.CreatedAt, cursor.ID[:], limit},
				ResultFunc: func(stmt *sqlite.Stmt) error {
					n, err := scanNote(stmt)
					if err != nil {
						return err
					}
					out = append(out, n)
					return nil
				},
			})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func scanNote(stmt *sqlite.Stmt) (*model.Note, error) {
	n := &model.Note{}
	if got := stmt.ColumnLen(0); got != model.IDSize {
		return nil, fmt.Errorf("malformed note id of %d bytes", got)
	}
	stmt.ColumnBytes(0, n.ID[:])
	n.Tag = uint32(stmt.ColumnInt64(1))
	n.Header = make([]byte, stmt.ColumnLen(2))
	stmt.ColumnBytes(2, n.Header)
	n.Details = make([]byte, stmt.ColumnLen(3))
	stmt.ColumnBytes(3, n.Details)
	n.CreatedAt = stmt.ColumnInt64(4)
	return n, nil
}

func (s *SqliteStore) DeleteOlderThan(ctx context.Context, cutoffMS int64) (int64, error) {
	var deleted int64
	err := s.withConn(ctx, "delete", func(conn *sqlite.Conn) error {
		err := sqlitex.Execute(conn, `DELETE FROM notes WHERE created_at <= ?`, &sqlitex.ExecOptions{
			Args: []any{cutoffMS},
		})
		if err != nil {
			return err
		}
		deleted = int64(conn.Changes())
		return nil
	})
	return deleted, err
}

func (s *SqliteStore) count(ctx context.Context, query string, args ...any) (int64, error) {
	var count int64
	err := s.withConn(ctx, "count", func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
			Args: args,
			ResultFunc: func(stmt *sqlite.Stmt) error {
				count = stmt.ColumnInt64(0)
				return nil
			},
		})
	})
	return count, err
}

func (s *SqliteStore) CountByTag(ctx context.Context, tag uint32) (int64, error) {
	return s.count(ctx, `SELECT COUNT(*) FROM notes WHERE tag = ?`, int64(tag))
}

func (s *SqliteStore) CountTotal(ctx context.Context) (int64, error) {
	return s.count(ctx, `SELECT COUNT(*) FROM notes`)
}

func (s *SqliteStore) CountTags(ctx context.Context) (int64, error) {
	return s.count(ctx, `SELECT COUNT(DISTINCT tag) FROM notes`)
}

func (s *SqliteStore) MaxCreatedAt(ctx context.Context) (int64, error) {
	return s.count(ctx, `SELECT COALESCE(MAX(created_at), 0) FROM notes`)
}

func (s *SqliteStore) Setting(ctx context.Context, key string) (string, error) {
	var value string
	err := s.withConn(ctx, "setting", func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `SELECT value FROM settings WHERE key = ?`, &sqlitex.ExecOptions{
			Args: []any{key},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				value = stmt.ColumnText(0)
				return nil
			},
		})
	})
	return value, err
}

func (s *SqliteStore) PutSetting(ctx context.Context, key, value string) error {
	return s.withConn(ctx, "put setting", func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn,
			`INSERT INTO settings (key, value) VALUES (?, ?)
			 ON CONFLICT (key) DO UPDATE SET value = excluded.value`,
			&sqlitex.ExecOptions{Args: []any{key, value}})
	})
}

func (s *SqliteStore) Close(context.Context) error {
	return s.pool.Close()
}
