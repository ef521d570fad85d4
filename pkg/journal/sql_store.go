package journal

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS journal (
	seq     INTEGER PRIMARY KEY AUTOINCREMENT,
	id      TEXT    NOT NULL,
	data    TEXT,
	deleted INTEGER NOT NULL DEFAULT 0
)`

// SQLStore keeps the journal in a SQLite table.
type SQLStore struct {
	db *sql.DB
}

var _ Store = (*SQLStore)(nil)

// OpenSQLStore opens the SQLite database named by dsn, for example a file
// path or "file::memory:", and creates the journal table if needed.
func OpenSQLStore(ctx context.Context, dsn string) (*SQLStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("error: cannot open journal database: %w", err)
	}
	// Every connection to an in-memory database sees its own copy.
	db.SetMaxOpenConns(1)
	s, err := NewSQLStore(ctx, db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewSQLStore uses an already open database. Close closes db.
func NewSQLStore(ctx context.Context, db *sql.DB) (*SQLStore, error) {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return nil, fmt.Errorf("error: cannot create journal table: %w", err)
	}
	return &SQLStore{db: db}, nil
}

func (s *SQLStore) Append(ctx context.Context, rec Record) error {
	if rec.ID == "" {
		return fmt.Errorf("%w: %q", ErrInvalidID, rec.ID)
	}
	var data sql.NullString
	deleted := 0
	if rec.Deleted {
		deleted = 1
	} else {
		data = sql.NullString{String: string(rec.Data), Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO journal (id, data, deleted) VALUES (?, ?, ?)`, rec.ID, data, deleted)
	if err != nil {
		return fmt.Errorf("error: cannot append journal record %s: %w", rec.ID, err)
	}
	return nil
}

func (s *SQLStore) Load(ctx context.Context) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, data, deleted FROM journal ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("error: failed to query journal: %w", err)
	}
	defer rows.Close()

	var recs []Record
	for rows.Next() {
		var (
			id      string
			data    sql.NullString
			deleted int
		)
		if err := rows.Scan(&id, &data, &deleted); err != nil {
			return nil, fmt.Errorf("error: failed to scan journal row: %w", err)
		}
		rec := Record{ID: id, Deleted: deleted != 0}
		if data.Valid {
			rec.Data = []byte(data.String)
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error: failed to iterate journal rows: %w", err)
	}
	return recs, nil
}

func (s *SQLStore) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM journal`); err != nil {
		return fmt.Errorf("error: cannot clear journal: %w", err)
	}
	return nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}
