package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/alimasry/go-collab-ot/ot"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS documents (
	id         TEXT PRIMARY KEY,
	content    TEXT NOT NULL,
	version    INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS operations (
	doc_id  TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
	version INTEGER NOT NULL,
	op      TEXT NOT NULL,
	PRIMARY KEY (doc_id, version)
);`

// SQLiteStore keeps documents in a SQLite database. Operations are stored
// in their JSON wire form.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if needed) the database at path. Use
// ":memory:" for a throwaway database.
func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	// Pragmas are per connection and every connection to ":memory:" is a
	// separate database, so the pool holds exactly one.
	db.SetMaxOpenConns(1)

	for _, p := range []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 10000",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.ExecContext(ctx, p); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite: %s: %w", p, err)
		}
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Create(ctx context.Context, id, content string) error {
	now := time.Now().UnixMilli()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO documents (id, content, version, created_at, updated_at)
		 VALUES (?, ?, 0, ?, ?) ON CONFLICT(id) DO NOTHING`,
		id, content, now, now)
	if err != nil {
		return fmt.Errorf("sqlite: create %q: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %q", ErrExists, id)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*DocumentInfo, error) {
	var (
		info             DocumentInfo
		created, updated int64
	)
	if err := row.Scan(&info.ID, &info.Content, &info.Version, &created, &updated); err != nil {
		return nil, err
	}
	info.CreatedAt = time.UnixMilli(created)
	info.UpdatedAt = time.UnixMilli(updated)
	return &info, nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*DocumentInfo, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, content, version, created_at, updated_at FROM documents WHERE id = ?`, id)
	info, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: get %q: %w", id, err)
	}
	return info, nil
}

func (s *SQLiteStore) List(ctx context.Context) ([]DocumentInfo, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, content, version, created_at, updated_at FROM documents ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list: %w", err)
	}
	defer rows.Close()

	var result []DocumentInfo
	for rows.Next() {
		info, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: list: %w", err)
		}
		result = append(result, *info)
	}
	return result, rows.Err()
}

func (s *SQLiteStore) UpdateContent(ctx context.Context, id, content string, version int) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE documents SET content = ?, version = ?, updated_at = ? WHERE id = ?`,
		content, version, time.Now().UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("sqlite: update %q: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	return nil
}

func (s *SQLiteStore) AppendOperation(ctx context.Context, id string, op ot.TextOperation, version int) error {
	data, err := ot.Serialize(op)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin: %w", err)
	}
	defer tx.Rollback()

	last, err := lastVersion(ctx, tx, id)
	if err != nil {
		return err
	}
	if version != last+1 {
		return fmt.Errorf("%w: %q got version %d, want %d", ErrConflict, id, version, last+1)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO operations (doc_id, version, op) VALUES (?, ?, ?)`, id, version, string(data)); err != nil {
		return fmt.Errorf("sqlite: append %q v%d: %w", id, version, err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE documents SET updated_at = ? WHERE id = ?`, time.Now().UnixMilli(), id); err != nil {
		return fmt.Errorf("sqlite: append %q v%d: %w", id, version, err)
	}
	return tx.Commit()
}

// lastVersion returns the highest stored op version of a document, failing
// with ErrNotFound when the document does not exist.
func lastVersion(ctx context.Context, tx *sql.Tx, id string) (int, error) {
	var last sql.NullInt64
	err := tx.QueryRowContext(ctx,
		`SELECT (SELECT MAX(version) FROM operations WHERE doc_id = d.id) FROM documents d WHERE d.id = ?`,
		id).Scan(&last)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	if err != nil {
		return 0, fmt.Errorf("sqlite: last version of %q: %w", id, err)
	}
	return int(last.Int64), nil
}

func (s *SQLiteStore) GetOperations(ctx context.Context, id string, fromVersion int) ([]ot.TextOperation, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("sqlite: begin: %w", err)
	}
	defer tx.Rollback()

	last, err := lastVersion(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if fromVersion < 0 || fromVersion > last {
		return nil, fmt.Errorf("%w: %d", ot.ErrInvalidRevision, fromVersion)
	}

	rows, err := tx.QueryContext(ctx,
		`SELECT op FROM operations WHERE doc_id = ? AND version > ? ORDER BY version`, id, fromVersion)
	if err != nil {
		return nil, fmt.Errorf("sqlite: operations of %q: %w", id, err)
	}
	defer rows.Close()

	ops := make([]ot.TextOperation, 0, last-fromVersion)
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("sqlite: operations of %q: %w", id, err)
		}
		op, err := ot.Deserialize([]byte(data))
		if err != nil {
			return nil, fmt.Errorf("sqlite: operations of %q: %w", id, err)
		}
		ops = append(ops, op)
	}
	return ops, rows.Err()
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM operations WHERE doc_id = ?`, id); err != nil {
		return fmt.Errorf("sqlite: delete %q: %w", id, err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("sqlite: delete %q: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	return tx.Commit()
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
