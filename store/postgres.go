package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alimasry/go-collab-ot/ot"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS documents (
	id         TEXT PRIMARY KEY,
	content    TEXT NOT NULL,
	version    INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS operations (
	doc_id  TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
	version INTEGER NOT NULL,
	op      JSONB NOT NULL,
	PRIMARY KEY (doc_id, version)
);`

// PostgresStore keeps documents in PostgreSQL through a pgx connection
// pool. Operations are stored as JSONB in their wire form.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to url and creates the schema if missing.
func NewPostgresStore(ctx context.Context, url string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: schema: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Create(ctx context.Context, id, content string) error {
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO documents (id, content) VALUES ($1, $2) ON CONFLICT (id) DO NOTHING`, id, content)
	if err != nil {
		return fmt.Errorf("postgres: create %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %q", ErrExists, id)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*DocumentInfo, error) {
	var info DocumentInfo
	err := s.pool.QueryRow(ctx,
		`SELECT id, content, version, created_at, updated_at FROM documents WHERE id = $1`, id).
		Scan(&info.ID, &info.Content, &info.Version, &info.CreatedAt, &info.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get %q: %w", id, err)
	}
	return &info, nil
}

func (s *PostgresStore) List(ctx context.Context) ([]DocumentInfo, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, content, version, created_at, updated_at FROM documents ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list: %w", err)
	}
	docs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (DocumentInfo, error) {
		var info DocumentInfo
		err := row.Scan(&info.ID, &info.Content, &info.Version, &info.CreatedAt, &info.UpdatedAt)
		return info, err
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: list: %w", err)
	}
	return docs, nil
}

func (s *PostgresStore) UpdateContent(ctx context.Context, id, content string, version int) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE documents SET content = $2, version = $3, updated_at = now() WHERE id = $1`,
		id, content, version)
	if err != nil {
		return fmt.Errorf("postgres: update %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	return nil
}

// lockLastVersion locks the document row for the rest of tx and returns
// the highest stored op version.
func lockLastVersion(ctx context.Context, tx pgx.Tx, id string) (int, error) {
	var one int
	err := tx.QueryRow(ctx, `SELECT 1 FROM documents WHERE id = $1 FOR UPDATE`, id).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	if err != nil {
		return 0, fmt.Errorf("postgres: lock %q: %w", id, err)
	}
	var last int
	if err := tx.QueryRow(ctx,
		`SELECT COALESCE(MAX(version), 0) FROM operations WHERE doc_id = $1`, id).Scan(&last); err != nil {
		return 0, fmt.Errorf("postgres: last version of %q: %w", id, err)
	}
	return last, nil
}

func (s *PostgresStore) AppendOperation(ctx context.Context, id string, op ot.TextOperation, version int) error {
	data, err := ot.Serialize(op)
	if err != nil {
		return err
	}
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		last, err := lockLastVersion(ctx, tx, id)
		if err != nil {
			return err
		}
		if version != last+1 {
			return fmt.Errorf("%w: %q got version %d, want %d", ErrConflict, id, version, last+1)
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO operations (doc_id, version, op) VALUES ($1, $2, $3)`, id, version, string(data))
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("%w: %q already has version %d", ErrConflict, id, version)
		}
		if err != nil {
			return fmt.Errorf("postgres: append %q v%d: %w", id, version, err)
		}
		_, err = tx.Exec(ctx, `UPDATE documents SET updated_at = now() WHERE id = $1`, id)
		return err
	})
}

func (s *PostgresStore) GetOperations(ctx context.Context, id string, fromVersion int) ([]ot.TextOperation, error) {
	var ops []ot.TextOperation
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		last, err := lockLastVersion(ctx, tx, id)
		if err != nil {
			return err
		}
		if fromVersion < 0 || fromVersion > last {
			return fmt.Errorf("%w: %d", ot.ErrInvalidRevision, fromVersion)
		}
		rows, err := tx.Query(ctx,
			`SELECT op::text FROM operations WHERE doc_id = $1 AND version > $2 ORDER BY version`, id, fromVersion)
		if err != nil {
			return fmt.Errorf("postgres: operations of %q: %w", id, err)
		}
		ops, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (ot.TextOperation, error) {
			var data string
			if err := row.Scan(&data); err != nil {
				return ot.TextOperation{}, err
			}
			return ot.Deserialize([]byte(data))
		})
		if err != nil {
			return fmt.Errorf("postgres: operations of %q: %w", id, err)
		}
		return nil
	})
	return ops, err
}

// Delete removes the document; its operations go with it by cascade.
func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM documents WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("postgres: delete %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	return nil
}

// Close closes the connection pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
