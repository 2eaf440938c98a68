package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/lib/pq"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	s := &PostgresStore{db: db}
	if err := s.migrate(context.Background()); err != nil {
		return nil, err
	}
	return s, nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	// Advisory lock keeps the search and indexer services from migrating concurrently.
	const lockID = 734120551

	var acquired bool
	err := s.db.QueryRowContext(ctx, `SELECT pg_try_advisory_lock($1)`, lockID).Scan(&acquired)
	if err != nil {
		return fmt.Errorf("failed to acquire migration lock: %w", err)
	}
	if !acquired {
		// Another service is running migrations; wait briefly and skip
		time.Sleep(2 * time.Second)
		return nil
	}
	defer func() {
		_, _ = s.db.ExecContext(context.Background(), `SELECT pg_advisory_unlock($1)`, lockID)
	}()

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS sources (
			id UUID PRIMARY KEY,
			name TEXT UNIQUE NOT NULL,
			content TEXT NOT NULL,
			updated_at TIMESTAMPTZ DEFAULT now()
		);`,
		`CREATE TABLE IF NOT EXISTS documents (
			ordinal INT PRIMARY KEY,
			id UUID NOT NULL,
			source TEXT NOT NULL,
			chunk INT NOT NULL,
			start_line INT NOT NULL,
			end_line INT NOT NULL,
			text TEXT NOT NULL
		);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *PostgresStore) SaveSource(ctx context.Context, name, content string) (Source, error) {
	src := Source{ID: uuid.New(), Name: name, Content: content}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO sources(id, name, content, updated_at)
		VALUES($1,$2,$3,now())
		ON CONFLICT (name) DO UPDATE SET content=excluded.content, updated_at=excluded.updated_at
		RETURNING id, updated_at`,
		src.ID, name, content).Scan(&src.ID, &src.UpdatedAt)
	if err != nil {
		return Source{}, fmt.Errorf("failed to save source %s: %w", name, err)
	}
	return src, nil
}

func (s *PostgresStore) ListSources(ctx context.Context) ([]Source, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, content, updated_at FROM sources ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Source
	for rows.Next() {
		var src Source
		if err := rows.Scan(&src.ID, &src.Name, &src.Content, &src.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, src)
	}
	return out, rows.Err()
}

func (s *PostgresStore) DeleteSource(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sources WHERE name=$1`, name)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrSourceNotFound
	}
	return nil
}

func (s *PostgresStore) ReplaceCorpus(ctx context.Context, docs []Document) error {
	if err := checkOrdinals(docs); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM documents`); err != nil {
		return fmt.Errorf("failed to clear catalog: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO documents(ordinal, id, source, chunk, start_line, end_line, text)
		VALUES($1,$2,$3,$4,$5,$6,$7)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, d := range docs {
		id := d.ID
		if id == uuid.Nil {
			id = uuid.New()
		}
		if _, err := stmt.ExecContext(ctx, d.Ordinal, id, d.Source, d.Chunk, d.StartLine, d.EndLine, d.Text); err != nil {
			return fmt.Errorf("failed to insert document %d: %w", d.Ordinal, err)
		}
	}
	return tx.Commit()
}

func (s *PostgresStore) GetDocuments(ctx context.Context, ordinals []int) ([]Document, error) {
	if len(ordinals) == 0 {
		return []Document{}, nil
	}
	keys := make([]int64, len(ordinals))
	for i, o := range ordinals {
		keys[i] = int64(o)
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT ordinal, id, source, chunk, start_line, end_line, text
		FROM documents
		WHERE ordinal = ANY($1::int8[])`, pq.Array(keys))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	byOrdinal := make(map[int]Document, len(ordinals))
	for rows.Next() {
		var d Document
		if err := rows.Scan(&d.Ordinal, &d.ID, &d.Source, &d.Chunk, &d.StartLine, &d.EndLine, &d.Text); err != nil {
			return nil, err
		}
		byOrdinal[d.Ordinal] = d
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return orderByRequest(ordinals, byOrdinal), nil
}

func orderByRequest(ordinals []int, byOrdinal map[int]Document) []Document {
	out := make([]Document, 0, len(ordinals))
	for _, o := range ordinals {
		if d, ok := byOrdinal[o]; ok {
			out = append(out, d)
		}
	}
	return out
}
