package store

import (
	"context"
	"fmt"
	"log"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// PostgresStore keeps points in a pgvector table, one table per collection.
type PostgresStore struct {
	pool       *pgxpool.Pool
	table      string
	dimensions int
}

func NewPostgresStore(ctx context.Context, dsn, collection string, dimensions int) (*PostgresStore, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("invalid vector dimensions: %d", dimensions)
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	return &PostgresStore{
		pool:       pool,
		table:      collection,
		dimensions: dimensions,
	}, nil
}

func (s *PostgresStore) ident() string {
	return pgx.Identifier{s.table}.Sanitize()
}

func (s *PostgresStore) Initialize(ctx context.Context) (bool, error) {
	exists, err := s.CollectionExists(ctx)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}

	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id UUID PRIMARY KEY,
			file_path TEXT NOT NULL,
			code_chunk TEXT NOT NULL,
			start_line INTEGER NOT NULL,
			end_line INTEGER NOT NULL,
			embedding vector(%d) NOT NULL
		)`, s.ident(), s.dimensions),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (file_path)`,
			pgx.Identifier{s.table + "_file_path_idx"}.Sanitize(), s.ident()),
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			log.Printf("Failed to initialize postgres table %s: %v", s.table, err)
			return false, fmt.Errorf("failed to initialize table: %w", err)
		}
	}
	return true, nil
}

func (s *PostgresStore) UpsertPoints(ctx context.Context, points []Point) error {
	if len(points) == 0 {
		return nil
	}

	query := fmt.Sprintf(`INSERT INTO %s (id, file_path, code_chunk, start_line, end_line, embedding)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			file_path = EXCLUDED.file_path,
			code_chunk = EXCLUDED.code_chunk,
			start_line = EXCLUDED.start_line,
			end_line = EXCLUDED.end_line,
			embedding = EXCLUDED.embedding`, s.ident())

	batch := &pgx.Batch{}
	for _, p := range points {
		batch.Queue(query, p.ID, p.Payload.FilePath, p.Payload.CodeChunk,
			p.Payload.StartLine, p.Payload.EndLine, pgvector.NewVector(p.Vector))
	}

	if err := s.pool.SendBatch(ctx, batch).Close(); err != nil {
		log.Printf("Failed to upsert %d points into %s: %v", len(points), s.table, err)
		return fmt.Errorf("failed to upsert points: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeletePointsByFilePath(ctx context.Context, filePath string) error {
	return s.DeletePointsByFilePaths(ctx, []string{filePath})
}

func (s *PostgresStore) DeletePointsByFilePaths(ctx context.Context, filePaths []string) error {
	paths := normalizePaths(filePaths)
	if len(paths) == 0 {
		return nil
	}

	query := fmt.Sprintf(`DELETE FROM %s WHERE file_path = ANY($1)`, s.ident())
	if _, err := s.pool.Exec(ctx, query, paths); err != nil {
		log.Printf("Failed to delete points for %d files from %s: %v", len(paths), s.table, err)
		return fmt.Errorf("failed to delete points: %w", err)
	}
	return nil
}

func (s *PostgresStore) Search(ctx context.Context, queryVector []float32, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 10
	}

	query := fmt.Sprintf(`SELECT id::text, file_path, code_chunk, start_line, end_line,
			1 - (embedding <=> $1) AS score
		FROM %s
		ORDER BY embedding <=> $1
		LIMIT $2`, s.ident())

	rows, err := s.pool.Query(ctx, query, pgvector.NewVector(queryVector), limit)
	if err != nil {
		log.Printf("Failed to search %s: %v", s.table, err)
		return nil, fmt.Errorf("failed to search: %w", err)
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		var r SearchResult
		var score float64
		if err := rows.Scan(&r.ID, &r.Payload.FilePath, &r.Payload.CodeChunk,
			&r.Payload.StartLine, &r.Payload.EndLine, &score); err != nil {
			return nil, fmt.Errorf("failed to scan search result: %w", err)
		}
		if !r.Payload.valid() {
			continue
		}
		r.Score = float32(score)
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read search results: %w", err)
	}
	return results, nil
}

func (s *PostgresStore) CollectionExists(ctx context.Context) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `SELECT to_regclass($1) IS NOT NULL`, s.ident()).Scan(&exists)
	if err != nil {
		log.Printf("Failed to check postgres table %s: %v", s.table, err)
		return false, fmt.Errorf("failed to check collection: %w", err)
	}
	return exists, nil
}

func (s *PostgresStore) ClearCollection(ctx context.Context) error {
	exists, err := s.CollectionExists(ctx)
	if err != nil || !exists {
		return err
	}
	if _, err := s.pool.Exec(ctx, fmt.Sprintf(`TRUNCATE %s`, s.ident())); err != nil {
		log.Printf("Failed to clear postgres table %s: %v", s.table, err)
		return fmt.Errorf("failed to clear collection: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteCollection(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, fmt.Sprintf(`DROP TABLE IF EXISTS %s`, s.ident())); err != nil {
		log.Printf("Failed to drop postgres table %s: %v", s.table, err)
		return fmt.Errorf("failed to delete collection: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
