package vectorstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/flightskb/flightskb/internal/embedding"
)

// SQLiteStore is the default backend: one table of records with JSON
// encoded vectors and metadata, scored by brute-force cosine similarity.
// Fine for a corpus of low thousands of chunks.
type SQLiteStore struct {
	db *sql.DB
	mu sync.Mutex
}

// NewSQLiteStore opens (or creates) the store under dir
func NewSQLiteStore(dir string) (*SQLiteStore, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("vector store dir is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	dbPath := filepath.Join(dir, "vectors.db")
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("%w: open vector db: %v", ErrUnavailable, err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	pragmas := []string{
		`PRAGMA journal_mode=WAL;`,
		`PRAGMA synchronous=NORMAL;`,
		`PRAGMA busy_timeout=5000;`,
	}
	for _, stmt := range pragmas {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("%w: init vector db: %v", ErrUnavailable, err)
		}
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS chunks (
			chunk_id TEXT PRIMARY KEY,
			doc_id TEXT NOT NULL,
			title TEXT,
			text TEXT,
			metadata TEXT,
			hash TEXT,
			file_path TEXT,
			vector TEXT
		);`,
		`CREATE INDEX IF NOT EXISTS idx_chunks_doc ON chunks (doc_id);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("%w: init vector db: %v", ErrUnavailable, err)
		}
	}
	return nil
}

// Upsert inserts or replaces the record for rec.ChunkID
func (s *SQLiteStore) Upsert(ctx context.Context, rec Record) error {
	metaJSON, err := json.Marshal(rec.Metadata)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	vecJSON, err := json.Marshal(rec.Vector)
	if err != nil {
		return fmt.Errorf("encode vector: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.db.ExecContext(ctx, `INSERT OR REPLACE INTO chunks
		(chunk_id, doc_id, title, text, metadata, hash, file_path, vector)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ChunkID, rec.DocID, rec.Title, rec.Text, string(metaJSON), rec.Hash, rec.FilePath, string(vecJSON),
	)
	if err != nil {
		return fmt.Errorf("%w: upsert %s: %v", ErrUnavailable, rec.ChunkID, err)
	}
	return nil
}

// Query scores every stored record against the query vector, applies the
// filter and returns the top k hits.
func (s *SQLiteStore) Query(ctx context.Context, vector []float32, k int, filter Filter) ([]Hit, error) {
	if isZeroVector(vector) {
		return nil, fmt.Errorf("vector query is empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.db.QueryContext(ctx, `SELECT chunk_id, doc_id, title, text, metadata, hash, file_path, vector FROM chunks`)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		if filter != nil && !filter.Matches(rec.Metadata) {
			continue
		}
		// Records embedded under a different dimension cannot be compared;
		// they score zero instead of failing the whole query.
		score := 0.0
		if len(rec.Vector) == len(vector) {
			score = float64(embedding.Similarity(vector, rec.Vector))
		}
		hits = append(hits, Hit{Record: rec, Score: score})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	return rankHits(hits, k), nil
}

// Delete removes the given chunk ids; missing ids are not an error
func (s *SQLiteStore) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	holders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		holders[i] = "?"
		args[i] = id
	}
	query := fmt.Sprintf(`DELETE FROM chunks WHERE chunk_id IN (%s)`, strings.Join(holders, ","))
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Get fetches one record by chunk id
func (s *SQLiteStore) Get(ctx context.Context, chunkID string) (Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.db.QueryContext(ctx, `SELECT chunk_id, doc_id, title, text, metadata, hash, file_path, vector FROM chunks WHERE chunk_id = ?`, chunkID)
	if err != nil {
		return Record{}, false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return Record{}, false, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return Record{}, false, nil
	}
	rec, err := scanRecord(rows)
	if err != nil {
		return Record{}, false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return rec, true, nil
}

// Count returns the number of stored records
func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks`).Scan(&count); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return count, nil
}

// ListIDs returns the set of stored chunk ids
func (s *SQLiteStore) ListIDs(ctx context.Context) (map[string]struct{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.db.QueryContext(ctx, `SELECT chunk_id FROM chunks`)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer rows.Close()

	ids := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		ids[id] = struct{}{}
	}
	return ids, rows.Err()
}

// Hashes returns chunk_id to content hash for every stored record
func (s *SQLiteStore) Hashes(ctx context.Context) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.db.QueryContext(ctx, `SELECT chunk_id, hash FROM chunks`)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer rows.Close()

	hashes := make(map[string]string)
	for rows.Next() {
		var id, hash string
		if err := rows.Scan(&id, &hash); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		hashes[id] = hash
	}
	return hashes, rows.Err()
}

// List returns every stored record without its vector, for stats and
// breakdowns.
func (s *SQLiteStore) List(ctx context.Context) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.db.QueryContext(ctx, `SELECT chunk_id, doc_id, title, metadata, hash, file_path FROM chunks`)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var rec Record
		var metaJSON string
		if err := rows.Scan(&rec.ChunkID, &rec.DocID, &rec.Title, &metaJSON, &rec.Hash, &rec.FilePath); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		if err := json.Unmarshal([]byte(metaJSON), &rec.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata for %s: %w", rec.ChunkID, err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Close releases the underlying database
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func scanRecord(rows *sql.Rows) (Record, error) {
	var rec Record
	var metaJSON, vecJSON string
	if err := rows.Scan(&rec.ChunkID, &rec.DocID, &rec.Title, &rec.Text, &metaJSON, &rec.Hash, &rec.FilePath, &vecJSON); err != nil {
		return Record{}, err
	}
	if err := json.Unmarshal([]byte(metaJSON), &rec.Metadata); err != nil {
		return Record{}, fmt.Errorf("decode metadata for %s: %w", rec.ChunkID, err)
	}
	if err := json.Unmarshal([]byte(vecJSON), &rec.Vector); err != nil {
		return Record{}, fmt.Errorf("decode vector for %s: %w", rec.ChunkID, err)
	}
	return rec, nil
}

func isZeroVector(vec []float32) bool {
	for _, v := range vec {
		if v != 0 {
			return false
		}
	}
	return true
}
