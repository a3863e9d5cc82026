package vectorstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/philippgille/chromem-go"
)

const chromemCollection = "cards"

// ChromemStore backs the index with an embedded chromem-go database.
// chromem does not expose an enumeration API, so a sidecar manifest keeps
// the chunk_id to content-hash mapping that incremental rebuilds diff
// against. The manifest is rewritten on every mutation; both stores are
// small enough that this is cheap.
type ChromemStore struct {
	db         *chromem.DB
	collection *chromem.Collection
	dir        string

	mu       sync.Mutex
	manifest map[string]manifestEntry
	closed   bool
}

type manifestEntry struct {
	DocID    string            `json:"doc_id"`
	Title    string            `json:"title"`
	Hash     string            `json:"hash"`
	FilePath string            `json:"file_path"`
	Metadata map[string]string `json:"metadata"`
}

// NewChromemStore opens (or creates) a persistent chromem database under dir
func NewChromemStore(dir string) (*ChromemStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("vector store dir is required")
	}
	db, err := chromem.NewPersistentDB(filepath.Join(dir, "chromem"), false)
	if err != nil {
		return nil, fmt.Errorf("%w: open chromem db: %v", ErrUnavailable, err)
	}
	// Embeddings are always supplied by the caller, so the collection's
	// embedding func must never run.
	noEmbed := func(ctx context.Context, text string) ([]float32, error) {
		return nil, errors.New("embedding func should not be called")
	}
	collection, err := db.GetOrCreateCollection(chromemCollection, nil, noEmbed)
	if err != nil {
		return nil, fmt.Errorf("%w: open collection: %v", ErrUnavailable, err)
	}
	store := &ChromemStore{
		db:         db,
		collection: collection,
		dir:        dir,
		manifest:   make(map[string]manifestEntry),
	}
	if err := store.loadManifest(); err != nil {
		return nil, err
	}
	return store, nil
}

func (s *ChromemStore) manifestPath() string {
	return filepath.Join(s.dir, "manifest.json")
}

func (s *ChromemStore) loadManifest() error {
	data, err := os.ReadFile(s.manifestPath())
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: read manifest: %v", ErrUnavailable, err)
	}
	if err := json.Unmarshal(data, &s.manifest); err != nil {
		return fmt.Errorf("%w: decode manifest: %v", ErrUnavailable, err)
	}
	return nil
}

// saveManifest must be called with s.mu held
func (s *ChromemStore) saveManifest() error {
	data, err := json.MarshalIndent(s.manifest, "", "  ")
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	tmp := s.manifestPath() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("%w: write manifest: %v", ErrUnavailable, err)
	}
	if err := os.Rename(tmp, s.manifestPath()); err != nil {
		return fmt.Errorf("%w: write manifest: %v", ErrUnavailable, err)
	}
	return nil
}

func (s *ChromemStore) ensureOpen() error {
	if s.closed {
		return fmt.Errorf("%w: store is closed", ErrUnavailable)
	}
	return nil
}

// Upsert inserts or replaces the record for rec.ChunkID
func (s *ChromemStore) Upsert(ctx context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureOpen(); err != nil {
		return err
	}
	// chromem's AddDocuments rejects duplicate ids, so drop any previous
	// version first.
	if _, exists := s.manifest[rec.ChunkID]; exists {
		if err := s.collection.Delete(ctx, nil, nil, rec.ChunkID); err != nil {
			return fmt.Errorf("%w: replace %s: %v", ErrUnavailable, rec.ChunkID, err)
		}
	}
	doc := chromem.Document{
		ID:        rec.ChunkID,
		Content:   rec.Text,
		Metadata:  rec.Metadata,
		Embedding: rec.Vector,
	}
	if err := s.collection.AddDocuments(ctx, []chromem.Document{doc}, runtime.NumCPU()); err != nil {
		return fmt.Errorf("%w: upsert %s: %v", ErrUnavailable, rec.ChunkID, err)
	}
	s.manifest[rec.ChunkID] = manifestEntry{
		DocID:    rec.DocID,
		Title:    rec.Title,
		Hash:     rec.Hash,
		FilePath: rec.FilePath,
		Metadata: rec.Metadata,
	}
	return s.saveManifest()
}

// Query runs a similarity search and returns the top k hits matching filter
func (s *ChromemStore) Query(ctx context.Context, vector []float32, k int, filter Filter) ([]Hit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureOpen(); err != nil {
		return nil, err
	}
	count := s.collection.Count()
	if count == 0 {
		return nil, nil
	}
	// chromem's where clause only supports exact single-value matches, so
	// fetch everything and filter here; list-valued selectors need the
	// membership semantics of Filter.Matches.
	results, err := s.collection.QueryWithOptions(ctx, chromem.QueryOptions{
		QueryEmbedding: vector,
		NResults:       count,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	var hits []Hit
	for _, res := range results {
		if filter != nil && !filter.Matches(res.Metadata) {
			continue
		}
		entry := s.manifest[res.ID]
		hits = append(hits, Hit{
			Record: Record{
				ChunkID:  res.ID,
				DocID:    entry.DocID,
				Title:    entry.Title,
				Text:     res.Content,
				Metadata: res.Metadata,
				Hash:     entry.Hash,
				FilePath: entry.FilePath,
			},
			Score: float64(res.Similarity),
		})
	}
	return rankHits(hits, k), nil
}

// Delete removes the given chunk ids; missing ids are not an error
func (s *ChromemStore) Delete(ctx context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureOpen(); err != nil {
		return err
	}
	changed := false
	for _, id := range ids {
		if _, exists := s.manifest[id]; !exists {
			continue
		}
		if err := s.collection.Delete(ctx, nil, nil, id); err != nil {
			return fmt.Errorf("%w: delete %s: %v", ErrUnavailable, id, err)
		}
		delete(s.manifest, id)
		changed = true
	}
	if !changed {
		return nil
	}
	return s.saveManifest()
}

// Get fetches one record by chunk id
func (s *ChromemStore) Get(ctx context.Context, chunkID string) (Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureOpen(); err != nil {
		return Record{}, false, err
	}
	entry, exists := s.manifest[chunkID]
	if !exists {
		return Record{}, false, nil
	}
	doc, err := s.collection.GetByID(ctx, chunkID)
	if err != nil {
		return Record{}, false, fmt.Errorf("%w: get %s: %v", ErrUnavailable, chunkID, err)
	}
	return Record{
		ChunkID:  chunkID,
		DocID:    entry.DocID,
		Title:    entry.Title,
		Text:     doc.Content,
		Metadata: doc.Metadata,
		Hash:     entry.Hash,
		FilePath: entry.FilePath,
		Vector:   doc.Embedding,
	}, true, nil
}

// Count returns the number of stored records
func (s *ChromemStore) Count(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureOpen(); err != nil {
		return 0, err
	}
	return s.collection.Count(), nil
}

// ListIDs returns the set of stored chunk ids
func (s *ChromemStore) ListIDs(ctx context.Context) (map[string]struct{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureOpen(); err != nil {
		return nil, err
	}
	ids := make(map[string]struct{}, len(s.manifest))
	for id := range s.manifest {
		ids[id] = struct{}{}
	}
	return ids, nil
}

// Hashes returns chunk_id to content hash for every stored record
func (s *ChromemStore) Hashes(ctx context.Context) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureOpen(); err != nil {
		return nil, err
	}
	hashes := make(map[string]string, len(s.manifest))
	for id, entry := range s.manifest {
		hashes[id] = entry.Hash
	}
	return hashes, nil
}

// List returns every stored record without its vector or text
func (s *ChromemStore) List(ctx context.Context) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureOpen(); err != nil {
		return nil, err
	}
	records := make([]Record, 0, len(s.manifest))
	for id, entry := range s.manifest {
		records = append(records, Record{
			ChunkID:  id,
			DocID:    entry.DocID,
			Title:    entry.Title,
			Metadata: entry.Metadata,
			Hash:     entry.Hash,
			FilePath: entry.FilePath,
		})
	}
	return records, nil
}

// Close marks the store unusable; chromem persists on every write
func (s *ChromemStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
