// Package query answers searches over the built index. It validates
// requests up front and keeps "no matches" strictly distinct from "the
// index cannot be read".
package query

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/flightskb/flightskb/internal/config"
	"github.com/flightskb/flightskb/internal/embedding"
	"github.com/flightskb/flightskb/internal/textindex"
	"github.com/flightskb/flightskb/internal/vectorstore"
)

// ErrInvalidQuery reports a request rejected before any search ran
var ErrInvalidQuery = errors.New("invalid query")

// Mode selects the retrieval strategy
type Mode string

const (
	ModeVector  Mode = "vector"
	ModeKeyword Mode = "keyword"
	ModeHybrid  Mode = "hybrid"
)

// Request is one validated search
type Request struct {
	Text   string
	K      int // 0 means the configured default
	Filter vectorstore.Filter
	Mode   Mode // empty means hybrid
}

// Result is one ranked answer
type Result struct {
	ChunkID       string            `json:"chunk_id"`
	DocID         string            `json:"doc_id"`
	Title         string            `json:"title"`
	Text          string            `json:"text"`
	Metadata      map[string]string `json:"metadata"`
	Score         float64           `json:"score"`
	FileReference string            `json:"file_reference"`
}

// Engine runs searches against the vector store and the keyword index
type Engine struct {
	cfg      config.SearchConfig
	store    vectorstore.Store
	embedder *embedding.Service
	textIdx  *textindex.Index
}

// NewEngine builds an engine. textIdx may be nil, in which case keyword
// and hybrid modes report the index as unavailable.
func NewEngine(cfg config.SearchConfig, store vectorstore.Store, embedder *embedding.Service, textIdx *textindex.Index) *Engine {
	return &Engine{cfg: cfg, store: store, embedder: embedder, textIdx: textIdx}
}

// Search validates and runs one query. Empty results are an empty slice
// with a nil error; an unreadable index surfaces as an error wrapping
// vectorstore.ErrUnavailable, never as empty results.
func (e *Engine) Search(ctx context.Context, req Request) ([]Result, error) {
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return nil, fmt.Errorf("%w: query text is empty", ErrInvalidQuery)
	}
	k := req.K
	if k == 0 {
		k = e.cfg.DefaultK
	}
	if k < 1 {
		return nil, fmt.Errorf("%w: k must be at least 1, got %d", ErrInvalidQuery, req.K)
	}
	if e.cfg.MaxK > 0 && k > e.cfg.MaxK {
		return nil, fmt.Errorf("%w: k must be at most %d, got %d", ErrInvalidQuery, e.cfg.MaxK, k)
	}
	mode := req.Mode
	if mode == "" {
		mode = ModeHybrid
	}

	switch mode {
	case ModeVector:
		return e.searchVector(ctx, text, k, req.Filter)
	case ModeKeyword:
		return e.searchKeyword(ctx, text, k, req.Filter)
	case ModeHybrid:
		return e.searchHybrid(ctx, text, k, req.Filter)
	default:
		return nil, fmt.Errorf("%w: unknown mode %q", ErrInvalidQuery, req.Mode)
	}
}

func (e *Engine) searchVector(ctx context.Context, text string, k int, filter vectorstore.Filter) ([]Result, error) {
	vector, err := e.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	hits, err := e.store.Query(ctx, vector, k, filter)
	if err != nil {
		return nil, err
	}
	results := make([]Result, 0, len(hits))
	for _, hit := range hits {
		results = append(results, resultFromRecord(hit.Record, hit.Score))
	}
	return results, nil
}

func (e *Engine) searchKeyword(ctx context.Context, text string, k int, filter vectorstore.Filter) ([]Result, error) {
	hits, err := e.keywordHits(ctx, text, k, filter)
	if err != nil {
		return nil, err
	}
	results := make([]Result, 0, len(hits))
	for _, hit := range hits {
		results = append(results, resultFromRecord(hit.Record, hit.Score))
	}
	sortResults(results)
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// searchHybrid blends both retrievers: vector scores are already in
// [-1, 1], keyword scores are normalized by the best keyword hit, and the
// configured weights combine them.
func (e *Engine) searchHybrid(ctx context.Context, text string, k int, filter vectorstore.Filter) ([]Result, error) {
	// Over-fetch from both sides so the blended ranking has candidates
	// that only one retriever found.
	fetchK := k * 2

	vector, err := e.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	vectorHits, err := e.store.Query(ctx, vector, fetchK, filter)
	if err != nil {
		return nil, err
	}
	keywordHits, err := e.keywordHits(ctx, text, fetchK, filter)
	if err != nil {
		return nil, err
	}

	var maxKeyword float64
	for _, hit := range keywordHits {
		if hit.Score > maxKeyword {
			maxKeyword = hit.Score
		}
	}

	combined := make(map[string]Result)
	for _, hit := range vectorHits {
		res := resultFromRecord(hit.Record, e.cfg.VectorWeight*hit.Score)
		combined[hit.ChunkID] = res
	}
	for _, hit := range keywordHits {
		score := 0.0
		if maxKeyword > 0 {
			score = e.cfg.KeywordWeight * (hit.Score / maxKeyword)
		}
		if existing, ok := combined[hit.ChunkID]; ok {
			existing.Score += score
			combined[hit.ChunkID] = existing
		} else {
			combined[hit.ChunkID] = resultFromRecord(hit.Record, score)
		}
	}

	results := make([]Result, 0, len(combined))
	for _, res := range combined {
		results = append(results, res)
	}
	sortResults(results)
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// keywordHits looks up keyword matches and hydrates each one from the
// vector store, applying the metadata filter there.
func (e *Engine) keywordHits(ctx context.Context, text string, k int, filter vectorstore.Filter) ([]vectorstore.Hit, error) {
	if e.textIdx == nil {
		return nil, fmt.Errorf("%w: keyword index not opened", vectorstore.ErrUnavailable)
	}
	matches, err := e.textIdx.Search(text, k*2)
	if err != nil {
		return nil, fmt.Errorf("%w: keyword search: %v", vectorstore.ErrUnavailable, err)
	}
	var hits []vectorstore.Hit
	for _, match := range matches {
		rec, found, err := e.store.Get(ctx, match.ChunkID)
		if err != nil {
			return nil, err
		}
		if !found {
			continue
		}
		if filter != nil && !filter.Matches(rec.Metadata) {
			continue
		}
		hits = append(hits, vectorstore.Hit{Record: rec, Score: match.Score})
		if len(hits) >= k {
			break
		}
	}
	return hits, nil
}

func resultFromRecord(rec vectorstore.Record, score float64) Result {
	return Result{
		ChunkID:       rec.ChunkID,
		DocID:         rec.DocID,
		Title:         rec.Title,
		Text:          rec.Text,
		Metadata:      rec.Metadata,
		Score:         score,
		FileReference: rec.FilePath,
	}
}

// sortResults orders by score descending; equal scores break ties on
// ascending chunk id so ranking is reproducible.
func sortResults(results []Result) {
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ChunkID < results[j].ChunkID
	})
}
