// Package vectorstore persists card embeddings and answers filtered
// nearest-neighbor queries. Two backends implement the same contract: an
// embedded sqlite store and a chromem-go store.
package vectorstore

import (
	"context"
	"errors"
	"sort"
	"strings"
)

// ErrUnavailable marks a backend that cannot serve the operation. Callers
// must keep this distinct from an empty result set.
var ErrUnavailable = errors.New("vector index unavailable")

// Record is the materialized, queryable copy of one card plus its
// embedding. Its lifecycle is fully derived from the card's.
type Record struct {
	ChunkID  string
	DocID    string
	Title    string
	Text     string
	Metadata map[string]string
	Hash     string
	FilePath string
	Vector   []float32
}

// Hit is one query result
type Hit struct {
	Record
	Score float64
}

// Filter is a conjunction of metadata predicates: every key must match,
// and a key matches when any filter value intersects the record's
// comma-joined value list.
type Filter map[string][]string

// Store is the capability contract shared by all vector index backends.
// Every method reports ErrUnavailable when the backend cannot serve it.
type Store interface {
	Upsert(ctx context.Context, rec Record) error
	Query(ctx context.Context, vector []float32, k int, filter Filter) ([]Hit, error)
	Delete(ctx context.Context, ids []string) error
	Get(ctx context.Context, chunkID string) (Record, bool, error)
	Count(ctx context.Context) (int, error)
	ListIDs(ctx context.Context) (map[string]struct{}, error)
	Hashes(ctx context.Context) (map[string]string, error)
	List(ctx context.Context) ([]Record, error)
	Close() error
}

// Matches reports whether a record's metadata satisfies the filter
func (f Filter) Matches(metadata map[string]string) bool {
	for key, wanted := range f {
		if len(wanted) == 0 {
			continue
		}
		raw, ok := metadata[key]
		if !ok {
			return false
		}
		if !intersects(strings.Split(raw, ","), wanted) {
			return false
		}
	}
	return true
}

func intersects(have, wanted []string) bool {
	for _, h := range have {
		h = strings.TrimSpace(h)
		for _, w := range wanted {
			if h == strings.TrimSpace(w) {
				return true
			}
		}
	}
	return false
}

// rankHits orders hits by descending score, breaking ties on ascending
// chunk id so results are reproducible, then truncates to k.
func rankHits(hits []Hit, k int) []Hit {
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Record.ChunkID < hits[j].Record.ChunkID
	})
	if k > 0 && len(hits) > k {
		hits = hits[:k]
	}
	return hits
}
