package indexer

import (
	"context"
	"path"
	"sort"

	"github.com/flightskb/flightskb/internal/vectorstore"
)

// Stats summarizes the indexed corpus
type Stats struct {
	Chunks    int
	Documents int

	ByType       map[string]int
	ByCategory   map[string]int
	ByConfidence map[string]int
	ByStatus     map[string]int

	LastRun *RebuildRun
}

// CollectStats builds index statistics from the vector store and the
// rebuild manifest. The category of a chunk is the top-level directory of
// its source file.
func CollectStats(ctx context.Context, store vectorstore.Store, indexDir string) (*Stats, error) {
	records, err := store.List(ctx)
	if err != nil {
		return nil, err
	}

	stats := &Stats{
		Chunks:       len(records),
		ByType:       make(map[string]int),
		ByCategory:   make(map[string]int),
		ByConfidence: make(map[string]int),
		ByStatus:     make(map[string]int),
	}

	docs := make(map[string]struct{})
	for _, rec := range records {
		docs[rec.DocID] = struct{}{}
		stats.ByType[orUnknown(rec.Metadata["type"])]++
		stats.ByCategory[categoryOf(rec.FilePath)]++
		stats.ByConfidence[orUnknown(rec.Metadata["confidence"])]++
		stats.ByStatus[orUnknown(rec.Metadata["status"])]++
	}
	stats.Documents = len(docs)

	run, err := LastRun(indexDir)
	if err != nil {
		return nil, err
	}
	stats.LastRun = run

	return stats, nil
}

// SortedKeys returns the keys of a breakdown in stable order
func SortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func categoryOf(filePath string) string {
	dir := path.Dir(path.Clean(filePath))
	if dir == "." || dir == "/" {
		return "uncategorized"
	}
	// Only the top-level directory counts as the category.
	for {
		parent := path.Dir(dir)
		if parent == "." || parent == "/" {
			return path.Base(dir)
		}
		dir = parent
	}
}

func orUnknown(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
