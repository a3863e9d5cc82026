package indexer

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const manifestKeepRuns = 20

// RebuildRun records one rebuild attempt for auditability
type RebuildRun struct {
	ID                 string    `json:"id"`
	Mode               string    `json:"mode"` // "full" | "incremental"
	StartedAt          time.Time `json:"started_at"`
	FinishedAt         time.Time `json:"finished_at"`
	EmbeddingModel     string    `json:"embedding_model"`
	DocumentsProcessed int       `json:"documents_processed"`
	ChunksIndexed      int       `json:"chunks_indexed"`
	ChunksRemoved      int       `json:"chunks_removed"`
	Warnings           []string  `json:"warnings,omitempty"`
	Status             string    `json:"status"` // "succeeded" | "failed"
	Error              string    `json:"error,omitempty"`
}

// Duration is the wall-clock time the run took
func (r *RebuildRun) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// rebuildManifest is the on-disk record of past runs. LastSuccess carries
// the embedding model the stored vectors were produced with; a model
// mismatch forces the next rebuild to re-embed everything.
type rebuildManifest struct {
	LastSuccess *RebuildRun  `json:"last_success,omitempty"`
	Runs        []RebuildRun `json:"runs"`
}

func manifestPath(indexDir string) string {
	return filepath.Join(indexDir, "manifests", "rebuild_metadata.json")
}

func loadManifest(indexDir string) (*rebuildManifest, error) {
	data, err := os.ReadFile(manifestPath(indexDir))
	if os.IsNotExist(err) {
		return &rebuildManifest{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read rebuild manifest: %w", err)
	}
	var m rebuildManifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse rebuild manifest: %w", err)
	}
	return &m, nil
}

func (m *rebuildManifest) record(run RebuildRun) {
	if run.Status == "succeeded" {
		copied := run
		m.LastSuccess = &copied
	}
	m.Runs = append(m.Runs, run)
	if len(m.Runs) > manifestKeepRuns {
		m.Runs = m.Runs[len(m.Runs)-manifestKeepRuns:]
	}
}

func (m *rebuildManifest) save(indexDir string) error {
	path := manifestPath(indexDir)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create manifest dir: %w", err)
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("encode rebuild manifest: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write rebuild manifest: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("write rebuild manifest: %w", err)
	}
	return nil
}

// LastRun returns the most recent recorded run, or nil
func LastRun(indexDir string) (*RebuildRun, error) {
	m, err := loadManifest(indexDir)
	if err != nil {
		return nil, err
	}
	if len(m.Runs) == 0 {
		return nil, nil
	}
	run := m.Runs[len(m.Runs)-1]
	return &run, nil
}
