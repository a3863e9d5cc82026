package indexer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flightskb/flightskb/internal/config"
	"github.com/flightskb/flightskb/internal/embedding"
	"github.com/flightskb/flightskb/internal/vectorstore"
)

// countingClient is a deterministic embedder that records how many texts
// it was asked to embed.
type countingClient struct {
	mu       sync.Mutex
	embedded int
	failWith error
	model    string
}

func (c *countingClient) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (c *countingClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failWith != nil {
		return nil, c.failWith
	}
	c.embedded += len(texts)
	vecs := make([][]float32, len(texts))
	for i, text := range texts {
		vecs[i] = []float32{float32(len(text)), 1, 0, 0}
	}
	return vecs, nil
}

func (c *countingClient) Model() string {
	if c.model != "" {
		return c.model
	}
	return "test-model"
}

func (c *countingClient) Dimensions() int { return 4 }

func (c *countingClient) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.embedded
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Paths: config.PathsConfig{
			KnowledgeDir: filepath.Join(t.TempDir(), "knowledge"),
			IndexDir:     filepath.Join(t.TempDir(), "index"),
		},
		Embedding: config.EmbeddingConfig{BatchSize: 8},
		Rebuild:   config.RebuildConfig{MaxWorkers: 2},
	}
}

func newTestBuilder(t *testing.T, cfg *config.Config, client embedding.Client) (*Builder, vectorstore.Store) {
	t.Helper()
	require.NoError(t, os.MkdirAll(cfg.Paths.KnowledgeDir, 0o755))
	store, err := vectorstore.NewSQLiteStore(cfg.Paths.IndexDir)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	svc := embedding.NewServiceWithClient(client, 1, cfg.Embedding.BatchSize)
	return NewBuilder(cfg, store, svc), store
}

func writeDoc(t *testing.T, dir, rel, kbID, body string) {
	t.Helper()
	content := fmt.Sprintf(`---
kb_id: %s
type: policy
title: Test document %s
created: 2026-01-10
updated: 2026-02-01
status: reviewed
source:
  kind: web
  name: Example source
confidence: high
---
%s`, kbID, kbID, body)
	path := filepath.Join(dir, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestRebuildEmptyCorpus(t *testing.T) {
	cfg := testConfig(t)
	builder, store := newTestBuilder(t, cfg, &countingClient{})

	run, err := builder.Rebuild(context.Background(), RebuildOptions{})
	require.NoError(t, err)
	assert.Equal(t, "succeeded", run.Status)
	assert.Equal(t, 0, run.DocumentsProcessed)
	assert.Equal(t, 0, run.ChunksIndexed)
	assert.Equal(t, StateSucceeded, builder.State())

	count, err := store.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestRebuildIndexesCorpus(t *testing.T) {
	cfg := testConfig(t)
	builder, store := newTestBuilder(t, cfg, &countingClient{})

	writeDoc(t, cfg.Paths.KnowledgeDir, "baggage/allowances.md", "baggage-allowances",
		"\n## Carry-on limits\n\nOne bag up to 7kg.\n\n## Checked bags\n\nFees vary by airline.\n")
	writeDoc(t, cfg.Paths.KnowledgeDir, "visas/transit.md", "transit-visas",
		"\n## Airside transit\n\nSome countries require a visa.\n")

	run, err := builder.Rebuild(context.Background(), RebuildOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, run.DocumentsProcessed)
	assert.Equal(t, 3, run.ChunksIndexed)
	assert.Empty(t, run.Warnings)
	assert.Equal(t, "incremental", run.Mode)

	ids, err := store.ListIDs(context.Background())
	require.NoError(t, err)
	assert.Contains(t, ids, "baggage-allowances#carry-on-limits")
	assert.Contains(t, ids, "baggage-allowances#checked-bags")
	assert.Contains(t, ids, "transit-visas#airside-transit")
}

func TestRebuildSkipsMalformedDocuments(t *testing.T) {
	cfg := testConfig(t)
	builder, store := newTestBuilder(t, cfg, &countingClient{})

	writeDoc(t, cfg.Paths.KnowledgeDir, "good.md", "good-doc", "\n## Heading\n\nBody.\n")
	// No frontmatter at all.
	require.NoError(t, os.WriteFile(
		filepath.Join(cfg.Paths.KnowledgeDir, "bad.md"),
		[]byte("## Just a heading\n\nno header\n"), 0o644))

	run, err := builder.Rebuild(context.Background(), RebuildOptions{})
	require.NoError(t, err)
	assert.Equal(t, "succeeded", run.Status)
	assert.Equal(t, 1, run.DocumentsProcessed)
	require.Len(t, run.Warnings, 1)
	assert.Contains(t, run.Warnings[0], "bad.md")

	count, err := store.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestRebuildSkipsDuplicateKBID(t *testing.T) {
	cfg := testConfig(t)
	builder, _ := newTestBuilder(t, cfg, &countingClient{})

	writeDoc(t, cfg.Paths.KnowledgeDir, "a.md", "shared-id", "\n## One\n\nFirst file.\n")
	writeDoc(t, cfg.Paths.KnowledgeDir, "b.md", "shared-id", "\n## Two\n\nSecond file.\n")

	run, err := builder.Rebuild(context.Background(), RebuildOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, run.DocumentsProcessed)
	require.Len(t, run.Warnings, 1)
	assert.Contains(t, run.Warnings[0], "duplicate kb_id")
}

func TestIncrementalRebuildOnlyEmbedsChanges(t *testing.T) {
	cfg := testConfig(t)
	client := &countingClient{}
	builder, _ := newTestBuilder(t, cfg, client)

	writeDoc(t, cfg.Paths.KnowledgeDir, "baggage.md", "baggage",
		"\n## Carry-on\n\nOne bag.\n\n## Checked\n\nTwo bags.\n")
	_, err := builder.Rebuild(context.Background(), RebuildOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, client.count())

	// Change one section; only that card should be re-embedded.
	writeDoc(t, cfg.Paths.KnowledgeDir, "baggage.md", "baggage",
		"\n## Carry-on\n\nOne bag up to 7kg now.\n\n## Checked\n\nTwo bags.\n")
	run, err := builder.Rebuild(context.Background(), RebuildOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, run.ChunksIndexed)
	assert.Equal(t, 3, client.count())
}

func TestIncrementalRebuildIgnoresWhitespaceChanges(t *testing.T) {
	cfg := testConfig(t)
	client := &countingClient{}
	builder, _ := newTestBuilder(t, cfg, client)

	writeDoc(t, cfg.Paths.KnowledgeDir, "doc.md", "doc", "\n## Heading\n\nSome   body text.\n")
	_, err := builder.Rebuild(context.Background(), RebuildOptions{})
	require.NoError(t, err)
	before := client.count()

	writeDoc(t, cfg.Paths.KnowledgeDir, "doc.md", "doc", "\n## Heading\n\nSome body   text.\n")
	run, err := builder.Rebuild(context.Background(), RebuildOptions{})
	require.NoError(t, err)
	assert.Equal(t, 0, run.ChunksIndexed)
	assert.Equal(t, before, client.count())
}

func TestRebuildRemovesDeletedDocuments(t *testing.T) {
	cfg := testConfig(t)
	builder, store := newTestBuilder(t, cfg, &countingClient{})

	writeDoc(t, cfg.Paths.KnowledgeDir, "keep.md", "keep-doc", "\n## Keep\n\nStays.\n")
	writeDoc(t, cfg.Paths.KnowledgeDir, "drop.md", "drop-doc", "\n## Drop\n\nGoes away.\n")
	_, err := builder.Rebuild(context.Background(), RebuildOptions{})
	require.NoError(t, err)

	require.NoError(t, os.Remove(filepath.Join(cfg.Paths.KnowledgeDir, "drop.md")))
	run, err := builder.Rebuild(context.Background(), RebuildOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, run.ChunksRemoved)

	ids, err := store.ListIDs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]struct{}{"keep-doc#keep": {}}, ids)
}

func TestRebuildAbortsOnEmbeddingFailure(t *testing.T) {
	cfg := testConfig(t)
	client := &countingClient{failWith: errors.New("provider down")}
	builder, _ := newTestBuilder(t, cfg, client)

	writeDoc(t, cfg.Paths.KnowledgeDir, "doc.md", "doc", "\n## Heading\n\nBody.\n")

	run, err := builder.Rebuild(context.Background(), RebuildOptions{})
	require.Error(t, err)
	assert.Equal(t, "failed", run.Status)
	assert.Contains(t, run.Error, "provider down")
	assert.Equal(t, StateFailed, builder.State())
}

func TestRebuildRecoversAfterFailure(t *testing.T) {
	cfg := testConfig(t)
	client := &countingClient{failWith: errors.New("provider down")}
	builder, _ := newTestBuilder(t, cfg, client)

	writeDoc(t, cfg.Paths.KnowledgeDir, "doc.md", "doc", "\n## Heading\n\nBody.\n")

	_, err := builder.Rebuild(context.Background(), RebuildOptions{})
	require.Error(t, err)

	client.mu.Lock()
	client.failWith = nil
	client.mu.Unlock()

	run, err := builder.Rebuild(context.Background(), RebuildOptions{})
	require.NoError(t, err)
	assert.Equal(t, "succeeded", run.Status)
	assert.Equal(t, StateSucceeded, builder.State())
	assert.Equal(t, 1, run.ChunksIndexed)
}

func TestConcurrentRebuildRejected(t *testing.T) {
	var sm stateMachine
	require.NoError(t, sm.begin())
	assert.ErrorIs(t, sm.begin(), ErrRebuildRunning)
	sm.finish(nil)
	require.NoError(t, sm.begin())
}

func TestModelChangeForcesFullRebuild(t *testing.T) {
	cfg := testConfig(t)
	clientA := &countingClient{model: "model-a"}
	builder, store := newTestBuilder(t, cfg, clientA)

	writeDoc(t, cfg.Paths.KnowledgeDir, "doc.md", "doc", "\n## Heading\n\nBody.\n")
	_, err := builder.Rebuild(context.Background(), RebuildOptions{})
	require.NoError(t, err)

	clientB := &countingClient{model: "model-b"}
	svc := embedding.NewServiceWithClient(clientB, 1, cfg.Embedding.BatchSize)
	builder = NewBuilder(cfg, store, svc)

	run, err := builder.Rebuild(context.Background(), RebuildOptions{})
	require.NoError(t, err)
	assert.Equal(t, "full", run.Mode)
	assert.Equal(t, 1, run.ChunksIndexed)
	assert.Equal(t, 1, clientB.count())
}

func TestInboxIsNotIndexed(t *testing.T) {
	cfg := testConfig(t)
	builder, store := newTestBuilder(t, cfg, &countingClient{})

	writeDoc(t, cfg.Paths.KnowledgeDir, "doc.md", "doc", "\n## Heading\n\nBody.\n")
	writeDoc(t, cfg.Paths.KnowledgeDir, "inbox/staged.md", "staged-doc", "\n## Staged\n\nNot yet promoted.\n")

	run, err := builder.Rebuild(context.Background(), RebuildOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, run.DocumentsProcessed)

	ids, err := store.ListIDs(context.Background())
	require.NoError(t, err)
	assert.NotContains(t, ids, "staged-doc#staged")
}

func TestRebuildPromotesInboxDestinations(t *testing.T) {
	cfg := testConfig(t)
	builder, store := newTestBuilder(t, cfg, &countingClient{})

	staged := `---
kb_id: staged-doc
type: note
title: Staged note
created: 2026-02-01
updated: 2026-02-01
status: draft
source:
  kind: manual
  name: manual ingest
confidence: low
destination_category: baggage
---
## Staged

Ready for the corpus.
`
	inbox := filepath.Join(cfg.Paths.KnowledgeDir, "inbox")
	require.NoError(t, os.MkdirAll(inbox, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(inbox, "staged-doc.md"), []byte(staged), 0o644))

	run, err := builder.Rebuild(context.Background(), RebuildOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, run.DocumentsProcessed)

	ids, err := store.ListIDs(context.Background())
	require.NoError(t, err)
	assert.Contains(t, ids, "staged-doc#staged")

	// Moved out of the inbox, into its category directory.
	_, err = os.Stat(filepath.Join(inbox, "staged-doc.md"))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(cfg.Paths.KnowledgeDir, "baggage", "staged-doc.md"))
	assert.NoError(t, err)
}

func TestManifestRecordsRuns(t *testing.T) {
	cfg := testConfig(t)
	builder, _ := newTestBuilder(t, cfg, &countingClient{})

	writeDoc(t, cfg.Paths.KnowledgeDir, "doc.md", "doc", "\n## Heading\n\nBody.\n")
	first, err := builder.Rebuild(context.Background(), RebuildOptions{})
	require.NoError(t, err)

	last, err := LastRun(cfg.Paths.IndexDir)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, first.ID, last.ID)
	assert.Equal(t, "test-model", last.EmbeddingModel)
	assert.Equal(t, "succeeded", last.Status)
}
