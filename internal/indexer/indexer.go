// Package indexer turns the Markdown knowledge corpus into the searchable
// index: it parses and chunks every document, embeds changed cards, upserts
// them into the vector store and keeps the keyword index in step.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/flightskb/flightskb/internal/config"
	"github.com/flightskb/flightskb/internal/embedding"
	"github.com/flightskb/flightskb/internal/ingest"
	"github.com/flightskb/flightskb/internal/kb"
	"github.com/flightskb/flightskb/internal/textindex"
	"github.com/flightskb/flightskb/internal/vectorstore"
)

// inboxDir holds staged documents that are not indexed until promoted
const inboxDir = "inbox"

// Builder runs rebuilds. One rebuild at a time; concurrent requests are
// rejected with ErrRebuildRunning rather than queued.
type Builder struct {
	cfg      *config.Config
	store    vectorstore.Store
	embedder *embedding.Service
	sm       stateMachine
}

// RebuildOptions controls one rebuild invocation
type RebuildOptions struct {
	// Full re-embeds every card regardless of stored hashes
	Full     bool
	Reporter ProgressReporter
}

func NewBuilder(cfg *config.Config, store vectorstore.Store, embedder *embedding.Service) *Builder {
	return &Builder{cfg: cfg, store: store, embedder: embedder}
}

// State reports the builder's rebuild state
func (b *Builder) State() State {
	return b.sm.current()
}

// warningCollector accumulates non-fatal per-file problems. Parse failures
// skip the file and land here; they never fail the run.
type warningCollector struct {
	mu       sync.Mutex
	warnings []string
}

func (c *warningCollector) Add(path string, err error) {
	if err == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.warnings = append(c.warnings, fmt.Sprintf("%s: %v", path, err))
}

func (c *warningCollector) List() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.warnings...)
}

// Rebuild runs one full or incremental rebuild and records the outcome in
// the rebuild manifest. Malformed documents are skipped with a warning;
// embedding or store failures abort the run and leave the previous index
// data in place.
func (b *Builder) Rebuild(ctx context.Context, opts RebuildOptions) (*RebuildRun, error) {
	if err := b.sm.begin(); err != nil {
		return nil, err
	}

	run := &RebuildRun{
		ID:             uuid.NewString(),
		StartedAt:      time.Now(),
		EmbeddingModel: b.embedder.Model(),
	}

	err := b.rebuild(ctx, opts, run)

	run.FinishedAt = time.Now()
	if err != nil {
		run.Status = "failed"
		run.Error = err.Error()
	} else {
		run.Status = "succeeded"
	}
	b.sm.finish(err)

	if manifest, loadErr := loadManifest(b.cfg.Paths.IndexDir); loadErr != nil {
		log.Warn().Err(loadErr).Msg("could not load rebuild manifest")
	} else {
		manifest.record(*run)
		if saveErr := manifest.save(b.cfg.Paths.IndexDir); saveErr != nil {
			log.Warn().Err(saveErr).Msg("could not save rebuild manifest")
		}
	}

	if err != nil {
		return run, err
	}
	return run, nil
}

func (b *Builder) rebuild(ctx context.Context, opts RebuildOptions, run *RebuildRun) error {
	collector := &warningCollector{}
	defer func() { run.Warnings = collector.List() }()

	// Staged inbox documents with a destination move into the corpus first,
	// so this very rebuild picks them up. A failed promotion is a warning.
	promotions, err := ingest.PromoteInbox(b.cfg.Paths.KnowledgeDir)
	if err != nil {
		collector.Add(inboxDir, err)
		log.Warn().Err(err).Msg("inbox promotion incomplete")
	}
	if len(promotions) > 0 {
		log.Info().Int("promoted", len(promotions)).Msg("promoted inbox documents")
	}

	docs, err := b.loadCorpus(collector)
	if err != nil {
		return err
	}
	run.DocumentsProcessed = len(docs)

	desired := make(map[string]kb.Card)
	var cards []kb.Card
	for _, doc := range docs {
		for _, card := range kb.ChunkDocument(doc) {
			desired[card.ChunkID] = card
			cards = append(cards, card)
		}
	}

	stored, err := b.store.Hashes(ctx)
	if err != nil {
		return fmt.Errorf("read stored hashes: %w", err)
	}

	full := opts.Full
	if !full {
		// Vectors from an older embedding model cannot be compared with new
		// ones, so a model switch forces a complete re-embed.
		manifest, err := loadManifest(b.cfg.Paths.IndexDir)
		if err != nil {
			return err
		}
		if manifest.LastSuccess != nil && manifest.LastSuccess.EmbeddingModel != b.embedder.Model() {
			log.Info().
				Str("previous", manifest.LastSuccess.EmbeddingModel).
				Str("current", b.embedder.Model()).
				Msg("embedding model changed, forcing full rebuild")
			full = true
		}
	}
	if full {
		run.Mode = "full"
	} else {
		run.Mode = "incremental"
	}

	var toEmbed []kb.Card
	for _, card := range cards {
		if full {
			toEmbed = append(toEmbed, card)
			continue
		}
		if hash, ok := stored[card.ChunkID]; !ok || hash != card.Hash {
			toEmbed = append(toEmbed, card)
		}
	}

	if opts.Reporter != nil {
		opts.Reporter.Start(len(toEmbed))
		defer opts.Reporter.Finish()
	}

	if err := b.embedAndUpsert(ctx, toEmbed, opts.Reporter); err != nil {
		return err
	}
	run.ChunksIndexed = len(toEmbed)

	var removed []string
	for id := range stored {
		if _, ok := desired[id]; !ok {
			removed = append(removed, id)
		}
	}
	if len(removed) > 0 {
		if err := b.store.Delete(ctx, removed); err != nil {
			return fmt.Errorf("remove stale chunks: %w", err)
		}
	}
	run.ChunksRemoved = len(removed)

	// The keyword index is cheap to rebuild outright, which keeps it
	// exactly in step with the vector store.
	textIdx, err := textindex.Create(filepath.Join(b.cfg.Paths.IndexDir, "text"))
	if err != nil {
		return err
	}
	defer textIdx.Close()
	if err := textIdx.IndexCards(cards); err != nil {
		return err
	}

	log.Info().
		Str("mode", run.Mode).
		Int("documents", run.DocumentsProcessed).
		Int("embedded", run.ChunksIndexed).
		Int("removed", run.ChunksRemoved).
		Int("warnings", len(collector.List())).
		Msg("rebuild complete")
	return nil
}

// loadCorpus walks the knowledge directory and parses every document.
// Files that fail to read or validate are skipped with a warning, as is
// any file that repeats an already-seen kb_id.
func (b *Builder) loadCorpus(collector *warningCollector) ([]*kb.Document, error) {
	root := b.cfg.Paths.KnowledgeDir
	matches, err := doublestar.Glob(os.DirFS(root), "**/*.md")
	if err != nil {
		return nil, fmt.Errorf("scan knowledge dir: %w", err)
	}
	sort.Strings(matches)

	var docs []*kb.Document
	seen := make(map[string]string)
	for _, rel := range matches {
		if strings.HasPrefix(rel, inboxDir+"/") {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(rel)))
		if err != nil {
			collector.Add(rel, err)
			log.Warn().Str("file", rel).Err(err).Msg("skipping unreadable file")
			continue
		}
		doc, err := kb.ParseDocument(string(raw), rel)
		if err != nil {
			var malformed *kb.MalformedDocumentError
			if errors.As(err, &malformed) {
				collector.Add(rel, err)
				log.Warn().Str("file", rel).Err(err).Msg("skipping malformed document")
				continue
			}
			return nil, err
		}
		if prev, ok := seen[doc.KBID]; ok {
			collector.Add(rel, fmt.Errorf("duplicate kb_id %q already defined in %s", doc.KBID, prev))
			log.Warn().Str("file", rel).Str("kb_id", doc.KBID).Msg("skipping duplicate kb_id")
			continue
		}
		seen[doc.KBID] = rel
		docs = append(docs, doc)
	}
	return docs, nil
}

// embedAndUpsert runs the embedding worker pool. The first error cancels
// the remaining work and aborts the run.
func (b *Builder) embedAndUpsert(ctx context.Context, cards []kb.Card, reporter ProgressReporter) error {
	if len(cards) == 0 {
		return nil
	}

	workers := b.cfg.Rebuild.MaxWorkers
	if workers <= 0 {
		workers = 1
	}
	batchSize := b.cfg.Embedding.BatchSize
	if batchSize <= 0 {
		batchSize = 32
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	jobs := make(chan []kb.Card, workers)
	var wg sync.WaitGroup
	var once sync.Once
	var runErr error
	fail := func(err error) {
		once.Do(func() {
			runErr = err
			cancel()
		})
	}

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for batch := range jobs {
				texts := make([]string, len(batch))
				for j, card := range batch {
					texts[j] = card.Text
				}
				vectors, err := b.embedder.EmbedBatch(ctx, texts)
				if err != nil {
					fail(fmt.Errorf("embed batch: %w", err))
					return
				}
				for j, card := range batch {
					rec := vectorstore.Record{
						ChunkID:  card.ChunkID,
						DocID:    card.DocID,
						Title:    card.Title,
						Text:     card.Text,
						Metadata: card.Metadata,
						Hash:     card.Hash,
						FilePath: card.FilePath,
						Vector:   vectors[j],
					}
					if err := b.store.Upsert(ctx, rec); err != nil {
						fail(fmt.Errorf("upsert %s: %w", card.ChunkID, err))
						return
					}
					if reporter != nil {
						reporter.Increment()
					}
				}
			}
		}()
	}

producer:
	for start := 0; start < len(cards); start += batchSize {
		end := start + batchSize
		if end > len(cards) {
			end = len(cards)
		}
		select {
		case jobs <- cards[start:end]:
		case <-ctx.Done():
			break producer
		}
	}
	close(jobs)
	wg.Wait()

	if runErr != nil {
		return runErr
	}
	return ctx.Err()
}
