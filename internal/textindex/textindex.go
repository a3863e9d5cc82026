// Package textindex maintains the keyword-search side of the knowledge
// base: a bleve index over card titles and bodies, rebuilt alongside the
// vector store.
package textindex

import (
	"fmt"
	"os"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/mapping"
	blevequery "github.com/blevesearch/bleve/v2/search/query"

	"github.com/flightskb/flightskb/internal/kb"
)

// Hit is one keyword match
type Hit struct {
	ChunkID string
	DocID   string
	Title   string
	Score   float64
}

type indexDoc struct {
	DocID   string `json:"doc_id"`
	Title   string `json:"title"`
	Content string `json:"content"`
	Type    string `json:"type"`
}

// Index wraps a bleve index over the card corpus
type Index struct {
	index bleve.Index
}

// Create wipes dir and builds a fresh index
func Create(dir string) (*Index, error) {
	if err := os.RemoveAll(dir); err != nil {
		return nil, fmt.Errorf("reset text index dir: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create text index dir: %w", err)
	}
	index, err := bleve.New(dir, buildIndexMapping())
	if err != nil {
		return nil, fmt.Errorf("create bleve index: %w", err)
	}
	return &Index{index: index}, nil
}

// Open opens an existing index at dir
func Open(dir string) (*Index, error) {
	index, err := bleve.Open(dir)
	if err != nil {
		return nil, fmt.Errorf("open bleve index: %w", err)
	}
	return &Index{index: index}, nil
}

func buildIndexMapping() mapping.IndexMapping {
	indexMapping := bleve.NewIndexMapping()
	indexMapping.DefaultAnalyzer = "en"
	indexMapping.DefaultField = "content"

	docMapping := bleve.NewDocumentMapping()

	contentField := bleve.NewTextFieldMapping()
	contentField.Store = false
	contentField.Index = true
	docMapping.AddFieldMappingsAt("content", contentField)

	titleField := bleve.NewTextFieldMapping()
	titleField.Store = true
	titleField.Index = true
	docMapping.AddFieldMappingsAt("title", titleField)

	docIDField := bleve.NewTextFieldMapping()
	docIDField.Store = true
	docIDField.Index = true
	docIDField.Analyzer = "keyword"
	docMapping.AddFieldMappingsAt("doc_id", docIDField)

	typeField := bleve.NewTextFieldMapping()
	typeField.Store = true
	typeField.Index = true
	typeField.Analyzer = "keyword"
	docMapping.AddFieldMappingsAt("type", typeField)

	indexMapping.DefaultMapping = docMapping
	return indexMapping
}

// IndexCards adds the cards in one bleve batch
func (ix *Index) IndexCards(cards []kb.Card) error {
	batch := ix.index.NewBatch()
	for _, card := range cards {
		doc := indexDoc{
			DocID:   card.DocID,
			Title:   card.Title,
			Content: card.Text,
			Type:    card.Metadata["type"],
		}
		if err := batch.Index(card.ChunkID, doc); err != nil {
			return fmt.Errorf("index card %s: %w", card.ChunkID, err)
		}
	}
	if err := ix.index.Batch(batch); err != nil {
		return fmt.Errorf("apply index batch: %w", err)
	}
	return nil
}

// Delete removes the given chunk ids
func (ix *Index) Delete(ids []string) error {
	batch := ix.index.NewBatch()
	for _, id := range ids {
		batch.Delete(id)
	}
	if err := ix.index.Batch(batch); err != nil {
		return fmt.Errorf("apply delete batch: %w", err)
	}
	return nil
}

// Search runs a match query over content and title, title boosted
func (ix *Index) Search(text string, topK int) ([]Hit, error) {
	if topK <= 0 {
		topK = 10
	}

	contentQuery := bleve.NewMatchQuery(text)
	contentQuery.SetField("content")
	contentQuery.SetBoost(1.0)
	titleQuery := bleve.NewMatchQuery(text)
	titleQuery.SetField("title")
	titleQuery.SetBoost(2.0)

	disjunction := bleve.NewDisjunctionQuery([]blevequery.Query{contentQuery, titleQuery}...)

	req := bleve.NewSearchRequestOptions(disjunction, topK, 0, false)
	req.Fields = []string{"doc_id", "title"}

	res, err := ix.index.Search(req)
	if err != nil {
		return nil, fmt.Errorf("text search: %w", err)
	}

	var hits []Hit
	for _, hit := range res.Hits {
		docID, _ := hit.Fields["doc_id"].(string)
		title, _ := hit.Fields["title"].(string)
		hits = append(hits, Hit{
			ChunkID: hit.ID,
			DocID:   docID,
			Title:   title,
			Score:   hit.Score,
		})
	}
	return hits, nil
}

// Count returns the number of indexed cards
func (ix *Index) Count() (uint64, error) {
	return ix.index.DocCount()
}

// Close releases the underlying index
func (ix *Index) Close() error {
	return ix.index.Close()
}
