// Package ingest handles how new knowledge enters the corpus: raw text is
// staged as a draft document in the inbox, and staged documents are
// promoted into their category directory once a destination is set.
package ingest

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/flightskb/flightskb/internal/kb"
)

const (
	inboxDir = "inbox"

	// destinationKey marks a staged document ready for promotion
	destinationKey = "destination_category"

	maxTitleLen = 60
)

// Options customizes a staged document
type Options struct {
	Title      string
	Type       string // default "note"
	SourceKind string // default "manual"
	SourceName string
	Tags       []string
}

type frontmatter struct {
	KBID       string              `yaml:"kb_id"`
	Type       string              `yaml:"type"`
	Title      string              `yaml:"title"`
	Created    string              `yaml:"created"`
	Updated    string              `yaml:"updated"`
	Status     string              `yaml:"status"`
	Source     kb.Source           `yaml:"source"`
	Confidence string              `yaml:"confidence"`
	Tags       []string            `yaml:"tags,omitempty"`
	Entities   map[string][]string `yaml:"entities,omitempty"`
	Extra      map[string]any      `yaml:",inline"`
}

// IngestText stages raw text as a draft document in the inbox and returns
// the path of the created file. The document gets a generated kb_id, low
// confidence and draft status; it is not indexed until promoted.
func IngestText(knowledgeDir, text string, opts Options) (string, error) {
	body := strings.TrimSpace(text)
	if body == "" {
		return "", fmt.Errorf("nothing to ingest: text is empty")
	}

	kbID := "ingest-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	title := opts.Title
	if title == "" {
		title = deriveTitle(body)
	}
	docType := opts.Type
	if docType == "" {
		docType = "note"
	}
	sourceKind := opts.SourceKind
	if sourceKind == "" {
		sourceKind = "manual"
	}
	sourceName := opts.SourceName
	if sourceName == "" {
		sourceName = "manual ingest"
	}

	// Give headingless text a single card heading so chunking has
	// something to anchor on after promotion.
	if !strings.Contains(body, "\n## ") && !strings.HasPrefix(body, "## ") {
		body = "## " + title + "\n\n" + body
	}

	today := time.Now().Format("2006-01-02")
	fm := frontmatter{
		KBID:       kbID,
		Type:       docType,
		Title:      title,
		Created:    today,
		Updated:    today,
		Status:     kb.StatusDraft,
		Source:     kb.Source{Kind: sourceKind, Name: sourceName},
		Confidence: kb.ConfidenceLow,
		Tags:       opts.Tags,
	}

	dir := filepath.Join(knowledgeDir, inboxDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create inbox dir: %w", err)
	}
	path := filepath.Join(dir, kbID+".md")
	if err := writeDocument(path, fm, body); err != nil {
		return "", err
	}

	log.Info().Str("kb_id", kbID).Str("file", path).Msg("staged document in inbox")
	return path, nil
}

// Promotion records one inbox document moved into the corpus
type Promotion struct {
	KBID     string
	Category string
	From     string
	To       string
}

// PromoteInbox moves every staged document that names a destination_category
// into knowledge/<category>/, drops the destination marker and refreshes
// the updated date. Documents without a destination stay staged; malformed
// ones are skipped with a warning.
func PromoteInbox(knowledgeDir string) ([]Promotion, error) {
	dir := filepath.Join(knowledgeDir, inboxDir)
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read inbox: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".md") {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)

	var promotions []Promotion
	for _, name := range names {
		from := filepath.Join(dir, name)
		raw, err := os.ReadFile(from)
		if err != nil {
			log.Warn().Str("file", from).Err(err).Msg("skipping unreadable inbox file")
			continue
		}
		doc, err := kb.ParseDocument(string(raw), from)
		if err != nil {
			log.Warn().Str("file", from).Err(err).Msg("skipping malformed inbox document")
			continue
		}
		category, _ := doc.Extra[destinationKey].(string)
		category = sanitizeCategory(category)
		if category == "" {
			continue
		}

		// Promotion is the review step: drafts come out reviewed.
		status := doc.Status
		if status == kb.StatusDraft {
			status = kb.StatusReviewed
		}

		fm := frontmatter{
			KBID:       doc.KBID,
			Type:       doc.Type,
			Title:      doc.Title,
			Created:    doc.Created.Format("2006-01-02"),
			Updated:    time.Now().Format("2006-01-02"),
			Status:     status,
			Source:     doc.Source,
			Confidence: doc.Confidence,
			Tags:       doc.Tags,
			Entities:   doc.Entities,
			Extra:      make(map[string]any),
		}
		for k, v := range doc.Extra {
			if k != destinationKey {
				fm.Extra[k] = v
			}
		}

		destDir := filepath.Join(knowledgeDir, category)
		if err := os.MkdirAll(destDir, 0o755); err != nil {
			return promotions, fmt.Errorf("create category dir %s: %w", category, err)
		}
		to := filepath.Join(destDir, name)
		if _, err := os.Stat(to); err == nil {
			log.Warn().Str("file", to).Msg("skipping promotion, destination already exists")
			continue
		}
		if err := writeDocument(to, fm, strings.TrimSpace(doc.Body)); err != nil {
			return promotions, err
		}
		if err := os.Remove(from); err != nil {
			return promotions, fmt.Errorf("remove staged file %s: %w", from, err)
		}

		log.Info().Str("kb_id", doc.KBID).Str("category", category).Msg("promoted document")
		promotions = append(promotions, Promotion{
			KBID:     doc.KBID,
			Category: category,
			From:     from,
			To:       to,
		})
	}
	return promotions, nil
}

func writeDocument(path string, fm frontmatter, body string) error {
	header, err := yaml.Marshal(fm)
	if err != nil {
		return fmt.Errorf("encode frontmatter: %w", err)
	}
	var sb strings.Builder
	sb.WriteString("---\n")
	sb.Write(header)
	sb.WriteString("---\n\n")
	sb.WriteString(body)
	sb.WriteString("\n")
	if err := os.WriteFile(path, []byte(sb.String()), 0o644); err != nil {
		return fmt.Errorf("write document %s: %w", path, err)
	}
	return nil
}

// deriveTitle takes the first non-empty line, stripped of heading markers
// and truncated to a sane length.
func deriveTitle(body string) string {
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(line), "#"))
		if line == "" {
			continue
		}
		runes := []rune(line)
		if len(runes) > maxTitleLen {
			return strings.TrimSpace(string(runes[:maxTitleLen]))
		}
		return line
	}
	return "Untitled"
}

// sanitizeCategory keeps promotions inside the knowledge tree
func sanitizeCategory(category string) string {
	category = strings.TrimSpace(category)
	if category == "" || strings.Contains(category, "..") ||
		strings.ContainsAny(category, `/\`) {
		return ""
	}
	return strings.ToLower(category)
}
