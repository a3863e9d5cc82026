// Package kb holds the knowledge-base document model: frontmatter-headed
// Markdown files split into heading-delimited cards.
package kb

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Document statuses accepted in frontmatter.
const (
	StatusDraft      = "draft"
	StatusReviewed   = "reviewed"
	StatusDeprecated = "deprecated"
)

// Confidence levels accepted in frontmatter.
const (
	ConfidenceLow    = "low"
	ConfidenceMedium = "medium"
	ConfidenceHigh   = "high"
)

var requiredFields = []string{"kb_id", "type", "title", "created", "updated", "status", "source", "confidence"}

// Source records the provenance of a document
type Source struct {
	Kind      string `yaml:"kind"`
	Name      string `yaml:"name"`
	URL       string `yaml:"url,omitempty"`
	Retrieved string `yaml:"retrieved,omitempty"`
}

// Document is one knowledge file: a validated frontmatter header plus the
// raw Markdown body. Optional and unknown header keys are carried in Extra
// without validation.
type Document struct {
	KBID       string
	Type       string
	Title      string
	Created    time.Time
	Updated    time.Time
	Status     string
	Source     Source
	Confidence string

	Tags     []string
	Entities map[string][]string
	Extra    map[string]any

	Body     string
	FilePath string
}

// MalformedDocumentError reports a document whose frontmatter failed
// validation. It names the file and the offending field so callers can
// skip the file and surface an actionable warning.
type MalformedDocumentError struct {
	File   string
	Field  string
	Reason string
}

func (e *MalformedDocumentError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("malformed document %s: field %q: %s", e.File, e.Field, e.Reason)
	}
	return fmt.Sprintf("malformed document %s: %s", e.File, e.Reason)
}

// ParseDocument parses the raw text of one source file. It is a pure
// function of its input: no filesystem access, no side effects.
func ParseDocument(raw, filePath string) (*Document, error) {
	header, body, err := splitFrontmatter(raw)
	if err != nil {
		return nil, &MalformedDocumentError{File: filePath, Reason: err.Error()}
	}

	var fm map[string]any
	if err := yaml.Unmarshal([]byte(header), &fm); err != nil {
		return nil, &MalformedDocumentError{File: filePath, Reason: fmt.Sprintf("invalid frontmatter yaml: %v", err)}
	}

	for _, field := range requiredFields {
		if v, ok := fm[field]; !ok || v == nil {
			return nil, &MalformedDocumentError{File: filePath, Field: field, Reason: "missing required field"}
		}
	}

	doc := &Document{
		Body:     body,
		FilePath: filePath,
		Extra:    map[string]any{},
	}

	var ferr *MalformedDocumentError
	doc.KBID, ferr = stringField(fm, "kb_id", filePath)
	if ferr != nil {
		return nil, ferr
	}
	doc.Type, ferr = stringField(fm, "type", filePath)
	if ferr != nil {
		return nil, ferr
	}
	doc.Title, ferr = stringField(fm, "title", filePath)
	if ferr != nil {
		return nil, ferr
	}
	doc.Status, ferr = stringField(fm, "status", filePath)
	if ferr != nil {
		return nil, ferr
	}
	doc.Confidence, ferr = stringField(fm, "confidence", filePath)
	if ferr != nil {
		return nil, ferr
	}

	switch doc.Status {
	case StatusDraft, StatusReviewed, StatusDeprecated:
	default:
		return nil, &MalformedDocumentError{File: filePath, Field: "status", Reason: fmt.Sprintf("invalid value %q", doc.Status)}
	}
	switch doc.Confidence {
	case ConfidenceLow, ConfidenceMedium, ConfidenceHigh:
	default:
		return nil, &MalformedDocumentError{File: filePath, Field: "confidence", Reason: fmt.Sprintf("invalid value %q", doc.Confidence)}
	}

	doc.Created, ferr = dateField(fm, "created", filePath)
	if ferr != nil {
		return nil, ferr
	}
	doc.Updated, ferr = dateField(fm, "updated", filePath)
	if ferr != nil {
		return nil, ferr
	}

	src, ok := fm["source"].(map[string]any)
	if !ok {
		return nil, &MalformedDocumentError{File: filePath, Field: "source", Reason: "must be a mapping"}
	}
	doc.Source.Kind = asString(src["kind"])
	doc.Source.Name = asString(src["name"])
	doc.Source.URL = asString(src["url"])
	doc.Source.Retrieved = asString(src["retrieved"])
	if doc.Source.Kind == "" || doc.Source.Name == "" {
		return nil, &MalformedDocumentError{File: filePath, Field: "source", Reason: "kind and name are required"}
	}

	doc.Tags = asStringList(fm["tags"])
	doc.Entities = asEntityMap(fm["entities"])

	// Everything else passes through unvalidated.
	known := map[string]bool{
		"kb_id": true, "type": true, "title": true, "created": true,
		"updated": true, "status": true, "source": true, "confidence": true,
		"tags": true, "entities": true,
	}
	for k, v := range fm {
		if !known[k] {
			doc.Extra[k] = v
		}
	}

	return doc, nil
}

// Metadata flattens document-level fields into the metadata map carried on
// every card of this document. List values are comma-joined.
func (d *Document) Metadata() map[string]string {
	meta := map[string]string{
		"kb_id":       d.KBID,
		"type":        d.Type,
		"title":       d.Title,
		"status":      d.Status,
		"confidence":  d.Confidence,
		"source_kind": d.Source.Kind,
	}
	if d.FilePath != "" {
		meta["file_path"] = d.FilePath
	}
	if len(d.Tags) > 0 {
		meta["tags"] = strings.Join(d.Tags, ",")
	}
	for key, values := range d.Entities {
		if len(values) > 0 {
			meta[key] = strings.Join(values, ",")
		}
	}
	return meta
}

// splitFrontmatter separates the leading "---" delimited header block from
// the Markdown body.
func splitFrontmatter(raw string) (header, body string, err error) {
	normalized := strings.ReplaceAll(raw, "\r\n", "\n")
	if !strings.HasPrefix(normalized, "---\n") {
		return "", "", fmt.Errorf("missing frontmatter block")
	}
	rest := normalized[len("---\n"):]
	idx := strings.Index(rest, "\n---")
	if idx < 0 {
		return "", "", fmt.Errorf("unterminated frontmatter block")
	}
	header = rest[:idx]
	body = rest[idx+len("\n---"):]
	body = strings.TrimPrefix(body, "\n")
	return header, body, nil
}

func stringField(fm map[string]any, field, file string) (string, *MalformedDocumentError) {
	s := asString(fm[field])
	if strings.TrimSpace(s) == "" {
		return "", &MalformedDocumentError{File: file, Field: field, Reason: "must be a non-empty string"}
	}
	return s, nil
}

func dateField(fm map[string]any, field, file string) (time.Time, *MalformedDocumentError) {
	switch v := fm[field].(type) {
	case time.Time:
		return v, nil
	case string:
		t, err := time.Parse("2006-01-02", v)
		if err != nil {
			return time.Time{}, &MalformedDocumentError{File: file, Field: field, Reason: fmt.Sprintf("invalid date %q", v)}
		}
		return t, nil
	default:
		return time.Time{}, &MalformedDocumentError{File: file, Field: field, Reason: "must be a YYYY-MM-DD date"}
	}
}

func asString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", s)
	}
}

func asStringList(v any) []string {
	switch list := v.(type) {
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			if s := asString(item); s != "" {
				out = append(out, s)
			}
		}
		return out
	case string:
		if list == "" {
			return nil
		}
		return []string{list}
	default:
		return nil
	}
}

func asEntityMap(v any) map[string][]string {
	m, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	out := make(map[string][]string, len(m))
	for key, val := range m {
		if values := asStringList(val); len(values) > 0 {
			out[key] = values
		}
	}
	return out
}
