package kb

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Card is the unit of retrieval: one heading-delimited section of a
// document, with identity and content hash derived purely from content.
type Card struct {
	ChunkID  string
	DocID    string
	Title    string
	Text     string
	Metadata map[string]string
	Hash     string
	FilePath string

	ClaimType string
	Summary   string
}

// Cards larger than this are split further on sub-headings.
const cardSplitThreshold = 1500

// Paragraph-window sizing for documents without headings.
const (
	windowMaxChars = 500
	windowMaxParas = 4
)

var (
	claimTypeRe = regexp.MustCompile(`(?i)\*\*Claim type:\*\*\s*([\w-]+)`)
	appliesToRe = regexp.MustCompile(`(?i)\*\*Applies to:\*\*\s*(.+)`)
	summaryRe   = regexp.MustCompile(`(?i)\*\*Summary:\*\*\s*(.+)`)
	fencedRe    = regexp.MustCompile("(?s)```(?:json|yaml)\\s*\\n(.+?)\\n```")
	nonSlugRe   = regexp.MustCompile(`[^a-z0-9]+`)
	spaceRe     = regexp.MustCompile(`\s+`)
)

// ChunkDocument splits a parsed document into cards. The result is a pure
// function of the document content: chunk ids, ordering and hashes never
// depend on anything outside the input.
func ChunkDocument(doc *Document) []Card {
	sections := splitSections(doc.Body)
	if len(sections) == 0 {
		sections = windowParagraphs(doc.Body)
	}

	docMeta := doc.Metadata()

	cards := make([]Card, 0, len(sections))
	seen := make(map[string]int, len(sections))
	for _, sec := range sections {
		if strings.TrimSpace(sec.body) == "" {
			continue
		}

		slug := slugify(sec.heading)
		if slug == "" {
			slug = "section"
		}
		seen[slug]++
		if n := seen[slug]; n > 1 {
			slug = fmt.Sprintf("%s-%d", slug, n)
		}

		card := Card{
			ChunkID:  doc.KBID + "#" + slug,
			DocID:    doc.KBID,
			Title:    sec.heading,
			Text:     sec.body,
			FilePath: doc.FilePath,
		}

		meta := make(map[string]string, len(docMeta)+4)
		for k, v := range docMeta {
			meta[k] = v
		}
		meta["title"] = sec.heading

		if m := claimTypeRe.FindStringSubmatch(sec.body); m != nil {
			card.ClaimType = strings.ToLower(m[1])
			meta["claim_type"] = card.ClaimType
		}
		if m := summaryRe.FindStringSubmatch(sec.body); m != nil {
			card.Summary = strings.TrimSpace(m[1])
		}
		if m := appliesToRe.FindStringSubmatch(sec.body); m != nil {
			// Card-level selectors win over document entities per key.
			for key, values := range ParseAppliesTo(m[1]) {
				meta[key] = strings.Join(values, ",")
			}
		}
		if m := fencedRe.FindStringSubmatch(sec.body); m != nil {
			meta["structured"] = m[1]
		}
		if sec.needsReview {
			meta["needs_review"] = "true"
		}

		card.Metadata = meta
		card.Hash = ContentHash(sec.body, meta)
		cards = append(cards, card)
	}

	return cards
}

type section struct {
	heading     string
	body        string
	needsReview bool
}

// splitSections cuts the body on level-2 headings; oversized sections with
// sub-headings are cut again, the sub-heading namespaced under its parent.
// Content before the first heading belongs to no card and is dropped.
func splitSections(body string) []section {
	var sections []section
	lines := strings.Split(body, "\n")

	var heading string
	var current []string
	flush := func() {
		if heading == "" {
			return
		}
		text := strings.Join(current, "\n")
		if len([]rune(text)) > cardSplitThreshold {
			sections = append(sections, splitSubSections(heading, current)...)
			return
		}
		sections = append(sections, section{heading: heading, body: text})
	}

	for _, line := range lines {
		if level, title, ok := parseHeading(line); ok && level == 2 {
			flush()
			heading = title
			current = []string{line}
			continue
		}
		if heading != "" {
			current = append(current, line)
		}
	}
	flush()

	return sections
}

// splitSubSections breaks one large section on level-3 headings. The lead
// content before the first sub-heading stays with the parent heading.
func splitSubSections(parent string, lines []string) []section {
	var sections []section

	heading := parent
	current := []string{}
	flush := func() {
		if len(current) == 0 {
			return
		}
		sections = append(sections, section{heading: heading, body: strings.Join(current, "\n")})
	}

	for _, line := range lines {
		if level, title, ok := parseHeading(line); ok && level == 3 {
			flush()
			heading = parent + " / " + title
			current = []string{line}
			continue
		}
		current = append(current, line)
	}
	flush()

	if len(sections) == 1 {
		// No sub-headings to cut on; keep the original section whole.
		sections[0].heading = parent
	}
	return sections
}

// windowParagraphs is the fallback for bodies without headings: group
// paragraphs into fixed-size windows and flag them for review instead of
// emitting one giant card.
func windowParagraphs(body string) []section {
	paragraphs := regexp.MustCompile(`\n\n+`).Split(strings.TrimSpace(body), -1)

	var sections []section
	var current []string
	length := 0
	flush := func() {
		if len(current) == 0 {
			return
		}
		n := len(sections) + 1
		sections = append(sections, section{
			heading:     fmt.Sprintf("Section %d", n),
			body:        strings.Join(current, "\n\n"),
			needsReview: true,
		})
		current = nil
		length = 0
	}

	for _, para := range paragraphs {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		current = append(current, para)
		length += len(para)
		if length > windowMaxChars || len(current) >= windowMaxParas {
			flush()
		}
	}
	flush()

	return sections
}

func parseHeading(line string) (int, string, bool) {
	trimmed := strings.TrimLeft(line, " ")
	if !strings.HasPrefix(trimmed, "#") {
		return 0, "", false
	}
	level := 0
	for level < len(trimmed) && trimmed[level] == '#' {
		level++
	}
	if level == 0 || level > 6 {
		return 0, "", false
	}
	if len(trimmed) > level && trimmed[level] != ' ' {
		return 0, "", false
	}
	title := strings.TrimSpace(trimmed[level:])
	if title == "" {
		return 0, "", false
	}
	return level, title, true
}

// ParseAppliesTo parses a selector line like
// "airline=BA, routes=LHR-JFK,LHR-EWR, cabin=business" into a key to
// values map. A comma-separated token without "=" continues the value list
// of the preceding key.
func ParseAppliesTo(text string) map[string][]string {
	selectors := make(map[string][]string)
	lastKey := ""
	for _, part := range strings.Split(text, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if key, value, found := strings.Cut(part, "="); found {
			key = strings.ToLower(strings.TrimSpace(key))
			value = strings.TrimSpace(value)
			if key == "" || value == "" {
				continue
			}
			selectors[key] = append(selectors[key], value)
			lastKey = key
		} else if lastKey != "" {
			selectors[lastKey] = append(selectors[lastKey], part)
		}
	}
	if len(selectors) == 0 {
		return nil
	}
	return selectors
}

// slugify lowercases the heading, strips punctuation and hyphenates
// whitespace runs.
func slugify(heading string) string {
	slug := strings.ToLower(heading)
	slug = nonSlugRe.ReplaceAllString(slug, "-")
	return strings.Trim(slug, "-")
}

// ContentHash computes a stable digest over normalized card text and
// metadata. Whitespace-only differences do not change the hash; any
// semantic change to text or metadata does.
func ContentHash(text string, metadata map[string]string) string {
	h := sha256.New()
	h.Write([]byte(normalizeText(text)))
	h.Write([]byte{'\n'})

	keys := make([]string, 0, len(metadata))
	for k := range metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(h, "%s=%s\n", k, metadata[k])
	}

	return hex.EncodeToString(h.Sum(nil))[:16]
}

func normalizeText(text string) string {
	return spaceRe.ReplaceAllString(strings.ToLower(strings.TrimSpace(text)), " ")
}
