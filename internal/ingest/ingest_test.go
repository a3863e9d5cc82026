package ingest

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flightskb/flightskb/internal/kb"
)

func TestIngestTextStagesDraft(t *testing.T) {
	dir := t.TempDir()

	path, err := IngestText(dir, "Airlines often waive change fees during major disruptions.", Options{
		SourceName: "support call notes",
	})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(path, filepath.Join(dir, "inbox")))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	doc, err := kb.ParseDocument(string(raw), path)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(doc.KBID, "ingest-"))
	assert.Equal(t, "note", doc.Type)
	assert.Equal(t, kb.StatusDraft, doc.Status)
	assert.Equal(t, kb.ConfidenceLow, doc.Confidence)
	assert.Equal(t, "manual", doc.Source.Kind)
	assert.Equal(t, "support call notes", doc.Source.Name)
	assert.Contains(t, doc.Body, "## ")

	cards := kb.ChunkDocument(doc)
	require.Len(t, cards, 1)
}

func TestIngestTextKeepsExistingHeadings(t *testing.T) {
	dir := t.TempDir()

	path, err := IngestText(dir, "## Change fees\n\nOften waived during disruptions.", Options{})
	require.NoError(t, err)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	doc, err := kb.ParseDocument(string(raw), path)
	require.NoError(t, err)
	assert.Equal(t, "Change fees", doc.Title)
	assert.Equal(t, 1, strings.Count(doc.Body, "## "))
}

func TestIngestTextRejectsEmpty(t *testing.T) {
	_, err := IngestText(t.TempDir(), "   \n  ", Options{})
	require.Error(t, err)
}

func TestPromoteInboxMovesDocuments(t *testing.T) {
	dir := t.TempDir()

	path, err := IngestText(dir, "Checked bags over 23kg incur heavy bag fees.", Options{Title: "Heavy bag fees"})
	require.NoError(t, err)

	// Nothing promotes until a destination is set.
	promotions, err := PromoteInbox(dir)
	require.NoError(t, err)
	assert.Empty(t, promotions)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	staged := strings.Replace(string(raw), "---\n\n", "destination_category: baggage\n---\n\n", 1)
	require.NoError(t, os.WriteFile(path, []byte(staged), 0o644))

	promotions, err = PromoteInbox(dir)
	require.NoError(t, err)
	require.Len(t, promotions, 1)
	assert.Equal(t, "baggage", promotions[0].Category)

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))

	moved, err := os.ReadFile(promotions[0].To)
	require.NoError(t, err)
	doc, err := kb.ParseDocument(string(moved), promotions[0].To)
	require.NoError(t, err)
	assert.Equal(t, kb.StatusReviewed, doc.Status)
	assert.NotContains(t, doc.Extra, "destination_category")
	assert.Equal(t, "Heavy bag fees", doc.Title)
}

func TestPromoteInboxSkipsMalformed(t *testing.T) {
	dir := t.TempDir()
	inbox := filepath.Join(dir, "inbox")
	require.NoError(t, os.MkdirAll(inbox, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(inbox, "broken.md"),
		[]byte("no frontmatter here"), 0o644))

	promotions, err := PromoteInbox(dir)
	require.NoError(t, err)
	assert.Empty(t, promotions)

	// The broken file stays put for manual attention.
	_, err = os.Stat(filepath.Join(inbox, "broken.md"))
	assert.NoError(t, err)
}

func TestPromoteInboxRejectsPathEscapes(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"baggage", "baggage"},
		{"  Visas  ", "visas"},
		{"../etc", ""},
		{"a/b", ""},
		{`a\b`, ""},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, sanitizeCategory(tt.in), tt.in)
	}
}

func TestDeriveTitle(t *testing.T) {
	assert.Equal(t, "Heavy bag fees", deriveTitle("# Heavy bag fees\n\nbody"))
	assert.Equal(t, "Untitled", deriveTitle("   "))
	long := strings.Repeat("x", 100)
	assert.Len(t, deriveTitle(long), 60)
}
