package textindex

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flightskb/flightskb/internal/kb"
)

func testCards() []kb.Card {
	return []kb.Card{
		{
			ChunkID:  "baggage#carry-on-limits",
			DocID:    "baggage",
			Title:    "Carry-on limits",
			Text:     "Most airlines allow one carry-on bag up to 7kg in economy.",
			Metadata: map[string]string{"type": "policy"},
		},
		{
			ChunkID:  "baggage#checked-bag-fees",
			DocID:    "baggage",
			Title:    "Checked bag fees",
			Text:     "Checked baggage fees vary by airline and fare class.",
			Metadata: map[string]string{"type": "fact"},
		},
		{
			ChunkID:  "visas#transit-rules",
			DocID:    "visas",
			Title:    "Transit visa rules",
			Text:     "Some countries require a transit visa even for airside connections.",
			Metadata: map[string]string{"type": "policy"},
		},
	}
}

func TestCreateIndexAndSearch(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "text")
	ix, err := Create(dir)
	require.NoError(t, err)
	defer ix.Close()

	require.NoError(t, ix.IndexCards(testCards()))

	count, err := ix.Count()
	require.NoError(t, err)
	assert.Equal(t, uint64(3), count)

	hits, err := ix.Search("carry-on baggage", 5)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, "baggage#carry-on-limits", hits[0].ChunkID)
	assert.Equal(t, "baggage", hits[0].DocID)
	assert.Equal(t, "Carry-on limits", hits[0].Title)
}

func TestSearchRespectsTopK(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "text")
	ix, err := Create(dir)
	require.NoError(t, err)
	defer ix.Close()

	require.NoError(t, ix.IndexCards(testCards()))

	hits, err := ix.Search("baggage", 1)
	require.NoError(t, err)
	assert.Len(t, hits, 1)
}

func TestDelete(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "text")
	ix, err := Create(dir)
	require.NoError(t, err)
	defer ix.Close()

	require.NoError(t, ix.IndexCards(testCards()))
	require.NoError(t, ix.Delete([]string{"visas#transit-rules"}))

	count, err := ix.Count()
	require.NoError(t, err)
	assert.Equal(t, uint64(2), count)

	hits, err := ix.Search("transit visa", 5)
	require.NoError(t, err)
	for _, hit := range hits {
		assert.NotEqual(t, "visas#transit-rules", hit.ChunkID)
	}
}

func TestCreateResetsExistingIndex(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "text")
	ix, err := Create(dir)
	require.NoError(t, err)
	require.NoError(t, ix.IndexCards(testCards()))
	require.NoError(t, ix.Close())

	ix, err = Create(dir)
	require.NoError(t, err)
	defer ix.Close()

	count, err := ix.Count()
	require.NoError(t, err)
	assert.Equal(t, uint64(0), count)
}
