package indexer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectStats(t *testing.T) {
	cfg := testConfig(t)
	builder, store := newTestBuilder(t, cfg, &countingClient{})

	writeDoc(t, cfg.Paths.KnowledgeDir, "baggage/allowances.md", "baggage-allowances",
		"\n## Carry-on\n\nOne bag.\n\n## Checked\n\nTwo bags.\n")
	writeDoc(t, cfg.Paths.KnowledgeDir, "visas/transit.md", "transit-visas",
		"\n## Airside\n\nVaries.\n")

	_, err := builder.Rebuild(context.Background(), RebuildOptions{})
	require.NoError(t, err)

	stats, err := CollectStats(context.Background(), store, cfg.Paths.IndexDir)
	require.NoError(t, err)

	assert.Equal(t, 3, stats.Chunks)
	assert.Equal(t, 2, stats.Documents)
	assert.Equal(t, 3, stats.ByType["policy"])
	assert.Equal(t, 2, stats.ByCategory["baggage"])
	assert.Equal(t, 1, stats.ByCategory["visas"])
	assert.Equal(t, 3, stats.ByConfidence["high"])
	assert.Equal(t, 3, stats.ByStatus["reviewed"])
	require.NotNil(t, stats.LastRun)
	assert.Equal(t, "succeeded", stats.LastRun.Status)
}

func TestCategoryOf(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"baggage/allowances.md", "baggage"},
		{"baggage/europe/uk.md", "baggage"},
		{"toplevel.md", "uncategorized"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, categoryOf(tt.path), tt.path)
	}
}
