package retrieval

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseKeywordSearchResponseDocumentsShape(t *testing.T) {
	body := `{"hits":[{"title":"t1","content":"c1","score":0.9}]}`
	hits, err := parseKeywordSearchResponse("cardea-kwsearch-mcp-server", body)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	require.Equal(t, "c1", hits[0].Content)
	require.Equal(t, 0.9, hits[0].Score)
}

func TestParseKeywordSearchResponseTidbShape(t *testing.T) {
	body := `{"hits":[{"title":"t1","content":"c1"}]}`
	hits, err := parseKeywordSearchResponse("cardea-tidb-mcp-server", body)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	require.Equal(t, float64(0), hits[0].Score)
}

func TestParseKeywordSearchResponseElasticShape(t *testing.T) {
	body := `{"hits":{"hits":[{"_score":1.5,"_source":{"title":"t1","content":"c1"}}]}}`
	hits, err := parseKeywordSearchResponse("cardea-elastic-mcp-server", body)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	require.Equal(t, "c1", hits[0].Content)
	require.Equal(t, 1.5, hits[0].Score)
}
