package retrieval

import (
	"encoding/json"
	"fmt"
	"strings"
)

// documentsHitResponse is the "gaia-kwsearch-mcp-server" shape: a flat list
// of hits each carrying title, content and score.
type documentsHitResponse struct {
	Hits []struct {
		Title   string  `json:"title"`
		Content string  `json:"content"`
		Score   float64 `json:"score"`
	} `json:"hits"`
}

// tidbHitResponse is the "gaia-tidb-mcp-server" shape: hits carry no score.
type tidbHitResponse struct {
	Hits []struct {
		Title   string `json:"title"`
		Content string `json:"content"`
	} `json:"hits"`
}

// elasticHitResponse is the "gaia-elastic-mcp-server" shape: a nested
// hits.hits envelope with _score/_source, Elasticsearch's native wire shape.
type elasticHitResponse struct {
	Hits struct {
		Hits []struct {
			Score  float64 `json:"_score"`
			Source struct {
				Title   string `json:"title"`
				Content string `json:"content"`
			} `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

// parseKeywordSearchResponse dispatches to the recognized response shape by
// a substring match on the keyword server's configured pool name, ported from
// original_source/src/rag.rs's call_keyword_search_mcp_server_new, which
// matches on the MCP peer's server_info.name.
func parseKeywordSearchResponse(serverName, body string) ([]keywordHit, error) {
	lower := strings.ToLower(serverName)
	switch {
	case strings.Contains(lower, "tidb"):
		var parsed tidbHitResponse
		if err := json.Unmarshal([]byte(body), &parsed); err != nil {
			return nil, fmt.Errorf("parsing tidb-shaped keyword search response: %w", err)
		}
		out := make([]keywordHit, 0, len(parsed.Hits))
		for _, h := range parsed.Hits {
			out = append(out, keywordHit{Title: h.Title, Content: h.Content, Score: 0})
		}
		return out, nil

	case strings.Contains(lower, "elastic"):
		var parsed elasticHitResponse
		if err := json.Unmarshal([]byte(body), &parsed); err != nil {
			return nil, fmt.Errorf("parsing elastic-shaped keyword search response: %w", err)
		}
		out := make([]keywordHit, 0, len(parsed.Hits.Hits))
		for _, h := range parsed.Hits.Hits {
			out = append(out, keywordHit{Title: h.Source.Title, Content: h.Source.Content, Score: h.Score})
		}
		return out, nil

	default: // "kwsearch" / "qdrant" / "agentic-search" and any other name: documents-hit list
		var parsed documentsHitResponse
		if err := json.Unmarshal([]byte(body), &parsed); err != nil {
			return nil, fmt.Errorf("parsing documents-hit keyword search response: %w", err)
		}
		out := make([]keywordHit, 0, len(parsed.Hits))
		for _, h := range parsed.Hits {
			out = append(out, keywordHit{Title: h.Title, Content: h.Content, Score: h.Score})
		}
		return out, nil
	}
}
