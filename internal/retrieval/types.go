// Package retrieval implements the hybrid vector+keyword retrieval engine
// (spec §4.D): parallel search over an optional vector tool server and an
// optional keyword tool server, score fusion, and context assembly/merge
// into a chat request. Grounded on original_source/src/rag.rs, translated
// from the source's direct rmcp peer calls to the gateway's toolpool.Pool.
package retrieval

// MergePolicy selects how assembled context is folded into a chat request.
type MergePolicy string

const (
	PolicySystemMessage   MergePolicy = "system-message"
	PolicyLastUserMessage MergePolicy = "last-user-message"
)

// Point is one retrieved passage, tagged with which search produced it.
type Point struct {
	Source string
	Score  float64
	Origin string // "keyword" or "vector"
}

// keywordHit is one hit from a keyword-search tool server, normalized across
// the three recognized response shapes (documents-hit list, elastic-style
// hits envelope, tidb-style hits list).
type keywordHit struct {
	Title   string
	Content string
	Score   float64
}

// vectorPoint is one hit from a vector-search tool server's search_points call.
type vectorPoint struct {
	Source string
	Score  float64
}

const noContextRetrieved = "No context retrieved"

// ContextTemplate is the fixed wrapper the source always uses to present
// retrieved context to the model (spec §4.D step 6), quoted verbatim.
const ContextTemplate = "You are a helpful AI assistant. Please answer the user question based on the information between **---BEGIN CONTEXT---** and **---END CONTEXT---**. Do not use any external knowledge. If the information between **---BEGIN CONTEXT---** and **---END CONTEXT---** is empty, please respond with `No relevant information found in the current knowledge base`.\n\n---BEGIN CONTEXT---\n\n%s\n\n---END CONTEXT---"
