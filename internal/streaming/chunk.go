// Package streaming synthesizes an SSE stream from a single non-streamed
// assistant response (spec §4.G), since every downstream call is forced to
// stream=false and the gateway fakes streaming at the edge.
package streaming

import "unicode"

// Chunk splits text into pieces honoring the round-trip invariant
// concat(chunks) == text: greedily accumulate scalars until the running
// chunk reaches size, then extend to the next whitespace boundary, absorb
// any run of non-newline whitespace, and include exactly one trailing
// newline if present. Word and newline boundaries are never split.
func Chunk(text string, size int) []string {
	if size <= 0 {
		size = 1
	}
	runes := []rune(text)
	var chunks []string

	i := 0
	for i < len(runes) {
		end := i + size
		if end > len(runes) {
			end = len(runes)
		}
		// extend to the next whitespace boundary
		for end < len(runes) && !unicode.IsSpace(runes[end]) {
			end++
		}
		// absorb a run of non-newline whitespace
		for end < len(runes) && unicode.IsSpace(runes[end]) && runes[end] != '\n' {
			end++
		}
		// include exactly one trailing newline if present
		if end < len(runes) && runes[end] == '\n' {
			end++
		}
		chunks = append(chunks, string(runes[i:end]))
		i = end
	}
	return chunks
}
