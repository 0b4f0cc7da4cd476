package streaming

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/llamaedge/nexus-gateway/internal/downstream"
)

// SystemFingerprint is the literal value every chunk carries (spec §6).
const SystemFingerprint = "fp_44709d6fcb"

// ChunkDelta is the incremental content of one streamed chat completion chunk.
type ChunkDelta struct {
	Role    string `json:"role,omitempty"`
	Content string `json:"content,omitempty"`
}

// ChunkChoice is the single choice carried by a ChatCompletionChunk.
type ChunkChoice struct {
	Index        int        `json:"index"`
	Delta        ChunkDelta `json:"delta"`
	FinishReason *string    `json:"finish_reason"`
}

// ChatCompletionChunk is one SSE frame's JSON payload.
type ChatCompletionChunk struct {
	ID                string             `json:"id"`
	Object            string             `json:"object"`
	Created           int64              `json:"created"`
	Model             string             `json:"model"`
	SystemFingerprint string             `json:"system_fingerprint"`
	Choices           []ChunkChoice      `json:"choices"`
	Usage             *downstream.Usage  `json:"usage,omitempty"`
}

// Writer abstracts the subset of http.ResponseWriter the SSE adapter needs,
// so it can be driven by an echo.Response or any http.ResponseWriter with a
// Flusher, matching the teacher's completions.go streaming handler idiom.
type Writer interface {
	io.Writer
	http.Flusher
}

// SetHeaders applies the SSE response headers (spec §6 / §4.G).
func SetHeaders(h http.Header) {
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
}

// WriteStream chunks assistantText (spec §4.G chunking rule) and writes one
// SSE frame per chunk, a terminal frame carrying finish_reason=stop and the
// original usage, then the final [DONE] sentinel.
func WriteStream(w Writer, chatID, model string, assistantText string, usage downstream.Usage, chunkSize int, createdUnix int64) error {
	chunks := Chunk(assistantText, chunkSize)
	if len(chunks) == 0 {
		chunks = []string{""}
	}

	for i, c := range chunks {
		chunk := ChatCompletionChunk{
			ID:                chatID,
			Object:            "chat.completion.chunk",
			Created:           createdUnix,
			Model:             model,
			SystemFingerprint: SystemFingerprint,
			Choices: []ChunkChoice{{
				Index: 0,
				Delta: ChunkDelta{Role: "assistant", Content: c},
			}},
		}
		if i == len(chunks)-1 {
			stop := "stop"
			chunk.Choices[0].FinishReason = &stop
			chunk.Usage = &usage
		}
		if err := writeFrame(w, chunk); err != nil {
			return err
		}
	}

	if _, err := fmt.Fprint(w, "data: [DONE]\n\n"); err != nil {
		return err
	}
	w.Flush()
	return nil
}

func writeFrame(w Writer, chunk ChatCompletionChunk) error {
	body, err := json.Marshal(chunk)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", body); err != nil {
		return err
	}
	w.Flush()
	return nil
}
