package streaming

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/llamaedge/nexus-gateway/internal/downstream"
)

type bufWriter struct {
	bytes.Buffer
	flushes int
}

func (b *bufWriter) Flush() { b.flushes++ }

func TestWriteStreamEndsWithDoneSentinel(t *testing.T) {
	w := &bufWriter{}
	usage := downstream.Usage{PromptTokens: 1, CompletionTokens: 2, TotalTokens: 3}
	err := WriteStream(w, "chatcmpl-1", "gpt-test", "hello world", usage, 5, 1700000000)
	require.NoError(t, err)
	require.True(t, strings.HasSuffix(w.String(), "data: [DONE]\n\n"))
}

func TestWriteStreamLastFrameCarriesFinishReasonAndUsage(t *testing.T) {
	w := &bufWriter{}
	usage := downstream.Usage{PromptTokens: 1, CompletionTokens: 2, TotalTokens: 3}
	require.NoError(t, WriteStream(w, "chatcmpl-1", "gpt-test", "hi there", usage, 5, 1700000000))

	frames := extractFrames(t, w.String())
	require.NotEmpty(t, frames)
	last := frames[len(frames)-1]
	require.NotNil(t, last.Choices[0].FinishReason)
	require.Equal(t, "stop", *last.Choices[0].FinishReason)
	require.Equal(t, usage, *last.Usage)
	require.Equal(t, SystemFingerprint, last.SystemFingerprint)
}

func TestWriteStreamConcatenatedDeltasReconstructText(t *testing.T) {
	w := &bufWriter{}
	usage := downstream.Usage{}
	text := "the quick brown fox jumps over the lazy dog"
	require.NoError(t, WriteStream(w, "chatcmpl-1", "gpt-test", text, usage, 5, 1700000000))

	frames := extractFrames(t, w.String())
	var rebuilt strings.Builder
	for _, f := range frames {
		rebuilt.WriteString(f.Choices[0].Delta.Content)
	}
	require.Equal(t, text, rebuilt.String())
}

func extractFrames(t *testing.T, body string) []ChatCompletionChunk {
	t.Helper()
	var frames []ChatCompletionChunk
	for _, line := range strings.Split(body, "\n\n") {
		line = strings.TrimSpace(line)
		if line == "" || line == "data: [DONE]" {
			continue
		}
		payload := strings.TrimPrefix(line, "data: ")
		var chunk ChatCompletionChunk
		require.NoError(t, json.Unmarshal([]byte(payload), &chunk))
		frames = append(frames, chunk)
	}
	return frames
}
