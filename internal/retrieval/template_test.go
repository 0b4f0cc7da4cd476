package retrieval

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/llamaedge/nexus-gateway/internal/downstream"
)

func TestMergeContextSystemMessageInsertsWhenAbsent(t *testing.T) {
	messages := []downstream.ChatMessage{{Role: "user", Content: "hi"}}
	out := MergeContext(messages, "some fact", PolicySystemMessage, true)
	require.Len(t, out, 2)
	require.Equal(t, "system", out[0].Role)
	require.Contains(t, out[0].Content, "BEGIN CONTEXT")
	require.Contains(t, out[0].Content, "some fact")
	require.Equal(t, "hi", out[1].Content) // user message untouched
}

func TestMergeContextSystemMessageReplacesExisting(t *testing.T) {
	messages := []downstream.ChatMessage{
		{Role: "system", Content: "old"},
		{Role: "user", Content: "hi"},
	}
	out := MergeContext(messages, "fact", PolicySystemMessage, true)
	require.Len(t, out, 2)
	require.Contains(t, out[0].Content, "fact")
	require.NotContains(t, out[0].Content, "old")
}

func TestMergeContextDowngradesWhenSystemUnsupported(t *testing.T) {
	messages := []downstream.ChatMessage{{Role: "user", Content: "hi"}}
	out := MergeContext(messages, "fact", PolicySystemMessage, false)
	require.Len(t, out, 1)
	require.Equal(t, "user", out[0].Role)
	require.True(t, strings.HasSuffix(out[0].Content, "The question is:\nhi"))
}

func TestMergeContextLastUserMessageWrapsTail(t *testing.T) {
	messages := []downstream.ChatMessage{
		{Role: "user", Content: "first"},
		{Role: "assistant", Content: "reply"},
		{Role: "user", Content: "second"},
	}
	out := MergeContext(messages, "fact", PolicyLastUserMessage, true)
	require.Equal(t, "first", out[0].Content)
	require.True(t, strings.HasSuffix(out[2].Content, "The question is:\nsecond"))
}
