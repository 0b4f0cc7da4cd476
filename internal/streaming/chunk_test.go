package streaming

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestChunkRoundTripsToOriginalText(t *testing.T) {
	samples := []string{
		"hello world, this is a longer sentence to split into pieces",
		"one\ntwo\nthree\nfour is a longer word here",
		"",
		"short",
		"  leading and trailing whitespace   \n",
		"noSpacesAtAllHereJustOneLongTokenThatExceedsChunkSize",
	}
	for _, s := range samples {
		chunks := Chunk(s, 10)
		require.Equal(t, s, strings.Join(chunks, ""))
	}
}

func TestChunkNeverSplitsInsideAWord(t *testing.T) {
	text := "the quick brown fox jumps over the lazy dog"
	chunks := Chunk(text, 5)
	require.Equal(t, text, strings.Join(chunks, ""))
	for _, c := range chunks[:len(chunks)-1] {
		last := rune(c[len(c)-1])
		require.True(t, last == ' ' || last == '\n', "chunk %q must end on a whitespace boundary", c)
	}
}

func TestChunkIncludesExactlyOneTrailingNewline(t *testing.T) {
	chunks := Chunk("abcdefghij\n\n\nmore", 10)
	require.Equal(t, "abcdefghij\n", chunks[0])
}
