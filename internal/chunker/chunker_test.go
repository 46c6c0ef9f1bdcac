package chunker

import (
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	"financerag/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunk_ReportScenario(t *testing.T) {
	text := strings.Repeat("a", 2400)

	windows, err := Chunk(text, 1000, 200)
	require.NoError(t, err)
	require.Len(t, windows, 3)

	want := [][2]int{{0, 1000}, {800, 1800}, {1600, 2400}}
	for i, w := range windows {
		assert.Equal(t, i, w.Index)
		assert.Equal(t, want[i][0], w.Start)
		assert.Equal(t, want[i][1], w.End)
		assert.Len(t, []rune(w.Text), w.End-w.Start)
	}
}

func TestChunk_ShortText(t *testing.T) {
	windows, err := Chunk("quarterly revenue grew", 1000, 200)
	require.NoError(t, err)
	require.Len(t, windows, 1)
	assert.Equal(t, 0, windows[0].Start)
	assert.Equal(t, 22, windows[0].End)
}

func TestChunk_Empty(t *testing.T) {
	windows, err := Chunk("", 1000, 200)
	require.NoError(t, err)
	assert.Empty(t, windows)
}

func TestChunk_InvalidConfig(t *testing.T) {
	for _, tc := range []struct{ size, overlap int }{
		{100, 100},
		{100, 150},
		{0, 0},
		{-5, 0},
		{100, -1},
	} {
		_, err := Chunk("text", tc.size, tc.overlap)
		assert.ErrorIs(t, err, models.ErrInvalidChunkConfig, "size=%d overlap=%d", tc.size, tc.overlap)
	}
}

func TestChunk_RuneOffsets(t *testing.T) {
	text := strings.Repeat("€", 25)

	windows, err := Chunk(text, 10, 3)
	require.NoError(t, err)
	for _, w := range windows {
		assert.Equal(t, string([]rune(text)[w.Start:w.End]), w.Text)
	}
}

// financeText returns n runes of varied, multi-byte text.
func financeText(n int) string {
	words := []string{"revenue", "Umsatz", "€", "margin", "净利润", "EBITDA", "±", "guidance", "ф", "Q3"}
	var b strings.Builder
	for i := 0; utf8.RuneCountInString(b.String()) < n; i++ {
		fmt.Fprintf(&b, "%s %d. ", words[(i*7)%len(words)], i*31%997)
	}
	return string([]rune(b.String())[:n])
}

func TestChunk_Coverage(t *testing.T) {
	for _, tc := range []struct{ n, size, overlap int }{
		{1, 10, 0},
		{10, 10, 0},
		{11, 10, 0},
		{999, 100, 99},
		{2401, 1000, 200},
		{57, 7, 3},
	} {
		text := financeText(tc.n)
		windows, err := Chunk(text, tc.size, tc.overlap)
		require.NoError(t, err)
		require.NotEmpty(t, windows)

		assert.Zero(t, windows[0].Start)
		rebuilt := []rune(windows[0].Text)
		for i := 1; i < len(windows); i++ {
			prev, w := windows[i-1], windows[i]
			assert.Equal(t, prev.Start+tc.size-tc.overlap, w.Start, "window %d", i)
			assert.Equal(t, tc.size, prev.End-prev.Start, "window %d", i-1)
			assert.LessOrEqual(t, w.End-w.Start, tc.size)
			rebuilt = append(rebuilt, []rune(w.Text)[prev.End-w.Start:]...)
		}
		assert.Equal(t, text, string(rebuilt), "n=%d size=%d overlap=%d", tc.n, tc.size, tc.overlap)
		assert.Equal(t, tc.n, windows[len(windows)-1].End)
	}
}

func TestChunk_Deterministic(t *testing.T) {
	text := strings.Repeat("net income and operating margin ", 100)
	a, err := Chunk(text, 300, 50)
	require.NoError(t, err)
	b, err := Chunk(text, 300, 50)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestChunkID(t *testing.T) {
	assert.Equal(t, ChunkID("doc-1", 0), ChunkID("doc-1", 0))
	assert.NotEqual(t, ChunkID("doc-1", 0), ChunkID("doc-1", 1))
	assert.NotEqual(t, ChunkID("doc-1", 0), ChunkID("doc-2", 0))
}
