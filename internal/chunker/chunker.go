// Package chunker splits parsed document text into overlapping windows.
package chunker

import (
	"strconv"

	"financerag/models"

	"github.com/google/uuid"
)

const (
	DefaultSize    = 1000
	DefaultOverlap = 200
)

// Window is one chunk of text. Start and End are rune offsets, End exclusive.
type Window struct {
	Index int
	Start int
	End   int
	Text  string
}

// Validate checks a size/overlap pair.
func Validate(size, overlap int) error {
	if size <= 0 || overlap < 0 || overlap >= size {
		return models.ErrInvalidChunkConfig
	}
	return nil
}

// Chunk slides a window of size runes over text, stepping by size-overlap,
// and stops at the first window that reaches the end of the text. Every rune
// of a non-empty text is covered by at least one window.
func Chunk(text string, size, overlap int) ([]Window, error) {
	if err := Validate(size, overlap); err != nil {
		return nil, err
	}
	runes := []rune(text)
	n := len(runes)
	if n == 0 {
		return nil, nil
	}

	step := size - overlap
	windows := make([]Window, 0, n/step+1)
	for start := 0; ; start += step {
		end := start + size
		if end > n {
			end = n
		}
		windows = append(windows, Window{
			Index: len(windows),
			Start: start,
			End:   end,
			Text:  string(runes[start:end]),
		})
		if end == n {
			break
		}
	}
	return windows, nil
}

// ChunkID derives a stable chunk id from its document and position, so
// re-chunking the same document yields the same ids.
func ChunkID(documentID string, index int) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(documentID+":"+strconv.Itoa(index))).String()
}
