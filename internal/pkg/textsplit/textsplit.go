// Package textsplit cuts documents into overlapping fixed-size windows.
//
// Sizes are measured in characters (Unicode code points), not bytes or
// tokens. Consecutive windows share exactly overlap characters and together
// cover the whole input with no gaps; only the last window may be shorter.
package textsplit

import (
	"strings"

	"gopherai-rag/internal/pkg/errs"
)

type Chunk struct {
	Index int
	Text  string
	// Start and End are character offsets into the input, End exclusive.
	Start int
	End   int
}

func Validate(size, overlap int) error {
	if size <= 0 {
		return errs.Validation("chunk_size must be positive").With("chunk_size", size)
	}
	if overlap < 0 {
		return errs.Validation("chunk_overlap must not be negative").With("chunk_overlap", overlap)
	}
	if overlap >= size {
		return errs.Validation("chunk_overlap must be less than chunk_size").
			With("chunk_size", size).
			With("chunk_overlap", overlap)
	}
	return nil
}

// Split returns no chunks and no error for empty or whitespace-only text.
func Split(text string, size, overlap int) ([]Chunk, error) {
	if err := Validate(size, overlap); err != nil {
		return nil, err
	}
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	runes := []rune(text)
	total := len(runes)
	step := size - overlap
	chunks := make([]Chunk, 0, total/step+1)
	for start := 0; ; start += step {
		end := start + size
		if end > total {
			end = total
		}
		chunks = append(chunks, Chunk{
			Index: len(chunks),
			Text:  string(runes[start:end]),
			Start: start,
			End:   end,
		})
		if end == total {
			break
		}
	}
	return chunks, nil
}
