package textsplit

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gopherai-rag/internal/pkg/errs"
)

func TestSplitThreeThousandCharacters(t *testing.T) {
	text := strings.Repeat("abcdefghij", 300)

	chunks, err := Split(text, 1000, 200)
	require.NoError(t, err)
	require.Len(t, chunks, 4)

	for i, c := range chunks {
		assert.Equal(t, i, c.Index)
	}
	assert.Equal(t, 0, chunks[0].Start)
	assert.Equal(t, 3000, chunks[3].End)
	for i := 1; i < len(chunks); i++ {
		assert.Equal(t, 200, chunks[i-1].End-chunks[i].Start)
		prev := []rune(chunks[i-1].Text)
		cur := []rune(chunks[i].Text)
		assert.Equal(t, string(prev[len(prev)-200:]), string(cur[:200]))
	}
	assert.Len(t, []rune(chunks[3].Text), 600)
}

func TestSplitCoversInputWithoutGaps(t *testing.T) {
	text := strings.Repeat("héllo wörld ", 97)
	total := len([]rune(text))

	cases := []struct{ size, overlap int }{
		{1, 0}, {7, 0}, {7, 6}, {50, 10}, {100, 99}, {total, 0}, {total + 10, 5},
	}
	for _, tc := range cases {
		chunks, err := Split(text, tc.size, tc.overlap)
		require.NoError(t, err)
		require.NotEmpty(t, chunks)

		covered := 0
		for i, c := range chunks {
			assert.Equal(t, i, c.Index)
			assert.LessOrEqual(t, c.Start, covered, "gap before chunk %d", i)
			assert.LessOrEqual(t, len([]rune(c.Text)), tc.size)
			assert.Equal(t, string([]rune(text)[c.Start:c.End]), c.Text)
			covered = c.End
		}
		assert.Equal(t, total, covered)
	}
}

func TestSplitEmptyInput(t *testing.T) {
	for _, text := range []string{"", "   ", "\n\t \n"} {
		chunks, err := Split(text, 100, 10)
		require.NoError(t, err)
		assert.Empty(t, chunks)
	}
}

func TestSplitRejectsBadBounds(t *testing.T) {
	cases := []struct{ size, overlap int }{
		{0, 0}, {-5, 0}, {10, 10}, {10, 11}, {10, -1},
	}
	for _, tc := range cases {
		_, err := Split("some text", tc.size, tc.overlap)
		require.Error(t, err)
		assert.True(t, errors.Is(err, errs.ErrValidation))
	}
}
