package app

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gopherai-rag/internal/pkg/errs"
	"gopherai-rag/internal/vectorstore"
)

func TestParseQAPairs(t *testing.T) {
	cases := []struct {
		name  string
		reply string
		want  []QAPair
	}{
		{
			name:  "plain json",
			reply: `[{"question":"What is RAG?","answer":"Retrieval-augmented generation."}]`,
			want:  []QAPair{{Question: "What is RAG?", Answer: "Retrieval-augmented generation."}},
		},
		{
			name:  "fenced json with prose",
			reply: "Here you go:\n```json\n[{\"question\":\" Q1 \",\"answer\":\"A1\"},{\"question\":\"\",\"answer\":\"dropped\"}]\n```",
			want:  []QAPair{{Question: "Q1", Answer: "A1"}},
		},
		{
			name: "markdown fallback",
			reply: "**Question 1:** What is chunk overlap?\n\n**Answer 1:** Shared text between windows.\n\n" +
				"**Question 2:** Why cosine?\n**Answer 2:** It ignores vector length.",
			want: []QAPair{
				{Question: "What is chunk overlap?", Answer: "Shared text between windows."},
				{Question: "Why cosine?", Answer: "It ignores vector length."},
			},
		},
		{
			name:  "unparsable",
			reply: "I cannot help with that.",
			want:  []QAPair{},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ParseQAPairs(tc.reply))
		})
	}
}

func TestGenerateBoundsAndEmptyInput(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	chunks := []string{"Embeddings map text into vectors."}

	cases := []struct {
		name string
		in   GenerateQAInput
	}{
		{"zero count", GenerateQAInput{Chunks: chunks, Count: 0}},
		{"count over max", GenerateQAInput{Chunks: chunks, Count: 21}},
		{"negative temperature", GenerateQAInput{Chunks: chunks, Count: 1, Temperature: -0.1}},
		{"temperature over one", GenerateQAInput{Chunks: chunks, Count: 1, Temperature: 1.5}},
		{"unknown difficulty", GenerateQAInput{Chunks: chunks, Count: 1, Difficulty: "impossible"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := env.qa.Generate(ctx, tc.in)
			assert.Equal(t, errs.KindValidation, errs.KindOf(err))
		})
	}

	pairs, err := env.qa.Generate(ctx, GenerateQAInput{Chunks: []string{"", "   "}, Count: 3})
	require.NoError(t, err)
	assert.Empty(t, pairs)
	assert.Equal(t, 0, env.completer.RequestCount())
}

func TestGenerateDedupesAndTrims(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.completer.Reply = `[
		{"question":"What are embeddings?","answer":"Vectors."},
		{"question":"what are  embeddings?","answer":"Duplicate."},
		{"question":"What is cosine similarity?","answer":"An angle measure."},
		{"question":"What is a chunk?","answer":"A window of text."}
	]`

	pairs, err := env.qa.Generate(ctx, GenerateQAInput{
		Chunks:      []string{"Embeddings map text into vectors.", "Cosine similarity compares them."},
		Count:       2,
		Difficulty:  "Hard",
		Temperature: 0.3,
		Keywords:    []string{"embeddings"},
	})
	require.NoError(t, err)
	require.Len(t, pairs, 2)
	assert.Equal(t, "What are embeddings?", pairs[0].Question)
	assert.Equal(t, "What is cosine similarity?", pairs[1].Question)

	require.Equal(t, 1, env.completer.RequestCount())
	req := env.completer.Requests[0]
	assert.InDelta(t, 0.3, req.Temperature, 1e-6)
	prompt := req.Messages[1].Content
	assert.Contains(t, prompt, "exactly 2 question")
	assert.Contains(t, prompt, "Difficulty: hard")
	assert.Contains(t, prompt, "Focus on: embeddings")
	assert.Contains(t, prompt, "Cosine similarity compares them.")
}

func TestGenerateSurfacesCompletionErrors(t *testing.T) {
	env := newTestEnv(t)
	env.completer.Err = errors.New("quota exceeded")
	_, err := env.qa.Generate(context.Background(), GenerateQAInput{Chunks: []string{"text"}, Count: 1})
	assert.ErrorIs(t, err, errs.ErrCapabilityError)
}

func TestBatchChunks(t *testing.T) {
	batches := batchChunks([]string{strings.Repeat("a", 6), strings.Repeat("b", 6), " ", strings.Repeat("c", 30)}, 14)
	require.Len(t, batches, 2)
	assert.Equal(t, "aaaaaa\n\nbbbbbb", batches[0])
	assert.Equal(t, strings.Repeat("c", 14), batches[1])
}

func TestVectorizeStoresPairsAsDocuments(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	pairs := []QAPair{
		{Question: "What are embeddings?", Answer: "Vectors that encode meaning."},
		{Question: "What is cosine similarity?", Answer: "The cosine of the angle between vectors."},
	}

	res, err := env.qa.Vectorize(ctx, pairs, "qa", smallModel)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Pairs)
	assert.Equal(t, 2, res.Chunks)

	docs, err := env.ingest.ListDocuments(ctx, "qa")
	require.NoError(t, err)
	require.Len(t, docs, 2)
	for _, d := range docs {
		assert.Equal(t, vectorstore.TypeQAPair, d.Type)
		assert.True(t, strings.HasPrefix(d.DocumentID, "qa-"))
	}

	search, err := env.retriever.Search(ctx, SearchInput{Collection: "qa", Query: "cosine angle", TopK: 1})
	require.NoError(t, err)
	require.Len(t, search.Hits, 1)
	assert.Equal(t, QADocumentID("What is cosine similarity?"), search.Hits[0].DocumentID)
	assert.Equal(t, vectorstore.SourceQAGenerator, search.Hits[0].Metadata.Source)
	assert.Contains(t, search.Hits[0].Text, "Answer: The cosine")

	// Same questions again replace rather than duplicate.
	_, err = env.qa.Vectorize(ctx, pairs, "qa", smallModel)
	require.NoError(t, err)
	n, err := env.store.Count(ctx, "qa")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestVectorizeRespectsCollectionBinding(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.ingestText(t, "docs-a", "doc-1", "alpha beta")
	calls := env.embedder.Calls

	_, err := env.qa.Vectorize(ctx, []QAPair{{Question: "q", Answer: "a"}}, "docs-a", largeModel)
	assert.ErrorIs(t, err, errs.ErrModelMismatch)
	assert.Equal(t, calls, env.embedder.Calls)

	_, err = env.qa.Vectorize(ctx, []QAPair{{Question: "q", Answer: " "}}, "docs-a", smallModel)
	assert.Equal(t, errs.KindValidation, errs.KindOf(err))
	n, err := env.store.Count(ctx, "docs-a")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
