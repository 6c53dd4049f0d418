package app

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"gopherai-rag/internal/ai"
	"gopherai-rag/internal/pkg/errs"
	"gopherai-rag/internal/pkg/logutil"
	"gopherai-rag/internal/vectorstore"
)

const (
	DifficultyEasy   = "easy"
	DifficultyMedium = "medium"
	DifficultyHard   = "hard"
)

var (
	qaNamespace    = uuid.MustParse("0b8e7f3a-52c4-4d8e-a1f6-7c3d2e9b4a58")
	questionMarker = regexp.MustCompile(`(?i)\*\*\s*Question(?:\s+\d+)?\s*:\s*\*\*`)
	answerMarker   = regexp.MustCompile(`(?i)\*\*\s*Answer(?:\s+\d+)?\s*:\s*\*\*`)
)

type QAOptions struct {
	MaxPairs        int
	MaxCharsPerCall int
	Model           string
	MaxTokens       int
	CompleteTimeout time.Duration
}

type QAPair struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

type GenerateQAInput struct {
	Chunks      []string
	Count       int
	Difficulty  string
	Temperature float32
	Keywords    []string
	Model       string
}

type VectorizeResult struct {
	Collection string `json:"collection"`
	Pairs      int    `json:"pairs"`
	Chunks     int    `json:"chunks"`
}

// QAService drafts question/answer pairs from document chunks and can feed
// them back into a collection as searchable content.
type QAService struct {
	completer ai.Completer
	ingest    *IngestService
	opts      QAOptions
}

func NewQAService(completer ai.Completer, ingest *IngestService, opts QAOptions) *QAService {
	if opts.MaxPairs <= 0 {
		opts.MaxPairs = 20
	}
	if opts.MaxCharsPerCall <= 0 {
		opts.MaxCharsPerCall = 15000
	}
	if opts.CompleteTimeout <= 0 {
		opts.CompleteTimeout = 60 * time.Second
	}
	return &QAService{completer: completer, ingest: ingest, opts: opts}
}

func (s *QAService) Generate(ctx context.Context, in GenerateQAInput) ([]QAPair, error) {
	if in.Count < 1 || in.Count > s.opts.MaxPairs {
		return nil, errs.Validation("count must be within [1, %d]", s.opts.MaxPairs).With("count", in.Count)
	}
	if in.Temperature < 0 || in.Temperature > 1 {
		return nil, errs.Validation("temperature must be within [0, 1]").With("temperature", in.Temperature)
	}
	difficulty := strings.ToLower(strings.TrimSpace(in.Difficulty))
	switch difficulty {
	case "":
		difficulty = DifficultyMedium
	case DifficultyEasy, DifficultyMedium, DifficultyHard:
	default:
		return nil, errs.Validation("difficulty must be easy, medium or hard").With("difficulty", in.Difficulty)
	}

	batches := batchChunks(in.Chunks, s.opts.MaxCharsPerCall)
	if len(batches) == 0 {
		return []QAPair{}, nil
	}

	modelID := strings.TrimSpace(in.Model)
	if modelID == "" {
		modelID = s.opts.Model
	}
	logger := logutil.GetLogger(ctx).With(zap.String("model", modelID), zap.Int("batches", len(batches)))

	perBatch := (in.Count + len(batches) - 1) / len(batches)
	seen := make(map[string]struct{}, in.Count)
	pairs := make([]QAPair, 0, in.Count)
	for _, batch := range batches {
		if len(pairs) >= in.Count {
			break
		}
		want := perBatch
		if rest := in.Count - len(pairs); rest < want {
			want = rest
		}
		reply, err := s.complete(ctx, ai.CompletionRequest{
			Model: modelID,
			Messages: []ai.ChatMessage{
				{Role: ai.RoleSystem, Content: "You write study questions grounded strictly in the supplied document."},
				{Role: ai.RoleUser, Content: qaPrompt(batch, want, difficulty, in.Keywords)},
			},
			Temperature: in.Temperature,
			MaxTokens:   s.opts.MaxTokens,
		})
		if err != nil {
			return nil, err
		}
		parsed := ParseQAPairs(reply)
		if len(parsed) == 0 {
			logger.Warn("completion returned no parsable question/answer pairs")
		}
		for _, p := range parsed {
			key := strings.ToLower(strings.Join(strings.Fields(p.Question), " "))
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			pairs = append(pairs, p)
		}
	}
	if len(pairs) > in.Count {
		pairs = pairs[:in.Count]
	}
	logger.Info("question/answer pairs generated", zap.Int("pairs", len(pairs)))
	return pairs, nil
}

// Vectorize stores each pair as its own document in collection, tagged as
// generated content. The model binding is checked before anything is written.
func (s *QAService) Vectorize(ctx context.Context, pairs []QAPair, collection, modelID string) (*VectorizeResult, error) {
	if strings.TrimSpace(modelID) == "" {
		modelID = s.ingest.opts.DefaultModel
	}
	if _, err := s.ingest.collections.Check(ctx, collection, modelID); err != nil {
		return nil, err
	}
	result := &VectorizeResult{Collection: strings.TrimSpace(collection)}
	for i, p := range pairs {
		q, a := strings.TrimSpace(p.Question), strings.TrimSpace(p.Answer)
		if q == "" || a == "" {
			return nil, errs.Validation("pair %d has an empty question or answer", i+1)
		}
	}
	for i, p := range pairs {
		q, a := strings.TrimSpace(p.Question), strings.TrimSpace(p.Answer)
		res, err := s.ingest.Ingest(ctx, IngestInput{
			DocumentID:     QADocumentID(q),
			Collection:     collection,
			EmbeddingModel: modelID,
			Text:           "Question: " + q + "\nAnswer: " + a,
			FileName:       fmt.Sprintf("qa_pair_%d", i+1),
			Source:         vectorstore.SourceQAGenerator,
			Type:           vectorstore.TypeQAPair,
		})
		if err != nil {
			return nil, err
		}
		result.Pairs++
		result.Chunks += res.Chunks
	}
	return result, nil
}

// QADocumentID derives a stable document id so re-vectorizing a question
// replaces its earlier answer.
func QADocumentID(question string) string {
	normalized := strings.ToLower(strings.Join(strings.Fields(question), " "))
	return "qa-" + uuid.NewSHA1(qaNamespace, []byte(normalized)).String()
}

// ParseQAPairs reads a JSON array of {question, answer} objects, optionally
// fenced, and falls back to "**Question N:** ... **Answer N:** ..." text.
func ParseQAPairs(reply string) []QAPair {
	if pairs := parseQAJSON(reply); len(pairs) > 0 {
		return pairs
	}
	return parseQAMarkdown(reply)
}

func parseQAJSON(reply string) []QAPair {
	text := strings.TrimSpace(reply)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	start, end := strings.Index(text, "["), strings.LastIndex(text, "]")
	if start < 0 || end <= start {
		return nil
	}
	var raw []QAPair
	if err := json.Unmarshal([]byte(text[start:end+1]), &raw); err != nil {
		return nil
	}
	return cleanPairs(raw)
}

func parseQAMarkdown(reply string) []QAPair {
	var raw []QAPair
	for _, block := range questionMarker.Split(reply, -1)[1:] {
		parts := answerMarker.Split(block, 2)
		if len(parts) != 2 {
			continue
		}
		raw = append(raw, QAPair{Question: parts[0], Answer: parts[1]})
	}
	return cleanPairs(raw)
}

func cleanPairs(raw []QAPair) []QAPair {
	out := make([]QAPair, 0, len(raw))
	for _, p := range raw {
		q := strings.TrimSpace(p.Question)
		a := strings.TrimSpace(p.Answer)
		if q == "" || a == "" {
			continue
		}
		out = append(out, QAPair{Question: q, Answer: a})
	}
	return out
}

func (s *QAService) complete(ctx context.Context, req ai.CompletionRequest) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.opts.CompleteTimeout)
	defer cancel()
	reply, err := s.completer.Complete(callCtx, req)
	if err != nil {
		return "", errs.Capability("complete", err)
	}
	return reply, nil
}

// batchChunks joins non-blank chunks into groups of at most limit runes. A
// single chunk over the limit is cut.
func batchChunks(chunks []string, limit int) []string {
	var (
		batches []string
		current strings.Builder
		size    int
	)
	flush := func() {
		if size > 0 {
			batches = append(batches, current.String())
			current.Reset()
			size = 0
		}
	}
	for _, c := range chunks {
		c = strings.TrimSpace(c)
		n := utf8.RuneCountInString(c)
		if n == 0 {
			continue
		}
		if n > limit {
			c = string([]rune(c)[:limit])
			n = limit
		}
		if size > 0 && size+2+n > limit {
			flush()
		}
		if size > 0 {
			current.WriteString("\n\n")
			size += 2
		}
		current.WriteString(c)
		size += n
	}
	flush()
	return batches
}

func qaPrompt(document string, count int, difficulty string, keywords []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Write exactly %d question and answer pairs about the document below.\n", count)
	fmt.Fprintf(&b, "Difficulty: %s.\n", difficulty)
	if len(keywords) > 0 {
		fmt.Fprintf(&b, "Focus on: %s.\n", strings.Join(keywords, ", "))
	}
	b.WriteString("Answer only from the document. Reply with a JSON array of objects with \"question\" and \"answer\" fields and nothing else.\n\n")
	b.WriteString("Document:\n")
	b.WriteString(document)
	return b.String()
}
