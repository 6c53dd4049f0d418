package app

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"gopherai-rag/internal/ai"
	"gopherai-rag/internal/model"
	"gopherai-rag/internal/pkg/errs"
	"gopherai-rag/internal/pkg/logutil"
)

const (
	ragSystemPrompt = "You are a helpful assistant that answers questions using the provided context. " +
		"If the context does not contain the answer, say so plainly instead of guessing."
	emptyAnswer    = "The model returned an empty response."
	snippetRunes   = 200
	noContextLabel = "No relevant context was found in the knowledge base."
)

type ChatOptions struct {
	ChatModel               string
	MaxTokens               int
	MaxContextChars         int
	CompleteTimeout         time.Duration
	DegradeOnRetrievalError bool
}

type ChatInput struct {
	SessionID          string
	Collection         string
	Query              string
	TopK               int
	Threshold          *float64
	UseCollectionModel bool
	Model              string
	Temperature        *float32
}

type ChatResult struct {
	Answer    string            `json:"answer"`
	Sources   []model.SourceRef `json:"sources"`
	SessionID string            `json:"session_id"`
}

// ChatService runs retrieval-augmented chat turns. A turn either appends both
// the user and assistant messages or leaves the session untouched.
type ChatService struct {
	sessions  *SessionService
	retriever *Retriever
	completer ai.Completer
	opts      ChatOptions
}

func NewChatService(sessions *SessionService, retriever *Retriever, completer ai.Completer, opts ChatOptions) *ChatService {
	if opts.MaxContextChars <= 0 {
		opts.MaxContextChars = 12000
	}
	if opts.CompleteTimeout <= 0 {
		opts.CompleteTimeout = 60 * time.Second
	}
	return &ChatService{
		sessions:  sessions,
		retriever: retriever,
		completer: completer,
		opts:      opts,
	}
}

func (s *ChatService) Chat(ctx context.Context, in ChatInput) (*ChatResult, error) {
	query := strings.TrimSpace(in.Query)
	if query == "" {
		return nil, errs.Validation("query is empty")
	}
	topK, threshold, err := s.retriever.bounds(in.TopK, in.Threshold)
	if err != nil {
		return nil, err
	}
	if in.Temperature != nil && (*in.Temperature < 0 || *in.Temperature > 2) {
		return nil, errs.Validation("temperature must be within [0, 2]").With("temperature", *in.Temperature)
	}

	collection, err := s.retriever.collections.Get(ctx, in.Collection)
	if err != nil {
		return nil, err
	}

	session, err := s.resolveSession(ctx, in.SessionID)
	if err != nil {
		return nil, err
	}
	logger := logutil.GetLogger(ctx).With(
		zap.String("session_id", session.ID),
		zap.String("collection", collection.Name),
	)

	if session.EmbeddingModel != "" && session.EmbeddingModel != collection.EmbeddingModel && !in.UseCollectionModel {
		return nil, errs.ModelMismatch(collection.Name, collection.EmbeddingModel, session.EmbeddingModel).
			With("session_id", session.ID)
	}

	history, err := s.sessions.RecentContext(ctx, session.ID, session.ContextWindow)
	if err != nil {
		return nil, err
	}

	vector, err := s.retriever.embedQuery(ctx, collection.EmbeddingModel, query)
	if err != nil {
		return nil, err
	}
	hits, err := s.retriever.query(ctx, collection, vector, topK, threshold, nil)
	if err != nil {
		if !s.opts.DegradeOnRetrievalError || errs.KindOf(err) != errs.KindStore {
			return nil, err
		}
		logger.Warn("retrieval failed, answering without context", zap.Error(err))
		hits = nil
	}

	req := ai.CompletionRequest{
		Model:       s.chatModel(in.Model, session),
		Messages:    s.buildPromptMessages(history, hits, query),
		Temperature: session.Temperature,
		MaxTokens:   s.opts.MaxTokens,
	}
	if in.Temperature != nil {
		req.Temperature = *in.Temperature
	}

	answer, err := s.complete(ctx, req)
	if err != nil {
		logger.Warn("completion failed, turn abandoned", zap.Error(err))
		return nil, err
	}

	sources := make([]model.SourceRef, 0, len(hits))
	for _, h := range hits {
		sources = append(sources, model.SourceRef{
			ChunkID:    h.ID,
			Collection: collection.Name,
			DocumentID: h.DocumentID,
			ChunkIndex: h.ChunkIndex,
			Score:      h.Score,
			Snippet:    snippet(h.Text),
		})
	}

	_, err = s.sessions.Append(ctx, session.ID,
		&model.Message{Role: model.RoleUser, Content: query, Sources: model.NewSourceListJSON(nil)},
		&model.Message{Role: model.RoleAssistant, Content: answer, Sources: model.NewSourceListJSON(sources)},
	)
	if err != nil {
		return nil, err
	}
	logger.Info("chat turn completed", zap.Int("sources", len(sources)), zap.String("model", req.Model))

	return &ChatResult{Answer: answer, Sources: sources, SessionID: session.ID}, nil
}

func (s *ChatService) resolveSession(ctx context.Context, sessionID string) (*model.Session, error) {
	if strings.TrimSpace(sessionID) == "" {
		return s.sessions.Create(ctx, "", Preferences{})
	}
	return s.sessions.Get(ctx, sessionID)
}

func (s *ChatService) chatModel(override string, session *model.Session) string {
	if m := strings.TrimSpace(override); m != "" {
		return m
	}
	if session.ModelPreference != "" {
		return session.ModelPreference
	}
	return s.opts.ChatModel
}

func (s *ChatService) complete(ctx context.Context, req ai.CompletionRequest) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.opts.CompleteTimeout)
	defer cancel()
	answer, err := s.completer.Complete(callCtx, req)
	if err != nil {
		return "", errs.Capability("complete", err)
	}
	answer = strings.TrimSpace(answer)
	if answer == "" {
		answer = emptyAnswer
	}
	return answer, nil
}

func (s *ChatService) buildPromptMessages(history []model.Message, hits []SearchHit, query string) []ai.ChatMessage {
	messages := make([]ai.ChatMessage, 0, len(history)+2)
	messages = append(messages, ai.ChatMessage{Role: ai.RoleSystem, Content: ragSystemPrompt})
	for _, item := range history {
		role := item.Role
		if role == "" {
			role = ai.RoleUser
		}
		messages = append(messages, ai.ChatMessage{Role: role, Content: item.Content})
	}
	messages = append(messages, ai.ChatMessage{
		Role:    ai.RoleUser,
		Content: buildContextBlock(hits, s.opts.MaxContextChars) + "\n\nQuestion: " + query,
	})
	return messages
}

// buildContextBlock keeps chunks in rank order until the character budget
// is spent; the chunk that crosses the budget is cut.
func buildContextBlock(hits []SearchHit, budget int) string {
	if len(hits) == 0 {
		return noContextLabel
	}
	var b strings.Builder
	b.WriteString("Context:\n")
	remaining := budget
	for i, h := range hits {
		if remaining <= 0 {
			break
		}
		text := h.Text
		if n := utf8.RuneCountInString(text); n > remaining {
			text = string([]rune(text)[:remaining])
		}
		remaining -= utf8.RuneCountInString(text)
		fmt.Fprintf(&b, "\n[%d] (document %s, chunk %d, score %.3f)\n%s\n", i+1, h.DocumentID, h.ChunkIndex, h.Score, text)
	}
	return b.String()
}

func snippet(text string) string {
	if utf8.RuneCountInString(text) <= snippetRunes {
		return text
	}
	return string([]rune(text)[:snippetRunes]) + "..."
}
