package app

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"gopherai-rag/internal/model"
	"gopherai-rag/internal/pkg/errs"
	"gopherai-rag/internal/pkg/logutil"
	"gopherai-rag/internal/repository"
)

const (
	defaultSessionName = "New Chat"
	maxContextWindow   = 100
)

type HistoryCache interface {
	GetHistory(ctx context.Context, sessionID string, window int) ([]model.Message, bool, error)
	// SetHistory skips the write while the session is dirty.
	SetHistory(ctx context.Context, sessionID string, window int, messages []model.Message) (bool, error)
	Invalidate(ctx context.Context, sessionID string) error
	DeleteHistory(ctx context.Context, sessionID string) error
	IsDirty(ctx context.Context, sessionID string) (bool, error)
}

type SessionDefaults struct {
	Model         string
	Temperature   float32
	ContextWindow int
}

// Preferences carries optional session settings; nil fields are left alone.
type Preferences struct {
	Model          *string
	EmbeddingModel *string
	Temperature    *float32
	ContextWindow  *int
}

type SessionService struct {
	sessionRepo  *repository.SessionRepository
	messageRepo  *repository.MessageRepository
	historyCache HistoryCache
	defaults     SessionDefaults
	now          func() time.Time
}

func NewSessionService(
	sessionRepo *repository.SessionRepository,
	messageRepo *repository.MessageRepository,
	historyCache HistoryCache,
	defaults SessionDefaults,
) *SessionService {
	if defaults.ContextWindow <= 0 {
		defaults.ContextWindow = 10
	}
	if defaults.Temperature < 0 || defaults.Temperature > 2 {
		defaults.Temperature = 0.7
	}
	return &SessionService{
		sessionRepo:  sessionRepo,
		messageRepo:  messageRepo,
		historyCache: historyCache,
		defaults:     defaults,
		now:          time.Now,
	}
}

func (s *SessionService) Create(ctx context.Context, name string, prefs Preferences) (*model.Session, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		name = defaultSessionName
	}
	now := s.now().UTC().Truncate(time.Millisecond)
	session := &model.Session{
		ID:              uuid.NewString(),
		Name:            name,
		ModelPreference: s.defaults.Model,
		Temperature:     s.defaults.Temperature,
		ContextWindow:   s.defaults.ContextWindow,
		IsActive:        true,
		CreatedAt:       now,
		LastActivity:    now,
	}
	if err := applyPreferences(session, prefs); err != nil {
		return nil, err
	}
	if err := s.sessionRepo.Create(ctx, session); err != nil {
		return nil, errs.Wrap(errs.KindStore, "create session failed", err)
	}
	logutil.GetLogger(ctx).Info("session created", zap.String("session_id", session.ID))
	return session, nil
}

func (s *SessionService) Get(ctx context.Context, sessionID string) (*model.Session, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, errs.Validation("session_id is required")
	}
	session, err := s.sessionRepo.GetByID(ctx, sessionID)
	if err != nil {
		return nil, errs.Wrap(errs.KindStore, "get session failed", err)
	}
	if session == nil {
		return nil, errs.NotFound("session", sessionID)
	}
	return session, nil
}

func (s *SessionService) List(ctx context.Context) ([]model.Session, error) {
	sessions, err := s.sessionRepo.List(ctx)
	if err != nil {
		return nil, errs.Wrap(errs.KindStore, "list sessions failed", err)
	}
	return sessions, nil
}

func (s *SessionService) Rename(ctx context.Context, sessionID, name string) (*model.Session, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errs.Validation("session name is empty")
	}
	return s.update(ctx, sessionID, map[string]any{"name": name})
}

// UpdatePreferences changes the chat settings of a session. Cached history
// windows are dropped since the window length may change.
func (s *SessionService) UpdatePreferences(ctx context.Context, sessionID string, prefs Preferences) (*model.Session, error) {
	var staged model.Session
	if err := applyPreferences(&staged, prefs); err != nil {
		return nil, err
	}
	updates := map[string]any{}
	if prefs.Model != nil {
		updates["model_preference"] = staged.ModelPreference
	}
	if prefs.EmbeddingModel != nil {
		updates["embedding_model"] = staged.EmbeddingModel
	}
	if prefs.Temperature != nil {
		updates["temperature"] = staged.Temperature
	}
	if prefs.ContextWindow != nil {
		updates["context_window"] = staged.ContextWindow
	}
	session, err := s.update(ctx, sessionID, updates)
	if err != nil {
		return nil, err
	}
	s.dropHistory(ctx, session.ID)
	return session, nil
}

func (s *SessionService) Delete(ctx context.Context, sessionID string) error {
	sessionID = strings.TrimSpace(sessionID)
	deleted, err := s.sessionRepo.Delete(ctx, sessionID)
	if err != nil {
		return errs.Wrap(errs.KindStore, "delete session failed", err)
	}
	if !deleted {
		return errs.NotFound("session", sessionID)
	}
	s.dropHistory(ctx, sessionID)
	logutil.GetLogger(ctx).Info("session deleted", zap.String("session_id", sessionID))
	return nil
}

// Messages returns the session's messages oldest-first. A positive limit
// keeps only the most recent ones.
func (s *SessionService) Messages(ctx context.Context, sessionID string, limit int) ([]model.Message, error) {
	if limit < 0 {
		return nil, errs.Validation("limit must not be negative").With("limit", limit)
	}
	if _, err := s.Get(ctx, sessionID); err != nil {
		return nil, err
	}
	messages, err := s.messageRepo.ListBySessionID(ctx, sessionID, limit)
	if err != nil {
		return nil, errs.Wrap(errs.KindStore, "list messages failed", err)
	}
	return messages, nil
}

// Append durably adds messages after the session's last one and returns the
// session with its new last_activity.
func (s *SessionService) Append(ctx context.Context, sessionID string, messages ...*model.Message) (*model.Session, error) {
	for _, m := range messages {
		switch m.Role {
		case model.RoleUser, model.RoleAssistant, model.RoleSystem:
		default:
			return nil, errs.Validation("unknown message role %q", m.Role)
		}
	}
	session, err := s.messageRepo.Append(ctx, sessionID, messages, s.now())
	if err != nil {
		if errors.Is(err, repository.ErrSessionMissing) {
			return nil, errs.NotFound("session", sessionID)
		}
		return nil, errs.Wrap(errs.KindStore, "append messages failed", err)
	}
	if s.historyCache != nil {
		if err := s.historyCache.Invalidate(ctx, sessionID); err != nil {
			logutil.GetLogger(ctx).Warn("invalidate history cache failed", zap.String("session_id", sessionID), zap.Error(err))
		}
	}
	return session, nil
}

// RecentContext loads the last window messages of a session, preferring the
// history cache while no append is in flight.
func (s *SessionService) RecentContext(ctx context.Context, sessionID string, window int) ([]model.Message, error) {
	if window <= 0 {
		return nil, nil
	}
	logger := logutil.GetLogger(ctx)
	if s.historyCache != nil {
		dirty, err := s.historyCache.IsDirty(ctx, sessionID)
		if err == nil && !dirty {
			if cached, hit, cacheErr := s.historyCache.GetHistory(ctx, sessionID, window); cacheErr == nil && hit {
				return cached, nil
			} else if cacheErr != nil {
				logger.Warn("read history cache failed", zap.String("session_id", sessionID), zap.Error(cacheErr))
			}
		}
	}

	messages, err := s.messageRepo.ListBySessionID(ctx, sessionID, window)
	if err != nil {
		return nil, errs.Wrap(errs.KindStore, "load recent messages failed", err)
	}
	if s.historyCache != nil {
		if _, err := s.historyCache.SetHistory(ctx, sessionID, window, messages); err != nil {
			logger.Warn("write history cache failed", zap.String("session_id", sessionID), zap.Error(err))
		}
	}
	return messages, nil
}

// CleanupOlderThan deletes sessions idle for more than days, with their
// messages, and returns how many were removed.
func (s *SessionService) CleanupOlderThan(ctx context.Context, days int) (int, error) {
	if days < 1 {
		return 0, errs.Validation("days must be at least 1").With("days", days)
	}
	cutoff := s.now().UTC().AddDate(0, 0, -days)
	ids, err := s.sessionRepo.DeleteInactiveBefore(ctx, cutoff)
	if err != nil {
		return 0, errs.Wrap(errs.KindStore, "cleanup sessions failed", err)
	}
	for _, id := range ids {
		s.dropHistory(ctx, id)
	}
	logutil.GetLogger(ctx).Info("inactive sessions removed",
		zap.Int("days", days),
		zap.Time("cutoff", cutoff),
		zap.Int("count", len(ids)),
	)
	return len(ids), nil
}

func (s *SessionService) update(ctx context.Context, sessionID string, updates map[string]any) (*model.Session, error) {
	sessionID = strings.TrimSpace(sessionID)
	ok, err := s.sessionRepo.Update(ctx, sessionID, updates)
	if err != nil {
		return nil, errs.Wrap(errs.KindStore, "update session failed", err)
	}
	if !ok {
		return nil, errs.NotFound("session", sessionID)
	}
	return s.Get(ctx, sessionID)
}

func (s *SessionService) dropHistory(ctx context.Context, sessionID string) {
	if s.historyCache == nil {
		return
	}
	if err := s.historyCache.DeleteHistory(ctx, sessionID); err != nil {
		logutil.GetLogger(ctx).Warn("delete history cache failed", zap.String("session_id", sessionID), zap.Error(err))
	}
}

func applyPreferences(session *model.Session, prefs Preferences) error {
	if prefs.Model != nil {
		session.ModelPreference = strings.TrimSpace(*prefs.Model)
	}
	if prefs.EmbeddingModel != nil {
		session.EmbeddingModel = strings.TrimSpace(*prefs.EmbeddingModel)
	}
	if prefs.Temperature != nil {
		t := *prefs.Temperature
		if t < 0 || t > 2 {
			return errs.Validation("temperature must be within [0, 2]").With("temperature", t)
		}
		session.Temperature = t
	}
	if prefs.ContextWindow != nil {
		w := *prefs.ContextWindow
		if w < 0 || w > maxContextWindow {
			return errs.Validation("context_window_length must be within [0, %d]", maxContextWindow).With("context_window_length", w)
		}
		session.ContextWindow = w
	}
	return nil
}
