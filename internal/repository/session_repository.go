package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"gopherai-rag/internal/model"
)

type SessionRepository struct {
	db *gorm.DB
}

func NewSessionRepository(db *gorm.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

func (r *SessionRepository) Create(ctx context.Context, session *model.Session) error {
	if err := r.db.WithContext(ctx).Create(session).Error; err != nil {
		return fmt.Errorf("create session failed: %w", err)
	}
	return nil
}

func (r *SessionRepository) GetByID(ctx context.Context, sessionID string) (*model.Session, error) {
	var session model.Session
	if err := r.db.WithContext(ctx).Where("id = ?", sessionID).First(&session).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get session failed: %w", err)
	}
	count, err := r.countMessages(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	session.MessageCount = count
	return &session, nil
}

// List orders by most recent activity first.
func (r *SessionRepository) List(ctx context.Context) ([]model.Session, error) {
	var sessions []model.Session
	if err := r.db.WithContext(ctx).Order("last_activity DESC").Order("id ASC").Find(&sessions).Error; err != nil {
		return nil, fmt.Errorf("list sessions failed: %w", err)
	}

	var counts []struct {
		SessionID string
		Total     int64
	}
	err := r.db.WithContext(ctx).
		Model(&model.Message{}).
		Select("session_id, COUNT(*) AS total").
		Group("session_id").
		Scan(&counts).Error
	if err != nil {
		return nil, fmt.Errorf("count session messages failed: %w", err)
	}
	byID := make(map[string]int64, len(counts))
	for _, c := range counts {
		byID[c.SessionID] = c.Total
	}
	for i := range sessions {
		sessions[i].MessageCount = byID[sessions[i].ID]
	}
	return sessions, nil
}

// Update applies column updates and reports whether the session existed.
// last_activity is deliberately not writable here.
func (r *SessionRepository) Update(ctx context.Context, sessionID string, updates map[string]any) (bool, error) {
	delete(updates, "last_activity")
	if len(updates) == 0 {
		session, err := r.GetByID(ctx, sessionID)
		return session != nil, err
	}
	res := r.db.WithContext(ctx).Model(&model.Session{}).Where("id = ?", sessionID).Updates(updates)
	if res.Error != nil {
		return false, fmt.Errorf("update session failed: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		return true, nil
	}
	session, err := r.GetByID(ctx, sessionID)
	return session != nil, err
}

// Delete removes the session and its messages in one transaction.
func (r *SessionRepository) Delete(ctx context.Context, sessionID string) (bool, error) {
	var deleted bool
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("session_id = ?", sessionID).Delete(&model.Message{}).Error; err != nil {
			return fmt.Errorf("delete session messages failed: %w", err)
		}
		res := tx.Where("id = ?", sessionID).Delete(&model.Session{})
		if res.Error != nil {
			return fmt.Errorf("delete session failed: %w", res.Error)
		}
		deleted = res.RowsAffected > 0
		return nil
	})
	return deleted, err
}

// DeleteInactiveBefore removes sessions whose last activity predates cutoff,
// cascading their messages, and returns the ids removed.
func (r *SessionRepository) DeleteInactiveBefore(ctx context.Context, cutoff time.Time) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&model.Session{}).Where("last_activity < ?", cutoff).Pluck("id", &ids).Error; err != nil {
			return fmt.Errorf("find inactive sessions failed: %w", err)
		}
		if len(ids) == 0 {
			return nil
		}
		if err := tx.Where("session_id IN ?", ids).Delete(&model.Message{}).Error; err != nil {
			return fmt.Errorf("delete inactive session messages failed: %w", err)
		}
		if err := tx.Where("id IN ?", ids).Delete(&model.Session{}).Error; err != nil {
			return fmt.Errorf("delete inactive sessions failed: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *SessionRepository) countMessages(ctx context.Context, sessionID string) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&model.Message{}).Where("session_id = ?", sessionID).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("count messages failed: %w", err)
	}
	return count, nil
}
