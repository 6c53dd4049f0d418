package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"gopherai-rag/internal/model"
)

const appendAttempts = 3

var ErrSessionMissing = errors.New("session does not exist")

type MessageRepository struct {
	db *gorm.DB
}

func NewMessageRepository(db *gorm.DB) *MessageRepository {
	return &MessageRepository{db: db}
}

// Append writes messages after the session's current last message and moves
// last_activity to the final message's timestamp, all in one transaction.
// Sequence numbers continue from the stored maximum and timestamps are kept
// strictly increasing at millisecond precision.
func (r *MessageRepository) Append(ctx context.Context, sessionID string, messages []*model.Message, now time.Time) (*model.Session, error) {
	if len(messages) == 0 {
		return nil, fmt.Errorf("append messages failed: nothing to append")
	}
	var (
		session *model.Session
		err     error
	)
	for attempt := 0; attempt < appendAttempts; attempt++ {
		session, err = r.appendOnce(ctx, sessionID, messages, now)
		if !errors.Is(err, gorm.ErrDuplicatedKey) {
			break
		}
	}
	if err != nil {
		if errors.Is(err, ErrSessionMissing) {
			return nil, err
		}
		return nil, fmt.Errorf("append messages failed: %w", err)
	}
	return session, nil
}

func (r *MessageRepository) appendOnce(ctx context.Context, sessionID string, messages []*model.Message, now time.Time) (*model.Session, error) {
	var session model.Session
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		locked := tx
		if tx.Dialector.Name() != "sqlite" {
			locked = tx.Clauses(clause.Locking{Strength: "UPDATE"})
		}
		if err := locked.Where("id = ?", sessionID).First(&session).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrSessionMissing
			}
			return err
		}

		var last model.Message
		res := tx.Where("session_id = ?", sessionID).Order("seq DESC").Limit(1).Find(&last)
		if res.Error != nil {
			return res.Error
		}
		seq := int64(0)
		var lastAt time.Time
		if res.RowsAffected > 0 {
			seq = last.Seq
			lastAt = last.CreatedAt
		}

		ts := now.UTC().Truncate(time.Millisecond)
		for _, m := range messages {
			if !ts.After(lastAt) {
				ts = lastAt.Add(time.Millisecond)
			}
			seq++
			if m.ID == "" {
				m.ID = uuid.NewString()
			}
			if m.Sources.Data().Version == 0 {
				m.Sources = model.NewSourceListJSON(nil)
			}
			m.SessionID = sessionID
			m.Seq = seq
			m.CreatedAt = ts
			lastAt = ts
		}
		if err := tx.Create(messages).Error; err != nil {
			return err
		}
		if err := tx.Model(&model.Session{}).Where("id = ?", sessionID).Update("last_activity", lastAt).Error; err != nil {
			return err
		}
		session.LastActivity = lastAt
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &session, nil
}

// ListBySessionID returns messages oldest first. With limit > 0 only the
// most recent limit messages are returned.
func (r *MessageRepository) ListBySessionID(ctx context.Context, sessionID string, limit int) ([]model.Message, error) {
	var messages []model.Message
	q := r.db.WithContext(ctx).Where("session_id = ?", sessionID)
	if limit > 0 {
		if err := q.Order("seq DESC").Limit(limit).Find(&messages).Error; err != nil {
			return nil, fmt.Errorf("list messages failed: %w", err)
		}
		for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
			messages[i], messages[j] = messages[j], messages[i]
		}
		return messages, nil
	}
	if err := q.Order("seq ASC").Find(&messages).Error; err != nil {
		return nil, fmt.Errorf("list messages failed: %w", err)
	}
	return messages, nil
}
