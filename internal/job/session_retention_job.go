package job

import (
	"context"
)

type SessionCleaner interface {
	CleanupOlderThan(ctx context.Context, days int) (int, error)
}

// SessionRetentionJob removes sessions idle for longer than maxAgeDays.
type SessionRetentionJob struct {
	sessions   SessionCleaner
	maxAgeDays int
}

func NewSessionRetentionJob(sessions SessionCleaner, maxAgeDays int) *SessionRetentionJob {
	return &SessionRetentionJob{sessions: sessions, maxAgeDays: maxAgeDays}
}

func (j *SessionRetentionJob) Name() string {
	return "session_retention"
}

func (j *SessionRetentionJob) Run(ctx context.Context) error {
	if j.sessions == nil {
		return nil
	}
	maxAgeDays := j.maxAgeDays
	if maxAgeDays <= 0 {
		maxAgeDays = 30
	}
	_, err := j.sessions.CleanupOlderThan(ctx, maxAgeDays)
	return err
}
