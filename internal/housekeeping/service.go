// Package housekeeping archives idle chat sessions and purges archived
// ones past their retention window.
package housekeeping

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// SessionStore is the slice of the session repository housekeeping needs.
type SessionStore interface {
	ArchiveIdleBefore(ctx context.Context, cutoff time.Time) (int64, error)
	PurgeArchivedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type Config struct {
	Interval         time.Duration
	IdleArchiveAge   time.Duration
	ArchiveRetention time.Duration
}

type Service struct {
	Sessions SessionStore
	Config   Config
	Logger   *slog.Logger
	Clock    func() time.Time
}

type Summary struct {
	SessionsArchived int64 `json:"sessions_archived"`
	SessionsPurged   int64 `json:"sessions_purged"`
}

func (s *Service) Run(ctx context.Context) error {
	s.ensureDefaults()

	ticker := time.NewTicker(s.Config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			summary, err := s.RunOnce(ctx)
			if err != nil {
				if s.Logger != nil {
					s.Logger.ErrorContext(ctx, "housekeeping cycle failed", slog.Any("error", err))
				}
				continue
			}
			if s.Logger != nil {
				s.Logger.InfoContext(ctx, "housekeeping cycle completed",
					slog.Int64("sessions_archived", summary.SessionsArchived),
					slog.Int64("sessions_purged", summary.SessionsPurged),
				)
			}
		}
	}
}

func (s *Service) RunOnce(ctx context.Context) (Summary, error) {
	s.ensureDefaults()
	if s.Sessions == nil {
		return Summary{}, fmt.Errorf("session store is required")
	}

	now := s.Clock()
	summary := Summary{}

	archived, err := s.Sessions.ArchiveIdleBefore(ctx, now.Add(-s.Config.IdleArchiveAge))
	if err != nil {
		return summary, fmt.Errorf("archive idle sessions: %w", err)
	}
	summary.SessionsArchived = archived

	purged, err := s.Sessions.PurgeArchivedBefore(ctx, now.Add(-s.Config.ArchiveRetention))
	if err != nil {
		return summary, fmt.Errorf("purge archived sessions: %w", err)
	}
	summary.SessionsPurged = purged

	return summary, nil
}

func (s *Service) ensureDefaults() {
	if s.Config.Interval <= 0 {
		s.Config.Interval = time.Hour
	}
	if s.Config.IdleArchiveAge <= 0 {
		s.Config.IdleArchiveAge = 30 * 24 * time.Hour
	}
	if s.Config.ArchiveRetention <= 0 {
		s.Config.ArchiveRetention = 90 * 24 * time.Hour
	}
	if s.Clock == nil {
		s.Clock = time.Now
	}
}
