package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// CleanupService handles data retention and cleanup
type CleanupService struct {
	Pool          PgxPool
	RetentionDays int
	now           func() time.Time
}

// NewCleanupService creates a new cleanup service
func NewCleanupService(pool PgxPool, retentionDays int) *CleanupService {
	if retentionDays <= 0 {
		retentionDays = 90 // default 90 days
	}
	return &CleanupService{Pool: pool, RetentionDays: retentionDays, now: time.Now}
}

// CleanupOldData removes archived interviews older than the retention period.
func (s *CleanupService) CleanupOldData(ctx context.Context) (int64, error) {
	cutoff := s.now().UTC().AddDate(0, 0, -s.RetentionDays)
	tag, err := s.Pool.Exec(ctx, `DELETE FROM interview_reports WHERE completed_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("op=cleanup.reports: %w", err)
	}
	slog.Info("data cleanup completed",
		slog.Int64("deleted_reports", tag.RowsAffected()),
		slog.Time("cutoff", cutoff),
	)
	return tag.RowsAffected(), nil
}

// RunPeriodic purges expired reports once immediately and then on every tick until ctx ends.
func (s *CleanupService) RunPeriodic(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	lg := slog.Default().With(slog.Int("retention_days", s.RetentionDays))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, err := s.CleanupOldData(ctx); err != nil && ctx.Err() == nil {
			lg.Error("report cleanup failed", slog.Any("error", err))
		}
		select {
		case <-ctx.Done():
			lg.Info("report cleanup stopping")
			return
		case <-ticker.C:
		}
	}
}
