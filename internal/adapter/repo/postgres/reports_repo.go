package postgres

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fairyhunter13/ai-mock-interview/internal/domain"
)

// ReportRepo persists completed interviews. A session is archived at most once.
type ReportRepo struct{ Pool PgxPool }

// NewReportRepo constructs a ReportRepo with the given pool.
func NewReportRepo(p PgxPool) *ReportRepo { return &ReportRepo{Pool: p} }

// Save inserts the completed interview; a second save of the same session is a no-op.
func (r *ReportRepo) Save(ctx domain.Context, c domain.CompletedInterview) error {
	tracer := otel.Tracer("repo.reports")
	ctx, span := tracer.Start(ctx, "reports.Save")
	defer span.End()
	span.SetAttributes(attribute.String("session.id", c.SessionID))

	report, err := json.Marshal(c.Report)
	if err != nil {
		return fmt.Errorf("op=report.save: marshal report: %w", err)
	}
	turns, err := json.Marshal(c.Turns)
	if err != nil {
		return fmt.Errorf("op=report.save: marshal turns: %w", err)
	}
	q := `INSERT INTO interview_reports (session_id, role, experience, difficulty, question_count, final_score, report, turns, completed_at)
	VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	ON CONFLICT (session_id) DO NOTHING`
	_, err = r.Pool.Exec(ctx, q, c.SessionID, c.Config.Role, c.Config.Experience, c.Config.Difficulty,
		c.Config.QuestionCount, c.Report.FinalScorePercentage, report, turns, c.CompletedAt.UTC())
	if err != nil {
		return fmt.Errorf("op=report.save: %w", err)
	}
	return nil
}

// Get loads an archived interview by session id.
func (r *ReportRepo) Get(ctx domain.Context, sessionID string) (domain.CompletedInterview, error) {
	tracer := otel.Tracer("repo.reports")
	ctx, span := tracer.Start(ctx, "reports.Get")
	defer span.End()
	span.SetAttributes(attribute.String("session.id", sessionID))

	q := `SELECT session_id, role, experience, difficulty, question_count, report, turns, completed_at FROM interview_reports WHERE session_id=$1`
	var (
		c      domain.CompletedInterview
		report []byte
		turns  []byte
		done   time.Time
	)
	err := r.Pool.QueryRow(ctx, q, sessionID).Scan(&c.SessionID, &c.Config.Role, &c.Config.Experience,
		&c.Config.Difficulty, &c.Config.QuestionCount, &report, &turns, &done)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.CompletedInterview{}, fmt.Errorf("op=report.get: %w", domain.ErrNotFound)
	}
	if err != nil {
		return domain.CompletedInterview{}, fmt.Errorf("op=report.get: %w", err)
	}
	if err := json.Unmarshal(report, &c.Report); err != nil {
		return domain.CompletedInterview{}, fmt.Errorf("op=report.get: decode report: %w", err)
	}
	if err := json.Unmarshal(turns, &c.Turns); err != nil {
		return domain.CompletedInterview{}, fmt.Errorf("op=report.get: decode turns: %w", err)
	}
	c.CompletedAt = done.UTC()
	return c, nil
}
