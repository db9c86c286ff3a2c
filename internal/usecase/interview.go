// Package usecase contains application business logic services.
package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/fairyhunter13/ai-mock-interview/internal/domain"
	"github.com/fairyhunter13/ai-mock-interview/internal/observability"
	"github.com/fairyhunter13/ai-mock-interview/internal/scoring"
	"github.com/fairyhunter13/ai-mock-interview/pkg/textx"
)

// DefaultSampleRate is assumed when a turn does not state its audio sample rate.
const DefaultSampleRate = 16000

// maxResumeRunes caps the resume text stored on a session.
const maxResumeRunes = 20000

// completionTimeout bounds archiving and publishing after the last turn.
const completionTimeout = 10 * time.Second

// TurnStatus tells the client whether another question follows.
type TurnStatus string

const (
	TurnContinue TurnStatus = "CONTINUE"
	TurnComplete TurnStatus = "COMPLETE"
)

// InterviewDeps groups the collaborators of an InterviewService.
// Speech, Archive, Events and Locks are optional. Locks must be set when
// several processes share Sessions.
type InterviewDeps struct {
	Sessions    domain.SessionStore
	Locks       domain.SessionLocker
	Questions   domain.QuestionGenerator
	Scorer      domain.AnswerScorer
	Transcriber domain.Transcriber
	Audio       domain.AudioAnalyzer
	Predictor   domain.NervousnessPredictor
	Speech      domain.SpeechSynthesizer
	Archive     domain.ReportArchive
	Events      domain.EventPublisher
}

// InterviewService drives the session lifecycle: start, one turn at a time,
// completion with a final report, and explicit abandon.
type InterviewService struct {
	InterviewDeps
	Now   func() time.Time
	NewID func() string
	locks *keyedMutex
}

// NewInterviewService constructs an InterviewService with its dependencies.
func NewInterviewService(d InterviewDeps) InterviewService {
	return InterviewService{
		InterviewDeps: d,
		Now:           func() time.Time { return time.Now().UTC() },
		NewID:         uuid.NewString,
		locks:         newKeyedMutex(),
	}
}

// StartInput is the request to begin an interview.
type StartInput struct {
	Config     domain.SessionConfig
	ResumeText string
}

// StartResult carries the new session and its first question.
type StartResult struct {
	Session       domain.InterviewSession
	Question      string
	QuestionAudio []byte
}

// TurnInput is one answer. Audio takes precedence over AnswerText.
type TurnInput struct {
	Audio      *domain.AudioClip
	AnswerText string
	SampleRate int
	Frames     []domain.FrameSample
}

// TurnResult reports the recorded turn and what comes next.
type TurnResult struct {
	Status            TurnStatus
	Session           domain.InterviewSession
	Turn              domain.TurnRecord
	NextQuestion      string
	NextQuestionAudio []byte
	Report            *domain.FinalReport
}

// Start validates the config, asks for the first question and persists an active session.
func (s InterviewService) Start(ctx domain.Context, in StartInput) (StartResult, error) {
	cfg := in.Config.Normalize()
	if err := cfg.Validate(); err != nil {
		return StartResult{}, fmt.Errorf("op=interview.Start: %w", err)
	}
	resume := textx.TruncateRunes(textx.CollapseBlankLines(textx.SanitizeText(in.ResumeText)), maxResumeRunes)

	q, err := s.ask(ctx, domain.QuestionContext{Config: cfg, ResumeContext: resume, QuestionNumber: 1})
	if err != nil {
		return StartResult{}, fmt.Errorf("op=interview.Start: %w", err)
	}

	now := s.Now()
	sess := domain.InterviewSession{
		ID:            s.NewID(),
		Config:        cfg,
		ResumeContext: resume,
		Questions:     []string{q},
		Turns:         []domain.TurnRecord{},
		Status:        domain.SessionActive,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.Sessions.Create(ctx, sess); err != nil {
		return StartResult{}, fmt.Errorf("op=interview.Start: %w", err)
	}
	ctx, lg := observability.WithSession(ctx, sess.ID)
	lg.Info("interview started",
		slog.String("role", cfg.Role),
		slog.String("difficulty", cfg.Difficulty),
		slog.Int("question_count", cfg.QuestionCount),
		slog.Bool("has_resume", resume != ""))

	return StartResult{Session: sess, Question: q, QuestionAudio: s.speak(ctx, q)}, nil
}

// Get returns a snapshot of the session.
func (s InterviewService) Get(ctx domain.Context, id string) (domain.InterviewSession, error) {
	sess, err := s.Sessions.Get(ctx, id)
	if err != nil {
		return domain.InterviewSession{}, fmt.Errorf("op=interview.Get: %w", err)
	}
	return sess, nil
}

// SubmitTurn records one answer for the pending question. Any collaborator
// failure deletes the session and the returned error wraps domain.ErrSessionDiscarded.
func (s InterviewService) SubmitTurn(ctx domain.Context, id string, in TurnInput) (TurnResult, error) {
	if in.Audio == nil && strings.TrimSpace(in.AnswerText) == "" {
		return TurnResult{}, fmt.Errorf("op=interview.SubmitTurn: %w: audio or answer_text required", domain.ErrInvalidArgument)
	}
	if in.Audio != nil && len(in.Audio.Data) == 0 {
		return TurnResult{}, fmt.Errorf("op=interview.SubmitTurn: %w: empty audio", domain.ErrInvalidArgument)
	}
	if in.SampleRate <= 0 {
		in.SampleRate = DefaultSampleRate
	}

	unlock, err := s.lockSession(ctx, id)
	if err != nil {
		return TurnResult{}, fmt.Errorf("op=interview.SubmitTurn: %w", err)
	}
	defer unlock()

	ctx, lg := observability.WithSession(ctx, id)
	sess, err := s.Sessions.Get(ctx, id)
	if err != nil {
		return TurnResult{}, fmt.Errorf("op=interview.SubmitTurn: %w", err)
	}
	if err := sess.AcceptsTurn(); err != nil {
		return TurnResult{}, fmt.Errorf("op=interview.SubmitTurn: %w", err)
	}

	turn, err := s.evaluateTurn(ctx, sess, in)
	if err != nil {
		return TurnResult{}, s.discard(ctx, id, err)
	}
	sess.Turns = append(sess.Turns, turn)
	sess.CurrentIndex++
	sess.UpdatedAt = s.Now()
	lg.Info("turn recorded",
		slog.Int("question_index", sess.CurrentIndex),
		slog.Float64("content_score", turn.Scores.ContentScore),
		slog.Int("frames", turn.Scores.FrameCount))

	if sess.CurrentIndex >= sess.Config.QuestionCount {
		return s.complete(ctx, sess, turn)
	}

	next, err := s.ask(ctx, domain.QuestionContext{
		Config:         sess.Config,
		ResumeContext:  sess.ResumeContext,
		History:        sess.History(),
		QuestionNumber: sess.CurrentIndex + 1,
	})
	if err != nil {
		return TurnResult{}, s.discard(ctx, id, err)
	}
	sess.Questions = append(sess.Questions, next)
	if err := s.save(ctx, &sess); err != nil {
		return TurnResult{}, s.saveFailed(ctx, id, err)
	}
	return TurnResult{
		Status:            TurnContinue,
		Session:           sess,
		Turn:              turn,
		NextQuestion:      next,
		NextQuestionAudio: s.speak(ctx, next),
	}, nil
}

// GetReport returns the final report and conversation of a completed interview.
// Sessions that already expired are looked up in the archive.
func (s InterviewService) GetReport(ctx domain.Context, id string) (domain.CompletedInterview, error) {
	sess, err := s.Sessions.Get(ctx, id)
	if err == nil {
		if sess.Status != domain.SessionCompleted || sess.Report == nil {
			return domain.CompletedInterview{}, fmt.Errorf("op=interview.GetReport: %w: interview not completed (%d/%d answered)",
				domain.ErrInvalidState, sess.CurrentIndex, sess.Config.QuestionCount)
		}
		return completedFrom(sess), nil
	}
	if !errors.Is(err, domain.ErrNotFound) || s.Archive == nil {
		return domain.CompletedInterview{}, fmt.Errorf("op=interview.GetReport: %w", err)
	}
	rec, err := s.Archive.Get(ctx, id)
	if err != nil {
		return domain.CompletedInterview{}, fmt.Errorf("op=interview.GetReport: archive: %w", err)
	}
	return rec, nil
}

// Abandon deletes the session. It waits for an in-flight turn to finish first.
func (s InterviewService) Abandon(ctx domain.Context, id string) error {
	unlock, err := s.lockSession(ctx, id)
	if err != nil {
		return fmt.Errorf("op=interview.Abandon: %w", err)
	}
	defer unlock()
	if _, err := s.Sessions.Get(ctx, id); err != nil {
		return fmt.Errorf("op=interview.Abandon: %w", err)
	}
	if err := s.Sessions.Delete(ctx, id); err != nil {
		return fmt.Errorf("op=interview.Abandon: %w", err)
	}
	_, lg := observability.WithSession(ctx, id)
	lg.Info("interview abandoned")
	return nil
}

// lockSession takes the in-process key lock first so local waiters do not
// poll the shared locker, then the shared lock when one is configured.
func (s InterviewService) lockSession(ctx domain.Context, id string) (func(), error) {
	unlockLocal, err := s.locks.Lock(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.Locks == nil {
		return unlockLocal, nil
	}
	unlockShared, err := s.Locks.Lock(ctx, id)
	if err != nil {
		unlockLocal()
		return nil, err
	}
	return func() {
		unlockShared()
		unlockLocal()
	}, nil
}

// save persists sess and advances its Version to match the stored copy.
func (s InterviewService) save(ctx domain.Context, sess *domain.InterviewSession) error {
	if err := s.Sessions.Save(ctx, *sess); err != nil {
		return err
	}
	sess.Version++
	return nil
}

// saveFailed reports a lost version race as a conflict and leaves the session
// to the writer that won. Any other store failure discards the session.
func (s InterviewService) saveFailed(ctx domain.Context, id string, err error) error {
	if errors.Is(err, domain.ErrConflict) {
		observability.LoggerFromContext(ctx).Warn("turn lost a concurrent write", slog.Any("error", err))
		return fmt.Errorf("op=interview.SubmitTurn: %w", err)
	}
	return s.discard(ctx, id, err)
}

func (s InterviewService) complete(ctx domain.Context, sess domain.InterviewSession, last domain.TurnRecord) (TurnResult, error) {
	report, err := scoring.Aggregate(ctx, sess.Turns, s.Predictor)
	if err != nil {
		return TurnResult{}, s.discard(ctx, sess.ID, err)
	}
	sess.Status = domain.SessionCompleted
	sess.Report = &report
	if err := s.save(ctx, &sess); err != nil {
		return TurnResult{}, s.saveFailed(ctx, sess.ID, err)
	}
	observability.LoggerFromContext(ctx).Info("interview completed",
		slog.Float64("final_score_percentage", report.FinalScorePercentage),
		slog.Float64("overall_nervousness_score", report.OverallNervousnessScore))

	s.announce(ctx, completedFrom(sess))
	return TurnResult{Status: TurnComplete, Session: sess, Turn: last, Report: &report}, nil
}

// announce archives and publishes a completed interview. Failures are logged only;
// the report already lives on the session.
func (s InterviewService) announce(ctx domain.Context, c domain.CompletedInterview) {
	if s.Archive == nil && s.Events == nil {
		return
	}
	lg := observability.LoggerFromContext(ctx)
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), completionTimeout)
	defer cancel()
	if s.Archive != nil {
		if err := s.Archive.Save(ctx, c); err != nil {
			lg.Error("archive report failed", slog.Any("error", err))
		}
	}
	if s.Events != nil {
		if err := s.Events.PublishCompleted(ctx, c); err != nil {
			lg.Error("publish completion failed", slog.Any("error", err))
		}
	}
}

func (s InterviewService) evaluateTurn(ctx domain.Context, sess domain.InterviewSession, in TurnInput) (domain.TurnRecord, error) {
	question := sess.CurrentQuestion()
	answer := textx.SanitizeText(in.AnswerText)
	feats := domain.AudioFeatures{Confidence: scoring.Neutral, Nervousness: scoring.Neutral, Fluency: scoring.Neutral}

	if in.Audio != nil {
		clip := *in.Audio
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			text, err := s.Transcriber.Transcribe(gctx, clip)
			if err != nil {
				return fmt.Errorf("transcribe: %w", err)
			}
			answer = textx.SanitizeText(text)
			return nil
		})
		g.Go(func() error {
			f, err := s.Audio.ExtractFeatures(gctx, clip, in.SampleRate)
			if err != nil {
				return fmt.Errorf("audio features: %w", err)
			}
			feats = f
			return nil
		})
		if err := g.Wait(); err != nil {
			return domain.TurnRecord{}, err
		}
	}

	score, err := s.Scorer.ScoreAnswer(ctx, question, answer)
	if err != nil {
		return domain.TurnRecord{}, fmt.Errorf("score answer: %w", err)
	}
	cv := scoring.AggregateFrames(in.Frames)

	return domain.TurnRecord{
		Question: question,
		Answer:   answer,
		Scores: domain.TurnScores{
			ContentScore:         scoring.Clamp01(score.Score),
			AudioConfidence:      scoring.Clamp01(feats.Confidence),
			AudioFluency:         scoring.Clamp01(feats.Fluency),
			AudioNervousness:     scoring.Clamp01(feats.Nervousness),
			AvgPosture:           cv.AvgPosture,
			EyeContactPercentage: cv.EyeContactPercentage,
			TotalBlinks:          cv.TotalBlinks,
			FrameCount:           cv.FrameCount,
		},
		Feedback:    strings.TrimSpace(score.Feedback),
		Suggestions: score.Suggestions,
		AnsweredAt:  s.Now(),
	}, nil
}

// ask requests a question and rejects blank output.
func (s InterviewService) ask(ctx domain.Context, qc domain.QuestionContext) (string, error) {
	q, err := s.Questions.GenerateQuestion(ctx, qc)
	if err != nil {
		return "", fmt.Errorf("generate question: %w", err)
	}
	q = strings.TrimSpace(q)
	if q == "" {
		return "", fmt.Errorf("generate question: %w: empty question", domain.ErrSchemaInvalid)
	}
	return q, nil
}

// speak synthesizes question audio when a synthesizer is configured.
func (s InterviewService) speak(ctx domain.Context, text string) []byte {
	if s.Speech == nil {
		return nil
	}
	audio, err := s.Speech.Synthesize(ctx, text)
	if err != nil {
		observability.LoggerFromContext(ctx).Warn("speech synthesis failed; sending text only", slog.Any("error", err))
		return nil
	}
	return audio
}

// discard deletes the session after a failed turn and returns the classified error.
func (s InterviewService) discard(ctx domain.Context, id string, cause error) error {
	err := classify(cause)
	lg := observability.LoggerFromContext(ctx)
	if derr := s.Sessions.Delete(context.WithoutCancel(ctx), id); derr != nil && !errors.Is(derr, domain.ErrNotFound) {
		lg.Error("delete failed session", slog.Any("error", derr))
	}
	lg.Warn("session discarded", slog.String("reason", DiscardReason(err)), slog.Any("error", err))
	return fmt.Errorf("op=interview.SubmitTurn: %w: %w", domain.ErrSessionDiscarded, err)
}

// classify maps an arbitrary collaborator error onto the domain taxonomy.
func classify(err error) error {
	switch {
	case errors.Is(err, domain.ErrUpstreamTimeout),
		errors.Is(err, domain.ErrUpstreamRateLimit),
		errors.Is(err, domain.ErrSchemaInvalid),
		errors.Is(err, domain.ErrUpstream),
		errors.Is(err, domain.ErrEmptyTurns),
		errors.Is(err, context.Canceled):
		return err
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %w", domain.ErrUpstreamTimeout, err)
	default:
		return fmt.Errorf("%w: %w", domain.ErrUpstream, err)
	}
}

// DiscardReason is a low-cardinality label for why a session was dropped.
func DiscardReason(err error) string {
	switch {
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, domain.ErrUpstreamTimeout), errors.Is(err, context.DeadlineExceeded):
		return "upstream_timeout"
	case errors.Is(err, domain.ErrUpstreamRateLimit):
		return "upstream_rate_limit"
	case errors.Is(err, domain.ErrSchemaInvalid):
		return "schema_invalid"
	case errors.Is(err, domain.ErrEmptyTurns):
		return "empty_turns"
	default:
		return "upstream_error"
	}
}

func completedFrom(sess domain.InterviewSession) domain.CompletedInterview {
	c := domain.CompletedInterview{
		SessionID:   sess.ID,
		Config:      sess.Config,
		Turns:       sess.Clone().Turns,
		CompletedAt: sess.UpdatedAt,
	}
	if sess.Report != nil {
		c.Report = *sess.Report
	}
	return c
}
