package ai

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"

	"github.com/fairyhunter13/ai-mock-interview/internal/adapter/ai/tokencount"
	"github.com/fairyhunter13/ai-mock-interview/internal/domain"
	"github.com/fairyhunter13/ai-mock-interview/internal/prompts"
)

const (
	questionMaxTokens = 160
	scoreMaxTokens    = 400
	resumeMaxTokens   = 600
	maxSuggestions    = 5
)

// InterviewerOptions tunes prompt budgets.
type InterviewerOptions struct {
	// Model is used for token counting only.
	Model string
	// ResumeTokens caps resume text inside prompts. 0 disables the cap.
	ResumeTokens int
}

// Interviewer implements domain.QuestionGenerator, domain.AnswerScorer and
// domain.ResumeScorer on top of a chat model.
type Interviewer struct {
	client  domain.AIClient
	prompts *prompts.Set
	cleaner *ResponseCleaner
	counter *tokencount.Counter
	opts    InterviewerOptions
}

// NewInterviewer wires the chat client to the prompt set.
func NewInterviewer(client domain.AIClient, set *prompts.Set, opts InterviewerOptions) *Interviewer {
	return &Interviewer{
		client:  client,
		prompts: set,
		cleaner: NewResponseCleaner(),
		counter: tokencount.DefaultCounter,
		opts:    opts,
	}
}

type questionData struct {
	Role           string
	Experience     string
	Difficulty     string
	QuestionNumber int
	QuestionCount  int
	Resume         string
	History        []domain.QA
}

// GenerateQuestion asks for the next question. Refusals and blank output are ErrSchemaInvalid.
func (iv *Interviewer) GenerateQuestion(ctx domain.Context, qc domain.QuestionContext) (string, error) {
	sys, user, err := iv.prompts.Render(prompts.Question, questionData{
		Role:           qc.Config.Role,
		Experience:     qc.Config.Experience,
		Difficulty:     qc.Config.Difficulty,
		QuestionNumber: qc.QuestionNumber,
		QuestionCount:  qc.Config.QuestionCount,
		Resume:         iv.fitResume(qc.ResumeContext),
		History:        qc.History,
	})
	if err != nil {
		return "", fmt.Errorf("op=ai.GenerateQuestion: %w: %w", domain.ErrInternal, err)
	}
	raw, err := iv.client.ChatText(ctx, sys, user, questionMaxTokens)
	if err != nil {
		return "", fmt.Errorf("op=ai.GenerateQuestion: %w", err)
	}
	q := iv.cleaner.CleanQuestion(raw)
	if q == "" {
		return "", fmt.Errorf("op=ai.GenerateQuestion: %w: empty question", domain.ErrSchemaInvalid)
	}
	if iv.cleaner.IsRefusal(q) {
		slog.Warn("model refused to generate a question", slog.String("response", q))
		return "", fmt.Errorf("op=ai.GenerateQuestion: %w: model refused", domain.ErrSchemaInvalid)
	}
	return q, nil
}

type answerPayload struct {
	Score       *flexFloat `json:"score"`
	Clarity     *flexFloat `json:"clarity"`
	Feedback    string     `json:"feedback"`
	Suggestions []string   `json:"suggestions"`
}

// ScoreAnswer grades one answer. An empty answer scores 0 without a model call.
func (iv *Interviewer) ScoreAnswer(ctx domain.Context, question, answer string) (domain.AnswerScore, error) {
	if strings.TrimSpace(answer) == "" {
		return domain.AnswerScore{
			Score:       0,
			Feedback:    "No answer was detected.",
			Suggestions: []string{"Answer the question out loud and check that your microphone is working."},
		}, nil
	}
	sys, user, err := iv.prompts.Render(prompts.ScoreAnswer, struct{ Question, Answer string }{question, answer})
	if err != nil {
		return domain.AnswerScore{}, fmt.Errorf("op=ai.ScoreAnswer: %w: %w", domain.ErrInternal, err)
	}
	var p answerPayload
	if err := iv.chatJSON(ctx, sys, user, scoreMaxTokens, &p); err != nil {
		return domain.AnswerScore{}, fmt.Errorf("op=ai.ScoreAnswer: %w", err)
	}
	raw := p.Score
	if raw == nil {
		// older prompt shape
		raw = p.Clarity
	}
	if raw == nil {
		return domain.AnswerScore{}, fmt.Errorf("op=ai.ScoreAnswer: %w: missing score", domain.ErrSchemaInvalid)
	}
	score, err := normalizeScore(float64(*raw))
	if err != nil {
		return domain.AnswerScore{}, fmt.Errorf("op=ai.ScoreAnswer: %w", err)
	}
	return domain.AnswerScore{
		Score:       score,
		Feedback:    strings.TrimSpace(p.Feedback),
		Suggestions: cleanList(p.Suggestions, maxSuggestions),
	}, nil
}

type resumePayload struct {
	ResumeScore    *flexFloat `json:"resume_score"`
	Score          *flexFloat `json:"score"`
	MatchedSkills  []string   `json:"matched_skills"`
	MissingSkills  []string   `json:"missing_skills"`
	MissingKeyword []string   `json:"missing_keywords"`
	ProfileSummary string     `json:"profile_summary"`
	Summary        string     `json:"summary"`
}

// ScoreResume rates a resume against a job description.
func (iv *Interviewer) ScoreResume(ctx domain.Context, resumeText, jobDescription string) (domain.ResumeAnalysis, error) {
	sys, user, err := iv.prompts.Render(prompts.Resume, struct{ Resume, JobDescription string }{
		Resume:         iv.fitResume(resumeText),
		JobDescription: jobDescription,
	})
	if err != nil {
		return domain.ResumeAnalysis{}, fmt.Errorf("op=ai.ScoreResume: %w: %w", domain.ErrInternal, err)
	}
	var p resumePayload
	if err := iv.chatJSON(ctx, sys, user, resumeMaxTokens, &p); err != nil {
		return domain.ResumeAnalysis{}, fmt.Errorf("op=ai.ScoreResume: %w", err)
	}
	raw := p.ResumeScore
	if raw == nil {
		raw = p.Score
	}
	if raw == nil {
		return domain.ResumeAnalysis{}, fmt.Errorf("op=ai.ScoreResume: %w: missing resume_score", domain.ErrSchemaInvalid)
	}
	score, err := normalizeScore(float64(*raw))
	if err != nil {
		return domain.ResumeAnalysis{}, fmt.Errorf("op=ai.ScoreResume: %w", err)
	}
	missing := p.MissingSkills
	if len(missing) == 0 {
		missing = p.MissingKeyword
	}
	summary := p.ProfileSummary
	if summary == "" {
		summary = p.Summary
	}
	return domain.ResumeAnalysis{
		Score:         score,
		MatchedSkills: cleanList(p.MatchedSkills, 0),
		MissingSkills: cleanList(missing, 0),
		Summary:       strings.TrimSpace(summary),
	}, nil
}

func (iv *Interviewer) chatJSON(ctx domain.Context, sys, user string, maxTokens int, out any) error {
	raw, err := iv.client.ChatJSON(ctx, sys, user, maxTokens)
	if err != nil {
		return err
	}
	cleaned, err := iv.cleaner.CleanJSON(raw)
	if err != nil {
		slog.Warn("unparseable model output", slog.Int("length", len(raw)), slog.Any("error", err))
		return err
	}
	if err := json.Unmarshal([]byte(cleaned), out); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrSchemaInvalid, err)
	}
	return nil
}

func (iv *Interviewer) fitResume(text string) string {
	text = strings.TrimSpace(text)
	if text == "" || iv.opts.ResumeTokens <= 0 {
		return text
	}
	out, cut, err := iv.counter.Truncate(text, iv.opts.Model, iv.opts.ResumeTokens)
	if err != nil {
		slog.Warn("token truncation failed; using character budget", slog.Any("error", err))
		if n := iv.opts.ResumeTokens * 4; len(text) > n {
			return strings.ToValidUTF8(text[:n], "")
		}
		return text
	}
	if cut {
		slog.Debug("resume truncated for prompt", slog.Int("max_tokens", iv.opts.ResumeTokens))
	}
	return out
}

// normalizeScore maps a model score to [0,1]. Prompts ask for 0-100, but a
// fractional value below 1 is read as already normalized. A whole 1 (or 1.0)
// stays on the percent scale and becomes 0.01.
func normalizeScore(v float64) (float64, error) {
	switch {
	case math.IsNaN(v) || math.IsInf(v, 0) || v < 0 || v > 100:
		return 0, fmt.Errorf("%w: score %v out of range", domain.ErrSchemaInvalid, v)
	case v < 1 && v != math.Trunc(v):
		return v, nil
	default:
		return v / 100, nil
	}
}

func cleanList(in []string, limit int) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		out = append(out, s)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

// flexFloat accepts 80, 80.5 and "80".
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		b = []byte(strings.TrimSuffix(strings.TrimSpace(s), "%"))
	}
	v, err := strconv.ParseFloat(string(b), 64)
	if err != nil {
		return fmt.Errorf("not a number: %s", b)
	}
	*f = flexFloat(v)
	return nil
}
