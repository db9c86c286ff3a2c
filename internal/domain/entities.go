package domain

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Error taxonomy (sentinels)
var (
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("conflict")
	ErrInvalidState      = errors.New("invalid state")
	ErrRateLimited       = errors.New("rate limited")
	ErrUpstream          = errors.New("upstream error")
	ErrUpstreamTimeout   = errors.New("upstream timeout")
	ErrUpstreamRateLimit = errors.New("upstream rate limit")
	ErrSchemaInvalid     = errors.New("schema invalid")
	ErrEmptyTurns        = errors.New("no turns to aggregate")
	ErrInternal          = errors.New("internal error")
)

// ErrSessionDiscarded marks a failure after which the session no longer exists.
// It is joined with the underlying taxonomy error, never returned alone.
var ErrSessionDiscarded = errors.New("session discarded")

// Difficulty enumerates interview difficulty levels
const (
	DifficultyEasy   = "easy"
	DifficultyMedium = "medium"
	DifficultyHard   = "hard"
)

// Bounds for the number of questions in one interview.
const (
	MinQuestionCount = 1
	MaxQuestionCount = 10
)

type SessionStatus string

const (
	SessionActive    SessionStatus = "active"
	SessionCompleted SessionStatus = "completed"
)

// SessionConfig is fixed at session start.
type SessionConfig struct {
	Role          string `json:"role"`
	Experience    string `json:"experience"`
	Difficulty    string `json:"difficulty"`
	QuestionCount int    `json:"question_count"`
}

// Normalize trims free-text fields and lowercases the difficulty.
func (c SessionConfig) Normalize() SessionConfig {
	c.Role = strings.TrimSpace(c.Role)
	c.Experience = strings.TrimSpace(c.Experience)
	c.Difficulty = strings.ToLower(strings.TrimSpace(c.Difficulty))
	if c.Difficulty == "" {
		c.Difficulty = DifficultyMedium
	}
	return c
}

// Validate checks the invariants of a normalized config.
func (c SessionConfig) Validate() error {
	if c.Role == "" {
		return fmt.Errorf("%w: role is required", ErrInvalidArgument)
	}
	switch c.Difficulty {
	case DifficultyEasy, DifficultyMedium, DifficultyHard:
	default:
		return fmt.Errorf("%w: difficulty must be one of easy, medium, hard", ErrInvalidArgument)
	}
	if c.QuestionCount < MinQuestionCount || c.QuestionCount > MaxQuestionCount {
		return fmt.Errorf("%w: question_count must be between %d and %d", ErrInvalidArgument, MinQuestionCount, MaxQuestionCount)
	}
	return nil
}

// TurnScores holds the per-answer measurements.
// Every float is a normalized fraction [0,1]; TotalBlinks is a count.
type TurnScores struct {
	ContentScore         float64 `json:"content_score"`
	AudioConfidence      float64 `json:"audio_confidence"`
	AudioFluency         float64 `json:"audio_fluency"`
	AudioNervousness     float64 `json:"audio_nervousness"`
	AvgPosture           float64 `json:"avg_posture"`
	EyeContactPercentage float64 `json:"eye_contact_percentage"`
	TotalBlinks          int     `json:"total_blinks"`
	FrameCount           int     `json:"frame_count"`
}

type TurnRecord struct {
	Question    string     `json:"question"`
	Answer      string     `json:"answer"`
	Scores      TurnScores `json:"scores"`
	Feedback    string     `json:"feedback,omitempty"`
	Suggestions []string   `json:"suggestions,omitempty"`
	AnsweredAt  time.Time  `json:"answered_at"`
}

// FinalReport is derived from the full turn sequence of a completed session.
type FinalReport struct {
	FinalScorePercentage    float64 `json:"final_score_percentage"`
	AvgContentScore         float64 `json:"avg_content_score"`
	AvgAudioConfidence      float64 `json:"avg_audio_confidence"`
	AvgAudioFluency         float64 `json:"avg_audio_fluency"`
	AvgAudioNervousness     float64 `json:"avg_audio_nervousness"`
	AvgPosture              float64 `json:"avg_posture"`
	AvgEyeContactPercentage float64 `json:"avg_eye_contact_percentage"`
	AvgBlinksPerAnswer      float64 `json:"avg_blinks_per_answer"`
	OverallNervousnessScore float64 `json:"overall_nervousness_score"`
	CommunicationScore      float64 `json:"communication_score"`
	TurnCount               int     `json:"turn_count"`
}

// InterviewSession is the unit stored in a SessionStore.
// Invariants: 0 <= CurrentIndex <= Config.QuestionCount; len(Turns) == CurrentIndex;
// Report is set exactly once, when Status becomes completed.
type InterviewSession struct {
	ID            string        `json:"id"`
	Config        SessionConfig `json:"config"`
	ResumeContext string        `json:"resume_context,omitempty"`
	Questions     []string      `json:"questions"`
	Turns         []TurnRecord  `json:"turns"`
	CurrentIndex  int           `json:"current_index"`
	Status        SessionStatus `json:"status"`
	Report        *FinalReport  `json:"report,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
	// Version counts successful saves. Stores use it to reject stale writes.
	Version int64 `json:"version"`
}

// CurrentQuestion returns the question awaiting an answer, or "" when none is pending.
func (s InterviewSession) CurrentQuestion() string {
	if s.Status != SessionActive || s.CurrentIndex >= len(s.Questions) {
		return ""
	}
	return s.Questions[s.CurrentIndex]
}

// AcceptsTurn reports whether one more answer may be recorded.
func (s InterviewSession) AcceptsTurn() error {
	if s.Status != SessionActive {
		return fmt.Errorf("%w: session is %s", ErrInvalidState, s.Status)
	}
	if s.CurrentIndex >= s.Config.QuestionCount {
		return fmt.Errorf("%w: all %d questions answered", ErrInvalidState, s.Config.QuestionCount)
	}
	if s.CurrentIndex >= len(s.Questions) {
		return fmt.Errorf("%w: no pending question", ErrInvalidState)
	}
	return nil
}

// History returns the answered question/answer pairs in order.
func (s InterviewSession) History() []QA {
	out := make([]QA, 0, len(s.Turns))
	for _, t := range s.Turns {
		out = append(out, QA{Question: t.Question, Answer: t.Answer})
	}
	return out
}

// Clone returns a deep copy so stores never share slices with callers.
func (s InterviewSession) Clone() InterviewSession {
	c := s
	c.Questions = append([]string(nil), s.Questions...)
	c.Turns = make([]TurnRecord, len(s.Turns))
	for i, t := range s.Turns {
		t.Suggestions = append([]string(nil), t.Suggestions...)
		c.Turns[i] = t
	}
	if s.Report != nil {
		r := *s.Report
		c.Report = &r
	}
	return c
}

// QA is one answered exchange used as question-generation history.
type QA struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// QuestionContext carries everything a QuestionGenerator may use.
type QuestionContext struct {
	Config         SessionConfig
	ResumeContext  string
	History        []QA
	QuestionNumber int
}

// AudioClip is one recorded answer.
type AudioClip struct {
	Data     []byte
	FileName string
	MIME     string
}

// AudioFeatures are normalized prosody measurements for one answer.
type AudioFeatures struct {
	Confidence  float64 `json:"confidence"`
	Nervousness float64 `json:"nervousness"`
	Fluency     float64 `json:"fluency"`
}

// FrameSample is the analysis of one webcam frame.
type FrameSample struct {
	PostureScore  float64 `json:"posture_score"`
	EyeContact    bool    `json:"eye_contact"`
	BlinkDetected bool    `json:"blink_detected"`
}

// CVSummary aggregates the frame samples captured during one answer.
type CVSummary struct {
	AvgPosture           float64 `json:"avg_posture"`
	EyeContactPercentage float64 `json:"eye_contact_percentage"`
	TotalBlinks          int     `json:"total_blinks"`
	FrameCount           int     `json:"frame_count"`
}

// AnswerScore is the content evaluation of one answer; Score in [0,1].
type AnswerScore struct {
	Score       float64  `json:"score"`
	Feedback    string   `json:"feedback"`
	Suggestions []string `json:"suggestions"`
}

// ResumeAnalysis is the result of scoring a resume against a job description.
type ResumeAnalysis struct {
	Score         float64  `json:"resume_score"`
	MatchedSkills []string `json:"matched_skills"`
	MissingSkills []string `json:"missing_skills"`
	Summary       string   `json:"profile_summary"`
}

// CompletedInterview is the archived and published form of a finished session.
type CompletedInterview struct {
	SessionID   string        `json:"session_id"`
	Config      SessionConfig `json:"config"`
	Report      FinalReport   `json:"final_report"`
	Turns       []TurnRecord  `json:"full_conversation"`
	CompletedAt time.Time     `json:"completed_at"`
}

// Collaborators (ports)

type Transcriber interface {
	Transcribe(ctx Context, audio AudioClip) (string, error)
}

type AudioAnalyzer interface {
	ExtractFeatures(ctx Context, audio AudioClip, sampleRate int) (AudioFeatures, error)
}

type FrameAnalyzer interface {
	AnalyzeFrame(ctx Context, image []byte) (FrameSample, error)
}

type AnswerScorer interface {
	ScoreAnswer(ctx Context, question, answer string) (AnswerScore, error)
}

type QuestionGenerator interface {
	GenerateQuestion(ctx Context, qc QuestionContext) (string, error)
}

// NervousnessPredictor maps aggregate signals to a probability of nervousness.
// Implementations are only required to return a value in [0,1].
type NervousnessPredictor interface {
	PredictNervousness(ctx Context, avgBlinks, avgAudioNervousness, avgPosture float64) (float64, error)
}

type SpeechSynthesizer interface {
	Synthesize(ctx Context, text string) ([]byte, error)
}

type ResumeScorer interface {
	ScoreResume(ctx Context, resumeText, jobDescription string) (ResumeAnalysis, error)
}

// TextExtractor (port)
// ExtractPath extracts text from a file at path with provided original filename.
type TextExtractor interface {
	ExtractPath(ctx Context, fileName, path string) (string, error)
}

// AIClient (port)

type AIClient interface {
	// ChatJSON returns a completion that should contain a single JSON object.
	ChatJSON(ctx Context, systemPrompt, userPrompt string, maxTokens int) (string, error)
	// ChatText returns a free-form completion.
	ChatText(ctx Context, systemPrompt, userPrompt string, maxTokens int) (string, error)
}

// Storage (ports)

// SessionStore holds live sessions. Get returns ErrNotFound for unknown ids;
// Create returns ErrConflict if the id exists. Save writes s only while the
// stored Version still equals s.Version and stores it as s.Version+1; a stale
// s yields ErrConflict.
type SessionStore interface {
	Create(ctx Context, s InterviewSession) error
	Get(ctx Context, id string) (InterviewSession, error)
	Save(ctx Context, s InterviewSession) error
	Delete(ctx Context, id string) error
}

// SessionLocker grants one writer per session id across every process sharing
// it. Lock blocks until the id is free or ctx ends; the returned func releases it.
type SessionLocker interface {
	Lock(ctx Context, id string) (func(), error)
}

// ReportArchive keeps completed interviews beyond the session lifetime.
type ReportArchive interface {
	Save(ctx Context, c CompletedInterview) error
	Get(ctx Context, sessionID string) (CompletedInterview, error)
}

// EventPublisher announces completed interviews.
type EventPublisher interface {
	PublishCompleted(ctx Context, c CompletedInterview) error
}

// Context is an alias so ports read without importing context everywhere.
type Context = context.Context
