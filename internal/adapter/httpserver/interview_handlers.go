package httpserver

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"

	"github.com/fairyhunter13/ai-mock-interview/internal/adapter/observability"
	"github.com/fairyhunter13/ai-mock-interview/internal/domain"
	"github.com/fairyhunter13/ai-mock-interview/internal/usecase"
)

// defaultQuestionCount applies when a start request omits question_count.
const defaultQuestionCount = 5

type startRequest struct {
	Role          string `json:"role" validate:"required,max=200"`
	Experience    string `json:"experience" validate:"max=100"`
	Difficulty    string `json:"difficulty" validate:"max=16"`
	QuestionCount int    `json:"question_count"`
	ResumeText    string `json:"resume_text"`
}

type startResponse struct {
	SessionID        string               `json:"session_id"`
	Status           domain.SessionStatus `json:"status"`
	Question         string               `json:"question"`
	QuestionIndex    int                  `json:"question_index"`
	QuestionCount    int                  `json:"question_count"`
	QuestionAudioB64 string               `json:"question_audio_b64,omitempty"`
}

type sessionView struct {
	SessionID       string               `json:"session_id"`
	Status          domain.SessionStatus `json:"status"`
	Config          domain.SessionConfig `json:"config"`
	CurrentQuestion string               `json:"current_question,omitempty"`
	QuestionIndex   int                  `json:"question_index"`
	QuestionCount   int                  `json:"question_count"`
	Turns           []domain.TurnRecord  `json:"turns"`
	Report          *domain.FinalReport  `json:"final_report,omitempty"`
	CreatedAt       time.Time            `json:"created_at"`
	UpdatedAt       time.Time            `json:"updated_at"`
}

type turnFeedback struct {
	ContentScore float64  `json:"content_score"`
	Feedback     string   `json:"feedback,omitempty"`
	Suggestions  []string `json:"suggestions,omitempty"`
}

type turnResponse struct {
	Status               usecase.TurnStatus  `json:"status"`
	SessionID            string              `json:"session_id"`
	QuestionIndex        int                 `json:"question_index"`
	QuestionCount        int                 `json:"question_count"`
	Turn                 turnFeedback        `json:"turn"`
	NextQuestion         string              `json:"next_question,omitempty"`
	NextQuestionAudioB64 string              `json:"next_question_audio_b64,omitempty"`
	FinalReport          *domain.FinalReport `json:"final_report,omitempty"`
	Conversation         []domain.TurnRecord `json:"conversation,omitempty"`
}

type turnRequest struct {
	AnswerText string               `json:"answer_text" validate:"max=20000"`
	SampleRate int                  `json:"sample_rate" validate:"gte=0,lte=384000"`
	CVSamples  []domain.FrameSample `json:"cv_samples" validate:"max=20000"`
}

func audioB64(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	return base64.StdEncoding.EncodeToString(b)
}

func newSessionView(s domain.InterviewSession) sessionView {
	v := sessionView{
		SessionID:       s.ID,
		Status:          s.Status,
		Config:          s.Config,
		CurrentQuestion: s.CurrentQuestion(),
		QuestionIndex:   s.CurrentIndex,
		QuestionCount:   s.Config.QuestionCount,
		Turns:           s.Turns,
		Report:          s.Report,
		CreatedAt:       s.CreatedAt,
		UpdatedAt:       s.UpdatedAt,
	}
	if v.CurrentQuestion != "" {
		v.QuestionIndex = s.CurrentIndex + 1
	}
	if v.Turns == nil {
		v.Turns = []domain.TurnRecord{}
	}
	return v
}

// StartHandler begins an interview. It accepts multipart (with an optional
// resume file) or a JSON body.
func (s *Server) StartHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !acceptsJSON(w, r) {
			return
		}
		var req startRequest
		if isMultipart(r) {
			if !s.parseMultipart(w, r) {
				return
			}
			req.Role = r.FormValue("role")
			req.Experience = r.FormValue("experience")
			req.Difficulty = r.FormValue("difficulty")
			if v := strings.TrimSpace(r.FormValue("question_count")); v != "" {
				n, err := strconv.Atoi(v)
				if err != nil {
					writeError(w, r, fmt.Errorf("%w: question_count must be an integer", domain.ErrInvalidArgument), map[string]string{"question_count": "integer"})
					return
				}
				req.QuestionCount = n
			}
			text, ok := s.resumeUpload(w, r, false)
			if !ok {
				return
			}
			req.ResumeText = text
		} else if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, err, nil)
			return
		}
		if err := getValidator().Struct(req); err != nil {
			writeError(w, r, fmt.Errorf("%w: validation failed", domain.ErrInvalidArgument), validationDetails(err))
			return
		}
		if req.QuestionCount == 0 {
			req.QuestionCount = defaultQuestionCount
		}

		res, err := s.Interviews.Start(r.Context(), usecase.StartInput{
			Config: domain.SessionConfig{
				Role:          req.Role,
				Experience:    req.Experience,
				Difficulty:    req.Difficulty,
				QuestionCount: req.QuestionCount,
			},
			ResumeText: req.ResumeText,
		})
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		observability.StartInterview(res.Session.Config.Difficulty)
		writeJSON(w, http.StatusCreated, startResponse{
			SessionID:        res.Session.ID,
			Status:           res.Session.Status,
			Question:         res.Question,
			QuestionIndex:    1,
			QuestionCount:    res.Session.Config.QuestionCount,
			QuestionAudioB64: audioB64(res.QuestionAudio),
		})
	}
}

// GetSessionHandler returns a snapshot of the session.
func (s *Server) GetSessionHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !acceptsJSON(w, r) {
			return
		}
		id, err := sessionID(r)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		sess, err := s.Interviews.Get(r.Context(), id)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, newSessionView(sess))
	}
}

// SubmitTurnHandler records one answer. Multipart carries an audio file;
// JSON is accepted for text-only answers.
func (s *Server) SubmitTurnHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !acceptsJSON(w, r) {
			return
		}
		id, err := sessionID(r)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		in, ok := s.readTurn(w, r)
		if !ok {
			return
		}

		res, err := s.Interviews.SubmitTurn(r.Context(), id, in)
		if err != nil {
			if errors.Is(err, domain.ErrSessionDiscarded) {
				observability.RecordTurn("discarded")
				observability.DiscardSession(usecase.DiscardReason(err))
			} else {
				observability.RecordTurn("rejected")
			}
			writeError(w, r, err, nil)
			return
		}

		out := turnResponse{
			Status:        res.Status,
			SessionID:     res.Session.ID,
			QuestionIndex: res.Session.CurrentIndex,
			QuestionCount: res.Session.Config.QuestionCount,
			Turn: turnFeedback{
				ContentScore: res.Turn.Scores.ContentScore,
				Feedback:     res.Turn.Feedback,
				Suggestions:  res.Turn.Suggestions,
			},
		}
		switch res.Status {
		case usecase.TurnComplete:
			observability.RecordTurn("complete")
			if res.Report != nil {
				observability.CompleteInterview(res.Report.FinalScorePercentage)
				if s.Drift != nil {
					s.Drift.Record(observability.DriftFinalScore, res.Report.FinalScorePercentage)
					s.Drift.Record(observability.DriftContentScore, res.Report.AvgContentScore)
				}
			}
			out.FinalReport = res.Report
			out.Conversation = res.Session.Turns
		default:
			observability.RecordTurn("continue")
			out.QuestionIndex = res.Session.CurrentIndex + 1
			out.NextQuestion = res.NextQuestion
			out.NextQuestionAudioB64 = audioB64(res.NextQuestionAudio)
		}
		writeJSON(w, http.StatusOK, out)
	}
}

// readTurn decodes a multipart or JSON turn. ok is false when a response was already written.
func (s *Server) readTurn(w http.ResponseWriter, r *http.Request) (usecase.TurnInput, bool) {
	var req turnRequest
	var in usecase.TurnInput
	if isMultipart(r) {
		if !s.parseMultipart(w, r) {
			return in, false
		}
		req.AnswerText = r.FormValue("answer_text")
		if v := strings.TrimSpace(r.FormValue("sample_rate")); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				writeError(w, r, fmt.Errorf("%w: sample_rate must be an integer", domain.ErrInvalidArgument), map[string]string{"sample_rate": "integer"})
				return in, false
			}
			req.SampleRate = n
		}
		if v := strings.TrimSpace(r.FormValue("cv_samples")); v != "" {
			if err := json.Unmarshal([]byte(v), &req.CVSamples); err != nil {
				writeError(w, r, fmt.Errorf("%w: cv_samples must be a JSON array of frame samples", domain.ErrInvalidArgument), map[string]string{"cv_samples": "json"})
				return in, false
			}
		}
		data, h, err := formFile(r, "audio")
		if err != nil {
			writeError(w, r, err, map[string]string{"field": "audio"})
			return in, false
		}
		if data != nil {
			mt := mimetype.Detect(data)
			if !allowedAudioMIME(mt.String()) {
				unsupportedMedia(w, "audio", "content", h.Filename, mt.String())
				return in, false
			}
			in.Audio = &domain.AudioClip{Data: data, FileName: h.Filename, MIME: mt.String()}
		}
	} else if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err, nil)
		return in, false
	}
	if err := getValidator().Struct(req); err != nil {
		writeError(w, r, fmt.Errorf("%w: validation failed", domain.ErrInvalidArgument), validationDetails(err))
		return in, false
	}
	in.AnswerText = req.AnswerText
	in.SampleRate = req.SampleRate
	in.Frames = req.CVSamples
	return in, true
}

// ReportHandler returns the final report and conversation of a completed interview.
func (s *Server) ReportHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !acceptsJSON(w, r) {
			return
		}
		id, err := sessionID(r)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		rep, err := s.Interviews.GetReport(r.Context(), id)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, rep)
	}
}

// AbandonHandler deletes an interview.
func (s *Server) AbandonHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := sessionID(r)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		if err := s.Interviews.Abandon(r.Context(), id); err != nil {
			writeError(w, r, err, nil)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// AnalyzeFrameHandler forwards one webcam frame (multipart field "image") to the frame analyzer.
func (s *Server) AnalyzeFrameHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !acceptsJSON(w, r) {
			return
		}
		if !isMultipart(r) {
			writeError(w, r, fmt.Errorf("%w: content-type must be multipart/form-data", domain.ErrInvalidArgument), nil)
			return
		}
		if !s.parseMultipart(w, r) {
			return
		}
		data, h, err := formFile(r, "image")
		if err != nil {
			writeError(w, r, err, map[string]string{"field": "image"})
			return
		}
		if data == nil {
			writeError(w, r, fmt.Errorf("%w: image file required", domain.ErrInvalidArgument), map[string]string{"field": "image"})
			return
		}
		if mt := mimetype.Detect(data); !allowedImageMIME(mt.String()) {
			unsupportedMedia(w, "image", "content", h.Filename, mt.String())
			return
		}
		sample, err := s.Frames.AnalyzeFrame(r.Context(), data)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, sample)
	}
}

// ScoreResumeHandler scores a resume upload against the job_description field.
func (s *Server) ScoreResumeHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !acceptsJSON(w, r) {
			return
		}
		if !isMultipart(r) {
			writeError(w, r, fmt.Errorf("%w: content-type must be multipart/form-data", domain.ErrInvalidArgument), nil)
			return
		}
		if !s.parseMultipart(w, r) {
			return
		}
		jd := r.FormValue("job_description")
		if err := getValidator().Var(jd, "required,max=20000"); err != nil {
			writeError(w, r, fmt.Errorf("%w: validation failed", domain.ErrInvalidArgument), map[string]string{"job_description": "required,max=20000"})
			return
		}
		text, ok := s.resumeUpload(w, r, true)
		if !ok {
			return
		}
		res, err := s.Resumes.Analyze(r.Context(), text, jd)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}
