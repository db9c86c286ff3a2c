package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/ai-mock-interview/internal/adapter/ai"
	"github.com/fairyhunter13/ai-mock-interview/internal/adapter/ai/stub"
	"github.com/fairyhunter13/ai-mock-interview/internal/adapter/observability"
	"github.com/fairyhunter13/ai-mock-interview/internal/adapter/sessionstore/memory"
	"github.com/fairyhunter13/ai-mock-interview/internal/config"
	"github.com/fairyhunter13/ai-mock-interview/internal/domain"
	"github.com/fairyhunter13/ai-mock-interview/internal/prompts"
	"github.com/fairyhunter13/ai-mock-interview/internal/scoring"
	"github.com/fairyhunter13/ai-mock-interview/internal/usecase"
)

var (
	wavBytes = append([]byte("RIFF\x24\x00\x00\x00WAVEfmt "), make([]byte, 32)...)
	pngBytes = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01")
)

// fakeML stands in for the ML sidecar.
type fakeML struct {
	transcribeErr error
	frameErr      error
}

func (f *fakeML) Transcribe(context.Context, domain.AudioClip) (string, error) {
	if f.transcribeErr != nil {
		return "", f.transcribeErr
	}
	return "I split the monolith into services and cut latency by forty percent", nil
}

func (f *fakeML) ExtractFeatures(context.Context, domain.AudioClip, int) (domain.AudioFeatures, error) {
	return domain.AudioFeatures{Confidence: 0.8, Nervousness: 0.2, Fluency: 0.7}, nil
}

func (f *fakeML) AnalyzeFrame(context.Context, []byte) (domain.FrameSample, error) {
	if f.frameErr != nil {
		return domain.FrameSample{}, f.frameErr
	}
	return domain.FrameSample{PostureScore: 0.9, EyeContact: true}, nil
}

func newTestServer(t *testing.T, ml *fakeML, checks ...ReadinessCheck) (*Server, http.Handler) {
	t.Helper()
	set, err := prompts.Default()
	require.NoError(t, err)
	iv := ai.NewInterviewer(stub.New(), set, ai.InterviewerOptions{Model: "stub"})
	interviews := usecase.NewInterviewService(usecase.InterviewDeps{
		Sessions:    memory.New(time.Hour),
		Questions:   iv,
		Scorer:      iv,
		Transcriber: ml,
		Audio:       ml,
		Predictor:   scoring.HeuristicPredictor{},
	})
	cfg := config.Config{AppEnv: "test", MaxUploadMB: 1}
	srv := NewServer(cfg, interviews, usecase.NewResumeService(iv), ml, nil, observability.NewScoreDriftMonitor("stub", 2, 10), checks...)

	r := chi.NewRouter()
	r.Post("/v1/interviews", srv.StartHandler())
	r.Get("/v1/interviews/{id}", srv.GetSessionHandler())
	r.Delete("/v1/interviews/{id}", srv.AbandonHandler())
	r.Post("/v1/interviews/{id}/turns", srv.SubmitTurnHandler())
	r.Get("/v1/interviews/{id}/report", srv.ReportHandler())
	r.Post("/v1/frames/analyze", srv.AnalyzeFrameHandler())
	r.Post("/v1/resumes/score", srv.ScoreResumeHandler())
	r.Get("/readyz", srv.ReadyzHandler())
	return srv, r
}

type part struct {
	field, fileName string
	data            []byte
}

func multipartBody(t *testing.T, fields map[string]string, files ...part) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	for _, f := range files {
		fw, err := w.CreateFormFile(f.field, f.fileName)
		require.NoError(t, err)
		_, err = fw.Write(f.data)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return &buf, w.FormDataContentType()
}

func do(t *testing.T, h http.Handler, method, path, contentType string, body io.Reader) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &m), rec.Body.String())
	return m
}

func errCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	e, ok := decode(t, rec)["error"].(map[string]any)
	require.True(t, ok, rec.Body.String())
	return e["code"].(string)
}

func startJSON(t *testing.T, h http.Handler, body string) map[string]any {
	t.Helper()
	rec := do(t, h, http.MethodPost, "/v1/interviews", "application/json", strings.NewReader(body))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode(t, rec)
}

func TestStartHandler_JSON(t *testing.T) {
	_, h := newTestServer(t, &fakeML{})
	m := startJSON(t, h, `{"role":"Backend Engineer","experience":"3 years","difficulty":"Hard"}`)
	assert.NotEmpty(t, m["session_id"])
	assert.Equal(t, "active", m["status"])
	assert.NotEmpty(t, m["question"])
	assert.Equal(t, float64(1), m["question_index"])
	assert.Equal(t, float64(defaultQuestionCount), m["question_count"])
	assert.NotContains(t, m, "question_audio_b64")
}

func TestStartHandler_Validation(t *testing.T) {
	_, h := newTestServer(t, &fakeML{})

	rec := do(t, h, http.MethodPost, "/v1/interviews", "application/json", strings.NewReader(`{"difficulty":"easy"}`))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	m := decode(t, rec)
	details := m["error"].(map[string]any)["details"].(map[string]any)
	assert.Equal(t, "required", details["role"])

	rec = do(t, h, http.MethodPost, "/v1/interviews", "application/json", strings.NewReader(`{"role":"x","question_count":11}`))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "question_count")

	rec = do(t, h, http.MethodPost, "/v1/interviews", "application/json", strings.NewReader(`{"role":"x","difficulty":"brutal"}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, "/v1/interviews", "application/json", strings.NewReader(`{not json`))
	assert.Equal(t, "INVALID_ARGUMENT", errCode(t, rec))
}

func TestStartHandler_MultipartWithResume(t *testing.T) {
	_, h := newTestServer(t, &fakeML{})
	body, ct := multipartBody(t,
		map[string]string{"role": "Data Engineer", "difficulty": "easy", "question_count": "2"},
		part{"resume", "cv.txt", []byte("Jane Doe\nSpark, Airflow, SQL")})
	rec := do(t, h, http.MethodPost, "/v1/interviews", ct, body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, float64(2), decode(t, rec)["question_count"])
}

func TestStartHandler_MultipartRejections(t *testing.T) {
	_, h := newTestServer(t, &fakeML{})

	body, ct := multipartBody(t, map[string]string{"role": "x"}, part{"resume", "cv.exe", []byte("MZ")})
	assert.Equal(t, http.StatusUnsupportedMediaType, do(t, h, http.MethodPost, "/v1/interviews", ct, body).Code)

	body, ct = multipartBody(t, map[string]string{"role": "x"}, part{"resume", "cv.pdf", pngBytes})
	assert.Equal(t, http.StatusUnsupportedMediaType, do(t, h, http.MethodPost, "/v1/interviews", ct, body).Code)

	body, ct = multipartBody(t, map[string]string{"role": "x", "question_count": "three"})
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/v1/interviews", ct, body).Code)

	body, ct = multipartBody(t, map[string]string{"role": "x"}, part{"resume", "cv.txt", bytes.Repeat([]byte("a"), 2<<20)})
	assert.Equal(t, http.StatusRequestEntityTooLarge, do(t, h, http.MethodPost, "/v1/interviews", ct, body).Code)
}

func TestStartHandler_NotAcceptable(t *testing.T) {
	_, h := newTestServer(t, &fakeML{})
	req := httptest.NewRequest(http.MethodPost, "/v1/interviews", strings.NewReader(`{"role":"x"}`))
	req.Header.Set("Accept", "text/html")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotAcceptable, rec.Code)
}

func TestInterviewFlow(t *testing.T) {
	srv, h := newTestServer(t, &fakeML{})
	id := startJSON(t, h, `{"role":"Backend Engineer","question_count":2}`)["session_id"].(string)

	// report is not ready yet
	rec := do(t, h, http.MethodGet, "/v1/interviews/"+id+"/report", "", nil)
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "INVALID_STATE", errCode(t, rec))

	// text-only answer
	rec = do(t, h, http.MethodPost, "/v1/interviews/"+id+"/turns", "application/json",
		strings.NewReader(`{"answer_text":"I would use a token bucket per API key stored in Redis","cv_samples":[{"posture_score":0.7,"eye_contact":true,"blink_detected":true}]}`))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	m := decode(t, rec)
	assert.Equal(t, "CONTINUE", m["status"])
	assert.Equal(t, float64(2), m["question_index"])
	assert.NotEmpty(t, m["next_question"])
	assert.Greater(t, m["turn"].(map[string]any)["content_score"].(float64), 0.0)

	rec = do(t, h, http.MethodGet, "/v1/interviews/"+id, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	view := decode(t, rec)
	assert.Equal(t, float64(2), view["question_index"])
	assert.Len(t, view["turns"], 1)
	assert.NotContains(t, view, "resume_context")

	// audio answer with frames
	body, ct := multipartBody(t,
		map[string]string{"sample_rate": "48000", "cv_samples": `[{"posture_score":0.9,"eye_contact":true,"blink_detected":false}]`},
		part{"audio", "answer.wav", wavBytes})
	rec = do(t, h, http.MethodPost, "/v1/interviews/"+id+"/turns", ct, body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	m = decode(t, rec)
	assert.Equal(t, "COMPLETE", m["status"])
	report := m["final_report"].(map[string]any)
	assert.Equal(t, float64(2), report["turn_count"])
	assert.GreaterOrEqual(t, report["final_score_percentage"].(float64), 0.0)
	assert.LessOrEqual(t, report["final_score_percentage"].(float64), 100.0)
	conv := m["conversation"].([]any)
	require.Len(t, conv, 2)
	assert.Contains(t, conv[1].(map[string]any)["answer"], "monolith")

	rec = do(t, h, http.MethodGet, "/v1/interviews/"+id+"/report", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, id, decode(t, rec)["session_id"])

	rec = do(t, h, http.MethodPost, "/v1/interviews/"+id+"/turns", "application/json", strings.NewReader(`{"answer_text":"again"}`))
	assert.Equal(t, http.StatusConflict, rec.Code)

	assert.Zero(t, srv.Drift.Record(observability.DriftFinalScore, 50), "no baseline until the window fills")
}

func TestSubmitTurn_Rejections(t *testing.T) {
	_, h := newTestServer(t, &fakeML{})
	id := startJSON(t, h, `{"role":"x","question_count":1}`)["session_id"].(string)

	rec := do(t, h, http.MethodPost, "/v1/interviews/"+id+"/turns", "application/json", strings.NewReader(`{}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	body, ct := multipartBody(t, map[string]string{"cv_samples": "not-json", "answer_text": "hi"})
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/v1/interviews/"+id+"/turns", ct, body).Code)

	body, ct = multipartBody(t, map[string]string{"sample_rate": "fast", "answer_text": "hi"})
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/v1/interviews/"+id+"/turns", ct, body).Code)

	body, ct = multipartBody(t, nil, part{"audio", "answer.png", pngBytes})
	assert.Equal(t, http.StatusUnsupportedMediaType, do(t, h, http.MethodPost, "/v1/interviews/"+id+"/turns", ct, body).Code)

	// the session survived every rejected request
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/v1/interviews/"+id, "", nil).Code)

	rec = do(t, h, http.MethodPost, "/v1/interviews/00000000-0000-4000-8000-000000000000/turns", "application/json", strings.NewReader(`{"answer_text":"hi"}`))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, h, http.MethodPost, "/v1/interviews/not-a-uuid/turns", "application/json", strings.NewReader(`{"answer_text":"hi"}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSubmitTurn_CollaboratorFailureDiscardsSession(t *testing.T) {
	ml := &fakeML{transcribeErr: fmt.Errorf("whisper: %w", domain.ErrUpstreamTimeout)}
	_, h := newTestServer(t, ml)
	id := startJSON(t, h, `{"role":"x","question_count":2}`)["session_id"].(string)

	body, ct := multipartBody(t, nil, part{"audio", "a.wav", wavBytes})
	rec := do(t, h, http.MethodPost, "/v1/interviews/"+id+"/turns", ct, body)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	e := decode(t, rec)["error"].(map[string]any)
	assert.Equal(t, "UPSTREAM_TIMEOUT", e["code"])
	details := e["details"].(map[string]any)
	assert.Equal(t, true, details["session_discarded"])
	assert.Equal(t, "upstream_timeout", details["reason"])

	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/v1/interviews/"+id, "", nil).Code)
}

func TestAbandonHandler(t *testing.T) {
	_, h := newTestServer(t, &fakeML{})
	id := startJSON(t, h, `{"role":"x"}`)["session_id"].(string)

	assert.Equal(t, http.StatusNoContent, do(t, h, http.MethodDelete, "/v1/interviews/"+id, "", nil).Code)
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/v1/interviews/"+id, "", nil).Code)
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodDelete, "/v1/interviews/"+id, "", nil).Code)
}

func TestAnalyzeFrameHandler(t *testing.T) {
	ml := &fakeML{}
	_, h := newTestServer(t, ml)

	body, ct := multipartBody(t, nil, part{"image", "f.png", pngBytes})
	rec := do(t, h, http.MethodPost, "/v1/frames/analyze", ct, body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	m := decode(t, rec)
	assert.Equal(t, 0.9, m["posture_score"])
	assert.Equal(t, true, m["eye_contact"])

	body, ct = multipartBody(t, nil, part{"image", "f.wav", wavBytes})
	assert.Equal(t, http.StatusUnsupportedMediaType, do(t, h, http.MethodPost, "/v1/frames/analyze", ct, body).Code)

	body, ct = multipartBody(t, map[string]string{"x": "y"})
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/v1/frames/analyze", ct, body).Code)

	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/v1/frames/analyze", "application/json", strings.NewReader(`{}`)).Code)

	ml.frameErr = fmt.Errorf("mediapipe: %w", domain.ErrUpstream)
	body, ct = multipartBody(t, nil, part{"image", "f.png", pngBytes})
	assert.Equal(t, http.StatusBadGateway, do(t, h, http.MethodPost, "/v1/frames/analyze", ct, body).Code)
}

func TestScoreResumeHandler(t *testing.T) {
	_, h := newTestServer(t, &fakeML{})

	body, ct := multipartBody(t, map[string]string{"job_description": "Go backend engineer with SQL"},
		part{"resume", "cv.txt", []byte("Go, SQL, Kafka")})
	rec := do(t, h, http.MethodPost, "/v1/resumes/score", ct, body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	m := decode(t, rec)
	assert.InDelta(t, 0.75, m["resume_score"].(float64), 0.15)
	assert.Equal(t, []any{"Go", "SQL"}, m["matched_skills"])

	body, ct = multipartBody(t, nil, part{"resume", "cv.txt", []byte("Go")})
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/v1/resumes/score", ct, body).Code)

	body, ct = multipartBody(t, map[string]string{"job_description": "Go"})
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/v1/resumes/score", ct, body).Code)

	body, ct = multipartBody(t, map[string]string{"job_description": "Go"}, part{"resume", "cv.pdf", []byte("%PDF-1.4")})
	rec = do(t, h, http.MethodPost, "/v1/resumes/score", ct, body)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "pdf needs an extractor")
}

func TestReadyzHandler(t *testing.T) {
	_, h := newTestServer(t, &fakeML{},
		ReadinessCheck{Name: "redis", Check: func(context.Context) error { return nil }},
		ReadinessCheck{Name: "db", Check: func(context.Context) error { return errors.New("down") }},
	)
	rec := do(t, h, http.MethodGet, "/readyz", "", nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	checks := decode(t, rec)["checks"].([]any)
	require.Len(t, checks, 2)
	assert.Equal(t, true, checks[0].(map[string]any)["ok"])
	assert.Equal(t, "down", checks[1].(map[string]any)["details"])

	_, h = newTestServer(t, &fakeML{})
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/readyz", "", nil).Code)
}

func TestErrorStatus(t *testing.T) {
	tests := []struct {
		err  error
		code int
		name string
	}{
		{domain.ErrInvalidArgument, http.StatusBadRequest, "INVALID_ARGUMENT"},
		{domain.ErrNotFound, http.StatusNotFound, "NOT_FOUND"},
		{domain.ErrInvalidState, http.StatusConflict, "INVALID_STATE"},
		{domain.ErrConflict, http.StatusConflict, "CONFLICT"},
		{domain.ErrRateLimited, http.StatusTooManyRequests, "RATE_LIMITED"},
		{domain.ErrUpstreamTimeout, http.StatusServiceUnavailable, "UPSTREAM_TIMEOUT"},
		{context.DeadlineExceeded, http.StatusServiceUnavailable, "UPSTREAM_TIMEOUT"},
		{domain.ErrUpstreamRateLimit, http.StatusServiceUnavailable, "UPSTREAM_RATE_LIMIT"},
		{domain.ErrSchemaInvalid, http.StatusServiceUnavailable, "SCHEMA_INVALID"},
		{domain.ErrUpstream, http.StatusBadGateway, "UPSTREAM_ERROR"},
		{fmt.Errorf("%w: %w", domain.ErrSessionDiscarded, domain.ErrSchemaInvalid), http.StatusServiceUnavailable, "SCHEMA_INVALID"},
		{errors.New("boom"), http.StatusInternalServerError, "INTERNAL"},
	}
	for _, tt := range tests {
		code, name := errorStatus(fmt.Errorf("op=x: %w", tt.err))
		assert.Equal(t, tt.code, code, tt.err.Error())
		assert.Equal(t, tt.name, name, tt.err.Error())
	}
}
