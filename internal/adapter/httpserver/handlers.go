package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/fairyhunter13/ai-mock-interview/internal/adapter/observability"
	"github.com/fairyhunter13/ai-mock-interview/internal/config"
	"github.com/fairyhunter13/ai-mock-interview/internal/domain"
	"github.com/fairyhunter13/ai-mock-interview/internal/usecase"
	"github.com/fairyhunter13/ai-mock-interview/pkg/textx"
)

// maxJSONBody caps non-multipart request bodies.
const maxJSONBody = 1 << 20

// ReadinessCheck is one dependency probed by /readyz.
type ReadinessCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// Server aggregates handler dependencies.
type Server struct {
	Cfg        config.Config
	Interviews usecase.InterviewService
	Resumes    usecase.ResumeService
	Frames     domain.FrameAnalyzer
	Extractor  domain.TextExtractor
	Drift      *observability.ScoreDriftMonitor
	Checks     []ReadinessCheck
}

// NewServer constructs an HTTP server with all handlers and checks wired.
// Extractor and Drift may be nil.
func NewServer(cfg config.Config, interviews usecase.InterviewService, resumes usecase.ResumeService, frames domain.FrameAnalyzer, extractor domain.TextExtractor, drift *observability.ScoreDriftMonitor, checks ...ReadinessCheck) *Server {
	return &Server{
		Cfg:        cfg,
		Interviews: interviews,
		Resumes:    resumes,
		Frames:     frames,
		Extractor:  extractor,
		Drift:      drift,
		Checks:     checks,
	}
}

var (
	vldOnce sync.Once
	vld     *validator.Validate
)

func getValidator() *validator.Validate {
	vldOnce.Do(func() { vld = validator.New() })
	return vld
}

// validationDetails flattens validator errors into field -> failed tag.
func validationDetails(err error) map[string]string {
	verrs := map[string]string{}
	var ve validator.ValidationErrors
	if errors.As(err, &ve) {
		for _, fe := range ve {
			verrs[strings.ToLower(fe.Field())] = fe.Tag()
		}
	}
	return verrs
}

// sessionID reads and checks the {id} path parameter.
func sessionID(r *http.Request) (string, error) {
	id := chi.URLParam(r, "id")
	if err := getValidator().Var(id, "required,uuid"); err != nil {
		return "", fmt.Errorf("%w: malformed session id", domain.ErrInvalidArgument)
	}
	return id, nil
}

// acceptsJSON writes 406 and returns false when the client refuses JSON.
func acceptsJSON(w http.ResponseWriter, r *http.Request) bool {
	a := r.Header.Get("Accept")
	if a == "" || strings.Contains(a, "*/*") || strings.Contains(a, "application/json") {
		return true
	}
	writeJSON(w, http.StatusNotAcceptable, errorEnvelope{Error: apiError{
		Code:    "INVALID_ARGUMENT",
		Message: "not acceptable",
		Details: map[string]any{"accept": a},
	}})
	return false
}

func isMultipart(r *http.Request) bool {
	mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mt == "multipart/form-data"
}

func (s *Server) maxUploadBytes() int64 {
	mb := s.Cfg.MaxUploadMB
	if mb <= 0 {
		mb = 10
	}
	return mb << 20
}

// parseMultipart caps the body and parses the form. It writes the error response itself.
func (s *Server) parseMultipart(w http.ResponseWriter, r *http.Request) bool {
	limit := s.maxUploadBytes()
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := r.ParseMultipartForm(limit); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) || strings.Contains(err.Error(), "request body too large") {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorEnvelope{Error: apiError{
				Code:    "INVALID_ARGUMENT",
				Message: "payload too large",
				Details: map[string]any{"max_mb": limit >> 20},
			}})
			return false
		}
		writeError(w, r, fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err), nil)
		return false
	}
	return true
}

// decodeJSON caps the body and decodes it into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: invalid json", domain.ErrInvalidArgument)
	}
	return nil
}

// formFile reads an optional upload. A missing field yields nil data and no error.
func formFile(r *http.Request, field string) ([]byte, *multipart.FileHeader, error) {
	f, h, err := r.FormFile(field)
	if errors.Is(err, http.ErrMissingFile) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %s: %v", domain.ErrInvalidArgument, field, err)
	}
	defer func() { _ = f.Close() }()
	b, err := io.ReadAll(f)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %s read: %v", domain.ErrInvalidArgument, field, err)
	}
	return b, h, nil
}

// unsupportedMedia writes a 415 for an upload that failed the allowlist.
func unsupportedMedia(w http.ResponseWriter, field, reason, filename, detected string) {
	writeJSON(w, http.StatusUnsupportedMediaType, errorEnvelope{Error: apiError{
		Code:    "INVALID_ARGUMENT",
		Message: fmt.Sprintf("unsupported media type for %s (%s)", field, reason),
		Details: map[string]any{"filename": filename, "mime": detected},
	}})
}

// allowedResumeExt enforces an allowlist for resumes: .txt, .pdf, .docx
func allowedResumeExt(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".txt", ".pdf", ".docx":
		return true
	default:
		return false
	}
}

func allowedResumeMIME(m, filename string) bool {
	m = strings.ToLower(m)
	// some detectors classify rich text files as text/html
	if strings.EqualFold(filepath.Ext(filename), ".txt") && strings.HasPrefix(m, "text/") {
		return true
	}
	if strings.HasPrefix(m, "text/plain") {
		return true
	}
	return m == "application/pdf" || m == "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
}

// allowedAudioMIME accepts what browsers record (webm/ogg containers) plus common audio files.
func allowedAudioMIME(m string) bool {
	m = strings.ToLower(m)
	return strings.HasPrefix(m, "audio/") || m == "video/webm" || m == "video/ogg" || m == "video/mp4"
}

func allowedImageMIME(m string) bool {
	switch strings.ToLower(m) {
	case "image/jpeg", "image/png", "image/webp":
		return true
	default:
		return false
	}
}

// resumeUpload validates the resume field and returns its text. ok is false when
// a response was already written.
func (s *Server) resumeUpload(w http.ResponseWriter, r *http.Request, required bool) (text string, ok bool) {
	data, h, err := formFile(r, "resume")
	if err != nil {
		writeError(w, r, err, map[string]string{"field": "resume"})
		return "", false
	}
	if data == nil {
		if required {
			writeError(w, r, fmt.Errorf("%w: resume file required", domain.ErrInvalidArgument), map[string]string{"field": "resume"})
			return "", false
		}
		return "", true
	}
	if !allowedResumeExt(h.Filename) {
		unsupportedMedia(w, "resume", "extension", h.Filename, "")
		return "", false
	}
	mt := mimetype.Detect(data)
	if !allowedResumeMIME(mt.String(), h.Filename) {
		unsupportedMedia(w, "resume", "content", h.Filename, mt.String())
		return "", false
	}
	text, err = extractUploadedText(r.Context(), s.Extractor, h, data)
	if err != nil {
		writeError(w, r, fmt.Errorf("resume extract: %w", err), nil)
		return "", false
	}
	return text, true
}

// extractUploadedText sends .pdf/.docx through the extractor via a temp file
// and sanitizes plain text in place.
func extractUploadedText(ctx context.Context, extractor domain.TextExtractor, h *multipart.FileHeader, data []byte) (string, error) {
	ext := strings.ToLower(filepath.Ext(h.Filename))
	if ext != ".pdf" && ext != ".docx" {
		return textx.SanitizeText(string(data)), nil
	}
	if extractor == nil {
		return "", fmt.Errorf("%w: %s requires extractor", domain.ErrInvalidArgument, strings.TrimPrefix(ext, "."))
	}
	tmp, err := os.CreateTemp("", "resume-*")
	if err != nil {
		return "", err
	}
	defer func() { _ = tmp.Close(); _ = os.Remove(tmp.Name()) }()
	if _, err := io.Copy(tmp, bytes.NewReader(data)); err != nil {
		return "", err
	}
	if err := tmp.Sync(); err != nil {
		return "", err
	}
	return extractor.ExtractPath(ctx, h.Filename, tmp.Name())
}

// ReadyzHandler probes every configured dependency.
func (s *Server) ReadyzHandler() http.HandlerFunc {
	type check struct {
		Name    string `json:"name"`
		OK      bool   `json:"ok"`
		Details string `json:"details,omitempty"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		checks := make([]check, 0, len(s.Checks))
		ok := true
		for _, c := range s.Checks {
			if err := c.Check(ctx); err != nil {
				checks = append(checks, check{Name: c.Name, OK: false, Details: err.Error()})
				ok = false
				continue
			}
			checks = append(checks, check{Name: c.Name, OK: true})
		}
		st := http.StatusOK
		if !ok {
			st = http.StatusServiceUnavailable
		}
		writeJSON(w, st, map[string]any{"checks": checks})
	}
}
