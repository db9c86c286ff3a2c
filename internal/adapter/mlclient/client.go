// Package mlclient talks to the Python ML sidecar that hosts speech
// recognition, prosody analysis, frame analysis, the nervousness model and
// text-to-speech.
package mlclient

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	"github.com/gabriel-vasile/mimetype"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/fairyhunter13/ai-mock-interview/internal/adapter/observability"
	"github.com/fairyhunter13/ai-mock-interview/internal/adapter/upstream"
	"github.com/fairyhunter13/ai-mock-interview/internal/config"
	"github.com/fairyhunter13/ai-mock-interview/internal/domain"
	obsctx "github.com/fairyhunter13/ai-mock-interview/internal/observability"
)

const provider = "ml"

// Sidecar routes.
const (
	PathTranscribe         = "/transcribe"
	PathAudioFeatures      = "/audio_features"
	PathAnalyzeFrame       = "/analyze_frame"
	PathPredictNervousness = "/predict_nervousness"
	PathSynthesize         = "/synthesize"
)

// Client implements the audio, vision, predictor and speech ports against the sidecar.
type Client struct {
	baseURL string
	hc      *http.Client
	backoff config.BackoffConfig
	breaker *upstream.Breaker
}

// New builds a client for cfg.MLServiceURL.
func New(cfg config.Config) *Client {
	return &Client{
		baseURL: strings.TrimRight(cfg.MLServiceURL, "/"),
		hc:      observability.NewHTTPClient(cfg.MLTimeout),
		backoff: cfg.GetBackoffConfig(),
		breaker: upstream.NewBreaker(provider, 5, 30*time.Second),
	}
}

// Transcribe implements domain.Transcriber.
func (c *Client) Transcribe(ctx domain.Context, audio domain.AudioClip) (string, error) {
	if len(audio.Data) == 0 {
		return "", fmt.Errorf("op=mlclient.Transcribe: %w: empty audio", domain.ErrInvalidArgument)
	}
	body, ctype, err := multipartBody("audio", audio.FileName, audio.MIME, audio.Data, nil)
	if err != nil {
		return "", fmt.Errorf("op=mlclient.Transcribe: %w", err)
	}
	var out struct {
		Text *string `json:"text"`
	}
	if err := c.postJSONReply(ctx, "transcribe", PathTranscribe, ctype, body, &out); err != nil {
		return "", upstream.Wrap("mlclient.Transcribe", err)
	}
	if out.Text == nil {
		return "", fmt.Errorf("op=mlclient.Transcribe: %w: missing text", domain.ErrSchemaInvalid)
	}
	return strings.TrimSpace(*out.Text), nil
}

// ExtractFeatures implements domain.AudioAnalyzer.
func (c *Client) ExtractFeatures(ctx domain.Context, audio domain.AudioClip, sampleRate int) (domain.AudioFeatures, error) {
	if len(audio.Data) == 0 {
		return domain.AudioFeatures{}, fmt.Errorf("op=mlclient.ExtractFeatures: %w: empty audio", domain.ErrInvalidArgument)
	}
	if sampleRate <= 0 {
		return domain.AudioFeatures{}, fmt.Errorf("op=mlclient.ExtractFeatures: %w: sample rate %d", domain.ErrInvalidArgument, sampleRate)
	}
	fields := map[string]string{"sample_rate": strconv.Itoa(sampleRate)}
	body, ctype, err := multipartBody("audio", audio.FileName, audio.MIME, audio.Data, fields)
	if err != nil {
		return domain.AudioFeatures{}, fmt.Errorf("op=mlclient.ExtractFeatures: %w", err)
	}
	var out struct {
		Confidence  *float64 `json:"confidence"`
		Nervousness *float64 `json:"nervousness"`
		Fluency     *float64 `json:"fluency"`
	}
	if err := c.postJSONReply(ctx, "audio_features", PathAudioFeatures, ctype, body, &out); err != nil {
		return domain.AudioFeatures{}, upstream.Wrap("mlclient.ExtractFeatures", err)
	}
	if !finite(out.Confidence, out.Nervousness, out.Fluency) {
		return domain.AudioFeatures{}, fmt.Errorf("op=mlclient.ExtractFeatures: %w: incomplete features", domain.ErrSchemaInvalid)
	}
	return domain.AudioFeatures{
		Confidence:  *out.Confidence,
		Nervousness: *out.Nervousness,
		Fluency:     *out.Fluency,
	}, nil
}

// AnalyzeFrame implements domain.FrameAnalyzer.
func (c *Client) AnalyzeFrame(ctx domain.Context, image []byte) (domain.FrameSample, error) {
	if len(image) == 0 {
		return domain.FrameSample{}, fmt.Errorf("op=mlclient.AnalyzeFrame: %w: empty image", domain.ErrInvalidArgument)
	}
	body, ctype, err := multipartBody("image", "frame", "", image, nil)
	if err != nil {
		return domain.FrameSample{}, fmt.Errorf("op=mlclient.AnalyzeFrame: %w", err)
	}
	var out struct {
		PostureScore  *float64 `json:"posture_score"`
		EyeContact    bool     `json:"eye_contact"`
		BlinkDetected bool     `json:"blink_detected"`
	}
	if err := c.postJSONReply(ctx, "analyze_frame", PathAnalyzeFrame, ctype, body, &out); err != nil {
		return domain.FrameSample{}, upstream.Wrap("mlclient.AnalyzeFrame", err)
	}
	if !finite(out.PostureScore) {
		return domain.FrameSample{}, fmt.Errorf("op=mlclient.AnalyzeFrame: %w: missing posture_score", domain.ErrSchemaInvalid)
	}
	return domain.FrameSample{
		PostureScore:  *out.PostureScore,
		EyeContact:    out.EyeContact,
		BlinkDetected: out.BlinkDetected,
	}, nil
}

// PredictNervousness implements domain.NervousnessPredictor with the trained model.
func (c *Client) PredictNervousness(ctx domain.Context, avgBlinks, avgAudioNervousness, avgPosture float64) (float64, error) {
	in, err := json.Marshal(map[string]float64{
		"avg_blinks":            avgBlinks,
		"avg_audio_nervousness": avgAudioNervousness,
		"avg_posture":           avgPosture,
	})
	if err != nil {
		return 0, fmt.Errorf("op=mlclient.PredictNervousness: %w", err)
	}
	var out struct {
		Nervousness *float64 `json:"nervousness"`
	}
	if err := c.postJSONReply(ctx, "predict_nervousness", PathPredictNervousness, "application/json", in, &out); err != nil {
		return 0, upstream.Wrap("mlclient.PredictNervousness", err)
	}
	if !finite(out.Nervousness) {
		return 0, fmt.Errorf("op=mlclient.PredictNervousness: %w: missing nervousness", domain.ErrSchemaInvalid)
	}
	return *out.Nervousness, nil
}

// Synthesize implements domain.SpeechSynthesizer. The reply body is the audio.
func (c *Client) Synthesize(ctx domain.Context, text string) ([]byte, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("op=mlclient.Synthesize: %w: empty text", domain.ErrInvalidArgument)
	}
	in, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return nil, fmt.Errorf("op=mlclient.Synthesize: %w", err)
	}
	audio, err := c.post(ctx, "synthesize", PathSynthesize, "application/json", in)
	if err != nil {
		return nil, upstream.Wrap("mlclient.Synthesize", err)
	}
	if len(audio) == 0 {
		return nil, fmt.Errorf("op=mlclient.Synthesize: %w: empty audio", domain.ErrSchemaInvalid)
	}
	return audio, nil
}

func (c *Client) postJSONReply(ctx domain.Context, op, path, contentType string, body []byte, out any) error {
	raw, err := c.post(ctx, op, path, contentType, body)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		err = fmt.Errorf("%w: decode %s: %w", domain.ErrSchemaInvalid, op, err)
		observability.FailAIRequest(provider, op, upstream.Class(err))
		return err
	}
	return nil
}

// post sends body with retries and returns the raw 2xx reply.
func (c *Client) post(ctx domain.Context, op, path, contentType string, body []byte) ([]byte, error) {
	if c.baseURL == "" {
		return nil, fmt.Errorf("%w: ML_SERVICE_URL is required", domain.ErrInvalidArgument)
	}
	if err := c.breaker.Allow(); err != nil {
		observability.FailAIRequest(provider, op, upstream.Class(err))
		return nil, err
	}

	ctx, span := otel.Tracer("ml.sidecar").Start(ctx, "ml."+op)
	defer span.End()
	span.SetAttributes(attribute.String("ml.path", path), attribute.Int("ml.request_bytes", len(body)))

	var reply []byte
	attempt := 0
	call := func() error {
		attempt++
		start := time.Now()
		r, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		r.Header.Set("Content-Type", contentType)
		if rid := obsctx.RequestIDFromContext(ctx); rid != "" {
			r.Header.Set("X-Request-Id", rid)
		}
		if sid := obsctx.SessionIDFromContext(ctx); sid != "" {
			r.Header.Set("X-Session-Id", sid)
		}
		resp, err := c.hc.Do(r)
		observability.ObserveAIRequest(provider, op, start)
		if err != nil {
			return err
		}
		defer func() { _ = resp.Body.Close() }()
		b, err := upstream.ReadResponse(provider, resp)
		if err != nil {
			slog.WarnContext(ctx, "ml sidecar attempt failed",
				slog.String("op", op),
				slog.Int("attempt", attempt),
				slog.Any("error", err))
			return err
		}
		reply = b
		return nil
	}
	err := backoff.Retry(call, c.backoff.NewBackOff(ctx))
	c.breaker.Record(err)
	if err != nil {
		observability.FailAIRequest(provider, op, upstream.Class(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, op+" failed")
		slog.ErrorContext(ctx, "ml sidecar call failed", slog.String("op", op), slog.Int("attempts", attempt), slog.Any("error", err))
		return nil, err
	}
	span.SetAttributes(attribute.Int("ml.response_bytes", len(reply)))
	return reply, nil
}

// multipartBody encodes one file part plus plain fields. The part's
// content type is sniffed when the caller did not supply one.
func multipartBody(field, fileName, mime string, data []byte, fields map[string]string) ([]byte, string, error) {
	if mime == "" {
		mime = mimetype.Detect(data).String()
	}
	if fileName == "" {
		fileName = field
	}
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, field, fileName))
	h.Set("Content-Type", mime)
	part, err := w.CreatePart(h)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(data); err != nil {
		return nil, "", err
	}
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return nil, "", err
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}

func finite(vs ...*float64) bool {
	for _, v := range vs {
		if v == nil || math.IsNaN(*v) || math.IsInf(*v, 0) {
			return false
		}
	}
	return true
}
