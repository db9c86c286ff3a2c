package mlclient

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/ai-mock-interview/internal/adapter/upstream"
	"github.com/fairyhunter13/ai-mock-interview/internal/config"
	"github.com/fairyhunter13/ai-mock-interview/internal/domain"
	obsctx "github.com/fairyhunter13/ai-mock-interview/internal/observability"
)

// minimal RIFF/WAVE header so mimetype sniffing has something to match
var wavBytes = append([]byte("RIFF\x24\x00\x00\x00WAVEfmt "), make([]byte, 32)...)

func newClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(config.Config{AppEnv: "test", MLServiceURL: srv.URL + "/", MLTimeout: 2 * time.Second})
}

func writeJSON(t *testing.T, w http.ResponseWriter, v any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	assert.NoError(t, json.NewEncoder(w).Encode(v))
}

func TestTranscribe(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, PathTranscribe, r.URL.Path)
		f, hdr, err := r.FormFile("audio")
		if !assert.NoError(t, err) {
			return
		}
		defer f.Close()
		b, _ := io.ReadAll(f)
		assert.Equal(t, wavBytes, b)
		assert.Equal(t, "answer.wav", hdr.Filename)
		assert.Equal(t, "audio/wav", hdr.Header.Get("Content-Type"))
		writeJSON(t, w, map[string]any{"text": "  I led the migration.  "})
	})

	text, err := c.Transcribe(context.Background(), domain.AudioClip{Data: wavBytes, FileName: "answer.wav", MIME: "audio/wav"})
	require.NoError(t, err)
	assert.Equal(t, "I led the migration.", text)
}

func TestTranscribe_SniffsMissingContentType(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, hdr, err := r.FormFile("audio")
		if assert.NoError(t, err) {
			assert.Contains(t, hdr.Header.Get("Content-Type"), "wav")
			assert.Equal(t, "audio", hdr.Filename)
		}
		writeJSON(t, w, map[string]any{"text": ""})
	})
	text, err := c.Transcribe(context.Background(), domain.AudioClip{Data: wavBytes})
	require.NoError(t, err)
	assert.Empty(t, text)
}

func TestTranscribe_Errors(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, map[string]any{"transcript": "wrong key"})
	})
	_, err := c.Transcribe(context.Background(), domain.AudioClip{Data: wavBytes})
	require.ErrorIs(t, err, domain.ErrSchemaInvalid)

	_, err = c.Transcribe(context.Background(), domain.AudioClip{})
	require.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestExtractFeatures(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, PathAudioFeatures, r.URL.Path)
		assert.Equal(t, "22050", r.FormValue("sample_rate"))
		writeJSON(t, w, map[string]any{"confidence": 0.7, "nervousness": 0.2, "fluency": 0.9})
	})
	f, err := c.ExtractFeatures(context.Background(), domain.AudioClip{Data: wavBytes}, 22050)
	require.NoError(t, err)
	assert.Equal(t, domain.AudioFeatures{Confidence: 0.7, Nervousness: 0.2, Fluency: 0.9}, f)

	_, err = c.ExtractFeatures(context.Background(), domain.AudioClip{Data: wavBytes}, 0)
	require.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestExtractFeatures_Incomplete(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, map[string]any{"confidence": 0.7})
	})
	_, err := c.ExtractFeatures(context.Background(), domain.AudioClip{Data: wavBytes}, 16000)
	require.ErrorIs(t, err, domain.ErrSchemaInvalid)
}

func TestAnalyzeFrame(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, PathAnalyzeFrame, r.URL.Path)
		_, hdr, err := r.FormFile("image")
		if assert.NoError(t, err) {
			assert.Equal(t, "image/png", hdr.Header.Get("Content-Type"))
		}
		writeJSON(t, w, map[string]any{"posture_score": 0.8, "eye_contact": true, "blink_detected": false})
	})
	png := []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")
	s, err := c.AnalyzeFrame(context.Background(), png)
	require.NoError(t, err)
	assert.Equal(t, domain.FrameSample{PostureScore: 0.8, EyeContact: true}, s)

	_, err = c.AnalyzeFrame(context.Background(), nil)
	require.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestPredictNervousness(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, PathPredictNervousness, r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var in map[string]float64
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		assert.Equal(t, map[string]float64{"avg_blinks": 12, "avg_audio_nervousness": 0.4, "avg_posture": 0.6}, in)
		writeJSON(t, w, map[string]any{"nervousness": 0.35})
	})
	var _ domain.NervousnessPredictor = c
	p, err := c.PredictNervousness(context.Background(), 12, 0.4, 0.6)
	require.NoError(t, err)
	assert.InDelta(t, 0.35, p, 1e-9)
}

func TestSynthesize(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		var in map[string]string
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		assert.Equal(t, "Tell me about yourself.", in["text"])
		w.Header().Set("Content-Type", "audio/wav")
		_, _ = w.Write(wavBytes)
	})
	audio, err := c.Synthesize(context.Background(), " Tell me about yourself. ")
	require.NoError(t, err)
	assert.Equal(t, wavBytes, audio)

	_, err = c.Synthesize(context.Background(), "  ")
	require.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestRetriesServerErrorsButNotClientErrors(t *testing.T) {
	var calls int32
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		writeJSON(t, w, map[string]any{"text": "ok"})
	})
	text, err := c.Transcribe(context.Background(), domain.AudioClip{Data: wavBytes})
	require.NoError(t, err)
	assert.Equal(t, "ok", text)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))

	atomic.StoreInt32(&calls, 0)
	c = newClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, "unsupported codec", http.StatusUnprocessableEntity)
	})
	_, err = c.Transcribe(context.Background(), domain.AudioClip{Data: wavBytes})
	require.ErrorIs(t, err, domain.ErrUpstream)
	assert.Contains(t, err.Error(), "unsupported codec")
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestRateLimitAndTimeoutMapping(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})
	_, err := c.Transcribe(context.Background(), domain.AudioClip{Data: wavBytes})
	require.ErrorIs(t, err, domain.ErrUpstreamRateLimit)

	c = newClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, map[string]any{"text": "late"})
	})
	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	time.Sleep(time.Millisecond)
	_, err = c.Transcribe(ctx, domain.AudioClip{Data: wavBytes})
	require.ErrorIs(t, err, domain.ErrUpstreamTimeout)
}

func TestBreakerShortCircuits(t *testing.T) {
	var calls int32
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	})
	c.backoff = config.BackoffConfig{MaxElapsedTime: time.Millisecond, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond, Multiplier: 1}
	c.breaker = upstream.NewBreaker(provider, 2, time.Hour)

	for i := 0; i < 2; i++ {
		_, err := c.AnalyzeFrame(context.Background(), []byte("frame"))
		require.ErrorIs(t, err, domain.ErrUpstream)
	}
	before := atomic.LoadInt32(&calls)

	_, err := c.AnalyzeFrame(context.Background(), []byte("frame"))
	require.ErrorIs(t, err, upstream.ErrCircuitOpen)
	require.ErrorIs(t, err, domain.ErrUpstream)
	assert.Equal(t, before, atomic.LoadInt32(&calls))
}

func TestMissingBaseURL(t *testing.T) {
	c := New(config.Config{AppEnv: "test"})
	_, err := c.Synthesize(context.Background(), "hi")
	require.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestForwardsCorrelationHeaders(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "req-7", r.Header.Get("X-Request-Id"))
		assert.Equal(t, "sess-7", r.Header.Get("X-Session-Id"))
		writeJSON(t, w, map[string]any{"nervousness": 0.2})
	})
	ctx := obsctx.ContextWithRequestID(context.Background(), "req-7")
	ctx, _ = obsctx.WithSession(ctx, "sess-7")
	_, err := c.PredictNervousness(ctx, 1, 0.1, 0.5)
	require.NoError(t, err)
}
