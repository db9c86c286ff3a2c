// Package config defines configuration parsing and helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
)

// Session store backends
const (
	StoreMemory = "memory"
	StoreRedis  = "redis"
)

// Nervousness predictor implementations
const (
	PredictorHeuristic = "heuristic"
	PredictorRemote    = "remote"
	PredictorNeutral   = "neutral"
)

// Chat backends
const (
	LLMProviderOpenAI = "openai"
	LLMProviderStub   = "stub"
)

// Config holds all application configuration parsed from environment variables.
type Config struct {
	AppEnv string `env:"APP_ENV" envDefault:"dev"`
	Port   int    `env:"PORT" envDefault:"8080"`
	// LogLevel overrides the environment default (debug, info, warn, error).
	LogLevel string `env:"LOG_LEVEL"`

	SessionStore string        `env:"SESSION_STORE" envDefault:"memory"`
	RedisURL     string        `env:"REDIS_URL" envDefault:"redis://localhost:6379/0"`
	SessionTTL   time.Duration `env:"SESSION_TTL" envDefault:"2h"`
	// SessionSweepInterval only applies to the in-memory store.
	SessionSweepInterval time.Duration `env:"SESSION_SWEEP_INTERVAL" envDefault:"5m"`
	// SessionLockTTL bounds how long a crashed replica can hold a session with the redis store.
	SessionLockTTL time.Duration `env:"SESSION_LOCK_TTL" envDefault:"2m"`

	// DBURL enables the report archive when set.
	DBURL string `env:"DB_URL"`
	// KafkaBrokers enables completion events when set.
	KafkaBrokers      []string      `env:"KAFKA_BROKERS" envSeparator:","`
	KafkaTopic        string        `env:"KAFKA_TOPIC" envDefault:"interview.completed"`
	KafkaTopicCreate  bool          `env:"KAFKA_TOPIC_CREATE" envDefault:"true"`
	KafkaPartitions   int32         `env:"KAFKA_TOPIC_PARTITIONS" envDefault:"3"`
	KafkaReplicas     int16         `env:"KAFKA_TOPIC_REPLICAS" envDefault:"1"`
	DataRetentionDays int           `env:"DATA_RETENTION_DAYS" envDefault:"90"`
	CleanupInterval   time.Duration `env:"CLEANUP_INTERVAL" envDefault:"24h"`

	// LLMProvider selects the chat backend: openai (any OpenAI-compatible server) or stub.
	LLMProvider  string        `env:"LLM_PROVIDER" envDefault:"openai"`
	LLMBaseURL   string        `env:"LLM_BASE_URL" envDefault:"http://localhost:11434/v1"`
	LLMAPIKey    string        `env:"LLM_API_KEY"`
	LLMModel     string        `env:"LLM_MODEL" envDefault:"llama3"`
	LLMTimeout   time.Duration `env:"LLM_TIMEOUT" envDefault:"60s"`
	LLMMaxTokens int           `env:"LLM_MAX_TOKENS" envDefault:"512"`
	// LLMReferer and LLMTitle are sent as OpenRouter attribution headers when set.
	LLMReferer string `env:"LLM_REFERER"`
	LLMTitle   string `env:"LLM_TITLE" envDefault:"AI Mock Interview"`
	// LLMRateLimitPerMin caps chat calls across replicas through Redis. 0 disables it.
	LLMRateLimitPerMin int `env:"LLM_RATE_LIMIT_PER_MIN" envDefault:"0"`

	MLServiceURL string        `env:"ML_SERVICE_URL" envDefault:"http://localhost:8000"`
	MLTimeout    time.Duration `env:"ML_TIMEOUT" envDefault:"60s"`
	// TikaURL specifies the base URL for the Apache Tika server used for resume text extraction
	TikaURL string `env:"TIKA_URL" envDefault:"http://tika:9998"`

	NervousnessPredictor string `env:"NERVOUSNESS_PREDICTOR" envDefault:"heuristic"`
	TTSEnabled           bool   `env:"TTS_ENABLED" envDefault:"false"`
	ResumeMaxTokens      int    `env:"RESUME_MAX_TOKENS" envDefault:"1500"`
	PromptsFile          string `env:"PROMPTS_FILE"`

	// Rolling window and tolerance (score points) for final score drift warnings.
	ScoreDriftWindow    int     `env:"SCORE_DRIFT_WINDOW" envDefault:"50"`
	ScoreDriftThreshold float64 `env:"SCORE_DRIFT_THRESHOLD" envDefault:"10"`
	// ScoreDriftBaseline pins the final score baseline; 0 learns it from the first window.
	ScoreDriftBaseline float64 `env:"SCORE_DRIFT_BASELINE" envDefault:"0"`

	OTLPEndpoint    string `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:""`
	OTELServiceName string `env:"OTEL_SERVICE_NAME" envDefault:"ai-mock-interview"`

	MaxUploadMB           int64         `env:"MAX_UPLOAD_MB" envDefault:"10"`
	CORSAllowOrigins      string        `env:"CORS_ALLOW_ORIGINS" envDefault:"*"`
	RateLimitPerMin       int           `env:"RATE_LIMIT_PER_MIN" envDefault:"30"`
	ServerShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" envDefault:"30s"`
	HTTPReadTimeout       time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"15s"`
	HTTPWriteTimeout      time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"120s"`
	HTTPIdleTimeout       time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"60s"`
	// RequestTimeout bounds one API request, including every collaborator call of a turn.
	RequestTimeout time.Duration `env:"REQUEST_TIMEOUT" envDefault:"110s"`

	// Backoff for LLM and ML sidecar calls
	BackoffMaxElapsedTime  time.Duration `env:"BACKOFF_MAX_ELAPSED_TIME" envDefault:"60s"`
	BackoffInitialInterval time.Duration `env:"BACKOFF_INITIAL_INTERVAL" envDefault:"1s"`
	BackoffMaxInterval     time.Duration `env:"BACKOFF_MAX_INTERVAL" envDefault:"10s"`
	BackoffMultiplier      float64       `env:"BACKOFF_MULTIPLIER" envDefault:"1.5"`
}

// Load parses environment variables into a Config.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("op=config.Load: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, fmt.Errorf("op=config.Load: %w", err)
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch strings.ToLower(c.SessionStore) {
	case StoreMemory, StoreRedis:
	default:
		return fmt.Errorf("SESSION_STORE must be %q or %q, got %q", StoreMemory, StoreRedis, c.SessionStore)
	}
	switch strings.ToLower(c.NervousnessPredictor) {
	case PredictorHeuristic, PredictorRemote, PredictorNeutral:
	default:
		return fmt.Errorf("NERVOUSNESS_PREDICTOR must be one of heuristic, remote, neutral, got %q", c.NervousnessPredictor)
	}
	switch strings.ToLower(c.LLMProvider) {
	case LLMProviderOpenAI, LLMProviderStub:
	default:
		return fmt.Errorf("LLM_PROVIDER must be %q or %q, got %q", LLMProviderOpenAI, LLMProviderStub, c.LLMProvider)
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("SESSION_TTL must be positive")
	}
	return nil
}

// IsDev reports whether the app is running in development mode.
func (c Config) IsDev() bool { return strings.ToLower(c.AppEnv) == "dev" }

// IsProd reports whether the app is running in production mode.
func (c Config) IsProd() bool { return strings.ToLower(c.AppEnv) == "prod" }

// IsTest reports whether the app is running in test mode.
func (c Config) IsTest() bool { return strings.ToLower(c.AppEnv) == "test" }

// ArchiveEnabled reports whether completed reports are written to Postgres.
func (c Config) ArchiveEnabled() bool { return strings.TrimSpace(c.DBURL) != "" }

// EventsEnabled reports whether completion events are published.
func (c Config) EventsEnabled() bool { return len(c.KafkaBrokers) > 0 }

// UseRedisStore reports whether sessions live in Redis.
func (c Config) UseRedisStore() bool { return strings.ToLower(c.SessionStore) == StoreRedis }
