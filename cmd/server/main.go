// Command server starts the AI mock interview HTTP server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/fairyhunter13/ai-mock-interview/internal/adapter/ai"
	"github.com/fairyhunter13/ai-mock-interview/internal/adapter/ai/real"
	"github.com/fairyhunter13/ai-mock-interview/internal/adapter/ai/stub"
	"github.com/fairyhunter13/ai-mock-interview/internal/adapter/events/redpanda"
	httpserver "github.com/fairyhunter13/ai-mock-interview/internal/adapter/httpserver"
	"github.com/fairyhunter13/ai-mock-interview/internal/adapter/mlclient"
	"github.com/fairyhunter13/ai-mock-interview/internal/adapter/observability"
	"github.com/fairyhunter13/ai-mock-interview/internal/adapter/repo/postgres"
	"github.com/fairyhunter13/ai-mock-interview/internal/adapter/sessionstore/memory"
	"github.com/fairyhunter13/ai-mock-interview/internal/adapter/sessionstore/redisstore"
	tikaext "github.com/fairyhunter13/ai-mock-interview/internal/adapter/textextractor/tika"
	"github.com/fairyhunter13/ai-mock-interview/internal/app"
	"github.com/fairyhunter13/ai-mock-interview/internal/config"
	"github.com/fairyhunter13/ai-mock-interview/internal/domain"
	"github.com/fairyhunter13/ai-mock-interview/internal/prompts"
	"github.com/fairyhunter13/ai-mock-interview/internal/scoring"
	"github.com/fairyhunter13/ai-mock-interview/internal/service/ratelimiter"
	"github.com/fairyhunter13/ai-mock-interview/internal/usecase"
)

func main() {
	// .env is optional; real deployments set the environment directly
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)

	// Register all Prometheus metrics once per process.
	observability.InitMetrics()

	shutdownTracer, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("failed to setup tracing", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// Redis backs the session store and the shared LLM rate limit.
	var rdb *redis.Client
	if cfg.UseRedisStore() || cfg.LLMRateLimitPerMin > 0 {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			slog.Error("invalid REDIS_URL", slog.Any("error", err))
			os.Exit(1)
		}
		rdb = redis.NewClient(opt)
		defer func() { _ = rdb.Close() }()
	}

	var sessions domain.SessionStore
	var sessionLocks domain.SessionLocker
	if cfg.UseRedisStore() {
		sessions = redisstore.New(rdb, cfg.SessionTTL)
		sessionLocks = redisstore.NewLocker(rdb, cfg.SessionLockTTL)
	} else {
		mem := memory.New(cfg.SessionTTL)
		go mem.RunJanitor(ctx, cfg.SessionSweepInterval)
		sessions = mem
	}
	slog.Info("session store ready", slog.String("backend", strings.ToLower(cfg.SessionStore)), slog.Duration("ttl", cfg.SessionTTL))

	// Chat model
	var chat domain.AIClient
	switch strings.ToLower(cfg.LLMProvider) {
	case config.LLMProviderStub:
		chat = stub.New()
		slog.Warn("using stub chat model")
	default:
		var opts []real.Option
		if cfg.LLMRateLimitPerMin > 0 {
			limiter := ratelimiter.NewRedisLuaLimiter(rdb, nil)
			opts = append(opts, real.WithLimiter(limiter, cfg.LLMRateLimitPerMin))
		}
		chat = real.New(cfg, opts...)
		slog.Info("chat model configured", slog.String("base_url", cfg.LLMBaseURL), slog.String("model", cfg.LLMModel))
	}

	set, err := loadPrompts(cfg.PromptsFile)
	if err != nil {
		slog.Error("prompts load failed", slog.Any("error", err))
		os.Exit(1)
	}
	interviewer := ai.NewInterviewer(chat, set, ai.InterviewerOptions{Model: cfg.LLMModel, ResumeTokens: cfg.ResumeMaxTokens})

	// ML sidecar: speech-to-text, audio features, frame analysis, TTS and the remote predictor.
	ml := mlclient.New(cfg)
	var predictor domain.NervousnessPredictor
	switch strings.ToLower(cfg.NervousnessPredictor) {
	case config.PredictorRemote:
		predictor = ml
	case config.PredictorNeutral:
		predictor = scoring.NeutralPredictor{}
	default:
		predictor = scoring.HeuristicPredictor{}
	}

	deps := usecase.InterviewDeps{
		Sessions:    sessions,
		Locks:       sessionLocks,
		Questions:   interviewer,
		Scorer:      interviewer,
		Transcriber: ml,
		Audio:       ml,
		Predictor:   predictor,
	}
	if cfg.TTSEnabled {
		deps.Speech = ml
	}

	// Report archive
	var pool *pgxpool.Pool
	if cfg.ArchiveEnabled() {
		pool, err = postgres.NewPool(ctx, cfg.DBURL)
		if err != nil {
			slog.Error("db connect failed", slog.Any("error", err))
			os.Exit(1)
		}
		defer pool.Close()
		if err := postgres.EnsureSchema(ctx, pool); err != nil {
			slog.Error("db schema failed", slog.Any("error", err))
			os.Exit(1)
		}
		deps.Archive = postgres.NewReportRepo(pool)
		if cfg.DataRetentionDays > 0 {
			cleanupSvc := postgres.NewCleanupService(pool, cfg.DataRetentionDays)
			go cleanupSvc.RunPeriodic(ctx, cfg.CleanupInterval)
			slog.Info("cleanup service started", slog.Int("retention_days", cfg.DataRetentionDays), slog.Duration("interval", cfg.CleanupInterval))
		}
	}

	// Completion events
	if cfg.EventsEnabled() {
		producer, err := redpanda.NewProducer(ctx, redpanda.Options{
			Brokers:     cfg.KafkaBrokers,
			Topic:       cfg.KafkaTopic,
			CreateTopic: cfg.KafkaTopicCreate,
			Partitions:  cfg.KafkaPartitions,
			Replicas:    cfg.KafkaReplicas,
		})
		if err != nil {
			slog.Error("redpanda producer connect failed", slog.Any("error", err))
			os.Exit(1)
		}
		defer producer.Close()
		deps.Events = producer
	}

	interviews := usecase.NewInterviewService(deps)
	resumes := usecase.NewResumeService(interviewer)

	// External text extractor (Apache Tika)
	ext := tikaext.New(cfg.TikaURL, 0)
	drift := observability.NewScoreDriftMonitor(cfg.LLMModel, cfg.ScoreDriftWindow, cfg.ScoreDriftThreshold)
	if cfg.ScoreDriftBaseline > 0 {
		drift.SetBaseline(observability.DriftFinalScore, cfg.ScoreDriftBaseline)
	}

	var pinger app.Pinger
	if pool != nil {
		pinger = pool
	}
	var redisCheck redis.Cmdable
	if rdb != nil {
		redisCheck = rdb
	}
	checks := app.BuildReadinessChecks(cfg, pinger, redisCheck)

	srv := httpserver.NewServer(cfg, interviews, resumes, ml, ext, drift, checks...)
	handler := app.BuildRouter(cfg, srv)

	srvHTTP := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           handler,
		ReadTimeout:       cfg.HTTPReadTimeout,
		WriteTimeout:      cfg.HTTPWriteTimeout,
		IdleTimeout:       cfg.HTTPIdleTimeout,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Graceful shutdown
	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server starting", slog.Int("port", cfg.Port), slog.String("env", cfg.AppEnv))
		errCh <- srvHTTP.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("shutdown signal received", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", slog.Any("error", err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ServerShutdownTimeout)
	defer cancel()
	_ = srvHTTP.Shutdown(shutdownCtx)
	stop()
}

func loadPrompts(path string) (*prompts.Set, error) {
	source := strings.TrimSpace(path)
	var (
		set *prompts.Set
		err error
	)
	if source == "" {
		source = "embedded"
		set, err = prompts.Default()
	} else {
		set, err = prompts.Load(source)
	}
	if err != nil {
		return nil, err
	}
	slog.Info("prompts loaded", slog.String("source", source), slog.Any("names", set.Names()))
	return set, nil
}
