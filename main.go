package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"quotebot/internal/api"
	"quotebot/internal/auth"
	"quotebot/internal/config"
	"quotebot/internal/dialogue"
	"quotebot/internal/insurer"
	"quotebot/internal/logger"
	"quotebot/internal/redis"
	"quotebot/internal/resume"
	"quotebot/internal/storage"
	"quotebot/internal/transcript"
	"quotebot/internal/worker"
)

func main() {
	cfg, err := config.Load(os.Getenv("QUOTEBOT_CONFIG"))
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}
	logger.Setup(cfg)
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		slog.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	dbType := os.Getenv("QUOTEBOT_DB")
	if dbType == "" {
		dbType = "sqlite3"
	}
	slog.Info("opening database", "driver", dbType)
	db, err := storage.Open(dbType, cfg)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := storage.Migrate(db, dbType); err != nil {
		return err
	}

	rdb, err := redis.NewRedisClient(cfg)
	if err != nil {
		return err
	}
	defer rdb.Close()

	node, err := snowflake.NewNode(nodeID())
	if err != nil {
		return err
	}
	tokenKey := cfg.BasicConfig.TokenKey
	if tokenKey == "" {
		if !cfg.IsDevelopment() {
			return errors.New("basic_config.token_key must be configured")
		}
		if tokenKey, err = transcript.GenerateKey(); err != nil {
			return err
		}
		slog.Warn("no token key configured, using an ephemeral key; stored upstream sessions will not survive a restart")
	}
	transcripts, err := transcript.NewService(db, node, tokenKey)
	if err != nil {
		return err
	}

	client, err := insurer.NewClient(insurer.Options{
		BaseURL: cfg.Upstream.BaseURL,
		Timeout: time.Duration(cfg.Upstream.TimeoutSeconds) * time.Second,
		TTS: insurer.TTSOptions{
			VoiceID:      cfg.TTS.VoiceID,
			ModelID:      cfg.TTS.ModelID,
			OutputFormat: cfg.TTS.OutputFormat,
		},
	})
	if err != nil {
		return err
	}

	authService := auth.NewService(db, rdb, time.Duration(cfg.BasicConfig.TokenTTLHours)*time.Hour)

	cleanCtx, cleanCancel := context.WithCancel(ctx)
	defer cleanCancel()
	transcripts.StartCleaner(cleanCtx,
		time.Duration(cfg.Worker.CleanupIntervalMinutes)*time.Minute,
		time.Duration(cfg.Worker.RetentionDays)*24*time.Hour,
		authService)

	var store resume.Store = resume.NewMemoryStore()
	if rdb.Enabled() {
		store = resume.NewRedisStore(rdb)
	}
	shim := resume.NewShim(store, client)

	workers := worker.NewManager(worker.Deps{
		Insurer: client,
		Speech:  client,
		Store:   transcripts,
		Resume:  shim,
		Mirror:  transcript.NewMirror(client, cfg.Upstream.MirrorTranscripts),
		Redis:   rdb,
	}, worker.Config{
		Features: dialogue.Features{
			MotorIntake: cfg.Features.MotorIntake,
			AddonIntake: cfg.Features.AddonIntake,
		},
		TypingDelay: time.Duration(cfg.BasicConfig.TypingDelayMS) * time.Millisecond,
		IdleTimeout: time.Duration(cfg.Worker.IdleTimeoutMinutes) * time.Minute,
		QueueSize:   cfg.Worker.QueueSize,
		Dispatcher: worker.DispatcherConfig{
			MinWorkers:  cfg.Worker.MinWorkers,
			MaxWorkers:  cfg.Worker.MaxWorkers,
			QueueSize:   cfg.Worker.QueueSize * 8,
			IdleTimeout: 5 * time.Minute,
		},
	})
	defer workers.Shutdown()

	handlers := api.NewHandler(transcripts, authService, workers, client, shim, api.Options{
		FallbackURL:    cfg.BasicConfig.VoiceFallbackURL,
		AllowedOrigins: cfg.BasicConfig.AllowedOrigins,
	})
	router := gin.New()
	router.Use(otelgin.Middleware(cfg.BasicConfig.ServiceName))
	router.Use(gin.Recovery())
	if !cfg.IsProduction() {
		router.Use(gin.Logger())
	}
	handlers.RegisterRoutes(router)

	server := &http.Server{
		Addr:              cfg.BasicConfig.ServerAddress,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "address", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	slog.Info("shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("http server shutdown error", "error", err)
	}
	return nil
}

// nodeID reads QUOTEBOT_NODE_ID so instances sharing a database mint
// distinct message ids.
func nodeID() int64 {
	id, err := strconv.ParseInt(os.Getenv("QUOTEBOT_NODE_ID"), 10, 64)
	if err != nil || id < 0 {
		return 1
	}
	return id % 1024
}
