package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"prepbrain/internal/api"
	"prepbrain/internal/config"
	"prepbrain/internal/database"
	"prepbrain/internal/knowledge"
	"prepbrain/internal/lexicon"
	"prepbrain/internal/llm"
	"prepbrain/internal/logging"
	"prepbrain/internal/metrics"
	"prepbrain/internal/notify"
	"prepbrain/internal/ordering"
	"prepbrain/internal/pipeline"
	"prepbrain/internal/research"
	"prepbrain/internal/units"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	db, err := database.Open(cfg.Database.Path)
	if err != nil {
		logger.Fatal("database open failed", zap.Error(err))
	}
	defer db.Close()
	if err := database.Migrate(db); err != nil {
		logger.Fatal("database migration failed", zap.Error(err))
	}

	model, err := llm.New(cfg.LLM.Model, cfg.LLM.APIKey, cfg.LLM.Timeout)
	if err != nil {
		logger.Fatal("llm init failed", zap.Error(err))
	}
	if model == nil {
		logger.Warn("no llm api key configured, enrichment disabled")
	}

	lex := lexicon.New()
	if cfg.Lexicon.Path != "" {
		loaded, err := lexicon.LoadFile(cfg.Lexicon.Path)
		if err != nil {
			logger.Warn("lexicon load failed, using built-in aliases",
				zap.String("path", cfg.Lexicon.Path), zap.Error(err))
		} else {
			lex = loaded
		}
	}

	var notifier notify.Notifier = &notify.LogNotifier{Logger: logger}
	if cfg.Telegram.Token != "" && len(cfg.Telegram.AllowedUserIDs) > 0 {
		notifier = notify.NewTelegram(cfg.Telegram.Token, cfg.Telegram.AllowedUserIDs, logger)
	}

	researcher := research.New(cfg.Web.Enabled, cfg.Web.RateLimitRPS,
		cfg.Web.MaxPagesPerTask, cfg.Web.AllowedDomains, logger)

	index := knowledge.NewSQLIndex(db, "data/ingest_reports")
	pipe := pipeline.New(db, index, model, researcher, notifier, logger, cfg.Autonomy)
	worker := pipeline.NewWorker(pipe)
	var quiet *ordering.QuietHours
	if cfg.Ordering.QuietHoursStart != "" && cfg.Ordering.QuietHoursEnd != "" {
		quiet = &ordering.QuietHours{Start: cfg.Ordering.QuietHoursStart, End: cfg.Ordering.QuietHoursEnd}
	}
	worker.SetReminderSchedule(cfg.Ordering.ReminderOffsetsMinutes, quiet)

	parser := ordering.NewParser(units.NewNormalizer(lex), lex, model)
	server := api.New(db, pipe, parser, ordering.NewRouter(db), index, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go worker.Start(ctx)
	go startMetricsServer(cfg.Server.MetricsPort, logger)

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: server.Router,
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		logger.Info("shutting down")
		worker.Stop()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("http shutdown error", zap.Error(err))
		}
		cancel()
	}()

	logger.Info("api server listening", zap.Int("port", cfg.Server.Port))
	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		logger.Fatal("api server error", zap.Error(err))
	}
}

func startMetricsServer(port int, logger *zap.Logger) {
	router := gin.New()
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	logger.Info("metrics server listening", zap.Int("port", port))
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: router,
	}
	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		logger.Error("metrics server error", zap.Error(err))
	}
}
