package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/querylens/querylens/internal/api"
	"github.com/querylens/querylens/internal/auth"
	"github.com/querylens/querylens/internal/chart"
	"github.com/querylens/querylens/internal/completion"
	"github.com/querylens/querylens/internal/config"
	"github.com/querylens/querylens/internal/datastore"
	"github.com/querylens/querylens/internal/explain"
	"github.com/querylens/querylens/internal/insight"
	"github.com/querylens/querylens/internal/nl2sql"
	"github.com/querylens/querylens/internal/observability"
	"github.com/querylens/querylens/internal/pipeline"
	"github.com/querylens/querylens/internal/query"
	duckdbengine "github.com/querylens/querylens/internal/query/duckdb"
	"github.com/querylens/querylens/internal/schema"
	s3store "github.com/querylens/querylens/internal/storage/s3"
	"github.com/querylens/querylens/internal/suggest"
	"github.com/querylens/querylens/internal/upload"
)

func main() {
	if err := config.LoadDotEnv(".env.local", ".env"); err != nil {
		slog.Error("failed to load env files", slog.Any("error", err))
		os.Exit(1)
	}
	cfg, err := config.LoadFromEnv("querylens-api")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg, os.Stdout)
	db, dialect, err := datastore.Open(context.Background(), datastore.Config{
		Driver:          cfg.Datastore.Driver,
		DSN:             cfg.Datastore.DSN,
		MaxOpenConns:    cfg.Datastore.MaxOpenConns,
		MaxIdleConns:    cfg.Datastore.MaxIdleConns,
		ConnMaxIdleTime: cfg.Datastore.ConnMaxIdleTime,
		ConnMaxLifetime: cfg.Datastore.ConnMaxLifetime,
	})
	if err != nil {
		logger.Error("failed to open datastore", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	completions, err := completion.NewOpenAIClient(completion.OpenAIConfig{
		BaseURL:     cfg.AI.BaseURL,
		APIKey:      cfg.AI.APIKey,
		Model:       cfg.AI.Model,
		Temperature: cfg.AI.Temperature,
		Timeout:     cfg.AI.Timeout,
	})
	if err != nil {
		logger.Error("failed to initialize completion client", slog.Any("error", err))
		os.Exit(1)
	}

	answers := pipeline.New(
		schema.NewDescriber(db),
		nl2sql.NewGenerator(completions),
		query.NewExecutor(db),
		chart.NewSynthesizer(completions, chart.SynthesizerConfig{PromptRows: cfg.Chart.PromptRows, Logger: logger}),
		explain.NewGenerator(completions),
		pipeline.Config{DefaultTable: cfg.Datastore.DefaultTable, Logger: logger},
	)

	var archive *upload.Archive
	if cfg.ObjectStore.Enabled {
		objectStore, err := s3store.New(context.Background(), s3store.Config{
			Endpoint:         cfg.ObjectStore.Endpoint,
			Region:           cfg.ObjectStore.Region,
			Bucket:           cfg.ObjectStore.Bucket,
			AccessKeyID:      cfg.ObjectStore.AccessKeyID,
			SecretAccessKey:  cfg.ObjectStore.SecretAccessKey,
			UseSSL:           cfg.ObjectStore.UseSSL,
			Prefix:           cfg.ObjectStore.Prefix,
			AutoCreateBucket: cfg.ObjectStore.AutoCreateBucket,
		})
		if err != nil {
			logger.Error("failed to initialize object store", slog.Any("error", err))
			os.Exit(1)
		}
		archive = upload.NewArchive(objectStore)
	}

	suggestions, err := suggest.Default()
	if err != nil {
		logger.Error("failed to load suggestions", slog.Any("error", err))
		os.Exit(1)
	}

	deps := api.Dependencies{
		Logger:   logger,
		Pipeline: answers,
		Uploads:  upload.NewImporter(db, upload.Config{Dialect: dialect, Archive: archive, Logger: logger}),
		Assistant: insight.NewAssistant(completions, insight.AssistantConfig{
			Model:       cfg.AI.ChatModel,
			Temperature: cfg.AI.ChatTemperature,
			MaxTokens:   cfg.AI.ChatMaxTokens,
		}),
		Suggestions: suggestions,
		Readiness: api.CombineReadinessChecks(
			api.CheckDatastore(db),
			api.CheckObjectStoreConfig(cfg),
			api.CheckAIConfig(cfg),
		),
		DependencyTimeout: time.Second,
	}
	if archive != nil {
		deps.Archive = archive
		deps.Snapshots = duckdbengine.NewEngine(archive)
	}
	if cfg.Auth.Required {
		validator, err := auth.NewStaticAPIKeyValidator(cfg.Auth.StaticKeys)
		if err != nil {
			logger.Error("failed to parse static auth keys", slog.Any("error", err))
			os.Exit(1)
		}
		deps.AuthMiddleware = auth.Middleware(logger, validator)
	}

	handler := api.NewHandler(cfg, deps)
	server := &http.Server{
		Addr:         cfg.HTTP.Address,
		Handler:      handler,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("starting api server",
			slog.String("addr", cfg.HTTP.Address),
			slog.String("dialect", string(dialect)),
			slog.Bool("archive", archive != nil),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api server failed", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Info("shutting down api server")
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", slog.Any("error", err))
		_ = server.Close()
		os.Exit(1)
	}
}
