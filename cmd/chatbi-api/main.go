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

	"github.com/joho/godotenv"

	"github.com/chatbi/chatbi/internal/api"
	"github.com/chatbi/chatbi/internal/appstore"
	"github.com/chatbi/chatbi/internal/auth"
	"github.com/chatbi/chatbi/internal/chat"
	"github.com/chatbi/chatbi/internal/config"
	"github.com/chatbi/chatbi/internal/export"
	"github.com/chatbi/chatbi/internal/housekeeping"
	"github.com/chatbi/chatbi/internal/llm"
	"github.com/chatbi/chatbi/internal/metadata"
	"github.com/chatbi/chatbi/internal/observability"
	"github.com/chatbi/chatbi/internal/semantic"
	"github.com/chatbi/chatbi/internal/session"
	s3store "github.com/chatbi/chatbi/internal/storage/s3"
	"github.com/chatbi/chatbi/internal/warehouse"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadFromEnv("chatbi-api")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg, os.Stdout)

	appDB, err := appstore.Open(context.Background(), cfg.AppStore)
	if err != nil {
		logger.Error("failed to open app store db", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = appDB.Close() }()

	registry := &warehouse.Registry{
		Store: warehouse.NewRepository(appDB),
		Defaults: warehouse.Connection{
			Name:     cfg.Warehouse.DefaultName,
			Driver:   cfg.Warehouse.DefaultDriver,
			Host:     cfg.Warehouse.DefaultHost,
			Port:     cfg.Warehouse.DefaultPort,
			Username: cfg.Warehouse.DefaultUsername,
			Password: cfg.Warehouse.DefaultPassword,
			Database: cfg.Warehouse.DefaultDatabase,
			SSLMode:  cfg.Warehouse.DefaultSSLMode,
		},
		Logger: logger,
	}
	gateway := warehouse.NewGateway(cfg.Warehouse.QueryTimeout, cfg.Warehouse.MaxResultRows, logger)
	defer gateway.Close()

	metadataService := &metadata.Service{
		Handles: gateway,
		Builder: &metadata.Builder{SampleRows: cfg.Warehouse.SampleRows, Logger: logger},
	}

	client, err := llm.NewOpenAIClient(llm.OpenAIConfig{
		BaseURL:     cfg.AI.BaseURL,
		APIKey:      cfg.AI.APIKey,
		Model:       cfg.AI.Model,
		Temperature: cfg.AI.Temperature,
		Timeout:     cfg.AI.Timeout,
	})
	if err != nil {
		logger.Error("failed to initialize model client", slog.Any("error", err))
		os.Exit(1)
	}

	chatService := chat.NewService(metadataService, semantic.NewConverter(client), registry, gateway, logger)
	sessionService := session.NewService(session.NewRepository(appDB))

	deps := api.Dependencies{
		Logger:   logger,
		Chat:     chatService,
		Registry: registry,
		Gateway:  gateway,
		Metadata: metadataService,
		Sessions: sessionService,
		Readiness: api.CombineReadinessChecks(
			api.CheckAppStoreDSN(cfg),
			func(ctx context.Context) error { return appDB.PingContext(ctx) },
		),
		DependencyTimeout: time.Second,
	}

	if cfg.Export.Enabled {
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
		deps.Objects = objectStore
		// The store already namespaces keys with cfg.ObjectStore.Prefix.
		deps.Exporter = export.NewExporter(objectStore, chatService, "", logger)
		deps.Readiness = api.CombineReadinessChecks(deps.Readiness, api.CheckObjectStoreConfig(cfg))
	}

	if cfg.Auth.Required {
		validator := &auth.WhitelistValidator{Whitelist: auth.NewWhitelistRepository(appDB)}
		deps.AuthMiddleware = auth.Middleware(logger, validator)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	housekeeper := &housekeeping.Service{
		Sessions: session.NewRepository(appDB),
		Config: housekeeping.Config{
			Interval:         cfg.Housekeeping.Interval,
			IdleArchiveAge:   cfg.Housekeeping.IdleArchiveAge,
			ArchiveRetention: cfg.Housekeeping.ArchiveRetention,
		},
		Logger: logger,
	}
	go func() {
		if err := housekeeper.Run(ctx); err != nil {
			logger.Error("housekeeping stopped", slog.Any("error", err))
		}
	}()

	handler := api.NewHandler(cfg, deps)
	server := &http.Server{
		Addr:         cfg.HTTP.Address,
		Handler:      handler,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	go func() {
		logger.Info("starting api server", slog.String("addr", cfg.HTTP.Address))
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
