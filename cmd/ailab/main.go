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

	_ "golang.org/x/crypto/x509roots/fallback" // Embed CA certs for scratch container

	openrouteradapter "github.com/mbrandt/ailab/internal/adapter/driven/openrouter"
	sqliteadapter "github.com/mbrandt/ailab/internal/adapter/driven/sqlite"
	httphandler "github.com/mbrandt/ailab/internal/adapter/driving/http"
	"github.com/mbrandt/ailab/internal/application"
	"github.com/mbrandt/ailab/internal/config"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load configuration (fail fast on invalid env vars).
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	slog.Info("config loaded",
		"listen_addr", cfg.ListenAddr,
		"db_path", cfg.DBPath,
		"model", cfg.ModelID,
		"upstream_url", cfg.UpstreamURL,
	)

	// 2. Setup signal-based context (SIGINT, SIGTERM).
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. Open database (dual reader/writer with WAL mode).
	db, err := sqliteadapter.NewDB(ctx, cfg.DBPath)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			slog.Error("error closing database", "error", closeErr)
		}
	}()
	slog.Info("database opened", "path", cfg.DBPath)

	// 4. Run migrations on writer connection.
	if err := sqliteadapter.RunMigrations(db.Writer); err != nil {
		return err
	}
	slog.Info("migrations complete")

	// 5. Wire driven adapters. Config loading always establishes a master
	// key (env, key file, or generated on first start).
	secretStore := sqliteadapter.NewSecretRepo(db, cfg.MasterKey)
	personaStore := sqliteadapter.NewPersonaRepo(db)
	conversationStore := sqliteadapter.NewConversationRepo(db)
	provider := openrouteradapter.NewClient(cfg.UpstreamURL, cfg.ModelID, cfg.UpstreamTimeout)

	// 6. Create application services.
	relaySvc := application.NewRelayService(conversationStore, personaStore, secretStore, provider, slog.Default())
	namingSvc := application.NewNamingService(conversationStore, secretStore, provider)

	// 7. Create HTTP handler and register routes.
	apiHandler := httphandler.NewHandler(secretStore, personaStore, conversationStore, provider, relaySvc, namingSvc, slog.Default())
	handler := httphandler.NewServeMux(apiHandler, slog.Default())

	// WriteTimeout stays zero: streaming responses are held open for as long
	// as the upstream model keeps producing tokens.
	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		slog.Info("http server starting", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server error", "error", err)
		}
	}()

	slog.Info("ailab started", "listen_addr", cfg.ListenAddr, "model", cfg.ModelID)

	// 8. Wait for shutdown signal.
	<-ctx.Done()
	slog.Info("shutting down")

	// 9. Graceful shutdown with 10s timeout to drain in-flight streams.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http server shutdown error", "error", err)
	}

	slog.Info("shutdown complete")
	return nil
}
