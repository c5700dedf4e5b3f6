package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/JonMunkholm/tricyclecrm/internal/config"
	"github.com/JonMunkholm/tricyclecrm/internal/crm"
	"github.com/JonMunkholm/tricyclecrm/internal/database"
	"github.com/JonMunkholm/tricyclecrm/internal/importer"
	"github.com/JonMunkholm/tricyclecrm/internal/logging"
	"github.com/JonMunkholm/tricyclecrm/internal/metrics"
	"github.com/JonMunkholm/tricyclecrm/internal/schema"
	"github.com/JonMunkholm/tricyclecrm/internal/web"
)

func main() {
	// Load .env file if it exists (Overload overwrites existing env vars)
	if err := godotenv.Overload(); err != nil {
		slog.Info("no .env file found, using environment variables")
	} else {
		slog.Info("loaded .env file (overwriting existing env vars)")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("configuration loaded", "config", cfg.String())

	if err := run(cfg); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	ctx := context.Background()

	pool, err := database.Open(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer pool.Close()

	sch, err := loadSchema(cfg.Schema.File)
	if err != nil {
		return err
	}
	registry := crm.DefaultRegistry()
	if err := registry.CheckSchema(sch); err != nil {
		return fmt.Errorf("import entities do not match the schema: %w", err)
	}
	slog.Info("schema loaded",
		"tables", sch.TableCount(),
		"policies", len(sch.Policies()),
		"entities", len(registry.All()),
	)

	m, err := metrics.New()
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	exec := database.Executor(pool, cfg.Schema)
	if cfg.Schema.SyncOnStart {
		syncCtx, cancel := context.WithTimeout(ctx, cfg.Import.Timeout)
		res := sch.SyncDatabaseSchema(syncCtx, exec)
		cancel()
		m.RecordSchemaSync(cfg.Schema.SyncMode, res.Success)
		if !res.Success {
			return fmt.Errorf("schema sync on start: %s", res.Message)
		}
	}

	backend := crm.NewBackend(registry, crm.NewStore(pool), backendOptions(cfg.Import)...)

	var sessions *importer.SessionStore
	sessions = importer.NewSessionStore(cfg.Import.SessionTTL, 0, func(s *importer.Session) {
		slog.Debug("import session evicted", "import_id", s.ID, "entity", s.Entity)
		m.SetActiveSessions(sessions.Len())
	})
	limiter := importer.NewLimiter(cfg.Import.MaxConcurrent, cfg.Import.MaxWaitTime)

	server := web.NewServer(web.Deps{
		Backend:  backend,
		Schema:   sch,
		Sessions: sessions,
		Limiter:  limiter,
		Metrics:  m,
		Executor: syncExecutor(cfg, exec),
	}, serverOptions(cfg))

	// Graceful shutdown
	done := make(chan struct{})
	go func() {
		defer close(done)
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		slog.Info("shutting down...", "active_imports", limiter.Active())

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Warn("shutdown incomplete", "error", err, "active_imports", limiter.Active())
			return
		}
		slog.Info("all imports completed")
	}()

	if err := server.Start(cfg.Server.Addr()); err != nil {
		return err
	}
	<-done
	slog.Info("server stopped")
	return nil
}

// loadSchema reads the YAML file when one is configured, else the embedded schema.
func loadSchema(path string) (*schema.Schema, error) {
	if path == "" {
		return schema.Default()
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open schema file: %w", err)
	}
	defer f.Close()
	return schema.LoadYAML(f)
}

func backendOptions(cfg config.ImportConfig) []crm.BackendOption {
	if cfg.DuplicateCheckURL == "" {
		return nil
	}
	header := http.Header{}
	if cfg.DuplicateCheckToken != "" {
		header.Set("Authorization", "Bearer "+cfg.DuplicateCheckToken)
	}
	slog.Info("duplicate checks go to remote endpoint", "url", cfg.DuplicateCheckURL)
	return []crm.BackendOption{
		crm.WithRemoteChecker(cfg.DuplicateCheckURL, &http.Client{Timeout: cfg.Timeout}, header),
	}
}

// syncExecutor returns exec only when the sync endpoint was switched on,
// either directly or by requiring API keys on every route.
func syncExecutor(cfg *config.Config, exec schema.Executor) schema.Executor {
	if !cfg.Schema.SyncEnabled && !cfg.Security.RequireAPIKey {
		return nil
	}
	return exec
}

func serverOptions(cfg *config.Config) web.Options {
	opts := web.Options{
		MaxFileSize:      cfg.Import.MaxFileSize,
		PreviewRows:      cfg.Import.PreviewRows,
		LargeFileRows:    cfg.Import.LargeFileRows,
		OperationTimeout: cfg.Import.Timeout,
		SyncMode:         cfg.Schema.SyncMode,
		ReadTimeout:      cfg.Server.ReadTimeout,
		WriteTimeout:     cfg.Server.WriteTimeout,
		IdleTimeout:      cfg.Server.IdleTimeout,
		RequestTimeout:   cfg.Server.RequestTimeout,
		TrustedProxies:   cfg.Security.TrustedProxies,
		EnableCSP:        cfg.Security.EnableCSP,
		RequireAPIKey:    cfg.Security.RequireAPIKey,
		APIKeys:          cfg.Security.APIKeys,
	}
	if cfg.Rate.Enabled {
		opts.RequestsPerMinute = cfg.Rate.RequestsPerMinute
		opts.UploadsPerMinute = cfg.Rate.UploadLimit
	}
	return opts
}
