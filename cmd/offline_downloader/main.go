package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/italolelis/offline_downloader/internal/assetcache"
	"github.com/italolelis/offline_downloader/internal/cleanup"
	"github.com/italolelis/offline_downloader/internal/config"
	"github.com/italolelis/offline_downloader/internal/engine"
	"github.com/italolelis/offline_downloader/internal/http/rest"
	"github.com/italolelis/offline_downloader/internal/logctx"
	"github.com/italolelis/offline_downloader/internal/notifier"
	"github.com/italolelis/offline_downloader/internal/resolver"
	"github.com/italolelis/offline_downloader/internal/session"
	"github.com/italolelis/offline_downloader/internal/storage/sqlite"
	"github.com/italolelis/offline_downloader/internal/telemetry"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	otelruntime "go.opentelemetry.io/contrib/instrumentation/runtime"
	"golang.org/x/oauth2"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("config error", "err", err)
		os.Exit(1)
	}

	logger := slog.New(logctx.NewTraceHandler(
		slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}),
	))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	slog.Info("offline downloader starting...", "log_level", cfg.LogLevel)

	if err := run(logctx.WithLogger(ctx, logger), cfg); err != nil {
		slog.Error("fatal error", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	logger := logctx.LoggerFromContext(ctx)

	// =========================================================================
	// Start Telemetry
	tel, err := telemetry.New(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: cfg.Telemetry.ServiceVersion,
	})
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	defer func() {
		if err := tel.Shutdown(context.Background()); err != nil {
			logger.Error("failed to shutdown telemetry", "err", err)
		}
	}()

	if cfg.Telemetry.Enabled {
		if err := otelruntime.Start(); err != nil {
			return fmt.Errorf("failed to start runtime instrumentation: %w", err)
		}
	}

	// =========================================================================
	// Start Database
	database, err := sqlite.InitDB(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer database.Close()

	store, err := sqlite.NewStore(database, cfg.BlobDir)
	if err != nil {
		return fmt.Errorf("failed to setup store: %w", err)
	}

	instrumented := sqlite.NewInstrumentedStore(store, tel)

	// =========================================================================
	// Start Session Manager
	client := buildHTTPClient(ctx, cfg)

	res := &instrumentedResolver{
		res: resolver.NewManifestResolver(client, cfg.ManifestBaseURL),
		tel: tel,
	}

	manager := session.NewManager(instrumented, res, client,
		session.WithAssetCache(assetcache.New(client, instrumented)),
		session.WithMaxParallel(cfg.MaxParallel),
		session.WithEngineOptions(
			engine.WithChunkSize(cfg.ChunkSize),
			engine.WithMaxAttempts(cfg.MaxAttempts),
			engine.WithRequestTimeout(cfg.RequestTimeout),
		),
	)
	defer manager.Close()

	// =========================================================================
	// Start Notification
	setupNotifications(ctx, manager, tel, cfg)

	// =========================================================================
	// Start API Service

	// Make a channel to listen for errors coming from the listener. Use a
	// buffered channel so the goroutine can exit if we don't collect this error.
	serverErrors := make(chan error, 1)

	server := setupServer(ctx, manager, instrumented, tel, cfg)

	go func() {
		logger.Info("initializing API support", "host", cfg.Web.BindAddress)
		serverErrors <- server.ListenAndServe()
	}()

	logger.Info("waiting for download requests...",
		"manifest_base_url", cfg.ManifestBaseURL,
		"blob_dir", cfg.BlobDir,
		"max_parallel", cfg.MaxParallel,
	)

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		logger.Info("start shutdown")

		// Give outstanding requests a deadline for completion.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Web.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to gracefully shutdown the server", "err", err)

			if err = server.Close(); err != nil {
				return fmt.Errorf("could not stop server gracefully: %w", err)
			}
		}

		return nil
	}
}

// buildHTTPClient builds the outbound client shared by the resolver, the
// asset cache and the transfer engine: traced transport, plus bearer token
// injection when the content source requires it.
func buildHTTPClient(ctx context.Context, cfg *config.Config) *http.Client {
	client := &http.Client{
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}

	if cfg.SourceToken == "" {
		return client
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, client)

	return oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.SourceToken}))
}

func setupNotifications(ctx context.Context, manager *session.Manager, tel *telemetry.Telemetry, cfg *config.Config) {
	logger := logctx.LoggerFromContext(ctx)

	var notif notifier.Notifier
	if cfg.DiscordWebhookURL != "" {
		notif = notifier.NewDiscordNotifier(http.DefaultClient, cfg.DiscordWebhookURL)
	}

	notify := func(content string) {
		if notif == nil {
			return
		}

		if err := notif.Notify(content); err != nil {
			logger.Error("failed to send notification", "err", err)
		}
	}

	go func() {
		for update := range manager.OnProgress {
			logger.Debug("download progress", "video_id", update.VideoID, "percent", update.Percent)
		}
	}()

	go func() {
		for videoID := range manager.OnVideoDone {
			logger.Info("video download finished", "video_id", videoID)
			notify("✅ Download finished for video: " + videoID)
		}
	}()

	go func() {
		for reset := range manager.OnFileReset {
			logger.Warn("file restarted from zero", "video_id", reset.VideoID, "url", reset.URL)
			tel.RecordFileReset()
		}
	}()

	go func() {
		for failure := range manager.OnFileFailed {
			logger.Error("file download failed", "video_id", failure.VideoID, "url", failure.URL, "err", failure.Err)
			tel.RecordFile("failed")
		}
	}()

	go func() {
		for failure := range manager.OnSessionFailed {
			logger.Error("download session failed", "video_id", failure.VideoID, "err", failure.Err)
			notify("❌ Download failed for video: " + failure.VideoID)
		}
	}()
}

// setupServer prepares the handlers and services to create the http rest server.
func setupServer(ctx context.Context, manager *session.Manager, store *sqlite.InstrumentedStore, tel *telemetry.Telemetry, cfg *config.Config) *http.Server {
	handler := rest.NewVideoHandler(
		&instrumentedSessions{Manager: manager, tel: tel},
		cleanup.NewPurger(store),
	)

	r := chi.NewRouter()
	r.Use(telemetry.RequestID)
	r.Use(telemetry.NewHTTPMiddleware(tel).Middleware)
	r.Use(telemetry.HTTPLogging)

	r.Handle("/metrics", tel.Handler())
	r.Mount("/", handler.Routes())

	return &http.Server{
		Addr:         cfg.Web.BindAddress,
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		Handler:      r,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}
}

// instrumentedSessions wraps the session manager so every download session
// is traced and counted.
type instrumentedSessions struct {
	*session.Manager

	tel *telemetry.Telemetry
}

func (s *instrumentedSessions) Download(ctx context.Context, videoID string) error {
	return s.tel.InstrumentSession(ctx, func(ctx context.Context) error {
		return s.Manager.Download(ctx, videoID)
	})
}

// instrumentedResolver wraps manifest resolution with telemetry.
type instrumentedResolver struct {
	res resolver.Resolver
	tel *telemetry.Telemetry
}

func (r *instrumentedResolver) Resolve(ctx context.Context, videoID string) ([]resolver.Source, error) {
	var sources []resolver.Source

	err := r.tel.InstrumentResolution(ctx, func(ctx context.Context) error {
		var err error

		sources, err = r.res.Resolve(ctx, videoID)

		return err
	})
	if err != nil {
		return nil, err
	}

	return sources, nil
}
