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
	"golang.org/x/time/rate"

	"github.com/ericfisherdev/shelfsync/internal/adapter/driven/airtable"
	"github.com/ericfisherdev/shelfsync/internal/adapter/driven/lightspeed"
	"github.com/ericfisherdev/shelfsync/internal/adapter/driven/metrics"
	sqliteadapter "github.com/ericfisherdev/shelfsync/internal/adapter/driven/sqlite"
	httphandler "github.com/ericfisherdev/shelfsync/internal/adapter/driving/http"
	webhandler "github.com/ericfisherdev/shelfsync/internal/adapter/driving/web"
	"github.com/ericfisherdev/shelfsync/internal/application"
	"github.com/ericfisherdev/shelfsync/internal/config"
)

const upstreamTimeout = 60 * time.Second

func main() {
	if err := run(); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load configuration (fail fast on missing required env vars).
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	slog.Info("config loaded",
		"listen_addr", cfg.ListenAddr,
		"db_path", cfg.DBPath,
		"public_url", cfg.PublicURL,
		"rate_limit", cfg.RateLimit,
		"oauth_client", cfg.HasOAuthClient(),
	)
	if !cfg.HasOAuthClient() {
		slog.Warn("no upstream OAuth client configured; connect flow will fail until SHELFSYNC_LIGHTSPEED_CLIENT_ID and SHELFSYNC_LIGHTSPEED_CLIENT_SECRET are set")
	}

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

	// 5. Wire storage adapters. Tokens and API keys are sealed at rest.
	cipher, err := sqliteadapter.NewCipher(cfg.SecretKey)
	if err != nil {
		return err
	}
	connStore := sqliteadapter.NewConnectionRepo(db, cipher)
	keyStore := sqliteadapter.NewSharedKeyRepo(db, cipher)

	// 6. Wire upstream and destination adapters.
	catalog := lightspeed.NewClient(cfg.Lightspeed.APIBase, upstreamTimeout)
	auth := lightspeed.NewOAuth(lightspeed.OAuthConfig{
		ClientID:     cfg.Lightspeed.ClientID,
		ClientSecret: cfg.Lightspeed.ClientSecret,
		RedirectURL:  cfg.Lightspeed.RedirectURI,
		AuthURL:      cfg.Lightspeed.AuthURL,
		TokenURL:     cfg.Lightspeed.TokenURL,
		RefreshURL:   cfg.Lightspeed.RefreshURL,
		Scope:        cfg.Lightspeed.Scope,
	}, &http.Client{Timeout: upstreamTimeout})
	dest := airtable.NewClient(cfg.Airtable.APIBase, cfg.Airtable.WebBase, upstreamTimeout)
	recorder := metrics.NewRecorder()

	// 7. Create application services. One limiter is shared by every tenant.
	limiter := rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst)
	tokenSvc := application.NewTokenService(connStore, auth, recorder)
	fetcher := application.NewFetcher(catalog, tokenSvc, limiter, application.FetchPolicy{
		PageDelay: cfg.PageDelay,
		Retry: application.RetryPolicy{
			Base:       cfg.FetchBackoffBase,
			Max:        cfg.FetchBackoffMax,
			MaxRetries: cfg.FetchMaxRetries,
		},
	}, recorder)
	vaultSvc := application.NewVaultService(keyStore, connStore, 0)
	connectSvc := application.NewConnectService(auth, connStore, vaultSvc, 0)
	exportSvc := application.NewExportService(connStore, tokenSvc, fetcher, vaultSvc, dest, recorder, application.ExportConfig{
		FallbackAPIKey: cfg.Airtable.APIKey,
		WriteDelay:     cfg.WriteDelay,
		WriteRetry: application.RetryPolicy{
			Base:       cfg.FetchBackoffBase,
			Max:        cfg.FetchBackoffMax,
			MaxRetries: cfg.WriteMaxRetries,
		},
		RunTimeout: cfg.RunTimeout,
	}, slog.Default())
	gallerySvc := application.NewGalleryService(connStore, tokenSvc, fetcher)
	signer := application.NewShareSigner(cfg.ShareSecret, 0)
	dispatcher := application.NewDispatcher(connectSvc, exportSvc, signer, cfg.PublicURL)
	healthSvc := application.NewHealthService(db, connStore)

	// 8. Create HTTP handler and register API routes.
	apiHandler := httphandler.NewHandler(connectSvc, vaultSvc, exportSvc, dispatcher, healthSvc, httphandler.Options{
		AdminToken:         cfg.AdminToken,
		DestinationWebBase: cfg.Airtable.WebBase,
	}, slog.Default())
	mux := http.NewServeMux()
	httphandler.RegisterAPIRoutes(mux, apiHandler)
	mux.Handle("GET /metrics", recorder.Handler())

	// 9. Create web handler and register page routes.
	webHandler := webhandler.NewHandler(connectSvc, vaultSvc, gallerySvc, signer, cfg.PublicURL, slog.Default())
	webhandler.RegisterRoutes(mux, webHandler)

	// Apply middleware.
	handler := httphandler.ApplyMiddleware(mux, slog.Default(), cfg.AllowedOrigins)

	// Export runs answer synchronously, so writes may take up to a full run.
	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      cfg.RunTimeout + 30*time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		slog.Info("http server starting", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server error", "error", err)
			stop()
		}
	}()

	slog.Info("shelfsync started", "listen_addr", cfg.ListenAddr, "public_url", cfg.PublicURL)

	// 10. Wait for shutdown signal.
	<-ctx.Done()
	slog.Info("shutting down")

	// 11. Graceful shutdown; in-flight runs get the drain window to finish
	// their current batch.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http server shutdown error", "error", err)
	}

	slog.Info("shutdown complete")
	return nil
}
