// Command server runs the direct-messaging backend: the REST API, the
// WebSocket endpoint and the maintenance sweeper in one process.
//
//	@title						Direct Messaging API
//	@version					1.0
//	@description				One-to-one messaging with realtime delivery over WebSocket (GET /ws).
//	@BasePath					/api/v1
//	@securityDefinitions.apikey	BearerAuth
//	@in							header
//	@name						Authorization
//	@description				Type "Bearer" followed by a space and the JWT.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/tbourn/go-dm-backend/docs"
	"github.com/tbourn/go-dm-backend/internal/auth"
	"github.com/tbourn/go-dm-backend/internal/config"
	httpapi "github.com/tbourn/go-dm-backend/internal/http"
	"github.com/tbourn/go-dm-backend/internal/maintenance"
	"github.com/tbourn/go-dm-backend/internal/observability"
	"github.com/tbourn/go-dm-backend/internal/presence"
	"github.com/tbourn/go-dm-backend/internal/realtime"
	"github.com/tbourn/go-dm-backend/internal/repo"
	"github.com/tbourn/go-dm-backend/internal/services"
	"github.com/tbourn/go-dm-backend/internal/storage"
	"github.com/tbourn/go-dm-backend/internal/sysutil"
)

// version is set via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	_ = godotenv.Load(".env")

	cfg := config.MustLoad()
	sysutil.SetLogLevel(cfg.LogLevel)
	ver := sysutil.FirstNonEmpty(os.Getenv("APP_VERSION"), version)
	log := sysutil.NewLogger(os.Stdout, cfg.LogPretty, cfg.OTEL.ServiceName, ver)

	if err := run(cfg, ver, log); err != nil {
		log.Fatal().Err(err).Msg("server exited")
	}
}

func run(cfg config.Config, ver string, log zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, ver, log)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOTel(sctx); err != nil {
			log.Warn().Err(err).Msg("otel shutdown")
		}
	}()

	// Storage
	db, err := repo.OpenSQLite(cfg.DBPath)
	if err != nil {
		return err
	}
	if err := repo.AutoMigrate(db); err != nil {
		return err
	}
	// Nobody is connected after a restart.
	if n, err := repo.ResetPresence(ctx, db, time.Now().UTC()); err != nil {
		return err
	} else if n > 0 {
		log.Info().Int64("users", n).Msg("reset stale presence")
	}
	blobs, err := storage.New(cfg.Upload.Dir, cfg.Upload.PublicPath, cfg.Upload.MaxBytes)
	if err != nil {
		return err
	}

	// Realtime
	reg := presence.NewRegistry()
	store := realtime.DBStore{DB: db}
	reqs := &services.RequestService{DB: db}
	router := &realtime.Router{
		Registry: reg,
		Store:    store,
		Gate:     &services.Gate{DB: db},
		Requests: reqs,
		Log:      log.With().Str("component", "router").Logger(),
		MaxRunes: cfg.MaxMessageRunes,
	}
	tokens := auth.NewTokenIssuer(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.TokenTTL)
	hub := realtime.NewHub(realtime.HubOptions{
		Registry:       reg,
		Router:         router,
		Typing:         &realtime.Typing{Registry: reg, Blocks: store, Log: log.With().Str("component", "typing").Logger()},
		Tokens:         tokens,
		Users:          store,
		Config:         cfg.Realtime,
		AllowedOrigins: cfg.CORS.AllowedOrigins,
		Log:            log.With().Str("component", "hub").Logger(),
	})
	reqs.Notifier = hub

	// Maintenance
	sweeper, err := maintenance.New(db, cfg.SweepCron, cfg.RequestTTL, log)
	if err != nil {
		return err
	}
	sweepDone := sweeper.Start(ctx)

	// HTTP
	gin.SetMode(cfg.GinMode)
	docs.SwaggerInfo.BasePath = cfg.APIBasePath
	docs.SwaggerInfo.Version = ver
	engine := gin.New()
	httpapi.RegisterRoutes(engine, httpapi.Deps{
		DB:       db,
		Hub:      hub,
		Router:   router,
		Requests: reqs,
		Tokens:   tokens,
		Blobs:    blobs,
	}, cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           engine,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Str("db", cfg.DBPath).Str("session_policy", cfg.Realtime.DuplicatePolicy).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-ctx.Done():
		log.Info().Msg("shutting down")
	}

	sctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	// Hijacked WebSocket connections are not tracked by srv.Shutdown.
	if err := hub.Shutdown(sctx); err != nil {
		log.Warn().Err(err).Msg("realtime shutdown")
	}
	if err := srv.Shutdown(sctx); err != nil {
		log.Warn().Err(err).Msg("http shutdown")
	}
	stop()
	<-sweepDone

	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
	log.Info().Msg("bye")
	return nil
}
