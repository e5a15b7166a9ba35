package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	log "github.com/sirupsen/logrus"

	"taskmanager/attachments"
	"taskmanager/bootstrap"
	"taskmanager/commands"
	"taskmanager/config"
	"taskmanager/storage"
	"taskmanager/task-api/api"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := bootstrap.NewLogger(config.TaskAPI, cfg)
	if err := cfg.ValidateFor(config.TaskAPI); err != nil {
		logger.Fatalf("config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tp := bootstrap.NewTracerProvider(cfg.TraceSampleRatio, logger)
	defer bootstrap.ShutdownTracer(tp, 5*time.Second, logger)

	clients, err := bootstrap.Open(ctx, cfg, logger)
	if err != nil {
		logger.Fatalf("storage: %v", err)
	}
	defer clients.Close()

	issuer, err := attachments.NewIssuer(clients.Tasks.Fresh(), cfg.Upload.BaseURL, cfg.Upload.GrantSecret, cfg.Upload.GrantTTL, cfg.Timeouts.Store)
	if err != nil {
		logger.Fatalf("attachments: %v", err)
	}
	coord, err := bootstrap.NewCoordinator(cfg, clients, issuer, logger)
	if err != nil {
		logger.Fatalf("coordinator: %v", err)
	}
	processor, err := commands.NewProcessor(commands.ProcessorConfig{
		Coordinator: coord,
		Deduper:     storage.NewRedisDeduper(clients.Redis, "commands", cfg.Redis.DedupeTTL),
		Logger:      logger,
		Outcomes:    commands.NewOutcomeCounter(clients.Registry),
	})
	if err != nil {
		logger.Fatalf("commands: %v", err)
	}

	auth, err := newAuth(cfg.Auth)
	if err != nil {
		logger.Fatalf("auth: %v", err)
	}
	if auth.TestMode() {
		logger.Warn("auth running in test mode with a shared HS256 secret")
	}

	e := bootstrap.NewEcho(clients.Registry, clients.Checks())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
	}))
	api.Register(e, api.Deps{
		Tasks:        coord,
		Auth:         auth,
		Contacts:     clients.Memberships,
		SeenContacts: storage.NewRedisDeduper(clients.Redis, "contacts", cfg.Redis.DedupeTTL),
		Commands:     processor,
		TriggerToken: cfg.Auth.TriggerToken,
		Redis:        clients.Redis,
		Logger:       logger,
	})

	if err := bootstrap.Serve(ctx, e, ":"+cfg.Port, logger); err != nil {
		logger.Fatalf("server: %v", err)
	}
	logger.Info("task api stopped")
}

func newAuth(cfg config.AuthConfig) (*api.Auth, error) {
	if cfg.TestMode {
		return api.NewAuth(api.AuthOptions{TestSecret: []byte(cfg.TestSecret), Audience: cfg.Audience}), nil
	}
	jwksURL := fmt.Sprintf("https://%s/.well-known/jwks.json", cfg.Domain)
	jwks, err := keyfunc.Get(jwksURL, keyfunc.Options{
		RefreshInterval:   cfg.JWKSRefresh,
		RefreshUnknownKID: true,
		RefreshErrorHandler: func(err error) {
			log.WithError(err).Warn("jwks refresh failed")
		},
	})
	if err != nil {
		return nil, fmt.Errorf("jwks: %w", err)
	}
	return api.NewAuth(api.AuthOptions{
		JWKS:        jwks,
		Audience:    cfg.Audience,
		Issuer:      "https://" + cfg.Domain + "/",
		KeyCacheTTL: cfg.JWKSRefresh,
	}), nil
}
