package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	httptransport "github.com/spec-kit/token-auth/internal/api/http"
	"github.com/spec-kit/token-auth/internal/api/http/handlers"
	"github.com/spec-kit/token-auth/internal/config"
	"github.com/spec-kit/token-auth/internal/observability"
	"github.com/spec-kit/token-auth/internal/persistence"
	"github.com/spec-kit/token-auth/internal/token"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var pg *persistence.Postgres
	if cfg.Postgres.DSN != "" {
		pg, err = persistence.NewPostgres(ctx, cfg.Postgres, cfg.App.Name, logger)
		if err != nil {
			logger.Fatal("failed to connect postgres", zap.Error(err))
		}
		defer pg.Close()
	}

	var rd *persistence.Redis
	if cfg.Token.Backend == config.BackendRedis {
		rd = persistence.NewRedis(cfg.Redis, cfg.App.Name, logger)
		defer rd.Close()
	}

	var store token.Store
	var schemaDB token.DB
	switch cfg.Token.Backend {
	case config.BackendRedis:
		store = token.NewRedisStore(rd.Client)
	default:
		store = token.NewPostgresStore()
		schemaDB = pg.PoolHandle()
	}
	if err := store.EnsureSchema(ctx, schemaDB); err != nil {
		logger.Fatal("failed to ensure token schema", zap.Error(err))
	}

	metrics := observability.NewMetrics()

	app := fiber.New(fiber.Config{AppName: cfg.App.Name})
	var txDB persistence.TxBeginner
	if pg != nil {
		txDB = pg.PoolHandle()
	}
	httptransport.RegisterMiddlewares(app, logger, metrics, txDB, httptransport.MiddlewareConfig{
		Timeout:      cfg.App.RequestTimeout(),
		WrapUncaught: cfg.Problem.WrapUncaught,
	})

	requireToken := token.Require(token.RequireConfig{
		Store: store,
		Name:  cfg.Token.CredentialName,
		Kind:  cfg.Token.Kind,
	})
	requirePrincipal := token.Require(token.RequireConfig{
		Store:     store,
		Name:      cfg.Token.CredentialName,
		Kind:      cfg.Token.Kind,
		Transform: handlers.PrincipalFromToken,
	})

	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health:           handlers.NewHealthHandler(pg, rd),
		Tokens:           handlers.NewTokensHandler(store, cfg.Token),
		Metrics:          handlers.NewMetricsHandler(metrics),
		RequireToken:     requireToken,
		RequirePrincipal: requirePrincipal,
	})

	go func() {
		if err := app.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()

	waitForShutdown(logger)

	_ = app.Shutdown()
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}
