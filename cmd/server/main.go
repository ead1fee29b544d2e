package main

import (
	"context"
	"fmt"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/sirupsen/logrus"

	"forge-backend/internal/auth"
	"forge-backend/internal/config"
	"forge-backend/internal/engine"
	"forge-backend/internal/metadata"
	"forge-backend/internal/store"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("failed to load config")
	}
	logrus.WithFields(logrus.Fields{
		"port":   cfg.Server.Port,
		"driver": cfg.Database.Driver,
	}).Info("config loaded")

	db, err := store.New(ctx, cfg.Database)
	if err != nil {
		logrus.WithError(err).Fatal("failed to connect to database")
	}
	defer db.Close()

	if err := db.Bootstrap(ctx); err != nil {
		logrus.WithError(err).Fatal("failed to bootstrap system tables")
	}
	if err := auth.Bootstrap(ctx, db); err != nil {
		logrus.WithError(err).Fatal("failed to bootstrap auth tables")
	}

	reg := metadata.NewRegistry()
	if err := metadata.LoadFile(cfg.Metadata.Path, reg); err != nil {
		logrus.WithError(err).Fatal("failed to load entity graph")
	}

	providers, err := buildProviders(db, reg, cfg)
	if err != nil {
		logrus.WithError(err).Fatal("failed to build entity providers")
	}

	app := fiber.New(fiber.Config{
		ErrorHandler: engine.ErrorHandler,
	})
	app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
	}))
	app.Use(logger.New(logger.Config{
		Format: "${time} ${status} ${method} ${path} ${latency}\n",
	}))

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	// Auth routes stay in front of the middleware.
	authHandler := auth.NewHandler(db, cfg.JWTSecret)
	auth.RegisterRoutes(app, authHandler)

	app.Use("/api", auth.Middleware(cfg.JWTSecret))

	engine.RegisterRoutes(app, engine.NewHandler(providers))

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	logrus.WithField("addr", addr).Info("starting server")
	logrus.Fatal(app.Listen(addr))
}

// buildProviders wires one provider per declared entity, carrying the
// per-entity knobs from the graph document and the global engine settings.
func buildProviders(db *store.Store, reg *metadata.Registry, cfg *config.Config) ([]*engine.Provider, error) {
	var providers []*engine.Provider
	for _, e := range reg.AllEntities() {
		repo, err := engine.NewRepository(db, reg, engine.Config{
			Entity:              e.Name,
			PathOverrides:       e.PathOverrides,
			PermissionOverrides: e.PathOverrides,
			Permissions:         engine.DefaultPermissions(),
			SearchPaths:         e.SearchAttributes,
			ImmutablePaths:      e.ImmutableAttrs,
			SoftDeleteStatus:    cfg.Engine.SoftDeleteStatus,
			DefaultPageSize:     cfg.Pagination.DefaultPageSize,
			MaxPageSize:         cfg.Pagination.MaxPageSize,
			MaxUpsertDepth:      cfg.Engine.MaxUpsertDepth,
		})
		if err != nil {
			return nil, err
		}
		providers = append(providers, engine.NewProvider(repo))
	}
	return providers, nil
}
