package main

import (
	"context"
	"fmt"
	"log"
	"time"

	common_api "go-assettrack/internal/common/api"
	"go-assettrack/internal/config"
	"go-assettrack/internal/database"
	"go-assettrack/internal/features/asset"
	import_feature "go-assettrack/internal/features/import"
	"go-assettrack/internal/features/maintenance"
	"go-assettrack/internal/features/system"
	"go-assettrack/internal/logger"
	"go-assettrack/internal/middleware"
	"go-assettrack/pkg/utils"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

// NewFiberServer creates a new Fiber app instance
func NewFiberServer() *fiber.App {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		BodyLimit:             512 * 1024 * 1024,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{
				"error": err.Error(),
			})
		},
	})

	app.Use(middleware.CORSMiddleware())

	return app
}

// AsRoute tags a constructor so Fx adds its result to the "routes" group.
func AsRoute(f any) any {
	return fx.Annotate(
		f,
		fx.As(new(common_api.Route)),
		fx.ResultTags(`group:"routes"`),
	)
}

// RegisterAllRoutes takes the group "routes" (slice of interfaces)
// and calls Setup() on each one.
func RegisterAllRoutes(app *fiber.App, routes []common_api.Route) {
	log.Printf("Registering %d routes...\n", len(routes))
	for _, route := range routes {
		route.Setup(app)
	}
}

var RegisterAllRoutesWithAnnotation = fx.Annotate(
	RegisterAllRoutes,
	fx.ParamTags(``, `group:"routes"`),
)

// StartServer creates a lifecycle hook to start Fiber in a goroutine
// and shut it down when the app exits.
func StartServer(lc fx.Lifecycle, app *fiber.App, cfg *config.Config) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				port := fmt.Sprintf(":%s", cfg.Port)
				if err := app.Listen(port); err != nil {
					log.Fatalf("Server failed to start: %v", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return app.Shutdown()
		},
	})
}

// InitializeIndexes ensures the unique natural-key indexes exist before any
// import starts writing.
func InitializeIndexes(lc fx.Lifecycle, assetRepo asset.AssetRepository) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				defer cancel()

				if err := assetRepo.EnsureIndexes(ctx); err != nil {
					log.Printf("Failed to ensure asset indexes: %v", err)
				}
			}()
			return nil
		},
	})
}

// StartMaintenance runs the startup recovery pass and the retention cron.
func StartMaintenance(lc fx.Lifecycle, scheduler *maintenance.Scheduler) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return scheduler.Start(ctx)
		},
		OnStop: func(ctx context.Context) error {
			scheduler.Stop()
			return nil
		},
	})
}

// StopImports aborts active pipelines on shutdown so interrupted jobs can be
// resumed from their last committed offset after restart.
func StopImports(lc fx.Lifecycle, importService import_feature.ImportService) {
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			importService.Shutdown()
			return nil
		},
	})
}

// @title AssetTrack API
// @version 1.0
// @description Asset registry with bulk record ingestion
// @BasePath /
func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	utils.SetSecret(cfg.JWTSecret)

	fx.New(
		fx.Supply(cfg),
		fx.Provide(
			NewFiberServer,
			database.NewDatabase,
			logger.NewLogger,

			asset.NewAssetRepository,
			asset.NewAssetService,
			asset.NewAssetController,

			import_feature.NewImportRepository,
			import_feature.NewWebSocketHub,
			import_feature.AsProgressBroadcaster,
			import_feature.NewImportService,
			import_feature.NewImportController,

			maintenance.NewScheduler,

			AsRoute(asset.NewAssetApi),
			AsRoute(import_feature.NewImportApi),
			AsRoute(system.NewHealthApi),
			AsRoute(system.NewSwaggerApi),
		),
		fx.Invoke(
			RegisterAllRoutesWithAnnotation,
			InitializeIndexes,
			StartMaintenance,
			StopImports,
			StartServer,
		),
		fx.WithLogger(func(logger *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: logger}
		}),
	).Run()
}
