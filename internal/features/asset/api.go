package asset

import (
	"go-assettrack/internal/config"
	"go-assettrack/internal/middleware"

	"github.com/gofiber/fiber/v2"
)

type AssetApi struct {
	AssetController *AssetController
	Config          *config.Config
}

func NewAssetApi(assetController *AssetController, config *config.Config) *AssetApi {
	return &AssetApi{
		AssetController: assetController,
		Config:          config,
	}
}

func (api *AssetApi) Setup(app *fiber.App) {
	group := app.Group("/api/assets", middleware.AuthMiddleware(api.Config.SkipAuth))

	group.Get("/", api.AssetController.ListAssets)
}
