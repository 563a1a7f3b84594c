package import_feature

import (
	"go-assettrack/internal/config"
	"go-assettrack/internal/middleware"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
)

type ImportApi struct {
	ImportController *ImportController
	Config           *config.Config
}

func NewImportApi(importController *ImportController, config *config.Config) *ImportApi {
	return &ImportApi{
		ImportController: importController,
		Config:           config,
	}
}

func (api *ImportApi) Setup(app *fiber.App) {
	group := app.Group("/api/import", middleware.AuthMiddleware(api.Config.SkipAuth))

	group.Post("/preview", api.ImportController.UploadAndPreview)
	group.Get("/template", api.ImportController.DownloadTemplate)

	group.Post("/jobs", api.ImportController.CreateImportJob)
	group.Get("/jobs", api.ImportController.ListImportJobs)
	group.Get("/jobs/:id", api.ImportController.GetImportJob)
	group.Get("/jobs/:id/errors", api.ImportController.ListImportErrors)

	group.Post("/jobs/:id/start", api.ImportController.StartImportJob)
	group.Post("/jobs/:id/pause", api.ImportController.PauseImportJob)
	group.Post("/jobs/:id/resume", api.ImportController.ResumeImportJob)
	group.Post("/jobs/:id/cancel", api.ImportController.CancelImportJob)

	group.Get("/jobs/:id/ws", websocket.New(api.ImportController.HandleProgressWS))
}
