package system

import (
	"context"
	"time"

	"go-assettrack/internal/common/api"
	"go-assettrack/internal/database"

	"github.com/gofiber/fiber/v2"
)

type HealthApi struct {
	DB *database.MongodbDB
}

func NewHealthApi(db *database.MongodbDB) api.Route {
	return &HealthApi{DB: db}
}

// HealthCheck godoc
// @Summary Health check
// @Description Liveness and database connectivity check
// @Tags system
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Failure 503 {object} map[string]interface{}
// @Router /api/health [get]
func (h *HealthApi) HealthCheck(ctx *fiber.Ctx) error {
	ctxt, cancel := context.WithTimeout(ctx.UserContext(), 2*time.Second)
	defer cancel()

	if err := h.DB.DB.Client().Ping(ctxt, nil); err != nil {
		return ctx.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"status":   "degraded",
			"database": "unreachable",
		})
	}

	return ctx.JSON(fiber.Map{
		"status":   "ok",
		"database": "connected",
	})
}

func (h *HealthApi) Setup(app *fiber.App) {
	app.Get("/api/health", h.HealthCheck)
}
