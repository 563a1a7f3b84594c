package asset

import (
	"strconv"

	"github.com/gofiber/fiber/v2"
)

type AssetController struct {
	AssetService AssetService
}

func NewAssetController(assetService AssetService) *AssetController {
	return &AssetController{AssetService: assetService}
}

// ListAssets godoc
// @Summary List assets
// @Description List tracked assets with optional status/type filters
// @Tags assets
// @Produce json
// @Param status query string false "Status filter"
// @Param object_type query string false "Object type filter"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} map[string]interface{}
// @Failure 500 {object} map[string]interface{}
// @Router /api/assets [get]
func (c *AssetController) ListAssets(ctx *fiber.Ctx) error {
	page, _ := strconv.ParseInt(ctx.Query("page", "1"), 10, 64)
	limit, _ := strconv.ParseInt(ctx.Query("limit", "50"), 10, 64)
	if page < 1 {
		page = 1
	}

	filter := map[string]any{}
	if status := ctx.Query("status"); status != "" {
		filter["status"] = status
	}
	if objectType := ctx.Query("object_type"); objectType != "" {
		filter["object_type"] = objectType
	}

	assets, total, err := c.AssetService.ListAssets(ctx.UserContext(), filter, limit, (page-1)*limit)
	if err != nil {
		return ctx.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}

	return ctx.JSON(fiber.Map{
		"data":  assets,
		"total": total,
		"page":  page,
		"limit": limit,
	})
}
