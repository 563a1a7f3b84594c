package import_feature

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"go-assettrack/internal/config"
	"go-assettrack/internal/models"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type ImportController struct {
	ImportService ImportService
	Hub           *WebSocketHub
	UploadDir     string
	Config        *config.Config
}

func NewImportController(importService ImportService, hub *WebSocketHub, cfg *config.Config) *ImportController {
	if _, err := os.Stat(cfg.FSPath); os.IsNotExist(err) {
		os.MkdirAll(cfg.FSPath, 0755)
	}
	return &ImportController{
		ImportService: importService,
		Hub:           hub,
		UploadDir:     cfg.FSPath,
		Config:        cfg,
	}
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, ErrJobNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, ErrInvalidState):
		return fiber.StatusConflict
	case errors.Is(err, ErrInvalidInput):
		return fiber.StatusBadRequest
	default:
		return fiber.StatusInternalServerError
	}
}

// UploadAndPreview godoc
// @Summary Upload import file
// @Description Upload a CSV/XLSX file and preview its headers and first rows
// @Tags import
// @Accept multipart/form-data
// @Produce json
// @Param file formData file true "Import File"
// @Success 200 {object} models.ImportPreview
// @Failure 400 {object} map[string]interface{}
// @Router /api/import/preview [post]
func (c *ImportController) UploadAndPreview(ctx *fiber.Ctx) error {
	fileHeader, err := ctx.FormFile("file")
	if err != nil {
		return ctx.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "file is required"})
	}

	file, err := fileHeader.Open()
	if err != nil {
		return ctx.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to open file"})
	}
	defer file.Close()

	preview, err := c.ImportService.PreviewFile(ctx.UserContext(), file, fileHeader.Filename)
	if err != nil {
		return ctx.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	return ctx.JSON(preview)
}

// CreateImportJob godoc
// @Summary Create import job
// @Description Store the uploaded file and create an ingestion job in pending state
// @Tags import
// @Accept multipart/form-data
// @Produce json
// @Param file formData file true "Import File"
// @Param object_type formData string true "Declared object/category type"
// @Param mapping formData string false "Column mapping JSON (file column -> field)"
// @Param conflict_policy formData string false "strict or skip"
// @Param skip_duplicate_check formData bool false "Skip the store lookup during dedup"
// @Success 201 {object} models.ImportJob
// @Failure 400 {object} map[string]interface{}
// @Failure 401 {object} map[string]interface{}
// @Router /api/import/jobs [post]
func (c *ImportController) CreateImportJob(ctx *fiber.Ctx) error {
	objectType := ctx.FormValue("object_type")
	if objectType == "" {
		return ctx.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "object_type is required"})
	}

	userIDStr, ok := ctx.Locals("user_id").(string)
	if !ok {
		return ctx.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "User ID not found"})
	}
	userID, _ := primitive.ObjectIDFromHex(userIDStr)

	fileHeader, err := ctx.FormFile("file")
	if err != nil {
		return ctx.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "file is required"})
	}

	var mapping map[string]string
	if mappingJSON := ctx.FormValue("mapping"); mappingJSON != "" {
		if err := json.Unmarshal([]byte(mappingJSON), &mapping); err != nil {
			return ctx.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid mapping JSON"})
		}
	}

	originalName := filepath.Base(fileHeader.Filename)
	uniqueName := fmt.Sprintf("%s_%s", uuid.NewString(), strings.ReplaceAll(originalName, " ", "_"))
	dstPath := filepath.Join(c.UploadDir, uniqueName)

	if err := ctx.SaveFile(fileHeader, dstPath); err != nil {
		return ctx.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Error saving file"})
	}

	// Provisional row count; the pipeline fixes it up once the stream ends.
	totalRows := 0
	if file, err := fileHeader.Open(); err == nil {
		if preview, err := c.ImportService.PreviewFile(ctx.UserContext(), file, fileHeader.Filename); err == nil {
			totalRows = preview.TotalRows
		}
		file.Close()
	}

	job := &models.ImportJob{
		UserID:             userID,
		ObjectType:         objectType,
		FileName:           originalName,
		FilePath:           dstPath,
		FileSize:           fileHeader.Size,
		TotalRecords:       totalRows,
		ColumnMapping:      mapping,
		SkipDuplicateCheck: ctx.FormValue("skip_duplicate_check") == "true",
		ConflictPolicy:     models.ConflictPolicy(ctx.FormValue("conflict_policy")),
		ValidationScript:   ctx.FormValue("validation_script"),
	}

	if err := c.ImportService.CreateJob(ctx.UserContext(), job); err != nil {
		os.Remove(dstPath)
		return ctx.Status(statusForError(err)).JSON(fiber.Map{"error": err.Error()})
	}

	return ctx.Status(fiber.StatusCreated).JSON(job)
}

// StartImportJob godoc
// @Summary Start import job
// @Description Begin (or queue) processing of a pending job
// @Tags import
// @Produce json
// @Param id path string true "Job ID"
// @Success 202 {object} map[string]interface{}
// @Failure 404 {object} map[string]interface{}
// @Failure 409 {object} map[string]interface{}
// @Router /api/import/jobs/{id}/start [post]
func (c *ImportController) StartImportJob(ctx *fiber.Ctx) error {
	if err := c.ImportService.StartJob(ctx.UserContext(), ctx.Params("id")); err != nil {
		return ctx.Status(statusForError(err)).JSON(fiber.Map{"error": err.Error()})
	}
	return ctx.Status(fiber.StatusAccepted).JSON(fiber.Map{"message": "Import started"})
}

// PauseImportJob godoc
// @Summary Pause import job
// @Description Stop the pipeline after the batch in flight commits
// @Tags import
// @Produce json
// @Param id path string true "Job ID"
// @Success 202 {object} map[string]interface{}
// @Failure 404 {object} map[string]interface{}
// @Failure 409 {object} map[string]interface{}
// @Router /api/import/jobs/{id}/pause [post]
func (c *ImportController) PauseImportJob(ctx *fiber.Ctx) error {
	if err := c.ImportService.PauseJob(ctx.UserContext(), ctx.Params("id")); err != nil {
		return ctx.Status(statusForError(err)).JSON(fiber.Map{"error": err.Error()})
	}
	return ctx.Status(fiber.StatusAccepted).JSON(fiber.Map{"message": "Pause requested"})
}

// ResumeImportJob godoc
// @Summary Resume import job
// @Description Re-enter processing from the recorded row offset
// @Tags import
// @Produce json
// @Param id path string true "Job ID"
// @Success 202 {object} map[string]interface{}
// @Failure 404 {object} map[string]interface{}
// @Failure 409 {object} map[string]interface{}
// @Router /api/import/jobs/{id}/resume [post]
func (c *ImportController) ResumeImportJob(ctx *fiber.Ctx) error {
	if err := c.ImportService.ResumeJob(ctx.UserContext(), ctx.Params("id")); err != nil {
		return ctx.Status(statusForError(err)).JSON(fiber.Map{"error": err.Error()})
	}
	return ctx.Status(fiber.StatusAccepted).JSON(fiber.Map{"message": "Resume requested"})
}

// CancelImportJob godoc
// @Summary Cancel import job
// @Description Stop processing at the next batch boundary
// @Tags import
// @Produce json
// @Param id path string true "Job ID"
// @Success 202 {object} map[string]interface{}
// @Failure 404 {object} map[string]interface{}
// @Failure 409 {object} map[string]interface{}
// @Router /api/import/jobs/{id}/cancel [post]
func (c *ImportController) CancelImportJob(ctx *fiber.Ctx) error {
	if err := c.ImportService.CancelJob(ctx.UserContext(), ctx.Params("id")); err != nil {
		return ctx.Status(statusForError(err)).JSON(fiber.Map{"error": err.Error()})
	}
	return ctx.Status(fiber.StatusAccepted).JSON(fiber.Map{"message": "Cancel requested"})
}

// GetImportJob godoc
// @Summary Get import job
// @Description Full job record including counters and state
// @Tags import
// @Produce json
// @Param id path string true "Job ID"
// @Success 200 {object} models.ImportJob
// @Failure 404 {object} map[string]interface{}
// @Router /api/import/jobs/{id} [get]
func (c *ImportController) GetImportJob(ctx *fiber.Ctx) error {
	job, err := c.ImportService.GetJob(ctx.UserContext(), ctx.Params("id"))
	if err != nil {
		return ctx.Status(statusForError(err)).JSON(fiber.Map{"error": err.Error()})
	}
	return ctx.JSON(job)
}

// ListImportJobs godoc
// @Summary List import jobs
// @Description List the current user's import jobs
// @Tags import
// @Produce json
// @Success 200 {array} models.ImportJob
// @Failure 401 {object} map[string]interface{}
// @Router /api/import/jobs [get]
func (c *ImportController) ListImportJobs(ctx *fiber.Ctx) error {
	userIDStr, ok := ctx.Locals("user_id").(string)
	if !ok {
		return ctx.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "User ID not found"})
	}
	userID, _ := primitive.ObjectIDFromHex(userIDStr)

	jobs, err := c.ImportService.GetUserJobs(ctx.UserContext(), userID)
	if err != nil {
		return ctx.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	return ctx.JSON(jobs)
}

// ListImportErrors godoc
// @Summary List import errors
// @Description Paginated error log for one job, ordered by row number
// @Tags import
// @Produce json
// @Param id path string true "Job ID"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} map[string]interface{}
// @Failure 404 {object} map[string]interface{}
// @Router /api/import/jobs/{id}/errors [get]
func (c *ImportController) ListImportErrors(ctx *fiber.Ctx) error {
	page, _ := strconv.ParseInt(ctx.Query("page", "1"), 10, 64)
	limit, _ := strconv.ParseInt(ctx.Query("limit", "100"), 10, 64)

	errs, total, err := c.ImportService.ListErrors(ctx.UserContext(), ctx.Params("id"), page, limit)
	if err != nil {
		return ctx.Status(statusForError(err)).JSON(fiber.Map{"error": err.Error()})
	}

	return ctx.JSON(fiber.Map{
		"data":  errs,
		"total": total,
		"page":  page,
		"limit": limit,
	})
}

// DownloadTemplate godoc
// @Summary Download import template
// @Description Static CSV with the expected column headers
// @Tags import
// @Produce text/csv
// @Success 200 {string} string
// @Router /api/import/template [get]
func (c *ImportController) DownloadTemplate(ctx *fiber.Ctx) error {
	ctx.Set(fiber.HeaderContentType, "text/csv")
	ctx.Set(fiber.HeaderContentDisposition, `attachment; filename="import_template.csv"`)
	return ctx.SendString(strings.Join(TemplateHeaders, ",") + "\n")
}

// HandleProgressWS streams progress snapshots for one job until the client
// disconnects. Best-effort side channel, the job store stays authoritative.
func (c *ImportController) HandleProgressWS(conn *websocket.Conn) {
	jobID := conn.Params("id")
	c.Hub.Subscribe(jobID, conn)
	defer func() {
		c.Hub.Unsubscribe(jobID, conn)
		conn.Close()
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
}
