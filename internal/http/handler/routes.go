package handler

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"mrzgate/internal/service"
	"mrzgate/internal/storage"
)

// webhookSchema validates asynchronous OCR completion callbacks before
// they touch the pipeline.
var webhookSchema = jsonschema.MustCompileString("ocr_webhook.json", `{
	"type": "object",
	"required": ["job_id", "mrz_line1", "mrz_line2"],
	"properties": {
		"job_id":     {"type": "string", "minLength": 1},
		"mrz_line1":  {"type": "string", "minLength": 1},
		"mrz_line2":  {"type": "string", "minLength": 1},
		"latency_ms": {"type": "integer", "minimum": 0}
	},
	"additionalProperties": false
}`)

type submitJobRequest struct {
	TenantID string `json:"tenant_id"`
	ImageKey string `json:"image_key"`
}

type reviewRequest struct {
	MRZLine1 string `json:"mrz_line1"`
	MRZLine2 string `json:"mrz_line2"`
}

type webhookRequest struct {
	JobID     string `json:"job_id"`
	MRZLine1  string `json:"mrz_line1"`
	MRZLine2  string `json:"mrz_line2"`
	LatencyMS int64  `json:"latency_ms"`
}

// RegisterRoutes attaches HTTP routes to the provided Fiber app.
// Handlers translate transport concerns only; all pipeline logic lives
// in the service layer.
func RegisterRoutes(app *fiber.App, db *sql.DB, store storage.Storage, jobs service.JobService) {
	// Health endpoint: checks DB connectivity only
	app.Get("/health", func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
		defer cancel()
		if err := db.PingContext(ctx); err != nil {
			return writeError(c, fiber.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "dependency unavailable")
		}
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"status": "healthy"})
	})

	// Simple liveness probe
	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})

	// Upload a passport photograph (multipart/form-data, field name: image).
	// Returns the opaque key a job submission references.
	app.Post("/images", func(c *fiber.Ctx) error {
		fh, err := c.FormFile("image")
		if err != nil {
			return writeError(c, fiber.StatusBadRequest, "IMAGE_REQUIRED", "image is required")
		}

		f, err := fh.Open()
		if err != nil {
			return writeError(c, fiber.StatusBadRequest, "IMAGE_OPEN_ERROR", "cannot open uploaded image")
		}
		defer f.Close()

		ct := fh.Header.Get("Content-Type")
		if ct == "" {
			ct = "application/octet-stream"
		}

		key := fmt.Sprintf("images/%s%s", uuid.NewString(), filepath.Ext(fh.Filename))
		info, err := store.Put(c.UserContext(), key, f, storage.PutObjectOptions{
			Size:        fh.Size,
			ContentType: ct,
		})
		if err != nil {
			return writeError(c, fiber.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
		}
		return c.Status(fiber.StatusCreated).JSON(fiber.Map{
			"image_key": info.Key,
			"size":      info.Size,
		})
	})

	// Submit an extraction job for a previously uploaded image.
	app.Post("/jobs", func(c *fiber.Ctx) error {
		var req submitJobRequest
		if err := c.BodyParser(&req); err != nil {
			return writeError(c, fiber.StatusBadRequest, "INVALID_BODY", "invalid request body")
		}
		job, err := jobs.Submit(c.UserContext(), req.TenantID, req.ImageKey)
		if err != nil {
			switch {
			case errors.Is(err, service.ErrTenantRequired), errors.Is(err, service.ErrImageKeyRequired):
				return writeError(c, fiber.StatusBadRequest, "INVALID_BODY", err.Error())
			case errors.Is(err, service.ErrCapacityExceeded):
				return writeError(c, fiber.StatusTooManyRequests, "CAPACITY_EXCEEDED", "intake capacity exceeded, retry later")
			case errors.Is(err, service.ErrClosed):
				return writeError(c, fiber.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "service is shutting down")
			default:
				return writeError(c, fiber.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
			}
		}
		return c.Status(fiber.StatusAccepted).JSON(job)
	})

	// Get job state and, once decided, its extraction result.
	app.Get("/jobs/:id", func(c *fiber.Ctx) error {
		id := c.Params("id")
		if _, err := uuid.Parse(id); err != nil {
			return writeError(c, fiber.StatusBadRequest, "INVALID_ID", "invalid id format")
		}
		job, err := jobs.Get(c.UserContext(), id)
		if err != nil {
			if errors.Is(err, service.ErrNotFound) {
				return writeError(c, fiber.StatusNotFound, "NOT_FOUND", "job not found")
			}
			return writeError(c, fiber.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
		}
		return c.JSON(job)
	})

	// Apply a reviewer's corrected MRZ to a job awaiting manual review.
	app.Post("/jobs/:id/review", func(c *fiber.Ctx) error {
		id := c.Params("id")
		if _, err := uuid.Parse(id); err != nil {
			return writeError(c, fiber.StatusBadRequest, "INVALID_ID", "invalid id format")
		}
		var req reviewRequest
		if err := c.BodyParser(&req); err != nil {
			return writeError(c, fiber.StatusBadRequest, "INVALID_BODY", "invalid request body")
		}
		job, err := jobs.SubmitReview(c.UserContext(), id, req.MRZLine1, req.MRZLine2)
		if err != nil {
			switch {
			case errors.Is(err, service.ErrNotFound):
				return writeError(c, fiber.StatusNotFound, "NOT_FOUND", "job not found")
			case errors.Is(err, service.ErrInvalidMRZ):
				return writeError(c, fiber.StatusUnprocessableEntity, "INVALID_MRZ", "corrected mrz is structurally invalid")
			case errors.Is(err, service.ErrNotReviewable), errors.Is(err, service.ErrJobTerminal):
				return writeError(c, fiber.StatusConflict, "NOT_REVIEWABLE", "job is not awaiting manual review")
			default:
				return writeError(c, fiber.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
			}
		}
		return c.JSON(job)
	})

	// Asynchronous OCR completion callback. The payload is validated
	// against a schema before it reaches the attempt-recording path.
	app.Post("/webhooks/ocr/:engine", func(c *fiber.Ctx) error {
		engineName := c.Params("engine")

		var payload any
		if err := json.Unmarshal(c.Body(), &payload); err != nil {
			return writeError(c, fiber.StatusBadRequest, "INVALID_BODY", "invalid request body")
		}
		if err := webhookSchema.Validate(payload); err != nil {
			return writeError(c, fiber.StatusBadRequest, "SCHEMA_VIOLATION", "payload does not match webhook schema")
		}

		var req webhookRequest
		if err := json.Unmarshal(c.Body(), &req); err != nil {
			return writeError(c, fiber.StatusBadRequest, "INVALID_BODY", "invalid request body")
		}

		job, err := jobs.RecordAsyncResult(c.UserContext(), req.JobID, engineName, req.MRZLine1, req.MRZLine2, req.LatencyMS)
		if err != nil {
			switch {
			case errors.Is(err, service.ErrNotFound):
				return writeError(c, fiber.StatusNotFound, "NOT_FOUND", "job not found")
			case errors.Is(err, service.ErrJobTerminal):
				return writeError(c, fiber.StatusConflict, "JOB_TERMINAL", "job already reached a terminal state")
			default:
				return writeError(c, fiber.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
			}
		}
		return c.JSON(job)
	})
}
