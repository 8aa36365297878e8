package handler

import (
	"errors"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/snapsell/api/internal/admission"
	"github.com/snapsell/api/internal/ledger"
	"github.com/snapsell/api/internal/middleware"
	"github.com/snapsell/api/internal/model"
	"github.com/snapsell/api/internal/service"
	"github.com/snapsell/api/pkg/response"
)

type PhotoHandler struct {
	service   *service.PhotoService
	validator *validator.Validate
}

func NewPhotoHandler(svc *service.PhotoService, v *validator.Validate) *PhotoHandler {
	return &PhotoHandler{
		service:   svc,
		validator: v,
	}
}

// Process handles POST /api/photo/process
// @Summary      Process photo
// @Description  Run a photo operation and wait for the result
// @Tags         Photo
// @Accept       json
// @Produce      json
// @Param        request body model.ProcessRequest true "Process request"
// @Success      200 {object} model.ProcessResponse
// @Failure      400 {object} response.ErrorResponse
// @Failure      401 {object} response.ErrorResponse
// @Failure      403 {object} response.ErrorResponse
// @Failure      429 {object} response.ErrorResponse
// @Failure      500 {object} response.ErrorResponse
// @Failure      504 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/photo/process [post]
func (h *PhotoHandler) Process(c *fiber.Ctx) error {
	req, err := h.parse(c)
	if err != nil {
		return err
	}
	if req == nil {
		return nil
	}

	result, err := h.service.Process(c.UserContext(), middleware.GetUserID(c), req)
	if err != nil {
		return h.pipelineError(c, err)
	}

	return response.OK(c, result)
}

// Submit handles POST /api/photo/jobs
// @Summary      Submit photo job
// @Description  Queue a photo operation; follow it over /ws/jobs/{jobId} or poll the job
// @Tags         Photo
// @Accept       json
// @Produce      json
// @Param        request body model.ProcessRequest true "Process request"
// @Success      202 {object} model.SubmitResponse
// @Failure      400 {object} response.ErrorResponse
// @Failure      401 {object} response.ErrorResponse
// @Failure      403 {object} response.ErrorResponse
// @Failure      429 {object} response.ErrorResponse
// @Failure      500 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/photo/jobs [post]
func (h *PhotoHandler) Submit(c *fiber.Ctx) error {
	req, err := h.parse(c)
	if err != nil {
		return err
	}
	if req == nil {
		return nil
	}

	result, err := h.service.Submit(c.UserContext(), middleware.GetUserID(c), req)
	if err != nil {
		return h.pipelineError(c, err)
	}

	return response.Accepted(c, result)
}

// Job handles GET /api/photo/jobs/:jobId
// @Summary      Get photo job
// @Tags         Photo
// @Produce      json
// @Param        jobId path string true "Job ID"
// @Success      200 {object} model.Job
// @Failure      401 {object} response.ErrorResponse
// @Failure      404 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/photo/jobs/{jobId} [get]
func (h *PhotoHandler) Job(c *fiber.Ctx) error {
	jobID := c.Params("jobId")
	if jobID == "" {
		return response.ValidationError(c, "Job ID is required", nil)
	}

	job, err := h.service.GetJob(c.UserContext(), middleware.GetUserID(c), jobID)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			return response.NotFound(c, "Job not found")
		}
		return response.ServiceError(c, "Failed to load job")
	}

	return response.OK(c, job)
}

// Jobs handles GET /api/photo/jobs
// @Summary      List photo jobs
// @Tags         Photo
// @Produce      json
// @Param        limit query int false "Page size (max 100)"
// @Success      200 {object} model.JobListResponse
// @Failure      401 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/photo/jobs [get]
func (h *PhotoHandler) Jobs(c *fiber.Ctx) error {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return response.ValidationError(c, "limit must be a positive integer", nil)
		}
		limit = n
	}

	result, err := h.service.ListJobs(c.UserContext(), middleware.GetUserID(c), limit)
	if err != nil {
		return response.ServiceError(c, "Failed to list jobs")
	}

	return response.OK(c, result)
}

// Operations handles GET /api/photo/operations
func (h *PhotoHandler) Operations(c *fiber.Ctx) error {
	return response.OK(c, h.service.Operations())
}

// parse reads and validates the body. A nil request with a nil error means
// the error response has already been written.
func (h *PhotoHandler) parse(c *fiber.Ctx) (*model.ProcessRequest, error) {
	var req model.ProcessRequest
	if err := c.BodyParser(&req); err != nil {
		return nil, response.ValidationError(c, "Invalid request body", nil)
	}
	if err := h.validator.Struct(&req); err != nil {
		return nil, response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}
	return &req, nil
}

func (h *PhotoHandler) pipelineError(c *fiber.Ctx, err error) error {
	var denial *admission.Denial
	var failed *service.JobFailedError

	switch {
	case errors.Is(err, service.ErrInvalidRequest):
		return response.ValidationError(c, err.Error(), nil)

	case errors.As(err, &denial):
		details := fiber.Map{
			"operation":    denial.Operation,
			"requiredTier": denial.RequiredTier,
			"currentTier":  denial.CurrentTier,
			"cost":         denial.Cost,
		}
		if denial.Reason == admission.ReasonCredits {
			details["remaining"] = denial.Remaining
			return response.UpgradeRequired(c, response.CodeCreditsExceeded, denial.Error(), details)
		}
		return response.UpgradeRequired(c, response.CodeUpgradeRequired, denial.Error(), details)

	case errors.As(err, &failed):
		details := fiber.Map{
			"jobId":   failed.JobID,
			"kind":    failed.Kind,
			"charged": false,
		}
		switch failed.Kind {
		case model.FailureTimeout:
			return response.ProcessingTimeout(c, "Processing timed out. You were not charged.", details)
		case model.FailureInsufficientCredit:
			return response.UpgradeRequired(c, response.CodeCreditsExceeded, "Monthly credit limit reached. You were not charged.", details)
		}
		return response.ProcessingFailed(c, "Processing failed. You were not charged.", details)
	}

	return response.ServiceError(c, "Failed to process request")
}
