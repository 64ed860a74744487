package handler

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/draftforge/api/internal/middleware"
	"github.com/draftforge/api/internal/model"
	"github.com/draftforge/api/internal/service"
	"github.com/draftforge/api/internal/store"
	"github.com/draftforge/api/pkg/response"
)

type GenerationHandler struct {
	service   *service.GenerationService
	validator *validator.Validate
}

func NewGenerationHandler(svc *service.GenerationService, v *validator.Validate) *GenerationHandler {
	return &GenerationHandler{
		service:   svc,
		validator: v,
	}
}

// Start handles POST /api/generate/start
// @Summary      Start a generation job
// @Description  Create a generation job from a prompt and enqueue the pipeline
// @Tags         Generate
// @Accept       json
// @Produce      json
// @Param        request body model.GenerateStartRequest true "Generation request"
// @Success      202 {object} model.GenerateStartResponse
// @Failure      400 {object} response.ErrorResponse
// @Failure      401 {object} response.ErrorResponse
// @Failure      429 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/generate/start [post]
func (h *GenerationHandler) Start(c *fiber.Ctx) error {
	var req model.GenerateStartRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	result, err := h.service.StartGeneration(c.Context(), middleware.GetUserID(c), &req)
	if err != nil {
		return response.ServiceError(c, err.Error())
	}

	return response.Accepted(c, result)
}

// Status handles GET /api/generate/status/:jobId
// @Summary      Get job status
// @Description  Get the current status and progress of a generation job
// @Tags         Generate
// @Produce      json
// @Param        jobId path string true "Job ID"
// @Success      200 {object} model.GenerateStatusResponse
// @Failure      401 {object} response.ErrorResponse
// @Failure      404 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/generate/status/{jobId} [get]
func (h *GenerationHandler) Status(c *fiber.Ctx) error {
	jobID := c.Params("jobId")
	if jobID == "" {
		return response.ValidationError(c, "Job ID is required", nil)
	}

	result, err := h.service.GetStatus(c.Context(), middleware.GetUserID(c), jobID)
	if err != nil {
		return jobError(c, err)
	}

	return response.OK(c, result)
}

// Result handles GET /api/generate/result/:jobId
// @Summary      Get job result
// @Description  Get the final document of a completed generation job
// @Tags         Generate
// @Produce      json
// @Param        jobId path string true "Job ID"
// @Success      200 {object} model.GenerateResultResponse
// @Failure      401 {object} response.ErrorResponse
// @Failure      404 {object} response.ErrorResponse
// @Failure      409 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/generate/result/{jobId} [get]
func (h *GenerationHandler) Result(c *fiber.Ctx) error {
	jobID := c.Params("jobId")
	if jobID == "" {
		return response.ValidationError(c, "Job ID is required", nil)
	}

	result, err := h.service.GetResult(c.Context(), middleware.GetUserID(c), jobID)
	if err != nil {
		return jobError(c, err)
	}

	return response.OK(c, result)
}

// History handles GET /api/generate/history
// @Summary      List finished artifacts
// @Description  List the caller's finished artifacts, newest first
// @Tags         Generate
// @Produce      json
// @Success      200 {object} map[string]interface{}
// @Failure      401 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/generate/history [get]
func (h *GenerationHandler) History(c *fiber.Ctx) error {
	records, err := h.service.ListArtifacts(c.Context(), middleware.GetUserID(c))
	if err != nil {
		return response.ServiceError(c, err.Error())
	}

	return response.OK(c, fiber.Map{"artifacts": records})
}

// Delete handles DELETE /api/generate/:jobId
// @Summary      Delete an artifact
// @Description  Delete a finished artifact and its catalog record
// @Tags         Generate
// @Produce      json
// @Param        jobId path string true "Job ID"
// @Success      200 {object} map[string]interface{}
// @Failure      401 {object} response.ErrorResponse
// @Failure      404 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/generate/{jobId} [delete]
func (h *GenerationHandler) Delete(c *fiber.Ctx) error {
	jobID := c.Params("jobId")
	if jobID == "" {
		return response.ValidationError(c, "Job ID is required", nil)
	}

	if err := h.service.DeleteArtifact(c.Context(), middleware.GetUserID(c), jobID); err != nil {
		return jobError(c, err)
	}

	return response.OK(c, fiber.Map{"deleted": true})
}

func jobError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, store.ErrJobNotFound), errors.Is(err, store.ErrForbidden):
		// Not revealing whether a foreign job exists.
		return response.NotFound(c, "Job not found")
	case errors.Is(err, service.ErrJobNotReady):
		return response.JobNotReady(c)
	case errors.Is(err, service.ErrJobFailed):
		return response.JobFailed(c, err.Error())
	default:
		return response.ServiceError(c, err.Error())
	}
}

func formatValidationErrors(err error) []map[string]string {
	var details []map[string]string

	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		for _, fe := range verrs {
			details = append(details, map[string]string{
				"field": fe.Field(),
				"error": fmt.Sprintf("failed '%s' validation", fe.Tag()),
			})
		}
	}
	return details
}
