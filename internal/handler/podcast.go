package handler

import (
	"errors"
	"log"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/aura/api/internal/middleware"
	"github.com/aura/api/internal/model"
	"github.com/aura/api/internal/poller"
	"github.com/aura/api/internal/service"
	"github.com/aura/api/pkg/response"
)

type PodcastHandler struct {
	service   *service.PodcastService
	validator *validator.Validate
}

func NewPodcastHandler(svc *service.PodcastService, v *validator.Validate) *PodcastHandler {
	return &PodcastHandler{
		service:   svc,
		validator: v,
	}
}

// Submit handles POST /api/podcasts
// @Summary      Generate podcast
// @Description  Submit a personalized briefing request and start tracking the returned job
// @Tags         Podcasts
// @Accept       json
// @Produce      json
// @Param        request body model.PodcastGenerateRequest true "Generation request"
// @Success      202 {object} model.PodcastSubmitResponse
// @Failure      400 {object} response.ErrorResponse
// @Failure      401 {object} response.ErrorResponse
// @Failure      429 {object} response.ErrorResponse
// @Failure      502 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/podcasts [post]
func (h *PodcastHandler) Submit(c *fiber.Ctx) error {
	var req model.PodcastGenerateRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return response.ValidationError(c, "Invalid request body", nil)
		}
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	// The briefing addresses the listener by their account name unless one was given.
	if req.Preferences.Name == "" {
		req.Preferences.Name = middleware.GetUserName(c)
	}

	result, err := h.service.Submit(c.UserContext(), middleware.GetUserID(c), &req)
	if err != nil {
		return writeError(c, err)
	}
	log.Printf("[Podcast] job %s submitted by %s <%s>", result.JobID, middleware.GetUserID(c), middleware.GetUserEmail(c))

	return response.Accepted(c, result)
}

// List handles GET /api/podcasts
// @Summary      List podcasts
// @Description  List the caller's podcasts, newest first
// @Tags         Podcasts
// @Produce      json
// @Success      200 {object} model.PodcastListResponse
// @Failure      401 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/podcasts [get]
func (h *PodcastHandler) List(c *fiber.Ctx) error {
	return response.OK(c, h.service.List(c.UserContext(), middleware.GetUserID(c)))
}

// Get handles GET /api/podcasts/:id
// @Summary      Get podcast
// @Tags         Podcasts
// @Produce      json
// @Param        id path string true "Job ID"
// @Success      200 {object} model.Job
// @Failure      401 {object} response.ErrorResponse
// @Failure      404 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/podcasts/{id} [get]
func (h *PodcastHandler) Get(c *fiber.Ctx) error {
	job, err := h.service.Get(c.UserContext(), middleware.GetUserID(c), c.Params("id"))
	if err != nil {
		return writeError(c, err)
	}
	return response.OK(c, job)
}

// Refresh handles POST /api/podcasts/:id/refresh
// @Summary      Refresh podcast status
// @Description  Run one immediate status check against the generation service
// @Tags         Podcasts
// @Produce      json
// @Param        id path string true "Job ID"
// @Success      200 {object} model.Job
// @Failure      401 {object} response.ErrorResponse
// @Failure      404 {object} response.ErrorResponse
// @Failure      502 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/podcasts/{id}/refresh [post]
func (h *PodcastHandler) Refresh(c *fiber.Ctx) error {
	job, err := h.service.Refresh(c.UserContext(), middleware.GetUserID(c), c.Params("id"))
	if err != nil {
		return writeError(c, err)
	}
	return response.OK(c, job)
}

// Content handles GET /api/podcasts/:id/content
// @Summary      Get podcast content
// @Description  Topics, duration and questions of a completed podcast. With at, only questions within 10 seconds of that position.
// @Tags         Podcasts
// @Produce      json
// @Param        id path string true "Job ID"
// @Param        at query number false "Playback position in seconds"
// @Success      200 {object} model.PodcastContentResponse
// @Failure      400 {object} response.ErrorResponse
// @Failure      401 {object} response.ErrorResponse
// @Failure      404 {object} response.ErrorResponse
// @Failure      409 {object} response.ErrorResponse
// @Failure      502 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/podcasts/{id}/content [get]
func (h *PodcastHandler) Content(c *fiber.Ctx) error {
	var at *float64
	if raw := c.Query("at"); raw != "" {
		pos, err := strconv.ParseFloat(raw, 64)
		if err != nil || pos < 0 {
			return response.ValidationError(c, "at must be a non-negative number of seconds", nil)
		}
		at = &pos
	}

	result, err := h.service.Content(c.UserContext(), middleware.GetUserID(c), c.Params("id"), at)
	if err != nil {
		return writeError(c, err)
	}
	return response.OK(c, result)
}

// Audio handles GET /api/podcasts/:id/audio
// @Summary      Get podcast audio
// @Description  Redirects to mirrored audio when object storage is configured, otherwise streams it
// @Tags         Podcasts
// @Produce      audio/mpeg
// @Param        id path string true "Job ID"
// @Success      200
// @Success      302
// @Failure      401 {object} response.ErrorResponse
// @Failure      404 {object} response.ErrorResponse
// @Failure      409 {object} response.ErrorResponse
// @Failure      502 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/podcasts/{id}/audio [get]
func (h *PodcastHandler) Audio(c *fiber.Ctx) error {
	result, err := h.service.Audio(c.UserContext(), middleware.GetUserID(c), c.Params("id"))
	if err != nil {
		return writeError(c, err)
	}

	if result.RedirectURL != "" {
		return c.Redirect(result.RedirectURL, fiber.StatusFound)
	}

	c.Set(fiber.HeaderContentType, result.Stream.ContentType)
	return c.SendStream(result.Stream.Body, int(result.Stream.ContentLength))
}

// Delete handles DELETE /api/podcasts/:id
// @Summary      Delete podcast
// @Description  Remove the podcast locally and request deletion on the generation service
// @Tags         Podcasts
// @Produce      json
// @Param        id path string true "Job ID"
// @Success      200 {object} model.PodcastDeleteResponse
// @Failure      401 {object} response.ErrorResponse
// @Failure      404 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/podcasts/{id} [delete]
func (h *PodcastHandler) Delete(c *fiber.Ctx) error {
	result, err := h.service.Remove(c.UserContext(), middleware.GetUserID(c), c.Params("id"))
	if err != nil {
		return writeError(c, err)
	}
	return response.OK(c, result)
}

// writeError maps service errors onto the response envelope
func writeError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, service.ErrPreconditionFailed):
		return response.Unauthorized(c, "User identity required")
	case errors.Is(err, service.ErrJobNotFound):
		return response.NotFound(c, "Podcast not found")
	case errors.Is(err, service.ErrJobNotCompleted):
		return response.JobNotCompleted(c, "Podcast is still generating")
	case errors.Is(err, service.ErrJobFailed):
		return response.JobFailed(c, "Podcast generation failed")
	case errors.Is(err, service.ErrGenerationRequestFailed):
		return response.GenerationFailed(c, err.Error())
	case errors.Is(err, service.ErrContentFetchFailed),
		errors.Is(err, service.ErrAudioUnavailable),
		errors.Is(err, poller.ErrTransientPoll):
		return response.UpstreamError(c, err.Error())
	}

	log.Printf("[Podcast] unexpected error: %v", err)
	return response.ServiceError(c, err.Error())
}

// formatValidationErrors formats validator errors for response
func formatValidationErrors(err error) interface{} {
	if validationErrors, ok := err.(validator.ValidationErrors); ok {
		errors := make(map[string]string)
		for _, e := range validationErrors {
			errors[e.Field()] = e.Tag()
		}
		return errors
	}
	return nil
}
