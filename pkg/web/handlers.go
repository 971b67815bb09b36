// Package web exposes the journey engine's REST surface: enrollment
// listing and intervention, journey publishing, and the messaging
// delivery webhook.
package web

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/voyagerhq/voyager/pkg/models"
	"github.com/voyagerhq/voyager/pkg/persistence"
	"github.com/voyagerhq/voyager/pkg/ratelimit"
	"github.com/voyagerhq/voyager/pkg/services"
)

type APIHandlers struct {
	enrollments *services.Enrollment
	publishing  *services.Publishing
	limiter     ratelimit.Limiter
	validator   *validator.Validate
	logger      *slog.Logger
}

func NewAPIHandlers(
	enrollments *services.Enrollment,
	publishing *services.Publishing,
	limiter ratelimit.Limiter,
	validate *validator.Validate,
	logger *slog.Logger,
) *APIHandlers {
	return &APIHandlers{
		enrollments: enrollments,
		publishing:  publishing,
		limiter:     limiter,
		validator:   validate,
		logger:      logger.With("module", "web"),
	}
}

// Register wires all routes onto the app.
func (h *APIHandlers) Register(app *fiber.App) {
	app.Get("/health", h.HealthCheck)

	app.Get("/journeys/:id/enrollments", h.GetEnrollments)
	app.Post("/journeys/:id/publish", h.PublishJourney)
	app.Post("/journeys/:id/pause", h.PauseJourney)

	app.Get("/enrollments/:id/activity", h.GetActivity)
	app.Post("/enrollments/:id/skip-node", h.SkipNode)
	app.Post("/enrollments/:id/cancel", h.CancelEnrollment)

	app.Post("/webhooks/messaging", h.MessagingWebhook)
}

func (h *APIHandlers) GetEnrollments(c fiber.Ctx) error {
	req := services.ListEnrollmentsRequest{JourneyID: c.Params("id")}

	if limitStr := c.Query("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil {
			return badRequest(c, "Invalid limit parameter")
		}

		req.Limit = limit
	}

	if offsetStr := c.Query("offset"); offsetStr != "" {
		offset, err := strconv.Atoi(offsetStr)
		if err != nil {
			return badRequest(c, "Invalid offset parameter")
		}

		req.Offset = offset
	}

	if statusStr := c.Query("status"); statusStr != "" {
		status := models.EnrollmentStatus(statusStr)
		req.Status = &status
	}

	result, err := h.enrollments.ListEnrollments(c.Context(), req)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{
		"enrollments":   result.Enrollments,
		"total_count":   result.TotalCount,
		"has_next_page": result.HasNextPage,
		"pagination": fiber.Map{
			"limit":  req.Limit,
			"offset": req.Offset,
		},
	})
}

func (h *APIHandlers) GetActivity(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Enrollment ID is required")
	}

	opts := persistence.ActivityListOptions{}

	if limitStr := c.Query("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil {
			return badRequest(c, "Invalid limit parameter")
		}

		opts.Limit = limit
	}

	if offsetStr := c.Query("offset"); offsetStr != "" {
		offset, err := strconv.Atoi(offsetStr)
		if err != nil {
			return badRequest(c, "Invalid offset parameter")
		}

		opts.Offset = offset
	}

	if eventTypeStr := c.Query("event_type"); eventTypeStr != "" {
		eventType := models.ActivityEventType(eventTypeStr)
		opts.EventType = &eventType
	}

	records, err := h.enrollments.ActivityFeed(c.Context(), id, opts)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"activity": records})
}

func (h *APIHandlers) SkipNode(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Enrollment ID is required")
	}

	var req SkipNodeRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	enrollment, err := h.enrollments.SkipNode(c.Context(), id, req.Operator)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(enrollment)
}

func (h *APIHandlers) CancelEnrollment(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Enrollment ID is required")
	}

	var req CancelEnrollmentRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	enrollment, err := h.enrollments.Cancel(c.Context(), id, req.Operator, req.Reason)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(enrollment)
}

func (h *APIHandlers) PublishJourney(c fiber.Ctx) error {
	var req PublishJourneyRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	journey := &models.Journey{
		ID:          c.Params("id"),
		Name:        req.Name,
		Description: req.Description,
		Status:      models.JourneyStatusDraft,
		Nodes:       req.Nodes,
		Edges:       req.Edges,
		Metadata:    req.Metadata,
		Owner:       req.Owner,
	}

	published, err := h.publishing.Publish(c.Context(), journey)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(published)
}

func (h *APIHandlers) PauseJourney(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Journey ID is required")
	}

	journey, err := h.publishing.Pause(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(journey)
}

// MessagingWebhook applies a delivery outcome. Unknown message ids return
// 200 so the provider does not retry forever; the miss is logged instead.
func (h *APIHandlers) MessagingWebhook(c fiber.Ctx) error {
	var req MessagingWebhookRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	err := h.enrollments.ApplyOutcome(c.Context(), req.MessageID, models.Outcome(req.Outcome), req.ButtonID)
	if err != nil {
		if services.IsUnknownMessage(err) {
			h.logger.WarnContext(c.Context(), "webhook for unknown message",
				"message_id", req.MessageID, "outcome", req.Outcome)

			return c.JSON(fiber.Map{"status": "ignored"})
		}

		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"status": "applied"})
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	repositoryCheck, repOk := h.enrollments.HealthCheck(c.Context())

	limiterCheck, limOk := "Rate limiter is healthy", true
	if h.limiter != nil {
		if err := h.limiter.HealthCheck(c.Context()); err != nil {
			limiterCheck, limOk = "Rate limiter is unhealthy: "+err.Error(), false
		}
	}

	status := "unhealthy"
	message := "Voyager API is unhealthy"
	httpStatus := http.StatusInternalServerError

	if repOk && limOk {
		status = "healthy"
		message = "Voyager API is healthy"
		httpStatus = http.StatusOK
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":  status,
		"message": message,
		"checkers": fiber.Map{
			"repository": repositoryCheck,
			"limiter":    limiterCheck,
		},
		"timestamp": time.Now().UTC(),
	})
}
