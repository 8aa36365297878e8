package handler

import (
	"errors"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"

	"github.com/snapsell/api/internal/ledger"
	"github.com/snapsell/api/internal/middleware"
	"github.com/snapsell/api/internal/model"
	"github.com/snapsell/api/internal/service"
	ws "github.com/snapsell/api/internal/websocket"
	"github.com/snapsell/api/pkg/response"
)

// JobStreamHandler serves live job events over WebSocket
type JobStreamHandler struct {
	service *service.PhotoService
	hub     *ws.Hub
}

func NewJobStreamHandler(svc *service.PhotoService, hub *ws.Hub) *JobStreamHandler {
	return &JobStreamHandler{
		service: svc,
		hub:     hub,
	}
}

// Authorize loads the job for its owner before the upgrade happens.
func (h *JobStreamHandler) Authorize(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}

	job, err := h.service.GetJob(c.UserContext(), middleware.GetUserID(c), c.Params("jobId"))
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			return response.NotFound(c, "Job not found")
		}
		return response.ServiceError(c, "Failed to load job")
	}

	c.Locals("job", job)
	return c.Next()
}

// Stream handles GET /ws/jobs/:jobId
func (h *JobStreamHandler) Stream() fiber.Handler {
	return websocket.New(func(c *websocket.Conn) {
		job, ok := c.Locals("job").(*model.Job)
		if !ok {
			return
		}
		h.hub.HandleConnection(c, job)
	})
}
