package handler

import (
	"context"
	"encoding/json"
	"log"

	"github.com/gofiber/contrib/websocket"

	"github.com/aura/api/internal/model"
	"github.com/aura/api/internal/service"
	ws "github.com/aura/api/internal/websocket"
)

// FeedHandler serves the WebSocket change feeds. Each connection is one
// mounted surface; it receives a snapshot and then every store change.
type FeedHandler struct {
	service *service.PodcastService
	hub     *ws.Hub
}

func NewFeedHandler(svc *service.PodcastService, hub *ws.Hub) *FeedHandler {
	return &FeedHandler{
		service: svc,
		hub:     hub,
	}
}

// User handles WS /ws/podcasts: all of the caller's podcasts
func (h *FeedHandler) User(c *websocket.Conn) {
	userID, _ := c.Locals("userId").(string)

	h.hub.HandleConnection(c, ws.UserTopic(userID), func() []byte {
		// Listing reconciles, so mounting a surface restarts any missing pollers.
		list := h.service.List(context.Background(), userID)
		return snapshot(list.Podcasts)
	})
}

// Job handles WS /ws/podcasts/:id: a single podcast
func (h *FeedHandler) Job(c *websocket.Conn) {
	userID, _ := c.Locals("userId").(string)
	jobID := c.Params("id")

	if _, err := h.service.Get(context.Background(), userID, jobID); err != nil {
		data, _ := json.Marshal(model.WSErrorMessage{
			Type:  model.WSMessageTypeError,
			JobID: jobID,
			Error: model.WSError{Code: "NOT_FOUND", Message: "Podcast not found"},
		})
		_ = c.WriteMessage(websocket.TextMessage, data)
		return
	}

	h.hub.HandleConnection(c, ws.JobTopic(jobID), func() []byte {
		job, err := h.service.Get(context.Background(), userID, jobID)
		if err != nil {
			return snapshot([]model.Job{})
		}
		return snapshot([]model.Job{job})
	})
}

func snapshot(podcasts []model.Job) []byte {
	data, err := json.Marshal(model.WSSnapshotMessage{
		Type:     model.WSMessageTypeSnapshot,
		Podcasts: podcasts,
	})
	if err != nil {
		log.Printf("[WS] failed to marshal snapshot: %v", err)
		return nil
	}
	return data
}
