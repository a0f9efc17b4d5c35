package handlers

import (
	"context"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/eval-dashboard/backend/internal/evaluation"
	"github.com/eval-dashboard/backend/internal/storage/models"
	"github.com/eval-dashboard/backend/pkg/logger"
)

// LiveStore is what the websocket channel needs from the repository.
type LiveStore interface {
	Save(ctx context.Context, resultKey string, payload map[string]any) (evaluation.SaveResult, error)
	StatsOverview(ctx context.Context) (models.StatsOverview, error)
}

type wsRequest struct {
	Type      string         `json:"type"`
	ResultKey string         `json:"result_key"`
	Payload   map[string]any `json:"payload"`
}

type WebSocketHandler struct {
	store LiveStore
	log   *zap.Logger
}

func NewWebSocketHandler(store LiveStore) *WebSocketHandler {
	return &WebSocketHandler{
		store: store,
		log:   logger.Named("websocket"),
	}
}

// Upgrade rejects plain HTTP requests to the websocket route.
func (h *WebSocketHandler) Upgrade(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		return c.Next()
	}
	return fiber.ErrUpgradeRequired
}

func (h *WebSocketHandler) HandleConnection(c *websocket.Conn) {
	h.log.Info("WebSocket connection established")

	defer func() {
		c.Close()
		h.log.Info("WebSocket connection closed")
	}()

	for {
		var msg wsRequest
		if err := c.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.log.Error("Failed to read WebSocket message", zap.Error(err))
			}
			break
		}

		var err error
		switch msg.Type {
		case "save":
			err = h.handleSave(c, msg)
		case "stats":
			err = h.handleStats(c)
		default:
			err = h.sendError(c, "unsupported message type "+msg.Type)
		}
		if err != nil {
			h.log.Error("Failed to write WebSocket message", zap.Error(err))
			break
		}
	}
}

func (h *WebSocketHandler) handleSave(c *websocket.Conn, msg wsRequest) error {
	if len(msg.Payload) == 0 {
		return h.sendError(c, "payload must be a non-empty object")
	}

	key := strings.TrimSpace(msg.ResultKey)
	if key == "" {
		key = generatedKey()
	}

	res, err := h.store.Save(context.Background(), key, msg.Payload)
	if err != nil {
		h.log.Error("Failed to save evaluation over WebSocket", zap.String("result_key", key), zap.Error(err))
		return h.sendError(c, "failed to save evaluation "+key)
	}

	return c.WriteJSON(map[string]any{
		"type":       "saved",
		"result_key": key,
		"id":         res.ID,
		"warnings":   res.Warnings,
	})
}

func (h *WebSocketHandler) handleStats(c *websocket.Conn) error {
	snap, err := h.store.StatsOverview(context.Background())
	if err != nil {
		h.log.Error("Failed to get stats over WebSocket", zap.Error(err))
		return h.sendError(c, "failed to get stats")
	}

	return c.WriteJSON(map[string]any{
		"type":  "stats",
		"stats": snap,
	})
}

func (h *WebSocketHandler) sendError(c *websocket.Conn, errorMsg string) error {
	return c.WriteJSON(map[string]any{
		"type":  "error",
		"error": errorMsg,
	})
}
