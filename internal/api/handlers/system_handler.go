package handlers

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/eval-dashboard/backend/internal/labels"
	"github.com/eval-dashboard/backend/internal/storage/models"
	"github.com/eval-dashboard/backend/internal/storage/sqlite"
	"github.com/eval-dashboard/backend/pkg/logger"
	"github.com/eval-dashboard/backend/pkg/utils"
)

const recentRecords = 5

// StoreStatus reports on the store connection.
type StoreStatus interface {
	HealthCheck(ctx context.Context) bool
	Info(ctx context.Context) sqlite.ConnectionInfo
}

type RecentLister interface {
	Recent(ctx context.Context, n int) ([]models.Evaluation, error)
}

// LabelStore is the subset of *labels.Repository the label routes use.
type LabelStore interface {
	Visible(ctx context.Context) ([]models.FieldLabel, error)
	All(ctx context.Context) ([]models.FieldLabel, error)
	Upsert(ctx context.Context, label models.FieldLabel) error
	Delete(ctx context.Context, fieldKey string) error
}

type labelUpdate struct {
	DisplayName  string `json:"display_name" validate:"max=200"`
	IsVisible    *bool  `json:"is_visible" validate:"required"`
	DisplayOrder *int   `json:"display_order" validate:"required,min=0"`
}

type SystemHandler struct {
	status StoreStatus
	recent RecentLister
	labels LabelStore
	log    *zap.Logger
}

func NewSystemHandler(status StoreStatus, recent RecentLister, labels LabelStore) *SystemHandler {
	return &SystemHandler{
		status: status,
		recent: recent,
		labels: labels,
		log:    logger.Named("api"),
	}
}

func (h *SystemHandler) Health(c *fiber.Ctx) error {
	healthy := h.status.HealthCheck(c.UserContext())

	status := fiber.StatusOK
	state := "healthy"
	if !healthy {
		status = fiber.StatusServiceUnavailable
		state = "unhealthy"
	}

	return c.Status(status).JSON(fiber.Map{
		"success":  healthy,
		"status":   state,
		"database": healthy,
		"time":     time.Now().Unix(),
	})
}

// DBInfo is a debugging view of the connection and the newest records.
func (h *SystemHandler) DBInfo(c *fiber.Ctx) error {
	info := h.status.Info(c.UserContext())

	recent, err := h.recent.Recent(c.UserContext(), recentRecords)
	if err != nil {
		h.log.Error("Failed to load recent evaluations", zap.Error(err))
		return internalError(c, "Failed to load database info")
	}

	return c.JSON(fiber.Map{
		"success": true,
		"database_info": fiber.Map{
			"connection":     info,
			"recent_records": recent,
		},
	})
}

// FieldLabels lists the visible labels, or every label with ?all=true.
func (h *SystemHandler) FieldLabels(c *fiber.Ctx) error {
	list := h.labels.Visible
	if c.QueryBool("all") {
		list = h.labels.All
	}

	result, err := list(c.UserContext())
	if err != nil {
		h.log.Error("Failed to list field labels", zap.Error(err))
		return internalError(c, "Failed to list field labels")
	}
	return c.JSON(fiber.Map{"success": true, "labels": result})
}

// PutFieldLabel creates or replaces the label for :key.
func (h *SystemHandler) PutFieldLabel(c *fiber.Ctx) error {
	key := strings.TrimSpace(c.Params("key"))

	var req labelUpdate
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"message": "Invalid request body",
		})
	}
	if err := utils.ValidateStruct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"message": err.Error(),
		})
	}

	label := models.FieldLabel{
		FieldKey:     key,
		DisplayName:  strings.TrimSpace(req.DisplayName),
		IsVisible:    *req.IsVisible,
		DisplayOrder: *req.DisplayOrder,
	}
	if err := h.labels.Upsert(c.UserContext(), label); err != nil {
		h.log.Error("Failed to save field label", zap.String("field_key", key), zap.Error(err))
		return internalError(c, "Failed to save field label")
	}
	if label.DisplayName == "" {
		label.DisplayName = key
	}
	return c.JSON(fiber.Map{"success": true, "label": label})
}

func (h *SystemHandler) DeleteFieldLabel(c *fiber.Ctx) error {
	key := c.Params("key")

	err := h.labels.Delete(c.UserContext(), key)
	if errors.Is(err, labels.ErrNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"success": false,
			"message": "Field label not found",
		})
	}
	if err != nil {
		h.log.Error("Failed to delete field label", zap.String("field_key", key), zap.Error(err))
		return internalError(c, "Failed to delete field label")
	}
	return c.JSON(fiber.Map{"success": true})
}
