package handlers

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/eval-dashboard/backend/internal/evaluation"
	"github.com/eval-dashboard/backend/internal/middleware/validation"
	"github.com/eval-dashboard/backend/internal/storage/models"
	"github.com/eval-dashboard/backend/pkg/logger"
	"github.com/eval-dashboard/backend/pkg/utils"
)

// EvaluationStore is the subset of *evaluation.Repository the handlers use.
type EvaluationStore interface {
	Save(ctx context.Context, resultKey string, payload map[string]any) (evaluation.SaveResult, error)
	List(ctx context.Context, f evaluation.Filter, p evaluation.Pagination, s evaluation.Sort) (models.Page, error)
	GetByID(ctx context.Context, id int64) (*models.Evaluation, error)
	StatsOverview(ctx context.Context) (models.StatsOverview, error)
	Products(ctx context.Context) ([]models.ProductAggregate, error)
	Product(ctx context.Context, partNumber string) (*models.ProductAggregate, error)
	Mags(ctx context.Context) ([]models.MagAggregate, error)
	ProductScores(ctx context.Context) ([]models.ProductScore, error)
}

type EvaluationHandler struct {
	store EvaluationStore
	log   *zap.Logger
}

func NewEvaluationHandler(store EvaluationStore) *EvaluationHandler {
	return &EvaluationHandler{
		store: store,
		log:   logger.Named("api"),
	}
}

type savedResult struct {
	Success  bool                           `json:"success"`
	ID       int64                          `json:"id,omitempty"`
	Warnings []evaluation.ValidationWarning `json:"warnings,omitempty"`
	Error    string                         `json:"error,omitempty"`
}

// SaveEvaluations stores every "result*" entry of the body under its key, or
// the whole body under a generated key when there is none.
func (h *EvaluationHandler) SaveEvaluations(c *fiber.Ctx) error {
	return h.saveBatch(c, bodyFrom(c))
}

// SaveWorkflowEvaluations is SaveEvaluations for workflow callers that wrap
// the batch in an "arg1" object.
func (h *EvaluationHandler) SaveWorkflowEvaluations(c *fiber.Ctx) error {
	return h.saveBatch(c, evaluation.UnwrapWorkflow(bodyFrom(c)))
}

func (h *EvaluationHandler) saveBatch(c *fiber.Ctx, body map[string]any) error {
	batch, err := evaluation.SplitBatch(body, generatedKey())
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"message": err.Error(),
		})
	}

	results := make(map[string]savedResult, len(batch))
	for _, key := range batch.Keys() {
		res, err := h.store.Save(c.UserContext(), key, batch[key])
		if err != nil {
			results[key] = savedResult{Error: err.Error()}
			status := fiber.StatusInternalServerError
			if errors.Is(err, evaluation.ErrEmptyResultKey) {
				status = fiber.StatusBadRequest
			}
			return c.Status(status).JSON(fiber.Map{
				"success": false,
				"message": "Failed to save evaluation " + key,
				"results": results,
			})
		}
		results[key] = savedResult{Success: true, ID: res.ID, Warnings: res.Warnings}
	}

	return c.JSON(fiber.Map{
		"success": true,
		"count":   len(results),
		"results": results,
	})
}

func generatedKey() string {
	return evaluation.ResultKeyPrefix + "-" + uuid.NewString()
}

func bodyFrom(c *fiber.Ctx) map[string]any {
	if body, ok := c.Locals(validation.BodyKey).(map[string]any); ok {
		return body
	}
	return map[string]any{}
}

func (h *EvaluationHandler) ListEvaluations(c *fiber.Ctx) error {
	q, _ := c.Locals(validation.ListQueryKey).(validation.ListQuery)

	var p evaluation.Pagination
	if q.Page != nil {
		p.Page = *q.Page
	}
	if q.Limit != nil {
		p.Limit = *q.Limit
	}

	page, err := h.store.List(c.UserContext(),
		evaluation.Filter{
			ProductFamily:    q.ProductFamily,
			PartNumber:       q.PartNumber,
			Mag:              q.Mag,
			QuestionCategory: q.Category,
			Complexity:       q.Complexity,
		},
		p,
		evaluation.Sort{Field: q.SortBy, Order: q.SortOrder},
	)
	if err != nil {
		h.log.Error("Failed to list evaluations", zap.Error(err))
		return internalError(c, "Failed to list evaluations")
	}

	return c.JSON(fiber.Map{
		"success":    true,
		"total":      page.Total,
		"page":       page.Page,
		"limit":      page.Limit,
		"totalPages": page.TotalPages,
		"data":       page.Data,
	})
}

func (h *EvaluationHandler) GetEvaluation(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil || id < 1 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"message": "id must be a positive integer",
		})
	}

	e, err := h.store.GetByID(c.UserContext(), int64(id))
	if errors.Is(err, evaluation.ErrNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"success": false,
			"message": "Evaluation not found",
		})
	}
	if err != nil {
		h.log.Error("Failed to get evaluation", zap.Int("id", id), zap.Error(err))
		return internalError(c, "Failed to get evaluation")
	}

	return c.JSON(fiber.Map{
		"success":    true,
		"evaluation": e,
	})
}

// StatsOverview serves the cached snapshot with an ETag so dashboards can
// poll cheaply.
func (h *EvaluationHandler) StatsOverview(c *fiber.Ctx) error {
	snap, err := h.store.StatsOverview(c.UserContext())
	if err != nil {
		h.log.Error("Failed to get stats overview", zap.Error(err))
		return internalError(c, "Failed to get stats overview")
	}

	body, err := json.Marshal(fiber.Map{"success": true, "stats": snap})
	if err != nil {
		return internalError(c, "Failed to encode stats overview")
	}

	etag := utils.ETag(body)
	c.Set(fiber.HeaderETag, etag)
	if c.Get(fiber.HeaderIfNoneMatch) == etag {
		return c.SendStatus(fiber.StatusNotModified)
	}

	c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	return c.Send(body)
}

// Stats is the compact overview consumed by the dashboard header.
func (h *EvaluationHandler) Stats(c *fiber.Ctx) error {
	snap, err := h.store.StatsOverview(c.UserContext())
	if err != nil {
		h.log.Error("Failed to get stats", zap.Error(err))
		return internalError(c, "Failed to get stats")
	}

	return c.JSON(fiber.Map{
		"success": true,
		"stats": fiber.Map{
			"count":              snap.Count,
			"overall_average":    snap.OverallAverage,
			"dimension_averages": snap.DimensionAverages,
			"last_updated":       snap.LastUpdated,
			"is_empty":           snap.IsEmpty,
		},
	})
}

func (h *EvaluationHandler) ListProducts(c *fiber.Ctx) error {
	products, err := h.store.Products(c.UserContext())
	if err != nil {
		h.log.Error("Failed to list products", zap.Error(err))
		return internalError(c, "Failed to list products")
	}
	return c.JSON(fiber.Map{"success": true, "products": products})
}

func (h *EvaluationHandler) GetProduct(c *fiber.Ctx) error {
	partNumber := c.Params("partNumber")

	p, err := h.store.Product(c.UserContext(), partNumber)
	if errors.Is(err, evaluation.ErrNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"success": false,
			"message": "Product not found",
		})
	}
	if err != nil {
		h.log.Error("Failed to get product", zap.String("part_number", partNumber), zap.Error(err))
		return internalError(c, "Failed to get product")
	}
	return c.JSON(fiber.Map{"success": true, "product": p})
}

// ProductScores serves the per-product dimension rollup.
func (h *EvaluationHandler) ProductScores(c *fiber.Ctx) error {
	scores, err := h.store.ProductScores(c.UserContext())
	if err != nil {
		h.log.Error("Failed to compute product scores", zap.Error(err))
		return internalError(c, "Failed to compute product scores")
	}
	return c.JSON(fiber.Map{"success": true, "products": scores})
}

func (h *EvaluationHandler) ListMags(c *fiber.Ctx) error {
	mags, err := h.store.Mags(c.UserContext())
	if err != nil {
		h.log.Error("Failed to list mags", zap.Error(err))
		return internalError(c, "Failed to list mags")
	}
	return c.JSON(fiber.Map{"success": true, "mags": mags})
}

func internalError(c *fiber.Ctx, message string) error {
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
		"success": false,
		"message": message,
	})
}
