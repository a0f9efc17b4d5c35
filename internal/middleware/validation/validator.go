package validation

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/eval-dashboard/backend/pkg/logger"
	"github.com/eval-dashboard/backend/pkg/utils"
)

const (
	// BodyKey holds the decoded save body in fiber locals.
	BodyKey = "evaluation_body"
	// ListQueryKey holds the validated ListQuery in fiber locals.
	ListQueryKey = "list_query"
)

type Config struct {
	AllowedContentTypes []string
	Logger              *zap.Logger
}

// ContentType rejects POST and PUT requests whose body is not an allowed
// content type.
func ContentType(cfg Config) fiber.Handler {
	if len(cfg.AllowedContentTypes) == 0 {
		cfg.AllowedContentTypes = []string{fiber.MIMEApplicationJSON}
	}

	return func(c *fiber.Ctx) error {
		if c.Method() != fiber.MethodPost && c.Method() != fiber.MethodPut {
			return c.Next()
		}

		contentType := c.Get(fiber.HeaderContentType)
		for _, allowed := range cfg.AllowedContentTypes {
			if strings.HasPrefix(strings.ToLower(contentType), allowed) {
				return c.Next()
			}
		}

		return c.Status(fiber.StatusUnsupportedMediaType).JSON(fiber.Map{
			"success": false,
			"message": "Unsupported content type",
		})
	}
}

// SaveBody requires a non-empty JSON object body and stores the decoded map
// under BodyKey. Numbers are decoded as json.Number.
func SaveBody(cfg Config) fiber.Handler {
	if cfg.Logger == nil {
		cfg.Logger = logger.Named("validation")
	}

	return func(c *fiber.Ctx) error {
		dec := json.NewDecoder(bytes.NewReader(c.Body()))
		dec.UseNumber()

		var body map[string]any
		if err := dec.Decode(&body); err != nil {
			cfg.Logger.Debug("Rejected malformed save body", zap.String("ip", c.IP()), zap.Error(err))
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"success": false,
				"message": "Invalid JSON format",
			})
		}

		if len(body) == 0 {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"success": false,
				"message": "Request body must not be empty",
			})
		}

		c.Locals(BodyKey, body)
		return c.Next()
	}
}

// ListQuery is the query string of the evaluation listing.
type ListQuery struct {
	Page          *int   `query:"page" validate:"omitempty,min=1"`
	Limit         *int   `query:"limit" validate:"omitempty,min=1,max=1000"`
	ProductFamily string `query:"productFamily"`
	PartNumber    string `query:"partNumber"`
	Mag           string `query:"mag"`
	Category      string `query:"category"`
	Complexity    string `query:"complexity"`
	SortBy        string `query:"sortBy"`
	SortOrder     string `query:"sortOrder" validate:"omitempty,oneof=asc desc"`
}

// ListParams parses and validates the listing query and stores it under
// ListQueryKey.
func ListParams() fiber.Handler {
	return func(c *fiber.Ctx) error {
		var q ListQuery
		if err := c.QueryParser(&q); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"success": false,
				"message": "Invalid query parameters",
			})
		}
		q.SortOrder = strings.ToLower(strings.TrimSpace(q.SortOrder))

		if err := utils.ValidateStruct(q); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"success": false,
				"message": err.Error(),
			})
		}

		c.Locals(ListQueryKey, q)
		return c.Next()
	}
}
