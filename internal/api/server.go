package api

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/eval-dashboard/backend/internal/api/handlers"
	"github.com/eval-dashboard/backend/internal/evaluation"
	"github.com/eval-dashboard/backend/internal/metrics"
	"github.com/eval-dashboard/backend/internal/middleware/ratelimit"
	"github.com/eval-dashboard/backend/internal/middleware/requestlog"
	"github.com/eval-dashboard/backend/internal/middleware/security"
	"github.com/eval-dashboard/backend/internal/middleware/validation"
	"github.com/eval-dashboard/backend/pkg/config"
	"github.com/eval-dashboard/backend/pkg/logger"
)

// Store is everything the routes need from the evaluation repository.
type Store interface {
	handlers.EvaluationStore
	handlers.RecentLister
}

var _ Store = (*evaluation.Repository)(nil)

type Deps struct {
	Config      *config.Config
	Evaluations Store
	Labels      handlers.LabelStore
	Status      handlers.StoreStatus
	// RateLimit is nil when rate limiting is disabled.
	RateLimit ratelimit.Store
	Logger    *zap.Logger
}

// NewServer builds the fiber app with every middleware and route mounted.
func NewServer(deps Deps) *fiber.App {
	cfg := deps.Config
	log := deps.Logger
	if log == nil {
		log = logger.Named("http")
	}

	app := fiber.New(fiber.Config{
		ReadTimeout:           time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout:          time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:             cfg.Server.BodyLimit,
		DisableStartupMessage: true,
	})

	app.Use(recover.New())
	app.Use(security.HeadersMiddleware(security.HeadersConfig{
		AllowedOrigins: splitList(cfg.CORS.Origins),
		IsDevelopment:  cfg.Server.IsDevelopment,
	}))
	app.Use(requestlog.New(log))
	app.Use(cors.New(cors.Config{
		AllowOrigins: cfg.CORS.Origins,
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-User-ID, X-Request-ID",
		AllowMethods: cfg.CORS.Methods,
	}))

	app.Get("/metrics", metrics.MetricsHandler())

	evaluations := handlers.NewEvaluationHandler(deps.Evaluations)
	system := handlers.NewSystemHandler(deps.Status, deps.Evaluations, deps.Labels)
	live := handlers.NewWebSocketHandler(deps.Evaluations)

	api := app.Group("/api")

	api.Get("/health", system.Health)

	if deps.RateLimit != nil {
		api.Use(ratelimit.New(ratelimit.Config{
			Store:       deps.RateLimit,
			MaxRequests: cfg.RateLimit.MaxRequests,
		}))
	}
	api.Use(validation.ContentType(validation.Config{}))

	saveBody := validation.SaveBody(validation.Config{})
	api.Post("/evaluations", saveBody, evaluations.SaveEvaluations)
	api.Post("/save-evaluation", saveBody, evaluations.SaveWorkflowEvaluations)
	api.Get("/evaluations", validation.ListParams(), evaluations.ListEvaluations)
	api.Get("/evaluations/:id", evaluations.GetEvaluation)

	api.Get("/stats/overview", evaluations.StatsOverview)
	api.Get("/stats", evaluations.Stats)

	api.Get("/products", evaluations.ListProducts)
	api.Get("/products/:partNumber", evaluations.GetProduct)
	api.Get("/mags", evaluations.ListMags)
	api.Get("/product-scores", evaluations.ProductScores)

	api.Get("/field-labels", system.FieldLabels)
	api.Put("/field-labels/:key", system.PutFieldLabel)
	api.Delete("/field-labels/:key", system.DeleteFieldLabel)
	api.Get("/dbinfo", system.DBInfo)

	app.Use("/ws", live.Upgrade)
	app.Get("/ws", websocket.New(live.HandleConnection))

	return app
}

func splitList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
