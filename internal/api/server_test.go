package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eval-dashboard/backend/internal/evaluation"
	"github.com/eval-dashboard/backend/internal/labels"
	"github.com/eval-dashboard/backend/internal/middleware/ratelimit"
	"github.com/eval-dashboard/backend/internal/storage/sqlite"
	"github.com/eval-dashboard/backend/pkg/config"
)

type testServer struct {
	app     *fiber.App
	manager *sqlite.Manager
	repo    *evaluation.Repository
}

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			ReadTimeout:   5,
			WriteTimeout:  5,
			BodyLimit:     1 << 20,
			IsDevelopment: true,
		},
		RateLimit: config.RateLimitConfig{MaxRequests: 100, WindowSeconds: 60, Backend: "memory"},
		CORS:      config.CORSConfig{Origins: "*", Methods: "GET,POST"},
	}
}

func newTestServer(t *testing.T, rl ratelimit.Store) *testServer {
	t.Helper()

	manager := sqlite.NewManager(sqlite.Options{MaxAttempts: 1, RetryDelay: time.Millisecond})
	db, err := manager.Initialize(context.Background(), filepath.Join(t.TempDir(), "evaluations.db"))
	require.NoError(t, err)
	t.Cleanup(func() { manager.Close() })

	labelRepo := labels.NewRepository(db)
	repo := evaluation.NewRepository(db, evaluation.WithLabelSeeder(labelRepo))

	cfg := testConfig()
	app := NewServer(Deps{
		Config:      cfg,
		Evaluations: repo,
		Labels:      labelRepo,
		Status:      manager,
		RateLimit:   rl,
	})

	return &testServer{app: app, manager: manager, repo: repo}
}

func (s *testServer) do(t *testing.T, method, path, body string, headers ...string) (*http.Response, map[string]any) {
	t.Helper()

	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if method == http.MethodPost || method == http.MethodPut {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	resp, err := s.app.Test(req, -1)
	require.NoError(t, err)

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var out map[string]any
	if len(raw) > 0 && strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	}
	return resp, out
}

func TestSaveEvaluations_Batch(t *testing.T) {
	s := newTestServer(t, nil)

	resp, out := s.do(t, "POST", "/api/evaluations", `{
		"result1": {"Part Number": "TJA1145A", "MAG": "M1", "quality": 80},
		"result2": {"Part Number": "S32K144", "MAG": "M2", "quality": 60},
		"meta": "ignored"
	}`)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, true, out["success"])
	assert.Equal(t, 2.0, out["count"])

	results := out["results"].(map[string]any)
	assert.Contains(t, results, "result1")
	assert.Contains(t, results, "result2")

	resp, out = s.do(t, "GET", "/api/evaluations?sortBy=quality&sortOrder=asc", "")
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, 2.0, out["total"])

	data := out["data"].([]any)
	first := data[0].(map[string]any)
	assert.Equal(t, "result2", first["result_key"])
	assert.Equal(t, "MCU", first["Product Family"])
}

func TestSaveEvaluations_WholeBodyGetsGeneratedKey(t *testing.T) {
	s := newTestServer(t, nil)

	resp, out := s.do(t, "POST", "/api/evaluations", `{"Part Number": "X1", "quality": 50}`)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	results := out["results"].(map[string]any)
	require.Len(t, results, 1)
	for key := range results {
		assert.True(t, strings.HasPrefix(key, "result-"), key)
	}
}

func TestSaveWorkflowEvaluations_UnwrapsArg1(t *testing.T) {
	s := newTestServer(t, nil)

	resp, out := s.do(t, "POST", "/api/save-evaluation", `{"arg1": {"result0": {"Part Number": "X1", "MAG": "M1"}}}`)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Contains(t, out["results"].(map[string]any), "result0")

	p, err := s.repo.Product(context.Background(), "X1")
	require.NoError(t, err)
	assert.Equal(t, 1, p.EvaluationCount)
}

func TestSaveEvaluations_Rejects(t *testing.T) {
	s := newTestServer(t, nil)

	tests := []struct {
		name string
		body string
		want int
	}{
		{"empty body", `{}`, fiber.StatusBadRequest},
		{"malformed", `{"result1":`, fiber.StatusBadRequest},
		{"non-object result", `{"result1": "oops"}`, fiber.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, out := s.do(t, "POST", "/api/evaluations", tt.body)
			assert.Equal(t, tt.want, resp.StatusCode)
			assert.Equal(t, false, out["success"])
		})
	}

	req := httptest.NewRequest("POST", "/api/evaluations", strings.NewReader(`{"a":1}`))
	req.Header.Set("Content-Type", "text/plain")
	resp, err := s.app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnsupportedMediaType, resp.StatusCode)
}

func TestListEvaluations_InvalidQuery(t *testing.T) {
	s := newTestServer(t, nil)

	resp, _ := s.do(t, "GET", "/api/evaluations?limit=5000", "")
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestGetEvaluation(t *testing.T) {
	s := newTestServer(t, nil)

	res, err := s.repo.Save(context.Background(), "r1", map[string]any{"Part Number": "X1", "quality": 70})
	require.NoError(t, err)

	resp, out := s.do(t, "GET", "/api/evaluations/"+strconv.FormatInt(res.ID, 10), "")
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	e := out["evaluation"].(map[string]any)
	assert.Equal(t, "r1", e["result_key"])
	assert.Equal(t, 70.0, e["quality"])

	resp, _ = s.do(t, "GET", "/api/evaluations/999", "")
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)

	resp, _ = s.do(t, "GET", "/api/evaluations/abc", "")
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestStatsOverview_ETag(t *testing.T) {
	s := newTestServer(t, nil)

	resp, out := s.do(t, "GET", "/api/stats/overview", "")
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	stats := out["stats"].(map[string]any)
	assert.Equal(t, true, stats["is_empty"])
	assert.Equal(t, -1.0, stats["overall_average"])

	etag := resp.Header.Get("ETag")
	require.NotEmpty(t, etag)

	resp, _ = s.do(t, "GET", "/api/stats/overview", "", "If-None-Match", etag)
	assert.Equal(t, fiber.StatusNotModified, resp.StatusCode)

	_, err := s.repo.Save(context.Background(), "r1", map[string]any{"quality": 90})
	require.NoError(t, err)

	resp, out = s.do(t, "GET", "/api/stats/overview", "", "If-None-Match", etag)
	require.Equal(t, fiber.StatusOK, resp.StatusCode, "a save changes the snapshot")
	assert.NotEqual(t, etag, resp.Header.Get("ETag"))
	assert.Equal(t, 1.0, out["stats"].(map[string]any)["count"])
}

func TestStats_Compact(t *testing.T) {
	s := newTestServer(t, nil)

	_, err := s.repo.Save(context.Background(), "r1", map[string]any{
		"hallucination_control": 80, "quality": 90, "professionalism": 100, "usefulness": 70,
	})
	require.NoError(t, err)

	resp, out := s.do(t, "GET", "/api/stats", "")
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	stats := out["stats"].(map[string]any)
	assert.Equal(t, 1.0, stats["count"])
	assert.Equal(t, 85.0, stats["overall_average"])
	assert.Equal(t, false, stats["is_empty"])
	assert.NotContains(t, stats, "mag_count")
}

func TestProductsAndMags(t *testing.T) {
	s := newTestServer(t, nil)

	_, err := s.repo.Save(context.Background(), "r1", map[string]any{"Part Number": "TJA1", "MAG": "M1", "average_score": 40})
	require.NoError(t, err)

	resp, out := s.do(t, "GET", "/api/products", "")
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Len(t, out["products"], 1)

	resp, out = s.do(t, "GET", "/api/products/TJA1", "")
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	product := out["product"].(map[string]any)
	assert.Equal(t, "IVN", product["product_family"])
	assert.Equal(t, 40.0, product["avg_score"])

	resp, _ = s.do(t, "GET", "/api/products/NOPE", "")
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)

	resp, out = s.do(t, "GET", "/api/mags", "")
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	mags := out["mags"].([]any)
	require.Len(t, mags, 1)
	assert.Equal(t, "M1", mags[0].(map[string]any)["mag"])
}

func TestProductScores(t *testing.T) {
	s := newTestServer(t, nil)

	resp, out := s.do(t, "GET", "/api/product-scores", "")
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Empty(t, out["products"])

	resp, _ = s.do(t, "POST", "/api/evaluations", `{
		"result1": {"Part Number": "TJA1", "hallucination_control": 80, "quality": 90, "professionalism": 100, "usefulness": 70},
		"result2": {"Part Number": "TJA1", "hallucination_control": 60, "quality": 70, "professionalism": 80, "usefulness": 50},
		"result3": {"quality": 40}
	}`)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	resp, out = s.do(t, "GET", "/api/product-scores", "")
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	products := out["products"].([]any)
	require.Len(t, products, 2)

	tja := products[0].(map[string]any)
	assert.Equal(t, "TJA1", tja["product_id"])
	assert.Equal(t, 2.0, tja["sample_count"])
	assert.Equal(t, map[string]any{
		"hallucination_control": 70.0,
		"quality":               80.0,
		"professionalism":       90.0,
		"usefulness":            60.0,
	}, tja["dimension_scores"])
	assert.Equal(t, 75.0, tja["average_score"])

	unknown := products[1].(map[string]any)
	assert.Equal(t, "unknown", unknown["product_id"])
	assert.Equal(t, 1.0, unknown["sample_count"])
}

func TestFieldLabels_Edit(t *testing.T) {
	s := newTestServer(t, nil)

	resp, _ := s.do(t, "POST", "/api/evaluations", `{"result1": {"Part Number": "X1", "Extra": "x"}}`)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	resp, out := s.do(t, "GET", "/api/field-labels?all=true", "")
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	all := len(out["labels"].([]any))

	resp, out = s.do(t, "PUT", "/api/field-labels/Extra", `{"display_name": "Extra notes", "is_visible": true, "display_order": 0}`)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, "Extra notes", out["label"].(map[string]any)["display_name"])

	_, out = s.do(t, "GET", "/api/field-labels", "")
	first := out["labels"].([]any)[0].(map[string]any)
	assert.Equal(t, "Extra", first["field_key"], "now visible and ordered first")

	resp, _ = s.do(t, "PUT", "/api/field-labels/Extra", `{"display_name": "x", "display_order": -1}`)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	resp, _ = s.do(t, "PUT", "/api/field-labels/Extra", `not json`)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	resp, _ = s.do(t, "DELETE", "/api/field-labels/Extra", "")
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	resp, _ = s.do(t, "DELETE", "/api/field-labels/Extra", "")
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)

	_, out = s.do(t, "GET", "/api/field-labels?all=true", "")
	assert.Len(t, out["labels"], all-1)
}

func TestFieldLabels_SeededBySave(t *testing.T) {
	s := newTestServer(t, nil)

	_, out := s.do(t, "GET", "/api/field-labels", "")
	assert.Empty(t, out["labels"])

	resp, _ := s.do(t, "POST", "/api/evaluations", `{"result1": {"Part Number": "X1", "Extra": "x"}}`)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	_, out = s.do(t, "GET", "/api/field-labels", "")
	labels := out["labels"].([]any)
	assert.NotEmpty(t, labels)
	for _, l := range labels {
		assert.NotEqual(t, "Extra", l.(map[string]any)["field_key"], "unknown keys are hidden")
	}
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, nil)

	resp, out := s.do(t, "GET", "/api/health", "")
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, "healthy", out["status"])

	require.NoError(t, s.manager.Close())

	resp, out = s.do(t, "GET", "/api/health", "")
	assert.Equal(t, fiber.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, "unhealthy", out["status"])
}

func TestDBInfo(t *testing.T) {
	s := newTestServer(t, nil)

	for _, key := range []string{"a", "b"} {
		_, err := s.repo.Save(context.Background(), key, map[string]any{"quality": 1})
		require.NoError(t, err)
	}

	resp, out := s.do(t, "GET", "/api/dbinfo", "")
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	info := out["database_info"].(map[string]any)
	conn := info["connection"].(map[string]any)
	assert.Equal(t, true, conn["is_connected"])
	assert.Len(t, info["recent_records"], 2)
}

func TestRateLimit(t *testing.T) {
	store := ratelimit.NewMemoryStore(ratelimit.MemoryConfig{MaxRequests: 2, Window: time.Hour})
	defer store.Stop()
	s := newTestServer(t, store)

	for i := 0; i < 2; i++ {
		resp, _ := s.do(t, "GET", "/api/mags", "")
		assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	}

	resp, out := s.do(t, "GET", "/api/mags", "")
	assert.Equal(t, fiber.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, false, out["success"])

	resp, _ = s.do(t, "GET", "/api/health", "")
	assert.Equal(t, fiber.StatusOK, resp.StatusCode, "health is not rate limited")
}

func TestSecurityHeadersAndMetrics(t *testing.T) {
	s := newTestServer(t, nil)

	resp, _ := s.do(t, "GET", "/metrics", "")
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, "DENY", resp.Header.Get("X-Frame-Options"))
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
}

func TestWebSocketRequiresUpgrade(t *testing.T) {
	s := newTestServer(t, nil)

	resp, _ := s.do(t, "GET", "/ws", "")
	assert.Equal(t, fiber.StatusUpgradeRequired, resp.StatusCode)
}
