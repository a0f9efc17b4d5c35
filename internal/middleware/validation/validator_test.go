package validation

import (
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContentType(t *testing.T) {
	app := fiber.New()
	app.Use(ContentType(Config{}))
	app.All("/x", func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusNoContent) })

	tests := []struct {
		name        string
		method      string
		contentType string
		want        int
	}{
		{"json post", "POST", "application/json", fiber.StatusNoContent},
		{"json with charset", "POST", "application/json; charset=utf-8", fiber.StatusNoContent},
		{"form post", "POST", "application/x-www-form-urlencoded", fiber.StatusUnsupportedMediaType},
		{"missing on post", "POST", "", fiber.StatusUnsupportedMediaType},
		{"get ignores content type", "GET", "text/plain", fiber.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/x", strings.NewReader("{}"))
			if tt.contentType != "" {
				req.Header.Set("Content-Type", tt.contentType)
			}
			resp, err := app.Test(req)
			require.NoError(t, err)
			assert.Equal(t, tt.want, resp.StatusCode)
		})
	}
}

func TestSaveBody(t *testing.T) {
	app := fiber.New()
	app.Post("/save", SaveBody(Config{}), func(c *fiber.Ctx) error {
		body := c.Locals(BodyKey).(map[string]any)
		return c.JSON(fiber.Map{"keys": len(body), "score": body["score"]})
	})

	tests := []struct {
		name string
		body string
		want int
	}{
		{"object", `{"result1": {"a": 1}, "score": 80}`, fiber.StatusOK},
		{"empty object", `{}`, fiber.StatusBadRequest},
		{"array", `[1, 2]`, fiber.StatusBadRequest},
		{"malformed", `{"a":`, fiber.StatusBadRequest},
		{"empty", ``, fiber.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/save", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", "application/json")
			resp, err := app.Test(req)
			require.NoError(t, err)
			assert.Equal(t, tt.want, resp.StatusCode)

			if tt.want == fiber.StatusOK {
				raw, err := io.ReadAll(resp.Body)
				require.NoError(t, err)
				var out map[string]any
				require.NoError(t, json.Unmarshal(raw, &out))
				assert.Equal(t, 2.0, out["keys"])
				assert.Equal(t, 80.0, out["score"])
			}
		})
	}
}

func TestListParams(t *testing.T) {
	app := fiber.New()
	app.Get("/list", ListParams(), func(c *fiber.Ctx) error {
		return c.JSON(c.Locals(ListQueryKey).(ListQuery))
	})

	tests := []struct {
		query string
		want  int
	}{
		{"", fiber.StatusOK},
		{"page=2&limit=50&sortBy=quality&sortOrder=ASC", fiber.StatusOK},
		{"productFamily=IVN&partNumber=TJA1&mag=M1&category=c&complexity=High", fiber.StatusOK},
		{"page=0", fiber.StatusBadRequest},
		{"limit=0", fiber.StatusBadRequest},
		{"limit=1001", fiber.StatusBadRequest},
		{"page=abc", fiber.StatusBadRequest},
		{"sortOrder=sideways", fiber.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			resp, err := app.Test(httptest.NewRequest("GET", "/list?"+tt.query, nil))
			require.NoError(t, err)
			assert.Equal(t, tt.want, resp.StatusCode)
		})
	}
}

func TestListParams_Values(t *testing.T) {
	var got ListQuery
	app := fiber.New()
	app.Get("/list", ListParams(), func(c *fiber.Ctx) error {
		got = c.Locals(ListQueryKey).(ListQuery)
		return nil
	})

	_, err := app.Test(httptest.NewRequest("GET", "/list?page=3&limit=15&productFamily=MCU&sortOrder=Desc", nil))
	require.NoError(t, err)

	require.NotNil(t, got.Page)
	require.NotNil(t, got.Limit)
	assert.Equal(t, 3, *got.Page)
	assert.Equal(t, 15, *got.Limit)
	assert.Equal(t, "MCU", got.ProductFamily)
	assert.Equal(t, "desc", got.SortOrder)
}
