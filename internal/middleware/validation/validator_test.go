package validation

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestApp(cfg Config) *fiber.App {
	app := fiber.New()
	app.Use(Middleware(cfg))

	ok := func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	}
	app.Post("/api/v1/signals", ok)
	app.Post("/api/v1/signals/batch", ok)
	app.Get("/api/v1/signals", ok)
	app.Post("/api/v1/users", ok)

	return app
}

func post(t *testing.T, app *fiber.App, path, contentType string, body any) *http.Response {
	t.Helper()

	data, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	return resp
}

func errorMessage(t *testing.T, resp *http.Response) string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body["error"]
}

func TestValidSignalPasses(t *testing.T) {
	app := newTestApp(Config{})

	resp := post(t, app, "/api/v1/signals", "application/json", map[string]any{
		"context_window_id": "conv-1",
		"signal_score":      0.7,
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRejectsUnsupportedContentType(t *testing.T) {
	app := newTestApp(Config{})

	resp := post(t, app, "/api/v1/users", "text/plain", map[string]any{"username": "alice"})
	assert.Equal(t, http.StatusUnsupportedMediaType, resp.StatusCode)
}

func TestGetRequestsBypassValidation(t *testing.T) {
	app := newTestApp(Config{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/signals", nil)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRejectsSignalOutOfRange(t *testing.T) {
	app := newTestApp(Config{})

	resp := post(t, app, "/api/v1/signals", "application/json", map[string]any{
		"context_window_id": "conv-1",
		"signal_score":      1.5,
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, errorMessage(t, resp), "signal_score")

	resp = post(t, app, "/api/v1/signals", "application/json", map[string]any{
		"context_window_id": "conv-1",
		"emotional_tone":    -1.5,
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, errorMessage(t, resp), "emotional_tone")
}

func TestRejectsMissingConversationKey(t *testing.T) {
	app := newTestApp(Config{})

	resp := post(t, app, "/api/v1/signals", "application/json", map[string]any{
		"signal_score": 0.5,
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, errorMessage(t, resp), "context_window_id")
}

func TestRejectsOversizedContent(t *testing.T) {
	app := newTestApp(Config{MaxContentLength: 16})

	resp := post(t, app, "/api/v1/signals", "application/json", map[string]any{
		"context_window_id": "conv-1",
		"raw_content":       strings.Repeat("x", 17),
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, errorMessage(t, resp), "raw_content")
}

func TestBatchSizeLimit(t *testing.T) {
	app := newTestApp(Config{MaxSignalsPerBatch: 2})

	signals := make([]map[string]any, 3)
	for i := range signals {
		signals[i] = map[string]any{"context_window_id": "conv-1"}
	}

	resp := post(t, app, "/api/v1/signals/batch", "application/json", map[string]any{
		"signals": signals,
	})
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
}

func TestBatchValidatesEachSignal(t *testing.T) {
	app := newTestApp(Config{})

	resp := post(t, app, "/api/v1/signals/batch", "application/json", map[string]any{
		"signals": []map[string]any{
			{"context_window_id": "conv-1", "signal_score": 0.5},
			{"context_window_id": "conv-1", "signal_score": 2.0},
		},
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, errorMessage(t, resp), "index 1")
}
