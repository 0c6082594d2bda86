package validation

import (
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// The signal ingestion boundary. Everything past this middleware treats
// signal scores and timestamps as trusted, so range checks live here and
// nowhere downstream.
type Config struct {
	MaxContentLength    int
	MaxSignalsPerBatch  int
	AllowedContentTypes []string
	Logger              *zap.Logger
}

func Middleware(cfg Config) fiber.Handler {
	if cfg.MaxContentLength == 0 {
		cfg.MaxContentLength = 64 * 1024
	}
	if cfg.MaxSignalsPerBatch == 0 {
		cfg.MaxSignalsPerBatch = 500
	}
	if len(cfg.AllowedContentTypes) == 0 {
		cfg.AllowedContentTypes = []string{"application/json"}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return func(c *fiber.Ctx) error {
		if c.Method() != fiber.MethodPost && c.Method() != fiber.MethodPatch {
			return c.Next()
		}

		contentType := c.Get("Content-Type")
		if contentType != "" && !typeAllowed(contentType, cfg.AllowedContentTypes) {
			return c.Status(fiber.StatusUnsupportedMediaType).JSON(fiber.Map{
				"error": "Unsupported content type",
			})
		}

		path := c.Path()

		if c.Method() == fiber.MethodPost && strings.HasSuffix(path, "/signals/batch") {
			var req struct {
				Signals []signalPayload `json:"signals"`
			}
			if err := c.BodyParser(&req); err != nil {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": "Invalid JSON format",
				})
			}

			if len(req.Signals) > cfg.MaxSignalsPerBatch {
				return c.Status(fiber.StatusRequestEntityTooLarge).JSON(fiber.Map{
					"error": fmt.Sprintf("Batch exceeds maximum of %d signals", cfg.MaxSignalsPerBatch),
				})
			}

			for i, s := range req.Signals {
				if msg := validateSignal(&s, cfg.MaxContentLength); msg != "" {
					cfg.Logger.Warn("Rejected signal in batch",
						zap.Int("index", i),
						zap.String("reason", msg),
						zap.String("ip", c.IP()),
					)
					return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
						"error": fmt.Sprintf("Signal at index %d: %s", i, msg),
					})
				}
			}
			return c.Next()
		}

		if c.Method() == fiber.MethodPost && strings.HasSuffix(path, "/signals") {
			var s signalPayload
			if err := c.BodyParser(&s); err != nil {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": "Invalid JSON format",
				})
			}

			if msg := validateSignal(&s, cfg.MaxContentLength); msg != "" {
				cfg.Logger.Warn("Rejected signal",
					zap.String("reason", msg),
					zap.String("ip", c.IP()),
				)
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": msg,
				})
			}
		}

		return c.Next()
	}
}

type signalPayload struct {
	ContextWindowID string   `json:"context_window_id"`
	SignalScore     *float64 `json:"signal_score"`
	EmotionalTone   *float64 `json:"emotional_tone"`
	RawContent      string   `json:"raw_content"`
}

func validateSignal(s *signalPayload, maxContentLength int) string {
	if s.ContextWindowID == "" {
		return "context_window_id is required"
	}
	if s.SignalScore != nil && (*s.SignalScore < 0 || *s.SignalScore > 1) {
		return "signal_score must be between 0 and 1"
	}
	if s.EmotionalTone != nil && (*s.EmotionalTone < -1 || *s.EmotionalTone > 1) {
		return "emotional_tone must be between -1 and 1"
	}
	if len(s.RawContent) > maxContentLength {
		return "raw_content exceeds maximum length"
	}
	return ""
}

func typeAllowed(contentType string, allowed []string) bool {
	for _, t := range allowed {
		if strings.Contains(contentType, t) {
			return true
		}
	}
	return false
}
