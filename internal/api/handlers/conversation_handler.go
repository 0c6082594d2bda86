package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	cache "github.com/coherence-signal/backend/internal/cache/redis"
	"github.com/coherence-signal/backend/internal/reconciler"
	"github.com/coherence-signal/backend/internal/storage"
	"github.com/coherence-signal/backend/internal/storage/models"
	"github.com/coherence-signal/backend/internal/storage/sqlite"
	"github.com/coherence-signal/backend/pkg/logger"
	"github.com/coherence-signal/backend/pkg/retry"
)

type ConversationHandler struct {
	db            *sqlite.Client
	reconciler    *reconciler.Reconciler
	cache         *cache.Client
	defaultWindow string
	cacheTTL      time.Duration
}

func NewConversationHandler(db *sqlite.Client, rec *reconciler.Reconciler, cacheClient *cache.Client, defaultWindow string, cacheTTL time.Duration) *ConversationHandler {
	if defaultWindow == "" {
		defaultWindow = "5m"
	}
	return &ConversationHandler{
		db:            db,
		reconciler:    rec,
		cache:         cacheClient,
		defaultWindow: defaultWindow,
		cacheTTL:      cacheTTL,
	}
}

func (h *ConversationHandler) CreateConversation(c *fiber.Ctx) error {
	var req struct {
		UserID          string                 `json:"user_id"`
		AgentID         string                 `json:"agent_id"`
		StartedAt       *time.Time             `json:"started_at"`
		ContextMetadata map[string]interface{} `json:"context_metadata"`
	}

	if err := c.BodyParser(&req); err != nil {
		logger.Error("Failed to parse request body", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	conv := &models.Conversation{
		ID:        uuid.New().String(),
		UserID:    req.UserID,
		AgentID:   req.AgentID,
		StartedAt: time.Now().UTC(),
	}
	if req.StartedAt != nil {
		conv.StartedAt = req.StartedAt.UTC()
	}
	if req.ContextMetadata != nil {
		conv.ContextMetadata = marshalJSON(req.ContextMetadata)
	}

	if err := h.db.CreateConversation(conv); err != nil {
		logger.Error("Failed to create conversation", zap.Error(err))
		return errorJSON(c, err, "Failed to create conversation")
	}

	return c.JSON(conversationJSON(conv))
}

func (h *ConversationHandler) GetConversation(c *fiber.Ctx) error {
	conv, err := h.db.GetConversation(c.Params("id"))
	if err != nil {
		return errorJSON(c, err, "Failed to get conversation")
	}

	return c.JSON(conversationJSON(conv))
}

func (h *ConversationHandler) UpdateConversation(c *fiber.Ctx) error {
	var req struct {
		EndedAt               *time.Time `json:"ended_at"`
		CoherenceScoreCurrent *float64   `json:"coherence_score_current"`
		CoherenceScoreTrend   *float64   `json:"coherence_score_trend"`
	}

	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	conv, err := h.db.GetConversation(c.Params("id"))
	if err != nil {
		return errorJSON(c, err, "Failed to get conversation")
	}

	if req.EndedAt != nil {
		endedAt := req.EndedAt.UTC()
		conv.EndedAt = &endedAt
	}
	if req.CoherenceScoreCurrent != nil {
		conv.CoherenceScoreCurrent = req.CoherenceScoreCurrent
	}
	if req.CoherenceScoreTrend != nil {
		conv.CoherenceScoreTrend = req.CoherenceScoreTrend
	}

	if err := h.db.UpdateConversation(conv); err != nil {
		logger.Error("Failed to update conversation", zap.Error(err))
		return errorJSON(c, err, "Failed to update conversation")
	}

	return c.JSON(conversationJSON(conv))
}

// GetCoherence recomputes (or serves from cache) the coherence state for a
// conversation. Transient store failures retry the whole recompute, which is
// safe because the operation is idempotent.
func (h *ConversationHandler) GetCoherence(c *fiber.Ctx) error {
	conversationID := c.Params("id")
	windowSize := c.Query("window_size", h.defaultWindow)

	if h.cache != nil {
		var cached reconciler.Result
		hit, err := h.cache.GetCoherence(c.Context(), conversationID, windowSize, &cached)
		if err != nil {
			logger.Warn("Coherence cache read failed", zap.Error(err))
		} else if hit {
			return c.JSON(cached)
		}
	}

	result, err := retry.DoWithResult(c.Context(), retry.Config{
		MaxAttempts:     3,
		InitialDelay:    50 * time.Millisecond,
		RetryableErrors: []error{storage.ErrUnavailable},
		Logger:          logger.Log,
	}, func() (*reconciler.Result, error) {
		return h.reconciler.Recompute(conversationID, windowSize)
	})
	if err != nil {
		logger.Error("Coherence recompute failed",
			zap.String("conversation_id", conversationID),
			zap.Error(err),
		)
		return errorJSON(c, err, "Failed to compute coherence")
	}

	if h.cache != nil {
		if err := h.cache.SetCoherence(c.Context(), conversationID, windowSize, result, h.cacheTTL); err != nil {
			logger.Warn("Coherence cache write failed", zap.Error(err))
		}
	}

	return c.JSON(result)
}

func conversationJSON(conv *models.Conversation) fiber.Map {
	return fiber.Map{
		"id":                      conv.ID,
		"user_id":                 conv.UserID,
		"agent_id":                conv.AgentID,
		"started_at":              conv.StartedAt,
		"ended_at":                conv.EndedAt,
		"coherence_score_current": conv.CoherenceScoreCurrent,
		"coherence_score_trend":   conv.CoherenceScoreTrend,
	}
}
