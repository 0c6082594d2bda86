package handlers

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	cache "github.com/coherence-signal/backend/internal/cache/redis"
	"github.com/coherence-signal/backend/internal/coherence"
	"github.com/coherence-signal/backend/internal/metrics"
	"github.com/coherence-signal/backend/internal/storage/models"
	"github.com/coherence-signal/backend/internal/storage/sqlite"
	"github.com/coherence-signal/backend/pkg/logger"
)

type SignalHandler struct {
	db    *sqlite.Client
	cache *cache.Client
}

func NewSignalHandler(db *sqlite.Client, cacheClient *cache.Client) *SignalHandler {
	return &SignalHandler{
		db:    db,
		cache: cacheClient,
	}
}

type signalCreateRequest struct {
	Timestamp           *time.Time             `json:"timestamp"`
	UserID              string                 `json:"user_id"`
	AgentID             string                 `json:"agent_id"`
	RawContent          string                 `json:"raw_content"`
	ContextWindowID     string                 `json:"context_window_id"`
	SignalSource        string                 `json:"signal_source"`
	SignalScore         *float64               `json:"signal_score"`
	SignalVector        string                 `json:"signal_vector"`
	EmotionalTone       *float64               `json:"emotional_tone"`
	EscalateFlag        int                    `json:"escalate_flag"`
	Payload             map[string]interface{} `json:"payload"`
	RelationshipContext string                 `json:"relationship_context"`
	DiagnosticNotes     string                 `json:"diagnostic_notes"`
}

func (req *signalCreateRequest) toModel() *models.Signal {
	signal := &models.Signal{
		Time:                time.Now().UTC(),
		UserID:              req.UserID,
		AgentID:             req.AgentID,
		RawContent:          req.RawContent,
		ContextWindowID:     req.ContextWindowID,
		SignalSource:        req.SignalSource,
		SignalScore:         0.5,
		SignalVector:        req.SignalVector,
		EmotionalTone:       req.EmotionalTone,
		EscalateFlag:        req.EscalateFlag,
		RelationshipContext: req.RelationshipContext,
		DiagnosticNotes:     req.DiagnosticNotes,
	}

	if req.Timestamp != nil {
		signal.Time = req.Timestamp.UTC()
	}
	if req.SignalSource == "" {
		signal.SignalSource = "unknown"
	}
	if req.SignalScore != nil {
		signal.SignalScore = *req.SignalScore
	}
	if req.Payload != nil {
		signal.Payload = marshalJSON(req.Payload)
	}

	return signal
}

func (h *SignalHandler) CreateSignal(c *fiber.Ctx) error {
	var req signalCreateRequest

	if err := c.BodyParser(&req); err != nil {
		logger.Error("Failed to parse request body", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if req.ContextWindowID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "context_window_id is required",
		})
	}

	signal := req.toModel()
	if err := h.db.InsertSignal(signal); err != nil {
		logger.Error("Failed to insert signal", zap.Error(err))
		return errorJSON(c, err, "Failed to create signal")
	}

	metrics.SignalsIngested.WithLabelValues(signal.SignalSource).Inc()
	h.invalidateCoherence(c, signal.ContextWindowID)

	return c.JSON(signalJSON(signal))
}

func (h *SignalHandler) CreateSignalsBatch(c *fiber.Ctx) error {
	var req struct {
		Signals     []signalCreateRequest `json:"signals"`
		FailOnError bool                  `json:"fail_on_error"`
	}

	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if len(req.Signals) == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "signals must not be empty",
		})
	}

	signals := make([]*models.Signal, 0, len(req.Signals))
	for i := range req.Signals {
		signals = append(signals, req.Signals[i].toModel())
	}

	itemErrs, err := h.db.InsertSignalsBatch(signals, req.FailOnError)
	if err != nil {
		logger.Error("Signal batch failed", zap.Error(err))
		metrics.SignalBatchesTotal.WithLabelValues("failed").Inc()
		if req.FailOnError {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": err.Error() + ". No signals were created.",
			})
		}
		return errorJSON(c, err, "Failed to process signal batch")
	}

	results := make([]fiber.Map, 0, len(signals))
	successful := 0
	failed := 0
	conversations := make(map[string]struct{})

	for i, signal := range signals {
		if itemErrs[i] != nil {
			failed++
			results = append(results, fiber.Map{
				"index":   i,
				"success": false,
				"error":   itemErrs[i].Error(),
			})
			continue
		}
		successful++
		conversations[signal.ContextWindowID] = struct{}{}
		metrics.SignalsIngested.WithLabelValues(signal.SignalSource).Inc()
		results = append(results, fiber.Map{
			"index":     i,
			"success":   true,
			"signal_id": signal.ID,
		})
	}

	for conversationID := range conversations {
		h.invalidateCoherence(c, conversationID)
	}

	metrics.SignalBatchesTotal.WithLabelValues("ok").Inc()

	return c.JSON(fiber.Map{
		"total_count":      len(signals),
		"successful_count": successful,
		"failed_count":     failed,
		"results":          results,
	})
}

func (h *SignalHandler) GetSignal(c *fiber.Ctx) error {
	id, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid signal ID",
		})
	}

	signal, err := h.db.GetSignal(id)
	if err != nil {
		return errorJSON(c, err, "Failed to get signal")
	}

	return c.JSON(signalJSON(signal))
}

// ListSignals returns time-bucketed aggregates grouped by source and agent.
func (h *SignalHandler) ListSignals(c *fiber.Ctx) error {
	duration := c.Query("duration", "1h")

	bucketSeconds, err := coherence.ParseWindowSize(duration)
	if err != nil || bucketSeconds == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid duration format",
		})
	}

	conversationID := c.Query("context_window_id")

	var sources []string
	if raw := c.Query("signal_sources"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &sources); err != nil {
			sources = []string{raw}
		}
	}

	buckets, err := h.db.ListSignalBuckets(bucketSeconds, conversationID, sources)
	if err != nil {
		logger.Error("Failed to list signal buckets", zap.Error(err))
		return errorJSON(c, err, "Failed to list signals")
	}

	results := make([]fiber.Map, 0, len(buckets))
	for _, b := range buckets {
		results = append(results, fiber.Map{
			"bucket":             b.Bucket,
			"signal_source":      b.SignalSource,
			"agent_id":           b.AgentID,
			"avg_signal_score":   b.AvgSignalScore,
			"avg_emotional_tone": b.AvgEmotionalTone,
			"total_count":        b.TotalCount,
		})
	}

	return c.JSON(results)
}

func (h *SignalHandler) GetSignalsByConversation(c *fiber.Ctx) error {
	conversationID := c.Params("id")
	limit := c.QueryInt("limit", 100)

	signals, err := h.db.ListSignalsByConversation(conversationID, limit)
	if err != nil {
		logger.Error("Failed to list signals", zap.Error(err))
		return errorJSON(c, err, "Failed to list signals")
	}

	results := make([]fiber.Map, 0, len(signals))
	for i := range signals {
		results = append(results, signalJSON(&signals[i]))
	}

	return c.JSON(results)
}

func (h *SignalHandler) invalidateCoherence(c *fiber.Ctx, conversationID string) {
	if h.cache == nil {
		return
	}
	if err := h.cache.InvalidateConversation(c.Context(), conversationID); err != nil {
		logger.Warn("Failed to invalidate coherence cache",
			zap.String("conversation_id", conversationID),
			zap.Error(err),
		)
	}
}

func signalJSON(signal *models.Signal) fiber.Map {
	return fiber.Map{
		"id":                   signal.ID,
		"timestamp":            signal.Time,
		"user_id":              signal.UserID,
		"agent_id":             signal.AgentID,
		"raw_content":          signal.RawContent,
		"context_window_id":    signal.ContextWindowID,
		"signal_source":        signal.SignalSource,
		"signal_score":         signal.SignalScore,
		"signal_vector":        signal.SignalVector,
		"emotional_tone":       signal.EmotionalTone,
		"escalate_flag":        signal.EscalateFlag,
		"relationship_context": signal.RelationshipContext,
		"diagnostic_notes":     signal.DiagnosticNotes,
	}
}

func marshalJSON(v interface{}) string {
	data, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(data)
}
