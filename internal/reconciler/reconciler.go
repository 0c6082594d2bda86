package reconciler

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/coherence-signal/backend/internal/coherence"
	"github.com/coherence-signal/backend/internal/metrics"
	"github.com/coherence-signal/backend/internal/storage/models"
	"github.com/coherence-signal/backend/pkg/logger"
)

// ErrRecomputeInProgress is returned when a second recompute for the same
// conversation is requested while one is still running. The caller should
// fail the request; the store is never left half-replaced.
var ErrRecomputeInProgress = errors.New("coherence recompute already in progress")

// Store is the persistence contract the reconciler depends on. The replace
// operation must be atomic: delete-all-then-insert-all for the conversation
// key, committed as one unit.
type Store interface {
	GetConversation(id string) (*models.Conversation, error)
	ListSignalsByConversation(conversationID string, limit int) ([]models.Signal, error)
	ReplaceDriftMetrics(conversationID string, metrics []models.DriftMetric) error
	UpdateConversationCoherence(id string, score float64, trend *float64) error
}

type Reconciler struct {
	store       Store
	locks       *keyedLocks
	lockTimeout time.Duration
}

type Result struct {
	ID                    string            `json:"id"`
	CoherenceScoreCurrent *float64          `json:"coherence_score_current"`
	CoherenceScoreTrend   *float64          `json:"coherence_score_trend"`
	DriftMetrics          []DriftMetricView `json:"drift_metrics"`
	SignalSources         map[string]int    `json:"signal_sources"`
	TotalSignalCount      int               `json:"total_signal_count"`
	TimeRangeStart        *time.Time        `json:"time_range_start"`
	TimeRangeEnd          *time.Time        `json:"time_range_end"`
}

type DriftMetricView struct {
	ID             int64     `json:"id"`
	ConversationID string    `json:"conversation_id"`
	WindowStart    time.Time `json:"window_start"`
	WindowEnd      time.Time `json:"window_end"`
	DriftScore     float64   `json:"drift_score"`
	SignalCount    int       `json:"signal_count"`
	CoherenceTrend *float64  `json:"coherence_trend"`
}

func New(store Store, lockTimeout time.Duration) *Reconciler {
	if lockTimeout == 0 {
		lockTimeout = 10 * time.Second
	}
	return &Reconciler{
		store:       store,
		locks:       newKeyedLocks(),
		lockTimeout: lockTimeout,
	}
}

// Recompute runs the full coherence reconciliation for one conversation:
// fetch signals, segment into drift windows, replace the persisted window
// rows, score, and refresh the conversation's cached coherence fields. The
// operation is idempotent; rerunning it with unchanged signals produces the
// same persisted rows and the same result.
func (r *Reconciler) Recompute(conversationID string, windowSize string) (*Result, error) {
	startTime := time.Now()

	if _, err := r.store.GetConversation(conversationID); err != nil {
		return nil, err
	}

	windowSeconds, err := coherence.ParseWindowSize(windowSize)
	if err != nil {
		return nil, err
	}

	if !r.locks.acquire(conversationID, r.lockTimeout) {
		metrics.RecomputeTotal.WithLabelValues("contended").Inc()
		return nil, fmt.Errorf("conversation %s: %w", conversationID, ErrRecomputeInProgress)
	}
	defer r.locks.release(conversationID)

	signals, err := r.store.ListSignalsByConversation(conversationID, 0)
	if err != nil {
		metrics.RecomputeTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	if len(signals) == 0 {
		logger.Debug("No signals for conversation, skipping writes",
			zap.String("conversation_id", conversationID),
		)
		metrics.RecomputeTotal.WithLabelValues("empty").Inc()
		return &Result{
			ID:               conversationID,
			DriftMetrics:     []DriftMetricView{},
			SignalSources:    map[string]int{},
			TotalSignalCount: 0,
		}, nil
	}

	inputs := make([]coherence.Signal, 0, len(signals))
	sources := make(map[string]int)
	for _, s := range signals {
		inputs = append(inputs, coherence.Signal{
			Time:   s.Time,
			Source: s.SignalSource,
			Score:  s.SignalScore,
		})
		sources[s.SignalSource]++
	}

	windows := coherence.DriftWindows(inputs, windowSeconds)

	rows := make([]models.DriftMetric, 0, len(windows))
	for _, w := range windows {
		rows = append(rows, models.DriftMetric{
			ConversationID: conversationID,
			WindowStart:    w.WindowStart,
			WindowEnd:      w.WindowEnd,
			DriftScore:     w.DriftScore,
			SignalCount:    w.SignalCount,
		})
	}

	if err := r.store.ReplaceDriftMetrics(conversationID, rows); err != nil {
		metrics.RecomputeTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	score := coherence.Score(windows, inputs, sources)

	// No durable coherence-score history exists yet, so the trend stays
	// unset; the stored trend column is not overwritten.
	var trend *float64

	if err := r.store.UpdateConversationCoherence(conversationID, score, trend); err != nil {
		metrics.RecomputeTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	views := make([]DriftMetricView, 0, len(rows))
	for _, m := range rows {
		views = append(views, DriftMetricView{
			ID:             m.ID,
			ConversationID: m.ConversationID,
			WindowStart:    m.WindowStart,
			WindowEnd:      m.WindowEnd,
			DriftScore:     m.DriftScore,
			SignalCount:    m.SignalCount,
			CoherenceTrend: m.CoherenceTrend,
		})
	}

	first := signals[0].Time
	last := signals[len(signals)-1].Time

	metrics.RecomputeDuration.Observe(time.Since(startTime).Seconds())
	metrics.RecomputeTotal.WithLabelValues("ok").Inc()
	metrics.DriftWindowsPerRecompute.Observe(float64(len(windows)))
	metrics.CoherenceScoreObserved.Observe(score)

	logger.Info("Coherence recomputed",
		zap.String("conversation_id", conversationID),
		zap.Int("signal_count", len(signals)),
		zap.Int("window_count", len(windows)),
		zap.Float64("coherence_score", score),
		zap.Duration("elapsed", time.Since(startTime)),
	)

	return &Result{
		ID:                    conversationID,
		CoherenceScoreCurrent: &score,
		CoherenceScoreTrend:   trend,
		DriftMetrics:          views,
		SignalSources:         sources,
		TotalSignalCount:      len(signals),
		TimeRangeStart:        &first,
		TimeRangeEnd:          &last,
	}, nil
}
