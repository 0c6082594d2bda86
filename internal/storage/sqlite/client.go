package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/coherence-signal/backend/internal/storage"
	"github.com/coherence-signal/backend/internal/storage/models"
	"github.com/coherence-signal/backend/pkg/logger"
)

type Client struct {
	db *sql.DB
}

func NewClient(dbPath string) (*Client, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	_, err = db.Exec("PRAGMA foreign_keys = ON")
	if err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	_, err = db.Exec("PRAGMA journal_mode = WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	logger.Info("SQLite client initialized", zap.String("path", dbPath))

	return &Client{db: db}, nil
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		username TEXT UNIQUE NOT NULL,
		email_encrypted BLOB,
		phone_encrypted BLOB,
		address_encrypted BLOB,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		is_active INTEGER NOT NULL DEFAULT 1
	);
	CREATE INDEX IF NOT EXISTS idx_users_username ON users(username);
	CREATE INDEX IF NOT EXISTS idx_users_active ON users(is_active);

	CREATE TABLE IF NOT EXISTS conversations (
		id TEXT PRIMARY KEY,
		user_id TEXT,
		agent_id TEXT,
		started_at INTEGER NOT NULL,
		ended_at INTEGER,
		coherence_score_current REAL,
		coherence_score_trend REAL,
		context_metadata TEXT,
		FOREIGN KEY (user_id) REFERENCES users(id)
	);
	CREATE INDEX IF NOT EXISTS idx_conversations_user ON conversations(user_id);
	CREATE INDEX IF NOT EXISTS idx_conversations_agent ON conversations(agent_id);
	CREATE INDEX IF NOT EXISTS idx_conversations_started ON conversations(started_at);

	CREATE TABLE IF NOT EXISTS signals (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		time INTEGER NOT NULL,
		user_id TEXT,
		agent_id TEXT,
		raw_content TEXT,
		context_window_id TEXT NOT NULL,
		signal_source TEXT NOT NULL DEFAULT 'unknown',
		signal_score REAL NOT NULL DEFAULT 0.5,
		signal_vector TEXT,
		emotional_tone REAL,
		escalate_flag INTEGER NOT NULL DEFAULT 0,
		payload TEXT,
		relationship_context TEXT,
		diagnostic_notes TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_signals_conversation_time ON signals(context_window_id, time);
	CREATE INDEX IF NOT EXISTS idx_signals_source ON signals(signal_source);
	CREATE INDEX IF NOT EXISTS idx_signals_user ON signals(user_id);

	CREATE TABLE IF NOT EXISTS signal_drift_metrics (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		conversation_id TEXT NOT NULL,
		window_start INTEGER NOT NULL,
		window_end INTEGER NOT NULL,
		drift_score REAL NOT NULL DEFAULT 0,
		signal_count INTEGER NOT NULL DEFAULT 0,
		coherence_trend REAL,
		FOREIGN KEY (conversation_id) REFERENCES conversations(id)
	);
	CREATE INDEX IF NOT EXISTS idx_drift_conversation ON signal_drift_metrics(conversation_id);
	CREATE INDEX IF NOT EXISTS idx_drift_window_start ON signal_drift_metrics(window_start);
	`

	_, err := c.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("SQLite schema initialized")
	return nil
}

func wrapUnavailable(op string, err error) error {
	return fmt.Errorf("%s: %w", op, errors.Join(storage.ErrUnavailable, err))
}

func (c *Client) CreateUser(user *models.User) error {
	query := `
		INSERT INTO users (id, username, email_encrypted, phone_encrypted, address_encrypted, created_at, updated_at, is_active)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	isActive := 0
	if user.IsActive {
		isActive = 1
	}

	_, err := c.db.Exec(
		query,
		user.ID,
		user.Username,
		user.EmailEncrypted,
		user.PhoneEncrypted,
		user.AddressEncrypted,
		user.CreatedAt.Unix(),
		user.UpdatedAt.Unix(),
		isActive,
	)

	if err != nil {
		return wrapUnavailable("failed to create user", err)
	}

	logger.Debug("User created", zap.String("user_id", user.ID), zap.String("username", user.Username))
	return nil
}

func (c *Client) GetUser(id string) (*models.User, error) {
	query := `
		SELECT id, username, email_encrypted, phone_encrypted, address_encrypted, created_at, updated_at, is_active
		FROM users WHERE id = ?
	`

	var user models.User
	var createdAt, updatedAt int64
	var isActive int

	err := c.db.QueryRow(query, id).Scan(
		&user.ID,
		&user.Username,
		&user.EmailEncrypted,
		&user.PhoneEncrypted,
		&user.AddressEncrypted,
		&createdAt,
		&updatedAt,
		&isActive,
	)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("user %s: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return nil, wrapUnavailable("failed to get user", err)
	}

	user.CreatedAt = time.Unix(createdAt, 0).UTC()
	user.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	user.IsActive = isActive != 0

	return &user, nil
}

func (c *Client) GetUserByUsername(username string) (*models.User, error) {
	query := `SELECT id FROM users WHERE username = ?`

	var id string
	err := c.db.QueryRow(query, username).Scan(&id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("user %s: %w", username, storage.ErrNotFound)
	}
	if err != nil {
		return nil, wrapUnavailable("failed to get user by username", err)
	}

	return c.GetUser(id)
}

func (c *Client) UpdateUser(user *models.User) error {
	query := `
		UPDATE users
		SET email_encrypted = ?, phone_encrypted = ?, address_encrypted = ?, updated_at = ?, is_active = ?
		WHERE id = ?
	`

	isActive := 0
	if user.IsActive {
		isActive = 1
	}

	result, err := c.db.Exec(
		query,
		user.EmailEncrypted,
		user.PhoneEncrypted,
		user.AddressEncrypted,
		time.Now().Unix(),
		isActive,
		user.ID,
	)

	if err != nil {
		return wrapUnavailable("failed to update user", err)
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("user %s: %w", user.ID, storage.ErrNotFound)
	}

	return nil
}

func (c *Client) DeleteUser(id string) error {
	result, err := c.db.Exec(`DELETE FROM users WHERE id = ?`, id)
	if err != nil {
		return wrapUnavailable("failed to delete user", err)
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("user %s: %w", id, storage.ErrNotFound)
	}

	logger.Info("User deleted", zap.String("user_id", id))
	return nil
}

func (c *Client) ListConversationsByUser(userID string) ([]models.Conversation, error) {
	query := `
		SELECT id, user_id, agent_id, started_at, ended_at, coherence_score_current, coherence_score_trend, context_metadata
		FROM conversations
		WHERE user_id = ?
		ORDER BY started_at DESC
	`

	rows, err := c.db.Query(query, userID)
	if err != nil {
		return nil, wrapUnavailable("failed to list conversations", err)
	}
	defer rows.Close()

	var conversations []models.Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, wrapUnavailable("failed to scan conversation row", err)
		}
		conversations = append(conversations, *conv)
	}

	return conversations, nil
}

func (c *Client) CreateConversation(conv *models.Conversation) error {
	query := `
		INSERT INTO conversations (id, user_id, agent_id, started_at, ended_at, coherence_score_current, coherence_score_trend, context_metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := c.db.Exec(
		query,
		conv.ID,
		nullString(conv.UserID),
		nullString(conv.AgentID),
		conv.StartedAt.Unix(),
		nullTime(conv.EndedAt),
		conv.CoherenceScoreCurrent,
		conv.CoherenceScoreTrend,
		nullString(conv.ContextMetadata),
	)

	if err != nil {
		return wrapUnavailable("failed to create conversation", err)
	}

	logger.Debug("Conversation created", zap.String("conversation_id", conv.ID))
	return nil
}

func (c *Client) GetConversation(id string) (*models.Conversation, error) {
	query := `
		SELECT id, user_id, agent_id, started_at, ended_at, coherence_score_current, coherence_score_trend, context_metadata
		FROM conversations WHERE id = ?
	`

	row := c.db.QueryRow(query, id)
	conv, err := scanConversation(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("conversation %s: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return nil, wrapUnavailable("failed to get conversation", err)
	}

	return conv, nil
}

func (c *Client) UpdateConversation(conv *models.Conversation) error {
	query := `
		UPDATE conversations
		SET ended_at = ?, coherence_score_current = ?, coherence_score_trend = ?, context_metadata = ?
		WHERE id = ?
	`

	result, err := c.db.Exec(
		query,
		nullTime(conv.EndedAt),
		conv.CoherenceScoreCurrent,
		conv.CoherenceScoreTrend,
		nullString(conv.ContextMetadata),
		conv.ID,
	)

	if err != nil {
		return wrapUnavailable("failed to update conversation", err)
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("conversation %s: %w", conv.ID, storage.ErrNotFound)
	}

	return nil
}

// UpdateConversationCoherence refreshes the cached coherence fields after a
// recompute. A nil trend leaves the stored trend column untouched rather than
// overwriting it with NULL.
func (c *Client) UpdateConversationCoherence(id string, score float64, trend *float64) error {
	var result sql.Result
	var err error

	if trend != nil {
		result, err = c.db.Exec(
			`UPDATE conversations SET coherence_score_current = ?, coherence_score_trend = ? WHERE id = ?`,
			score, *trend, id,
		)
	} else {
		result, err = c.db.Exec(
			`UPDATE conversations SET coherence_score_current = ? WHERE id = ?`,
			score, id,
		)
	}

	if err != nil {
		return wrapUnavailable("failed to update conversation coherence", err)
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("conversation %s: %w", id, storage.ErrNotFound)
	}

	return nil
}

func (c *Client) InsertSignal(signal *models.Signal) error {
	query := `
		INSERT INTO signals (time, user_id, agent_id, raw_content, context_window_id, signal_source, signal_score,
			signal_vector, emotional_tone, escalate_flag, payload, relationship_context, diagnostic_notes)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := c.db.Exec(
		query,
		signal.Time.Unix(),
		nullString(signal.UserID),
		nullString(signal.AgentID),
		nullString(signal.RawContent),
		nullString(signal.ContextWindowID),
		signal.SignalSource,
		signal.SignalScore,
		nullString(signal.SignalVector),
		signal.EmotionalTone,
		signal.EscalateFlag,
		nullString(signal.Payload),
		nullString(signal.RelationshipContext),
		nullString(signal.DiagnosticNotes),
	)

	if err != nil {
		return wrapUnavailable("failed to insert signal", err)
	}

	signal.ID, _ = result.LastInsertId()

	logger.Debug("Signal inserted",
		zap.Int64("signal_id", signal.ID),
		zap.String("conversation_id", signal.ContextWindowID),
		zap.String("source", signal.SignalSource),
	)
	return nil
}

// InsertSignalsBatch persists a batch of signals. With failOnError the whole
// batch runs in one transaction and the first failure rolls everything back;
// otherwise each signal is attempted independently and failures are reported
// through the returned error slice (indexed like the input).
func (c *Client) InsertSignalsBatch(signals []*models.Signal, failOnError bool) ([]error, error) {
	itemErrs := make([]error, len(signals))

	if failOnError {
		tx, err := c.db.Begin()
		if err != nil {
			return nil, wrapUnavailable("failed to begin batch transaction", err)
		}

		for i, signal := range signals {
			result, err := insertSignalExec(tx, signal)
			if err != nil {
				tx.Rollback()
				itemErrs[i] = err
				return itemErrs, fmt.Errorf("batch failed at index %d: %w", i, err)
			}
			signal.ID, _ = result.LastInsertId()
		}

		if err := tx.Commit(); err != nil {
			return nil, wrapUnavailable("failed to commit batch", err)
		}
		return itemErrs, nil
	}

	for i, signal := range signals {
		result, err := insertSignalExec(c.db, signal)
		if err != nil {
			itemErrs[i] = err
			continue
		}
		signal.ID, _ = result.LastInsertId()
	}

	return itemErrs, nil
}

type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

func insertSignalExec(e execer, signal *models.Signal) (sql.Result, error) {
	return e.Exec(
		`INSERT INTO signals (time, user_id, agent_id, raw_content, context_window_id, signal_source, signal_score,
			signal_vector, emotional_tone, escalate_flag, payload, relationship_context, diagnostic_notes)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		signal.Time.Unix(),
		nullString(signal.UserID),
		nullString(signal.AgentID),
		nullString(signal.RawContent),
		nullString(signal.ContextWindowID),
		signal.SignalSource,
		signal.SignalScore,
		nullString(signal.SignalVector),
		signal.EmotionalTone,
		signal.EscalateFlag,
		nullString(signal.Payload),
		nullString(signal.RelationshipContext),
		nullString(signal.DiagnosticNotes),
	)
}

func (c *Client) GetSignal(id int64) (*models.Signal, error) {
	query := `
		SELECT id, time, user_id, agent_id, raw_content, context_window_id, signal_source, signal_score,
			signal_vector, emotional_tone, escalate_flag, payload, relationship_context, diagnostic_notes
		FROM signals WHERE id = ?
	`

	row := c.db.QueryRow(query, id)
	signal, err := scanSignal(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("signal %d: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return nil, wrapUnavailable("failed to get signal", err)
	}

	return signal, nil
}

func (c *Client) ListSignalsByConversation(conversationID string, limit int) ([]models.Signal, error) {
	query := `
		SELECT id, time, user_id, agent_id, raw_content, context_window_id, signal_source, signal_score,
			signal_vector, emotional_tone, escalate_flag, payload, relationship_context, diagnostic_notes
		FROM signals
		WHERE context_window_id = ?
		ORDER BY time ASC
	`
	args := []any{conversationID}

	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := c.db.Query(query, args...)
	if err != nil {
		return nil, wrapUnavailable("failed to list signals", err)
	}
	defer rows.Close()

	var signals []models.Signal
	for rows.Next() {
		signal, err := scanSignal(rows)
		if err != nil {
			return nil, wrapUnavailable("failed to scan signal row", err)
		}
		signals = append(signals, *signal)
	}

	return signals, nil
}

func (c *Client) ListSignalBuckets(bucketSeconds int, conversationID string, sources []string) ([]models.SignalBucket, error) {
	query := `
		SELECT (time / ?) * ? AS bucket, signal_source, COALESCE(agent_id, ''),
			AVG(signal_score), AVG(emotional_tone), COUNT(*)
		FROM signals
	`
	args := []any{bucketSeconds, bucketSeconds}

	var conditions []string
	if conversationID != "" {
		conditions = append(conditions, "context_window_id = ?")
		args = append(args, conversationID)
	}
	if len(sources) > 0 {
		placeholders := strings.Repeat("?,", len(sources))
		conditions = append(conditions, fmt.Sprintf("signal_source IN (%s)", placeholders[:len(placeholders)-1]))
		for _, s := range sources {
			args = append(args, s)
		}
	}

	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += `
		GROUP BY bucket, signal_source, agent_id
		ORDER BY bucket, signal_source, agent_id
	`

	rows, err := c.db.Query(query, args...)
	if err != nil {
		return nil, wrapUnavailable("failed to list signal buckets", err)
	}
	defer rows.Close()

	var buckets []models.SignalBucket
	for rows.Next() {
		var b models.SignalBucket
		var bucket int64
		var avgTone sql.NullFloat64

		err := rows.Scan(&bucket, &b.SignalSource, &b.AgentID, &b.AvgSignalScore, &avgTone, &b.TotalCount)
		if err != nil {
			return nil, wrapUnavailable("failed to scan bucket row", err)
		}

		b.Bucket = time.Unix(bucket, 0).UTC()
		if avgTone.Valid {
			tone := avgTone.Float64
			b.AvgEmotionalTone = &tone
		}
		buckets = append(buckets, b)
	}

	return buckets, nil
}

// ReplaceDriftMetrics swaps the persisted drift windows for a conversation in
// a single transaction. Either the full delete-then-insert commits or nothing
// changes, so a concurrent reader never sees a partially replaced set.
func (c *Client) ReplaceDriftMetrics(conversationID string, metrics []models.DriftMetric) error {
	tx, err := c.db.Begin()
	if err != nil {
		return wrapUnavailable("failed to begin replace transaction", err)
	}

	_, err = tx.Exec(`DELETE FROM signal_drift_metrics WHERE conversation_id = ?`, conversationID)
	if err != nil {
		tx.Rollback()
		return wrapUnavailable("failed to delete drift metrics", err)
	}

	for i := range metrics {
		m := &metrics[i]
		result, err := tx.Exec(
			`INSERT INTO signal_drift_metrics (conversation_id, window_start, window_end, drift_score, signal_count, coherence_trend)
			VALUES (?, ?, ?, ?, ?, ?)`,
			conversationID,
			m.WindowStart.Unix(),
			m.WindowEnd.Unix(),
			m.DriftScore,
			m.SignalCount,
			m.CoherenceTrend,
		)
		if err != nil {
			tx.Rollback()
			return wrapUnavailable("failed to insert drift metric", err)
		}
		m.ID, _ = result.LastInsertId()
	}

	if err := tx.Commit(); err != nil {
		return wrapUnavailable("failed to commit drift metric replace", err)
	}

	logger.Debug("Drift metrics replaced",
		zap.String("conversation_id", conversationID),
		zap.Int("window_count", len(metrics)),
	)
	return nil
}

func (c *Client) GetDriftMetrics(conversationID string) ([]models.DriftMetric, error) {
	query := `
		SELECT id, conversation_id, window_start, window_end, drift_score, signal_count, coherence_trend
		FROM signal_drift_metrics
		WHERE conversation_id = ?
		ORDER BY window_start ASC
	`

	rows, err := c.db.Query(query, conversationID)
	if err != nil {
		return nil, wrapUnavailable("failed to get drift metrics", err)
	}
	defer rows.Close()

	var metrics []models.DriftMetric
	for rows.Next() {
		var m models.DriftMetric
		var windowStart, windowEnd int64
		var trend sql.NullFloat64

		err := rows.Scan(&m.ID, &m.ConversationID, &windowStart, &windowEnd, &m.DriftScore, &m.SignalCount, &trend)
		if err != nil {
			return nil, wrapUnavailable("failed to scan drift metric row", err)
		}

		m.WindowStart = time.Unix(windowStart, 0).UTC()
		m.WindowEnd = time.Unix(windowEnd, 0).UTC()
		if trend.Valid {
			t := trend.Float64
			m.CoherenceTrend = &t
		}
		metrics = append(metrics, m)
	}

	return metrics, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(row rowScanner) (*models.Conversation, error) {
	var conv models.Conversation
	var userID, agentID, metadata sql.NullString
	var startedAt int64
	var endedAt sql.NullInt64
	var score, trend sql.NullFloat64

	err := row.Scan(&conv.ID, &userID, &agentID, &startedAt, &endedAt, &score, &trend, &metadata)
	if err != nil {
		return nil, err
	}

	conv.UserID = userID.String
	conv.AgentID = agentID.String
	conv.ContextMetadata = metadata.String
	conv.StartedAt = time.Unix(startedAt, 0).UTC()
	if endedAt.Valid {
		t := time.Unix(endedAt.Int64, 0).UTC()
		conv.EndedAt = &t
	}
	if score.Valid {
		s := score.Float64
		conv.CoherenceScoreCurrent = &s
	}
	if trend.Valid {
		t := trend.Float64
		conv.CoherenceScoreTrend = &t
	}

	return &conv, nil
}

func scanSignal(row rowScanner) (*models.Signal, error) {
	var signal models.Signal
	var ts int64
	var userID, agentID, rawContent, vector, payload, relCtx, diagNotes sql.NullString
	var tone sql.NullFloat64

	err := row.Scan(
		&signal.ID,
		&ts,
		&userID,
		&agentID,
		&rawContent,
		&signal.ContextWindowID,
		&signal.SignalSource,
		&signal.SignalScore,
		&vector,
		&tone,
		&signal.EscalateFlag,
		&payload,
		&relCtx,
		&diagNotes,
	)
	if err != nil {
		return nil, err
	}

	signal.Time = time.Unix(ts, 0).UTC()
	signal.UserID = userID.String
	signal.AgentID = agentID.String
	signal.RawContent = rawContent.String
	signal.SignalVector = vector.String
	signal.Payload = payload.String
	signal.RelationshipContext = relCtx.String
	signal.DiagnosticNotes = diagNotes.String
	if tone.Valid {
		t := tone.Float64
		signal.EmotionalTone = &t
	}

	return &signal, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Unix()
}
