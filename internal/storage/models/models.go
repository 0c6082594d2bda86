package models

import "time"

type User struct {
	ID               string
	Username         string
	EmailEncrypted   []byte
	PhoneEncrypted   []byte
	AddressEncrypted []byte
	CreatedAt        time.Time
	UpdatedAt        time.Time
	IsActive         bool
}

type Conversation struct {
	ID                    string
	UserID                string
	AgentID               string
	StartedAt             time.Time
	EndedAt               *time.Time
	CoherenceScoreCurrent *float64
	CoherenceScoreTrend   *float64
	ContextMetadata       string
}

type Signal struct {
	ID                  int64
	Time                time.Time
	UserID              string
	AgentID             string
	RawContent          string
	ContextWindowID     string
	SignalSource        string
	SignalScore         float64
	SignalVector        string
	EmotionalTone       *float64
	EscalateFlag        int
	Payload             string
	RelationshipContext string
	DiagnosticNotes     string
}

type DriftMetric struct {
	ID             int64
	ConversationID string
	WindowStart    time.Time
	WindowEnd      time.Time
	DriftScore     float64
	SignalCount    int
	CoherenceTrend *float64
}

type SignalBucket struct {
	Bucket           time.Time
	SignalSource     string
	AgentID          string
	AvgSignalScore   float64
	AvgEmotionalTone *float64
	TotalCount       int
}
