// Package journal records activation events (step transitions, landing
// outcomes, absorbed action failures) for audit and support.
package journal

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"activation-orchestrator/internal/common/database"
	"activation-orchestrator/internal/common/logger"
)

type EventKind string

const (
	KindStepTransition EventKind = "step_transition"
	KindActionFailed   EventKind = "action_failed"
	KindLanding        EventKind = "landing"
)

type Event struct {
	SessionID  string                 `json:"sessionId"`
	Kind       EventKind              `json:"kind"`
	Action     string                 `json:"action,omitempty"`
	FromStep   string                 `json:"fromStep,omitempty"`
	ToStep     string                 `json:"toStep,omitempty"`
	Outcome    string                 `json:"outcome,omitempty"`
	ErrorCode  string                 `json:"errorCode,omitempty"`
	Details    map[string]interface{} `json:"details,omitempty"`
	OccurredAt time.Time              `json:"occurredAt"`
}

// Recorder persists events. Implementations must not block the flow on
// failure; callers log and continue.
type Recorder interface {
	Record(ctx context.Context, event Event) error
}

// NopRecorder discards every event.
type NopRecorder struct{}

func (NopRecorder) Record(context.Context, Event) error { return nil }

const insertEventSQL = `INSERT INTO activation_events
	(session_id, kind, action, from_step, to_step, outcome, error_code, details, occurred_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

// Schema creates the events table when missing.
const Schema = `CREATE TABLE IF NOT EXISTS activation_events (
	id          BIGSERIAL PRIMARY KEY,
	session_id  TEXT NOT NULL,
	kind        TEXT NOT NULL,
	action      TEXT,
	from_step   TEXT,
	to_step     TEXT,
	outcome     TEXT,
	error_code  TEXT,
	details     JSONB,
	occurred_at TIMESTAMPTZ NOT NULL
)`

// PostgresRecorder writes events to the activation_events table.
type PostgresRecorder struct {
	db     *database.PostgresClient
	logger logger.Logger
}

func NewPostgresRecorder(db *database.PostgresClient, log logger.Logger) *PostgresRecorder {
	return &PostgresRecorder{
		db:     db,
		logger: log.WithFields(map[string]interface{}{"component": "journal"}),
	}
}

// EnsureSchema creates the events table.
func (r *PostgresRecorder) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("create activation_events: %w", err)
	}
	return nil
}

func (r *PostgresRecorder) Record(ctx context.Context, e Event) error {
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}
	// nil rather than an empty slice so the column stays NULL
	var details interface{}
	if len(e.Details) > 0 {
		b, err := json.Marshal(e.Details)
		if err != nil {
			return fmt.Errorf("encode event details: %w", err)
		}
		details = b
	}

	_, err := r.db.Exec(ctx, insertEventSQL,
		e.SessionID, string(e.Kind), e.Action, e.FromStep, e.ToStep, e.Outcome, e.ErrorCode, details, e.OccurredAt)
	if err != nil {
		r.logger.Warn("Failed to record activation event", map[string]interface{}{
			"kind":      string(e.Kind),
			"sessionId": e.SessionID,
			"error":     err.Error(),
		})
		return fmt.Errorf("insert activation event: %w", err)
	}
	return nil
}
