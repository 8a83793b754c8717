package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Diagnostic event codes. These are operational signals, not business data:
// dashboards and alerting consume them.
const (
	DiagNumberNotConfigured = "number_not_configured"
	DiagOnCallNotConfigured = "oncall_not_configured"
	DiagStaleOnCallCleared  = "stale_oncall_cleared"
)

// DiagEvent is one persisted diagnostic occurrence.
type DiagEvent struct {
	ID         uuid.UUID       `json:"id"`
	OrgID      *uuid.UUID      `json:"org_id,omitempty"`
	Code       string          `json:"code"`
	Detail     json.RawMessage `json:"detail"`
	OccurredAt time.Time       `json:"occurred_at"`
}

// DiagStore persists diagnostic events.
type DiagStore struct {
	pool rowQuerier
}

func NewDiagStore(pool rowQuerier) *DiagStore {
	if pool == nil {
		panic("events: pgx pool required")
	}
	return &DiagStore{pool: pool}
}

// Emit records a diagnostic event. orgID may be nil for conditions that occur
// before tenant resolution (e.g. an unconfigured number).
func (s *DiagStore) Emit(ctx context.Context, orgID *uuid.UUID, code string, detail any) error {
	data, err := json.Marshal(detail)
	if err != nil {
		return fmt.Errorf("events: marshal diag detail: %w", err)
	}
	query := `
		INSERT INTO diag_events (id, org_id, code, detail)
		VALUES ($1, $2, $3, $4)
	`
	if _, err := s.pool.Exec(ctx, query, uuid.New(), orgID, code, data); err != nil {
		return fmt.Errorf("events: insert diag event: %w", err)
	}
	return nil
}
