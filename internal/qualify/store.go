package qualify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Qualification is the live scoring record for a lead. At most one row per
// lead; each scorer run overwrites it.
type Qualification struct {
	ID          uuid.UUID   `json:"id"`
	OrgID       uuid.UUID   `json:"org_id"`
	LeadID      uuid.UUID   `json:"lead_id"`
	Score       int         `json:"score"`
	Disposition Disposition `json:"disposition"`
	Confidence  int         `json:"confidence"`
	Reasons     Reasons     `json:"reasons"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// ErrQualificationNotFound is returned when a lead has never been scored.
var ErrQualificationNotFound = errors.New("qualify: qualification not found")

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type pgxPool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store persists qualifications and keeps the lead's cached score and
// disposition in sync. The qualifications table is the source of truth; the
// lead columns are a read optimization written in the same transaction.
type Store struct {
	pool pgxPool
}

func NewStore(pool pgxPool) *Store {
	if pool == nil {
		panic("qualify: pgx pool required")
	}
	return &Store{pool: pool}
}

// Get fetches the live qualification for a lead.
func (s *Store) Get(ctx context.Context, orgID, leadID uuid.UUID) (*Qualification, error) {
	query := `
		SELECT id, org_id, lead_id, score, disposition, confidence, reasons, created_at, updated_at
		FROM qualifications
		WHERE lead_id = $1 AND org_id = $2
	`
	return scanQualification(s.pool.QueryRow(ctx, query, leadID, orgID))
}

// Save upserts the qualification and updates the lead's cached score,
// disposition and (when newStatus is non-empty) status in one transaction.
func (s *Store) Save(ctx context.Context, q *Qualification, newStatus string) error {
	reasons, err := json.Marshal(q.Reasons)
	if err != nil {
		return fmt.Errorf("qualify: marshal reasons: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("qualify: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	upsert := `
		INSERT INTO qualifications (id, org_id, lead_id, score, disposition, confidence, reasons)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (lead_id) DO UPDATE SET
			score = EXCLUDED.score,
			disposition = EXCLUDED.disposition,
			confidence = EXCLUDED.confidence,
			reasons = EXCLUDED.reasons,
			updated_at = now()
		RETURNING id, created_at, updated_at
	`
	err = tx.QueryRow(ctx, upsert, q.ID, q.OrgID, q.LeadID, q.Score, q.Disposition, q.Confidence, reasons).
		Scan(&q.ID, &q.CreatedAt, &q.UpdatedAt)
	if err != nil {
		return fmt.Errorf("qualify: upsert qualification: %w", err)
	}

	if newStatus != "" {
		update := `
			UPDATE leads
			SET score = $3, disposition = $4, status = $5
			WHERE id = $1 AND org_id = $2
		`
		if _, err := tx.Exec(ctx, update, q.LeadID, q.OrgID, q.Score, q.Disposition, newStatus); err != nil {
			return fmt.Errorf("qualify: update lead cache: %w", err)
		}
	} else {
		update := `
			UPDATE leads
			SET score = $3, disposition = $4
			WHERE id = $1 AND org_id = $2
		`
		if _, err := tx.Exec(ctx, update, q.LeadID, q.OrgID, q.Score, q.Disposition); err != nil {
			return fmt.Errorf("qualify: update lead cache: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("qualify: commit: %w", err)
	}
	return nil
}

func scanQualification(row pgx.Row) (*Qualification, error) {
	var (
		q       Qualification
		reasons []byte
	)
	err := row.Scan(&q.ID, &q.OrgID, &q.LeadID, &q.Score, &q.Disposition, &q.Confidence, &reasons, &q.CreatedAt, &q.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrQualificationNotFound
		}
		return nil, fmt.Errorf("qualify: scan qualification: %w", err)
	}
	if err := json.Unmarshal(reasons, &q.Reasons); err != nil {
		return nil, fmt.Errorf("qualify: decode reasons: %w", err)
	}
	return &q, nil
}
