package numbers

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store persists phone numbers in Postgres.
type Store struct {
	pool querier
}

func NewStore(pool *pgxpool.Pool) *Store {
	if pool == nil {
		panic("numbers: pgx pool required")
	}
	return &Store{pool: pool}
}

func newStoreWithExec(exec querier) *Store {
	if exec == nil {
		panic("numbers: exec required")
	}
	return &Store{pool: exec}
}

const phoneNumberColumns = `id, org_id, e164, inbound_enabled, oncall_user_id, provider, created_at`

func scanPhoneNumber(row pgx.Row) (*PhoneNumber, error) {
	var n PhoneNumber
	err := row.Scan(&n.ID, &n.OrgID, &n.E164, &n.InboundEnabled, &n.OnCallUserID, &n.Provider, &n.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &n, nil
}

// Resolve finds the first inbound-enabled number matching the ordered
// candidate set. Candidate order is preserved in the match preference.
func (s *Store) Resolve(ctx context.Context, candidates []string) (*PhoneNumber, error) {
	if len(candidates) == 0 {
		return nil, ErrNumberNotFound
	}
	query := `
		SELECT ` + phoneNumberColumns + `
		FROM phone_numbers
		WHERE e164 = ANY($1) AND inbound_enabled
		ORDER BY array_position($1, e164)
		LIMIT 1
	`
	n, err := scanPhoneNumber(s.pool.QueryRow(ctx, query, candidates))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNumberNotFound
		}
		return nil, fmt.Errorf("numbers: resolve: %w", err)
	}
	return n, nil
}

// GetByID fetches a number scoped to the org.
func (s *Store) GetByID(ctx context.Context, orgID, id uuid.UUID) (*PhoneNumber, error) {
	query := `
		SELECT ` + phoneNumberColumns + `
		FROM phone_numbers
		WHERE id = $1 AND org_id = $2
	`
	n, err := scanPhoneNumber(s.pool.QueryRow(ctx, query, id, orgID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNumberNotFound
		}
		return nil, fmt.Errorf("numbers: get by id: %w", err)
	}
	return n, nil
}

// SetOnCallUser updates the per-number on-call override. A nil userID clears
// the override.
func (s *Store) SetOnCallUser(ctx context.Context, orgID, id uuid.UUID, userID *uuid.UUID) error {
	query := `
		UPDATE phone_numbers
		SET oncall_user_id = $3
		WHERE id = $1 AND org_id = $2
	`
	ct, err := s.pool.Exec(ctx, query, id, orgID, userID)
	if err != nil {
		return fmt.Errorf("numbers: set oncall user: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrNumberNotFound
	}
	return nil
}
