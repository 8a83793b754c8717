package orgs

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

// Store persists organizations and users in Postgres.
type Store struct {
	pool querier
}

func NewStore(pool *pgxpool.Pool) *Store {
	if pool == nil {
		panic("orgs: pgx pool required")
	}
	return &Store{pool: pool}
}

func newStoreWithExec(exec querier) *Store {
	if exec == nil {
		panic("orgs: exec required")
	}
	return &Store{pool: exec}
}

// Get fetches an organization by id.
func (s *Store) Get(ctx context.Context, orgID uuid.UUID) (*Organization, error) {
	query := `
		SELECT id, name, slug, timezone, oncall_user_id, primary_phone_number_id, created_at
		FROM organizations
		WHERE id = $1
	`
	var org Organization
	err := s.pool.QueryRow(ctx, query, orgID).Scan(
		&org.ID,
		&org.Name,
		&org.Slug,
		&org.Timezone,
		&org.OnCallUserID,
		&org.PrimaryPhoneNumberID,
		&org.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrgNotFound
		}
		return nil, fmt.Errorf("orgs: get org: %w", err)
	}
	return &org, nil
}

// GetActiveUser fetches a user scoped to the org, requiring the active flag.
// Deactivated or missing users both surface ErrUserNotFound so callers treat
// stale references uniformly.
func (s *Store) GetActiveUser(ctx context.Context, orgID, userID uuid.UUID) (*User, error) {
	query := `
		SELECT id, org_id, name, email, active
		FROM users
		WHERE id = $1 AND org_id = $2 AND active
	`
	var u User
	err := s.pool.QueryRow(ctx, query, userID, orgID).Scan(&u.ID, &u.OrgID, &u.Name, &u.Email, &u.Active)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("orgs: get active user: %w", err)
	}
	return &u, nil
}

// ListActiveUsers returns all active users in the org (broadcast targets).
func (s *Store) ListActiveUsers(ctx context.Context, orgID uuid.UUID) ([]User, error) {
	query := `
		SELECT id, org_id, name, email, active
		FROM users
		WHERE org_id = $1 AND active
		ORDER BY name
	`
	rows, err := s.pool.Query(ctx, query, orgID)
	if err != nil {
		return nil, fmt.Errorf("orgs: list active users: %w", err)
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.OrgID, &u.Name, &u.Email, &u.Active); err != nil {
			return nil, fmt.Errorf("orgs: scan user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// SetOnCallUser points the org-level on-call at a user. The target must be an
// active member of the org. A nil userID clears the pointer.
func (s *Store) SetOnCallUser(ctx context.Context, orgID uuid.UUID, userID *uuid.UUID) error {
	if userID != nil {
		if _, err := s.GetActiveUser(ctx, orgID, *userID); err != nil {
			if errors.Is(err, ErrUserNotFound) {
				return ErrUserInactive
			}
			return err
		}
	}
	query := `
		UPDATE organizations
		SET oncall_user_id = $2
		WHERE id = $1
	`
	ct, err := s.pool.Exec(ctx, query, orgID, userID)
	if err != nil {
		return fmt.Errorf("orgs: set oncall user: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrOrgNotFound
	}
	return nil
}

// ClearOnCallUser removes a stale org-level on-call pointer. Used by the
// on-call router to self-heal references to deactivated users.
func (s *Store) ClearOnCallUser(ctx context.Context, orgID uuid.UUID) error {
	query := `
		UPDATE organizations
		SET oncall_user_id = NULL
		WHERE id = $1
	`
	if _, err := s.pool.Exec(ctx, query, orgID); err != nil {
		return fmt.Errorf("orgs: clear oncall user: %w", err)
	}
	return nil
}
