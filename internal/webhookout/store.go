package webhookout

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store persists webhook endpoints and delivery records.
type Store struct {
	pool querier
}

func NewStore(pool querier) *Store {
	if pool == nil {
		panic("webhookout: pgx pool required")
	}
	return &Store{pool: pool}
}

const endpointColumns = `id, org_id, url, secret, event_types, active, created_at`

func scanEndpoint(row pgx.Row) (*Endpoint, error) {
	var e Endpoint
	err := row.Scan(&e.ID, &e.OrgID, &e.URL, &e.Secret, &e.EventTypes, &e.Active, &e.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// CreateEndpoint inserts a new endpoint with its generated secret.
func (s *Store) CreateEndpoint(ctx context.Context, e *Endpoint) error {
	query := `
		INSERT INTO webhook_endpoints (id, org_id, url, secret, event_types, active)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`
	err := s.pool.QueryRow(ctx, query, e.ID, e.OrgID, e.URL, e.Secret, e.EventTypes, e.Active).
		Scan(&e.CreatedAt)
	if err != nil {
		return fmt.Errorf("webhookout: create endpoint: %w", err)
	}
	return nil
}

// GetEndpoint fetches an endpoint scoped to the org.
func (s *Store) GetEndpoint(ctx context.Context, orgID, id uuid.UUID) (*Endpoint, error) {
	query := `SELECT ` + endpointColumns + ` FROM webhook_endpoints WHERE id = $1 AND org_id = $2`
	e, err := scanEndpoint(s.pool.QueryRow(ctx, query, id, orgID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrEndpointNotFound
		}
		return nil, fmt.Errorf("webhookout: get endpoint: %w", err)
	}
	return e, nil
}

// ListEndpoints returns the org's endpoints, newest first.
func (s *Store) ListEndpoints(ctx context.Context, orgID uuid.UUID) ([]Endpoint, error) {
	query := `SELECT ` + endpointColumns + ` FROM webhook_endpoints WHERE org_id = $1 ORDER BY created_at DESC`
	rows, err := s.pool.Query(ctx, query, orgID)
	if err != nil {
		return nil, fmt.Errorf("webhookout: list endpoints: %w", err)
	}
	defer rows.Close()

	var out []Endpoint
	for rows.Next() {
		var e Endpoint
		if err := rows.Scan(&e.ID, &e.OrgID, &e.URL, &e.Secret, &e.EventTypes, &e.Active, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("webhookout: scan endpoint: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// ListSubscribed returns active endpoints subscribed to eventType.
func (s *Store) ListSubscribed(ctx context.Context, orgID uuid.UUID, eventType string) ([]Endpoint, error) {
	query := `
		SELECT ` + endpointColumns + `
		FROM webhook_endpoints
		WHERE org_id = $1 AND active AND $2 = ANY(event_types)
	`
	rows, err := s.pool.Query(ctx, query, orgID, eventType)
	if err != nil {
		return nil, fmt.Errorf("webhookout: list subscribed: %w", err)
	}
	defer rows.Close()

	var out []Endpoint
	for rows.Next() {
		var e Endpoint
		if err := rows.Scan(&e.ID, &e.OrgID, &e.URL, &e.Secret, &e.EventTypes, &e.Active, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("webhookout: scan endpoint: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// DeleteEndpoint removes an endpoint.
func (s *Store) DeleteEndpoint(ctx context.Context, orgID, id uuid.UUID) error {
	ct, err := s.pool.Exec(ctx, `DELETE FROM webhook_endpoints WHERE id = $1 AND org_id = $2`, id, orgID)
	if err != nil {
		return fmt.Errorf("webhookout: delete endpoint: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrEndpointNotFound
	}
	return nil
}

// RotateSecret replaces the endpoint's signing secret. All future deliveries
// sign with the new secret immediately.
func (s *Store) RotateSecret(ctx context.Context, orgID, id uuid.UUID, secret string) error {
	ct, err := s.pool.Exec(ctx,
		`UPDATE webhook_endpoints SET secret = $3 WHERE id = $1 AND org_id = $2`, id, orgID, secret)
	if err != nil {
		return fmt.Errorf("webhookout: rotate secret: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrEndpointNotFound
	}
	return nil
}

const deliveryColumns = `id, org_id, endpoint_id, event_type, payload, status, attempt_count,
	last_status_code, last_response, created_at, updated_at`

func scanDelivery(row pgx.Row) (*Delivery, error) {
	var d Delivery
	err := row.Scan(&d.ID, &d.OrgID, &d.EndpointID, &d.EventType, &d.Payload, &d.Status, &d.AttemptCount,
		&d.LastStatus, &d.LastResponse, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// CreateDelivery inserts a pending delivery row.
func (s *Store) CreateDelivery(ctx context.Context, d *Delivery) error {
	query := `
		INSERT INTO webhook_deliveries (id, org_id, endpoint_id, event_type, payload, status, attempt_count)
		VALUES ($1, $2, $3, $4, $5, $6, 0)
		RETURNING created_at, updated_at
	`
	err := s.pool.QueryRow(ctx, query, d.ID, d.OrgID, d.EndpointID, d.EventType, []byte(d.Payload), d.Status).
		Scan(&d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return fmt.Errorf("webhookout: create delivery: %w", err)
	}
	return nil
}

// GetDelivery fetches a delivery by id.
func (s *Store) GetDelivery(ctx context.Context, id uuid.UUID) (*Delivery, error) {
	query := `SELECT ` + deliveryColumns + ` FROM webhook_deliveries WHERE id = $1`
	d, err := scanDelivery(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDeliveryNotFound
		}
		return nil, fmt.Errorf("webhookout: get delivery: %w", err)
	}
	return d, nil
}

// ListDeliveries returns an endpoint's deliveries, newest first.
func (s *Store) ListDeliveries(ctx context.Context, orgID, endpointID uuid.UUID, limit int) ([]Delivery, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	query := `
		SELECT ` + deliveryColumns + `
		FROM webhook_deliveries
		WHERE endpoint_id = $1 AND org_id = $2
		ORDER BY created_at DESC
		LIMIT $3
	`
	rows, err := s.pool.Query(ctx, query, endpointID, orgID, limit)
	if err != nil {
		return nil, fmt.Errorf("webhookout: list deliveries: %w", err)
	}
	defer rows.Close()

	var out []Delivery
	for rows.Next() {
		var d Delivery
		if err := rows.Scan(&d.ID, &d.OrgID, &d.EndpointID, &d.EventType, &d.Payload, &d.Status, &d.AttemptCount,
			&d.LastStatus, &d.LastResponse, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, fmt.Errorf("webhookout: scan delivery: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// ListPendingDeliveryIDs returns deliveries stranded mid-retry, oldest first.
// A process that dies between attempts leaves its deliveries pending; restart
// recovery re-schedules them from here.
func (s *Store) ListPendingDeliveryIDs(ctx context.Context, limit int) ([]uuid.UUID, error) {
	if limit <= 0 {
		limit = 500
	}
	query := `
		SELECT id
		FROM webhook_deliveries
		WHERE status = $1
		ORDER BY created_at
		LIMIT $2
	`
	rows, err := s.pool.Query(ctx, query, StatusPending, limit)
	if err != nil {
		return nil, fmt.Errorf("webhookout: list pending deliveries: %w", err)
	}
	defer rows.Close()

	var out []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("webhookout: scan delivery id: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// RecordAttempt bumps the attempt counter and stores the outcome. status is
// the delivery's new lifecycle state.
func (s *Store) RecordAttempt(ctx context.Context, id uuid.UUID, status string, httpStatus *int, response string) error {
	query := `
		UPDATE webhook_deliveries
		SET status = $2,
			attempt_count = attempt_count + 1,
			last_status_code = $3,
			last_response = $4,
			updated_at = now()
		WHERE id = $1
	`
	if _, err := s.pool.Exec(ctx, query, id, status, httpStatus, truncateResponse(response)); err != nil {
		return fmt.Errorf("webhookout: record attempt: %w", err)
	}
	return nil
}

func truncateResponse(s string) string {
	const max = 512
	if len(s) <= max {
		return s
	}
	return s[:max]
}
