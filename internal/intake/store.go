package intake

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PgxPool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store persists the conversation graph (contacts, leads, interactions,
// calls, messages) in Postgres. Multi-step writes run inside a caller-owned
// transaction passed as q; a nil q falls back to the pool.
type Store struct {
	pool PgxPool
}

func NewStore(pool PgxPool) *Store {
	if pool == nil {
		panic("intake: pgx pool required")
	}
	return &Store{pool: pool}
}

func (s *Store) Begin(ctx context.Context) (pgx.Tx, error) {
	return s.pool.Begin(ctx)
}

func (s *Store) querier(q Querier) Querier {
	if q == nil {
		return s.pool
	}
	return q
}

// GetOrCreateContact finds the contact keyed by (org_id, primary_phone) or
// creates it. Insert-on-conflict keeps this correct under concurrent
// duplicate webhooks: a conflicting insert re-fetches the winner's row.
func (s *Store) GetOrCreateContact(ctx context.Context, q Querier, orgID uuid.UUID, phone, name string) (*Contact, bool, error) {
	q = s.querier(q)

	insert := `
		INSERT INTO contacts (id, org_id, name, primary_phone)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (org_id, primary_phone) DO NOTHING
		RETURNING id, org_id, name, primary_phone, primary_email, created_at
	`
	var c Contact
	err := q.QueryRow(ctx, insert, uuid.New(), orgID, name, phone).
		Scan(&c.ID, &c.OrgID, &c.Name, &c.PrimaryPhone, &c.PrimaryEmail, &c.CreatedAt)
	if err == nil {
		return &c, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, fmt.Errorf("intake: insert contact: %w", err)
	}

	query := `
		SELECT id, org_id, name, primary_phone, primary_email, created_at
		FROM contacts
		WHERE org_id = $1 AND primary_phone = $2
	`
	err = q.QueryRow(ctx, query, orgID, phone).
		Scan(&c.ID, &c.OrgID, &c.Name, &c.PrimaryPhone, &c.PrimaryEmail, &c.CreatedAt)
	if err != nil {
		return nil, false, fmt.Errorf("intake: fetch contact after conflict: %w", err)
	}
	return &c, false, nil
}

const leadColumns = `id, org_id, contact_id, status, priority, source, practice_area_id,
	incident_date, incident_location, summary, intake_status, score, disposition, created_at`

func scanLead(row pgx.Row) (*Lead, error) {
	var l Lead
	err := row.Scan(
		&l.ID, &l.OrgID, &l.ContactID, &l.Status, &l.Priority, &l.Source, &l.PracticeAreaID,
		&l.IncidentDate, &l.IncidentLocation, &l.Summary, &l.IntakeStatus, &l.Score, &l.Disposition, &l.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &l, nil
}

// FindOpenLead returns the most recently created open lead for the contact,
// or nil when none exists.
func (s *Store) FindOpenLead(ctx context.Context, q Querier, orgID, contactID uuid.UUID) (*Lead, error) {
	query := `
		SELECT ` + leadColumns + `
		FROM leads
		WHERE org_id = $1 AND contact_id = $2 AND status = ANY($3)
		ORDER BY created_at DESC
		LIMIT 1
	`
	lead, err := scanLead(s.querier(q).QueryRow(ctx, query, orgID, contactID, OpenLeadStatuses))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("intake: find open lead: %w", err)
	}
	return lead, nil
}

// InsertLead inserts a new lead row.
func (s *Store) InsertLead(ctx context.Context, q Querier, lead *Lead) error {
	query := `
		INSERT INTO leads (id, org_id, contact_id, status, priority, source)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`
	err := s.querier(q).QueryRow(ctx, query,
		lead.ID, lead.OrgID, lead.ContactID, lead.Status, lead.Priority, lead.Source,
	).Scan(&lead.CreatedAt)
	if err != nil {
		return fmt.Errorf("intake: insert lead: %w", err)
	}
	return nil
}

// GetLead fetches a lead scoped to the org.
func (s *Store) GetLead(ctx context.Context, orgID, leadID uuid.UUID) (*Lead, error) {
	query := `
		SELECT ` + leadColumns + `
		FROM leads
		WHERE id = $1 AND org_id = $2
	`
	lead, err := scanLead(s.pool.QueryRow(ctx, query, leadID, orgID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("intake: lead %s: %w", leadID, pgx.ErrNoRows)
		}
		return nil, fmt.Errorf("intake: get lead: %w", err)
	}
	return lead, nil
}

// GetContact fetches a contact scoped to the org.
func (s *Store) GetContact(ctx context.Context, orgID, contactID uuid.UUID) (*Contact, error) {
	query := `
		SELECT id, org_id, name, primary_phone, primary_email, created_at
		FROM contacts
		WHERE id = $1 AND org_id = $2
	`
	var c Contact
	err := s.pool.QueryRow(ctx, query, contactID, orgID).
		Scan(&c.ID, &c.OrgID, &c.Name, &c.PrimaryPhone, &c.PrimaryEmail, &c.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("intake: get contact: %w", err)
	}
	return &c, nil
}

// UpdateLeadStatus transitions a lead's status.
func (s *Store) UpdateLeadStatus(ctx context.Context, q Querier, orgID, leadID uuid.UUID, status LeadStatus) error {
	query := `
		UPDATE leads
		SET status = $3
		WHERE id = $1 AND org_id = $2
	`
	if _, err := s.querier(q).Exec(ctx, query, leadID, orgID, status); err != nil {
		return fmt.Errorf("intake: update lead status: %w", err)
	}
	return nil
}

// FindOpenInteraction returns the active interaction for (lead, channel), or
// nil when none is open.
func (s *Store) FindOpenInteraction(ctx context.Context, q Querier, leadID uuid.UUID, channel Channel) (*Interaction, error) {
	query := `
		SELECT id, org_id, lead_id, channel, status, started_at, ended_at
		FROM interactions
		WHERE lead_id = $1 AND channel = $2 AND status = 'active'
		ORDER BY started_at DESC
		LIMIT 1
	`
	var i Interaction
	err := s.querier(q).QueryRow(ctx, query, leadID, channel).
		Scan(&i.ID, &i.OrgID, &i.LeadID, &i.Channel, &i.Status, &i.StartedAt, &i.EndedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("intake: find open interaction: %w", err)
	}
	return &i, nil
}

// InsertInteraction inserts a new interaction row.
func (s *Store) InsertInteraction(ctx context.Context, q Querier, i *Interaction) error {
	query := `
		INSERT INTO interactions (id, org_id, lead_id, channel, status, started_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	if _, err := s.querier(q).Exec(ctx, query, i.ID, i.OrgID, i.LeadID, i.Channel, i.Status, i.StartedAt); err != nil {
		return fmt.Errorf("intake: insert interaction: %w", err)
	}
	return nil
}

// GetInteraction fetches an interaction by id.
func (s *Store) GetInteraction(ctx context.Context, q Querier, id uuid.UUID) (*Interaction, error) {
	query := `
		SELECT id, org_id, lead_id, channel, status, started_at, ended_at
		FROM interactions
		WHERE id = $1
	`
	var i Interaction
	err := s.querier(q).QueryRow(ctx, query, id).
		Scan(&i.ID, &i.OrgID, &i.LeadID, &i.Channel, &i.Status, &i.StartedAt, &i.EndedAt)
	if err != nil {
		return nil, fmt.Errorf("intake: get interaction: %w", err)
	}
	return &i, nil
}

const callColumns = `id, org_id, interaction_id, phone_number_id, provider, provider_call_id,
	secondary_call_id, direction, from_e164, to_e164, status, started_at, ended_at,
	duration_seconds, recording_url, transcript_text, outcome`

func scanCall(row pgx.Row) (*Call, error) {
	var c Call
	err := row.Scan(
		&c.ID, &c.OrgID, &c.InteractionID, &c.PhoneNumberID, &c.Provider, &c.ProviderCallID,
		&c.SecondaryCallID, &c.Direction, &c.FromE164, &c.ToE164, &c.Status, &c.StartedAt, &c.EndedAt,
		&c.DurationSeconds, &c.RecordingURL, &c.TranscriptText, &c.Outcome,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// FindCallByProviderID matches a call by its provider-assigned id, falling
// back to the secondary id some providers emit later in the call lifecycle.
// Returns nil when no call matches.
func (s *Store) FindCallByProviderID(ctx context.Context, q Querier, provider, callID, secondaryID string) (*Call, error) {
	query := `
		SELECT ` + callColumns + `
		FROM calls
		WHERE provider = $1
		  AND (provider_call_id = $2
		       OR secondary_call_id = NULLIF($2, '')
		       OR provider_call_id = NULLIF($3, ''))
		LIMIT 1
	`
	call, err := scanCall(s.querier(q).QueryRow(ctx, query, provider, callID, secondaryID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("intake: find call: %w", err)
	}
	return call, nil
}

// InsertCall inserts a call row. Returns false when the (provider,
// provider_call_id) pair already exists — the idempotency invariant.
func (s *Store) InsertCall(ctx context.Context, q Querier, c *Call) (bool, error) {
	query := `
		INSERT INTO calls (
			id, org_id, interaction_id, phone_number_id, provider, provider_call_id,
			secondary_call_id, direction, from_e164, to_e164, status, started_at,
			ended_at, duration_seconds, recording_url, transcript_text, outcome
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
		ON CONFLICT (provider, provider_call_id) DO NOTHING
	`
	ct, err := s.querier(q).Exec(ctx, query,
		c.ID, c.OrgID, c.InteractionID, c.PhoneNumberID, c.Provider, c.ProviderCallID,
		c.SecondaryCallID, c.Direction, c.FromE164, c.ToE164, c.Status, c.StartedAt,
		c.EndedAt, c.DurationSeconds, c.RecordingURL, c.TranscriptText, c.Outcome,
	)
	if err != nil {
		return false, fmt.Errorf("intake: insert call: %w", err)
	}
	return ct.RowsAffected() > 0, nil
}

// ListCallsByLead returns a lead's calls, oldest first.
func (s *Store) ListCallsByLead(ctx context.Context, orgID, leadID uuid.UUID) ([]Call, error) {
	query := `
		SELECT c.id, c.org_id, c.interaction_id, c.phone_number_id, c.provider, c.provider_call_id,
			c.secondary_call_id, c.direction, c.from_e164, c.to_e164, c.status, c.started_at, c.ended_at,
			c.duration_seconds, c.recording_url, c.transcript_text, c.outcome
		FROM calls c
		JOIN interactions i ON i.id = c.interaction_id
		WHERE i.lead_id = $1 AND c.org_id = $2
		ORDER BY c.started_at
	`
	rows, err := s.pool.Query(ctx, query, leadID, orgID)
	if err != nil {
		return nil, fmt.Errorf("intake: list calls: %w", err)
	}
	defer rows.Close()

	var calls []Call
	for rows.Next() {
		var c Call
		if err := rows.Scan(
			&c.ID, &c.OrgID, &c.InteractionID, &c.PhoneNumberID, &c.Provider, &c.ProviderCallID,
			&c.SecondaryCallID, &c.Direction, &c.FromE164, &c.ToE164, &c.Status, &c.StartedAt, &c.EndedAt,
			&c.DurationSeconds, &c.RecordingURL, &c.TranscriptText, &c.Outcome,
		); err != nil {
			return nil, fmt.Errorf("intake: scan call: %w", err)
		}
		calls = append(calls, c)
	}
	return calls, rows.Err()
}

// UpdateCallProgress records a non-terminal status change.
func (s *Store) UpdateCallProgress(ctx context.Context, q Querier, callID uuid.UUID, status string) error {
	query := `
		UPDATE calls
		SET status = $2
		WHERE id = $1 AND ended_at IS NULL
	`
	if _, err := s.querier(q).Exec(ctx, query, callID, status); err != nil {
		return fmt.Errorf("intake: update call progress: %w", err)
	}
	return nil
}

// TerminalizeCall applies the first terminal transition: sets status,
// ended_at and duration, and merges surface data. The ended_at IS NULL guard
// makes the transition happen exactly once; a false return means the call was
// already terminal.
func (s *Store) TerminalizeCall(ctx context.Context, q Querier, callID uuid.UUID, status string, endedAt time.Time, duration *int, recordingURL, transcript string) (bool, error) {
	query := `
		UPDATE calls
		SET status = $2,
			outcome = $2,
			ended_at = $3,
			duration_seconds = COALESCE($4, duration_seconds, EXTRACT(EPOCH FROM ($3 - started_at))::int),
			recording_url = COALESCE(NULLIF($5, ''), recording_url),
			transcript_text = COALESCE(NULLIF($6, ''), transcript_text)
		WHERE id = $1 AND ended_at IS NULL
	`
	ct, err := s.querier(q).Exec(ctx, query, callID, status, endedAt, duration, recordingURL, transcript)
	if err != nil {
		return false, fmt.Errorf("intake: terminalize call: %w", err)
	}
	return ct.RowsAffected() > 0, nil
}

// UpdateCallSurface merges late-arriving surface data (recording URL,
// transcript, duration) without touching lifecycle state. Used for callbacks
// that arrive after the call is already terminal.
func (s *Store) UpdateCallSurface(ctx context.Context, q Querier, callID uuid.UUID, duration *int, recordingURL, transcript string) error {
	query := `
		UPDATE calls
		SET duration_seconds = COALESCE($2, duration_seconds),
			recording_url = COALESCE(NULLIF($3, ''), recording_url),
			transcript_text = COALESCE(NULLIF($4, ''), transcript_text)
		WHERE id = $1
	`
	if _, err := s.querier(q).Exec(ctx, query, callID, duration, recordingURL, transcript); err != nil {
		return fmt.Errorf("intake: update call surface: %w", err)
	}
	return nil
}

// CompleteInteraction mirrors a call's terminal transition onto its owning
// interaction. ended_at is set at most once.
func (s *Store) CompleteInteraction(ctx context.Context, q Querier, interactionID uuid.UUID, endedAt time.Time) error {
	query := `
		UPDATE interactions
		SET status = 'completed', ended_at = $2
		WHERE id = $1 AND ended_at IS NULL
	`
	if _, err := s.querier(q).Exec(ctx, query, interactionID, endedAt); err != nil {
		return fmt.Errorf("intake: complete interaction: %w", err)
	}
	return nil
}

// FindMessageByProviderID returns the message with the given provider id, or
// nil when none exists.
func (s *Store) FindMessageByProviderID(ctx context.Context, q Querier, provider, messageID string) (*Message, error) {
	query := `
		SELECT id, org_id, interaction_id, provider, provider_message_id, direction,
			from_e164, to_e164, body, created_at
		FROM messages
		WHERE provider = $1 AND provider_message_id = $2
	`
	var m Message
	err := s.querier(q).QueryRow(ctx, query, provider, messageID).
		Scan(&m.ID, &m.OrgID, &m.InteractionID, &m.Provider, &m.ProviderMessageID, &m.Direction,
			&m.FromE164, &m.ToE164, &m.Body, &m.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("intake: find message: %w", err)
	}
	return &m, nil
}

// InsertMessage inserts a message row. Returns false on an idempotency hit.
func (s *Store) InsertMessage(ctx context.Context, q Querier, m *Message) (bool, error) {
	query := `
		INSERT INTO messages (
			id, org_id, interaction_id, provider, provider_message_id, direction,
			from_e164, to_e164, body, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (provider, provider_message_id) DO NOTHING
	`
	ct, err := s.querier(q).Exec(ctx, query,
		m.ID, m.OrgID, m.InteractionID, m.Provider, m.ProviderMessageID, m.Direction,
		m.FromE164, m.ToE164, m.Body, m.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("intake: insert message: %w", err)
	}
	return ct.RowsAffected() > 0, nil
}
