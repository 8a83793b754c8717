package intake

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// LeadStatus enumerates the lead lifecycle.
type LeadStatus string

const (
	LeadStatusNew           LeadStatus = "new"
	LeadStatusInProgress    LeadStatus = "in_progress"
	LeadStatusEngaged       LeadStatus = "engaged"
	LeadStatusIntakeStarted LeadStatus = "intake_started"
	LeadStatusQualified     LeadStatus = "qualified"
	LeadStatusUnqualified   LeadStatus = "unqualified"
	LeadStatusDisqualified  LeadStatus = "disqualified"
	LeadStatusClosed        LeadStatus = "closed"
)

// OpenLeadStatuses is the set a new inbound event may attach to. At most one
// lead per (org, contact) is ever in this set.
var OpenLeadStatuses = []string{
	string(LeadStatusNew),
	string(LeadStatusInProgress),
	string(LeadStatusEngaged),
	string(LeadStatusIntakeStarted),
}

// Priority of a lead.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// Channel of an interaction.
type Channel string

const (
	ChannelCall Channel = "call"
	ChannelSMS  Channel = "sms"
)

// InteractionStatus mirrors the call/message state machine at a coarser
// grain: a session is active until its first terminal transition.
type InteractionStatus string

const (
	InteractionActive    InteractionStatus = "active"
	InteractionCompleted InteractionStatus = "completed"
)

// Contact is a caller/sender identity scoped to one organization. Identity is
// keyed by (org_id, primary_phone) for telephony-originated contacts.
type Contact struct {
	ID           uuid.UUID `json:"id"`
	OrgID        uuid.UUID `json:"org_id"`
	Name         string    `json:"name"`
	PrimaryPhone string    `json:"primary_phone"`
	PrimaryEmail string    `json:"primary_email"`
	CreatedAt    time.Time `json:"created_at"`
}

// Lead is a case-intake opportunity owned by exactly one contact.
type Lead struct {
	ID               uuid.UUID  `json:"id"`
	OrgID            uuid.UUID  `json:"org_id"`
	ContactID        uuid.UUID  `json:"contact_id"`
	Status           LeadStatus `json:"status"`
	Priority         Priority   `json:"priority"`
	Source           string     `json:"source"`
	PracticeAreaID   *uuid.UUID `json:"practice_area_id,omitempty"`
	IncidentDate     *time.Time `json:"incident_date,omitempty"`
	IncidentLocation string     `json:"incident_location,omitempty"`
	Summary          string     `json:"summary,omitempty"`
	// IntakeStatus tracks the intake questionnaire: none, partial, complete.
	IntakeStatus string `json:"intake_status"`

	// Cached from the latest qualification run; the qualifications table is
	// the source of truth and both are written in the same transaction.
	Score       *int   `json:"score,omitempty"`
	Disposition string `json:"disposition,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// Interaction is one communication session owned by a lead.
type Interaction struct {
	ID        uuid.UUID         `json:"id"`
	OrgID     uuid.UUID         `json:"org_id"`
	LeadID    uuid.UUID         `json:"lead_id"`
	Channel   Channel           `json:"channel"`
	Status    InteractionStatus `json:"status"`
	StartedAt time.Time         `json:"started_at"`
	EndedAt   *time.Time        `json:"ended_at,omitempty"`
}

// Call is one telephony call, 1:1 with an interaction.
type Call struct {
	ID              uuid.UUID  `json:"id"`
	OrgID           uuid.UUID  `json:"org_id"`
	InteractionID   uuid.UUID  `json:"interaction_id"`
	PhoneNumberID   uuid.UUID  `json:"phone_number_id"`
	Provider        string     `json:"provider"`
	ProviderCallID  string     `json:"provider_call_id"`
	SecondaryCallID string     `json:"secondary_call_id,omitempty"`
	Direction       string     `json:"direction"`
	FromE164        string     `json:"from_e164"`
	ToE164          string     `json:"to_e164"`
	Status          string     `json:"status"`
	StartedAt       time.Time  `json:"started_at"`
	EndedAt         *time.Time `json:"ended_at,omitempty"`
	DurationSeconds *int       `json:"duration_seconds,omitempty"`
	RecordingURL    string     `json:"recording_url,omitempty"`
	TranscriptText  string     `json:"transcript_text,omitempty"`
	Outcome         string     `json:"outcome,omitempty"`
}

// Message is one SMS, attached to an interaction leg.
type Message struct {
	ID                uuid.UUID `json:"id"`
	OrgID             uuid.UUID `json:"org_id"`
	InteractionID     uuid.UUID `json:"interaction_id"`
	Provider          string    `json:"provider"`
	ProviderMessageID string    `json:"provider_message_id"`
	Direction         string    `json:"direction"`
	FromE164          string    `json:"from_e164"`
	ToE164            string    `json:"to_e164"`
	Body              string    `json:"body"`
	CreatedAt         time.Time `json:"created_at"`
}

// Conversation is the materialized result of one inbound event.
type Conversation struct {
	Contact     *Contact
	Lead        *Lead
	Interaction *Interaction
	Call        *Call
	Message     *Message
	IsNewLead   bool
	// Duplicate marks an idempotency hit: the provider event id was already
	// ingested and no new rows were written.
	Duplicate bool
}

var (
	// ErrIngestionFailed wraps persistence failures during the multi-step
	// upsert; the whole unit is rolled back before this surfaces.
	ErrIngestionFailed = errors.New("intake: ingestion failed")
	// ErrCallNotFound is returned for status callbacks naming an unknown
	// call. Handlers log it and ack the provider; retries cannot help.
	ErrCallNotFound = errors.New("intake: call not found")
)

const (
	unknownCallerName = "Unknown Caller"
	unknownSenderName = "Unknown Sender"
)
