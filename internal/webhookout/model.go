package webhookout

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Event types the dispatcher can emit.
const (
	EventCallCompleted   = "call.completed"
	EventLeadCreated     = "lead.created"
	EventLeadQualified   = "lead.qualified"
	EventMessageReceived = "message.received"
)

// KnownEventTypes validates endpoint subscriptions.
var KnownEventTypes = map[string]bool{
	EventCallCompleted:   true,
	EventLeadCreated:     true,
	EventLeadQualified:   true,
	EventMessageReceived: true,
}

// Delivery statuses.
const (
	StatusPending   = "pending"
	StatusDelivered = "delivered"
	StatusFailed    = "failed"
)

// Endpoint is an org-scoped webhook receiver with its signing secret and
// subscribed event types. The secret leaves the server exactly once, in the
// create and rotate responses.
type Endpoint struct {
	ID         uuid.UUID `json:"id"`
	OrgID      uuid.UUID `json:"org_id"`
	URL        string    `json:"url"`
	Secret     string    `json:"secret,omitempty"`
	EventTypes []string  `json:"event_types"`
	Active     bool      `json:"active"`
	CreatedAt  time.Time `json:"created_at"`
}

// Redacted returns a copy safe for read responses.
func (e Endpoint) Redacted() Endpoint {
	e.Secret = ""
	return e
}

// Delivery is one (endpoint, event) delivery record. AttemptCount never
// exceeds the configured maximum; once delivered or failed no further
// attempts run.
type Delivery struct {
	ID           uuid.UUID       `json:"id"`
	OrgID        uuid.UUID       `json:"org_id"`
	EndpointID   uuid.UUID       `json:"endpoint_id"`
	EventType    string          `json:"event_type"`
	Payload      json.RawMessage `json:"payload"`
	Status       string          `json:"status"`
	AttemptCount int             `json:"attempt_count"`
	LastStatus   *int            `json:"last_status_code,omitempty"`
	LastResponse string          `json:"last_response,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

var (
	ErrEndpointNotFound = errors.New("webhookout: endpoint not found")
	ErrDeliveryNotFound = errors.New("webhookout: delivery not found")
)
