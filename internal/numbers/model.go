package numbers

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// PhoneNumber is an E.164 number owned by exactly one organization. It is the
// sole tenant-resolution key for inbound telephony events.
type PhoneNumber struct {
	ID             uuid.UUID  `json:"id"`
	OrgID          uuid.UUID  `json:"org_id"`
	E164           string     `json:"e164"`
	InboundEnabled bool       `json:"inbound_enabled"`
	OnCallUserID   *uuid.UUID `json:"oncall_user_id,omitempty"`
	Provider       string     `json:"provider"`
	CreatedAt      time.Time  `json:"created_at"`
}

// ErrNumberNotFound is returned when no inbound-enabled number matches any
// candidate. Callers must answer the provider with a "not configured"
// response, never an error status.
var ErrNumberNotFound = errors.New("numbers: no configured number for candidates")
