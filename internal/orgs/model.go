package orgs

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Organization is the tenant root. Slug is globally unique and immutable.
type Organization struct {
	ID                   uuid.UUID  `json:"id"`
	Name                 string     `json:"name"`
	Slug                 string     `json:"slug"`
	Timezone             string     `json:"timezone"`
	OnCallUserID         *uuid.UUID `json:"oncall_user_id,omitempty"`
	PrimaryPhoneNumberID *uuid.UUID `json:"primary_phone_number_id,omitempty"`
	CreatedAt            time.Time  `json:"created_at"`
}

// User is an org member. Deactivated users are treated as absent for on-call
// routing.
type User struct {
	ID     uuid.UUID `json:"id"`
	OrgID  uuid.UUID `json:"org_id"`
	Name   string    `json:"name"`
	Email  string    `json:"email"`
	Active bool      `json:"active"`
}

var (
	ErrOrgNotFound  = errors.New("orgs: organization not found")
	ErrUserNotFound = errors.New("orgs: user not found")
	// ErrUserInactive is returned when an on-call assignment targets a
	// deactivated user.
	ErrUserInactive = errors.New("orgs: user is not active")
)
