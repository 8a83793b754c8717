package telephony

import (
	"errors"
	"fmt"
	"time"
)

// EventKind identifies which webhook family produced a normalized event.
type EventKind string

const (
	KindCallInitiated EventKind = "call.initiated"
	KindCallStatus    EventKind = "call.status"
	KindCallRecording EventKind = "call.recording"
	KindCallReport    EventKind = "call.report"
	KindMessage       EventKind = "message.received"
)

// Direction of a call or message leg.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// CallStatus is the canonical call state shared by every provider adapter.
type CallStatus string

const (
	StatusQueued     CallStatus = "queued"
	StatusRinging    CallStatus = "ringing"
	StatusInProgress CallStatus = "in-progress"
	StatusCompleted  CallStatus = "completed"
	StatusBusy       CallStatus = "busy"
	StatusNoAnswer   CallStatus = "no-answer"
	StatusCanceled   CallStatus = "canceled"
	StatusFailed     CallStatus = "failed"
)

// IsTerminal reports whether the status ends the call lifecycle.
func (s CallStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusBusy, StatusNoAnswer, StatusCanceled, StatusFailed:
		return true
	default:
		return false
	}
}

// CallEvent is the canonical shape every provider payload is mapped into.
// Downstream ingestion never sees provider-specific field names.
type CallEvent struct {
	Provider        string
	Kind            EventKind
	ProviderCallID  string
	SecondaryCallID string
	MessageID       string

	From         string
	To           string
	ToCandidates []string

	Direction  Direction
	Status     CallStatus
	CallerName string

	// Optional surface data; absent fields stay zero.
	DurationSeconds *int
	RecordingURL    string
	TranscriptText  string
	Body            string

	OccurredAt time.Time
}

// MissingFieldError is returned when a payload lacks one of the fields every
// downstream step requires (call id, from, to). Normalization fails closed
// rather than substituting placeholders.
type MissingFieldError struct {
	Provider string
	Field    string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("telephony: %s payload missing required field %q", e.Provider, e.Field)
}

func missingField(provider, field string) error {
	return &MissingFieldError{Provider: provider, Field: field}
}

// ErrUnknownProvider is returned by the registry for unregistered providers.
var ErrUnknownProvider = errors.New("telephony: unknown provider")
