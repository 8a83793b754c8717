package telephony

import (
	"strconv"
	"strings"
	"time"
)

// PlivoAdapter normalizes Plivo voice and SMS webhooks. Plivo posts
// form-encoded bodies with its own field vocabulary (CallUUID, CallStatus
// values like "timeout" and "cancel").
type PlivoAdapter struct{}

func (PlivoAdapter) Name() string { return "plivo" }

func (a PlivoAdapter) Normalize(kind EventKind, p Payload) (*CallEvent, error) {
	if kind == KindMessage {
		return a.normalizeMessage(p)
	}
	return a.normalizeCall(p)
}

func (a PlivoAdapter) normalizeCall(p Payload) (*CallEvent, error) {
	callUUID := strings.TrimSpace(p.Form.Get("CallUUID"))
	from := strings.TrimSpace(p.Form.Get("From"))
	to := strings.TrimSpace(p.Form.Get("To"))
	if callUUID == "" {
		return nil, missingField("plivo", "CallUUID")
	}
	if from == "" {
		return nil, missingField("plivo", "From")
	}
	if to == "" {
		return nil, missingField("plivo", "To")
	}

	evt := &CallEvent{
		ProviderCallID:  callUUID,
		SecondaryCallID: strings.TrimSpace(p.Form.Get("RequestUUID")),
		From:            from,
		To:              to,
		Direction:       plivoDirection(p.Form.Get("Direction")),
		Status:          plivoStatus(p.Form.Get("CallStatus"), p.Form.Get("Event")),
		RecordingURL:    strings.TrimSpace(p.Form.Get("RecordUrl")),
		OccurredAt:      time.Now().UTC(),
	}
	if v := strings.TrimSpace(p.Form.Get("Duration")); v != "" {
		if secs, err := strconv.Atoi(v); err == nil {
			evt.DurationSeconds = &secs
		}
	}
	return evt, nil
}

func (a PlivoAdapter) normalizeMessage(p Payload) (*CallEvent, error) {
	messageUUID := strings.TrimSpace(p.Form.Get("MessageUUID"))
	from := strings.TrimSpace(p.Form.Get("From"))
	to := strings.TrimSpace(p.Form.Get("To"))
	if messageUUID == "" {
		return nil, missingField("plivo", "MessageUUID")
	}
	if from == "" {
		return nil, missingField("plivo", "From")
	}
	if to == "" {
		return nil, missingField("plivo", "To")
	}
	return &CallEvent{
		MessageID:  messageUUID,
		From:       from,
		To:         to,
		Direction:  DirectionInbound,
		Body:       p.Form.Get("Text"),
		OccurredAt: time.Now().UTC(),
	}, nil
}

func plivoDirection(v string) Direction {
	if strings.EqualFold(strings.TrimSpace(v), "outbound") {
		return DirectionOutbound
	}
	return DirectionInbound
}

func plivoStatus(callStatus, event string) CallStatus {
	switch strings.ToLower(strings.TrimSpace(callStatus)) {
	case "queued":
		return StatusQueued
	case "ringing":
		return StatusRinging
	case "in-progress":
		return StatusInProgress
	case "completed":
		return StatusCompleted
	case "busy":
		return StatusBusy
	case "timeout", "no-answer":
		return StatusNoAnswer
	case "cancel", "canceled":
		return StatusCanceled
	case "failed":
		return StatusFailed
	}
	// Some Plivo callbacks carry only an Event field.
	switch strings.ToLower(strings.TrimSpace(event)) {
	case "startapp":
		return StatusRinging
	case "hangup":
		return StatusCompleted
	}
	// Unrecognized statuses pass through untouched so a new provider state
	// never regresses a call to ringing.
	if s := strings.ToLower(strings.TrimSpace(callStatus)); s != "" {
		return CallStatus(s)
	}
	return CallStatus(strings.ToLower(strings.TrimSpace(event)))
}
