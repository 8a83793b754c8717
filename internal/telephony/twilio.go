package telephony

import (
	"strconv"
	"strings"
	"time"
)

// TwilioAdapter normalizes Twilio voice, status, recording, and SMS webhooks.
// Twilio posts application/x-www-form-urlencoded bodies.
type TwilioAdapter struct{}

func (TwilioAdapter) Name() string { return "twilio" }

func (a TwilioAdapter) Normalize(kind EventKind, p Payload) (*CallEvent, error) {
	if kind == KindMessage {
		return a.normalizeMessage(p)
	}
	return a.normalizeCall(p)
}

func (a TwilioAdapter) normalizeCall(p Payload) (*CallEvent, error) {
	callSid := strings.TrimSpace(p.Form.Get("CallSid"))
	from := strings.TrimSpace(p.Form.Get("From"))
	to := strings.TrimSpace(p.Form.Get("To"))
	if callSid == "" {
		return nil, missingField("twilio", "CallSid")
	}
	if from == "" {
		return nil, missingField("twilio", "From")
	}
	if to == "" {
		return nil, missingField("twilio", "To")
	}

	evt := &CallEvent{
		ProviderCallID:  callSid,
		SecondaryCallID: strings.TrimSpace(p.Form.Get("ParentCallSid")),
		From:            from,
		To:              to,
		CallerName:      strings.TrimSpace(p.Form.Get("CallerName")),
		Direction:       twilioDirection(p.Form.Get("Direction")),
		Status:          twilioStatus(p.Form.Get("CallStatus")),
		RecordingURL:    strings.TrimSpace(p.Form.Get("RecordingUrl")),
		OccurredAt:      time.Now().UTC(),
	}
	if v := strings.TrimSpace(p.Form.Get("CallDuration")); v != "" {
		if secs, err := strconv.Atoi(v); err == nil {
			evt.DurationSeconds = &secs
		}
	} else if v := strings.TrimSpace(p.Form.Get("RecordingDuration")); v != "" {
		if secs, err := strconv.Atoi(v); err == nil {
			evt.DurationSeconds = &secs
		}
	}
	return evt, nil
}

func (a TwilioAdapter) normalizeMessage(p Payload) (*CallEvent, error) {
	messageSid := strings.TrimSpace(p.Form.Get("MessageSid"))
	if messageSid == "" {
		messageSid = strings.TrimSpace(p.Form.Get("SmsSid"))
	}
	from := strings.TrimSpace(p.Form.Get("From"))
	to := strings.TrimSpace(p.Form.Get("To"))
	if messageSid == "" {
		return nil, missingField("twilio", "MessageSid")
	}
	if from == "" {
		return nil, missingField("twilio", "From")
	}
	if to == "" {
		return nil, missingField("twilio", "To")
	}
	return &CallEvent{
		MessageID:  messageSid,
		From:       from,
		To:         to,
		Direction:  DirectionInbound,
		Body:       p.Form.Get("Body"),
		OccurredAt: time.Now().UTC(),
	}, nil
}

func twilioDirection(v string) Direction {
	if strings.HasPrefix(strings.ToLower(strings.TrimSpace(v)), "outbound") {
		return DirectionOutbound
	}
	return DirectionInbound
}

func twilioStatus(v string) CallStatus {
	s := strings.ToLower(strings.TrimSpace(v))
	switch s {
	case "queued", "initiated":
		return StatusQueued
	case "ringing":
		return StatusRinging
	case "in-progress", "answered":
		return StatusInProgress
	case "completed":
		return StatusCompleted
	case "busy":
		return StatusBusy
	case "no-answer":
		return StatusNoAnswer
	case "canceled":
		return StatusCanceled
	case "failed":
		return StatusFailed
	default:
		// Unrecognized statuses pass through untouched so a new provider
		// state never regresses a call to ringing.
		return CallStatus(s)
	}
}
