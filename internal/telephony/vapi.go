package telephony

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"
)

// VapiAdapter normalizes Vapi end-of-call-report webhooks. Vapi assigns two
// ids across a call's lifetime (the call id and the provider's underlying
// call id), so both are carried for matching.
type VapiAdapter struct{}

func (VapiAdapter) Name() string { return "vapi" }

type vapiEnvelope struct {
	Message struct {
		Type            string  `json:"type"`
		EndedReason     string  `json:"endedReason"`
		DurationSeconds float64 `json:"durationSeconds"`
		RecordingURL    string  `json:"recordingUrl"`
		Transcript      string  `json:"transcript"`
		Call            struct {
			ID                  string `json:"id"`
			PhoneCallProviderID string `json:"phoneCallProviderId"`
			Type                string `json:"type"`
			Customer            struct {
				Number string `json:"number"`
				Name   string `json:"name"`
			} `json:"customer"`
			PhoneNumber struct {
				Number string `json:"number"`
			} `json:"phoneNumber"`
		} `json:"call"`
	} `json:"message"`
}

func (a VapiAdapter) Normalize(kind EventKind, p Payload) (*CallEvent, error) {
	var env vapiEnvelope
	if err := json.Unmarshal(p.Body, &env); err != nil {
		return nil, fmt.Errorf("telephony: decode vapi payload: %w", err)
	}

	msg := env.Message
	callID := strings.TrimSpace(msg.Call.ID)
	from := strings.TrimSpace(msg.Call.Customer.Number)
	to := strings.TrimSpace(msg.Call.PhoneNumber.Number)
	if callID == "" {
		return nil, missingField("vapi", "call.id")
	}
	if from == "" {
		return nil, missingField("vapi", "customer.number")
	}
	if to == "" {
		return nil, missingField("vapi", "phoneNumber.number")
	}

	evt := &CallEvent{
		ProviderCallID:  callID,
		SecondaryCallID: strings.TrimSpace(msg.Call.PhoneCallProviderID),
		From:            from,
		To:              to,
		CallerName:      strings.TrimSpace(msg.Call.Customer.Name),
		Direction:       vapiDirection(msg.Call.Type),
		Status:          vapiStatus(msg.EndedReason),
		RecordingURL:    strings.TrimSpace(msg.RecordingURL),
		TranscriptText:  strings.TrimSpace(msg.Transcript),
		OccurredAt:      time.Now().UTC(),
	}
	if msg.DurationSeconds > 0 {
		secs := int(math.Round(msg.DurationSeconds))
		evt.DurationSeconds = &secs
	}
	return evt, nil
}

func vapiDirection(callType string) Direction {
	if strings.EqualFold(strings.TrimSpace(callType), "outboundPhoneCall") {
		return DirectionOutbound
	}
	return DirectionInbound
}

func vapiStatus(endedReason string) CallStatus {
	reason := strings.ToLower(strings.TrimSpace(endedReason))
	switch {
	case reason == "":
		return StatusCompleted
	case strings.Contains(reason, "busy"):
		return StatusBusy
	case strings.Contains(reason, "did-not-answer"), strings.Contains(reason, "no-answer"):
		return StatusNoAnswer
	case strings.Contains(reason, "cancel"):
		return StatusCanceled
	case strings.Contains(reason, "error"), strings.Contains(reason, "failed"):
		return StatusFailed
	default:
		return StatusCompleted
	}
}
