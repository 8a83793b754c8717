package telephony

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// ElevenLabsAdapter normalizes ElevenLabs conversational-AI post-call
// webhooks. These arrive as JSON after the agent call ends, so every event is
// a terminal call report carrying the transcript.
type ElevenLabsAdapter struct{}

func (ElevenLabsAdapter) Name() string { return "elevenlabs" }

type elevenLabsEnvelope struct {
	Type string `json:"type"`
	Data struct {
		ConversationID string `json:"conversation_id"`
		Status         string `json:"status"`
		Metadata       struct {
			CallDurationSecs int `json:"call_duration_secs"`
			PhoneCall        struct {
				CallSid        string `json:"call_sid"`
				ExternalNumber string `json:"external_number"`
				AgentNumber    string `json:"agent_number"`
				Direction      string `json:"direction"`
			} `json:"phone_call"`
		} `json:"metadata"`
		Transcript []struct {
			Role    string `json:"role"`
			Message string `json:"message"`
		} `json:"transcript"`
		Analysis struct {
			TranscriptSummary string `json:"transcript_summary"`
		} `json:"analysis"`
	} `json:"data"`
}

func (a ElevenLabsAdapter) Normalize(kind EventKind, p Payload) (*CallEvent, error) {
	var env elevenLabsEnvelope
	if err := json.Unmarshal(p.Body, &env); err != nil {
		return nil, fmt.Errorf("telephony: decode elevenlabs payload: %w", err)
	}

	data := env.Data
	callID := strings.TrimSpace(data.Metadata.PhoneCall.CallSid)
	if callID == "" {
		callID = strings.TrimSpace(data.ConversationID)
	}
	from := strings.TrimSpace(data.Metadata.PhoneCall.ExternalNumber)
	to := strings.TrimSpace(data.Metadata.PhoneCall.AgentNumber)
	if callID == "" {
		return nil, missingField("elevenlabs", "conversation_id")
	}
	if from == "" {
		return nil, missingField("elevenlabs", "external_number")
	}
	if to == "" {
		return nil, missingField("elevenlabs", "agent_number")
	}

	var transcript strings.Builder
	for _, turn := range data.Transcript {
		if strings.TrimSpace(turn.Message) == "" {
			continue
		}
		fmt.Fprintf(&transcript, "%s: %s\n", turn.Role, turn.Message)
	}

	evt := &CallEvent{
		ProviderCallID:  callID,
		SecondaryCallID: strings.TrimSpace(data.ConversationID),
		From:            from,
		To:              to,
		Direction:       DirectionInbound,
		Status:          elevenLabsStatus(data.Status),
		TranscriptText:  strings.TrimSpace(transcript.String()),
		OccurredAt:      time.Now().UTC(),
	}
	if data.Metadata.CallDurationSecs > 0 {
		secs := data.Metadata.CallDurationSecs
		evt.DurationSeconds = &secs
	}
	if evt.TranscriptText == "" && data.Analysis.TranscriptSummary != "" {
		evt.TranscriptText = data.Analysis.TranscriptSummary
	}
	return evt, nil
}

func elevenLabsStatus(v string) CallStatus {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "failed":
		return StatusFailed
	default:
		return StatusCompleted
	}
}
