package telephony

import (
	"errors"
	"net/url"
	"testing"
)

func newTestRegistry() *Registry {
	return NewRegistry("1", TwilioAdapter{}, PlivoAdapter{}, ElevenLabsAdapter{}, VapiAdapter{})
}

func TestNormalizeTwilioVoice(t *testing.T) {
	form := url.Values{}
	form.Set("CallSid", "CA123")
	form.Set("From", "+15550100200")
	form.Set("To", "5550100300")
	form.Set("CallStatus", "ringing")
	form.Set("Direction", "inbound")

	evt, err := newTestRegistry().Normalize("twilio", KindCallInitiated, Payload{Form: form})
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if evt.Provider != "twilio" || evt.ProviderCallID != "CA123" {
		t.Errorf("unexpected identity: %+v", evt)
	}
	if evt.Status != StatusRinging || evt.Direction != DirectionInbound {
		t.Errorf("unexpected status/direction: %+v", evt)
	}
	if evt.From != "+15550100200" {
		t.Errorf("from not normalized: %q", evt.From)
	}
	// Ten-digit To expands into bare and country-code-prefixed candidates.
	if len(evt.ToCandidates) != 2 || evt.ToCandidates[1] != "+15550100300" {
		t.Errorf("unexpected candidates: %v", evt.ToCandidates)
	}
}

func TestNormalizeMissingCallID(t *testing.T) {
	form := url.Values{}
	form.Set("From", "+15550100200")
	form.Set("To", "+15550100300")

	_, err := newTestRegistry().Normalize("twilio", KindCallInitiated, Payload{Form: form})
	var missing *MissingFieldError
	if !errors.As(err, &missing) {
		t.Fatalf("expected MissingFieldError, got %v", err)
	}
	if missing.Field != "CallSid" {
		t.Errorf("expected CallSid, got %s", missing.Field)
	}
}

func TestNormalizeUnknownProvider(t *testing.T) {
	_, err := newTestRegistry().Normalize("bandwidth", KindCallInitiated, Payload{})
	if !errors.Is(err, ErrUnknownProvider) {
		t.Fatalf("expected ErrUnknownProvider, got %v", err)
	}
}

func TestNormalizeTwilioSMS(t *testing.T) {
	form := url.Values{}
	form.Set("MessageSid", "SM99")
	form.Set("From", "+15550100200")
	form.Set("To", "+15550100300")
	form.Set("Body", "I was in a car accident")

	evt, err := newTestRegistry().Normalize("twilio", KindMessage, Payload{Form: form})
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if evt.MessageID != "SM99" || evt.Body != "I was in a car accident" {
		t.Errorf("unexpected message event: %+v", evt)
	}
}

func TestNormalizePlivoTimeoutStatus(t *testing.T) {
	form := url.Values{}
	form.Set("CallUUID", "uuid-1")
	form.Set("From", "+15550100200")
	form.Set("To", "+15550100300")
	form.Set("CallStatus", "timeout")

	evt, err := newTestRegistry().Normalize("plivo", KindCallStatus, Payload{Form: form})
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if evt.Status != StatusNoAnswer {
		t.Errorf("plivo timeout should map to no-answer, got %s", evt.Status)
	}
}

func TestNormalizeUnrecognizedStatusPassesThrough(t *testing.T) {
	form := url.Values{}
	form.Set("CallSid", "CA123")
	form.Set("From", "+15550100200")
	form.Set("To", "+15550100300")
	form.Set("CallStatus", "pre-connect")

	evt, err := newTestRegistry().Normalize("twilio", KindCallStatus, Payload{Form: form})
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if evt.Status != CallStatus("pre-connect") {
		t.Errorf("unrecognized status must pass through, got %s", evt.Status)
	}
	if evt.Status.IsTerminal() {
		t.Error("unrecognized status must not read as terminal")
	}

	form.Set("CallUUID", "uuid-1")
	form.Set("CallStatus", "transferring")
	evt, err = newTestRegistry().Normalize("plivo", KindCallStatus, Payload{Form: form})
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if evt.Status != CallStatus("transferring") {
		t.Errorf("unrecognized plivo status must pass through, got %s", evt.Status)
	}
}

func TestNormalizeVapiReport(t *testing.T) {
	body := []byte(`{
		"message": {
			"type": "end-of-call-report",
			"endedReason": "customer-ended-call",
			"durationSeconds": 212.4,
			"recordingUrl": "https://recordings.example.com/1.wav",
			"transcript": "assistant: Hello\nuser: Hi, I need a lawyer",
			"call": {
				"id": "vapi-call-1",
				"phoneCallProviderId": "CA555",
				"type": "inboundPhoneCall",
				"customer": {"number": "+15550100200", "name": "Dana"},
				"phoneNumber": {"number": "+15550100300"}
			}
		}
	}`)

	evt, err := newTestRegistry().Normalize("vapi", KindCallReport, Payload{Body: body})
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if evt.ProviderCallID != "vapi-call-1" || evt.SecondaryCallID != "CA555" {
		t.Errorf("unexpected ids: %+v", evt)
	}
	if evt.Status != StatusCompleted {
		t.Errorf("expected completed, got %s", evt.Status)
	}
	if evt.DurationSeconds == nil || *evt.DurationSeconds != 212 {
		t.Errorf("unexpected duration: %v", evt.DurationSeconds)
	}
	if evt.TranscriptText == "" || evt.CallerName != "Dana" {
		t.Errorf("transcript/name not carried: %+v", evt)
	}
}

func TestNormalizeVapiBusy(t *testing.T) {
	body := []byte(`{"message":{"endedReason":"customer-busy","call":{"id":"v2","customer":{"number":"+15550100200"},"phoneNumber":{"number":"+15550100300"}}}}`)
	evt, err := newTestRegistry().Normalize("vapi", KindCallReport, Payload{Body: body})
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if evt.Status != StatusBusy {
		t.Errorf("expected busy, got %s", evt.Status)
	}
}

func TestNormalizeElevenLabsReport(t *testing.T) {
	body := []byte(`{
		"type": "post_call_transcription",
		"data": {
			"conversation_id": "conv-9",
			"status": "done",
			"metadata": {
				"call_duration_secs": 95,
				"phone_call": {
					"call_sid": "CAel1",
					"external_number": "+15550100200",
					"agent_number": "+15550100300",
					"direction": "inbound"
				}
			},
			"transcript": [
				{"role": "agent", "message": "Thanks for calling."},
				{"role": "user", "message": "I need help with an injury claim."}
			]
		}
	}`)

	evt, err := newTestRegistry().Normalize("elevenlabs", KindCallReport, Payload{Body: body})
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if evt.ProviderCallID != "CAel1" || evt.SecondaryCallID != "conv-9" {
		t.Errorf("unexpected ids: %+v", evt)
	}
	if evt.DurationSeconds == nil || *evt.DurationSeconds != 95 {
		t.Errorf("unexpected duration: %v", evt.DurationSeconds)
	}
	if evt.TranscriptText == "" {
		t.Error("expected joined transcript text")
	}
}

func TestStatusTerminality(t *testing.T) {
	terminal := []CallStatus{StatusCompleted, StatusBusy, StatusNoAnswer, StatusCanceled, StatusFailed}
	for _, s := range terminal {
		if !s.IsTerminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	for _, s := range []CallStatus{StatusQueued, StatusRinging, StatusInProgress} {
		if s.IsTerminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}
