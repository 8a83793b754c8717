package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/casecurrentai/casecurrent/internal/events"
	"github.com/casecurrentai/casecurrent/internal/intake"
	"github.com/casecurrentai/casecurrent/internal/numbers"
	"github.com/casecurrentai/casecurrent/internal/observability/metrics"
	"github.com/casecurrentai/casecurrent/internal/oncall"
	"github.com/casecurrentai/casecurrent/internal/telephony"
	"github.com/casecurrentai/casecurrent/internal/webhookout"
	"github.com/casecurrentai/casecurrent/pkg/logging"
)

const maxJSONBody = 1 << 20 // 1 MiB

// NumberResolver maps a dialed number to its tenant.
type NumberResolver interface {
	Resolve(ctx context.Context, candidates []string) (*numbers.PhoneNumber, error)
}

// Ingestor materializes an inbound event into conversation records.
type Ingestor interface {
	UpsertConversation(ctx context.Context, number *numbers.PhoneNumber, ev *telephony.CallEvent) (*intake.Conversation, error)
}

// StateApplier advances a call's lifecycle from status/recording/report
// callbacks.
type StateApplier interface {
	Apply(ctx context.Context, ev *telephony.CallEvent) (*intake.StateChange, error)
}

// CallRouter decides who gets alerted about an inbound call.
type CallRouter interface {
	Route(ctx context.Context, number *numbers.PhoneNumber) (*oncall.Decision, error)
}

// AlertSender delivers the routed notifications.
type AlertSender interface {
	NotifyIncomingCall(ctx context.Context, decision *oncall.Decision, conv *intake.Conversation) error
	NotifyInboundMessage(ctx context.Context, decision *oncall.Decision, conv *intake.Conversation) error
}

// EventEmitter publishes outbound webhook events.
type EventEmitter interface {
	Emit(ctx context.Context, orgID uuid.UUID, eventType string, payload any) error
}

// DiagSink records operational diagnostics.
type DiagSink interface {
	Emit(ctx context.Context, orgID *uuid.UUID, code string, detail any) error
}

// TelephonyConfig carries the per-provider webhook settings.
type TelephonyConfig struct {
	// PublicBaseURL is the externally visible base URL, used for provider
	// signature checks and recording callback URLs.
	PublicBaseURL       string
	VoicemailGreeting   string
	NotConfiguredNotice string

	TwilioAuthToken  string
	PlivoAuthToken   string
	ElevenLabsSecret string
	VapiSecret       string
}

// TelephonyDeps wires the telephony handler's collaborators.
type TelephonyDeps struct {
	Registry *telephony.Registry
	Numbers  NumberResolver
	Engine   Ingestor
	States   StateApplier
	Router   CallRouter
	Alerts   AlertSender
	Hooks    EventEmitter
	Diag     DiagSink
	Metrics  *metrics.IngestionMetrics
	Logger   *logging.Logger
}

// TelephonyHandler terminates every provider webhook. Each endpoint
// normalizes the vendor payload, resolves the tenant, updates conversation
// state, and acks the provider; alerting and outbound webhook emission happen
// off the request path.
type TelephonyHandler struct {
	registry *telephony.Registry
	numbers  NumberResolver
	engine   Ingestor
	states   StateApplier
	router   CallRouter
	alerts   AlertSender
	hooks    EventEmitter
	diag     DiagSink
	metrics  *metrics.IngestionMetrics
	logger   *logging.Logger
	cfg      TelephonyConfig

	fanouts sync.WaitGroup
}

func NewTelephonyHandler(deps TelephonyDeps, cfg TelephonyConfig) *TelephonyHandler {
	if deps.Registry == nil || deps.Numbers == nil || deps.Engine == nil || deps.States == nil {
		panic("handlers: telephony handler missing core dependencies")
	}
	logger := deps.Logger
	if logger == nil {
		logger = logging.Default()
	}
	return &TelephonyHandler{
		registry: deps.Registry,
		numbers:  deps.Numbers,
		engine:   deps.Engine,
		states:   deps.States,
		router:   deps.Router,
		alerts:   deps.Alerts,
		hooks:    deps.Hooks,
		diag:     deps.Diag,
		metrics:  deps.Metrics,
		logger:   logger,
		cfg:      cfg,
	}
}

// TwilioVoice answers a new inbound Twilio call.
// POST /webhooks/twilio/voice
func (h *TelephonyHandler) TwilioVoice(w http.ResponseWriter, r *http.Request) {
	defer h.observeLatency("twilio", telephony.KindCallInitiated, time.Now())
	if !h.authorizeTwilio(w, r) {
		return
	}
	ev, ok := h.normalizeForm(w, r, "twilio", telephony.KindCallInitiated, telephony.EmptyTwiML())
	if !ok {
		return
	}
	h.answerCall(w, r, ev, twilioVoiceResponses{h.cfg})
}

// TwilioStatus ingests Twilio call-status callbacks.
// POST /webhooks/twilio/status
func (h *TelephonyHandler) TwilioStatus(w http.ResponseWriter, r *http.Request) {
	h.formLifecycle(w, r, "twilio", telephony.KindCallStatus)
}

// TwilioRecording ingests the recording-complete callback issued after the
// voicemail <Record> verb finishes.
// POST /webhooks/twilio/recording
func (h *TelephonyHandler) TwilioRecording(w http.ResponseWriter, r *http.Request) {
	h.formLifecycle(w, r, "twilio", telephony.KindCallRecording)
}

// TwilioSMS ingests inbound Twilio SMS.
// POST /webhooks/twilio/sms
func (h *TelephonyHandler) TwilioSMS(w http.ResponseWriter, r *http.Request) {
	defer h.observeLatency("twilio", telephony.KindMessage, time.Now())
	if !h.authorizeTwilio(w, r) {
		return
	}
	ev, ok := h.normalizeForm(w, r, "twilio", telephony.KindMessage, telephony.EmptyTwiML())
	if !ok {
		return
	}
	h.answerMessage(w, r, ev)
}

// PlivoVoice answers a new inbound Plivo call.
// POST /webhooks/plivo/voice
func (h *TelephonyHandler) PlivoVoice(w http.ResponseWriter, r *http.Request) {
	defer h.observeLatency("plivo", telephony.KindCallInitiated, time.Now())
	if !h.authorizePlivo(w, r) {
		return
	}
	ev, ok := h.normalizeForm(w, r, "plivo", telephony.KindCallInitiated, telephony.EmptyTwiML())
	if !ok {
		return
	}
	h.answerCall(w, r, ev, plivoVoiceResponses{h.cfg})
}

// PlivoStatus ingests Plivo call-status callbacks.
// POST /webhooks/plivo/status
func (h *TelephonyHandler) PlivoStatus(w http.ResponseWriter, r *http.Request) {
	h.formLifecycle(w, r, "plivo", telephony.KindCallStatus)
}

// PlivoRecording ingests Plivo record-complete callbacks.
// POST /webhooks/plivo/recording
func (h *TelephonyHandler) PlivoRecording(w http.ResponseWriter, r *http.Request) {
	h.formLifecycle(w, r, "plivo", telephony.KindCallRecording)
}

// PlivoSMS ingests inbound Plivo SMS.
// POST /webhooks/plivo/sms
func (h *TelephonyHandler) PlivoSMS(w http.ResponseWriter, r *http.Request) {
	defer h.observeLatency("plivo", telephony.KindMessage, time.Now())
	if !h.authorizePlivo(w, r) {
		return
	}
	ev, ok := h.normalizeForm(w, r, "plivo", telephony.KindMessage, telephony.EmptyTwiML())
	if !ok {
		return
	}
	h.answerMessage(w, r, ev)
}

// ElevenLabs ingests post-call reports from the ElevenLabs voice agent.
// POST /webhooks/elevenlabs
func (h *TelephonyHandler) ElevenLabs(w http.ResponseWriter, r *http.Request) {
	defer h.observeLatency("elevenlabs", telephony.KindCallReport, time.Now())
	body, err := io.ReadAll(io.LimitReader(r.Body, maxJSONBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}
	if h.cfg.ElevenLabsSecret != "" &&
		!validElevenLabsSignature(r.Header.Get("ElevenLabs-Signature"), h.cfg.ElevenLabsSecret, body) {
		writeError(w, http.StatusUnauthorized, "invalid signature")
		return
	}
	h.applyReport(w, r, "elevenlabs", body)
}

// Vapi ingests end-of-call reports from Vapi.
// POST /webhooks/vapi
func (h *TelephonyHandler) Vapi(w http.ResponseWriter, r *http.Request) {
	defer h.observeLatency("vapi", telephony.KindCallReport, time.Now())
	body, err := io.ReadAll(io.LimitReader(r.Body, maxJSONBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}
	if h.cfg.VapiSecret != "" && !validVapiSecret(r.Header.Get("X-Vapi-Secret"), h.cfg.VapiSecret) {
		writeError(w, http.StatusUnauthorized, "invalid secret")
		return
	}
	h.applyReport(w, r, "vapi", body)
}

// voiceResponses abstracts the XML vocabulary difference between Twilio and
// Plivo answers.
type voiceResponses interface {
	Voicemail() string
	Hold() string
	NotConfigured() string
}

type twilioVoiceResponses struct{ cfg TelephonyConfig }

func (t twilioVoiceResponses) Voicemail() string {
	return telephony.VoicemailTwiML(t.cfg.VoicemailGreeting, t.cfg.PublicBaseURL+"/webhooks/twilio/recording")
}
func (t twilioVoiceResponses) Hold() string { return telephony.HoldTwiML() }

func (t twilioVoiceResponses) NotConfigured() string {
	return telephony.NotConfiguredTwiML(t.cfg.NotConfiguredNotice)
}

type plivoVoiceResponses struct{ cfg TelephonyConfig }

func (p plivoVoiceResponses) Voicemail() string {
	return telephony.VoicemailPlivoXML(p.cfg.VoicemailGreeting, p.cfg.PublicBaseURL+"/webhooks/plivo/recording")
}
func (p plivoVoiceResponses) Hold() string { return telephony.HoldPlivoXML() }

func (p plivoVoiceResponses) NotConfigured() string {
	return telephony.NotConfiguredPlivoXML(p.cfg.NotConfiguredNotice)
}

// answerCall runs the inbound-call ingestion flow and picks the XML answer.
// The caller is on the line, so every outcome short of a bug acks with 200
// and call instructions.
func (h *TelephonyHandler) answerCall(w http.ResponseWriter, r *http.Request, ev *telephony.CallEvent, resp voiceResponses) {
	number, err := h.numbers.Resolve(r.Context(), ev.ToCandidates)
	if err != nil {
		if errors.Is(err, numbers.ErrNumberNotFound) {
			h.tenantMiss(r.Context(), ev)
			writeXML(w, resp.NotConfigured())
			return
		}
		// Tenant lookup failed; still take the voicemail rather than drop
		// the caller. The recording callback re-attaches when storage is
		// back.
		h.logger.Error("number resolution failed", "provider", ev.Provider, "to", ev.To, "error", err)
		h.observeInbound(ev, "error")
		writeXML(w, resp.Voicemail())
		return
	}

	conv, err := h.engine.UpsertConversation(r.Context(), number, ev)
	if err != nil {
		h.logger.Error("call ingestion failed", "provider", ev.Provider, "call_id", ev.ProviderCallID, "error", err)
		h.observeInbound(ev, "error")
		writeXML(w, resp.Voicemail())
		return
	}
	if conv.Duplicate {
		h.metrics.ObserveDuplicate(ev.Provider)
		writeXML(w, resp.Hold())
		return
	}

	h.observeInbound(ev, "ok")
	h.spawn(func() { h.fanoutCall(number, conv) })
	writeXML(w, resp.Voicemail())
}

// answerMessage runs the inbound-SMS ingestion flow.
func (h *TelephonyHandler) answerMessage(w http.ResponseWriter, r *http.Request, ev *telephony.CallEvent) {
	number, err := h.numbers.Resolve(r.Context(), ev.ToCandidates)
	if err != nil {
		if errors.Is(err, numbers.ErrNumberNotFound) {
			h.tenantMiss(r.Context(), ev)
			writeXML(w, telephony.EmptyTwiML())
			return
		}
		h.logger.Error("number resolution failed", "provider", ev.Provider, "to", ev.To, "error", err)
		writeError(w, http.StatusInternalServerError, "ingestion failed")
		return
	}

	conv, err := h.engine.UpsertConversation(r.Context(), number, ev)
	if err != nil {
		h.logger.Error("message ingestion failed", "provider", ev.Provider, "message_id", ev.MessageID, "error", err)
		// SMS has no caller waiting; a 500 makes the provider redeliver.
		writeError(w, http.StatusInternalServerError, "ingestion failed")
		return
	}
	if conv.Duplicate {
		h.metrics.ObserveDuplicate(ev.Provider)
		writeXML(w, telephony.EmptyTwiML())
		return
	}

	h.observeInbound(ev, "ok")
	h.spawn(func() { h.fanoutMessage(number, conv) })
	writeXML(w, telephony.EmptyTwiML())
}

// formLifecycle handles form-encoded status and recording callbacks shared by
// Twilio and Plivo.
func (h *TelephonyHandler) formLifecycle(w http.ResponseWriter, r *http.Request, provider string, kind telephony.EventKind) {
	defer h.observeLatency(provider, kind, time.Now())
	switch provider {
	case "twilio":
		if !h.authorizeTwilio(w, r) {
			return
		}
	case "plivo":
		if !h.authorizePlivo(w, r) {
			return
		}
	}
	ev, ok := h.normalizeForm(w, r, provider, kind, telephony.EmptyTwiML())
	if !ok {
		return
	}

	change, err := h.states.Apply(r.Context(), ev)
	if err != nil {
		if errors.Is(err, intake.ErrCallNotFound) {
			// Retrying cannot attach a callback to a call that was never
			// ingested; ack so the provider stops.
			h.logger.Warn("lifecycle callback for unknown call", "provider", provider, "call_id", ev.ProviderCallID)
			h.observeInbound(ev, "orphaned")
			writeXML(w, telephony.EmptyTwiML())
			return
		}
		h.logger.Error("lifecycle apply failed", "provider", provider, "call_id", ev.ProviderCallID, "error", err)
		writeError(w, http.StatusInternalServerError, "apply failed")
		return
	}

	h.observeInbound(ev, "ok")
	h.emitCallCompleted(change)
	writeXML(w, telephony.EmptyTwiML())
}

// applyReport handles JSON post-call reports. Agent platforms only call back
// after the call ends, so an unknown call means the initiating webhook never
// arrived (or the agent placed the call itself): ingest the whole
// conversation from the report, then terminalize it.
func (h *TelephonyHandler) applyReport(w http.ResponseWriter, r *http.Request, provider string, body []byte) {
	ev, err := h.registry.Normalize(provider, telephony.KindCallReport, telephony.Payload{Body: body})
	if err != nil {
		h.logger.Warn("unusable report payload", "provider", provider, "error", err)
		h.metrics.ObserveInbound(provider, string(telephony.KindCallReport), "invalid")
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}

	change, err := h.states.Apply(r.Context(), ev)
	if err != nil && errors.Is(err, intake.ErrCallNotFound) {
		change, err = h.ingestFromReport(r.Context(), ev)
		if err != nil && errors.Is(err, numbers.ErrNumberNotFound) {
			h.tenantMiss(r.Context(), ev)
			writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
			return
		}
	}
	if err != nil {
		h.logger.Error("report apply failed", "provider", provider, "call_id", ev.ProviderCallID, "error", err)
		writeError(w, http.StatusInternalServerError, "apply failed")
		return
	}

	h.observeInbound(ev, "ok")
	h.emitCallCompleted(change)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ingestFromReport creates the conversation a report describes and then
// replays the report to terminalize the fresh call.
func (h *TelephonyHandler) ingestFromReport(ctx context.Context, ev *telephony.CallEvent) (*intake.StateChange, error) {
	number, err := h.numbers.Resolve(ctx, ev.ToCandidates)
	if err != nil {
		return nil, err
	}
	conv, err := h.engine.UpsertConversation(ctx, number, ev)
	if err != nil {
		return nil, err
	}
	if conv.IsNewLead {
		h.emit(ctx, conv.Lead.OrgID, webhookout.EventLeadCreated, leadCreatedPayload(conv))
	}
	return h.states.Apply(ctx, ev)
}

func (h *TelephonyHandler) authorizeTwilio(w http.ResponseWriter, r *http.Request) bool {
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, "unreadable form body")
		return false
	}
	if h.cfg.TwilioAuthToken == "" {
		return true
	}
	if !validTwilioSignature(r, h.cfg.TwilioAuthToken, h.webhookURL(r)) {
		writeError(w, http.StatusForbidden, "invalid signature")
		return false
	}
	return true
}

func (h *TelephonyHandler) authorizePlivo(w http.ResponseWriter, r *http.Request) bool {
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, "unreadable form body")
		return false
	}
	if h.cfg.PlivoAuthToken == "" {
		return true
	}
	if !validPlivoSignature(r, h.cfg.PlivoAuthToken, h.webhookURL(r)) {
		writeError(w, http.StatusForbidden, "invalid signature")
		return false
	}
	return true
}

func (h *TelephonyHandler) webhookURL(r *http.Request) string {
	u := h.cfg.PublicBaseURL + r.URL.Path
	if r.URL.RawQuery != "" {
		u += "?" + r.URL.RawQuery
	}
	return u
}

// normalizeForm maps a form-encoded payload to a canonical event. Malformed
// payloads are acked with the fallback body; redelivery cannot fix them.
func (h *TelephonyHandler) normalizeForm(w http.ResponseWriter, r *http.Request, provider string, kind telephony.EventKind, fallback string) (*telephony.CallEvent, bool) {
	ev, err := h.registry.Normalize(provider, kind, telephony.Payload{Form: r.PostForm})
	if err != nil {
		var missing *telephony.MissingFieldError
		if errors.As(err, &missing) {
			h.logger.Warn("webhook missing required field", "provider", provider, "field", missing.Field)
		} else {
			h.logger.Warn("webhook normalization failed", "provider", provider, "error", err)
		}
		h.metrics.ObserveInbound(provider, string(kind), "invalid")
		writeXML(w, fallback)
		return nil, false
	}
	return ev, true
}

// spawn tracks off-request work so shutdown can drain it.
func (h *TelephonyHandler) spawn(fn func()) {
	h.fanouts.Add(1)
	go func() {
		defer h.fanouts.Done()
		fn()
	}()
}

// Wait blocks until in-flight alerting and emission goroutines finish.
func (h *TelephonyHandler) Wait() {
	h.fanouts.Wait()
}

// fanoutCall runs the off-request side effects of a freshly ingested call:
// on-call routing, staff alerts, and outbound webhook emission.
func (h *TelephonyHandler) fanoutCall(number *numbers.PhoneNumber, conv *intake.Conversation) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if h.router != nil {
		decision, err := h.router.Route(ctx, number)
		if err != nil {
			h.logger.Error("on-call routing failed", "phone_number_id", number.ID, "error", err)
		} else if h.alerts != nil {
			if err := h.alerts.NotifyIncomingCall(ctx, decision, conv); err != nil {
				h.logger.Error("incoming-call alert failed", "call_id", conv.Call.ID, "error", err)
			}
		}
	}
	if conv.IsNewLead {
		h.emit(ctx, conv.Lead.OrgID, webhookout.EventLeadCreated, leadCreatedPayload(conv))
	}
}

func (h *TelephonyHandler) fanoutMessage(number *numbers.PhoneNumber, conv *intake.Conversation) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if h.router != nil {
		decision, err := h.router.Route(ctx, number)
		if err != nil {
			h.logger.Error("on-call routing failed", "phone_number_id", number.ID, "error", err)
		} else if h.alerts != nil {
			if err := h.alerts.NotifyInboundMessage(ctx, decision, conv); err != nil {
				h.logger.Error("inbound-message alert failed", "message_id", conv.Message.ID, "error", err)
			}
		}
	}
	if conv.IsNewLead {
		h.emit(ctx, conv.Lead.OrgID, webhookout.EventLeadCreated, leadCreatedPayload(conv))
	}
	h.emit(ctx, conv.Message.OrgID, webhookout.EventMessageReceived, map[string]any{
		"message_id": conv.Message.ID,
		"lead_id":    conv.Lead.ID,
		"from":       conv.Message.FromE164,
		"to":         conv.Message.ToE164,
		"body":       conv.Message.Body,
	})
}

// emitCallCompleted publishes call.completed exactly once per call, keyed off
// the state machine's first-terminal flag.
func (h *TelephonyHandler) emitCallCompleted(change *intake.StateChange) {
	if change == nil || !change.FirstTerminal || change.Call.Status != string(telephony.StatusCompleted) {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	h.emit(ctx, change.Call.OrgID, webhookout.EventCallCompleted, map[string]any{
		"call_id":          change.Call.ID,
		"interaction_id":   change.Call.InteractionID,
		"lead_id":          change.Interaction.LeadID,
		"provider":         change.Call.Provider,
		"direction":        change.Call.Direction,
		"status":           change.Call.Status,
		"duration_seconds": change.Call.DurationSeconds,
		"recording_url":    change.Call.RecordingURL,
	})
}

func (h *TelephonyHandler) emit(ctx context.Context, orgID uuid.UUID, eventType string, payload any) {
	if h.hooks == nil {
		return
	}
	if err := h.hooks.Emit(ctx, orgID, eventType, payload); err != nil {
		h.logger.Error("webhook emission failed", "event_type", eventType, "error", err)
	}
}

func (h *TelephonyHandler) tenantMiss(ctx context.Context, ev *telephony.CallEvent) {
	h.logger.Warn("no tenant for dialed number", "provider", ev.Provider, "to", ev.To)
	h.metrics.ObserveTenantMiss()
	if h.diag != nil {
		detail := map[string]string{"provider": ev.Provider, "to": ev.To, "from": ev.From}
		if err := h.diag.Emit(ctx, nil, events.DiagNumberNotConfigured, detail); err != nil {
			h.logger.Warn("diag emit failed", "error", err)
		}
	}
}

func (h *TelephonyHandler) observeInbound(ev *telephony.CallEvent, outcome string) {
	h.metrics.ObserveInbound(ev.Provider, string(ev.Kind), outcome)
}

func (h *TelephonyHandler) observeLatency(provider string, kind telephony.EventKind, start time.Time) {
	h.metrics.ObserveWebhookLatency(provider, string(kind), time.Since(start).Seconds())
}

func leadCreatedPayload(conv *intake.Conversation) map[string]any {
	return map[string]any{
		"lead_id":    conv.Lead.ID,
		"contact_id": conv.Contact.ID,
		"source":     conv.Lead.Source,
		"priority":   conv.Lead.Priority,
		"status":     conv.Lead.Status,
		"phone":      conv.Contact.PrimaryPhone,
	}
}
