package router

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/casecurrentai/casecurrent/internal/http/handlers"
	"github.com/casecurrentai/casecurrent/internal/intake"
	"github.com/casecurrentai/casecurrent/internal/numbers"
	"github.com/casecurrentai/casecurrent/internal/orgs"
	"github.com/casecurrentai/casecurrent/internal/qualify"
	"github.com/casecurrentai/casecurrent/internal/telephony"
	"github.com/casecurrentai/casecurrent/internal/webhookout"
	"github.com/google/uuid"
)

type stubResolver struct{}

func (stubResolver) Resolve(context.Context, []string) (*numbers.PhoneNumber, error) {
	return nil, numbers.ErrNumberNotFound
}

type stubIngestor struct{}

func (stubIngestor) UpsertConversation(context.Context, *numbers.PhoneNumber, *telephony.CallEvent) (*intake.Conversation, error) {
	return nil, intake.ErrIngestionFailed
}

type stubStates struct{}

func (stubStates) Apply(context.Context, *telephony.CallEvent) (*intake.StateChange, error) {
	return nil, intake.ErrCallNotFound
}

type stubOrgSettings struct{}

func (stubOrgSettings) Get(context.Context, uuid.UUID) (*orgs.Organization, error) {
	return nil, orgs.ErrOrgNotFound
}

func (stubOrgSettings) GetActiveUser(context.Context, uuid.UUID, uuid.UUID) (*orgs.User, error) {
	return nil, orgs.ErrUserNotFound
}

func (stubOrgSettings) SetOnCallUser(context.Context, uuid.UUID, *uuid.UUID) error {
	return orgs.ErrOrgNotFound
}

type stubNumberSettings struct{}

func (stubNumberSettings) GetByID(context.Context, uuid.UUID, uuid.UUID) (*numbers.PhoneNumber, error) {
	return nil, numbers.ErrNumberNotFound
}

func (stubNumberSettings) SetOnCallUser(context.Context, uuid.UUID, uuid.UUID, *uuid.UUID) error {
	return numbers.ErrNumberNotFound
}

type stubPinger struct{ err error }

func (s stubPinger) Ping(context.Context) error { return s.err }

func testRouter(dbErr error) http.Handler {
	tel := handlers.NewTelephonyHandler(handlers.TelephonyDeps{
		Registry: telephony.NewRegistry("+1", telephony.TwilioAdapter{}, telephony.PlivoAdapter{}),
		Numbers:  stubResolver{},
		Engine:   stubIngestor{},
		States:   stubStates{},
	}, handlers.TelephonyConfig{NotConfiguredNotice: "Not configured."})

	return New(&Config{
		Telephony:        tel,
		OnCall:           handlers.NewOnCallHandler(stubOrgSettings{}, stubNumberSettings{}, nil),
		Qualification:    qualify.NewHandler(nil, nil),
		WebhookEndpoints: webhookout.NewHandler(nil, nil),
		APIJWTSecret:     "router-test-secret",
		DB:               stubPinger{err: dbErr},
	})
}

func TestHealthzReflectsStorage(t *testing.T) {
	r := testRouter(nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200 when storage is up, got %d", rec.Code)
	}

	r = testRouter(errors.New("connection refused"))
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503 when storage is down, got %d", rec.Code)
	}
}

func TestWebhookRoutesArePublic(t *testing.T) {
	r := testRouter(nil)

	form := url.Values{
		"CallSid":    {"CA001"},
		"From":       {"+15550100100"},
		"To":         {"+15550100200"},
		"CallStatus": {"ringing"},
	}
	req := httptest.NewRequest(http.MethodPost, "/webhooks/twilio/voice", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	// Tenant miss still acks with instructions, not an auth error.
	if rec.Code != http.StatusOK {
		t.Errorf("webhook route must not require auth, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "Not configured.") {
		t.Errorf("expected not-configured notice, got %s", rec.Body.String())
	}
}

func TestV1RoutesRequireAuth(t *testing.T) {
	r := testRouter(nil)
	paths := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/v1/oncall"},
		{http.MethodPut, "/v1/oncall"},
		{http.MethodGet, "/v1/webhook-endpoints"},
		{http.MethodPost, "/v1/leads/" + uuid.NewString() + "/qualification/run"},
	}
	for _, p := range paths {
		req := httptest.NewRequest(p.method, p.path, strings.NewReader("{}"))
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("%s %s: expected 401 without token, got %d", p.method, p.path, rec.Code)
		}
	}
}
