package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/casecurrentai/casecurrent/internal/numbers"
	"github.com/casecurrentai/casecurrent/internal/orgs"
	"github.com/casecurrentai/casecurrent/internal/tenancy"
)

type fakeOrgSettings struct {
	org       *orgs.Organization
	users     map[uuid.UUID]*orgs.User
	setCalls  []*uuid.UUID
	setResult error
}

func (f *fakeOrgSettings) Get(_ context.Context, orgID uuid.UUID) (*orgs.Organization, error) {
	if f.org == nil || f.org.ID != orgID {
		return nil, orgs.ErrOrgNotFound
	}
	return f.org, nil
}

func (f *fakeOrgSettings) GetActiveUser(_ context.Context, _ uuid.UUID, userID uuid.UUID) (*orgs.User, error) {
	if u, ok := f.users[userID]; ok {
		return u, nil
	}
	return nil, orgs.ErrUserNotFound
}

func (f *fakeOrgSettings) SetOnCallUser(_ context.Context, _ uuid.UUID, userID *uuid.UUID) error {
	if f.setResult != nil {
		return f.setResult
	}
	f.setCalls = append(f.setCalls, userID)
	return nil
}

type fakeNumberSettings struct {
	number   *numbers.PhoneNumber
	setCalls []*uuid.UUID
}

func (f *fakeNumberSettings) GetByID(_ context.Context, _ uuid.UUID, id uuid.UUID) (*numbers.PhoneNumber, error) {
	if f.number == nil || f.number.ID != id {
		return nil, numbers.ErrNumberNotFound
	}
	return f.number, nil
}

func (f *fakeNumberSettings) SetOnCallUser(_ context.Context, _ uuid.UUID, id uuid.UUID, userID *uuid.UUID) error {
	if f.number == nil || f.number.ID != id {
		return numbers.ErrNumberNotFound
	}
	f.setCalls = append(f.setCalls, userID)
	return nil
}

func onCallRequest(method, path, body string, orgID uuid.UUID, params map[string]string) *http.Request {
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("{}")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	ctx := tenancy.WithOrgID(req.Context(), orgID.String())
	if len(params) > 0 {
		rctx := chi.NewRouteContext()
		for k, v := range params {
			rctx.URLParams.Add(k, v)
		}
		ctx = context.WithValue(ctx, chi.RouteCtxKey, rctx)
	}
	return req.WithContext(ctx)
}

func TestOnCallGetReturnsPointerAndUser(t *testing.T) {
	orgID := uuid.New()
	userID := uuid.New()
	orgSettings := &fakeOrgSettings{
		org:   &orgs.Organization{ID: orgID, OnCallUserID: &userID},
		users: map[uuid.UUID]*orgs.User{userID: {ID: userID, OrgID: orgID, Name: "Riley Attorney", Active: true}},
	}
	h := NewOnCallHandler(orgSettings, &fakeNumberSettings{}, nil)

	rec := httptest.NewRecorder()
	h.Get(rec, onCallRequest(http.MethodGet, "/v1/oncall", "", orgID, nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp onCallResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.OnCallUserID == nil || *resp.OnCallUserID != userID {
		t.Errorf("wrong on-call pointer: %v", resp.OnCallUserID)
	}
	if resp.User == nil || resp.User.Name != "Riley Attorney" {
		t.Errorf("expected user detail, got %+v", resp.User)
	}
}

func TestOnCallPutRejectsInactiveUser(t *testing.T) {
	orgID := uuid.New()
	orgSettings := &fakeOrgSettings{
		org:       &orgs.Organization{ID: orgID},
		setResult: orgs.ErrUserInactive,
	}
	h := NewOnCallHandler(orgSettings, &fakeNumberSettings{}, nil)

	body := `{"user_id":"` + uuid.NewString() + `"}`
	rec := httptest.NewRecorder()
	h.Put(rec, onCallRequest(http.MethodPut, "/v1/oncall", body, orgID, nil))

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for inactive user, got %d", rec.Code)
	}
}

func TestOnCallPutClearsWithNullUser(t *testing.T) {
	orgID := uuid.New()
	orgSettings := &fakeOrgSettings{org: &orgs.Organization{ID: orgID}}
	h := NewOnCallHandler(orgSettings, &fakeNumberSettings{}, nil)

	rec := httptest.NewRecorder()
	h.Put(rec, onCallRequest(http.MethodPut, "/v1/oncall", `{"user_id":null}`, orgID, nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if len(orgSettings.setCalls) != 1 || orgSettings.setCalls[0] != nil {
		t.Errorf("expected one clear call, got %v", orgSettings.setCalls)
	}
}

func TestOnCallPutNumberValidatesMembership(t *testing.T) {
	orgID := uuid.New()
	numberID := uuid.New()
	orgSettings := &fakeOrgSettings{org: &orgs.Organization{ID: orgID}, users: map[uuid.UUID]*orgs.User{}}
	numberSettings := &fakeNumberSettings{number: &numbers.PhoneNumber{ID: numberID, OrgID: orgID}}
	h := NewOnCallHandler(orgSettings, numberSettings, nil)

	body := `{"user_id":"` + uuid.NewString() + `"}`
	rec := httptest.NewRecorder()
	h.PutNumber(rec, onCallRequest(http.MethodPut, "/v1/phone-numbers/"+numberID.String()+"/oncall", body, orgID,
		map[string]string{"numberID": numberID.String()}))

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for non-member user, got %d", rec.Code)
	}
	if len(numberSettings.setCalls) != 0 {
		t.Error("invalid user must not reach the number store")
	}
}

func TestOnCallPutNumberUnknownNumber(t *testing.T) {
	orgID := uuid.New()
	h := NewOnCallHandler(&fakeOrgSettings{org: &orgs.Organization{ID: orgID}}, &fakeNumberSettings{}, nil)

	rec := httptest.NewRecorder()
	h.PutNumber(rec, onCallRequest(http.MethodPut, "/v1/phone-numbers/x/oncall", `{"user_id":null}`, orgID,
		map[string]string{"numberID": uuid.NewString()}))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}
