package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/casecurrentai/casecurrent/internal/numbers"
	"github.com/casecurrentai/casecurrent/internal/orgs"
	"github.com/casecurrentai/casecurrent/internal/tenancy"
	"github.com/casecurrentai/casecurrent/pkg/logging"
)

// OrgSettings is the org/user surface the on-call config endpoints need.
type OrgSettings interface {
	Get(ctx context.Context, orgID uuid.UUID) (*orgs.Organization, error)
	GetActiveUser(ctx context.Context, orgID, userID uuid.UUID) (*orgs.User, error)
	SetOnCallUser(ctx context.Context, orgID uuid.UUID, userID *uuid.UUID) error
}

// NumberSettings manages per-number on-call overrides.
type NumberSettings interface {
	GetByID(ctx context.Context, orgID, id uuid.UUID) (*numbers.PhoneNumber, error)
	SetOnCallUser(ctx context.Context, orgID, id uuid.UUID, userID *uuid.UUID) error
}

// OnCallHandler exposes the org-level on-call pointer and the per-number
// overrides under /v1.
type OnCallHandler struct {
	orgs    OrgSettings
	numbers NumberSettings
	logger  *logging.Logger
}

func NewOnCallHandler(orgSettings OrgSettings, numberSettings NumberSettings, logger *logging.Logger) *OnCallHandler {
	if orgSettings == nil || numberSettings == nil {
		panic("handlers: oncall handler requires org and number settings")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &OnCallHandler{orgs: orgSettings, numbers: numberSettings, logger: logger}
}

type onCallBody struct {
	// UserID nil clears the pointer.
	UserID *uuid.UUID `json:"user_id"`
}

type onCallResponse struct {
	OnCallUserID *uuid.UUID `json:"oncall_user_id"`
	User         *orgs.User `json:"user,omitempty"`
}

// Get returns the org-level on-call pointer.
// GET /v1/oncall
func (h *OnCallHandler) Get(w http.ResponseWriter, r *http.Request) {
	orgID, ok := h.orgScope(w, r)
	if !ok {
		return
	}
	org, err := h.orgs.Get(r.Context(), orgID)
	if err != nil {
		if errors.Is(err, orgs.ErrOrgNotFound) {
			writeError(w, http.StatusNotFound, "organization not found")
			return
		}
		h.logger.Error("load org failed", "org_id", orgID, "error", err)
		writeError(w, http.StatusInternalServerError, "load failed")
		return
	}

	resp := onCallResponse{OnCallUserID: org.OnCallUserID}
	if org.OnCallUserID != nil {
		// Stale pointers (deactivated users) are shown without detail; the
		// router clears them on the next inbound call.
		if u, err := h.orgs.GetActiveUser(r.Context(), orgID, *org.OnCallUserID); err == nil {
			resp.User = u
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// Put points the org-level on-call at a user, or clears it with a null
// user_id.
// PUT /v1/oncall
func (h *OnCallHandler) Put(w http.ResponseWriter, r *http.Request) {
	orgID, ok := h.orgScope(w, r)
	if !ok {
		return
	}
	var body onCallBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if err := h.orgs.SetOnCallUser(r.Context(), orgID, body.UserID); err != nil {
		switch {
		case errors.Is(err, orgs.ErrUserInactive):
			writeError(w, http.StatusUnprocessableEntity, "user is not an active member of this organization")
		case errors.Is(err, orgs.ErrOrgNotFound):
			writeError(w, http.StatusNotFound, "organization not found")
		default:
			h.logger.Error("set org on-call failed", "org_id", orgID, "error", err)
			writeError(w, http.StatusInternalServerError, "update failed")
		}
		return
	}
	writeJSON(w, http.StatusOK, onCallResponse{OnCallUserID: body.UserID})
}

// PutNumber sets or clears the per-number on-call override.
// PUT /v1/phone-numbers/{numberID}/oncall
func (h *OnCallHandler) PutNumber(w http.ResponseWriter, r *http.Request) {
	orgID, ok := h.orgScope(w, r)
	if !ok {
		return
	}
	numberID, err := uuid.Parse(chi.URLParam(r, "numberID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid phone number id")
		return
	}
	var body onCallBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if body.UserID != nil {
		if _, err := h.orgs.GetActiveUser(r.Context(), orgID, *body.UserID); err != nil {
			if errors.Is(err, orgs.ErrUserNotFound) {
				writeError(w, http.StatusUnprocessableEntity, "user is not an active member of this organization")
				return
			}
			h.logger.Error("validate override user failed", "org_id", orgID, "error", err)
			writeError(w, http.StatusInternalServerError, "update failed")
			return
		}
	}

	if err := h.numbers.SetOnCallUser(r.Context(), orgID, numberID, body.UserID); err != nil {
		if errors.Is(err, numbers.ErrNumberNotFound) {
			writeError(w, http.StatusNotFound, "phone number not found")
			return
		}
		h.logger.Error("set number on-call failed", "phone_number_id", numberID, "error", err)
		writeError(w, http.StatusInternalServerError, "update failed")
		return
	}
	writeJSON(w, http.StatusOK, onCallResponse{OnCallUserID: body.UserID})
}

// GetNumber returns one phone number with its override.
// GET /v1/phone-numbers/{numberID}
func (h *OnCallHandler) GetNumber(w http.ResponseWriter, r *http.Request) {
	orgID, ok := h.orgScope(w, r)
	if !ok {
		return
	}
	numberID, err := uuid.Parse(chi.URLParam(r, "numberID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid phone number id")
		return
	}
	n, err := h.numbers.GetByID(r.Context(), orgID, numberID)
	if err != nil {
		if errors.Is(err, numbers.ErrNumberNotFound) {
			writeError(w, http.StatusNotFound, "phone number not found")
			return
		}
		h.logger.Error("load phone number failed", "phone_number_id", numberID, "error", err)
		writeError(w, http.StatusInternalServerError, "load failed")
		return
	}
	writeJSON(w, http.StatusOK, n)
}

func (h *OnCallHandler) orgScope(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	orgStr, ok := tenancy.OrgIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing org scope")
		return uuid.Nil, false
	}
	orgID, err := uuid.Parse(orgStr)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid org scope")
		return uuid.Nil, false
	}
	return orgID, true
}
