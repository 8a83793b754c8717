package qualify

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/casecurrentai/casecurrent/internal/tenancy"
	"github.com/casecurrentai/casecurrent/pkg/logging"
)

// Handler exposes qualification runs, overrides and reads under /v1/leads.
type Handler struct {
	service *Service
	logger  *logging.Logger
}

func NewHandler(service *Service, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{service: service, logger: logger}
}

// Run scores a lead on demand.
// POST /v1/leads/{leadID}/qualification/run
func (h *Handler) Run(w http.ResponseWriter, r *http.Request) {
	orgID, leadID, ok := h.scope(w, r)
	if !ok {
		return
	}

	q, err := h.service.Run(r.Context(), orgID, leadID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeError(w, http.StatusNotFound, "lead not found")
			return
		}
		h.logger.Error("qualification run failed", "lead_id", leadID, "error", err)
		writeError(w, http.StatusInternalServerError, "qualification run failed")
		return
	}
	writeJSON(w, http.StatusOK, q)
}

// Override applies a human correction.
// PATCH /v1/leads/{leadID}/qualification
func (h *Handler) Override(w http.ResponseWriter, r *http.Request) {
	orgID, leadID, ok := h.scope(w, r)
	if !ok {
		return
	}

	var ov Override
	if err := json.NewDecoder(r.Body).Decode(&ov); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if ov.Author == "" {
		if userID, ok := tenancy.UserIDFromContext(r.Context()); ok {
			ov.Author = userID
		}
	}

	q, err := h.service.ApplyOverride(r.Context(), orgID, leadID, ov)
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidOverride):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, ErrQualificationNotFound):
			writeError(w, http.StatusNotFound, "lead has not been qualified yet")
		default:
			h.logger.Error("qualification override failed", "lead_id", leadID, "error", err)
			writeError(w, http.StatusInternalServerError, "override failed")
		}
		return
	}
	writeJSON(w, http.StatusOK, q)
}

// Get returns the live qualification.
// GET /v1/leads/{leadID}/qualification
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	orgID, leadID, ok := h.scope(w, r)
	if !ok {
		return
	}

	q, err := h.service.Get(r.Context(), orgID, leadID)
	if err != nil {
		if errors.Is(err, ErrQualificationNotFound) {
			writeError(w, http.StatusNotFound, "lead has not been qualified yet")
			return
		}
		h.logger.Error("qualification fetch failed", "lead_id", leadID, "error", err)
		writeError(w, http.StatusInternalServerError, "fetch failed")
		return
	}
	writeJSON(w, http.StatusOK, q)
}

func (h *Handler) scope(w http.ResponseWriter, r *http.Request) (uuid.UUID, uuid.UUID, bool) {
	orgStr, ok := tenancy.OrgIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing org scope")
		return uuid.Nil, uuid.Nil, false
	}
	orgID, err := uuid.Parse(orgStr)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid org scope")
		return uuid.Nil, uuid.Nil, false
	}
	leadID, err := uuid.Parse(chi.URLParam(r, "leadID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid lead id")
		return uuid.Nil, uuid.Nil, false
	}
	return orgID, leadID, true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
