package webhookout

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/casecurrentai/casecurrent/internal/tenancy"
	"github.com/casecurrentai/casecurrent/pkg/logging"
)

// Handler exposes org-scoped webhook endpoint management under
// /v1/webhook-endpoints.
type Handler struct {
	store  *Store
	logger *logging.Logger
}

func NewHandler(store *Store, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{store: store, logger: logger}
}

type createEndpointRequest struct {
	URL        string   `json:"url"`
	EventTypes []string `json:"event_types"`
}

// Create registers a new endpoint. The signing secret appears in this
// response and never again.
// POST /v1/webhook-endpoints
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	orgID, ok := h.orgScope(w, r)
	if !ok {
		return
	}

	var req createEndpointRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := validateEndpoint(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	secret, err := NewSecret()
	if err != nil {
		h.logger.Error("secret generation failed", "error", err)
		writeError(w, http.StatusInternalServerError, "could not create endpoint")
		return
	}

	endpoint := &Endpoint{
		ID:         uuid.New(),
		OrgID:      orgID,
		URL:        req.URL,
		Secret:     secret,
		EventTypes: req.EventTypes,
		Active:     true,
	}
	if err := h.store.CreateEndpoint(r.Context(), endpoint); err != nil {
		h.logger.Error("create endpoint failed", "error", err)
		writeError(w, http.StatusInternalServerError, "could not create endpoint")
		return
	}
	writeJSON(w, http.StatusCreated, endpoint)
}

// List returns the org's endpoints without secrets.
// GET /v1/webhook-endpoints
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	orgID, ok := h.orgScope(w, r)
	if !ok {
		return
	}
	endpoints, err := h.store.ListEndpoints(r.Context(), orgID)
	if err != nil {
		h.logger.Error("list endpoints failed", "error", err)
		writeError(w, http.StatusInternalServerError, "could not list endpoints")
		return
	}
	out := make([]Endpoint, 0, len(endpoints))
	for _, e := range endpoints {
		out = append(out, e.Redacted())
	}
	writeJSON(w, http.StatusOK, map[string]any{"endpoints": out})
}

// Get returns one endpoint without its secret.
// GET /v1/webhook-endpoints/{endpointID}
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	orgID, endpointID, ok := h.endpointScope(w, r)
	if !ok {
		return
	}
	endpoint, err := h.store.GetEndpoint(r.Context(), orgID, endpointID)
	if err != nil {
		h.respondStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, endpoint.Redacted())
}

// Delete removes an endpoint.
// DELETE /v1/webhook-endpoints/{endpointID}
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	orgID, endpointID, ok := h.endpointScope(w, r)
	if !ok {
		return
	}
	if err := h.store.DeleteEndpoint(r.Context(), orgID, endpointID); err != nil {
		h.respondStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RotateSecret replaces the signing secret and returns the new one, once.
// POST /v1/webhook-endpoints/{endpointID}/rotate-secret
func (h *Handler) RotateSecret(w http.ResponseWriter, r *http.Request) {
	orgID, endpointID, ok := h.endpointScope(w, r)
	if !ok {
		return
	}
	secret, err := NewSecret()
	if err != nil {
		h.logger.Error("secret generation failed", "error", err)
		writeError(w, http.StatusInternalServerError, "could not rotate secret")
		return
	}
	if err := h.store.RotateSecret(r.Context(), orgID, endpointID, secret); err != nil {
		h.respondStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"id":     endpointID.String(),
		"secret": secret,
	})
}

// Deliveries lists an endpoint's delivery history.
// GET /v1/webhook-endpoints/{endpointID}/deliveries
func (h *Handler) Deliveries(w http.ResponseWriter, r *http.Request) {
	orgID, endpointID, ok := h.endpointScope(w, r)
	if !ok {
		return
	}
	if _, err := h.store.GetEndpoint(r.Context(), orgID, endpointID); err != nil {
		h.respondStoreError(w, err)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	deliveries, err := h.store.ListDeliveries(r.Context(), orgID, endpointID, limit)
	if err != nil {
		h.logger.Error("list deliveries failed", "endpoint_id", endpointID, "error", err)
		writeError(w, http.StatusInternalServerError, "could not list deliveries")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deliveries": deliveries})
}

func validateEndpoint(req createEndpointRequest) error {
	u, err := url.Parse(req.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return errors.New("url must be a valid http(s) URL")
	}
	if len(req.EventTypes) == 0 {
		return errors.New("at least one event type is required")
	}
	for _, et := range req.EventTypes {
		if !KnownEventTypes[et] {
			return errors.New("unknown event type: " + et)
		}
	}
	return nil
}

func (h *Handler) respondStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, ErrEndpointNotFound) {
		writeError(w, http.StatusNotFound, "endpoint not found")
		return
	}
	h.logger.Error("endpoint store error", "error", err)
	writeError(w, http.StatusInternalServerError, "internal error")
}

func (h *Handler) orgScope(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
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

func (h *Handler) endpointScope(w http.ResponseWriter, r *http.Request) (uuid.UUID, uuid.UUID, bool) {
	orgID, ok := h.orgScope(w, r)
	if !ok {
		return uuid.Nil, uuid.Nil, false
	}
	endpointID, err := uuid.Parse(chi.URLParam(r, "endpointID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid endpoint id")
		return uuid.Nil, uuid.Nil, false
	}
	return orgID, endpointID, true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
