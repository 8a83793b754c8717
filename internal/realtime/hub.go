package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/casecurrentai/casecurrent/internal/tenancy"
	"github.com/casecurrentai/casecurrent/pkg/logging"
)

// Notification is one realtime message pushed to connected dashboard
// sessions.
type Notification struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

type client struct {
	hub    *Hub
	ws     *websocket.Conn
	orgID  uuid.UUID
	userID uuid.UUID
	send   chan []byte

	mu       sync.Mutex
	lastSeen time.Time
	closed   bool
}

func (c *client) touch() {
	c.mu.Lock()
	c.lastSeen = time.Now()
	c.mu.Unlock()
}

func (c *client) seen() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastSeen
}

func (c *client) close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()
	close(c.send)
	c.ws.Close()
}

// Hub fans realtime notifications out to WebSocket sessions. Sessions are
// keyed by org and user so routing can target one recipient or every
// connected member of a tenant. A background sweep drops sessions that have
// gone quiet.
type Hub struct {
	mu      sync.RWMutex
	byOrg   map[uuid.UUID]map[*client]struct{}
	upgrade websocket.Upgrader

	sweepInterval time.Duration
	staleAfter    time.Duration
	logger        *logging.Logger
}

type HubOption func(*Hub)

func WithSweepInterval(d time.Duration) HubOption {
	return func(h *Hub) { h.sweepInterval = d }
}

func WithStaleAfter(d time.Duration) HubOption {
	return func(h *Hub) { h.staleAfter = d }
}

func WithHubLogger(l *logging.Logger) HubOption {
	return func(h *Hub) { h.logger = l }
}

func NewHub(opts ...HubOption) *Hub {
	h := &Hub{
		byOrg:         make(map[uuid.UUID]map[*client]struct{}),
		sweepInterval: 30 * time.Second,
		staleAfter:    2 * time.Minute,
		logger:        logging.Default(),
		upgrade: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Browser dashboards connect cross-origin behind the API
			// gateway; auth happens via the JWT middleware, not Origin.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Run sweeps stale sessions until ctx is canceled.
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(h.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case <-ticker.C:
			h.sweep()
		}
	}
}

// ServeHTTP upgrades an authenticated request to a WebSocket session. Org and
// user identity must already be on the context.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	orgStr, ok := tenancy.OrgIDFromContext(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	userStr, ok := tenancy.UserIDFromContext(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	orgID, err := uuid.Parse(orgStr)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	userID, err := uuid.Parse(userStr)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	ws, err := h.upgrade.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := &client{
		hub:      h,
		ws:       ws,
		orgID:    orgID,
		userID:   userID,
		send:     make(chan []byte, 16),
		lastSeen: time.Now(),
	}
	h.register(c)
	go c.writeLoop()
	go c.readLoop()
}

// SendToUser delivers a notification to every session the user has open.
// Returns the number of sessions reached.
func (h *Hub) SendToUser(orgID, userID uuid.UUID, n Notification) int {
	data, err := json.Marshal(n)
	if err != nil {
		h.logger.Error("marshal notification", "error", err)
		return 0
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	sent := 0
	for c := range h.byOrg[orgID] {
		if c.userID == userID && c.trySend(data) {
			sent++
		}
	}
	return sent
}

// Broadcast delivers a notification to every session in the org. Returns the
// number of sessions reached.
func (h *Hub) Broadcast(orgID uuid.UUID, n Notification) int {
	data, err := json.Marshal(n)
	if err != nil {
		h.logger.Error("marshal notification", "error", err)
		return 0
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	sent := 0
	for c := range h.byOrg[orgID] {
		if c.trySend(data) {
			sent++
		}
	}
	return sent
}

// ConnectedUsers reports the distinct users with at least one open session.
func (h *Hub) ConnectedUsers(orgID uuid.UUID) map[uuid.UUID]bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make(map[uuid.UUID]bool)
	for c := range h.byOrg[orgID] {
		out[c.userID] = true
	}
	return out
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.byOrg[c.orgID] == nil {
		h.byOrg[c.orgID] = make(map[*client]struct{})
	}
	h.byOrg[c.orgID][c] = struct{}{}
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	if set, ok := h.byOrg[c.orgID]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(h.byOrg, c.orgID)
		}
	}
	h.mu.Unlock()
	c.close()
}

func (h *Hub) sweep() {
	cutoff := time.Now().Add(-h.staleAfter)
	h.mu.RLock()
	var stale []*client
	for _, set := range h.byOrg {
		for c := range set {
			if c.seen().Before(cutoff) {
				stale = append(stale, c)
			}
		}
	}
	h.mu.RUnlock()
	for _, c := range stale {
		h.logger.Info("dropping stale realtime session", "org_id", c.orgID, "user_id", c.userID)
		h.unregister(c)
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	var all []*client
	for _, set := range h.byOrg {
		for c := range set {
			all = append(all, c)
		}
	}
	h.byOrg = make(map[uuid.UUID]map[*client]struct{})
	h.mu.Unlock()
	for _, c := range all {
		c.close()
	}
}

// trySend never blocks: a session that cannot keep up loses messages rather
// than stalling delivery to everyone else.
func (c *client) trySend(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *client) readLoop() {
	defer c.hub.unregister(c)
	c.ws.SetPongHandler(func(string) error {
		c.touch()
		return nil
	})
	for {
		if _, _, err := c.ws.ReadMessage(); err != nil {
			return
		}
		c.touch()
	}
}

func (c *client) writeLoop() {
	ping := time.NewTicker(c.hub.sweepInterval)
	defer ping.Stop()
	for {
		select {
		case data, ok := <-c.send:
			if !ok {
				c.ws.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ping.C:
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
