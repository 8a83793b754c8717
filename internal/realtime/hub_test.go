package realtime

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/casecurrentai/casecurrent/internal/tenancy"
)

func wsServer(hub *Hub, orgID uuid.UUID) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := tenancy.WithOrgID(r.Context(), orgID.String())
		ctx = tenancy.WithUserID(ctx, r.URL.Query().Get("user"))
		hub.ServeHTTP(w, r.WithContext(ctx))
	}))
}

func dial(t *testing.T, srv *httptest.Server, userID uuid.UUID) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "?user=" + userID.String()
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return ws
}

func waitForSessions(t *testing.T, hub *Hub, orgID uuid.UUID, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(hub.ConnectedUsers(orgID)) == n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected %d connected users, have %d", n, len(hub.ConnectedUsers(orgID)))
}

func readNotification(t *testing.T, ws *websocket.Conn) Notification {
	t.Helper()
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var n Notification
	if err := json.Unmarshal(data, &n); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return n
}

func TestBroadcastReachesEveryOrgSession(t *testing.T) {
	hub := NewHub()
	orgID := uuid.New()
	srv := wsServer(hub, orgID)
	defer srv.Close()

	alice, bob := uuid.New(), uuid.New()
	wsA := dial(t, srv, alice)
	defer wsA.Close()
	wsB := dial(t, srv, bob)
	defer wsB.Close()
	waitForSessions(t, hub, orgID, 2)

	sent := hub.Broadcast(orgID, Notification{Type: "call.incoming", Payload: map[string]string{"from": "+15125550199"}})
	if sent != 2 {
		t.Fatalf("expected 2 deliveries, got %d", sent)
	}
	for _, ws := range []*websocket.Conn{wsA, wsB} {
		if n := readNotification(t, ws); n.Type != "call.incoming" {
			t.Errorf("unexpected notification: %+v", n)
		}
	}
}

func TestSendToUserTargetsOneRecipient(t *testing.T) {
	hub := NewHub()
	orgID := uuid.New()
	srv := wsServer(hub, orgID)
	defer srv.Close()

	alice, bob := uuid.New(), uuid.New()
	wsA := dial(t, srv, alice)
	defer wsA.Close()
	wsB := dial(t, srv, bob)
	defer wsB.Close()
	waitForSessions(t, hub, orgID, 2)

	if sent := hub.SendToUser(orgID, alice, Notification{Type: "call.incoming"}); sent != 1 {
		t.Fatalf("expected 1 delivery, got %d", sent)
	}
	if n := readNotification(t, wsA); n.Type != "call.incoming" {
		t.Errorf("unexpected notification: %+v", n)
	}

	wsB.SetReadDeadline(time.Now().Add(150 * time.Millisecond))
	if _, _, err := wsB.ReadMessage(); err == nil {
		t.Error("untargeted session should not receive the notification")
	}
}

func TestSweepDropsStaleSessions(t *testing.T) {
	hub := NewHub(WithStaleAfter(20 * time.Millisecond))
	orgID := uuid.New()
	srv := wsServer(hub, orgID)
	defer srv.Close()

	ws := dial(t, srv, uuid.New())
	defer ws.Close()
	waitForSessions(t, hub, orgID, 1)

	time.Sleep(50 * time.Millisecond)
	hub.sweep()
	waitForSessions(t, hub, orgID, 0)
}

func TestBroadcastToEmptyOrg(t *testing.T) {
	hub := NewHub()
	if sent := hub.Broadcast(uuid.New(), Notification{Type: "call.incoming"}); sent != 0 {
		t.Fatalf("expected 0 deliveries, got %d", sent)
	}
}
