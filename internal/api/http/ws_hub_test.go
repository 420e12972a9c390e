package apihttp

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"swarmstream/internal/domain"
)

func dialWS(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("ws dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	// The server registers the client just after the handshake; give the hub
	// a moment before broadcasting.
	time.Sleep(100 * time.Millisecond)
	return conn
}

func readWSMessage(t *testing.T, conn *websocket.Conn) wsMessage {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ws read: %v", err)
	}
	var msg wsMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		t.Fatalf("ws decode: %v", err)
	}
	return msg
}

func TestWebSocketStatusBroadcast(t *testing.T) {
	e := newEnv(t)
	ts := httptest.NewServer(e.server)
	defer ts.Close()

	conn := dialWS(t, ts)

	e.server.UpdateStatus([]domain.StatusSnapshot{
		{Key: e.key, KeyHex: e.key.Hex(), Name: "movie", Progress: 0.5},
	})

	msg := readWSMessage(t, conn)
	if msg.Type != "status" {
		t.Fatalf("message type = %q, want status", msg.Type)
	}
	raw, _ := json.Marshal(msg.Data)
	var snapshots []domain.StatusSnapshot
	if err := json.Unmarshal(raw, &snapshots); err != nil {
		t.Fatalf("decode snapshots: %v", err)
	}
	if len(snapshots) != 1 || snapshots[0].Name != "movie" || snapshots[0].Progress != 0.5 {
		t.Errorf("snapshots = %+v", snapshots)
	}
}

func TestWebSocketDHTBroadcast(t *testing.T) {
	e := newEnv(t)
	ts := httptest.NewServer(e.server)
	defer ts.Close()

	conn := dialWS(t, ts)

	e.server.UpdateDHTStats(42)

	msg := readWSMessage(t, conn)
	if msg.Type != "dht" {
		t.Fatalf("message type = %q, want dht", msg.Type)
	}
	data, ok := msg.Data.(map[string]any)
	if !ok || data["nodes"] != float64(42) {
		t.Errorf("dht payload = %v", msg.Data)
	}
}

func TestWebSocketServerCloseDisconnectsClients(t *testing.T) {
	e := newEnv(t)
	ts := httptest.NewServer(e.server)
	defer ts.Close()

	conn := dialWS(t, ts)

	e.server.Close()

	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseGoingAway) &&
				!websocket.IsUnexpectedCloseError(err) {
				t.Errorf("read error = %v, want a close", err)
			}
			return
		}
	}
}
