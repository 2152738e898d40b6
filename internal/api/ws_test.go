package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"marketsim/pkg/types"
)

func dialWS(t *testing.T, env *testEnv, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(env.http.URL, "http") + "/ws?" + query
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

func readFrame(t *testing.T, ws *websocket.Conn) types.ServerFrame {
	t.Helper()
	_ = ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	var frame types.ServerFrame
	if err := ws.ReadJSON(&frame); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	return frame
}

func TestWebSocketHandshakeRequiresCredential(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	url := "ws" + strings.TrimPrefix(env.http.URL, "http") + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("expected handshake rejection without credential")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("handshake status = %v, want 401", resp)
	}
}

func TestWebSocketSubscribeFlow(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	token := env.registerAndLogin(t, "wsuser")

	// The push channel needs an addressable session.
	env.do(t, "POST", "/session", token, types.GameConfig{Mode: types.ModeClassic}, nil)
	ws := dialWS(t, env, "token="+token)

	// Subscribing to market data answers with the full tape first.
	if err := ws.WriteJSON(types.ClientFrame{Type: "subscribe", Topic: types.TopicMarketData}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	frame := readFrame(t, ws)
	if frame.Type != "market_snapshot" {
		t.Fatalf("first frame = %q, want market_snapshot", frame.Type)
	}
	var snap struct {
		Quotes []json.RawMessage `json:"quotes"`
	}
	if err := json.Unmarshal(frame.Data, &snap); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if len(snap.Quotes) == 0 {
		t.Error("snapshot has no quotes")
	}

	// Ping answers pong.
	if err := ws.WriteJSON(types.ClientFrame{Type: "ping"}); err != nil {
		t.Fatalf("ping: %v", err)
	}
	if frame := readFrame(t, ws); frame.Type != "pong" {
		t.Errorf("frame = %q, want pong", frame.Type)
	}

	// Unknown topic answers an error frame, connection stays open.
	if err := ws.WriteJSON(types.ClientFrame{Type: "subscribe", Topic: "weather"}); err != nil {
		t.Fatalf("bad subscribe: %v", err)
	}
	if frame := readFrame(t, ws); frame.Type != "error" {
		t.Errorf("frame = %q, want error", frame.Type)
	}

	// Chat subscription is refused for a regular user.
	if err := ws.WriteJSON(types.ClientFrame{Type: "subscribe", Topic: types.TopicChat}); err != nil {
		t.Fatalf("chat subscribe: %v", err)
	}
	frame = readFrame(t, ws)
	if frame.Type != "error" {
		t.Fatalf("frame = %q, want error", frame.Type)
	}
	var body errorBody
	if err := json.Unmarshal(frame.Data, &body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if body.Tag != "RoleNotPermitted" {
		t.Errorf("tag = %q, want RoleNotPermitted", body.Tag)
	}
}

func TestWebSocketOrderUpdates(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	token := env.registerAndLogin(t, "wstrader")
	env.do(t, "POST", "/session", token, types.GameConfig{Mode: types.ModeClassic, StartingCapital: 25_000}, nil)

	ws := dialWS(t, env, "token="+token)
	if err := ws.WriteJSON(types.ClientFrame{Type: "subscribe", Topic: types.TopicOrderUpdate}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	// Give the read pump a beat to process the subscription.
	time.Sleep(50 * time.Millisecond)

	status := env.do(t, "POST", "/session/order", token, map[string]any{
		"symbol": "XAPI", "action": "buy", "quantity": 5,
	}, nil)
	if status != http.StatusOK {
		t.Fatalf("order status = %d", status)
	}

	frame := readFrame(t, ws)
	if frame.Type != "order_update" {
		t.Fatalf("frame = %q, want order_update", frame.Type)
	}
	var update types.OrderUpdate
	if err := json.Unmarshal(frame.Data, &update); err != nil {
		t.Fatalf("decode update: %v", err)
	}
	if update.Status != "filled" || update.Trade.Symbol != "XAPI" || update.Trade.Quantity != 5 {
		t.Errorf("update = %+v", update)
	}
}
