package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"marketsim/internal/auth"
	"marketsim/internal/broadcast"
	"marketsim/internal/sim"
	"marketsim/pkg/types"
)

const (
	writeWait     = 10 * time.Second
	pongWait      = 60 * time.Second
	pingPeriod    = (pongWait * 9) / 10
	maxFrameBytes = 4 * 1024
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Origin policy is enforced by the CORS layer for REST; the push channel
	// is credential-gated instead.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleWebSocket upgrades the push channel. The handshake must carry a
// bearer credential; the connection is scoped to the caller's session
// (bot_id query for bots, primary session otherwise).
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	id, ok := s.wsIdentity(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "Auth", "missing or invalid credential")
		return
	}

	sess, ok := s.resolveSession(r)
	if !ok {
		writeError(w, http.StatusNotFound, "NotFound", "no addressable session")
		return
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	conn := s.hub.Attach(id.UserID, sess.ID, id.Role)
	s.logger.Info("push channel opened", "conn", conn.ID, "user", id.UserID, "session", sess.ID)

	go s.writePump(ws, conn)
	s.readPump(ws, conn, sess)
}

// wsIdentity resolves the handshake credential: a bearer token, or a bot's
// id+key pair. Bot principals get the plain user role; chat stays closed to
// them.
func (s *Server) wsIdentity(r *http.Request) (auth.Identity, bool) {
	if token := bearerToken(r); token != "" {
		id, err := s.auth.VerifyToken(token)
		if err != nil {
			return auth.Identity{}, false
		}
		return id, true
	}

	botID := r.URL.Query().Get("bot_id")
	botKey := r.URL.Query().Get("bot_key")
	if botID == "" || botKey == "" {
		return auth.Identity{}, false
	}
	s.botMu.RLock()
	key, known := s.botKeys[botID]
	s.botMu.RUnlock()
	if !known || key != botKey {
		return auth.Identity{}, false
	}
	return auth.Identity{UserID: botID, Role: types.RoleUser, DisplayName: botID}, true
}

// writePump drains the connection's frame queue onto the wire, keeping the
// peer alive with pings. When the queue closes it sends a close frame
// carrying the reason.
func (s *Server) writePump(ws *websocket.Conn, conn *broadcast.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		ws.Close()
	}()

	for {
		select {
		case frame, ok := <-conn.Frames():
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				reason := conn.CloseReason()
				code := websocket.CloseNormalClosure
				if reason == broadcast.CloseReasonSlowConsumer {
					code = websocket.ClosePolicyViolation
				}
				_ = ws.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(code, reason))
				return
			}
			if err := ws.WriteJSON(frame); err != nil {
				s.hub.Detach(conn, "write failure")
				return
			}
		case <-ticker.C:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.hub.Detach(conn, "ping failure")
				return
			}
		}
	}
}

// readPump handles subscribe/unsubscribe/ping frames until the peer hangs up.
func (s *Server) readPump(ws *websocket.Conn, conn *broadcast.Conn, sess *sim.Session) {
	defer s.hub.Detach(conn, "client disconnect")

	ws.SetReadLimit(maxFrameBytes)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			return
		}

		var frame types.ClientFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			s.hub.Send(conn, errorFrame("Validation", "malformed frame"))
			continue
		}

		switch frame.Type {
		case "subscribe":
			if err := s.hub.Subscribe(conn, frame.Topic); err != nil {
				s.hub.Send(conn, subscribeError(err))
				continue
			}
			if frame.Topic == types.TopicMarketData {
				// First frame after subscribing is the full tape.
				s.hub.Send(conn, types.NewServerFrame("market_snapshot", map[string]any{
					"session_id": sess.ID,
					"day":        sess.DayCount(),
					"quotes":     sess.MarketSnapshot(),
				}))
			}
		case "unsubscribe":
			if err := s.hub.Unsubscribe(conn, frame.Topic); err != nil {
				s.hub.Send(conn, subscribeError(err))
			}
		case "ping":
			s.hub.Send(conn, types.NewServerFrame("pong", nil))
		default:
			s.hub.Send(conn, errorFrame("Validation", "unknown frame type"))
		}
	}
}

func errorFrame(tag, message string) types.ServerFrame {
	return types.NewServerFrame("error", errorBody{Tag: tag, Message: message})
}

func subscribeError(err error) types.ServerFrame {
	switch err {
	case broadcast.ErrUnknownTopic:
		return errorFrame("Validation", "unknown topic")
	case broadcast.ErrForbiddenTopic:
		return errorFrame("RoleNotPermitted", "chat requires tester or admin role")
	default:
		return errorFrame("Internal", "internal error")
	}
}
