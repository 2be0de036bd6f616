package notify

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nodalflow/voxplane/pkg/voxmodels"
)

// audioEventWhitelist is the narrow set of event tags an audio session
// may receive (audio streaming status, completion, ping).
var audioEventWhitelist = map[string]struct{}{
	"audio_stream_status": {},
	"audio_complete":      {},
	"sys_ping":            {},
	"sys_pong":            {},
}

// TokenVerifier authenticates a bearer token into a user id — an external
// collaborator; the composition root wires a real implementation.
type TokenVerifier interface {
	Verify(token string) (userID string, ok bool)
}

const (
	wsSendBuffer = 64
	wsPongWait   = 45 * time.Second
	wsPingPeriod = (wsPongWait * 9) / 10
	wsWriteWait  = 10 * time.Second
	wsMaxPayload = 1 << 20
)

// frame is the server/client message shape: a JSON object with a "type"
// tag plus a flat payload.
type frame struct {
	Type             string          `json:"type"`
	Token            string          `json:"token,omitempty"`
	SubscribedEvents []string        `json:"subscribed_events,omitempty"`
	Op               string          `json:"op,omitempty"`
	Events           []string        `json:"events,omitempty"`
	Payload          json.RawMessage `json:"payload,omitempty"`
	Error            string          `json:"error,omitempty"`
}

// wsConn adapts a *websocket.Conn to the registry's conn interface: a
// bounded per-session send buffer whose overflow closes the session.
type wsConn struct {
	ws     *websocket.Conn
	sendCh chan []byte
	closed chan struct{}
	logger *slog.Logger
}

func newWSConn(ws *websocket.Conn, logger *slog.Logger) *wsConn {
	return &wsConn{ws: ws, sendCh: make(chan []byte, wsSendBuffer), closed: make(chan struct{}), logger: logger}
}

// sendEvent implements the conn interface's send: best-effort, non-blocking
// enqueue onto the bounded outbound buffer.
func (c *wsConn) sendEvent(event string, payload any) bool {
	data, err := json.Marshal(frame{Type: event, Payload: mustRaw(payload)})
	if err != nil {
		return false
	}
	select {
	case c.sendCh <- data:
		return true
	default:
		return false
	}
}

func mustRaw(payload any) json.RawMessage {
	if payload == nil {
		return nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil
	}
	return data
}

func (c *wsConn) close() {
	select {
	case <-c.closed:
	default:
		close(c.closed)
		_ = c.ws.Close()
	}
}

func (c *wsConn) writeLoop() {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-c.closed:
			return
		case msg, ok := <-c.sendCh:
			if !ok {
				return
			}
			_ = c.ws.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.close()
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}
		}
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  8192,
	WriteBufferSize: 8192,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// closePolicyViolation rejects an already-upgraded connection with close
// code 1008.
func closePolicyViolation(ws *websocket.Conn, reason string) {
	_ = ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason), time.Now().Add(time.Second))
	_ = ws.Close()
}

// ServeAudio upgrades "/ws/audio/{session_id}": session_id must match
// SessionIDPattern after URL-decode, rejected with close code 1008
// otherwise. User association is optional at connect time.
func (h *Hub) ServeAudio(w http.ResponseWriter, r *http.Request, sessionID string) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	if !ValidateSessionID(sessionID) {
		closePolicyViolation(ws, "invalid session_id")
		return
	}
	c := newWSConn(ws, nil)

	events := make([]string, 0, len(audioEventWhitelist))
	for e := range audioEventWhitelist {
		events = append(events, e)
	}
	if _, err := h.registry.Register(sessionID, nil, voxmodels.ConnAudio, events); err != nil {
		closePolicyViolation(ws, err.Error())
		return
	}
	h.registry.Bind(sessionID, c)
	defer h.registry.Unregister(sessionID)

	go c.writeLoop()
	h.pumpAudio(c, sessionID)
}

// pumpAudio reads frames off an audio session, honoring only the audio
// event whitelist.
func (h *Hub) pumpAudio(c *wsConn, sessionID string) {
	defer c.close()
	c.ws.SetReadLimit(wsMaxPayload)
	_ = c.ws.SetReadDeadline(time.Now().Add(wsPongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			continue
		}
		if _, ok := audioEventWhitelist[f.Type]; !ok {
			continue
		}
		if f.Type == "sys_ping" {
			c.sendEvent("sys_pong", nil)
		}
	}
}

// ServeQueue upgrades "/ws/queue/{session_id}": the first message must
// be an auth_request carrying a verifiable token; the server
// replies auth_success or auth_error and closes on failure. Thereafter
// supports sys_ping and update_subscriptions.
func (h *Hub) ServeQueue(w http.ResponseWriter, r *http.Request, sessionID string, verifier TokenVerifier) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	if !ValidateSessionID(sessionID) {
		closePolicyViolation(ws, "invalid session_id")
		return
	}
	c := newWSConn(ws, nil)

	if _, err := h.registry.Register(sessionID, nil, voxmodels.ConnQueue, []string{"*"}); err != nil {
		closePolicyViolation(ws, err.Error())
		return
	}
	h.registry.Bind(sessionID, c)
	defer h.registry.Unregister(sessionID)

	go c.writeLoop()

	if !h.authenticateFirstMessage(c, sessionID, verifier) {
		c.close()
		return
	}

	h.pumpQueue(c, sessionID)
}

// authenticateFirstMessage reads exactly one message and requires it to be
// a valid auth_request.
func (h *Hub) authenticateFirstMessage(c *wsConn, sessionID string, verifier TokenVerifier) bool {
	c.ws.SetReadLimit(wsMaxPayload)
	_, data, err := c.ws.ReadMessage()
	if err != nil {
		return false
	}

	var f frame
	if err := json.Unmarshal(data, &f); err != nil || f.Type != "auth_request" {
		c.sendEvent("auth_error", map[string]string{"error": "first message must be auth_request"})
		return false
	}

	userID, ok := verifier.Verify(f.Token)
	if !ok {
		c.sendEvent("auth_error", map[string]string{"error": "invalid token"})
		return false
	}

	if err := h.registry.Authenticate(sessionID, userID); err != nil {
		c.sendEvent("auth_error", map[string]string{"error": err.Error()})
		return false
	}
	if len(f.SubscribedEvents) > 0 {
		_, _ = h.registry.UpdateSubscriptions(sessionID, "replace", f.SubscribedEvents)
	}
	c.sendEvent("auth_success", map[string]string{"session_id": sessionID, "user_id": userID})
	return true
}

// pumpQueue reads frames off an authenticated queue session: sys_ping →
// sys_pong and update_subscriptions control messages.
func (h *Hub) pumpQueue(c *wsConn, sessionID string) {
	defer c.close()
	_ = c.ws.SetReadDeadline(time.Now().Add(wsPongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			c.sendEvent("error", map[string]string{"error": "invalid frame"})
			continue
		}

		switch f.Type {
		case "sys_ping":
			c.sendEvent("sys_pong", nil)
		case "update_subscriptions":
			events, err := h.registry.UpdateSubscriptions(sessionID, f.Op, f.Events)
			if err != nil {
				c.sendEvent("error", map[string]string{"error": err.Error()})
				continue
			}
			c.sendEvent("subscription_update", map[string]any{"subscribed_events": events})
		default:
			c.sendEvent("error", map[string]string{"error": "unknown message type " + f.Type})
		}
	}
}

// send satisfies the registry's conn interface.
func (c *wsConn) send(event string, payload any) bool { return c.sendEvent(event, payload) }
