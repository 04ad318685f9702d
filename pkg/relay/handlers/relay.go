// Package handlers holds the gateway's HTTP endpoints: the ConversationRelay
// websocket, the TwiML control-plane document and health checks.
package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/callweave/relay/pkg/relay/config"
	"github.com/callweave/relay/pkg/relay/generate"
	"github.com/callweave/relay/pkg/relay/lifecycle"
	"github.com/callweave/relay/pkg/relay/protocol"
	"github.com/callweave/relay/pkg/relay/session"
	"github.com/callweave/relay/pkg/relay/sessions"
	"github.com/callweave/relay/pkg/relay/store"
)

// RelayHandler accepts one websocket connection per phone call. The first
// frame must be the transport's setup message; everything after is handled
// by the call session.
type RelayHandler struct {
	Config    config.Config
	Store     *store.Store
	Generator *generate.Generator
	Logger    *slog.Logger
	Lifecycle *lifecycle.Lifecycle
	Sessions  *sessions.Tracker
}

func (h RelayHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.Lifecycle != nil && h.Lifecycle.IsDraining() {
		http.Error(w, "gateway is draining", http.StatusServiceUnavailable)
		return
	}

	logger := h.Logger
	if logger == nil {
		logger = slog.Default()
	}

	upgrader := websocket.Upgrader{
		// The transport provider dials directly; connections are not
		// browser-originated.
		CheckOrigin: func(*http.Request) bool { return true },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	if h.Config.MaxMessageBytes > 0 {
		conn.SetReadLimit(h.Config.MaxMessageBytes)
	}

	handshakeTimeout := h.Config.HandshakeTimeout
	if handshakeTimeout <= 0 {
		handshakeTimeout = 5 * time.Second
	}
	_ = conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	_, firstFrame, err := conn.ReadMessage()
	if err != nil {
		logger.Warn("failed to read setup frame", "error", err)
		return
	}

	decoded, err := protocol.DecodeClientMessage(firstFrame)
	if err != nil {
		logger.Warn("invalid setup frame", "error", err)
		h.writeClose(conn)
		return
	}
	setup, ok := decoded.(protocol.SetupMessage)
	if !ok {
		logger.Warn("first frame was not setup")
		h.writeClose(conn)
		return
	}

	if err := h.Store.Create(setup.CallSid, h.Config.SystemPrompt); err != nil {
		if errors.Is(err, store.ErrDuplicateSession) {
			// Keep the established call untouched and refuse the newcomer.
			logger.Warn("rejecting duplicate call session", "call_sid", setup.CallSid)
			h.writeJSON(conn, protocol.NewEndMessage())
			h.writeClose(conn)
			return
		}
		logger.Error("create call session", "call_sid", setup.CallSid, "error", err)
		h.writeClose(conn)
		return
	}

	sess, err := session.New(session.Dependencies{
		Conn:      conn,
		CallSid:   setup.CallSid,
		Store:     h.Store,
		Generator: h.Generator,
		Logger:    logger.With("from", setup.From, "to", setup.To),
		Config: session.Config{
			ReadTimeout:     h.Config.ReadTimeout,
			WriteTimeout:    h.Config.WriteTimeout,
			PingInterval:    h.Config.PingInterval,
			TurnTimeout:     h.Config.TurnTimeout,
			MaxMessageBytes: h.Config.MaxMessageBytes,
		},
	})
	if err != nil {
		logger.Error("build call session", "call_sid", setup.CallSid, "error", err)
		h.Store.Delete(setup.CallSid)
		h.writeClose(conn)
		return
	}

	unregister := h.Sessions.Register(setup.CallSid, sessions.Handle{Cancel: sess.Cancel})
	defer unregister()

	if err := sess.Run(); err != nil {
		logger.Warn("call session ended with error", "call_sid", setup.CallSid, "error", err)
	}
}

func (h RelayHandler) writeJSON(conn *websocket.Conn, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		return
	}
	_ = conn.SetWriteDeadline(time.Now().Add(h.writeTimeout()))
	_ = conn.WriteMessage(websocket.TextMessage, payload)
}

func (h RelayHandler) writeClose(conn *websocket.Conn) {
	deadline := time.Now().Add(h.writeTimeout())
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, ""), deadline)
}

func (h RelayHandler) writeTimeout() time.Duration {
	if h.Config.WriteTimeout > 0 {
		return h.Config.WriteTimeout
	}
	return 5 * time.Second
}
