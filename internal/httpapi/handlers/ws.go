package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/suPer8Hu/polylog/internal/chat"
	"github.com/suPer8Hu/polylog/internal/common"
	"github.com/suPer8Hu/polylog/internal/httpapi/middleware"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 64 << 10

	// CloseMaxConnections is sent when a user already holds too many sessions.
	CloseMaxConnections = 4008
)

// wsTransport adapts a gorilla connection to chat.Transport. Only text frames
// carrying valid UTF-8 are delivered; anything else is ErrMalformedFrame.
type wsTransport struct {
	conn *websocket.Conn
}

func newWSTransport(conn *websocket.Conn) *wsTransport {
	conn.SetReadLimit(maxMessageSize)
	return &wsTransport{conn: conn}
}

func (t *wsTransport) ReadText() (string, error) {
	mt, data, err := t.conn.ReadMessage()
	if err != nil {
		return "", err
	}
	if mt != websocket.TextMessage || !utf8.Valid(data) {
		return "", chat.ErrMalformedFrame
	}
	return string(data), nil
}

func (t *wsTransport) WriteText(data []byte) error {
	_ = t.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return t.conn.WriteMessage(websocket.TextMessage, data)
}

func (t *wsTransport) Close() error {
	return t.closeWith(websocket.CloseNormalClosure, "")
}

func (t *wsTransport) closeWith(code int, reason string) error {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = t.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	return t.conn.Close()
}

// ServeWS upgrades GET /ws/:conversation_id and hands the socket to the relay.
// The token comes from ?token= or the Authorization header; without a valid
// one the connection joins anonymously.
func (h *Handler) ServeWS(c *gin.Context) {
	cid := strings.TrimSpace(c.Param("conversation_id"))
	if cid == "" {
		common.Fail(c, http.StatusBadRequest, 10010, "conversation id required")
		return
	}

	token := c.Query("token")
	if token == "" {
		token = middleware.BearerToken(c)
	}
	ctx := c.Request.Context()
	identity := h.Auth.IdentityOrAnonymous(ctx, token)

	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.Log.Warn("websocket upgrade failed", "conversation_id", cid, "err", err)
		return
	}
	tr := newWSTransport(ws)
	conn := chat.NewConnection(cid, identity, tr)

	err = h.Relay.Serve(ctx, conn)
	switch {
	case errors.Is(err, chat.ErrMaxConnectionsExceeded):
		h.Log.Info("connection rejected",
			"conversation_id", cid,
			"user_id", identity.UserID,
			"err", err,
		)
		_ = tr.closeWith(CloseMaxConnections, "Max connections exceeded")
	case errors.Is(err, chat.ErrRelayClosed):
		_ = tr.closeWith(websocket.CloseGoingAway, "Server shutting down")
	case err != nil:
		h.Log.Warn("connection ended with error", "conversation_id", cid, "session_id", conn.SessionID, "err", err)
		_ = conn.Close()
	}
}

// WSDebug lists live conversations and their connection counts.
func (h *Handler) WSDebug(c *gin.Context) {
	stats := h.Relay.Registry().Snapshot()
	total := 0
	for _, s := range stats {
		total += s.ConnectionCount
	}
	common.OK(c, gin.H{
		"active_conversations": stats,
		"total_connections":    total,
		"ai_sessions":          h.Sessions.Active(),
	})
}
