package httpapi

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/dmitrijs2005/notesync/internal/proto"
)

const wsWriteTimeout = 10 * time.Second

// wsConn adapts a WebSocket to channel.Conn using JSON text frames.
type wsConn struct {
	c *websocket.Conn
}

func (w wsConn) Recv(ctx context.Context) (*proto.ClientMessage, error) {
	var m proto.ClientMessage
	if err := wsjson.Read(ctx, w.c, &m); err != nil {
		switch websocket.CloseStatus(err) {
		case websocket.StatusNormalClosure, websocket.StatusGoingAway:
			return nil, io.EOF
		}
		return nil, err
	}
	return &m, nil
}

func (w wsConn) Send(ctx context.Context, m *proto.ServerMessage) error {
	ctx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return wsjson.Write(ctx, w.c, m)
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.originPatterns})
	if err != nil {
		s.logger.Warn(r.Context(), "websocket accept failed", "error", err)
		return
	}
	defer c.CloseNow()

	userID := userIDFromContext(r.Context())
	err = s.channels.Serve(r.Context(), userID, wsConn{c: c})
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Warn(r.Context(), "websocket channel closed with error", "user_id", userID, "error", err)
		c.Close(websocket.StatusPolicyViolation, truncate(err.Error(), 120))
		return
	}
	c.Close(websocket.StatusNormalClosure, "")
}

// truncate keeps close reasons under the 123-byte control frame limit.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
