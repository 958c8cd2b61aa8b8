package realtime

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 64 * 1024
)

type WSOptions struct {
	PingInterval time.Duration
	PongTimeout  time.Duration
	SendBuffer   int
	SendRate     float64
	SendBurst    int
	// AllowedOrigins limits the Origin header; empty or "*" allows any.
	AllowedOrigins []string
}

// WSHandler upgrades HTTP requests to push-channel sessions. An optional
// user_id query parameter performs join-user on connect.
type WSHandler struct {
	gateway  *Gateway
	opts     WSOptions
	upgrader websocket.Upgrader
	logger   *logrus.Logger
}

func NewWSHandler(gateway *Gateway, opts WSOptions, logger *logrus.Logger) *WSHandler {
	if opts.PingInterval <= 0 {
		opts.PingInterval = 30 * time.Second
	}
	if opts.PongTimeout <= opts.PingInterval {
		opts.PongTimeout = 2 * opts.PingInterval
	}
	h := &WSHandler{
		gateway: gateway,
		opts:    opts,
		logger:  logger,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *WSHandler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(h.opts.AllowedOrigins) == 0 {
		return true
	}
	for _, o := range h.opts.AllowedOrigins {
		if o == "*" || o == origin {
			return true
		}
	}
	return false
}

func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithError(err).Warn("Failed to upgrade connection")
		return
	}

	var limiter *rate.Limiter
	if h.opts.SendRate > 0 {
		burst := h.opts.SendBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(h.opts.SendRate), burst)
	}

	session := NewSession(h.opts.SendBuffer, limiter)
	session.OnClose(func() {
		deadline := time.Now().Add(writeWait)
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		_ = ws.Close()
	})

	h.gateway.Connect(session)
	if userID := r.URL.Query().Get("user_id"); userID != "" {
		h.gateway.JoinUser(session, userID)
	}

	h.logger.WithFields(logrus.Fields{
		"session_id":  session.ID(),
		"remote_addr": r.RemoteAddr,
	}).Info("WebSocket session opened")

	go h.writeLoop(ws, session)
	h.readLoop(r.Context(), ws, session)
}

func (h *WSHandler) readLoop(ctx context.Context, ws *websocket.Conn, s *Session) {
	defer h.gateway.Disconnect(s)

	ws.SetReadLimit(maxMessageSize)
	_ = ws.SetReadDeadline(time.Now().Add(h.opts.PongTimeout))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(h.opts.PongTimeout))
	})

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.WithError(err).WithField("session_id", s.ID()).Debug("WebSocket read failed")
			}
			return
		}
		_ = ws.SetReadDeadline(time.Now().Add(h.opts.PongTimeout))
		h.gateway.HandleMessage(ctx, s, data)
	}
}

func (h *WSHandler) writeLoop(ws *websocket.Conn, s *Session) {
	ticker := time.NewTicker(h.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.Done():
			return
		case msg := <-s.Outbound():
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				s.Close()
				return
			}
		case <-ticker.C:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.Close()
				return
			}
		}
	}
}
