package ws

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"launchkey-go/internal/platform/logging"
	"launchkey-go/internal/platform/observability"
)

// HandlerBuilder creates a session handler for an upgraded websocket connection.
type HandlerBuilder func(conn *Connection, req *http.Request) (SessionHandler, error)

// Router upgrades HTTP connections to websocket sessions.
type Router struct {
	hub    *Hub
	logger *logging.Logger

	upgrader         *websocket.Upgrader
	handshakeTimeout time.Duration
	builder          atomic.Value // HandlerBuilder
}

// RouterOptions configures the websocket router.
type RouterOptions struct {
	HandshakeTimeout time.Duration
	CheckOrigin      func(r *http.Request) bool
}

// NewRouter constructs a websocket router.
func NewRouter(hub *Hub, logger *logging.Logger, opts RouterOptions) *Router {
	timeout := opts.HandshakeTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	upgrader := &websocket.Upgrader{
		HandshakeTimeout: timeout,
		CheckOrigin:      opts.CheckOrigin,
	}
	if upgrader.CheckOrigin == nil {
		upgrader.CheckOrigin = func(r *http.Request) bool { return true }
	}

	return &Router{
		hub:              hub,
		logger:           logger,
		upgrader:         upgrader,
		handshakeTimeout: timeout,
	}
}

// SetHandlerBuilder registers the handler builder that will be invoked after a successful upgrade.
func (r *Router) SetHandlerBuilder(builder HandlerBuilder) {
	r.builder.Store(builder)
}

// Handle upgrades the HTTP connection and launches a new websocket session.
func (r *Router) Handle(w http.ResponseWriter, req *http.Request) {
	value := r.builder.Load()
	if value == nil {
		http.Error(w, "websocket handler not ready", http.StatusServiceUnavailable)
		return
	}
	builder := value.(HandlerBuilder)

	handshakeCtx, cancel := context.WithTimeoutCause(req.Context(), r.handshakeTimeout, ErrHandshakeTimeout)
	defer cancel()
	req = req.WithContext(handshakeCtx)

	spanCtx, spanEnd := observability.StartSpan(handshakeCtx, "transport.websocket", "handle")
	var spanErr error
	defer func() {
		spanEnd(spanErr)
	}()

	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		spanErr = err
		observability.RecordMetric(spanCtx, "websocket.upgrade.error", 1, map[string]string{
			"component": "transport.websocket",
		})
		if r.logger != nil {
			r.logger.ErrorTag("WebSocket", "upgrade failed: %v", err)
		}
		return
	}

	wsConn := NewConnection(uuid.NewString(), conn)
	handler, err := builder(wsConn, req)
	if err != nil || handler == nil {
		spanErr = err
		observability.RecordMetric(spanCtx, "websocket.connection.error", 1, map[string]string{
			"component": "transport.websocket",
			"reason":    "handler_creation_failed",
		})
		if r.logger != nil {
			r.logger.ErrorTag("WebSocket", "handler creation failed: %v", err)
		}
		_ = wsConn.CloseWithReason(websocket.ClosePolicyViolation, errorText(err))
		return
	}

	// the session outlives the upgrade request
	session := NewSession(context.WithoutCancel(spanCtx), handler, wsConn, r.logger)
	r.hub.Register(session)
	if r.logger != nil {
		r.logger.InfoTag("WebSocket", "session %s opened", session.ID())
	}
	observability.RecordMetric(spanCtx, "websocket.connection.opened", 1, map[string]string{
		"component": "transport.websocket",
	})

	go session.Run(func(runErr error) {
		r.hub.Unregister(session.ID())
		if runErr != nil && r.logger != nil {
			r.logger.WarnTag("WebSocket", "session %s ended: %v", session.ID(), runErr)
		}
		observability.RecordMetric(session.Context(), "websocket.connection.closed", 1, map[string]string{
			"component": "transport.websocket",
		})
	})
}

func errorText(err error) string {
	if err == nil {
		return "no handler"
	}
	return err.Error()
}
