package httptransport

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"launchkey-go/internal/app/services"
	"launchkey-go/internal/domain/eventbus/repository"
	"launchkey-go/internal/domain/session"
	platformerrors "launchkey-go/internal/platform/errors"
)

const (
	sessionContextKey = "launchkey.session"
	defaultAuditLimit = 50
	maxAuditLimit     = 500
)

// LaunchKeyHandler serves the login API.
type LaunchKeyHandler struct {
	login    *services.LoginService
	audit    repository.EventRepository
	sessions *session.Manager
}

// NewLaunchKeyHandler creates the handler. audit may be nil, which disables
// the audit endpoint.
func NewLaunchKeyHandler(login *services.LoginService, sessions *session.Manager, audit repository.EventRepository) *LaunchKeyHandler {
	return &LaunchKeyHandler{
		login:    login,
		audit:    audit,
		sessions: sessions,
	}
}

// RegisterRoutes mounts the handler under /api/launchkey. Secured routes need
// router.Secured, built with BearerAuth.
func (h *LaunchKeyHandler) RegisterRoutes(router *Router) {
	router.Engine.GET("/healthz", h.Health)

	api := router.API.Group("/launchkey")
	api.GET("/ping", h.Ping)
	api.POST("/login", h.Login)
	api.GET("/poll/:auth_request", h.Poll)
	api.POST("/deorbit", h.Deorbit)

	if router.Secured != nil {
		secured := router.Secured.Group("/launchkey")
		secured.GET("/session", h.Session)
		secured.POST("/logout", h.Logout)
		secured.GET("/audit", h.Audit)
	}
}

// BearerAuth resolves "Authorization: Bearer <token>" to a session.
func BearerAuth(login *services.LoginService) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(token) == "" {
			RespondError(c, http.StatusUnauthorized, "missing bearer token", nil)
			c.Abort()
			return
		}
		sess, err := login.Authenticate(c.Request.Context(), strings.TrimSpace(token))
		if err != nil {
			RespondError(c, http.StatusUnauthorized, "invalid session", nil)
			c.Abort()
			return
		}
		c.Set(sessionContextKey, sess)
		c.Next()
	}
}

// CurrentSession returns the session stored by BearerAuth.
func CurrentSession(c *gin.Context) (session.Session, bool) {
	v, ok := c.Get(sessionContextKey)
	if !ok {
		return session.Session{}, false
	}
	sess, ok := v.(session.Session)
	return sess, ok
}

// Health reports liveness, session store statistics and, when the audit trail
// is on, event counts per type.
func (h *LaunchKeyHandler) Health(c *gin.Context) {
	stats, err := h.sessions.Stats(c.Request.Context())
	if err != nil {
		RespondError(c, http.StatusServiceUnavailable, err.Error(), nil)
		return
	}
	payload := gin.H{"status": "ok", "sessions": stats}
	if revokes, ok := h.login.RevokeStats(); ok {
		payload["revoke_queue"] = revokes
	}
	if h.audit != nil {
		counts, err := h.audit.CountByType(c.Request.Context())
		if err != nil {
			RespondError(c, http.StatusServiceUnavailable, err.Error(), nil)
			return
		}
		payload["audit"] = counts
	}
	RespondSuccess(c, http.StatusOK, payload, "")
}

// Ping forces a LaunchKey server time refresh.
func (h *LaunchKeyHandler) Ping(c *gin.Context) {
	resp, err := h.login.Ping(c.Request.Context())
	if err != nil {
		RespondErr(c, err)
		return
	}
	RespondSuccess(c, http.StatusOK, gin.H{
		"launchkey_time": resp.LaunchkeyTime.Time,
		"date_stamp":     resp.DateStamp.Time,
	}, "")
}

// LoginRequest is the body of POST /login.
type LoginRequest struct {
	Username string `json:"username" form:"username" binding:"required"`
}

// Login starts a push authorization.
func (h *LaunchKeyHandler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBind(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "username is required", nil)
		return
	}

	sess, err := h.login.Login(c.Request.Context(), req.Username, map[string]any{
		"ip":         c.ClientIP(),
		"user_agent": c.Request.UserAgent(),
	})
	if err != nil {
		RespondErr(c, err)
		return
	}
	RespondSuccess(c, http.StatusAccepted, gin.H{
		"auth_request": sess.AuthRequest,
		"status":       sess.Status,
	}, "authorization pending")
}

// Poll runs one poll step for the auth request.
func (h *LaunchKeyHandler) Poll(c *gin.Context) {
	res, err := h.login.Check(c.Request.Context(), c.Param("auth_request"))
	if err != nil {
		RespondErr(c, err)
		return
	}
	RespondSuccess(c, http.StatusOK, res, string(res.Status))
}

// Logout revokes the current session.
func (h *LaunchKeyHandler) Logout(c *gin.Context) {
	sess, ok := CurrentSession(c)
	if !ok {
		RespondError(c, http.StatusUnauthorized, "missing session", nil)
		return
	}
	if err := h.login.Logout(c.Request.Context(), sess); err != nil {
		RespondErr(c, err)
		return
	}
	RespondSuccess(c, http.StatusOK, nil, "logged out")
}

// Deorbit is the LaunchKey callback. It always answers 200; only the outcome
// differs.
func (h *LaunchKeyHandler) Deorbit(c *gin.Context) {
	orbit := c.PostForm("deorbit")
	signature := c.PostForm("signature")

	// the callback must complete even if LaunchKey drops the connection
	ctx := context.WithoutCancel(c.Request.Context())
	result, removed, err := h.login.Deorbit(ctx, orbit, signature)
	if err != nil {
		_ = c.Error(err)
		RespondSuccess(c, http.StatusOK, gin.H{"outcome": "error"}, "")
		return
	}
	RespondSuccess(c, http.StatusOK, gin.H{
		"outcome": result.Outcome.String(),
		"removed": removed,
	}, "")
}

// Session returns the caller's session.
func (h *LaunchKeyHandler) Session(c *gin.Context) {
	sess, ok := CurrentSession(c)
	if !ok {
		RespondError(c, http.StatusUnauthorized, "missing session", nil)
		return
	}
	RespondSuccess(c, http.StatusOK, sess, "")
}

// Audit lists the caller's own events: those recorded against the current
// session or auth request, or against its username or user hash. Optional
// filters: type, from and to (RFC 3339), limit.
func (h *LaunchKeyHandler) Audit(c *gin.Context) {
	if h.audit == nil {
		RespondError(c, http.StatusNotFound, "audit trail disabled", nil)
		return
	}
	sess, ok := CurrentSession(c)
	if !ok {
		RespondError(c, http.StatusUnauthorized, "missing session", nil)
		return
	}

	q := repository.Query{
		EventType:  c.Query("type"),
		SessionIDs: []string{sess.ID, sess.AuthRequest},
		UserIDs:    []string{sess.Username, sess.UserHash},
		Limit:      defaultAuditLimit,
	}
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			RespondError(c, http.StatusBadRequest, "invalid limit", nil)
			return
		}
		q.Limit = min(n, maxAuditLimit)
	}
	for name, dst := range map[string]*time.Time{"from": &q.From, "to": &q.To} {
		raw := c.Query(name)
		if raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			RespondError(c, http.StatusBadRequest, "invalid "+name+" time", nil)
			return
		}
		*dst = t
	}
	if !q.From.IsZero() && !q.To.IsZero() && q.To.Before(q.From) {
		RespondError(c, http.StatusBadRequest, "to is before from", nil)
		return
	}

	events, err := h.audit.Find(c.Request.Context(), q)
	if err != nil {
		RespondErr(c, platformerrors.Wrap(platformerrors.KindStorage, "audit.list", "failed to list events", err))
		return
	}
	RespondSuccess(c, http.StatusOK, events, "")
}
