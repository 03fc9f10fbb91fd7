package services

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/singleflight"

	"launchkey-go/internal/domain/launchkey"
	lkmodel "launchkey-go/internal/domain/launchkey/model"
	"launchkey-go/internal/domain/session"
	platformerrors "launchkey-go/internal/platform/errors"
	"launchkey-go/internal/util/work"
)

// LaunchKey is the subset of *launchkey.Client the login flow drives.
type LaunchKey interface {
	Ping(ctx context.Context) (launchkey.PingResponse, error)
	Authorize(ctx context.Context, username string) (lkmodel.AuthorizeResponse, error)
	Poll(ctx context.Context, authRequest string) (launchkey.PollResponse, error)
	IsAuthorized(ctx context.Context, pkg string) (launchkey.AuthResult, error)
	Notify(ctx context.Context, action launchkey.NotifyAction, status bool, authRequest, username string) error
	HandleDeorbit(ctx context.Context, orbit, signature string) (launchkey.DeorbitResult, error)
}

// Logger is the logging contract of the application services.
type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

// CheckResult is the state of a login after one poll step.
type CheckResult struct {
	Status    session.Status  `json:"status"`
	Token     string          `json:"token,omitempty"`
	ExpiresAt *time.Time      `json:"expires_at,omitempty"`
	Session   session.Session `json:"session"`
}

// Done reports whether polling can stop.
func (r CheckResult) Done() bool {
	return r.Status != session.StatusPending
}

// LoginService ties LaunchKey calls to local sessions.
type LoginService struct {
	client   LaunchKey
	sessions *session.Manager
	logger   Logger
	checks   singleflight.Group

	revokes       *work.WorkQueue[revokeJob]
	revokeRetries int
	revokeTimeout time.Duration
}

// LoginConfig configures a LoginService.
type LoginConfig struct {
	Client   LaunchKey
	Sessions *session.Manager
	Logger   Logger
	Revoke   RevokeOptions
}

// RevokeOptions moves logout Revoke notifications onto a retrying background
// queue. With Workers == 0 Logout notifies inline.
type RevokeOptions struct {
	Workers int
	Retries int
	Backoff time.Duration
	// Timeout bounds each Notify attempt. Default 30s.
	Timeout time.Duration
}

type revokeJob struct {
	AuthRequest string
	Username    string
}

// NewLoginService creates a LoginService.
func NewLoginService(cfg LoginConfig) (*LoginService, error) {
	if cfg.Client == nil || cfg.Sessions == nil {
		return nil, errors.New("login service requires a launchkey client and a session manager")
	}
	if cfg.Logger == nil {
		return nil, errors.New("login service requires a logger")
	}
	svc := &LoginService{
		client:   cfg.Client,
		sessions: cfg.Sessions,
		logger:   cfg.Logger,
	}
	if cfg.Revoke.Workers > 0 {
		svc.revokeRetries = max(cfg.Revoke.Retries, 0)
		svc.revokeTimeout = cfg.Revoke.Timeout
		if svc.revokeTimeout <= 0 {
			svc.revokeTimeout = 30 * time.Second
		}
		svc.revokes = work.NewWorkQueue(cfg.Revoke.Workers, svc.deliverRevoke, work.Options[revokeJob]{
			Backoff: cfg.Revoke.Backoff,
			OnDiscard: func(item *work.WorkItem[revokeJob], err error) {
				svc.logger.Warn("revoke notification for %s dropped after %d attempts: %v",
					item.Data.AuthRequest, item.Retries, err)
			},
		})
	}
	return svc, nil
}

// Ping forces a server time refresh.
func (s *LoginService) Ping(ctx context.Context) (launchkey.PingResponse, error) {
	return s.client.Ping(ctx)
}

// Login starts a push authorization for username and records a pending
// session for it.
func (s *LoginService) Login(ctx context.Context, username string, metadata map[string]any) (session.Session, error) {
	if username == "" {
		return session.Session{}, platformerrors.New(platformerrors.KindDomain, "login", "username is required")
	}
	resp, err := s.client.Authorize(ctx, username)
	if err != nil {
		return session.Session{}, err
	}
	if resp.AuthRequest == "" {
		return session.Session{}, platformerrors.New(platformerrors.KindParse, "login", "authorize returned no auth_request")
	}

	sess, err := s.sessions.Create(ctx, resp.AuthRequest, username, metadata)
	if err != nil {
		return session.Session{}, err
	}
	s.logger.Info("login started for %s, auth_request=%s", username, resp.AuthRequest)
	return sess, nil
}

// Check runs one poll step for authRequest. A settled session is returned
// without contacting LaunchKey; approval issues a token exactly once.
// Concurrent checks of one auth request share a single poll and its result.
func (s *LoginService) Check(ctx context.Context, authRequest string) (CheckResult, error) {
	v, err, _ := s.checks.Do(authRequest, func() (any, error) {
		return s.check(ctx, authRequest)
	})
	if err != nil {
		return CheckResult{}, err
	}
	return v.(CheckResult), nil
}

func (s *LoginService) check(ctx context.Context, authRequest string) (CheckResult, error) {
	sess, err := s.sessions.GetByAuthRequest(ctx, authRequest)
	if err != nil {
		return CheckResult{}, err
	}
	if sess.Status != session.StatusPending {
		return CheckResult{Status: sess.Status, Session: sess}, nil
	}

	poll, err := s.client.Poll(ctx, authRequest)
	if err != nil {
		return CheckResult{}, err
	}
	if poll.Auth == "" {
		return CheckResult{Status: session.StatusPending, Session: sess}, nil
	}

	result, err := s.client.IsAuthorized(ctx, poll.Auth)
	if err != nil {
		return CheckResult{}, err
	}
	if !result.Approved() {
		denied, err := s.sessions.Deny(ctx, authRequest)
		if err != nil {
			return CheckResult{}, err
		}
		return CheckResult{Status: session.StatusDenied, Session: denied}, nil
	}

	active, token, err := s.sessions.Activate(ctx, authRequest, poll.UserHash)
	if err != nil {
		return CheckResult{}, err
	}
	return CheckResult{
		Status:    session.StatusApproved,
		Token:     token,
		ExpiresAt: active.ExpiresAt,
		Session:   active,
	}, nil
}

// Authenticate resolves a bearer token to its session.
func (s *LoginService) Authenticate(ctx context.Context, token string) (session.Session, error) {
	return s.sessions.Authenticate(ctx, token)
}

// Logout tells LaunchKey the session was revoked and removes it. A failed
// Revoke notification is logged; the local session is removed regardless.
func (s *LoginService) Logout(ctx context.Context, sess session.Session) error {
	job := revokeJob{AuthRequest: sess.AuthRequest, Username: sess.Username}
	if s.revokes == nil || s.revokes.SubmitWithRetries(job, 0, s.revokeRetries) != nil {
		if err := s.client.Notify(ctx, launchkey.Revoke, true, job.AuthRequest, job.Username); err != nil {
			s.logger.Warn("revoke notification for %s failed: %v", sess.AuthRequest, err)
		}
	}
	return s.sessions.Remove(ctx, sess.ID, "logout")
}

func (s *LoginService) deliverRevoke(ctx context.Context, job revokeJob) error {
	ctx, cancel := context.WithTimeout(ctx, s.revokeTimeout)
	defer cancel()
	return s.client.Notify(ctx, launchkey.Revoke, true, job.AuthRequest, job.Username)
}

// RevokeStats reports the revoke queue counters; ok is false when Logout
// notifies inline.
func (s *LoginService) RevokeStats() (stats work.Stats, ok bool) {
	if s.revokes == nil {
		return work.Stats{}, false
	}
	return s.revokes.GetStats(), true
}

// Close drains pending revoke notifications until ctx ends.
func (s *LoginService) Close(ctx context.Context) error {
	if s.revokes == nil {
		return nil
	}
	return s.revokes.Stop(ctx)
}

// Deorbit handles a LaunchKey deorbit callback. A confirmed deorbit removes
// every session of that user.
func (s *LoginService) Deorbit(ctx context.Context, orbit, signature string) (launchkey.DeorbitResult, int, error) {
	result, err := s.client.HandleDeorbit(ctx, orbit, signature)
	if err != nil {
		return result, 0, err
	}
	switch result.Outcome {
	case launchkey.DeorbitConfirmed:
		removed, err := s.sessions.RemoveByUserHash(ctx, result.UserHash, "deorbit")
		return result, removed, err
	case launchkey.DeorbitTooRecent:
		s.logger.Info("deorbit for %s ignored, orbit only %s old", result.UserHash, result.Age)
	default:
		s.logger.Warn("untrusted deorbit ignored")
	}
	return result, 0, nil
}
