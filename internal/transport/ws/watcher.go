package ws

import (
	"context"
	"errors"
	"net/http"
	"path"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"launchkey-go/internal/app/services"
)

// Frame types pushed by the poll watcher.
const (
	FramePending  = "pending"
	FrameApproved = "approved"
	FrameDenied   = "denied"
	FrameError    = "error"
)

// Frame is one status message sent to the browser.
type Frame struct {
	Type        string     `json:"type"`
	AuthRequest string     `json:"auth_request"`
	Token       string     `json:"token,omitempty"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	Error       string     `json:"error,omitempty"`
	At          time.Time  `json:"at"`
}

// Checker runs one poll step. *services.LoginService satisfies it.
type Checker interface {
	Check(ctx context.Context, authRequest string) (services.CheckResult, error)
}

// WatchOptions bounds a poll watch.
type WatchOptions struct {
	Interval time.Duration
	Timeout  time.Duration
}

// PollWatcher polls LaunchKey for one auth request and pushes a frame per
// step until the user answers, the watch times out or the client leaves.
type PollWatcher struct {
	authRequest string
	conn        *Connection
	checker     Checker
	opts        WatchOptions

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// NewPollWatcher creates a watcher for authRequest on conn.
func NewPollWatcher(conn *Connection, authRequest string, checker Checker, opts WatchOptions) *PollWatcher {
	if opts.Interval <= 0 {
		opts.Interval = 2 * time.Second
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 2 * time.Minute
	}
	return &PollWatcher{
		authRequest: authRequest,
		conn:        conn,
		checker:     checker,
		opts:        opts,
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
	}
}

// NewPollHandlerBuilder returns a HandlerBuilder that takes the auth request
// from the last path segment, as in /api/launchkey/ws/<auth_request>.
func NewPollHandlerBuilder(checker Checker, opts WatchOptions) HandlerBuilder {
	return func(conn *Connection, req *http.Request) (SessionHandler, error) {
		authRequest := path.Base(req.URL.Path)
		if authRequest == "" || authRequest == "/" || authRequest == "." || authRequest == "ws" {
			return nil, errors.New("auth request missing from path")
		}
		return NewPollWatcher(conn, authRequest, checker, opts), nil
	}
}

// GetSessionID identifies the watch by its connection.
func (w *PollWatcher) GetSessionID() string {
	return w.conn.GetID()
}

// Handle runs the poll loop.
func (w *PollWatcher) Handle(ctx context.Context) {
	defer close(w.done)

	ctx, cancel := context.WithTimeoutCause(ctx, w.opts.Timeout, ErrWatchTimeout)
	defer cancel()
	go w.drainReads(cancel)

	ticker := time.NewTicker(w.opts.Interval)
	defer ticker.Stop()

	for {
		res, err := w.checker.Check(ctx, w.authRequest)
		if err != nil {
			if ctx.Err() != nil {
				err = context.Cause(ctx)
			}
			w.send(Frame{Type: FrameError, Error: err.Error()})
			w.finish(websocket.CloseInternalServerErr, "poll failed")
			return
		}

		frame := Frame{Type: string(res.Status), Token: res.Token, ExpiresAt: res.ExpiresAt}
		if err := w.send(frame); err != nil {
			return
		}
		if res.Done() {
			w.finish(websocket.CloseNormalClosure, frame.Type)
			return
		}

		select {
		case <-ticker.C:
		case <-w.stop:
			return
		case <-ctx.Done():
			if errors.Is(context.Cause(ctx), ErrWatchTimeout) {
				w.send(Frame{Type: FrameError, Error: ErrWatchTimeout.Error()})
				w.finish(websocket.CloseNormalClosure, "timeout")
			}
			return
		}
	}
}

// Close stops the poll loop and waits for it to return.
func (w *PollWatcher) Close() {
	w.stopOnce.Do(func() { close(w.stop) })
	<-w.done
}

func (w *PollWatcher) send(frame Frame) error {
	frame.AuthRequest = w.authRequest
	frame.At = time.Now().UTC()
	return w.conn.WriteJSON(frame)
}

func (w *PollWatcher) finish(code int, reason string) {
	_ = w.conn.CloseWithReason(code, reason)
}

// drainReads consumes client frames so control messages are processed; a read
// error means the client went away.
func (w *PollWatcher) drainReads(cancel context.CancelFunc) {
	for {
		if _, _, err := w.conn.ReadMessage(); err != nil {
			cancel()
			return
		}
	}
}
