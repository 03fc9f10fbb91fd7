package ws

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"launchkey-go/internal/app/services"
	"launchkey-go/internal/domain/session"
	testutil "launchkey-go/internal/platform/testing"
)

type scriptedChecker struct {
	mu      sync.Mutex
	results []services.CheckResult
	err     error
	calls   []string
}

func (c *scriptedChecker) Check(_ context.Context, authRequest string) (services.CheckResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, authRequest)
	if c.err != nil {
		return services.CheckResult{}, c.err
	}
	res := c.results[0]
	if len(c.results) > 1 {
		c.results = c.results[1:]
	}
	return res, nil
}

func startWatchServer(t *testing.T, checker Checker, opts WatchOptions) (*Hub, string) {
	t.Helper()
	logger := testutil.SetupTestLogger(t)
	hub := NewHub(logger)
	router := NewRouter(hub, logger, RouterOptions{})
	router.SetHandlerBuilder(NewPollHandlerBuilder(checker, opts))

	mux := http.NewServeMux()
	mux.HandleFunc("/api/launchkey/ws/", router.Handle)
	srv := httptest.NewServer(mux)
	t.Cleanup(func() {
		hub.CloseAll(nil)
		srv.Close()
	})
	return hub, "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/launchkey/ws/"
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	return conn
}

func TestPollWatcherPushesUntilApproved(t *testing.T) {
	checker := &scriptedChecker{results: []services.CheckResult{
		{Status: session.StatusPending},
		{Status: session.StatusApproved, Token: "tok"},
	}}
	hub, base := startWatchServer(t, checker, WatchOptions{Interval: 10 * time.Millisecond, Timeout: time.Second})
	conn := dial(t, base+"r1")

	var first, second Frame
	require.NoError(t, conn.ReadJSON(&first))
	require.NoError(t, conn.ReadJSON(&second))
	assert.Equal(t, FramePending, first.Type)
	assert.Equal(t, "r1", first.AuthRequest)
	assert.Equal(t, FrameApproved, second.Type)
	assert.Equal(t, "tok", second.Token)

	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)

	assert.Eventually(t, func() bool { return hub.Count() == 0 }, time.Second, 10*time.Millisecond)
	checker.mu.Lock()
	assert.Equal(t, []string{"r1", "r1"}, checker.calls)
	checker.mu.Unlock()
}

func TestPollWatcherReportsErrors(t *testing.T) {
	checker := &scriptedChecker{err: errors.New("launchkey unreachable")}
	_, base := startWatchServer(t, checker, WatchOptions{Interval: 10 * time.Millisecond, Timeout: time.Second})
	conn := dial(t, base+"r2")

	var frame Frame
	require.NoError(t, conn.ReadJSON(&frame))
	assert.Equal(t, FrameError, frame.Type)
	assert.Equal(t, "launchkey unreachable", frame.Error)
}

func TestPollWatcherTimesOut(t *testing.T) {
	checker := &scriptedChecker{results: []services.CheckResult{{Status: session.StatusPending}}}
	_, base := startWatchServer(t, checker, WatchOptions{Interval: 10 * time.Millisecond, Timeout: 80 * time.Millisecond})
	conn := dial(t, base+"r3")

	var frame Frame
	for {
		require.NoError(t, conn.ReadJSON(&frame))
		if frame.Type != FramePending {
			break
		}
	}
	assert.Equal(t, FrameError, frame.Type)
	assert.Equal(t, ErrWatchTimeout.Error(), frame.Error)
}

func TestPollHandlerBuilderNeedsAuthRequest(t *testing.T) {
	builder := NewPollHandlerBuilder(&scriptedChecker{}, WatchOptions{})
	req := httptest.NewRequest(http.MethodGet, "/api/launchkey/ws/", nil)
	_, err := builder(nil, req)
	assert.Error(t, err)
}

func TestRouterWithoutBuilder(t *testing.T) {
	router := NewRouter(NewHub(nil), nil, RouterOptions{})
	rec := httptest.NewRecorder()
	router.Handle(rec, httptest.NewRequest(http.MethodGet, "/api/launchkey/ws/r1", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
