package httptransport

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"launchkey-go/internal/app/services"
	"launchkey-go/internal/domain/eventbus/infrastructure"
	"launchkey-go/internal/domain/eventbus/repository"
	"launchkey-go/internal/domain/launchkey"
	lkmodel "launchkey-go/internal/domain/launchkey/model"
	"launchkey-go/internal/domain/session"
	"launchkey-go/internal/domain/session/store"
	"launchkey-go/internal/platform/config"
	platformerrors "launchkey-go/internal/platform/errors"
	testutil "launchkey-go/internal/platform/testing"
)

type fakeLaunchKey struct {
	authRequest string
	poll        launchkey.PollResponse
	approve     bool
	deorbit     launchkey.DeorbitResult
	revoked     []string
	pingErr     error
}

func (f *fakeLaunchKey) Ping(context.Context) (launchkey.PingResponse, error) {
	if f.pingErr != nil {
		return launchkey.PingResponse{}, f.pingErr
	}
	return launchkey.PingResponse{Key: "pem", LaunchkeyTime: lkmodel.NewTimestamp(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))}, nil
}

func (f *fakeLaunchKey) Authorize(context.Context, string) (lkmodel.AuthorizeResponse, error) {
	return lkmodel.AuthorizeResponse{AuthRequest: f.authRequest}, nil
}

func (f *fakeLaunchKey) Poll(context.Context, string) (launchkey.PollResponse, error) {
	return f.poll, nil
}

func (f *fakeLaunchKey) IsAuthorized(context.Context, string) (launchkey.AuthResult, error) {
	if f.approve {
		return launchkey.AuthResult{Outcome: launchkey.AuthApproved}, nil
	}
	return launchkey.AuthResult{Outcome: launchkey.AuthDenied}, nil
}

func (f *fakeLaunchKey) Notify(_ context.Context, action launchkey.NotifyAction, _ bool, authRequest, _ string) error {
	f.revoked = append(f.revoked, string(action)+":"+authRequest)
	return nil
}

func (f *fakeLaunchKey) HandleDeorbit(context.Context, string, string) (launchkey.DeorbitResult, error) {
	return f.deorbit, nil
}

type testAPI struct {
	router *Router
	lk     *fakeLaunchKey
	audit  repository.EventRepository
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	tokens, err := session.NewTokenIssuer("secret", "test", time.Hour)
	require.NoError(t, err)
	sessions, err := session.NewManager(session.Options{
		Store:  store.NewMemory(store.Config{TTL: time.Hour}),
		Tokens: tokens,
		Logger: testutil.NopLogger{},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = sessions.Close() })

	lk := &fakeLaunchKey{authRequest: "r1"}
	login, err := services.NewLoginService(services.LoginConfig{Client: lk, Sessions: sessions, Logger: testutil.NopLogger{}})
	require.NoError(t, err)

	db := testutil.OpenTestDB(t, "http")
	audit := infrastructure.NewEventRepository(db)

	router, err := Build(Options{Config: config.DefaultConfig(), AuthMiddleware: BearerAuth(login)})
	require.NoError(t, err)
	NewLaunchKeyHandler(login, sessions, audit).RegisterRoutes(router)
	return &testAPI{router: router, lk: lk, audit: audit}
}

func (a *testAPI) do(t *testing.T, method, target string, body string, header map[string]string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	a.router.Engine.ServeHTTP(rec, req)

	var out map[string]any
	if rec.Body.Len() > 0 {
		require.NoError(t, sonic.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec, out
}

func data(t *testing.T, body map[string]any) map[string]any {
	t.Helper()
	d, ok := body["data"].(map[string]any)
	require.True(t, ok, "data is %T", body["data"])
	return d
}

var jsonHeader = map[string]string{"Content-Type": "application/json"}

func TestLoginPollSessionLogout(t *testing.T) {
	api := newTestAPI(t)

	rec, body := api.do(t, http.MethodPost, "/api/launchkey/login", `{"username":"alice"}`, jsonHeader)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "r1", data(t, body)["auth_request"])
	assert.NotEmpty(t, rec.Header().Get(RequestIDHeader))

	rec, body = api.do(t, http.MethodGet, "/api/launchkey/poll/r1", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "pending", data(t, body)["status"])

	api.lk.poll = launchkey.PollResponse{Auth: "pkg", UserHash: "hash-a"}
	api.lk.approve = true
	rec, body = api.do(t, http.MethodGet, "/api/launchkey/poll/r1", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	token, _ := data(t, body)["token"].(string)
	require.NotEmpty(t, token)

	auth := map[string]string{"Authorization": "Bearer " + token}
	rec, body = api.do(t, http.MethodGet, "/api/launchkey/session", "", auth)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "alice", data(t, body)["username"])
	assert.Equal(t, "hash-a", data(t, body)["user_hash"])

	rec, _ = api.do(t, http.MethodPost, "/api/launchkey/logout", "", auth)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"Revoke:r1"}, api.lk.revoked)

	rec, _ = api.do(t, http.MethodGet, "/api/launchkey/session", "", auth)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestPollDenied(t *testing.T) {
	api := newTestAPI(t)
	api.lk.poll = launchkey.PollResponse{Auth: "pkg"}

	rec, _ := api.do(t, http.MethodPost, "/api/launchkey/login", "username=bob", map[string]string{
		"Content-Type": "application/x-www-form-urlencoded",
	})
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec, body := api.do(t, http.MethodGet, "/api/launchkey/poll/r1", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "denied", data(t, body)["status"])
	assert.Nil(t, data(t, body)["token"])
}

func TestLoginRequiresUsername(t *testing.T) {
	api := newTestAPI(t)
	rec, body := api.do(t, http.MethodPost, "/api/launchkey/login", `{}`, jsonHeader)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, false, body["success"])
}

func TestPollUnknownAuthRequest(t *testing.T) {
	api := newTestAPI(t)
	rec, _ := api.do(t, http.MethodGet, "/api/launchkey/poll/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeorbitAlwaysOK(t *testing.T) {
	api := newTestAPI(t)
	form := url.Values{"deorbit": {`{"user_hash":"u"}`}, "signature": {"sig"}}.Encode()
	formHeader := map[string]string{"Content-Type": "application/x-www-form-urlencoded"}

	api.lk.deorbit = launchkey.DeorbitResult{Outcome: launchkey.DeorbitUntrusted}
	rec, body := api.do(t, http.MethodPost, "/api/launchkey/deorbit", form, formHeader)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "untrusted", data(t, body)["outcome"])

	api.lk.deorbit = launchkey.DeorbitResult{Outcome: launchkey.DeorbitConfirmed, UserHash: "u", Age: time.Hour}
	rec, body = api.do(t, http.MethodPost, "/api/launchkey/deorbit", form, formHeader)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "confirmed", data(t, body)["outcome"])
	assert.Equal(t, float64(0), data(t, body)["removed"])
}

func TestSecuredRoutesNeedToken(t *testing.T) {
	api := newTestAPI(t)
	for _, target := range []string{"/api/launchkey/session", "/api/launchkey/audit"} {
		rec, _ := api.do(t, http.MethodGet, target, "", nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, target)
	}
	rec, _ := api.do(t, http.MethodGet, "/api/launchkey/session", "", map[string]string{"Authorization": "Bearer junk"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

// loginAs walks a user through login and approval and returns the bearer header.
func (a *testAPI) loginAs(t *testing.T, username, authRequest, userHash string) map[string]string {
	t.Helper()
	a.lk.authRequest = authRequest
	a.lk.poll = launchkey.PollResponse{Auth: "pkg", UserHash: userHash}
	a.lk.approve = true

	rec, _ := a.do(t, http.MethodPost, "/api/launchkey/login", `{"username":"`+username+`"}`, jsonHeader)
	require.Equal(t, http.StatusAccepted, rec.Code)
	rec, body := a.do(t, http.MethodGet, "/api/launchkey/poll/"+authRequest, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	token, _ := data(t, body)["token"].(string)
	require.NotEmpty(t, token)
	return map[string]string{"Authorization": "Bearer " + token}
}

func auditSessions(t *testing.T, body map[string]any) []string {
	t.Helper()
	events, ok := body["data"].([]any)
	require.True(t, ok, "data is %T", body["data"])
	out := make([]string, 0, len(events))
	for _, ev := range events {
		m := ev.(map[string]any)
		key, _ := m["session_id"].(string)
		if key == "" {
			key, _ = m["user_id"].(string)
		}
		out = append(out, key)
	}
	return out
}

func TestAuditListing(t *testing.T) {
	api := newTestAPI(t)
	ctx := context.Background()
	alice := api.loginAs(t, "alice", "r1", "hash-a")
	bob := api.loginAs(t, "bob", "r2", "hash-b")

	now := time.Now()
	for _, ev := range []repository.Event{
		{EventType: "launchkey:authorized", SessionID: "r1", CreatedAt: now.Add(-2 * time.Hour)},
		{EventType: "launchkey:denied", SessionID: "r1", CreatedAt: now.Add(-time.Minute)},
		{EventType: "launchkey:deorbit", UserID: "hash-a", CreatedAt: now},
		{EventType: "launchkey:authorized", SessionID: "r2", CreatedAt: now},
		{EventType: "launchkey:deorbit", UserID: "hash-b", CreatedAt: now},
		{EventType: "session:created", SessionID: "other", UserID: "bob", CreatedAt: now},
	} {
		ev.Data = map[string]any{"type": ev.EventType}
		require.NoError(t, api.audit.Store(ctx, ev))
	}

	rec, body := api.do(t, http.MethodGet, "/api/launchkey/audit", "", alice)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.ElementsMatch(t, []string{"r1", "r1", "hash-a"}, auditSessions(t, body))

	rec, body = api.do(t, http.MethodGet, "/api/launchkey/audit", "", bob)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.ElementsMatch(t, []string{"r2", "hash-b", "other"}, auditSessions(t, body))

	rec, body = api.do(t, http.MethodGet, "/api/launchkey/audit?type=launchkey:denied", "", alice)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"r1"}, auditSessions(t, body))

	rec, body = api.do(t, http.MethodGet, "/api/launchkey/audit?limit=1", "", alice)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, auditSessions(t, body), 1)

	from := url.QueryEscape(now.Add(-30 * time.Minute).UTC().Format(time.RFC3339))
	rec, body = api.do(t, http.MethodGet, "/api/launchkey/audit?from="+from, "", alice)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.ElementsMatch(t, []string{"r1", "hash-a"}, auditSessions(t, body))

	rec, _ = api.do(t, http.MethodGet, "/api/launchkey/audit?limit=-3", "", alice)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec, _ = api.do(t, http.MethodGet, "/api/launchkey/audit?from=yesterday", "", alice)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAuditIgnoresOtherUsersFilters(t *testing.T) {
	api := newTestAPI(t)
	ctx := context.Background()
	alice := api.loginAs(t, "alice", "r1", "hash-a")
	api.loginAs(t, "bob", "r2", "hash-b")

	require.NoError(t, api.audit.Store(ctx, repository.Event{EventType: "launchkey:authorized", SessionID: "r2", Data: map[string]any{}}))
	require.NoError(t, api.audit.Store(ctx, repository.Event{EventType: "launchkey:deorbit", UserID: "hash-b", Data: map[string]any{}}))

	for _, target := range []string{
		"/api/launchkey/audit?user=bob",
		"/api/launchkey/audit?user=hash-b",
		"/api/launchkey/audit?session=r2",
	} {
		rec, body := api.do(t, http.MethodGet, target, "", alice)
		require.Equal(t, http.StatusOK, rec.Code, target)
		assert.Empty(t, auditSessions(t, body), target)
	}
}

func TestPingAndHealth(t *testing.T) {
	api := newTestAPI(t)

	rec, body := api.do(t, http.MethodGet, "/api/launchkey/ping", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "2024-01-01T00:00:00Z", data(t, body)["launchkey_time"])

	api.lk.pingErr = platformerrors.New(platformerrors.KindTransport, "ping", "down")
	rec, _ = api.do(t, http.MethodGet, "/api/launchkey/ping", "", nil)
	assert.Equal(t, http.StatusBadGateway, rec.Code)

	require.NoError(t, api.audit.Store(context.Background(), repository.Event{EventType: "launchkey:denied", SessionID: "r9", Data: map[string]any{}}))
	rec, body = api.do(t, http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", data(t, body)["status"])
	assert.Equal(t, map[string]any{"launchkey:denied": float64(1)}, data(t, body)["audit"])
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, StatusFor(fmt.Errorf("x: %w", session.ErrNotFound)))
	assert.Equal(t, http.StatusBadRequest, StatusFor(platformerrors.New(platformerrors.KindDomain, "op", "bad")))
	assert.Equal(t, http.StatusBadGateway, StatusFor(platformerrors.New(platformerrors.KindCrypto, "op", "bad")))
	assert.Equal(t, http.StatusInternalServerError, StatusFor(fmt.Errorf("plain")))
}
