package launchkey

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParamsValues(t *testing.T) {
	base := AuthParameters{AppKey: "k", SecretKey: "s", Signature: "sig"}

	authorize := AuthorizeParams{AuthParameters: base, Username: "alice"}.Values()
	assert.Equal(t, "k", authorize.Get("app_key"))
	assert.Equal(t, "s", authorize.Get("secret_key"))
	assert.Equal(t, "sig", authorize.Get("signature"))
	assert.Equal(t, "alice", authorize.Get("username"))
	assert.Len(t, authorize, 4)

	poll := PollParams{AuthParameters: base, AuthRequest: "r1"}.Values()
	assert.Equal(t, "r1", poll.Get("auth_request"))
	assert.Len(t, poll, 4)
}

func TestNotifyParamsValues(t *testing.T) {
	base := AuthParameters{AppKey: "k", SecretKey: "s", Signature: "sig"}

	v := NotifyParams{AuthParameters: base, Action: Authenticate, Status: true, AuthRequest: "r1"}.Values()
	assert.Equal(t, "Authenticate", v.Get("action"))
	assert.Equal(t, "True", v.Get("status"))
	assert.Equal(t, "r1", v.Get("auth_request"))
	_, hasUser := v["username"]
	assert.False(t, hasUser, "username is omitted when empty")

	v = NotifyParams{AuthParameters: base, Action: Revoke, Status: false, Username: "bob"}.Values()
	assert.Equal(t, "Revoke", v.Get("action"))
	assert.Equal(t, "False", v.Get("status"))
	assert.Equal(t, "bob", v.Get("username"))
	_, hasAuth := v["auth_request"]
	assert.True(t, hasAuth, "auth_request is always sent")
}

func TestSecretPayload(t *testing.T) {
	ts := time.Date(2013, 4, 20, 21, 40, 2, 0, time.UTC)

	payload, err := SecretPayload("abc123", ts)
	require.NoError(t, err)
	assert.Equal(t, `{"secret" : "abc123", "stamped" : "2013-04-13 09:40:02"}`, payload)
}

func TestSecretPayloadEscapes(t *testing.T) {
	payload, err := SecretPayload(`a"b`, time.Time{})
	require.NoError(t, err)
	assert.Contains(t, payload, `"secret" : "a\"b"`)
}
