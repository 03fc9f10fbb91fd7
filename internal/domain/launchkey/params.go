package launchkey

import (
	"net/url"
	"time"

	"github.com/bytedance/sonic"

	"launchkey-go/internal/domain/launchkey/model"
	platformerrors "launchkey-go/internal/platform/errors"
)

// StampLayout renders the server time inside the encrypted secret. It mirrors
// the reference client byte for byte, including the two-digit year standing
// where the day belongs and the 12-hour clock.
const StampLayout = "2006-01-06 03:04:05"

// AuthParameters are the three credentials sent with every authenticated call.
type AuthParameters struct {
	AppKey    string
	SecretKey string
	Signature string
}

func (p AuthParameters) Values() url.Values {
	v := url.Values{}
	v.Set("app_key", p.AppKey)
	v.Set("secret_key", p.SecretKey)
	v.Set("signature", p.Signature)
	return v
}

type AuthorizeParams struct {
	AuthParameters
	Username string
}

func (p AuthorizeParams) Values() url.Values {
	v := p.AuthParameters.Values()
	v.Set("username", p.Username)
	return v
}

type PollParams struct {
	AuthParameters
	AuthRequest string
}

func (p PollParams) Values() url.Values {
	v := p.AuthParameters.Values()
	v.Set("auth_request", p.AuthRequest)
	return v
}

type NotifyParams struct {
	AuthParameters
	Action      model.NotifyAction
	Status      bool
	AuthRequest string
	// Username is only sent when non-empty.
	Username string
}

func (p NotifyParams) Values() url.Values {
	v := p.AuthParameters.Values()
	v.Set("action", string(p.Action))
	v.Set("status", FormatStatus(p.Status))
	v.Set("auth_request", p.AuthRequest)
	if p.Username != "" {
		v.Set("username", p.Username)
	}
	return v
}

// FormatStatus renders a bool the way the logs endpoint expects it.
func FormatStatus(status bool) string {
	if status {
		return "True"
	}
	return "False"
}

// SecretPayload builds the plaintext that is encrypted into secret_key.
func SecretPayload(appSecret string, serverTime time.Time) (string, error) {
	quoted, err := sonic.ConfigStd.MarshalToString(appSecret)
	if err != nil {
		return "", platformerrors.Wrap(platformerrors.KindParse, "secret_payload", "encode app secret", err)
	}
	return `{"secret" : ` + quoted + `, "stamped" : "` + serverTime.Format(StampLayout) + `"}`, nil
}
