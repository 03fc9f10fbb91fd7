package model

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// WireTimeLayout is the layout LaunchKey uses for launchkey_time and date_stamp.
const WireTimeLayout = "2006-01-02 15:04:05"

// Timestamp is a UTC time decoded from the LaunchKey wire format. RFC 3339
// strings and unix seconds are accepted as well.
type Timestamp struct {
	time.Time
}

func NewTimestamp(t time.Time) Timestamp {
	return Timestamp{Time: t.UTC()}
}

// ParseTimestamp parses s in any of the accepted formats.
func ParseTimestamp(s string) (Timestamp, error) {
	s = strings.TrimSpace(s)
	if t, err := time.ParseInLocation(WireTimeLayout, s, time.UTC); err == nil {
		return Timestamp{Time: t}, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return NewTimestamp(t), nil
	}
	secs, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return Timestamp{}, &time.ParseError{Layout: WireTimeLayout, Value: s, Message: ": unrecognised timestamp"}
	}
	return NewTimestamp(time.Unix(secs, 0)), nil
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) || len(data) == 0 {
		*t = Timestamp{}
		return nil
	}
	raw := string(data)
	if unquoted, err := strconv.Unquote(raw); err == nil {
		raw = unquoted
	}
	if raw == "" {
		*t = Timestamp{}
		return nil
	}
	parsed, err := ParseTimestamp(raw)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return []byte(strconv.Quote(t.UTC().Format(WireTimeLayout))), nil
}

// Flag decodes booleans that the API sometimes sends as strings ("true", "True").
type Flag bool

func (f *Flag) UnmarshalJSON(data []byte) error {
	raw := strings.Trim(strings.TrimSpace(string(data)), `"`)
	if raw == "" || raw == "null" {
		*f = false
		return nil
	}
	b, err := strconv.ParseBool(strings.ToLower(raw))
	if err != nil {
		return err
	}
	*f = Flag(b)
	return nil
}

// Scalar holds a JSON string or number as text. The API has sent ids both ways.
type Scalar string

func (s *Scalar) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*s = ""
		return nil
	}
	if data[0] == '"' {
		unquoted, err := strconv.Unquote(string(data))
		if err != nil {
			return err
		}
		*s = Scalar(unquoted)
		return nil
	}
	if _, err := strconv.ParseFloat(string(data), 64); err != nil {
		return fmt.Errorf("scalar: unexpected value %s", data)
	}
	*s = Scalar(data)
	return nil
}

func (s Scalar) String() string { return string(s) }

// PingResponse carries the API public key and the server clock.
type PingResponse struct {
	Key           string    `json:"key"`
	LaunchkeyTime Timestamp `json:"launchkey_time"`
	DateStamp     Timestamp `json:"date_stamp"`
}

type AuthorizeResponse struct {
	AuthRequest string `json:"auth_request"`
}

// PollResponse holds the encrypted auth package once the user has responded.
// Auth is empty while the request is still pending.
type PollResponse struct {
	Auth     string `json:"auth"`
	UserHash string `json:"user_hash"`
}

// UserAuthResponse is the decrypted content of a poll auth package.
type UserAuthResponse struct {
	Approved    Flag   `json:"response"`
	AuthRequest string `json:"auth_request"`
	AppPins     Scalar `json:"app_pins"`
	DeviceID    Scalar `json:"device_id"`
}

// Orbit is the signed body of a deorbit callback.
type Orbit struct {
	UserHash      string    `json:"user_hash"`
	LaunchkeyTime Timestamp `json:"launchkey_time"`
}

// NotifyAction is the action reported to the logs endpoint.
type NotifyAction string

const (
	NotifyAuthenticate NotifyAction = "Authenticate"
	NotifyRevoke       NotifyAction = "Revoke"
)

// Logger provides the minimal logging contract required by the launchkey domain.
type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}
