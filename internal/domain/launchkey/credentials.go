package launchkey

import (
	"strings"

	platformerrors "launchkey-go/internal/platform/errors"
)

// DefaultVersion is the API version used when none is configured.
const DefaultVersion = "v1"

// Credentials identify the application to LaunchKey. They never change after
// construction and the secret only leaves the process encrypted.
type Credentials struct {
	appKey     string
	appSecret  string
	privateKey string
	domain     string
	version    string
}

// NewCredentials validates presence only. A malformed private key surfaces as a
// crypto error on first use.
func NewCredentials(appKey, appSecret, privateKeyPEM, domain, version string) (Credentials, error) {
	switch {
	case strings.TrimSpace(appKey) == "":
		return Credentials{}, platformerrors.New(platformerrors.KindConfig, "credentials", "app key is required")
	case strings.TrimSpace(appSecret) == "":
		return Credentials{}, platformerrors.New(platformerrors.KindConfig, "credentials", "app secret is required")
	case strings.TrimSpace(privateKeyPEM) == "":
		return Credentials{}, platformerrors.New(platformerrors.KindConfig, "credentials", "private key is required")
	}
	if version == "" {
		version = DefaultVersion
	}
	return Credentials{
		appKey:     appKey,
		appSecret:  appSecret,
		privateKey: privateKeyPEM,
		domain:     domain,
		version:    version,
	}, nil
}

func (c Credentials) AppKey() string     { return c.appKey }
func (c Credentials) AppSecret() string  { return c.appSecret }
func (c Credentials) PrivateKey() string { return c.privateKey }
func (c Credentials) Domain() string     { return c.domain }
func (c Credentials) Version() string    { return c.version }

// String never includes the secret or the key.
func (c Credentials) String() string {
	return "launchkey.Credentials{app_key=" + c.appKey + ", domain=" + c.domain + ", version=" + c.version + "}"
}
