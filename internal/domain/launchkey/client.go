// Package launchkey is a client for the LaunchKey push authentication API.
//
// Every authenticated call carries the app key, the app secret encrypted with
// the API public key together with the last known server time, and a signature
// of that ciphertext made with the application's private key. The public key
// and server time come from Ping and are cached per Client.
//
// A typical login runs Authorize, then Poll until an auth package arrives, then
// IsAuthorized. LaunchKey may later call back with a signed deorbit, which
// HandleDeorbit verifies before reporting the user to log out.
package launchkey

import (
	"context"
	"time"

	"launchkey-go/internal/domain/eventbus"
	"launchkey-go/internal/domain/launchkey/model"
	platformerrors "launchkey-go/internal/platform/errors"
	"launchkey-go/internal/platform/observability"
)

type (
	Logger           = model.Logger
	PingResponse     = model.PingResponse
	PollResponse     = model.PollResponse
	NotifyAction     = model.NotifyAction
	Orbit            = model.Orbit
	UserAuthResponse = model.UserAuthResponse
)

const (
	Authenticate = model.NotifyAuthenticate
	Revoke       = model.NotifyRevoke
)

// DeorbitMinAge is the age a verified orbit must exceed, measured against the
// server clock, before it is honoured. The direction reproduces the reference
// client: younger orbits are reported as DeorbitTooRecent.
const DeorbitMinAge = 5 * time.Minute

// Publisher receives domain events. *eventbus.Bus satisfies it.
type Publisher interface {
	Publish(topic string, args ...interface{})
}

// Options encapsulates the dependencies required to construct a Client.
type Options struct {
	Credentials Credentials
	Transport   Transport
	Crypto      *CryptoEngine
	Codec       Codec
	Logger      Logger
	Events      Publisher
}

// Client runs the LaunchKey protocol for one application. It is safe for
// concurrent use.
type Client struct {
	creds     Credentials
	transport Transport
	crypto    *CryptoEngine
	codec     Codec
	cache     *TimeCache
	logger    Logger
	events    Publisher
}

func NewClient(opts Options) (*Client, error) {
	if opts.Transport == nil {
		return nil, platformerrors.New(platformerrors.KindConfig, "launchkey.new", "transport is required")
	}
	if opts.Credentials.AppKey() == "" {
		return nil, platformerrors.New(platformerrors.KindConfig, "launchkey.new", "credentials are required")
	}
	if opts.Crypto == nil {
		opts.Crypto = NewCryptoEngine(PaddingPKCS1v15)
	}
	if opts.Codec == nil {
		opts.Codec = NewSonicCodec()
	}
	if opts.Logger == nil {
		opts.Logger = nopLogger{}
	}

	c := &Client{
		creds:     opts.Credentials,
		transport: opts.Transport,
		crypto:    opts.Crypto,
		codec:     opts.Codec,
		logger:    opts.Logger,
		events:    opts.Events,
	}
	c.cache = NewTimeCache(c.transport.Ping)
	return c, nil
}

func (c *Client) Credentials() Credentials { return c.creds }

// Cache exposes the server time cache, mainly for status reporting.
func (c *Client) Cache() *TimeCache { return c.cache }

// Ping refreshes the cached public key and server time.
func (c *Client) Ping(ctx context.Context) (resp PingResponse, err error) {
	ctx, finish := observability.StartSpan(ctx, "launchkey", "ping")
	defer func() { finish(err) }()

	resp, err = c.cache.Refresh(ctx)
	if err != nil {
		c.logger.Error("ping failed: %v", err)
		return resp, err
	}
	c.logger.Debug("ping ok, server time %s", resp.LaunchkeyTime.Format(model.WireTimeLayout))
	return resp, nil
}

// PrepareAuthParameters pings once if the cache is empty, then encrypts the
// stamped secret and signs the ciphertext.
func (c *Client) PrepareAuthParameters(ctx context.Context) (AuthParameters, error) {
	if err := c.cache.EnsureReady(ctx); err != nil {
		return AuthParameters{}, err
	}
	publicKey, serverTime, _ := c.cache.Snapshot()

	payload, err := SecretPayload(c.creds.AppSecret(), serverTime)
	if err != nil {
		return AuthParameters{}, err
	}
	secretKey, err := c.crypto.Encrypt(publicKey, payload)
	if err != nil {
		return AuthParameters{}, err
	}
	signature, err := c.crypto.Sign(c.creds.PrivateKey(), secretKey)
	if err != nil {
		return AuthParameters{}, err
	}

	return AuthParameters{
		AppKey:    c.creds.AppKey(),
		SecretKey: secretKey,
		Signature: signature,
	}, nil
}

// Authorize starts an authentication request for username.
func (c *Client) Authorize(ctx context.Context, username string) (resp model.AuthorizeResponse, err error) {
	ctx, finish := observability.StartSpan(ctx, "launchkey", "authorize")
	defer func() { finish(err) }()

	params, err := c.PrepareAuthParameters(ctx)
	if err != nil {
		return resp, err
	}
	resp, err = c.transport.Authorize(ctx, AuthorizeParams{AuthParameters: params, Username: username})
	if err != nil {
		c.logger.Error("authorize %s failed: %v", username, err)
		return resp, err
	}
	c.logger.Info("auth request %s issued for %s", resp.AuthRequest, username)
	return resp, nil
}

// Poll checks whether the user has responded. Auth is empty while pending.
func (c *Client) Poll(ctx context.Context, authRequest string) (resp PollResponse, err error) {
	ctx, finish := observability.StartSpan(ctx, "launchkey", "poll")
	defer func() { finish(err) }()

	params, err := c.PrepareAuthParameters(ctx)
	if err != nil {
		return resp, err
	}
	return c.transport.Poll(ctx, PollParams{AuthParameters: params, AuthRequest: authRequest})
}

// Notify reports action to the logs endpoint. The response body is ignored.
func (c *Client) Notify(ctx context.Context, action NotifyAction, status bool, authRequest, username string) (err error) {
	ctx, finish := observability.StartSpan(ctx, "launchkey", "notify")
	defer func() { finish(err) }()

	params, err := c.PrepareAuthParameters(ctx)
	if err != nil {
		return err
	}
	err = c.transport.Notify(ctx, NotifyParams{
		AuthParameters: params,
		Action:         action,
		Status:         status,
		AuthRequest:    authRequest,
		Username:       username,
	})
	if err != nil {
		c.logger.Warn("notify %s/%s failed: %v", action, FormatStatus(status), err)
	}
	return err
}

// IsAuthorized decrypts a poll auth package and reports the result back to
// LaunchKey. Notify failures are logged and published but never fail the call.
func (c *Client) IsAuthorized(ctx context.Context, pkg string) (result AuthResult, err error) {
	ctx, finish := observability.StartSpan(ctx, "launchkey", "is_authorized")
	defer func() { finish(err) }()

	plaintext, err := c.crypto.Decrypt(c.creds.PrivateKey(), Canonicalize(pkg))
	if err != nil {
		c.logger.Error("auth package could not be decrypted: %v", err)
		return AuthResult{}, err
	}

	var resp model.UserAuthResponse
	if err = c.codec.Unmarshal([]byte(plaintext), &resp); err != nil {
		return AuthResult{}, err
	}

	result = AuthResult{AuthRequest: resp.AuthRequest, Response: resp}
	event := eventbus.AuthEventData{AuthRequest: resp.AuthRequest, DeviceID: resp.DeviceID.String(), At: time.Now()}

	if bool(resp.Approved) {
		result.Outcome = AuthApproved
		c.notifyQuietly(ctx, Authenticate, true, resp.AuthRequest)
		c.logger.Info("auth request %s approved", resp.AuthRequest)
		c.publish(eventbus.EventAuthorized, event)
		return result, nil
	}

	result.Outcome = AuthDenied
	c.notifyQuietly(ctx, Authenticate, false, "")
	c.logger.Info("auth request %s denied", resp.AuthRequest)
	c.publish(eventbus.EventDenied, event)
	return result, nil
}

func (c *Client) notifyQuietly(ctx context.Context, action NotifyAction, status bool, authRequest string) {
	if err := c.Notify(ctx, action, status, authRequest, ""); err != nil {
		c.publish(eventbus.EventNotifyFailed, eventbus.NotifyFailedEventData{
			Action:      string(action),
			Status:      status,
			AuthRequest: authRequest,
			Error:       err.Error(),
			At:          time.Now(),
		})
	}
}

// HandleDeorbit verifies a deorbit callback against a freshly pinged public key.
// The orbit is parsed only after its signature verifies.
func (c *Client) HandleDeorbit(ctx context.Context, orbit, signature string) (result DeorbitResult, err error) {
	ctx, finish := observability.StartSpan(ctx, "launchkey", "deorbit")
	defer func() { finish(err) }()

	if _, err = c.Ping(ctx); err != nil {
		return DeorbitResult{}, err
	}
	publicKey, serverTime, _ := c.cache.Snapshot()

	// NOTE: the orbit is plain JSON, so it is verified as sent. It is not
	// canonicalized or base64-decoded like auth packages are.
	if !c.crypto.VerifyMessage(publicKey, signature, []byte(orbit)) {
		c.logger.Warn("deorbit signature did not verify")
		observability.RecordMetric(ctx, "launchkey.deorbit", 1, map[string]string{"outcome": DeorbitUntrusted.String()})
		return DeorbitResult{Outcome: DeorbitUntrusted}, nil
	}

	var decoded model.Orbit
	if err = c.codec.Unmarshal([]byte(orbit), &decoded); err != nil {
		return DeorbitResult{}, err
	}

	result = DeorbitResult{UserHash: decoded.UserHash, Age: serverTime.Sub(decoded.LaunchkeyTime.Time)}
	if result.Age > DeorbitMinAge {
		result.Outcome = DeorbitConfirmed
		c.logger.Info("deorbit confirmed for %s (age %s)", decoded.UserHash, result.Age)
		c.publish(eventbus.EventDeorbit, eventbus.DeorbitEventData{
			UserHash: decoded.UserHash,
			Age:      result.Age,
			At:       time.Now(),
		})
	} else {
		result.Outcome = DeorbitTooRecent
		c.logger.Warn("deorbit for %s ignored, age %s within %s", decoded.UserHash, result.Age, DeorbitMinAge)
	}
	observability.RecordMetric(ctx, "launchkey.deorbit", 1, map[string]string{"outcome": result.Outcome.String()})
	return result, nil
}

func (c *Client) publish(topic string, data any) {
	if c.events == nil {
		return
	}
	c.events.Publish(topic, data)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}
