package launchkey

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"launchkey-go/internal/domain/launchkey/model"
	platformerrors "launchkey-go/internal/platform/errors"
	"launchkey-go/internal/platform/observability"
)

// APIHostFormat is formatted with the API version to build the default base URL.
const APIHostFormat = "https://api.launchkey.com/%s/"

// pendingMessageCode is returned by poll while the user has not responded yet.
const pendingMessageCode = 70403

// Transport issues the four LaunchKey API calls.
type Transport interface {
	Ping(ctx context.Context) (model.PingResponse, error)
	Authorize(ctx context.Context, params AuthorizeParams) (model.AuthorizeResponse, error)
	Poll(ctx context.Context, params PollParams) (model.PollResponse, error)
	Notify(ctx context.Context, params NotifyParams) error
}

// APIError is the error body the API returns with non-2xx responses.
type APIError struct {
	HTTPStatus  int    `json:"-"`
	StatusCode  int    `json:"status_code"`
	Message     string `json:"message"`
	MessageCode int    `json:"message_code"`
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("launchkey api returned HTTP %d", e.HTTPStatus)
	}
	return fmt.Sprintf("launchkey api returned HTTP %d: %s (code %d)", e.HTTPStatus, e.Message, e.MessageCode)
}

// RestOptions configures RestTransport.
type RestOptions struct {
	BaseURL string
	Version string
	Timeout time.Duration
	// Debug routes requests through the environment proxy and enables
	// request/response logging.
	Debug  bool
	Codec  Codec
	Logger model.Logger
	// HTTPClient replaces the underlying client, mainly for tests.
	HTTPClient *http.Client
}

// RestTransport is the resty-backed Transport.
type RestTransport struct {
	client *resty.Client
	codec  Codec
}

// DefaultBaseURL returns the API root for version.
func DefaultBaseURL(version string) string {
	if version == "" {
		version = DefaultVersion
	}
	return fmt.Sprintf(APIHostFormat, version)
}

func NewRestTransport(opts RestOptions) *RestTransport {
	if opts.Codec == nil {
		opts.Codec = NewSonicCodec()
	}
	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL(opts.Version)
	}
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}

	var client *resty.Client
	if opts.HTTPClient != nil {
		client = resty.NewWithClient(opts.HTTPClient)
	} else {
		client = resty.New()
	}

	client.SetBaseURL(baseURL).
		SetHeader("Accept", "application/json").
		SetJSONMarshaler(opts.Codec.Marshal).
		SetJSONUnmarshaler(opts.Codec.Unmarshal)

	if opts.Timeout > 0 {
		client.SetTimeout(opts.Timeout)
	}
	if opts.Logger != nil {
		client.SetLogger(restyLogger{opts.Logger})
	}
	// resty's default transport honours HTTPS_PROXY/HTTP_PROXY; that is only
	// wanted in debug mode
	if opts.Debug {
		client.SetDebug(true)
	} else if opts.HTTPClient == nil {
		client.RemoveProxy()
	}

	return &RestTransport{client: client, codec: opts.Codec}
}

func (t *RestTransport) Ping(ctx context.Context) (model.PingResponse, error) {
	var out model.PingResponse
	err := t.do(ctx, http.MethodGet, "ping", t.client.R(), &out)
	return out, err
}

func (t *RestTransport) Authorize(ctx context.Context, params AuthorizeParams) (model.AuthorizeResponse, error) {
	var out model.AuthorizeResponse
	req := t.client.R().SetFormDataFromValues(params.Values())
	err := t.do(ctx, http.MethodPost, "auths", req, &out)
	return out, err
}

// Poll returns an empty PollResponse while the auth request is still pending.
func (t *RestTransport) Poll(ctx context.Context, params PollParams) (model.PollResponse, error) {
	var out model.PollResponse
	req := t.client.R().SetQueryParamsFromValues(params.Values())
	err := t.do(ctx, http.MethodGet, "poll", req, &out)
	if apiErr := asAPIError(err); apiErr != nil && apiErr.MessageCode == pendingMessageCode {
		return model.PollResponse{}, nil
	}
	return out, err
}

// Notify ignores the response body.
func (t *RestTransport) Notify(ctx context.Context, params NotifyParams) error {
	req := t.client.R().SetFormDataFromValues(params.Values())
	return t.do(ctx, http.MethodPut, "logs", req, nil)
}

func (t *RestTransport) do(ctx context.Context, method, path string, req *resty.Request, out any) (err error) {
	op := method + " " + path
	ctx, finish := observability.StartSpan(ctx, "launchkey.transport", op)
	defer func() { finish(err) }()

	resp, reqErr := req.SetContext(ctx).Execute(method, path)
	if reqErr != nil {
		return platformerrors.Wrap(platformerrors.KindTransport, op, "request failed", reqErr)
	}

	if resp.IsError() {
		apiErr := &APIError{HTTPStatus: resp.StatusCode()}
		// best effort: the body is not always JSON
		_ = t.codec.Unmarshal(resp.Body(), apiErr)
		return platformerrors.Wrap(platformerrors.KindTransport, op, "unexpected status", apiErr)
	}

	if out == nil {
		return nil
	}
	if uerr := t.codec.Unmarshal(resp.Body(), out); uerr != nil {
		return platformerrors.Wrap(platformerrors.KindParse, op, "decode response", uerr)
	}
	return nil
}

func asAPIError(err error) *APIError {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return nil
}

type restyLogger struct {
	logger model.Logger
}

func (l restyLogger) Errorf(format string, v ...any) { l.logger.Error(format, v...) }
func (l restyLogger) Warnf(format string, v ...any)  { l.logger.Warn(format, v...) }
func (l restyLogger) Debugf(format string, v ...any) { l.logger.Debug(format, v...) }
