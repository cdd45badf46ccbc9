package origin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/singleflight"

	"github.com/mmcdole/originbridge/internal/config"
	"github.com/mmcdole/originbridge/internal/domain"
	"github.com/mmcdole/originbridge/internal/metrics"
	"github.com/mmcdole/originbridge/internal/tracing"
)

const userAgent = "originbridge/1.0"

// RequestOption customizes one authorized GET
type RequestOption func(*requestOptions)

type requestOptions struct {
	header http.Header
	query  url.Values
}

// WithHeader adds a request header
func WithHeader(key, value string) RequestOption {
	return func(o *requestOptions) { o.header.Set(key, value) }
}

// WithQuery adds query parameters
func WithQuery(query url.Values) RequestOption {
	return func(o *requestOptions) {
		for k, vs := range query {
			for _, v := range vs {
				o.query.Add(k, v)
			}
		}
	}
}

// AuthClient issues authorized GETs with an access token derived from session cookies.
// A rejected token is refreshed at most once per request; concurrent rejections of
// the same token share one refresh.
type AuthClient struct {
	cfg        config.BackendConfig
	httpClient *http.Client
	jar        *CookieJar
	logger     *slog.Logger

	mu         sync.RWMutex
	token      string
	onAuthLost func()

	refresh singleflight.Group
}

// NewAuthClient creates an unauthenticated client
func NewAuthClient(cfg config.BackendConfig, logger *slog.Logger) (*AuthClient, error) {
	if logger == nil {
		logger = slog.Default()
	}
	jar, err := NewCookieJar()
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}
	return &AuthClient{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
			Jar:     jar,
		},
		jar:    jar,
		logger: logger,
	}, nil
}

// SetAuthLostCallback registers fn to run when a token refresh fails for good
func (c *AuthClient) SetAuthLostCallback(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onAuthLost = fn
}

// SetCookiesUpdatedCallback registers fn to receive the full cookie set after each update
func (c *AuthClient) SetCookiesUpdatedCallback(fn func(map[string]string)) {
	c.jar.SetUpdateCallback(fn)
}

// Authenticate loads session cookies and fetches a first access token
func (c *AuthClient) Authenticate(ctx context.Context, cookies map[string]string) error {
	authURL, err := url.Parse(c.cfg.AuthURL)
	if err != nil {
		return fmt.Errorf("invalid auth url: %w", err)
	}
	c.jar.Load(authURL, cookies)

	token, err := c.fetchToken(ctx)
	if err != nil {
		c.logger.Error("failed to authenticate", "error", err)
		return err
	}

	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
	return nil
}

// IsAuthenticated returns true while an access token is held
func (c *AuthClient) IsAuthenticated() bool {
	return c.currentToken() != ""
}

// Cookies returns the current session cookies
func (c *AuthClient) Cookies() map[string]string {
	return c.jar.Values()
}

// Close releases idle connections
func (c *AuthClient) Close() {
	c.httpClient.CloseIdleConnections()
}

func (c *AuthClient) currentToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// Get issues an authorized GET and returns the response body.
// A 401/403 triggers one token refresh and one retry.
func (c *AuthClient) Get(ctx context.Context, rawURL string, opts ...RequestOption) ([]byte, error) {
	token := c.currentToken()
	if token == "" {
		return nil, domain.ErrNotAuthenticated
	}

	o := requestOptions{header: make(http.Header), query: make(url.Values)}
	for _, opt := range opts {
		opt(&o)
	}

	body, err := c.authorizedGet(ctx, token, rawURL, o)
	if !domain.IsAuthRejection(err) {
		return body, err
	}

	// The backend answers 403 as well as 401 once a token expires
	c.logger.Debug("access token rejected, refreshing", "url", rawURL, "error", err)
	token, err = c.refreshToken(ctx, token)
	if err != nil {
		return nil, err
	}
	return c.authorizedGet(ctx, token, rawURL, o)
}

func (c *AuthClient) authorizedGet(ctx context.Context, token, rawURL string, o requestOptions) ([]byte, error) {
	req, err := newGet(ctx, rawURL, o.query)
	if err != nil {
		return nil, err
	}
	for k, vs := range o.header {
		req.Header[k] = vs
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("AuthToken", token)
	req.Header.Set("X-AuthToken", token)

	return c.do(req)
}

// refreshToken replaces rejected with a fresh token. Callers holding the same
// rejected token share one fetch; callers holding an already replaced token reuse
// the replacement.
func (c *AuthClient) refreshToken(ctx context.Context, rejected string) (string, error) {
	v, err, _ := c.refresh.Do(rejected, func() (any, error) {
		// Checked inside the flight so a caller arriving after a finished flight
		// for the same token does not fetch again
		switch current := c.currentToken(); {
		case current == "":
			return nil, fmt.Errorf("%w: %w", domain.ErrAccessDenied, domain.ErrAuthLost)
		case current != rejected:
			return current, nil
		}

		// Shared by every waiter, so one caller's cancellation must not abort it
		token, err := c.fetchToken(context.WithoutCancel(ctx))
		if err == nil {
			c.mu.Lock()
			c.token = token
			c.mu.Unlock()
			metrics.TokenRefreshes.WithLabelValues("ok").Inc()
			return token, nil
		}

		if domain.IsTransient(err) {
			c.logger.Warn("failed to refresh token for independent reasons", "error", err)
			metrics.TokenRefreshes.WithLabelValues("transient").Inc()
			return nil, err
		}

		c.logger.Error("failed to refresh token", "error", err)
		metrics.TokenRefreshes.WithLabelValues("lost").Inc()

		c.mu.Lock()
		c.token = ""
		onAuthLost := c.onAuthLost
		c.mu.Unlock()
		if onAuthLost != nil {
			onAuthLost()
		}
		return nil, fmt.Errorf("%w: failed to refresh token: %v", domain.ErrAccessDenied, err)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// tokenResponse is the auth endpoint's answer to a prompt-less token request
type tokenResponse struct {
	AccessToken string `json:"access_token"`
	Error       string `json:"error"`
}

func (c *AuthClient) fetchToken(ctx context.Context) (string, error) {
	query := url.Values{}
	query.Set("client_id", c.cfg.ClientID)
	query.Set("response_type", "token")
	query.Set("redirect_uri", c.cfg.RedirectURI)
	query.Set("prompt", "none")

	req, err := newGet(ctx, c.cfg.AuthURL, query)
	if err != nil {
		return "", err
	}

	body, err := c.do(req)
	if err != nil {
		return "", err
	}

	var resp tokenResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		c.logger.Error("can not parse access token from backend response", "error", err, "body", string(body))
		return "", fmt.Errorf("%w: %v", domain.ErrUnknownBackendResponse, err)
	}
	switch {
	case resp.AccessToken != "":
		return resp.AccessToken, nil
	case resp.Error == "login_required":
		return "", domain.ErrAuthenticationRequired
	default:
		c.logger.Error("unexpected token response", "body", string(body))
		return "", fmt.Errorf("%w: no access token in response", domain.ErrUnknownBackendResponse)
	}
}

func newGet(ctx context.Context, rawURL string, query url.Values) (*http.Request, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid url %q: %w", rawURL, err)
	}
	if len(query) > 0 {
		q := u.Query()
		for k, vs := range query {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		u.RawQuery = q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	return req, nil
}

// do sends req and maps transport failures and error statuses to domain errors
func (c *AuthClient) do(req *http.Request) (body []byte, err error) {
	ctx, span := tracing.StartSpan(req.Context(), "origin.get",
		attribute.String("http.host", req.URL.Host),
		attribute.String("http.path", req.URL.Path),
	)
	defer func() { tracing.End(span, err) }()
	req = req.WithContext(ctx)

	c.logger.Debug("backend request", "url", req.URL.Redacted())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.RecordBackendStatus(0)
		c.logger.Error("backend request failed", "url", req.URL.Redacted(), "error", err)
		return nil, transportError(ctx, err)
	}
	defer resp.Body.Close()
	metrics.RecordBackendStatus(resp.StatusCode)
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	body, err = io.ReadAll(resp.Body)
	if err != nil {
		return nil, transportError(ctx, err)
	}

	if err := statusError(resp.StatusCode); err != nil {
		c.logger.Warn("backend request error", "url", req.URL.Redacted(), "status", resp.StatusCode, "body", string(body))
		return nil, err
	}
	return body, nil
}

// statusError maps an HTTP status to its domain error (nil for 2xx)
func statusError(code int) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusUnauthorized:
		return domain.ErrAuthenticationRequired
	case code == http.StatusForbidden:
		return domain.ErrAccessDenied
	case code == http.StatusNotFound:
		return domain.ErrNotFound
	case code == http.StatusRequestTimeout || code == http.StatusGatewayTimeout:
		return domain.ErrBackendTimeout
	case code == http.StatusTooManyRequests:
		return domain.ErrTooManyRequests
	case code == http.StatusServiceUnavailable:
		return domain.ErrBackendUnavailable
	case code >= 500:
		return fmt.Errorf("%w: status %d", domain.ErrBackendError, code)
	default:
		return fmt.Errorf("%w: unexpected status code %d", domain.ErrUnknownBackendResponse, code)
	}
}

func transportError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", domain.ErrBackendTimeout, err)
	}
	return fmt.Errorf("%w: %v", domain.ErrNetwork, err)
}
