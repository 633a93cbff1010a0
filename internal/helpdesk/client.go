package helpdesk

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	logx "supportbridge/pkg/logx"
)

const (
	// authPath is the token endpoint, relative to the API base URL.
	// The backend supports several auth modes; internal (username/password)
	// is the only one this service uses.
	authPath = "token?auth_mode=Internal"

	defaultTimeout = 30 * time.Second
)

// Config carries the connection settings for the helpdesk API.
type Config struct {
	BaseURL  string
	ClientID string
	Username string
	Password string
	Timeout  time.Duration
}

// Client is an authenticated helpdesk API client.
//
// It owns one Session (token + transport) per base address, shared by all
// callers. Token validity is discovered reactively: a 401 response triggers
// one re-authentication and one retry of the original request. Concurrent
// callers hitting 401 at the same time are serialized so only one token
// request is issued.
type Client struct {
	clientID string
	username string
	password string
	timeout  time.Duration
	log      logx.Logger

	mu      sync.Mutex // guards baseURL
	baseURL string

	sessMu sync.Mutex // serializes session construction
	authMu sync.Mutex // serializes re-authentication
	sess   atomic.Pointer[Session]
}

// RequestFunc builds and executes one request against the given session.
type RequestFunc func(ctx context.Context, s *Session) (*http.Response, error)

type submitOptions struct {
	handleUnauthorized bool
	ensureSuccess      bool
}

type SubmitOption func(*submitOptions)

// HandleUnauthorized controls whether a 401 triggers re-auth + retry.
// Default true.
func HandleUnauthorized(v bool) SubmitOption {
	return func(o *submitOptions) { o.handleUnauthorized = v }
}

// EnsureSuccess makes Submit fail with *StatusError on any non-2xx final
// status. Default false.
func EnsureSuccess(v bool) SubmitOption {
	return func(o *submitOptions) { o.ensureSuccess = v }
}

func New(cfg Config, log logx.Logger) *Client {
	if log.IsZero() {
		log = logx.Nop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		clientID: cfg.ClientID,
		username: cfg.Username,
		password: cfg.Password,
		timeout:  timeout,
		log:      log,
		baseURL:  normalizeBaseURL(cfg.BaseURL),
	}
}

// SetBaseURL points the client at a different API root. The next request
// builds a fresh session; in-flight requests keep the old one.
func (c *Client) SetBaseURL(baseURL string) {
	c.mu.Lock()
	c.baseURL = normalizeBaseURL(baseURL)
	c.mu.Unlock()
}

func (c *Client) currentBaseURL() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.baseURL
}

func normalizeBaseURL(u string) string {
	u = strings.TrimSpace(u)
	if u != "" && !strings.HasSuffix(u, "/") {
		u += "/"
	}
	return u
}

// Submit executes the request built by fn and handles well-known responses.
//
// On a 401 (when HandleUnauthorized, the default) it re-authenticates and
// retries the original request exactly once; a second consecutive 401 is
// returned to the caller. With EnsureSuccess a non-2xx final status becomes
// a *StatusError.
func (c *Client) Submit(ctx context.Context, fn RequestFunc, opts ...SubmitOption) (*http.Response, error) {
	if fn == nil {
		return nil, ErrNilRequest
	}
	o := submitOptions{handleUnauthorized: true}
	for _, opt := range opts {
		opt(&o)
	}
	return c.submit(ctx, fn, o, false)
}

func (c *Client) submit(ctx context.Context, fn RequestFunc, o submitOptions, retried bool) (*http.Response, error) {
	sess := c.session()

	resp, err := fn(ctx, sess)
	if err != nil {
		return nil, err
	}
	if resp == nil {
		return nil, ErrNoResponse
	}

	if o.handleUnauthorized && !retried && resp.StatusCode == http.StatusUnauthorized {
		drain(resp)
		if err := c.reauthenticate(ctx, sess); err != nil {
			return nil, err
		}
		return c.submit(ctx, fn, o, true)
	}

	if o.ensureSuccess && (resp.StatusCode < 200 || resp.StatusCode > 299) {
		statusErr := &StatusError{StatusCode: resp.StatusCode, Status: resp.Status}
		drain(resp)
		return nil, statusErr
	}

	return resp, nil
}

// PostJSON posts a JSON payload to the given path and returns the response
// body, failing on any non-2xx status.
func (c *Client) PostJSON(ctx context.Context, path string, payload []byte) (string, error) {
	resp, err := c.Submit(ctx, func(ctx context.Context, s *Session) (*http.Response, error) {
		return s.PostJSON(ctx, path, payload)
	}, EnsureSuccess(true))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// session returns the current session, building one if none exists or the
// configured base URL changed since the session was created.
func (c *Client) session() *Session {
	base := c.currentBaseURL()
	if s := c.sess.Load(); s != nil && strings.EqualFold(s.baseURL, base) {
		return s
	}

	c.sessMu.Lock()
	defer c.sessMu.Unlock()

	// Re-check under the lock: another caller may have built it already.
	if s := c.sess.Load(); s != nil && strings.EqualFold(s.baseURL, base) {
		return s
	}
	s := c.newSession(base, "")
	c.sess.Store(s)
	return s
}

func (c *Client) newSession(baseURL, token string) *Session {
	return &Session{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: c.timeout},
	}
}

// reauthenticate acquires a new access token and publishes a fresh session.
//
// observed is the session whose request got the 401. If the current session
// already carries a different token, a concurrent caller finished re-auth
// while this one waited on the lock and no new token request is needed.
func (c *Client) reauthenticate(ctx context.Context, observed *Session) error {
	c.authMu.Lock()
	defer c.authMu.Unlock()

	cur := c.sess.Load()
	if cur != nil && cur.Authenticated() && cur.token != observed.token {
		return nil
	}

	base := c.currentBaseURL()
	token, err := c.requestToken(ctx, base)
	if err != nil {
		c.log.Warn("helpdesk authentication failed", logx.Err(err))
		return err
	}

	c.sess.Store(c.newSession(base, token))
	c.log.Debug("helpdesk session refreshed")
	return nil
}

func (c *Client) requestToken(ctx context.Context, base string) (string, error) {
	form := url.Values{
		"grant_type": {"password"},
		"client_id":  {c.clientID},
		"username":   {c.username},
		"password":   {c.password},
	}

	// Token requests go through a bare transport: the old session's auth
	// header must not leak into the login call.
	bare := c.newSession(base, "")
	resp, err := bare.PostForm(ctx, authPath, form)
	if err != nil {
		return "", err
	}
	if resp == nil {
		return "", ErrNoResponse
	}
	defer resp.Body.Close()

	var body struct {
		AccessToken string `json:"access_token"`
		Error       string `json:"error"`
		ErrorDesc   string `json:"error_description"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", &AuthError{Message: "invalid token response: " + err.Error()}
	}
	if body.Error != "" {
		msg := body.Error
		if body.ErrorDesc != "" {
			msg += ": " + body.ErrorDesc
		}
		return "", &AuthError{Message: msg}
	}
	if strings.TrimSpace(body.AccessToken) == "" {
		return "", &AuthError{Message: "no access token in response"}
	}
	return body.AccessToken, nil
}
