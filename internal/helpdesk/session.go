package helpdesk

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// Session binds an access token to the transport it is valid for. A Session
// is immutable once published; re-authentication replaces the whole value so
// requests in flight against the old transport are unaffected.
type Session struct {
	baseURL string
	token   string
	http    *http.Client
}

// Authenticated reports whether this session carries a bearer token.
func (s *Session) Authenticated() bool { return s.token != "" }

// Do sends req with the session's auth and accept headers attached.
func (s *Session) Do(req *http.Request) (*http.Response, error) {
	req.Header.Set("Accept", "application/json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}
	return s.http.Do(req)
}

// Get issues a GET for the given path relative to the session base URL.
func (s *Session) Get(ctx context.Context, path string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.resolve(path), nil)
	if err != nil {
		return nil, err
	}
	return s.Do(req)
}

// PostJSON issues a POST with a JSON body for the given path.
func (s *Session) PostJSON(ctx context.Context, path string, payload []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.resolve(path), strings.NewReader(string(payload)))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	return s.Do(req)
}

// PostForm issues a form-encoded POST for the given path.
func (s *Session) PostForm(ctx context.Context, path string, values url.Values) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.resolve(path), strings.NewReader(values.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return s.Do(req)
}

func (s *Session) resolve(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	return s.baseURL + strings.TrimPrefix(path, "/")
}

// drain discards and closes a response body so the connection can be reused.
func drain(resp *http.Response) {
	if resp == nil || resp.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	_ = resp.Body.Close()
}
