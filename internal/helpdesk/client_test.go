package helpdesk

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	logx "supportbridge/pkg/logx"
)

// newAPIServer returns a test server whose protected endpoints require the
// bearer token handed out by its token endpoint. tokenCount counts actual
// token requests.
func newAPIServer(t *testing.T, tokenCount *atomic.Int64, protected http.HandlerFunc) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("token form parse: %v", err)
		}
		if got := r.FormValue("grant_type"); got != "password" {
			t.Errorf("grant_type = %q, want password", got)
		}
		if got := r.FormValue("client_id"); got == "" {
			t.Error("client_id missing from token request")
		}
		tokenCount.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"tok-1"}`))
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok-1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		protected(w, r)
	})
	return httptest.NewServer(mux)
}

func newTestClient(baseURL string) *Client {
	return New(Config{
		BaseURL:  baseURL,
		ClientID: "cid",
		Username: "svc",
		Password: "pw",
	}, logx.Nop())
}

func TestSubmitNilBuilder(t *testing.T) {
	t.Parallel()
	c := newTestClient("https://unused.example")
	if _, err := c.Submit(context.Background(), nil); !errors.Is(err, ErrNilRequest) {
		t.Fatalf("err = %v, want ErrNilRequest", err)
	}
}

func TestSubmitRetriesOnceAfter401(t *testing.T) {
	t.Parallel()
	var tokens atomic.Int64
	var hits atomic.Int64
	srv := newAPIServer(t, &tokens, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte(`ok`))
	})
	defer srv.Close()

	c := newTestClient(srv.URL)
	var attempts atomic.Int64
	resp, err := c.Submit(context.Background(), func(ctx context.Context, s *Session) (*http.Response, error) {
		attempts.Add(1)
		return s.Get(ctx, "api/V1/getsearchresults")
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	// First attempt hits 401 (fresh client has no token), then one retry.
	if got := attempts.Load(); got != 2 {
		t.Fatalf("request attempts = %d, want 2", got)
	}
	if got := tokens.Load(); got != 1 {
		t.Fatalf("token requests = %d, want 1", got)
	}
}

func TestSubmitSecond401Propagates(t *testing.T) {
	t.Parallel()
	var tokens atomic.Int64
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		tokens.Add(1)
		_, _ = w.Write([]byte(`{"access_token":"stale"}`))
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		// Token is never good enough: simulates revoked credentials.
		w.WriteHeader(http.StatusUnauthorized)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := newTestClient(srv.URL)
	var attempts atomic.Int64
	_, err := c.Submit(context.Background(), func(ctx context.Context, s *Session) (*http.Response, error) {
		attempts.Add(1)
		return s.Get(ctx, "api/V1/getsearchresults")
	}, EnsureSuccess(true))

	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("err = %v, want *StatusError", err)
	}
	if statusErr.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", statusErr.StatusCode)
	}
	if got := attempts.Load(); got != 2 {
		t.Fatalf("request attempts = %d, want 2 (exactly one retry)", got)
	}
	if got := tokens.Load(); got != 1 {
		t.Fatalf("token requests = %d, want 1", got)
	}
}

func TestConcurrentReauthIssuesOneTokenRequest(t *testing.T) {
	t.Parallel()
	var tokens atomic.Int64
	srv := newAPIServer(t, &tokens, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`ok`))
	})
	defer srv.Close()

	c := newTestClient(srv.URL)

	const callers = 8
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp, err := c.Submit(context.Background(), func(ctx context.Context, s *Session) (*http.Response, error) {
				return s.Get(ctx, "api/V1/getsearchresults")
			}, EnsureSuccess(true))
			if err == nil {
				resp.Body.Close()
			}
			errs[i] = err
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("caller %d: %v", i, err)
		}
	}
	if got := tokens.Load(); got != 1 {
		t.Fatalf("token requests = %d, want 1", got)
	}
	if s := c.sess.Load(); s == nil || !s.Authenticated() {
		t.Fatal("shared session does not carry the new token")
	}
}

func TestAuthErrorFromTokenEndpoint(t *testing.T) {
	t.Parallel()
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"error":"invalid_grant","error_description":"bad password"}`))
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := newTestClient(srv.URL)
	_, err := c.Submit(context.Background(), func(ctx context.Context, s *Session) (*http.Response, error) {
		return s.Get(ctx, "anything")
	})

	var authErr *AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("err = %v, want *AuthError", err)
	}
	if !strings.Contains(authErr.Message, "invalid_grant") {
		t.Fatalf("auth error message = %q", authErr.Message)
	}
}

func TestEnsureSuccessStatusError(t *testing.T) {
	t.Parallel()
	var tokens atomic.Int64
	srv := newAPIServer(t, &tokens, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})
	defer srv.Close()

	c := newTestClient(srv.URL)
	_, err := c.Submit(context.Background(), func(ctx context.Context, s *Session) (*http.Response, error) {
		return s.Get(ctx, "api/V1/getsearchresults")
	}, EnsureSuccess(true))

	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("err = %v, want *StatusError", err)
	}
	if statusErr.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", statusErr.StatusCode)
	}
}

func TestSessionRebuiltOnBaseURLChange(t *testing.T) {
	t.Parallel()
	c := newTestClient("https://a.example")
	s1 := c.session()
	if s1 == nil || s1.baseURL != "https://a.example/" {
		t.Fatalf("session baseURL = %q", s1.baseURL)
	}
	if s2 := c.session(); s2 != s1 {
		t.Fatal("session rebuilt without a base URL change")
	}
	c.SetBaseURL("https://b.example")
	s3 := c.session()
	if s3 == s1 {
		t.Fatal("session not rebuilt after base URL change")
	}
	if s3.baseURL != "https://b.example/" {
		t.Fatalf("new session baseURL = %q", s3.baseURL)
	}
}
