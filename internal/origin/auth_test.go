package origin

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmcdole/originbridge/internal/config"
	"github.com/mmcdole/originbridge/internal/domain"
	"github.com/mmcdole/originbridge/internal/log"
)

// fakeBackend serves the token endpoint and one protected resource
type fakeBackend struct {
	t *testing.T

	// tokens handed out by successive token requests; a string starting with
	// "status:" or "json:" is served verbatim as that response instead
	tokens     []string
	tokenCalls atomic.Int32

	// valid is the token the protected resource accepts
	mu    sync.Mutex
	valid string

	resourceCalls atomic.Int32
	lastHeaders   http.Header
	rejectAll     atomic.Bool

	onRefresh func()
	onReject  func()
}

func (f *fakeBackend) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/connect/auth", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(f.t, "ORIGIN_JS_SDK", q.Get("client_id"))
		assert.Equal(f.t, "token", q.Get("response_type"))
		assert.Equal(f.t, "nucleus:rest", q.Get("redirect_uri"))
		assert.Equal(f.t, "none", q.Get("prompt"))

		n := int(f.tokenCalls.Add(1))
		if n > 1 && f.onRefresh != nil {
			f.onRefresh()
		}
		if n > len(f.tokens) {
			http.Error(w, "no more tokens", http.StatusInternalServerError)
			return
		}
		next := f.tokens[n-1]
		switch {
		case strings.HasPrefix(next, "status:503"):
			w.WriteHeader(http.StatusServiceUnavailable)
		case strings.HasPrefix(next, "json:"):
			w.Write([]byte(strings.TrimPrefix(next, "json:")))
		default:
			f.mu.Lock()
			f.valid = next
			f.mu.Unlock()
			http.SetCookie(w, &http.Cookie{Name: "sid", Value: "rotated-" + next, Path: "/"})
			w.Write([]byte(`{"access_token":"` + next + `","token_type":"Bearer"}`))
		}
	})
	mux.HandleFunc("/resource", func(w http.ResponseWriter, r *http.Request) {
		f.resourceCalls.Add(1)
		f.mu.Lock()
		f.lastHeaders = r.Header.Clone()
		valid := f.valid
		f.mu.Unlock()

		if f.rejectAll.Load() || r.Header.Get("AuthToken") != valid {
			if f.onReject != nil {
				f.onReject()
			}
			w.WriteHeader(http.StatusForbidden)
			return
		}
		w.Write([]byte("payload:" + valid))
	})
	return mux
}

// invalidate makes the resource reject every token handed out so far
func (f *fakeBackend) invalidate() {
	f.mu.Lock()
	f.valid = "-"
	f.mu.Unlock()
}

func newTestAuth(t *testing.T, f *fakeBackend) (*AuthClient, *httptest.Server) {
	t.Helper()
	f.t = t
	srv := httptest.NewServer(f.handler())
	t.Cleanup(srv.Close)

	client, err := NewAuthClient(config.BackendConfig{
		AuthURL:     srv.URL + "/connect/auth",
		ClientID:    "ORIGIN_JS_SDK",
		RedirectURI: "nucleus:rest",
		Timeout:     5 * time.Second,
	}, log.NullLogger())
	require.NoError(t, err)
	t.Cleanup(client.Close)
	return client, srv
}

func TestAuthenticate_Success(t *testing.T) {
	f := &fakeBackend{tokens: []string{"t1"}}
	client, srv := newTestAuth(t, f)

	require.False(t, client.IsAuthenticated())
	require.NoError(t, client.Authenticate(context.Background(), map[string]string{"remid": "r1"}))
	assert.True(t, client.IsAuthenticated())

	body, err := client.Get(context.Background(), srv.URL+"/resource")
	require.NoError(t, err)
	assert.Equal(t, "payload:t1", string(body))

	assert.Equal(t, "Bearer t1", f.lastHeaders.Get("Authorization"))
	assert.Equal(t, "t1", f.lastHeaders.Get("AuthToken"))
	assert.Equal(t, "t1", f.lastHeaders.Get("X-AuthToken"))
}

func TestAuthenticate_SendsStoredCookies(t *testing.T) {
	var gotCookie string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if c, err := r.Cookie("remid"); err == nil {
			gotCookie = c.Value
		}
		w.Write([]byte(`{"access_token":"t"}`))
	}))
	defer srv.Close()

	client, err := NewAuthClient(config.BackendConfig{AuthURL: srv.URL + "/connect/auth"}, log.NullLogger())
	require.NoError(t, err)

	require.NoError(t, client.Authenticate(context.Background(), map[string]string{"remid": "r1"}))
	assert.Equal(t, "r1", gotCookie)
}

func TestAuthenticate_LoginRequired(t *testing.T) {
	f := &fakeBackend{tokens: []string{`json:{"error":"login_required","error_description":"no session"}`}}
	client, _ := newTestAuth(t, f)

	err := client.Authenticate(context.Background(), map[string]string{"remid": "stale"})
	assert.ErrorIs(t, err, domain.ErrAuthenticationRequired)
	assert.False(t, client.IsAuthenticated())
}

func TestAuthenticate_UnknownResponse(t *testing.T) {
	f := &fakeBackend{tokens: []string{`json:{"something":"else"}`}}
	client, _ := newTestAuth(t, f)

	err := client.Authenticate(context.Background(), nil)
	assert.ErrorIs(t, err, domain.ErrUnknownBackendResponse)
	assert.False(t, client.IsAuthenticated())
}

func TestGet_NotAuthenticated(t *testing.T) {
	client, srv := newTestAuth(t, &fakeBackend{})

	_, err := client.Get(context.Background(), srv.URL+"/resource")
	assert.ErrorIs(t, err, domain.ErrNotAuthenticated)
}

func TestGet_RefreshesRejectedToken(t *testing.T) {
	f := &fakeBackend{tokens: []string{"t1", "t2"}}
	client, srv := newTestAuth(t, f)
	require.NoError(t, client.Authenticate(context.Background(), nil))

	// Server side expiry: only a newly issued token is accepted
	f.invalidate()

	body, err := client.Get(context.Background(), srv.URL+"/resource")
	require.NoError(t, err)
	assert.Equal(t, "payload:t2", string(body))
	assert.Equal(t, int32(2), f.tokenCalls.Load())
	assert.Equal(t, int32(2), f.resourceCalls.Load())
}

func TestGet_RetriesOnlyOnce(t *testing.T) {
	f := &fakeBackend{tokens: []string{"t1", "t2", "t3"}}
	client, srv := newTestAuth(t, f)
	require.NoError(t, client.Authenticate(context.Background(), nil))

	f.rejectAll.Store(true)

	_, err := client.Get(context.Background(), srv.URL+"/resource")
	assert.ErrorIs(t, err, domain.ErrAccessDenied)
	assert.Equal(t, int32(2), f.resourceCalls.Load())
	assert.Equal(t, int32(2), f.tokenCalls.Load())
	assert.True(t, client.IsAuthenticated())
}

func TestGet_TransientRefreshFailureKeepsToken(t *testing.T) {
	f := &fakeBackend{tokens: []string{"t1", "status:503"}}
	client, srv := newTestAuth(t, f)
	require.NoError(t, client.Authenticate(context.Background(), nil))

	var lost atomic.Int32
	client.SetAuthLostCallback(func() { lost.Add(1) })
	f.invalidate()

	_, err := client.Get(context.Background(), srv.URL+"/resource")
	assert.ErrorIs(t, err, domain.ErrBackendUnavailable)
	assert.True(t, client.IsAuthenticated())
	assert.Zero(t, lost.Load())
}

func TestGet_FatalRefreshFailureLosesAuth(t *testing.T) {
	f := &fakeBackend{tokens: []string{"t1", `json:{"error":"login_required"}`}}
	client, srv := newTestAuth(t, f)
	require.NoError(t, client.Authenticate(context.Background(), nil))

	var lost atomic.Int32
	client.SetAuthLostCallback(func() { lost.Add(1) })
	f.invalidate()

	_, err := client.Get(context.Background(), srv.URL+"/resource")
	assert.ErrorIs(t, err, domain.ErrAccessDenied)
	assert.False(t, client.IsAuthenticated())
	assert.Equal(t, int32(1), lost.Load())

	_, err = client.Get(context.Background(), srv.URL+"/resource")
	assert.ErrorIs(t, err, domain.ErrNotAuthenticated)
	assert.Equal(t, int32(1), lost.Load())
}

func TestGet_ConcurrentRejectionsShareOneRefresh(t *testing.T) {
	f := &fakeBackend{tokens: []string{"t1", "t2", "t3"}}
	client, srv := newTestAuth(t, f)
	require.NoError(t, client.Authenticate(context.Background(), nil))

	// Hold the refresh until both requests have been rejected
	rejected := make(chan struct{}, 2)
	f.onReject = func() { rejected <- struct{}{} }
	f.onRefresh = func() {
		for range 2 {
			select {
			case <-rejected:
			case <-time.After(2 * time.Second):
			}
		}
	}
	f.invalidate()

	var wg sync.WaitGroup
	results := make([]string, 2)
	errs := make([]error, 2)
	for i := range 2 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			body, err := client.Get(context.Background(), srv.URL+"/resource")
			results[i], errs[i] = string(body), err
		}()
	}
	wg.Wait()

	for i := range 2 {
		require.NoError(t, errs[i])
		assert.Equal(t, "payload:t2", results[i])
	}
	assert.Equal(t, int32(2), f.tokenCalls.Load(), "one initial fetch plus one shared refresh")
}

func TestRefreshToken_LateCallerReusesReplacement(t *testing.T) {
	f := &fakeBackend{tokens: []string{"t1", "t2", "t3"}}
	client, srv := newTestAuth(t, f)
	require.NoError(t, client.Authenticate(context.Background(), nil))
	f.invalidate()

	_, err := client.Get(context.Background(), srv.URL+"/resource")
	require.NoError(t, err)
	require.Equal(t, int32(2), f.tokenCalls.Load())

	// A caller still holding t1 once that flight is forgotten
	token, err := client.refreshToken(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, "t2", token)
	assert.Equal(t, int32(2), f.tokenCalls.Load(), "no second fetch for an already replaced token")
}

func TestRefreshToken_AfterAuthLost(t *testing.T) {
	f := &fakeBackend{tokens: []string{"t1", `json:{"error":"login_required"}`}}
	client, srv := newTestAuth(t, f)
	require.NoError(t, client.Authenticate(context.Background(), nil))
	f.invalidate()

	_, err := client.Get(context.Background(), srv.URL+"/resource")
	require.ErrorIs(t, err, domain.ErrAccessDenied)

	_, err = client.refreshToken(context.Background(), "t1")
	assert.ErrorIs(t, err, domain.ErrAuthLost)
	assert.Equal(t, int32(2), f.tokenCalls.Load())
}

func TestCookiesUpdatedCallback(t *testing.T) {
	f := &fakeBackend{tokens: []string{"t1"}}
	client, _ := newTestAuth(t, f)

	var mu sync.Mutex
	var updates []map[string]string
	client.SetCookiesUpdatedCallback(func(c map[string]string) {
		mu.Lock()
		defer mu.Unlock()
		updates = append(updates, c)
	})

	require.NoError(t, client.Authenticate(context.Background(), map[string]string{"remid": "r1", "sid": "old"}))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, updates, 2, "stored cookies, then the rotated session cookie")
	assert.Equal(t, map[string]string{"remid": "r1", "sid": "old"}, updates[0])
	assert.Equal(t, map[string]string{"remid": "r1", "sid": "rotated-t1"}, updates[1])
	assert.Equal(t, updates[1], client.Cookies())
}

func TestStatusError(t *testing.T) {
	tests := []struct {
		code int
		want error
	}{
		{200, nil},
		{204, nil},
		{401, domain.ErrAuthenticationRequired},
		{403, domain.ErrAccessDenied},
		{404, domain.ErrNotFound},
		{408, domain.ErrBackendTimeout},
		{504, domain.ErrBackendTimeout},
		{429, domain.ErrTooManyRequests},
		{503, domain.ErrBackendUnavailable},
		{500, domain.ErrBackendError},
		{502, domain.ErrBackendError},
		{418, domain.ErrUnknownBackendResponse},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.code), func(t *testing.T) {
			err := statusError(tt.code)
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}
}

func TestTransportError_Network(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	client, err := NewAuthClient(config.BackendConfig{AuthURL: addr + "/connect/auth", Timeout: time.Second}, log.NullLogger())
	require.NoError(t, err)

	err = client.Authenticate(context.Background(), nil)
	assert.True(t, domain.IsTransient(err), "got %v", err)
}
