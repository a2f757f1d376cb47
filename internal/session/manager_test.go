package session

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"tunneldeck/internal/config"
	"tunneldeck/internal/credstore"
	"tunneldeck/internal/logging"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func jsonResponse(r *http.Request, status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Status:     http.StatusText(status),
		Header:     make(http.Header),
		Body:       io.NopCloser(strings.NewReader(body)),
		Request:    r,
	}
}

func testEndpoints() config.APIEndpoints {
	return config.APIEndpoints{
		APIBaseURL: "https://example.test/api/v1",
		LoginURL:   "https://example.test/api/v1/auth/login",
		RefreshURL: "https://example.test/api/v1/auth/refresh",
		EventsURL:  "wss://example.test/ws",
	}
}

func newTestManager(t *testing.T, rt roundTripFunc, hooks Hooks) (*Manager, *credstore.Store) {
	t.Helper()
	store := credstore.NewAt(filepath.Join(t.TempDir(), "credentials.json"), logging.New(false))
	m := New(&http.Client{Transport: rt}, testEndpoints(), store, logging.New(false), hooks)
	t.Cleanup(m.Close)
	return m, store
}

func TestDo_AttachesBearerToken(t *testing.T) {
	var gotAuth string
	m, _ := newTestManager(t, func(r *http.Request) (*http.Response, error) {
		gotAuth = r.Header.Get("Authorization")
		return jsonResponse(r, http.StatusOK, `{"ok":true}`), nil
	}, Hooks{})

	m.setCredential(credstore.Credential{Token: "tok-1"}, false)
	data, err := m.Do(context.Background(), http.MethodGet, "/servers", nil)
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if gotAuth != "Bearer tok-1" {
		t.Fatalf("Authorization = %q", gotAuth)
	}
	if string(data) != `{"ok":true}` {
		t.Fatalf("payload = %s", data)
	}
}

func TestDo_AnonymousWithoutCredential(t *testing.T) {
	var gotAuth string
	m, _ := newTestManager(t, func(r *http.Request) (*http.Response, error) {
		gotAuth = r.Header.Get("Authorization")
		return jsonResponse(r, http.StatusOK, `{}`), nil
	}, Hooks{})

	if _, err := m.Do(context.Background(), http.MethodGet, "/system/health", nil); err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if gotAuth != "" {
		t.Fatalf("Authorization = %q, want empty", gotAuth)
	}
}

func TestDo_Unauthenticated401(t *testing.T) {
	var endedCount atomic.Int32
	m, _ := newTestManager(t, func(r *http.Request) (*http.Response, error) {
		return jsonResponse(r, http.StatusUnauthorized, `{"error":"missing token"}`), nil
	}, Hooks{OnSessionEnded: func() { endedCount.Add(1) }})

	_, err := m.Do(context.Background(), http.MethodGet, "/servers", nil)
	if !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("Do() error = %v, want ErrUnauthenticated", err)
	}
	if endedCount.Load() != 0 {
		t.Fatalf("session ended signal fired with no session held")
	}
}

func TestDo_401EndsSessionExactlyOnce(t *testing.T) {
	var endedCount atomic.Int32
	release := make(chan struct{})
	m, store := newTestManager(t, func(r *http.Request) (*http.Response, error) {
		<-release
		return jsonResponse(r, http.StatusUnauthorized, `{"error":"token expired"}`), nil
	}, Hooks{OnSessionEnded: func() { endedCount.Add(1) }})

	m.setCredential(credstore.Credential{Token: "tok-1"}, true)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = m.Do(context.Background(), http.MethodGet, "/servers", nil)
		}()
	}
	close(release)
	wg.Wait()

	for i, err := range errs {
		if !errors.Is(err, ErrSessionExpired) {
			t.Fatalf("request %d error = %v, want ErrSessionExpired", i, err)
		}
	}
	if got := endedCount.Load(); got != 1 {
		t.Fatalf("session ended signals = %d, want 1", got)
	}
	if _, present, _ := store.Load(); present {
		t.Fatalf("credential store not cleared")
	}
	if m.Authenticated() {
		t.Fatalf("manager still reports authenticated")
	}
}

func TestDo_Stale401SparesReplacementSession(t *testing.T) {
	var endedCount atomic.Int32
	var m *Manager
	var store *credstore.Store
	m, store = newTestManager(t, func(r *http.Request) (*http.Response, error) {
		if r.Header.Get("Authorization") == "Bearer tok-1" {
			// A re-login lands while the tok-1 request is still in flight.
			m.Adopt(credstore.Credential{Token: "tok-2"}, true)
			return jsonResponse(r, http.StatusUnauthorized, `{"error":"token expired"}`), nil
		}
		return jsonResponse(r, http.StatusOK, `{}`), nil
	}, Hooks{OnSessionEnded: func() { endedCount.Add(1) }})

	m.setCredential(credstore.Credential{Token: "tok-1"}, true)
	_, err := m.Do(context.Background(), http.MethodGet, "/servers", nil)
	if !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("Do() error = %v, want ErrSessionExpired", err)
	}
	if got := endedCount.Load(); got != 0 {
		t.Fatalf("session ended signals = %d, want 0: the late 401 was for a superseded token", got)
	}
	if got := m.Token(); got != "tok-2" {
		t.Fatalf("token after stale 401 = %q, want tok-2", got)
	}
	if _, present, _ := store.Load(); !present {
		t.Fatalf("credential store cleared by a stale 401")
	}
}

func TestDo_TransportErrorKeepsSession(t *testing.T) {
	var endedCount atomic.Int32
	m, store := newTestManager(t, func(r *http.Request) (*http.Response, error) {
		return nil, errors.New("connection refused")
	}, Hooks{OnSessionEnded: func() { endedCount.Add(1) }})

	m.setCredential(credstore.Credential{Token: "tok-1"}, true)
	_, err := m.Do(context.Background(), http.MethodGet, "/servers", nil)
	if err == nil || errors.Is(err, ErrSessionExpired) {
		t.Fatalf("Do() error = %v, want transport error", err)
	}
	if endedCount.Load() != 0 {
		t.Fatalf("transport error must not end the session")
	}
	if !m.Authenticated() {
		t.Fatalf("credential dropped on transport error")
	}
	if _, present, _ := store.Load(); !present {
		t.Fatalf("store cleared on transport error")
	}
}

func TestDo_ServerErrorMessageVerbatim(t *testing.T) {
	m, _ := newTestManager(t, func(r *http.Request) (*http.Response, error) {
		return jsonResponse(r, http.StatusConflict, `{"error":"server name already in use"}`), nil
	}, Hooks{})

	m.setCredential(credstore.Credential{Token: "tok-1"}, false)
	_, err := m.Do(context.Background(), http.MethodPost, "/servers", map[string]string{"name": "dup"})
	var statusErr *HTTPStatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("Do() error = %v, want *HTTPStatusError", err)
	}
	if statusErr.Error() != "server name already in use" {
		t.Fatalf("error message = %q", statusErr.Error())
	}
	if m.Authenticated() != true {
		t.Fatalf("server error must not end the session")
	}
}

func TestDo_ServerErrorWithoutMessage(t *testing.T) {
	m, _ := newTestManager(t, func(r *http.Request) (*http.Response, error) {
		return jsonResponse(r, http.StatusInternalServerError, `oops`), nil
	}, Hooks{})

	m.setCredential(credstore.Credential{Token: "tok-1"}, false)
	_, err := m.Do(context.Background(), http.MethodGet, "/servers", nil)
	var statusErr *HTTPStatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("Do() error = %v, want *HTTPStatusError", err)
	}
	if statusErr.Error() != "HTTP 500" {
		t.Fatalf("error message = %q, want HTTP 500", statusErr.Error())
	}
}

func TestDo_NoContent(t *testing.T) {
	m, _ := newTestManager(t, func(r *http.Request) (*http.Response, error) {
		return jsonResponse(r, http.StatusNoContent, ""), nil
	}, Hooks{})

	m.setCredential(credstore.Credential{Token: "tok-1"}, false)
	data, err := m.Do(context.Background(), http.MethodDelete, "/servers/7", nil)
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if data != nil {
		t.Fatalf("payload = %s, want nil", data)
	}
}

func TestScheduleRefresh_SingleOutstandingTimer(t *testing.T) {
	m, _ := newTestManager(t, func(r *http.Request) (*http.Response, error) {
		return jsonResponse(r, http.StatusOK, `{}`), nil
	}, Hooks{})

	now := time.Unix(1_700_000_000, 0)
	m.now = func() time.Time { return now }
	token := tokenExpiringAt(t, now.Add(time.Hour))

	m.setCredential(credstore.Credential{Token: token}, false)
	first := m.refreshTimer
	if first == nil {
		t.Fatalf("no refresh timer armed")
	}

	m.setCredential(credstore.Credential{Token: token}, false)
	second := m.refreshTimer
	if second == nil {
		t.Fatalf("re-arm dropped the timer")
	}
	if first.Stop() {
		t.Fatalf("previous timer still active after re-arm")
	}
}

func TestSetCredential_NoTimerWithoutExpiry(t *testing.T) {
	m, _ := newTestManager(t, func(r *http.Request) (*http.Response, error) {
		return jsonResponse(r, http.StatusOK, `{}`), nil
	}, Hooks{})

	m.setCredential(credstore.Credential{Token: "opaque-token"}, false)
	if m.refreshTimer != nil {
		t.Fatalf("refresh timer armed for token without expiry")
	}
}

func TestRefresh_SuccessInstallsNewToken(t *testing.T) {
	var refreshed atomic.Value
	var gotRefreshAuth string
	var sawToken atomic.Value
	m, store := newTestManager(t, func(r *http.Request) (*http.Response, error) {
		switch r.URL.Path {
		case "/api/v1/auth/refresh":
			gotRefreshAuth = r.Header.Get("Authorization")
			return jsonResponse(r, http.StatusOK, `{"token":"T2"}`), nil
		default:
			sawToken.Store(r.Header.Get("Authorization"))
			return jsonResponse(r, http.StatusOK, `{}`), nil
		}
	}, Hooks{OnTokenRefreshed: func(token string) { refreshed.Store(token) }})

	m.setCredential(credstore.Credential{Token: "T1", User: json.RawMessage(`{"id":1}`)}, true)
	m.refresh("T1")

	if gotRefreshAuth != "Bearer T1" {
		t.Fatalf("refresh Authorization = %q, want the expiring token", gotRefreshAuth)
	}
	if m.Token() != "T2" {
		t.Fatalf("token after refresh = %q", m.Token())
	}
	if got, _ := refreshed.Load().(string); got != "T2" {
		t.Fatalf("OnTokenRefreshed got %q", got)
	}

	cred, present, err := store.Load()
	if err != nil || !present {
		t.Fatalf("store after refresh: present %v, err %v", present, err)
	}
	if cred.Token != "T2" {
		t.Fatalf("stored token = %q", cred.Token)
	}
	if string(cred.User) != `{"id":1}` {
		t.Fatalf("user blob lost across refresh: %s", cred.User)
	}

	if _, err := m.Do(context.Background(), http.MethodGet, "/servers", nil); err != nil {
		t.Fatalf("Do() after refresh error = %v", err)
	}
	if got, _ := sawToken.Load().(string); got != "Bearer T2" {
		t.Fatalf("subsequent request Authorization = %q, want Bearer T2", got)
	}
}

func TestRefresh_FailureEndsSessionOnce(t *testing.T) {
	var endedCount atomic.Int32
	m, store := newTestManager(t, func(r *http.Request) (*http.Response, error) {
		return jsonResponse(r, http.StatusUnauthorized, `{"error":"refresh rejected"}`), nil
	}, Hooks{OnSessionEnded: func() { endedCount.Add(1) }})

	m.setCredential(credstore.Credential{Token: "T1"}, true)
	m.refresh("T1")

	if got := endedCount.Load(); got != 1 {
		t.Fatalf("session ended signals = %d, want 1", got)
	}
	if _, present, _ := store.Load(); present {
		t.Fatalf("credential store not cleared after failed refresh")
	}
}

func TestRefresh_StaleResultIgnored(t *testing.T) {
	var endedCount atomic.Int32
	m, _ := newTestManager(t, func(r *http.Request) (*http.Response, error) {
		return jsonResponse(r, http.StatusOK, `{"token":"T2"}`), nil
	}, Hooks{OnSessionEnded: func() { endedCount.Add(1) }})

	m.setCredential(credstore.Credential{Token: "T1"}, false)
	m.setCredential(credstore.Credential{Token: "T1b"}, false)

	// A refresh armed against T1 fires after the credential moved on.
	m.refresh("T1")
	if m.Token() != "T1b" {
		t.Fatalf("stale refresh replaced the credential: %q", m.Token())
	}
	if endedCount.Load() != 0 {
		t.Fatalf("stale refresh ended the session")
	}
}

func TestBootstrap_RestoresStoredCredential(t *testing.T) {
	store := credstore.NewAt(filepath.Join(t.TempDir(), "credentials.json"), logging.New(false))
	if err := store.Save(credstore.Credential{Token: "tok-saved"}); err != nil {
		t.Fatalf("seed store: %v", err)
	}

	m := New(&http.Client{}, testEndpoints(), store, logging.New(false), Hooks{})
	defer m.Close()
	restored, err := m.Bootstrap()
	if err != nil {
		t.Fatalf("Bootstrap() error = %v", err)
	}
	if !restored || m.Token() != "tok-saved" {
		t.Fatalf("Bootstrap() restored=%v token=%q", restored, m.Token())
	}
}

func TestLogin_PersistsCredentialAndProfile(t *testing.T) {
	m, store := newTestManager(t, func(r *http.Request) (*http.Response, error) {
		if r.URL.Path != "/api/v1/auth/login" {
			t.Fatalf("login path = %q", r.URL.Path)
		}
		var payload loginRequest
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Fatalf("decode login payload: %v", err)
		}
		if payload.Username != "admin" || payload.Password != "hunter2" {
			t.Fatalf("login payload = %#v", payload)
		}
		return jsonResponse(r, http.StatusOK, `{"token":"tok-login","user":{"id":1,"username":"admin"}}`), nil
	}, Hooks{})

	if err := m.Login(context.Background(), "admin", "hunter2"); err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if m.Token() != "tok-login" {
		t.Fatalf("token = %q", m.Token())
	}
	cred, present, _ := store.Load()
	if !present || cred.Token != "tok-login" {
		t.Fatalf("store after login: present=%v token=%q", present, cred.Token)
	}
}

func TestLogin_RejectedDoesNotEndSession(t *testing.T) {
	var endedCount atomic.Int32
	m, _ := newTestManager(t, func(r *http.Request) (*http.Response, error) {
		if r.URL.Path == "/api/v1/auth/login" {
			return jsonResponse(r, http.StatusUnauthorized, `{"error":"invalid credentials"}`), nil
		}
		return jsonResponse(r, http.StatusOK, `{}`), nil
	}, Hooks{OnSessionEnded: func() { endedCount.Add(1) }})

	m.setCredential(credstore.Credential{Token: "tok-current"}, false)
	err := m.Login(context.Background(), "admin", "wrong")
	var statusErr *HTTPStatusError
	if !errors.As(err, &statusErr) || statusErr.Error() != "invalid credentials" {
		t.Fatalf("Login() error = %v", err)
	}
	if endedCount.Load() != 0 || m.Token() != "tok-current" {
		t.Fatalf("rejected login disturbed the existing session")
	}
}
