package session

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sync"
	"time"

	"tunneldeck/internal/config"
	"tunneldeck/internal/credstore"
	"tunneldeck/internal/logging"
)

const refreshRequestTimeout = 15 * time.Second

// Hooks are the manager's only outward signals. OnSessionEnded fires exactly
// once per invalidation; OnTokenRefreshed fires after a successful proactive
// refresh with the replacement token.
type Hooks struct {
	OnSessionEnded   func()
	OnTokenRefreshed func(token string)
}

// Manager owns the credential lifecycle: acquisition, the single outstanding
// refresh timer, and failure-triggered teardown. All credential mutation
// happens here; collaborators only read through method contracts.
type Manager struct {
	http      *http.Client
	endpoints config.APIEndpoints
	store     *credstore.Store
	logger    *logging.Logger
	hooks     Hooks
	now       func() time.Time

	mu           sync.Mutex
	token        string
	user         json.RawMessage
	refreshTimer *time.Timer
	ended        bool
}

func New(httpClient *http.Client, endpoints config.APIEndpoints, store *credstore.Store, logger *logging.Logger, hooks Hooks) *Manager {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if store == nil {
		panic("session.New: store must not be nil")
	}
	if logger == nil {
		panic("session.New: logger must not be nil")
	}
	return &Manager{
		http:      httpClient,
		endpoints: endpoints,
		store:     store,
		logger:    logger,
		hooks:     hooks,
		now:       time.Now,
	}
}

// Bootstrap loads a previously stored credential and arms the refresh
// schedule. It reports whether a session was restored.
func (m *Manager) Bootstrap() (bool, error) {
	cred, present, err := m.store.Load()
	if err != nil {
		return false, err
	}
	if !present {
		return false, nil
	}
	m.setCredential(cred, false)
	m.logger.Info("session restored from credential store")
	return true, nil
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token string          `json:"token"`
	User  json.RawMessage `json:"user"`
}

// Login authenticates with username/password and installs the returned
// credential. A rejected login surfaces as an error and never tears down an
// existing session.
func (m *Manager) Login(ctx context.Context, username, password string) error {
	body, err := json.Marshal(loginRequest{Username: username, Password: password})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.endpoints.LoginURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	m.logger.Debugf("POST %s -> %s", m.endpoints.LoginURL, resp.Status)

	data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode >= http.StatusBadRequest {
		m.logger.Warn("login rejected",
			logging.Field("status", resp.Status),
			logging.Field("response", logging.FormatHTTPPayload(data)),
		)
		return &HTTPStatusError{StatusCode: resp.StatusCode, Message: serverErrorMessage(data)}
	}

	var login loginResponse
	if err := json.Unmarshal(data, &login); err != nil {
		return err
	}
	m.setCredential(credstore.Credential{Token: login.Token, User: login.User}, true)
	m.logger.Info("login succeeded", logging.Field("username", username))
	return nil
}

// Do issues an authenticated JSON request against the REST API. With no
// stored credential the request goes out anonymously; endpoints that demand
// one answer 401, which surfaces as ErrUnauthenticated. A 401 against a held
// credential invalidates the session. Transport errors pass through without
// touching the session, and other non-2xx statuses become *HTTPStatusError
// with the server message intact. A 204 response yields a nil payload.
func (m *Manager) Do(ctx context.Context, method, path string, body any) ([]byte, error) {
	m.mu.Lock()
	token := m.token
	m.mu.Unlock()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, m.endpoints.APIBaseURL+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := m.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	m.logger.Debugf("%s %s -> %s", method, path, resp.Status)

	data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode == http.StatusUnauthorized {
		if token == "" {
			return nil, ErrUnauthenticated
		}
		m.endSessionFor(token, "request unauthorized", true)
		return nil, ErrSessionExpired
	}
	if resp.StatusCode >= http.StatusBadRequest {
		m.logger.Warn("request failed",
			logging.Field("method", method),
			logging.Field("path", path),
			logging.Field("status", resp.Status),
			logging.Field("response", logging.FormatHTTPPayload(data)),
		)
		return nil, &HTTPStatusError{StatusCode: resp.StatusCode, Message: serverErrorMessage(data)}
	}
	if resp.StatusCode == http.StatusNoContent || len(data) == 0 {
		return nil, nil
	}
	return data, nil
}

func (m *Manager) Authenticated() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token != ""
}

// Token returns the current bearer credential, empty when unauthenticated.
func (m *Manager) Token() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token
}

// UserProfile returns the cached profile blob saved alongside the token.
func (m *Manager) UserProfile() json.RawMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.user
}

// Adopt installs a credential change observed outside this process, eg. from
// the store watcher. A removed credential ends the session without touching
// the store again.
func (m *Manager) Adopt(cred credstore.Credential, present bool) {
	if !present || cred.Token == "" {
		m.endSession("credential removed outside this process", false)
		return
	}
	m.mu.Lock()
	same := cred.Token == m.token
	m.mu.Unlock()
	if same {
		return
	}
	m.setCredential(cred, false)
	if m.hooks.OnTokenRefreshed != nil {
		m.hooks.OnTokenRefreshed(cred.Token)
	}
}

// Close cancels any pending refresh without ending the session.
func (m *Manager) Close() {
	m.mu.Lock()
	m.stopRefreshLocked()
	m.mu.Unlock()
}

func (m *Manager) setCredential(cred credstore.Credential, persist bool) {
	m.mu.Lock()
	m.token = cred.Token
	m.user = cred.User
	m.ended = false
	m.scheduleRefreshLocked()
	m.mu.Unlock()
	if persist {
		if err := m.store.Save(cred); err != nil {
			m.logger.Warn("failed to persist credential", logging.Field("error", err))
		}
	}
}

// scheduleRefreshLocked re-arms the refresh timer. At most one timer is
// outstanding; re-arming cancels the previous one first.
func (m *Manager) scheduleRefreshLocked() {
	m.stopRefreshLocked()
	refreshIn, ok := TimeUntilRefresh(m.token, m.now())
	if !ok {
		m.logger.Debug("no refresh scheduled: token has no usable expiry")
		return
	}
	token := m.token
	m.refreshTimer = time.AfterFunc(refreshIn, func() {
		m.refresh(token)
	})
	m.logger.Debug("token refresh scheduled", logging.Field("refresh_in", refreshIn.String()))
}

func (m *Manager) stopRefreshLocked() {
	if m.refreshTimer != nil {
		m.refreshTimer.Stop()
		m.refreshTimer = nil
	}
}

// refresh trades the expiring credential for a fresh one. Any failure, HTTP
// or transport, ends the session; the only recovery is a new login. A result
// arriving after the session moved on is discarded.
func (m *Manager) refresh(prev string) {
	m.mu.Lock()
	stale := m.ended || m.token != prev
	m.mu.Unlock()
	if stale {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), refreshRequestTimeout)
	defer cancel()

	m.logger.Debug("refreshing session token")
	next, err := m.requestRefresh(ctx, prev)
	if err != nil {
		m.mu.Lock()
		stale = m.ended || m.token != prev
		m.mu.Unlock()
		if stale {
			return
		}
		m.logger.Warn("token refresh failed", logging.Field("error", err))
		m.endSessionFor(prev, "token refresh failed", true)
		return
	}

	m.mu.Lock()
	if m.ended || m.token != prev {
		m.mu.Unlock()
		return
	}
	m.token = next
	user := m.user
	m.scheduleRefreshLocked()
	m.mu.Unlock()

	if err := m.store.Save(credstore.Credential{Token: next, User: user}); err != nil {
		m.logger.Warn("failed to persist refreshed credential", logging.Field("error", err))
	}
	m.logger.Info("session token refreshed")
	if m.hooks.OnTokenRefreshed != nil {
		m.hooks.OnTokenRefreshed(next)
	}
}

func (m *Manager) requestRefresh(ctx context.Context, token string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.endpoints.RefreshURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := m.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	m.logger.Debugf("POST %s -> %s", m.endpoints.RefreshURL, resp.Status)

	data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode >= http.StatusBadRequest {
		return "", &HTTPStatusError{StatusCode: resp.StatusCode, Message: serverErrorMessage(data)}
	}

	var refreshed struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(data, &refreshed); err != nil {
		return "", err
	}
	if refreshed.Token == "" {
		return "", &HTTPStatusError{StatusCode: resp.StatusCode, Message: "refresh response missing token"}
	}
	return refreshed.Token, nil
}

// endSession tears down whatever session is currently active.
func (m *Manager) endSession(reason string, clearStore bool) {
	m.mu.Lock()
	token := m.token
	m.mu.Unlock()
	m.endSessionFor(token, reason, clearStore)
}

// endSessionFor tears the session down and fires the session-ended hook
// once, but only while the failing credential is still the active one. A
// late rejection of a superseded token must not clobber a session installed
// since. The credential is cleared before the store is touched, so no
// authenticated request can go out with the retired token while teardown
// runs.
func (m *Manager) endSessionFor(sent, reason string, clearStore bool) {
	m.mu.Lock()
	if m.ended || m.token == "" || m.token != sent {
		m.mu.Unlock()
		return
	}
	m.ended = true
	m.token = ""
	m.user = nil
	m.stopRefreshLocked()
	m.mu.Unlock()

	if clearStore {
		if err := m.store.Clear(); err != nil {
			m.logger.Warn("failed to clear credential store", logging.Field("error", err))
		}
	}
	m.logger.Warn("session ended", logging.Field("reason", reason))
	if m.hooks.OnSessionEnded != nil {
		m.hooks.OnSessionEnded()
	}
}

func serverErrorMessage(data []byte) string {
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return ""
	}
	return payload.Error
}
