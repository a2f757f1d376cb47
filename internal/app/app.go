package app

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"tunneldeck/internal/api"
	"tunneldeck/internal/config"
	"tunneldeck/internal/credstore"
	"tunneldeck/internal/logging"
	"tunneldeck/internal/realtime"
	"tunneldeck/internal/runctx"
	"tunneldeck/internal/runstatus"
	"tunneldeck/internal/session"
)

// ConsoleApp wires the session manager, the realtime event channel and the
// credential store watcher into one lifecycle. Credential changes flow in a
// single direction: session -> channel. The channel never mutates the
// session.
type ConsoleApp struct {
	opts    config.Options
	logger  *logging.Logger
	hooks   Callbacks
	store   *credstore.Store
	session *session.Manager
	channel *realtime.Channel
	api     *api.API
	status  runtimeStatusState
}

type Callbacks struct {
	// OnSessionEnded fires exactly once when the session becomes invalid,
	// whether through a rejected request, a failed refresh, or external
	// credential removal.
	OnSessionEnded     func()
	OnConnectionStatus func(connected bool)
	OnStatusChange     func(string)
	// OnEvent receives every message from the known stream topics. Callers
	// that want finer control subscribe per topic through On instead.
	OnEvent func(topic string, payload json.RawMessage)
}

// streamReconnectInterval overrides the event stream reconnect pacing; zero
// keeps the channel default. Tests shrink it.
var streamReconnectInterval time.Duration

func New(opts config.Options, httpClient *http.Client, endpoints config.APIEndpoints, store *credstore.Store, logger *logging.Logger, hooks Callbacks) *ConsoleApp {
	if store == nil {
		panic("app.New: store must not be nil")
	}
	if logger == nil {
		panic("app.New: logger must not be nil")
	}
	a := &ConsoleApp{opts: opts, logger: logger, hooks: hooks, store: store}
	a.channel = realtime.NewChannel(realtime.Config{
		URL:               endpoints.EventsURL,
		ReconnectInterval: streamReconnectInterval,
		Logger:            logger,
		OnStatusChange:    a.handleConnectionStatus,
	})
	a.session = session.New(httpClient, endpoints, store, logger, session.Hooks{
		OnTokenRefreshed: a.handleTokenRefreshed,
		OnSessionEnded:   a.handleSessionEnded,
	})
	a.api = api.New(a.session)
	if hooks.OnEvent != nil {
		for _, topic := range realtime.KnownTopics() {
			a.channel.On(topic, func(payload json.RawMessage) {
				hooks.OnEvent(topic, payload)
			})
		}
	}
	return a
}

// API exposes the typed resource surface backed by the managed session.
func (a *ConsoleApp) API() *api.API {
	return a.api
}

func (a *ConsoleApp) Session() *session.Manager {
	return a.session
}

// On subscribes to a realtime event topic. Subscriptions survive reconnects;
// the returned function removes the subscription.
func (a *ConsoleApp) On(topic string, fn realtime.Handler) func() {
	return a.channel.On(topic, fn)
}

func (a *ConsoleApp) Run() error {
	return a.RunContext(context.Background())
}

func (a *ConsoleApp) RunContext(ctx context.Context) error {
	a.logger.Info("console client starting",
		logging.Field("api_base_url", a.opts.BaseURL),
	)

	if err := a.establishSession(ctx); err != nil {
		return err
	}
	a.setRuntimeStatus(runstatus.Authenticated)
	if user := a.UserSummary(); user != "" {
		a.logger.Info("session active", logging.Field("username", user))
	}
	a.channel.UpdateCredential(a.session.Token())
	defer a.session.Close()

	updates, err := a.store.Watch(ctx)
	if err != nil {
		a.logger.Warn("credential store watch unavailable, external logins will not be picked up",
			logging.Field("error", err),
		)
	} else {
		go a.adoptStoreUpdates(ctx, updates)
	}

	runErr := a.channel.Run(ctx)
	a.setRuntimeStatus(runstatus.Disconnected)
	if ctx.Err() == nil && !a.session.Authenticated() {
		a.logger.Info("console client stopped after session end")
		return ErrSessionEnded
	}
	if runErr != nil && ctx.Err() == nil {
		a.logger.Warn("console client stopped with error", logging.Field("error", runErr))
		return runErr
	}
	a.logger.Info("console client stopped")
	return nil
}

// establishSession restores the stored credential or performs a fresh login
// with the configured username and password.
func (a *ConsoleApp) establishSession(ctx context.Context) error {
	restored, err := a.session.Bootstrap()
	if err != nil {
		a.logger.Warn("stored credential unusable", logging.Field("error", err))
	}
	if restored {
		a.logger.Info("session restored from stored credential")
		return nil
	}
	if strings.TrimSpace(a.opts.Username) == "" {
		return ErrNoCredentials
	}
	if err := a.session.Login(ctx, a.opts.Username, a.opts.Password); err != nil {
		if session.IsUnauthorized(err) {
			return fmt.Errorf("login rejected: %w", err)
		}
		return fmt.Errorf("login failed: %w", err)
	}
	a.logger.Info("logged in", logging.Field("username", a.opts.Username))
	return nil
}

func (a *ConsoleApp) adoptStoreUpdates(ctx context.Context, updates <-chan credstore.Snapshot) {
	for {
		snap, ok := runctx.RecvOrDone(ctx, "credential store watcher", a.logger, updates)
		if !ok {
			return
		}
		a.session.Adopt(snap.Credential, snap.Present)
	}
}

func (a *ConsoleApp) handleTokenRefreshed(token string) {
	a.channel.UpdateCredential(token)
}

func (a *ConsoleApp) handleSessionEnded() {
	a.channel.Shutdown()
	a.setRuntimeStatus(runstatus.LoggedOut)
	if a.hooks.OnSessionEnded != nil {
		a.hooks.OnSessionEnded()
	}
}

func (a *ConsoleApp) handleConnectionStatus(connected bool) {
	if connected {
		a.setRuntimeStatus(runstatus.Connected)
	} else if a.session.Authenticated() {
		a.setRuntimeStatus(runstatus.Reconnecting)
	}
	if a.hooks.OnConnectionStatus != nil {
		a.hooks.OnConnectionStatus(connected)
	}
}

type runtimeStatusState struct {
	mu      sync.Mutex
	current string
}

func (s *runtimeStatusState) update(status string) (string, string, bool) {
	key := runstatus.Key(status)
	s.mu.Lock()
	defer s.mu.Unlock()
	if runstatus.Key(s.current) == key {
		return s.current, status, false
	}
	previous := s.current
	s.current = status
	return previous, status, true
}

func (a *ConsoleApp) setRuntimeStatus(status string) {
	previous, next, changed := a.status.update(status)
	if !changed {
		return
	}
	a.logger.Debug("runtime status transition",
		logging.Field("from", previous),
		logging.Field("to", next),
	)
	if a.hooks.OnStatusChange != nil {
		a.hooks.OnStatusChange(next)
	}
}

// UserSummary is a convenience for status displays: best-effort extraction of
// the stored profile's username.
func (a *ConsoleApp) UserSummary() string {
	raw := a.session.UserProfile()
	if len(raw) == 0 {
		return ""
	}
	var profile struct {
		Username string `json:"username"`
	}
	if err := json.Unmarshal(raw, &profile); err != nil {
		return ""
	}
	return profile.Username
}
