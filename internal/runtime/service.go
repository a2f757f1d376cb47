package runtime

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"tunneldeck/internal/app"
	"tunneldeck/internal/config"
	"tunneldeck/internal/credstore"
	"tunneldeck/internal/logging"
)

const defaultHTTPTimeout = 10 * time.Second

type Service interface {
	RunContext(ctx context.Context) error
}

type StartHooks struct {
	OnStatus           func(string)
	OnConnectionStatus func(bool)
	OnSessionEnded     func()
	OnEvent            func(topic string, payload json.RawMessage)
	OnExit             func(error)
}

func NewService(opts config.Options, logger *logging.Logger) (Service, error) {
	return NewServiceWithHooks(opts, logger, StartHooks{})
}

func NewServiceWithHooks(opts config.Options, logger *logging.Logger, hooks StartHooks) (Service, error) {
	if logger == nil {
		panic("runtime.NewServiceWithHooks: logger must not be nil")
	}
	if err := config.ValidateRequired(opts); err != nil {
		return nil, err
	}

	endpoints, err := config.BuildEndpoints(opts.BaseURL)
	if err != nil {
		return nil, err
	}
	logger.Debug("constructed API endpoints",
		logging.Field("api_base_url", endpoints.APIBaseURL),
		logging.Field("login_url", endpoints.LoginURL),
		logging.Field("refresh_url", endpoints.RefreshURL),
		logging.Field("events_url", endpoints.EventsURL),
	)

	store, err := credstore.New(logger)
	if err != nil {
		return nil, err
	}

	httpClient := &http.Client{Timeout: defaultHTTPTimeout}
	return app.New(opts, httpClient, endpoints, store, logger, app.Callbacks{
		OnStatusChange:     hooks.OnStatus,
		OnConnectionStatus: hooks.OnConnectionStatus,
		OnSessionEnded:     hooks.OnSessionEnded,
		OnEvent:            hooks.OnEvent,
	}), nil
}
