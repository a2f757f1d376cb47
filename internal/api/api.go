// Package api wraps the tunnel server's REST resources. Every call goes
// through the session manager, which owns the credential and its lifecycle;
// this layer only shapes paths and payloads.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"tunneldeck/internal/session"
)

type API struct {
	session *session.Manager
}

func New(sessionManager *session.Manager) *API {
	if sessionManager == nil {
		panic("api.New: session manager must not be nil")
	}
	return &API{session: sessionManager}
}

func getJSON[T any](ctx context.Context, a *API, path string) (T, error) {
	var out T
	data, err := a.session.Do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, fmt.Errorf("invalid response for %s: %w", path, err)
	}
	return out, nil
}

func postJSON[T any](ctx context.Context, a *API, path string, body any) (T, error) {
	var out T
	data, err := a.session.Do(ctx, http.MethodPost, path, body)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, fmt.Errorf("invalid response for %s: %w", path, err)
	}
	return out, nil
}

func putJSON[T any](ctx context.Context, a *API, path string, body any) (T, error) {
	var out T
	data, err := a.session.Do(ctx, http.MethodPut, path, body)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, fmt.Errorf("invalid response for %s: %w", path, err)
	}
	return out, nil
}
