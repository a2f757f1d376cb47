package api

import (
	"context"
	"encoding/json"
)

func (a *API) GetHealth(ctx context.Context) (json.RawMessage, error) {
	return getJSON[json.RawMessage](ctx, a, "/system/health")
}

func (a *API) GetVersion(ctx context.Context) (json.RawMessage, error) {
	return getJSON[json.RawMessage](ctx, a, "/system/version")
}

func (a *API) GetStats(ctx context.Context) (SystemStats, error) {
	return getJSON[SystemStats](ctx, a, "/system/stats")
}
