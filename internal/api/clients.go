package api

import (
	"context"
	"fmt"
	"net/http"
)

type CreateClient struct {
	Name         string  `json:"name"`
	Description  *string `json:"description,omitempty"`
	LocalHost    string  `json:"local_host,omitempty"`
	LocalPort    int64   `json:"local_port"`
	RemoteServer string  `json:"remote_server"`
	RemotePort   int64   `json:"remote_port,omitempty"`
	Secret       *string `json:"secret,omitempty"`
	AutoStart    bool    `json:"auto_start,omitempty"`
	WebhookURL   *string `json:"webhook_url,omitempty"`
}

type UpdateClient struct {
	Name         *string `json:"name,omitempty"`
	Description  *string `json:"description,omitempty"`
	LocalHost    *string `json:"local_host,omitempty"`
	LocalPort    *int64  `json:"local_port,omitempty"`
	RemoteServer *string `json:"remote_server,omitempty"`
	RemotePort   *int64  `json:"remote_port,omitempty"`
	Secret       *string `json:"secret,omitempty"`
	AutoStart    *bool   `json:"auto_start,omitempty"`
	WebhookURL   *string `json:"webhook_url,omitempty"`
}

func (a *API) ListClients(ctx context.Context) ([]Client, error) {
	return getJSON[[]Client](ctx, a, "/clients")
}

func (a *API) GetClient(ctx context.Context, id int64) (Client, error) {
	return getJSON[Client](ctx, a, fmt.Sprintf("/clients/%d", id))
}

func (a *API) CreateClient(ctx context.Context, input CreateClient) (Client, error) {
	return postJSON[Client](ctx, a, "/clients", input)
}

func (a *API) UpdateClient(ctx context.Context, id int64, input UpdateClient) (Client, error) {
	return putJSON[Client](ctx, a, fmt.Sprintf("/clients/%d", id), input)
}

func (a *API) DeleteClient(ctx context.Context, id int64) error {
	_, err := a.session.Do(ctx, http.MethodDelete, fmt.Sprintf("/clients/%d", id), nil)
	return err
}

func (a *API) StartClient(ctx context.Context, id int64) error {
	_, err := a.session.Do(ctx, http.MethodPost, fmt.Sprintf("/clients/%d/start", id), nil)
	return err
}

func (a *API) StopClient(ctx context.Context, id int64) error {
	_, err := a.session.Do(ctx, http.MethodPost, fmt.Sprintf("/clients/%d/stop", id), nil)
	return err
}
