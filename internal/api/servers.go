package api

import (
	"context"
	"fmt"
	"net/http"
)

type CreateServer struct {
	Name           string  `json:"name"`
	Description    *string `json:"description,omitempty"`
	BindAddr       string  `json:"bind_addr,omitempty"`
	BindTunnels    string  `json:"bind_tunnels,omitempty"`
	PortRangeStart int64   `json:"port_range_start,omitempty"`
	PortRangeEnd   int64   `json:"port_range_end,omitempty"`
	Secret         *string `json:"secret,omitempty"`
	AutoStart      bool    `json:"auto_start,omitempty"`
}

type UpdateServer struct {
	Name           *string `json:"name,omitempty"`
	Description    *string `json:"description,omitempty"`
	BindAddr       *string `json:"bind_addr,omitempty"`
	BindTunnels    *string `json:"bind_tunnels,omitempty"`
	PortRangeStart *int64  `json:"port_range_start,omitempty"`
	PortRangeEnd   *int64  `json:"port_range_end,omitempty"`
	Secret         *string `json:"secret,omitempty"`
	AutoStart      *bool   `json:"auto_start,omitempty"`
}

func (a *API) ListServers(ctx context.Context) ([]Server, error) {
	return getJSON[[]Server](ctx, a, "/servers")
}

func (a *API) GetServer(ctx context.Context, id int64) (Server, error) {
	return getJSON[Server](ctx, a, fmt.Sprintf("/servers/%d", id))
}

func (a *API) CreateServer(ctx context.Context, input CreateServer) (Server, error) {
	return postJSON[Server](ctx, a, "/servers", input)
}

func (a *API) UpdateServer(ctx context.Context, id int64, input UpdateServer) (Server, error) {
	return putJSON[Server](ctx, a, fmt.Sprintf("/servers/%d", id), input)
}

func (a *API) DeleteServer(ctx context.Context, id int64) error {
	_, err := a.session.Do(ctx, http.MethodDelete, fmt.Sprintf("/servers/%d", id), nil)
	return err
}

func (a *API) StartServer(ctx context.Context, id int64) error {
	_, err := a.session.Do(ctx, http.MethodPost, fmt.Sprintf("/servers/%d/start", id), nil)
	return err
}

func (a *API) StopServer(ctx context.Context, id int64) error {
	_, err := a.session.Do(ctx, http.MethodPost, fmt.Sprintf("/servers/%d/stop", id), nil)
	return err
}
