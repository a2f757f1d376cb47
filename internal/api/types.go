package api

import "encoding/json"

// Resource payloads stay close to the wire; the session core treats them as
// opaque and only this layer gives them shape.

type Server struct {
	ID             int64   `json:"id"`
	Name           string  `json:"name"`
	Description    *string `json:"description"`
	BindAddr       string  `json:"bind_addr"`
	BindTunnels    string  `json:"bind_tunnels"`
	PortRangeStart int64   `json:"port_range_start"`
	PortRangeEnd   int64   `json:"port_range_end"`
	Status         string  `json:"status"`
	AutoStart      bool    `json:"auto_start"`
	CreatedAt      string  `json:"created_at"`
	UpdatedAt      string  `json:"updated_at"`
	LastStartedAt  *string `json:"last_started_at"`
	ErrorMessage   *string `json:"error_message"`
}

type Client struct {
	ID              int64   `json:"id"`
	Name            string  `json:"name"`
	Description     *string `json:"description"`
	LocalHost       string  `json:"local_host"`
	LocalPort       int64   `json:"local_port"`
	RemoteServer    string  `json:"remote_server"`
	RemotePort      int64   `json:"remote_port"`
	AssignedPort    *int64  `json:"assigned_port"`
	Status          string  `json:"status"`
	AutoStart       bool    `json:"auto_start"`
	WebhookURL      *string `json:"webhook_url"`
	CreatedAt       string  `json:"created_at"`
	UpdatedAt       string  `json:"updated_at"`
	LastConnectedAt *string `json:"last_connected_at"`
	ErrorMessage    *string `json:"error_message"`
}

type UserInfo struct {
	ID          int64   `json:"id"`
	Username    string  `json:"username"`
	DisplayName *string `json:"display_name"`
}

type SystemStats struct {
	Servers json.RawMessage `json:"servers"`
	Clients json.RawMessage `json:"clients"`
	System  json.RawMessage `json:"system"`
}
