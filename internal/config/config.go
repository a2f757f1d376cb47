package config

import (
	"errors"
	"net/url"
	"strings"

	flags "github.com/jessevdk/go-flags"
	"github.com/joho/godotenv"
)

type Options struct {
	BaseURL  string `long:"base-url" env:"TUNNELDECK_BASE_URL" description:"Tunnel server base URL (e.g. https://tunnels.example.com)"`
	Username string `long:"username" env:"TUNNELDECK_USERNAME" description:"Login username (only needed when no stored session exists)"`
	Password string `long:"password" env:"TUNNELDECK_PASSWORD" description:"Login password (only needed when no stored session exists)"`
	Debug    bool   `long:"debug" env:"TUNNELDECK_DEBUG" description:"Enable verbose debug output"`
}

// APIEndpoints carries resolved server URLs. APIBaseURL is the versioned REST
// root; EventsURL is the websocket event stream on the bare host.
type APIEndpoints struct {
	APIBaseURL string
	LoginURL   string
	RefreshURL string
	EventsURL  string
}

const (
	apiBasePath = "/api/v1"
	eventsPath  = "/ws"
)

func ParseOptions() (Options, error) {
	_ = godotenv.Load()
	opts := Options{}
	if _, err := flags.Parse(&opts); err != nil {
		return Options{}, err
	}
	return opts, nil
}

func ValidateRequired(opts Options) error {
	if strings.TrimSpace(opts.BaseURL) == "" {
		return errors.New("base URL is required")
	}
	return nil
}

func BuildEndpoints(rawBaseURL string) (APIEndpoints, error) {
	parsed, err := parseBaseURL(rawBaseURL)
	if err != nil {
		return APIEndpoints{}, err
	}

	api := *parsed
	api.Path = apiBasePath
	apiBase := strings.TrimRight(api.String(), "/")

	// The event stream lives on the bare host, with the HTTP scheme upgraded
	// to its websocket counterpart (https -> wss).
	events := *parsed
	events.Path = eventsPath
	if strings.EqualFold(events.Scheme, "https") {
		events.Scheme = "wss"
	} else {
		events.Scheme = "ws"
	}

	return APIEndpoints{
		APIBaseURL: apiBase,
		LoginURL:   apiBase + "/auth/login",
		RefreshURL: apiBase + "/auth/refresh",
		EventsURL:  events.String(),
	}, nil
}

func parseBaseURL(raw string) (*url.URL, error) {
	value := strings.TrimSpace(raw)
	parsed, err := url.Parse(value)
	if err != nil {
		return nil, err
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, errors.New("expected absolute URL like https://example.com")
	}
	if !strings.EqualFold(parsed.Scheme, "http") && !strings.EqualFold(parsed.Scheme, "https") {
		return nil, errors.New("base URL scheme must be http or https")
	}

	// Normalize any pasted endpoint/path down to the bare origin.
	parsed.Path = ""
	parsed.RawPath = ""
	parsed.RawQuery = ""
	parsed.Fragment = ""
	return parsed, nil
}
