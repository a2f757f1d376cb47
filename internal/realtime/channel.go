// Package realtime maintains the persistent websocket connection to the
// tunnel server's event stream: dial, topic-keyed fan-out, and automatic
// reconnection on a fixed interval. The fixed interval (no growth, no
// jitter) mirrors the server's single-operator dashboard expectations; it is
// a known scalability limit, not an oversight.
package realtime

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gorilla/websocket"

	"tunneldeck/internal/logging"
)

const (
	defaultReconnectInterval = 5 * time.Second
	defaultHandshakeTimeout  = 10 * time.Second
)

var errConnectionLost = errors.New("event stream connection lost")

type Config struct {
	// URL is the ws:// or wss:// endpoint of the event stream.
	URL string
	// Token is the bearer credential presented on dial; later rotations
	// arrive through UpdateCredential.
	Token             string
	ReconnectInterval time.Duration
	Dialer            *websocket.Dialer
	Logger            *logging.Logger
	// OnStatusChange observes connectivity flips, true on handshake success
	// and false on loss. Invoked only on actual transitions.
	OnStatusChange func(connected bool)
}

type registration struct {
	id int
	fn Handler
}

type Channel struct {
	url               string
	dialer            *websocket.Dialer
	reconnectInterval time.Duration
	logger            *logging.Logger
	onStatus          func(bool)

	mu        sync.Mutex
	token     string
	state     State
	connected bool
	closed    bool
	handlers  map[string][]registration
	nextID    int
	conn      *websocket.Conn
	cancel    context.CancelFunc
}

func NewChannel(cfg Config) *Channel {
	if cfg.Logger == nil {
		panic("realtime.NewChannel: logger must not be nil")
	}
	dialer := cfg.Dialer
	if dialer == nil {
		dialer = &websocket.Dialer{HandshakeTimeout: defaultHandshakeTimeout}
	}
	interval := cfg.ReconnectInterval
	if interval <= 0 {
		interval = defaultReconnectInterval
	}
	return &Channel{
		url:               cfg.URL,
		dialer:            dialer,
		reconnectInterval: interval,
		logger:            cfg.Logger,
		onStatus:          cfg.OnStatusChange,
		token:             cfg.Token,
		handlers:          map[string][]registration{},
	}
}

// On registers a callback for a topic. Registrations accumulate; for each
// inbound message of that topic, callbacks fire in registration order. The
// returned function removes the registration.
func (c *Channel) On(topic string, fn Handler) func() {
	if fn == nil {
		panic("realtime.Channel.On: handler must not be nil")
	}
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.handlers[topic] = append(c.handlers[topic], registration{id: id, fn: fn})
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		regs := c.handlers[topic]
		for i, reg := range regs {
			if reg.id == id {
				c.handlers[topic] = append(regs[:i:i], regs[i+1:]...)
				break
			}
		}
		c.mu.Unlock()
	}
}

// UpdateCredential swaps the bearer credential used by the next connection
// attempt. An open connection is left alone; the live stream is assumed
// still valid after an HTTP session rotation.
func (c *Channel) UpdateCredential(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
	c.logger.Debug("event stream credential updated for next connection attempt")
}

func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Run connects and keeps the stream alive until ctx ends or Shutdown is
// called. Every connection loss, clean close or error alike, schedules
// exactly one reconnect attempt after the fixed interval.
func (c *Channel) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	// Shutdown may land before Run; the latch keeps a shut channel from
	// ever dialing.
	if c.closed {
		c.mu.Unlock()
		cancel()
		return nil
	}
	c.cancel = cancel
	c.mu.Unlock()
	defer cancel()

	retry := backoff.NewConstantBackOff(c.reconnectInterval)
	_, err := backoff.Retry(runCtx, func() (struct{}, error) {
		connErr := c.runOnce(runCtx)
		if runCtx.Err() != nil {
			return struct{}{}, backoff.Permanent(runCtx.Err())
		}
		if connErr == nil {
			connErr = errConnectionLost
		}
		return struct{}{}, connErr
	},
		backoff.WithBackOff(retry),
		// Zero disables the retry library's 15 minute elapsed-time cap;
		// only ctx or Shutdown ends the loop.
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			c.logger.Debug("scheduling event stream reconnect",
				logging.Field("error", err),
				logging.Field("next_attempt", next.String()),
			)
		}),
	)

	c.setState(Disconnected)
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return nil
}

// Shutdown stops the reconnect loop and drops any open connection. The
// channel ends in Disconnected and stays there; a Shutdown issued before
// Run keeps the loop from ever starting.
func (c *Channel) Shutdown() {
	c.mu.Lock()
	c.closed = true
	cancel := c.cancel
	conn := c.conn
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if conn != nil {
		_ = conn.Close()
	}
}

func (c *Channel) runOnce(ctx context.Context) error {
	c.setState(Connecting)

	c.mu.Lock()
	token := c.token
	c.mu.Unlock()
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}

	conn, resp, err := c.dialer.DialContext(ctx, c.url, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		c.logger.Warn("event stream connect failed", logging.Field("error", err))
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	c.setState(Open)
	c.notifyConnected(true)
	c.logger.Info("event stream connected")

	// Unblock ReadMessage on context cancellation.
	readDone := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-readDone:
		}
	}()

	var readErr error
	for {
		_, data, msgErr := conn.ReadMessage()
		if msgErr != nil {
			readErr = msgErr
			break
		}
		c.dispatch(data)
	}
	close(readDone)
	_ = conn.Close()

	c.mu.Lock()
	c.conn = nil
	c.mu.Unlock()
	c.notifyConnected(false)

	if ctx.Err() != nil {
		return ctx.Err()
	}
	c.setState(Reconnecting)
	c.logger.Warn("event stream disconnected", logging.Field("error", readErr))
	return readErr
}

func (c *Channel) setState(next State) {
	c.mu.Lock()
	prev := c.state
	c.state = next
	c.mu.Unlock()
	if prev != next {
		c.logger.Debug("event stream state transition",
			logging.Field("from", prev.String()),
			logging.Field("to", next.String()),
		)
	}
}

func (c *Channel) notifyConnected(connected bool) {
	c.mu.Lock()
	changed := c.connected != connected
	c.connected = connected
	observer := c.onStatus
	c.mu.Unlock()
	if changed && observer != nil {
		observer(connected)
	}
}
