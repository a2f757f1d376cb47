package realtime

import (
	"encoding/json"

	"tunneldeck/internal/logging"
)

// dispatch decodes one inbound frame and fans it out to the topic's
// subscribers in registration order. Malformed frames are logged and
// dropped; they never reach a subscriber or close the connection. A
// panicking subscriber is contained so the ones after it still run.
func (c *Channel) dispatch(raw []byte) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil || env.Type == "" {
		c.logger.Warn("dropping malformed event payload",
			logging.Field("error", err),
			logging.Field("payload", logging.Truncate(string(raw))),
		)
		return
	}

	c.mu.Lock()
	regs := append([]registration(nil), c.handlers[env.Type]...)
	c.mu.Unlock()
	if len(regs) == 0 {
		c.logger.Debug("no subscribers for event topic", logging.Field("topic", env.Type))
		return
	}

	for _, reg := range regs {
		c.invoke(env.Type, reg, env.Data)
	}
}

func (c *Channel) invoke(topic string, reg registration, data json.RawMessage) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("event subscriber panicked",
				logging.Field("topic", topic),
				logging.Field("panic", r),
			)
		}
	}()
	reg.fn(data)
}
