package realtime

import "encoding/json"

// Topics published by the tunnel server's event stream.
const (
	TopicServerStatus    = "server_status"
	TopicClientStatus    = "client_status"
	TopicConnectionEvent = "connection_event"
	TopicError           = "error"
	TopicPong            = "pong"
)

// KnownTopics lists every topic the server publishes, in a stable order.
func KnownTopics() []string {
	return []string{
		TopicServerStatus,
		TopicClientStatus,
		TopicConnectionEvent,
		TopicError,
		TopicPong,
	}
}

// Envelope is the wire shape of every inbound event. Data stays opaque here;
// subscribers decode it per topic.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Handler consumes one event's payload for a subscribed topic.
type Handler func(data json.RawMessage)

type State int

const (
	Disconnected State = iota
	Connecting
	Open
	Reconnecting
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	case Reconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}
