package runstatus

import "strings"

const (
	Authenticated = "Authenticated"
	Connected     = "Connected"
	Reconnecting  = "Reconnecting"
	Disconnected  = "Disconnected"
	LoggedOut     = "Logged out"
)

func Key(status string) string {
	return strings.ToLower(strings.TrimSpace(status))
}
