package mailbox

import "github.com/nhle/onebox/internal/model"

// State is the connection lifecycle state of one account session.
// Exactly one state is active at a time.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateBackfilling
	StateListening
	StateRefreshingListen
	StateReconnecting
	StateFailed
)

// String returns the state name for logs and API responses.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "Disconnected"
	case StateConnecting:
		return "Connecting"
	case StateConnected:
		return "Connected"
	case StateBackfilling:
		return "Backfilling"
	case StateListening:
		return "Listening"
	case StateRefreshingListen:
		return "RefreshingListen"
	case StateReconnecting:
		return "Reconnecting"
	case StateFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// EventKind identifies the kind of event a connection delivers to its
// consumer.
type EventKind int

const (
	// EventConnected is delivered after a successful handshake, both on
	// the initial connect and after a recovery.
	EventConnected EventKind = iota

	// EventNewMail carries messages fetched after a server push signal.
	EventNewMail

	// EventDisconnected is delivered after an explicit disconnect.
	EventDisconnected

	// EventTransportError is delivered when the session is lost and the
	// connection enters its reconnect loop.
	EventTransportError

	// EventFailed is delivered when the reconnect attempt cap is
	// exceeded. The state is terminal until an external Connect call.
	EventFailed
)

// String returns the event kind name for logs.
func (k EventKind) String() string {
	switch k {
	case EventConnected:
		return "Connected"
	case EventNewMail:
		return "NewMail"
	case EventDisconnected:
		return "Disconnected"
	case EventTransportError:
		return "TransportError"
	case EventFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// Event is delivered on a connection's single-consumer event channel.
type Event struct {
	Kind EventKind

	// Records holds normalized messages for EventNewMail, in arrival order.
	Records []*model.Message

	// Err carries the cause for EventTransportError and EventFailed.
	Err error
}
