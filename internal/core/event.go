package core

// EventKind is a notification the hub emits to clients.
type EventKind int

const (
	// EventIdentityAssigned tells a new client its own identity.
	EventIdentityAssigned EventKind = iota
	// EventRelay delivers a message forwarded from another client.
	EventRelay
)

func (k EventKind) String() string {
	switch k {
	case EventIdentityAssigned:
		return "identity_assigned"
	case EventRelay:
		return "relay"
	default:
		return "unknown"
	}
}

// Event is sent to clients to describe what happened in the system.
type Event struct {
	Kind     EventKind
	Identity string    // EventIdentityAssigned
	Relay    RelayKind // EventRelay
	From     string    // EventRelay: sender identity, stamped by the hub
	Payload  []byte    // EventRelay: opaque to the hub
}
