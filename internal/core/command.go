package core

// RelayKind names a message kind the hub forwards between two clients.
type RelayKind string

const (
	// RelayCallOffer carries a call invite from caller to callee.
	RelayCallOffer RelayKind = "call-offer"
	// RelayCallAnswer carries the callee's acceptance back to the caller.
	RelayCallAnswer RelayKind = "call-answer"
	// RelayDisconnectNotify tells the peer the call is over.
	RelayDisconnectNotify RelayKind = "disconnect-notify"
)

// Valid reports whether k is one of the forwarded kinds.
func (k RelayKind) Valid() bool {
	switch k {
	case RelayCallOffer, RelayCallAnswer, RelayDisconnectNotify:
		return true
	}
	return false
}

// Command represents a relay request made by a client.
type Command struct {
	Kind    RelayKind
	Target  string
	Payload []byte
}
