// Package call drives one participant's side of a one-to-one call: it turns
// relay messages and transport callbacks into state transitions and reports
// them to an Observer.
package call

import "context"

// State is the call state of one machine.
type State int32

const (
	StateIdle State = iota
	StateAwaitingAnswer
	StateIncomingRing
	StateActive
	StateEnded
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingAnswer:
		return "awaiting_answer"
	case StateIncomingRing:
		return "incoming_ring"
	case StateActive:
		return "active"
	case StateEnded:
		return "ended"
	default:
		return "unknown"
	}
}

// Role says which side of the setup-payload exchange a transport plays.
type Role int

const (
	RoleInitiator Role = iota
	RoleResponder
)

func (r Role) String() string {
	if r == RoleInitiator {
		return "initiator"
	}
	return "responder"
}

// MediaKind distinguishes the local capture from the peer's feed.
type MediaKind int

const (
	MediaLocal MediaKind = iota
	MediaRemote
)

func (k MediaKind) String() string {
	if k == MediaLocal {
		return "local"
	}
	return "remote"
}

// MediaHandle is an opaque audio/video feed.
type MediaHandle interface {
	ID() string
	SetAudioEnabled(enabled bool)
	SetVideoEnabled(enabled bool)
}

// MediaCapability captures local media.
type MediaCapability interface {
	Acquire(ctx context.Context, wantsVideo, wantsAudio bool) (MediaHandle, error)
}

// TransportEvents are the callbacks a TransportSession fires. They may be
// invoked from any goroutine.
type TransportEvents struct {
	OnSetupPayloadReady func(payload []byte)
	OnRemoteMedia       func(handle MediaHandle)
	OnError             func(err error)
	OnClosed            func()
}

// TransportFactory builds peer-to-peer media sessions.
type TransportFactory interface {
	Create(role Role, local MediaHandle, iceServers []string, events TransportEvents) (TransportSession, error)
}

// TransportSession is one peer-to-peer media connection.
type TransportSession interface {
	// GenerateSetupPayload starts producing the local setup payload and
	// returns immediately; the result arrives via OnSetupPayloadReady.
	GenerateSetupPayload()
	ConsumeRemoteSetupPayload(payload []byte) error
	// Destroy releases every resource. Further events are not expected.
	Destroy()
}

// Invite is a call-offer as sent by the caller.
type Invite struct {
	TargetIdentity    string
	CallerIdentity    string
	CallerDisplayName string
	CallerRole        string
	SetupPayload      []byte
}

// Caller describes an incoming call to the presentation layer.
type Caller struct {
	Identity    string
	DisplayName string
	Role        string
}

// Signaler delivers call signaling to a peer through the relay. Delivery is
// fire-and-forget: a nil error only means the message left this process.
type Signaler interface {
	SendInvite(inv Invite) error
	SendAcceptance(target string, payload []byte) error
	SendDisconnect(target string) error
}

// Observer receives the machine's outputs. Methods are called from the
// machine's goroutine and must not block.
type Observer interface {
	OnLocalIdentityAssigned(identity string)
	OnIncomingCall(caller Caller)
	OnMediaAttached(kind MediaKind, handle MediaHandle)
	OnStateChanged(from, to State)
	OnCallEnded()
	OnError(kind ErrorKind, detail string)
}

// NopObserver ignores everything. Embed it to implement a subset.
type NopObserver struct{}

func (NopObserver) OnLocalIdentityAssigned(string)         {}
func (NopObserver) OnIncomingCall(Caller)                  {}
func (NopObserver) OnMediaAttached(MediaKind, MediaHandle) {}
func (NopObserver) OnStateChanged(State, State)            {}
func (NopObserver) OnCallEnded()                           {}
func (NopObserver) OnError(ErrorKind, string)              {}
