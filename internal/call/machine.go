package call

import (
	"context"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

const (
	defaultAnswerTimeout = 30 * time.Second
	eventQueueSize       = 64
)

// Options configures a Machine.
type Options struct {
	DisplayName   string
	Role          string
	ICEServers    []string
	AnswerTimeout time.Duration
	WantsVideo    bool
	WantsAudio    bool

	Media     MediaCapability
	Transport TransportFactory
	Signaler  Signaler
	Observer  Observer
	Logger    *zerolog.Logger
}

// Machine is the per-participant call state machine. Every operation and
// every collaborator callback is turned into a closure on a single queue and
// executed by Run, so transitions never interleave.
type Machine struct {
	opts     Options
	observer Observer
	log      zerolog.Logger

	events chan func()
	done   chan struct{}
	state  atomic.Int32

	// Owned by the Run goroutine.
	self        string
	local       MediaHandle
	remote      MediaHandle
	peer        string
	invite      *Invite
	session     TransportSession
	attempt     uint64
	payloadSent bool
	answerTimer *time.Timer
}

// NewMachine builds an idle machine. Call Run to start processing.
func NewMachine(opts Options) *Machine {
	if opts.AnswerTimeout <= 0 {
		opts.AnswerTimeout = defaultAnswerTimeout
	}
	if !opts.WantsAudio && !opts.WantsVideo {
		opts.WantsAudio, opts.WantsVideo = true, true
	}
	observer := opts.Observer
	if observer == nil {
		observer = NopObserver{}
	}
	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = opts.Logger.With().Str("component", "call").Logger()
	}
	return &Machine{
		opts:     opts,
		observer: observer,
		log:      logger,
		events:   make(chan func(), eventQueueSize),
		done:     make(chan struct{}),
	}
}

// Run processes events until ctx is cancelled. On exit any call in progress
// is hung up and local media is released.
func (m *Machine) Run(ctx context.Context) error {
	defer close(m.done)
	for {
		select {
		case fn := <-m.events:
			fn()
		case <-ctx.Done():
			m.shutdown()
			return ctx.Err()
		}
	}
}

// State returns the current state. Safe from any goroutine.
func (m *Machine) State() State {
	return State(m.state.Load())
}

// Start acquires local media. The capture runs on the caller's goroutine so
// the queue keeps moving; failure is reported as MediaUnavailable and leaves
// the machine usable for incoming rings but unable to place calls.
func (m *Machine) Start(ctx context.Context) error {
	var (
		handle MediaHandle
		err    error
	)
	if m.opts.Media == nil {
		err = fmt.Errorf("no media capability configured")
	} else {
		handle, err = m.opts.Media.Acquire(ctx, m.opts.WantsVideo, m.opts.WantsAudio)
	}
	if err == nil && handle == nil {
		err = fmt.Errorf("media capability returned no handle")
	}

	var result error
	if err != nil {
		result = newError(KindMediaUnavailable, "local capture failed", err)
	}
	postErr := m.do(ctx, func() error {
		if err != nil {
			m.log.Warn().Err(err).Msg("local media unavailable")
			m.observer.OnError(KindMediaUnavailable, fmt.Sprintf("%s: %v", KindMediaUnavailable.Describe(), err))
			return nil
		}
		m.local = handle
		m.log.Info().Str("media_id", handle.ID()).Msg("local media ready")
		m.observer.OnMediaAttached(MediaLocal, handle)
		return nil
	})
	if postErr != nil {
		if handle != nil {
			closeMedia(handle)
		}
		return postErr
	}
	return result
}

// IdentityAssigned records the identity the relay gave this participant.
func (m *Machine) IdentityAssigned(identity string) {
	m.post(func() {
		m.self = identity
		m.log.Info().Str("identity", identity).Msg("identity assigned")
		m.observer.OnLocalIdentityAssigned(identity)
	})
}

// PlaceCall starts a call to target. It returns once the transport exists and
// the machine is AwaitingAnswer; the invite leaves when the setup payload is
// ready.
func (m *Machine) PlaceCall(ctx context.Context, target string) error {
	return m.do(ctx, func() error { return m.placeCall(target) })
}

// Accept answers the ringing call.
func (m *Machine) Accept(ctx context.Context) error {
	return m.do(ctx, m.accept)
}

// Hangup ends the call from this side. Valid in every state; repeated calls
// are no-ops.
func (m *Machine) Hangup(ctx context.Context) error {
	return m.do(ctx, func() error {
		if m.State() == StateEnded {
			return nil
		}
		m.log.Info().Str("peer", m.peer).Str("state", m.State().String()).Msg("hangup")
		m.end(true)
		return nil
	})
}

// Reset returns an Idle or Ended machine to a clean Idle state, keeping the
// identity and local media.
func (m *Machine) Reset(ctx context.Context) error {
	return m.do(ctx, func() error {
		switch m.State() {
		case StateIdle, StateEnded:
		default:
			return fmt.Errorf("reset from %s: %w", m.State(), ErrInvalidState)
		}
		m.clearCall()
		m.setState(StateIdle)
		return nil
	})
}

// SetAudioEnabled mutes or unmutes the local microphone.
func (m *Machine) SetAudioEnabled(ctx context.Context, enabled bool) error {
	return m.do(ctx, func() error {
		if m.local == nil {
			return newError(KindMediaUnavailable, "no local media", nil)
		}
		m.local.SetAudioEnabled(enabled)
		return nil
	})
}

// SetVideoEnabled turns the local camera on or off.
func (m *Machine) SetVideoEnabled(ctx context.Context, enabled bool) error {
	return m.do(ctx, func() error {
		if m.local == nil {
			return newError(KindMediaUnavailable, "no local media", nil)
		}
		m.local.SetVideoEnabled(enabled)
		return nil
	})
}

// ReceiveInvite handles a call-offer relayed from another participant.
func (m *Machine) ReceiveInvite(from string, inv Invite) {
	m.post(func() { m.receiveInvite(from, inv) })
}

// ReceiveAcceptance handles a call-answer relayed from the callee.
func (m *Machine) ReceiveAcceptance(from string, payload []byte) {
	m.post(func() { m.receiveAcceptance(from, payload) })
}

// ReceiveDisconnect handles a disconnect-notify relayed from the peer.
func (m *Machine) ReceiveDisconnect(from string) {
	m.post(func() { m.receiveDisconnect(from) })
}

func (m *Machine) placeCall(target string) error {
	if state := m.State(); state != StateIdle {
		return fmt.Errorf("place call from %s: %w", state, ErrInvalidState)
	}
	if target == "" {
		return ErrNoTarget
	}
	if target == m.self {
		return ErrCallSelf
	}
	if m.local == nil {
		err := newError(KindMediaUnavailable, "local media is not available", nil)
		m.observer.OnError(KindMediaUnavailable, KindMediaUnavailable.Describe())
		return err
	}

	m.attempt++
	session, err := m.opts.Transport.Create(RoleInitiator, m.local, m.opts.ICEServers, m.transportEvents(m.attempt))
	if err != nil {
		m.log.Error().Err(err).Str("target", target).Msg("create initiator transport")
		m.observer.OnError(KindTransportConstructionFailed, fmt.Sprintf("%s: %v", KindTransportConstructionFailed.Describe(), err))
		return newError(KindTransportConstructionFailed, "create initiator transport", err)
	}

	m.session = session
	m.peer = target
	m.payloadSent = false
	m.setState(StateAwaitingAnswer)
	m.log.Info().Str("target", target).Uint64("attempt", m.attempt).Msg("placing call")
	session.GenerateSetupPayload()
	return nil
}

func (m *Machine) accept() error {
	if state := m.State(); state != StateIncomingRing {
		return fmt.Errorf("accept from %s: %w", state, ErrInvalidState)
	}
	if m.local == nil {
		err := newError(KindMediaUnavailable, "local media is not available", nil)
		m.fail(err, true)
		return err
	}

	m.attempt++
	session, err := m.opts.Transport.Create(RoleResponder, m.local, m.opts.ICEServers, m.transportEvents(m.attempt))
	if err != nil {
		ce := newError(KindTransportConstructionFailed, "create responder transport", err)
		m.fail(ce, true)
		return ce
	}
	m.session = session
	m.payloadSent = false

	offer := m.invite.SetupPayload
	m.invite.SetupPayload = nil
	if err := session.ConsumeRemoteSetupPayload(offer); err != nil {
		ce := newError(KindTransportConstructionFailed, "apply caller setup payload", err)
		m.fail(ce, true)
		return ce
	}

	// Active is entered before the transport connects; media arrival is
	// reported separately through OnMediaAttached.
	m.setState(StateActive)
	m.log.Info().Str("caller", m.peer).Uint64("attempt", m.attempt).Msg("call accepted")
	session.GenerateSetupPayload()
	return nil
}

func (m *Machine) receiveInvite(from string, inv Invite) {
	if from == "" || len(inv.SetupPayload) == 0 {
		m.log.Warn().Str("from", from).Msg("dropping malformed invite")
		return
	}
	if state := m.State(); state != StateIdle {
		// Only a ring can be re-sent by the same caller. In every other state
		// an invite from the peer means it started a new call (or both sides
		// dialled at once) and must be declined, or the caller waits out its
		// answer timer.
		if state == StateIncomingRing && from == m.peer {
			m.log.Debug().Str("from", from).Msg("duplicate invite from current peer")
			return
		}
		m.log.Info().Str("from", from).Str("state", state.String()).Msg("busy, declining invite")
		if err := m.opts.Signaler.SendDisconnect(from); err != nil {
			m.log.Warn().Err(err).Str("to", from).Msg("send busy notify")
		}
		return
	}

	invite := inv
	m.invite = &invite
	m.peer = from
	m.setState(StateIncomingRing)
	name := inv.CallerDisplayName
	if name == "" {
		name = from
	}
	m.log.Info().Str("from", from).Str("name", name).Msg("incoming call")
	m.observer.OnIncomingCall(Caller{Identity: from, DisplayName: name, Role: inv.CallerRole})
}

func (m *Machine) receiveAcceptance(from string, payload []byte) {
	if m.State() != StateAwaitingAnswer || from != m.peer || m.session == nil {
		m.log.Debug().Str("from", from).Str("state", m.State().String()).Msg("ignoring unexpected acceptance")
		return
	}
	m.stopAnswerTimer()

	if err := m.session.ConsumeRemoteSetupPayload(payload); err != nil {
		m.fail(newError(KindPeerUnreachable, "apply callee setup payload", err), true)
		return
	}
	m.setState(StateActive)
	m.log.Info().Str("peer", from).Msg("call answered")
}

func (m *Machine) receiveDisconnect(from string) {
	state := m.State()
	if from != m.peer || state == StateIdle || state == StateEnded {
		m.log.Debug().Str("from", from).Str("state", state.String()).Msg("ignoring disconnect-notify")
		return
	}
	m.log.Info().Str("peer", from).Str("state", state.String()).Msg("peer ended the call")
	m.end(false)
}

func (m *Machine) transportEvents(attempt uint64) TransportEvents {
	return TransportEvents{
		OnSetupPayloadReady: func(payload []byte) {
			m.post(func() { m.onSetupPayloadReady(attempt, payload) })
		},
		OnRemoteMedia: func(handle MediaHandle) {
			m.post(func() { m.onRemoteMedia(attempt, handle) })
		},
		OnError: func(err error) {
			m.post(func() { m.onTransportError(attempt, err) })
		},
		OnClosed: func() {
			m.post(func() { m.onTransportClosed(attempt) })
		},
	}
}

func (m *Machine) stale(attempt uint64) bool {
	return attempt != m.attempt || m.session == nil
}

func (m *Machine) onSetupPayloadReady(attempt uint64, payload []byte) {
	if m.stale(attempt) || m.payloadSent {
		return
	}
	m.payloadSent = true

	switch m.State() {
	case StateAwaitingAnswer:
		err := m.opts.Signaler.SendInvite(Invite{
			TargetIdentity:    m.peer,
			CallerIdentity:    m.self,
			CallerDisplayName: m.opts.DisplayName,
			CallerRole:        m.opts.Role,
			SetupPayload:      payload,
		})
		if err != nil {
			m.giveUp(newError(KindSignalingDeliveryUnknown, "send invite", err))
			return
		}
		m.armAnswerTimer(attempt)
		m.log.Debug().Str("target", m.peer).Int("payload_bytes", len(payload)).Msg("invite sent")
	case StateActive:
		if err := m.opts.Signaler.SendAcceptance(m.peer, payload); err != nil {
			m.fail(newError(KindSignalingDeliveryUnknown, "send acceptance", err), false)
			return
		}
		m.log.Debug().Str("caller", m.peer).Int("payload_bytes", len(payload)).Msg("acceptance sent")
	}
}

func (m *Machine) onRemoteMedia(attempt uint64, handle MediaHandle) {
	if m.stale(attempt) || m.remote != nil || handle == nil {
		return
	}
	m.remote = handle
	m.log.Info().Str("media_id", handle.ID()).Msg("remote media attached")
	m.observer.OnMediaAttached(MediaRemote, handle)
}

func (m *Machine) onTransportError(attempt uint64, err error) {
	if m.stale(attempt) {
		return
	}
	ce, ok := err.(*Error)
	if !ok {
		ce = newError(KindPeerUnreachable, "transport failed", err)
	}
	m.fail(ce, true)
}

func (m *Machine) onTransportClosed(attempt uint64) {
	if m.stale(attempt) {
		return
	}
	if m.State() == StateActive {
		m.log.Info().Str("peer", m.peer).Msg("transport closed")
		m.end(false)
		return
	}
	m.fail(newError(KindPeerUnreachable, "transport closed before the call was established", nil), true)
}

func (m *Machine) armAnswerTimer(attempt uint64) {
	m.stopAnswerTimer()
	m.answerTimer = time.AfterFunc(m.opts.AnswerTimeout, func() {
		m.post(func() { m.onAnswerTimeout(attempt) })
	})
}

func (m *Machine) stopAnswerTimer() {
	if m.answerTimer != nil {
		m.answerTimer.Stop()
		m.answerTimer = nil
	}
}

func (m *Machine) onAnswerTimeout(attempt uint64) {
	if attempt != m.attempt || m.State() != StateAwaitingAnswer {
		return
	}
	m.giveUp(newError(KindSignalingDeliveryUnknown,
		fmt.Sprintf("no answer from %s within %s", m.peer, m.opts.AnswerTimeout), nil))
}

// giveUp abandons an unanswered call: the caller never reached the peer for
// sure, so the machine goes back to Idle instead of Ended.
func (m *Machine) giveUp(err *Error) {
	m.log.Warn().Err(err).Str("target", m.peer).Msg("giving up on call")
	m.stopAnswerTimer()
	m.destroySession()
	// The invite may have been delivered and still be ringing.
	if m.peer != "" {
		if sendErr := m.opts.Signaler.SendDisconnect(m.peer); sendErr != nil {
			m.log.Debug().Err(sendErr).Msg("send cancel notify")
		}
	}
	m.observer.OnError(err.Kind, describe(err))
	m.clearCall()
	m.setState(StateIdle)
}

// fail reports err and ends the call.
func (m *Machine) fail(err *Error, notifyPeer bool) {
	m.log.Error().Err(err).Str("peer", m.peer).Msg("call failed")
	m.observer.OnError(err.Kind, describe(err))
	m.end(notifyPeer)
}

// end tears the call down and enters Ended. The session pointer is cleared
// before anything else so a repeated end cannot destroy it twice.
func (m *Machine) end(notifyPeer bool) {
	if m.State() == StateEnded {
		return
	}
	m.stopAnswerTimer()
	m.destroySession()
	if notifyPeer && m.peer != "" {
		if err := m.opts.Signaler.SendDisconnect(m.peer); err != nil {
			m.log.Warn().Err(err).Str("to", m.peer).Msg("send disconnect-notify")
		}
	}
	m.remote = nil
	m.invite = nil
	m.setState(StateEnded)
	m.observer.OnCallEnded()
}

func (m *Machine) destroySession() {
	if m.session == nil {
		return
	}
	session := m.session
	m.session = nil
	session.Destroy()
}

func (m *Machine) clearCall() {
	m.destroySession()
	m.peer = ""
	m.invite = nil
	m.remote = nil
	m.payloadSent = false
}

func (m *Machine) setState(to State) {
	from := State(m.state.Swap(int32(to)))
	if from == to {
		return
	}
	m.log.Debug().Str("from", from.String()).Str("to", to.String()).Msg("state change")
	m.observer.OnStateChanged(from, to)
}

func (m *Machine) shutdown() {
	switch m.State() {
	case StateIdle, StateEnded:
		m.destroySession()
	default:
		m.end(true)
	}
	m.stopAnswerTimer()
	if m.local != nil {
		closeMedia(m.local)
		m.local = nil
	}
}

// post queues fn for the Run goroutine. It reports false once Run has exited.
func (m *Machine) post(fn func()) bool {
	select {
	case m.events <- fn:
		return true
	case <-m.done:
		return false
	}
}

// do runs fn on the Run goroutine and waits for its result.
func (m *Machine) do(ctx context.Context, fn func() error) error {
	reply := make(chan error, 1)
	if !m.post(func() { reply <- fn() }) {
		return ErrMachineClosed
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-m.done:
		return ErrMachineClosed
	}
}

func describe(err *Error) string {
	if err.Detail == "" && err.Err == nil {
		return err.Kind.Describe()
	}
	return fmt.Sprintf("%s (%s)", err.Kind.Describe(), trimKind(err))
}

func trimKind(err *Error) string {
	switch {
	case err.Detail != "" && err.Err != nil:
		return fmt.Sprintf("%s: %v", err.Detail, err.Err)
	case err.Detail != "":
		return err.Detail
	default:
		return err.Err.Error()
	}
}

func closeMedia(handle MediaHandle) {
	if c, ok := handle.(io.Closer); ok {
		_ = c.Close()
	}
}
