package call

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// fakeMedia is a MediaHandle recording enablement toggles.
type fakeMedia struct {
	id     string
	audio  atomic.Bool
	video  atomic.Bool
	closed atomic.Int32
}

func newFakeMedia(id string) *fakeMedia {
	m := &fakeMedia{id: id}
	m.audio.Store(true)
	m.video.Store(true)
	return m
}

func (m *fakeMedia) ID() string              { return m.id }
func (m *fakeMedia) SetAudioEnabled(on bool) { m.audio.Store(on) }
func (m *fakeMedia) SetVideoEnabled(on bool) { m.video.Store(on) }
func (m *fakeMedia) Close() error            { m.closed.Add(1); return nil }

type fakeCapability struct {
	handle *fakeMedia
	err    error
}

func (c *fakeCapability) Acquire(context.Context, bool, bool) (MediaHandle, error) {
	if c.err != nil {
		return nil, c.err
	}
	return c.handle, nil
}

// fakeSession fires OnRemoteMedia once it has both produced its own payload
// and consumed the peer's, which is when a real transport could connect.
type fakeSession struct {
	role      Role
	events    TransportEvents
	manual    bool
	failApply bool

	mu        sync.Mutex
	generated bool
	consumed  [][]byte
	attached  bool

	destroyed atomic.Int32
}

func (s *fakeSession) GenerateSetupPayload() {
	if s.manual {
		return
	}
	go func() {
		s.events.OnSetupPayloadReady([]byte(s.role.String() + "-payload"))
		s.mu.Lock()
		s.generated = true
		s.mu.Unlock()
		s.maybeAttach()
	}()
}

func (s *fakeSession) ConsumeRemoteSetupPayload(payload []byte) error {
	if s.failApply {
		return errors.New("malformed setup payload")
	}
	s.mu.Lock()
	s.consumed = append(s.consumed, append([]byte(nil), payload...))
	s.mu.Unlock()
	go s.maybeAttach()
	return nil
}

func (s *fakeSession) maybeAttach() {
	s.mu.Lock()
	ready := s.generated && len(s.consumed) > 0 && !s.attached
	if ready {
		s.attached = true
	}
	s.mu.Unlock()
	if ready {
		s.events.OnRemoteMedia(newFakeMedia("remote-" + s.role.String()))
	}
}

func (s *fakeSession) Destroy() { s.destroyed.Add(1) }

func (s *fakeSession) consumedPayloads() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.consumed...)
}

type fakeFactory struct {
	err       error
	manual    bool
	failApply bool

	mu       sync.Mutex
	sessions []*fakeSession
}

func (f *fakeFactory) Create(role Role, local MediaHandle, _ []string, events TransportEvents) (TransportSession, error) {
	if f.err != nil {
		return nil, f.err
	}
	if local == nil {
		return nil, errors.New("no local media")
	}
	s := &fakeSession{role: role, events: events, manual: f.manual, failApply: f.failApply}
	f.mu.Lock()
	f.sessions = append(f.sessions, s)
	f.mu.Unlock()
	return s, nil
}

func (f *fakeFactory) last(t *testing.T) *fakeSession {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sessions) == 0 {
		t.Fatal("no transport session created")
	}
	return f.sessions[len(f.sessions)-1]
}

func (f *fakeFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sessions)
}

// fakeRelay routes signaling between machines by identity and drops anything
// addressed to an unknown one, like the hub does.
type fakeRelay struct {
	mu       sync.Mutex
	machines map[string]*Machine
}

func newFakeRelay() *fakeRelay {
	return &fakeRelay{machines: make(map[string]*Machine)}
}

func (r *fakeRelay) attach(id string, m *Machine) {
	r.mu.Lock()
	r.machines[id] = m
	r.mu.Unlock()
	m.IdentityAssigned(id)
}

func (r *fakeRelay) lookup(id string) *Machine {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.machines[id]
}

type fakeSignaler struct {
	relay *fakeRelay
	self  string

	mu          sync.Mutex
	invites     []Invite
	acceptances int
	disconnects []string
}

func (s *fakeSignaler) SendInvite(inv Invite) error {
	s.mu.Lock()
	s.invites = append(s.invites, inv)
	s.mu.Unlock()
	if s.relay == nil {
		return nil
	}
	if target := s.relay.lookup(inv.TargetIdentity); target != nil {
		target.ReceiveInvite(s.self, inv)
	}
	return nil
}

func (s *fakeSignaler) SendAcceptance(target string, payload []byte) error {
	s.mu.Lock()
	s.acceptances++
	s.mu.Unlock()
	if s.relay == nil {
		return nil
	}
	if m := s.relay.lookup(target); m != nil {
		m.ReceiveAcceptance(s.self, payload)
	}
	return nil
}

func (s *fakeSignaler) SendDisconnect(target string) error {
	s.mu.Lock()
	s.disconnects = append(s.disconnects, target)
	s.mu.Unlock()
	if s.relay == nil {
		return nil
	}
	if m := s.relay.lookup(target); m != nil {
		m.ReceiveDisconnect(s.self)
	}
	return nil
}

func (s *fakeSignaler) inviteCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.invites)
}

func (s *fakeSignaler) acceptanceCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.acceptances
}

func (s *fakeSignaler) disconnectTargets() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.disconnects...)
}

func (s *fakeSignaler) disconnectCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.disconnects)
}

type obsEvent struct {
	name   string
	kind   ErrorKind
	detail string
	media  MediaKind
	caller Caller
	to     State
}

// recorder is an Observer that queues everything it sees.
type recorder struct {
	events chan obsEvent
}

func newRecorder() *recorder {
	return &recorder{events: make(chan obsEvent, 256)}
}

func (r *recorder) OnLocalIdentityAssigned(id string) {
	r.events <- obsEvent{name: "identity", detail: id}
}
func (r *recorder) OnIncomingCall(c Caller) { r.events <- obsEvent{name: "incoming", caller: c} }
func (r *recorder) OnMediaAttached(kind MediaKind, _ MediaHandle) {
	r.events <- obsEvent{name: "media", media: kind}
}
func (r *recorder) OnStateChanged(_, to State) { r.events <- obsEvent{name: "state", to: to} }
func (r *recorder) OnCallEnded()               { r.events <- obsEvent{name: "ended"} }
func (r *recorder) OnError(kind ErrorKind, detail string) {
	r.events <- obsEvent{name: "error", kind: kind, detail: detail}
}

// mustObserve waits for the next event matching name, skipping others.
func (r *recorder) mustObserve(t *testing.T, name string) obsEvent {
	t.Helper()

	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev := <-r.events:
			if ev.name == name {
				return ev
			}
		case <-timeout:
			t.Fatalf("expected observer event %q not received", name)
			return obsEvent{}
		}
	}
}

// mustObserveRemoteMedia waits for the peer's feed to be attached.
func (r *recorder) mustObserveRemoteMedia(t *testing.T) {
	t.Helper()
	for {
		if ev := r.mustObserve(t, "media"); ev.media == MediaRemote {
			return
		}
	}
}

// count drains queued events and counts those matching pred.
func (r *recorder) count(pred func(obsEvent) bool) int {
	n := 0
	for {
		select {
		case ev := <-r.events:
			if pred(ev) {
				n++
			}
		default:
			return n
		}
	}
}

type participant struct {
	m       *Machine
	stopped chan struct{}
	obs     *recorder
	sig     *fakeSignaler
	factory *fakeFactory
	media   *fakeMedia
}

type participantOpts struct {
	name          string
	mediaErr      error
	factory       *fakeFactory
	answerTimeout time.Duration
}

func newParticipant(t *testing.T, ctx context.Context, relay *fakeRelay, id string, po participantOpts) *participant {
	t.Helper()

	p := &participant{
		stopped: make(chan struct{}),
		obs:     newRecorder(),
		sig:     &fakeSignaler{relay: relay, self: id},
		factory: po.factory,
		media:   newFakeMedia("local-" + id),
	}
	if p.factory == nil {
		p.factory = &fakeFactory{}
	}
	capability := &fakeCapability{handle: p.media, err: po.mediaErr}

	p.m = NewMachine(Options{
		DisplayName:   po.name,
		Role:          "patient",
		AnswerTimeout: po.answerTimeout,
		Media:         capability,
		Transport:     p.factory,
		Signaler:      p.sig,
		Observer:      p.obs,
	})
	go func() {
		_ = p.m.Run(ctx)
		close(p.stopped)
	}()

	err := p.m.Start(ctx)
	if po.mediaErr == nil && err != nil {
		t.Fatalf("start %s: %v", id, err)
	}
	if relay != nil {
		relay.attach(id, p.m)
	} else {
		p.m.IdentityAssigned(id)
	}
	p.obs.mustObserve(t, "identity")
	return p
}

func waitState(t *testing.T, m *Machine, want State) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if m.State() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("state = %s, want %s", m.State(), want)
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met: %s", what)
}
