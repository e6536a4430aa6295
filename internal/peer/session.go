package peer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirecall/internal/call"
)

var (
	ErrWrongSDPType = errors.New("unexpected session description type")
	ErrEmptyPayload = errors.New("empty setup payload")
)

// Session wraps one RTCPeerConnection.
type Session struct {
	role          call.Role
	pc            *webrtc.PeerConnection
	events        call.TransportEvents
	log           zerolog.Logger
	gatherTimeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	remote      *RemoteStream
	remoteOnce  sync.Once
	generating  atomic.Bool
	destroyed   atomic.Bool
	destroyOnce sync.Once
}

func (f *Factory) newSession(role call.Role, local call.MediaHandle, iceServers []string, events call.TransportEvents) (*Session, error) {
	cfg := webrtc.Configuration{}
	if len(iceServers) > 0 {
		cfg.ICEServers = []webrtc.ICEServer{{URLs: append([]string(nil), iceServers...)}}
	}

	pc, err := f.api.NewPeerConnection(cfg)
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		role:          role,
		pc:            pc,
		events:        events,
		log:           f.log.With().Str("role", role.String()).Logger(),
		gatherTimeout: f.gatherTimeout,
		ctx:           ctx,
		cancel:        cancel,
	}

	if err := s.addLocalMedia(local); err != nil {
		cancel()
		_ = pc.Close()
		return nil, err
	}

	pc.OnTrack(s.handleTrack)
	pc.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		s.log.Debug().Str("ice_state", state.String()).Msg("ice state")
	})
	pc.OnConnectionStateChange(s.handleConnectionState)

	s.log.Debug().Strs("ice_servers", iceServers).Msg("peer connection created")
	return s, nil
}

// addLocalMedia publishes the local tracks, or declares receive-only media
// sections when there are none so the SDP still carries ICE credentials.
func (s *Session) addLocalMedia(local call.MediaHandle) error {
	var tracks []webrtc.TrackLocal
	if src, ok := local.(TrackSource); ok {
		tracks = src.Tracks()
	}
	if len(tracks) == 0 {
		for _, kind := range []webrtc.RTPCodecType{webrtc.RTPCodecTypeAudio, webrtc.RTPCodecTypeVideo} {
			if _, err := s.pc.AddTransceiverFromKind(kind, webrtc.RTPTransceiverInit{
				Direction: webrtc.RTPTransceiverDirectionRecvonly,
			}); err != nil {
				return fmt.Errorf("add %s transceiver: %w", kind, err)
			}
		}
		return nil
	}

	for _, track := range tracks {
		sender, err := s.pc.AddTrack(track)
		if err != nil {
			return fmt.Errorf("add %s track: %w", track.Kind(), err)
		}
		go s.drainSenderRTCP(sender, track.Kind())
	}
	return nil
}

// drainSenderRTCP keeps interceptors fed; pion needs sender RTCP read for
// NACK and reports to work.
func (s *Session) drainSenderRTCP(sender *webrtc.RTPSender, kind webrtc.RTPCodecType) {
	for {
		packets, _, err := sender.ReadRTCP()
		if err != nil {
			return
		}
		for _, pkt := range packets {
			switch pkt.(type) {
			case *rtcp.PictureLossIndication, *rtcp.FullIntraRequest:
				s.log.Debug().Str("kind", kind.String()).Msg("keyframe requested by peer")
			}
		}
	}
}

func (s *Session) handleTrack(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
	s.remoteOnce.Do(func() {
		s.remote = newRemoteStream(track.StreamID())
	})
	remote := s.remote
	remote.addTrack(track.Kind())
	s.log.Info().
		Str("kind", track.Kind().String()).
		Str("codec", track.Codec().MimeType).
		Str("stream", track.StreamID()).
		Msg("remote track")

	if track.Kind() == webrtc.RTPCodecTypeVideo {
		go s.requestKeyframe(track)
	}
	if remote.markAnnounced() && !s.destroyed.Load() {
		s.events.OnRemoteMedia(remote)
	}
	remote.drain(s.ctx, track)
}

func (s *Session) requestKeyframe(track *webrtc.TrackRemote) {
	err := s.pc.WriteRTCP([]rtcp.Packet{
		&rtcp.PictureLossIndication{MediaSSRC: uint32(track.SSRC())},
	})
	if err != nil {
		s.log.Debug().Err(err).Msg("send pli")
	}
}

func (s *Session) handleConnectionState(state webrtc.PeerConnectionState) {
	s.log.Debug().Str("state", state.String()).Msg("peer connection state")
	if s.destroyed.Load() {
		return
	}
	switch state {
	case webrtc.PeerConnectionStateFailed:
		s.events.OnError(fmt.Errorf("peer connection failed"))
	case webrtc.PeerConnectionStateClosed:
		s.events.OnClosed()
	}
}

// GenerateSetupPayload implements call.TransportSession. The responder must
// have consumed the offer first.
func (s *Session) GenerateSetupPayload() {
	if !s.generating.CompareAndSwap(false, true) {
		return
	}
	go func() {
		payload, err := s.describe()
		if s.destroyed.Load() {
			return
		}
		if err != nil {
			s.events.OnError(err)
			return
		}
		s.events.OnSetupPayloadReady(payload)
	}()
}

func (s *Session) describe() ([]byte, error) {
	var (
		desc webrtc.SessionDescription
		err  error
	)
	if s.role == call.RoleInitiator {
		desc, err = s.pc.CreateOffer(nil)
	} else {
		desc, err = s.pc.CreateAnswer(nil)
	}
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", sdpTypeFor(s.role), err)
	}

	gatherComplete := webrtc.GatheringCompletePromise(s.pc)
	if err := s.pc.SetLocalDescription(desc); err != nil {
		return nil, fmt.Errorf("set local description: %w", err)
	}

	timer := time.NewTimer(s.gatherTimeout)
	defer timer.Stop()
	select {
	case <-gatherComplete:
	case <-timer.C:
		s.log.Warn().Dur("timeout", s.gatherTimeout).Msg("ice gathering incomplete, sending partial candidates")
	case <-s.ctx.Done():
		return nil, s.ctx.Err()
	}

	local := s.pc.LocalDescription()
	if local == nil {
		return nil, errors.New("no local description")
	}
	payload, err := json.Marshal(local)
	if err != nil {
		return nil, fmt.Errorf("encode session description: %w", err)
	}
	s.log.Debug().Str("type", local.Type.String()).Int("bytes", len(payload)).Msg("setup payload ready")
	return payload, nil
}

// ConsumeRemoteSetupPayload implements call.TransportSession. An initiator
// accepts only an answer, a responder only an offer.
func (s *Session) ConsumeRemoteSetupPayload(payload []byte) error {
	if len(payload) == 0 {
		return ErrEmptyPayload
	}
	var desc webrtc.SessionDescription
	if err := json.Unmarshal(payload, &desc); err != nil {
		return fmt.Errorf("decode session description: %w", err)
	}
	if want := sdpTypeFor(remoteRole(s.role)); desc.Type != want {
		return fmt.Errorf("%w: got %s, want %s", ErrWrongSDPType, desc.Type, want)
	}
	if desc.SDP == "" {
		return fmt.Errorf("%w: missing sdp", ErrEmptyPayload)
	}
	if err := s.pc.SetRemoteDescription(desc); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}
	return nil
}

// Destroy implements call.TransportSession. No events fire afterwards.
func (s *Session) Destroy() {
	s.destroyOnce.Do(func() {
		s.destroyed.Store(true)
		s.cancel()
		if err := s.pc.Close(); err != nil {
			s.log.Debug().Err(err).Msg("close peer connection")
		}
		s.log.Debug().Msg("session destroyed")
	})
}

func sdpTypeFor(role call.Role) webrtc.SDPType {
	if role == call.RoleInitiator {
		return webrtc.SDPTypeOffer
	}
	return webrtc.SDPTypeAnswer
}

func remoteRole(role call.Role) call.Role {
	if role == call.RoleInitiator {
		return call.RoleResponder
	}
	return call.RoleInitiator
}

var _ call.TransportSession = (*Session)(nil)
