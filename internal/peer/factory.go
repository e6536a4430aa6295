// Package peer implements call transports on top of pion WebRTC.
//
// ICE is non-trickle: a setup payload is the JSON-encoded
// webrtc.SessionDescription produced once candidate gathering completes.
package peer

import (
	"fmt"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirecall/internal/call"
	"github.com/vovakirdan/wirecall/internal/log"
)

const (
	defaultGatherTimeout = 10 * time.Second

	iceDisconnectedTimeout = 30 * time.Second
	iceFailedTimeout       = 120 * time.Second
	iceKeepaliveInterval   = 2 * time.Second
)

// TrackSource is implemented by local media that can publish pion tracks.
type TrackSource interface {
	Tracks() []webrtc.TrackLocal
}

// Factory creates pion-backed call.TransportSessions sharing one API.
type Factory struct {
	api           *webrtc.API
	log           zerolog.Logger
	gatherTimeout time.Duration
}

// FactoryOption customizes a Factory.
type FactoryOption func(*Factory)

// WithGatherTimeout bounds how long a session waits for ICE gathering before
// sending whatever candidates it has.
func WithGatherTimeout(d time.Duration) FactoryOption {
	return func(f *Factory) {
		if d > 0 {
			f.gatherTimeout = d
		}
	}
}

// NewFactory registers the default codecs and interceptors (NACK, RTCP
// reports, TWCC) and routes pion logging into logger.
func NewFactory(logger *zerolog.Logger, opts ...FactoryOption) (*Factory, error) {
	if logger == nil {
		logger = log.Nop()
	}

	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}

	interceptorRegistry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, interceptorRegistry); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}

	se := webrtc.SettingEngine{}
	se.SetICETimeouts(iceDisconnectedTimeout, iceFailedTimeout, iceKeepaliveInterval)
	se.LoggerFactory = log.PionFactory{Logger: logger}

	f := &Factory{
		api: webrtc.NewAPI(
			webrtc.WithMediaEngine(mediaEngine),
			webrtc.WithInterceptorRegistry(interceptorRegistry),
			webrtc.WithSettingEngine(se),
		),
		log:           logger.With().Str("component", "peer").Logger(),
		gatherTimeout: defaultGatherTimeout,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// Create implements call.TransportFactory.
func (f *Factory) Create(role call.Role, local call.MediaHandle, iceServers []string, events call.TransportEvents) (call.TransportSession, error) {
	return f.newSession(role, local, iceServers, events)
}

var _ call.TransportFactory = (*Factory)(nil)
