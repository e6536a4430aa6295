package peer

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

// RemoteStream is the peer's feed as seen locally. Nothing renders it in a
// headless participant, so the enable toggles are no-ops and only receive
// counters are kept.
type RemoteStream struct {
	id string

	mu    sync.Mutex
	kinds []webrtc.RTPCodecType

	announced atomic.Bool
	packets   atomic.Uint64
	bytes     atomic.Uint64
}

func newRemoteStream(id string) *RemoteStream {
	return &RemoteStream{id: id}
}

// ID implements call.MediaHandle.
func (r *RemoteStream) ID() string { return r.id }

// SetAudioEnabled implements call.MediaHandle.
func (r *RemoteStream) SetAudioEnabled(bool) {}

// SetVideoEnabled implements call.MediaHandle.
func (r *RemoteStream) SetVideoEnabled(bool) {}

// Kinds lists the track kinds received so far, e.g. "audio", "video".
func (r *RemoteStream) Kinds() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.kinds))
	for _, k := range r.kinds {
		out = append(out, k.String())
	}
	return out
}

// Stats reports RTP packets and payload bytes received across all tracks.
func (r *RemoteStream) Stats() (packets, bytes uint64) {
	return r.packets.Load(), r.bytes.Load()
}

func (r *RemoteStream) addTrack(kind webrtc.RTPCodecType) {
	r.mu.Lock()
	r.kinds = append(r.kinds, kind)
	r.mu.Unlock()
}

// markAnnounced reports true exactly once.
func (r *RemoteStream) markAnnounced() bool {
	return r.announced.CompareAndSwap(false, true)
}

func (r *RemoteStream) record(pkt *rtp.Packet) {
	r.packets.Add(1)
	r.bytes.Add(uint64(len(pkt.Payload)))
}

// drain reads RTP until the track ends. Nothing renders it headless, but the
// packets must be read for the receive interceptors to work.
func (r *RemoteStream) drain(ctx context.Context, track *webrtc.TrackRemote) {
	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			return
		}
		if ctx.Err() != nil {
			return
		}
		r.record(pkt)
	}
}
