// Package media provides the local audio/video feed published into calls.
//
// Capture hardware is out of reach for a headless participant, so tracks are
// fed from looped Ogg Opus / IVF VP8 files, or from Opus silence when no
// audio file is configured.
package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/webrtc/v4"
	pionmedia "github.com/pion/webrtc/v4/pkg/media"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirecall/internal/call"
	"github.com/vovakirdan/wirecall/internal/utils"
)

// Capability acquires LocalStreams. The zero value publishes silence and an
// idle video track.
type Capability struct {
	AudioFile string
	VideoFile string
	Logger    *zerolog.Logger
}

// Acquire opens the configured sources and starts pumping samples into the
// tracks. Tracks exist even before a transport binds them; samples written
// while unbound are discarded by pion.
func (c *Capability) Acquire(_ context.Context, wantsVideo, wantsAudio bool) (call.MediaHandle, error) {
	if !wantsAudio && !wantsVideo {
		return nil, errors.New("neither audio nor video requested")
	}

	logger := zerolog.Nop()
	if c.Logger != nil {
		logger = *c.Logger
	}
	s := &LocalStream{id: "wirecall-" + utils.NewID()}
	s.log = logger.With().Str("component", "media").Str("stream", s.id).Logger()

	var sources []sampleSource
	cleanup := func() {
		for _, src := range sources {
			_ = src.Close()
		}
	}

	if wantsAudio {
		var src sampleSource = silenceSource{}
		if c.AudioFile != "" {
			ogg, err := openOgg(c.AudioFile)
			if err != nil {
				return nil, err
			}
			src = ogg
		}
		sources = append(sources, src)

		track, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{
			MimeType:  webrtc.MimeTypeOpus,
			ClockRate: opusClockRate,
			Channels:  2,
		}, "audio", s.id)
		if err != nil {
			cleanup()
			return nil, fmt.Errorf("create audio track: %w", err)
		}
		s.audio = &pumpedTrack{track: track, source: src, muted: opusSilence}
		s.audio.enabled.Store(true)
	}

	if wantsVideo {
		track, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{
			MimeType:  webrtc.MimeTypeVP8,
			ClockRate: 90000,
		}, "video", s.id)
		if err != nil {
			cleanup()
			return nil, fmt.Errorf("create video track: %w", err)
		}
		s.video = &pumpedTrack{track: track}
		s.video.enabled.Store(true)

		if c.VideoFile != "" {
			ivf, err := openIVF(c.VideoFile)
			if err != nil {
				cleanup()
				return nil, err
			}
			sources = append(sources, ivf)
			s.video.source = ivf
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	for _, pt := range []*pumpedTrack{s.audio, s.video} {
		if pt == nil || pt.source == nil {
			continue
		}
		s.wg.Add(1)
		go func(pt *pumpedTrack) {
			defer s.wg.Done()
			s.pump(ctx, pt)
		}(pt)
	}

	s.log.Info().Bool("audio", s.audio != nil).Bool("video", s.video != nil).
		Str("audio_file", c.AudioFile).Str("video_file", c.VideoFile).Msg("local media acquired")
	return s, nil
}

type pumpedTrack struct {
	track   *webrtc.TrackLocalStaticSample
	source  sampleSource
	muted   []byte
	enabled atomic.Bool
	written atomic.Uint64
}

// LocalStream is the local feed: up to one Opus and one VP8 track.
type LocalStream struct {
	id    string
	audio *pumpedTrack
	video *pumpedTrack
	log   zerolog.Logger

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// ID implements call.MediaHandle.
func (s *LocalStream) ID() string { return s.id }

// SetAudioEnabled mutes the audio track; muted audio keeps flowing as silence.
func (s *LocalStream) SetAudioEnabled(enabled bool) {
	if s.audio != nil {
		s.audio.enabled.Store(enabled)
		s.log.Debug().Bool("enabled", enabled).Msg("audio toggled")
	}
}

// SetVideoEnabled stops or resumes video samples.
func (s *LocalStream) SetVideoEnabled(enabled bool) {
	if s.video != nil {
		s.video.enabled.Store(enabled)
		s.log.Debug().Bool("enabled", enabled).Msg("video toggled")
	}
}

// AudioEnabled reports the microphone toggle.
func (s *LocalStream) AudioEnabled() bool { return s.audio != nil && s.audio.enabled.Load() }

// VideoEnabled reports the camera toggle.
func (s *LocalStream) VideoEnabled() bool { return s.video != nil && s.video.enabled.Load() }

// Tracks returns the tracks a transport should publish.
func (s *LocalStream) Tracks() []webrtc.TrackLocal {
	var out []webrtc.TrackLocal
	if s.audio != nil {
		out = append(out, s.audio.track)
	}
	if s.video != nil {
		out = append(out, s.video.track)
	}
	return out
}

// SamplesWritten reports how many audio and video samples were pushed.
func (s *LocalStream) SamplesWritten() (audio, video uint64) {
	if s.audio != nil {
		audio = s.audio.written.Load()
	}
	if s.video != nil {
		video = s.video.written.Load()
	}
	return audio, video
}

// Close stops the pumps and releases the sources. Safe to call repeatedly.
func (s *LocalStream) Close() error {
	s.closeOnce.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
		s.wg.Wait()
		for _, pt := range []*pumpedTrack{s.audio, s.video} {
			if pt != nil && pt.source != nil {
				_ = pt.source.Close()
			}
		}
		s.log.Info().Msg("local media released")
	})
	return nil
}

func (s *LocalStream) pump(ctx context.Context, pt *pumpedTrack) {
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		data, dur, err := pt.source.Next()
		if err != nil {
			s.log.Warn().Err(err).Str("track", pt.track.ID()).Msg("media source stopped")
			return
		}
		if dur <= 0 {
			if ctx.Err() != nil {
				return
			}
			continue
		}

		if !pt.enabled.Load() {
			data = pt.muted
		}
		if data != nil {
			err := pt.track.WriteSample(pionmedia.Sample{Data: data, Duration: dur})
			if err != nil && !errors.Is(err, io.ErrClosedPipe) {
				s.log.Debug().Err(err).Str("track", pt.track.ID()).Msg("write sample")
			} else if err == nil {
				pt.written.Add(1)
			}
		}

		if timer == nil {
			timer = time.NewTimer(dur)
		} else {
			timer.Reset(dur)
		}
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
	}
}

var _ call.MediaHandle = (*LocalStream)(nil)
