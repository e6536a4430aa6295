package media

import (
	"context"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media/oggwriter"
)

func acquire(t *testing.T, c *Capability, video, audio bool) *LocalStream {
	t.Helper()
	handle, err := c.Acquire(context.Background(), video, audio)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	s, ok := handle.(*LocalStream)
	if !ok {
		t.Fatalf("unexpected handle type %T", handle)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestAcquireRequiresAKind(t *testing.T) {
	c := &Capability{}
	if _, err := c.Acquire(context.Background(), false, false); err == nil {
		t.Fatal("expected error when neither audio nor video is requested")
	}
}

func TestAcquirePublishesTracks(t *testing.T) {
	s := acquire(t, &Capability{}, true, true)

	tracks := s.Tracks()
	if len(tracks) != 2 {
		t.Fatalf("expected 2 tracks, got %d", len(tracks))
	}
	if tracks[0].Kind() != webrtc.RTPCodecTypeAudio || tracks[1].Kind() != webrtc.RTPCodecTypeVideo {
		t.Fatalf("unexpected track kinds %s, %s", tracks[0].Kind(), tracks[1].Kind())
	}
	for _, tr := range tracks {
		if tr.StreamID() != s.ID() {
			t.Fatalf("track stream id %q, want %q", tr.StreamID(), s.ID())
		}
	}

	audioOnly := acquire(t, &Capability{}, false, true)
	if n := len(audioOnly.Tracks()); n != 1 {
		t.Fatalf("expected 1 track for audio-only, got %d", n)
	}
	if audioOnly.ID() == s.ID() {
		t.Fatal("streams share an id")
	}
}

func TestToggles(t *testing.T) {
	s := acquire(t, &Capability{}, true, true)

	if !s.AudioEnabled() || !s.VideoEnabled() {
		t.Fatal("tracks should start enabled")
	}
	s.SetAudioEnabled(false)
	s.SetVideoEnabled(false)
	if s.AudioEnabled() || s.VideoEnabled() {
		t.Fatal("toggles not applied")
	}
	s.SetAudioEnabled(true)
	if !s.AudioEnabled() {
		t.Fatal("audio not re-enabled")
	}

	videoOnly := acquire(t, &Capability{}, true, false)
	videoOnly.SetAudioEnabled(true)
	if videoOnly.AudioEnabled() {
		t.Fatal("audio reported enabled without an audio track")
	}
}

func TestSilencePumpKeepsRunningWhileMuted(t *testing.T) {
	s := acquire(t, &Capability{}, false, true)
	s.SetAudioEnabled(false)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if audio, _ := s.SamplesWritten(); audio >= 3 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("muted audio track stopped producing samples")
}

func TestCloseIsIdempotent(t *testing.T) {
	handle, err := (&Capability{}).Acquire(context.Background(), true, true)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	s := handle.(*LocalStream)
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}

	before, _ := s.SamplesWritten()
	time.Sleep(60 * time.Millisecond)
	if after, _ := s.SamplesWritten(); after != before {
		t.Fatalf("samples still written after close: %d -> %d", before, after)
	}
}

func TestMissingFilesAreRejected(t *testing.T) {
	dir := t.TempDir()
	cases := []Capability{
		{AudioFile: filepath.Join(dir, "missing.ogg")},
		{VideoFile: filepath.Join(dir, "missing.ivf")},
	}
	for _, c := range cases {
		if _, err := c.Acquire(context.Background(), true, true); err == nil {
			t.Fatalf("expected error for %+v", c)
		}
	}
}

func TestCorruptVideoFileRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.ivf")
	if err := os.WriteFile(path, []byte("not an ivf file at all, definitely not"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := (&Capability{VideoFile: path}).Acquire(context.Background(), true, false); err == nil {
		t.Fatal("expected error for corrupt ivf")
	}
}

// writeIVF writes a VP8 IVF file with one small frame and the given timebase.
func writeIVF(t *testing.T, numerator, denominator uint32) string {
	t.Helper()

	header := make([]byte, 32)
	copy(header[0:4], "DKIF")
	binary.LittleEndian.PutUint16(header[6:8], 32)
	copy(header[8:12], "VP80")
	binary.LittleEndian.PutUint16(header[12:14], 64)
	binary.LittleEndian.PutUint16(header[14:16], 48)
	binary.LittleEndian.PutUint32(header[16:20], denominator)
	binary.LittleEndian.PutUint32(header[20:24], numerator)
	binary.LittleEndian.PutUint32(header[24:28], 1)

	payload := []byte{0x10, 0x02, 0x00, 0x9d, 0x01, 0x2a}
	frame := make([]byte, 12, 12+len(payload))
	binary.LittleEndian.PutUint32(frame[0:4], uint32(len(payload)))
	frame = append(frame, payload...)

	path := filepath.Join(t.TempDir(), "clip.ivf")
	if err := os.WriteFile(path, append(header, frame...), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	return path
}

func TestVideoTimebaseMustBePositive(t *testing.T) {
	for _, tc := range []struct {
		name                   string
		numerator, denominator uint32
	}{
		{"zero numerator", 0, 30},
		{"zero denominator", 1, 0},
		{"sub-nanosecond frames", 1, 2_000_000_000},
	} {
		t.Run(tc.name, func(t *testing.T) {
			path := writeIVF(t, tc.numerator, tc.denominator)
			if _, err := (&Capability{VideoFile: path}).Acquire(context.Background(), true, false); err == nil {
				t.Fatal("expected timebase to be rejected")
			}
		})
	}

	s := acquire(t, &Capability{VideoFile: writeIVF(t, 1, 30)}, true, false)
	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, video := s.SamplesWritten(); video > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("no video samples written from a valid file")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func writeOpusFile(t *testing.T, packets int) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "tone.ogg")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	w, err := oggwriter.NewWith(f, opusClockRate, 2)
	if err != nil {
		t.Fatalf("ogg writer: %v", err)
	}
	for i := 0; i < packets; i++ {
		pkt := &rtp.Packet{
			Header: rtp.Header{
				Version:        2,
				PayloadType:    111,
				SequenceNumber: uint16(i + 1),
				Timestamp:      uint32(960 * (i + 1)),
				SSRC:           1,
			},
			Payload: opusSilence,
		}
		if err := w.WriteRTP(pkt); err != nil {
			t.Fatalf("write rtp: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	return path
}

func TestOggSourceLoops(t *testing.T) {
	path := writeOpusFile(t, 5)

	src, err := openOgg(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer src.Close()

	frames := 0
	for i := 0; i < 40 && frames < 12; i++ {
		data, dur, err := src.Next()
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		if dur > 0 {
			if len(data) == 0 {
				t.Fatal("empty frame with positive duration")
			}
			frames++
		}
	}
	// More frames than the file holds means it rewound.
	if frames < 12 {
		t.Fatalf("expected looping playback, got %d frames", frames)
	}
}

func TestEmptyOggFileStops(t *testing.T) {
	path := writeOpusFile(t, 0)

	src, err := openOgg(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer src.Close()

	for i := 0; i < 10; i++ {
		if _, _, err := src.Next(); err != nil {
			return
		}
	}
	t.Fatal("expected an error for a file without audio frames")
}
