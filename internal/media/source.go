package media

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/pion/webrtc/v4/pkg/media/ivfreader"
	"github.com/pion/webrtc/v4/pkg/media/oggreader"
)

const (
	opusClockRate = 48000
	opusFrame     = 20 * time.Millisecond

	// maxEmptyLoops bounds how often a looped file may be reopened without
	// yielding a single frame.
	maxEmptyLoops = 2
)

// opusSilence is a single 20ms Opus frame carrying digital silence.
var opusSilence = []byte{0xf8, 0xff, 0xfe}

var errNoFrames = errors.New("media file contains no frames")

// sampleSource yields encoded frames with their playout duration. A zero
// duration marks a frame that is not media (container metadata) and is
// skipped by the pump.
type sampleSource interface {
	Next() ([]byte, time.Duration, error)
	Close() error
}

type silenceSource struct{}

func (silenceSource) Next() ([]byte, time.Duration, error) { return opusSilence, opusFrame, nil }
func (silenceSource) Close() error                         { return nil }

// oggSource loops an Ogg Opus file.
type oggSource struct {
	path        string
	file        *os.File
	reader      *oggreader.OggReader
	lastGranule uint64
	emptyLoops  int
	sawFrame    bool
}

func openOgg(path string) (*oggSource, error) {
	s := &oggSource{path: path}
	if err := s.open(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *oggSource) open() error {
	f, err := os.Open(s.path)
	if err != nil {
		return fmt.Errorf("open audio file: %w", err)
	}
	// Granule positions count 48kHz samples whatever input rate the header
	// records.
	reader, _, err := oggreader.NewWith(f)
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("read ogg header %s: %w", s.path, err)
	}
	s.file = f
	s.reader = reader
	s.lastGranule = 0
	return nil
}

func (s *oggSource) Next() ([]byte, time.Duration, error) {
	for {
		page, header, err := s.reader.ParseNextPage()
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			if err := s.rewind(); err != nil {
				return nil, 0, err
			}
			continue
		}
		if err != nil {
			return nil, 0, fmt.Errorf("read ogg page: %w", err)
		}

		granule := header.GranulePosition
		if granule <= s.lastGranule {
			s.lastGranule = granule
			return page, 0, nil
		}
		samples := granule - s.lastGranule
		s.lastGranule = granule
		s.sawFrame = true
		return page, time.Duration(samples) * time.Second / opusClockRate, nil
	}
}

func (s *oggSource) rewind() error {
	if !s.sawFrame {
		s.emptyLoops++
		if s.emptyLoops >= maxEmptyLoops {
			return errNoFrames
		}
	}
	s.sawFrame = false
	_ = s.file.Close()
	return s.open()
}

func (s *oggSource) Close() error {
	if s.file == nil {
		return nil
	}
	return s.file.Close()
}

// ivfSource loops a VP8 IVF file at the frame rate from its header.
type ivfSource struct {
	path       string
	file       *os.File
	reader     *ivfreader.IVFReader
	frame      time.Duration
	emptyLoops int
	sawFrame   bool
}

func openIVF(path string) (*ivfSource, error) {
	s := &ivfSource{path: path}
	if err := s.open(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *ivfSource) open() error {
	f, err := os.Open(s.path)
	if err != nil {
		return fmt.Errorf("open video file: %w", err)
	}
	reader, header, err := ivfreader.NewWith(f)
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("read ivf header %s: %w", s.path, err)
	}
	if header.FourCC != "VP80" {
		_ = f.Close()
		return fmt.Errorf("video file %s is %q, want VP80", s.path, header.FourCC)
	}
	if header.TimebaseNumerator == 0 || header.TimebaseDenominator == 0 {
		_ = f.Close()
		return fmt.Errorf("video file %s has no timebase", s.path)
	}
	frame := time.Duration(uint64(time.Second) * uint64(header.TimebaseNumerator) / uint64(header.TimebaseDenominator))
	if frame <= 0 {
		_ = f.Close()
		return fmt.Errorf("video file %s has a frame interval below 1ns", s.path)
	}
	s.file = f
	s.reader = reader
	s.frame = frame
	return nil
}

func (s *ivfSource) Next() ([]byte, time.Duration, error) {
	for {
		frame, _, err := s.reader.ParseNextFrame()
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			if err := s.rewind(); err != nil {
				return nil, 0, err
			}
			continue
		}
		if err != nil {
			return nil, 0, fmt.Errorf("read ivf frame: %w", err)
		}
		s.sawFrame = true
		return frame, s.frame, nil
	}
}

func (s *ivfSource) rewind() error {
	if !s.sawFrame {
		s.emptyLoops++
		if s.emptyLoops >= maxEmptyLoops {
			return errNoFrames
		}
	}
	s.sawFrame = false
	_ = s.file.Close()
	return s.open()
}

func (s *ivfSource) Close() error {
	if s.file == nil {
		return nil
	}
	return s.file.Close()
}
