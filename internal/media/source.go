package media

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/pion/webrtc/v4"
	pionmedia "github.com/pion/webrtc/v4/pkg/media"
	"github.com/pion/webrtc/v4/pkg/media/ivfreader"
	"github.com/pion/webrtc/v4/pkg/media/oggreader"
)

const (
	defaultFrameDuration = 33 * time.Millisecond
	opusFrameDuration    = 20 * time.Millisecond
	opusSampleRate       = 48000
)

// source produces samples for a local track. File sources start over at the end of the file.
type source interface {
	next() (pionmedia.Sample, error)
	close() error
}

type ivfSource struct {
	file   *os.File
	reader *ivfreader.IVFReader
	frame  time.Duration
}

func openIVF(path string) (*ivfSource, webrtc.RTPCodecCapability, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, webrtc.RTPCodecCapability{}, err
	}

	reader, header, err := ivfreader.NewWith(f)
	if err != nil {
		_ = f.Close()
		return nil, webrtc.RTPCodecCapability{}, fmt.Errorf("read ivf header: %w", err)
	}

	var mimeType string
	switch header.FourCC {
	case "VP80":
		mimeType = webrtc.MimeTypeVP8
	case "VP90":
		mimeType = webrtc.MimeTypeVP9
	default:
		_ = f.Close()
		return nil, webrtc.RTPCodecCapability{}, fmt.Errorf("%w: ivf fourcc %q", ErrUnsupportedFormat, header.FourCC)
	}

	frame := defaultFrameDuration
	if header.TimebaseDenominator > 0 && header.TimebaseNumerator > 0 {
		frame = time.Duration(uint64(time.Second) * uint64(header.TimebaseNumerator) / uint64(header.TimebaseDenominator))
	}

	return &ivfSource{file: f, reader: reader, frame: frame}, webrtc.RTPCodecCapability{MimeType: mimeType, ClockRate: 90000}, nil
}

func (s *ivfSource) next() (pionmedia.Sample, error) {
	frame, _, err := s.reader.ParseNextFrame()
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		if err = s.rewind(); err != nil {
			return pionmedia.Sample{}, err
		}
		frame, _, err = s.reader.ParseNextFrame()
	}
	if err != nil {
		return pionmedia.Sample{}, err
	}
	return pionmedia.Sample{Data: frame, Duration: s.frame}, nil
}

func (s *ivfSource) rewind() error {
	if _, err := s.file.Seek(0, io.SeekStart); err != nil {
		return err
	}
	reader, _, err := ivfreader.NewWith(s.file)
	if err != nil {
		return err
	}
	s.reader = reader
	return nil
}

func (s *ivfSource) close() error {
	return s.file.Close()
}

type oggSource struct {
	file        *os.File
	reader      *oggreader.OggReader
	lastGranule uint64
}

func openOgg(path string) (*oggSource, webrtc.RTPCodecCapability, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, webrtc.RTPCodecCapability{}, err
	}

	reader, header, err := oggreader.NewWith(f)
	if err != nil {
		_ = f.Close()
		return nil, webrtc.RTPCodecCapability{}, fmt.Errorf("%w: %v", ErrUnsupportedFormat, err)
	}

	channels := uint16(header.Channels)
	if channels == 0 {
		channels = 2
	}

	return &oggSource{file: f, reader: reader}, webrtc.RTPCodecCapability{
		MimeType:  webrtc.MimeTypeOpus,
		ClockRate: opusSampleRate,
		Channels:  channels,
	}, nil
}

func (s *oggSource) next() (pionmedia.Sample, error) {
	for {
		page, header, err := s.reader.ParseNextPage()
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			if err = s.rewind(); err != nil {
				return pionmedia.Sample{}, err
			}
			continue
		}
		if err != nil {
			return pionmedia.Sample{}, err
		}

		if header.GranulePosition <= s.lastGranule {
			// metadata pages carry no audio
			continue
		}
		samples := header.GranulePosition - s.lastGranule
		s.lastGranule = header.GranulePosition

		duration := time.Duration(samples) * time.Second / opusSampleRate
		return pionmedia.Sample{Data: page, Duration: duration}, nil
	}
}

func (s *oggSource) rewind() error {
	if _, err := s.file.Seek(0, io.SeekStart); err != nil {
		return err
	}
	reader, _, err := oggreader.NewWith(s.file)
	if err != nil {
		return err
	}
	s.reader = reader
	s.lastGranule = 0
	return nil
}

func (s *oggSource) close() error {
	return s.file.Close()
}

// patternSource emits a fixed payload at a steady rate in place of a capture device.
type patternSource struct {
	payload  []byte
	duration time.Duration
	frame    uint32
}

func newVideoPattern() *patternSource {
	return &patternSource{payload: make([]byte, 1200), duration: defaultFrameDuration}
}

func newAudioPattern() *patternSource {
	// Opus silence frame
	return &patternSource{payload: []byte{0xf8, 0xff, 0xfe}, duration: opusFrameDuration}
}

func (s *patternSource) next() (pionmedia.Sample, error) {
	data := make([]byte, len(s.payload))
	copy(data, s.payload)
	if len(data) > 4 {
		data[0], data[1], data[2], data[3] = byte(s.frame>>24), byte(s.frame>>16), byte(s.frame>>8), byte(s.frame)
	}
	s.frame++
	return pionmedia.Sample{Data: data, Duration: s.duration}, nil
}

func (s *patternSource) close() error {
	return nil
}
