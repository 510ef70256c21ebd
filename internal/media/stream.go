// Package media provides the local stream sent to every peer. File readers and a generated
// pattern stand in for camera and microphone capture.
package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/webrtc/v4"
)

const (
	AudioTrackID = "audio"
	VideoTrackID = "video"
)

// Constraints select what Open acquires. An empty file name means a generated pattern.
type Constraints struct {
	Audio     bool
	Video     bool
	AudioFile string // Ogg/Opus
	VideoFile string // IVF with VP8 or VP9
}

// Track is a local sample track fed by its source until Stop.
type Track struct {
	*webrtc.TrackLocalStaticSample
	enabled atomic.Bool
	src     source
	cancel  context.CancelFunc
	done    chan struct{}
}

func startTrack(capability webrtc.RTPCodecCapability, id, streamID string, src source) (*Track, error) {
	local, err := webrtc.NewTrackLocalStaticSample(capability, id, streamID)
	if err != nil {
		_ = src.close()
		return nil, fmt.Errorf("create %s track: %w", id, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t := &Track{
		TrackLocalStaticSample: local,
		src:                    src,
		cancel:                 cancel,
		done:                   make(chan struct{}),
	}
	t.enabled.Store(true)

	go t.pump(ctx)

	return t, nil
}

// OpenVideo starts a video track. path selects an IVF file, empty means the pattern source.
func OpenVideo(path, streamID string) (*Track, error) {
	if path == "" {
		return startTrack(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000}, VideoTrackID, streamID, newVideoPattern())
	}
	if ext := strings.ToLower(filepath.Ext(path)); ext != ".ivf" {
		return nil, fmt.Errorf("%w: video file %q", ErrUnsupportedSource, path)
	}
	src, capability, err := openIVF(path)
	if err != nil {
		return nil, err
	}
	return startTrack(capability, VideoTrackID, streamID, src)
}

// OpenAudio starts an audio track. path selects an Ogg/Opus file, empty means silence.
func OpenAudio(path, streamID string) (*Track, error) {
	if path == "" {
		return startTrack(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: opusSampleRate, Channels: 2}, AudioTrackID, streamID, newAudioPattern())
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".ogg", ".opus":
	default:
		return nil, fmt.Errorf("%w: audio file %q", ErrUnsupportedSource, path)
	}
	src, capability, err := openOgg(path)
	if err != nil {
		return nil, err
	}
	return startTrack(capability, AudioTrackID, streamID, src)
}

func (t *Track) pump(ctx context.Context) {
	defer close(t.done)
	defer func() {
		_ = t.src.close()
	}()

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		sample, err := t.src.next()
		if err != nil {
			slog.Warn("local media source stopped", "track", t.ID(), "error", err)
			return
		}

		if t.enabled.Load() {
			if err := t.WriteSample(sample); err != nil && !errors.Is(err, io.ErrClosedPipe) {
				slog.Debug("failed to write sample", "track", t.ID(), "error", err)
			}
		}

		timer.Reset(sample.Duration)
	}
}

func (t *Track) Enabled() bool {
	return t.enabled.Load()
}

// SetEnabled pauses or resumes sending. A disabled track stays negotiated.
func (t *Track) SetEnabled(enabled bool) {
	t.enabled.Store(enabled)
}

func (t *Track) Stop() {
	t.cancel()
	<-t.done
}

// LocalStream is the set of tracks offered to every peer of a session.
type LocalStream struct {
	id    string
	mu    sync.RWMutex
	audio *Track
	video *Track
}

func NewLocalStream(id string, audio, video *Track) *LocalStream {
	return &LocalStream{id: id, audio: audio, video: video}
}

// Open acquires the tracks requested by c. On failure every acquired track is stopped and a
// *DeviceError is returned.
func Open(ctx context.Context, c Constraints, streamID string) (*LocalStream, error) {
	if !c.Audio && !c.Video {
		return nil, &DeviceError{Kind: MalformedConstraints, Err: ErrEmptyConstraints}
	}
	if err := ctx.Err(); err != nil {
		return nil, ClassifyDeviceError("", err)
	}

	stream := &LocalStream{id: streamID}

	if c.Audio {
		audio, err := OpenAudio(c.AudioFile, streamID)
		if err != nil {
			return nil, ClassifyDeviceError(sourceName(c.AudioFile), err)
		}
		stream.audio = audio
	}

	if c.Video {
		video, err := OpenVideo(c.VideoFile, streamID)
		if err != nil {
			stream.Stop()
			return nil, ClassifyDeviceError(sourceName(c.VideoFile), err)
		}
		stream.video = video
	}

	return stream, nil
}

func sourceName(path string) string {
	if path == "" {
		return "pattern"
	}
	return path
}

func (s *LocalStream) ID() string {
	return s.id
}

// Tracks lists the current tracks, audio first.
func (s *LocalStream) Tracks() []webrtc.TrackLocal {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tracks := make([]webrtc.TrackLocal, 0, 2)
	if s.audio != nil {
		tracks = append(tracks, s.audio)
	}
	if s.video != nil {
		tracks = append(tracks, s.video)
	}
	return tracks
}

func (s *LocalStream) AudioTrack() *Track {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.audio
}

func (s *LocalStream) VideoTrack() *Track {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.video
}

// SetVideoTrack swaps the video track and returns the previous one, which keeps running.
func (s *LocalStream) SetVideoTrack(t *Track) *Track {
	s.mu.Lock()
	defer s.mu.Unlock()

	previous := s.video
	s.video = t
	return previous
}

func (s *LocalStream) SetAudioEnabled(enabled bool) bool {
	if a := s.AudioTrack(); a != nil {
		a.SetEnabled(enabled)
		return true
	}
	return false
}

func (s *LocalStream) SetVideoEnabled(enabled bool) bool {
	if v := s.VideoTrack(); v != nil {
		v.SetEnabled(enabled)
		return true
	}
	return false
}

// Stop ends every track of the stream.
func (s *LocalStream) Stop() {
	s.mu.Lock()
	audio, video := s.audio, s.video
	s.mu.Unlock()

	if audio != nil {
		audio.Stop()
	}
	if video != nil {
		video.Stop()
	}
}
