// Package recorder saves remote streams of a meeting to disk: Opus audio as .ogg and VP8
// video as .ivf.
package recorder

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/irdkwmnsb/webrtc-meeting/internal/call"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/pion/webrtc/v4/pkg/media/ivfwriter"
	"github.com/pion/webrtc/v4/pkg/media/oggwriter"
)

var ErrRecorderClosed = errors.New("recorder is closed")

type Recorder struct {
	dir        string
	mx         sync.Mutex
	recordings map[string]*Recording
	closed     bool
}

func New(dir string) (*Recorder, error) {
	if err := os.MkdirAll(dir, os.ModePerm); err != nil {
		return nil, fmt.Errorf("failed to create recordings directory: %w", err)
	}
	return &Recorder{dir: dir, recordings: make(map[string]*Recording)}, nil
}

// Start records stream until Stop. Starting the stream that is already recorded returns the
// running recording, tracks added later are picked up by the sink. A new stream of the same
// peer replaces the previous recording.
func (r *Recorder) Start(stream *call.RemoteStream) (*Recording, error) {
	r.mx.Lock()
	defer r.mx.Unlock()

	if r.closed {
		return nil, ErrRecorderClosed
	}
	if previous, ok := r.recordings[stream.PeerID()]; ok {
		if previous.stream == stream {
			return previous, nil
		}
		previous.stop()
	}

	id := fmt.Sprintf("%s_%s", time.Now().Format("2006_01_02_15_04_05"), stream.PeerID())
	rec := newRecording(filepath.Join(r.dir, id), stream)
	r.recordings[stream.PeerID()] = rec
	stream.SetSink(rec)

	slog.Info("recording remote stream", "peer", stream.PeerID(), "id", id)
	return rec, nil
}

// Stop finishes the recording of a peer and returns the written files.
func (r *Recorder) Stop(peerID string) []string {
	r.mx.Lock()
	rec, ok := r.recordings[peerID]
	delete(r.recordings, peerID)
	r.mx.Unlock()

	if !ok {
		return nil
	}
	rec.stop()
	return rec.Files()
}

func (r *Recorder) Close() {
	r.mx.Lock()
	recordings := r.recordings
	r.recordings = make(map[string]*Recording)
	r.closed = true
	r.mx.Unlock()

	for _, rec := range recordings {
		rec.stop()
	}
}

// Recording is the set of files written for one remote stream.
type Recording struct {
	base   string
	stream *call.RemoteStream

	mx      sync.Mutex
	writers map[string]media.Writer
	files   []string
	skipped map[string]struct{}
	closed  bool
}

func newRecording(base string, stream *call.RemoteStream) *Recording {
	return &Recording{
		base:    base,
		stream:  stream,
		writers: make(map[string]media.Writer),
		skipped: make(map[string]struct{}),
	}
}

// WriteRTP stores pkt in the file of its codec, opening the file on the first packet.
func (r *Recording) WriteRTP(codec webrtc.RTPCodecParameters, pkt *rtp.Packet) error {
	r.mx.Lock()
	defer r.mx.Unlock()

	if r.closed {
		return ErrRecorderClosed
	}

	mime := strings.ToLower(codec.MimeType)
	writer, ok := r.writers[mime]
	if !ok {
		if _, skip := r.skipped[mime]; skip {
			return nil
		}
		var err error
		if writer, err = r.open(codec); err != nil {
			r.skipped[mime] = struct{}{}
			return err
		}
		if writer == nil {
			slog.Warn("failed to record track with unsupported mime type", "mimeType", codec.MimeType)
			r.skipped[mime] = struct{}{}
			return nil
		}
		r.writers[mime] = writer
	}

	return writer.WriteRTP(pkt)
}

func (r *Recording) open(codec webrtc.RTPCodecParameters) (media.Writer, error) {
	var writer media.Writer
	var err error

	outputFileName := r.base
	switch {
	case strings.EqualFold(codec.MimeType, webrtc.MimeTypeOpus):
		outputFileName += "_audio.ogg"
		channels := codec.Channels
		if channels == 0 {
			channels = 2
		}
		writer, err = oggwriter.New(outputFileName, codec.ClockRate, channels)
	case strings.EqualFold(codec.MimeType, webrtc.MimeTypeVP8):
		outputFileName += "_video.ivf"
		writer, err = ivfwriter.New(outputFileName)
	default:
		return nil, nil
	}
	if err != nil {
		slog.Error("failed to create file", "filename", outputFileName, "error", err)
		return nil, err
	}

	slog.Info("got track, recording", "mimeType", codec.MimeType, "outputFile", outputFileName)
	r.files = append(r.files, outputFileName)
	return writer, nil
}

// Files lists the files opened so far.
func (r *Recording) Files() []string {
	r.mx.Lock()
	defer r.mx.Unlock()
	return append([]string(nil), r.files...)
}

func (r *Recording) stop() {
	if r.stream != nil {
		r.stream.SetSink(nil)
	}

	r.mx.Lock()
	defer r.mx.Unlock()

	if r.closed {
		return
	}
	r.closed = true
	for mime, w := range r.writers {
		if err := w.Close(); err != nil {
			slog.Error("failed to close record writer", "mimeType", mime, "error", err)
		}
	}
}
