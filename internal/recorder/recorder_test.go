package recorder

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/irdkwmnsb/webrtc-meeting/internal/call"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	opus = webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
		PayloadType:        111,
	}
	vp8 = webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000},
		PayloadType:        96,
	}
	h264 = webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeH264, ClockRate: 90000},
		PayloadType:        102,
	}
)

func packet(seq uint16, payload ...byte) *rtp.Packet {
	return &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			SequenceNumber: seq,
			Timestamp:      uint32(seq) * 960,
			SSRC:           1,
			Marker:         true,
		},
		Payload: payload,
	}
}

func header(t *testing.T, path string, n int) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(data), n)
	return string(data[:n])
}

func TestRecordingWritesOneFilePerCodec(t *testing.T) {
	base := filepath.Join(t.TempDir(), "rec")
	rec := newRecording(base, nil)

	for i := uint16(1); i <= 3; i++ {
		require.NoError(t, rec.WriteRTP(opus, packet(i, 0xf8, 0xff, 0xfe)))
	}
	require.NoError(t, rec.WriteRTP(h264, packet(1, 0x65)))
	rec.stop()

	files := rec.Files()
	require.Equal(t, []string{base + "_audio.ogg"}, files)
	assert.Equal(t, "OggS", header(t, files[0], 4))

	assert.ErrorIs(t, rec.WriteRTP(opus, packet(4, 0xf8)), ErrRecorderClosed)
}

func TestRecordingOpensIvfForVP8(t *testing.T) {
	base := filepath.Join(t.TempDir(), "rec")
	rec := newRecording(base, nil)

	_ = rec.WriteRTP(vp8, packet(1, 0x10, 0x00, 0x9d, 0x01, 0x2a))
	rec.stop()

	require.Equal(t, []string{base + "_video.ivf"}, rec.Files())
	assert.Equal(t, "DKIF", header(t, base+"_video.ivf", 4))
}

func TestRecorderStartStop(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "recordings")
	r, err := New(dir)
	require.NoError(t, err)

	stream := call.NewRemoteStream("peer-1", "stream-1")
	rec, err := r.Start(stream)
	require.NoError(t, err)
	require.NoError(t, rec.WriteRTP(opus, packet(1, 0xf8, 0xff, 0xfe)))

	files := r.Stop("peer-1")
	require.Len(t, files, 1)
	assert.Equal(t, dir, filepath.Dir(files[0]))
	assert.Contains(t, filepath.Base(files[0]), "peer-1")
	assert.Nil(t, stream.SetSink(nil))
	assert.Nil(t, r.Stop("peer-1"))

	r.Close()
	_, err = r.Start(stream)
	assert.ErrorIs(t, err, ErrRecorderClosed)
}

func TestRecorderStartIsIdempotentPerStream(t *testing.T) {
	r, err := New(t.TempDir())
	require.NoError(t, err)
	defer r.Close()

	stream := call.NewRemoteStream("peer-1", "stream-1")
	first, err := r.Start(stream)
	require.NoError(t, err)
	for i := uint16(1); i <= 50; i++ {
		require.NoError(t, first.WriteRTP(opus, packet(i, 0xf8, 0xff, 0xfe)))
	}
	files := first.Files()
	require.Len(t, files, 1)
	info, err := os.Stat(files[0])
	require.NoError(t, err)
	written := info.Size()

	// a second track of the same stream starts the recorder again
	second, err := r.Start(stream)
	require.NoError(t, err)
	assert.Same(t, first, second)
	require.NoError(t, second.WriteRTP(opus, packet(51, 0xf8, 0xff, 0xfe)))

	assert.Equal(t, files, r.Stop("peer-1"))
	info, err = os.Stat(files[0])
	require.NoError(t, err)
	assert.Greater(t, info.Size(), written)
}

func TestRecorderReplacesRecordingOfNewStream(t *testing.T) {
	r, err := New(t.TempDir())
	require.NoError(t, err)
	defer r.Close()

	old := call.NewRemoteStream("peer-1", "stream-1")
	first, err := r.Start(old)
	require.NoError(t, err)

	second, err := r.Start(call.NewRemoteStream("peer-1", "stream-2"))
	require.NoError(t, err)
	assert.NotSame(t, first, second)
	assert.ErrorIs(t, first.WriteRTP(opus, packet(1, 0xf8)), ErrRecorderClosed)
	assert.Nil(t, old.SetSink(nil))
}
