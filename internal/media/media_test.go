package media

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyDeviceError(t *testing.T) {
	cases := []struct {
		err  error
		want DeviceErrorKind
		msg  string
	}{
		{fmt.Errorf("open: %w", os.ErrNotExist), DeviceNotFound, "Required track is missing"},
		{fmt.Errorf("open: %w", os.ErrPermission), PermissionDenied, "Permission denied in browser"},
		{&os.PathError{Op: "open", Path: "/dev/video0", Err: syscall.EBUSY}, DeviceBusy, "Webcam or mic are already in use"},
		{fmt.Errorf("%w: h264", ErrUnsupportedFormat), ConstraintsUnsatisfiable, "Constraints can not be satisfied by avb. devices"},
		{ErrEmptyConstraints, MalformedConstraints, "Empty constraints object"},
		{errors.New("cable unplugged"), DeviceErrorUnknown, "Something went wrong"},
	}

	for _, tc := range cases {
		de := ClassifyDeviceError("cam", tc.err)
		require.NotNil(t, de)
		assert.Equal(t, tc.want, de.Kind, tc.err.Error())
		assert.Equal(t, tc.msg, de.UserMessage())
		assert.ErrorIs(t, de, tc.err)
	}

	assert.Nil(t, ClassifyDeviceError("cam", nil))

	wrapped := &DeviceError{Kind: DeviceBusy, Err: errors.New("busy")}
	assert.Same(t, wrapped, ClassifyDeviceError("mic", fmt.Errorf("acquire: %w", wrapped)))
}

func TestKindFromName(t *testing.T) {
	cases := map[string]DeviceErrorKind{
		"NotFoundError":               DeviceNotFound,
		"DevicesNotFoundError":        DeviceNotFound,
		"NotReadableError":            DeviceBusy,
		"TrackStartError":             DeviceBusy,
		"OverconstrainedError":        ConstraintsUnsatisfiable,
		"ConstraintNotSatisfiedError": ConstraintsUnsatisfiable,
		"NotAllowedError":             PermissionDenied,
		"PermissionDeniedError":       PermissionDenied,
		"TypeError":                   MalformedConstraints,
		"AbortError":                  DeviceErrorUnknown,
	}
	for name, want := range cases {
		assert.Equal(t, want, KindFromName(name), name)
	}
}

func TestOpenRejectsEmptyConstraints(t *testing.T) {
	_, err := Open(context.Background(), Constraints{}, "s1")

	var de *DeviceError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, MalformedConstraints, de.Kind)
}

func TestOpenPatternStream(t *testing.T) {
	stream, err := Open(context.Background(), Constraints{Audio: true, Video: true}, "s1")
	require.NoError(t, err)
	defer stream.Stop()

	tracks := stream.Tracks()
	require.Len(t, tracks, 2)
	assert.Equal(t, webrtc.RTPCodecTypeAudio, tracks[0].Kind())
	assert.Equal(t, webrtc.RTPCodecTypeVideo, tracks[1].Kind())
	assert.Equal(t, "s1", tracks[1].StreamID())

	assert.True(t, stream.SetVideoEnabled(false))
	assert.False(t, stream.VideoTrack().Enabled())
	assert.True(t, stream.AudioTrack().Enabled())
}

func TestOpenMissingFile(t *testing.T) {
	_, err := Open(context.Background(), Constraints{Video: true, VideoFile: filepath.Join(t.TempDir(), "cam.ivf")}, "s1")

	var de *DeviceError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, DeviceNotFound, de.Kind)
}

func TestOpenUnsupportedSource(t *testing.T) {
	_, err := Open(context.Background(), Constraints{Audio: true, AudioFile: "talk.mp3"}, "s1")

	var de *DeviceError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, ConstraintsUnsatisfiable, de.Kind)
}

func writeIVF(t *testing.T, fourcc string, frames [][]byte) string {
	t.Helper()

	header := make([]byte, 32)
	copy(header[0:4], "DKIF")
	binary.LittleEndian.PutUint16(header[4:6], 0)
	binary.LittleEndian.PutUint16(header[6:8], 32)
	copy(header[8:12], fourcc)
	binary.LittleEndian.PutUint16(header[12:14], 64)
	binary.LittleEndian.PutUint16(header[14:16], 48)
	binary.LittleEndian.PutUint32(header[16:20], 30)
	binary.LittleEndian.PutUint32(header[20:24], 1)
	binary.LittleEndian.PutUint32(header[24:28], uint32(len(frames)))

	data := header
	for i, frame := range frames {
		fh := make([]byte, 12)
		binary.LittleEndian.PutUint32(fh[0:4], uint32(len(frame)))
		binary.LittleEndian.PutUint64(fh[4:12], uint64(i))
		data = append(data, fh...)
		data = append(data, frame...)
	}

	path := filepath.Join(t.TempDir(), "clip.ivf")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestIVFSourceLoops(t *testing.T) {
	path := writeIVF(t, "VP80", [][]byte{{1, 1}, {2, 2, 2}})

	src, capability, err := openIVF(path)
	require.NoError(t, err)
	defer src.close()

	assert.Equal(t, webrtc.MimeTypeVP8, capability.MimeType)
	assert.Equal(t, time.Second/30, src.frame)

	var sizes []int
	for i := 0; i < 5; i++ {
		sample, err := src.next()
		require.NoError(t, err)
		sizes = append(sizes, len(sample.Data))
	}
	assert.Equal(t, []int{2, 3, 2, 3, 2}, sizes)
}

func TestIVFWithUnsupportedCodec(t *testing.T) {
	path := writeIVF(t, "H264", [][]byte{{1}})

	_, err := Open(context.Background(), Constraints{Video: true, VideoFile: path}, "s1")

	var de *DeviceError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, ConstraintsUnsatisfiable, de.Kind)
}

func TestSetVideoTrackKeepsPreviousRunning(t *testing.T) {
	stream, err := Open(context.Background(), Constraints{Video: true}, "s1")
	require.NoError(t, err)

	share, err := OpenVideo(writeIVF(t, "VP80", [][]byte{{9}}), "s1")
	require.NoError(t, err)

	camera := stream.SetVideoTrack(share)
	require.NotNil(t, camera)
	assert.Same(t, share, stream.VideoTrack())

	select {
	case <-camera.done:
		t.Fatal("previous track was stopped")
	default:
	}

	stream.Stop()
	camera.Stop()
}
