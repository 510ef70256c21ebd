package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/irdkwmnsb/webrtc-meeting/internal/backend/remote"
	"github.com/irdkwmnsb/webrtc-meeting/internal/call"
	"github.com/irdkwmnsb/webrtc-meeting/internal/logging"
	"github.com/irdkwmnsb/webrtc-meeting/internal/media"
	"github.com/irdkwmnsb/webrtc-meeting/internal/recorder"
	"github.com/irdkwmnsb/webrtc-meeting/internal/room"
	"github.com/irdkwmnsb/webrtc-meeting/internal/ui"
	"github.com/pion/webrtc/v4"
	"github.com/spf13/cobra"
)

const leaveTimeout = 5 * time.Second

type joinOptions struct {
	name      string
	audio     bool
	video     bool
	audioFile string
	videoFile string
	recordDir string
}

func newJoinCmd(root *rootOptions) *cobra.Command {
	opts := &joinOptions{}

	cmd := &cobra.Command{
		Use:   "join <room>",
		Short: "Join a room and start calling everybody in it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.load()
			if err != nil {
				return err
			}
			logging.Setup(cfg.Log)

			name := cfg.Client.DisplayName
			if cmd.Flags().Changed("name") {
				name = strings.TrimSpace(opts.name)
			}

			api, err := call.NewAPI(cfg.WebRTC)
			if err != nil {
				return err
			}

			m := &meeting{
				out:       os.Stdout,
				sessionID: uuid.NewString(),
				name:      name,
				streams:   make(map[string]*call.RemoteStream),
			}
			return m.run(cmd.Context(), cfg.Client.RelayURL, args[0], api, *opts, os.Stdin)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.name, "name", "", "display name, overrides the client config")
	flags.BoolVar(&opts.audio, "audio", true, "send audio")
	flags.BoolVar(&opts.video, "video", true, "send video")
	flags.StringVar(&opts.audioFile, "audio-file", "", "ogg/opus file to loop as the microphone")
	flags.StringVar(&opts.videoFile, "video-file", "", "ivf file to loop as the camera")
	flags.StringVar(&opts.recordDir, "record-dir", "", "save every remote stream into this directory")
	return cmd
}

// meeting is one interactive session: it renders room events and executes stdin commands.
type meeting struct {
	out       io.Writer
	outMu     sync.Mutex
	sessionID string
	name      string

	tracker  *room.Tracker
	recorder *recorder.Recorder
	local    *media.LocalStream
	camera   *media.Track
	shared   *media.Track

	streamsMu sync.Mutex
	streams   map[string]*call.RemoteStream
}

func (m *meeting) run(ctx context.Context, relay, roomID string, api *call.API, opts joinOptions, in io.Reader) error {
	if opts.audio || opts.video {
		local, err := media.Open(ctx, media.Constraints{
			Audio:     opts.audio,
			Video:     opts.video,
			AudioFile: opts.audioFile,
			VideoFile: opts.videoFile,
		}, m.sessionID)
		var deviceErr *media.DeviceError
		switch {
		case errors.As(err, &deviceErr):
			// the call still works, remote streams are received
			m.printf(ui.PrintError, "%s, joining without local media", deviceErr.UserMessage())
			slog.Warn("local media unavailable", "source", deviceErr.Source, "error", deviceErr.Err)
		case err != nil:
			return err
		default:
			m.local = local
			m.camera = local.VideoTrack()
		}
	}
	defer m.stopMedia()

	if opts.recordDir != "" {
		rec, err := recorder.New(opts.recordDir)
		if err != nil {
			return err
		}
		m.recorder = rec
		defer rec.Close()
	}

	client, err := remote.Dial(ctx, relay)
	if err != nil {
		return err
	}
	defer client.Close()

	tracker, err := room.New(room.Config{
		SessionID:   m.sessionID,
		RoomID:      roomID,
		DisplayName: m.name,
		LocalStream: m.local,
		Backend:     client,
		API:         api,
	}, m)
	if err != nil {
		return err
	}
	defer tracker.Close()
	m.tracker = tracker

	if err := tracker.Join(ctx); err != nil {
		return err
	}
	m.println(ui.RoomBanner(roomID, m.sessionID, m.name))

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return m.leave()
		case <-client.Done():
			return errors.New("connection to the relay was lost")
		case line, ok := <-lines:
			if !ok {
				return m.leave()
			}
			if quit := m.handleLine(ctx, line); quit {
				return m.leave()
			}
		}
	}
}

func (m *meeting) leave() error {
	ctx, cancel := context.WithTimeout(context.Background(), leaveTimeout)
	defer cancel()

	if err := m.tracker.Leave(ctx); err != nil && !errors.Is(err, room.ErrNotJoined) {
		return err
	}
	m.printf(ui.PrintInfo, "left the room")
	return nil
}

func (m *meeting) stopMedia() {
	if m.shared != nil {
		m.shared.Stop()
	}
	if m.camera != nil {
		m.camera.Stop()
	}
	if m.local != nil {
		m.local.Stop()
	}
}

// handleLine executes one line of input and reports whether the user asked to quit.
func (m *meeting) handleLine(ctx context.Context, line string) bool {
	cmd, ok := parseCommand(line)
	if !ok {
		m.tracker.SendChatMessage(line, m.sessionID)
		return false
	}

	switch cmd.name {
	case "quit", "exit":
		return true
	case "help":
		m.println(ui.MutedStyle.Render(helpText))
	case "share":
		m.share(ctx, cmd.arg)
	case "unshare":
		m.unshare(ctx)
	case "audio", "video":
		m.toggle(cmd.name)
	case "peers":
		m.println(ui.PeersView(m.peerRows()))
	default:
		m.printf(ui.PrintWarning, "unknown command /%s, try /help", cmd.name)
	}
	return false
}

func (m *meeting) share(ctx context.Context, path string) {
	if path == "" {
		m.printf(ui.PrintWarning, "usage: /share <file.ivf>")
		return
	}

	track, err := media.OpenVideo(path, m.sessionID)
	if err != nil {
		m.printf(ui.PrintError, "%s", media.ClassifyDeviceError(path, err).UserMessage())
		return
	}

	previous, err := m.tracker.ReplaceVideoTrack(ctx, track)
	if err != nil {
		slog.Warn("video replacement failed for some peers", "error", err)
	}
	// sharing another file replaces the previous share, the camera keeps running
	if previous != nil && previous == m.shared {
		previous.Stop()
	}
	m.shared = track
	m.printf(ui.PrintSuccess, "sharing %s", path)
}

func (m *meeting) unshare(ctx context.Context) {
	if m.shared == nil {
		m.printf(ui.PrintWarning, "nothing is shared")
		return
	}
	if m.camera == nil {
		m.printf(ui.PrintWarning, "there is no camera to go back to")
		return
	}

	if _, err := m.tracker.ReplaceVideoTrack(ctx, m.camera); err != nil {
		slog.Warn("video replacement failed for some peers", "error", err)
	}
	m.shared.Stop()
	m.shared = nil
	m.printf(ui.PrintSuccess, "back to the camera")
}

func (m *meeting) toggle(kind string) {
	var track *media.Track
	if m.local != nil {
		if kind == "audio" {
			track = m.local.AudioTrack()
		} else {
			track = m.local.VideoTrack()
		}
	}
	if track == nil {
		m.printf(ui.PrintWarning, "no local %s", kind)
		return
	}

	enabled := !track.Enabled()
	if kind == "audio" {
		m.local.SetAudioEnabled(enabled)
	} else {
		m.local.SetVideoEnabled(enabled)
	}

	if enabled {
		m.printf(ui.PrintInfo, "%s on", kind)
	} else {
		m.printf(ui.PrintInfo, "%s off", kind)
	}
}

func (m *meeting) peerRows() []ui.PeerRow {
	m.streamsMu.Lock()
	defer m.streamsMu.Unlock()

	var rows []ui.PeerRow
	for _, id := range m.tracker.Peers() {
		row := ui.PeerRow{ID: id, State: "gone"}
		if n, ok := m.tracker.Negotiator(id); ok {
			row.State = n.State().String()
		}
		if state, ok := m.tracker.ConnectionState(id); ok {
			row.Connection = state.String()
		}
		if s, ok := m.streams[id]; ok {
			row.Tracks = len(s.Tracks())
		}
		rows = append(rows, row)
	}
	return rows
}

func (m *meeting) RemoteStreamAdded(peerID string, stream *call.RemoteStream) {
	m.streamsMu.Lock()
	m.streams[peerID] = stream
	m.streamsMu.Unlock()

	var kinds []string
	if stream.HasKind(webrtc.RTPCodecTypeAudio) {
		kinds = append(kinds, "audio")
	}
	if stream.HasKind(webrtc.RTPCodecTypeVideo) {
		kinds = append(kinds, "video")
	}
	if len(kinds) == 0 {
		kinds = append(kinds, "nothing yet")
	}
	m.printf(ui.PrintSuccess, "%s is streaming %s", peerID, strings.Join(kinds, " and "))

	if m.recorder != nil {
		if _, err := m.recorder.Start(stream); err != nil {
			slog.Warn("failed to start recording", "peer", peerID, "error", err)
		}
	}
}

func (m *meeting) RemoteStreamRemoved(peerID string) {
	m.streamsMu.Lock()
	delete(m.streams, peerID)
	m.streamsMu.Unlock()

	m.printf(ui.PrintInfo, "%s left", peerID)

	if m.recorder != nil {
		for _, file := range m.recorder.Stop(peerID) {
			m.printf(ui.PrintInfo, "saved %s", file)
		}
	}
}

func (m *meeting) ChatItemReceived(item room.ChatItem) {
	m.println(ui.ChatLine(item.Sender, item.Text, item.Date, m.tracker.IsMyMessage(item)))
}

func (m *meeting) println(s string) {
	m.outMu.Lock()
	defer m.outMu.Unlock()
	fmt.Fprintln(m.out, s)
}

func (m *meeting) printf(emit func(io.Writer, string), format string, args ...any) {
	m.outMu.Lock()
	defer m.outMu.Unlock()
	emit(m.out, fmt.Sprintf(format, args...))
}
