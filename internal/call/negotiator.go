// Package call drives one peer connection per remote participant.
//
// A Negotiator owns the transport to a single peer and turns signals received from the
// peer's signalling channel into the offer/answer/candidate sequence:
//
//	caller:  idle -> offering  -- answer -->  connected
//	callee:  idle -> answering -- answer sent --> connected
//
// Every method and every pion callback runs on the owner's dispatcher, so the state below
// is never touched concurrently and carries no locks. pion callbacks are re-posted onto the
// dispatcher before they look at the negotiator.
//
// Remote candidates that arrive before a remote description are kept and applied right
// after the description is set. Closing is silent: nothing is sent to the remote side,
// which notices the departure through room presence.
package call

import (
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/irdkwmnsb/webrtc-meeting/internal/eventloop"
	"github.com/irdkwmnsb/webrtc-meeting/internal/media"
	"github.com/irdkwmnsb/webrtc-meeting/internal/metrics"
	"github.com/irdkwmnsb/webrtc-meeting/internal/signalling"
	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"
)

var ErrNegotiatorClosed = errors.New("negotiator is closed")

type State int32

const (
	StateIdle State = iota
	StateOffering
	StateAnswering
	StateConnected
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateOffering:
		return "offering"
	case StateAnswering:
		return "answering"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Sender delivers signals to the remote peer without blocking.
type Sender interface {
	Send(sig signalling.Signal)
}

type NegotiatorConfig struct {
	PeerID     string
	Signals    Sender
	Local      *media.LocalStream // nil receives only
	Dispatcher eventloop.Dispatcher

	// OnRemoteStream runs on the dispatcher each time a remote stream gains a track.
	OnRemoteStream func(*RemoteStream)
	// OnConnectionState runs on the dispatcher for every transport state change until Close.
	OnConnectionState func(webrtc.PeerConnectionState)
}

type Negotiator struct {
	peerID     string
	pc         *webrtc.PeerConnection
	signals    Sender
	dispatcher eventloop.Dispatcher

	onRemoteStream    func(*RemoteStream)
	onConnectionState func(webrtc.PeerConnectionState)

	state       atomic.Int32
	pending     []webrtc.ICECandidateInit
	streams     map[string]*RemoteStream
	videoSender *webrtc.RTPSender
}

// NewNegotiator creates the peer connection for cfg.PeerID and attaches every local track.
// Kinds without a local track are still received.
func (a *API) NewNegotiator(cfg NegotiatorConfig) (*Negotiator, error) {
	if cfg.Signals == nil || cfg.Dispatcher == nil {
		return nil, errors.New("negotiator needs a signal sender and a dispatcher")
	}

	pc, err := a.api.NewPeerConnection(a.configuration)
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	n := &Negotiator{
		peerID:            cfg.PeerID,
		pc:                pc,
		signals:           cfg.Signals,
		dispatcher:        cfg.Dispatcher,
		onRemoteStream:    cfg.OnRemoteStream,
		onConnectionState: cfg.OnConnectionState,
		streams:           make(map[string]*RemoteStream),
	}

	if err := n.attachLocal(cfg.Local, a.disableAudio); err != nil {
		_ = pc.Close()
		return nil, err
	}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		n.post(func() { n.onLocalCandidate(c) })
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		n.post(func() { n.onRemoteTrack(track) })
	})

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		n.post(func() { n.onPeerConnectionState(s) })
	})

	metrics.ActiveNegotiators.Inc()
	return n, nil
}

func (n *Negotiator) attachLocal(local *media.LocalStream, disableAudio bool) error {
	hasAudio, hasVideo := false, false

	if local != nil {
		for _, track := range local.Tracks() {
			if disableAudio && track.Kind() == webrtc.RTPCodecTypeAudio {
				continue
			}
			sender, err := n.pc.AddTrack(track)
			if err != nil {
				return fmt.Errorf("failed to add %s track: %w", track.Kind(), err)
			}
			switch track.Kind() {
			case webrtc.RTPCodecTypeAudio:
				hasAudio = true
			case webrtc.RTPCodecTypeVideo:
				hasVideo = true
				n.videoSender = sender
			}
			go n.readRTCP(sender)
		}
	}

	recvOnly := webrtc.RTPTransceiverInit{Direction: webrtc.RTPTransceiverDirectionRecvonly}
	if !hasAudio && !disableAudio {
		if _, err := n.pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio, recvOnly); err != nil {
			return fmt.Errorf("failed to add audio transceiver: %w", err)
		}
	}
	if !hasVideo {
		if _, err := n.pc.AddTransceiverFromKind(webrtc.RTPCodecTypeVideo, recvOnly); err != nil {
			return fmt.Errorf("failed to add video transceiver: %w", err)
		}
	}
	return nil
}

func (n *Negotiator) PeerID() string {
	return n.peerID
}

// State is safe to call from any goroutine.
func (n *Negotiator) State() State {
	return State(n.state.Load())
}

// PendingCandidates is the number of remote candidates waiting for a remote description.
// Call it from the dispatcher only.
func (n *Negotiator) PendingCandidates() int {
	return len(n.pending)
}

func (n *Negotiator) setState(s State) {
	if State(n.state.Swap(int32(s))) == s {
		return
	}
	metrics.NegotiatorStateChanges.WithLabelValues(s.String()).Inc()
	slog.Debug("negotiator state changed", "peer", n.peerID, "state", s)
}

// InitiateCall sends an offer. Only the caller of the pair uses it.
func (n *Negotiator) InitiateCall() error {
	if n.State() == StateClosed {
		return ErrNegotiatorClosed
	}

	offer, err := n.pc.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("failed to create offer: %w", err)
	}
	if err := n.pc.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("failed to set local description: %w", err)
	}

	n.setState(StateOffering)
	n.signals.Send(signalling.NewOffer(offer.SDP))
	return nil
}

// HandleSignal applies one signal from the remote peer. Signals for a closed negotiator are
// dropped. A failed candidate is logged and does not return an error.
func (n *Negotiator) HandleSignal(sig signalling.Signal) error {
	if n.State() == StateClosed {
		slog.Debug("signal for closed negotiator ignored", "peer", n.peerID, "kind", sig.Kind)
		return nil
	}

	switch sig.Kind {
	case signalling.KindOffer:
		return n.handleOffer(sig.Description)
	case signalling.KindAnswer:
		return n.handleAnswer(sig.Description)
	case signalling.KindCandidate:
		n.handleCandidate(sig.Candidate)
		return nil
	case signalling.KindEndOfCandidates:
		slog.Debug("remote candidate gathering complete", "peer", n.peerID)
		return nil
	default:
		return fmt.Errorf("%w: kind %s", signalling.ErrMalformedSignal, sig.Kind)
	}
}

func (n *Negotiator) handleOffer(offer webrtc.SessionDescription) error {
	n.setState(StateAnswering)

	if err := n.pc.SetRemoteDescription(offer); err != nil {
		return fmt.Errorf("failed to set remote offer: %w", err)
	}
	n.flushCandidates()

	answer, err := n.pc.CreateAnswer(nil)
	if err != nil {
		return fmt.Errorf("failed to create answer: %w", err)
	}
	if err := n.pc.SetLocalDescription(answer); err != nil {
		return fmt.Errorf("failed to set local description: %w", err)
	}

	n.signals.Send(signalling.NewAnswer(answer.SDP))
	n.setState(StateConnected)
	return nil
}

func (n *Negotiator) handleAnswer(answer webrtc.SessionDescription) error {
	if n.State() != StateOffering {
		slog.Warn("unexpected answer ignored", "peer", n.peerID, "state", n.State())
		return nil
	}

	if err := n.pc.SetRemoteDescription(answer); err != nil {
		return fmt.Errorf("failed to set remote answer: %w", err)
	}
	n.flushCandidates()

	n.setState(StateConnected)
	return nil
}

func (n *Negotiator) handleCandidate(c webrtc.ICECandidateInit) {
	metrics.ICECandidatesTotal.WithLabelValues("remote").Inc()

	if n.pc.RemoteDescription() == nil {
		metrics.ICECandidatesTotal.WithLabelValues("buffered").Inc()
		n.pending = append(n.pending, c)
		return
	}
	n.addCandidate(c)
}

func (n *Negotiator) flushCandidates() {
	pending := n.pending
	n.pending = nil
	for _, c := range pending {
		n.addCandidate(c)
	}
}

func (n *Negotiator) addCandidate(c webrtc.ICECandidateInit) {
	if err := n.pc.AddICECandidate(c); err != nil {
		metrics.ICECandidateFailuresTotal.Inc()
		slog.Warn("failed to add ICE candidate", "peer", n.peerID, "candidate", c.Candidate, "error", err)
	}
}

func (n *Negotiator) onLocalCandidate(c *webrtc.ICECandidate) {
	if n.State() == StateClosed {
		return
	}
	if c == nil {
		n.signals.Send(signalling.NewEndOfCandidates())
		return
	}
	metrics.ICECandidatesTotal.WithLabelValues("local").Inc()
	n.signals.Send(signalling.NewCandidate(c.ToJSON()))
}

func (n *Negotiator) onRemoteTrack(track *webrtc.TrackRemote) {
	metrics.RemoteTracksTotal.WithLabelValues(track.Kind().String()).Inc()

	if n.State() == StateClosed {
		return
	}

	stream, ok := n.streams[track.StreamID()]
	if !ok {
		stream = NewRemoteStream(n.peerID, track.StreamID())
		n.streams[track.StreamID()] = stream
	}
	stream.addTrack(track)

	slog.Info("remote track received", "peer", n.peerID, "stream", stream.ID(), "kind", track.Kind(), "codec", track.Codec().MimeType)

	if n.onRemoteStream != nil {
		n.onRemoteStream(stream)
	}
}

func (n *Negotiator) onPeerConnectionState(s webrtc.PeerConnectionState) {
	metrics.PeerConnectionStateChanges.WithLabelValues(s.String()).Inc()

	switch s {
	case webrtc.PeerConnectionStateFailed:
		slog.Warn("peer connection failed", "peer", n.peerID)
	default:
		slog.Debug("peer connection state changed", "peer", n.peerID, "state", s)
	}

	if n.onConnectionState != nil && n.State() != StateClosed {
		n.onConnectionState(s)
	}
}

// ReplaceVideoTrack swaps the outgoing video in place. No renegotiation is started, so a
// negotiator that never sent video gets a new sender the remote side only sees after the
// next offer.
func (n *Negotiator) ReplaceVideoTrack(track webrtc.TrackLocal) error {
	if n.State() == StateClosed {
		return ErrNegotiatorClosed
	}

	if n.videoSender == nil {
		sender, err := n.pc.AddTrack(track)
		if err != nil {
			return fmt.Errorf("failed to add video track: %w", err)
		}
		n.videoSender = sender
		go n.readRTCP(sender)
		slog.Info("video sender added without renegotiation", "peer", n.peerID)
		return nil
	}

	if err := n.videoSender.ReplaceTrack(track); err != nil {
		return fmt.Errorf("failed to replace video track: %w", err)
	}
	metrics.TrackReplacementsTotal.Inc()
	return nil
}

// VideoTrack is the track currently sent as video, if any.
func (n *Negotiator) VideoTrack() webrtc.TrackLocal {
	if n.videoSender == nil {
		return nil
	}
	return n.videoSender.Track()
}

// Close releases the transport. Later signals are ignored.
func (n *Negotiator) Close() error {
	if State(n.state.Swap(int32(StateClosed))) == StateClosed {
		return nil
	}
	metrics.NegotiatorStateChanges.WithLabelValues(StateClosed.String()).Inc()
	metrics.ActiveNegotiators.Dec()

	n.pending = nil
	if err := n.pc.Close(); err != nil {
		return fmt.Errorf("failed to close peer connection: %w", err)
	}
	return nil
}

func (n *Negotiator) post(fn func()) {
	if !n.dispatcher.Post(fn) {
		slog.Debug("dispatcher stopped, callback dropped", "peer", n.peerID)
	}
}

// readRTCP consumes receiver reports for sender so the interceptors keep running.
func (n *Negotiator) readRTCP(sender *webrtc.RTPSender) {
	rtcpBuf := make([]byte, BufferSize)

	for {
		read, _, err := sender.Read(rtcpBuf)
		if err != nil {
			return
		}

		packets, err := rtcp.Unmarshal(rtcpBuf[:read])
		if err != nil {
			continue
		}

		for _, pkt := range packets {
			switch pkt.(type) {
			case *rtcp.PictureLossIndication, *rtcp.FullIntraRequest:
				metrics.PLIRequestsTotal.Inc()
			case *rtcp.TransportLayerNack:
				metrics.NACKRequestsTotal.Inc()
			}
		}
	}
}
