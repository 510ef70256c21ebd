package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ActiveWebSocketConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "webrtc_meeting_active_websocket_connections",
		Help: "Number of active backend WebSocket sessions on the relay",
	})

	WebSocketConnectionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "webrtc_meeting_websocket_connections_total",
		Help: "Total number of backend WebSocket sessions",
	})

	WebSocketDisconnectionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "webrtc_meeting_websocket_disconnections_total",
		Help: "Total number of backend WebSocket disconnections",
	})

	BackendOperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "webrtc_meeting_backend_operations_total",
		Help: "Backend operations handled by the relay",
	}, []string{"op", "result"}) // result: "ok" | "error"

	BackendEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "webrtc_meeting_backend_events_total",
		Help: "Child events pushed to backend clients",
	}, []string{"type"}) // "child_added" | "child_removed"

	ActiveRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "webrtc_meeting_active_rooms",
		Help: "Rooms with at least one participant",
	})

	RoomsCleanedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "webrtc_meeting_rooms_cleaned_total",
		Help: "Rooms whose channels and chat were deleted",
	}, []string{"by"}) // "client" | "relay"

	SnapshotDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "webrtc_meeting_snapshot_seconds",
		Help:    "Time to write the relay store snapshot",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
	})

	ActiveNegotiators = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "webrtc_meeting_active_negotiators",
		Help: "Peer connection negotiators owned by room trackers",
	})

	NegotiatorStateChanges = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "webrtc_meeting_negotiator_state_changes_total",
		Help: "Negotiator state machine transitions",
	}, []string{"state"})

	PeerConnectionStateChanges = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "webrtc_meeting_peer_connection_state_changes_total",
		Help: "Peer connection state changes",
	}, []string{"state"})

	SignallingMessagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "webrtc_meeting_signalling_messages_total",
		Help: "Total signalling messages",
	}, []string{"type", "direction"}) // direction: "in" | "out"

	MalformedSignalsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "webrtc_meeting_malformed_signals_total",
		Help: "Signalling payloads rejected as malformed",
	})

	ICECandidatesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "webrtc_meeting_ice_candidates_total",
		Help: "Total number of ICE candidates",
	}, []string{"direction"}) // "local" | "remote" | "buffered"

	ICECandidateFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "webrtc_meeting_ice_candidate_failures_total",
		Help: "Remote ICE candidates the transport refused",
	})

	RemoteTracksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "webrtc_meeting_remote_tracks_total",
		Help: "Remote media tracks received",
	}, []string{"type"})

	TrackReplacementsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "webrtc_meeting_track_replacements_total",
		Help: "Outgoing video track replacements",
	})

	NACKRequestsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "webrtc_meeting_nack_requests_total",
		Help: "Total NACK requests (indicates packet loss)",
	})

	PLIRequestsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "webrtc_meeting_pli_requests_total",
		Help: "Total PLI requests (indicates video quality issues)",
	})

	ChatMessagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "webrtc_meeting_chat_messages_total",
		Help: "Chat items sent and received",
	}, []string{"direction"})

	BackendWriteFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "webrtc_meeting_backend_write_failures_total",
		Help: "Fire-and-forget backend writes that failed",
	}, []string{"kind"}) // "signal" | "chat" | "cleanup"

	ConfigReloads = promauto.NewCounter(prometheus.CounterOpts{
		Name: "webrtc_meeting_config_reloads_total",
		Help: "Number of configuration reloads",
	})

	StartTime = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "webrtc_meeting_start_time_seconds",
		Help: "Process start time in Unix seconds",
	})
)
