package config

import (
	"time"

	"github.com/pion/webrtc/v4"
)

type AppConfig struct {
	Server ServerConfig `json:"server" yaml:"server"`
	WebRTC WebRTCConfig `json:"webrtc" yaml:"webrtc"`
	Client ClientConfig `json:"client" yaml:"client"`
	TURN   TURNConfig   `json:"turn" yaml:"turn"`
	Log    LogConfig    `json:"log" yaml:"log"`
}

// ServerConfig configures the relay. Intervals are in milliseconds, periods in seconds.
type ServerConfig struct {
	Port             int     `json:"port" yaml:"port"`
	PingInterval     int     `json:"pingInterval" yaml:"pingInterval"`
	SnapshotFile     string  `json:"snapshotFile" yaml:"snapshotFile"`
	SnapshotPeriod   int     `json:"snapshotPeriod" yaml:"snapshotPeriod"`
	RoomGCPeriod     int     `json:"roomGcPeriod" yaml:"roomGcPeriod"`
	RoomGCGrace      int     `json:"roomGcGrace" yaml:"roomGcGrace"`
	TLSCrtFile       *string `json:"tlsCrtFile" yaml:"tlsCrtFile"`
	TLSKeyFile       *string `json:"tlsKeyFile" yaml:"tlsKeyFile"`
	MaxMessageLength int     `json:"maxMessageLength" yaml:"maxMessageLength"`
}

func (c ServerConfig) Ping() time.Duration {
	return time.Duration(c.PingInterval) * time.Millisecond
}

func (c ServerConfig) Snapshot() time.Duration {
	return time.Duration(c.SnapshotPeriod) * time.Second
}

func (c ServerConfig) RoomGC() time.Duration {
	return time.Duration(c.RoomGCPeriod) * time.Second
}

func (c ServerConfig) RoomGCGracePeriod() time.Duration {
	return time.Duration(c.RoomGCGrace) * time.Second
}

type WebRTCConfig struct {
	PortMin         uint16      `json:"portMin" yaml:"portMin"`
	PortMax         uint16      `json:"portMax" yaml:"portMax"`
	PublicIP        string      `json:"publicIp" yaml:"publicIp"`
	ICEServers      []ICEServer `json:"iceServers" yaml:"iceServers"`
	Codecs          []Codec     `json:"codecs" yaml:"codecs"`
	IncludeLoopback bool        `json:"includeLoopback" yaml:"includeLoopback"`
	MulticastDNS    string      `json:"multicastDns" yaml:"multicastDns"`
	DisableAudio    bool        `json:"disableAudio" yaml:"disableAudio"`
}

type ICEServer struct {
	URLs       []string `json:"urls" yaml:"urls"`
	Username   string   `json:"username,omitempty" yaml:"username,omitempty"`
	Credential string   `json:"credential,omitempty" yaml:"credential,omitempty"`
}

// Configuration converts the ICE server list for a new peer connection.
func (c WebRTCConfig) Configuration() webrtc.Configuration {
	servers := make([]webrtc.ICEServer, 0, len(c.ICEServers))
	for _, s := range c.ICEServers {
		server := webrtc.ICEServer{URLs: s.URLs, Username: s.Username}
		if s.Credential != "" {
			server.Credential = s.Credential
		}
		servers = append(servers, server)
	}
	return webrtc.Configuration{ICEServers: servers}
}

type ClientConfig struct {
	RelayURL    string `json:"relayUrl" yaml:"relayUrl"`
	DisplayName string `json:"displayName" yaml:"displayName"`
}

type TURNConfig struct {
	PublicIP     string   `json:"publicIp" yaml:"publicIp"`
	PublicIPv6   string   `json:"publicIpv6" yaml:"publicIpv6"`
	Port         int      `json:"port" yaml:"port"`
	Realm        string   `json:"realm" yaml:"realm"`
	Users        []string `json:"users" yaml:"users"`
	RelayPortMin uint16   `json:"relayPortMin" yaml:"relayPortMin"`
	RelayPortMax uint16   `json:"relayPortMax" yaml:"relayPortMax"`
}

type LogConfig struct {
	Level   string `json:"level" yaml:"level"`
	NoColor bool   `json:"noColor" yaml:"noColor"`
}

type Codec struct {
	Params webrtc.RTPCodecParameters `json:"params"`
	Type   webrtc.RTPCodecType       `json:"type"`
}

const (
	MulticastDNSDisabled = "disabled"
	MulticastDNSQuery    = "query"
	MulticastDNSGather   = "gather"
)

func DefaultAppConfig() AppConfig {
	return AppConfig{
		Server: ServerConfig{
			Port:             13478,
			PingInterval:     10000,
			SnapshotFile:     "",
			SnapshotPeriod:   60,
			RoomGCPeriod:     60,
			RoomGCGrace:      300,
			MaxMessageLength: 256 * 1024,
		},
		WebRTC: WebRTCConfig{
			PortMin: 0,
			PortMax: 0,
			ICEServers: []ICEServer{
				{URLs: []string{"stun:stun1.l.google.com:19302", "stun:stun2.l.google.com:19302"}},
			},
			Codecs:       DefaultCodecs(),
			MulticastDNS: MulticastDNSDisabled,
		},
		Client: ClientConfig{
			RelayURL:    "ws://localhost:13478",
			DisplayName: "guest",
		},
		TURN: TURNConfig{
			Port:         3478,
			Realm:        "webrtc-meeting",
			RelayPortMin: 40000,
			RelayPortMax: 40199,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

func DefaultCodecs() []Codec {
	return []Codec{
		{
			Params: webrtc.RTPCodecParameters{
				RTPCodecCapability: webrtc.RTPCodecCapability{
					MimeType:     webrtc.MimeTypeVP8,
					ClockRate:    90000,
					Channels:     0,
					RTCPFeedback: videoFeedback(),
				},
				PayloadType: 96,
			},
			Type: webrtc.RTPCodecTypeVideo,
		},
		{
			Params: webrtc.RTPCodecParameters{
				RTPCodecCapability: webrtc.RTPCodecCapability{
					MimeType:  webrtc.MimeTypeOpus,
					ClockRate: 48000,
					Channels:  2,
				},
				PayloadType: 111,
			},
			Type: webrtc.RTPCodecTypeAudio,
		},
	}
}

func videoFeedback() []webrtc.RTCPFeedback {
	return []webrtc.RTCPFeedback{
		{Type: "nack"},
		{Type: "nack", Parameter: "pli"},
		{Type: "ccm", Parameter: "fir"},
		{Type: "goog-remb"},
	}
}
