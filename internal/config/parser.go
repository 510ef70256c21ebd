package config

import (
	"fmt"
	"strings"

	"github.com/pion/webrtc/v4"
)

type RawServerConfig struct {
	Port             *int    `yaml:"port" json:"port"`
	PingInterval     *int    `yaml:"pingInterval" json:"pingInterval"`
	SnapshotFile     *string `yaml:"snapshotFile" json:"snapshotFile"`
	SnapshotPeriod   *int    `yaml:"snapshotPeriod" json:"snapshotPeriod"`
	RoomGCPeriod     *int    `yaml:"roomGcPeriod" json:"roomGcPeriod"`
	RoomGCGrace      *int    `yaml:"roomGcGrace" json:"roomGcGrace"`
	TLSCrtFile       *string `yaml:"tlsCrtFile" json:"tlsCrtFile"`
	TLSKeyFile       *string `yaml:"tlsKeyFile" json:"tlsKeyFile"`
	MaxMessageLength *int    `yaml:"maxMessageLength" json:"maxMessageLength"`
}

func (r RawServerConfig) ToDomain() (ServerConfig, error) {
	var cfg ServerConfig
	if r.Port != nil {
		if *r.Port <= 0 || *r.Port > 65535 {
			return ServerConfig{}, fmt.Errorf("invalid server port %d", *r.Port)
		}
		cfg.Port = *r.Port
	}
	if r.PingInterval != nil {
		if *r.PingInterval <= 0 {
			return ServerConfig{}, fmt.Errorf("ping interval must be positive, got %d", *r.PingInterval)
		}
		cfg.PingInterval = *r.PingInterval
	}
	if r.SnapshotFile != nil {
		cfg.SnapshotFile = *r.SnapshotFile
	}
	if r.SnapshotPeriod != nil {
		if *r.SnapshotPeriod <= 0 {
			return ServerConfig{}, fmt.Errorf("snapshot period must be positive, got %d", *r.SnapshotPeriod)
		}
		cfg.SnapshotPeriod = *r.SnapshotPeriod
	}
	if r.RoomGCPeriod != nil {
		if *r.RoomGCPeriod <= 0 {
			return ServerConfig{}, fmt.Errorf("room gc period must be positive, got %d", *r.RoomGCPeriod)
		}
		cfg.RoomGCPeriod = *r.RoomGCPeriod
	}
	if r.RoomGCGrace != nil {
		if *r.RoomGCGrace < 0 {
			return ServerConfig{}, fmt.Errorf("room gc grace must not be negative, got %d", *r.RoomGCGrace)
		}
		cfg.RoomGCGrace = *r.RoomGCGrace
	}
	if (r.TLSCrtFile == nil) != (r.TLSKeyFile == nil) {
		return ServerConfig{}, fmt.Errorf("tlsCrtFile and tlsKeyFile must be set together")
	}
	cfg.TLSCrtFile = r.TLSCrtFile
	cfg.TLSKeyFile = r.TLSKeyFile
	if r.MaxMessageLength != nil {
		cfg.MaxMessageLength = *r.MaxMessageLength
	}
	return cfg, nil
}

type RawWebRTCConfig struct {
	PortMin         *uint16      `yaml:"portMin" json:"portMin"`
	PortMax         *uint16      `yaml:"portMax" json:"portMax"`
	PublicIP        *string      `yaml:"publicIp" json:"publicIp"`
	ICEServers      *[]ICEServer `yaml:"iceServers" json:"iceServers"`
	Codecs          *[]RawCodec  `yaml:"codecs" json:"codecs"`
	IncludeLoopback *bool        `yaml:"includeLoopback" json:"includeLoopback"`
	MulticastDNS    *string      `yaml:"multicastDns" json:"multicastDns"`
	DisableAudio    *bool        `yaml:"disableAudio" json:"disableAudio"`
}

type RawCodec struct {
	Params struct {
		MimeType    string `json:"mimeType" yaml:"mimeType"`
		ClockRate   uint32 `json:"clockRate" yaml:"clockRate"`
		PayloadType uint8  `json:"payloadType" yaml:"payloadType"`
		Channels    uint16 `json:"channels" yaml:"channels"`
	} `json:"params" yaml:"params"`
	Type string `json:"type" yaml:"type"`
}

func (r RawWebRTCConfig) ToDomain() (WebRTCConfig, error) {
	var cfg WebRTCConfig
	if r.PortMin != nil {
		cfg.PortMin = *r.PortMin
	}
	if r.PortMax != nil {
		cfg.PortMax = *r.PortMax
	}
	if cfg.PortMin > 0 && cfg.PortMax > 0 && cfg.PortMin > cfg.PortMax {
		return WebRTCConfig{}, fmt.Errorf("invalid webrtc port range %d-%d", cfg.PortMin, cfg.PortMax)
	}
	if r.PublicIP != nil {
		cfg.PublicIP = *r.PublicIP
	}
	if r.ICEServers != nil {
		for _, s := range *r.ICEServers {
			if len(s.URLs) == 0 {
				return WebRTCConfig{}, fmt.Errorf("ice server without urls")
			}
		}
		cfg.ICEServers = *r.ICEServers
	}
	if r.Codecs != nil {
		codecs, err := parseCodecs(*r.Codecs)
		if err != nil {
			return WebRTCConfig{}, err
		}
		cfg.Codecs = codecs
	}
	if r.IncludeLoopback != nil {
		cfg.IncludeLoopback = *r.IncludeLoopback
	}
	if r.MulticastDNS != nil {
		switch *r.MulticastDNS {
		case MulticastDNSDisabled, MulticastDNSQuery, MulticastDNSGather:
			cfg.MulticastDNS = *r.MulticastDNS
		default:
			return WebRTCConfig{}, fmt.Errorf("unknown multicastDns mode %q", *r.MulticastDNS)
		}
	}
	if r.DisableAudio != nil {
		cfg.DisableAudio = *r.DisableAudio
	}
	return cfg, nil
}

type RawClientConfig struct {
	RelayURL    *string `yaml:"relayUrl" json:"relayUrl"`
	DisplayName *string `yaml:"displayName" json:"displayName"`
}

func (r RawClientConfig) ToDomain() ClientConfig {
	var cfg ClientConfig
	if r.RelayURL != nil {
		cfg.RelayURL = *r.RelayURL
	}
	if r.DisplayName != nil {
		cfg.DisplayName = strings.TrimSpace(*r.DisplayName)
	}
	return cfg
}

type RawTURNConfig struct {
	PublicIP     *string   `yaml:"publicIp" json:"publicIp"`
	PublicIPv6   *string   `yaml:"publicIpv6" json:"publicIpv6"`
	Port         *int      `yaml:"port" json:"port"`
	Realm        *string   `yaml:"realm" json:"realm"`
	Users        *[]string `yaml:"users" json:"users"`
	RelayPortMin *uint16   `yaml:"relayPortMin" json:"relayPortMin"`
	RelayPortMax *uint16   `yaml:"relayPortMax" json:"relayPortMax"`
}

func (r RawTURNConfig) ToDomain() TURNConfig {
	var cfg TURNConfig
	if r.PublicIP != nil {
		cfg.PublicIP = *r.PublicIP
	}
	if r.PublicIPv6 != nil {
		cfg.PublicIPv6 = *r.PublicIPv6
	}
	if r.Port != nil {
		cfg.Port = *r.Port
	}
	if r.Realm != nil {
		cfg.Realm = *r.Realm
	}
	if r.Users != nil {
		cfg.Users = *r.Users
	}
	if r.RelayPortMin != nil {
		cfg.RelayPortMin = *r.RelayPortMin
	}
	if r.RelayPortMax != nil {
		cfg.RelayPortMax = *r.RelayPortMax
	}
	return cfg
}

type RawLogConfig struct {
	Level   *string `yaml:"level" json:"level"`
	NoColor *bool   `yaml:"noColor" json:"noColor"`
}

func (r RawLogConfig) ToDomain() LogConfig {
	var cfg LogConfig
	if r.Level != nil {
		cfg.Level = strings.ToLower(*r.Level)
	}
	if r.NoColor != nil {
		cfg.NoColor = *r.NoColor
	}
	return cfg
}

func parseCodecs(rawCodecs []RawCodec) ([]Codec, error) {
	result := make([]Codec, 0, len(rawCodecs))

	for _, rawCodec := range rawCodecs {
		codecType := webrtc.NewRTPCodecType(rawCodec.Type)
		if codecType == 0 {
			return nil, fmt.Errorf("unknown codec type %q for %s", rawCodec.Type, rawCodec.Params.MimeType)
		}

		capability := webrtc.RTPCodecCapability{
			MimeType:  rawCodec.Params.MimeType,
			ClockRate: rawCodec.Params.ClockRate,
			Channels:  rawCodec.Params.Channels,
		}

		if strings.HasPrefix(strings.ToLower(rawCodec.Params.MimeType), "video/") {
			capability.RTCPFeedback = videoFeedback()
		}

		params := webrtc.RTPCodecParameters{
			RTPCodecCapability: capability,
			PayloadType:        webrtc.PayloadType(rawCodec.Params.PayloadType),
		}

		result = append(result, Codec{Params: params, Type: codecType})
	}

	return result, nil
}
