package call

import (
	"fmt"

	"github.com/irdkwmnsb/webrtc-meeting/internal/config"
	"github.com/pion/ice/v4"
	"github.com/pion/interceptor"
	"github.com/pion/interceptor/pkg/intervalpli"
	"github.com/pion/webrtc/v4"
)

// API creates negotiators sharing one media engine and setting engine.
type API struct {
	api           *webrtc.API
	configuration webrtc.Configuration
	disableAudio  bool
}

// NewAPI registers the configured codecs with the default interceptors and a periodic PLI
// sender, and applies the network settings of cfg.
func NewAPI(cfg config.WebRTCConfig) (*API, error) {
	mediaEngine := &webrtc.MediaEngine{}
	codecs := cfg.Codecs
	if len(codecs) == 0 {
		codecs = config.DefaultCodecs()
	}
	for _, codec := range codecs {
		if err := mediaEngine.RegisterCodec(codec.Params, codec.Type); err != nil {
			return nil, fmt.Errorf("failed to register codec %s: %w", codec.Params.MimeType, err)
		}
	}

	interceptorRegistry := &interceptor.Registry{}

	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, interceptorRegistry); err != nil {
		return nil, fmt.Errorf("failed to register default interceptors: %w", err)
	}

	pliFactory, err := intervalpli.NewReceiverInterceptor()
	if err != nil {
		return nil, fmt.Errorf("failed to create PLI factory: %w", err)
	}

	interceptorRegistry.Add(pliFactory)

	se := webrtc.SettingEngine{}
	if cfg.PublicIP != "" {
		se.SetNAT1To1IPs([]string{cfg.PublicIP}, webrtc.ICECandidateTypeHost)
	}

	if cfg.PortMin > 0 && cfg.PortMax > 0 {
		if err := se.SetEphemeralUDPPortRange(cfg.PortMin, cfg.PortMax); err != nil {
			return nil, fmt.Errorf("failed to set WebRTC port range: %w", err)
		}
	}

	se.SetIncludeLoopbackCandidate(cfg.IncludeLoopback)

	switch cfg.MulticastDNS {
	case config.MulticastDNSQuery:
		se.SetICEMulticastDNSMode(ice.MulticastDNSModeQueryOnly)
	case config.MulticastDNSGather:
		se.SetICEMulticastDNSMode(ice.MulticastDNSModeQueryAndGather)
	default:
		se.SetICEMulticastDNSMode(ice.MulticastDNSModeDisabled)
	}

	return &API{
		api: webrtc.NewAPI(
			webrtc.WithMediaEngine(mediaEngine),
			webrtc.WithInterceptorRegistry(interceptorRegistry),
			webrtc.WithSettingEngine(se),
		),
		configuration: cfg.Configuration(),
		disableAudio:  cfg.DisableAudio,
	}, nil
}
