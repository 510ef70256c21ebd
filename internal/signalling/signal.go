package signalling

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/pion/webrtc/v4"
)

var ErrMalformedSignal = errors.New("malformed signal")

type Kind int

const (
	KindOffer Kind = iota + 1
	KindAnswer
	KindCandidate
	// KindEndOfCandidates is a candidate message without a candidate, sent when gathering completes.
	KindEndOfCandidates
)

func (k Kind) String() string {
	switch k {
	case KindOffer:
		return "offer"
	case KindAnswer:
		return "answer"
	case KindCandidate:
		return "candidate"
	case KindEndOfCandidates:
		return "end_of_candidates"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Signal is one negotiation message. Description is set for offers and answers,
// Candidate for KindCandidate.
type Signal struct {
	Kind        Kind
	Description webrtc.SessionDescription
	Candidate   webrtc.ICECandidateInit
}

func NewOffer(sdp string) Signal {
	return Signal{Kind: KindOffer, Description: webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sdp}}
}

func NewAnswer(sdp string) Signal {
	return Signal{Kind: KindAnswer, Description: webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sdp}}
}

func NewCandidate(c webrtc.ICECandidateInit) Signal {
	return Signal{Kind: KindCandidate, Candidate: c}
}

func NewEndOfCandidates() Signal {
	return Signal{Kind: KindEndOfCandidates}
}

type description struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

func (s Signal) MarshalJSON() ([]byte, error) {
	switch s.Kind {
	case KindOffer, KindAnswer:
		return json.Marshal(map[string]description{
			"sdp": {Type: s.Kind.String(), SDP: s.Description.SDP},
		})
	case KindCandidate:
		return json.Marshal(map[string]webrtc.ICECandidateInit{"candidate": s.Candidate})
	case KindEndOfCandidates:
		return []byte(`{"candidate":null}`), nil
	default:
		return nil, fmt.Errorf("%w: unknown kind %s", ErrMalformedSignal, s.Kind)
	}
}

// DecodeSignal parses the payload JSON. Anything that is neither an sdp nor a candidate
// message is reported as ErrMalformedSignal.
func DecodeSignal(data []byte) (Signal, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return Signal{}, fmt.Errorf("%w: %v", ErrMalformedSignal, err)
	}

	if raw, ok := fields["sdp"]; ok && !isNull(raw) {
		var d description
		if err := json.Unmarshal(raw, &d); err != nil {
			return Signal{}, fmt.Errorf("%w: sdp: %v", ErrMalformedSignal, err)
		}
		if d.SDP == "" {
			return Signal{}, fmt.Errorf("%w: empty sdp", ErrMalformedSignal)
		}
		switch d.Type {
		case "offer":
			return NewOffer(d.SDP), nil
		case "answer":
			return NewAnswer(d.SDP), nil
		default:
			return Signal{}, fmt.Errorf("%w: unsupported sdp type %q", ErrMalformedSignal, d.Type)
		}
	}

	if raw, ok := fields["candidate"]; ok {
		if isNull(raw) || bytes.Equal(bytes.TrimSpace(raw), []byte(`""`)) {
			return NewEndOfCandidates(), nil
		}
		var c webrtc.ICECandidateInit
		if err := json.Unmarshal(raw, &c); err != nil {
			return Signal{}, fmt.Errorf("%w: candidate: %v", ErrMalformedSignal, err)
		}
		if c.Candidate == "" {
			return NewEndOfCandidates(), nil
		}
		return NewCandidate(c), nil
	}

	return Signal{}, fmt.Errorf("%w: neither sdp nor candidate", ErrMalformedSignal)
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}
