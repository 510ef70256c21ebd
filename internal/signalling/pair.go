package signalling

import "github.com/irdkwmnsb/webrtc-meeting/internal/backend"

// PairKey names the signal log shared by two sessions. Both sides derive the same key.
type PairKey struct {
	Low  string
	High string
}

func NewPairKey(a, b string) PairKey {
	if b < a {
		a, b = b, a
	}
	return PairKey{Low: a, High: b}
}

func (k PairKey) String() string {
	return k.Low + "/" + k.High
}

// Path is the location of the pair log inside the room's channels.
func (k PairKey) Path(roomID string) string {
	return backend.Join(backend.ChannelsPath(roomID), k.Low, k.High)
}

// IsCaller reports whether local starts the call with remote. The smaller id calls.
func IsCaller(local, remote string) bool {
	return local < remote
}
