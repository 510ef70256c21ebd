package signalling

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/irdkwmnsb/webrtc-meeting/internal/backend"
	"github.com/irdkwmnsb/webrtc-meeting/internal/backend/memory"
	"github.com/irdkwmnsb/webrtc-meeting/internal/eventloop"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPairKeyIsSymmetric(t *testing.T) {
	ids := []string{"s1", "s2", "a", "zz", "0f3c", "0f3d"}
	for _, a := range ids {
		for _, b := range ids {
			assert.Equal(t, NewPairKey(a, b), NewPairKey(b, a))
		}
	}
	assert.Equal(t, "s1/s2", NewPairKey("s2", "s1").String())
	assert.Equal(t, "channels/r1/s1/s2", NewPairKey("s2", "s1").Path("r1"))
}

func TestExactlyOneSideCalls(t *testing.T) {
	ids := []string{"s1", "s2", "alice", "bob", "9", "10"}
	for _, a := range ids {
		for _, b := range ids {
			if a == b {
				continue
			}
			assert.NotEqual(t, IsCaller(a, b), IsCaller(b, a), "%s vs %s", a, b)
			assert.Equal(t, a < b, IsCaller(a, b))
		}
	}
}

func TestDecodeSignal(t *testing.T) {
	cases := []struct {
		name string
		data string
		want Kind
	}{
		{"offer", `{"sdp":{"type":"offer","sdp":"v=0"}}`, KindOffer},
		{"answer", `{"sdp":{"type":"answer","sdp":"v=0"}}`, KindAnswer},
		{"candidate", `{"candidate":{"candidate":"candidate:1 1 udp 1 1.2.3.4 5 typ host","sdpMid":"0","sdpMLineIndex":0}}`, KindCandidate},
		{"null candidate", `{"candidate":null}`, KindEndOfCandidates},
		{"empty candidate", `{"candidate":{"candidate":""}}`, KindEndOfCandidates},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sig, err := DecodeSignal([]byte(tc.data))
			require.NoError(t, err)
			assert.Equal(t, tc.want, sig.Kind)
		})
	}
}

func TestDecodeSignalRejectsUnknownShapes(t *testing.T) {
	for _, data := range []string{
		`{}`,
		`{"hello":"world"}`,
		`{"sdp":{"type":"pranswer","sdp":"v=0"}}`,
		`{"sdp":{"type":"offer","sdp":""}}`,
		`{"candidate":42}`,
		`not json`,
	} {
		_, err := DecodeSignal([]byte(data))
		assert.ErrorIs(t, err, ErrMalformedSignal, data)
	}
}

func TestSignalJSONMatchesWireShape(t *testing.T) {
	data, err := json.Marshal(NewOffer("v=0"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"sdp":{"type":"offer","sdp":"v=0"}}`, string(data))

	mid := "0"
	data, err = json.Marshal(NewCandidate(webrtc.ICECandidateInit{Candidate: "candidate:1", SDPMid: &mid}))
	require.NoError(t, err)

	decoded, err := DecodeSignal(data)
	require.NoError(t, err)
	assert.Equal(t, KindCandidate, decoded.Kind)
	assert.Equal(t, "candidate:1", decoded.Candidate.Candidate)
	require.NotNil(t, decoded.Candidate.SDPMid)
	assert.Equal(t, "0", *decoded.Candidate.SDPMid)

	data, err = json.Marshal(NewEndOfCandidates())
	require.NoError(t, err)
	assert.JSONEq(t, `{"candidate":null}`, string(data))
}

type inbox struct {
	mu      sync.Mutex
	signals []Signal
}

func (i *inbox) add(s Signal) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.signals = append(i.signals, s)
}

func (i *inbox) kinds() []Kind {
	i.mu.Lock()
	defer i.mu.Unlock()
	kinds := make([]Kind, 0, len(i.signals))
	for _, s := range i.signals {
		kinds = append(kinds, s.Kind)
	}
	return kinds
}

func newWriter(t *testing.T) *eventloop.Loop {
	l := eventloop.New("writes")
	t.Cleanup(l.Close)
	return l
}

func flush(t *testing.T, loops ...*eventloop.Loop) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for _, l := range loops {
		require.NoError(t, l.Flush(ctx))
	}
}

func TestChannelSuppressesOwnMessages(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	aliceConn := store.Connect()
	bobConn := store.Connect()
	writes := newWriter(t)

	alice := NewChannel(aliceConn, "r1", "s1", "s2", writes)
	bob := NewChannel(bobConn, "r1", "s2", "s1", writes)
	assert.Equal(t, alice.Key(), bob.Key())

	aliceInbox, bobInbox := &inbox{}, &inbox{}
	require.NoError(t, alice.Open(ctx, aliceInbox.add))
	require.NoError(t, bob.Open(ctx, bobInbox.add))

	alice.Send(NewOffer("v=0"))
	bob.Send(NewAnswer("v=0"))
	alice.Send(NewEndOfCandidates())
	flush(t, writes)

	assert.Eventually(t, func() bool {
		return len(aliceInbox.kinds()) == 1 && len(bobInbox.kinds()) == 2
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []Kind{KindAnswer}, aliceInbox.kinds())
	assert.Equal(t, []Kind{KindOffer, KindEndOfCandidates}, bobInbox.kinds())
}

func TestChannelFiltersBySenderIDNotPath(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	conn := store.Connect()
	third := store.Connect()
	writes := newWriter(t)

	ch := NewChannel(conn, "r1", "s1", "s2", writes)
	in := &inbox{}
	require.NoError(t, ch.Open(ctx, in.add))

	path := ch.Key().Path("r1")
	_, err := third.Append(ctx, path, Envelope{ID: "s1", Data: `{"sdp":{"type":"offer","sdp":"v=0"}}`})
	require.NoError(t, err)
	_, err = third.Append(ctx, path, Envelope{ID: "s3", Data: `{"sdp":{"type":"offer","sdp":"v=0"}}`})
	require.NoError(t, err)
	_, err = third.Append(ctx, path, Envelope{ID: "s2", Data: `{"garbage":true}`})
	require.NoError(t, err)
	_, err = third.Append(ctx, path, Envelope{ID: "s2", Data: `{"candidate":null}`})
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		return len(in.kinds()) == 2
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []Kind{KindOffer, KindEndOfCandidates}, in.kinds())
}

func TestChannelReplaysExistingLog(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	writes := newWriter(t)

	early := NewChannel(store.Connect(), "r1", "s1", "s2", writes)
	early.Send(NewOffer("v=0"))
	flush(t, writes)

	late := NewChannel(store.Connect(), "r1", "s2", "s1", writes)
	in := &inbox{}
	require.NoError(t, late.Open(ctx, in.add))

	assert.Eventually(t, func() bool {
		return len(in.kinds()) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

type failingBackend struct {
	backend.Backend
	appends int
}

func (f *failingBackend) Append(context.Context, string, any) (string, error) {
	f.appends++
	return "", errors.New("relay unavailable")
}

func TestChannelSendFailureIsNotFatal(t *testing.T) {
	fb := &failingBackend{}
	writes := newWriter(t)
	ch := NewChannel(fb, "r1", "s1", "s2", writes)

	ch.Send(NewOffer("v=0"))
	ch.Send(NewOffer("v=0"))
	flush(t, writes)

	assert.Equal(t, 2, fb.appends)
}

func TestClosedChannelStopsDelivery(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	conn := store.Connect()
	writes := newWriter(t)

	ch := NewChannel(conn, "r1", "s1", "s2", writes)
	in := &inbox{}
	require.NoError(t, ch.Open(ctx, in.add))
	ch.Close()

	peer := NewChannel(store.Connect(), "r1", "s2", "s1", writes)
	peer.Send(NewOffer("v=0"))
	flush(t, writes)

	assert.Empty(t, in.kinds())
	assert.ErrorIs(t, ch.Open(ctx, in.add), backend.ErrClosed)
}
