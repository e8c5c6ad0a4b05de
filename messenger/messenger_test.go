package messenger

import (
	"context"
	"testing"
	"time"

	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/stretchr/testify/require"

	"github.com/myelnet/clipmesh/clip"
	"github.com/myelnet/clipmesh/wire"
)

func genPeerID(t *testing.T) peer.ID {
	t.Helper()
	_, pub, err := crypto.GenerateKeyPair(crypto.Ed25519, 0)
	require.NoError(t, err)
	id, err := peer.IDFromPublicKey(pub)
	require.NoError(t, err)
	return id
}

func TestClipMessengerDeliversOnlyFromTrustedSender(t *testing.T) {
	net := newFakeNetwork()
	aID, bID, xID := genPeerID(t), genPeerID(t), genPeerID(t)
	a := net.newTransport(aID)
	b := net.newTransport(bID)
	a.connect(bID)

	trusted := map[string]bool{aID.String(): true}
	isTrusted := func(id string) bool { return trusted[id] }

	mb := NewClipMessenger(b, isTrusted)
	received := make(chan clip.Message, 1)
	mb.OnClip(func(_ peer.ID, msg clip.Message) { received <- msg })

	ma := NewClipMessenger(a, isTrusted)
	msg := clip.Message{Type: "CLIP", From: aID.String(), Clip: clip.Clip{ID: "c1", Type: clip.TypeText, Content: "hi"}}
	require.NoError(t, ma.Send(context.Background(), bID.String(), msg))

	select {
	case got := <-received:
		require.Equal(t, "c1", got.Clip.ID)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for trusted clip")
	}

	// Now from an untrusted sender: dropped silently.
	untrusted := net.newTransport(xID)
	mx := NewClipMessenger(untrusted, isTrusted)
	require.NoError(t, mx.Send(context.Background(), bID.String(), clip.Message{Type: "CLIP", From: xID.String()}))

	select {
	case got := <-received:
		t.Fatalf("expected no delivery from untrusted sender, got %+v", got)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestClipMessengerBroadcastReachesAllConnectedPeers(t *testing.T) {
	net := newFakeNetwork()
	aID, bID, cID := genPeerID(t), genPeerID(t), genPeerID(t)
	a := net.newTransport(aID)
	b := net.newTransport(bID)
	c := net.newTransport(cID)
	a.connect(bID)
	a.connect(cID)

	isTrusted := func(string) bool { return true }
	ma := NewClipMessenger(a, isTrusted)

	var gotB, gotC clip.Message
	doneB := make(chan struct{})
	doneC := make(chan struct{})
	NewClipMessenger(b, isTrusted).OnClip(func(_ peer.ID, m clip.Message) { gotB = m; close(doneB) })
	NewClipMessenger(c, isTrusted).OnClip(func(_ peer.ID, m clip.Message) { gotC = m; close(doneC) })

	require.NoError(t, ma.Broadcast(context.Background(), clip.Message{Type: "CLIP", From: aID.String(), Clip: clip.Clip{ID: "bcast"}}))

	for _, done := range []chan struct{}{doneB, doneC} {
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for broadcast delivery")
		}
	}
	require.Equal(t, "bcast", gotB.Clip.ID)
	require.Equal(t, "bcast", gotC.Clip.ID)
}

func TestTrustMessengerRequestAckRoundtripUngated(t *testing.T) {
	net := newFakeNetwork()
	aID, bID := genPeerID(t), genPeerID(t)
	a := net.newTransport(aID)
	b := net.newTransport(bID)

	ma := NewTrustMessenger(a)
	mb := NewTrustMessenger(b)

	gotReq := make(chan wire.TrustRequest, 1)
	mb.OnRequest(func(_ peer.ID, req wire.TrustRequest) { gotReq <- req })

	req := wire.TrustRequest{Type: wire.TypeTrustRequest, From: aID.String(), To: bID.String()}
	require.NoError(t, ma.SendRequest(context.Background(), bID.String(), req))

	select {
	case r := <-gotReq:
		require.Equal(t, aID.String(), r.From)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for trust-request")
	}

	gotAck := make(chan wire.TrustAck, 1)
	ma.OnAck(func(_ peer.ID, ack wire.TrustAck) { gotAck <- ack })

	ack := wire.TrustAck{Type: wire.TypeTrustAck, From: bID.String(), To: aID.String(), Payload: wire.TrustAckPayload{Accepted: true, Request: req}}
	require.NoError(t, mb.SendAck(context.Background(), aID.String(), ack))

	select {
	case got := <-gotAck:
		require.True(t, got.Payload.Accepted)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for trust-ack")
	}
}

func TestHistoryMessengerRequestResyncRoundtrip(t *testing.T) {
	net := newFakeNetwork()
	aID, bID := genPeerID(t), genPeerID(t)
	a := net.newTransport(aID)
	b := net.newTransport(bID)

	isTrusted := func(string) bool { return true }
	ma := NewHistoryMessenger(a, isTrusted)
	mb := NewHistoryMessenger(b, isTrusted)

	mb.OnRequest(func(from peer.ID, req wire.HistoryRequest) {
		reply := wire.HistoryReply{
			Type:  wire.TypeHistoryReply,
			From:  bID.String(),
			Clips: []clip.Clip{{ID: "h1", Type: clip.TypeText, Content: "old"}},
		}
		require.NoError(t, mb.Reply(context.Background(), req.From, reply))
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	reply, err := ma.RequestResync(ctx, aID.String(), bID.String())
	require.NoError(t, err)
	require.Len(t, reply.Clips, 1)
	require.Equal(t, "h1", reply.Clips[0].ID)
}
