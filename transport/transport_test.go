package transport

import (
	"context"
	"testing"
	"time"

	"github.com/libp2p/go-libp2p"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
	"github.com/stretchr/testify/require"
)

// newTestHost builds a minimal real libp2p host on loopback TCP (default
// security/muxer selection), wrapped as a Transport. Production nodes go
// through New, which adds the full websocket/webrtc/relay option set; tests
// only need two dialable hosts.
func newTestHost(t *testing.T) *Transport {
	t.Helper()
	h, err := libp2p.New(libp2p.ListenAddrStrings("/ip4/127.0.0.1/tcp/0"))
	require.NoError(t, err)
	tr := wrap(h, nil)
	tr.start(context.Background())
	t.Cleanup(func() { _ = tr.Close() })
	return tr
}

func addrInfo(t *Transport) peer.AddrInfo {
	return peer.AddrInfo{ID: t.Host().ID(), Addrs: t.Host().Addrs()}
}

func TestSendByPeerIDDeliversToHandler(t *testing.T) {
	a := newTestHost(t)
	b := newTestHost(t)

	received := make(chan []byte, 1)
	var buf []byte
	b.RegisterProtocol(protocol.ID("/test/1.0.0"), func(from peer.ID, data []byte, final bool) {
		require.Equal(t, a.Host().ID(), from)
		buf = append(buf, data...)
		if final {
			received <- buf
		}
	})

	require.NoError(t, a.Host().Connect(context.Background(), addrInfo(b)))

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	require.NoError(t, a.Send(ctx, protocol.ID("/test/1.0.0"), b.Host().ID().String(), []byte("hello")))

	select {
	case data := <-received:
		require.Equal(t, "hello", string(data))
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
	}
}

func TestSendByMultiaddrDialsAndDelivers(t *testing.T) {
	a := newTestHost(t)
	b := newTestHost(t)

	received := make(chan []byte, 1)
	var buf []byte
	b.RegisterProtocol(protocol.ID("/test/1.0.0"), func(_ peer.ID, data []byte, final bool) {
		buf = append(buf, data...)
		if final {
			received <- buf
		}
	})

	bAddrs, err := peer.AddrInfoToP2pAddrs(&peer.AddrInfo{ID: b.Host().ID(), Addrs: b.Host().Addrs()})
	require.NoError(t, err)
	require.NotEmpty(t, bAddrs)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	require.NoError(t, a.Send(ctx, protocol.ID("/test/1.0.0"), bAddrs[0].String(), []byte("direct")))

	select {
	case data := <-received:
		require.Equal(t, "direct", string(data))
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
	}
}

func TestSendToUnconnectedPeerIDFails(t *testing.T) {
	a := newTestHost(t)
	b := newTestHost(t)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	err := a.Send(ctx, protocol.ID("/test/1.0.0"), b.Host().ID().String(), []byte("x"))
	require.Error(t, err)
}

func TestOnPeerConnectedFiresForRegularPeer(t *testing.T) {
	a := newTestHost(t)
	b := newTestHost(t)

	connected := make(chan peer.ID, 1)
	a.OnPeerConnected(func(p peer.ID) { connected <- p })

	require.NoError(t, a.Host().Connect(context.Background(), addrInfo(b)))

	select {
	case p := <-connected:
		require.Equal(t, b.Host().ID(), p)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for peer-connected event")
	}
}

func TestConfiguredRelayFiresRelayStatusNotPeerConnected(t *testing.T) {
	a := newTestHost(t)
	relay := newTestHost(t)
	a.AddRelay(relay.Host().ID())

	var relayUp bool
	relayCh := make(chan bool, 1)
	a.OnRelayStatus(func(_ peer.ID, up bool) { relayUp = up; relayCh <- up })

	peerCh := make(chan peer.ID, 1)
	a.OnPeerConnected(func(p peer.ID) { peerCh <- p })

	require.NoError(t, a.Host().Connect(context.Background(), addrInfo(relay)))

	select {
	case <-relayCh:
		require.True(t, relayUp)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for relay-status event")
	}

	select {
	case p := <-peerCh:
		t.Fatalf("expected no peer-connected event for configured relay, got %s", p)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestConnectedPeersExcludesRelays(t *testing.T) {
	a := newTestHost(t)
	relay := newTestHost(t)
	peerHost := newTestHost(t)
	a.AddRelay(relay.Host().ID())

	require.NoError(t, a.Host().Connect(context.Background(), addrInfo(relay)))
	require.NoError(t, a.Host().Connect(context.Background(), addrInfo(peerHost)))

	require.Eventually(t, func() bool {
		peers := a.ConnectedPeers()
		return len(peers) == 1 && peers[0] == peerHost.Host().ID()
	}, 2*time.Second, 20*time.Millisecond)
}

func TestUnsubscribeStopsFurtherDelivery(t *testing.T) {
	a := newTestHost(t)
	b := newTestHost(t)

	connected := make(chan peer.ID, 1)
	id := a.OnPeerConnected(func(p peer.ID) { connected <- p })
	a.Unsubscribe(id)

	require.NoError(t, a.Host().Connect(context.Background(), addrInfo(b)))

	select {
	case p := <-connected:
		t.Fatalf("expected no delivery after unsubscribe, got %s", p)
	case <-time.After(300 * time.Millisecond):
	}
}
