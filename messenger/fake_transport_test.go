package messenger

import (
	"context"
	"fmt"
	"sync"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"

	"github.com/myelnet/clipmesh/transport"
)

// fakeNetwork wires a handful of fakeTransports together in-process, so
// messenger tests exercise real send/assemble/dispatch code without paying
// for real libp2p hosts.
type fakeNetwork struct {
	mu    sync.Mutex
	nodes map[peer.ID]*fakeTransport
}

func newFakeNetwork() *fakeNetwork { return &fakeNetwork{nodes: make(map[peer.ID]*fakeTransport)} }

func (n *fakeNetwork) newTransport(id peer.ID) *fakeTransport {
	t := &fakeTransport{id: id, net: n, handlers: make(map[protocol.ID]transport.MessageHandler)}
	n.mu.Lock()
	n.nodes[id] = t
	n.mu.Unlock()
	return t
}

type fakeTransport struct {
	id  peer.ID
	net *fakeNetwork

	mu       sync.Mutex
	handlers map[protocol.ID]transport.MessageHandler

	connMu    sync.Mutex
	connected []peer.ID
}

func (t *fakeTransport) RegisterProtocol(id protocol.ID, cb transport.MessageHandler) {
	t.mu.Lock()
	t.handlers[id] = cb
	t.mu.Unlock()
}

func (t *fakeTransport) connect(p peer.ID) {
	t.connMu.Lock()
	t.connected = append(t.connected, p)
	t.connMu.Unlock()
}

func (t *fakeTransport) ConnectedPeers() []peer.ID {
	t.connMu.Lock()
	defer t.connMu.Unlock()
	out := make([]peer.ID, len(t.connected))
	copy(out, t.connected)
	return out
}

// Send looks target up as a peer id in the shared network and delivers data
// split into two chunks, exercising the messenger layer's reassembly.
func (t *fakeTransport) Send(ctx context.Context, id protocol.ID, target string, data []byte) error {
	pid, err := peer.Decode(target)
	if err != nil {
		return fmt.Errorf("fakeTransport: decode target: %w", err)
	}
	t.net.mu.Lock()
	dst, ok := t.net.nodes[pid]
	t.net.mu.Unlock()
	if !ok {
		return fmt.Errorf("fakeTransport: unknown peer %s", target)
	}
	dst.mu.Lock()
	cb, ok := dst.handlers[id]
	dst.mu.Unlock()
	if !ok {
		return fmt.Errorf("fakeTransport: peer %s has no handler for %s", target, id)
	}
	if len(data) <= 1 {
		cb(t.id, data, true)
		return nil
	}
	mid := len(data) / 2
	cb(t.id, data[:mid], false)
	cb(t.id, data[mid:], true)
	return nil
}
