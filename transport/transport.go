// Package transport implements the Messaging transport (spec.md §4.5): one
// libp2p node per process, noise-encrypted, multiplexed with libp2p's
// default muxer set (mplex is not configured), reachable over
// WebSocket and (optionally) WebRTC, with a circuit-relay-v2 client for
// relay-fallback connectivity. It registers per-protocol stream handlers,
// tracks peer vs. relay connection lifecycle, and deduplicates
// self-address-update signals.
//
// This generalizes node/popn.go's single libp2p.New(...) call (one fixed
// option set, one hardcoded protocol) into a protocol-registration table
// any number of callers (the protocol messengers) can share.
package transport

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/libp2p/go-libp2p"
	connmgr "github.com/libp2p/go-libp2p-connmgr"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/event"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
	circuit "github.com/libp2p/go-libp2p/p2p/protocol/circuitv2/client"
	"github.com/libp2p/go-libp2p/p2p/security/noise"
	"github.com/libp2p/go-libp2p/p2p/transport/webrtc"
	"github.com/libp2p/go-libp2p/p2p/transport/websocket"
	ma "github.com/multiformats/go-multiaddr"
	"github.com/rs/zerolog/log"

	"github.com/myelnet/clipmesh/coreerrors"
)

// Well-known stream protocol identifiers (spec.md §6).
const (
	ProtocolClip    = protocol.ID("/clipboard/clip/1.0.0")
	ProtocolTrust   = protocol.ID("/clipboard/trust/1.0.0")
	ProtocolHistory = protocol.ID("/clipboard/history/1.0.0")
)

// readChunkSize bounds a single Read call; spec.md §4.5 requires chunks
// delivered to onMessage match what the writer produced ("the transport
// does not re-frame"), so this is just an I/O buffer size, not a framing
// unit — a write smaller than this arrives as one chunk.
const readChunkSize = 64 * 1024

// Config configures a Transport's libp2p node.
type Config struct {
	// Identity is the local libp2p private key (from identity.DeviceIdentity.PrivKey()).
	Identity crypto.PrivKey
	// ListenAddrs are multiaddr strings to listen on.
	ListenAddrs []string
	// RelayPeers are the configured relay servers; connections to them are
	// reported as relay-status, not onPeerConnected/Disconnected.
	RelayPeers []peer.AddrInfo
	// EnableWebRTC turns on the WebRTC direct/outgoing transport.
	EnableWebRTC bool
}

// MessageHandler receives one inbound chunk from a peer on a protocol.
// final is true on the chunk that ends the stream (possibly a zero-length
// chunk), letting callers that need whole messages — the protocol
// messengers — know when to stop accumulating. The transport itself never
// reassembles; it only marks the boundary.
type MessageHandler func(from peer.ID, data []byte, final bool)

// Transport is the single per-process messaging node.
type Transport struct {
	host host.Host

	relayMu sync.RWMutex
	relays  map[peer.ID]struct{}

	handlersMu sync.Mutex
	handlers   map[protocol.ID][]MessageHandler

	subsMu          sync.Mutex
	nextSub         int
	peerConnected   map[int]func(peer.ID)
	peerDisconn     map[int]func(peer.ID)
	relayStatus     map[int]func(peer.ID, bool)
	selfAddrUpdated map[int]func([]ma.Multiaddr)

	lastAddrHashMu sync.Mutex
	lastAddrHash   [32]byte

	cancelEventLoop context.CancelFunc
}

// New starts a Transport: a libp2p host with noise security, libp2p's
// default muxers (libp2p.DefaultMuxers; mplex is not among those set here),
// WebSocket (+ optional WebRTC) transports, and a circuit-relay-v2 client.
func New(ctx context.Context, cfg Config) (*Transport, error) {
	opts := []libp2p.Option{
		libp2p.Identity(cfg.Identity),
		libp2p.ListenAddrStrings(cfg.ListenAddrs...),
		libp2p.Security(noise.ID, noise.New),
		libp2p.DefaultMuxers,
		libp2p.Transport(websocket.New),
		libp2p.ConnectionManager(mustConnManager()),
		libp2p.EnableRelay(),
		libp2p.EnableNATService(),
		libp2p.NATPortMap(),
	}
	if cfg.EnableWebRTC {
		opts = append(opts, libp2p.Transport(webrtc.New))
	}
	if len(cfg.RelayPeers) > 0 {
		opts = append(opts, libp2p.EnableAutoRelayWithStaticRelays(cfg.RelayPeers))
	}

	h, err := libp2p.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("transport: new host: %w", err)
	}
	t := wrap(h, cfg.RelayPeers)
	t.start(ctx)
	return t, nil
}

// wrap builds a Transport around an already-constructed host, used both by
// New and directly by tests that want a minimal host (e.g. TCP-only on
// loopback) without the full production transport/security stack.
func wrap(h host.Host, relays []peer.AddrInfo) *Transport {
	t := &Transport{
		host:            h,
		relays:          make(map[peer.ID]struct{}, len(relays)),
		handlers:        make(map[protocol.ID][]MessageHandler),
		peerConnected:   make(map[int]func(peer.ID)),
		peerDisconn:     make(map[int]func(peer.ID)),
		relayStatus:     make(map[int]func(peer.ID, bool)),
		selfAddrUpdated: make(map[int]func([]ma.Multiaddr)),
	}
	for _, r := range relays {
		t.relays[r.ID] = struct{}{}
	}
	return t
}

func mustConnManager() *connmgr.BasicConnMgr {
	cm, err := connmgr.NewConnManager(20, 60)
	if err != nil {
		// Fixed, valid watermarks; this cannot fail in practice.
		panic(err)
	}
	return cm
}

func (t *Transport) start(ctx context.Context) {
	eventCtx, cancel := context.WithCancel(ctx)
	t.cancelEventLoop = cancel

	t.host.Network().Notify(&network.NotifyBundle{
		ConnectedF:    func(_ network.Network, c network.Conn) { t.onConnected(c.RemotePeer()) },
		DisconnectedF: func(_ network.Network, c network.Conn) { t.onDisconnected(c.RemotePeer()) },
	})

	sub, err := t.host.EventBus().Subscribe(new(event.EvtLocalAddressesUpdated))
	if err != nil {
		log.Warn().Err(err).Msg("transport: subscribe to address updates failed")
		return
	}
	go func() {
		defer sub.Close()
		for {
			select {
			case <-eventCtx.Done():
				return
			case evt, ok := <-sub.Out():
				if !ok {
					return
				}
				e := evt.(event.EvtLocalAddressesUpdated)
				addrs := make([]ma.Multiaddr, 0, len(e.Current))
				for _, u := range e.Current {
					addrs = append(addrs, u.Address)
				}
				t.handleSelfAddrUpdate(addrs)
			}
		}
	}()
}

func (t *Transport) isRelay(p peer.ID) bool {
	t.relayMu.RLock()
	defer t.relayMu.RUnlock()
	_, ok := t.relays[p]
	return ok
}

func (t *Transport) onConnected(p peer.ID) {
	if t.isRelay(p) {
		t.fireRelayStatus(p, true)
		return
	}
	t.firePeerConnected(p)
}

func (t *Transport) onDisconnected(p peer.ID) {
	if t.isRelay(p) {
		t.fireRelayStatus(p, false)
		return
	}
	t.firePeerDisconnected(p)
}

func (t *Transport) handleSelfAddrUpdate(addrs []ma.Multiaddr) {
	h := hashAddrs(addrs)
	t.lastAddrHashMu.Lock()
	if h == t.lastAddrHash {
		t.lastAddrHashMu.Unlock()
		return
	}
	t.lastAddrHash = h
	t.lastAddrHashMu.Unlock()
	t.fireSelfAddrUpdated(addrs)
}

func hashAddrs(addrs []ma.Multiaddr) [32]byte {
	strs := make([]string, len(addrs))
	for i, a := range addrs {
		strs[i] = a.String()
	}
	// Sorted so the same address set hashes the same whatever order it is
	// reported in: duplicate sets collapse to one event.
	sort.Strings(strs)
	var buf bytes.Buffer
	for _, s := range strs {
		buf.WriteString(s)
		buf.WriteByte(0)
	}
	return sha256.Sum256(buf.Bytes())
}

// RegisterProtocol installs a stream handler for id. Inbound reads are
// delivered to cb one chunk at a time, in the order received, matching
// whatever the writer produced (spec.md §4.5's "transport does not
// re-frame").
func (t *Transport) RegisterProtocol(id protocol.ID, cb MessageHandler) {
	t.handlersMu.Lock()
	t.handlers[id] = append(t.handlers[id], cb)
	t.handlersMu.Unlock()

	t.host.SetStreamHandler(id, func(s network.Stream) {
		defer s.Close()
		remote := s.Conn().RemotePeer()
		buf := make([]byte, readChunkSize)
		for {
			n, err := s.Read(buf)
			if n > 0 {
				chunk := make([]byte, n)
				copy(chunk, buf[:n])
				t.deliver(id, remote, chunk, err != nil)
			}
			if err != nil {
				if err != io.EOF {
					log.Debug().Err(err).Str("peer", remote.String()).Str("proto", string(id)).
						Msg("transport: stream read ended")
				}
				if n == 0 {
					t.deliver(id, remote, nil, true)
				}
				return
			}
		}
	})
}

func (t *Transport) deliver(id protocol.ID, from peer.ID, data []byte, final bool) {
	t.handlersMu.Lock()
	cbs := append([]MessageHandler(nil), t.handlers[id]...)
	t.handlersMu.Unlock()
	for _, cb := range cbs {
		cb(from, data, final)
	}
}

// Send delivers bytes on protocol id to target. If target starts with "/"
// it is parsed as a multiaddr and dialed directly; otherwise it is treated
// as a peer ID string and requires an existing connection
// (coreerrors.ErrPeerNotConnected otherwise). Limited (relay-bound)
// connections are acceptable in both cases.
func (t *Transport) Send(ctx context.Context, id protocol.ID, target string, data []byte) error {
	var pid peer.ID

	if len(target) > 0 && target[0] == '/' {
		addr, err := ma.NewMultiaddr(target)
		if err != nil {
			return fmt.Errorf("transport: parse target addr: %w", err)
		}
		info, err := peer.AddrInfoFromP2pAddr(addr)
		if err != nil {
			return fmt.Errorf("transport: target addr missing /p2p/<id>: %w", err)
		}
		if err := t.host.Connect(ctx, *info); err != nil {
			return fmt.Errorf("transport: dial %s: %w", target, err)
		}
		pid = info.ID
	} else {
		decoded, err := peer.Decode(target)
		if err != nil {
			return fmt.Errorf("transport: parse target peer id: %w", err)
		}
		pid = decoded
		if t.host.Network().Connectedness(pid) != network.Connected {
			return fmt.Errorf("transport: send to %s: %w", target, coreerrors.ErrPeerNotConnected)
		}
	}

	s, err := t.host.NewStream(network.WithUseTransient(ctx, "clipmesh"), pid, id)
	if err != nil {
		return fmt.Errorf("transport: open stream: %w", err)
	}
	if dl, ok := ctx.Deadline(); ok {
		_ = s.SetWriteDeadline(dl)
	}
	if _, err := s.Write(data); err != nil {
		_ = s.Reset()
		return fmt.Errorf("transport: write: %w", err)
	}
	return s.CloseWrite()
}

// ConnectedPeers returns the currently connected peers other than the
// configured relays. A peer reached through a relay circuit is included.
func (t *Transport) ConnectedPeers() []peer.ID {
	var out []peer.ID
	for _, p := range t.host.Network().Peers() {
		if t.isRelay(p) {
			continue
		}
		if t.host.Network().Connectedness(p) == network.Connected {
			out = append(out, p)
		}
	}
	return out
}

// Host exposes the underlying libp2p host for the connectivity engine's
// direct dialing, relay reservation, and rendezvous-stream needs.
func (t *Transport) Host() host.Host { return t.host }

// AddRelay marks p as a configured relay peer so its connection events are
// reported through OnRelayStatus rather than OnPeerConnected/Disconnected.
func (t *Transport) AddRelay(p peer.ID) {
	t.relayMu.Lock()
	t.relays[p] = struct{}{}
	t.relayMu.Unlock()
}

// ── subscriptions ────────────────────────────────────────────────────────

// OnPeerConnected registers cb for non-relay peer connections and returns
// an unsubscribe handle.
func (t *Transport) OnPeerConnected(cb func(peer.ID)) int {
	t.subsMu.Lock()
	defer t.subsMu.Unlock()
	id := t.nextSub
	t.nextSub++
	t.peerConnected[id] = cb
	return id
}

// OnPeerDisconnected registers cb for non-relay peer disconnections.
func (t *Transport) OnPeerDisconnected(cb func(peer.ID)) int {
	t.subsMu.Lock()
	defer t.subsMu.Unlock()
	id := t.nextSub
	t.nextSub++
	t.peerDisconn[id] = cb
	return id
}

// OnRelayStatus registers cb for connect(true)/disconnect(false) events to
// configured relay peers.
func (t *Transport) OnRelayStatus(cb func(peer.ID, bool)) int {
	t.subsMu.Lock()
	defer t.subsMu.Unlock()
	id := t.nextSub
	t.nextSub++
	t.relayStatus[id] = cb
	return id
}

// OnSelfAddressUpdate registers cb for deduplicated self-address changes.
func (t *Transport) OnSelfAddressUpdate(cb func([]ma.Multiaddr)) int {
	t.subsMu.Lock()
	defer t.subsMu.Unlock()
	id := t.nextSub
	t.nextSub++
	t.selfAddrUpdated[id] = cb
	return id
}

// Unsubscribe removes a subscription created by any On* method above.
func (t *Transport) Unsubscribe(id int) {
	t.subsMu.Lock()
	defer t.subsMu.Unlock()
	delete(t.peerConnected, id)
	delete(t.peerDisconn, id)
	delete(t.relayStatus, id)
	delete(t.selfAddrUpdated, id)
}

func (t *Transport) firePeerConnected(p peer.ID) {
	t.subsMu.Lock()
	cbs := make([]func(peer.ID), 0, len(t.peerConnected))
	for _, cb := range t.peerConnected {
		cbs = append(cbs, cb)
	}
	t.subsMu.Unlock()
	for _, cb := range cbs {
		cb(p)
	}
}

func (t *Transport) firePeerDisconnected(p peer.ID) {
	t.subsMu.Lock()
	cbs := make([]func(peer.ID), 0, len(t.peerDisconn))
	for _, cb := range t.peerDisconn {
		cbs = append(cbs, cb)
	}
	t.subsMu.Unlock()
	for _, cb := range cbs {
		cb(p)
	}
}

func (t *Transport) fireRelayStatus(p peer.ID, up bool) {
	t.subsMu.Lock()
	cbs := make([]func(peer.ID, bool), 0, len(t.relayStatus))
	for _, cb := range t.relayStatus {
		cbs = append(cbs, cb)
	}
	t.subsMu.Unlock()
	for _, cb := range cbs {
		cb(p, up)
	}
}

func (t *Transport) fireSelfAddrUpdated(addrs []ma.Multiaddr) {
	t.subsMu.Lock()
	cbs := make([]func([]ma.Multiaddr), 0, len(t.selfAddrUpdated))
	for _, cb := range t.selfAddrUpdated {
		cbs = append(cbs, cb)
	}
	t.subsMu.Unlock()
	for _, cb := range cbs {
		cb(addrs)
	}
}

// Reserve asks relay to hold a circuit-relay-v2 reservation for this host,
// retried by the connectivity engine on coreerrors.ErrNoReservation.
func (t *Transport) Reserve(ctx context.Context, relay peer.AddrInfo) error {
	if err := t.host.Connect(ctx, relay); err != nil {
		return fmt.Errorf("transport: connect relay %s: %w", relay.ID, err)
	}
	t.AddRelay(relay.ID)
	if _, err := circuit.Reserve(ctx, t.host, relay); err != nil {
		return fmt.Errorf("%w: %v", coreerrors.ErrNoReservation, err)
	}
	return nil
}

// Close shuts the node down.
func (t *Transport) Close() error {
	if t.cancelEventLoop != nil {
		t.cancelEventLoop()
	}
	return t.host.Close()
}
