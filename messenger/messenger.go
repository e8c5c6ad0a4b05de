// Package messenger implements the thin typed layer over package transport
// (spec.md §4.6): per-protocol send/broadcast/receive wrappers that encode
// to and decode from JSON, plus a trust-gated variant that silently drops
// inbound messages from devices a predicate does not recognize.
//
// Generalizes exchange/replication.go's RequestStream (a typed read/write
// wrapper bound to one fixed Filecoin request shape) into a reusable
// wrapper parameterized by protocol ID, with each concrete messenger
// (clip, trust, history) owning its own decode step.
package messenger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
	"github.com/rs/zerolog/log"

	"github.com/myelnet/clipmesh/transport"
)

// Transport is the subset of *transport.Transport a messenger needs; narrowed
// the way node.RemoteStorer narrows the teacher's storage backend.
type Transport interface {
	RegisterProtocol(id protocol.ID, cb transport.MessageHandler)
	Send(ctx context.Context, id protocol.ID, target string, data []byte) error
	ConnectedPeers() []peer.ID
}

// Base wraps a Transport for one protocol, reassembling the chunked
// transport stream into whole JSON messages (spec.md §6: "written as a
// single chunk followed by end-of-write") before handing the raw bytes to
// subscribers, who decode into whatever shape(s) that protocol carries.
type Base struct {
	t       Transport
	protoID protocol.ID

	assembleMu sync.Mutex
	assembling map[peer.ID]*bytes.Buffer

	subsMu sync.Mutex
	subs   []func(from peer.ID, raw []byte)
}

// NewBase registers protoID on t and returns a Base.
func NewBase(t Transport, protoID protocol.ID) *Base {
	b := &Base{
		t:          t,
		protoID:    protoID,
		assembling: make(map[peer.ID]*bytes.Buffer),
	}
	t.RegisterProtocol(protoID, b.onChunk)
	return b
}

func (b *Base) onChunk(from peer.ID, data []byte, final bool) {
	b.assembleMu.Lock()
	buf, ok := b.assembling[from]
	if !ok {
		buf = &bytes.Buffer{}
		b.assembling[from] = buf
	}
	buf.Write(data)
	if !final {
		b.assembleMu.Unlock()
		return
	}
	full := buf.Bytes()
	delete(b.assembling, from)
	b.assembleMu.Unlock()

	if len(full) == 0 {
		return
	}
	b.dispatch(from, full)
}

func (b *Base) dispatch(from peer.ID, raw []byte) {
	b.subsMu.Lock()
	cbs := append([]func(peer.ID, []byte)(nil), b.subs...)
	b.subsMu.Unlock()
	for _, cb := range cbs {
		cb(from, raw)
	}
}

// OnMessage registers cb to receive every reassembled message's raw bytes.
func (b *Base) OnMessage(cb func(from peer.ID, raw []byte)) {
	b.subsMu.Lock()
	b.subs = append(b.subs, cb)
	b.subsMu.Unlock()
}

// Send encodes msg and writes it to target as a single chunk followed by
// end-of-write.
func (b *Base) Send(ctx context.Context, target string, msg interface{}) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("messenger: encode: %w", err)
	}
	return b.t.Send(ctx, b.protoID, target, data)
}

// Broadcast sends msg to every currently connected non-relay peer. Per-peer
// failures are logged; the call only fails if every send fails.
func (b *Base) Broadcast(ctx context.Context, msg interface{}) error {
	peers := b.t.ConnectedPeers()
	if len(peers) == 0 {
		return nil
	}
	var failures int
	for _, p := range peers {
		if err := b.Send(ctx, p.String(), msg); err != nil {
			failures++
			log.Warn().Err(err).Str("proto", string(b.protoID)).Str("peer", p.String()).
				Msg("messenger: broadcast to peer failed")
		}
	}
	if failures == len(peers) {
		return fmt.Errorf("messenger: broadcast: all %d sends failed", failures)
	}
	return nil
}

// TrustGate wraps a Base so inbound messages from devices isTrusted
// rejects are silently dropped before reaching subscribers (spec.md §4.6).
// fromDeviceID extracts the claimed sender deviceId out of the raw message
// bytes, which is what gets checked against isTrusted rather than the
// transport peer id — the two happen to share the same string space
// (spec.md §4.1), but the trust decision is defined on the message's own
// `from` field.
type TrustGate struct {
	base         *Base
	isTrusted    func(deviceID string) bool
	fromDeviceID func(raw []byte) (string, bool)

	subsMu sync.Mutex
	subs   []func(from peer.ID, raw []byte)
}

// NewTrustGate builds a TrustGate over base.
func NewTrustGate(base *Base, isTrusted func(string) bool, fromDeviceID func([]byte) (string, bool)) *TrustGate {
	g := &TrustGate{base: base, isTrusted: isTrusted, fromDeviceID: fromDeviceID}
	base.OnMessage(g.onMessage)
	return g
}

func (g *TrustGate) onMessage(from peer.ID, raw []byte) {
	deviceID, ok := g.fromDeviceID(raw)
	if !ok || !g.isTrusted(deviceID) {
		log.Debug().Str("deviceId", deviceID).Msg("messenger: dropping message from untrusted device")
		return
	}
	g.subsMu.Lock()
	cbs := append([]func(peer.ID, []byte)(nil), g.subs...)
	g.subsMu.Unlock()
	for _, cb := range cbs {
		cb(from, raw)
	}
}

// OnMessage registers cb to receive messages that passed the trust gate.
func (g *TrustGate) OnMessage(cb func(from peer.ID, raw []byte)) {
	g.subsMu.Lock()
	g.subs = append(g.subs, cb)
	g.subsMu.Unlock()
}

// Send delegates to the underlying Base; outbound sends are never gated
// (the gate only filters inbound delivery).
func (g *TrustGate) Send(ctx context.Context, target string, msg interface{}) error {
	return g.base.Send(ctx, target, msg)
}

// Broadcast delegates to the underlying Base.
func (g *TrustGate) Broadcast(ctx context.Context, msg interface{}) error {
	return g.base.Broadcast(ctx, msg)
}
