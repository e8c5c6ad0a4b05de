package messenger

import (
	"context"
	"encoding/json"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/rs/zerolog/log"

	"github.com/myelnet/clipmesh/clip"
	"github.com/myelnet/clipmesh/transport"
)

// ClipMessenger fans clip.Message out to trusted peers over
// /clipboard/clip/1.0.0 and delivers inbound clips only from trusted
// senders (spec.md §4.6).
type ClipMessenger struct {
	base *Base
	gate *TrustGate
}

// NewClipMessenger builds a ClipMessenger bound to t, gated by isTrusted.
func NewClipMessenger(t Transport, isTrusted func(deviceID string) bool) *ClipMessenger {
	base := NewBase(t, transport.ProtocolClip)
	gate := NewTrustGate(base, isTrusted, clipMessageFrom)
	return &ClipMessenger{base: base, gate: gate}
}

func clipMessageFrom(raw []byte) (string, bool) {
	var msg clip.Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		log.Warn().Err(err).Msg("messenger: dropping malformed clip message")
		return "", false
	}
	return msg.From, true
}

// Send delivers msg to target (a peer id string or a dial multiaddr).
func (m *ClipMessenger) Send(ctx context.Context, target string, msg clip.Message) error {
	return m.base.Send(ctx, target, msg)
}

// Broadcast fans msg out to every connected non-relay peer.
func (m *ClipMessenger) Broadcast(ctx context.Context, msg clip.Message) error {
	return m.base.Broadcast(ctx, msg)
}

// OnClip registers cb for clips from trusted senders only.
func (m *ClipMessenger) OnClip(cb func(from peer.ID, msg clip.Message)) {
	m.gate.OnMessage(func(from peer.ID, raw []byte) {
		var msg clip.Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			return // fromDeviceID already parsed this once; unreachable in practice
		}
		cb(from, msg)
	})
}
