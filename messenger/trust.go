package messenger

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/rs/zerolog/log"

	"github.com/myelnet/clipmesh/transport"
	"github.com/myelnet/clipmesh/wire"
)

// TrustMessenger carries trust-request/trust-ack over
// /clipboard/trust/1.0.0. Unlike the clip and history messengers it is not
// trust-gated: pairing must be able to accept requests from devices that
// are, by definition, not yet trusted (spec.md §4.6).
type TrustMessenger struct {
	base *Base

	requestSubsMu sync.Mutex
	requestSubs   []func(from peer.ID, req wire.TrustRequest)
	ackSubsMu     sync.Mutex
	ackSubs       []func(from peer.ID, ack wire.TrustAck)
}

// trustEnvelope sniffs the `type` field so one protocol handler can
// dispatch to either shape; both wire.TrustRequest and wire.TrustAck carry
// the same `type` discriminant field (spec.md §4.4/§6).
type trustEnvelope struct {
	Type string `json:"type"`
}

// NewTrustMessenger builds a TrustMessenger bound to t.
func NewTrustMessenger(t Transport) *TrustMessenger {
	m := &TrustMessenger{base: NewBase(t, transport.ProtocolTrust)}
	m.base.OnMessage(m.onMessage)
	return m
}

func (m *TrustMessenger) onMessage(from peer.ID, raw []byte) {
	var env trustEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		log.Warn().Err(err).Msg("messenger: dropping malformed trust message")
		return
	}
	switch env.Type {
	case wire.TypeTrustRequest:
		var req wire.TrustRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			log.Warn().Err(err).Msg("messenger: dropping malformed trust-request")
			return
		}
		m.requestSubsMu.Lock()
		cbs := append([]func(peer.ID, wire.TrustRequest)(nil), m.requestSubs...)
		m.requestSubsMu.Unlock()
		for _, cb := range cbs {
			cb(from, req)
		}
	case wire.TypeTrustAck:
		var ack wire.TrustAck
		if err := json.Unmarshal(raw, &ack); err != nil {
			log.Warn().Err(err).Msg("messenger: dropping malformed trust-ack")
			return
		}
		m.ackSubsMu.Lock()
		cbs := append([]func(peer.ID, wire.TrustAck)(nil), m.ackSubs...)
		m.ackSubsMu.Unlock()
		for _, cb := range cbs {
			cb(from, ack)
		}
	default:
		log.Warn().Str("type", env.Type).Msg("messenger: unknown trust message type")
	}
}

// SendRequest sends a signed trust-request to target.
func (m *TrustMessenger) SendRequest(ctx context.Context, target string, req wire.TrustRequest) error {
	return m.base.Send(ctx, target, req)
}

// SendAck sends a trust-ack to target.
func (m *TrustMessenger) SendAck(ctx context.Context, target string, ack wire.TrustAck) error {
	return m.base.Send(ctx, target, ack)
}

// OnRequest registers cb for inbound trust-requests.
func (m *TrustMessenger) OnRequest(cb func(from peer.ID, req wire.TrustRequest)) {
	m.requestSubsMu.Lock()
	m.requestSubs = append(m.requestSubs, cb)
	m.requestSubsMu.Unlock()
}

// OnAck registers cb for inbound trust-acks.
func (m *TrustMessenger) OnAck(cb func(from peer.ID, ack wire.TrustAck)) {
	m.ackSubsMu.Lock()
	m.ackSubs = append(m.ackSubs, cb)
	m.ackSubsMu.Unlock()
}
