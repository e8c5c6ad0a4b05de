package messenger

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/rs/zerolog/log"

	"github.com/myelnet/clipmesh/transport"
	"github.com/myelnet/clipmesh/wire"
)

// HistoryMessenger implements request/reply full-resync over
// /clipboard/history/1.0.0, trust-gated like the clip messenger (DESIGN.md
// Open Question 1: spec.md leaves the sync semantics undefined, so this
// implements the minimal reading consistent with HistoryPort.exportAll()).
type HistoryMessenger struct {
	base *Base
	gate *TrustGate

	repliesMu sync.Mutex
	replies   map[string]chan wire.HistoryReply // keyed by responder deviceId

	requestSubsMu sync.Mutex
	requestSubs   []func(from peer.ID, req wire.HistoryRequest)
}

// NewHistoryMessenger builds a HistoryMessenger bound to t, gated by isTrusted.
func NewHistoryMessenger(t Transport, isTrusted func(deviceID string) bool) *HistoryMessenger {
	m := &HistoryMessenger{
		base:    NewBase(t, transport.ProtocolHistory),
		replies: make(map[string]chan wire.HistoryReply),
	}
	m.gate = NewTrustGate(m.base, isTrusted, historyMessageFrom)
	m.gate.OnMessage(m.onMessage)
	return m
}

func historyMessageFrom(raw []byte) (string, bool) {
	var env struct {
		From string `json:"from"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		log.Warn().Err(err).Msg("messenger: dropping malformed history message")
		return "", false
	}
	return env.From, true
}

func (m *HistoryMessenger) onMessage(from peer.ID, raw []byte) {
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return
	}
	switch env.Type {
	case wire.TypeHistoryRequest:
		var req wire.HistoryRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			log.Warn().Err(err).Msg("messenger: dropping malformed history-request")
			return
		}
		m.requestSubsMu.Lock()
		cbs := append([]func(peer.ID, wire.HistoryRequest)(nil), m.requestSubs...)
		m.requestSubsMu.Unlock()
		for _, cb := range cbs {
			cb(from, req)
		}
	case wire.TypeHistoryReply:
		var reply wire.HistoryReply
		if err := json.Unmarshal(raw, &reply); err != nil {
			log.Warn().Err(err).Msg("messenger: dropping malformed history-reply")
			return
		}
		m.repliesMu.Lock()
		ch, ok := m.replies[reply.From]
		m.repliesMu.Unlock()
		if ok {
			select {
			case ch <- reply:
			default:
			}
		}
	}
}

// OnRequest registers cb for inbound history-requests; the binder/core
// layer answers with Reply.
func (m *HistoryMessenger) OnRequest(cb func(from peer.ID, req wire.HistoryRequest)) {
	m.requestSubsMu.Lock()
	m.requestSubs = append(m.requestSubs, cb)
	m.requestSubsMu.Unlock()
}

// Reply sends the full exported history back to target.
func (m *HistoryMessenger) Reply(ctx context.Context, target string, reply wire.HistoryReply) error {
	return m.base.Send(ctx, target, reply)
}

// RequestResync sends a history-request to responderDeviceID (used as
// both the send target and the reply-correlation key) and blocks for the
// matching history-reply or ctx's deadline.
func (m *HistoryMessenger) RequestResync(ctx context.Context, fromDeviceID, responderDeviceID string) (wire.HistoryReply, error) {
	ch := make(chan wire.HistoryReply, 1)
	m.repliesMu.Lock()
	m.replies[responderDeviceID] = ch
	m.repliesMu.Unlock()
	defer func() {
		m.repliesMu.Lock()
		delete(m.replies, responderDeviceID)
		m.repliesMu.Unlock()
	}()

	req := wire.HistoryRequest{Type: wire.TypeHistoryRequest, From: fromDeviceID, SentAt: time.Now().Unix()}
	if err := m.base.Send(ctx, responderDeviceID, req); err != nil {
		return wire.HistoryReply{}, fmt.Errorf("messenger: history request: %w", err)
	}

	select {
	case reply := <-ch:
		return reply, nil
	case <-ctx.Done():
		return wire.HistoryReply{}, ctx.Err()
	}
}
