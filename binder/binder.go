// Package binder implements the trust-protocol binder (spec.md §4.7): the
// component that mediates between the trust messenger and the Trust
// manager, turning inbound trust-requests into manager calls and manager
// decisions into outbound trust-acks, and folding accepted trust-acks back
// into the Trust store on the requester's side.
//
// Grounded on exchange/replication.go's NewReplication wiring pattern: one
// component holds references to two others (there: the DAG store and the
// eventbus; here: the trust messenger and the Trust manager) and mediates
// between them, matching spec.md §9's cyclic-reference guidance.
package binder

import (
	"context"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/rs/zerolog/log"

	"github.com/myelnet/clipmesh/identity"
	"github.com/myelnet/clipmesh/trust"
	"github.com/myelnet/clipmesh/wire"
)

// TrustMessenger is the subset of *messenger.TrustMessenger the binder uses.
type TrustMessenger interface {
	OnRequest(cb func(from peer.ID, req wire.TrustRequest))
	OnAck(cb func(from peer.ID, ack wire.TrustAck))
	SendAck(ctx context.Context, target string, ack wire.TrustAck) error
}

// Binder wires a TrustMessenger to a trust.Manager and trust.Store.
type Binder struct {
	msgr          TrustMessenger
	mgr           *trust.Manager
	store         *trust.Store
	identityStore *identity.Store

	subID   int
	eventCh <-chan trust.Event
	doneCh  chan struct{}
}

// New builds a Binder and starts its event-dispatch goroutine. Close stops it.
func New(msgr TrustMessenger, mgr *trust.Manager, store *trust.Store, identityStore *identity.Store) *Binder {
	b := &Binder{msgr: msgr, mgr: mgr, store: store, identityStore: identityStore, doneCh: make(chan struct{})}
	b.subID, b.eventCh = mgr.Subscribe()

	msgr.OnRequest(b.onInboundRequest)
	msgr.OnAck(b.onInboundAck)
	go b.dispatchAcks()
	return b
}

// Close stops the binder's ack-dispatch goroutine and unsubscribes from the
// Trust manager.
func (b *Binder) Close() {
	close(b.doneCh)
	b.mgr.Unsubscribe(b.subID)
}

func (b *Binder) onInboundRequest(_ peer.ID, req wire.TrustRequest) {
	ctx := context.Background()
	if err := b.mgr.HandleTrustRequest(ctx, req); err != nil {
		log.Warn().Err(err).Str("deviceId", req.From).Msg("binder: dropping trust-request")
	}
}

// dispatchAcks turns Approved/Rejected manager events that carry the
// original request into outbound trust-acks. Request events (still
// pending) and events without a Request (e.g. Removed) are not acked.
func (b *Binder) dispatchAcks() {
	for {
		select {
		case ev, ok := <-b.eventCh:
			if !ok {
				return
			}
			if ev.Request == nil || (ev.Kind != trust.EventApproved && ev.Kind != trust.EventRejected) {
				continue
			}
			b.sendAckFor(ev)
		case <-b.doneCh:
			return
		}
	}
}

func (b *Binder) sendAckFor(ev trust.Event) {
	ctx := context.Background()

	ack := wire.TrustAck{
		Type: wire.TypeTrustAck,
		From: ev.Request.To,
		To:   ev.Request.From,
		Payload: wire.TrustAckPayload{
			Accepted: ev.Kind == trust.EventApproved,
			Request:  *ev.Request,
		},
	}
	if ack.Payload.Accepted {
		localID, err := b.identityStore.Get(ctx)
		if err != nil {
			log.Warn().Err(err).Msg("binder: load local identity for ack failed")
		} else {
			pub := localID.Public()
			ack.Payload.Responder = &pub
		}
	}

	if err := b.msgr.SendAck(ctx, ev.Request.From, ack); err != nil {
		log.Warn().Err(err).Str("deviceId", ev.Request.From).Msg("binder: send trust-ack failed")
	}
}

// onInboundAck completes requester-side pairing: an accepted ack carrying
// the responder's identity is upserted into the Trust store.
func (b *Binder) onInboundAck(_ peer.ID, ack wire.TrustAck) {
	if !ack.Payload.Accepted || ack.Payload.Responder == nil {
		return
	}
	ctx := context.Background()
	responder := ack.Payload.Responder
	dev := trust.TrustedDevice{
		DeviceID:   responder.DeviceID,
		DeviceName: responder.DeviceName,
		PublicKey:  responder.PublicKey,
		Multiaddrs: responder.Multiaddrs,
		CreatedAt:  responder.CreatedAt,
	}
	if err := b.store.Upsert(ctx, dev); err != nil {
		log.Warn().Err(err).Str("deviceId", dev.DeviceID).Msg("binder: upsert responder failed")
		return
	}
	log.Info().Str("deviceId", dev.DeviceID).Msg("binder: pairing completed on requester side")
}
