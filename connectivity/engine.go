// Package connectivity implements the connectivity engine (spec.md §4.8):
// pairing with a new peer (direct-dial, relay-fallback, direct-upgrade) and
// restoring connections to already-trusted peers on startup, both built on
// rendezvous-assisted address discovery.
//
// Grounded on node/popn.go's ping/dial pattern (context.WithTimeout around
// a direct dial) and utils.Bootstrap's goroutine-per-attempt launch,
// generalized from "dial one bootstrap peer" to the direct-first /
// relay-fallback / direct-upgrade sequence spec.md §4.8 specifies.
package connectivity

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jpillora/backoff"
	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"
	"github.com/rs/zerolog/log"

	"github.com/myelnet/clipmesh/coreerrors"
	"github.com/myelnet/clipmesh/identity"
	"github.com/myelnet/clipmesh/rendezvous"
	"github.com/myelnet/clipmesh/trust"
	"github.com/myelnet/clipmesh/trustproto"
	"github.com/myelnet/clipmesh/wire"
)

// Default timeouts, spec.md §5.
const (
	DefaultDirectDialTimeout    = 8 * time.Second
	DefaultRelayDialTimeout     = 12 * time.Second
	DefaultDirectUpgradeTimeout = 10 * time.Second
)

// Host is the subset of host.Host the engine dials and reserves against.
type Host interface {
	Connect(ctx context.Context, pi peer.AddrInfo) error
	ID() peer.ID
}

// TrustMessenger is the subset of *messenger.TrustMessenger pairing needs.
type TrustMessenger interface {
	SendRequest(ctx context.Context, target string, req wire.TrustRequest) error
	OnAck(cb func(from peer.ID, ack wire.TrustAck))
}

// Relay is the subset of *transport.Transport the engine uses for
// reservations; narrowed so tests can fake it without a real libp2p host.
type Relay interface {
	Reserve(ctx context.Context, relay peer.AddrInfo) error
}

// PairingTarget describes a pairing attempt (spec.md §4.8).
type PairingTarget struct {
	Addrs            []string
	PeerID           string
	RendezvousRelays []peer.AddrInfo
	RendezvousTopic  string
}

// PairResult is the outcome of PairWithPeer.
type PairResult struct {
	OK    bool
	Via   string // "direct" | "relay"
	Error string
}

// RestoreResult is the outcome of restoring one trusted peer.
type RestoreResult struct {
	DeviceID  string
	Connected bool
	Via       string
	Addr      string
	Error     string
}

// Engine is the connectivity engine.
type Engine struct {
	host          Host
	trustMsgr     TrustMessenger
	relay         Relay
	identityStore *identity.Store
	trustStore    *trust.Store
	rendezvous    *rendezvous.Client
	relays        []peer.AddrInfo

	directTimeout  time.Duration
	relayTimeout   time.Duration
	upgradeTimeout time.Duration

	waitersMu sync.Mutex
	waiters   map[string]chan wire.TrustAck
}

// Option configures an Engine.
type Option func(*Engine)

// WithRelays sets the default relay set used when a PairingTarget doesn't
// name its own.
func WithRelays(relays []peer.AddrInfo) Option {
	return func(e *Engine) { e.relays = relays }
}

// WithTimeouts overrides the default direct/relay/upgrade timeouts, for
// tests.
func WithTimeouts(direct, relayT, upgrade time.Duration) Option {
	return func(e *Engine) { e.directTimeout, e.relayTimeout, e.upgradeTimeout = direct, relayT, upgrade }
}

// New builds an Engine.
func New(h Host, trustMsgr TrustMessenger, relay Relay, identityStore *identity.Store, trustStore *trust.Store, rendezvousClient *rendezvous.Client, opts ...Option) *Engine {
	e := &Engine{
		host:           h,
		trustMsgr:      trustMsgr,
		relay:          relay,
		identityStore:  identityStore,
		trustStore:     trustStore,
		rendezvous:     rendezvousClient,
		directTimeout:  DefaultDirectDialTimeout,
		relayTimeout:   DefaultRelayDialTimeout,
		upgradeTimeout: DefaultDirectUpgradeTimeout,
		waiters:        make(map[string]chan wire.TrustAck),
	}
	for _, opt := range opts {
		opt(e)
	}
	trustMsgr.OnAck(e.onAck)
	return e
}

func (e *Engine) onAck(_ peer.ID, ack wire.TrustAck) {
	e.waitersMu.Lock()
	ch, ok := e.waiters[ack.From]
	e.waitersMu.Unlock()
	if ok {
		select {
		case ch <- ack:
		default:
		}
	}
}

func (e *Engine) registerWaiter(deviceID string) chan wire.TrustAck {
	ch := make(chan wire.TrustAck, 1)
	e.waitersMu.Lock()
	e.waiters[deviceID] = ch
	e.waitersMu.Unlock()
	return ch
}

func (e *Engine) unregisterWaiter(deviceID string) {
	e.waitersMu.Lock()
	delete(e.waiters, deviceID)
	e.waitersMu.Unlock()
}

func (e *Engine) buildSignedRequest(ctx context.Context, targetDeviceID string) (wire.TrustRequest, error) {
	local, err := e.identityStore.Get(ctx)
	if err != nil {
		return wire.TrustRequest{}, fmt.Errorf("connectivity: load local identity: %w", err)
	}
	priv, err := local.PrivKey()
	if err != nil {
		return wire.TrustRequest{}, fmt.Errorf("connectivity: load local key: %w", err)
	}
	req := wire.TrustRequest{
		Type:    wire.TypeTrustRequest,
		From:    local.DeviceID,
		To:      targetDeviceID,
		Payload: local.Public(),
		SentAt:  time.Now().Unix(),
	}
	return trustproto.SignTrustRequest(req, priv)
}

// PairWithPeer implements spec.md §4.8's "Pair with peer" use case.
func (e *Engine) PairWithPeer(ctx context.Context, target PairingTarget) (PairResult, error) {
	if target.RendezvousTopic != "" {
		relays := target.RendezvousRelays
		if len(relays) == 0 {
			relays = e.relays
		}
		e.registerOnRendezvous(ctx, relays, target.RendezvousTopic)
	}

	direct, relayAddrs := splitDirectRelay(target.Addrs)

	peerID := target.PeerID
	if peerID == "" {
		if found, ok := extractPeerID(target.Addrs); ok {
			peerID = found
		}
	}
	if peerID == "" {
		return PairResult{OK: false, Error: "no_target"}, coreerrors.ErrNoTarget
	}

	if res, ok := e.tryDirect(ctx, peerID, direct); ok {
		return res, nil
	}

	relays := target.RendezvousRelays
	if len(relays) == 0 {
		relays = e.relays
	}
	if len(relays) > 0 {
		if res, ok := e.tryRelay(ctx, peerID, relayAddrs, relays); ok {
			return res, nil
		}
	}

	return PairResult{OK: false, Error: "dial_failed"}, coreerrors.ErrDialFailed
}

func (e *Engine) registerOnRendezvous(ctx context.Context, relays []peer.AddrInfo, topic string) {
	if e.rendezvous == nil {
		return
	}
	local, err := e.identityStore.Get(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("connectivity: load identity for rendezvous registration failed")
		return
	}
	for _, r := range relays {
		if err := e.rendezvous.Register(ctx, r, topic, local.Multiaddrs); err != nil {
			log.Warn().Err(err).Str("relay", r.ID.String()).Msg("connectivity: rendezvous registration failed")
		}
	}
}

func (e *Engine) tryDirect(ctx context.Context, peerID string, addrs []string) (PairResult, bool) {
	for _, addr := range addrs {
		dialCtx, cancel := context.WithTimeout(ctx, e.directTimeout)
		ack, ok := e.attemptHandshake(dialCtx, peerID, addr)
		cancel()
		if ok && ack.Payload.Accepted {
			return PairResult{OK: true, Via: "direct"}, true
		}
	}
	return PairResult{}, false
}

func (e *Engine) tryRelay(ctx context.Context, peerID string, explicitRelayAddrs []string, relays []peer.AddrInfo) (PairResult, bool) {
	candidates := append([]string(nil), explicitRelayAddrs...)
	if len(candidates) == 0 {
		for _, r := range relays {
			addr, err := synthesizeRelayAddr(r, peerID)
			if err != nil {
				log.Warn().Err(err).Str("relay", r.ID.String()).Msg("connectivity: cannot synthesize relay address")
				continue
			}
			candidates = append(candidates, addr)
		}
	}

	for _, r := range relays {
		reserveCtx, cancel := context.WithTimeout(ctx, e.relayTimeout)
		err := e.relay.Reserve(reserveCtx, r)
		cancel()
		if err != nil {
			log.Warn().Err(err).Str("relay", r.ID.String()).Msg("connectivity: relay reservation failed")
		}
	}

	for _, addr := range candidates {
		dialCtx, cancel := context.WithTimeout(ctx, e.relayTimeout)
		ack, ok := e.attemptHandshake(dialCtx, peerID, addr)
		cancel()
		if ok && ack.Payload.Accepted {
			if ack.Payload.Responder != nil && len(ack.Payload.Responder.Multiaddrs) > 0 {
				go e.scheduleDirectUpgrade(peerID, ack.Payload.Responder.Multiaddrs)
			}
			return PairResult{OK: true, Via: "relay"}, true
		}
	}
	return PairResult{}, false
}

func (e *Engine) attemptHandshake(ctx context.Context, peerID, addr string) (wire.TrustAck, bool) {
	req, err := e.buildSignedRequest(ctx, peerID)
	if err != nil {
		log.Warn().Err(err).Msg("connectivity: build trust-request failed")
		return wire.TrustAck{}, false
	}

	ch := e.registerWaiter(peerID)
	defer e.unregisterWaiter(peerID)

	if err := e.trustMsgr.SendRequest(ctx, addr, req); err != nil {
		log.Debug().Err(err).Str("addr", addr).Msg("connectivity: trust-request send failed")
		return wire.TrustAck{}, false
	}

	select {
	case ack := <-ch:
		return ack, true
	case <-ctx.Done():
		return wire.TrustAck{}, false
	}
}

// scheduleDirectUpgrade attempts a direct connection to any non-circuit
// address learned from the responder's ack, spec.md §4.8's "Direct-upgrade".
func (e *Engine) scheduleDirectUpgrade(peerID string, addrs []string) {
	direct, _ := splitDirectRelay(addrs)
	if len(direct) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), e.upgradeTimeout)
	defer cancel()
	for _, addr := range direct {
		info, err := addrInfoFor(addr)
		if err != nil {
			continue
		}
		if err := e.host.Connect(ctx, info); err == nil {
			log.Info().Str("deviceId", peerID).Str("addr", addr).Msg("connectivity: direct upgrade succeeded")
			return
		}
	}
	log.Debug().Str("deviceId", peerID).Msg("connectivity: direct upgrade failed, staying on relay")
}

// RestoreTrustedPeers implements spec.md §4.8's "Restore trusted peers".
// It does not re-verify signatures: identity is already trust-anchored by
// public key.
func (e *Engine) RestoreTrustedPeers(ctx context.Context) ([]RestoreResult, error) {
	devices, err := e.trustStore.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("connectivity: list trusted devices: %w", err)
	}

	results := make([]RestoreResult, 0, len(devices))
	for _, dev := range devices {
		results = append(results, e.restoreOne(ctx, dev))
	}
	return results, nil
}

func (e *Engine) restoreOne(ctx context.Context, dev trust.TrustedDevice) RestoreResult {
	addrs := append([]string(nil), dev.Multiaddrs...)
	if e.rendezvous != nil && len(e.relays) > 0 {
		for _, r := range e.relays {
			listed, err := e.rendezvous.List(ctx, r, dev.DeviceID)
			if err != nil {
				continue
			}
			for _, rec := range listed {
				if rec.PeerID == dev.DeviceID {
					addrs = append(addrs, rec.Addrs...)
				}
			}
		}
	}

	direct, relayAddrs := splitDirectRelay(addrs)

	for _, addr := range direct {
		info, err := addrInfoFor(addr)
		if err != nil {
			continue
		}
		dialCtx, cancel := context.WithTimeout(ctx, e.directTimeout)
		err = e.host.Connect(dialCtx, info)
		cancel()
		if err == nil {
			return RestoreResult{DeviceID: dev.DeviceID, Connected: true, Via: "direct", Addr: addr}
		}
	}

	candidates := relayAddrs
	if len(candidates) == 0 {
		for _, r := range e.relays {
			addr, err := synthesizeRelayAddr(r, dev.DeviceID)
			if err == nil {
				candidates = append(candidates, addr)
			}
		}
	}
	for _, addr := range candidates {
		info, err := addrInfoFor(addr)
		if err != nil {
			continue
		}
		dialCtx, cancel := context.WithTimeout(ctx, e.relayTimeout)
		err = e.host.Connect(dialCtx, info)
		cancel()
		if err == nil {
			return RestoreResult{DeviceID: dev.DeviceID, Connected: true, Via: "relay", Addr: addr}
		}
	}

	return RestoreResult{DeviceID: dev.DeviceID, Connected: false, Error: "dial_failed"}
}

// refreshReservations is a loose-timer relay reservation refresher; on
// failure it backs off (2s base, 6 attempts) rather than retrying tightly,
// grounded on exchange/replication.go's Dispatch backoff.Backoff use.
func (e *Engine) refreshReservations(ctx context.Context, r peer.AddrInfo) error {
	b := &backoff.Backoff{Min: 2 * time.Second, Factor: 2, Jitter: true}
	var lastErr error
	for attempt := 0; attempt < 6; attempt++ {
		reserveCtx, cancel := context.WithTimeout(ctx, e.relayTimeout)
		err := e.relay.Reserve(reserveCtx, r)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err
		select {
		case <-time.After(b.Duration()):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("connectivity: reservation refresh exhausted retries: %w", lastErr)
}

// MaintainRelays keeps reservations on every configured relay alive for as
// long as ctx lives, backing off per-relay on failure via
// refreshReservations rather than giving up after one failed reservation.
func (e *Engine) MaintainRelays(ctx context.Context, interval time.Duration) {
	if len(e.relays) == 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	refresh := func() {
		for _, r := range e.relays {
			if err := e.refreshReservations(ctx, r); err != nil {
				log.Warn().Err(err).Str("relay", r.ID.String()).Msg("connectivity: relay reservation maintenance failed")
			}
		}
	}
	refresh()
	for {
		select {
		case <-ticker.C:
			refresh()
		case <-ctx.Done():
			return
		}
	}
}

// addrInfoFor parses a single multiaddr string (optionally carrying a
// /p2p/<id> component) into a peer.AddrInfo suitable for Host.Connect.
func addrInfoFor(addr string) (peer.AddrInfo, error) {
	m, err := ma.NewMultiaddr(addr)
	if err != nil {
		return peer.AddrInfo{}, fmt.Errorf("connectivity: parse multiaddr %q: %w", addr, err)
	}
	info, err := peer.AddrInfoFromP2pAddr(m)
	if err != nil {
		return peer.AddrInfo{}, fmt.Errorf("connectivity: no peer id in %q: %w", addr, err)
	}
	return *info, nil
}
