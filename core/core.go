// Package core assembles the whole clipboard-trust networking stack into
// one long-lived aggregate, owning the fixed startup order spec.md §9's
// "Global node and module-level singletons" redesign note mandates:
// Storage -> Identity -> Trust -> Transport -> Messengers -> Binder ->
// ConnectivityEngine. Grounded on node/popn.go's node struct + New(ctx,
// opts) constructor, which wires datastore -> keystore -> libp2p host ->
// exchange -> storage client in one fixed sequence for the same reason:
// each later component's constructor needs the previous one already
// running.
package core

import (
	"context"
	"fmt"
	"time"

	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/rs/zerolog/log"

	"github.com/myelnet/clipmesh/binder"
	"github.com/myelnet/clipmesh/clip"
	"github.com/myelnet/clipmesh/connectivity"
	"github.com/myelnet/clipmesh/identity"
	"github.com/myelnet/clipmesh/messenger"
	"github.com/myelnet/clipmesh/ports"
	"github.com/myelnet/clipmesh/rendezvous"
	"github.com/myelnet/clipmesh/transport"
	"github.com/myelnet/clipmesh/trust"
	"github.com/myelnet/clipmesh/wire"
)

// Config configures a Core instance. Mirrors the teacher's plain Options
// structs (node.Options, exchange.Options) — documented fields, no
// reflection/tag-based config library.
type Config struct {
	// Storage is the StoragePort backing identity and trust persistence.
	Storage ports.StoragePort
	// Clipboard and History are optional; if nil, clip/history messengers
	// are still wired for transport but have nothing local to export.
	Clipboard ports.ClipboardPort
	History   ports.HistoryPort

	// DeviceName seeds a freshly generated identity's display name.
	DeviceName string
	// PrivateKey, if set, is used instead of generating a fresh identity
	// key (see identity.WithPrivateKey) — typically sourced from
	// adapters.FileKeystore.
	PrivateKey crypto.PrivKey

	ListenAddrs  []string
	RelayPeers   []peer.AddrInfo
	EnableWebRTC bool

	// RelayRefreshInterval controls how often Core re-asserts its relay
	// reservations in the background. Zero disables the background loop.
	RelayRefreshInterval time.Duration

	RendezvousTopic string
}

// Core is the fully wired clipboard-trust networking stack for one running
// agent process.
type Core struct {
	cfg Config

	Storage  ports.StoragePort
	Identity *identity.Store
	Trust    *trust.Store
	Manager  *trust.Manager

	Transport *transport.Transport

	ClipMsgr    *messenger.ClipMessenger
	TrustMsgr   *messenger.TrustMessenger
	HistoryMsgr *messenger.HistoryMessenger

	Binder       *binder.Binder
	Connectivity *connectivity.Engine
	Rendezvous   *rendezvous.Client

	cancel context.CancelFunc
}

// New builds a Core following the fixed startup order: Storage is supplied
// by the caller; Identity and Trust load from it; Transport starts using
// the loaded identity's key; Messengers register on the transport; Binder
// mediates between the trust messenger and the trust manager/store; the
// Connectivity engine is built last since it depends on all of the above.
func New(ctx context.Context, cfg Config) (*Core, error) {
	if cfg.Storage == nil {
		return nil, fmt.Errorf("core: Config.Storage is required")
	}

	c := &Core{cfg: cfg, Storage: cfg.Storage}

	idOpts := []identity.Option{}
	if cfg.DeviceName != "" {
		idOpts = append(idOpts, identity.WithDefaultName(cfg.DeviceName))
	}
	if cfg.PrivateKey != nil {
		idOpts = append(idOpts, identity.WithPrivateKey(cfg.PrivateKey))
	}
	c.Identity = identity.NewStore(cfg.Storage, idOpts...)

	local, err := c.Identity.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("core: load identity: %w", err)
	}
	priv, err := local.PrivKey()
	if err != nil {
		return nil, fmt.Errorf("core: load local private key: %w", err)
	}

	c.Trust = trust.NewStore(cfg.Storage)
	c.Manager = trust.NewManager(c.Trust, local.DeviceID)

	c.Transport, err = transport.New(ctx, transport.Config{
		Identity:     priv,
		ListenAddrs:  cfg.ListenAddrs,
		RelayPeers:   cfg.RelayPeers,
		EnableWebRTC: cfg.EnableWebRTC,
	})
	if err != nil {
		return nil, fmt.Errorf("core: start transport: %w", err)
	}

	isTrusted := func(deviceID string) bool {
		ok, err := c.Trust.IsTrusted(context.Background(), deviceID)
		if err != nil {
			log.Warn().Err(err).Str("deviceId", deviceID).Msg("core: trust lookup failed, treating as untrusted")
			return false
		}
		return ok
	}

	c.ClipMsgr = messenger.NewClipMessenger(c.Transport, isTrusted)
	c.TrustMsgr = messenger.NewTrustMessenger(c.Transport)
	c.HistoryMsgr = messenger.NewHistoryMessenger(c.Transport, isTrusted)

	c.Binder = binder.New(c.TrustMsgr, c.Manager, c.Trust, c.Identity)

	c.Rendezvous = rendezvous.NewClient(c.Transport.Host())
	c.Connectivity = connectivity.New(c.Transport.Host(), c.TrustMsgr, c.Transport, c.Identity, c.Trust, c.Rendezvous,
		connectivity.WithRelays(cfg.RelayPeers))

	wireClipboard(c, cfg.Clipboard, local.DeviceID)
	wireHistory(c, cfg.History, local.DeviceID)

	if cfg.RelayRefreshInterval > 0 && len(cfg.RelayPeers) > 0 {
		bgCtx, cancel := context.WithCancel(context.Background())
		c.cancel = cancel
		go c.Connectivity.MaintainRelays(bgCtx, cfg.RelayRefreshInterval)
	}

	log.Info().Str("deviceId", local.DeviceID).Str("deviceName", local.DeviceName).
		Msg("core: started")
	return c, nil
}

// wireClipboard broadcasts local clipboard changes to all connected
// non-relay peers (receivers drop clips from untrusted senders) and writes inbound clip messages back to the local clipboard,
// recording every clip (local and remote) in history if one is wired.
func wireClipboard(c *Core, cb ports.ClipboardPort, localDeviceID string) {
	if cb == nil {
		return
	}
	cb.OnLocalClip(func(item clip.Clip) {
		item.SenderID = localDeviceID
		msg := clip.Message{Type: clip.MessageType, From: localDeviceID, Clip: item}
		if err := c.ClipMsgr.Broadcast(context.Background(), msg); err != nil {
			log.Debug().Err(err).Msg("core: clip broadcast failed")
		}
		if c.cfg.History != nil {
			if err := c.cfg.History.Add(context.Background(), item, localDeviceID, true); err != nil {
				log.Warn().Err(err).Msg("core: record local clip in history failed")
			}
		}
	})
	c.ClipMsgr.OnClip(func(_ peer.ID, msg clip.Message) {
		if err := cb.WriteText(context.Background(), msg.Clip.Content); err != nil {
			log.Warn().Err(err).Msg("core: write inbound clip to local clipboard failed")
		}
		if c.cfg.History != nil {
			if err := c.cfg.History.Add(context.Background(), msg.Clip, msg.From, false); err != nil {
				log.Warn().Err(err).Msg("core: record inbound clip in history failed")
			}
		}
	})
}

// wireHistory answers inbound full-resync requests with the local export.
func wireHistory(c *Core, h ports.HistoryPort, localDeviceID string) {
	if h == nil {
		return
	}
	c.HistoryMsgr.OnRequest(func(from peer.ID, req wire.HistoryRequest) {
		ctx := context.Background()
		clips, err := h.ExportAll(ctx)
		if err != nil {
			log.Warn().Err(err).Msg("core: export history for resync failed")
			return
		}
		reply := wire.HistoryReply{
			Type:   wire.TypeHistoryReply,
			From:   localDeviceID,
			Clips:  clips,
			SentAt: time.Now().Unix(),
		}
		if err := c.HistoryMsgr.Reply(ctx, req.From, reply); err != nil {
			log.Warn().Err(err).Str("to", req.From).Msg("core: send history reply failed")
		}
	})
}

// Close shuts down background goroutines, the binder, and the transport.
// Returns the first error encountered, if any.
func (c *Core) Close() error {
	if c.cancel != nil {
		c.cancel()
	}
	c.Binder.Close()
	return c.Transport.Close()
}
