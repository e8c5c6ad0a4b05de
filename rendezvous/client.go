package rendezvous

import (
	"context"
	"fmt"
	"time"

	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/rs/zerolog/log"

	"github.com/myelnet/clipmesh/wire"
)

// RefreshInterval is how often the client re-registers while running
// (spec.md §4.8: "The client re-registers every 30 s while running"). A
// var, not a const, so tests can shorten it.
var RefreshInterval = 30 * time.Second

// Client issues register/list requests against a relay's rendezvous
// server. Each call opens a fresh stream: simpler than holding one open
// indefinitely, and equally correct against the length-prefixed framing.
type Client struct {
	host host.Host
}

// NewClient builds a Client over h.
func NewClient(h host.Host) *Client { return &Client{host: h} }

func (c *Client) roundTrip(ctx context.Context, relay peer.AddrInfo, req wire.RendezvousRequest) (wire.RendezvousReply, error) {
	if err := c.host.Connect(ctx, relay); err != nil {
		return wire.RendezvousReply{}, fmt.Errorf("rendezvous: connect relay: %w", err)
	}
	s, err := c.host.NewStream(ctx, relay.ID, ID)
	if err != nil {
		return wire.RendezvousReply{}, fmt.Errorf("rendezvous: open stream: %w", err)
	}
	defer s.Close()
	if dl, ok := ctx.Deadline(); ok {
		_ = s.SetDeadline(dl)
	}
	if err := writeFrame(s, req); err != nil {
		return wire.RendezvousReply{}, err
	}
	var reply wire.RendezvousReply
	if err := readFrame(s, &reply); err != nil {
		return wire.RendezvousReply{}, fmt.Errorf("rendezvous: read reply: %w", err)
	}
	return reply, nil
}

// Register announces addrs under topic to relay.
func (c *Client) Register(ctx context.Context, relay peer.AddrInfo, topic string, addrs []string) error {
	reply, err := c.roundTrip(ctx, relay, wire.RendezvousRequest{Action: wire.RendezvousRegister, Topic: topic, Addrs: addrs})
	if err != nil {
		return err
	}
	if !reply.OK {
		return fmt.Errorf("rendezvous: register rejected: %s", reply.Error)
	}
	return nil
}

// List returns the records relay holds for topic.
func (c *Client) List(ctx context.Context, relay peer.AddrInfo, topic string) ([]wire.RendezvousRecord, error) {
	reply, err := c.roundTrip(ctx, relay, wire.RendezvousRequest{Action: wire.RendezvousList, Topic: topic})
	if err != nil {
		return nil, err
	}
	if !reply.OK {
		return nil, fmt.Errorf("rendezvous: list rejected: %s", reply.Error)
	}
	return reply.Peers, nil
}

// RunRegistration registers once immediately, then every RefreshInterval
// until ctx is cancelled. addrs is called on each tick so a changing
// self-address set (§4.5's self-address-update signal) is re-announced.
func (c *Client) RunRegistration(ctx context.Context, relay peer.AddrInfo, topic string, addrs func() []string) {
	register := func() {
		if err := c.Register(ctx, relay, topic, addrs()); err != nil {
			log.Warn().Err(err).Str("relay", relay.ID.String()).Str("topic", topic).
				Msg("rendezvous: registration failed")
		}
	}
	register()
	ticker := time.NewTicker(RefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			register()
		case <-ctx.Done():
			return
		}
	}
}
