package cli

import (
	"context"
	"flag"
	"fmt"

	"github.com/peterbourgon/ff/v3/ffcli"

	"github.com/myelnet/clipmesh/connectivity"
	"github.com/myelnet/clipmesh/core"
	"github.com/myelnet/clipmesh/pairing"
)

type pairConfig struct {
	dataDir    string
	deviceName string
	listen     string
	relay      string
	qr         string
	showQR     bool
}

// PairCmd builds the "pair" subcommand: either prints this device's own
// pairing QR payload (-show), or pairs with one decoded from a peer's
// (-qr), driving connectivity.Engine.PairWithPeer exactly as the
// long-running agent would.
func PairCmd() *ffcli.Command {
	cfg := pairConfig{}
	fs := flag.NewFlagSet("clipmesh-agent pair", flag.ExitOnError)
	fs.StringVar(&cfg.dataDir, "data-dir", "./clipmesh-data", "directory for identity/trust storage")
	fs.StringVar(&cfg.deviceName, "device-name", "", "display name for a freshly generated identity")
	fs.StringVar(&cfg.listen, "listen", "/ip4/0.0.0.0/tcp/0/ws", "comma-separated listen multiaddrs")
	fs.StringVar(&cfg.relay, "relay", "", "comma-separated relay multiaddrs (/ip4/.../p2p/<id>)")
	fs.StringVar(&cfg.qr, "qr", "", "a peer's pairing QR payload to pair with")
	fs.BoolVar(&cfg.showQR, "show", false, "print this device's own pairing QR payload and exit")

	return &ffcli.Command{
		Name:       "pair",
		ShortUsage: "clipmesh-agent pair [-show | -qr <payload>] [flags]",
		ShortHelp:  "Show this device's pairing payload or pair with another device's",
		FlagSet:    fs,
		Exec: func(ctx context.Context, args []string) error {
			return runPair(ctx, cfg)
		},
	}
}

func runPair(ctx context.Context, cfg pairConfig) error {
	storage, err := openStorage(cfg.dataDir)
	if err != nil {
		return err
	}
	defer storage.Close()

	relays, err := parseRelays(splitNonEmpty(cfg.relay))
	if err != nil {
		return err
	}

	c, err := core.New(ctx, core.Config{
		Storage:      storage,
		DeviceName:   cfg.deviceName,
		ListenAddrs:  splitNonEmpty(cfg.listen),
		RelayPeers:   relays,
		RendezvousTopic: "",
	})
	if err != nil {
		return err
	}
	defer c.Close()

	local, err := c.Identity.Get(ctx)
	if err != nil {
		return err
	}

	if cfg.showQR {
		qr, err := pairing.EncodeQR(local)
		if err != nil {
			return err
		}
		fmt.Println(qr)
		return nil
	}

	if cfg.qr == "" {
		return fmt.Errorf("clipmesh-agent pair: one of -show or -qr is required")
	}

	payload, err := pairing.DecodeQR(cfg.qr)
	if err != nil {
		return err
	}

	res, err := c.Connectivity.PairWithPeer(ctx, connectivity.PairingTarget{
		Addrs:            payload.Multiaddrs,
		PeerID:           payload.DeviceID,
		RendezvousRelays: relays,
	})
	if err != nil {
		return fmt.Errorf("clipmesh-agent pair: %w", err)
	}
	fmt.Printf("paired with %s via %s\n", payload.DeviceID, res.Via)
	return nil
}
