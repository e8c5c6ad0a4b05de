package cli

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/peterbourgon/ff/v3/ffcli"
	"github.com/rs/zerolog/log"

	"github.com/myelnet/clipmesh/adapters"
	"github.com/myelnet/clipmesh/core"
)

type runConfig struct {
	dataDir     string
	deviceName  string
	listenAddrs string
	relayAddrs  string
	webrtc      bool
}

// RunCmd builds the long-running "run" subcommand: opens on-disk storage,
// wires a core.Core, and blocks until interrupted, mirroring the
// teacher's own long-running node process rather than a one-shot RPC call.
func RunCmd() *ffcli.Command {
	cfg := runConfig{}
	fs := flag.NewFlagSet("clipmesh-agent run", flag.ExitOnError)
	fs.StringVar(&cfg.dataDir, "data-dir", "./clipmesh-data", "directory for identity/trust storage")
	fs.StringVar(&cfg.deviceName, "device-name", "", "display name for a freshly generated identity")
	fs.StringVar(&cfg.listenAddrs, "listen", "/ip4/0.0.0.0/tcp/0/ws", "comma-separated listen multiaddrs")
	fs.StringVar(&cfg.relayAddrs, "relay", "", "comma-separated relay multiaddrs (/ip4/.../p2p/<id>)")
	fs.BoolVar(&cfg.webrtc, "webrtc", false, "enable the WebRTC transport")

	return &ffcli.Command{
		Name:       "run",
		ShortUsage: "clipmesh-agent run [flags]",
		ShortHelp:  "Run the agent until interrupted",
		FlagSet:    fs,
		Exec: func(ctx context.Context, args []string) error {
			return runAgent(ctx, cfg)
		},
	}
}

func runAgent(ctx context.Context, cfg runConfig) error {
	storage, err := openStorage(cfg.dataDir)
	if err != nil {
		return err
	}
	defer storage.Close()

	relayAddrs := splitNonEmpty(cfg.relayAddrs)
	if len(relayAddrs) == 0 {
		relayAddrs = DefaultWebRTCStarRelays
	}
	relays, err := parseRelays(relayAddrs)
	if err != nil {
		return err
	}

	c, err := core.New(ctx, core.Config{
		Storage:              storage,
		Clipboard:            adapters.NewMemoryClipboard(),
		History:              adapters.NewMemoryHistory(),
		DeviceName:           cfg.deviceName,
		ListenAddrs:          splitNonEmpty(cfg.listenAddrs),
		RelayPeers:           relays,
		EnableWebRTC:         cfg.webrtc,
		RelayRefreshInterval: 20 * time.Second,
	})
	if err != nil {
		return err
	}
	defer c.Close()

	local, err := c.Identity.Get(ctx)
	if err != nil {
		return err
	}
	log.Info().Str("deviceId", local.DeviceID).Str("deviceName", local.DeviceName).
		Msg("clipmesh-agent: running")

	if len(relays) > 0 {
		if results, err := c.Connectivity.RestoreTrustedPeers(ctx); err != nil {
			log.Warn().Err(err).Msg("clipmesh-agent: restore trusted peers failed")
		} else {
			for _, r := range results {
				log.Info().Str("deviceId", r.DeviceID).Bool("connected", r.Connected).
					Str("via", r.Via).Msg("clipmesh-agent: restore attempt")
			}
		}
	}

	sigCtx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()
	<-sigCtx.Done()
	log.Info().Msg("clipmesh-agent: shutting down")
	return nil
}

func splitNonEmpty(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
