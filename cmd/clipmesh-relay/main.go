// Command clipmesh-relay runs a standalone circuit-relay-v2 + rendezvous
// server: the thing relay-fallback and rendezvous pairing dial into.
// Neither is optional once more than one device wants to pair from behind
// a NAT, so a complete deployment of this system ships this binary
// alongside clipmesh-agent (SPEC_FULL.md §9).
package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/libp2p/go-libp2p"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/p2p/protocol/circuitv2/relay"
	"github.com/libp2p/go-libp2p/p2p/security/noise"
	"github.com/libp2p/go-libp2p/p2p/transport/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/myelnet/clipmesh/rendezvous"
)

func main() {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if os.Getenv("CLIPMESH_DEBUG") != "" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("clipmesh-relay: exiting")
	}
}

func run() error {
	listenAddr := os.Getenv("RELAY_ADDR")
	if listenAddr == "" {
		listenAddr = "/ip4/0.0.0.0/tcp/4010/ws"
	}

	priv, err := loadOrGenerateKey(os.Getenv("RELAY_PRIVATE_KEY"))
	if err != nil {
		return fmt.Errorf("clipmesh-relay: load identity: %w", err)
	}

	h, err := libp2p.New(
		libp2p.Identity(priv),
		libp2p.ListenAddrStrings(listenAddr),
		libp2p.Security(noise.ID, noise.New),
		libp2p.DefaultMuxers,
		libp2p.Transport(websocket.New),
		libp2p.EnableRelayService(relay.WithInfiniteLimits()),
	)
	if err != nil {
		return fmt.Errorf("clipmesh-relay: start host: %w", err)
	}
	defer h.Close()

	rendezvous.NewServer(h)

	log.Info().Str("peerId", h.ID().String()).Strs("addrs", addrStrings(h)).
		Msg("clipmesh-relay: listening")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	<-ctx.Done()
	log.Info().Msg("clipmesh-relay: shutting down")
	return nil
}

// loadOrGenerateKey decodes hexKey as a canonical key-protobuf private key
// (the same form identity.DeviceIdentity.PrivateKey uses, hex-encoded for
// an environment variable instead of JSON/storage). An empty hexKey
// generates a fresh Ed25519 key and logs its hex form so the operator can
// pin RELAY_PRIVATE_KEY on the next run.
func loadOrGenerateKey(hexKey string) (crypto.PrivKey, error) {
	if hexKey == "" {
		priv, _, err := crypto.GenerateKeyPair(crypto.Ed25519, 0)
		if err != nil {
			return nil, fmt.Errorf("generate key pair: %w", err)
		}
		raw, err := crypto.MarshalPrivateKey(priv)
		if err != nil {
			return nil, fmt.Errorf("marshal generated key: %w", err)
		}
		log.Warn().Str("RELAY_PRIVATE_KEY", hex.EncodeToString(raw)).
			Msg("clipmesh-relay: no RELAY_PRIVATE_KEY set, generated one for this run only")
		return priv, nil
	}
	raw, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("decode RELAY_PRIVATE_KEY: %w", err)
	}
	priv, err := crypto.UnmarshalPrivateKey(raw)
	if err != nil {
		return nil, fmt.Errorf("unmarshal RELAY_PRIVATE_KEY: %w", err)
	}
	return priv, nil
}

func addrStrings(h host.Host) []string {
	addrs := h.Addrs()
	out := make([]string, len(addrs))
	for i, a := range addrs {
		out[i] = fmt.Sprintf("%s/p2p/%s", a, h.ID())
	}
	return out
}
