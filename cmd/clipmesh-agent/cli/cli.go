// Package cli implements clipmesh-agent's subcommands. Grounded on
// cmd/hop/cli/commit.go's ffcli.Command-per-file shape, generalized from
// one RPC-backed command into a handful of commands that each build a
// full core.Core directly over on-disk
// storage, since this agent has no separate daemon/RPC split to connect
// through.
package cli

import (
	"fmt"

	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"

	"github.com/myelnet/clipmesh/adapters"
)

// DefaultWebRTCStarRelays are the bootstrap relay multiaddresses dialed
// when no -relay flag is given, spec.md §6's `DEFAULT_WEBRTC_STAR_RELAYS`.
// Empty by default: this module ships no operator-run public relay — set
// -relay (repeatable) to point at one.
var DefaultWebRTCStarRelays []string

// parseRelays turns a list of "/ip4/.../p2p/<id>" strings into AddrInfos
// for core.Config.RelayPeers.
func parseRelays(addrs []string) ([]peer.AddrInfo, error) {
	out := make([]peer.AddrInfo, 0, len(addrs))
	for _, a := range addrs {
		m, err := ma.NewMultiaddr(a)
		if err != nil {
			return nil, fmt.Errorf("parse relay addr %q: %w", a, err)
		}
		info, err := peer.AddrInfoFromP2pAddr(m)
		if err != nil {
			return nil, fmt.Errorf("relay addr %q missing /p2p/<id>: %w", a, err)
		}
		out = append(out, *info)
	}
	return out, nil
}

// openStorage opens the on-disk badger store all subcommands share, so
// repeated invocations see the same identity and trust state.
func openStorage(dataDir string) (*adapters.BadgerStorage, error) {
	return adapters.OpenBadgerStorage(dataDir)
}
