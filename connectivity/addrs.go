package connectivity

import (
	"fmt"
	"strings"

	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"
)

// splitDirectRelay splits addrs into direct (no /p2p-circuit component) and
// relay (containing one) groups, deduplicating each while preserving input
// order (spec.md §4.8 step 2).
func splitDirectRelay(addrs []string) (direct []string, relay []string) {
	seen := make(map[string]bool, len(addrs))
	for _, a := range addrs {
		if seen[a] {
			continue
		}
		seen[a] = true
		if strings.Contains(a, "/p2p-circuit") {
			relay = append(relay, a)
		} else {
			direct = append(direct, a)
		}
	}
	return direct, relay
}

// extractPeerID returns the peer id carried by the first address that has
// one, spec.md §4.8's "extract peerId from the first address that carries
// one if not supplied".
func extractPeerID(addrs []string) (string, bool) {
	for _, a := range addrs {
		m, err := ma.NewMultiaddr(a)
		if err != nil {
			continue
		}
		info, err := peer.AddrInfoFromP2pAddr(m)
		if err != nil {
			continue
		}
		return info.ID.String(), true
	}
	return "", false
}

// synthesizeRelayAddr builds a circuit-relay-v2 address to peerID via
// relay, spec.md §4.8's "<relay>/p2p-circuit/p2p/<peerId>".
func synthesizeRelayAddr(relay peer.AddrInfo, peerID string) (string, error) {
	if len(relay.Addrs) == 0 {
		return "", fmt.Errorf("connectivity: relay %s has no known address", relay.ID)
	}
	return fmt.Sprintf("%s/p2p/%s/p2p-circuit/p2p/%s", relay.Addrs[0].String(), relay.ID.String(), peerID), nil
}
