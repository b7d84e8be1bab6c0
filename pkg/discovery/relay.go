package discovery

import (
	"fmt"
	"strings"

	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"
)

// RelayToggle is the subset of pkg/p2pnet.PeerRelay's API the engine needs
// to act as a circuit-v2 relay server when relay.mode is server or both.
// Declaring it here rather than importing the concrete type keeps this
// package decoupled from host-level wiring.
type RelayToggle interface {
	Enable() error
	Disable()
	Enabled() bool
}

// ConstructRelayAddresses builds relay-circuit addresses for target through
// every identified relay server, of the form
// <relay-addr>/p2p/<relay-peer-id>/p2p-circuit/p2p/<target-peer-id>
// (§4.1.7). Relay servers whose peer ID hasn't been resolved yet are
// skipped.
func ConstructRelayAddresses(relayServers []*RelayEntry, target peer.ID) []ma.Multiaddr {
	var out []ma.Multiaddr
	for _, rs := range relayServers {
		if !rs.Identified() {
			continue
		}
		for _, addr := range rs.Addrs {
			if circuit, ok := buildCircuitAddr(addr, rs.PeerID, target); ok {
				out = append(out, circuit)
			}
		}
	}
	return out
}

// ConstructRelayAddressesViaSelf builds relay-circuit addresses that route
// through this node itself, used when sharing peer information with
// clients as a relay server. ownAddrs should be the host's external and
// listener addresses; wildcard, loopback and already-circuited addresses
// are skipped since relaying through them would be invalid or would create
// a relay-through-relay address.
func ConstructRelayAddressesViaSelf(ownAddrs []ma.Multiaddr, ownPeerID, target peer.ID) []ma.Multiaddr {
	var out []ma.Multiaddr
	for _, addr := range ownAddrs {
		s := addr.String()
		if strings.Contains(s, "/0.0.0.0/") || strings.Contains(s, "/::/") ||
			isLoopbackAddr(addr) || circuitSegmentCount(addr) > 0 {
			continue
		}
		if circuit, ok := buildCircuitAddr(addr, ownPeerID, target); ok {
			out = append(out, circuit)
		}
	}
	return out
}

// buildCircuitAddr appends /p2p/<relay>/p2p-circuit/p2p/<target> to addr. It
// refuses to build a loop (relay == target) or to double up a circuit
// segment, per the "synthesis is loop-free" testable property.
func buildCircuitAddr(addr ma.Multiaddr, relay, target peer.ID) (ma.Multiaddr, bool) {
	if relay == target {
		return nil, false
	}
	if circuitSegmentCount(addr) > 0 {
		return nil, false
	}

	circuitStr := fmt.Sprintf("%s/p2p/%s/p2p-circuit/p2p/%s", addr.String(), relay.String(), target.String())
	circuit, err := ma.NewMultiaddr(circuitStr)
	if err != nil {
		return nil, false
	}
	return circuit, true
}
