package discovery

import (
	"net"
	"strings"

	ma "github.com/multiformats/go-multiaddr"
)

// FilteredAddresses partitions a peer's advertised addresses into ones we
// believe are directly dialable and ones that might only work through a
// relay circuit.
type FilteredAddresses struct {
	Direct         []ma.Multiaddr
	RelayCandidates []ma.Multiaddr
}

// extractIP pulls the first IPv4 or IPv6 component out of a multiaddr, the
// same way the original's extract_ip walks a Multiaddr's protocol stack.
func extractIP(addr ma.Multiaddr) (net.IP, bool) {
	var found net.IP
	ma.ForEach(addr, func(c ma.Component) bool {
		switch c.Protocol().Code {
		case ma.P_IP4, ma.P_IP6:
			found = net.ParseIP(c.Value())
			return false
		}
		return true
	})
	if found == nil {
		return nil, false
	}
	return found, true
}

// isPrivateIP reports whether ip is non-globally-routable: RFC1918 for
// IPv4, or ULA (fc00::/7) / link-local (fe80::/10) for IPv6.
func isPrivateIP(ip net.IP) bool {
	if v4 := ip.To4(); v4 != nil {
		return v4.IsPrivate()
	}
	return ip.IsPrivate() || ip.IsLinkLocalUnicast()
}

// sameSubnet reports whether ip2 falls within ip1's /prefixLen network.
func sameSubnet(ip1, ip2 net.IP, prefixLen int) bool {
	v1, v2 := ip1.To4(), ip2.To4()
	if v1 != nil && v2 != nil {
		mask := net.CIDRMask(prefixLen, 32)
		return v1.Mask(mask).Equal(v2.Mask(mask))
	}
	if v1 == nil && v2 == nil {
		mask := net.CIDRMask(prefixLen, 128)
		return ip1.To16().Mask(mask).Equal(ip2.To16().Mask(mask))
	}
	return false // different address families
}

func isLoopbackAddr(addr ma.Multiaddr) bool {
	s := addr.String()
	return strings.Contains(s, "127.0.0.1") || strings.Contains(s, "/ip6/::1")
}

func circuitSegmentCount(addr ma.Multiaddr) int {
	return strings.Count(addr.String(), "/p2p-circuit/")
}

// isDirectlyReachable applies the truth table from filter_addresses_with_relay:
// both private needs same /16, private-to-public is always reachable,
// public-to-private never is, and both-public is always reachable.
func isDirectlyReachable(ownIP, peerIP net.IP) bool {
	ownPrivate := isPrivateIP(ownIP)
	peerPrivate := isPrivateIP(peerIP)

	switch {
	case ownPrivate && peerPrivate:
		return sameSubnet(ownIP, peerIP, 16)
	case ownPrivate && !peerPrivate:
		return true
	case !ownPrivate && peerPrivate:
		return false
	default:
		return true
	}
}

// FilterAddressesWithRelay partitions addrs into directly reachable
// addresses and relay candidates, judged against ownAddrs (our own known
// listen/external addresses).
//
// Loopback addresses are dropped unless that is all a peer has (local
// testing), in which case they are returned as direct. Addresses already
// routed through one relay circuit are never themselves treated as direct,
// since the IP they carry belongs to the relay, not the destination peer.
// Double-circuit addresses (relay-through-relay) are dropped outright.
func FilterAddressesWithRelay(addrs, ownAddrs []ma.Multiaddr) FilteredAddresses {
	nonLoopback := make([]ma.Multiaddr, 0, len(addrs))
	var loopback []ma.Multiaddr
	for _, addr := range addrs {
		if circuitSegmentCount(addr) > 1 {
			continue
		}
		if isLoopbackAddr(addr) {
			loopback = append(loopback, addr)
			continue
		}
		nonLoopback = append(nonLoopback, addr)
	}

	if len(nonLoopback) == 0 {
		return FilteredAddresses{Direct: loopback, RelayCandidates: nil}
	}

	ownFiltered := make([]ma.Multiaddr, 0, len(ownAddrs))
	for _, addr := range ownAddrs {
		if !isLoopbackAddr(addr) {
			ownFiltered = append(ownFiltered, addr)
		}
	}

	if len(ownFiltered) == 0 {
		return FilteredAddresses{Direct: nonLoopback, RelayCandidates: nil}
	}

	var direct, relayCandidates []ma.Multiaddr

	for _, addr := range nonLoopback {
		if circuitSegmentCount(addr) > 0 {
			continue // never treat a relay address as a direct candidate
		}

		peerIP, ok := extractIP(addr)
		if !ok {
			direct = append(direct, addr) // DNS or other non-IP address
			continue
		}

		reachable := false
		for _, ownAddr := range ownFiltered {
			ownIP, ok := extractIP(ownAddr)
			if !ok {
				continue
			}
			if isDirectlyReachable(ownIP, peerIP) {
				reachable = true
				break
			}
		}

		if reachable {
			direct = append(direct, addr)
		} else {
			relayCandidates = append(relayCandidates, addr)
		}
	}

	return FilteredAddresses{Direct: direct, RelayCandidates: relayCandidates}
}
