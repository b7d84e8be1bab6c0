package discovery

import (
	"testing"

	ma "github.com/multiformats/go-multiaddr"
	"pgregory.net/rapid"
)

func maMust(t *testing.T, s string) ma.Multiaddr {
	t.Helper()
	a, err := ma.NewMultiaddr(s)
	if err != nil {
		t.Fatalf("NewMultiaddr(%q): %v", s, err)
	}
	return a
}

func TestFilterAddressesWithRelay_SameSubnet_Direct(t *testing.T) {
	addrs := []ma.Multiaddr{maMust(t, "/ip4/192.168.1.50/tcp/26656")}
	own := []ma.Multiaddr{maMust(t, "/ip4/192.168.1.10/tcp/26656")}

	got := FilterAddressesWithRelay(addrs, own)

	if len(got.Direct) != 1 || len(got.RelayCandidates) != 0 {
		t.Fatalf("same-/16-subnet private peer should be direct, got %+v", got)
	}
}

func TestFilterAddressesWithRelay_DifferentSubnet_RelayCandidate(t *testing.T) {
	addrs := []ma.Multiaddr{maMust(t, "/ip4/10.5.0.50/tcp/26656")}
	own := []ma.Multiaddr{maMust(t, "/ip4/192.168.1.10/tcp/26656")}

	got := FilterAddressesWithRelay(addrs, own)

	if len(got.Direct) != 0 || len(got.RelayCandidates) != 1 {
		t.Fatalf("different-subnet private peer should be a relay candidate, got %+v", got)
	}
}

func TestFilterAddressesWithRelay_WeArePrivateTheyArePublic_Direct(t *testing.T) {
	addrs := []ma.Multiaddr{maMust(t, "/ip4/8.8.8.8/tcp/26656")}
	own := []ma.Multiaddr{maMust(t, "/ip4/192.168.1.10/tcp/26656")}

	got := FilterAddressesWithRelay(addrs, own)

	if len(got.Direct) != 1 {
		t.Fatalf("public peer address should always be direct, got %+v", got)
	}
}

func TestFilterAddressesWithRelay_WeArePublicTheyArePrivate_RelayCandidate(t *testing.T) {
	addrs := []ma.Multiaddr{maMust(t, "/ip4/192.168.1.50/tcp/26656")}
	own := []ma.Multiaddr{maMust(t, "/ip4/8.8.8.8/tcp/26656")}

	got := FilterAddressesWithRelay(addrs, own)

	if len(got.Direct) != 0 || len(got.RelayCandidates) != 1 {
		t.Fatalf("private peer address seen from a public node should not be direct, got %+v", got)
	}
}

func TestFilterAddressesWithRelay_BothPublic_Direct(t *testing.T) {
	addrs := []ma.Multiaddr{maMust(t, "/ip4/8.8.8.8/tcp/26656")}
	own := []ma.Multiaddr{maMust(t, "/ip4/1.1.1.1/tcp/26656")}

	got := FilterAddressesWithRelay(addrs, own)
	if len(got.Direct) != 1 {
		t.Fatalf("two public addresses should be mutually direct, got %+v", got)
	}
}

func TestFilterAddressesWithRelay_LoopbackOnly_KeptAsDirect(t *testing.T) {
	addrs := []ma.Multiaddr{maMust(t, "/ip4/127.0.0.1/tcp/26656")}
	own := []ma.Multiaddr{maMust(t, "/ip4/192.168.1.10/tcp/26656")}

	got := FilterAddressesWithRelay(addrs, own)
	if len(got.Direct) != 1 || len(got.RelayCandidates) != 0 {
		t.Fatalf("loopback-only peer should fall back to direct for local testing, got %+v", got)
	}
}

func TestFilterAddressesWithRelay_NoOwnAddrs_ConservativeDirect(t *testing.T) {
	addrs := []ma.Multiaddr{maMust(t, "/ip4/10.5.0.50/tcp/26656")}

	got := FilterAddressesWithRelay(addrs, nil)
	if len(got.Direct) != 1 || len(got.RelayCandidates) != 0 {
		t.Fatalf("no own addresses should fall back to conservative direct classification, got %+v", got)
	}
}

func TestFilterAddressesWithRelay_RelayCircuitAddr_NeverDirect(t *testing.T) {
	addrs := []ma.Multiaddr{
		maMust(t, "/ip4/8.8.8.8/tcp/26656/p2p/"+testPeerA+"/p2p-circuit/p2p/"+testPeerB),
	}
	own := []ma.Multiaddr{maMust(t, "/ip4/1.1.1.1/tcp/26656")}

	got := FilterAddressesWithRelay(addrs, own)
	if len(got.Direct) != 0 {
		t.Fatalf("a one-hop relay circuit address must never be classified as direct, got %+v", got)
	}
}

func TestFilterAddressesWithRelay_DoubleCircuitAddr_Dropped(t *testing.T) {
	addrs := []ma.Multiaddr{
		maMust(t, "/ip4/8.8.8.8/tcp/26656/p2p/"+testPeerA+"/p2p-circuit/p2p/"+testPeerB+"/p2p-circuit/p2p/"+testPeerC),
	}
	own := []ma.Multiaddr{maMust(t, "/ip4/1.1.1.1/tcp/26656")}

	got := FilterAddressesWithRelay(addrs, own)
	if len(got.Direct) != 0 || len(got.RelayCandidates) != 0 {
		t.Fatalf("double-circuit (relay-through-relay) addresses must be dropped entirely, got %+v", got)
	}
}

func TestFilterAddressesWithRelay_DNSAddr_KeptAsDirect(t *testing.T) {
	addrs := []ma.Multiaddr{maMust(t, "/dns4/seed.example.org/tcp/26656")}
	own := []ma.Multiaddr{maMust(t, "/ip4/192.168.1.10/tcp/26656")}

	got := FilterAddressesWithRelay(addrs, own)
	if len(got.Direct) != 1 {
		t.Fatalf("addresses with no extractable IP (DNS names) should be kept as direct, got %+v", got)
	}
}

// TestProperty_FilterIsIdempotentOnItsOwnOutput checks, across randomized
// private/public IPv4 pairs, that a single peer address is classified into
// exactly one of Direct or RelayCandidates, and that filtering that output
// again yields the same split.
func TestProperty_FilterIsIdempotentOnItsOwnOutput(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		octet := func(label string) int { return rapid.IntRange(1, 254).Draw(t, label) }

		peerPrivate := rapid.Bool().Draw(t, "peer_private")
		ownPrivate := rapid.Bool().Draw(t, "own_private")

		var peerAddr, ownAddr string
		if peerPrivate {
			peerAddr = "/ip4/192.168." + itoa(octet("p1")) + "." + itoa(octet("p2")) + "/tcp/1"
		} else {
			peerAddr = "/ip4/9." + itoa(octet("p1")) + "." + itoa(octet("p2")) + "/tcp/1"
		}
		if ownPrivate {
			ownAddr = "/ip4/192.168." + itoa(octet("o1")) + "." + itoa(octet("o2")) + "/tcp/1"
		} else {
			ownAddr = "/ip4/9." + itoa(octet("o1")) + "." + itoa(octet("o2")) + "/tcp/1"
		}

		peerMa, err := ma.NewMultiaddr(peerAddr)
		if err != nil {
			t.Fatalf("NewMultiaddr(%q): %v", peerAddr, err)
		}
		ownMa, err := ma.NewMultiaddr(ownAddr)
		if err != nil {
			t.Fatalf("NewMultiaddr(%q): %v", ownAddr, err)
		}
		addrs := []ma.Multiaddr{peerMa}
		own := []ma.Multiaddr{ownMa}

		first := FilterAddressesWithRelay(addrs, own)
		total := len(first.Direct) + len(first.RelayCandidates)
		if total != 1 {
			t.Fatalf("expected exactly one classified address, got direct=%d relay=%d", len(first.Direct), len(first.RelayCandidates))
		}

		// Filtering the first run's own output against the same own-address
		// set must give the same split (idempotence).
		second := FilterAddressesWithRelay(append(append([]ma.Multiaddr{}, first.Direct...), first.RelayCandidates...), own)
		if len(first.Direct) != len(second.Direct) || len(first.RelayCandidates) != len(second.RelayCandidates) {
			t.Fatalf("classification is not deterministic: %+v vs %+v", first, second)
		}
	})
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [8]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
