package discovery

import (
	"testing"

	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"
)

// Valid CIDv0-encoded (legacy) peer IDs, used wherever a test round-trips
// through the wire encoding and therefore needs a string peer.Decode accepts.
const (
	testPeerA = "QmYyQSo1c1Ym7orWxLYvCrM2EmxFTANf8wXmmE7DWjhx5N"
	testPeerB = "QmUNLLsPACCz1vLxQVkXqqLX5R1X345qqfHbsf67hvA3Nn"
	testPeerC = "QmNnooDu7bfjPFoTZYxMNLWUSvYnQJL2eJmDAQLh3ZkGYg"
)

func decodePeer(t *testing.T, s string) peer.ID {
	t.Helper()
	id, err := peer.Decode(s)
	if err != nil {
		t.Fatalf("peer.Decode(%q): %v", s, err)
	}
	return id
}

func TestGetAllPeersExcept_MergesUnidentifiedBootstrapEntries(t *testing.T) {
	d := New("self", testConfig(), nil, nil, nil, nil, nil)
	d.bootstrapNodes = []*BootstrapEntry{
		{Addrs: []ma.Multiaddr{mustAddr(t, "/ip4/1.1.1.1/tcp/9000")}},
		{Addrs: []ma.Multiaddr{mustAddr(t, "/ip4/2.2.2.2/tcp/9000")}},
	}

	out := d.getAllPeersExcept("")

	addrs, ok := out[peer.ID("")]
	if !ok {
		t.Fatal("expected an entry under the unidentified (zero-value) peer ID")
	}
	if len(addrs) != 2 {
		t.Fatalf("expected both bootstrap entries' addresses merged, got %d", len(addrs))
	}
}

func TestGetAllPeersExcept_ExcludesGivenPeer(t *testing.T) {
	d := New("self", testConfig(), nil, nil, nil, nil, nil)
	a := mustAddr(t, "/ip4/1.1.1.1/tcp/9000")
	b := mustAddr(t, "/ip4/2.2.2.2/tcp/9000")
	pa, pb := decodePeer(t, testPeerA), decodePeer(t, testPeerB)
	d.discoveredPeers[pa] = &PeerRecord{ID: pa, Addrs: []ma.Multiaddr{a}}
	d.discoveredPeers[pb] = &PeerRecord{ID: pb, Addrs: []ma.Multiaddr{b}}

	out := d.getAllPeersExcept(pa)

	if _, ok := out[pa]; ok {
		t.Fatal("excluded peer should not be in the result")
	}
	if _, ok := out[pb]; !ok {
		t.Fatal("the other peer should be in the result")
	}
}

func TestGetAllPeersExcept_BootstrapCoveredByDiscoveredPeer_NotDuplicated(t *testing.T) {
	d := New("self", testConfig(), nil, nil, nil, nil, nil)
	addr := mustAddr(t, "/ip4/1.1.1.1/tcp/9000")
	pa := decodePeer(t, testPeerA)
	d.bootstrapNodes = []*BootstrapEntry{{Addrs: []ma.Multiaddr{addr}}}
	d.discoveredPeers[pa] = &PeerRecord{ID: pa, Addrs: []ma.Multiaddr{addr}}

	out := d.getAllPeersExcept("")

	if _, ok := out[peer.ID("")]; ok {
		t.Fatal("bootstrap entry already covered by a discovered peer should not reappear under the zero-value key")
	}
	if _, ok := out[pa]; !ok {
		t.Fatal("discovered peer should still be present")
	}
}

func TestOnPeersRequest_ReturnsOnlyWhatRequesterDoesNotKnow(t *testing.T) {
	d := New("self", testConfig(), nil, nil, nil, nil, nil)
	addrA := mustAddr(t, "/ip4/1.1.1.1/tcp/9000")
	addrB := mustAddr(t, "/ip4/2.2.2.2/tcp/9000")
	pa, pb := decodePeer(t, testPeerA), decodePeer(t, testPeerB)
	d.discoveredPeers[pa] = &PeerRecord{ID: pa, Addrs: []ma.Multiaddr{addrA}}
	d.discoveredPeers[pb] = &PeerRecord{ID: pb, Addrs: []ma.Multiaddr{addrB}}

	req := PeersRequest{Known: []WireAddrEntry{
		{PeerID: testPeerA, Addrs: []string{addrA.String()}},
	}}

	resp := d.OnPeersRequest(decodePeer(t, testPeerC), req, nil)

	if len(resp.Peers) != 1 {
		t.Fatalf("expected exactly one peer offered, got %d", len(resp.Peers))
	}
	if resp.Peers[0].PeerID != testPeerB {
		t.Fatalf("expected the other peer offered, got %v", resp.Peers[0])
	}
}

func TestOnPeersRequest_DropsCandidateWithNoEmittableAddress(t *testing.T) {
	d := New("self", testConfig(), nil, nil, nil, nil, nil)
	pb := decodePeer(t, testPeerB)
	requester := decodePeer(t, testPeerC)

	// pb has a private address unreachable from the requester's (unknown,
	// falls back to ours) public vantage point, and there are no relay
	// servers or shared connections to synthesize a relay address through.
	d.discoveredPeers[pb] = &PeerRecord{ID: pb, Addrs: []ma.Multiaddr{mustAddr(t, "/ip4/10.0.0.5/tcp/9000")}}

	ownAddrs := []ma.Multiaddr{mustAddr(t, "/ip4/7.7.7.7/tcp/26657")}
	resp := d.OnPeersRequest(requester, PeersRequest{}, ownAddrs)

	if len(resp.Peers) != 0 {
		t.Fatalf("expected the candidate dropped for lacking an emittable address, got %v", resp.Peers)
	}
}

func TestOnPeersRequest_SynthesizesRelayAddressViaSelfWhenConnectedToBothParties(t *testing.T) {
	d := New(decodePeer(t, testPeerC), testConfig(), nil, nil, nil, nil, nil)
	target := decodePeer(t, testPeerA)
	requester := decodePeer(t, testPeerB)

	privateAddr := mustAddr(t, "/ip4/10.0.0.5/tcp/9000")
	d.discoveredPeers[target] = &PeerRecord{ID: target, Addrs: []ma.Multiaddr{privateAddr}}
	d.activeConnections[target] = []ConnID{"conn-to-target"}
	d.activeConnections[requester] = []ConnID{"conn-to-requester"}

	ownAddrs := []ma.Multiaddr{mustAddr(t, "/ip4/8.8.8.8/tcp/26657")}
	resp := d.OnPeersRequest(requester, PeersRequest{}, ownAddrs)

	if len(resp.Peers) != 1 {
		t.Fatalf("expected a relayed address synthesized for the target peer, got %v", resp.Peers)
	}
	entry := resp.Peers[0]
	if entry.PeerID != testPeerA {
		t.Fatalf("expected the entry to be for the target peer, got %v", entry)
	}
	if len(entry.Addrs) != 1 {
		t.Fatalf("expected exactly one synthesized relay address, got %v", entry.Addrs)
	}
	want := ownAddrs[0].String() + "/p2p/" + d.selfPeerID.String() + "/p2p-circuit/p2p/" + testPeerA
	if entry.Addrs[0] != want {
		t.Fatalf("synthesized relay address = %q, want %q", entry.Addrs[0], want)
	}
}

func TestOnPeersRequest_FallsBackToConfiguredRelayServersWhenNotConnectedToBoth(t *testing.T) {
	d := New("self", testConfig(), nil, nil, nil, nil, nil)
	target := decodePeer(t, testPeerA)
	requester := decodePeer(t, testPeerB)
	relayPeer := decodePeer(t, testPeerC)

	privateAddr := mustAddr(t, "/ip4/10.0.0.5/tcp/9000")
	d.discoveredPeers[target] = &PeerRecord{ID: target, Addrs: []ma.Multiaddr{privateAddr}}
	relayAddr := mustAddr(t, "/ip4/3.3.3.3/tcp/4001")
	d.relayServers = []*RelayEntry{{PeerID: relayPeer, Addrs: []ma.Multiaddr{relayAddr}}}

	ownAddrs := []ma.Multiaddr{mustAddr(t, "/ip4/8.8.8.8/tcp/26657")}
	resp := d.OnPeersRequest(requester, PeersRequest{}, ownAddrs)

	if len(resp.Peers) != 1 {
		t.Fatalf("expected a relayed address synthesized via the configured relay server, got %v", resp.Peers)
	}
	want := relayAddr.String() + "/p2p/" + relayPeer.String() + "/p2p-circuit/p2p/" + testPeerA
	if resp.Peers[0].Addrs[0] != want {
		t.Fatalf("synthesized relay address = %q, want %q", resp.Peers[0].Addrs[0], want)
	}
}

func TestOnPeersResponse_FiltersAndQueuesDials(t *testing.T) {
	d := New("self", testConfig(), nil, nil, nil, nil, nil)
	id := NewRequestID()
	d.peersRequests.AddInProgress(id, decodePeer(t, testPeerA), RequestKindPeers)

	newAddr := mustAddr(t, "/ip4/5.5.5.5/tcp/9000")
	resp := PeersResponse{Peers: []WireAddrEntry{
		{PeerID: testPeerC, Addrs: []string{newAddr.String()}},
	}}

	d.OnPeersResponse(id, resp, nil)

	if d.peersRequests.IsInProgress(id) {
		t.Fatal("request should be completed, not still in progress")
	}
	dials := d.Controller.DrainDials()
	want := decodePeer(t, testPeerC)
	if len(dials) != 1 || dials[0].PeerID != want {
		t.Fatalf("expected exactly one dial queued for the new peer, got %v", dials)
	}
}

func TestOnPeersResponse_UnknownRequestID_IsIgnored(t *testing.T) {
	d := New("self", testConfig(), nil, nil, nil, nil, nil)
	d.OnPeersResponse(NewRequestID(), PeersResponse{}, nil)

	if len(d.Controller.DrainDials()) != 0 {
		t.Fatal("an unknown request ID should not queue any dials")
	}
}

func TestOnFailedPeersRequest_RetriesThenGivesUpAndContinuesExtension(t *testing.T) {
	cfg := testConfig()
	cfg.RequestMaxRetries = 1
	d := New("self", cfg, nil, nil, nil, nil, nil)

	id := NewRequestID()
	d.peersRequests.AddInProgress(id, decodePeer(t, testPeerA), RequestKindPeers)
	d.state = StateExtending
	d.extendTarget = 1
	pb := decodePeer(t, testPeerB)
	d.extendRemaining = []peer.ID{pb}

	d.OnFailedPeersRequest(id) // attempt 1, retry
	if !d.peersRequests.IsInProgress(id) {
		t.Fatal("request should still be in progress after the first failure (maxRetries=1)")
	}
	if sends := d.Controller.DrainSends(); len(sends) != 1 || sends[0].ID != id {
		t.Fatalf("the first failure should re-send the same request, got %v", sends)
	}

	d.OnFailedPeersRequest(id) // attempt 2, exhausted
	if d.peersRequests.IsInProgress(id) {
		t.Fatal("request should be dropped once retries are exhausted")
	}
	if sends := d.Controller.DrainSends(); len(sends) != 1 || sends[0].Peer != pb {
		t.Fatalf("extension should continue with a peers-request to the next candidate, got %v", sends)
	}
}
