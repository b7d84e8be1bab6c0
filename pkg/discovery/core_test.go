package discovery

import (
	"testing"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func mustAddr(t *testing.T, s string) ma.Multiaddr {
	t.Helper()
	a, err := ma.NewMultiaddr(s)
	if err != nil {
		t.Fatalf("NewMultiaddr(%q): %v", s, err)
	}
	return a
}

func testConfig() Config {
	return Config{
		Enabled:                    true,
		BootstrapProtocol:          BootstrapFull,
		Selector:                   SelectorRoundRobin,
		NumOutboundPeers:           3,
		NumInboundPeers:            3,
		MaxConnectionsPerPeer:      2,
		EphemeralConnectionTimeout: time.Second,
		RequestMaxRetries:          2,
	}
}

// TestNew_FullMode_StartsExtending exercises the state-selection branch of
// New when bootstrap nodes are configured and the protocol is Full.
func TestNew_FullMode_StartsExtending(t *testing.T) {
	bootstrap := []ma.Multiaddr{mustAddr(t, "/ip4/1.2.3.4/tcp/9000")}
	d := New("self", testConfig(), bootstrap, nil, nil, nil, nil)

	if d.State() != StateExtending {
		t.Fatalf("State() = %v, want Extending", d.State())
	}
}

// TestNew_KademliaMode_StartsBootstrapping exercises the Kademlia branch.
func TestNew_KademliaMode_StartsBootstrapping(t *testing.T) {
	cfg := testConfig()
	cfg.BootstrapProtocol = BootstrapKademlia
	bootstrap := []ma.Multiaddr{mustAddr(t, "/ip4/1.2.3.4/tcp/9000")}
	d := New("self", cfg, bootstrap, nil, nil, nil, nil)

	if d.State() != StateBootstrapping {
		t.Fatalf("State() = %v, want Bootstrapping", d.State())
	}
}

// TestNew_NoBootstrapNodes_StartsIdle covers the "no bootstrap nodes
// provided" branch regardless of configured protocol.
func TestNew_NoBootstrapNodes_StartsIdle(t *testing.T) {
	d := New("self", testConfig(), nil, nil, nil, nil, nil)
	if d.State() != StateIdle {
		t.Fatalf("State() = %v, want Idle", d.State())
	}
}

// TestNew_Disabled_StartsIdle covers config.Enabled = false.
func TestNew_Disabled_StartsIdle(t *testing.T) {
	cfg := testConfig()
	cfg.Enabled = false
	bootstrap := []ma.Multiaddr{mustAddr(t, "/ip4/1.2.3.4/tcp/9000")}
	d := New("self", cfg, bootstrap, nil, nil, nil, nil)
	if d.State() != StateIdle {
		t.Fatalf("State() = %v, want Idle", d.State())
	}
}

// TestScenarioS6_BootstrapIdentification reproduces spec scenario S6:
// starting from an unidentified bootstrap entry at a known address, dialing
// it, and receiving an identify response from that address resolves the
// entry's peer ID.
func TestScenarioS6_BootstrapIdentification(t *testing.T) {
	bootstrapAddr := mustAddr(t, "/ip4/1.2.3.4/tcp/9000")
	d := New("self", testConfig(), []ma.Multiaddr{bootstrapAddr}, nil, nil, nil, nil)

	d.Start()
	dials := d.Controller.DrainDials()
	if len(dials) != 1 {
		t.Fatalf("Start() queued %d dials, want 1", len(dials))
	}

	conn := ConnID("conn-1")
	d.dial.AddInProgress(conn, &DialData{ListenAddrs: []ma.Multiaddr{bootstrapAddr}})

	targetPeer := peer.ID("P")
	d.OnConnectionEstablished(targetPeer, conn, DirectionOutbound)
	d.OnIdentify(conn, targetPeer, []ma.Multiaddr{bootstrapAddr}, nil)

	if len(d.bootstrapNodes) != 1 {
		t.Fatalf("expected exactly one bootstrap entry, got %d", len(d.bootstrapNodes))
	}
	if d.bootstrapNodes[0].PeerID != targetPeer {
		t.Fatalf("bootstrap entry peer ID = %q, want %q", d.bootstrapNodes[0].PeerID, targetPeer)
	}
}

// TestOnIdentify_Duplicate_IsIgnored covers the duplicate (peer, conn) guard.
func TestOnIdentify_Duplicate_IsIgnored(t *testing.T) {
	d := New("self", testConfig(), nil, nil, nil, nil, nil)
	p := peer.ID("P")
	conn := ConnID("conn-1")
	addr := mustAddr(t, "/ip4/9.9.9.9/tcp/1")

	d.OnConnectionEstablished(p, conn, DirectionInbound)
	d.OnIdentify(conn, p, []ma.Multiaddr{addr}, nil)

	before := len(d.discoveredPeers)
	dup := d.OnIdentify(conn, p, []ma.Multiaddr{addr}, nil)

	if !dup {
		t.Fatal("second identify on the same (peer, conn) should report duplicate")
	}
	if len(d.discoveredPeers) != before {
		t.Fatalf("duplicate identify should not mutate discoveredPeers, had %d now %d", before, len(d.discoveredPeers))
	}
}

// TestOnIdentify_MaxConnectionsPerPeer_ClosesExcess covers the capacity
// cap in admission step 6.
func TestOnIdentify_MaxConnectionsPerPeer_ClosesExcess(t *testing.T) {
	cfg := testConfig()
	cfg.MaxConnectionsPerPeer = 1
	d := New("self", cfg, nil, nil, nil, nil, nil)

	p := peer.ID("P")
	addr := mustAddr(t, "/ip4/9.9.9.9/tcp/1")

	conn1 := ConnID("c1")
	d.OnConnectionEstablished(p, conn1, DirectionInbound)
	d.OnIdentify(conn1, p, []ma.Multiaddr{addr}, nil)

	conn2 := ConnID("c2")
	d.OnConnectionEstablished(p, conn2, DirectionInbound)
	d.OnIdentify(conn2, p, []ma.Multiaddr{addr}, nil)

	closes := d.Controller.DrainCloses()
	if len(closes) != 1 || closes[0].Conn != conn2 {
		t.Fatalf("closes = %v, want exactly conn2 closed", closes)
	}
}

// TestOnIdentify_DiscoveryDisabled_AdmitsInboundUpToLimit covers the
// disabled-discovery admission branch.
func TestOnIdentify_DiscoveryDisabled_AdmitsInboundUpToLimit(t *testing.T) {
	cfg := testConfig()
	cfg.Enabled = false
	cfg.NumInboundPeers = 1
	d := New("self", cfg, nil, nil, nil, nil, nil)

	addr := mustAddr(t, "/ip4/9.9.9.9/tcp/1")

	conn1 := ConnID("c1")
	p1 := peer.ID("P1")
	d.OnConnectionEstablished(p1, conn1, DirectionInbound)
	d.OnIdentify(conn1, p1, []ma.Multiaddr{addr}, nil)

	conn2 := ConnID("c2")
	p2 := peer.ID("P2")
	d.OnConnectionEstablished(p2, conn2, DirectionInbound)
	d.OnIdentify(conn2, p2, []ma.Multiaddr{addr}, nil)

	if len(d.inboundPeers) != 1 {
		t.Fatalf("inboundPeers = %d, want 1 (capped)", len(d.inboundPeers))
	}
	closes := d.Controller.DrainCloses()
	if len(closes) != 1 || closes[0].Peer != p2 {
		t.Fatalf("closes = %v, want p2 refused", closes)
	}
}

// TestMaybeTriggerRediscovery_OnlyFiresInFullModeWhenIdleAndShort.
func TestMaybeTriggerRediscovery_OnlyFiresInFullModeWhenIdleAndShort(t *testing.T) {
	cfg := testConfig()
	d := New("self", cfg, nil, nil, nil, nil, nil)
	d.state = StateIdle
	d.discoveredPeers[peer.ID("A")] = &PeerRecord{ID: "A", Addrs: []ma.Multiaddr{mustAddr(t, "/ip4/1.1.1.1/tcp/1")}}

	d.maybeTriggerRediscovery()

	if d.state != StateExtending {
		t.Fatalf("state = %v, want Extending after rediscovery trigger", d.state)
	}
	sends := d.Controller.DrainSends()
	if len(sends) != 1 {
		t.Fatalf("expected exactly one peers-request queued, got %d", len(sends))
	}
}

func TestMaybeTriggerRediscovery_NoOpInKademliaMode(t *testing.T) {
	cfg := testConfig()
	cfg.BootstrapProtocol = BootstrapKademlia
	d := New("self", cfg, nil, nil, nil, nil, nil)
	d.state = StateIdle

	d.maybeTriggerRediscovery()

	if d.state != StateIdle {
		t.Fatalf("state = %v, want Idle (Kademlia relies on its own bootstrap)", d.state)
	}
}

// TestPeerCounts_ReflectsOutboundAndInboundMaps covers the accessor a driver
// uses to report overlay shape upward without reaching into private state.
func TestPeerCounts_ReflectsOutboundAndInboundMaps(t *testing.T) {
	d := New("self", testConfig(), nil, nil, nil, nil, nil)

	d.outboundPeers[peer.ID("out-1")] = RoleOutboundConfirmed
	d.inboundPeers[peer.ID("in-1")] = struct{}{}
	d.inboundPeers[peer.ID("in-2")] = struct{}{}

	outbound, inbound := d.PeerCounts()
	if outbound != 1 || inbound != 2 {
		t.Fatalf("PeerCounts() = (%d, %d), want (1, 2)", outbound, inbound)
	}
}

// TestNotifyDialStarted_ThenOnDialSucceeded_ClearsInProgress covers the
// happy path of the driver's pre-dial correlation handshake: a dial attempt
// is registered under a throwaway token, and success simply discards it
// without touching the retry machinery.
func TestNotifyDialStarted_ThenOnDialSucceeded_ClearsInProgress(t *testing.T) {
	d := New("self", testConfig(), nil, nil, nil, nil, nil)
	token := ConnID("token-1")
	addr := mustAddr(t, "/ip4/1.2.3.4/tcp/9000")

	d.NotifyDialStarted(token, peer.ID("P"), []ma.Multiaddr{addr})
	if d.dial.InProgressLen() != 1 {
		t.Fatalf("InProgressLen() = %d, want 1 after NotifyDialStarted", d.dial.InProgressLen())
	}

	d.OnDialSucceeded(token)
	if d.dial.InProgressLen() != 0 {
		t.Fatalf("InProgressLen() = %d, want 0 after OnDialSucceeded", d.dial.InProgressLen())
	}
	if d.dial.FailedTotal() != 0 {
		t.Fatalf("FailedTotal() = %d, want 0 on the success path", d.dial.FailedTotal())
	}
}

// TestOnDialFailed_RetriesThenExhausts drives a dial through NotifyDialStarted
// and repeated OnDialFailed calls, checking that retries are scheduled while
// attempts remain and the failed-dials metric only increments once retries
// are exhausted.
func TestOnDialFailed_RetriesThenExhausts(t *testing.T) {
	cfg := testConfig()
	cfg.RequestMaxRetries = 1
	metrics := NewMetrics(prometheus.NewRegistry())
	d := New("self", cfg, nil, nil, nil, nil, metrics)

	token := ConnID("token-1")
	addr := mustAddr(t, "/ip4/1.2.3.4/tcp/9000")
	d.NotifyDialStarted(token, peer.ID("P"), []ma.Multiaddr{addr})

	d.OnDialFailed(token)
	if d.dial.InProgressLen() != 0 {
		t.Fatalf("InProgressLen() = %d, want 0 once the attempt leaves in-progress", d.dial.InProgressLen())
	}
	if got := testutil.ToFloat64(metrics.FailedDialsTotal); got != 0 {
		t.Fatalf("FailedDialsTotal = %v, want 0 before retries are exhausted", got)
	}

	// The retry landed on the retry queue, not back in progress; failing it
	// again requires re-registering under a new token the way the driver
	// would after OnTick hands it back out as a DialRequest.
	retryToken := ConnID("token-2")
	d.NotifyDialStarted(retryToken, peer.ID("P"), []ma.Multiaddr{addr})
	d.OnDialFailed(retryToken)

	if got := testutil.ToFloat64(metrics.FailedDialsTotal); got != 1 {
		t.Fatalf("FailedDialsTotal = %v, want 1 once retries are exhausted", got)
	}
}

// TestOnDialFailed_UnknownConn_IsIgnored covers the guard against a stale or
// duplicate failure report for a token that isn't in progress.
func TestOnDialFailed_UnknownConn_IsIgnored(t *testing.T) {
	d := New("self", testConfig(), nil, nil, nil, nil, nil)
	d.OnDialFailed(ConnID("never-registered"))
}
