// Package discovery implements the Discovery & Reachability Engine: it
// dials bootstrap and relay peers, classifies their advertised addresses
// for reachability, exchanges peer lists to grow the overlay, and tracks
// outbound/inbound connection accounting. It never touches a transport
// directly — every operation mutates internal state and queues side
// effects (dials, sends, closes) on a Controller for the driver to execute.
package discovery

import (
	"log/slog"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"
)

// BootstrapProtocol selects how the engine grows the overlay: Kademlia
// delegates peer discovery to a DHT, Full exchanges peer lists directly.
type BootstrapProtocol int

const (
	BootstrapKademlia BootstrapProtocol = iota
	BootstrapFull
)

// Config carries the engine's tunables. The node wiring layer translates
// internal/config.DiscoveryConfig into one of these; this package has no
// dependency on the YAML config tree so it stays independently testable.
type Config struct {
	Enabled                    bool
	BootstrapProtocol          BootstrapProtocol
	Selector                   SelectorKind
	NumOutboundPeers           uint32
	NumInboundPeers            uint32
	MaxConnectionsPerPeer      uint32
	EphemeralConnectionTimeout time.Duration
	RequestMaxRetries          uint32
}

// Direction tags whether a connection was dialed by us or accepted.
type Direction int

const (
	DirectionOutbound Direction = iota
	DirectionInbound
)

// Discovery is the Discovery & Reachability Engine. It is not safe for
// concurrent use: per §5, all mutation happens from the single event-loop
// task that owns it.
type Discovery struct {
	config Config
	state  State

	selfPeerID peer.ID
	selector   *Selector

	extendTarget    uint32
	extendRemaining []peer.ID

	bootstrapNodes []*BootstrapEntry
	relayServers   []*RelayEntry

	discoveredPeers    map[peer.ID]*PeerRecord
	activeConnections  map[peer.ID][]ConnID
	identifiedConns    map[ConnID]struct{}
	outboundPeers      map[peer.ID]PeerRole
	inboundPeers       map[peer.ID]struct{}

	dial            *DialController
	peersRequests   *RequestTracker
	connectRequests *RequestTracker

	routing RoutingTable
	relay   RelayToggle

	Controller Controller
	metrics    *Metrics
}

// New builds a Discovery engine. bootstrapAddrs and relayAddrs seed
// unidentified BootstrapEntry/RelayEntry records; routing is nil unless
// config.BootstrapProtocol is Kademlia; relay is nil unless the caller
// wants this node to act as a relay server itself.
func New(selfPeerID peer.ID, config Config, bootstrapAddrs, relayAddrs []ma.Multiaddr, routing RoutingTable, relay RelayToggle, metrics *Metrics) *Discovery {
	d := &Discovery{
		config:     config,
		selfPeerID: selfPeerID,
		selector:   NewSelector(config.Selector),

		discoveredPeers:   make(map[peer.ID]*PeerRecord),
		activeConnections: make(map[peer.ID][]ConnID),
		identifiedConns:   make(map[ConnID]struct{}),
		outboundPeers:     make(map[peer.ID]PeerRole),
		inboundPeers:      make(map[peer.ID]struct{}),

		dial:            NewDialController(config.RequestMaxRetries),
		peersRequests:   NewRequestTracker(config.RequestMaxRetries),
		connectRequests: NewRequestTracker(config.RequestMaxRetries),

		routing: routing,
		relay:   relay,
		metrics: metrics,
	}

	for _, addr := range bootstrapAddrs {
		d.bootstrapNodes = append(d.bootstrapNodes, &BootstrapEntry{Addrs: []ma.Multiaddr{addr}})
	}
	for _, addr := range relayAddrs {
		d.relayServers = append(d.relayServers, &RelayEntry{Addrs: []ma.Multiaddr{addr}})
	}

	switch {
	case !config.Enabled:
		d.state = StateIdle
	case len(d.bootstrapNodes) == 0:
		slog.Warn("discovery: no bootstrap nodes configured")
		d.state = StateIdle
	case config.BootstrapProtocol == BootstrapKademlia:
		d.state = StateBootstrapping
	default:
		d.state = StateExtending
		d.extendTarget = config.NumOutboundPeers
	}

	slog.Info("discovery: initialized", "enabled", config.Enabled, "state", d.state.String(),
		"bootstrap_nodes", len(d.bootstrapNodes), "relay_servers", len(d.relayServers))

	return d
}

// IsEnabled reports the master discovery switch.
func (d *Discovery) IsEnabled() bool { return d.config.Enabled }

// State returns the current bootstrap/extension state, mainly for tests and
// diagnostics.
func (d *Discovery) State() State { return d.state }

// PeerCounts reports how many peers currently hold the outbound and inbound
// roles, for callers that need to report the overlay's shape upward without
// reaching into unexported state.
func (d *Discovery) PeerCounts() (outbound, inbound int) {
	return len(d.outboundPeers), len(d.inboundPeers)
}

// Start queues the initial bootstrap dials (one per bootstrap/relay entry)
// for the driver, per §4.1.1.
func (d *Discovery) Start() {
	for _, entry := range d.bootstrapNodes {
		d.Controller.queueDial(DialRequest{Addrs: entry.Addrs})
	}
	for _, entry := range d.relayServers {
		d.Controller.queueDial(DialRequest{Addrs: entry.Addrs})
	}
	if d.state == StateExtending {
		d.makeExtensionStep()
	}
}

// OnConnectionEstablished backfills the peer ID of any in-progress dial
// that started with an unknown identity and records the new connection.
func (d *Discovery) OnConnectionEstablished(p peer.ID, conn ConnID, dir Direction) {
	d.dial.SetPeerID(conn, p)

	rec, ok := d.discoveredPeers[p]
	if !ok {
		rec = &PeerRecord{ID: p}
		d.discoveredPeers[p] = rec
	}
	rec.ConnectionCount++
	d.activeConnections[p] = append(d.activeConnections[p], conn)
}

// OnConnectionClosed removes a closed connection from the peer's
// bookkeeping, dropping the PeerRecord once the last connection is gone and
// no role retains it.
func (d *Discovery) OnConnectionClosed(p peer.ID, conn ConnID) {
	conns := d.activeConnections[p]
	for i, c := range conns {
		if c == conn {
			conns = append(conns[:i], conns[i+1:]...)
			break
		}
	}
	if len(conns) == 0 {
		delete(d.activeConnections, p)
	} else {
		d.activeConnections[p] = conns
	}
	delete(d.identifiedConns, conn)

	if rec, ok := d.discoveredPeers[p]; ok && rec.ConnectionCount > 0 {
		rec.ConnectionCount--
	}

	_, isOutbound := d.outboundPeers[p]
	_, isInbound := d.inboundPeers[p]
	if len(conns) == 0 && !isOutbound && !isInbound {
		delete(d.discoveredPeers, p)
	}
}

// NotifyDialStarted registers a dial attempt the driver is about to
// perform under the given correlation ID, so a later OnDialFailed call can
// schedule a retry with the right backoff state. peerID may be empty for a
// bootstrap address whose identity isn't yet known.
func (d *Discovery) NotifyDialStarted(conn ConnID, peerID peer.ID, addrs []ma.Multiaddr) {
	d.dial.AddInProgress(conn, &DialData{PeerID: peerID, ListenAddrs: addrs})
}

// OnDialSucceeded clears the in-progress record for a dial that connected.
// OnConnectionEstablished, called separately and keyed by the resulting
// connection's own ConnID, takes over bookkeeping from here.
func (d *Discovery) OnDialSucceeded(conn ConnID) {
	d.dial.RemoveInProgress(conn)
}

// OnDialFailed reports that the in-progress dial conn did not succeed. It
// schedules a backoff retry if attempts remain, or drops the dial and bumps
// the failed-dials metric once request_max_retries is exhausted.
func (d *Discovery) OnDialFailed(conn ConnID) {
	data, ok := d.dial.RemoveInProgress(conn)
	if !ok {
		return
	}
	if d.dial.RecordFailure(data) {
		slog.Debug("discovery: dial failed, will retry", "peer", data.PeerID.String(), "attempts", data.Attempts)
		return
	}
	slog.Warn("discovery: dial exhausted retries", "peer", data.PeerID.String())
	if d.metrics != nil {
		d.metrics.FailedDialsTotal.Inc()
	}
}

// OnTick runs periodic maintenance: rediscovery for Full mode, and
// releasing any dial retries whose backoff has elapsed.
func (d *Discovery) OnTick(now time.Time) {
	d.maybeTriggerRediscovery()

	for _, data := range d.dial.DueRetries(now) {
		d.Controller.queueDial(DialRequest{PeerID: data.PeerID, Addrs: data.ListenAddrs})
	}
}

// maybeTriggerRediscovery re-sends peers-requests to connected peers in
// Full mode if we're idle and short of the outbound target (§4.1.6).
// Kademlia mode relies on the routing table's own periodic bootstrap.
func (d *Discovery) maybeTriggerRediscovery() {
	if d.config.BootstrapProtocol != BootstrapFull {
		return
	}
	if d.state != StateIdle {
		return
	}

	missing := int(d.config.NumOutboundPeers) - len(d.outboundPeers)
	if missing <= 0 {
		return
	}

	slog.Info("discovery: periodic peer rediscovery",
		"have", len(d.outboundPeers), "want", d.config.NumOutboundPeers)

	d.initiateExtensionWithTarget(uint32(missing))
}

// initiateExtensionWithTarget moves into Extending and resets the
// not-yet-queried candidate pool to every currently known peer.
func (d *Discovery) initiateExtensionWithTarget(target uint32) {
	d.state = StateExtending
	d.extendTarget = target
	d.extendRemaining = d.extendRemaining[:0]
	for p := range d.discoveredPeers {
		d.extendRemaining = append(d.extendRemaining, p)
	}
	d.makeExtensionStep()
}

// makeExtensionStep picks one unexhausted peer via the configured
// Selector, sends it a PeersRequest, and tracks the outbound request. If
// the outbound target is already met or no candidates remain, the engine
// returns to Idle.
func (d *Discovery) makeExtensionStep() {
	if uint32(len(d.outboundPeers)) >= d.extendTarget {
		d.state = StateIdle
		return
	}

	target, rest, err := d.selector.Next(d.extendRemaining)
	if err != nil {
		d.state = StateIdle
		return
	}
	d.extendRemaining = rest

	known := make(map[peer.ID][]ma.Multiaddr, len(d.discoveredPeers))
	for id, rec := range d.discoveredPeers {
		if id == target {
			continue
		}
		known[id] = rec.Addrs
	}

	id := NewRequestID()
	d.peersRequests.AddInProgress(id, target, RequestKindPeers)
	d.Controller.queueSend(SendRequest{
		ID:       id,
		Peer:     target,
		Protocol: string(ProtocolPeers),
		Payload:  PeersRequest{Known: ToWireEntries(known)},
	})

	if d.metrics != nil {
		d.metrics.ExtensionStepsTotal.Inc()
	}
}

// Close drains all outstanding dial and request trackers. Since the
// engine's state is owned entirely by the single event-loop task, this
// simply discards in-memory bookkeeping; aborting in-flight dials at the
// transport layer is the driver's responsibility.
func (d *Discovery) Close() {
	d.dial = NewDialController(d.config.RequestMaxRetries)
	d.peersRequests = NewRequestTracker(d.config.RequestMaxRetries)
	d.connectRequests = NewRequestTracker(d.config.RequestMaxRetries)
}

func (d *Discovery) updateDiscoveryMetrics() {
	if d.metrics == nil {
		return
	}
	d.metrics.ActiveOutboundPeers.Set(float64(len(d.outboundPeers)))
	d.metrics.ActiveInboundPeers.Set(float64(len(d.inboundPeers)))
	d.metrics.PendingDialsInProgress.Set(float64(d.dial.InProgressLen()))
}
