package node

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	dht "github.com/libp2p/go-libp2p-kad-dht"
	"github.com/libp2p/go-libp2p/core/event"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
	ma "github.com/multiformats/go-multiaddr"
	"golang.org/x/time/rate"

	"github.com/ancazamfir/malachite/internal/config"
	"github.com/ancazamfir/malachite/pkg/discovery"
	"github.com/ancazamfir/malachite/pkg/p2pnet"
	"github.com/ancazamfir/malachite/pkg/syncrange"
)

// ConsensusSink forwards decisions and height updates out to the consensus
// engine. Cast is expected to be non-blocking from the caller's point of
// view; a saturated sink should return an error rather than stall.
type ConsensusSink interface {
	Cast(ctx context.Context, msg any) error
}

// NetworkSink forwards outbound network-layer requests (persistent-peer set
// changes, reachability updates) the same way ConsensusSink does for
// consensus messages.
type NetworkSink interface {
	Cast(ctx context.Context, msg any) error
}

// runCastForwarder drains queue and calls sink.Cast for each message,
// logging failures instead of propagating them so one slow or dead
// collaborator never blocks the event loop that feeds it. This mirrors
// app-channel/src/run.rs's spawn_consensus_request_task /
// spawn_network_request_task: a bounded channel in front of a task that logs
// and drops rather than back-pressuring the sender.
func runCastForwarder(ctx context.Context, name string, queue <-chan any, sink interface {
	Cast(ctx context.Context, msg any) error
}) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-queue:
			if !ok {
				return
			}
			if err := sink.Cast(ctx, msg); err != nil {
				slog.Error("node: cast forwarding failed", "sink", name, "err", err)
			}
		}
	}
}

const peerstoreRoutingTTL = time.Hour

// dhtRouting adapts *dht.IpfsDHT to discovery.RoutingTable.
type dhtRouting struct{ ipfsDHT *dht.IpfsDHT }

func (r *dhtRouting) AddAddress(p peer.ID, addr ma.Multiaddr) {
	r.ipfsDHT.Host().Peerstore().AddAddr(p, addr, peerstoreRoutingTTL)
}

func (r *dhtRouting) Bootstrap(ctx context.Context) error {
	return r.ipfsDHT.Bootstrap(ctx)
}

// Engine owns the libp2p host and drives the Discovery & Reachability Engine
// and Sync Request Planner from a single event-loop goroutine. It is the
// only place in this module that touches the transport directly; everything
// in pkg/discovery and pkg/syncrange stays transport-free.
type Engine struct {
	host    host.Host
	cfg     config.NodeConfig
	disc    *discovery.Discovery
	planner *syncrange.Planner
	relay   *p2pnet.PeerRelay
	metrics *p2pnet.Metrics
	syncM   *syncrange.Metrics

	consensus ConsensusSink
	network   NetworkSink

	consensusQueue chan any
	networkQueue   chan any

	dialLimiter *rate.Limiter
}

// dialBurst caps how many dials performDial can fire back to back before
// dialLimiter's steady-state rate takes over, generalizing the teacher's
// fixed-size maxConcurrentDials semaphore into a token bucket so a sudden
// burst of queued dials (e.g. right after Start()) doesn't open more
// outbound sockets per second than the configured ceiling allows.
const dialBurst = 3

// dialRatePerSecond is the steady-state dial rate once the burst allowance
// is spent.
const dialRatePerSecond = 2

// castQueueCapacity bounds the consensus/network forwarding queues. A full
// queue means the collaborator on the other end is stalled; enqueueing
// drops the message and logs rather than blocking the event loop.
const castQueueCapacity = 64

func (e *Engine) enqueueConsensus(msg any) {
	if e.consensus == nil {
		return
	}
	select {
	case e.consensusQueue <- msg:
	default:
		slog.Warn("node: consensus cast queue full, dropping message")
	}
}

func (e *Engine) enqueueNetwork(msg any) {
	if e.network == nil {
		return
	}
	select {
	case e.networkQueue <- msg:
	default:
		slog.Warn("node: network cast queue full, dropping message")
	}
}

// SyncHeightUpdate reports the planner's current uncovered sync height to
// the consensus engine.
type SyncHeightUpdate struct {
	Height syncrange.Height
}

// PeerSetUpdate reports a change in the discovery engine's outbound/inbound
// peer counts to the network layer.
type PeerSetUpdate struct {
	Outbound int
	Inbound  int
}

// NewEngine builds the engine, translating internal/config into the
// transport-free configs pkg/discovery and pkg/syncrange expect. ipfsDHT may
// be nil when Discovery.BootstrapProtocol is Full rather than Kademlia.
func NewEngine(h host.Host, cfg config.NodeConfig, ipfsDHT *dht.IpfsDHT, metrics *p2pnet.Metrics, consensus ConsensusSink, network NetworkSink) *Engine {
	discM := discovery.NewMetrics(metrics.Registry)
	syncM := syncrange.NewMetrics(metrics.Registry)

	var routing discovery.RoutingTable
	if ipfsDHT != nil {
		routing = &dhtRouting{ipfsDHT: ipfsDHT}
	}

	relay := p2pnet.NewPeerRelay(h, metrics)

	bootstrapAddrs := parseAddrs(cfg.Discovery.BootstrapPeers)
	relayAddrs := parseAddrs(cfg.Discovery.RelayServers)

	dCfg := discovery.Config{
		Enabled:                    cfg.Discovery.Enabled,
		BootstrapProtocol:          translateBootstrapProtocol(cfg.Discovery.BootstrapProtocol),
		Selector:                   translateSelector(cfg.Discovery.Selector),
		NumOutboundPeers:           uint32(cfg.Discovery.NumOutboundPeers),
		NumInboundPeers:            uint32(cfg.Discovery.NumInboundPeers),
		MaxConnectionsPerPeer:      uint32(cfg.Discovery.MaxConnectionsPerPeer),
		EphemeralConnectionTimeout: cfg.Discovery.EphemeralConnectionTimeout,
		RequestMaxRetries:          uint32(cfg.Discovery.RequestMaxRetries),
	}

	var relayToggle discovery.RelayToggle
	if cfg.Relay.IsServer() {
		relayToggle = relay
	}

	disc := discovery.New(h.ID(), dCfg, bootstrapAddrs, relayAddrs, routing, relayToggle, discM)
	planner := syncrange.New(0, cfg.Sync.MaxBatchSize)

	return &Engine{
		host:           h,
		cfg:            cfg,
		disc:           disc,
		planner:        planner,
		relay:          relay,
		metrics:        metrics,
		syncM:          syncM,
		consensus:      consensus,
		network:        network,
		consensusQueue: make(chan any, castQueueCapacity),
		networkQueue:   make(chan any, castQueueCapacity),
		dialLimiter:    rate.NewLimiter(dialRatePerSecond, dialBurst),
	}
}

func parseAddrs(raw []string) []ma.Multiaddr {
	out := make([]ma.Multiaddr, 0, len(raw))
	for _, s := range raw {
		addr, err := ma.NewMultiaddr(s)
		if err != nil {
			slog.Warn("node: skipping unparsable address", "addr", s, "err", err)
			continue
		}
		out = append(out, addr)
	}
	return out
}

func translateBootstrapProtocol(p config.BootstrapProtocol) discovery.BootstrapProtocol {
	if p == config.BootstrapProtocolKademlia {
		return discovery.BootstrapKademlia
	}
	return discovery.BootstrapFull
}

func translateSelector(s config.SelectorKind) discovery.SelectorKind {
	if s == config.SelectorRandom {
		return discovery.SelectorRandom
	}
	return discovery.SelectorRoundRobin
}

// Run starts the relay service if configured, subscribes to connection and
// identify events, registers the discovery protocol stream handlers, and
// drains the Discovery Controller on every tick and every event until ctx is
// cancelled.
func (e *Engine) Run(ctx context.Context) error {
	if e.cfg.Relay.IsServer() {
		e.refreshRelayReachability()
	}

	sub, err := e.host.EventBus().Subscribe(new(event.EvtPeerIdentificationCompleted))
	if err != nil {
		return fmt.Errorf("subscribe to identify events: %w", err)
	}
	defer sub.Close()

	e.host.Network().Notify(&connNotifiee{engine: e})
	e.host.SetStreamHandler(discovery.ProtocolPeers, e.handlePeersStream)
	e.host.SetStreamHandler(discovery.ProtocolConnect, e.handleConnectStream)

	if e.consensus != nil {
		go runCastForwarder(ctx, "consensus", e.consensusQueue, e.consensus)
	}
	if e.network != nil {
		go runCastForwarder(ctx, "network", e.networkQueue, e.network)
	}

	e.disc.Start()
	e.drainController(ctx)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.disc.Close()
			return ctx.Err()

		case evt, ok := <-sub.Out():
			if !ok {
				return nil
			}
			e.onIdentify(evt.(event.EvtPeerIdentificationCompleted))
			e.drainController(ctx)

		case now := <-ticker.C:
			e.disc.OnTick(now)
			if e.syncM != nil {
				e.syncM.Observe(e.planner)
			}
			e.enqueueConsensus(SyncHeightUpdate{Height: e.planner.CurrentSyncHeight()})
			e.drainController(ctx)
		}
	}
}

func (e *Engine) ownAddrs() []ma.Multiaddr {
	return e.host.Addrs()
}

// refreshRelayReachability re-enumerates local network interfaces and lets
// PeerRelay.AutoDetect decide whether this node currently has a public
// address worth relaying through. Only called when relay.mode configures
// this node as a server; it is the interface-discovery (I-a) / network-
// change (I-d) trigger AutoDetect's own doc comment calls for, so a relay
// server on a connection that loses its public address stops advertising
// itself instead of running a relay nobody can reach.
func (e *Engine) refreshRelayReachability() {
	summary, err := p2pnet.DiscoverInterfaces()
	if err != nil {
		slog.Warn("node: failed to enumerate network interfaces", "err", err)
		return
	}
	e.relay.AutoDetect(summary)
}

func (e *Engine) onIdentify(evt event.EvtPeerIdentificationCompleted) {
	connID := discovery.ConnID(evt.Conn.ID())
	e.disc.OnIdentify(connID, evt.Peer, evt.ListenAddrs, e.ownAddrs())

	outbound, inbound := e.disc.PeerCounts()
	e.enqueueNetwork(PeerSetUpdate{Outbound: outbound, Inbound: inbound})
}

// drainController executes every side effect Discovery has queued since the
// last drain: dials, outbound sends, connection closes, and relay listens.
func (e *Engine) drainController(ctx context.Context) {
	for _, req := range e.disc.Controller.DrainDials() {
		go e.performDial(ctx, req)
	}
	for _, req := range e.disc.Controller.DrainSends() {
		go e.performSend(ctx, req)
	}
	for _, req := range e.disc.Controller.DrainCloses() {
		go e.performClose(req)
	}
	for _, addr := range e.disc.Controller.DrainListens() {
		slog.Debug("node: relay listen reservation requested", "addr", addr)
	}
}

// performDial waits its turn on dialLimiter, registers a pre-dial
// correlation token so a failure can be reported back via OnDialFailed, then
// issues the connect. On success the token is discarded: OnConnectionEstablished
// (invoked separately from the connNotifiee, keyed by the resulting
// connection's own ConnID) takes over bookkeeping for the established
// connection.
func (e *Engine) performDial(ctx context.Context, req discovery.DialRequest) {
	if err := e.dialLimiter.Wait(ctx); err != nil {
		return
	}

	token := discovery.ConnID(uuid.NewString())
	e.disc.NotifyDialStarted(token, req.PeerID, req.Addrs)

	addrInfo, err := dialTarget(req)
	if err != nil {
		slog.Debug("node: cannot dial, no usable peer id", "err", err)
		e.disc.OnDialFailed(token)
		return
	}

	if err := e.host.Connect(ctx, addrInfo); err != nil {
		slog.Debug("node: dial failed", "peer", addrInfo.ID.String(), "err", err)
		e.disc.OnDialFailed(token)
		return
	}
	e.disc.OnDialSucceeded(token)
}

// dialTarget resolves a DialRequest into a peer.AddrInfo, extracting the
// peer ID from a /p2p/<id> address component when the request itself
// doesn't carry one yet (unidentified bootstrap dials).
func dialTarget(req discovery.DialRequest) (peer.AddrInfo, error) {
	if req.PeerID != "" {
		return peer.AddrInfo{ID: req.PeerID, Addrs: req.Addrs}, nil
	}
	for _, addr := range req.Addrs {
		if info, err := peer.AddrInfoFromP2pAddr(addr); err == nil {
			return *info, nil
		}
	}
	return peer.AddrInfo{}, fmt.Errorf("no address in %v carries a peer id", req.Addrs)
}

func (e *Engine) performSend(ctx context.Context, req discovery.SendRequest) {
	s, err := e.host.NewStream(ctx, req.Peer, protocol.ID(req.Protocol))
	if err != nil {
		e.failSend(req)
		return
	}
	defer s.Close()

	if err := discovery.WriteMessage(s, req.Payload); err != nil {
		e.failSend(req)
		return
	}

	switch req.Protocol {
	case string(discovery.ProtocolPeers):
		var resp discovery.PeersResponse
		if err := discovery.ReadMessage(s, &resp); err != nil {
			e.failSend(req)
			return
		}
		e.disc.OnPeersResponse(req.ID, resp, e.ownAddrs())
	case string(discovery.ProtocolConnect):
		var resp discovery.ConnectResponse
		if err := discovery.ReadMessage(s, &resp); err != nil {
			e.failSend(req)
			return
		}
		e.disc.OnConnectResponse(req.ID, req.Peer, resp)
	}
}

func (e *Engine) failSend(req discovery.SendRequest) {
	switch req.Protocol {
	case string(discovery.ProtocolPeers):
		e.disc.OnFailedPeersRequest(req.ID)
	case string(discovery.ProtocolConnect):
		e.disc.OnFailedConnectRequest(req.ID)
	}
}

func (e *Engine) performClose(req discovery.CloseRequest) {
	if req.After > 0 {
		time.Sleep(req.After)
	}
	for _, conn := range e.host.Network().ConnsToPeer(req.Peer) {
		if discovery.ConnID(conn.ID()) == req.Conn {
			conn.Close()
		}
	}
}

func (e *Engine) handlePeersStream(s network.Stream) {
	defer s.Close()
	var req discovery.PeersRequest
	if err := discovery.ReadMessage(s, &req); err != nil {
		slog.Debug("node: malformed peers request", "err", err)
		return
	}
	resp := e.disc.OnPeersRequest(s.Conn().RemotePeer(), req, e.ownAddrs())
	if err := discovery.WriteMessage(s, resp); err != nil {
		slog.Debug("node: failed to write peers response", "err", err)
	}
}

func (e *Engine) handleConnectStream(s network.Stream) {
	defer s.Close()
	var req discovery.ConnectRequest
	if err := discovery.ReadMessage(s, &req); err != nil {
		slog.Debug("node: malformed connect request", "err", err)
		return
	}
	resp := e.disc.OnConnectRequest(s.Conn().RemotePeer())
	if err := discovery.WriteMessage(s, resp); err != nil {
		slog.Debug("node: failed to write connect response", "err", err)
	}
}

// connNotifiee translates libp2p connection lifecycle events into Discovery
// calls. Listen/ListenClose don't feed Discovery directly: it doesn't track
// listen addresses, only the relay reservations it queues itself. They are
// network-change events though, so they re-run relay auto-detection since
// adding or dropping a listener can gain or lose the host its only public
// address.
type connNotifiee struct {
	engine *Engine
}

func (n *connNotifiee) Listen(network.Network, ma.Multiaddr) {
	if n.engine.cfg.Relay.IsServer() {
		n.engine.refreshRelayReachability()
	}
}

func (n *connNotifiee) ListenClose(network.Network, ma.Multiaddr) {
	if n.engine.cfg.Relay.IsServer() {
		n.engine.refreshRelayReachability()
	}
}

func (n *connNotifiee) Connected(_ network.Network, conn network.Conn) {
	dir := discovery.DirectionInbound
	if conn.Stat().Direction == network.DirOutbound {
		dir = discovery.DirectionOutbound
	}
	n.engine.disc.OnConnectionEstablished(conn.RemotePeer(), discovery.ConnID(conn.ID()), dir)
}

func (n *connNotifiee) Disconnected(_ network.Network, conn network.Conn) {
	n.engine.disc.OnConnectionClosed(conn.RemotePeer(), discovery.ConnID(conn.ID()))
}
