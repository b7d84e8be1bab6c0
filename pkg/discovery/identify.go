package discovery

import (
	"log/slog"

	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"
)

// updateBootstrapNodePeerID binds the first unidentified BootstrapEntry
// whose configured addresses match the dial that produced conn to peerID
// (§4.1.3 step 3). Returns true if a bootstrap entry was newly identified.
func (d *Discovery) updateBootstrapNodePeerID(peerID peer.ID, conn ConnID) bool {
	for _, entry := range d.bootstrapNodes {
		if entry.PeerID == peerID {
			return false // already identified
		}
	}

	data, ok := d.dial.InProgressSnapshot(conn)
	if !ok {
		return false // inbound connection, no dial data to match against
	}

	for _, entry := range d.bootstrapNodes {
		if entry.Identified() {
			continue
		}
		if addrListsIntersect(data.ListenAddrs, entry.Addrs) {
			entry.PeerID = peerID
			slog.Info("discovery: bootstrap peer identified", "peer", peerID.String())
			return true
		}
	}
	return false
}

// updateRelayServerPeerID binds the first unidentified RelayEntry whose
// configured addresses intersect listenAddrs to peerID (§4.1.3 step 4). On
// binding, a listen on the relay circuit is queued to acquire a
// reservation.
func (d *Discovery) updateRelayServerPeerID(peerID peer.ID, listenAddrs []ma.Multiaddr) bool {
	for _, entry := range d.relayServers {
		if entry.PeerID == peerID {
			return false
		}
	}

	for _, entry := range d.relayServers {
		if entry.Identified() {
			continue
		}
		if addrListsIntersect(listenAddrs, entry.Addrs) {
			entry.PeerID = peerID
			slog.Info("discovery: relay server identified", "peer", peerID.String())
			d.Controller.queueListen("/p2p/" + peerID.String() + "/p2p-circuit")
			return true
		}
	}
	return false
}

func addrListsIntersect(a, b []ma.Multiaddr) bool {
	for _, x := range a {
		for _, y := range b {
			if x.Equal(y) {
				return true
			}
		}
	}
	return false
}

// OnIdentify is the canonical entry point for new or re-identified peers
// (§4.1.3). It returns true if this identify update is a duplicate for an
// already-seen (peer, connection) pair and should be ignored.
func (d *Discovery) OnIdentify(conn ConnID, peerID peer.ID, advertisedAddrs, ownAddrs []ma.Multiaddr) bool {
	if _, already := d.identifiedConns[conn]; already {
		return true
	}
	d.identifiedConns[conn] = struct{}{}

	wasBootstrap := d.updateBootstrapNodePeerID(peerID, conn)
	isRelayServer := d.updateRelayServerPeerID(peerID, advertisedAddrs)
	_ = isRelayServer

	if data, ok := d.dial.RemoveInProgress(conn); ok {
		_ = data
	} else {
		d.dial.RemoveMatchingInProgressConnections(peerID)
	}

	filtered := FilterAddressesWithRelay(advertisedAddrs, ownAddrs)

	rec, existed := d.discoveredPeers[peerID]
	if !existed {
		rec = &PeerRecord{ID: peerID}
		d.discoveredPeers[peerID] = rec
		if d.metrics != nil {
			d.metrics.DiscoveredPeersTotal.Inc()
		}
		slog.Info("discovery: discovered peer", "peer", peerID.String())
	} else {
		slog.Debug("discovery: new connection from known peer", "peer", peerID.String())
	}
	rec.Addrs = filtered.Direct

	if conns := d.activeConnections[peerID]; len(conns) > int(d.config.MaxConnectionsPerPeer) {
		slog.Warn("discovery: peer reached max connections, closing", "peer", peerID.String(),
			"max", d.config.MaxConnectionsPerPeer)
		d.Controller.queueClose(CloseRequest{Peer: peerID, Conn: conn})
		return false
	}

	d.admitConnection(peerID, conn, rec)

	if d.config.BootstrapProtocol == BootstrapKademlia && d.routing != nil && len(rec.Addrs) > 0 {
		d.routing.AddAddress(peerID, rec.Addrs[0])
	}

	if wasBootstrap && d.state == StateIdle && uint32(len(d.outboundPeers)) < d.config.NumOutboundPeers {
		slog.Info("discovery: bootstrap node reconnected, triggering rediscovery", "peer", peerID.String())
		if d.config.BootstrapProtocol == BootstrapFull {
			d.initiateExtensionWithTarget(d.config.NumOutboundPeers)
		}
	}

	d.updateDiscoveryMetrics()
	return false
}

// admitConnection applies the connection-policy decision tree of §4.1.3
// step 6: promote to outbound, accept as inbound, or mark ephemeral.
func (d *Discovery) admitConnection(peerID peer.ID, conn ConnID, rec *PeerRecord) {
	if !d.IsEnabled() {
		if len(d.inboundPeers) < int(d.config.NumInboundPeers) {
			d.inboundPeers[peerID] = struct{}{}
			rec.Role = RoleInbound
			slog.Debug("discovery: connection is inbound", "peer", peerID.String())
		} else {
			slog.Warn("discovery: inbound peer limit reached, refusing connection", "peer", peerID.String())
			d.Controller.queueClose(CloseRequest{Peer: peerID, Conn: conn})
		}
		return
	}

	switch {
	case func() bool { _, ok := d.outboundPeers[peerID]; return ok }():
		slog.Debug("discovery: connection is outbound", "peer", peerID.String())

	case func() bool { _, ok := d.inboundPeers[peerID]; return ok }():
		slog.Debug("discovery: connection is inbound", "peer", peerID.String())

	case d.state == StateIdle && uint32(len(d.outboundPeers)) < d.config.NumOutboundPeers:
		slog.Debug("discovery: connection is outbound (incomplete initial discovery)", "peer", peerID.String())
		d.outboundPeers[peerID] = RoleOutboundPending
		rec.Role = RoleOutboundPending

		id := NewRequestID()
		d.connectRequests.AddInProgress(id, peerID, RequestKindConnect)
		d.Controller.queueSend(SendRequest{ID: id, Peer: peerID, Protocol: string(ProtocolConnect), Payload: ConnectRequest{}})

	default:
		slog.Debug("discovery: connection is ephemeral", "peer", peerID.String())
		rec.Role = RoleEphemeral
		d.Controller.queueClose(CloseRequest{Peer: peerID, Conn: conn, After: d.config.EphemeralConnectionTimeout})

		if d.state == StateExtending {
			d.makeExtensionStep()
		}
	}
}
