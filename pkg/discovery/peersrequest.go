package discovery

import (
	"log/slog"

	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"
)

// getAllPeersExcept returns every discovered peer with a non-empty address
// set, plus any bootstrap entries not already covered by a discovered
// peer's addresses, excluding the given peer. This is what we offer a
// requester in response to a PeersRequest, and what we send when we
// initiate one ourselves.
func (d *Discovery) getAllPeersExcept(except peer.ID) map[peer.ID][]ma.Multiaddr {
	remainingBootstrap := make([]*BootstrapEntry, len(d.bootstrapNodes))
	copy(remainingBootstrap, d.bootstrapNodes)

	out := make(map[peer.ID][]ma.Multiaddr)
	for id, rec := range d.discoveredPeers {
		if len(rec.Addrs) == 0 {
			continue
		}

		kept := remainingBootstrap[:0]
		for _, entry := range remainingBootstrap {
			if !addrListsIntersect(entry.Addrs, rec.Addrs) {
				kept = append(kept, entry)
			}
		}
		remainingBootstrap = kept

		if id == except {
			continue
		}
		out[id] = rec.Addrs
	}

	for _, entry := range remainingBootstrap {
		// entry.PeerID may be the zero value for several still-unidentified
		// bootstrap nodes at once; append rather than overwrite so none of
		// their address lists are lost under the shared "" key.
		out[entry.PeerID] = append(out[entry.PeerID], entry.Addrs...)
	}

	return out
}

// PeersRequestPeer sends a peers-request to target. It does not check
// whether a peers-request to target is already outstanding.
func (d *Discovery) PeersRequestPeer(target peer.ID) {
	if !d.IsEnabled() {
		return
	}

	id := NewRequestID()
	d.peersRequests.AddInProgress(id, target, RequestKindPeers)
	d.Controller.queueSend(SendRequest{
		ID:       id,
		Peer:     target,
		Protocol: string(ProtocolPeers),
		Payload:  PeersRequest{Known: ToWireEntries(d.getAllPeersExcept(target))},
	})
}

// OnPeersRequest answers an inbound PeersRequest with the difference
// between what we know and what the requester already listed, with each
// candidate's addresses rewritten for reachability from the requester's own
// vantage point (§4.1.5). ownAddrs is our own address set, used as the
// reachability baseline when the requester's own addresses aren't known to
// us yet.
func (d *Discovery) OnPeersRequest(from peer.ID, req PeersRequest, ownAddrs []ma.Multiaddr) PeersResponse {
	known := FromWireEntries(req.Known)
	ours := d.getAllPeersExcept(from)

	requesterAddrs := ownAddrs
	if rec, ok := d.discoveredPeers[from]; ok && len(rec.Addrs) > 0 {
		requesterAddrs = rec.Addrs
	}

	diff := make(map[peer.ID][]ma.Multiaddr)
	for id, addrs := range ours {
		if _, already := known[id]; already {
			continue
		}

		filtered := FilterAddressesWithRelay(addrs, requesterAddrs)
		switch {
		case len(filtered.Direct) > 0:
			diff[id] = filtered.Direct
		case len(filtered.RelayCandidates) > 0 && id != "":
			relayed := d.synthesizeRelayAddresses(from, id, ownAddrs)
			if len(relayed) > 0 {
				diff[id] = relayed
			}
		}
	}

	slog.Debug("discovery: answering peers request", "from", from.String(), "offered", len(diff))
	return PeersResponse{Peers: ToWireEntries(diff)}
}

// synthesizeRelayAddresses builds relay addresses for reaching target when
// only relay candidates survived reachability filtering (§4.1.7). It
// prefers routing the connection through ourselves when we hold active
// connections to both the requester and the target, since that needs no
// third-party relay server; otherwise it falls back to the configured relay
// servers.
func (d *Discovery) synthesizeRelayAddresses(requester, target peer.ID, ownAddrs []ma.Multiaddr) []ma.Multiaddr {
	if len(d.activeConnections[requester]) > 0 && len(d.activeConnections[target]) > 0 {
		if addrs := ConstructRelayAddressesViaSelf(ownAddrs, d.selfPeerID, target); len(addrs) > 0 {
			return addrs
		}
	}
	return ConstructRelayAddresses(d.relayServers, target)
}

// OnPeersResponse completes the tracked request, filters and queues the
// returned peers for dialing, then continues the extension.
func (d *Discovery) OnPeersResponse(requestID RequestID, resp PeersResponse, ownAddrs []ma.Multiaddr) {
	if _, _, ok := d.peersRequests.Complete(requestID); !ok {
		slog.Warn("discovery: peers response for unknown request", "request_id", requestID.String())
		return
	}

	d.processReceivedPeers(resp.Peers, ownAddrs)
	d.makeExtensionStep()
}

// OnFailedPeersRequest re-sends the request under the same ID while retries
// remain, or drops it and continues the extension once retries are
// exhausted (§4.1.8: discovery must not stall on a failed peers-request).
// The re-send is queued immediately; no backoff delay is applied.
func (d *Discovery) OnFailedPeersRequest(requestID RequestID) {
	target, _, retry, found := d.peersRequests.RecordFailure(requestID)
	if !found {
		return
	}
	if retry {
		slog.Debug("discovery: retrying peers request", "peer", target.String())
		d.Controller.queueSend(SendRequest{
			ID:       requestID,
			Peer:     target,
			Protocol: string(ProtocolPeers),
			Payload:  PeersRequest{Known: ToWireEntries(d.getAllPeersExcept(target))},
		})
		return
	}

	slog.Error("discovery: peers request exhausted retries", "peer", target.String())
	if d.metrics != nil {
		d.metrics.FailedRequestsTotal.Inc()
	}
	d.makeExtensionStep()
}

// processReceivedPeers filters each returned peer's addresses for
// reachability from our own address set and queues the survivors for
// dialing.
func (d *Discovery) processReceivedPeers(peers []WireAddrEntry, ownAddrs []ma.Multiaddr) {
	decoded := FromWireEntries(peers)
	for id, addrs := range decoded {
		filtered := FilterAddressesWithRelay(addrs, ownAddrs)
		if len(filtered.Direct) == 0 {
			slog.Debug("discovery: filtered all addresses for peer, not dialing", "peer", id.String())
			continue
		}
		d.Controller.queueDial(DialRequest{PeerID: id, Addrs: filtered.Direct})
	}
}
