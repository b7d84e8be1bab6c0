package discovery

import (
	"log/slog"

	"github.com/libp2p/go-libp2p/core/peer"
)

// OnConnectRequest answers an inbound connect-request: we accept promoting
// the connection to persistent/inbound as long as our inbound capacity
// allows it.
func (d *Discovery) OnConnectRequest(from peer.ID) ConnectResponse {
	if _, already := d.inboundPeers[from]; already {
		return ConnectResponse{Accepted: true}
	}
	if len(d.inboundPeers) >= int(d.config.NumInboundPeers) {
		slog.Debug("discovery: refusing connect request, inbound limit reached", "peer", from.String())
		return ConnectResponse{Accepted: false}
	}

	d.inboundPeers[from] = struct{}{}
	if rec, ok := d.discoveredPeers[from]; ok {
		rec.Role = RoleInbound
	}
	slog.Debug("discovery: accepted connect request", "peer", from.String())
	return ConnectResponse{Accepted: true}
}

// OnConnectResponse completes the tracked connect-request, confirming the
// outbound peer if accepted or releasing the slot if refused.
func (d *Discovery) OnConnectResponse(requestID RequestID, from peer.ID, resp ConnectResponse) {
	if _, _, ok := d.connectRequests.Complete(requestID); !ok {
		return
	}

	if resp.Accepted {
		d.outboundPeers[from] = RoleOutboundConfirmed
		if rec, ok := d.discoveredPeers[from]; ok {
			rec.Role = RoleOutboundConfirmed
		}
		slog.Debug("discovery: outbound connection confirmed", "peer", from.String())
		return
	}

	delete(d.outboundPeers, from)
	slog.Debug("discovery: outbound connection refused", "peer", from.String())
	if d.state == StateExtending {
		d.makeExtensionStep()
	}
}

// OnFailedConnectRequest retries or gives up on a connect-request the same
// way a failed peers-request is handled: the request is re-sent under the
// same ID at once while retries remain, and the outbound slot is released
// once they are exhausted.
func (d *Discovery) OnFailedConnectRequest(requestID RequestID) {
	target, _, retry, found := d.connectRequests.RecordFailure(requestID)
	if !found {
		return
	}
	if retry {
		d.Controller.queueSend(SendRequest{ID: requestID, Peer: target, Protocol: string(ProtocolConnect), Payload: ConnectRequest{}})
		return
	}

	delete(d.outboundPeers, target)
	slog.Warn("discovery: connect request exhausted retries", "peer", target.String())
	if d.state == StateExtending {
		d.makeExtensionStep()
	}
}
