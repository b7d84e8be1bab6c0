package discovery

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
	ma "github.com/multiformats/go-multiaddr"
)

// Protocol IDs for the discovery request/response exchange (§6). Two
// distinct libp2p protocols rather than one multiplexed protocol, mirroring
// the way the teacher gives each service its own protocol.ID in
// pkg/p2pnet/service.go.
const (
	ProtocolPeers   = protocol.ID("/malachite/discovery/peers/1.0.0")
	ProtocolConnect = protocol.ID("/malachite/discovery/connect/1.0.0")
)

// WireAddrEntry is the wire form of an (optional PeerId, addrs) pair used in
// both PeersRequest and PeersResponse. PeerID is omitted when unresolved.
type WireAddrEntry struct {
	PeerID string   `json:"peer_id,omitempty"`
	Addrs  []string `json:"addrs"`
}

// PeersRequest carries the sender's known peers minus the addressee, so the
// receiver can reply with only what it knows that the sender doesn't.
type PeersRequest struct {
	Known []WireAddrEntry `json:"known"`
}

// PeersResponse carries the filtered subset of peers computed per §4.1.5.
type PeersResponse struct {
	Peers []WireAddrEntry `json:"peers"`
}

// ConnectRequest asks the receiving peer to promote this connection to
// persistent/outbound. It carries no payload.
type ConnectRequest struct{}

// ConnectResponse answers a ConnectRequest.
type ConnectResponse struct {
	Accepted bool `json:"accepted"`
}

// ToWireEntries converts discovered-peer address sets to their wire form,
// one entry per map key, preserving each peer's address order. The order of
// the entries follows map iteration and is not deterministic.
func ToWireEntries(entries map[peer.ID][]ma.Multiaddr) []WireAddrEntry {
	out := make([]WireAddrEntry, 0, len(entries))
	for id, addrs := range entries {
		strs := make([]string, 0, len(addrs))
		for _, a := range addrs {
			strs = append(strs, a.String())
		}
		entry := WireAddrEntry{Addrs: strs}
		if id != "" {
			entry.PeerID = id.String()
		}
		out = append(out, entry)
	}
	return out
}

// FromWireEntries parses wire entries back into multiaddrs, skipping
// entries whose peer ID fails to parse, dropping individual addresses that
// fail to parse, and skipping entries left with no address. Parse failures
// are dropped silently; no error is returned.
func FromWireEntries(entries []WireAddrEntry) map[peer.ID][]ma.Multiaddr {
	out := make(map[peer.ID][]ma.Multiaddr, len(entries))
	for _, e := range entries {
		var id peer.ID
		if e.PeerID != "" {
			parsed, err := peer.Decode(e.PeerID)
			if err != nil {
				continue
			}
			id = parsed
		}

		addrs := make([]ma.Multiaddr, 0, len(e.Addrs))
		for _, s := range e.Addrs {
			parsed, err := ma.NewMultiaddr(s)
			if err != nil {
				continue
			}
			addrs = append(addrs, parsed)
		}
		if len(addrs) == 0 {
			continue
		}
		out[id] = append(out[id], addrs...)
	}
	return out
}

// WriteMessage JSON-encodes v and writes it to w, followed by the encoder's
// own newline framing (encoding/json.Encoder writes one value per line).
func WriteMessage(w io.Writer, v any) error {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		return fmt.Errorf("encode wire message: %w", err)
	}
	return nil
}

// ReadMessage decodes a single JSON value from r into v.
func ReadMessage(r io.Reader, v any) error {
	if err := json.NewDecoder(r).Decode(v); err != nil {
		return fmt.Errorf("%w: decode wire message: %v", ErrRemoteProtocol, err)
	}
	return nil
}
