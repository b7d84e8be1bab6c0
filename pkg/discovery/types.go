package discovery

import (
	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"
)

// ConnID identifies a single connection within the discovery engine. The
// caller (the node event loop wiring a real libp2p host) is responsible for
// producing a stable identifier per connection; discovery itself never talks
// to a transport directly, which keeps it unit-testable without a live
// libp2p swarm.
type ConnID string

// PeerRole tags how a discovered peer is currently held onto.
type PeerRole int

const (
	RoleNone PeerRole = iota
	RoleOutboundPending
	RoleOutboundConfirmed
	RoleInbound
	RoleEphemeral
)

func (r PeerRole) String() string {
	switch r {
	case RoleOutboundPending:
		return "outbound-pending"
	case RoleOutboundConfirmed:
		return "outbound-confirmed"
	case RoleInbound:
		return "inbound"
	case RoleEphemeral:
		return "ephemeral"
	default:
		return "none"
	}
}

// PeerRecord is what the engine knows about a discovered peer: its
// reachability-filtered address set, how many connections are open to it,
// and its current role.
type PeerRecord struct {
	ID              peer.ID
	Addrs           []ma.Multiaddr
	ConnectionCount int
	Role            PeerRole
}

// BootstrapEntry pairs a statically configured bootstrap address list with
// the peer ID it resolves to once identify completes. PeerID is the zero
// value until then.
type BootstrapEntry struct {
	PeerID peer.ID
	Addrs  []ma.Multiaddr
}

// Identified reports whether this entry's peer ID has been resolved.
func (e *BootstrapEntry) Identified() bool { return e.PeerID != "" }

// RelayEntry is the same pairing for a configured relay server.
type RelayEntry struct {
	PeerID peer.ID
	Addrs  []ma.Multiaddr
}

// Identified reports whether this entry's peer ID has been resolved.
func (e *RelayEntry) Identified() bool { return e.PeerID != "" }

// State is the extension/bootstrap state machine (§4.1.4).
type State int

const (
	StateBootstrapping State = iota
	StateExtending
	StateIdle
)

func (s State) String() string {
	switch s {
	case StateBootstrapping:
		return "bootstrapping"
	case StateExtending:
		return "extending"
	default:
		return "idle"
	}
}
