package discovery

import (
	"context"

	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"
)

// RoutingTable is the subset of *dht.IpfsDHT's behaviour the engine needs
// in Kademlia bootstrap mode: seeding the table with a directly-reachable
// peer address and triggering the DHT's own periodic bootstrap walk. Kept
// as an interface so unit tests can exercise Kademlia-mode admission logic
// without standing up a real DHT.
type RoutingTable interface {
	AddAddress(p peer.ID, addr ma.Multiaddr)
	Bootstrap(ctx context.Context) error
}
