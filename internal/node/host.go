// Package node wires the Discovery & Reachability Engine and the Sync
// Request Planner to a real libp2p host behind a single-threaded event
// loop. Everything in pkg/discovery and pkg/syncrange stays transport-free;
// this package is where their queued side effects become actual dials,
// streams, and routing-table updates.
package node

import (
	"fmt"

	"github.com/libp2p/go-libp2p"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	rcmgr "github.com/libp2p/go-libp2p/p2p/host/resource-manager"
	libp2pquic "github.com/libp2p/go-libp2p/p2p/transport/quic"
	"github.com/libp2p/go-libp2p/p2p/transport/tcp"
	ws "github.com/libp2p/go-libp2p/p2p/transport/websocket"

	"github.com/ancazamfir/malachite/internal/config"
)

// HostConfig carries the subset of NodeConfig the libp2p host itself needs.
type HostConfig struct {
	Identity crypto.PrivKey
	Network  config.NetworkConfig
}

// BuildHost constructs a libp2p host from the node's identity and network
// configuration. TCP, QUIC and WebSocket transports are always registered;
// which listen addresses are actually bound is controlled by
// cfg.Network.ListenAddresses.
func BuildHost(cfg HostConfig) (host.Host, error) {
	opts := []libp2p.Option{
		libp2p.Identity(cfg.Identity),
		libp2p.Transport(tcp.NewTCPTransport),
		libp2p.Transport(libp2pquic.NewTransport),
		libp2p.Transport(ws.New),
	}

	if len(cfg.Network.ListenAddresses) > 0 {
		opts = append(opts, libp2p.ListenAddrStrings(cfg.Network.ListenAddresses...))
	}
	if cfg.Network.ForcePrivateReachability {
		opts = append(opts, libp2p.ForceReachabilityPrivate())
	}
	if cfg.Network.ResourceLimitsEnabled {
		limits := rcmgr.DefaultLimits
		libp2p.SetDefaultServiceLimits(&limits)
		rm, err := rcmgr.NewResourceManager(rcmgr.NewFixedLimiter(limits.AutoScale()))
		if err != nil {
			return nil, fmt.Errorf("build resource manager: %w", err)
		}
		opts = append(opts, libp2p.ResourceManager(rm))
	}

	h, err := libp2p.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("build libp2p host: %w", err)
	}
	return h, nil
}
