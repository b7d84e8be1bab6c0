package discovery

import (
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"
)

// CloseRequest asks the driver to close a connection, optionally after a
// delay (used for ephemeral peers, which are kept open just long enough to
// exchange peer lists).
type CloseRequest struct {
	Peer  peer.ID
	Conn  ConnID
	After time.Duration // zero means close immediately
}

// DialRequest asks the driver to open a connection to one of addrs. PeerID
// may be empty when dialing a bootstrap address whose identity isn't yet
// known.
type DialRequest struct {
	PeerID peer.ID
	Addrs  []ma.Multiaddr
}

// SendRequest asks the driver to open a stream to Peer on Protocol and
// write Payload, correlating the outbound call with ID so a later
// OnPeersResponse/OnConnectResponse or failure callback can be matched back
// to it.
type SendRequest struct {
	ID       RequestID
	Peer     peer.ID
	Protocol string
	Payload  any
}

// Controller accumulates the side effects an operation produces (dials to
// start, sends to make, connections to close) for the driver to execute.
// This keeps Discovery itself free of any direct transport dependency,
// matching the event loop's ownership model (§5): Discovery only mutates
// its own state and returns instructions, it never performs I/O.
type Controller struct {
	dials   []DialRequest
	sends   []SendRequest
	closes  []CloseRequest
	listens []string // multiaddr strings to listen on, e.g. relay circuit reservations
}

func (c *Controller) queueDial(req DialRequest)   { c.dials = append(c.dials, req) }
func (c *Controller) queueSend(req SendRequest)   { c.sends = append(c.sends, req) }
func (c *Controller) queueClose(req CloseRequest) { c.closes = append(c.closes, req) }
func (c *Controller) queueListen(addr string)     { c.listens = append(c.listens, addr) }

// DrainDials returns and clears the queued dial requests.
func (c *Controller) DrainDials() []DialRequest {
	out := c.dials
	c.dials = nil
	return out
}

// DrainSends returns and clears the queued send requests.
func (c *Controller) DrainSends() []SendRequest {
	out := c.sends
	c.sends = nil
	return out
}

// DrainCloses returns and clears the queued close requests.
func (c *Controller) DrainCloses() []CloseRequest {
	out := c.closes
	c.closes = nil
	return out
}

// DrainListens returns and clears the queued listen addresses (relay
// circuit reservations).
func (c *Controller) DrainListens() []string {
	out := c.listens
	c.listens = nil
	return out
}
