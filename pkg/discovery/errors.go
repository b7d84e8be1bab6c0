package discovery

import "errors"

var (
	// ErrTransientTransport marks a dial or send-request failure that is
	// retried with backoff up to request_max_retries before being dropped.
	ErrTransientTransport = errors.New("transient transport failure")

	// ErrRemoteProtocol marks a malformed or unexpected message payload.
	// ReadMessage wraps decode failures with it. Only the stream carrying
	// the message is closed; the connection is not closed and the peer is
	// not removed from the discovered set.
	ErrRemoteProtocol = errors.New("remote protocol violation")

	// ErrCapacityExceeded marks a connection refused because a per-peer or
	// inbound capacity limit was reached.
	ErrCapacityExceeded = errors.New("capacity exceeded")

	// ErrUnknownConnection names a reference to a connection ID the dial
	// controller has no record of. DialController reports such lookups
	// with a found flag and does not return this error.
	ErrUnknownConnection = errors.New("unknown connection")

	// ErrNoCandidates is returned by a Selector when no peer is left to
	// query this extension round.
	ErrNoCandidates = errors.New("no candidate peers available")
)
