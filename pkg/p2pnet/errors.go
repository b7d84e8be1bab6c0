package p2pnet

import "errors"

var (
	// ErrRelayAlreadyRunning names the state where the relay service is
	// already active. PeerRelay does not return it: a repeated Enable
	// returns nil.
	ErrRelayAlreadyRunning = errors.New("peer relay already running")

	// ErrRelayNotRunning names the state where no relay service is active.
	// PeerRelay does not return it: Disable on a stopped relay does nothing.
	ErrRelayNotRunning = errors.New("peer relay not running")
)
