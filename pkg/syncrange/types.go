package syncrange

import (
	"github.com/google/uuid"
	"github.com/libp2p/go-libp2p/core/peer"
)

// RequestID identifies a single outbound sync request.
type RequestID uuid.UUID

// NewRequestID generates a fresh, random RequestID.
func NewRequestID() RequestID {
	return RequestID(uuid.New())
}

// String renders the RequestID in standard UUID form.
func (id RequestID) String() string {
	return uuid.UUID(id).String()
}

// pendingEntry is a single in-flight request: the range it covers and the
// peer it was sent to.
type pendingEntry struct {
	Range Range
	Peer  peer.ID
}
