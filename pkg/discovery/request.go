package discovery

import (
	"sync"

	"github.com/google/uuid"
	"github.com/libp2p/go-libp2p/core/peer"
)

// RequestID names one outbound peers-request or connect-request.
type RequestID uuid.UUID

// NewRequestID generates a fresh RequestID.
func NewRequestID() RequestID { return RequestID(uuid.New()) }

func (id RequestID) String() string { return uuid.UUID(id).String() }

// RequestKind distinguishes the two outbound request/response exchanges
// the wire protocol supports.
type RequestKind int

const (
	RequestKindPeers RequestKind = iota
	RequestKindConnect
)

type requestRecord struct {
	Peer     peer.ID
	Kind     RequestKind
	Attempts uint32
}

// RequestTracker tracks in-flight outbound peers-requests and
// connect-requests, applying the same attempt limit as DialController
// (§4.1.8: peers-request failure uses the same retry policy as dial
// failure). Unlike DialController it keeps no backoff schedule.
type RequestTracker struct {
	mu         sync.Mutex
	inProgress map[RequestID]*requestRecord
	maxRetries uint32
}

// NewRequestTracker builds a tracker enforcing maxRetries attempts per
// request before it is abandoned.
func NewRequestTracker(maxRetries uint32) *RequestTracker {
	return &RequestTracker{
		inProgress: make(map[RequestID]*requestRecord),
		maxRetries: maxRetries,
	}
}

// AddInProgress registers a freshly sent request.
func (t *RequestTracker) AddInProgress(id RequestID, p peer.ID, kind RequestKind) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.inProgress[id] = &requestRecord{Peer: p, Kind: kind}
}

// IsInProgress reports whether id is a request this tracker is watching.
func (t *RequestTracker) IsInProgress(id RequestID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.inProgress[id]
	return ok
}

// Complete removes a request that received its response.
func (t *RequestTracker) Complete(id RequestID) (peer.ID, RequestKind, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.inProgress[id]
	if !ok {
		return "", 0, false
	}
	delete(t.inProgress, id)
	return rec.Peer, rec.Kind, true
}

// RecordFailure reports an outbound failure for id. It returns the peer and
// kind the request targeted, and whether the caller should retry (attempts
// remain) or give up (retries exhausted, the record is dropped).
func (t *RequestTracker) RecordFailure(id RequestID) (p peer.ID, kind RequestKind, retry bool, found bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.inProgress[id]
	if !ok {
		return "", 0, false, false
	}
	rec.Attempts++
	if rec.Attempts > t.maxRetries {
		delete(t.inProgress, id)
		return rec.Peer, rec.Kind, false, true
	}
	return rec.Peer, rec.Kind, true, true
}

// Len reports how many requests are currently outstanding.
func (t *RequestTracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.inProgress)
}
