package discovery

import (
	"sync"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"
)

// dialBackoffBase is the unit of the dial backoff: after n failures the
// wait is dialBackoffBase << n, so 2s after the first failure, doubling up
// to 64s once the shift reaches its cap of 6. dialBackoffMax (2m) is a
// ceiling that this schedule stays below.
const (
	dialBackoffBase = 1 * time.Second
	dialBackoffMax  = 2 * time.Minute
)

// DialData tracks one in-flight dial attempt. PeerID starts empty for
// bootstrap dials (we know an address but not yet the identity behind it)
// and is filled in once the connection is established and identify runs.
type DialData struct {
	PeerID      peer.ID
	ListenAddrs []ma.Multiaddr
	Attempts    uint32
	NextAttempt time.Time
}

func (d *DialData) backoff() time.Duration {
	shift := d.Attempts
	if shift > 6 {
		shift = 6
	}
	backoff := dialBackoffBase * (1 << shift)
	if backoff > dialBackoffMax {
		backoff = dialBackoffMax
	}
	return backoff
}

// DialController tracks in-progress dials keyed by an opaque connection
// correlation ID, and the pending retry queue for dials that have failed
// but not yet exhausted request_max_retries.
type DialController struct {
	mu          sync.Mutex
	inProgress  map[ConnID]*DialData
	retryQueue  []*DialData
	maxRetries  uint32
	failedTotal uint64
}

// NewDialController builds a DialController enforcing maxRetries attempts
// per address before a dial is abandoned.
func NewDialController(maxRetries uint32) *DialController {
	return &DialController{
		inProgress: make(map[ConnID]*DialData),
		maxRetries: maxRetries,
	}
}

// AddInProgress registers a dial that has been initiated at the transport
// layer under the given correlation ID.
func (d *DialController) AddInProgress(id ConnID, data *DialData) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.inProgress[id] = data
}

// InProgressSnapshot returns the dial data for id without removing it.
func (d *DialController) InProgressSnapshot(id ConnID) (*DialData, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	data, ok := d.inProgress[id]
	return data, ok
}

// RemoveInProgress removes and returns the dial data for id, if present.
func (d *DialController) RemoveInProgress(id ConnID) (*DialData, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	data, ok := d.inProgress[id]
	if ok {
		delete(d.inProgress, id)
	}
	return data, ok
}

// SetPeerID backfills the peer ID of an in-progress dial once the
// connection's identity becomes known.
func (d *DialController) SetPeerID(id ConnID, p peer.ID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if data, ok := d.inProgress[id]; ok {
		data.PeerID = p
	}
}

// FindInProgressByPeerID returns the connection ID and dial data for an
// in-progress dial that has been backfilled with the given peer ID, used to
// match an established connection back to the bootstrap/relay entry that
// triggered it.
func (d *DialController) FindInProgressByPeerID(p peer.ID) (ConnID, *DialData, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for id, data := range d.inProgress {
		if data.PeerID == p {
			return id, data, true
		}
	}
	return "", nil, false
}

// RemoveMatchingInProgressConnections drops any dangling in-progress dial
// records for a peer ID once a connection to it is otherwise accounted for,
// so retries don't pile up against an already-connected peer.
func (d *DialController) RemoveMatchingInProgressConnections(p peer.ID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for id, data := range d.inProgress {
		if data.PeerID == p {
			delete(d.inProgress, id)
		}
	}
}

// RecordFailure schedules a retry for data with exponential backoff, or
// drops it (incrementing the failed-total counter) once request_max_retries
// is exhausted.
func (d *DialController) RecordFailure(data *DialData) (retry bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	data.Attempts++
	if data.Attempts > d.maxRetries {
		d.failedTotal++
		return false
	}
	data.NextAttempt = time.Now().Add(data.backoff())
	d.retryQueue = append(d.retryQueue, data)
	return true
}

// DueRetries removes and returns every queued retry whose backoff has
// elapsed as of now.
func (d *DialController) DueRetries(now time.Time) []*DialData {
	d.mu.Lock()
	defer d.mu.Unlock()

	var due []*DialData
	remaining := d.retryQueue[:0]
	for _, data := range d.retryQueue {
		if now.After(data.NextAttempt) || now.Equal(data.NextAttempt) {
			due = append(due, data)
		} else {
			remaining = append(remaining, data)
		}
	}
	d.retryQueue = remaining
	return due
}

// FailedTotal returns the number of dials abandoned after exhausting
// retries, for metrics reporting.
func (d *DialController) FailedTotal() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.failedTotal
}

// InProgressLen reports how many dials are currently outstanding.
func (d *DialController) InProgressLen() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.inProgress)
}
