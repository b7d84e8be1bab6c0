package syncrange

import (
	"log/slog"
	"sort"

	"github.com/libp2p/go-libp2p/core/peer"
)

// Planner tracks pending sync requests and maintains a cached, incrementally
// updated NextUncoveredRange: the next height range not covered by any
// pending request, with the smallest possible start height.
//
// Two invariants are assumed throughout and never violated by the caller:
// all pending ranges are disjoint, and no pending range ends before the
// initial sync height.
type Planner struct {
	requests map[RequestID]pendingEntry

	maxBatchSize uint64

	nextUncoveredRange Range

	// lastValidatedHeight tracks the highest height removed via
	// RemoveRequestsUpTo, enforcing monotonic progress.
	lastValidatedHeight Height
}

// New creates a Planner whose next uncovered range starts at initialHeight.
// maxBatchSize is clamped to at least 1.
func New(initialHeight Height, maxBatchSize uint64) *Planner {
	if maxBatchSize < 1 {
		maxBatchSize = 1
	}

	endHeight := initialHeight.IncrementBy(maxBatchSize - 1)

	return &Planner{
		requests:            make(map[RequestID]pendingEntry),
		maxBatchSize:        maxBatchSize,
		nextUncoveredRange:  Range{Start: initialHeight, End: endHeight},
		lastValidatedHeight: initialHeight.DecrementOr(),
	}
}

// CurrentSyncHeight returns the start of NextUncoveredRange, the effective
// height the planner is currently trying to sync from.
func (p *Planner) CurrentSyncHeight() Height {
	return p.nextUncoveredRange.Start
}

// NextUncoveredRange returns the next range that should be requested.
func (p *Planner) NextUncoveredRange() Range {
	return p.nextUncoveredRange
}

// Len returns the number of pending requests.
func (p *Planner) Len() int {
	return len(p.requests)
}

// IsEmpty reports whether there are no pending requests.
func (p *Planner) IsEmpty() bool {
	return len(p.requests) == 0
}

// Get returns the range and peer for a pending request.
func (p *Planner) Get(id RequestID) (Range, peer.ID, bool) {
	e, ok := p.requests[id]
	if !ok {
		return Range{}, "", false
	}
	return e.Range, e.Peer, true
}

// GetRequestIDByHeight returns the ID of the pending request whose range
// contains the given height, if any.
func (p *Planner) GetRequestIDByHeight(h Height) (RequestID, bool) {
	for id, e := range p.requests {
		if e.Range.Contains(h) {
			return id, true
		}
	}
	return RequestID{}, false
}

// Values returns a snapshot of all pending (RequestID, Range, PeerID)
// tuples, in no particular order.
func (p *Planner) Values() []struct {
	ID    RequestID
	Range Range
	Peer  peer.ID
} {
	out := make([]struct {
		ID    RequestID
		Range Range
		Peer  peer.ID
	}, 0, len(p.requests))
	for id, e := range p.requests {
		out = append(out, struct {
			ID    RequestID
			Range Range
			Peer  peer.ID
		}{ID: id, Range: e.Range, Peer: e.Peer})
	}
	return out
}

// Retain keeps only the pending requests for which keep returns true,
// removing the rest. It does not recompute NextUncoveredRange on its own
// callers that remove ranges this way should treat it as a bulk variant of
// Remove and recompute afterwards if needed.
func (p *Planner) Retain(keep func(id RequestID, r Range, peer peer.ID) bool) {
	for id, e := range p.requests {
		if !keep(id, e.Range, e.Peer) {
			delete(p.requests, id)
		}
	}
}

// Insert records a new pending request and updates NextUncoveredRange.
func (p *Planner) Insert(id RequestID, r Range, peerID peer.ID) {
	p.requests[id] = pendingEntry{Range: r, Peer: peerID}
	p.updateNextRangeAfterInsert(r)
}

// Remove drops a pending request by ID and updates NextUncoveredRange.
// Returns the removed range and peer, and whether it was present.
func (p *Planner) Remove(id RequestID) (Range, peer.ID, bool) {
	e, ok := p.requests[id]
	if !ok {
		return Range{}, "", false
	}
	delete(p.requests, id)
	p.updateNextRangeAfterRemove(e.Range)
	return e.Range, e.Peer, true
}

// RemoveRequestsUpTo drops all pending requests whose range ends at or
// before height, and advances the planner's sync progress past height.
//
// If height is behind lastValidatedHeight this is a no-op: it logs
// ErrNonMonotonicProgress and leaves all state untouched, matching the
// original tracker's defensive handling of out-of-order decisions.
func (p *Planner) RemoveRequestsUpTo(height Height) {
	if height < p.lastValidatedHeight {
		slog.Error("non-monotonic progress in RemoveRequestsUpTo",
			"height", uint64(height),
			"last_validated_height", uint64(p.lastValidatedHeight),
			"error", ErrNonMonotonicProgress,
		)
		return
	}

	for id, e := range p.requests {
		if e.Range.End <= height {
			delete(p.requests, id)
		}
	}

	p.lastValidatedHeight = height

	newSyncHeight := p.lastValidatedHeight.Increment()
	newRange := p.computeNextUncoveredRangeFrom(newSyncHeight)
	p.setNextUncoveredRange(newRange)
}

// setNextUncoveredRange installs a freshly computed range, after checking
// the consistency invariant that its start is always ahead of
// lastValidatedHeight.
func (p *Planner) setNextUncoveredRange(newRange Range) {
	if newRange.Start <= p.lastValidatedHeight {
		panic("syncrange: consistency violation: next uncovered range start " +
			newRange.String() + " is not ahead of last validated height")
	}
	p.nextUncoveredRange = newRange
}

func (p *Planner) updateNextRange() {
	p.setNextUncoveredRange(p.computeNextUncoveredRangeFrom(p.lastValidatedHeight.Increment()))
}

// updateNextRangeAfterInsert cheaply adjusts NextUncoveredRange after a new
// range is inserted, falling back to a full recompute only when the
// inserted range genuinely overlaps the cached range.
func (p *Planner) updateNextRangeAfterInsert(inserted Range) {
	if inserted.Start > p.nextUncoveredRange.End {
		return
	}

	if inserted.Start <= p.nextUncoveredRange.End && inserted.End >= p.nextUncoveredRange.Start {
		newStart := inserted.End.Increment()
		p.setNextUncoveredRange(p.computeNextUncoveredRangeFrom(newStart))
		return
	}

	if inserted.Contains(p.nextUncoveredRange.Start) {
		p.setNextUncoveredRange(p.computeNextUncoveredRangeFrom(p.nextUncoveredRange.Start))
		return
	}
}

// updateNextRangeAfterRemove cheaply adjusts NextUncoveredRange after a
// range is removed, falling back to a full recompute when the removed
// range is close enough to the cached range that it might now be coverable.
func (p *Planner) updateNextRangeAfterRemove(removed Range) {
	if removed.End < p.nextUncoveredRange.Start {
		potentialStart := maxHeight(p.nextUncoveredRange.Start, removed.Start)
		if potentialStart < p.nextUncoveredRange.Start {
			p.setNextUncoveredRange(p.computeNextUncoveredRangeFrom(potentialStart))
			return
		}
	}

	if removed.Start > p.nextUncoveredRange.End {
		return
	}

	p.updateNextRange()
}

func maxHeight(a, b Height) Height {
	if a > b {
		return a
	}
	return b
}

// computeNextUncoveredRangeFrom walks the sorted pending ranges starting at
// initialHeight, skipping over any range that covers the candidate start,
// then clamps the end height to the first range that would otherwise
// overlap the result.
func (p *Planner) computeNextUncoveredRangeFrom(initialHeight Height) Range {
	ranges := p.sortedRanges()

	startHeight := initialHeight
	for {
		covering, found := findCovering(ranges, startHeight)
		if !found {
			break
		}
		startHeight = covering.End.Increment()
	}

	endHeight := startHeight.IncrementBy(p.maxBatchSize - 1)

	for _, r := range ranges {
		if r.Start > startHeight && r.Start <= endHeight {
			endHeight = r.Start.DecrementOr()
			break
		}
	}

	return Range{Start: startHeight, End: endHeight}
}

func findCovering(ranges []Range, h Height) (Range, bool) {
	for _, r := range ranges {
		if r.Contains(h) {
			return r, true
		}
	}
	return Range{}, false
}

// sortedRanges returns all pending ranges sorted by start height.
func (p *Planner) sortedRanges() []Range {
	ranges := make([]Range, 0, len(p.requests))
	for _, e := range p.requests {
		ranges = append(ranges, e.Range)
	}
	sort.Slice(ranges, func(i, j int) bool { return ranges[i].Start < ranges[j].Start })
	return ranges
}
