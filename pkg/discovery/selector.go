package discovery

import (
	"math/rand"

	"github.com/libp2p/go-libp2p/core/peer"
)

// SelectorKind names an extension peer-picking strategy. Per the design
// note that dynamic dispatch should appear only here and only as a closed
// set, this is a tagged variant rather than an open Selector interface.
type SelectorKind int

const (
	SelectorRoundRobin SelectorKind = iota
	SelectorRandom
)

// Selector picks the next peer to query during an extension round from a
// shrinking pool of not-yet-queried candidates.
type Selector struct {
	kind SelectorKind
	rng  *rand.Rand
}

// NewSelector builds a Selector of the given kind. Random selection uses a
// PRNG seeded with the constant 1, so every Selector built here produces
// the same sequence of picks; NewSelectorWithRand takes a caller-supplied
// source instead.
func NewSelector(kind SelectorKind) *Selector {
	return &Selector{kind: kind, rng: rand.New(rand.NewSource(1))}
}

// NewSelectorWithRand builds a Selector backed by a caller-supplied random
// source, for deterministic tests of Random mode.
func NewSelectorWithRand(kind SelectorKind, rng *rand.Rand) *Selector {
	return &Selector{kind: kind, rng: rng}
}

// Next removes and returns one peer from remaining. RoundRobin always
// consumes the head of the slice (callers are expected to maintain
// remaining in discovery order); Random consumes a uniformly chosen index.
func (s *Selector) Next(remaining []peer.ID) (peer.ID, []peer.ID, error) {
	if len(remaining) == 0 {
		return "", remaining, ErrNoCandidates
	}

	idx := 0
	if s.kind == SelectorRandom {
		idx = s.rng.Intn(len(remaining))
	}

	picked := remaining[idx]
	rest := make([]peer.ID, 0, len(remaining)-1)
	rest = append(rest, remaining[:idx]...)
	rest = append(rest, remaining[idx+1:]...)
	return picked, rest, nil
}
