package sim

import (
	"math/rand"

	"github.com/driftlab/driftlab/internal/domain"
)

// Selector implements the per-tick event policy for one process.
//
// A non-empty inbound queue always wins: the tick becomes a receive and drains
// exactly one message. Otherwise a uniform draw v in [1, upper] decides the
// event: v <= oneCut is send-one, v <= allCut is send-all, anything else is
// internal. The default cuts (1, 2) with upper 10 give each send kind a 1/10
// chance per idle tick.
//
// The rand source is owned by the process and seeded by the coordinator, so a
// run with the same seed replays the same draws. Not goroutine-safe.
type Selector struct {
	upper  int
	oneCut int
	allCut int
	peers  []domain.ProcessID
	rng    *rand.Rand
}

// NewSelector creates a selector over the given peer set. Callers validate
// 0 <= oneCut <= allCut <= upper beforehand; see Config.Validate.
func NewSelector(upper, oneCut, allCut int, peers []domain.ProcessID, rng *rand.Rand) *Selector {
	return &Selector{
		upper:  upper,
		oneCut: oneCut,
		allCut: allCut,
		peers:  peers,
		rng:    rng,
	}
}

// Choose returns the event for one tick. Draining beats generating: with a
// non-empty queue the result is always EventReceive and no random draw is
// consumed. With no peers, send draws degrade to EventInternal.
func (s *Selector) Choose(queueNonEmpty bool) domain.EventKind {
	if queueNonEmpty {
		return domain.EventReceive
	}
	if len(s.peers) == 0 {
		return domain.EventInternal
	}
	v := s.rng.Intn(s.upper) + 1
	switch {
	case v <= s.oneCut:
		return domain.EventSendOne
	case v <= s.allCut:
		return domain.EventSendAll
	default:
		return domain.EventInternal
	}
}

// PickPeer chooses a send-one target uniformly from the peer set.
// Only called after Choose returned EventSendOne, so peers is non-empty.
func (s *Selector) PickPeer() domain.ProcessID {
	return s.peers[s.rng.Intn(len(s.peers))]
}

// Peers returns the peer set the selector draws targets from.
func (s *Selector) Peers() []domain.ProcessID {
	return s.peers
}
