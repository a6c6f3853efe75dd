package twap

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

type slot struct {
	obs      Observation
	recorded bool
}

// observationStore owns the per-pair rings. It is not safe for concurrent use;
// the Oracle serialises access.
type observationStore struct {
	granularity uint64
	rings       map[common.Address][]slot
}

func newObservationStore(granularity uint64) *observationStore {
	return &observationStore{
		granularity: granularity,
		rings:       make(map[common.Address][]slot),
	}
}

// ensureInitialized grows the ring for pair to exactly granularity empty slots.
func (s *observationStore) ensureInitialized(pair common.Address) {
	ring := s.rings[pair]
	for uint64(len(ring)) < s.granularity {
		ring = append(ring, slot{obs: Observation{}.Clone()})
	}
	s.rings[pair] = ring
}

func (s *observationStore) initialized(pair common.Address) bool {
	return uint64(len(s.rings[pair])) == s.granularity
}

// slotAt returns the slot at index. The pointer stays valid until the ring is
// grown, which never happens once initialised.
func (s *observationStore) slotAt(pair common.Address, index uint64) (*slot, error) {
	ring := s.rings[pair]
	if index >= uint64(len(ring)) {
		return nil, fmt.Errorf("%w: pair %s index %d of %d", ErrSlotOutOfRange, pair.Hex(), index, len(ring))
	}
	return &ring[index], nil
}

// firstObservationInWindow returns the slot just ahead of the current write
// position, which holds the oldest retained observation.
func (s *observationStore) firstObservationInWindow(cfg Config, pair common.Address, now uint64) (*slot, error) {
	index := cfg.ObservationIndexOf(now)
	return s.slotAt(pair, (index+1)%s.granularity)
}

func (s *observationStore) snapshot(pair common.Address) []Observation {
	ring := s.rings[pair]
	out := make([]Observation, 0, len(ring))
	for _, entry := range ring {
		out = append(out, entry.obs.Clone())
	}
	return out
}
