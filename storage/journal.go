package storage

import (
	"context"
	"encoding/binary"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"

	"slidingoracle/native/twap"
)

var observationPrefix = []byte("twap/obs/")

// ObservationJournal keeps the latest observation of every ring slot in a
// key-value store, RLP encoded under twap/obs/<pair><slot>.
type ObservationJournal struct {
	db Database
}

// NewObservationJournal wraps db.
func NewObservationJournal(db Database) *ObservationJournal {
	return &ObservationJournal{db: db}
}

type observationRecord struct {
	Timestamp uint64
	Forward   *big.Int
	Reverse   *big.Int
}

func observationKey(pair common.Address, slot uint64) []byte {
	key := make([]byte, 0, len(observationPrefix)+common.AddressLength+8)
	key = append(key, observationPrefix...)
	key = append(key, pair.Bytes()...)
	return binary.BigEndian.AppendUint64(key, slot)
}

// RecordObservation implements twap.Journal.
func (j *ObservationJournal) RecordObservation(_ context.Context, pair common.Address, index uint64, obs twap.Observation) error {
	obs = obs.Clone()
	encoded, err := rlp.EncodeToBytes(observationRecord{
		Timestamp: obs.Timestamp,
		Forward:   obs.CumulativeForward.ToBig(),
		Reverse:   obs.CumulativeReverse.ToBig(),
	})
	if err != nil {
		return fmt.Errorf("encode observation: %w", err)
	}
	if err := j.db.Put(observationKey(pair, index), encoded); err != nil {
		return fmt.Errorf("put observation: %w", err)
	}
	return nil
}

// LoadObservations returns every journaled slot ordered by pair and slot.
func (j *ObservationJournal) LoadObservations(ctx context.Context) ([]twap.SlotRecord, error) {
	records := make([]twap.SlotRecord, 0)
	err := j.db.Iterate(observationPrefix, func(key, value []byte) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		suffix := key[len(observationPrefix):]
		if len(suffix) != common.AddressLength+8 {
			return fmt.Errorf("malformed observation key %x", key)
		}
		var rec observationRecord
		if err := rlp.DecodeBytes(value, &rec); err != nil {
			return fmt.Errorf("decode observation %x: %w", key, err)
		}
		forward, overflow := uint256.FromBig(rec.Forward)
		if overflow {
			return fmt.Errorf("observation %x: forward cumulative overflows", key)
		}
		reverse, overflow := uint256.FromBig(rec.Reverse)
		if overflow {
			return fmt.Errorf("observation %x: reverse cumulative overflows", key)
		}
		records = append(records, twap.SlotRecord{
			Pair: common.BytesToAddress(suffix[:common.AddressLength]),
			Slot: binary.BigEndian.Uint64(suffix[common.AddressLength:]),
			Observation: twap.Observation{
				Timestamp:         rec.Timestamp,
				CumulativeForward: forward,
				CumulativeReverse: reverse,
			},
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}
