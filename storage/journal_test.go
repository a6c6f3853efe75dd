package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"slidingoracle/native/twap"
)

var (
	pairA = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	pairB = common.HexToAddress("0x00000000000000000000000000000000000000b2")
)

func exerciseJournal(t *testing.T, db Database) {
	t.Helper()
	ctx := context.Background()
	journal := NewObservationJournal(db)
	wrapped := new(uint256.Int).Not(new(uint256.Int))

	writes := []struct {
		pair common.Address
		slot uint64
		obs  twap.Observation
	}{
		{pairB, 3, twap.Observation{Timestamp: 10800, CumulativeForward: uint256.NewInt(3), CumulativeReverse: uint256.NewInt(4)}},
		{pairA, 1, twap.Observation{Timestamp: 3600, CumulativeForward: uint256.NewInt(1), CumulativeReverse: uint256.NewInt(2)}},
		{pairA, 1, twap.Observation{Timestamp: 90000, CumulativeForward: wrapped, CumulativeReverse: uint256.NewInt(7)}},
		{pairA, 0, twap.Observation{Timestamp: 86400}},
	}
	for _, w := range writes {
		if err := journal.RecordObservation(ctx, w.pair, w.slot, w.obs); err != nil {
			t.Fatalf("record %s/%d: %v", w.pair.Hex(), w.slot, err)
		}
	}

	records, err := journal.LoadObservations(ctx)
	if err != nil {
		t.Fatalf("load observations: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(records))
	}
	if records[0].Pair != pairA || records[0].Slot != 0 || !records[0].Observation.CumulativeForward.IsZero() {
		t.Fatalf("unexpected first record: %+v", records[0])
	}
	if records[1].Slot != 1 || records[1].Observation.Timestamp != 90000 || !records[1].Observation.CumulativeForward.Eq(wrapped) {
		t.Fatalf("slot 1 not overwritten: %+v", records[1])
	}
	if records[2].Pair != pairB || records[2].Slot != 3 || records[2].Observation.CumulativeReverse.Uint64() != 4 {
		t.Fatalf("unexpected last record: %+v", records[2])
	}
}

func TestObservationJournalMemDB(t *testing.T) {
	exerciseJournal(t, NewMemDB())
}

func TestObservationJournalLevelDB(t *testing.T) {
	db, err := NewLevelDB(filepath.Join(t.TempDir(), "journal"))
	if err != nil {
		t.Fatalf("open leveldb: %v", err)
	}
	defer db.Close()
	exerciseJournal(t, db)
}

func TestJournalRestoresOracle(t *testing.T) {
	ctx := context.Background()
	journal := NewObservationJournal(NewMemDB())
	cfg := twap.Config{WindowSize: 86400, Granularity: 24}
	obs := twap.Observation{Timestamp: 7200, CumulativeForward: uint256.NewInt(5), CumulativeReverse: uint256.NewInt(6)}
	if err := journal.RecordObservation(ctx, pairA, cfg.ObservationIndexOf(obs.Timestamp), obs); err != nil {
		t.Fatalf("record: %v", err)
	}
	records, err := journal.LoadObservations(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	oracle, err := twap.New(cfg, nopSource{}, twap.NewV2Resolver(common.Address{}, common.Hash{}))
	if err != nil {
		t.Fatalf("new oracle: %v", err)
	}
	for _, rec := range records {
		if err := oracle.Restore(rec.Pair, rec.Slot, rec.Observation); err != nil {
			t.Fatalf("restore: %v", err)
		}
	}
	ring := oracle.Observations(pairA)
	if len(ring) != 24 || ring[2].Timestamp != 7200 || ring[2].CumulativeReverse.Uint64() != 6 {
		t.Fatalf("unexpected ring after restore: %+v", ring[2])
	}
}

func TestMemDBGetMissing(t *testing.T) {
	if _, err := NewMemDB().Get([]byte("absent")); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

type nopSource struct{}

func (nopSource) CurrentCumulativePrices(context.Context, common.Address, uint64) (*uint256.Int, *uint256.Int, error) {
	return new(uint256.Int), new(uint256.Int), nil
}
