package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"slidingoracle/native/twap"
)

var (
	testToken    = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	testTreasury = common.HexToAddress("0x00000000000000000000000000000000000000bb")
	testCaller   = common.HexToAddress("0x00000000000000000000000000000000000000cc")
	testPair     = common.HexToAddress("0x00000000000000000000000000000000000000dd")
)

func TestRecordObservationUpsertsSlot(t *testing.T) {
	store := openTestDB(t)
	ctx := context.Background()
	first := twap.Observation{Timestamp: 3600, CumulativeForward: uint256.NewInt(10), CumulativeReverse: uint256.NewInt(20)}
	if err := store.RecordObservation(ctx, testPair, 1, first); err != nil {
		t.Fatalf("record observation: %v", err)
	}
	wrapped := new(uint256.Int).Not(new(uint256.Int))
	second := twap.Observation{Timestamp: 90000, CumulativeForward: wrapped, CumulativeReverse: uint256.NewInt(40)}
	if err := store.RecordObservation(ctx, testPair, 1, second); err != nil {
		t.Fatalf("overwrite observation: %v", err)
	}
	if err := store.RecordObservation(ctx, testPair, 2, twap.Observation{Timestamp: 7200}); err != nil {
		t.Fatalf("record empty cumulatives: %v", err)
	}

	loaded, err := store.LoadObservations(ctx)
	if err != nil {
		t.Fatalf("load observations: %v", err)
	}
	if len(loaded) != 2 {
		t.Fatalf("expected 2 slots, got %d", len(loaded))
	}
	if loaded[0].Pair != testPair || loaded[0].Slot != 1 {
		t.Fatalf("unexpected first slot: %+v", loaded[0])
	}
	if loaded[0].Observation.Timestamp != 90000 || !loaded[0].Observation.CumulativeForward.Eq(wrapped) {
		t.Fatalf("slot not overwritten: %+v", loaded[0].Observation)
	}
	if !loaded[1].Observation.CumulativeForward.IsZero() || !loaded[1].Observation.CumulativeReverse.IsZero() {
		t.Fatalf("expected zero cumulatives, got %+v", loaded[1].Observation)
	}
}

func TestCreditAndTransferPayout(t *testing.T) {
	store := openTestDB(t)
	ctx := context.Background()
	if err := store.Credit(ctx, testToken, testTreasury, uint256.NewInt(1000)); err != nil {
		t.Fatalf("credit: %v", err)
	}
	id, err := store.TransferPayout(ctx, Payout{
		Token:     testToken,
		Pair:      testPair,
		From:      testTreasury,
		Recipient: testCaller,
		Amount:    uint256.NewInt(10),
		PaidAt:    time.Unix(1700000000, 0),
	})
	if err != nil {
		t.Fatalf("transfer payout: %v", err)
	}
	if id == "" {
		t.Fatalf("expected payout id")
	}
	treasuryBalance, err := store.Balance(ctx, testToken, testTreasury)
	if err != nil {
		t.Fatalf("treasury balance: %v", err)
	}
	if treasuryBalance.Uint64() != 990 {
		t.Fatalf("unexpected treasury balance %s", treasuryBalance.Dec())
	}
	callerBalance, err := store.Balance(ctx, testToken, testCaller)
	if err != nil {
		t.Fatalf("caller balance: %v", err)
	}
	if callerBalance.Uint64() != 10 {
		t.Fatalf("unexpected caller balance %s", callerBalance.Dec())
	}
	payouts, err := store.Payouts(ctx, testCaller)
	if err != nil {
		t.Fatalf("list payouts: %v", err)
	}
	if len(payouts) != 1 || payouts[0].ID != id || payouts[0].Amount.Uint64() != 10 || payouts[0].Pair != testPair {
		t.Fatalf("unexpected payouts: %+v", payouts)
	}
}

func TestTransferPayoutRejectsOverdraft(t *testing.T) {
	store := openTestDB(t)
	ctx := context.Background()
	if err := store.Credit(ctx, testToken, testTreasury, uint256.NewInt(5)); err != nil {
		t.Fatalf("credit: %v", err)
	}
	_, err := store.TransferPayout(ctx, Payout{Token: testToken, From: testTreasury, Recipient: testCaller, Amount: uint256.NewInt(6)})
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected insufficient balance, got %v", err)
	}
	balance, err := store.Balance(ctx, testToken, testCaller)
	if err != nil {
		t.Fatalf("caller balance: %v", err)
	}
	if !balance.IsZero() {
		t.Fatalf("failed transfer must not credit, got %s", balance.Dec())
	}
	payouts, err := store.Payouts(ctx, testCaller)
	if err != nil {
		t.Fatalf("list payouts: %v", err)
	}
	if len(payouts) != 0 {
		t.Fatalf("failed transfer must not log a payout: %+v", payouts)
	}
}

func TestFeeScheduleLatest(t *testing.T) {
	store := openTestDB(t)
	ctx := context.Background()
	if _, err := store.LatestFeeSchedule(ctx); err == nil {
		t.Fatalf("expected missing schedule error")
	}
	base := time.Unix(1700000000, 0)
	for i, term := range []uint64{7, 8} {
		_, err := store.RecordFeeSchedule(ctx, FeeSchedule{
			Term:     term,
			Draft:    uint256.NewInt(term * 10),
			Settle:   uint256.NewInt(term * 20),
			Appeal:   uint256.NewInt(term * 30),
			Status:   "pushed",
			PushedAt: base.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("record schedule %d: %v", term, err)
		}
	}
	latest, err := store.LatestFeeSchedule(ctx)
	if err != nil {
		t.Fatalf("latest schedule: %v", err)
	}
	if latest.Term != 8 || latest.Draft.Uint64() != 80 || latest.Settle.Uint64() != 160 || latest.Appeal.Uint64() != 240 {
		t.Fatalf("unexpected latest schedule: %+v", latest)
	}
	if latest.Status != "pushed" || latest.ID == "" {
		t.Fatalf("unexpected schedule metadata: %+v", latest)
	}
}

func TestFileDSN(t *testing.T) {
	if _, err := FileDSN("  "); !errors.Is(err, ErrPathRequired) {
		t.Fatalf("expected ErrPathRequired, got %v", err)
	}
	dsn, err := FileDSN("twapd.sqlite")
	if err != nil {
		t.Fatalf("file dsn: %v", err)
	}
	if !strings.HasPrefix(dsn, "file:/") || !strings.Contains(dsn, "_journal_mode=WAL") {
		t.Fatalf("unexpected dsn %q", dsn)
	}
	memory := "file:twapd?mode=memory&cache=shared"
	if got, _ := FileDSN(memory); got != memory {
		t.Fatalf("expected file DSN passthrough, got %q", got)
	}
}

func openTestDB(t *testing.T) *Storage {
	t.Helper()
	store, err := Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name()))
	if err != nil {
		t.Fatalf("open storage: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}
