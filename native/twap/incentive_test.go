package twap

import (
	"testing"

	"github.com/holiman/uint256"
)

func TestIncentiveAmountFloors(t *testing.T) {
	percent := uintFromDec("10000000000000000") // 1%
	got, err := IncentiveAmount(uint256.NewInt(12345), percent)
	if err != nil {
		t.Fatalf("incentive: %v", err)
	}
	if got.Uint64() != 123 {
		t.Fatalf("expected 123, got %s", got.Dec())
	}
}

func TestIncentiveAmountScalesLinearly(t *testing.T) {
	percent := uintFromDec("2500000000000000") // 0.25%
	balance := uintFromDec("400000000000000000000")
	single, err := IncentiveAmount(balance, percent)
	if err != nil {
		t.Fatalf("incentive: %v", err)
	}
	doubled, err := IncentiveAmount(new(uint256.Int).Mul(balance, uint256.NewInt(2)), percent)
	if err != nil {
		t.Fatalf("incentive: %v", err)
	}
	if !doubled.Eq(new(uint256.Int).Mul(single, uint256.NewInt(2))) {
		t.Fatalf("expected doubling: single=%s doubled=%s", single.Dec(), doubled.Dec())
	}
	if single.Dec() != "1000000000000000000" {
		t.Fatalf("unexpected amount %s", single.Dec())
	}
}

func TestIncentiveAmountLargeBalance(t *testing.T) {
	balance := new(uint256.Int).SetAllOne()
	got, err := IncentiveAmount(balance, OneHundredPercent)
	if err != nil {
		t.Fatalf("incentive: %v", err)
	}
	if !got.Eq(balance) {
		t.Fatalf("expected full balance, got %s", got.Dec())
	}
}
