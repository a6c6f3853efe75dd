package twap

import (
	"fmt"

	"github.com/holiman/uint256"
)

// IncentiveAmount returns floor(balance * percent / OneHundredPercent).
func IncentiveAmount(balance, percent *uint256.Int) (*uint256.Int, error) {
	if balance == nil || percent == nil {
		return new(uint256.Int), nil
	}
	amount, overflow := new(uint256.Int).MulDivOverflow(balance, percent, OneHundredPercent)
	if overflow {
		return nil, fmt.Errorf("%w: incentive on balance %s", ErrOverflow, balance.Dec())
	}
	return amount, nil
}
