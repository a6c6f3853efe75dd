package twap

import (
	"fmt"

	"github.com/holiman/uint256"
)

// WrappingSub returns (end - start) mod 2^width. Cumulative prices wrap at
// their bit width, so the forward distance between two readings is recovered
// by modular subtraction as long as less than one full wrap separates them.
// It is only meant for accumulator deltas.
func WrappingSub(end, start *uint256.Int, width uint) *uint256.Int {
	delta := new(uint256.Int).Sub(end, start)
	if width >= AccumulatorBits {
		return delta
	}
	mask := new(uint256.Int).Lsh(uint256.NewInt(1), width)
	mask.SubUint64(mask, 1)
	return delta.And(delta, mask)
}

// ComputeAmountOut converts amountIn at the average price implied by two
// accumulator readings timeElapsed seconds apart.
func ComputeAmountOut(cumStart, cumEnd *uint256.Int, timeElapsed uint64, amountIn *uint256.Int) (*uint256.Int, error) {
	if timeElapsed == 0 {
		return nil, fmt.Errorf("%w: zero elapsed time", ErrUnexpectedTimeElapsed)
	}
	delta := WrappingSub(cumEnd, cumStart, AccumulatorBits)
	priceAverage := new(uint256.Int).Div(delta, uint256.NewInt(timeElapsed))
	if priceAverage.BitLen() > AverageBits {
		return nil, fmt.Errorf("%w: average price exceeds %d bits", ErrOverflow, AverageBits)
	}
	return decodeMul(priceAverage, amountIn)
}

// decodeMul multiplies a UQ112.112 value by an integer and drops the fraction.
func decodeMul(price, amount *uint256.Int) (*uint256.Int, error) {
	if amount == nil {
		amount = new(uint256.Int)
	}
	product, overflow := new(uint256.Int).MulOverflow(price, amount)
	if overflow {
		return nil, fmt.Errorf("%w: %s * %s", ErrOverflow, price.Dec(), amount.Dec())
	}
	return product.Rsh(product, FractionBits), nil
}

// EncodeRatio returns numerator/denominator as UQ112.112. A zero denominator
// yields zero.
func EncodeRatio(numerator, denominator *uint256.Int) *uint256.Int {
	if denominator.IsZero() {
		return new(uint256.Int)
	}
	scaled := new(uint256.Int).Lsh(numerator, FractionBits)
	return scaled.Div(scaled, denominator)
}
