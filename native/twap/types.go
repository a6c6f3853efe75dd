package twap

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

const (
	// FractionBits is the number of fractional bits carried by average prices
	// (UQ112.112).
	FractionBits = 112
	// AverageBits bounds the fixed-point average price holder.
	AverageBits = 224
	// AccumulatorBits is the width at which cumulative prices wrap.
	AccumulatorBits = 256
)

// OneHundredPercent is the denominator of PercentIncentivePerCall.
var OneHundredPercent = uint256.NewInt(1_000_000_000_000_000_000)

var (
	// ErrConfiguration is returned by New for unusable window parameters.
	ErrConfiguration = errors.New("twap: invalid configuration")
	// ErrAlreadyUpdatedThisPeriod rejects a second update of a pair within one period.
	ErrAlreadyUpdatedThisPeriod = errors.New("twap: already updated this period")
	// ErrMissingHistoricalObservation indicates the ring does not yet cover a full window.
	ErrMissingHistoricalObservation = errors.New("twap: missing historical observation")
	// ErrUnexpectedTimeElapsed signals a window span shorter than the update
	// cadence allows. It is an invariant violation and must not be retried.
	ErrUnexpectedTimeElapsed = errors.New("twap: unexpected time elapsed")
	// ErrOverflow is returned when a fixed-point result is not representable.
	ErrOverflow = errors.New("twap: fixed-point overflow")
	// ErrIncentiveTransfer reports a failed payout. The observation that earned
	// the payout remains recorded.
	ErrIncentiveTransfer = errors.New("twap: incentive transfer failed")
	// ErrSlotOutOfRange is returned when a ring slot is read before the ring exists.
	ErrSlotOutOfRange = errors.New("twap: observation slot out of range")
	// ErrIdenticalTokens rejects pairs built from a single token.
	ErrIdenticalTokens = errors.New("twap: identical tokens")
	// ErrZeroAddress rejects the zero address as a pair member.
	ErrZeroAddress = errors.New("twap: zero address")
)

// Observation is a snapshot of a pair's cumulative prices in both trade
// directions taken at Timestamp (unix seconds).
type Observation struct {
	Timestamp         uint64
	CumulativeForward *uint256.Int
	CumulativeReverse *uint256.Int
}

// Clone returns a deep copy so callers cannot mutate ring contents.
func (o Observation) Clone() Observation {
	clone := Observation{Timestamp: o.Timestamp}
	clone.CumulativeForward = cloneOrZero(o.CumulativeForward)
	clone.CumulativeReverse = cloneOrZero(o.CumulativeReverse)
	return clone
}

func cloneOrZero(v *uint256.Int) *uint256.Int {
	if v == nil {
		return new(uint256.Int)
	}
	return new(uint256.Int).Set(v)
}

// Config carries the immutable construction parameters of an Oracle.
type Config struct {
	// WindowSize is the averaging span in seconds.
	WindowSize uint64
	// Granularity is the number of ring slots per pair. Must exceed one and
	// divide WindowSize evenly.
	Granularity uint64
	// PercentIncentivePerCall is scaled so that OneHundredPercent pays the whole balance.
	PercentIncentivePerCall *uint256.Int
	// IncentivizedPair is the only pair whose updates pay a reward. The zero
	// address disables incentives.
	IncentivizedPair common.Address
	// Treasury holds the incentive token balance.
	Treasury common.Address
}

// PeriodSize returns WindowSize / Granularity.
func (c Config) PeriodSize() uint64 {
	if c.Granularity == 0 {
		return 0
	}
	return c.WindowSize / c.Granularity
}

// Validate enforces the construction invariants.
func (c Config) Validate() error {
	if c.Granularity <= 1 {
		return fmt.Errorf("%w: granularity %d must be greater than 1", ErrConfiguration, c.Granularity)
	}
	if c.WindowSize == 0 || c.WindowSize%c.Granularity != 0 {
		return fmt.Errorf("%w: window size %d not evenly divisible by granularity %d", ErrConfiguration, c.WindowSize, c.Granularity)
	}
	if c.PercentIncentivePerCall != nil && c.PercentIncentivePerCall.Gt(OneHundredPercent) {
		return fmt.Errorf("%w: incentive percent %s exceeds 100%%", ErrConfiguration, c.PercentIncentivePerCall.Dec())
	}
	return nil
}
