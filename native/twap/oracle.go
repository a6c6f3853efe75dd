package twap

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"slidingoracle/core/events"
)

// PriceSource reports the current cumulative prices of a pair in both trade
// directions. Values must increase monotonically modulo 2^256.
type PriceSource interface {
	CurrentCumulativePrices(ctx context.Context, pair common.Address, now uint64) (forward, reverse *uint256.Int, err error)
}

// IncentiveToken is the token used to reward updates of the incentivized pair.
type IncentiveToken interface {
	BalanceOf(ctx context.Context, owner common.Address) (*uint256.Int, error)
	Transfer(ctx context.Context, to common.Address, amount *uint256.Int) error
}

// Journal persists observations before they are committed to the ring.
type Journal interface {
	RecordObservation(ctx context.Context, pair common.Address, index uint64, obs Observation) error
}

// SlotRecord is a journaled ring slot, replayed through Restore on startup.
type SlotRecord struct {
	Pair        common.Address
	Slot        uint64
	Observation Observation
}

// Oracle maintains sliding-window observations per pair and answers
// time-weighted average price queries from them.
type Oracle struct {
	mu       sync.Mutex
	cfg      Config
	period   uint64
	store    *observationStore
	source   PriceSource
	resolver PairResolver
	token    IncentiveToken
	journal  Journal
	emitter  events.Emitter
	logger   *log.Logger
	now      func() time.Time
}

// Option configures an Oracle.
type Option func(*Oracle)

// WithIncentiveToken installs the token paid to callers updating the
// incentivized pair.
func WithIncentiveToken(token IncentiveToken) Option {
	return func(o *Oracle) {
		o.token = token
	}
}

// WithJournal persists every observation before it is committed.
func WithJournal(j Journal) Option {
	return func(o *Oracle) {
		o.journal = j
	}
}

// WithEmitter routes oracle events to the supplied emitter.
func WithEmitter(e events.Emitter) Option {
	return func(o *Oracle) {
		o.emitter = e
	}
}

// WithLogger installs a custom logger.
func WithLogger(l *log.Logger) Option {
	return func(o *Oracle) {
		o.logger = l
	}
}

// WithClock overrides the wall clock. Each operation reads it exactly once.
func WithClock(now func() time.Time) Option {
	return func(o *Oracle) {
		o.now = now
	}
}

// New validates cfg and constructs an oracle. An oracle with an incentivized
// pair requires an incentive token.
func New(cfg Config, source PriceSource, resolver PairResolver, opts ...Option) (*Oracle, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if source == nil {
		return nil, fmt.Errorf("twap: price source required")
	}
	if resolver == nil {
		return nil, fmt.Errorf("twap: pair resolver required")
	}
	if cfg.PercentIncentivePerCall == nil {
		cfg.PercentIncentivePerCall = new(uint256.Int)
	} else {
		cfg.PercentIncentivePerCall = new(uint256.Int).Set(cfg.PercentIncentivePerCall)
	}
	o := &Oracle{
		cfg:      cfg,
		period:   cfg.PeriodSize(),
		store:    newObservationStore(cfg.Granularity),
		source:   source,
		resolver: resolver,
		emitter:  events.NoopEmitter{},
		logger:   log.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	if o.emitter == nil {
		o.emitter = events.NoopEmitter{}
	}
	if cfg.IncentivizedPair != (common.Address{}) && o.token == nil {
		return nil, fmt.Errorf("%w: incentivized pair %s requires an incentive token", ErrConfiguration, cfg.IncentivizedPair.Hex())
	}
	return o, nil
}

// Config returns the construction parameters.
func (o *Oracle) Config() Config {
	cfg := o.cfg
	cfg.PercentIncentivePerCall = new(uint256.Int).Set(o.cfg.PercentIncentivePerCall)
	return cfg
}

// Resolver exposes the pair resolver used by Consult.
func (o *Oracle) Resolver() PairResolver {
	return o.resolver
}

func (o *Oracle) timestamp() uint64 {
	ts := o.now().Unix()
	if ts < 0 {
		return 0
	}
	return uint64(ts)
}

// Update snapshots the current cumulative prices of pair into the slot for the
// current period. It succeeds at most once per period per pair. When pair is
// the incentivized pair, caller receives UpdateIncentiveAmount of the incentive
// token after the observation is committed; a failed payout returns
// ErrIncentiveTransfer without undoing the observation.
func (o *Oracle) Update(ctx context.Context, pair, caller common.Address) error {
	if o == nil {
		return fmt.Errorf("twap: oracle not configured")
	}
	o.mu.Lock()
	defer o.mu.Unlock()

	now := o.timestamp()
	o.store.ensureInitialized(pair)
	index := o.cfg.ObservationIndexOf(now)
	current, err := o.store.slotAt(pair, index)
	if err != nil {
		return err
	}
	if current.recorded {
		if now < current.obs.Timestamp || now-current.obs.Timestamp <= o.period {
			return fmt.Errorf("%w: pair %s slot %d observed at %d", ErrAlreadyUpdatedThisPeriod, pair.Hex(), index, current.obs.Timestamp)
		}
	}

	forward, reverse, err := o.source.CurrentCumulativePrices(ctx, pair, now)
	if err != nil {
		return fmt.Errorf("twap: fetch cumulative prices for %s: %w", pair.Hex(), err)
	}
	obs := Observation{Timestamp: now, CumulativeForward: forward, CumulativeReverse: reverse}.Clone()
	if o.journal != nil {
		if err := o.journal.RecordObservation(ctx, pair, index, obs.Clone()); err != nil {
			return fmt.Errorf("twap: journal observation: %w", err)
		}
	}
	current.obs = obs
	current.recorded = true
	o.emitter.Emit(events.ObservationRecorded{
		Pair:              pair,
		Slot:              index,
		Timestamp:         now,
		CumulativeForward: obs.CumulativeForward.Dec(),
		CumulativeReverse: obs.CumulativeReverse.Dec(),
	})

	if pair != o.cfg.IncentivizedPair || o.token == nil {
		return nil
	}
	// The payout runs after the commit so a failing transfer cannot discard a
	// valid observation.
	amount, err := o.incentiveAmount(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrIncentiveTransfer, err)
	}
	if amount.IsZero() {
		return nil
	}
	if err := o.token.Transfer(ctx, caller, amount); err != nil {
		o.logger.Printf("twap: incentive payout to %s failed: %v", caller.Hex(), err)
		return fmt.Errorf("%w: %s to %s: %v", ErrIncentiveTransfer, amount.Dec(), caller.Hex(), err)
	}
	o.emitter.Emit(events.IncentivePaid{Pair: pair, Recipient: caller, Amount: amount.Dec()})
	return nil
}

// Consult returns the amount of tokenOut that amountIn of tokenIn buys at the
// time-weighted average price over the trailing window.
func (o *Oracle) Consult(ctx context.Context, tokenIn common.Address, amountIn *uint256.Int, tokenOut common.Address) (*uint256.Int, error) {
	if o == nil {
		return nil, fmt.Errorf("twap: oracle not configured")
	}
	pair, err := o.resolver.PairFor(tokenIn, tokenOut)
	if err != nil {
		return nil, err
	}
	token0, _, err := o.resolver.SortTokens(tokenIn, tokenOut)
	if err != nil {
		return nil, err
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	now := o.timestamp()
	if !o.store.initialized(pair) {
		return nil, fmt.Errorf("%w: pair %s has no observations", ErrMissingHistoricalObservation, pair.Hex())
	}
	first, err := o.store.firstObservationInWindow(o.cfg, pair, now)
	if err != nil {
		return nil, err
	}
	if !first.recorded {
		return nil, fmt.Errorf("%w: pair %s oldest slot is empty", ErrMissingHistoricalObservation, pair.Hex())
	}
	if now < first.obs.Timestamp {
		return nil, fmt.Errorf("%w: oldest observation %d is after now %d", ErrUnexpectedTimeElapsed, first.obs.Timestamp, now)
	}
	timeElapsed := now - first.obs.Timestamp
	if timeElapsed > o.cfg.WindowSize {
		return nil, fmt.Errorf("%w: pair %s elapsed %d exceeds window %d", ErrMissingHistoricalObservation, pair.Hex(), timeElapsed, o.cfg.WindowSize)
	}
	if timeElapsed < o.cfg.WindowSize-2*o.period {
		return nil, fmt.Errorf("%w: pair %s elapsed %d below %d", ErrUnexpectedTimeElapsed, pair.Hex(), timeElapsed, o.cfg.WindowSize-2*o.period)
	}

	forward, reverse, err := o.source.CurrentCumulativePrices(ctx, pair, now)
	if err != nil {
		return nil, fmt.Errorf("twap: fetch cumulative prices for %s: %w", pair.Hex(), err)
	}
	if token0 == tokenIn {
		return ComputeAmountOut(first.obs.CumulativeForward, forward, timeElapsed, amountIn)
	}
	return ComputeAmountOut(first.obs.CumulativeReverse, reverse, timeElapsed, amountIn)
}

// UpdateIncentiveAmount returns the reward the next incentivized update would pay.
func (o *Oracle) UpdateIncentiveAmount(ctx context.Context) (*uint256.Int, error) {
	if o == nil {
		return nil, fmt.Errorf("twap: oracle not configured")
	}
	if o.token == nil {
		return new(uint256.Int), nil
	}
	return o.incentiveAmount(ctx)
}

func (o *Oracle) incentiveAmount(ctx context.Context) (*uint256.Int, error) {
	balance, err := o.token.BalanceOf(ctx, o.cfg.Treasury)
	if err != nil {
		return nil, fmt.Errorf("twap: incentive balance: %w", err)
	}
	return IncentiveAmount(balance, o.cfg.PercentIncentivePerCall)
}

// WindowSpan reports how many seconds the oldest retained observation of pair
// lies behind now, and whether that slot has ever been written.
func (o *Oracle) WindowSpan(pair common.Address) (uint64, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	now := o.timestamp()
	if !o.store.initialized(pair) {
		return 0, false
	}
	first, err := o.store.firstObservationInWindow(o.cfg, pair, now)
	if err != nil || !first.recorded || now < first.obs.Timestamp {
		return 0, false
	}
	return now - first.obs.Timestamp, true
}

// Observations returns a copy of the ring for pair, or nil when the pair has
// never been updated.
func (o *Oracle) Observations(pair common.Address) []Observation {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.store.initialized(pair) {
		return nil
	}
	return o.store.snapshot(pair)
}

// Restore loads a persisted observation into its slot. It is meant for startup
// before the oracle serves traffic; the slot index must match the timestamp.
func (o *Oracle) Restore(pair common.Address, index uint64, obs Observation) error {
	if o == nil {
		return fmt.Errorf("twap: oracle not configured")
	}
	if expected := o.cfg.ObservationIndexOf(obs.Timestamp); expected != index {
		return fmt.Errorf("twap: restore %s: timestamp %d belongs to slot %d, not %d", pair.Hex(), obs.Timestamp, expected, index)
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.store.ensureInitialized(pair)
	current, err := o.store.slotAt(pair, index)
	if err != nil {
		return err
	}
	if current.recorded && current.obs.Timestamp > obs.Timestamp {
		return nil
	}
	current.obs = obs.Clone()
	current.recorded = true
	return nil
}
