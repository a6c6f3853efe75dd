package twap

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"slidingoracle/core/events"
)

var (
	tokenA  = common.HexToAddress("0x1000000000000000000000000000000000000001")
	tokenB  = common.HexToAddress("0x2000000000000000000000000000000000000002")
	keeper  = common.HexToAddress("0x00000000000000000000000000000000000000ee")
	factory = common.HexToAddress("0x5C69bEe701ef814a2B6a3EDD4B1652CB9cc5aA6f")
)

// linearSource accrues a constant UQ112.112 price per second for each direction.
type linearSource struct {
	forward *uint256.Int
	reverse *uint256.Int
	calls   int
	err     error
}

func newLinearSource(num, den uint64) *linearSource {
	return &linearSource{
		forward: EncodeRatio(uint256.NewInt(num), uint256.NewInt(den)),
		reverse: EncodeRatio(uint256.NewInt(den), uint256.NewInt(num)),
	}
}

func (s *linearSource) CurrentCumulativePrices(ctx context.Context, pair common.Address, now uint64) (*uint256.Int, *uint256.Int, error) {
	_ = ctx
	s.calls++
	if s.err != nil {
		return nil, nil, s.err
	}
	ts := uint256.NewInt(now)
	return new(uint256.Int).Mul(s.forward, ts), new(uint256.Int).Mul(s.reverse, ts), nil
}

type memoryToken struct {
	balances    map[common.Address]*uint256.Int
	transferErr error
}

func newMemoryToken(holder common.Address, balance uint64) *memoryToken {
	return &memoryToken{balances: map[common.Address]*uint256.Int{holder: uint256.NewInt(balance)}}
}

func (m *memoryToken) BalanceOf(ctx context.Context, owner common.Address) (*uint256.Int, error) {
	_ = ctx
	if bal, ok := m.balances[owner]; ok {
		return new(uint256.Int).Set(bal), nil
	}
	return new(uint256.Int), nil
}

func (m *memoryToken) Transfer(ctx context.Context, to common.Address, amount *uint256.Int) error {
	_ = ctx
	if m.transferErr != nil {
		return m.transferErr
	}
	m.balances[treasury] = new(uint256.Int).Sub(m.balances[treasury], amount)
	if m.balances[to] == nil {
		m.balances[to] = new(uint256.Int)
	}
	m.balances[to] = new(uint256.Int).Add(m.balances[to], amount)
	return nil
}

type failingJournal struct{}

func (failingJournal) RecordObservation(context.Context, common.Address, uint64, Observation) error {
	return fmt.Errorf("disk full")
}

var treasury = common.HexToAddress("0x00000000000000000000000000000000000000aa")

type clock struct {
	ts int64
}

func (c *clock) now() time.Time { return time.Unix(c.ts, 0) }

func newTestOracle(t *testing.T, source PriceSource, clk *clock, opts ...Option) (*Oracle, common.Address) {
	t.Helper()
	resolver := NewV2Resolver(factory, common.HexToHash("0x96e8ac4277198ff8b6f785478aa9a39f403cb768dd02cbee326c3e7da348845f"))
	pair, err := resolver.PairFor(tokenA, tokenB)
	if err != nil {
		t.Fatalf("pair for: %v", err)
	}
	cfg := Config{WindowSize: 86400, Granularity: 24, Treasury: treasury}
	opts = append([]Option{WithClock(clk.now)}, opts...)
	oracle, err := New(cfg, source, resolver, opts...)
	if err != nil {
		t.Fatalf("new oracle: %v", err)
	}
	return oracle, pair
}

func TestNewRejectsInvalidConfiguration(t *testing.T) {
	source := newLinearSource(1, 1)
	resolver := NewV2Resolver(factory, common.Hash{})
	if _, err := New(Config{WindowSize: 86400, Granularity: 1}, source, resolver); !errors.Is(err, ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	if _, err := New(Config{WindowSize: 86401, Granularity: 24}, source, resolver); !errors.Is(err, ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	cfg := Config{WindowSize: 86400, Granularity: 24, IncentivizedPair: tokenA}
	if _, err := New(cfg, source, resolver); !errors.Is(err, ErrConfiguration) {
		t.Fatalf("expected incentive token requirement, got %v", err)
	}
}

func TestFirstUpdateAlwaysSucceeds(t *testing.T) {
	for _, ts := range []int64{0, 1, 3599, 3600, 1_700_000_000} {
		clk := &clock{ts: ts}
		oracle, pair := newTestOracle(t, newLinearSource(1, 1), clk)
		if err := oracle.Update(context.Background(), pair, keeper); err != nil {
			t.Fatalf("first update at %d: %v", ts, err)
		}
		obs := oracle.Observations(pair)
		if len(obs) != 24 {
			t.Fatalf("expected ring of 24, got %d", len(obs))
		}
		idx := oracle.Config().ObservationIndexOf(uint64(ts))
		if obs[idx].Timestamp != uint64(ts) {
			t.Fatalf("slot %d not written: %+v", idx, obs[idx])
		}
	}
}

func TestUpdateOncePerPeriod(t *testing.T) {
	ctx := context.Background()
	clk := &clock{ts: 7200}
	oracle, pair := newTestOracle(t, newLinearSource(1, 1), clk)
	if err := oracle.Update(ctx, pair, keeper); err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := oracle.Update(ctx, pair, keeper); !errors.Is(err, ErrAlreadyUpdatedThisPeriod) {
		t.Fatalf("expected already updated at same instant, got %v", err)
	}
	clk.ts = 7200 + 3599
	if err := oracle.Update(ctx, pair, keeper); !errors.Is(err, ErrAlreadyUpdatedThisPeriod) {
		t.Fatalf("expected already updated within period, got %v", err)
	}
	clk.ts = 7200 + 3600
	if err := oracle.Update(ctx, pair, keeper); err != nil {
		t.Fatalf("update in next period: %v", err)
	}
}

func TestUpdateGuardUsesPeriodSize(t *testing.T) {
	// With two slots the same slot is revisited one window later, so the
	// elapsed check against PeriodSize decides.
	clk := &clock{ts: 100}
	resolver := NewV2Resolver(factory, common.Hash{})
	pair, _ := resolver.PairFor(tokenA, tokenB)
	oracle, err := New(Config{WindowSize: 20, Granularity: 2}, newLinearSource(1, 1), resolver, WithClock(clk.now))
	if err != nil {
		t.Fatalf("new oracle: %v", err)
	}
	ctx := context.Background()
	if err := oracle.Update(ctx, pair, keeper); err != nil {
		t.Fatalf("update: %v", err)
	}
	clk.ts = 109
	if err := oracle.Update(ctx, pair, keeper); !errors.Is(err, ErrAlreadyUpdatedThisPeriod) {
		t.Fatalf("expected already updated, got %v", err)
	}
	clk.ts = 120
	if err := oracle.Update(ctx, pair, keeper); err != nil {
		t.Fatalf("update one window later: %v", err)
	}
}

func TestConsultBeforeFullWindow(t *testing.T) {
	clk := &clock{ts: 1_700_000_000}
	oracle, pair := newTestOracle(t, newLinearSource(2, 1), clk)
	ctx := context.Background()
	if _, err := oracle.Consult(ctx, tokenA, uint256.NewInt(1), tokenB); !errors.Is(err, ErrMissingHistoricalObservation) {
		t.Fatalf("expected missing observation on empty pair, got %v", err)
	}
	for i := 0; i < 24; i++ {
		if err := oracle.Update(ctx, pair, keeper); err != nil {
			t.Fatalf("update %d: %v", i, err)
		}
		_, err := oracle.Consult(ctx, tokenA, uint256.NewInt(1), tokenB)
		if i < 23 {
			if !errors.Is(err, ErrMissingHistoricalObservation) {
				t.Fatalf("update %d: expected missing observation, got %v", i, err)
			}
		} else if err != nil {
			t.Fatalf("consult after full window: %v", err)
		}
		clk.ts += 3600
	}
}

func TestConsultEndToEndWindow(t *testing.T) {
	clk := &clock{ts: 0}
	source := newLinearSource(2, 1)
	oracle, pair := newTestOracle(t, source, clk)
	ctx := context.Background()
	for i := 0; i < 24; i++ {
		clk.ts = int64(i) * 3600
		require.NoError(t, oracle.Update(ctx, pair, keeper), "update %d", i)
	}
	clk.ts = 86400 + 1
	span, ok := oracle.WindowSpan(pair)
	require.True(t, ok)
	require.GreaterOrEqual(t, span, uint64(86400-2*3600))
	require.LessOrEqual(t, span, uint64(86400))

	amountIn := uint256.MustFromDecimal("1000000000000000000")
	out, err := oracle.Consult(ctx, tokenA, amountIn, tokenB)
	require.NoError(t, err)
	require.Equal(t, "2000000000000000000", out.Dec())

	back, err := oracle.Consult(ctx, tokenB, amountIn, tokenA)
	require.NoError(t, err)
	require.Equal(t, "500000000000000000", back.Dec())
}

func TestConsultStaleWindow(t *testing.T) {
	clk := &clock{ts: 0}
	oracle, pair := newTestOracle(t, newLinearSource(1, 1), clk)
	ctx := context.Background()
	for i := 0; i < 24; i++ {
		clk.ts = int64(i) * 3600
		require.NoError(t, oracle.Update(ctx, pair, keeper))
	}
	// Skip a day of updates: the oldest slot is now more than a window old.
	clk.ts = 2*86400 + 10
	_, err := oracle.Consult(ctx, tokenA, uint256.NewInt(1), tokenB)
	require.ErrorIs(t, err, ErrMissingHistoricalObservation)
}

func TestConsultUnexpectedTimeElapsed(t *testing.T) {
	clk := &clock{ts: 0}
	oracle, pair := newTestOracle(t, newLinearSource(1, 1), clk)
	// Slot 1 holds an observation from epoch 25 while the clock reads epoch 24:
	// a regressed clock, which periodic updating can never produce.
	require.NoError(t, oracle.Restore(pair, 1, Observation{Timestamp: 25 * 3600}))
	clk.ts = 24*3600 + 10
	_, err := oracle.Consult(context.Background(), tokenA, uint256.NewInt(1), tokenB)
	require.ErrorIs(t, err, ErrUnexpectedTimeElapsed)
}

func TestUpdatePaysIncentiveToCaller(t *testing.T) {
	clk := &clock{ts: 1_700_000_000}
	resolver := NewV2Resolver(factory, common.Hash{})
	pair, _ := resolver.PairFor(tokenA, tokenB)
	token := newMemoryToken(treasury, 10_000)
	recorder := &events.Recorder{}
	cfg := Config{
		WindowSize:              86400,
		Granularity:             24,
		PercentIncentivePerCall: uint256.MustFromDecimal("10000000000000000"),
		IncentivizedPair:        pair,
		Treasury:                treasury,
	}
	oracle, err := New(cfg, newLinearSource(1, 1), resolver, WithClock(clk.now), WithIncentiveToken(token), WithEmitter(recorder))
	require.NoError(t, err)

	preview, err := oracle.UpdateIncentiveAmount(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint64(100), preview.Uint64())

	require.NoError(t, oracle.Update(context.Background(), pair, keeper))
	require.Equal(t, uint64(100), token.balances[keeper].Uint64())
	require.Equal(t, uint64(9_900), token.balances[treasury].Uint64())

	clk.ts += 3601
	require.NoError(t, oracle.Update(context.Background(), pair, keeper))
	require.Equal(t, uint64(199), token.balances[keeper].Uint64(), "second payout uses the reduced balance")

	emitted := recorder.Events()
	require.Len(t, emitted, 4)
	require.Equal(t, events.TypeObservationRecorded, emitted[0].EventType())
	require.Equal(t, events.TypeIncentivePaid, emitted[1].EventType())

	other, err := resolver.PairFor(tokenA, common.HexToAddress("0x3000000000000000000000000000000000000003"))
	require.NoError(t, err)
	require.NoError(t, oracle.Update(context.Background(), other, keeper))
	require.Equal(t, uint64(199), token.balances[keeper].Uint64(), "non-incentivized pair pays nothing")
}

func TestIncentiveTransferFailureKeepsObservation(t *testing.T) {
	clk := &clock{ts: 1_700_000_000}
	resolver := NewV2Resolver(factory, common.Hash{})
	pair, _ := resolver.PairFor(tokenA, tokenB)
	token := newMemoryToken(treasury, 10_000)
	token.transferErr = fmt.Errorf("insufficient allowance")
	cfg := Config{
		WindowSize:              86400,
		Granularity:             24,
		PercentIncentivePerCall: uint256.MustFromDecimal("10000000000000000"),
		IncentivizedPair:        pair,
		Treasury:                treasury,
	}
	oracle, err := New(cfg, newLinearSource(1, 1), resolver, WithClock(clk.now), WithIncentiveToken(token))
	require.NoError(t, err)
	err = oracle.Update(context.Background(), pair, keeper)
	require.ErrorIs(t, err, ErrIncentiveTransfer)

	idx := cfg.ObservationIndexOf(uint64(clk.ts))
	require.Equal(t, uint64(clk.ts), oracle.Observations(pair)[idx].Timestamp)
	require.ErrorIs(t, oracle.Update(context.Background(), pair, keeper), ErrAlreadyUpdatedThisPeriod)
}

func TestUpdateCommitsNothingOnFailure(t *testing.T) {
	clk := &clock{ts: 1_700_000_000}
	source := newLinearSource(1, 1)
	oracle, pair := newTestOracle(t, source, clk, WithJournal(failingJournal{}))
	require.Error(t, oracle.Update(context.Background(), pair, keeper))
	idx := oracle.Config().ObservationIndexOf(uint64(clk.ts))
	require.Zero(t, oracle.Observations(pair)[idx].Timestamp)

	source.err = fmt.Errorf("node unavailable")
	plain, plainPair := newTestOracle(t, source, clk)
	require.Error(t, plain.Update(context.Background(), plainPair, keeper))
	require.Zero(t, plain.Observations(plainPair)[idx].Timestamp)
	source.err = nil
	require.NoError(t, plain.Update(context.Background(), plainPair, keeper))
}

func TestRestoreRejectsMismatchedSlot(t *testing.T) {
	clk := &clock{ts: 0}
	oracle, pair := newTestOracle(t, newLinearSource(1, 1), clk)
	err := oracle.Restore(pair, 3, Observation{Timestamp: 3600})
	require.Error(t, err)
	require.NoError(t, oracle.Restore(pair, 1, Observation{Timestamp: 3600}))
	require.Equal(t, uint64(3600), oracle.Observations(pair)[1].Timestamp)
}
