package keeper

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"slidingoracle/native/twap"
	"slidingoracle/observability"
)

// Oracle is the subset of the TWAP oracle the keeper drives.
type Oracle interface {
	Update(ctx context.Context, pair, caller common.Address) error
	WindowSpan(pair common.Address) (uint64, bool)
}

// Pair identifies a token pair by its two members.
type Pair struct {
	TokenA common.Address
	TokenB common.Address
}

// Report summarises a single keeper cycle.
type Report struct {
	Updated int
	Skipped int
	Failed  int
}

// Keeper refreshes observations for a fixed set of pairs on an interval.
type Keeper struct {
	logger   *log.Logger
	oracle   Oracle
	caller   common.Address
	pairs    []common.Address
	interval time.Duration
	metrics  *observability.TWAPMetrics
	once     sync.Once
}

// Option configures a Keeper.
type Option func(*Keeper)

// WithLogger installs a custom logger.
func WithLogger(l *log.Logger) Option {
	return func(k *Keeper) {
		k.logger = l
	}
}

// WithMetrics overrides the metrics sink.
func WithMetrics(m *observability.TWAPMetrics) Option {
	return func(k *Keeper) {
		k.metrics = m
	}
}

// New resolves the configured pairs and constructs a keeper.
func New(oracle Oracle, resolver twap.PairResolver, caller common.Address, pairs []Pair, interval time.Duration, opts ...Option) (*Keeper, error) {
	if oracle == nil {
		return nil, fmt.Errorf("oracle required")
	}
	if resolver == nil {
		return nil, fmt.Errorf("pair resolver required")
	}
	if len(pairs) == 0 {
		return nil, fmt.Errorf("at least one pair required")
	}
	if interval <= 0 {
		return nil, fmt.Errorf("interval must be positive")
	}
	resolved := make([]common.Address, 0, len(pairs))
	for _, p := range pairs {
		addr, err := resolver.PairFor(p.TokenA, p.TokenB)
		if err != nil {
			return nil, fmt.Errorf("resolve pair %s/%s: %w", p.TokenA.Hex(), p.TokenB.Hex(), err)
		}
		resolved = append(resolved, addr)
	}
	k := &Keeper{
		logger:   log.Default(),
		oracle:   oracle,
		caller:   caller,
		pairs:    resolved,
		interval: interval,
		metrics:  observability.TWAP(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(k)
		}
	}
	return k, nil
}

// Pairs returns the resolved pair addresses in configuration order.
func (k *Keeper) Pairs() []common.Address {
	return append([]common.Address(nil), k.pairs...)
}

// Run blocks, refreshing every interval until the context is cancelled.
func (k *Keeper) Run(ctx context.Context) error {
	if k == nil {
		return fmt.Errorf("keeper not configured")
	}
	ticker := time.NewTicker(k.interval)
	defer ticker.Stop()
	k.once.Do(func() {
		k.logger.Printf("twapd: keeper started for %d pairs every %s", len(k.pairs), k.interval)
	})
	for {
		if _, err := k.Tick(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			k.logger.Printf("twapd: keeper tick error: %v", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Tick attempts one update per pair. Pairs already updated in the current
// period are skipped. A failed incentive payout still counts as an update
// since the observation was recorded.
func (k *Keeper) Tick(ctx context.Context) (Report, error) {
	var (
		report Report
		errs   []error
	)
	if k == nil {
		return report, fmt.Errorf("keeper not configured")
	}
	for _, pair := range k.pairs {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		start := time.Now()
		err := k.oracle.Update(ctx, pair, k.caller)
		k.metrics.ObserveUpdate(pair, time.Since(start), err)
		switch {
		case err == nil:
			report.Updated++
		case errors.Is(err, twap.ErrAlreadyUpdatedThisPeriod):
			report.Skipped++
		case errors.Is(err, twap.ErrIncentiveTransfer):
			report.Updated++
			k.logger.Printf("twapd: keeper update of %s recorded without payout: %v", pair.Hex(), err)
		default:
			report.Failed++
			errs = append(errs, fmt.Errorf("update %s: %w", pair.Hex(), err))
		}
		span, complete := k.oracle.WindowSpan(pair)
		k.metrics.SetWindowSpan(pair, span, complete)
	}
	return report, errors.Join(errs...)
}
