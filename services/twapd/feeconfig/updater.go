package feeconfig

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"slidingoracle/services/twapd/storage"
)

// Consulter answers average price queries.
type Consulter interface {
	Consult(ctx context.Context, tokenIn common.Address, amountIn *uint256.Int, tokenOut common.Address) (*uint256.Int, error)
}

// ConfigService is the external term-based configuration service.
type ConfigService interface {
	CurrentTerm(ctx context.Context) (uint64, error)
	ScheduleConfig(ctx context.Context, schedule Schedule) error
}

// Recorder journals schedule pushes.
type Recorder interface {
	RecordFeeSchedule(ctx context.Context, schedule storage.FeeSchedule) (string, error)
}

// Amounts are the fees denominated in the stable token.
type Amounts struct {
	Draft  *uint256.Int
	Settle *uint256.Int
	Appeal *uint256.Int
}

// Schedule is a fee configuration effective from Term.
type Schedule struct {
	Term      uint64
	FeeToken  common.Address
	DraftFee  *uint256.Int
	SettleFee *uint256.Int
	AppealFee *uint256.Int
}

const (
	statusPushed = "pushed"
	statusFailed = "failed"
)

// Updater converts stable-denominated fees into the fee token at the oracle's
// average price and schedules them for the next term.
type Updater struct {
	oracle   Consulter
	service  ConfigService
	recorder Recorder
	logger   *log.Logger
	stable   common.Address
	feeToken common.Address
	amounts  Amounts
}

// Option configures an Updater.
type Option func(*Updater)

// WithRecorder journals every push attempt.
func WithRecorder(r Recorder) Option {
	return func(u *Updater) {
		u.recorder = r
	}
}

// WithLogger installs a custom logger.
func WithLogger(l *log.Logger) Option {
	return func(u *Updater) {
		u.logger = l
	}
}

// New constructs an updater.
func New(oracle Consulter, service ConfigService, stable, feeToken common.Address, amounts Amounts, opts ...Option) (*Updater, error) {
	if oracle == nil {
		return nil, fmt.Errorf("feeconfig: oracle required")
	}
	if service == nil {
		return nil, fmt.Errorf("feeconfig: config service required")
	}
	if amounts.Draft == nil || amounts.Settle == nil || amounts.Appeal == nil {
		return nil, fmt.Errorf("feeconfig: draft, settle and appeal amounts required")
	}
	u := &Updater{
		oracle:   oracle,
		service:  service,
		logger:   log.Default(),
		stable:   stable,
		feeToken: feeToken,
		amounts:  amounts,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(u)
		}
	}
	return u, nil
}

// Refresh converts the configured fees and pushes them for the term after the
// current one. Nothing is pushed unless all three conversions succeed.
func (u *Updater) Refresh(ctx context.Context) (Schedule, error) {
	schedule := Schedule{FeeToken: u.feeToken}
	var err error
	if schedule.DraftFee, err = u.oracle.Consult(ctx, u.stable, u.amounts.Draft, u.feeToken); err != nil {
		return schedule, fmt.Errorf("convert draft fee: %w", err)
	}
	if schedule.SettleFee, err = u.oracle.Consult(ctx, u.stable, u.amounts.Settle, u.feeToken); err != nil {
		return schedule, fmt.Errorf("convert settle fee: %w", err)
	}
	if schedule.AppealFee, err = u.oracle.Consult(ctx, u.stable, u.amounts.Appeal, u.feeToken); err != nil {
		return schedule, fmt.Errorf("convert appeal fee: %w", err)
	}
	term, err := u.service.CurrentTerm(ctx)
	if err != nil {
		return schedule, fmt.Errorf("current term: %w", err)
	}
	schedule.Term = term + 1

	pushErr := u.service.ScheduleConfig(ctx, schedule)
	status := statusPushed
	if pushErr != nil {
		status = statusFailed
	}
	if u.recorder != nil {
		if _, err := u.recorder.RecordFeeSchedule(ctx, storage.FeeSchedule{
			Term:   schedule.Term,
			Draft:  schedule.DraftFee,
			Settle: schedule.SettleFee,
			Appeal: schedule.AppealFee,
			Status: status,
		}); err != nil {
			u.logger.Printf("twapd: record fee schedule: %v", err)
		}
	}
	if pushErr != nil {
		return schedule, fmt.Errorf("schedule config for term %d: %w", schedule.Term, pushErr)
	}
	u.logger.Printf("twapd: scheduled fees for term %d: draft=%s settle=%s appeal=%s", schedule.Term, schedule.DraftFee.Dec(), schedule.SettleFee.Dec(), schedule.AppealFee.Dec())
	return schedule, nil
}

// Run refreshes every interval until the context is cancelled.
func (u *Updater) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("interval must be positive")
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, err := u.Refresh(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			u.logger.Printf("twapd: fee refresh error: %v", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
