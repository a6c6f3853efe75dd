package treasury

import (
	"context"
	"fmt"
	"log"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"slidingoracle/services/twapd/storage"
)

// Store captures the persistence operations the ledger requires.
type Store interface {
	Balance(ctx context.Context, token, holder common.Address) (*uint256.Int, error)
	Credit(ctx context.Context, token, holder common.Address, amount *uint256.Int) error
	TransferPayout(ctx context.Context, payout storage.Payout) (string, error)
}

// Ledger is the incentive token held by the treasury. Transfers always debit
// the treasury and are journaled as payouts of the incentivized pair.
type Ledger struct {
	store    Store
	token    common.Address
	treasury common.Address
	pair     common.Address
	logger   *log.Logger
}

// New constructs a ledger for token paying out of treasury for updates of pair.
func New(store Store, token, treasury, pair common.Address) (*Ledger, error) {
	if store == nil {
		return nil, fmt.Errorf("treasury: store required")
	}
	if treasury == (common.Address{}) {
		return nil, fmt.Errorf("treasury: treasury address required")
	}
	return &Ledger{store: store, token: token, treasury: treasury, pair: pair, logger: log.Default()}, nil
}

// Treasury returns the paying account.
func (l *Ledger) Treasury() common.Address {
	return l.treasury
}

// BalanceOf reports the ledger balance of owner.
func (l *Ledger) BalanceOf(ctx context.Context, owner common.Address) (*uint256.Int, error) {
	return l.store.Balance(ctx, l.token, owner)
}

// Transfer moves amount from the treasury to to.
func (l *Ledger) Transfer(ctx context.Context, to common.Address, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return nil
	}
	id, err := l.store.TransferPayout(ctx, storage.Payout{
		Token:     l.token,
		Pair:      l.pair,
		From:      l.treasury,
		Recipient: to,
		Amount:    amount,
	})
	if err != nil {
		return err
	}
	l.logger.Printf("treasury: paid %s to %s (payout %s)", amount.Dec(), to.Hex(), id)
	return nil
}

// Fund credits the treasury with amount.
func (l *Ledger) Fund(ctx context.Context, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return nil
	}
	return l.store.Credit(ctx, l.token, l.treasury, amount)
}

// SeedIfEmpty funds the treasury only when it holds nothing yet, so restarts
// do not mint the initial balance twice.
func (l *Ledger) SeedIfEmpty(ctx context.Context, amount *uint256.Int) (bool, error) {
	balance, err := l.BalanceOf(ctx, l.treasury)
	if err != nil {
		return false, err
	}
	if !balance.IsZero() || amount == nil || amount.IsZero() {
		return false, nil
	}
	if err := l.Fund(ctx, amount); err != nil {
		return false, err
	}
	return true, nil
}
