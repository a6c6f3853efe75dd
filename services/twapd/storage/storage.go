package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	_ "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/holiman/uint256"

	"slidingoracle/native/twap"
)

// Storage wraps the twapd persistence layer.
type Storage struct {
	db *sql.DB
}

var (
	// ErrPathRequired is returned when the backing store path is missing.
	ErrPathRequired = errors.New("twapd storage path must be configured")
	// ErrInsufficientBalance is returned when a debit exceeds the holder's balance.
	ErrInsufficientBalance = errors.New("twapd storage: insufficient balance")
)

// Open initialises the backing store using a sqlite-compatible DSN.
func Open(dsn string) (*Storage, error) {
	trimmed := strings.TrimSpace(dsn)
	if trimmed == "" {
		return nil, ErrPathRequired
	}
	db, err := sql.Open("sqlite", trimmed)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Storage{db: db}, nil
}

// Close releases database resources.
func (s *Storage) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Ping verifies the database is reachable.
func (s *Storage) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("storage not configured")
	}
	return s.db.PingContext(ctx)
}

// RecordObservation upserts the observation held in a pair's ring slot. It
// satisfies twap.Journal.
func (s *Storage) RecordObservation(ctx context.Context, pair common.Address, index uint64, obs twap.Observation) error {
	if s == nil {
		return fmt.Errorf("storage not configured")
	}
	obs = obs.Clone()
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO twap_observations(pair, slot, observed_at, cumulative_forward, cumulative_reverse, recorded_at)
        VALUES(?, ?, ?, ?, ?, ?)
        ON CONFLICT(pair, slot) DO UPDATE SET
            observed_at=excluded.observed_at,
            cumulative_forward=excluded.cumulative_forward,
            cumulative_reverse=excluded.cumulative_reverse,
            recorded_at=excluded.recorded_at
    `, addressKey(pair), int64(index), int64(obs.Timestamp), obs.CumulativeForward.Dec(), obs.CumulativeReverse.Dec(), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("upsert observation: %w", err)
	}
	return nil
}

// LoadObservations returns every persisted slot ordered by pair and slot.
func (s *Storage) LoadObservations(ctx context.Context) ([]twap.SlotRecord, error) {
	if s == nil {
		return nil, fmt.Errorf("storage not configured")
	}
	rows, err := s.db.QueryContext(ctx, `
        SELECT pair, slot, observed_at, cumulative_forward, cumulative_reverse
        FROM twap_observations
        ORDER BY pair ASC, slot ASC
    `)
	if err != nil {
		return nil, fmt.Errorf("query observations: %w", err)
	}
	defer rows.Close()
	stored := make([]twap.SlotRecord, 0)
	for rows.Next() {
		var (
			pair             string
			slot, observedAt int64
			forward, reverse string
		)
		if err := rows.Scan(&pair, &slot, &observedAt, &forward, &reverse); err != nil {
			return nil, fmt.Errorf("scan observation: %w", err)
		}
		fwd, err := uint256.FromDecimal(forward)
		if err != nil {
			return nil, fmt.Errorf("decode cumulative_forward for %s: %w", pair, err)
		}
		rev, err := uint256.FromDecimal(reverse)
		if err != nil {
			return nil, fmt.Errorf("decode cumulative_reverse for %s: %w", pair, err)
		}
		stored = append(stored, twap.SlotRecord{
			Pair: common.HexToAddress(pair),
			Slot: uint64(slot),
			Observation: twap.Observation{
				Timestamp:         uint64(observedAt),
				CumulativeForward: fwd,
				CumulativeReverse: rev,
			},
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate observations: %w", err)
	}
	return stored, nil
}

// Balance returns the holder's balance of token. Unknown holders hold zero.
func (s *Storage) Balance(ctx context.Context, token, holder common.Address) (*uint256.Int, error) {
	if s == nil {
		return nil, fmt.Errorf("storage not configured")
	}
	return readBalance(ctx, s.db, token, holder)
}

// Credit adds amount to the holder's balance of token.
func (s *Storage) Credit(ctx context.Context, token, holder common.Address, amount *uint256.Int) error {
	if s == nil {
		return fmt.Errorf("storage not configured")
	}
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()
	if err := adjustBalance(ctx, tx, token, holder, amount, true); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit credit: %w", err)
	}
	return nil
}

// Payout describes a transfer of update incentive from the treasury.
type Payout struct {
	ID        string
	Token     common.Address
	Pair      common.Address
	From      common.Address
	Recipient common.Address
	Amount    *uint256.Int
	PaidAt    time.Time
}

// TransferPayout debits from, credits to and logs the payout in one
// transaction. The generated payout identifier is returned.
func (s *Storage) TransferPayout(ctx context.Context, payout Payout) (string, error) {
	if s == nil {
		return "", fmt.Errorf("storage not configured")
	}
	if payout.Amount == nil {
		return "", fmt.Errorf("payout amount required")
	}
	id := payout.ID
	if id == "" {
		id = uuid.NewString()
	}
	paidAt := payout.PaidAt
	if paidAt.IsZero() {
		paidAt = time.Now()
	}
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return "", fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()
	if err := adjustBalance(ctx, tx, payout.Token, payout.From, payout.Amount, false); err != nil {
		return "", err
	}
	if err := adjustBalance(ctx, tx, payout.Token, payout.Recipient, payout.Amount, true); err != nil {
		return "", err
	}
	if _, err := tx.ExecContext(ctx, `
        INSERT INTO incentive_payouts(id, token, pair, sender, recipient, amount, paid_at)
        VALUES(?, ?, ?, ?, ?, ?, ?)
    `, id, addressKey(payout.Token), addressKey(payout.Pair), addressKey(payout.From), addressKey(payout.Recipient), payout.Amount.Dec(), paidAt.UTC()); err != nil {
		return "", fmt.Errorf("insert payout: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit payout: %w", err)
	}
	return id, nil
}

// Payouts lists recorded incentive payouts to recipient, newest first.
func (s *Storage) Payouts(ctx context.Context, recipient common.Address) ([]Payout, error) {
	if s == nil {
		return nil, fmt.Errorf("storage not configured")
	}
	rows, err := s.db.QueryContext(ctx, `
        SELECT id, token, pair, sender, amount, paid_at
        FROM incentive_payouts
        WHERE recipient = ?
        ORDER BY paid_at DESC, id ASC
    `, addressKey(recipient))
	if err != nil {
		return nil, fmt.Errorf("query payouts: %w", err)
	}
	defer rows.Close()
	payouts := make([]Payout, 0)
	for rows.Next() {
		var (
			p                         Payout
			token, pair, from, amount string
		)
		if err := rows.Scan(&p.ID, &token, &pair, &from, &amount, &p.PaidAt); err != nil {
			return nil, fmt.Errorf("scan payout: %w", err)
		}
		value, err := uint256.FromDecimal(amount)
		if err != nil {
			return nil, fmt.Errorf("decode payout %s: %w", p.ID, err)
		}
		p.Token = common.HexToAddress(token)
		p.Pair = common.HexToAddress(pair)
		p.From = common.HexToAddress(from)
		p.Recipient = recipient
		p.Amount = value
		payouts = append(payouts, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate payouts: %w", err)
	}
	return payouts, nil
}

// FeeSchedule is a fee configuration pushed to the term-based config service.
type FeeSchedule struct {
	ID       string
	Term     uint64
	Draft    *uint256.Int
	Settle   *uint256.Int
	Appeal   *uint256.Int
	Status   string
	PushedAt time.Time
}

// RecordFeeSchedule logs a schedule push attempt and returns its identifier.
func (s *Storage) RecordFeeSchedule(ctx context.Context, schedule FeeSchedule) (string, error) {
	if s == nil {
		return "", fmt.Errorf("storage not configured")
	}
	if schedule.Draft == nil || schedule.Settle == nil || schedule.Appeal == nil {
		return "", fmt.Errorf("fee schedule incomplete")
	}
	id := schedule.ID
	if id == "" {
		id = uuid.NewString()
	}
	pushed := schedule.PushedAt
	if pushed.IsZero() {
		pushed = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO fee_schedules(id, term, draft_fee, settle_fee, appeal_fee, status, pushed_at)
        VALUES(?, ?, ?, ?, ?, ?, ?)
    `, id, int64(schedule.Term), schedule.Draft.Dec(), schedule.Settle.Dec(), schedule.Appeal.Dec(), strings.TrimSpace(schedule.Status), pushed.UTC())
	if err != nil {
		return "", fmt.Errorf("insert fee schedule: %w", err)
	}
	return id, nil
}

// LatestFeeSchedule returns the most recent schedule push.
func (s *Storage) LatestFeeSchedule(ctx context.Context) (FeeSchedule, error) {
	result := FeeSchedule{}
	if s == nil {
		return result, fmt.Errorf("storage not configured")
	}
	row := s.db.QueryRowContext(ctx, `
        SELECT id, term, draft_fee, settle_fee, appeal_fee, status, pushed_at
        FROM fee_schedules
        ORDER BY pushed_at DESC, rowid DESC
        LIMIT 1
    `)
	var (
		term                  int64
		draft, settle, appeal string
	)
	if err := row.Scan(&result.ID, &term, &draft, &settle, &appeal, &result.Status, &result.PushedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return result, fmt.Errorf("fee schedule not found")
		}
		return result, fmt.Errorf("query fee schedule: %w", err)
	}
	result.Term = uint64(term)
	var err error
	if result.Draft, err = uint256.FromDecimal(draft); err != nil {
		return result, fmt.Errorf("decode draft fee: %w", err)
	}
	if result.Settle, err = uint256.FromDecimal(settle); err != nil {
		return result, fmt.Errorf("decode settle fee: %w", err)
	}
	if result.Appeal, err = uint256.FromDecimal(appeal); err != nil {
		return result, fmt.Errorf("decode appeal fee: %w", err)
	}
	return result, nil
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func readBalance(ctx context.Context, q queryer, token, holder common.Address) (*uint256.Int, error) {
	row := q.QueryRowContext(ctx, `
        SELECT balance
        FROM treasury_balances
        WHERE token = ? AND holder = ?
    `, addressKey(token), addressKey(holder))
	var stored string
	if err := row.Scan(&stored); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return new(uint256.Int), nil
		}
		return nil, fmt.Errorf("query balance: %w", err)
	}
	balance, err := uint256.FromDecimal(stored)
	if err != nil {
		return nil, fmt.Errorf("decode balance: %w", err)
	}
	return balance, nil
}

func adjustBalance(ctx context.Context, tx *sql.Tx, token, holder common.Address, amount *uint256.Int, credit bool) error {
	if amount == nil {
		return fmt.Errorf("amount required")
	}
	current, err := readBalance(ctx, tx, token, holder)
	if err != nil {
		return err
	}
	next := new(uint256.Int)
	if credit {
		var overflow bool
		next, overflow = next.AddOverflow(current, amount)
		if overflow {
			return fmt.Errorf("credit %s: balance overflow", holder.Hex())
		}
	} else {
		if current.Lt(amount) {
			return fmt.Errorf("%w: %s holds %s, needs %s", ErrInsufficientBalance, holder.Hex(), current.Dec(), amount.Dec())
		}
		next.Sub(current, amount)
	}
	if _, err := tx.ExecContext(ctx, `
        INSERT INTO treasury_balances(token, holder, balance, updated_at)
        VALUES(?, ?, ?, ?)
        ON CONFLICT(token, holder) DO UPDATE SET
            balance=excluded.balance,
            updated_at=excluded.updated_at
    `, addressKey(token), addressKey(holder), next.Dec(), time.Now().UTC()); err != nil {
		return fmt.Errorf("update balance: %w", err)
	}
	return nil
}

const schema = `
CREATE TABLE IF NOT EXISTS twap_observations (
    pair TEXT NOT NULL,
    slot INTEGER NOT NULL,
    observed_at INTEGER NOT NULL,
    cumulative_forward TEXT NOT NULL,
    cumulative_reverse TEXT NOT NULL,
    recorded_at TIMESTAMP NOT NULL,
    PRIMARY KEY (pair, slot)
);

CREATE TABLE IF NOT EXISTS treasury_balances (
    token TEXT NOT NULL,
    holder TEXT NOT NULL,
    balance TEXT NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (token, holder)
);

CREATE TABLE IF NOT EXISTS incentive_payouts (
    id TEXT PRIMARY KEY,
    token TEXT NOT NULL,
    pair TEXT NOT NULL,
    sender TEXT NOT NULL,
    recipient TEXT NOT NULL,
    amount TEXT NOT NULL,
    paid_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_incentive_payouts_recipient ON incentive_payouts(recipient, paid_at);

CREATE TABLE IF NOT EXISTS fee_schedules (
    id TEXT PRIMARY KEY,
    term INTEGER NOT NULL,
    draft_fee TEXT NOT NULL,
    settle_fee TEXT NOT NULL,
    appeal_fee TEXT NOT NULL,
    status TEXT NOT NULL,
    pushed_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_fee_schedules_term ON fee_schedules(term);
`

func addressKey(addr common.Address) string {
	return strings.ToLower(addr.Hex())
}
