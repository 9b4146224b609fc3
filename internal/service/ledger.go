package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"tokenpay/internal/metrics"
	"tokenpay/internal/model"
)

var (
	ErrAccountNotFound   = errors.New("account not found")
	ErrInsufficientFunds = errors.New("insufficient funds")
)

// DefaultTokens is the welcome balance granted on first interaction.
const DefaultTokens = 100

const (
	refundAttempts = 5
	refundBackoff  = 200 * time.Millisecond
)

// LedgerService owns every mutation of an account's token balance. All
// multi-step mutations run as single atomic statements or transactions
// against the store; there are no in-process locks.
type LedgerService struct {
	db *sql.DB
}

func NewLedgerService(db *sql.DB) *LedgerService {
	return &LedgerService{db: db}
}

// EnsureAccount creates the account with the welcome balance if it does not
// exist yet. Safe to call on every interaction.
func (s *LedgerService) EnsureAccount(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO accounts (user_id, tokens) VALUES ($1, $2) ON CONFLICT (user_id) DO NOTHING`,
		userID, DefaultTokens,
	)
	if err != nil {
		return fmt.Errorf("ensure account: %w", err)
	}
	return nil
}

func (s *LedgerService) GetBalance(ctx context.Context, userID string) (*model.Account, error) {
	var acc model.Account
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id, tokens, total_spent, registered_at FROM accounts WHERE user_id = $1`,
		userID,
	).Scan(&acc.UserID, &acc.Tokens, &acc.TotalSpent, &acc.RegisteredAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("get balance: %w", err)
	}
	return &acc, nil
}

// Debit atomically withdraws amount tokens. The conditional UPDATE is the
// only balance check: the balance can never go negative, even under
// concurrent debits from independent handlers.
func (s *LedgerService) Debit(ctx context.Context, userID string, amount int64) (int64, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("debit amount must be positive, got %d", amount)
	}

	var remaining int64
	err := s.db.QueryRowContext(ctx,
		`UPDATE accounts SET tokens = tokens - $1 WHERE user_id = $2 AND tokens >= $1 RETURNING tokens`,
		amount, userID,
	).Scan(&remaining)
	if err == nil {
		metrics.RecordDebit("ok")
		return remaining, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("debit: %w", err)
	}

	// No row matched: either the account is missing or the balance is short.
	var exists bool
	err = s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM accounts WHERE user_id = $1)`, userID,
	).Scan(&exists)
	if err != nil {
		return 0, fmt.Errorf("debit existence check: %w", err)
	}
	if !exists {
		return 0, ErrAccountNotFound
	}
	metrics.RecordDebit("insufficient")
	return 0, ErrInsufficientFunds
}

// Credit adds purchased tokens and accumulates the amount paid. Used only by
// the settlement engine.
func (s *LedgerService) Credit(ctx context.Context, userID string, tokens int64, amountSpent decimal.Decimal) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE accounts SET tokens = tokens + $1, total_spent = total_spent + $2 WHERE user_id = $3`,
		tokens, amountSpent, userID,
	)
	if err != nil {
		return fmt.Errorf("credit: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("credit rows affected: %w", err)
	}
	if n == 0 {
		return ErrAccountNotFound
	}
	return nil
}

// Refund restores tokens after a downstream failure consumed a debit. Unlike
// Credit it does not touch total_spent: nothing was bought.
func (s *LedgerService) Refund(ctx context.Context, userID string, tokens int64) (int64, error) {
	var remaining int64
	err := s.db.QueryRowContext(ctx,
		`UPDATE accounts SET tokens = tokens + $1 WHERE user_id = $2 RETURNING tokens`,
		tokens, userID,
	).Scan(&remaining)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrAccountNotFound
		}
		return 0, fmt.Errorf("refund: %w", err)
	}
	metrics.RecordRefund()
	return remaining, nil
}

// RefundWithRetry is the mandatory compensation path: a debit followed by a
// downstream failure must be paid back. Retries transient store errors;
// if every attempt fails the refund is durably logged for manual
// reconciliation and the error is returned.
func (s *LedgerService) RefundWithRetry(ctx context.Context, userID string, tokens int64) (int64, error) {
	var lastErr error
retry:
	for attempt := 1; attempt <= refundAttempts; attempt++ {
		remaining, err := s.Refund(ctx, userID, tokens)
		if err == nil {
			return remaining, nil
		}
		if errors.Is(err, ErrAccountNotFound) {
			return 0, err
		}
		lastErr = err
		slog.Warn("refund attempt failed", "user_id", userID, "tokens", tokens, "attempt", attempt, "error", err)

		select {
		case <-ctx.Done():
			lastErr = ctx.Err()
			break retry
		case <-time.After(refundBackoff * time.Duration(attempt)):
		}
	}

	metrics.RecordRefundFailure()
	slog.Error("refund not applied, manual reconciliation required",
		"user_id", userID, "tokens", tokens, "error", lastErr)
	return 0, fmt.Errorf("refund %d tokens to %s: %w", tokens, userID, lastErr)
}
