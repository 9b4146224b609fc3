package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"tokenpay/internal/metrics"
	"tokenpay/internal/model"
	"tokenpay/internal/notify"
)

// Outcome of an idempotent settlement transition.
type Outcome string

const (
	OutcomeSettled        Outcome = "settled"
	OutcomeFailed         Outcome = "failed"
	OutcomeAlreadySettled Outcome = "already_settled"
	OutcomeNotFound       Outcome = "not_found"
)

// SettlementService is the single code path that turns a succeeded gateway
// charge into a credited balance. Both the synchronous check and the
// periodic sweep converge here; the guarded SELECT inside one transaction is
// the sole protection against double-crediting, so there must never be a
// second implementation of this transition.
type SettlementService struct {
	db       *sql.DB
	notifier notify.Notifier
}

func NewSettlementService(db *sql.DB, notifier notify.Notifier) *SettlementService {
	return &SettlementService{db: db, notifier: notifier}
}

// Settle credits the order's tokens exactly once. All four effects — account
// credit, total_spent accumulation, order flip, payment-record flip — commit
// in the same transaction. A second call, concurrent or later, finds no row
// behind the status guard and reports OutcomeAlreadySettled.
func (s *SettlementService) Settle(ctx context.Context, chargeID, orderID string) (Outcome, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var userID string
	var tokens int64
	var price decimal.Decimal
	err = tx.QueryRowContext(ctx,
		`SELECT user_id, tokens, price FROM orders
		 WHERE order_id = $1 AND status != $2
		 FOR UPDATE`,
		orderID, model.OrderPaid,
	).Scan(&userID, &tokens, &price)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			outcome, err := s.missingOutcome(ctx, tx, orderID)
			if err != nil {
				return "", err
			}
			metrics.RecordSettlement(string(outcome))
			return outcome, nil
		}
		return "", fmt.Errorf("select order: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE accounts SET tokens = tokens + $1, total_spent = total_spent + $2 WHERE user_id = $3`,
		tokens, price, userID,
	)
	if err != nil {
		return "", fmt.Errorf("credit account: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE orders SET status = $1 WHERE order_id = $2`,
		model.OrderPaid, orderID,
	)
	if err != nil {
		return "", fmt.Errorf("mark order paid: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE payments SET status = $1, updated_at = NOW() WHERE provider_charge_id = $2 AND user_id = $3`,
		model.PaymentCompleted, chargeID, userID,
	)
	if err != nil {
		return "", fmt.Errorf("mark payment completed: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return "", fmt.Errorf("commit tx: %w", err)
	}

	metrics.RecordSettlement(string(OutcomeSettled))
	slog.Info("order settled", "order_id", orderID, "user_id", userID, "tokens", tokens)

	s.notifySettled(ctx, userID, tokens)

	return OutcomeSettled, nil
}

// MarkFailed records a canceled or failed charge. Same guarded-transition
// shape as Settle but without the credit; a paid order can never be flipped
// to failed.
func (s *SettlementService) MarkFailed(ctx context.Context, chargeID, orderID string) (Outcome, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var userID string
	err = tx.QueryRowContext(ctx,
		`UPDATE orders SET status = $1
		 WHERE order_id = $2 AND status NOT IN ($1, $3)
		 RETURNING user_id`,
		model.OrderFailed, orderID, model.OrderPaid,
	).Scan(&userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			outcome, err := s.missingOutcome(ctx, tx, orderID)
			if err != nil {
				return "", err
			}
			return outcome, nil
		}
		return "", fmt.Errorf("mark order failed: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE payments SET status = $1, updated_at = NOW() WHERE provider_charge_id = $2 AND user_id = $3`,
		model.PaymentFailed, chargeID, userID,
	)
	if err != nil {
		return "", fmt.Errorf("mark payment failed: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return "", fmt.Errorf("commit tx: %w", err)
	}

	metrics.RecordSettlement(string(OutcomeFailed))
	slog.Info("order marked failed", "order_id", orderID, "user_id", userID)

	return OutcomeFailed, nil
}

// missingOutcome distinguishes "guard excluded the row" from "no such order".
func (s *SettlementService) missingOutcome(ctx context.Context, tx *sql.Tx, orderID string) (Outcome, error) {
	var exists bool
	err := tx.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM orders WHERE order_id = $1)`, orderID,
	).Scan(&exists)
	if err != nil {
		return "", fmt.Errorf("order existence check: %w", err)
	}
	if exists {
		return OutcomeAlreadySettled, nil
	}
	return OutcomeNotFound, nil
}

// notifySettled runs after commit, outside any transaction. Failure is
// logged and swallowed: the settlement already happened.
func (s *SettlementService) notifySettled(ctx context.Context, userID string, tokens int64) {
	var balance int64
	err := s.db.QueryRowContext(ctx,
		`SELECT tokens FROM accounts WHERE user_id = $1`, userID,
	).Scan(&balance)
	if err != nil {
		slog.Error("failed to read balance for notification", "user_id", userID, "error", err)
		return
	}

	text := fmt.Sprintf("<b>Tokens credited!</b>\nReceived: %d tokens\nYour balance: %d tokens", tokens, balance)
	if err := s.notifier.Send(ctx, userID, text); err != nil {
		slog.Error("failed to notify user", "user_id", userID, "error", err)
	}
}
