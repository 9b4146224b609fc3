package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"tokenpay/internal/catalog"
	"tokenpay/internal/metrics"
	"tokenpay/internal/model"
	"tokenpay/internal/provider"
)

var (
	ErrOrderNotFound       = errors.New("order not found")
	ErrProviderUnavailable = errors.New("payment provider unavailable")
)

// ChargeCreator is the slice of the payment gateway the order manager needs.
type ChargeCreator interface {
	CreateCharge(ctx context.Context, req provider.CreateChargeRequest) (*provider.Charge, error)
}

type OrderService struct {
	db        *sql.DB
	charges   ChargeCreator
	currency  string
	returnURL string
}

func NewOrderService(db *sql.DB, charges ChargeCreator, currency, returnURL string) *OrderService {
	return &OrderService{db: db, charges: charges, currency: currency, returnURL: returnURL}
}

// CreatedOrder is an order together with the gateway's payment page URL.
type CreatedOrder struct {
	model.Order
	PayURL string `json:"pay_url"`
}

// Create builds a purchase intent: it snapshots the pack, registers a charge
// with the gateway, and persists the order plus its mirrored payment record
// in one transaction. The gateway call happens before the transaction opens,
// so a gateway failure leaves no local rows behind.
func (s *OrderService) Create(ctx context.Context, userID, packID string) (*CreatedOrder, error) {
	pack, err := catalog.Get(packID)
	if err != nil {
		return nil, err
	}

	orderID := uuid.NewString()
	description := fmt.Sprintf("Purchase of %d tokens", pack.Tokens)

	charge, err := s.charges.CreateCharge(ctx, provider.CreateChargeRequest{
		Amount:      pack.Price,
		Currency:    s.currency,
		Description: description,
		ReturnURL:   s.returnURL,
		Metadata: map[string]string{
			"user_id":  userID,
			"order_id": orderID,
			"pack_id":  packID,
			"tokens":   fmt.Sprintf("%d", pack.Tokens),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrProviderUnavailable, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	now := time.Now()
	_, err = tx.ExecContext(ctx,
		`INSERT INTO orders (order_id, user_id, pack_id, tokens, price, provider_charge_id, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		orderID, userID, packID, pack.Tokens, pack.Price, charge.ID, model.OrderCreated, now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert order: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO payments (user_id, amount, tokens_added, provider_charge_id, status, description, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $7)`,
		userID, pack.Price, pack.Tokens, charge.ID, model.PaymentPending, description, now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert payment record: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}

	metrics.RecordOrderCreated(packID)

	return &CreatedOrder{
		Order: model.Order{
			OrderID:          orderID,
			UserID:           userID,
			PackID:           packID,
			Tokens:           pack.Tokens,
			Price:            pack.Price,
			ProviderChargeID: charge.ID,
			Status:           model.OrderCreated,
			CreatedAt:        now,
		},
		PayURL: charge.PayURL,
	}, nil
}

func (s *OrderService) GetByID(ctx context.Context, orderID string) (*model.Order, error) {
	var o model.Order
	err := s.db.QueryRowContext(ctx,
		`SELECT order_id, user_id, pack_id, tokens, price, provider_charge_id, status, created_at
		 FROM orders WHERE order_id = $1`,
		orderID,
	).Scan(&o.OrderID, &o.UserID, &o.PackID, &o.Tokens, &o.Price, &o.ProviderChargeID, &o.Status, &o.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}
	return &o, nil
}

// ListPayments returns the user's payment history, most recent first.
func (s *OrderService) ListPayments(ctx context.Context, userID string, limit int) ([]model.PaymentRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, amount, tokens_added, provider_charge_id, status, description, created_at, updated_at
		 FROM payments WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query payments: %w", err)
	}
	defer rows.Close()

	var records []model.PaymentRecord
	for rows.Next() {
		var p model.PaymentRecord
		if err := rows.Scan(&p.ID, &p.UserID, &p.Amount, &p.TokensAdded, &p.ProviderChargeID,
			&p.Status, &p.Description, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan payment: %w", err)
		}
		records = append(records, p)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration failed: %w", err)
	}

	return records, nil
}

// ListOutstanding returns created-status orders younger than the freshness
// window, oldest first. These are the orders the sweep still reconciles.
func (s *OrderService) ListOutstanding(ctx context.Context, freshness time.Duration) ([]model.Order, error) {
	cutoff := time.Now().Add(-freshness)
	rows, err := s.db.QueryContext(ctx,
		`SELECT order_id, user_id, pack_id, tokens, price, provider_charge_id, status, created_at
		 FROM orders WHERE status = $1 AND created_at > $2 ORDER BY created_at ASC`,
		model.OrderCreated, cutoff,
	)
	if err != nil {
		return nil, fmt.Errorf("query outstanding: %w", err)
	}
	defer rows.Close()

	var orders []model.Order
	for rows.Next() {
		var o model.Order
		if err := rows.Scan(&o.OrderID, &o.UserID, &o.PackID, &o.Tokens, &o.Price,
			&o.ProviderChargeID, &o.Status, &o.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, o)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration failed: %w", err)
	}

	return orders, nil
}

// ExpireStale fails created-status orders that aged past the freshness
// window without the gateway ever confirming them. The payment rows flip
// first, while the orders are still identifiable as stale.
func (s *OrderService) ExpireStale(ctx context.Context, freshness time.Duration) (int64, error) {
	cutoff := time.Now().Add(-freshness)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`UPDATE payments p SET status = $1, updated_at = NOW()
		 FROM orders o
		 WHERE p.provider_charge_id = o.provider_charge_id AND p.user_id = o.user_id
		   AND o.status = $2 AND o.created_at < $3`,
		model.PaymentFailed, model.OrderCreated, cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("expire payment records: %w", err)
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE orders SET status = $1 WHERE status = $2 AND created_at < $3`,
		model.OrderFailed, model.OrderCreated, cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("expire orders: %w", err)
	}
	expired, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("expire rows affected: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit tx: %w", err)
	}
	return expired, nil
}

// PurgeStale deletes terminal orders older than the retention window.
// Payment records stay: they are the user's history.
func (s *OrderService) PurgeStale(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := time.Now().Add(-retention)
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM orders WHERE status IN ($1, $2) AND created_at < $3`,
		model.OrderPaid, model.OrderFailed, cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("purge orders: %w", err)
	}
	purged, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge rows affected: %w", err)
	}
	return purged, nil
}
