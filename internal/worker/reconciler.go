package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"tokenpay/internal/metrics"
	"tokenpay/internal/model"
	"tokenpay/internal/provider"
	"tokenpay/internal/service"
)

// The reconciler sees only the slices of the order manager, settlement
// engine and payment gateway it needs.
type orderSource interface {
	GetByID(ctx context.Context, orderID string) (*model.Order, error)
	ListOutstanding(ctx context.Context, freshness time.Duration) ([]model.Order, error)
	ExpireStale(ctx context.Context, freshness time.Duration) (int64, error)
	PurgeStale(ctx context.Context, retention time.Duration) (int64, error)
}

type settler interface {
	Settle(ctx context.Context, chargeID, orderID string) (service.Outcome, error)
	MarkFailed(ctx context.Context, chargeID, orderID string) (service.Outcome, error)
}

type chargeGetter interface {
	GetCharge(ctx context.Context, chargeID string) (*provider.Charge, error)
}

type Config struct {
	Interval     time.Duration // pause between sweep passes
	QueryTimeout time.Duration // per-charge gateway query budget
	Freshness    time.Duration // created orders older than this expire
	Retention    time.Duration // terminal orders older than this are purged
}

func (c *Config) applyDefaults() {
	if c.Interval <= 0 {
		c.Interval = 30 * time.Second
	}
	if c.QueryTimeout <= 0 {
		c.QueryTimeout = 5 * time.Second
	}
	if c.Freshness <= 0 {
		c.Freshness = 24 * time.Hour
	}
	if c.Retention <= 0 {
		c.Retention = 7 * 24 * time.Hour
	}
}

// Reconciler resolves outstanding orders against the payment gateway: a
// periodic sweep plus the synchronous check-now path, both routed through
// the settlement engine's idempotent transitions.
type Reconciler struct {
	orders      orderSource
	settlements settler
	charges     chargeGetter
	cfg         Config
}

func NewReconciler(orders orderSource, settlements settler, charges chargeGetter, cfg Config) *Reconciler {
	cfg.applyDefaults()
	return &Reconciler{orders: orders, settlements: settlements, charges: charges, cfg: cfg}
}

// CheckResult is what the gateway-facing handler reports back to the user.
type CheckResult struct {
	OrderID      string          `json:"order_id"`
	OrderStatus  string          `json:"order_status"`
	ChargeStatus string          `json:"charge_status"`
	Outcome      service.Outcome `json:"outcome"`
}

// CheckOne is the user-triggered synchronous check. It is bounded by the
// per-charge query timeout and degrades to "still pending" instead of
// blocking on an unresponsive gateway. Nothing is mutated while the charge
// is pending.
func (r *Reconciler) CheckOne(ctx context.Context, orderID string) (*CheckResult, error) {
	order, err := r.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}

	if order.Terminal() {
		outcome := service.OutcomeAlreadySettled
		if order.Status == model.OrderFailed {
			outcome = service.OutcomeFailed
		}
		return &CheckResult{
			OrderID:      order.OrderID,
			OrderStatus:  order.Status,
			ChargeStatus: chargeStatusFor(order.Status),
			Outcome:      outcome,
		}, nil
	}

	qctx, cancel := context.WithTimeout(ctx, r.cfg.QueryTimeout)
	defer cancel()

	charge, err := r.charges.GetCharge(qctx, order.ProviderChargeID)
	if err != nil {
		slog.Warn("charge query failed, reporting pending", "order_id", orderID, "error", err)
		return &CheckResult{
			OrderID:      order.OrderID,
			OrderStatus:  order.Status,
			ChargeStatus: provider.StatusPending,
		}, nil
	}

	result := &CheckResult{OrderID: order.OrderID, OrderStatus: order.Status, ChargeStatus: charge.Status}

	switch charge.Status {
	case provider.StatusSucceeded:
		outcome, err := r.settlements.Settle(ctx, order.ProviderChargeID, orderID)
		if err != nil {
			return nil, fmt.Errorf("settle order %s: %w", orderID, err)
		}
		result.Outcome = outcome
		result.OrderStatus = model.OrderPaid
	case provider.StatusCanceled, provider.StatusFailed:
		outcome, err := r.settlements.MarkFailed(ctx, order.ProviderChargeID, orderID)
		if err != nil {
			return nil, fmt.Errorf("mark order %s failed: %w", orderID, err)
		}
		result.Outcome = outcome
		result.OrderStatus = model.OrderFailed
	}

	return result, nil
}

// Run drives periodic sweeps until the context is canceled.
func (r *Reconciler) Run(ctx context.Context) {
	slog.Info("starting payment reconciler", "interval", r.cfg.Interval)
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("payment reconciler stopped")
			return
		case <-ticker.C:
			if err := r.Sweep(ctx); err != nil {
				slog.Error("sweep failed", "error", err)
			}
		}
	}
}

// Sweep reconciles every outstanding order, then expires stale ones and
// purges old terminal ones. A single order's gateway error is logged and
// skipped; it never aborts the pass.
func (r *Reconciler) Sweep(ctx context.Context) error {
	start := time.Now()
	defer func() {
		metrics.SweepDuration.Observe(time.Since(start).Seconds())
	}()

	orders, err := r.orders.ListOutstanding(ctx, r.cfg.Freshness)
	if err != nil {
		return fmt.Errorf("list outstanding orders: %w", err)
	}

	for _, order := range orders {
		if err := r.reconcile(ctx, order); err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}
			metrics.RecordSweepError()
			slog.Error("failed to reconcile order", "order_id", order.OrderID, "error", err)
		}
	}

	expired, err := r.orders.ExpireStale(ctx, r.cfg.Freshness)
	if err != nil {
		slog.Error("failed to expire stale orders", "error", err)
	} else if expired > 0 {
		slog.Info("expired stale orders", "count", expired)
	}

	purged, err := r.orders.PurgeStale(ctx, r.cfg.Retention)
	if err != nil {
		slog.Error("failed to purge stale orders", "error", err)
	} else if purged > 0 {
		slog.Info("purged stale orders", "count", purged)
	}

	return nil
}

func (r *Reconciler) reconcile(ctx context.Context, order model.Order) error {
	qctx, cancel := context.WithTimeout(ctx, r.cfg.QueryTimeout)
	charge, err := r.charges.GetCharge(qctx, order.ProviderChargeID)
	cancel()
	if err != nil {
		return fmt.Errorf("get charge %s: %w", order.ProviderChargeID, err)
	}

	switch charge.Status {
	case provider.StatusSucceeded:
		outcome, err := r.settlements.Settle(ctx, order.ProviderChargeID, order.OrderID)
		if err != nil {
			return fmt.Errorf("settle: %w", err)
		}
		slog.Info("order reconciled", "order_id", order.OrderID, "outcome", outcome)
	case provider.StatusCanceled, provider.StatusFailed:
		outcome, err := r.settlements.MarkFailed(ctx, order.ProviderChargeID, order.OrderID)
		if err != nil {
			return fmt.Errorf("mark failed: %w", err)
		}
		slog.Info("order reconciled", "order_id", order.OrderID, "outcome", outcome)
	}

	return nil
}

func chargeStatusFor(orderStatus string) string {
	if orderStatus == model.OrderPaid {
		return provider.StatusSucceeded
	}
	return provider.StatusFailed
}
