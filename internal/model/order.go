package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Order statuses. An order transitions exactly once from created to one of
// the terminal states.
const (
	OrderCreated = "created"
	OrderPaid    = "paid"
	OrderFailed  = "failed"
)

type Order struct {
	OrderID          string          `json:"order_id"`
	UserID           string          `json:"user_id"`
	PackID           string          `json:"pack_id"`
	Tokens           int64           `json:"tokens"`
	Price            decimal.Decimal `json:"price"`
	ProviderChargeID string          `json:"provider_charge_id"`
	Status           string          `json:"status"`
	CreatedAt        time.Time       `json:"created_at"`
}

func (o *Order) Terminal() bool {
	return o.Status == OrderPaid || o.Status == OrderFailed
}
