package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// PaymentRecord statuses mirror the order lifecycle but the rows are never
// deleted: they are the user-visible purchase history.
const (
	PaymentPending   = "pending"
	PaymentCompleted = "completed"
	PaymentFailed    = "failed"
)

type PaymentRecord struct {
	ID               int64           `json:"id"`
	UserID           string          `json:"user_id"`
	Amount           decimal.Decimal `json:"amount"`
	TokensAdded      int64           `json:"tokens_added"`
	ProviderChargeID string          `json:"provider_charge_id"`
	Status           string          `json:"status"`
	Description      string          `json:"description"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}
