package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type Account struct {
	UserID       string          `json:"user_id"`
	Tokens       int64           `json:"tokens"`
	TotalSpent   decimal.Decimal `json:"total_spent"`
	RegisteredAt time.Time       `json:"registered_at"`
}
