package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/shopspring/decimal"

	"tokenpay/internal/mw"
	"tokenpay/internal/service"
)

type balanceResponse struct {
	Tokens            int64           `json:"tokens"`
	TotalSpent        decimal.Decimal `json:"total_spent"`
	CostPerRequest    int64           `json:"cost_per_request"`
	RequestsAvailable int64           `json:"requests_available"`
}

func GetBalanceHandler(ledgerSvc *service.LedgerService, costPerRequest int64) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		userID := r.Context().Value(mw.UserCtxKey).(string)

		acc, err := ledgerSvc.GetBalance(r.Context(), userID)
		if err != nil {
			if errors.Is(err, service.ErrAccountNotFound) {
				http.Error(w, "account not found", http.StatusNotFound)
				return
			}
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}

		resp := balanceResponse{
			Tokens:            acc.Tokens,
			TotalSpent:        acc.TotalSpent,
			CostPerRequest:    costPerRequest,
			RequestsAvailable: acc.Tokens / costPerRequest,
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			http.Error(w, "encode error", http.StatusInternalServerError)
		}
	}
}

type debitResponse struct {
	Tokens  int64 `json:"tokens"`
	Debited int64 `json:"debited"`
}

type insufficientFundsResponse struct {
	Error    string `json:"error"`
	Tokens   int64  `json:"tokens"`
	Required int64  `json:"required"`
}

// DebitHandler reserves the cost of one assistant request. The gateway calls
// it before invoking the model, and RefundHandler if the model call fails.
func DebitHandler(ledgerSvc *service.LedgerService, costPerRequest int64) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		userID := r.Context().Value(mw.UserCtxKey).(string)

		remaining, err := ledgerSvc.Debit(r.Context(), userID, costPerRequest)
		if err != nil {
			switch {
			case errors.Is(err, service.ErrInsufficientFunds):
				acc, balErr := ledgerSvc.GetBalance(r.Context(), userID)
				var tokens int64
				if balErr == nil {
					tokens = acc.Tokens
				}
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusPaymentRequired)
				_ = json.NewEncoder(w).Encode(insufficientFundsResponse{
					Error:    "insufficient funds",
					Tokens:   tokens,
					Required: costPerRequest,
				})
			case errors.Is(err, service.ErrAccountNotFound):
				http.Error(w, "account not found", http.StatusNotFound)
			default:
				slog.Error("debit failed", "user_id", userID, "error", err)
				http.Error(w, "internal error", http.StatusInternalServerError)
			}
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(debitResponse{Tokens: remaining, Debited: costPerRequest}); err != nil {
			http.Error(w, "encode error", http.StatusInternalServerError)
		}
	}
}

type refundResponse struct {
	Tokens   int64 `json:"tokens"`
	Refunded int64 `json:"refunded"`
}

// RefundHandler compensates a debit whose downstream request failed. The
// ledger retries the refund and durably logs it if the store stays down.
func RefundHandler(ledgerSvc *service.LedgerService, costPerRequest int64) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		userID := r.Context().Value(mw.UserCtxKey).(string)

		remaining, err := ledgerSvc.RefundWithRetry(r.Context(), userID, costPerRequest)
		if err != nil {
			if errors.Is(err, service.ErrAccountNotFound) {
				http.Error(w, "account not found", http.StatusNotFound)
				return
			}
			slog.Error("refund failed", "user_id", userID, "error", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(refundResponse{Tokens: remaining, Refunded: costPerRequest}); err != nil {
			http.Error(w, "encode error", http.StatusInternalServerError)
		}
	}
}
