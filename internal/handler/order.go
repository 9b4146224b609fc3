package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"tokenpay/internal/catalog"
	"tokenpay/internal/mw"
	"tokenpay/internal/service"
	"tokenpay/internal/worker"
)

func ListPacksHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(catalog.All()); err != nil {
			http.Error(w, "encode error", http.StatusInternalServerError)
		}
	}
}

type createOrderRequest struct {
	PackID string `json:"pack_id"`
}

func CreateOrderHandler(orderSvc *service.OrderService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		userID := r.Context().Value(mw.UserCtxKey).(string)

		var req createOrderRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		if req.PackID == "" {
			http.Error(w, "pack_id required", http.StatusBadRequest)
			return
		}

		order, err := orderSvc.Create(r.Context(), userID, req.PackID)
		if err != nil {
			switch {
			case errors.Is(err, catalog.ErrPackNotFound):
				http.Error(w, "unknown pack", http.StatusUnprocessableEntity)
			case errors.Is(err, service.ErrProviderUnavailable):
				slog.Error("provider unavailable", "user_id", userID, "error", err)
				http.Error(w, "payment provider unavailable, try again later", http.StatusBadGateway)
			default:
				slog.Error("order create failed", "user_id", userID, "error", err)
				http.Error(w, "internal error", http.StatusInternalServerError)
			}
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		if err := json.NewEncoder(w).Encode(order); err != nil {
			http.Error(w, "encode error", http.StatusInternalServerError)
		}
	}
}

func GetOrderHandler(orderSvc *service.OrderService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		userID := r.Context().Value(mw.UserCtxKey).(string)

		orderID := chi.URLParam(r, "orderID")
		if _, err := uuid.Parse(orderID); err != nil {
			http.Error(w, "invalid order id", http.StatusBadRequest)
			return
		}

		order, err := orderSvc.GetByID(r.Context(), orderID)
		if err != nil {
			if errors.Is(err, service.ErrOrderNotFound) {
				http.Error(w, "order not found", http.StatusNotFound)
				return
			}
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}

		if order.UserID != userID {
			http.Error(w, "order not found", http.StatusNotFound)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(order); err != nil {
			http.Error(w, "encode error", http.StatusInternalServerError)
		}
	}
}

// CheckOrderHandler is the user-triggered "check payment now" path. It never
// blocks past the provider timeout; an unreachable provider reads as a
// still-pending charge.
func CheckOrderHandler(orderSvc *service.OrderService, rec *worker.Reconciler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		userID := r.Context().Value(mw.UserCtxKey).(string)

		orderID := chi.URLParam(r, "orderID")
		if _, err := uuid.Parse(orderID); err != nil {
			http.Error(w, "invalid order id", http.StatusBadRequest)
			return
		}

		order, err := orderSvc.GetByID(r.Context(), orderID)
		if err != nil {
			if errors.Is(err, service.ErrOrderNotFound) {
				http.Error(w, "order not found", http.StatusNotFound)
				return
			}
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		if order.UserID != userID {
			http.Error(w, "order not found", http.StatusNotFound)
			return
		}

		result, err := rec.CheckOne(r.Context(), orderID)
		if err != nil {
			slog.Error("payment check failed", "order_id", orderID, "error", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(result); err != nil {
			http.Error(w, "encode error", http.StatusInternalServerError)
		}
	}
}
