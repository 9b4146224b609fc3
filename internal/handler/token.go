package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"tokenpay/internal/mw"
	"tokenpay/internal/service"
)

type tokenRequest struct {
	UserID string `json:"user_id"`
}

// GatewayTokenHandler mints a user-scoped bearer token for the conversational
// gateway. The gateway authenticates with the shared key (stored as a bcrypt
// hash) and names the chat user it is acting for; the account is created with
// the welcome balance on first sight.
func GatewayTokenHandler(ledgerSvc *service.LedgerService, gatewayKeyHash, jwtSecret string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		key := r.Header.Get("X-Gateway-Key")
		if key == "" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		if err := bcrypt.CompareHashAndPassword([]byte(gatewayKeyHash), []byte(key)); err != nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		var req tokenRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		if req.UserID == "" {
			http.Error(w, "user_id required", http.StatusBadRequest)
			return
		}

		if err := ledgerSvc.EnsureAccount(r.Context(), req.UserID); err != nil {
			slog.Error("ensure account failed", "user_id", req.UserID, "error", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}

		now := time.Now()
		token := jwt.NewWithClaims(jwt.SigningMethodHS256, &mw.Claims{
			UserID: req.UserID,
			RegisteredClaims: jwt.RegisteredClaims{
				IssuedAt:  jwt.NewNumericDate(now),
				ExpiresAt: jwt.NewNumericDate(now.Add(24 * time.Hour)),
			},
		})

		tokenString, err := token.SignedString([]byte(jwtSecret))
		if err != nil {
			http.Error(w, "token generation failed", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Authorization", "Bearer "+tokenString)
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(map[string]string{"token": tokenString}); err != nil {
			http.Error(w, "encode error", http.StatusInternalServerError)
		}
	}
}
