package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"tokenpay/internal/mw"
	"tokenpay/internal/service"
)

const testJWTSecret = "test-jwt-secret"

func gatewayHash(t *testing.T, key string) string {
	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.MinCost)
	require.NoError(t, err)
	return string(hash)
}

func TestGatewayTokenHandler_MintsTokenAndEnsuresAccount(t *testing.T) {
	svc, mock, close := setupLedger(t)
	defer close()

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO accounts (user_id, tokens) VALUES ($1, $2) ON CONFLICT (user_id) DO NOTHING`)).
		WithArgs("42", int64(service.DefaultTokens)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	h := GatewayTokenHandler(svc, gatewayHash(t, "gateway-key"), testJWTSecret)

	req := httptest.NewRequest(http.MethodPost, "/api/gateway/token", strings.NewReader(`{"user_id": "42"}`))
	req.Header.Set("X-Gateway-Key", "gateway-key")
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp["token"])

	claims := &mw.Claims{}
	token, err := jwt.ParseWithClaims(resp["token"], claims, func(token *jwt.Token) (interface{}, error) {
		return []byte(testJWTSecret), nil
	})
	require.NoError(t, err)
	require.True(t, token.Valid)
	require.Equal(t, "42", claims.UserID)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGatewayTokenHandler_WrongKey(t *testing.T) {
	svc, _, close := setupLedger(t)
	defer close()

	h := GatewayTokenHandler(svc, gatewayHash(t, "gateway-key"), testJWTSecret)

	req := httptest.NewRequest(http.MethodPost, "/api/gateway/token", strings.NewReader(`{"user_id": "42"}`))
	req.Header.Set("X-Gateway-Key", "not-the-key")
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestGatewayTokenHandler_MissingUserID(t *testing.T) {
	svc, _, close := setupLedger(t)
	defer close()

	h := GatewayTokenHandler(svc, gatewayHash(t, "gateway-key"), testJWTSecret)

	req := httptest.NewRequest(http.MethodPost, "/api/gateway/token", strings.NewReader(`{}`))
	req.Header.Set("X-Gateway-Key", "gateway-key")
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}
