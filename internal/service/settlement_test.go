package service

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
)

type recordingNotifier struct {
	sent []string
	err  error
}

func (n *recordingNotifier) Send(ctx context.Context, userID, text string) error {
	n.sent = append(n.sent, text)
	return n.err
}

func setupSettlementMock(t *testing.T, notifier *recordingNotifier) (*SettlementService, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	svc := NewSettlementService(db, notifier)
	return svc, mock, func() { db.Close() }
}

func expectSettleTx(mock sqlmock.Sqlmock, orderID, chargeID, userID string, tokens int64, price string) {
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT user_id, tokens, price FROM orders`)).
		WithArgs(orderID, "paid").
		WillReturnRows(sqlmock.NewRows([]string{"user_id", "tokens", "price"}).AddRow(userID, tokens, price))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE accounts SET tokens = tokens + $1, total_spent = total_spent + $2 WHERE user_id = $3`)).
		WithArgs(tokens, sqlmock.AnyArg(), userID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE orders SET status = $1 WHERE order_id = $2`)).
		WithArgs("paid", orderID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE payments SET status = $1, updated_at = NOW() WHERE provider_charge_id = $2 AND user_id = $3`)).
		WithArgs("completed", chargeID, userID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
}

// A 1000-token/100-unit pack settles: balance +1000, total_spent +100, order
// paid, payment record completed, all in one transaction, then the user is
// notified.
func TestSettle_CreditsOnce(t *testing.T) {
	notifier := &recordingNotifier{}
	svc, mock, close := setupSettlementMock(t, notifier)
	defer close()

	expectSettleTx(mock, "ord-1", "ch-1", "42", 1000, "100.00")
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT tokens FROM accounts WHERE user_id = $1`)).
		WithArgs("42").
		WillReturnRows(sqlmock.NewRows([]string{"tokens"}).AddRow(1100))

	outcome, err := svc.Settle(context.Background(), "ch-1", "ord-1")
	require.NoError(t, err)
	require.Equal(t, OutcomeSettled, outcome)
	require.Len(t, notifier.sent, 1)
	require.Contains(t, notifier.sent[0], "1000")
	require.Contains(t, notifier.sent[0], "1100")
	require.NoError(t, mock.ExpectationsWereMet())
}

// The second settle finds no row behind the status guard and must not touch
// the balance.
func TestSettle_SecondCallIsAlreadySettled(t *testing.T) {
	svc, mock, close := setupSettlementMock(t, &recordingNotifier{})
	defer close()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT user_id, tokens, price FROM orders`)).
		WithArgs("ord-1", "paid").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT EXISTS (SELECT 1 FROM orders WHERE order_id = $1)`)).
		WithArgs("ord-1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectRollback()

	outcome, err := svc.Settle(context.Background(), "ch-1", "ord-1")
	require.NoError(t, err)
	require.Equal(t, OutcomeAlreadySettled, outcome)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSettle_UnknownOrder(t *testing.T) {
	svc, mock, close := setupSettlementMock(t, &recordingNotifier{})
	defer close()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT user_id, tokens, price FROM orders`)).
		WithArgs("ord-x", "paid").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT EXISTS (SELECT 1 FROM orders WHERE order_id = $1)`)).
		WithArgs("ord-x").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectRollback()

	outcome, err := svc.Settle(context.Background(), "ch-x", "ord-x")
	require.NoError(t, err)
	require.Equal(t, OutcomeNotFound, outcome)
}

// Notification runs after commit; its failure is logged, not propagated, and
// the settlement stands.
func TestSettle_NotifierFailureDoesNotUnsettle(t *testing.T) {
	notifier := &recordingNotifier{err: errors.New("chat transport down")}
	svc, mock, close := setupSettlementMock(t, notifier)
	defer close()

	expectSettleTx(mock, "ord-1", "ch-1", "42", 1000, "100.00")
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT tokens FROM accounts WHERE user_id = $1`)).
		WithArgs("42").
		WillReturnRows(sqlmock.NewRows([]string{"tokens"}).AddRow(1100))

	outcome, err := svc.Settle(context.Background(), "ch-1", "ord-1")
	require.NoError(t, err)
	require.Equal(t, OutcomeSettled, outcome)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSettle_CreditFailureRollsBack(t *testing.T) {
	svc, mock, close := setupSettlementMock(t, &recordingNotifier{})
	defer close()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT user_id, tokens, price FROM orders`)).
		WithArgs("ord-1", "paid").
		WillReturnRows(sqlmock.NewRows([]string{"user_id", "tokens", "price"}).AddRow("42", 1000, "100.00"))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE accounts SET tokens = tokens + $1, total_spent = total_spent + $2 WHERE user_id = $3`)).
		WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	_, err := svc.Settle(context.Background(), "ch-1", "ord-1")
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkFailed_FlipsBothRows(t *testing.T) {
	svc, mock, close := setupSettlementMock(t, &recordingNotifier{})
	defer close()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`UPDATE orders SET status = $1`)).
		WithArgs("failed", "ord-1", "paid").
		WillReturnRows(sqlmock.NewRows([]string{"user_id"}).AddRow("42"))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE payments SET status = $1, updated_at = NOW() WHERE provider_charge_id = $2 AND user_id = $3`)).
		WithArgs("failed", "ch-1", "42").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	outcome, err := svc.MarkFailed(context.Background(), "ch-1", "ord-1")
	require.NoError(t, err)
	require.Equal(t, OutcomeFailed, outcome)
	require.NoError(t, mock.ExpectationsWereMet())
}

// A paid order can never be flipped to failed: the guard excludes it and the
// call reports the terminal state instead.
func TestMarkFailed_PaidOrderIsUntouchable(t *testing.T) {
	svc, mock, close := setupSettlementMock(t, &recordingNotifier{})
	defer close()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`UPDATE orders SET status = $1`)).
		WithArgs("failed", "ord-1", "paid").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT EXISTS (SELECT 1 FROM orders WHERE order_id = $1)`)).
		WithArgs("ord-1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectRollback()

	outcome, err := svc.MarkFailed(context.Background(), "ch-1", "ord-1")
	require.NoError(t, err)
	require.Equal(t, OutcomeAlreadySettled, outcome)
	require.NoError(t, mock.ExpectationsWereMet())
}
