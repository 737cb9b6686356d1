package service

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"

	"cardpay/internal/infrastructure/lock"
	"cardpay/internal/model"
	"cardpay/internal/repository/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestLedger(t *testing.T) (*LedgerService, *memory.Journal, *memory.Outbox) {
	t.Helper()
	outbox := memory.NewOutbox()
	journal := memory.NewJournal(outbox)
	return NewLedgerService(journal, lock.NewKeyedMutex(), "account-events", testLogger()), journal, outbox
}

func TestLedger_CreateAccount(t *testing.T) {
	ctx := context.Background()
	ledger, journal, _ := newTestLedger(t)

	acc, err := ledger.CreateAccount(ctx, "acc-1", 1000)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), acc.AvailableBalance)
	assert.Equal(t, int64(1000), acc.PostedBalance)
	assert.Empty(t, acc.Authorizations)

	// 第二次创建返回已有状态，不追加事件
	again, err := ledger.CreateAccount(ctx, "acc-1", 5)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), again.AvailableBalance)

	records, err := journal.Load(ctx, model.EntityTypeAccount, "acc-1")
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestLedger_CreateAccount_EmptyID(t *testing.T) {
	ledger, _, _ := newTestLedger(t)

	_, err := ledger.CreateAccount(context.Background(), "", 100)
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestLedger_GetAccount_NotFound(t *testing.T) {
	ledger, _, _ := newTestLedger(t)

	_, err := ledger.GetAccount(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrAccountNotFound)
}

func TestLedger_Authorize(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name       string
		create     bool
		amount     int64
		wantResult model.AuthResult
		wantStatus model.AuthStatus
		wantAvail  int64
	}{
		{"authorised", true, 100, model.AuthResultAuthorised, model.AuthStatusOK, 900},
		{"exact balance", true, 1000, model.AuthResultAuthorised, model.AuthStatusOK, 0},
		{"insufficient funds", true, 1001, model.AuthResultDeclined, model.AuthStatusInsufficientFunds, 1000},
		{"account not found", false, 100, model.AuthResultDeclined, model.AuthStatusAccountNotFound, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ledger, _, _ := newTestLedger(t)
			if tt.create {
				_, err := ledger.CreateAccount(ctx, "acc-1", 1000)
				require.NoError(t, err)
			}

			resp, err := ledger.Authorize(ctx, "acc-1", "tx-1", tt.amount)
			require.NoError(t, err)
			assert.Equal(t, tt.wantResult, resp.AuthResult)
			assert.Equal(t, tt.wantStatus, resp.AuthStatus)
			if tt.wantResult == model.AuthResultAuthorised {
				assert.NotEmpty(t, resp.AuthCode)
			} else {
				assert.Empty(t, resp.AuthCode)
			}

			if tt.create {
				acc, err := ledger.GetAccount(ctx, "acc-1")
				require.NoError(t, err)
				assert.Equal(t, tt.wantAvail, acc.AvailableBalance)
				assert.Equal(t, int64(1000), acc.PostedBalance)
			}
		})
	}
}

func TestLedger_Authorize_InvalidAmount(t *testing.T) {
	ledger, _, _ := newTestLedger(t)

	_, err := ledger.Authorize(context.Background(), "acc-1", "tx-1", 0)
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestLedger_Authorize_Duplicate(t *testing.T) {
	ctx := context.Background()
	ledger, _, _ := newTestLedger(t)
	_, err := ledger.CreateAccount(ctx, "acc-1", 1000)
	require.NoError(t, err)

	first, err := ledger.Authorize(ctx, "acc-1", "tx-1", 100)
	require.NoError(t, err)
	second, err := ledger.Authorize(ctx, "acc-1", "tx-1", 100)
	require.NoError(t, err)

	assert.Equal(t, first.AuthCode, second.AuthCode)
	assert.Equal(t, model.AuthStatusOK, second.AuthStatus)

	acc, err := ledger.GetAccount(ctx, "acc-1")
	require.NoError(t, err)
	assert.Equal(t, int64(900), acc.AvailableBalance)
	assert.Len(t, acc.Authorizations, 1)
}

func TestLedger_AuthorizeThenCapture(t *testing.T) {
	ctx := context.Background()
	ledger, _, _ := newTestLedger(t)
	_, err := ledger.CreateAccount(ctx, "acc-1", 1000)
	require.NoError(t, err)
	_, err = ledger.Authorize(ctx, "acc-1", "tx-1", 100)
	require.NoError(t, err)

	resp, err := ledger.Capture(ctx, "acc-1", "tx-1")
	require.NoError(t, err)
	assert.Equal(t, model.CaptureOK(), resp)

	acc, err := ledger.GetAccount(ctx, "acc-1")
	require.NoError(t, err)
	assert.Equal(t, int64(900), acc.AvailableBalance)
	assert.Equal(t, int64(900), acc.PostedBalance)
	assert.Empty(t, acc.Authorizations)

	// 已请款的交易再次请款
	resp, err = ledger.Capture(ctx, "acc-1", "tx-1")
	require.NoError(t, err)
	assert.Equal(t, model.CaptureDeclined(model.CaptureStatusTransactionNotFound), resp)
}

func TestLedger_AuthorizeThenCancel(t *testing.T) {
	ctx := context.Background()
	ledger, _, _ := newTestLedger(t)
	_, err := ledger.CreateAccount(ctx, "acc-1", 1000)
	require.NoError(t, err)
	_, err = ledger.Authorize(ctx, "acc-1", "tx-1", 100)
	require.NoError(t, err)

	resp, err := ledger.Cancel(ctx, "acc-1", "tx-1")
	require.NoError(t, err)
	assert.Equal(t, model.CancelOK(), resp)

	acc, err := ledger.GetAccount(ctx, "acc-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1000), acc.AvailableBalance)
	assert.Equal(t, int64(1000), acc.PostedBalance)
	assert.Empty(t, acc.Authorizations)

	// 撤销后不能再请款
	capture, err := ledger.Capture(ctx, "acc-1", "tx-1")
	require.NoError(t, err)
	assert.Equal(t, model.CaptureStatusTransactionNotFound, capture.CaptureStatus)
}

func TestLedger_CaptureWithoutAuthorization(t *testing.T) {
	ctx := context.Background()
	ledger, journal, _ := newTestLedger(t)
	_, err := ledger.CreateAccount(ctx, "acc-1", 1000)
	require.NoError(t, err)

	resp, err := ledger.Capture(ctx, "acc-1", "tx-unknown")
	require.NoError(t, err)
	assert.Equal(t, model.CaptureDeclined(model.CaptureStatusTransactionNotFound), resp)

	records, err := journal.Load(ctx, model.EntityTypeAccount, "acc-1")
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestLedger_SettleMissingAccount(t *testing.T) {
	ctx := context.Background()
	ledger, _, _ := newTestLedger(t)

	capture, err := ledger.Capture(ctx, "nope", "tx-1")
	require.NoError(t, err)
	assert.Equal(t, model.CaptureStatusAccountNotFound, capture.CaptureStatus)

	cancel, err := ledger.Cancel(ctx, "nope", "tx-1")
	require.NoError(t, err)
	assert.Equal(t, model.CancelStatusAccountNotFound, cancel.CancelStatus)
}

func TestLedger_PublishesAccountEvents(t *testing.T) {
	ctx := context.Background()
	ledger, _, outbox := newTestLedger(t)

	_, err := ledger.CreateAccount(ctx, "acc-1", 500)
	require.NoError(t, err)
	auth, err := ledger.Authorize(ctx, "acc-1", "tx-1", 50)
	require.NoError(t, err)

	msgs := outbox.Messages()
	require.Len(t, msgs, 2)

	var created, authorised model.PublicAccountEvent
	require.NoError(t, json.Unmarshal([]byte(msgs[0].Payload), &created))
	require.NoError(t, json.Unmarshal([]byte(msgs[1].Payload), &authorised))

	assert.Equal(t, "acc-1", msgs[0].MessageKey)
	assert.Equal(t, "account-events", msgs[0].Topic)
	assert.Equal(t, model.PublicEventAccountCreated, created.Type)
	assert.Equal(t, int64(500), created.InitialBalance)
	assert.NotEmpty(t, created.EventID)

	assert.Equal(t, model.PublicEventAuthorisationAdded, authorised.Type)
	assert.Equal(t, auth.AuthCode, authorised.AuthCode)
	assert.NotEqual(t, created.EventID, authorised.EventID)
}
