package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"cardpay/internal/infrastructure/lock"
	"cardpay/internal/model"
	"cardpay/internal/repository/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockAccountClient struct {
	mock.Mock
}

func (m *mockAccountClient) Authorize(ctx context.Context, accountID, transactionID string, amount int64) (model.AuthorizeResponse, error) {
	args := m.Called(ctx, accountID, transactionID, amount)
	return args.Get(0).(model.AuthorizeResponse), args.Error(1)
}

func (m *mockAccountClient) Capture(ctx context.Context, accountID, transactionID string) (model.CaptureResponse, error) {
	args := m.Called(ctx, accountID, transactionID)
	return args.Get(0).(model.CaptureResponse), args.Error(1)
}

func (m *mockAccountClient) Cancel(ctx context.Context, accountID, transactionID string) (model.CancelResponse, error) {
	args := m.Called(ctx, accountID, transactionID)
	return args.Get(0).(model.CancelResponse), args.Error(1)
}

const testPan = "4111111111111111"

type sagaFixture struct {
	saga   *TransactionSaga
	ledger *LedgerService
	timers *memory.Timers
}

func newSagaFixture(t *testing.T, accounts AccountClient) *sagaFixture {
	t.Helper()
	ctx := context.Background()
	locker := lock.NewKeyedMutex()

	ledger := NewLedgerService(memory.NewJournal(nil), locker, "account-events", testLogger())
	_, err := ledger.CreateAccount(ctx, "acc-1", 1000)
	require.NoError(t, err)

	cards := NewCardService(memory.NewJournal(nil), locker, testLogger())
	_, err = cards.CreateCard(ctx, cardReq(testPan, "acc-1"))
	require.NoError(t, err)

	if accounts == nil {
		accounts = NewLocalAccountClient(ledger)
	}
	timers := memory.NewTimers()
	saga := NewTransactionSaga(memory.NewJournal(nil), locker, cards, accounts, timers, SagaOptions{
		AutoCancelAfter: 5 * time.Minute,
		CallTimeout:     time.Second,
	}, testLogger())
	t.Cleanup(saga.Close)

	return &sagaFixture{saga: saga, ledger: ledger, timers: timers}
}

func startReq(key string, amount int64) StartTransactionRequest {
	return StartTransactionRequest{
		IdempotencyKey: key,
		TransactionID:  "tx-" + key,
		CardPan:        testPan,
		CardExpiryDate: "12/30",
		CardCvv:        "123",
		Amount:         amount,
		Currency:       "EUR",
	}
}

func (f *sagaFixture) startAndWait(t *testing.T, req StartTransactionRequest) *model.TransactionState {
	t.Helper()
	reply, err := f.saga.Start(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, ReplyStarted, reply)
	f.saga.Wait()

	st, err := f.saga.GetTransaction(context.Background(), req.IdempotencyKey)
	require.NoError(t, err)
	return st
}

func TestSaga_StartAuthorizesAndArmsTimer(t *testing.T) {
	ctx := context.Background()
	f := newSagaFixture(t, nil)

	st := f.startAndWait(t, startReq("k1", 100))
	assert.Equal(t, model.StepAwaitingSettlement, st.Step)
	assert.Equal(t, "acc-1", st.AccountID)
	assert.Equal(t, model.AuthResultAuthorised, st.AuthResult)
	assert.Equal(t, model.AuthStatusOK, st.AuthStatus)
	assert.NotEmpty(t, st.AuthCode)
	assert.Empty(t, st.CaptureResult)
	assert.Empty(t, st.CancelResult)

	timer, ok := f.timers.Get(model.AutoCancelTimerName("k1"))
	require.True(t, ok)
	assert.Equal(t, "k1", timer.EntityKey)
	assert.Equal(t, model.TimerKindAutoCancel, timer.Kind)

	acc, err := f.ledger.GetAccount(ctx, "acc-1")
	require.NoError(t, err)
	assert.Equal(t, int64(900), acc.AvailableBalance)
}

func TestSaga_StartIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newSagaFixture(t, nil)

	before := f.startAndWait(t, startReq("k1", 100))

	reply, err := f.saga.Start(ctx, startReq("k1", 100))
	require.NoError(t, err)
	assert.Equal(t, ReplyAlreadyExists, reply)
	f.saga.Wait()

	after, err := f.saga.GetTransaction(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestSaga_StartValidation(t *testing.T) {
	f := newSagaFixture(t, nil)

	_, err := f.saga.Start(context.Background(), startReq("k1", 0))
	assert.ErrorIs(t, err, ErrInvalidAmount)

	req := startReq("", 10)
	_, err = f.saga.Start(context.Background(), req)
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestSaga_UnknownCardIsDeclined(t *testing.T) {
	ctx := context.Background()
	f := newSagaFixture(t, nil)

	req := startReq("k1", 100)
	req.CardPan = "5500000000000004"
	st := f.startAndWait(t, req)

	assert.Equal(t, model.StepDeclined, st.Step)
	assert.Equal(t, model.AuthResultDeclined, st.AuthResult)
	assert.Equal(t, model.AuthStatusCardNotFound, st.AuthStatus)

	reply, err := f.saga.Capture(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, ReplyNotAuthorized, reply)

	reply, err = f.saga.Cancel(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, ReplyNotAuthorized, reply)
}

func TestSaga_CvvMismatchIsDeclined(t *testing.T) {
	f := newSagaFixture(t, nil)

	req := startReq("k1", 100)
	req.CardCvv = "000"
	st := f.startAndWait(t, req)

	assert.Equal(t, model.AuthStatusCardNotFound, st.AuthStatus)
	assert.Empty(t, st.AccountID)
}

func TestSaga_InsufficientFunds(t *testing.T) {
	f := newSagaFixture(t, nil)

	st := f.startAndWait(t, startReq("k1", 5000))
	assert.Equal(t, model.StepDeclined, st.Step)
	assert.Equal(t, model.AuthStatusInsufficientFunds, st.AuthStatus)

	_, ok := f.timers.Get(model.AutoCancelTimerName("k1"))
	assert.False(t, ok)
}

func TestSaga_UnknownTransaction(t *testing.T) {
	ctx := context.Background()
	f := newSagaFixture(t, nil)

	reply, err := f.saga.Capture(ctx, "missing")
	require.NoError(t, err)
	assert.Equal(t, ReplyTransactionNotFound, reply)

	reply, err = f.saga.Cancel(ctx, "missing")
	require.NoError(t, err)
	assert.Equal(t, ReplyTransactionNotFound, reply)

	_, err = f.saga.GetTransaction(ctx, "missing")
	assert.ErrorIs(t, err, ErrTransactionNotFound)
}

func TestSaga_CaptureFlow(t *testing.T) {
	ctx := context.Background()
	f := newSagaFixture(t, nil)
	f.startAndWait(t, startReq("k1", 100))

	reply, err := f.saga.Capture(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, ReplyCaptureStarted, reply)
	f.saga.Wait()

	st, err := f.saga.GetTransaction(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, model.StepCaptured, st.Step)
	assert.Equal(t, model.CaptureResultCaptured, st.CaptureResult)
	assert.Equal(t, model.CaptureStatusOK, st.CaptureStatus)

	reply, err = f.saga.Capture(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, ReplyAlreadyCaptured, reply)

	reply, err = f.saga.Cancel(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, ReplyAlreadyCaptured, reply)

	_, ok := f.timers.Get(model.AutoCancelTimerName("k1"))
	assert.False(t, ok)

	acc, err := f.ledger.GetAccount(ctx, "acc-1")
	require.NoError(t, err)
	assert.Equal(t, int64(900), acc.AvailableBalance)
	assert.Equal(t, int64(900), acc.PostedBalance)
	assert.Empty(t, acc.Authorizations)
}

func TestSaga_CancelFlow(t *testing.T) {
	ctx := context.Background()
	f := newSagaFixture(t, nil)
	f.startAndWait(t, startReq("k1", 100))

	reply, err := f.saga.Cancel(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, ReplyCancelStarted, reply)
	f.saga.Wait()

	st, err := f.saga.GetTransaction(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, model.StepCanceled, st.Step)
	assert.Equal(t, model.CancelResultCanceled, st.CancelResult)

	reply, err = f.saga.Capture(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, ReplyAlreadyCanceled, reply)

	reply, err = f.saga.Cancel(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, ReplyAlreadyCanceled, reply)

	acc, err := f.ledger.GetAccount(ctx, "acc-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1000), acc.AvailableBalance)
	assert.Equal(t, int64(1000), acc.PostedBalance)
}

func TestSaga_TimerAutoCancels(t *testing.T) {
	ctx := context.Background()
	f := newSagaFixture(t, nil)
	f.startAndWait(t, startReq("k1", 100))

	timer, ok := f.timers.Get(model.AutoCancelTimerName("k1"))
	require.True(t, ok)

	require.NoError(t, f.saga.OnTimer(ctx, timer))
	f.saga.Wait()

	st, err := f.saga.GetTransaction(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, model.StepCanceled, st.Step)
	assert.True(t, st.IsCanceled())

	// 已结束的流程再次触发定时器无副作用
	require.NoError(t, f.saga.OnTimer(ctx, timer))
	f.saga.Wait()
	after, err := f.saga.GetTransaction(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, st, after)
}

func TestSaga_OnTimerRejectsUnknownKind(t *testing.T) {
	f := newSagaFixture(t, nil)

	err := f.saga.OnTimer(context.Background(), model.Timer{Kind: "reminder", EntityKey: "k1"})
	assert.Error(t, err)
}

func TestSaga_AuthorizeTransportErrorIsUndisclosed(t *testing.T) {
	accounts := new(mockAccountClient)
	accounts.On("Authorize", mock.Anything, "acc-1", "tx-k1", int64(100)).
		Return(model.AuthorizeResponse{}, errors.New("connection refused"))

	f := newSagaFixture(t, accounts)
	st := f.startAndWait(t, startReq("k1", 100))

	assert.Equal(t, model.StepDeclined, st.Step)
	assert.Equal(t, model.AuthResultDeclined, st.AuthResult)
	assert.Equal(t, model.AuthStatusUndisclosed, st.AuthStatus)
	accounts.AssertExpectations(t)
}

func TestSaga_AccountNotFoundIsNotConflated(t *testing.T) {
	accounts := new(mockAccountClient)
	accounts.On("Authorize", mock.Anything, "acc-1", "tx-k1", int64(100)).
		Return(model.AuthorizeDeclined(model.AuthStatusAccountNotFound), nil)

	f := newSagaFixture(t, accounts)
	st := f.startAndWait(t, startReq("k1", 100))

	assert.Equal(t, model.AuthStatusAccountNotFound, st.AuthStatus)
}

func TestSaga_CaptureTransportErrorIsUndisclosed(t *testing.T) {
	ctx := context.Background()
	accounts := new(mockAccountClient)
	accounts.On("Authorize", mock.Anything, "acc-1", "tx-k1", int64(100)).
		Return(model.AuthorizeOK("code-1"), nil)
	accounts.On("Capture", mock.Anything, "acc-1", "tx-k1").
		Return(model.CaptureResponse{}, context.DeadlineExceeded)

	f := newSagaFixture(t, accounts)
	f.startAndWait(t, startReq("k1", 100))

	reply, err := f.saga.Capture(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, ReplyCaptureStarted, reply)
	f.saga.Wait()

	st, err := f.saga.GetTransaction(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, model.StepCaptured, st.Step)
	assert.Equal(t, model.CaptureResultDeclined, st.CaptureResult)
	assert.Equal(t, model.CaptureStatusUndisclosed, st.CaptureStatus)
	accounts.AssertExpectations(t)
}

func TestSaga_ResumeInFlightStep(t *testing.T) {
	ctx := context.Background()
	f := newSagaFixture(t, nil)
	f.startAndWait(t, startReq("k1", 100))

	// 模拟进程在请款步骤落盘后崩溃：直接写入 capturing 快照
	st, seq, err := f.saga.entity.load(ctx, "k1")
	require.NoError(t, err)
	ok, err := f.saga.entity.appendAt(ctx, "k1", seq, model.TransactionStateChanged{State: st.WithStep(model.StepCapturing)})
	require.NoError(t, err)
	require.True(t, ok)

	f.saga.Resume("k1")
	f.saga.Wait()

	got, err := f.saga.GetTransaction(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, model.StepCaptured, got.Step)
	assert.True(t, got.IsCaptured())
}

// writeStep 直接写入一个中间步骤快照，模拟命令已落盘而后台步骤尚未执行
func (f *sagaFixture) writeStep(t *testing.T, key string, step model.SagaStep) {
	t.Helper()
	ctx := context.Background()
	st, seq, err := f.saga.entity.load(ctx, key)
	require.NoError(t, err)
	ok, err := f.saga.entity.appendAt(ctx, key, seq, model.TransactionStateChanged{State: st.WithStep(step)})
	require.NoError(t, err)
	require.True(t, ok)
}

func TestSaga_SettlementCommandsWhileInFlight(t *testing.T) {
	tests := []struct {
		name        string
		step        model.SagaStep
		firstCmd    string
		firstReply  SagaReply
		secondCmd   string
		secondReply SagaReply
		final       model.SagaStep
	}{
		{
			name:        "cancel then capture while capturing",
			step:        model.StepCapturing,
			firstCmd:    "cancel",
			firstReply:  ReplyAlreadyCaptured,
			secondCmd:   "capture",
			secondReply: ReplyCaptureStarted,
			final:       model.StepCaptured,
		},
		{
			name:        "capture then cancel while canceling",
			step:        model.StepCanceling,
			firstCmd:    "capture",
			firstReply:  ReplyAlreadyCanceled,
			secondCmd:   "cancel",
			secondReply: ReplyCancelStarted,
			final:       model.StepCanceled,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			f := newSagaFixture(t, nil)
			f.startAndWait(t, startReq("k1", 100))
			f.writeStep(t, "k1", tt.step)

			run := func(cmd string) SagaReply {
				var (
					reply SagaReply
					err   error
				)
				if cmd == "capture" {
					reply, err = f.saga.Capture(ctx, "k1")
				} else {
					reply, err = f.saga.Cancel(ctx, "k1")
				}
				require.NoError(t, err)
				return reply
			}

			_, seqBefore, err := f.saga.entity.load(ctx, "k1")
			require.NoError(t, err)
			assert.Equal(t, tt.firstReply, run(tt.firstCmd))
			_, seqAfter, err := f.saga.entity.load(ctx, "k1")
			require.NoError(t, err)
			assert.Equal(t, seqBefore, seqAfter, "rejected command must not write")

			assert.Equal(t, tt.secondReply, run(tt.secondCmd))
			f.saga.Wait()

			st, err := f.saga.GetTransaction(ctx, "k1")
			require.NoError(t, err)
			assert.Equal(t, tt.final, st.Step)
			assert.NotEqual(t, st.IsCaptured(), st.IsCanceled())
		})
	}
}

func TestSaga_ConcurrentCaptureAndCancelAreExclusive(t *testing.T) {
	ctx := context.Background()
	f := newSagaFixture(t, nil)

	const rounds = 50
	captured := 0
	for i := 0; i < rounds; i++ {
		key := fmt.Sprintf("k%d", i)
		f.startAndWait(t, startReq(key, 10))

		var (
			wg           sync.WaitGroup
			captureReply SagaReply
			cancelReply  SagaReply
			captureErr   error
			cancelErr    error
		)
		wg.Add(2)
		go func() {
			defer wg.Done()
			captureReply, captureErr = f.saga.Capture(ctx, key)
		}()
		go func() {
			defer wg.Done()
			cancelReply, cancelErr = f.saga.Cancel(ctx, key)
		}()
		wg.Wait()
		require.NoError(t, captureErr)
		require.NoError(t, cancelErr)
		f.saga.Wait()

		st, err := f.saga.GetTransaction(ctx, key)
		require.NoError(t, err)

		switch {
		case captureReply == ReplyCaptureStarted:
			assert.Equal(t, ReplyAlreadyCaptured, cancelReply, key)
			assert.True(t, st.IsCaptured(), key)
			assert.Empty(t, st.CancelResult, key)
			captured++
		case cancelReply == ReplyCancelStarted:
			assert.Equal(t, ReplyAlreadyCanceled, captureReply, key)
			assert.True(t, st.IsCanceled(), key)
			assert.Empty(t, st.CaptureResult, key)
		default:
			t.Fatalf("%s: no settlement started: capture=%s cancel=%s", key, captureReply, cancelReply)
		}
	}

	acc, err := f.ledger.GetAccount(ctx, "acc-1")
	require.NoError(t, err)
	assert.Empty(t, acc.Authorizations)
	assert.Equal(t, int64(1000-10*captured), acc.PostedBalance)
	assert.Equal(t, acc.PostedBalance, acc.AvailableBalance)
}

func TestSaga_ResumedCaptureAlreadyPostedIsUndisclosed(t *testing.T) {
	ctx := context.Background()
	f := newSagaFixture(t, nil)
	f.startAndWait(t, startReq("k1", 100))

	// 崩溃前请款已在账户服务生效，但流程结果未落盘
	resp, err := f.ledger.Capture(ctx, "acc-1", "tx-k1")
	require.NoError(t, err)
	require.Equal(t, model.CaptureOK(), resp)
	f.writeStep(t, "k1", model.StepCapturing)

	f.saga.Resume("k1")
	f.saga.Wait()

	st, err := f.saga.GetTransaction(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, model.CaptureResultDeclined, st.CaptureResult)
	assert.Equal(t, model.CaptureStatusUndisclosed, st.CaptureStatus)

	acc, err := f.ledger.GetAccount(ctx, "acc-1")
	require.NoError(t, err)
	assert.Equal(t, int64(900), acc.PostedBalance)
}

func TestSaga_ResumedCancelAlreadyAppliedIsUndisclosed(t *testing.T) {
	ctx := context.Background()
	f := newSagaFixture(t, nil)
	f.startAndWait(t, startReq("k1", 100))

	_, err := f.ledger.Cancel(ctx, "acc-1", "tx-k1")
	require.NoError(t, err)
	f.writeStep(t, "k1", model.StepCanceling)

	f.saga.Resume("k1")
	f.saga.Wait()

	st, err := f.saga.GetTransaction(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, model.CancelResultDeclined, st.CancelResult)
	assert.Equal(t, model.CancelStatusUndisclosed, st.CancelStatus)
}

func TestSaga_FreshCaptureWithoutAuthorizationIsDeclined(t *testing.T) {
	ctx := context.Background()
	f := newSagaFixture(t, nil)
	f.startAndWait(t, startReq("k1", 100))

	// 授权在流程之外被撤销，新发起的请款如实记录账户服务的拒绝
	_, err := f.ledger.Cancel(ctx, "acc-1", "tx-k1")
	require.NoError(t, err)

	reply, err := f.saga.Capture(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, ReplyCaptureStarted, reply)
	f.saga.Wait()

	st, err := f.saga.GetTransaction(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, model.CaptureResultDeclined, st.CaptureResult)
	assert.Equal(t, model.CaptureStatusTransactionNotFound, st.CaptureStatus)
}
