package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"cardpay/internal/model"
	"cardpay/internal/repository/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func eventRecord(t *testing.T, entityID string, seq int64, ev model.Event) model.EventRecord {
	t.Helper()
	payload, err := json.Marshal(ev)
	require.NoError(t, err)
	return model.EventRecord{
		ID:        seq,
		EntityID:  entityID,
		Seq:       seq,
		EventType: ev.EventType(),
		Payload:   string(payload),
	}
}

func TestAccountCardIndex_CreatedThenActivated(t *testing.T) {
	ctx := context.Background()
	index := NewAccountCardIndex(memory.NewAccountCards(), testLogger())

	_, err := index.Lookup(ctx, "acc-1")
	assert.ErrorIs(t, err, ErrAccountCardNotFound)

	created := model.CardCreated{Pan: "4111", ExpiryDate: "12/30", CVV: "123", AccountID: "acc-1"}
	require.NoError(t, index.Apply(ctx, eventRecord(t, "4111", 1, created)))

	row, err := index.Lookup(ctx, "acc-1")
	require.NoError(t, err)
	assert.Equal(t, "4111", row.Pan)
	assert.False(t, row.Active)

	require.NoError(t, index.Apply(ctx, eventRecord(t, "4111", 2, model.CardActivated{Pan: "4111", AccountID: "acc-1"})))

	row, err = index.Lookup(ctx, "acc-1")
	require.NoError(t, err)
	assert.True(t, row.Active)
}

func TestAccountCardIndex_ActivatedWithoutRow(t *testing.T) {
	ctx := context.Background()
	index := NewAccountCardIndex(memory.NewAccountCards(), testLogger())

	require.NoError(t, index.Apply(ctx, eventRecord(t, "4111", 2, model.CardActivated{Pan: "4111", AccountID: "acc-1"})))

	row, err := index.Lookup(ctx, "acc-1")
	require.NoError(t, err)
	assert.True(t, row.Active)
}

func TestTransactionIndex_ListByAccount(t *testing.T) {
	ctx := context.Background()
	index := NewTransactionIndex(memory.NewTransactionIndex())

	card := model.CardData{CardPan: "4111", Amount: 100, Currency: "EUR"}
	authorised := model.NewTransactionState("key-2", "tx-2", card).
		WithCardValidated("acc-1").
		WithAuthorization(model.AuthorizeOK("code"))
	captured := model.NewTransactionState("key-1", "tx-1", card).
		WithCardValidated("acc-1").
		WithAuthorization(model.AuthorizeOK("code")).
		WithCapture(model.CaptureOK())
	other := model.NewTransactionState("key-3", "tx-3", card).WithCardValidated("acc-2")

	for i, st := range []model.TransactionState{authorised, captured, other} {
		rec := eventRecord(t, st.IdempotencyKey, int64(i+1), model.TransactionStateChanged{State: st})
		require.NoError(t, index.Apply(ctx, rec))
	}

	list, err := index.ListByAccount(ctx, "acc-1")
	require.NoError(t, err)
	require.Len(t, list, 2)

	assert.Equal(t, "tx-1", list[0].TransactionID)
	assert.Equal(t, "captured", list[0].CaptureResult)
	assert.Equal(t, model.NotApplicable, list[0].CancelResult)

	assert.Equal(t, "tx-2", list[1].TransactionID)
	assert.Equal(t, "authorised", list[1].AuthResult)
	assert.Equal(t, model.NotApplicable, list[1].CaptureResult)
	assert.Equal(t, model.NotApplicable, list[1].CaptureStatus)
}

func TestTransactionIndex_RewritesRow(t *testing.T) {
	ctx := context.Background()
	store := memory.NewTransactionIndex()
	index := NewTransactionIndex(store)

	st := model.NewTransactionState("key-1", "tx-1", model.CardData{}).WithCardValidated("acc-1")
	st.UpdatedAt = time.Now()
	require.NoError(t, index.Apply(ctx, eventRecord(t, "key-1", 1, model.TransactionStateChanged{State: st})))

	st = st.WithAuthorization(model.AuthorizeDeclined(model.AuthStatusInsufficientFunds))
	require.NoError(t, index.Apply(ctx, eventRecord(t, "key-1", 2, model.TransactionStateChanged{State: st})))

	list, err := index.ListByAccount(ctx, "acc-1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "insufficient_funds", list[0].AuthStatus)
}

func TestAccountView_AppliesBalancesOnce(t *testing.T) {
	ctx := context.Background()
	view := NewAccountView(memory.NewAccountViews())

	events := []model.Event{
		model.AccountCreated{AccountID: "acc-1", InitialBalance: 1000},
		model.TransAuthorisationAdded{TransactionID: "tx-1", Amount: 100, AuthCode: "a"},
		model.TransCaptureAdded{TransactionID: "tx-1", Amount: 100},
		model.TransAuthorisationAdded{TransactionID: "tx-2", Amount: 50, AuthCode: "b"},
		model.TransCancelAdded{TransactionID: "tx-2", Amount: 50},
	}
	for i, ev := range events {
		rec := eventRecord(t, "acc-1", int64(i+1), ev)
		require.NoError(t, view.Apply(ctx, rec))
		// 重复投递
		require.NoError(t, view.Apply(ctx, rec))
	}

	list, err := view.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, int64(900), list[0].AvailableBalance)
	assert.Equal(t, int64(900), list[0].PostedBalance)
}

func TestCardView_ListsByAccountAndPan(t *testing.T) {
	ctx := context.Background()
	view := NewCardView(memory.NewCardViews())

	require.NoError(t, view.Apply(ctx, eventRecord(t, "4111", 1, model.CardCreated{Pan: "4111", ExpiryDate: "12/30", CVV: "123", AccountID: "acc-1"})))
	require.NoError(t, view.Apply(ctx, eventRecord(t, "5500", 1, model.CardCreated{Pan: "5500", ExpiryDate: "01/29", CVV: "999", AccountID: "acc-2"})))
	activated := eventRecord(t, "4111", 2, model.CardActivated{Pan: "4111", AccountID: "acc-1"})
	require.NoError(t, view.Apply(ctx, activated))
	require.NoError(t, view.Apply(ctx, activated))

	all, err := view.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "4111", all[0].Pan)
	assert.Equal(t, "5500", all[1].Pan)

	byAccount, err := view.ListByAccount(ctx, "acc-1")
	require.NoError(t, err)
	require.Len(t, byAccount, 1)
	assert.Equal(t, model.CardSummary{Pan: "4111", ExpiryDate: "12/30", AccountID: "acc-1", Active: true}, byAccount[0])

	none, err := view.ListByAccount(ctx, "acc-3")
	require.NoError(t, err)
	assert.Empty(t, none)

	card, err := view.Get(ctx, "5500")
	require.NoError(t, err)
	assert.False(t, card.Active)

	_, err = view.Get(ctx, "0000")
	assert.ErrorIs(t, err, ErrCardNotFound)
}

func TestExpenditureView_TracksMoneyInAndOut(t *testing.T) {
	ctx := context.Background()
	view := NewExpenditureView(memory.NewExpenditures())

	_, err := view.Get(ctx, "acc-1")
	assert.ErrorIs(t, err, ErrAccountNotFound)

	events := []model.Event{
		model.AccountCreated{AccountID: "acc-1", InitialBalance: 1000},
		model.TransAuthorisationAdded{TransactionID: "tx-1", Amount: 100, AuthCode: "a"},
		model.TransCaptureAdded{TransactionID: "tx-1", Amount: 100},
		model.TransAuthorisationAdded{TransactionID: "tx-2", Amount: 50, AuthCode: "b"},
		model.TransCancelAdded{TransactionID: "tx-2", Amount: 50},
		model.TransAuthorisationAdded{TransactionID: "tx-3", Amount: 30, AuthCode: "c"},
	}
	for i, ev := range events {
		rec := eventRecord(t, "acc-1", int64(i+1), ev)
		require.NoError(t, view.Apply(ctx, rec))
		require.NoError(t, view.Apply(ctx, rec))
	}

	row, err := view.Get(ctx, "acc-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1000), row.MoneyIn)
	assert.Equal(t, int64(130), row.MoneyOut)
}
