package service

import (
	"context"
	"errors"

	"cardpay/internal/model"
	"cardpay/internal/repository"
)

// AccountView 账户列表投影
type AccountView struct {
	store repository.AccountViewStore
}

func NewAccountView(store repository.AccountViewStore) *AccountView {
	return &AccountView{store: store}
}

func (p *AccountView) Name() string       { return "account_view" }
func (p *AccountView) EntityType() string { return model.EntityTypeAccount }

// Apply 余额是增量更新，用 LastSeq 跳过重复投递
func (p *AccountView) Apply(ctx context.Context, rec model.EventRecord) error {
	event, err := model.DecodeAccountEvent(rec.EventType, rec.Payload)
	if err != nil {
		return err
	}

	row := model.AccountSummary{AccountID: rec.EntityID}
	existing, err := p.store.Get(ctx, rec.EntityID)
	switch {
	case err == nil:
		if existing.LastSeq >= rec.Seq {
			return nil
		}
		row = *existing
	case !errors.Is(err, repository.ErrNotFound):
		return err
	}

	switch e := event.(type) {
	case model.AccountCreated:
		row.AvailableBalance = e.InitialBalance
		row.PostedBalance = e.InitialBalance
	case model.TransAuthorisationAdded:
		row.AvailableBalance -= e.Amount
	case model.TransCaptureAdded:
		row.PostedBalance -= e.Amount
	case model.TransCancelAdded:
		row.AvailableBalance += e.Amount
	}
	row.LastSeq = rec.Seq
	return p.store.Upsert(ctx, row)
}

func (p *AccountView) List(ctx context.Context) ([]model.AccountSummary, error) {
	return p.store.List(ctx)
}
