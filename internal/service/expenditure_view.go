package service

import (
	"context"
	"errors"
	"fmt"

	"cardpay/internal/model"
	"cardpay/internal/repository"
)

// ExpenditureView 账户收支投影
type ExpenditureView struct {
	store repository.ExpenditureStore
}

func NewExpenditureView(store repository.ExpenditureStore) *ExpenditureView {
	return &ExpenditureView{store: store}
}

func (p *ExpenditureView) Name() string       { return "total_expenditure_view" }
func (p *ExpenditureView) EntityType() string { return model.EntityTypeAccount }

// Apply 增量更新，和 AccountView 一样用 LastSeq 跳过重复投递
func (p *ExpenditureView) Apply(ctx context.Context, rec model.EventRecord) error {
	event, err := model.DecodeAccountEvent(rec.EventType, rec.Payload)
	if err != nil {
		return err
	}

	row := model.AccountExpenditure{AccountID: rec.EntityID}
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
		row.MoneyIn = e.InitialBalance
		row.MoneyOut = 0
	case model.TransAuthorisationAdded:
		row.MoneyOut += e.Amount
	case model.TransCancelAdded:
		row.MoneyOut -= e.Amount
	}
	row.LastSeq = rec.Seq
	return p.store.Upsert(ctx, row)
}

func (p *ExpenditureView) Get(ctx context.Context, accountID string) (*model.AccountExpenditure, error) {
	row, err := p.store.Get(ctx, accountID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, accountID)
	}
	return row, err
}
