package service

import (
	"context"
	"errors"
	"fmt"

	"cardpay/internal/model"
	"cardpay/internal/repository"
)

// CardView 卡列表投影：全部卡、按账户、按卡号
type CardView struct {
	store repository.CardViewStore
}

func NewCardView(store repository.CardViewStore) *CardView {
	return &CardView{store: store}
}

func (p *CardView) Name() string       { return "card_view" }
func (p *CardView) EntityType() string { return model.EntityTypeCard }

func (p *CardView) Apply(ctx context.Context, rec model.EventRecord) error {
	event, err := model.DecodeCardEvent(rec.EventType, rec.Payload)
	if err != nil {
		return err
	}

	existing, err := p.store.Get(ctx, rec.EntityID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return err
	}

	switch e := event.(type) {
	case model.CardCreated:
		row := model.CardSummary{Pan: e.Pan, ExpiryDate: e.ExpiryDate, AccountID: e.AccountID}
		if existing != nil {
			row.Active = existing.Active
		}
		return p.store.Upsert(ctx, row)
	case model.CardActivated:
		row := model.CardSummary{Pan: e.Pan, AccountID: e.AccountID}
		if existing != nil {
			row = *existing
		}
		row.Active = true
		return p.store.Upsert(ctx, row)
	}
	return nil
}

func (p *CardView) List(ctx context.Context) ([]model.CardSummary, error) {
	return p.store.List(ctx)
}

func (p *CardView) ListByAccount(ctx context.Context, accountID string) ([]model.CardSummary, error) {
	return p.store.ListByAccount(ctx, accountID)
}

func (p *CardView) Get(ctx context.Context, pan string) (*model.CardSummary, error) {
	row, err := p.store.Get(ctx, pan)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrCardNotFound, maskPan(pan))
	}
	return row, err
}
