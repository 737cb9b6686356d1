package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"cardpay/internal/model"
	"cardpay/internal/repository"
)

// AccountCardIndex 账户 -> 卡 查找投影，消费卡事件流
type AccountCardIndex struct {
	store  repository.AccountCardStore
	logger *slog.Logger
}

func NewAccountCardIndex(store repository.AccountCardStore, logger *slog.Logger) *AccountCardIndex {
	return &AccountCardIndex{store: store, logger: logger.With("component", "account_card_index")}
}

func (p *AccountCardIndex) Name() string       { return "account_card_index" }
func (p *AccountCardIndex) EntityType() string { return model.EntityTypeCard }

func (p *AccountCardIndex) Apply(ctx context.Context, rec model.EventRecord) error {
	event, err := model.DecodeCardEvent(rec.EventType, rec.Payload)
	if err != nil {
		return err
	}

	switch e := event.(type) {
	case model.CardCreated:
		return p.store.Upsert(ctx, model.AccountCard{AccountID: e.AccountID, Pan: e.Pan, Active: false})
	case model.CardActivated:
		err := p.store.SetActive(ctx, e.AccountID)
		if errors.Is(err, repository.ErrNotFound) {
			// 行被清理过，按激活事件重建
			p.logger.Warn("activated card missing from index, rebuilding", "account_id", e.AccountID)
			return p.store.Upsert(ctx, model.AccountCard{AccountID: e.AccountID, Pan: e.Pan, Active: true})
		}
		return err
	}
	return nil
}

func (p *AccountCardIndex) Lookup(ctx context.Context, accountID string) (*model.AccountCard, error) {
	row, err := p.store.Get(ctx, accountID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrAccountCardNotFound, accountID)
	}
	if err != nil {
		return nil, err
	}
	return row, nil
}
