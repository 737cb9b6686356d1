package service

import (
	"context"

	"cardpay/internal/model"
	"cardpay/internal/repository"
)

// TransactionIndex 按账户查询的交易投影，每次流程状态变化整行重写
type TransactionIndex struct {
	store repository.TransactionIndexStore
}

func NewTransactionIndex(store repository.TransactionIndexStore) *TransactionIndex {
	return &TransactionIndex{store: store}
}

func (p *TransactionIndex) Name() string       { return "transaction_index" }
func (p *TransactionIndex) EntityType() string { return model.EntityTypeTransaction }

func (p *TransactionIndex) Apply(ctx context.Context, rec model.EventRecord) error {
	event, err := model.DecodeTransactionEvent(rec.EventType, rec.Payload)
	if err != nil {
		return err
	}
	changed, ok := event.(model.TransactionStateChanged)
	if !ok {
		return nil
	}
	return p.store.Upsert(ctx, model.NewTransactionIndexRow(changed.State))
}

// ListByAccount 按 transaction_id 排序，未走到的结果显示为 N/A
func (p *TransactionIndex) ListByAccount(ctx context.Context, accountID string) ([]model.TransactionSummary, error) {
	rows, err := p.store.ListByAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	out := make([]model.TransactionSummary, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.Summary())
	}
	return out, nil
}
