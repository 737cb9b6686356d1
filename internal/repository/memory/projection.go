package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"cardpay/internal/model"
	"cardpay/internal/repository"
)

type Offsets struct {
	mu      sync.Mutex
	offsets map[string]int64
}

func NewOffsets() *Offsets {
	return &Offsets{offsets: make(map[string]int64)}
}

func (o *Offsets) GetOffset(_ context.Context, name string) (int64, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.offsets[name], nil
}

func (o *Offsets) SaveOffset(_ context.Context, name string, position int64) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.offsets[name] = position
	return nil
}

type AccountCards struct {
	mu   sync.Mutex
	rows map[string]model.AccountCard
}

func NewAccountCards() *AccountCards {
	return &AccountCards{rows: make(map[string]model.AccountCard)}
}

func (s *AccountCards) Upsert(_ context.Context, row model.AccountCard) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[row.AccountID] = row
	return nil
}

func (s *AccountCards) SetActive(_ context.Context, accountID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.rows[accountID]
	if !ok {
		return repository.ErrNotFound
	}
	row.Active = true
	s.rows[accountID] = row
	return nil
}

func (s *AccountCards) Get(_ context.Context, accountID string) (*model.AccountCard, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.rows[accountID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &row, nil
}

type TransactionIndex struct {
	mu   sync.Mutex
	rows map[string]model.TransactionIndexRow
}

func NewTransactionIndex() *TransactionIndex {
	return &TransactionIndex{rows: make(map[string]model.TransactionIndexRow)}
}

func (s *TransactionIndex) Upsert(_ context.Context, row model.TransactionIndexRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[row.IdempotencyKey] = row
	return nil
}

func (s *TransactionIndex) ListByAccount(_ context.Context, accountID string) ([]model.TransactionIndexRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []model.TransactionIndexRow
	for _, r := range s.rows {
		if r.AccountID == accountID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].TransactionID < out[k].TransactionID })
	return out, nil
}

func (s *TransactionIndex) ListStale(_ context.Context, steps []model.SagaStep, before time.Time, limit int) ([]model.TransactionIndexRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	wanted := make(map[string]bool, len(steps))
	for _, st := range steps {
		wanted[string(st)] = true
	}
	var out []model.TransactionIndexRow
	for _, r := range s.rows {
		if wanted[r.Step] && r.UpdatedAt.Before(before) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].UpdatedAt.Before(out[k].UpdatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type AccountViews struct {
	mu   sync.Mutex
	rows map[string]model.AccountSummary
}

func NewAccountViews() *AccountViews {
	return &AccountViews{rows: make(map[string]model.AccountSummary)}
}

func (s *AccountViews) Get(_ context.Context, accountID string) (*model.AccountSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.rows[accountID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &row, nil
}

func (s *AccountViews) Upsert(_ context.Context, row model.AccountSummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[row.AccountID] = row
	return nil
}

func (s *AccountViews) List(_ context.Context) ([]model.AccountSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]model.AccountSummary, 0, len(s.rows))
	for _, r := range s.rows {
		out = append(out, r)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].AccountID < out[k].AccountID })
	return out, nil
}

type CardViews struct {
	mu   sync.Mutex
	rows map[string]model.CardSummary
}

func NewCardViews() *CardViews {
	return &CardViews{rows: make(map[string]model.CardSummary)}
}

func (s *CardViews) Upsert(_ context.Context, row model.CardSummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[row.Pan] = row
	return nil
}

func (s *CardViews) Get(_ context.Context, pan string) (*model.CardSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.rows[pan]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &row, nil
}

func (s *CardViews) List(_ context.Context) ([]model.CardSummary, error) {
	return s.filter(func(model.CardSummary) bool { return true }), nil
}

func (s *CardViews) ListByAccount(_ context.Context, accountID string) ([]model.CardSummary, error) {
	return s.filter(func(r model.CardSummary) bool { return r.AccountID == accountID }), nil
}

func (s *CardViews) filter(keep func(model.CardSummary) bool) []model.CardSummary {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]model.CardSummary, 0, len(s.rows))
	for _, r := range s.rows {
		if keep(r) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].Pan < out[k].Pan })
	return out
}

type Expenditures struct {
	mu   sync.Mutex
	rows map[string]model.AccountExpenditure
}

func NewExpenditures() *Expenditures {
	return &Expenditures{rows: make(map[string]model.AccountExpenditure)}
}

func (s *Expenditures) Get(_ context.Context, accountID string) (*model.AccountExpenditure, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.rows[accountID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &row, nil
}

func (s *Expenditures) Upsert(_ context.Context, row model.AccountExpenditure) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[row.AccountID] = row
	return nil
}

var (
	_ repository.OffsetStore           = (*Offsets)(nil)
	_ repository.AccountCardStore      = (*AccountCards)(nil)
	_ repository.TransactionIndexStore = (*TransactionIndex)(nil)
	_ repository.AccountViewStore      = (*AccountViews)(nil)
	_ repository.CardViewStore         = (*CardViews)(nil)
	_ repository.ExpenditureStore      = (*Expenditures)(nil)
)
