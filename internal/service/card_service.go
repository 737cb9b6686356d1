package service

import (
	"context"
	"fmt"
	"log/slog"

	"cardpay/internal/infrastructure/lock"
	"cardpay/internal/metrics"
	"cardpay/internal/model"
	"cardpay/internal/repository"
)

// CardService 卡实体：created -> active，按 PAN 分流
type CardService struct {
	entity *eventSourced[model.CardState]
	logger *slog.Logger
}

func NewCardService(journal repository.Journal, locker lock.Locker, logger *slog.Logger) *CardService {
	return &CardService{
		entity: &eventSourced[model.CardState]{
			journal:    journal,
			locker:     locker,
			entityType: model.EntityTypeCard,
			decode:     model.DecodeCardEvent,
			apply:      model.CardState.Apply,
		},
		logger: logger.With("component", "card_store"),
	}
}

type CreateCardRequest struct {
	Pan        string `json:"pan" binding:"required"`
	ExpiryDate string `json:"expiry_date" binding:"required"`
	CVV        string `json:"cvv" binding:"required"`
	AccountID  string `json:"account_id" binding:"required"`
}

// CreateCard 先到先得：PAN 已存在时返回已有卡，忽略本次请求的字段
func (s *CardService) CreateCard(ctx context.Context, req CreateCardRequest) (*model.CardState, error) {
	if req.Pan == "" || req.AccountID == "" {
		return nil, fmt.Errorf("%w: pan and account id are required", ErrInvalidRequest)
	}

	outcome := "existing"
	_, state, err := execute(ctx, s.entity, req.Pan, func(st model.CardState) (struct{}, []model.Event) {
		if !st.IsEmpty() {
			return struct{}{}, nil
		}
		outcome = "created"
		return struct{}{}, []model.Event{model.CardCreated{
			Pan:        req.Pan,
			ExpiryDate: req.ExpiryDate,
			CVV:        req.CVV,
			AccountID:  req.AccountID,
		}}
	})
	if err != nil {
		return nil, err
	}

	metrics.CardCommands.WithLabelValues("create", outcome).Inc()
	if outcome == "created" {
		s.logger.Info("card created", "pan", maskPan(req.Pan), "account_id", req.AccountID)
	}
	return &state, nil
}

func (s *CardService) GetCard(ctx context.Context, pan string) (*model.CardState, error) {
	state, _, err := s.entity.load(ctx, pan)
	if err != nil {
		return nil, err
	}
	if state.IsEmpty() {
		return nil, fmt.Errorf("%w: %s", ErrCardNotFound, maskPan(pan))
	}
	return &state, nil
}

// Activate 激活卡，已激活时原样返回
func (s *CardService) Activate(ctx context.Context, pan string) (*model.CardState, error) {
	outcome := "already_active"
	_, state, err := execute(ctx, s.entity, pan, func(st model.CardState) (struct{}, []model.Event) {
		if st.IsEmpty() {
			outcome = "not_found"
			return struct{}{}, nil
		}
		if st.Active {
			return struct{}{}, nil
		}
		outcome = "activated"
		return struct{}{}, []model.Event{model.CardActivated{Pan: st.Pan, AccountID: st.AccountID}}
	})
	if err != nil {
		return nil, err
	}

	metrics.CardCommands.WithLabelValues("activate", outcome).Inc()
	if outcome == "not_found" {
		return nil, fmt.Errorf("%w: %s", ErrCardNotFound, maskPan(pan))
	}
	if outcome == "activated" {
		s.logger.Info("card activated", "pan", maskPan(pan), "account_id", state.AccountID)
	}
	return &state, nil
}

// ValidateCard 卡存在且有效期、CVV 一致时返回所属账户
func (s *CardService) ValidateCard(ctx context.Context, pan, expiryDate, cvv string) (string, bool, error) {
	state, _, err := s.entity.load(ctx, pan)
	if err != nil {
		return "", false, err
	}
	if !state.Matches(expiryDate, cvv) {
		return "", false, nil
	}
	return state.AccountID, true, nil
}

// maskPan 日志中只保留卡号后四位
func maskPan(pan string) string {
	if len(pan) <= 4 {
		return pan
	}
	return "****" + pan[len(pan)-4:]
}
