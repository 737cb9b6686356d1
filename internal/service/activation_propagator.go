package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"cardpay/internal/infrastructure/cache"
	"cardpay/internal/metrics"
	"cardpay/internal/model"
)

type CardActivator interface {
	Activate(ctx context.Context, pan string) (*model.CardState, error)
}

type AccountCardLookup interface {
	Lookup(ctx context.Context, accountID string) (*model.AccountCard, error)
}

// ActivationPropagator 消费账户服务发布的账户事件，账户创建后激活对应的卡
//
// 投递至少一次。返回错误表示需要重投；卡激活本身幂等，重复处理无副作用。
type ActivationPropagator struct {
	index  AccountCardLookup
	cards  CardActivator
	inbox  cache.Inbox
	logger *slog.Logger
}

func NewActivationPropagator(index AccountCardLookup, cards CardActivator, inbox cache.Inbox, logger *slog.Logger) *ActivationPropagator {
	return &ActivationPropagator{
		index:  index,
		cards:  cards,
		inbox:  inbox,
		logger: logger.With("component", "card_activation_propagator"),
	}
}

// HandleMessage Kafka 消息入口
func (p *ActivationPropagator) HandleMessage(ctx context.Context, key, value []byte) error {
	var evt model.PublicAccountEvent
	if err := json.Unmarshal(value, &evt); err != nil {
		// 无法解析的消息重投也不会成功，记录后跳过
		metrics.PropagatorEvents.WithLabelValues("malformed").Inc()
		p.logger.Error("skip malformed account event", "key", string(key), "error", err)
		return nil
	}
	return p.Handle(ctx, evt)
}

func (p *ActivationPropagator) Handle(ctx context.Context, evt model.PublicAccountEvent) error {
	if evt.Type != model.PublicEventAccountCreated {
		metrics.PropagatorEvents.WithLabelValues("ignored").Inc()
		return nil
	}

	if evt.EventID != "" {
		seen, err := p.inbox.Seen(ctx, evt.EventID)
		if err != nil {
			return fmt.Errorf("inbox lookup %s: %w", evt.EventID, err)
		}
		if seen {
			metrics.PropagatorEvents.WithLabelValues("duplicate").Inc()
			return nil
		}
	}

	entry, err := p.index.Lookup(ctx, evt.AccountID)
	if errors.Is(err, ErrAccountCardNotFound) {
		// 卡事件可能还没投影到索引，返回错误等待重投
		metrics.PropagatorEvents.WithLabelValues("no_pending_card").Inc()
		p.logger.Warn("no pending card for created account", "account_id", evt.AccountID, "event_id", evt.EventID)
		return fmt.Errorf("%w: %s", ErrNoPendingCard, evt.AccountID)
	}
	if err != nil {
		return err
	}

	if !entry.Active {
		if _, err := p.cards.Activate(ctx, entry.Pan); err != nil {
			metrics.PropagatorEvents.WithLabelValues("error").Inc()
			return fmt.Errorf("activate card for account %s: %w", evt.AccountID, err)
		}
	}

	if evt.EventID != "" {
		if err := p.inbox.Mark(ctx, evt.EventID); err != nil {
			// 卡已激活，重复投递只会再走一次幂等激活
			p.logger.Warn("inbox mark failed", "event_id", evt.EventID, "error", err)
		}
	}

	metrics.PropagatorEvents.WithLabelValues("activated").Inc()
	p.logger.Info("card activation propagated", "account_id", evt.AccountID, "pan", maskPan(entry.Pan))
	return nil
}
