package job

import (
	"context"
	"log/slog"
	"time"

	"cardpay/internal/infrastructure/mq"
	"cardpay/internal/metrics"
	"cardpay/internal/model"
	"cardpay/internal/repository"
)

// OutboxSender 轮询发件箱，把账户事件投递到 Kafka
type OutboxSender struct {
	outbox    repository.OutboxStore
	publisher mq.Publisher
	maxRetry  int
	logger    *slog.Logger
	stopCh    chan struct{}
	interval  time.Duration
	batchSize int
}

func NewOutboxSender(outbox repository.OutboxStore, publisher mq.Publisher, maxRetry int, logger *slog.Logger) *OutboxSender {
	return &OutboxSender{
		outbox:    outbox,
		publisher: publisher,
		maxRetry:  maxRetry,
		logger:    logger.With("job", "outbox_sender"),
		stopCh:    make(chan struct{}),
		interval:  100 * time.Millisecond,
		batchSize: 100,
	}
}

func (s *OutboxSender) Start(ctx context.Context) {
	s.logger.Info("outbox sender started")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("outbox sender exiting on context done")
			return
		case <-s.stopCh:
			s.logger.Info("outbox sender stopped")
			return
		case <-ticker.C:
			s.processPendingMessages(ctx)
		}
	}
}

func (s *OutboxSender) Stop() {
	close(s.stopCh)
}

func (s *OutboxSender) processPendingMessages(ctx context.Context) {
	messages, err := s.outbox.GetPendingMessages(ctx, s.batchSize)
	if err != nil {
		s.logger.Error("query pending messages failed", "error", err)
		return
	}

	for _, msg := range messages {
		s.sendMessage(ctx, msg)
	}
}

func (s *OutboxSender) sendMessage(ctx context.Context, msg *model.OutboxMessage) {
	err := s.publisher.SendMessage(msg.Topic, msg.MessageKey, msg.Payload)

	if err == nil {
		metrics.OutboxMessages.WithLabelValues("sent").Inc()
		if updateErr := s.outbox.UpdateStatus(ctx, msg.ID, model.OutboxStatusSent); updateErr != nil {
			// 状态没更新会重发，消费端按事件 ID 去重
			s.logger.Error("mark message sent failed", "id", msg.ID, "error", updateErr)
		} else {
			s.logger.Debug("message sent", "id", msg.ID, "topic", msg.Topic, "key", msg.MessageKey)
		}
		return
	}

	metrics.OutboxMessages.WithLabelValues("error").Inc()
	s.logger.Warn("message send failed", "id", msg.ID, "retry_count", msg.RetryCount, "error", err)

	if err := s.outbox.IncrementRetryCount(ctx, msg.ID); err != nil {
		s.logger.Error("increment retry count failed", "id", msg.ID, "error", err)
	}

	if msg.RetryCount+1 >= s.maxRetry {
		if err := s.outbox.MarkAsFailed(ctx, msg.ID); err != nil {
			s.logger.Error("mark message failed failed", "id", msg.ID, "error", err)
		} else {
			metrics.OutboxMessages.WithLabelValues("failed").Inc()
			s.logger.Error("message exceeded max retries, marked failed", "id", msg.ID, "key", msg.MessageKey)
		}
	}
}
