package job

import (
	"context"
	"log/slog"
	"time"

	"cardpay/internal/model"
	"cardpay/internal/repository"
)

type SagaResumer interface {
	Resume(key string)
}

// SagaRecoveryJob 补偿任务：找出停在中间步骤超过宽限期的交易流程并重新驱动。
// 进程在外部调用和落盘之间崩溃时，流程会停在这些步骤上。
type SagaRecoveryJob struct {
	index     repository.TransactionIndexStore
	saga      SagaResumer
	grace     time.Duration
	logger    *slog.Logger
	now       func() time.Time
	stopCh    chan struct{}
	interval  time.Duration
	batchSize int
}

func NewSagaRecoveryJob(index repository.TransactionIndexStore, saga SagaResumer, grace time.Duration, logger *slog.Logger) *SagaRecoveryJob {
	return &SagaRecoveryJob{
		index:     index,
		saga:      saga,
		grace:     grace,
		logger:    logger.With("job", "saga_recovery"),
		now:       time.Now,
		stopCh:    make(chan struct{}),
		interval:  30 * time.Second,
		batchSize: 50,
	}
}

func (j *SagaRecoveryJob) Start(ctx context.Context) {
	j.logger.Info("saga recovery job started")

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("saga recovery job exiting on context done")
			return
		case <-j.stopCh:
			j.logger.Info("saga recovery job stopped")
			return
		case <-ticker.C:
			j.resumeStuckSagas(ctx)
		}
	}
}

func (j *SagaRecoveryJob) Stop() {
	close(j.stopCh)
}

func (j *SagaRecoveryJob) resumeStuckSagas(ctx context.Context) int {
	before := j.now().Add(-j.grace)
	rows, err := j.index.ListStale(ctx, model.InFlightSteps, before, j.batchSize)
	if err != nil {
		j.logger.Error("query stuck sagas failed", "error", err)
		return 0
	}

	if len(rows) == 0 {
		return 0
	}

	j.logger.Info("found stuck sagas", "count", len(rows))

	for _, row := range rows {
		j.logger.Warn("resuming saga",
			"idempotency_key", row.IdempotencyKey,
			"step", row.Step,
			"updated_at", row.UpdatedAt,
		)
		j.saga.Resume(row.IdempotencyKey)
	}
	return len(rows)
}
