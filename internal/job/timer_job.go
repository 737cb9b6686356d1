package job

import (
	"context"
	"log/slog"
	"time"

	"cardpay/internal/metrics"
	"cardpay/internal/model"
	"cardpay/internal/repository"
)

// TimerHandler 定时器到期回调，返回 nil 后定时器被删除
type TimerHandler interface {
	OnTimer(ctx context.Context, timer model.Timer) error
}

// TimerJob 轮询到期定时器并按类型分发
type TimerJob struct {
	timers    repository.TimerStore
	handlers  map[string]TimerHandler
	logger    *slog.Logger
	now       func() time.Time
	stopCh    chan struct{}
	interval  time.Duration
	batchSize int
}

func NewTimerJob(timers repository.TimerStore, logger *slog.Logger) *TimerJob {
	return &TimerJob{
		timers:    timers,
		handlers:  make(map[string]TimerHandler),
		logger:    logger.With("job", "timer"),
		now:       time.Now,
		stopCh:    make(chan struct{}),
		interval:  time.Second,
		batchSize: 100,
	}
}

// Register 在 Start 之前调用
func (j *TimerJob) Register(kind string, handler TimerHandler) {
	j.handlers[kind] = handler
}

func (j *TimerJob) Start(ctx context.Context) {
	j.logger.Info("timer job started")

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("timer job exiting on context done")
			return
		case <-j.stopCh:
			j.logger.Info("timer job stopped")
			return
		case <-ticker.C:
			j.fireDueTimers(ctx)
		}
	}
}

func (j *TimerJob) Stop() {
	close(j.stopCh)
}

func (j *TimerJob) fireDueTimers(ctx context.Context) int {
	timers, err := j.timers.Due(ctx, j.now(), j.batchSize)
	if err != nil {
		j.logger.Error("query due timers failed", "error", err)
		return 0
	}

	if len(timers) == 0 {
		return 0
	}

	j.logger.Info("found due timers", "count", len(timers))

	fired := 0
	for _, t := range timers {
		handler, ok := j.handlers[t.Kind]
		if !ok {
			metrics.TimersFired.WithLabelValues(t.Kind, "unhandled").Inc()
			j.logger.Error("no handler for timer kind", "name", t.Name, "kind", t.Kind)
			continue
		}

		if err := handler.OnTimer(ctx, t); err != nil {
			// 保留定时器，下一轮重试
			metrics.TimersFired.WithLabelValues(t.Kind, "error").Inc()
			j.logger.Error("timer handler failed", "name", t.Name, "entity_key", t.EntityKey, "error", err)
			continue
		}

		if err := j.timers.Delete(ctx, t.Name); err != nil {
			j.logger.Error("delete fired timer failed", "name", t.Name, "error", err)
		}
		metrics.TimersFired.WithLabelValues(t.Kind, "ok").Inc()
		fired++
	}
	return fired
}
