package job

import (
	"context"
	"log/slog"
	"time"

	"cardpay/internal/model"
	"cardpay/internal/repository"
)

// Projection 由某一类实体事件流驱动的视图。Apply 需要幂等，重启后可能重放最后一批事件。
type Projection interface {
	Name() string
	EntityType() string
	Apply(ctx context.Context, rec model.EventRecord) error
}

// Projector 按全局位置顺序消费事件日志，每应用一条事件推进一次位置
type Projector struct {
	journal    repository.Journal
	offsets    repository.OffsetStore
	projection Projection
	logger     *slog.Logger
	stopCh     chan struct{}
	interval   time.Duration
	batchSize  int
	// 只消费写入时间早于 now-lag 的事件，lag 需大于追加事务的最长时间
	lag time.Duration
	now func() time.Time
}

func NewProjector(journal repository.Journal, offsets repository.OffsetStore, projection Projection, lag time.Duration, logger *slog.Logger) *Projector {
	return &Projector{
		journal:    journal,
		offsets:    offsets,
		projection: projection,
		logger:     logger.With("job", "projector", "projection", projection.Name()),
		stopCh:     make(chan struct{}),
		interval:   200 * time.Millisecond,
		batchSize:  200,
		lag:        lag,
		now:        time.Now,
	}
}

func (p *Projector) Start(ctx context.Context) {
	p.logger.Info("projector started")

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("projector exiting on context done")
			return
		case <-p.stopCh:
			p.logger.Info("projector stopped")
			return
		case <-ticker.C:
			if _, err := p.RunOnce(ctx); err != nil {
				p.logger.Error("projection batch failed", "error", err)
			}
		}
	}
}

func (p *Projector) Stop() {
	close(p.stopCh)
}

// RunOnce 处理一批事件，返回成功应用的条数。出错时停在出错事件之前，下次从这里继续。
func (p *Projector) RunOnce(ctx context.Context) (int, error) {
	name := p.projection.Name()

	position, err := p.offsets.GetOffset(ctx, name)
	if err != nil {
		return 0, err
	}

	records, err := p.journal.ReadAfter(ctx, p.projection.EntityType(), position, p.now().Add(-p.lag), p.batchSize)
	if err != nil {
		return 0, err
	}

	applied := 0
	for _, rec := range records {
		if err := p.projection.Apply(ctx, rec); err != nil {
			p.logger.Error("apply event failed",
				"position", rec.ID,
				"entity_id", rec.EntityID,
				"event_type", rec.EventType,
				"error", err,
			)
			return applied, err
		}
		if err := p.offsets.SaveOffset(ctx, name, rec.ID); err != nil {
			return applied, err
		}
		applied++
	}
	return applied, nil
}
