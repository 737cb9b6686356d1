// Package app 按配置组装存储、锁和收件箱，两个服务的 main 共用
package app

import (
	"fmt"
	"log/slog"
	"time"

	"cardpay/internal/config"
	"cardpay/internal/infrastructure/cache"
	"cardpay/internal/infrastructure/database"
	"cardpay/internal/infrastructure/lock"
	"cardpay/internal/repository"
	"cardpay/internal/repository/memory"

	"github.com/go-redis/redis/v8"
)

// Stores 服务运行所需的全部存储
type Stores struct {
	Journal      repository.Journal
	Outbox       repository.OutboxStore
	Timers       repository.TimerStore
	Offsets      repository.OffsetStore
	AccountCards repository.AccountCardStore
	Transactions repository.TransactionIndexStore
	AccountViews repository.AccountViewStore
	CardViews    repository.CardViewStore
	Expenditures repository.ExpenditureStore
	Locker       lock.Locker
	Inbox        cache.Inbox

	// VisibilityLag 投影读取事件日志的可见延迟；内存日志追加即可见，为 0
	VisibilityLag time.Duration

	redis *redis.Client
}

// OpenStores keyPrefix 用于区分不同服务在 Redis 中的锁和收件箱
func OpenStores(cfg *config.Config, keyPrefix string, logger *slog.Logger) (*Stores, error) {
	s := &Stores{}

	if cfg.Database.Driver == "memory" {
		logger.Warn("using in-memory storage, state is lost on restart")
		outbox := memory.NewOutbox()
		s.Journal = memory.NewJournal(outbox)
		s.Outbox = outbox
		s.Timers = memory.NewTimers()
		s.Offsets = memory.NewOffsets()
		s.AccountCards = memory.NewAccountCards()
		s.Transactions = memory.NewTransactionIndex()
		s.AccountViews = memory.NewAccountViews()
		s.CardViews = memory.NewCardViews()
		s.Expenditures = memory.NewExpenditures()
	} else {
		db, err := database.Open(&cfg.Database)
		if err != nil {
			return nil, err
		}
		s.VisibilityLag = cfg.Database.JournalLag()
		s.Journal = repository.NewJournalRepository(db, s.VisibilityLag/2)
		s.Outbox = repository.NewOutboxRepository(db)
		s.Timers = repository.NewTimerRepository(db)
		s.Offsets = repository.NewOffsetRepository(db)
		s.AccountCards = repository.NewAccountCardRepository(db)
		s.Transactions = repository.NewTransactionIndexRepository(db)
		s.AccountViews = repository.NewAccountViewRepository(db)
		s.CardViews = repository.NewCardViewRepository(db)
		s.Expenditures = repository.NewExpenditureRepository(db)
		logger.Info("database connected", "driver", cfg.Database.Driver, "host", cfg.Database.Host)
	}

	if cfg.Redis.Enabled {
		client, err := cache.InitRedis(&cfg.Redis)
		if err != nil {
			return nil, err
		}
		s.redis = client
		s.Inbox = cache.NewRedisInbox(client, keyPrefix, cfg.Business.InboxTTL())
		logger.Info("redis connected", "host", cfg.Redis.Host, "port", cfg.Redis.Port)
	} else {
		s.Inbox = cache.NewMemoryInbox()
	}

	switch cfg.Lock.Driver {
	case "redis":
		if s.redis == nil {
			return nil, fmt.Errorf("lock driver redis requires redis.enabled")
		}
		s.Locker = lock.NewRedisLocker(s.redis, keyPrefix, cfg.Lock.TTL())
	default:
		s.Locker = lock.NewKeyedMutex()
	}

	return s, nil
}

func (s *Stores) Close() error {
	if s.redis != nil {
		return s.redis.Close()
	}
	return nil
}
