package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cardpay/internal/app"
	"cardpay/internal/config"
	"cardpay/internal/handler"
	"cardpay/internal/infrastructure/mq"
	"cardpay/internal/job"
	"cardpay/internal/model"
	"cardpay/internal/service"
	"cardpay/pkg/idgen"

	"github.com/spf13/pflag"
)

func main() {
	configPath := pflag.String("config", "config/config.yaml", "path to config file")
	workerID := pflag.Int64("worker-id", 2, "snowflake worker id, unique per replica")
	pflag.Parse()

	// 加载配置
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	logger := cfg.Log.NewLogger().With("service", "payments")

	// 初始化 ID 生成器
	if err := idgen.Init(*workerID); err != nil {
		logger.Error("init id generator failed", "error", err)
		os.Exit(1)
	}

	stores, err := app.OpenStores(cfg, "payments", logger)
	if err != nil {
		logger.Error("open stores failed", "error", err)
		os.Exit(1)
	}
	defer stores.Close()

	cards := service.NewCardService(stores.Journal, stores.Locker, logger)
	cardIndex := service.NewAccountCardIndex(stores.AccountCards, logger)
	txIndex := service.NewTransactionIndex(stores.Transactions)
	cardView := service.NewCardView(stores.CardViews)
	accounts := service.NewHTTPAccountClient(cfg.Corebanking.BaseURL, cfg.Business.RemoteCallTimeout())
	saga := service.NewTransactionSaga(stores.Journal, stores.Locker, cards, accounts, stores.Timers, service.SagaOptions{
		AutoCancelAfter: cfg.Business.AutoCancelAfter(),
		CallTimeout:     cfg.Business.RemoteCallTimeout(),
	}, logger)
	propagator := service.NewActivationPropagator(cardIndex, cards, stores.Inbox, logger)

	// 创建上下文（用于优雅关闭）
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 启动后台任务
	go job.NewProjector(stores.Journal, stores.Offsets, cardIndex, stores.VisibilityLag, logger).Start(ctx)
	go job.NewProjector(stores.Journal, stores.Offsets, txIndex, stores.VisibilityLag, logger).Start(ctx)
	go job.NewProjector(stores.Journal, stores.Offsets, cardView, stores.VisibilityLag, logger).Start(ctx)

	timerJob := job.NewTimerJob(stores.Timers, logger)
	timerJob.Register(model.TimerKindAutoCancel, saga)
	go timerJob.Start(ctx)

	go job.NewSagaRecoveryJob(stores.Transactions, saga, cfg.Business.RecoveryGrace(), logger).Start(ctx)

	if cfg.Kafka.Enabled {
		group, err := mq.NewConsumerGroup(&cfg.Kafka)
		if err != nil {
			logger.Error("init kafka consumer failed", "error", err)
			os.Exit(1)
		}
		consumer := mq.NewConsumer(group, []string{cfg.Kafka.Topic.AccountEvents}, propagator.HandleMessage, logger)
		defer consumer.Close()

		go consumer.Start(ctx)
	} else {
		logger.Warn("kafka disabled, cards will not be activated by account events")
	}

	// 设置路由
	router := handler.SetupPaymentsRouter(handler.NewPaymentsHandler(cards, cardView, saga, txIndex), logger)

	// 启动 HTTP 服务
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	// 在 goroutine 中启动服务器
	go func() {
		logger.Info("server listening", "port", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	// 等待中断信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")

	// 取消上下文，停止后台任务
	cancel()

	// 关闭 HTTP 服务（等待最多5秒）
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", "error", err)
	}

	// 中断未完成的流程步骤，重启后由恢复任务继续
	saga.Close()

	logger.Info("server stopped")
}
