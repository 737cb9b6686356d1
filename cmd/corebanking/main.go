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
	"cardpay/internal/service"
	"cardpay/pkg/idgen"

	"github.com/spf13/pflag"
)

func main() {
	configPath := pflag.String("config", "config/config.yaml", "path to config file")
	workerID := pflag.Int64("worker-id", 1, "snowflake worker id, unique per replica")
	pflag.Parse()

	// 加载配置
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	logger := cfg.Log.NewLogger().With("service", "corebanking")

	// 初始化 ID 生成器
	if err := idgen.Init(*workerID); err != nil {
		logger.Error("init id generator failed", "error", err)
		os.Exit(1)
	}

	stores, err := app.OpenStores(cfg, "corebanking", logger)
	if err != nil {
		logger.Error("open stores failed", "error", err)
		os.Exit(1)
	}
	defer stores.Close()

	ledger := service.NewLedgerService(stores.Journal, stores.Locker, cfg.Kafka.Topic.AccountEvents, logger)
	accountView := service.NewAccountView(stores.AccountViews)
	expenditureView := service.NewExpenditureView(stores.Expenditures)

	// 创建上下文（用于优雅关闭）
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 启动后台任务
	go job.NewProjector(stores.Journal, stores.Offsets, accountView, stores.VisibilityLag, logger).Start(ctx)
	go job.NewProjector(stores.Journal, stores.Offsets, expenditureView, stores.VisibilityLag, logger).Start(ctx)

	if cfg.Kafka.Enabled {
		producer, err := mq.NewKafkaProducer(&cfg.Kafka)
		if err != nil {
			logger.Error("init kafka failed", "error", err)
			os.Exit(1)
		}
		publisher := mq.NewKafkaPublisher(producer)
		defer publisher.Close()

		go job.NewOutboxSender(stores.Outbox, publisher, cfg.Business.MaxRetryCount, logger).Start(ctx)
	} else {
		logger.Warn("kafka disabled, account events stay in the outbox")
	}

	// 设置路由
	router := handler.SetupCorebankingRouter(handler.NewCorebankingHandler(ledger, accountView, expenditureView), logger)

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

	logger.Info("server stopped")
}
