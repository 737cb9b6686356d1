package handler

import (
	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func newEngine(logger *slog.Logger) *gin.Engine {
	// 设置 gin 为发布模式（减少日志输出）
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()

	// 注册中间件
	r.Use(RecoveryMiddleware(logger))
	r.Use(LoggerMiddleware(logger))
	r.Use(CORSMiddleware())

	// 健康检查
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

// SetupCorebankingRouter 账户服务路由
func SetupCorebankingRouter(h *CorebankingHandler, logger *slog.Logger) *gin.Engine {
	r := newEngine(logger)

	api := r.Group("/api/v1")
	{
		accounts := api.Group("/accounts")
		{
			accounts.POST("", h.CreateAccount)
			accounts.GET("", h.ListAccounts)
			accounts.GET("/:id", h.GetAccount)
			accounts.GET("/:id/expenditure", h.GetExpenditure)
			accounts.POST("/:id/authorize", h.Authorize)
			accounts.POST("/:id/transactions/:txId/capture", h.Capture)
			accounts.POST("/:id/transactions/:txId/cancel", h.Cancel)
		}
	}

	return r
}

// SetupPaymentsRouter 支付服务路由
func SetupPaymentsRouter(h *PaymentsHandler, logger *slog.Logger) *gin.Engine {
	r := newEngine(logger)

	api := r.Group("/api/v1")
	{
		cards := api.Group("/cards")
		{
			cards.POST("", h.CreateCard)
			cards.GET("", h.ListCards)
			cards.POST("/validate", h.ValidateCard)
			cards.GET("/:pan", h.GetCard)
		}

		transactions := api.Group("/transactions")
		{
			transactions.POST("", h.StartTransaction)
			transactions.GET("/:key", h.GetTransaction)
			transactions.POST("/:key/capture", h.CaptureTransaction)
			transactions.POST("/:key/cancel", h.CancelTransaction)
		}

		api.GET("/accounts/:id/transactions", h.ListAccountTransactions)
		api.GET("/accounts/:id/cards", h.ListAccountCards)
	}

	return r
}
