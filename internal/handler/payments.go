package handler

import (
	"cardpay/internal/service"
	"cardpay/pkg/response"

	"github.com/gin-gonic/gin"
)

// PaymentsHandler 卡和交易接口
type PaymentsHandler struct {
	cards        *service.CardService
	cardView     *service.CardView
	saga         *service.TransactionSaga
	transactions *service.TransactionIndex
}

func NewPaymentsHandler(
	cards *service.CardService,
	cardView *service.CardView,
	saga *service.TransactionSaga,
	transactions *service.TransactionIndex,
) *PaymentsHandler {
	return &PaymentsHandler{cards: cards, cardView: cardView, saga: saga, transactions: transactions}
}

// ============================================================
// 卡
// ============================================================

// CreateCard 创建卡，账户创建事件到达后自动激活
// POST /api/v1/cards
func (h *PaymentsHandler) CreateCard(c *gin.Context) {
	var req service.CreateCardRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request: "+err.Error())
		return
	}

	card, err := h.cards.CreateCard(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, card)
}

// GetCard 查询卡
// GET /api/v1/cards/:pan
func (h *PaymentsHandler) GetCard(c *gin.Context) {
	card, err := h.cards.GetCard(c.Request.Context(), c.Param("pan"))
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, card)
}

// ListCards 卡列表（投影）
// GET /api/v1/cards
func (h *PaymentsHandler) ListCards(c *gin.Context) {
	list, err := h.cardView.List(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, gin.H{
		"list":  list,
		"total": len(list),
	})
}

// ListAccountCards 按账户列出卡
// GET /api/v1/accounts/:id/cards
func (h *PaymentsHandler) ListAccountCards(c *gin.Context) {
	list, err := h.cardView.ListByAccount(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, gin.H{
		"list":  list,
		"total": len(list),
	})
}

type ValidateCardRequest struct {
	Pan        string `json:"pan" binding:"required"`
	ExpiryDate string `json:"expiry_date" binding:"required"`
	CVV        string `json:"cvv" binding:"required"`
}

// ValidateCard 校验卡数据
// POST /api/v1/cards/validate
func (h *PaymentsHandler) ValidateCard(c *gin.Context) {
	var req ValidateCardRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request: "+err.Error())
		return
	}

	accountID, ok, err := h.cards.ValidateCard(c.Request.Context(), req.Pan, req.ExpiryDate, req.CVV)
	if err != nil {
		writeError(c, err)
		return
	}
	if !ok {
		response.BusinessError(c, response.CodeCardInvalid, "card not found or card data mismatch")
		return
	}

	response.Success(c, gin.H{"account_id": accountID})
}

// ============================================================
// 交易
// ============================================================

// StartTransaction 发起交易，卡校验和授权异步执行
// POST /api/v1/transactions
func (h *PaymentsHandler) StartTransaction(c *gin.Context) {
	var req service.StartTransactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request: "+err.Error())
		return
	}

	reply, err := h.saga.Start(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, gin.H{
		"idempotency_key": req.IdempotencyKey,
		"reply":           reply,
	})
}

// GetTransaction 查询交易流程状态
// GET /api/v1/transactions/:key
func (h *PaymentsHandler) GetTransaction(c *gin.Context) {
	st, err := h.saga.GetTransaction(c.Request.Context(), c.Param("key"))
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, st)
}

// CaptureTransaction 请款
// POST /api/v1/transactions/:key/capture
func (h *PaymentsHandler) CaptureTransaction(c *gin.Context) {
	reply, err := h.saga.Capture(c.Request.Context(), c.Param("key"))
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, gin.H{"reply": reply})
}

// CancelTransaction 撤销
// POST /api/v1/transactions/:key/cancel
func (h *PaymentsHandler) CancelTransaction(c *gin.Context) {
	reply, err := h.saga.Cancel(c.Request.Context(), c.Param("key"))
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, gin.H{"reply": reply})
}

// ListAccountTransactions 按账户列出交易
// GET /api/v1/accounts/:id/transactions
func (h *PaymentsHandler) ListAccountTransactions(c *gin.Context) {
	list, err := h.transactions.ListByAccount(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, gin.H{
		"list":  list,
		"total": len(list),
	})
}
