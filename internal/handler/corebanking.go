package handler

import (
	"cardpay/internal/service"
	"cardpay/pkg/response"

	"github.com/gin-gonic/gin"
)

// CorebankingHandler 账户服务接口
type CorebankingHandler struct {
	ledger      *service.LedgerService
	view        *service.AccountView
	expenditure *service.ExpenditureView
}

func NewCorebankingHandler(ledger *service.LedgerService, view *service.AccountView, expenditure *service.ExpenditureView) *CorebankingHandler {
	return &CorebankingHandler{ledger: ledger, view: view, expenditure: expenditure}
}

type CreateAccountRequest struct {
	AccountID      string `json:"account_id" binding:"required"`
	InitialBalance int64  `json:"initial_balance" binding:"gte=0"`
}

// CreateAccount 创建账户，重复创建返回已有账户
// POST /api/v1/accounts
func (h *CorebankingHandler) CreateAccount(c *gin.Context) {
	var req CreateAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request: "+err.Error())
		return
	}

	account, err := h.ledger.CreateAccount(c.Request.Context(), req.AccountID, req.InitialBalance)
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, account)
}

// GetAccount 查询账户余额和未结算授权
// GET /api/v1/accounts/:id
func (h *CorebankingHandler) GetAccount(c *gin.Context) {
	account, err := h.ledger.GetAccount(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, account)
}

// ListAccounts 账户列表（投影，可能略有延迟）
// GET /api/v1/accounts
func (h *CorebankingHandler) ListAccounts(c *gin.Context) {
	accounts, err := h.view.List(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, gin.H{
		"list":  accounts,
		"total": len(accounts),
	})
}

// GetExpenditure 账户收支（投影）
// GET /api/v1/accounts/:id/expenditure
func (h *CorebankingHandler) GetExpenditure(c *gin.Context) {
	row, err := h.expenditure.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, row)
}

type AuthorizeRequest struct {
	TransactionID string `json:"transaction_id" binding:"required"`
	Amount        int64  `json:"amount" binding:"required"`
}

// Authorize 授权冻结。拒绝也是正常应答，结果在 auth_result / auth_status 中
// POST /api/v1/accounts/:id/authorize
func (h *CorebankingHandler) Authorize(c *gin.Context) {
	var req AuthorizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request: "+err.Error())
		return
	}

	resp, err := h.ledger.Authorize(c.Request.Context(), c.Param("id"), req.TransactionID, req.Amount)
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, resp)
}

// Capture 请款
// POST /api/v1/accounts/:id/transactions/:txId/capture
func (h *CorebankingHandler) Capture(c *gin.Context) {
	resp, err := h.ledger.Capture(c.Request.Context(), c.Param("id"), c.Param("txId"))
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, resp)
}

// Cancel 撤销授权
// POST /api/v1/accounts/:id/transactions/:txId/cancel
func (h *CorebankingHandler) Cancel(c *gin.Context) {
	resp, err := h.ledger.Cancel(c.Request.Context(), c.Param("id"), c.Param("txId"))
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, resp)
}
