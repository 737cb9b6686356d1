package handler

import (
	"errors"

	"cardpay/internal/service"
	"cardpay/pkg/response"

	"github.com/gin-gonic/gin"
)

// writeError 把服务层错误映射为统一响应码
func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrAccountNotFound):
		response.BusinessError(c, response.CodeAccountNotFound, err.Error())
	case errors.Is(err, service.ErrCardNotFound):
		response.BusinessError(c, response.CodeCardNotFound, err.Error())
	case errors.Is(err, service.ErrTransactionNotFound):
		response.BusinessError(c, response.CodeTransactionNotFound, err.Error())
	case errors.Is(err, service.ErrInvalidAmount):
		response.BusinessError(c, response.CodeInvalidAmount, err.Error())
	case errors.Is(err, service.ErrInvalidRequest):
		response.ParamError(c, err.Error())
	case errors.Is(err, service.ErrEntityBusy):
		response.BusinessError(c, response.CodeEntityBusy, err.Error())
	default:
		response.ServerError(c, err.Error())
	}
}
