package service

import "errors"

var (
	ErrAccountNotFound     = errors.New("account not found")
	ErrCardNotFound        = errors.New("card not found")
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrAccountCardNotFound = errors.New("no card registered for account")

	// ErrNoPendingCard 账户已创建但没有待激活的卡，消费端返回该错误以触发重投
	ErrNoPendingCard = errors.New("account created without pending card")

	ErrInvalidAmount  = errors.New("amount must be positive")
	ErrInvalidRequest = errors.New("invalid request")

	// ErrEntityBusy 并发写冲突重试次数用尽
	ErrEntityBusy = errors.New("entity busy, retry later")
)
