package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"cardpay/internal/model"
	"cardpay/pkg/response"
)

// AccountClient 支付服务访问账户账本的接口。
// 返回 error 表示调用本身失败（超时、网络、服务异常），业务拒绝通过应答数据表达。
type AccountClient interface {
	Authorize(ctx context.Context, accountID, transactionID string, amount int64) (model.AuthorizeResponse, error)
	Capture(ctx context.Context, accountID, transactionID string) (model.CaptureResponse, error)
	Cancel(ctx context.Context, accountID, transactionID string) (model.CancelResponse, error)
}

// LocalAccountClient 同进程直接调用账本
type LocalAccountClient struct {
	ledger *LedgerService
}

func NewLocalAccountClient(ledger *LedgerService) *LocalAccountClient {
	return &LocalAccountClient{ledger: ledger}
}

func (c *LocalAccountClient) Authorize(ctx context.Context, accountID, transactionID string, amount int64) (model.AuthorizeResponse, error) {
	return c.ledger.Authorize(ctx, accountID, transactionID, amount)
}

func (c *LocalAccountClient) Capture(ctx context.Context, accountID, transactionID string) (model.CaptureResponse, error) {
	return c.ledger.Capture(ctx, accountID, transactionID)
}

func (c *LocalAccountClient) Cancel(ctx context.Context, accountID, transactionID string) (model.CancelResponse, error) {
	return c.ledger.Cancel(ctx, accountID, transactionID)
}

// HTTPAccountClient 通过账户服务的 HTTP 接口调用
type HTTPAccountClient struct {
	baseURL string
	client  *http.Client
}

func NewHTTPAccountClient(baseURL string, timeout time.Duration) *HTTPAccountClient {
	return &HTTPAccountClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

type authorizeBody struct {
	TransactionID string `json:"transaction_id"`
	Amount        int64  `json:"amount"`
}

func (c *HTTPAccountClient) Authorize(ctx context.Context, accountID, transactionID string, amount int64) (model.AuthorizeResponse, error) {
	var out model.AuthorizeResponse
	path := fmt.Sprintf("/api/v1/accounts/%s/authorize", url.PathEscape(accountID))
	err := c.post(ctx, path, authorizeBody{TransactionID: transactionID, Amount: amount}, &out)
	return out, err
}

func (c *HTTPAccountClient) Capture(ctx context.Context, accountID, transactionID string) (model.CaptureResponse, error) {
	var out model.CaptureResponse
	path := fmt.Sprintf("/api/v1/accounts/%s/transactions/%s/capture", url.PathEscape(accountID), url.PathEscape(transactionID))
	err := c.post(ctx, path, nil, &out)
	return out, err
}

func (c *HTTPAccountClient) Cancel(ctx context.Context, accountID, transactionID string) (model.CancelResponse, error) {
	var out model.CancelResponse
	path := fmt.Sprintf("/api/v1/accounts/%s/transactions/%s/cancel", url.PathEscape(accountID), url.PathEscape(transactionID))
	err := c.post(ctx, path, nil, &out)
	return out, err
}

func (c *HTTPAccountClient) post(ctx context.Context, path string, body, out interface{}) error {
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader([]byte("{}"))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("call corebanking %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("call corebanking %s: http status %d", path, resp.StatusCode)
	}

	var env response.Envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("decode corebanking response: %w", err)
	}
	if env.Code != response.CodeSuccess {
		return fmt.Errorf("corebanking %s: code %d: %s", path, env.Code, env.Message)
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("decode corebanking data: %w", err)
	}
	return nil
}
