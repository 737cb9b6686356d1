package model

// 授权结果
type AuthResult string

const (
	AuthResultAuthorised AuthResult = "authorised"
	AuthResultDeclined   AuthResult = "declined"
)

type AuthStatus string

const (
	AuthStatusOK                AuthStatus = "ok"
	AuthStatusCardNotFound      AuthStatus = "card_not_found"
	AuthStatusInsufficientFunds AuthStatus = "insufficient_funds"
	AuthStatusAccountClosed     AuthStatus = "account_closed"
	AuthStatusUndisclosed       AuthStatus = "undisclosed"
	AuthStatusAccountNotFound   AuthStatus = "account_not_found"
)

// 请款结果
type CaptureResult string

const (
	CaptureResultCaptured CaptureResult = "captured"
	CaptureResultDeclined CaptureResult = "declined"
)

type CaptureStatus string

const (
	CaptureStatusOK                  CaptureStatus = "ok"
	CaptureStatusUndisclosed         CaptureStatus = "undisclosed"
	CaptureStatusAccountNotFound     CaptureStatus = "account_not_found"
	CaptureStatusTransactionNotFound CaptureStatus = "transaction_not_found"
)

// 撤销结果
type CancelResult string

const (
	CancelResultCanceled CancelResult = "canceled"
	CancelResultDeclined CancelResult = "declined"
)

type CancelStatus string

const (
	CancelStatusOK                  CancelStatus = "ok"
	CancelStatusUndisclosed         CancelStatus = "undisclosed"
	CancelStatusAccountNotFound     CancelStatus = "account_not_found"
	CancelStatusTransactionNotFound CancelStatus = "transaction_not_found"
)

// AuthorizeResponse 账户服务授权应答
type AuthorizeResponse struct {
	AuthCode   string     `json:"auth_code,omitempty"`
	AuthResult AuthResult `json:"auth_result"`
	AuthStatus AuthStatus `json:"auth_status"`
}

func AuthorizeOK(authCode string) AuthorizeResponse {
	return AuthorizeResponse{AuthCode: authCode, AuthResult: AuthResultAuthorised, AuthStatus: AuthStatusOK}
}

func AuthorizeDeclined(status AuthStatus) AuthorizeResponse {
	return AuthorizeResponse{AuthResult: AuthResultDeclined, AuthStatus: status}
}

type CaptureResponse struct {
	CaptureResult CaptureResult `json:"capture_result"`
	CaptureStatus CaptureStatus `json:"capture_status"`
}

func CaptureOK() CaptureResponse {
	return CaptureResponse{CaptureResult: CaptureResultCaptured, CaptureStatus: CaptureStatusOK}
}

func CaptureDeclined(status CaptureStatus) CaptureResponse {
	return CaptureResponse{CaptureResult: CaptureResultDeclined, CaptureStatus: status}
}

type CancelResponse struct {
	CancelResult CancelResult `json:"cancel_result"`
	CancelStatus CancelStatus `json:"cancel_status"`
}

func CancelOK() CancelResponse {
	return CancelResponse{CancelResult: CancelResultCanceled, CancelStatus: CancelStatusOK}
}

func CancelDeclined(status CancelStatus) CancelResponse {
	return CancelResponse{CancelResult: CancelResultDeclined, CancelStatus: status}
}
