package payment

import (
	"context"
)

type TransactionRequest struct {
	OrderID     string
	Amount      int64
	PackageName string
	FinishURL   string
}

type TransactionToken struct {
	Token       string `json:"token"`
	RedirectURL string `json:"redirectUrl"`
}

type TransactionStatus struct {
	OrderID           string `json:"order_id"`
	StatusCode        string `json:"status_code"`
	GrossAmount       string `json:"gross_amount"`
	TransactionStatus string `json:"transaction_status"`
	FraudStatus       string `json:"fraud_status,omitempty"`
}

// Gateway is the payment provider. Calls are fire-once; the service does not
// retry them.
type Gateway interface {
	CreateTransaction(ctx context.Context, req TransactionRequest) (*TransactionToken, error)
	TransactionStatus(ctx context.Context, orderID string) (*TransactionStatus, error)
}
