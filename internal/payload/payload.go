package payload

// Notification is the body the payment provider POSTs to the webhook.
type Notification struct {
	OrderID           string `json:"order_id" binding:"required"`
	StatusCode        string `json:"status_code"`
	GrossAmount       string `json:"gross_amount"`
	TransactionStatus string `json:"transaction_status"`
	SignatureKey      string `json:"signature_key"`
	FraudStatus       string `json:"fraud_status,omitempty"`
	PaymentType       string `json:"payment_type,omitempty"`
	TransactionID     string `json:"transaction_id,omitempty"`
}

type CreateTransaction struct {
	Amount      int64  `json:"amount"`
	PackageName string `json:"packageName" binding:"required"`
}

type CheckStatus struct {
	OrderID string `json:"orderId" binding:"required"`
}
