package model

import (
	"time"

	"github.com/google/uuid"
)

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
	PaymentExpired   PaymentStatus = "expired"
	PaymentRefunded  PaymentStatus = "refunded"
)

func (s PaymentStatus) Terminal() bool {
	return s != PaymentPending
}

type PaymentRecord struct {
	OrderID                   string        `json:"orderId"`
	UserID                    string        `json:"userId"`
	Amount                    int64         `json:"amount"`
	PackageName               string        `json:"packageName"`
	Status                    PaymentStatus `json:"status"`
	ProviderTransactionStatus string        `json:"providerTransactionStatus,omitempty"`
	CreditedAt                *time.Time    `json:"creditedAt,omitempty"`
	CreatedAt                 time.Time     `json:"createdAt"`
	UpdatedAt                 time.Time     `json:"updatedAt"`
}

type UserAccount struct {
	ID        string    `json:"id"`
	Credits   int64     `json:"credits"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobDone       JobStatus = "done"
	JobFailed     JobStatus = "failed"
)

func (s JobStatus) Terminal() bool {
	return s == JobDone || s == JobFailed
}

type TrackRecord struct {
	ID              uuid.UUID `json:"id"`
	UserID          string    `json:"userId"`
	JobID           string    `json:"jobId"`
	ProviderTrackID string    `json:"providerTrackId"`
	Title           string    `json:"title"`
	AudioURL        string    `json:"audioUrl"`
	ImageURL        string    `json:"imageUrl"`
	Duration        float64   `json:"duration"`
	Tags            string    `json:"tags"`
	Model           string    `json:"model"`
	Prompt          string    `json:"prompt"`
	CreatedAt       time.Time `json:"createdAt"`
}
