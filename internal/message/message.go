package message

import (
	"time"

	"github.com/google/uuid"

	"melodia/internal/model"
)

const (
	EventPaymentStatusChanged = "payment.status_changed"
	EventTrackCreated         = "track.created"
)

// Event is the envelope written to the events topic.
type Event struct {
	ID         uuid.UUID `json:"id"`
	Event      string    `json:"event"`
	OccurredAt time.Time `json:"occurredAt"`
	Payload    any       `json:"payload"`
}

type PaymentStatusChanged struct {
	OrderID        string              `json:"orderId"`
	UserID         string              `json:"userId"`
	PreviousStatus model.PaymentStatus `json:"previousStatus"`
	Status         model.PaymentStatus `json:"status"`
	ProviderStatus string              `json:"providerStatus"`
	CreditsGranted int64               `json:"creditsGranted"`
}

type TrackCreated struct {
	TrackID uuid.UUID `json:"trackId"`
	UserID  string    `json:"userId"`
	JobID   string    `json:"jobId"`
	Title   string    `json:"title"`
}

func NewEvent(name string, payload any) Event {
	return Event{
		ID:         uuid.New(),
		Event:      name,
		OccurredAt: time.Now().UTC(),
		Payload:    payload,
	}
}
