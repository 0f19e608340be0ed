package db

import (
	"github.com/jackc/pgx/v5"

	"melodia/internal/model"
)

const paymentColumns = `order_id, user_id, amount, package_name, status, provider_transaction_status, credited_at, created_at, updated_at`

const trackColumns = `id, user_id, job_id, provider_track_id, title, audio_url, image_url, duration, tags, model, prompt, created_at`

func scanPayment(row pgx.Row) (*model.PaymentRecord, error) {
	var rec model.PaymentRecord
	err := row.Scan(&rec.OrderID, &rec.UserID, &rec.Amount, &rec.PackageName, &rec.Status,
		&rec.ProviderTransactionStatus, &rec.CreditedAt, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func scanTrack(row pgx.Row) (*model.TrackRecord, error) {
	var t model.TrackRecord
	err := row.Scan(&t.ID, &t.UserID, &t.JobID, &t.ProviderTrackID, &t.Title, &t.AudioURL,
		&t.ImageURL, &t.Duration, &t.Tags, &t.Model, &t.Prompt, &t.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
