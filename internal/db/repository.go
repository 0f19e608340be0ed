package db

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"

	"melodia/internal/apperr"
	"melodia/internal/model"
)

type PaymentRepository struct {
	pool *pgxpool.Pool
}

func NewPaymentRepository(pool *pgxpool.Pool) *PaymentRepository {
	return &PaymentRepository{pool: pool}
}

func (r *PaymentRepository) BeginTx(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

func (r *PaymentRepository) Create(ctx context.Context, rec *model.PaymentRecord) error {
	query := `INSERT INTO payments (order_id, user_id, amount, package_name, status, provider_transaction_status, created_at, updated_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err := r.pool.Exec(ctx, query, rec.OrderID, rec.UserID, rec.Amount, rec.PackageName,
		string(rec.Status), rec.ProviderTransactionStatus, rec.CreatedAt, rec.UpdatedAt)
	if err != nil {
		return errors.Wrapf(err, "insert payment %s", rec.OrderID)
	}
	return nil
}

func (r *PaymentRepository) GetByOrderID(ctx context.Context, orderID string) (*model.PaymentRecord, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE order_id = $1`
	rec, err := scanPayment(r.pool.QueryRow(ctx, query, orderID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.New(apperr.KindNotFound, "payment %s not found", orderID)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "select payment %s", orderID)
	}
	return rec, nil
}

func (r *PaymentRepository) ListByUser(ctx context.Context, userID string, limit int) ([]*model.PaymentRecord, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`
	rows, err := r.pool.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, errors.Wrapf(err, "list payments of %s", userID)
	}
	defer rows.Close()

	var records []*model.PaymentRecord
	for rows.Next() {
		rec, err := scanPayment(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan payment")
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (r *PaymentRepository) SelectForUpdateByOrderID(ctx context.Context, tx pgx.Tx, orderID string) (*model.PaymentRecord, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE order_id = $1 FOR UPDATE`
	rec, err := scanPayment(tx.QueryRow(ctx, query, orderID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.New(apperr.KindNotFound, "payment %s not found", orderID)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "select payment %s for update", orderID)
	}
	return rec, nil
}

func (r *PaymentRepository) UpdateStatus(ctx context.Context, tx pgx.Tx, rec *model.PaymentRecord) error {
	query := `UPDATE payments SET status = $2, provider_transaction_status = $3, credited_at = $4, updated_at = $5
	          WHERE order_id = $1`
	_, err := tx.Exec(ctx, query, rec.OrderID, string(rec.Status), rec.ProviderTransactionStatus, rec.CreditedAt, rec.UpdatedAt)
	if err != nil {
		return errors.Wrapf(err, "update payment %s", rec.OrderID)
	}
	return nil
}

// UpdateLocked runs mutate on the row-locked payment and persists the result,
// together with the returned credit grant, in one transaction.
func (r *PaymentRepository) UpdateLocked(ctx context.Context, orderID string, mutate func(rec *model.PaymentRecord) (int64, error)) (*model.PaymentRecord, int64, error) {
	tx, err := r.BeginTx(ctx)
	if err != nil {
		return nil, 0, errors.Wrap(err, "begin transaction")
	}
	defer tx.Rollback(ctx)

	rec, err := r.SelectForUpdateByOrderID(ctx, tx, orderID)
	if err != nil {
		return nil, 0, err
	}

	credits, err := mutate(rec)
	if err != nil {
		return nil, 0, err
	}

	if err := r.UpdateStatus(ctx, tx, rec); err != nil {
		return nil, 0, err
	}

	if credits > 0 {
		if err := addCredits(ctx, tx, rec.UserID, credits, rec.UpdatedAt); err != nil {
			return nil, 0, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, 0, errors.Wrap(err, "commit transaction")
	}
	return rec, credits, nil
}

type UserRepository struct {
	pool *pgxpool.Pool
}

func NewUserRepository(pool *pgxpool.Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

// Get returns the account, creating an empty one on first access.
func (r *UserRepository) Get(ctx context.Context, userID string) (*model.UserAccount, error) {
	query := `INSERT INTO users (id) VALUES ($1)
	          ON CONFLICT (id) DO UPDATE SET id = EXCLUDED.id
	          RETURNING id, credits, created_at, updated_at`

	var account model.UserAccount
	err := r.pool.QueryRow(ctx, query, userID).Scan(&account.ID, &account.Credits, &account.CreatedAt, &account.UpdatedAt)
	if err != nil {
		return nil, errors.Wrapf(err, "get user %s", userID)
	}
	return &account, nil
}

func addCredits(ctx context.Context, tx pgx.Tx, userID string, credits int64, at time.Time) error {
	query := `INSERT INTO users (id, credits, created_at, updated_at) VALUES ($1, $2, $3, $3)
	          ON CONFLICT (id) DO UPDATE SET credits = users.credits + EXCLUDED.credits, updated_at = EXCLUDED.updated_at`
	_, err := tx.Exec(ctx, query, userID, credits, at)
	if err != nil {
		return errors.Wrapf(err, "add %d credits to %s", credits, userID)
	}
	return nil
}

type TrackRepository struct {
	pool *pgxpool.Pool
}

func NewTrackRepository(pool *pgxpool.Pool) *TrackRepository {
	return &TrackRepository{pool: pool}
}

// Create inserts the track. A track already stored for the same job and
// provider id is left untouched and reported as not created.
func (r *TrackRepository) Create(ctx context.Context, t *model.TrackRecord) (bool, error) {
	query := `INSERT INTO tracks (` + trackColumns + `)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	          ON CONFLICT (job_id, provider_track_id) DO NOTHING`
	tag, err := r.pool.Exec(ctx, query, t.ID, t.UserID, t.JobID, t.ProviderTrackID, t.Title, t.AudioURL,
		t.ImageURL, t.Duration, t.Tags, t.Model, t.Prompt, t.CreatedAt)
	if err != nil {
		return false, errors.Wrapf(err, "insert track %s", t.ID)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *TrackRepository) ListByUser(ctx context.Context, userID string, limit int) ([]*model.TrackRecord, error) {
	query := `SELECT ` + trackColumns + ` FROM tracks WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`
	rows, err := r.pool.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, errors.Wrapf(err, "list tracks of %s", userID)
	}
	defer rows.Close()

	var tracks []*model.TrackRecord
	for rows.Next() {
		t, err := scanTrack(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan track")
		}
		tracks = append(tracks, t)
	}
	return tracks, rows.Err()
}
