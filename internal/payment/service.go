package payment

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/shopspring/decimal"

	"melodia/internal/apperr"
	"melodia/internal/logging"
	"melodia/internal/message"
	"melodia/internal/model"
	"melodia/internal/payload"
)

var (
	transitionCompletedCounter = metrics.GetOrCreateCounter(`payment_transitions_total{result="completed"}`)
	transitionFailedCounter    = metrics.GetOrCreateCounter(`payment_transitions_total{result="failed"}`)
	transitionExpiredCounter   = metrics.GetOrCreateCounter(`payment_transitions_total{result="expired"}`)
	transitionRefundedCounter  = metrics.GetOrCreateCounter(`payment_transitions_total{result="refunded"}`)
	transitionPendingCounter   = metrics.GetOrCreateCounter(`payment_transitions_total{result="pending"}`)

	creditsGrantedCounter    = metrics.GetOrCreateCounter(`payment_credits_granted_total`)
	signatureRejectedCounter = metrics.GetOrCreateCounter(`payment_updates_rejected_total{reason="signature"}`)
	notFoundRejectedCounter  = metrics.GetOrCreateCounter(`payment_updates_rejected_total{reason="not_found"}`)

	createSuccessCounter  = metrics.GetOrCreateCounter(`payment_create_total{result="success"}`)
	createProviderCounter = metrics.GetOrCreateCounter(`payment_create_total{result="provider_error"}`)
)

type Store interface {
	Create(ctx context.Context, rec *model.PaymentRecord) error
	GetByOrderID(ctx context.Context, orderID string) (*model.PaymentRecord, error)
	UpdateLocked(ctx context.Context, orderID string, mutate func(rec *model.PaymentRecord) (int64, error)) (*model.PaymentRecord, int64, error)
}

type EventPublisher interface {
	Publish(ctx context.Context, key string, event message.Event) error
}

type Source string

const (
	SourceWebhook     Source = "webhook"
	SourceStatusCheck Source = "status_check"
)

// Update is one provider-reported status for an order. The signature fields
// are only checked for SourceWebhook.
type Update struct {
	Source            Source
	OrderID           string
	TransactionStatus string
	StatusCode        string
	GrossAmount       string
	SignatureKey      string
}

type Outcome struct {
	Record         *model.PaymentRecord `json:"record"`
	PreviousStatus model.PaymentStatus  `json:"previousStatus"`
	CreditsGranted int64                `json:"creditsGranted"`
}

type Created struct {
	OrderID     string `json:"orderId"`
	Token       string `json:"snapToken"`
	RedirectURL string `json:"redirectUrl,omitempty"`
	ClientKey   string `json:"clientKey,omitempty"`
}

type Options struct {
	ServerKey   string
	ClientKey   string
	OrderPrefix string
	MinAmount   int64
}

type Service struct {
	store   Store
	gateway Gateway
	events  EventPublisher
	logger  *slog.Logger
	opts    Options
	now     func() time.Time
}

func NewService(store Store, gateway Gateway, events EventPublisher, opts Options, logger *slog.Logger) *Service {
	if opts.MinAmount <= 0 {
		opts.MinAmount = DefaultMinAmount
	}
	if opts.OrderPrefix == "" {
		opts.OrderPrefix = "MELODIA"
	}
	return &Service{
		store:   store,
		gateway: gateway,
		events:  events,
		logger:  logger,
		opts:    opts,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) newOrderID(userID string, at time.Time) string {
	return fmt.Sprintf("%s-%s-%d", s.opts.OrderPrefix, userID, at.UnixMilli())
}

// CreateTransaction writes a pending record and then asks the provider for a
// payment token. When the provider call fails the pending record stays in
// place for manual reconciliation.
func (s *Service) CreateTransaction(ctx context.Context, userID string, amount int64, packageName string) (*Created, error) {
	if amount < s.opts.MinAmount {
		return nil, apperr.New(apperr.KindInvalidAmount, "amount must be at least %d", s.opts.MinAmount)
	}
	if s.opts.ServerKey == "" {
		return nil, apperr.New(apperr.KindConfiguration, "payment provider is not configured")
	}

	now := s.now()
	rec := &model.PaymentRecord{
		OrderID:     s.newOrderID(userID, now),
		UserID:      userID,
		Amount:      amount,
		PackageName: packageName,
		Status:      model.PaymentPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	ctx = logging.AppendCtx(ctx, slog.String("orderId", rec.OrderID))

	if err := s.store.Create(ctx, rec); err != nil {
		s.logger.ErrorContext(ctx, "Error creating payment record", "error", err)
		return nil, err
	}

	token, err := s.gateway.CreateTransaction(ctx, TransactionRequest{
		OrderID:     rec.OrderID,
		Amount:      amount,
		PackageName: packageName,
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "Error creating provider transaction, leaving record pending", "error", err)
		createProviderCounter.Inc()
		return nil, apperr.Wrap(apperr.KindPaymentCreation, err, "failed to create payment")
	}

	createSuccessCounter.Inc()
	s.logger.InfoContext(ctx, "Payment transaction created", "amount", amount, "package", packageName)

	return &Created{
		OrderID:     rec.OrderID,
		Token:       token.Token,
		RedirectURL: token.RedirectURL,
		ClientKey:   s.opts.ClientKey,
	}, nil
}

// ApplyProviderUpdate is the single entry point for both the webhook and the
// status check paths. It is safe under duplicate, concurrent and out-of-order
// delivery: the credit is granted at most once per record.
func (s *Service) ApplyProviderUpdate(ctx context.Context, u Update) (*Outcome, error) {
	ctx = logging.AppendCtx(ctx, slog.String("orderId", u.OrderID))
	ctx = logging.AppendCtx(ctx, slog.String("source", string(u.Source)))

	if u.Source == SourceWebhook {
		if s.opts.ServerKey == "" {
			return nil, apperr.New(apperr.KindConfiguration, "payment provider is not configured")
		}
		if !VerifySignature(u.OrderID, u.StatusCode, u.GrossAmount, s.opts.ServerKey, u.SignatureKey) {
			s.logger.WarnContext(ctx, "Rejecting provider update with invalid signature")
			signatureRejectedCounter.Inc()
			return nil, apperr.New(apperr.KindSignature, "invalid signature")
		}
	}

	mapped := MapProviderStatus(u.TransactionStatus)

	var previous model.PaymentStatus
	rec, credits, err := s.store.UpdateLocked(ctx, u.OrderID, func(rec *model.PaymentRecord) (int64, error) {
		now := s.now()
		previous = rec.Status

		rec.Status = nextStatus(rec.Status, mapped)
		rec.ProviderTransactionStatus = u.TransactionStatus
		rec.UpdatedAt = now

		if mapped != model.PaymentCompleted || rec.CreditedAt != nil {
			return 0, nil
		}
		rec.CreditedAt = &now
		return CreditsFor(rec.Amount), nil
	})
	if err != nil {
		if apperr.Is(err, apperr.KindNotFound) {
			notFoundRejectedCounter.Inc()
		}
		s.logger.ErrorContext(ctx, "Error applying provider update", "error", err)
		return nil, err
	}

	countTransition(rec.Status)
	if credits > 0 {
		creditsGrantedCounter.Add(int(credits))
	}

	s.logger.InfoContext(ctx, "Provider update applied",
		"providerStatus", u.TransactionStatus,
		"previousStatus", previous,
		"status", rec.Status,
		"creditsGranted", credits)

	outcome := &Outcome{Record: rec, PreviousStatus: previous, CreditsGranted: credits}
	if previous != rec.Status || credits > 0 {
		s.publish(ctx, outcome)
	}
	return outcome, nil
}

// HandleNotification applies a signed webhook delivery.
func (s *Service) HandleNotification(ctx context.Context, n payload.Notification) (*Outcome, error) {
	outcome, err := s.ApplyProviderUpdate(ctx, Update{
		Source:            SourceWebhook,
		OrderID:           n.OrderID,
		TransactionStatus: n.TransactionStatus,
		StatusCode:        n.StatusCode,
		GrossAmount:       n.GrossAmount,
		SignatureKey:      n.SignatureKey,
	})
	if err != nil {
		return nil, err
	}

	s.warnOnAmountMismatch(ctx, n.GrossAmount, outcome.Record.Amount)
	return outcome, nil
}

// CheckStatus queries the provider for an order owned by userID and applies
// the reported status. The provider is queried server side, so the result is
// trusted without a signature.
func (s *Service) CheckStatus(ctx context.Context, userID, orderID string) (*Outcome, *TransactionStatus, error) {
	rec, err := s.store.GetByOrderID(ctx, orderID)
	if err != nil {
		return nil, nil, err
	}
	if rec.UserID != userID {
		return nil, nil, apperr.New(apperr.KindNotFound, "payment %s not found", orderID)
	}

	status, err := s.gateway.TransactionStatus(ctx, orderID)
	if err != nil {
		return nil, nil, apperr.Wrap(apperr.KindProvider, err, "failed to check payment status")
	}

	outcome, err := s.ApplyProviderUpdate(ctx, Update{
		Source:            SourceStatusCheck,
		OrderID:           orderID,
		TransactionStatus: status.TransactionStatus,
		StatusCode:        status.StatusCode,
		GrossAmount:       status.GrossAmount,
	})
	if err != nil {
		return nil, nil, err
	}
	return outcome, status, nil
}

func (s *Service) warnOnAmountMismatch(ctx context.Context, grossAmount string, amount int64) {
	if grossAmount == "" {
		return
	}
	gross, err := decimal.NewFromString(grossAmount)
	if err != nil {
		s.logger.WarnContext(ctx, "Unparseable gross amount in notification", "grossAmount", grossAmount)
		return
	}
	if !gross.Equal(decimal.NewFromInt(amount)) {
		s.logger.WarnContext(ctx, "Notification gross amount differs from payment amount",
			"grossAmount", grossAmount, "amount", amount)
	}
}

func (s *Service) publish(ctx context.Context, o *Outcome) {
	event := message.NewEvent(message.EventPaymentStatusChanged, message.PaymentStatusChanged{
		OrderID:        o.Record.OrderID,
		UserID:         o.Record.UserID,
		PreviousStatus: o.PreviousStatus,
		Status:         o.Record.Status,
		ProviderStatus: o.Record.ProviderTransactionStatus,
		CreditsGranted: o.CreditsGranted,
	})
	if err := s.events.Publish(ctx, o.Record.OrderID, event); err != nil {
		s.logger.ErrorContext(ctx, "Error publishing payment event", "error", err)
	}
}

func countTransition(status model.PaymentStatus) {
	switch status {
	case model.PaymentCompleted:
		transitionCompletedCounter.Inc()
	case model.PaymentFailed:
		transitionFailedCounter.Inc()
	case model.PaymentExpired:
		transitionExpiredCounter.Inc()
	case model.PaymentRefunded:
		transitionRefundedCounter.Inc()
	default:
		transitionPendingCounter.Inc()
	}
}
