package payment

import (
	"melodia/internal/model"
)

const (
	// DefaultMinAmount is the smallest accepted top-up, in the smallest currency unit.
	DefaultMinAmount int64 = 10_000

	creditsPerThousand int64 = 100
)

// Raw transaction statuses reported by the payment provider.
const (
	ProviderSettlement = "settlement"
	ProviderCapture    = "capture"
	ProviderDeny       = "deny"
	ProviderCancel     = "cancel"
	ProviderExpire     = "expire"
	ProviderRefund     = "refund"
	ProviderPending    = "pending"
)

// CreditsFor returns the credits granted for a completed payment of amount.
func CreditsFor(amount int64) int64 {
	if amount <= 0 {
		return 0
	}
	return amount / 1000 * creditsPerThousand
}

// MapProviderStatus maps a raw provider status onto the internal status.
// Unknown values map to pending.
func MapProviderStatus(raw string) model.PaymentStatus {
	switch raw {
	case ProviderSettlement, ProviderCapture:
		return model.PaymentCompleted
	case ProviderDeny, ProviderCancel:
		return model.PaymentFailed
	case ProviderExpire:
		return model.PaymentExpired
	case ProviderRefund:
		return model.PaymentRefunded
	default:
		return model.PaymentPending
	}
}

// nextStatus never moves a terminal record back to pending. Terminal to
// terminal overwrites are accepted.
func nextStatus(current, mapped model.PaymentStatus) model.PaymentStatus {
	if mapped == model.PaymentPending && current.Terminal() {
		return current
	}
	return mapped
}
