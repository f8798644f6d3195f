// Package payment provides the payment models shared by the checkout flows and the payment-methods manager.
package payment

import (
	"fmt"
	"time"
)

// Status is a payment or setup intent status.
type Status string

// Intent statuses reported by the backend and the payment processor.
const (
	StatusSucceeded             Status = "succeeded"
	StatusProcessing            Status = "processing"
	StatusRequiresAction        Status = "requires_action"
	StatusRequiresPaymentMethod Status = "requires_payment_method"
	StatusRequiresConfirmation  Status = "requires_confirmation"
	StatusCanceled              Status = "canceled"
)

// Terminal reports whether no further confirmation can change s.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusCanceled
}

// PaymentMethod is a saved card as returned by GET /payment-methods.
// It is owned by the backend; the client never edits card details locally.
type PaymentMethod struct {
	ID        string `json:"id"`
	Brand     string `json:"brand"`
	Last4     string `json:"last4"`
	ExpMonth  int    `json:"expMonth"`
	ExpYear   int    `json:"expYear"`
	IsDefault bool   `json:"isDefault"`
}

// Label renders the card the way the card picker shows it, e.g. "visa •••• 4242 (12/27)".
func (m PaymentMethod) Label() string {
	return fmt.Sprintf("%s •••• %s (%02d/%02d)", m.Brand, m.Last4, m.ExpMonth, m.ExpYear%100)
}

// Expired reports whether the card's expiry month is before now.
func (m PaymentMethod) Expired(now time.Time) bool {
	if m.ExpYear == 0 {
		return false
	}
	y, mo, _ := now.Date()
	if m.ExpYear != y {
		return m.ExpYear < y
	}
	return m.ExpMonth < int(mo)
}

// DefaultMethod returns the default card, or the first card when none is flagged.
// The second return value is false when methods is empty.
func DefaultMethod(methods []PaymentMethod) (PaymentMethod, bool) {
	if len(methods) == 0 {
		return PaymentMethod{}, false
	}
	for _, m := range methods {
		if m.IsDefault {
			return m, true
		}
	}
	return methods[0], true
}

// FindMethod looks a card up by id.
func FindMethod(methods []PaymentMethod, id string) (PaymentMethod, bool) {
	for _, m := range methods {
		if m.ID == id {
			return m, true
		}
	}
	return PaymentMethod{}, false
}
