package payment

import "strings"

// StripeKey is the response of GET /payments/stripe-key.
type StripeKey struct {
	Configured     bool   `json:"configured"`
	PublishableKey string `json:"publishableKey,omitempty"`
}

// CreateIntentRequest is the body of POST /payments/create-intent.
// PaymentMethodID is set only when charging a saved card.
type CreateIntentRequest struct {
	Amount            float64 `json:"amount"`
	PaymentMethodID   string  `json:"paymentMethodId,omitempty"`
	SavePaymentMethod bool    `json:"savePaymentMethod"`
	VenueID           string  `json:"venueId,omitempty"`
}

// CreateIntentResponse is the reply to create-intent. A saved-card charge that
// completes synchronously reports Status == StatusSucceeded and may omit the secret.
type CreateIntentResponse struct {
	ClientSecret    string `json:"clientSecret,omitempty"`
	Status          Status `json:"status,omitempty"`
	PaymentIntentID string `json:"paymentIntentId,omitempty"`
}

// Succeeded reports whether the backend already completed the charge.
func (r *CreateIntentResponse) Succeeded() bool {
	return r != nil && r.Status == StatusSucceeded
}

// SendWithCardRequest is the body of POST /payments/send-with-card.
// ClientSecret and PaymentIntentID reference the confirmed card charge being
// transferred. A saved-card charge the backend completed may carry only the
// intent ID.
type SendWithCardRequest struct {
	RecipientPhone  string  `json:"recipientPhone,omitempty"`
	RecipientID     string  `json:"recipientId,omitempty"`
	Amount          float64 `json:"amount"`
	Message         string  `json:"message,omitempty"`
	ClientSecret    string  `json:"clientSecret"`
	PaymentIntentID string  `json:"paymentIntentId,omitempty"`
}

// SendWithCardResponse is the reply to send-with-card.
type SendWithCardResponse struct {
	RequiresAction bool   `json:"requiresAction,omitempty"`
	TransferID     string `json:"transferId,omitempty"`
}

// SetupIntentResponse is the reply to POST /payment-methods/setup-intent.
type SetupIntentResponse struct {
	ClientSecret string `json:"clientSecret"`
}

// IntentIDFromSecret extracts the intent id from a client secret of the
// form "pi_123_secret_abc" (or "seti_..._secret_..."). It reports false when
// secret has no "_secret_" part.
func IntentIDFromSecret(secret string) (string, bool) {
	i := strings.Index(secret, "_secret_")
	if i <= 0 {
		return "", false
	}
	return secret[:i], true
}
