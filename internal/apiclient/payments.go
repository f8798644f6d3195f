package apiclient

import (
	"context"
	"net/http"
	"net/url"

	"github.com/shotonme/shotonme-client/internal/payment"
)

// StripeKey fetches the publishable key. A 503 means payment processing is
// disabled on the backend and is reported as Configured == false, not as an error.
func (c *Client) StripeKey(ctx context.Context) (*payment.StripeKey, error) {
	var out payment.StripeKey
	err := c.do(ctx, http.MethodGet, "/payments/stripe-key", nil, &out)
	if IsStatus(err, http.StatusServiceUnavailable) {
		return &payment.StripeKey{Configured: false}, nil
	}
	if err != nil {
		return nil, err
	}
	if out.PublishableKey == "" {
		out.Configured = false
	}
	return &out, nil
}

// PaymentMethods lists the user's saved cards.
func (c *Client) PaymentMethods(ctx context.Context) ([]payment.PaymentMethod, error) {
	var out struct {
		PaymentMethods []payment.PaymentMethod `json:"paymentMethods"`
	}
	if err := c.do(ctx, http.MethodGet, "/payment-methods", nil, &out); err != nil {
		return nil, err
	}
	return out.PaymentMethods, nil
}

// CreateIntent mints a payment intent, or charges a saved card when
// req.PaymentMethodID is set.
func (c *Client) CreateIntent(ctx context.Context, req payment.CreateIntentRequest) (*payment.CreateIntentResponse, error) {
	var out payment.CreateIntentResponse
	if err := c.do(ctx, http.MethodPost, "/payments/create-intent", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SendWithCard transfers a confirmed card charge to a recipient.
func (c *Client) SendWithCard(ctx context.Context, req payment.SendWithCardRequest) (*payment.SendWithCardResponse, error) {
	var out payment.SendWithCardResponse
	if err := c.do(ctx, http.MethodPost, "/payments/send-with-card", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateSetupIntent mints a setup intent for saving a new card.
func (c *Client) CreateSetupIntent(ctx context.Context) (*payment.SetupIntentResponse, error) {
	var out payment.SetupIntentResponse
	if err := c.do(ctx, http.MethodPost, "/payment-methods/setup-intent", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SetDefaultPaymentMethod marks a saved card as default. Callers re-fetch the list afterwards.
func (c *Client) SetDefaultPaymentMethod(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/payment-methods/"+url.PathEscape(id)+"/set-default", nil, nil)
}

// DeletePaymentMethod removes a saved card. Callers re-fetch the list afterwards.
func (c *Client) DeletePaymentMethod(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/payment-methods/"+url.PathEscape(id), nil, nil)
}
