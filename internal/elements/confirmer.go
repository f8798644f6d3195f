package elements

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/client"

	"github.com/shotonme/shotonme-client/internal/payment"
	"github.com/shotonme/shotonme-client/internal/tracing"
)

// RedirectIfRequired prefers same-page confirmation over a full redirect.
const RedirectIfRequired = "if_required"

// ErrProviderUnavailable is returned when the payment provider fails for
// reasons other than the card or the request.
var ErrProviderUnavailable = errors.New("payment provider unavailable")

// ConfirmParams confirms one intent.
type ConfirmParams struct {
	ClientSecret  string
	PaymentMethod string
	ReturnURL     string
	Redirect      string
}

// Result is the confirmed intent.
type Result struct {
	IntentID    string
	Status      payment.Status
	RedirectURL string
}

// ConfirmError is an explicit confirmation error from the vendor, such as a
// declined card or a widget validation error.
type ConfirmError struct {
	Type        string
	Code        string
	DeclineCode string
	Message     string
}

func (e *ConfirmError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("payment confirmation failed: %s", e.Code)
}

// Confirmer confirms payment and setup intents with the vendor.
// Vendor-reported failures are returned as *ConfirmError.
type Confirmer interface {
	ConfirmPayment(ctx context.Context, p ConfirmParams) (*Result, error)
	ConfirmSetup(ctx context.Context, p ConfirmParams) (*Result, error)
}

// StripeOption configures a StripeConfirmer.
type StripeOption func(*stripeOptions)

type stripeOptions struct {
	backendURL string
	httpClient *http.Client
	retries    *int64
	logger     *slog.Logger
}

// WithBackendURL points the confirmer at another Stripe API base URL.
func WithBackendURL(u string) StripeOption {
	return func(o *stripeOptions) { o.backendURL = u }
}

// WithHTTPClient sets the HTTP client used for Stripe calls.
func WithHTTPClient(c *http.Client) StripeOption {
	return func(o *stripeOptions) { o.httpClient = c }
}

// WithMaxNetworkRetries overrides stripe-go's retry count.
func WithMaxNetworkRetries(n int64) StripeOption {
	return func(o *stripeOptions) { o.retries = &n }
}

// WithStripeLogger routes stripe-go's logging through l.
func WithStripeLogger(l *slog.Logger) StripeOption {
	return func(o *stripeOptions) { o.logger = l }
}

// StripeConfirmer implements Confirmer with the publishable key, the same way
// the browser SDK confirms an intent using its client secret.
type StripeConfirmer struct {
	api *client.API
}

// NewStripeConfirmer creates a confirmer for publishableKey. The client is
// per instance; stripe.Key is never touched.
func NewStripeConfirmer(publishableKey string, opts ...StripeOption) *StripeConfirmer {
	o := stripeOptions{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}

	cfg := &stripe.BackendConfig{
		HTTPClient:        o.httpClient,
		MaxNetworkRetries: o.retries,
		LeveledLogger:     &leveledLogger{logger: o.logger},
	}
	if o.backendURL != "" {
		cfg.URL = stripe.String(o.backendURL)
	}

	backends := &stripe.Backends{
		API:     stripe.GetBackendWithConfig(stripe.APIBackend, cfg),
		Connect: stripe.GetBackendWithConfig(stripe.ConnectBackend, cfg),
		Uploads: stripe.GetBackendWithConfig(stripe.UploadsBackend, cfg),
	}

	api := &client.API{}
	api.Init(publishableKey, backends)
	return &StripeConfirmer{api: api}
}

// ConfirmPayment confirms a payment intent identified by its client secret.
func (c *StripeConfirmer) ConfirmPayment(ctx context.Context, p ConfirmParams) (_ *Result, err error) {
	ctx, end := tracing.StartVendorSpan(ctx, "payment_intents.confirm")
	defer func() { end(err) }()

	id, ok := payment.IntentIDFromSecret(p.ClientSecret)
	if !ok {
		return nil, &ConfirmError{Type: "invalid_request_error", Message: "Invalid client secret"}
	}

	params := &stripe.PaymentIntentConfirmParams{}
	params.Context = ctx
	params.AddExtra("client_secret", p.ClientSecret)
	if p.PaymentMethod != "" {
		params.PaymentMethod = stripe.String(p.PaymentMethod)
	}
	if p.ReturnURL != "" {
		params.ReturnURL = stripe.String(p.ReturnURL)
	}

	pi, err := c.api.PaymentIntents.Confirm(id, params)
	if err != nil {
		return nil, mapStripeError(ctx, err)
	}

	res := &Result{IntentID: pi.ID, Status: payment.Status(pi.Status)}
	if pi.NextAction != nil && pi.NextAction.RedirectToURL != nil {
		res.RedirectURL = pi.NextAction.RedirectToURL.URL
	}
	return res, nil
}

// ConfirmSetup confirms a setup intent identified by its client secret.
func (c *StripeConfirmer) ConfirmSetup(ctx context.Context, p ConfirmParams) (_ *Result, err error) {
	ctx, end := tracing.StartVendorSpan(ctx, "setup_intents.confirm")
	defer func() { end(err) }()

	id, ok := payment.IntentIDFromSecret(p.ClientSecret)
	if !ok {
		return nil, &ConfirmError{Type: "invalid_request_error", Message: "Invalid client secret"}
	}

	params := &stripe.SetupIntentConfirmParams{}
	params.Context = ctx
	params.AddExtra("client_secret", p.ClientSecret)
	if p.PaymentMethod != "" {
		params.PaymentMethod = stripe.String(p.PaymentMethod)
	}
	if p.ReturnURL != "" {
		params.ReturnURL = stripe.String(p.ReturnURL)
	}

	si, err := c.api.SetupIntents.Confirm(id, params)
	if err != nil {
		return nil, mapStripeError(ctx, err)
	}
	return &Result{IntentID: si.ID, Status: payment.Status(si.Status)}, nil
}

// mapStripeError keeps card and request errors as ConfirmError and folds
// everything else into ErrProviderUnavailable.
func mapStripeError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}

	var stripeErr *stripe.Error
	if !errors.As(err, &stripeErr) {
		return fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}

	switch stripeErr.Type {
	case stripe.ErrorTypeCard, stripe.ErrorTypeInvalidRequest:
		return &ConfirmError{
			Type:        string(stripeErr.Type),
			Code:        string(stripeErr.Code),
			DeclineCode: string(stripeErr.DeclineCode),
			Message:     stripeErr.Msg,
		}
	}
	if stripeErr.HTTPStatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("%w: status %d", ErrProviderUnavailable, stripeErr.HTTPStatusCode)
	}
	return fmt.Errorf("%w: %s", ErrProviderUnavailable, stripeErr.Msg)
}

// leveledLogger adapts slog to stripe.LeveledLoggerInterface.
type leveledLogger struct {
	logger *slog.Logger
}

func (l *leveledLogger) Debugf(format string, v ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, v...), slog.String("component", "stripe"))
}

func (l *leveledLogger) Infof(format string, v ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, v...), slog.String("component", "stripe"))
}

func (l *leveledLogger) Warnf(format string, v ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, v...), slog.String("component", "stripe"))
}

func (l *leveledLogger) Errorf(format string, v ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, v...), slog.String("component", "stripe"))
}
