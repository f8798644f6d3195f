package checkout

import (
	"context"
	"errors"
	"strings"

	"github.com/shotonme/shotonme-client/internal/apiclient"
	"github.com/shotonme/shotonme-client/internal/elements"
	"github.com/shotonme/shotonme-client/internal/payment"
)

// Kind classifies a checkout failure by how the user should be told about it.
type Kind int

const (
	// KindConfiguration is terminal for the session: payments are unavailable.
	KindConfiguration Kind = iota + 1
	// KindValidation is a local input problem the user can correct.
	KindValidation
	// KindVendor is an explicit confirmation error from the card widget or vendor.
	KindVendor
	// KindProcessing means the charge has not settled yet. Retry is allowed.
	KindProcessing
	// KindRequiresAction means the payment needs additional verification.
	KindRequiresAction
	// KindCanceled is a request aborted by closing the session. Never shown.
	KindCanceled
	// KindPostCharge means the card was charged but the transfer did not complete.
	KindPostCharge
	// KindNetwork is a transport or backend failure.
	KindNetwork
)

func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration"
	case KindValidation:
		return "validation"
	case KindVendor:
		return "vendor"
	case KindProcessing:
		return "processing"
	case KindRequiresAction:
		return "requires_action"
	case KindCanceled:
		return "canceled"
	case KindPostCharge:
		return "post_charge"
	case KindNetwork:
		return "network"
	default:
		return "unknown"
	}
}

// User-facing messages.
const (
	MsgNotConfigured       = "Payment processing is not set up yet"
	MsgFormNotReady        = "Payment form is not ready. Please wait a moment and try again."
	MsgFormLoading         = "Payment form is still loading. Please wait a moment and try again."
	MsgStillProcessing     = "Your payment is still processing. Please wait a moment."
	MsgNeedsVerification   = "This payment needs additional verification. Please try again."
	MsgPostCharge          = "Your card was charged but the transfer could not be completed. Please contact support."
	MsgInitializeFailed    = "Failed to initialize payment"
	MsgPaymentFailed       = "Payment failed. Please try again."
	MsgSelectPaymentMethod = "Please select a payment method"
	MsgInvalidAmount       = "Please enter a valid amount"
)

// mountedElementHint is the vendor error substring raised when confirming
// before the widget finished mounting.
const mountedElementHint = "mounted Payment Element"

var (
	// ErrSubmitInFlight is returned by a submit issued while another is running.
	ErrSubmitInFlight = errors.New("submission already in progress")
	// ErrSuperseded is returned to an intent request replaced by a newer one.
	ErrSuperseded = errors.New("intent request superseded")
	// ErrSessionClosed is returned when the session closed before the result applied.
	ErrSessionClosed = errors.New("payment session closed")
	// ErrNoChargeReference means a charge succeeded without an intent ID or
	// client secret to hand to the transfer.
	ErrNoChargeReference = errors.New("charge has no reference to transfer")
)

// Error is a classified checkout failure. Message is what the user sees.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the Kind of err, or 0 when err is not a checkout Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// IsCanceled reports whether err comes from the session being closed.
func IsCanceled(err error) bool {
	return KindOf(err) == KindCanceled ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, ErrSessionClosed)
}

// outcomeOf labels a submit result for metrics and spans.
func outcomeOf(err error) string {
	switch {
	case err == nil:
		return "succeeded"
	case IsCanceled(err):
		return KindCanceled.String()
	}
	if k := KindOf(err); k != 0 {
		return k.String()
	}
	return KindNetwork.String()
}

func newError(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}

// backendError classifies a failed backend call. fallback is shown when the
// backend gave no message.
func backendError(ctx context.Context, err error, fallback string) *Error {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		return newError(KindCanceled, "", err)
	}
	var apiErr *apiclient.APIError
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode >= 400 && apiErr.StatusCode < 500 {
			return newError(KindValidation, apiclient.Message(err, fallback), err)
		}
		return newError(KindNetwork, apiclient.Message(err, fallback), err)
	}
	return newError(KindNetwork, fallback, err)
}

// validationError wraps a local amount check failure.
func validationError(err error) *Error {
	if errors.Is(err, payment.ErrInvalidAmount) {
		return newError(KindValidation, MsgInvalidAmount, err)
	}
	return newError(KindValidation, err.Error(), err)
}

// confirmError classifies a vendor confirmation failure.
func confirmError(ctx context.Context, err error) *Error {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		return newError(KindCanceled, "", err)
	}
	var ce *elements.ConfirmError
	if errors.As(err, &ce) {
		if strings.Contains(ce.Message, mountedElementHint) {
			return newError(KindVendor, MsgFormLoading, err)
		}
		return newError(KindVendor, ce.Error(), err)
	}
	return newError(KindNetwork, MsgPaymentFailed, err)
}

// statusError classifies a confirmed intent that did not succeed.
func statusError(status payment.Status) *Error {
	if status == payment.StatusRequiresAction {
		return newError(KindRequiresAction, MsgNeedsVerification, nil)
	}
	return newError(KindProcessing, MsgStillProcessing, nil)
}
