package checkout

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cenkalti/backoff/v4"

	"github.com/shotonme/shotonme-client/internal/apiclient"
	"github.com/shotonme/shotonme-client/internal/elements"
	"github.com/shotonme/shotonme-client/internal/payment"
)

// Card handle polling bounds.
const (
	NodePollAttempts = 10
	NodePollInterval = 200 * time.Millisecond
)

var errNodeMissing = errors.New("card element not found")

// Sender transfers a confirmed card charge to a recipient.
type Sender interface {
	SendWithCard(ctx context.Context, req payment.SendWithCardRequest) (*payment.SendWithCardResponse, error)
}

// Attempt is one confirmation.
type Attempt struct {
	Confirmer    elements.Confirmer
	Element      elements.Element
	ClientSecret string
	// Setup confirms a setup intent instead of a payment intent.
	Setup bool
	// SavedPaymentMethod confirms with a saved card instead of the widget.
	SavedPaymentMethod string
	ReturnURL          string
	// Send, when set, is posted after a successful charge with the charge
	// reference filled in.
	Send   *payment.SendWithCardRequest
	Sender Sender
	// IdempotencyKey is reused by every retry of the transfer.
	IdempotencyKey string
}

// Outcome is a successful submission.
type Outcome struct {
	IntentID   string
	Status     payment.Status
	TransferID string
}

// Submitter confirms intents with the vendor, one at a time.
type Submitter struct {
	clock  clock.Clock
	logger *slog.Logger

	loading atomic.Bool
}

// NewSubmitter creates a submitter. A nil clock uses the wall clock.
func NewSubmitter(clk clock.Clock, logger *slog.Logger) *Submitter {
	if clk == nil {
		clk = clock.New()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Submitter{clock: clk, logger: logger}
}

// Loading reports whether a submit is running.
func (s *Submitter) Loading() bool {
	return s.loading.Load()
}

// Submit confirms a. Concurrent calls return ErrSubmitInFlight and do nothing.
// Failures are returned as *Error.
func (s *Submitter) Submit(ctx context.Context, a Attempt) (*Outcome, error) {
	if !s.loading.CompareAndSwap(false, true) {
		return nil, ErrSubmitInFlight
	}
	defer s.loading.Store(false)

	saved := a.SavedPaymentMethod != ""
	if a.Confirmer == nil || (!saved && a.Element == nil) || a.ClientSecret == "" {
		return nil, newError(KindValidation, MsgFormNotReady, nil)
	}

	paymentMethod := a.SavedPaymentMethod
	if !saved {
		node, err := s.pollNode(ctx, a.Element)
		if err != nil {
			if ctx.Err() != nil {
				return nil, newError(KindCanceled, "", err)
			}
			return nil, newError(KindValidation, MsgFormLoading, err)
		}
		paymentMethod = node.PaymentMethod
	}

	params := elements.ConfirmParams{
		ClientSecret:  a.ClientSecret,
		PaymentMethod: paymentMethod,
		ReturnURL:     a.ReturnURL,
		Redirect:      elements.RedirectIfRequired,
	}
	var res *elements.Result
	var err error
	if a.Setup {
		res, err = a.Confirmer.ConfirmSetup(ctx, params)
	} else {
		res, err = a.Confirmer.ConfirmPayment(ctx, params)
	}
	if err != nil {
		return nil, confirmError(ctx, err)
	}
	if res.Status != payment.StatusSucceeded {
		s.logger.Info("payment not completed after confirmation",
			slog.String("intent_id", res.IntentID),
			slog.String("intent_status", string(res.Status)))
		return nil, statusError(res.Status)
	}

	return s.complete(ctx, a, &Outcome{IntentID: res.IntentID, Status: res.Status})
}

// Complete finishes a charge that succeeded without confirmation, such as a
// saved card charged by the backend. It shares the in-flight guard with Submit.
func (s *Submitter) Complete(ctx context.Context, a Attempt, out *Outcome) (*Outcome, error) {
	if !s.loading.CompareAndSwap(false, true) {
		return nil, ErrSubmitInFlight
	}
	defer s.loading.Store(false)
	return s.complete(ctx, a, out)
}

// complete posts the transfer for pay-and-send attempts.
func (s *Submitter) complete(ctx context.Context, a Attempt, out *Outcome) (*Outcome, error) {
	if a.Send == nil || a.Sender == nil {
		return out, nil
	}

	req := *a.Send
	req.ClientSecret = a.ClientSecret
	req.PaymentIntentID = out.IntentID
	if req.ClientSecret == "" && req.PaymentIntentID == "" {
		s.logger.Error("card charged without a reference for the transfer",
			slog.Float64("amount", req.Amount))
		return nil, newError(KindPostCharge, MsgPostCharge, ErrNoChargeReference)
	}
	if a.IdempotencyKey != "" {
		ctx = apiclient.WithIdempotencyKey(ctx, a.IdempotencyKey)
	}
	resp, err := a.Sender.SendWithCard(ctx, req)
	if err != nil {
		// The card is already charged; this needs manual reconciliation.
		s.logger.Error("card charged but transfer failed",
			slog.String("intent_id", out.IntentID),
			slog.Float64("amount", req.Amount),
			slog.String("error", err.Error()))
		return nil, newError(KindPostCharge, MsgPostCharge, err)
	}
	if resp.RequiresAction {
		return nil, newError(KindRequiresAction, MsgNeedsVerification, nil)
	}
	out.TransferID = resp.TransferID
	return out, nil
}

// pollNode waits for the widget's card handle, which can lag the ready signal.
func (s *Submitter) pollNode(ctx context.Context, el elements.Element) (elements.Node, error) {
	var node elements.Node
	b := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(NodePollInterval), NodePollAttempts-1),
		ctx,
	)
	err := backoff.RetryNotifyWithTimer(func() error {
		n, ok := el.Node()
		if !ok {
			return errNodeMissing
		}
		node = n
		return nil
	}, b, nil, &clockTimer{clock: s.clock})
	return node, err
}

// clockTimer adapts clock.Clock to backoff.Timer.
type clockTimer struct {
	clock clock.Clock
	timer *clock.Timer
}

func (t *clockTimer) Start(d time.Duration) {
	t.timer = t.clock.Timer(d)
}

func (t *clockTimer) Stop() {
	if t.timer != nil {
		t.timer.Stop()
	}
}

func (t *clockTimer) C() <-chan time.Time {
	return t.timer.C
}
