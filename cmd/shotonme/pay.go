package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/shotonme/shotonme-client/internal/checkout"
	"github.com/shotonme/shotonme-client/internal/payment"
	"github.com/shotonme/shotonme-client/internal/paymentmethods"
	"github.com/shotonme/shotonme-client/internal/readiness"
)

// errNoCard is returned when a payment has neither a saved nor a new card.
var errNoCard = errors.New("no saved card on file; pass -card or -new-card")

// cardFlags are the payment source flags shared by every checkout command.
type cardFlags struct {
	amount  string
	card    string
	newCard string
}

func (c *cardFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&c.amount, "amount", "", "amount in dollars, e.g. 25 or 25.50")
	fs.StringVar(&c.card, "card", "", "saved card id to charge (defaults to your default card)")
	fs.StringVar(&c.newCard, "new-card", "", "tokenized card to charge instead of a saved one, e.g. pm_card_visa")
}

func (c *cardFlags) validate() error {
	if c.amount == "" {
		return usageErrorf("-amount is required")
	}
	if c.card != "" && c.newCard != "" {
		return usageErrorf("-card and -new-card are mutually exclusive")
	}
	return nil
}

func newFlagSet(name string, out io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(out)
	return fs
}

func parseFlags(fs *flag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		return usageErrorf("%s: %v", fs.Name(), err)
	}
	return nil
}

func runAddFunds(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet("add-funds", a.out)
	var cf cardFlags
	cf.register(fs)
	save := fs.Bool("save", false, "keep a new card for later payments")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if err := cf.validate(); err != nil {
		return err
	}
	return checkoutOnce(ctx, a, checkout.Config{
		Flow:              checkout.FlowAddFunds,
		Limits:            a.cfg.AddFundsLimits(),
		SavePaymentMethod: *save,
	}, cf)
}

func runPay(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet("pay", a.out)
	var cf cardFlags
	cf.register(fs)
	phone := fs.String("to", "", "recipient phone number")
	recipientID := fs.String("recipient-id", "", "recipient user id")
	message := fs.String("message", "", "note sent with the payment")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if err := cf.validate(); err != nil {
		return err
	}
	if *phone == "" && *recipientID == "" {
		return usageErrorf("pay: -to or -recipient-id is required")
	}
	return checkoutOnce(ctx, a, checkout.Config{
		Flow: checkout.FlowPayAndSend,
		Recipient: checkout.Recipient{
			Phone:   *phone,
			ID:      *recipientID,
			Message: *message,
		},
	}, cf)
}

func runTap(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet("tap", a.out)
	var cf cardFlags
	cf.register(fs)
	venue := fs.String("venue", "", "venue id")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if err := cf.validate(); err != nil {
		return err
	}
	if *venue == "" {
		return usageErrorf("tap: -venue is required")
	}
	return checkoutOnce(ctx, a, checkout.Config{
		Flow:    checkout.FlowTapAndPay,
		Limits:  a.cfg.TapAndPayLimits(),
		VenueID: *venue,
	}, cf)
}

// checkoutOnce drives one modal from open to a submitted payment, the way a
// user would: open, type the amount, pick a card, submit.
func checkoutOnce(ctx context.Context, a *app, cfg checkout.Config, cf cardFlags) error {
	var (
		mu      sync.Mutex
		success *checkout.Outcome
	)
	cfg.OnSuccess = func(out checkout.Outcome) {
		mu.Lock()
		success = &out
		mu.Unlock()
	}
	succeeded := func() *checkout.Outcome {
		mu.Lock()
		defer mu.Unlock()
		return success
	}

	modal := a.newModal(cfg, cf.newCard)
	defer modal.Close()

	if err := modal.Open(ctx); err != nil {
		return err
	}
	if err := modal.SetAmountText(cf.amount); err != nil {
		return err
	}
	amount := modal.State().Amount

	switch {
	case cf.newCard != "":
		if err := modal.UseNewCard(ctx); err != nil {
			return err
		}
		if out := succeeded(); out != nil {
			return printOutcome(a.out, amount, out)
		}
		if err := waitWidget(ctx, modal); err != nil {
			return err
		}
	case cf.card != "":
		if err := modal.SelectPaymentMethod(cf.card); err != nil {
			return err
		}
	default:
		st := modal.State()
		if !st.UseSavedCard {
			return errNoCard
		}
		fmt.Fprintf(a.out, "Using default card %s\n", cardLabel(st.PaymentMethods, st.SelectedPaymentMethod))
	}

	out, err := modal.Submit(ctx)
	if err != nil {
		return err
	}
	return printOutcome(a.out, amount, out)
}

// waitWidget blocks until the card widget can take a submit. The readiness
// gate falls back to ready on its own, so the extra second only guards
// against a widget that never mounted.
func waitWidget(ctx context.Context, modal *checkout.Modal) error {
	timer := time.NewTimer(readiness.FallbackTimeout + time.Second)
	defer timer.Stop()
	select {
	case <-modal.WidgetReady():
		return nil
	case <-timer.C:
		return paymentmethods.ErrWidgetTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

func printOutcome(w io.Writer, amount float64, out *checkout.Outcome) error {
	fmt.Fprintf(w, "Payment of %s succeeded", payment.FormatUSD(amount))
	if out.IntentID != "" {
		fmt.Fprintf(w, " (%s)", out.IntentID)
	}
	fmt.Fprintln(w)
	if out.TransferID != "" {
		fmt.Fprintf(w, "Transfer %s sent\n", out.TransferID)
	}
	return nil
}

func cardLabel(methods []payment.PaymentMethod, id string) string {
	if m, ok := payment.FindMethod(methods, id); ok {
		return m.Label()
	}
	return id
}
