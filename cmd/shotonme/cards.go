package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/shotonme/shotonme-client/internal/checkout"
	"github.com/shotonme/shotonme-client/internal/payment"
	"github.com/shotonme/shotonme-client/internal/paymentmethods"
)

func runCards(ctx context.Context, a *app, args []string) error {
	if len(args) == 0 {
		return usageErrorf("cards: expected list, add, default or delete")
	}
	mgr := paymentmethods.NewManager(a.api, a.logger)

	var (
		methods []payment.PaymentMethod
		err     error
	)
	switch sub, rest := args[0], args[1:]; sub {
	case "list":
		methods, err = mgr.List(ctx)
	case "add":
		fs := newFlagSet("cards add", a.out)
		newCard := fs.String("new-card", "", "tokenized card to save, e.g. pm_card_visa")
		if err := parseFlags(fs, rest); err != nil {
			return err
		}
		if *newCard == "" {
			return usageErrorf("cards add: -new-card is required")
		}
		modal := a.newModal(checkout.Config{Flow: checkout.FlowSaveCard}, *newCard)
		methods, err = mgr.AddCard(ctx, modal)
	case "default", "delete":
		if len(rest) != 1 {
			return usageErrorf("cards %s: expected one card id", sub)
		}
		// Load the list first so unknown ids fail without a request.
		if _, err := mgr.List(ctx); err != nil {
			return err
		}
		if sub == "default" {
			methods, err = mgr.SetDefault(ctx, rest[0])
		} else {
			methods, err = mgr.Delete(ctx, rest[0])
		}
	default:
		return usageErrorf("cards: unknown subcommand %q", sub)
	}
	if err != nil {
		return err
	}
	printCards(a.out, methods, time.Now())
	return nil
}

func printCards(w io.Writer, methods []payment.PaymentMethod, now time.Time) {
	if len(methods) == 0 {
		fmt.Fprintln(w, "No saved cards")
		return
	}
	for _, m := range methods {
		marker := " "
		if m.IsDefault {
			marker = "*"
		}
		line := fmt.Sprintf("%s %-28s %s", marker, m.ID, m.Label())
		if m.Expired(now) {
			line += " expired"
		}
		fmt.Fprintln(w, line)
	}
}
