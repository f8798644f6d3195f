// Package paymentmethods manages the user's saved cards. The backend owns
// them; every change is followed by a full re-fetch.
package paymentmethods

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shotonme/shotonme-client/internal/apiclient"
	"github.com/shotonme/shotonme-client/internal/checkout"
	"github.com/shotonme/shotonme-client/internal/payment"
	"github.com/shotonme/shotonme-client/internal/readiness"
)

// Errors returned by Manager.
var (
	ErrUnknownMethod = errors.New("payment method not found")
	ErrWidgetTimeout = errors.New("card form did not become ready")
)

// User-facing fallbacks when the backend gives no message.
const (
	msgLoadFailed   = "Failed to load payment methods"
	msgUpdateFailed = "Failed to update payment method"
	msgDeleteFailed = "Failed to remove payment method"
)

// Backend is the payment-methods API.
type Backend interface {
	PaymentMethods(ctx context.Context) ([]payment.PaymentMethod, error)
	SetDefaultPaymentMethod(ctx context.Context, id string) error
	DeletePaymentMethod(ctx context.Context, id string) error
}

// CardSaver is a save-card modal.
type CardSaver interface {
	Open(ctx context.Context) error
	WidgetReady() <-chan struct{}
	Submit(ctx context.Context) (*checkout.Outcome, error)
	Close()
}

// Manager holds the last fetched list of saved cards.
type Manager struct {
	backend Backend
	logger  *slog.Logger

	mu      sync.Mutex
	methods []payment.PaymentMethod
}

// NewManager creates a manager with an empty list.
func NewManager(backend Backend, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{backend: backend, logger: logger}
}

// Methods returns the last fetched list.
func (m *Manager) Methods() []payment.PaymentMethod {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]payment.PaymentMethod(nil), m.methods...)
}

// Default returns the default card of the last fetched list.
func (m *Manager) Default() (payment.PaymentMethod, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return payment.DefaultMethod(m.methods)
}

// List fetches the saved cards.
func (m *Manager) List(ctx context.Context) ([]payment.PaymentMethod, error) {
	methods, err := m.backend.PaymentMethods(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", apiclient.Message(err, msgLoadFailed), err)
	}
	m.mu.Lock()
	m.methods = methods
	m.mu.Unlock()
	return append([]payment.PaymentMethod(nil), methods...), nil
}

// SetDefault makes id the default card and re-fetches the list.
func (m *Manager) SetDefault(ctx context.Context, id string) ([]payment.PaymentMethod, error) {
	if err := m.known(id); err != nil {
		return nil, err
	}
	if err := m.backend.SetDefaultPaymentMethod(ctx, id); err != nil {
		return nil, fmt.Errorf("%s: %w", apiclient.Message(err, msgUpdateFailed), err)
	}
	m.logger.Info("default payment method changed", slog.String("payment_method_id", id))
	return m.List(ctx)
}

// Delete removes id and re-fetches the list.
func (m *Manager) Delete(ctx context.Context, id string) ([]payment.PaymentMethod, error) {
	if err := m.known(id); err != nil {
		return nil, err
	}
	if err := m.backend.DeletePaymentMethod(ctx, id); err != nil {
		return nil, fmt.Errorf("%s: %w", apiclient.Message(err, msgDeleteFailed), err)
	}
	m.logger.Info("payment method removed", slog.String("payment_method_id", id))
	return m.List(ctx)
}

// AddCard runs a save-card modal to completion and re-fetches the list.
// It waits for the card form for at most the readiness fallback plus a grace
// second.
func (m *Manager) AddCard(ctx context.Context, modal CardSaver) ([]payment.PaymentMethod, error) {
	defer modal.Close()

	if err := modal.Open(ctx); err != nil {
		return nil, err
	}

	wait := time.NewTimer(readiness.FallbackTimeout + time.Second)
	defer wait.Stop()
	select {
	case <-modal.WidgetReady():
	case <-wait.C:
		return nil, ErrWidgetTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	out, err := modal.Submit(ctx)
	if err != nil {
		return nil, err
	}
	m.logger.Info("card saved", slog.String("setup_intent_id", out.IntentID))
	return m.List(ctx)
}

// known checks id against the last fetched list. Before the first fetch any
// non-empty id goes to the backend.
func (m *Manager) known(id string) error {
	if id == "" {
		return ErrUnknownMethod
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.methods) == 0 {
		return nil
	}
	if _, ok := payment.FindMethod(m.methods, id); !ok {
		return fmt.Errorf("%w: %s", ErrUnknownMethod, id)
	}
	return nil
}
