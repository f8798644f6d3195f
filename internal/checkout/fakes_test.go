package checkout

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/shotonme/shotonme-client/internal/apiclient"
	"github.com/shotonme/shotonme-client/internal/elements"
	"github.com/shotonme/shotonme-client/internal/mount"
	"github.com/shotonme/shotonme-client/internal/payment"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeBackend scripts the payment endpoints.
type fakeBackend struct {
	mu sync.Mutex

	methods    []payment.PaymentMethod
	methodsErr error

	createFn    func(ctx context.Context, req payment.CreateIntentRequest) (*payment.CreateIntentResponse, error)
	createCalls []payment.CreateIntentRequest
	createKeys  []string

	sendResp  *payment.SendWithCardResponse
	sendErr   error
	sendCalls []payment.SendWithCardRequest
	sendKeys  []string

	setupSecret string
	setupCalls  int
}

func (b *fakeBackend) PaymentMethods(ctx context.Context) ([]payment.PaymentMethod, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.methods, b.methodsErr
}

func (b *fakeBackend) CreateIntent(ctx context.Context, req payment.CreateIntentRequest) (*payment.CreateIntentResponse, error) {
	b.mu.Lock()
	b.createCalls = append(b.createCalls, req)
	key, _ := apiclient.IdempotencyKeyFrom(ctx)
	b.createKeys = append(b.createKeys, key)
	fn := b.createFn
	b.mu.Unlock()
	if fn == nil {
		return &payment.CreateIntentResponse{ClientSecret: "pi_default_secret_x"}, nil
	}
	return fn(ctx, req)
}

func (b *fakeBackend) SendWithCard(ctx context.Context, req payment.SendWithCardRequest) (*payment.SendWithCardResponse, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sendCalls = append(b.sendCalls, req)
	key, _ := apiclient.IdempotencyKeyFrom(ctx)
	b.sendKeys = append(b.sendKeys, key)
	if b.sendErr != nil {
		return nil, b.sendErr
	}
	if b.sendResp != nil {
		return b.sendResp, nil
	}
	return &payment.SendWithCardResponse{}, nil
}

func (b *fakeBackend) CreateSetupIntent(ctx context.Context) (*payment.SetupIntentResponse, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.setupCalls++
	return &payment.SetupIntentResponse{ClientSecret: b.setupSecret}, nil
}

func (b *fakeBackend) creates() []payment.CreateIntentRequest {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]payment.CreateIntentRequest(nil), b.createCalls...)
}

// keys returns the idempotency keys seen by create-intent and send-with-card.
func (b *fakeBackend) keys() (create, send []string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.createKeys...), append([]string(nil), b.sendKeys...)
}

func (b *fakeBackend) sends() []payment.SendWithCardRequest {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]payment.SendWithCardRequest(nil), b.sendCalls...)
}

// fakeConfirmer records confirmations and answers with a fixed result.
type fakeConfirmer struct {
	mu       sync.Mutex
	payments []elements.ConfirmParams
	setups   []elements.ConfirmParams
	status   payment.Status
	err      error
	block    chan struct{}
}

func (c *fakeConfirmer) confirm(ctx context.Context, p elements.ConfirmParams, setup bool) (*elements.Result, error) {
	c.mu.Lock()
	if setup {
		c.setups = append(c.setups, p)
	} else {
		c.payments = append(c.payments, p)
	}
	block, status, err := c.block, c.status, c.err
	c.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	if status == "" {
		status = payment.StatusSucceeded
	}
	id, _ := payment.IntentIDFromSecret(p.ClientSecret)
	return &elements.Result{IntentID: id, Status: status}, nil
}

func (c *fakeConfirmer) ConfirmPayment(ctx context.Context, p elements.ConfirmParams) (*elements.Result, error) {
	return c.confirm(ctx, p, false)
}

func (c *fakeConfirmer) ConfirmSetup(ctx context.Context, p elements.ConfirmParams) (*elements.Result, error) {
	return c.confirm(ctx, p, true)
}

func (c *fakeConfirmer) paymentCalls() []elements.ConfirmParams {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]elements.ConfirmParams(nil), c.payments...)
}

func (c *fakeConfirmer) setupCalls() []elements.ConfirmParams {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]elements.ConfirmParams(nil), c.setups...)
}

type fakeSDK struct {
	confirmer elements.Confirmer
	err       error
}

func (s *fakeSDK) Load(context.Context) (elements.Confirmer, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.confirmer, nil
}

type harness struct {
	backend   *fakeBackend
	confirmer *fakeConfirmer
	element   *elements.StaticElement
	clock     *clock.Mock
	metrics   *Metrics
	successes []Outcome
	mu        sync.Mutex
}

func newHarness() *harness {
	return &harness{
		backend:   &fakeBackend{},
		confirmer: &fakeConfirmer{},
		element:   elements.NewStaticElement("pm_card_visa"),
		clock:     clock.NewMock(),
		metrics:   NewMetrics(),
	}
}

func (h *harness) modal(cfg Config) *Modal {
	cfg.OnSuccess = func(o Outcome) {
		h.mu.Lock()
		h.successes = append(h.successes, o)
		h.mu.Unlock()
	}
	return NewModal(Deps{
		Backend: h.backend,
		SDK:     &fakeSDK{confirmer: h.confirmer},
		Element: h.element,
		Mounts:  mount.New(),
		Clock:   h.clock,
		Logger:  newTestLogger(),
		Metrics: h.metrics,
	}, cfg)
}

func (h *harness) successCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.successes)
}

// eventually polls cond until it holds or a second passes.
func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal(msg)
		}
		time.Sleep(time.Millisecond)
	}
}
