package checkout

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/shotonme/shotonme-client/internal/apiclient"
	"github.com/shotonme/shotonme-client/internal/elements"
	"github.com/shotonme/shotonme-client/internal/payment"
)

func mountedElement(t *testing.T, pm string) *elements.StaticElement {
	t.Helper()
	el := elements.NewStaticElement(pm)
	if err := el.Mount("pi_1_secret_a", nopSink{}); err != nil {
		t.Fatalf("Mount() error = %v", err)
	}
	return el
}

type nopSink struct{}

func (nopSink) OnReady()                      {}
func (nopSink) OnLoadError(error)             {}
func (nopSink) OnChange(elements.ChangeEvent) {}

func TestSubmitter_Succeeds(t *testing.T) {
	conf := &fakeConfirmer{}
	s := NewSubmitter(clock.NewMock(), newTestLogger())

	out, err := s.Submit(context.Background(), Attempt{
		Confirmer:    conf,
		Element:      mountedElement(t, "pm_card_visa"),
		ClientSecret: "pi_1_secret_a",
	})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if out.IntentID != "pi_1" || out.Status != payment.StatusSucceeded {
		t.Errorf("unexpected outcome %+v", out)
	}
	calls := conf.paymentCalls()
	if len(calls) != 1 || calls[0].PaymentMethod != "pm_card_visa" || calls[0].Redirect != elements.RedirectIfRequired {
		t.Errorf("unexpected confirmations %+v", calls)
	}
	if s.Loading() {
		t.Error("loading flag should clear after a terminal outcome")
	}
}

func TestSubmitter_RejectsConcurrentSubmit(t *testing.T) {
	conf := &fakeConfirmer{block: make(chan struct{})}
	s := NewSubmitter(clock.NewMock(), newTestLogger())
	a := Attempt{Confirmer: conf, Element: mountedElement(t, "pm_card_visa"), ClientSecret: "pi_1_secret_a"}

	done := make(chan error, 1)
	go func() {
		_, err := s.Submit(context.Background(), a)
		done <- err
	}()
	eventually(t, func() bool { return len(conf.paymentCalls()) == 1 }, "first confirmation never started")

	for i := 0; i < 3; i++ {
		if _, err := s.Submit(context.Background(), a); !errors.Is(err, ErrSubmitInFlight) {
			t.Fatalf("concurrent Submit() error = %v, want ErrSubmitInFlight", err)
		}
	}
	close(conf.block)
	if err := <-done; err != nil {
		t.Fatalf("first Submit() error = %v", err)
	}
	if n := len(conf.paymentCalls()); n != 1 {
		t.Errorf("confirmations = %d, want 1", n)
	}
}

func TestSubmitter_FormNotReady(t *testing.T) {
	s := NewSubmitter(clock.NewMock(), newTestLogger())
	tests := []struct {
		name string
		a    Attempt
	}{
		{"no confirmer", Attempt{Element: elements.NewStaticElement("pm"), ClientSecret: "pi_1_secret_a"}},
		{"no element", Attempt{Confirmer: &fakeConfirmer{}, ClientSecret: "pi_1_secret_a"}},
		{"no secret", Attempt{Confirmer: &fakeConfirmer{}, Element: elements.NewStaticElement("pm")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Submit(context.Background(), tt.a)
			var e *Error
			if !errors.As(err, &e) || e.Message != MsgFormNotReady {
				t.Errorf("Submit() error = %v, want %q", err, MsgFormNotReady)
			}
		})
	}
}

func TestSubmitter_PollsForCardNode(t *testing.T) {
	mock := clock.NewMock()
	conf := &fakeConfirmer{}
	s := NewSubmitter(mock, newTestLogger())
	el := mountedElement(t, "pm_card_visa")
	el.NodeDelay = 3

	done := make(chan error, 1)
	go func() {
		_, err := s.Submit(context.Background(), Attempt{Confirmer: conf, Element: el, ClientSecret: "pi_1_secret_a"})
		done <- err
	}()

	advanceUntilDone(t, mock, done, func(err error) {
		if err != nil {
			t.Fatalf("Submit() error = %v", err)
		}
	})
	if len(conf.paymentCalls()) != 1 {
		t.Error("expected one confirmation once the node appeared")
	}
}

func TestSubmitter_CardNodeNeverAppears(t *testing.T) {
	mock := clock.NewMock()
	conf := &fakeConfirmer{}
	s := NewSubmitter(mock, newTestLogger())
	el := mountedElement(t, "pm_card_visa")
	el.NodeDelay = NodePollAttempts + 5

	done := make(chan error, 1)
	go func() {
		_, err := s.Submit(context.Background(), Attempt{Confirmer: conf, Element: el, ClientSecret: "pi_1_secret_a"})
		done <- err
	}()

	advanceUntilDone(t, mock, done, func(err error) {
		var e *Error
		if !errors.As(err, &e) || e.Message != MsgFormLoading {
			t.Fatalf("Submit() error = %v, want %q", err, MsgFormLoading)
		}
	})
	if len(conf.paymentCalls()) != 0 {
		t.Error("must not confirm without a card node")
	}
}

// advanceUntilDone ticks the mock clock by the poll interval until done fires.
func advanceUntilDone(t *testing.T, mock *clock.Mock, done <-chan error, check func(error)) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		select {
		case err := <-done:
			check(err)
			return
		default:
		}
		if time.Now().After(deadline) {
			t.Fatal("submit did not finish")
		}
		mock.Add(NodePollInterval)
		time.Sleep(time.Millisecond)
	}
}

func TestSubmitter_ClassifiesConfirmation(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		status   payment.Status
		wantKind Kind
		wantMsg  string
	}{
		{
			name:     "widget not mounted yet",
			err:      &elements.ConfirmError{Type: "invalid_request_error", Message: "Please make sure the mounted Payment Element is ready"},
			wantKind: KindVendor,
			wantMsg:  MsgFormLoading,
		},
		{
			name:     "declined verbatim",
			err:      &elements.ConfirmError{Type: "card_error", Code: "card_declined", Message: "Your card was declined."},
			wantKind: KindVendor,
			wantMsg:  "Your card was declined.",
		},
		{
			name:     "provider down",
			err:      elements.ErrProviderUnavailable,
			wantKind: KindNetwork,
			wantMsg:  MsgPaymentFailed,
		},
		{
			name:     "still processing",
			status:   payment.StatusProcessing,
			wantKind: KindProcessing,
			wantMsg:  MsgStillProcessing,
		},
		{
			name:     "requires action",
			status:   payment.StatusRequiresAction,
			wantKind: KindRequiresAction,
			wantMsg:  MsgNeedsVerification,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conf := &fakeConfirmer{err: tt.err, status: tt.status}
			s := NewSubmitter(clock.NewMock(), newTestLogger())
			_, err := s.Submit(context.Background(), Attempt{
				Confirmer:    conf,
				Element:      mountedElement(t, "pm_card_visa"),
				ClientSecret: "pi_1_secret_a",
			})
			var e *Error
			if !errors.As(err, &e) {
				t.Fatalf("expected *Error, got %v", err)
			}
			if e.Kind != tt.wantKind || e.Message != tt.wantMsg {
				t.Errorf("got %s %q, want %s %q", e.Kind, e.Message, tt.wantKind, tt.wantMsg)
			}
			// A non-terminal failure leaves submit available again.
			if s.Loading() {
				t.Error("loading flag should clear")
			}
		})
	}
}

func TestSubmitter_PayAndSend(t *testing.T) {
	send := &payment.SendWithCardRequest{RecipientPhone: "+15555550100", Amount: 20, Message: "drinks"}

	t.Run("transfer posted with client secret", func(t *testing.T) {
		backend := &fakeBackend{sendResp: &payment.SendWithCardResponse{TransferID: "tr_1"}}
		s := NewSubmitter(clock.NewMock(), newTestLogger())
		out, err := s.Submit(context.Background(), Attempt{
			Confirmer: &fakeConfirmer{}, Element: mountedElement(t, "pm_card_visa"),
			ClientSecret: "pi_7_secret_q", Send: send, Sender: backend,
		})
		if err != nil {
			t.Fatalf("Submit() error = %v", err)
		}
		sends := backend.sends()
		if len(sends) != 1 || sends[0].ClientSecret != "pi_7_secret_q" || sends[0].RecipientPhone != "+15555550100" {
			t.Errorf("unexpected transfer %+v", sends)
		}
		if out.TransferID != "tr_1" {
			t.Errorf("TransferID = %q", out.TransferID)
		}
	})

	t.Run("transfer requires action", func(t *testing.T) {
		backend := &fakeBackend{sendResp: &payment.SendWithCardResponse{RequiresAction: true}}
		s := NewSubmitter(clock.NewMock(), newTestLogger())
		_, err := s.Submit(context.Background(), Attempt{
			Confirmer: &fakeConfirmer{}, Element: mountedElement(t, "pm_card_visa"),
			ClientSecret: "pi_7_secret_q", Send: send, Sender: backend,
		})
		if KindOf(err) != KindRequiresAction {
			t.Errorf("Submit() error = %v, want requires action", err)
		}
	})

	t.Run("transfer fails after charge", func(t *testing.T) {
		backend := &fakeBackend{sendErr: &apiclient.APIError{StatusCode: 500, Message: "boom"}}
		s := NewSubmitter(clock.NewMock(), newTestLogger())
		_, err := s.Submit(context.Background(), Attempt{
			Confirmer: &fakeConfirmer{}, Element: mountedElement(t, "pm_card_visa"),
			ClientSecret: "pi_7_secret_q", Send: send, Sender: backend,
		})
		var e *Error
		if !errors.As(err, &e) || e.Kind != KindPostCharge || e.Message != MsgPostCharge {
			t.Errorf("Submit() error = %v, want post-charge failure", err)
		}
	})
}

func TestSubmitter_SavedCardConfirmsWithoutWidget(t *testing.T) {
	conf := &fakeConfirmer{}
	s := NewSubmitter(clock.NewMock(), newTestLogger())
	_, err := s.Submit(context.Background(), Attempt{
		Confirmer:          conf,
		ClientSecret:       "pi_3_secret_c",
		SavedPaymentMethod: "pm_saved",
	})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	calls := conf.paymentCalls()
	if len(calls) != 1 || calls[0].PaymentMethod != "pm_saved" {
		t.Errorf("unexpected confirmations %+v", calls)
	}
}

func TestSubmitter_Setup(t *testing.T) {
	conf := &fakeConfirmer{}
	s := NewSubmitter(clock.NewMock(), newTestLogger())
	if _, err := s.Submit(context.Background(), Attempt{
		Confirmer: conf, Element: mountedElement(t, "pm_card_visa"),
		ClientSecret: "seti_1_secret_z", Setup: true,
	}); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if len(conf.setupCalls()) != 1 || len(conf.paymentCalls()) != 0 {
		t.Error("setup flow should call ConfirmSetup only")
	}
}

func TestSubmitter_CanceledContext(t *testing.T) {
	conf := &fakeConfirmer{block: make(chan struct{})}
	s := NewSubmitter(clock.NewMock(), newTestLogger())
	ctx, cancel := context.WithCancel(context.Background())
	el := mountedElement(t, "pm_card_visa")

	done := make(chan error, 1)
	go func() {
		_, err := s.Submit(ctx, Attempt{Confirmer: conf, Element: el, ClientSecret: "pi_1_secret_a"})
		done <- err
	}()
	eventually(t, func() bool { return len(conf.paymentCalls()) == 1 }, "confirmation never started")
	cancel()

	if err := <-done; KindOf(err) != KindCanceled {
		t.Errorf("Submit() error = %v, want canceled", err)
	}
}
