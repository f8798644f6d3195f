package elements

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/shotonme/shotonme-client/internal/payment"
)

type fakeKeys struct {
	calls int32
	key   *payment.StripeKey
	err   error
	gate  chan struct{}
}

func (f *fakeKeys) StripeKey(ctx context.Context) (*payment.StripeKey, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.gate != nil {
		<-f.gate
	}
	return f.key, f.err
}

type nopConfirmer struct{ key string }

func (nopConfirmer) ConfirmPayment(context.Context, ConfirmParams) (*Result, error) { return nil, nil }
func (nopConfirmer) ConfirmSetup(context.Context, ConfirmParams) (*Result, error)   { return nil, nil }

func TestLoader_SharesOneFetch(t *testing.T) {
	keys := &fakeKeys{
		key:  &payment.StripeKey{Configured: true, PublishableKey: "pk_test_1"},
		gate: make(chan struct{}),
	}
	var built int32
	l := NewLoader(keys, func(key string) Confirmer {
		atomic.AddInt32(&built, 1)
		return nopConfirmer{key: key}
	})

	var wg sync.WaitGroup
	results := make([]Confirmer, 5)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c, err := l.Load(context.Background())
			if err != nil {
				t.Errorf("Load() error = %v", err)
			}
			results[i] = c
		}(i)
	}
	// Let the callers pile up on the in-flight fetch.
	for !l.Started() {
	}
	close(keys.gate)
	wg.Wait()

	if _, err := l.Load(context.Background()); err != nil {
		t.Fatalf("cached Load() error = %v", err)
	}
	if n := atomic.LoadInt32(&built); n != 1 {
		t.Errorf("factory called %d times, want 1", n)
	}
	if n := atomic.LoadInt32(&keys.calls); n > 5 || n < 1 {
		t.Errorf("key fetched %d times", n)
	}
	for _, c := range results {
		if c != results[0] {
			t.Error("callers received different confirmers")
		}
	}
}

func TestLoader_NotConfiguredIsCached(t *testing.T) {
	keys := &fakeKeys{key: &payment.StripeKey{Configured: false}}
	l := NewLoader(keys, func(string) Confirmer { return nopConfirmer{} })

	for i := 0; i < 3; i++ {
		if _, err := l.Load(context.Background()); !errors.Is(err, ErrNotConfigured) {
			t.Fatalf("Load() error = %v, want ErrNotConfigured", err)
		}
	}
	if n := atomic.LoadInt32(&keys.calls); n != 1 {
		t.Errorf("key fetched %d times, want 1", n)
	}
}

func TestLoader_TransportErrorIsRetried(t *testing.T) {
	keys := &fakeKeys{err: errors.New("connection refused")}
	l := NewLoader(keys, func(key string) Confirmer { return nopConfirmer{key: key} })

	if _, err := l.Load(context.Background()); err == nil {
		t.Fatal("Load() expected error")
	}

	keys.err = nil
	keys.key = &payment.StripeKey{Configured: true, PublishableKey: "pk_test_2"}
	c, err := l.Load(context.Background())
	if err != nil {
		t.Fatalf("Load() after recovery error = %v", err)
	}
	if c.(nopConfirmer).key != "pk_test_2" {
		t.Errorf("unexpected confirmer %v", c)
	}
}

type recordingSink struct {
	ready   int
	loadErr error
	changes []ChangeEvent
}

func (s *recordingSink) OnReady()                { s.ready++ }
func (s *recordingSink) OnLoadError(err error)   { s.loadErr = err }
func (s *recordingSink) OnChange(ev ChangeEvent) { s.changes = append(s.changes, ev) }

func TestStaticElement(t *testing.T) {
	e := NewStaticElement("pm_card_visa")
	e.NodeDelay = 2

	if _, ok := e.Node(); ok {
		t.Fatal("Node() before Mount should be absent")
	}

	sink := &recordingSink{}
	if err := e.Mount("pi_1_secret_a", sink); err != nil {
		t.Fatalf("Mount() error = %v", err)
	}
	if sink.ready != 1 || len(sink.changes) != 1 || !sink.changes[0].Complete {
		t.Errorf("unexpected callbacks %+v", sink)
	}

	for i := 0; i < 2; i++ {
		if _, ok := e.Node(); ok {
			t.Fatalf("Node() poll %d should be absent", i)
		}
	}
	node, ok := e.Node()
	if !ok || node.PaymentMethod != "pm_card_visa" {
		t.Errorf("Node() = %+v, %v", node, ok)
	}

	e.Unmount()
	if _, mounted := e.Mounted(); mounted {
		t.Error("Mounted() after Unmount")
	}
}

func TestStaticElement_LoadError(t *testing.T) {
	e := NewStaticElement("pm_card_visa")
	e.LoadErr = errors.New("failed to load")

	sink := &recordingSink{}
	_ = e.Mount("pi_1_secret_a", sink)
	if sink.ready != 0 || sink.loadErr == nil {
		t.Errorf("unexpected callbacks %+v", sink)
	}
	if _, ok := e.Node(); ok {
		t.Error("Node() should be absent after a load error")
	}
}

func newStripeServer(t *testing.T, handler http.HandlerFunc) *StripeConfirmer {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewStripeConfirmer("pk_test_123",
		WithBackendURL(srv.URL),
		WithMaxNetworkRetries(0),
		WithStripeLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
}

func TestStripeConfirmer_ConfirmPayment(t *testing.T) {
	var gotPath, gotSecret, gotPM, gotAuth string
	c := newStripeServer(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		_ = r.ParseForm()
		gotSecret = r.PostForm.Get("client_secret")
		gotPM = r.PostForm.Get("payment_method")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"pi_123","object":"payment_intent","status":"succeeded"}`))
	})

	res, err := c.ConfirmPayment(context.Background(), ConfirmParams{
		ClientSecret:  "pi_123_secret_abc",
		PaymentMethod: "pm_card_visa",
		Redirect:      RedirectIfRequired,
	})
	if err != nil {
		t.Fatalf("ConfirmPayment() error = %v", err)
	}
	if res.IntentID != "pi_123" || res.Status != payment.StatusSucceeded {
		t.Errorf("unexpected result %+v", res)
	}
	if gotPath != "/v1/payment_intents/pi_123/confirm" {
		t.Errorf("path = %q", gotPath)
	}
	if gotSecret != "pi_123_secret_abc" || gotPM != "pm_card_visa" {
		t.Errorf("form client_secret=%q payment_method=%q", gotSecret, gotPM)
	}
	if gotAuth != "Bearer pk_test_123" {
		t.Errorf("Authorization = %q", gotAuth)
	}
}

func TestStripeConfirmer_CardDeclined(t *testing.T) {
	c := newStripeServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusPaymentRequired)
		_, _ = w.Write([]byte(`{"error":{"type":"card_error","code":"card_declined","decline_code":"insufficient_funds","message":"Your card has insufficient funds."}}`))
	})

	_, err := c.ConfirmPayment(context.Background(), ConfirmParams{ClientSecret: "pi_9_secret_z"})
	var ce *ConfirmError
	if !errors.As(err, &ce) {
		t.Fatalf("expected *ConfirmError, got %T %v", err, err)
	}
	if ce.Code != "card_declined" || ce.DeclineCode != "insufficient_funds" {
		t.Errorf("unexpected error %+v", ce)
	}
	if ce.Error() != "Your card has insufficient funds." {
		t.Errorf("Error() = %q", ce.Error())
	}
}

func TestStripeConfirmer_ProviderDown(t *testing.T) {
	c := newStripeServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":{"type":"api_error","message":"Something went wrong"}}`))
	})

	_, err := c.ConfirmSetup(context.Background(), ConfirmParams{ClientSecret: "seti_1_secret_z"})
	if !errors.Is(err, ErrProviderUnavailable) {
		t.Errorf("ConfirmSetup() error = %v, want ErrProviderUnavailable", err)
	}
}

func TestStripeConfirmer_ConfirmSetup(t *testing.T) {
	var gotPath string
	c := newStripeServer(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"seti_1","object":"setup_intent","status":"succeeded"}`))
	})

	res, err := c.ConfirmSetup(context.Background(), ConfirmParams{ClientSecret: "seti_1_secret_z", PaymentMethod: "pm_card_visa"})
	if err != nil {
		t.Fatalf("ConfirmSetup() error = %v", err)
	}
	if gotPath != "/v1/setup_intents/seti_1/confirm" || res.Status != payment.StatusSucceeded {
		t.Errorf("path = %q, result = %+v", gotPath, res)
	}
}

func TestStripeConfirmer_InvalidSecret(t *testing.T) {
	c := NewStripeConfirmer("pk_test_123")
	_, err := c.ConfirmPayment(context.Background(), ConfirmParams{ClientSecret: "garbage"})
	var ce *ConfirmError
	if !errors.As(err, &ce) {
		t.Errorf("expected *ConfirmError, got %v", err)
	}
}
