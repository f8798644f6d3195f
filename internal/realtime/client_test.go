package realtime

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/shotonme/shotonme-client/internal/auth"
)

// newTestLogger creates a logger that discards all output to reduce test noise
func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig(url string) Config {
	return Config{
		URL:          url,
		BaseDelay:    10 * time.Millisecond,
		MaxDelay:     50 * time.Millisecond,
		JitterFactor: 0,
	}
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr error
	}{
		{"default", DefaultConfig("wss://api.example.com/socket"), nil},
		{"empty URL", Config{BaseDelay: 100, MaxDelay: 200}, ErrEmptyURL},
		{"http URL", Config{URL: "https://api.example.com/socket", BaseDelay: 100, MaxDelay: 200}, ErrInvalidScheme},
		{"invalid base delay", Config{URL: "wss://x", MaxDelay: 200}, ErrInvalidDelay},
		{"max below base", Config{URL: "wss://x", BaseDelay: 200, MaxDelay: 100}, ErrInvalidMaxDelay},
		{"jitter above one", Config{URL: "wss://x", BaseDelay: 100, MaxDelay: 200, JitterFactor: 1.5}, ErrInvalidJitter},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() error = %v, want %v", err, tt.wantErr)
			}
			if _, err := NewClient(tt.config, auth.NewStaticTokenSource("t"), nil, newTestLogger(), nil); !errors.Is(err, tt.wantErr) {
				t.Errorf("NewClient() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

// pushServer accepts websocket connections and sends frames to each.
type pushServer struct {
	srv         *httptest.Server
	upgrader    websocket.Upgrader
	frames      [][]byte
	closeAfter  bool
	connections int32

	mu         sync.Mutex
	authHeader string
}

func newPushServer(frames [][]byte, closeAfter bool) *pushServer {
	ps := &pushServer{
		upgrader:   websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		frames:     frames,
		closeAfter: closeAfter,
	}
	ps.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ps.mu.Lock()
		ps.authHeader = r.Header.Get("Authorization")
		ps.mu.Unlock()

		conn, err := ps.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		atomic.AddInt32(&ps.connections, 1)

		for _, f := range ps.frames {
			if err := conn.WriteMessage(websocket.TextMessage, f); err != nil {
				return
			}
		}
		if ps.closeAfter {
			return
		}
		// Hold the connection open until the client goes away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	return ps
}

func (ps *pushServer) Close() { ps.srv.Close() }

func TestClient_ReceivesFramesWithBearerToken(t *testing.T) {
	ps := newPushServer([][]byte{[]byte(`{"event":"wallet-updated","data":{"balance":12.5}}`)}, false)
	defer ps.Close()

	received := make(chan []byte, 1)
	handler := func(_ int, payload []byte) error {
		select {
		case received <- payload:
		default:
		}
		return nil
	}

	metrics := NewMetrics()
	client, err := NewClient(testConfig(wsURL(ps.srv)), auth.NewStaticTokenSource("Bearer tok-123"), handler, newTestLogger(), metrics)
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- client.Run(ctx) }()

	select {
	case payload := <-received:
		if !strings.Contains(string(payload), "wallet-updated") {
			t.Errorf("unexpected payload %s", payload)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no frame received")
	}

	if !client.IsConnected() {
		t.Error("expected client to be connected")
	}
	if got := testutil.ToFloat64(metrics.connected); got != 1 {
		t.Errorf("expected connected gauge 1, got %v", got)
	}
	ps.mu.Lock()
	if ps.authHeader != "Bearer tok-123" {
		t.Errorf("expected bearer header, got %q", ps.authHeader)
	}
	ps.mu.Unlock()

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run() error = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if client.IsConnected() {
		t.Error("expected client to be disconnected after cancel")
	}
}

func TestClient_ReconnectsAfterServerClose(t *testing.T) {
	ps := newPushServer([][]byte{[]byte(`{"event":"payment-redeemed","data":{}}`)}, true)
	defer ps.Close()

	metrics := NewMetrics()
	client, err := NewClient(testConfig(wsURL(ps.srv)), auth.NewStaticTokenSource("tok"), nil, newTestLogger(), metrics)
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- client.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for atomic.LoadInt32(&ps.connections) < 3 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	<-done

	if n := atomic.LoadInt32(&ps.connections); n < 3 {
		t.Errorf("expected at least 3 connections, got %d", n)
	}
	if got := testutil.ToFloat64(metrics.reconnects); got < 2 {
		t.Errorf("expected reconnects to be counted, got %v", got)
	}
}

func TestClient_RetriesUnreachableServer(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client, err := NewClient(testConfig(wsURL(srv)), auth.NewStaticTokenSource("tok"), nil, newTestLogger(), nil)
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	err = client.Run(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Run() error = %v, want deadline exceeded", err)
	}
	if n := atomic.LoadInt32(&attempts); n < 2 {
		t.Errorf("expected repeated attempts, got %d", n)
	}
}

func TestClient_UnauthorizedIsPermanent(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}))
	defer srv.Close()

	client, err := NewClient(testConfig(wsURL(srv)), auth.NewStaticTokenSource("tok"), nil, newTestLogger(), nil)
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err = client.Run(ctx)
	if !errors.Is(err, ErrUnauthorized) {
		t.Errorf("Run() error = %v, want ErrUnauthorized", err)
	}
	if n := atomic.LoadInt32(&attempts); n != 1 {
		t.Errorf("expected one attempt, got %d", n)
	}
}

type expiredTokens struct{}

func (expiredTokens) Token(context.Context) (string, error) {
	return "", auth.ErrExpiredToken
}

func TestClient_ExpiredTokenNeverDials(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
	}))
	defer srv.Close()

	client, err := NewClient(testConfig(wsURL(srv)), expiredTokens{}, nil, newTestLogger(), nil)
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}

	err = client.Run(context.Background())
	if !errors.Is(err, auth.ErrExpiredToken) {
		t.Errorf("Run() error = %v, want ErrExpiredToken", err)
	}
	if n := atomic.LoadInt32(&attempts); n != 0 {
		t.Errorf("expected no handshake, got %d", n)
	}
}

func TestClient_HandlerErrorDisconnects(t *testing.T) {
	ps := newPushServer([][]byte{[]byte(`x`)}, false)
	defer ps.Close()

	handler := func(int, []byte) error { return errors.New("stop") }
	client, err := NewClient(testConfig(wsURL(ps.srv)), auth.NewStaticTokenSource("tok"), handler, newTestLogger(), nil)
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- client.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for atomic.LoadInt32(&ps.connections) < 2 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	<-done

	if n := atomic.LoadInt32(&ps.connections); n < 2 {
		t.Errorf("expected a reconnect after the handler failed, got %d connections", n)
	}
}

func TestClient_KeepaliveHoldsIdleConnection(t *testing.T) {
	ps := newPushServer(nil, false)
	defer ps.Close()

	cfg := testConfig(wsURL(ps.srv))
	cfg.PingInterval = 20 * time.Millisecond
	client, err := NewClient(cfg, auth.NewStaticTokenSource("tok"), nil, newTestLogger(), nil)
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 250*time.Millisecond)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- client.Run(ctx) }()

	// Well past two ping intervals with no frames from the server.
	time.Sleep(150 * time.Millisecond)
	if !client.IsConnected() {
		t.Error("expected idle connection to stay up while pongs arrive")
	}
	<-done
	if n := atomic.LoadInt32(&ps.connections); n != 1 {
		t.Errorf("expected a single connection, got %d", n)
	}
}

func TestClient_DropsSilentConnection(t *testing.T) {
	var connections int32
	release := make(chan struct{})
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		atomic.AddInt32(&connections, 1)
		// Never read, so pings go unanswered.
		<-release
	}))
	defer srv.Close()
	defer close(release)

	cfg := testConfig(wsURL(srv))
	cfg.PingInterval = 20 * time.Millisecond
	client, err := NewClient(cfg, auth.NewStaticTokenSource("tok"), nil, newTestLogger(), nil)
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- client.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for atomic.LoadInt32(&connections) < 2 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	<-done

	if n := atomic.LoadInt32(&connections); n < 2 {
		t.Errorf("expected a redial after the read deadline passed, got %d connections", n)
	}
}
