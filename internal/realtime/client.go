package realtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"

	"github.com/shotonme/shotonme-client/internal/auth"
)

// ErrUnauthorized is returned when the backend rejects the handshake. It is
// not retried.
var ErrUnauthorized = errors.New("realtime handshake rejected: unauthorized")

// MessageHandler is called for each incoming frame.
// Return an error to signal the client should disconnect.
type MessageHandler func(messageType int, payload []byte) error

// Client holds one push connection to the backend, redialing with
// exponential backoff and jitter until its context is cancelled.
type Client struct {
	cfg     Config
	tokens  auth.TokenSource
	handler MessageHandler
	logger  *slog.Logger
	metrics *Metrics
	dialer  websocket.Dialer

	// bo is owned by the Run goroutine.
	bo *backoff.ExponentialBackOff

	// failures counts consecutive failed dials.
	failures atomic.Int64

	mu   sync.Mutex
	conn *websocket.Conn
}

// NewClient creates a realtime client. Every handshake carries a bearer
// token fetched from tokens.
func NewClient(cfg Config, tokens auth.TokenSource, handler MessageHandler, logger *slog.Logger, metrics *Metrics) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if cfg.ReadLimit <= 0 {
		cfg.ReadLimit = DefaultReadLimit
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = cfg.BaseDelay
	bo.MaxInterval = cfg.MaxDelay
	bo.RandomizationFactor = cfg.JitterFactor
	bo.Multiplier = 2
	bo.MaxElapsedTime = 0
	bo.Reset()

	return &Client{
		cfg:     cfg,
		tokens:  tokens,
		handler: handler,
		logger:  logger,
		metrics: metrics,
		dialer:  websocket.Dialer{HandshakeTimeout: cfg.HandshakeTimeout},
		bo:      bo,
	}, nil
}

// Run dials, serves the connection and redials until ctx is cancelled. A
// rejected handshake or an unusable token ends Run with that error.
func (c *Client) Run(ctx context.Context) error {
	// Cancelling ctx closes the socket, which unblocks a pending read.
	stop := context.AfterFunc(ctx, c.drop)
	defer stop()

	for {
		if err := ctx.Err(); err != nil {
			c.logger.Info("realtime client stopping")
			c.drop()
			return err
		}

		conn, err := c.dial(ctx)
		switch {
		case err == nil:
			c.failures.Store(0)
			c.bo.Reset()
			c.serve(ctx, conn)
		case isPermanent(err):
			c.logger.Error("realtime connection refused", slog.String("error", err.Error()))
			return err
		default:
			c.logFailure(err)
		}

		if err := c.pause(ctx); err != nil {
			c.drop()
			return err
		}
	}
}

func (c *Client) logFailure(err error) {
	n := c.failures.Add(1)
	level := slog.LevelWarn
	msg := "realtime connection failed"
	if c.cfg.MaxRetryAttempts > 0 && n >= c.cfg.MaxRetryAttempts {
		level = slog.LevelError
		msg = "realtime connection keeps failing"
	}
	c.logger.Log(context.Background(), level, msg,
		slog.String("error", err.Error()),
		slog.Int64("attempt", n))
}

// pause waits out the next backoff delay. It returns ctx.Err() without
// waiting once ctx is done.
func (c *Client) pause(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	delay := c.bo.NextBackOff()
	c.metrics.IncReconnects()
	c.logger.Info("scheduling reconnect",
		slog.Duration("delay", delay),
		slog.Int64("attempt", c.failures.Load()))

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}

	c.logger.Info("connecting to realtime channel", slog.String("url", c.cfg.URL))
	header := http.Header{"Authorization": []string{"Bearer " + token}}
	conn, resp, err := c.dialer.DialContext(ctx, c.cfg.URL, header)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, fmt.Errorf("%w (status %d)", ErrUnauthorized, resp.StatusCode)
		}
		return nil, err
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	c.metrics.SetConnected(true)
	c.logger.Info("connected to realtime channel")
	return conn, nil
}

// serve reads frames from conn until it fails, the handler rejects a frame,
// or ctx is cancelled.
func (c *Client) serve(ctx context.Context, conn *websocket.Conn) {
	conn.SetReadLimit(c.cfg.ReadLimit)

	idle := 2 * c.cfg.PingInterval
	extend := func() {
		if idle > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(idle))
		}
	}
	if idle > 0 {
		extend()
		conn.SetPongHandler(func(string) error { extend(); return nil })
		done := make(chan struct{})
		defer close(done)
		go c.keepalive(conn, done)
	}

	for ctx.Err() == nil {
		messageType, payload, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				c.logger.Warn("realtime connection closed", slog.String("error", err.Error()))
			}
			c.drop()
			return
		}
		extend()

		if c.handler == nil {
			continue
		}
		if err := c.handler(messageType, payload); err != nil {
			c.logger.Error("message handler error", slog.String("error", err.Error()))
			c.drop()
			return
		}
	}
}

// keepalive pings conn every PingInterval until done is closed or a ping
// cannot be written.
func (c *Client) keepalive(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			deadline := time.Now().Add(c.cfg.PingInterval / 2)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		}
	}
}

// drop closes the current connection, if any.
func (c *Client) drop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return
	}
	_ = c.conn.Close()
	c.conn = nil
	c.metrics.SetConnected(false)
}

func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

func isPermanent(err error) bool {
	return errors.Is(err, ErrUnauthorized) ||
		errors.Is(err, auth.ErrMissingToken) ||
		errors.Is(err, auth.ErrExpiredToken)
}
