// Package realtime keeps a push channel open to the backend and routes its
// events to the parts of the client that care about them.
package realtime

import (
	"errors"
	"net/url"
	"time"
)

const (
	DefaultBaseDelay        = 500 * time.Millisecond
	DefaultMaxDelay         = 30 * time.Second
	DefaultJitterFactor     = 0.5
	DefaultMaxRetryAttempts = 5
	DefaultHandshakeTimeout = 10 * time.Second
	DefaultPingInterval     = 25 * time.Second
	DefaultReadLimit        = 64 << 10
)

var (
	ErrEmptyURL        = errors.New("socket URL cannot be empty")
	ErrInvalidScheme   = errors.New("socket URL must use ws or wss")
	ErrInvalidDelay    = errors.New("base delay must be positive")
	ErrInvalidMaxDelay = errors.New("max delay must be >= base delay")
	ErrInvalidJitter   = errors.New("jitter factor must be between 0 and 1")
)

// Config controls the push connection and its reconnect schedule.
type Config struct {
	URL string // ws:// or wss://

	// Reconnect delays grow from BaseDelay to MaxDelay, each randomized by
	// JitterFactor (0 to 1).
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	JitterFactor float64

	// MaxRetryAttempts is the number of consecutive failures after which each
	// further failure is logged at error level. Zero disables the alert.
	MaxRetryAttempts int64

	HandshakeTimeout time.Duration

	// PingInterval is how often the client pings an idle connection. A
	// connection that answers neither frames nor pongs within two intervals
	// is dropped and redialed. Zero disables keepalive.
	PingInterval time.Duration

	// ReadLimit caps the size of one incoming frame. Zero means DefaultReadLimit.
	ReadLimit int64
}

// DefaultConfig returns a Config with default delays for socketURL.
func DefaultConfig(socketURL string) Config {
	return Config{
		URL:              socketURL,
		BaseDelay:        DefaultBaseDelay,
		MaxDelay:         DefaultMaxDelay,
		JitterFactor:     DefaultJitterFactor,
		MaxRetryAttempts: DefaultMaxRetryAttempts,
		HandshakeTimeout: DefaultHandshakeTimeout,
		PingInterval:     DefaultPingInterval,
		ReadLimit:        DefaultReadLimit,
	}
}

func (c Config) Validate() error {
	if c.URL == "" {
		return ErrEmptyURL
	}
	if u, err := url.Parse(c.URL); err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
		return ErrInvalidScheme
	}
	if c.BaseDelay <= 0 {
		return ErrInvalidDelay
	}
	if c.MaxDelay < c.BaseDelay {
		return ErrInvalidMaxDelay
	}
	if c.JitterFactor < 0 || c.JitterFactor > 1 {
		return ErrInvalidJitter
	}
	return nil
}
