package elements

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/shotonme/shotonme-client/internal/payment"
)

// ErrNotConfigured means the backend has payment processing turned off.
var ErrNotConfigured = errors.New("payment processing is not configured")

// KeyFetcher returns the vendor publishable key.
type KeyFetcher interface {
	StripeKey(ctx context.Context) (*payment.StripeKey, error)
}

// Factory builds a Confirmer for a publishable key.
type Factory func(publishableKey string) Confirmer

// Loader builds the process-wide vendor SDK handle once. Concurrent first
// callers share a single key fetch. Successful loads and "not configured"
// answers are cached; transport failures are not, so a later call retries.
type Loader struct {
	keys    KeyFetcher
	factory Factory
	group   singleflight.Group

	mu        sync.Mutex
	started   bool
	loaded    bool
	confirmer Confirmer
	err       error
}

// NewLoader creates a loader. A nil factory uses NewStripeConfirmer.
func NewLoader(keys KeyFetcher, factory Factory) *Loader {
	if factory == nil {
		factory = func(key string) Confirmer { return NewStripeConfirmer(key) }
	}
	return &Loader{keys: keys, factory: factory}
}

// Load returns the shared Confirmer, or ErrNotConfigured.
func (l *Loader) Load(ctx context.Context) (Confirmer, error) {
	l.mu.Lock()
	if l.loaded {
		c, err := l.confirmer, l.err
		l.mu.Unlock()
		return c, err
	}
	l.started = true
	l.mu.Unlock()

	v, err, _ := l.group.Do("sdk", func() (any, error) {
		key, err := l.keys.StripeKey(ctx)
		if err != nil {
			return nil, err
		}

		l.mu.Lock()
		defer l.mu.Unlock()
		if l.loaded {
			return l.confirmer, l.err
		}
		l.loaded = true
		if !key.Configured {
			l.err = ErrNotConfigured
			return nil, l.err
		}
		l.confirmer = l.factory(key.PublishableKey)
		return l.confirmer, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(Confirmer), nil
}

// Started reports whether a load has ever been attempted.
func (l *Loader) Started() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.started
}
