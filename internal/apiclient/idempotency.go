package apiclient

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// Every POST carries an Idempotency-Key of at most MaxKeyLength bytes.
const (
	IdempotencyKeyHeader = "Idempotency-Key"
	MaxKeyLength         = 64
)

var (
	ErrInvalidKey = errors.New("idempotency key is empty")
	ErrKeyTooLong = errors.New("idempotency key is longer than 64 bytes")
)

func ValidateKey(key string) error {
	if key == "" {
		return ErrInvalidKey
	}
	if len(key) > MaxKeyLength {
		return ErrKeyTooLong
	}
	return nil
}

type idempotencyKeyContextKey struct{}

// WithIdempotencyKey makes the next POST issued with ctx reuse key instead of
// generating one. Retrying a submit with the same key lets the backend
// deduplicate the charge.
func WithIdempotencyKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, idempotencyKeyContextKey{}, key)
}

// IdempotencyKeyFrom returns the key set with WithIdempotencyKey, if any.
func IdempotencyKeyFrom(ctx context.Context) (string, bool) {
	key, ok := ctx.Value(idempotencyKeyContextKey{}).(string)
	return key, ok
}

// idempotencyKey returns the key carried by ctx, or a fresh UUID.
func idempotencyKey(ctx context.Context) (string, error) {
	if key, ok := IdempotencyKeyFrom(ctx); ok {
		if err := ValidateKey(key); err != nil {
			return "", err
		}
		return key, nil
	}
	return uuid.NewString(), nil
}
