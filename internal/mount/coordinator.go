// Package mount serialises hosted widget instances: a new widget may only be
// created once the previous one has been released.
package mount

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Coordinator hands out the single widget slot.
type Coordinator struct {
	sem *semaphore.Weighted
}

// New creates a coordinator with one free slot.
func New() *Coordinator {
	return &Coordinator{sem: semaphore.NewWeighted(1)}
}

// Acquire blocks until the slot is free or ctx is done. The returned release
// func is safe to call more than once.
func (c *Coordinator) Acquire(ctx context.Context) (release func(), err error) {
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	var once sync.Once
	return func() {
		once.Do(func() { c.sem.Release(1) })
	}, nil
}
