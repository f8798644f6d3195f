package notification

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// ErrNotFound is returned for an id the center does not hold.
var ErrNotFound = errors.New("notification not found")

// Backend is the notification API.
type Backend interface {
	Notifications(ctx context.Context) ([]Notification, error)
	UnreadCount(ctx context.Context) (int, error)
	MarkNotificationRead(ctx context.Context, id string) error
	MarkAllNotificationsRead(ctx context.Context) error
	DeleteNotification(ctx context.Context, id string) error
}

// Option configures a Center.
type Option func(*Center)

// WithCache writes the unread badge through cache.
func WithCache(cache CountCache) Option {
	return func(c *Center) { c.cache = cache }
}

// WithMetrics records read-state changes in m.
func WithMetrics(m *Metrics) Option {
	return func(c *Center) { c.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Center) { c.logger = l }
}

// Center holds the local notification list and its unread badge.
//
// A notification's read flag only goes from false to true. Once the list is
// loaded the badge always equals the number of unread items.
type Center struct {
	backend Backend
	user    string
	cache   CountCache
	metrics *Metrics
	logger  *slog.Logger

	mu     sync.Mutex
	items  []Notification
	unread int
	loaded bool
}

// NewCenter creates a center for user. user keys the badge cache.
func NewCenter(backend Backend, user string, opts ...Option) *Center {
	c := &Center{
		backend: backend,
		user:    user,
		cache:   NewMemoryCountCache(),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Items returns a copy of the list, newest first.
func (c *Center) Items() []Notification {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Notification(nil), c.items...)
}

// UnreadCount returns the badge.
func (c *Center) UnreadCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.unread
}

// Loaded reports whether the list has been fetched at least once.
func (c *Center) Loaded() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loaded
}

// Cached returns the badge stored in the count cache, for display before the
// first Refresh.
func (c *Center) Cached(ctx context.Context) (int, bool) {
	n, ok, err := c.cache.Unread(ctx, c.user)
	if err != nil {
		c.logger.Warn("failed to read cached unread count", slog.String("error", err.Error()))
		return 0, false
	}
	return n, ok
}

// Refresh fetches the list. The server decides which items exist; an item
// already read locally stays read even if the server has not caught up.
func (c *Center) Refresh(ctx context.Context) error {
	fetched, err := c.backend.Notifications(ctx)
	if err != nil {
		return fmt.Errorf("fetch notifications: %w", err)
	}

	c.mu.Lock()
	readLocally := make(map[string]bool, len(c.items))
	for _, n := range c.items {
		if n.Read {
			readLocally[n.ID] = true
		}
	}
	items := make([]Notification, 0, len(fetched))
	seen := make(map[string]bool, len(fetched))
	for _, n := range fetched {
		if seen[n.ID] {
			continue
		}
		seen[n.ID] = true
		n.Read = n.Read || readLocally[n.ID]
		items = append(items, n)
	}
	c.items = items
	c.loaded = true
	n := c.recountLocked()
	c.mu.Unlock()

	c.publish(ctx, n)
	return nil
}

// RefreshCount fetches only the badge. Once the list is loaded the badge is
// derived from it and the server count is ignored.
func (c *Center) RefreshCount(ctx context.Context) (int, error) {
	count, err := c.backend.UnreadCount(ctx)
	if err != nil {
		return 0, fmt.Errorf("fetch unread count: %w", err)
	}

	c.mu.Lock()
	if c.loaded {
		n := c.unread
		c.mu.Unlock()
		if n != count {
			c.logger.Debug("server unread count differs from local list",
				slog.Int("server", count), slog.Int("local", n))
		}
		return n, nil
	}
	c.unread = count
	c.mu.Unlock()

	c.publish(ctx, count)
	return count, nil
}

// MarkRead marks one notification read. An item that is already read makes
// no call.
func (c *Center) MarkRead(ctx context.Context, id string) error {
	c.mu.Lock()
	i := c.indexLocked(id)
	if i < 0 {
		c.mu.Unlock()
		return ErrNotFound
	}
	if c.items[i].Read {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	if err := c.backend.MarkNotificationRead(ctx, id); err != nil {
		return fmt.Errorf("mark notification read: %w", err)
	}
	c.metrics.IncMarkedRead("one")

	c.mu.Lock()
	// The list may have been refreshed during the call.
	if i = c.indexLocked(id); i >= 0 {
		c.items[i].Read = true
	}
	n := c.recountLocked()
	c.mu.Unlock()

	c.publish(ctx, n)
	return nil
}

// MarkAllRead marks every item read and zeroes the badge before calling the
// backend. A failed call is returned but not rolled back.
func (c *Center) MarkAllRead(ctx context.Context) error {
	c.mu.Lock()
	for i := range c.items {
		c.items[i].Read = true
	}
	c.unread = 0
	c.mu.Unlock()
	c.publish(ctx, 0)

	if err := c.backend.MarkAllNotificationsRead(ctx); err != nil {
		c.logger.Warn("mark all read failed; local state kept",
			slog.String("error", err.Error()))
		return fmt.Errorf("mark all notifications read: %w", err)
	}
	c.metrics.IncMarkedRead("all")
	return nil
}

// Delete removes a notification on the backend, then locally.
func (c *Center) Delete(ctx context.Context, id string) error {
	if err := c.backend.DeleteNotification(ctx, id); err != nil {
		return fmt.Errorf("delete notification: %w", err)
	}

	c.mu.Lock()
	if i := c.indexLocked(id); i >= 0 {
		c.items = append(c.items[:i], c.items[i+1:]...)
	}
	n := c.unread
	if c.loaded {
		n = c.recountLocked()
	}
	c.mu.Unlock()

	c.publish(ctx, n)
	return nil
}

// HandleNew adds a pushed notification to the top of the list. Duplicates
// are ignored. It reports whether the item was added.
func (c *Center) HandleNew(ctx context.Context, n Notification) bool {
	if n.ID == "" {
		return false
	}

	c.mu.Lock()
	if c.indexLocked(n.ID) >= 0 {
		c.mu.Unlock()
		return false
	}
	c.items = append([]Notification{n}, c.items...)
	if !n.Read {
		c.unread++
	}
	count := c.unread
	c.mu.Unlock()

	c.metrics.IncReceived()
	c.publish(ctx, count)
	return true
}

func (c *Center) indexLocked(id string) int {
	for i, n := range c.items {
		if n.ID == id {
			return i
		}
	}
	return -1
}

func (c *Center) recountLocked() int {
	n := 0
	for _, item := range c.items {
		if !item.Read {
			n++
		}
	}
	c.unread = n
	return n
}

// publish writes the badge through the cache. Cache failures are logged only.
func (c *Center) publish(ctx context.Context, n int) {
	c.metrics.SetUnread(n)
	if err := c.cache.SetUnread(ctx, c.user, n); err != nil {
		c.metrics.IncCacheErrors()
		c.logger.Warn("failed to cache unread count",
			slog.Int("count", n),
			slog.String("error", err.Error()))
	}
}
