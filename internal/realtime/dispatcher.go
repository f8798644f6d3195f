package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/shotonme/shotonme-client/internal/notification"
)

// Events pushed by the backend.
const (
	EventNewNotification = "new-notification"
	EventWalletUpdated   = "wallet-updated"
	EventPaymentRedeemed = "payment-redeemed"
)

// Envelope is one pushed event.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// HandlerFunc handles the data of one event.
type HandlerFunc func(data json.RawMessage) error

// Dispatcher routes envelopes to the handlers registered for their event.
// Events are hints to refetch or patch local state; they never carry
// authoritative writes.
type Dispatcher struct {
	logger  *slog.Logger
	metrics *Metrics

	mu       sync.RWMutex
	handlers map[string][]HandlerFunc
}

// NewDispatcher creates an empty dispatcher.
func NewDispatcher(logger *slog.Logger, metrics *Metrics) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		logger:   logger,
		metrics:  metrics,
		handlers: make(map[string][]HandlerFunc),
	}
}

// On registers fn for event. Handlers run in registration order on the read
// goroutine.
func (d *Dispatcher) On(event string, fn HandlerFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[event] = append(d.handlers[event], fn)
}

// Handle implements MessageHandler. Malformed frames and handler failures
// are logged and skipped so one bad event does not drop the connection.
func (d *Dispatcher) Handle(messageType int, payload []byte) error {
	if messageType != websocket.TextMessage {
		return nil
	}

	var env Envelope
	if err := json.Unmarshal(payload, &env); err != nil || env.Event == "" {
		d.logger.Warn("ignoring malformed realtime frame", slog.Int("bytes", len(payload)))
		return nil
	}

	d.mu.RLock()
	handlers := append([]HandlerFunc(nil), d.handlers[env.Event]...)
	d.mu.RUnlock()

	if len(handlers) == 0 {
		d.metrics.IncMessages("other")
		d.logger.Debug("no handler for realtime event", slog.String("event", env.Event))
		return nil
	}
	d.metrics.IncMessages(env.Event)

	for _, fn := range handlers {
		if err := fn(env.Data); err != nil {
			d.metrics.IncHandlerErrors(env.Event)
			d.logger.Warn("realtime handler failed",
				slog.String("event", env.Event),
				slog.String("error", err.Error()))
		}
	}
	return nil
}

// NotificationSink receives pushed notifications.
type NotificationSink interface {
	HandleNew(ctx context.Context, n notification.Notification) bool
}

// NotificationHandler decodes new-notification events into sink.
func NotificationHandler(ctx context.Context, sink NotificationSink) HandlerFunc {
	return func(data json.RawMessage) error {
		n, err := notification.Decode(data)
		if err != nil {
			return fmt.Errorf("decode notification: %w", err)
		}
		sink.HandleNew(ctx, n)
		return nil
	}
}
