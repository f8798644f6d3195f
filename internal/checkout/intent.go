package checkout

import (
	"context"
	"log/slog"
	"sync"

	"github.com/shotonme/shotonme-client/internal/payment"
)

// Reason is the user action that may warrant minting an intent.
type Reason int

const (
	// ReasonNewCardChosen is the user switching to "use new card".
	ReasonNewCardChosen Reason = iota + 1
	// ReasonQuickAmount is a quick-amount button press.
	ReasonQuickAmount
	// ReasonContinue is "continue" pressed in new-card mode.
	ReasonContinue
)

func (r Reason) String() string {
	switch r {
	case ReasonNewCardChosen:
		return "new_card"
	case ReasonQuickAmount:
		return "quick_amount"
	case ReasonContinue:
		return "continue"
	default:
		return "unknown"
	}
}

// ShouldRequest reports whether reason warrants a new intent for st.
// Selecting a saved card never does: saved-card charges are created on submit.
func ShouldRequest(st State, reason Reason) bool {
	if st.Amount <= 0 || st.UseSavedCard {
		return false
	}
	switch reason {
	case ReasonNewCardChosen, ReasonQuickAmount, ReasonContinue:
		return true
	}
	return false
}

// IntentCreator mints payment intents.
type IntentCreator interface {
	CreateIntent(ctx context.Context, req payment.CreateIntentRequest) (*payment.CreateIntentResponse, error)
}

// Reconciler keeps at most one intent request live per session. Each request
// cancels the one before it, and only the newest response may touch state.
type Reconciler struct {
	session *Session
	backend IntentCreator
	flow    Flow
	metrics *Metrics
	logger  *slog.Logger

	mu         sync.Mutex
	seq        uint64
	cancelPrev context.CancelFunc
}

// NewReconciler creates a reconciler for session.
func NewReconciler(session *Session, backend IntentCreator, flow Flow, metrics *Metrics, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		session: session,
		backend: backend,
		flow:    flow,
		metrics: metrics,
		logger:  logger,
	}
}

// Request mints an intent for tok. A response with a client secret is stored
// in the session unless the charge already succeeded. A request replaced by a
// newer one returns ErrSuperseded; one whose session closed returns a
// KindCanceled error. ctx carries request values such as the span and
// idempotency key, and cancels the request along with the session.
func (r *Reconciler) Request(ctx context.Context, tok Token, req payment.CreateIntentRequest) (*payment.CreateIntentResponse, error) {
	sessCtx, ok := r.session.Context(tok)
	if !ok {
		return nil, newError(KindCanceled, "", ErrSessionClosed)
	}

	r.mu.Lock()
	if r.cancelPrev != nil {
		r.cancelPrev()
	}
	r.seq++
	seq := r.seq
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(sessCtx, cancel)
	r.cancelPrev = cancel
	r.mu.Unlock()
	defer func() {
		stop()
		cancel()
	}()

	r.metrics.IncIntentsRequested(r.flow)
	resp, err := r.backend.CreateIntent(ctx, req)
	store := err == nil && !resp.Succeeded() && resp.ClientSecret != ""

	// The secret is written under mu so Invalidate cannot slip in between
	// the staleness check and the write. mu is always taken before the
	// session lock.
	stored := false
	r.mu.Lock()
	current := seq == r.seq
	if current {
		r.cancelPrev = nil
		if store {
			stored = r.session.Apply(tok, func(st *State) { st.ClientSecret = resp.ClientSecret })
		}
	}
	r.mu.Unlock()

	if !current {
		r.metrics.IncIntentsSuperseded()
		r.logger.Debug("discarding superseded intent response", slog.Uint64("seq", seq))
		return nil, ErrSuperseded
	}
	if err != nil {
		e := backendError(ctx, err, MsgInitializeFailed)
		if e.Kind != KindCanceled {
			r.logger.Warn("failed to create payment intent",
				slog.String("flow", r.flow.String()),
				slog.Float64("amount", req.Amount),
				slog.String("error", err.Error()))
		}
		return nil, e
	}
	if store && !stored {
		return nil, newError(KindCanceled, "", ErrSessionClosed)
	}
	return resp, nil
}

// Invalidate supersedes and cancels any in-flight request.
func (r *Reconciler) Invalidate() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	if r.cancelPrev != nil {
		r.cancelPrev()
		r.cancelPrev = nil
	}
}

// Live reports whether a request is in flight.
func (r *Reconciler) Live() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cancelPrev != nil
}
