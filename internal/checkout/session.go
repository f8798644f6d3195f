// Package checkout runs the client side of a payment: the per-modal session,
// intent reconciliation, submission and the flows built from them.
package checkout

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/shotonme/shotonme-client/internal/mount"
	"github.com/shotonme/shotonme-client/internal/payment"
)

// SubmissionState is the progress of the current submit.
type SubmissionState int

const (
	Idle SubmissionState = iota
	Submitting
	Succeeded
	Failed
)

func (s SubmissionState) String() string {
	switch s {
	case Submitting:
		return "submitting"
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	default:
		return "idle"
	}
}

// State is a snapshot of one payment session.
type State struct {
	ID                    string
	Active                bool
	Configured            bool
	Amount                float64
	ClientSecret          string
	SelectedPaymentMethod string
	UseSavedCard          bool
	PaymentMethods        []payment.PaymentMethod
	CanRenderElements     bool
	CardComplete          bool
	Submission            SubmissionState
	// Message is the error or notice currently displayed. Empty when none.
	Message string
	// AttemptKey scopes the idempotency keys of one charge attempt. It is
	// replaced whenever the amount or payment method changes.
	AttemptKey string
}

func (st *State) newAttempt() {
	st.AttemptKey = uuid.NewString()
}

// Token identifies one open of a session. Results carrying a stale token are
// dropped.
type Token uint64

// Session holds the ephemeral state of one payment modal. It is created fresh
// on Open and reset on Close; no write lands after Close.
type Session struct {
	mounts *mount.Coordinator
	logger *slog.Logger

	mu         sync.Mutex
	token      Token
	ctx        context.Context
	cancel     context.CancelFunc
	release    func()
	renderable chan struct{}
	hidden     bool
	st         State
}

// NewSession creates a closed session. mounts is shared by every session that
// renders a card widget.
func NewSession(mounts *mount.Coordinator, logger *slog.Logger) *Session {
	if mounts == nil {
		mounts = mount.New()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		mounts:     mounts,
		logger:     logger,
		renderable: make(chan struct{}),
	}
}

// Open resets the session and starts waiting for the widget slot. Opening an
// already open session closes it first.
func (s *Session) Open(parent context.Context) Token {
	s.Close()

	s.mu.Lock()
	s.token++
	tok := s.token
	s.ctx, s.cancel = context.WithCancel(parent)
	s.renderable = make(chan struct{})
	s.hidden = false
	s.st = State{ID: uuid.NewString(), Active: true}
	s.st.newAttempt()
	ctx := s.ctx
	renderable := s.renderable
	s.mu.Unlock()

	go func() {
		release, err := s.mounts.Acquire(ctx)
		if err != nil {
			return
		}
		s.mu.Lock()
		if s.token != tok || s.hidden {
			s.mu.Unlock()
			release()
			return
		}
		s.release = release
		s.st.CanRenderElements = true
		close(renderable)
		s.mu.Unlock()
	}()

	return tok
}

// Close cancels in-flight requests, clears the session and frees the widget
// slot. Closing a closed or never-opened session is a no-op.
func (s *Session) Close() {
	s.mu.Lock()
	if !s.st.Active {
		s.mu.Unlock()
		return
	}
	id := s.st.ID
	s.token++
	s.cancel()
	s.st = State{}
	release := s.release
	s.release = nil
	s.mu.Unlock()

	if release != nil {
		release()
	}
	s.logger.Debug("payment session closed", slog.String("session_id", id))
}

// HideWidget clears CanRenderElements while the slot is still held, so a
// widget can be torn down before the slot is released by Close.
func (s *Session) HideWidget() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.st.Active {
		s.hidden = true
		s.st.CanRenderElements = false
	}
}

// Snapshot returns a copy of the current state.
func (s *Session) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.st
	st.PaymentMethods = append([]payment.PaymentMethod(nil), s.st.PaymentMethods...)
	return st
}

// Token returns the current token, and false when the session is closed.
func (s *Session) Token() (Token, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token, s.st.Active
}

// Context returns the request context for tok.
func (s *Session) Context(tok Token) (context.Context, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if tok != s.token || !s.st.Active {
		return nil, false
	}
	return s.ctx, true
}

// Apply runs fn against the state if tok is still current. It reports
// whether fn ran.
func (s *Session) Apply(tok Token, fn func(*State)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if tok != s.token || !s.st.Active {
		return false
	}
	fn(&s.st)
	return true
}

// WaitRenderable blocks until the widget slot for tok is held.
func (s *Session) WaitRenderable(ctx context.Context, tok Token) error {
	s.mu.Lock()
	if tok != s.token || !s.st.Active {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	renderable := s.renderable
	sessCtx := s.ctx
	s.mu.Unlock()

	select {
	case <-renderable:
		return nil
	case <-sessCtx.Done():
		return ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}
