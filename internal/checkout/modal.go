package checkout

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"go.opentelemetry.io/otel/attribute"

	"github.com/shotonme/shotonme-client/internal/apiclient"
	"github.com/shotonme/shotonme-client/internal/elements"
	"github.com/shotonme/shotonme-client/internal/mount"
	"github.com/shotonme/shotonme-client/internal/payment"
	"github.com/shotonme/shotonme-client/internal/readiness"
	"github.com/shotonme/shotonme-client/internal/tracing"
)

// Flow is the kind of payment a modal runs.
type Flow int

const (
	// FlowAddFunds tops up the wallet.
	FlowAddFunds Flow = iota + 1
	// FlowPayAndSend charges a card and transfers the amount to a recipient.
	FlowPayAndSend
	// FlowTapAndPay pays a venue.
	FlowTapAndPay
	// FlowSaveCard saves a card without charging it.
	FlowSaveCard
)

func (f Flow) String() string {
	switch f {
	case FlowAddFunds:
		return "add_funds"
	case FlowPayAndSend:
		return "pay_and_send"
	case FlowTapAndPay:
		return "tap_and_pay"
	case FlowSaveCard:
		return "save_card"
	default:
		return "unknown"
	}
}

// DefaultLimits returns the amount bounds for f.
func (f Flow) DefaultLimits() payment.Limits {
	switch f {
	case FlowTapAndPay:
		return payment.TapAndPayLimits
	case FlowPayAndSend:
		return payment.SendLimits
	default:
		return payment.AddFundsLimits
	}
}

// Backend is the part of the API a modal calls.
type Backend interface {
	IntentCreator
	Sender
	PaymentMethods(ctx context.Context) ([]payment.PaymentMethod, error)
	CreateSetupIntent(ctx context.Context) (*payment.SetupIntentResponse, error)
}

// SDK hands out the shared vendor handle.
type SDK interface {
	Load(ctx context.Context) (elements.Confirmer, error)
}

// Recipient is who a pay-and-send transfer goes to.
type Recipient struct {
	Phone   string
	ID      string
	Message string
}

// Config describes one modal.
type Config struct {
	Flow Flow
	// Limits bounds the amount. Zero uses Flow.DefaultLimits.
	Limits    payment.Limits
	VenueID   string
	Recipient Recipient
	// SavePaymentMethod asks the backend to keep a newly entered card.
	SavePaymentMethod bool
	ReturnURL         string
	// OnSuccess runs once per open after a successful payment.
	OnSuccess func(Outcome)
}

// Deps are the collaborators a modal uses.
type Deps struct {
	Backend Backend
	SDK     SDK
	Element elements.Element
	// Mounts is shared by every modal in the process. Nil creates a private one.
	Mounts  *mount.Coordinator
	Clock   clock.Clock
	Logger  *slog.Logger
	Metrics *Metrics
}

// Modal drives one payment modal from open to close.
type Modal struct {
	cfg     Config
	limits  payment.Limits
	backend Backend
	sdk     SDK
	element elements.Element
	metrics *Metrics
	clock   clock.Clock
	logger  *slog.Logger

	session   *Session
	recon     *Reconciler
	submitter *Submitter
	gate      *readiness.Gate

	submitting atomic.Bool
	mountMu    sync.Mutex

	mu        sync.Mutex
	confirmer elements.Confirmer
	mountSeq  uint64
	mounted   bool
	succeeded bool
}

// NewModal creates a closed modal.
func NewModal(deps Deps, cfg Config) *Modal {
	if deps.Clock == nil {
		deps.Clock = clock.New()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	limits := cfg.Limits
	if limits == (payment.Limits{}) {
		limits = cfg.Flow.DefaultLimits()
	}
	logger := deps.Logger.With(slog.String("flow", cfg.Flow.String()))

	m := &Modal{
		cfg:     cfg,
		limits:  limits,
		backend: deps.Backend,
		sdk:     deps.SDK,
		element: deps.Element,
		metrics: deps.Metrics,
		clock:   deps.Clock,
		logger:  logger,
	}
	m.session = NewSession(deps.Mounts, logger)
	m.recon = NewReconciler(m.session, deps.Backend, cfg.Flow, deps.Metrics, logger)
	m.submitter = NewSubmitter(deps.Clock, logger)
	m.gate = readiness.New(
		readiness.WithClock(deps.Clock),
		readiness.WithLogger(logger),
		readiness.WithTransitionHook(func(from, to readiness.State, ev readiness.Event) {
			if ev == readiness.FallbackElapsed && from == readiness.NotReady && to == readiness.Ready {
				m.metrics.IncReadinessFallbacks()
			}
		}),
	)
	return m
}

// Open starts a fresh session: loads the vendor SDK, then either fetches the
// saved cards or, for the save-card flow, mints a setup intent and mounts the
// widget. A KindConfiguration error leaves the modal open in its
// "not available" state. Reopening tears the previous session down first.
func (m *Modal) Open(ctx context.Context) error {
	m.Close()
	tok := m.session.Open(ctx)
	m.mu.Lock()
	m.confirmer = nil
	m.succeeded = false
	m.mu.Unlock()

	sessCtx, ok := m.session.Context(tok)
	if !ok {
		return newError(KindCanceled, "", ErrSessionClosed)
	}

	confirmer, err := m.sdk.Load(sessCtx)
	if err != nil {
		var e *Error
		if errors.Is(err, elements.ErrNotConfigured) {
			e = newError(KindConfiguration, MsgNotConfigured, err)
		} else {
			e = backendError(sessCtx, err, MsgInitializeFailed)
		}
		return m.fail(tok, e)
	}
	m.mu.Lock()
	m.confirmer = confirmer
	m.mu.Unlock()
	m.session.Apply(tok, func(st *State) { st.Configured = true })

	if m.cfg.Flow == FlowSaveCard {
		m.metrics.IncIntentsRequested(m.cfg.Flow)
		setup, err := m.backend.CreateSetupIntent(sessCtx)
		if err != nil {
			return m.fail(tok, backendError(sessCtx, err, MsgInitializeFailed))
		}
		if !m.session.Apply(tok, func(st *State) {
			st.ClientSecret = setup.ClientSecret
			st.UseSavedCard = false
		}) {
			return newError(KindCanceled, "", ErrSessionClosed)
		}
		return m.mountWidget(ctx, tok, setup.ClientSecret)
	}

	methods, err := m.backend.PaymentMethods(sessCtx)
	if err != nil {
		if sessCtx.Err() != nil {
			return newError(KindCanceled, "", err)
		}
		// Without the list the user can still pay with a new card.
		m.logger.Warn("failed to fetch payment methods", slog.String("error", err.Error()))
	}
	def, hasDefault := payment.DefaultMethod(methods)
	if !m.session.Apply(tok, func(st *State) {
		st.PaymentMethods = methods
		st.UseSavedCard = hasDefault
		if hasDefault {
			st.SelectedPaymentMethod = def.ID
		}
	}) {
		return newError(KindCanceled, "", ErrSessionClosed)
	}
	return nil
}

// Close tears the session down. The widget is hidden and unmounted before
// its slot is released. Safe to call repeatedly.
func (m *Modal) Close() {
	m.recon.Invalidate()
	m.session.HideWidget()
	m.unmountWidget()
	m.session.Close()
}

// State returns a snapshot of the session.
func (m *Modal) State() State {
	return m.session.Snapshot()
}

// Readiness returns the widget readiness.
func (m *Modal) Readiness() readiness.State {
	return m.gate.State()
}

// WidgetReady returns a channel closed when the mounted widget becomes ready.
func (m *Modal) WidgetReady() <-chan struct{} {
	return m.gate.Ready()
}

// CanSubmit reports whether the submit control is enabled.
func (m *Modal) CanSubmit() bool {
	st := m.session.Snapshot()
	if !st.Active || !st.Configured || m.submitting.Load() {
		return false
	}
	if m.savedCardMode(st) {
		return st.Amount > 0
	}
	return st.ClientSecret != "" && m.gate.CanSubmit()
}

// SetAmount records a typed amount. Any change discards a minted secret; no
// intent is requested until the user continues.
func (m *Modal) SetAmount(amount float64) error {
	tok, ok := m.session.Token()
	if !ok {
		return ErrSessionClosed
	}
	st := m.session.Snapshot()
	if amount == st.Amount {
		return nil
	}
	m.discardSecret(tok)
	m.session.Apply(tok, func(st *State) {
		st.Amount = amount
		st.Message = ""
		st.newAttempt()
	})
	return nil
}

// SetAmountText parses and records a typed amount.
func (m *Modal) SetAmountText(text string) error {
	amount, err := payment.ParseAmount(text)
	if err != nil {
		return m.failCurrent(validationError(err))
	}
	return m.SetAmount(amount)
}

// SelectQuickAmount records a quick-amount press and, in new-card mode, mints
// an intent for it.
func (m *Modal) SelectQuickAmount(ctx context.Context, amount float64) error {
	if err := m.SetAmount(amount); err != nil {
		return err
	}
	return m.maybeMint(ctx, ReasonQuickAmount)
}

// SelectPaymentMethod switches to a saved card. No intent is minted until submit.
func (m *Modal) SelectPaymentMethod(id string) error {
	tok, ok := m.session.Token()
	if !ok {
		return ErrSessionClosed
	}
	st := m.session.Snapshot()
	if _, found := payment.FindMethod(st.PaymentMethods, id); !found {
		return m.fail(tok, newError(KindValidation, MsgSelectPaymentMethod, nil))
	}
	m.discardSecret(tok)
	m.session.Apply(tok, func(st *State) {
		if st.SelectedPaymentMethod != id || !st.UseSavedCard {
			st.newAttempt()
		}
		st.SelectedPaymentMethod = id
		st.UseSavedCard = true
		st.Message = ""
	})
	return nil
}

// UseNewCard switches to card entry and mints an intent when the amount allows.
func (m *Modal) UseNewCard(ctx context.Context) error {
	tok, ok := m.session.Token()
	if !ok {
		return ErrSessionClosed
	}
	m.session.Apply(tok, func(st *State) {
		if st.UseSavedCard || st.SelectedPaymentMethod != "" {
			st.newAttempt()
		}
		st.SelectedPaymentMethod = ""
		st.UseSavedCard = false
	})
	return m.maybeMint(ctx, ReasonNewCardChosen)
}

// Continue confirms the typed amount in new-card mode and mints an intent.
func (m *Modal) Continue(ctx context.Context) error {
	st := m.session.Snapshot()
	if !st.Active {
		return ErrSessionClosed
	}
	if st.UseSavedCard {
		return nil
	}
	if st.Amount <= 0 {
		return m.failCurrent(validationError(payment.ErrInvalidAmount))
	}
	return m.maybeMint(ctx, ReasonContinue)
}

func (m *Modal) maybeMint(ctx context.Context, reason Reason) error {
	tok, ok := m.session.Token()
	if !ok {
		return ErrSessionClosed
	}
	st := m.session.Snapshot()
	if m.cfg.Flow == FlowSaveCard || st.ClientSecret != "" || !ShouldRequest(st, reason) {
		return nil
	}
	if !st.Configured {
		return newError(KindConfiguration, MsgNotConfigured, nil)
	}
	if err := m.limits.Validate(st.Amount); err != nil {
		return m.fail(tok, validationError(err))
	}

	ctx, end := tracing.StartSpan(ctx, "checkout.create_intent",
		tracing.AttrFlow.String(m.cfg.Flow.String()),
		tracing.AttrAmount.Float64(st.Amount),
		tracing.AttrSessionID.String(st.ID))
	tracing.SetAttributes(ctx, attribute.String("checkout.reason", reason.String()))

	resp, err := m.recon.Request(withAttempt(ctx, st, "intent"), tok, payment.CreateIntentRequest{
		Amount:            st.Amount,
		SavePaymentMethod: m.cfg.SavePaymentMethod,
		VenueID:           m.cfg.VenueID,
	})
	if err != nil {
		if errors.Is(err, ErrSuperseded) || IsCanceled(err) {
			tracing.AddEvent(ctx, "checkout.intent_dropped", attribute.String("checkout.cause", dropCause(err)))
			end(nil)
			return err
		}
		end(err)
		return m.fail(tok, err)
	}
	end(nil)

	if resp.Succeeded() {
		// Already charged: skip the widget entirely.
		if !m.submitting.CompareAndSwap(false, true) {
			return ErrSubmitInFlight
		}
		defer m.submitting.Store(false)
		start := m.clock.Now()
		sessCtx, ok := m.session.Context(tok)
		if !ok {
			return newError(KindCanceled, "", ErrSessionClosed)
		}
		out := &Outcome{IntentID: resp.PaymentIntentID, Status: payment.StatusSucceeded}
		out, err = m.submitter.Complete(sessCtx, m.attempt(st, resp.ClientSecret), out)
		_, err = m.finish(tok, start, out, err)
		return err
	}
	if resp.ClientSecret == "" {
		return m.fail(tok, newError(KindNetwork, MsgInitializeFailed, nil))
	}
	return m.mountWidget(ctx, tok, resp.ClientSecret)
}

// Submit confirms the payment. Out-of-range amounts are rejected before any
// request. A saved card is charged through create-intent; a new card is
// confirmed through the mounted widget.
func (m *Modal) Submit(ctx context.Context) (*Outcome, error) {
	if !m.submitting.CompareAndSwap(false, true) {
		return nil, ErrSubmitInFlight
	}
	defer m.submitting.Store(false)

	start := m.clock.Now()
	tok, ok := m.session.Token()
	if !ok {
		return nil, newError(KindCanceled, "", ErrSessionClosed)
	}
	st := m.session.Snapshot()
	if !st.Configured {
		return nil, m.fail(tok, newError(KindConfiguration, MsgNotConfigured, nil))
	}
	if m.cfg.Flow != FlowSaveCard {
		if err := m.limits.Validate(st.Amount); err != nil {
			return nil, m.fail(tok, validationError(err))
		}
	}

	sessCtx, ok := m.session.Context(tok)
	if !ok {
		return nil, newError(KindCanceled, "", ErrSessionClosed)
	}
	ctx, cancel := mergeCancel(ctx, sessCtx)
	defer cancel()

	ctx, end := tracing.StartSpan(ctx, "checkout.submit",
		tracing.AttrFlow.String(m.cfg.Flow.String()),
		tracing.AttrAmount.Float64(st.Amount),
		tracing.AttrSessionID.String(st.ID))
	tracing.SetAttributes(ctx, attribute.Bool("checkout.saved_card", m.savedCardMode(st)))

	m.session.Apply(tok, func(st *State) {
		st.Submission = Submitting
		st.Message = ""
	})

	var out *Outcome
	var err error
	if m.savedCardMode(st) {
		out, err = m.submitSaved(ctx, tok, st)
	} else if st.ClientSecret == "" || !m.gate.CanSubmit() {
		err = newError(KindValidation, MsgFormNotReady, nil)
	} else {
		out, err = m.submitter.Submit(ctx, m.attempt(st, st.ClientSecret))
	}
	tracing.SetAttributes(ctx, tracing.AttrOutcome.String(outcomeOf(err)))
	end(err)

	return m.finish(tok, start, out, err)
}

func (m *Modal) submitSaved(ctx context.Context, tok Token, st State) (*Outcome, error) {
	resp, err := m.recon.Request(withAttempt(ctx, st, "intent"), tok, payment.CreateIntentRequest{
		Amount:          st.Amount,
		PaymentMethodID: st.SelectedPaymentMethod,
		VenueID:         m.cfg.VenueID,
	})
	if err != nil {
		if errors.Is(err, ErrSuperseded) {
			return nil, newError(KindCanceled, "", err)
		}
		return nil, err
	}

	attempt := m.attempt(st, resp.ClientSecret)
	attempt.Element = nil
	attempt.SavedPaymentMethod = st.SelectedPaymentMethod

	if resp.Succeeded() {
		id := resp.PaymentIntentID
		if id == "" {
			id, _ = payment.IntentIDFromSecret(resp.ClientSecret)
		}
		return m.submitter.complete(ctx, attempt, &Outcome{IntentID: id, Status: payment.StatusSucceeded})
	}
	if resp.ClientSecret == "" {
		return nil, statusError(resp.Status)
	}
	// The saved card needs confirmation, e.g. for authentication.
	return m.submitter.Submit(ctx, attempt)
}

func (m *Modal) attempt(st State, secret string) Attempt {
	m.mu.Lock()
	confirmer := m.confirmer
	m.mu.Unlock()

	a := Attempt{
		Confirmer:    confirmer,
		Element:      m.element,
		ClientSecret: secret,
		Setup:        m.cfg.Flow == FlowSaveCard,
		ReturnURL:    m.cfg.ReturnURL,
	}
	if m.cfg.Flow == FlowPayAndSend {
		if st.AttemptKey != "" {
			a.IdempotencyKey = st.AttemptKey + ":send"
		}
		a.Send = &payment.SendWithCardRequest{
			RecipientPhone: m.cfg.Recipient.Phone,
			RecipientID:    m.cfg.Recipient.ID,
			Amount:         st.Amount,
			Message:        m.cfg.Recipient.Message,
		}
		a.Sender = m.backend
	}
	return a
}

// finish records the outcome of a submit. Success fires OnSuccess once and
// closes the modal.
func (m *Modal) finish(tok Token, start time.Time, out *Outcome, err error) (*Outcome, error) {
	elapsed := m.clock.Since(start).Seconds()

	if err == nil {
		m.metrics.ObserveSubmission(m.cfg.Flow, "succeeded", elapsed)
		if !m.session.Apply(tok, func(st *State) { st.Submission = Succeeded }) {
			m.logger.Warn("payment succeeded after the session closed",
				slog.String("intent_id", out.IntentID))
			return out, nil
		}
		m.logger.Info("payment succeeded",
			slog.String("session_id", m.session.Snapshot().ID),
			slog.String("intent_id", out.IntentID))

		m.mu.Lock()
		fire := !m.succeeded
		m.succeeded = true
		m.mu.Unlock()
		if fire && m.cfg.OnSuccess != nil {
			m.cfg.OnSuccess(*out)
		}
		m.Close()
		return out, nil
	}

	if errors.Is(err, ErrSubmitInFlight) {
		return nil, err
	}
	if IsCanceled(err) {
		m.metrics.ObserveSubmission(m.cfg.Flow, KindCanceled.String(), elapsed)
		m.session.Apply(tok, func(st *State) { st.Submission = Idle })
		return nil, err
	}

	var e *Error
	if !errors.As(err, &e) {
		e = newError(KindNetwork, MsgPaymentFailed, err)
	}
	m.metrics.ObserveSubmission(m.cfg.Flow, e.Kind.String(), elapsed)
	m.session.Apply(tok, func(st *State) {
		st.Submission = Failed
		st.Message = e.Message
	})
	return nil, e
}

// fail records e as the displayed message and returns it. Canceled errors are
// never displayed.
func (m *Modal) fail(tok Token, err error) error {
	if IsCanceled(err) {
		return err
	}
	var e *Error
	if !errors.As(err, &e) {
		e = newError(KindNetwork, MsgPaymentFailed, err)
	}
	m.session.Apply(tok, func(st *State) {
		st.Message = e.Message
		if e.Kind == KindConfiguration {
			st.Configured = false
		}
	})
	return e
}

func (m *Modal) failCurrent(err error) error {
	tok, ok := m.session.Token()
	if !ok {
		return err
	}
	return m.fail(tok, err)
}

func (m *Modal) savedCardMode(st State) bool {
	return m.cfg.Flow != FlowSaveCard && st.UseSavedCard && st.SelectedPaymentMethod != ""
}

// discardSecret drops the minted secret and the widget bound to it.
func (m *Modal) discardSecret(tok Token) {
	m.recon.Invalidate()
	m.unmountWidget()
	m.session.Apply(tok, func(st *State) {
		st.ClientSecret = ""
		st.CardComplete = false
	})
}

// mountWidget mounts the card widget for secret once the widget slot is held.
func (m *Modal) mountWidget(ctx context.Context, tok Token, secret string) error {
	if m.element == nil {
		return m.fail(tok, newError(KindValidation, MsgFormNotReady, nil))
	}
	if err := m.session.WaitRenderable(ctx, tok); err != nil {
		return newError(KindCanceled, "", err)
	}

	m.mountMu.Lock()
	defer m.mountMu.Unlock()

	if st := m.session.Snapshot(); !st.Active || !st.CanRenderElements || st.ClientSecret != secret {
		return ErrSuperseded
	}

	m.mu.Lock()
	if m.mounted {
		m.mu.Unlock()
		m.element.Unmount()
		m.gate.Stop()
		m.mu.Lock()
	}
	m.mountSeq++
	seq := m.mountSeq
	m.mounted = true
	m.mu.Unlock()

	m.gate.Arm()
	if err := m.element.Mount(secret, &widgetSink{m: m, tok: tok, seq: seq}); err != nil {
		m.gate.Fail(err)
		return m.fail(tok, newError(KindVendor, MsgFormNotReady, err))
	}
	m.logger.Debug("payment widget mounted", slog.Uint64("mount", seq))
	return nil
}

func (m *Modal) unmountWidget() {
	m.mountMu.Lock()
	defer m.mountMu.Unlock()

	m.mu.Lock()
	mounted := m.mounted
	m.mounted = false
	m.mountSeq++
	m.mu.Unlock()

	if mounted {
		m.element.Unmount()
		m.gate.Stop()
	}
}

// widgetSink forwards callbacks from one mount. Callbacks from an older
// mount are dropped.
type widgetSink struct {
	m   *Modal
	tok Token
	seq uint64
}

func (s *widgetSink) current() bool {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	return s.m.mounted && s.m.mountSeq == s.seq
}

func (s *widgetSink) OnReady() {
	if s.current() {
		s.m.gate.MarkReady()
	}
}

func (s *widgetSink) OnLoadError(err error) {
	if !s.current() {
		return
	}
	s.m.gate.Fail(err)
	s.m.session.Apply(s.tok, func(st *State) { st.Message = MsgFormNotReady })
}

func (s *widgetSink) OnChange(ev elements.ChangeEvent) {
	if !s.current() {
		return
	}
	s.m.session.Apply(s.tok, func(st *State) {
		st.CardComplete = ev.Complete && ev.Err == nil
		if ev.Err != nil {
			st.Message = ev.Err.Error()
		} else if st.Submission != Failed {
			st.Message = ""
		}
	})
}

// withAttempt scopes the idempotency key of an op to the current attempt, so
// a retried submit is deduplicated by the backend.
func withAttempt(ctx context.Context, st State, op string) context.Context {
	if st.AttemptKey == "" {
		return ctx
	}
	return apiclient.WithIdempotencyKey(ctx, st.AttemptKey+":"+op)
}

func dropCause(err error) string {
	if errors.Is(err, ErrSuperseded) {
		return "superseded"
	}
	return "canceled"
}

// mergeCancel returns a context derived from sess that is also canceled when
// caller is.
func mergeCancel(caller, sess context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(sess)
	stop := context.AfterFunc(caller, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}
