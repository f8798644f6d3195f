// Package readiness gates submission on the hosted card widget reporting that
// it is interactive.
//
// A Gate is a two-state machine. It starts NotReady when a widget mounts and
// becomes Ready on the widget's ready callback or when the fallback timer
// fires, whichever comes first. Ready holds until the widget is unmounted or a
// new one is mounted.
package readiness

import (
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// FallbackTimeout is how long the gate waits for the ready callback before
// assuming the widget is usable.
const FallbackTimeout = 5 * time.Second

// State is the readiness of the mounted widget.
type State int

const (
	NotReady State = iota
	Ready
)

func (s State) String() string {
	switch s {
	case Ready:
		return "ready"
	default:
		return "not_ready"
	}
}

// Event drives the gate.
type Event int

const (
	Mounted Event = iota
	ReadyCallback
	FallbackElapsed
	LoadFailed
	Unmounted
)

func (e Event) String() string {
	switch e {
	case Mounted:
		return "mounted"
	case ReadyCallback:
		return "ready_callback"
	case FallbackElapsed:
		return "fallback_elapsed"
	case LoadFailed:
		return "load_failed"
	case Unmounted:
		return "unmounted"
	default:
		return "unknown"
	}
}

// transitions lists every legal move. Pairs not present leave the state unchanged.
var transitions = map[State]map[Event]State{
	NotReady: {
		Mounted:         NotReady,
		ReadyCallback:   Ready,
		FallbackElapsed: Ready,
		LoadFailed:      NotReady,
		Unmounted:       NotReady,
	},
	Ready: {
		Mounted:   NotReady,
		Unmounted: NotReady,
	},
}

// TransitionFunc observes applied events.
type TransitionFunc func(from, to State, ev Event)

// Option configures a Gate.
type Option func(*Gate)

// WithClock sets the clock used for the fallback timer.
func WithClock(c clock.Clock) Option {
	return func(g *Gate) { g.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Gate) { g.logger = l }
}

// WithTransitionHook registers fn to run after each applied event. fn runs
// without the gate's lock held.
func WithTransitionHook(fn TransitionFunc) Option {
	return func(g *Gate) { g.hook = fn }
}

// Gate tracks readiness of one widget slot. Safe for concurrent use.
type Gate struct {
	clock  clock.Clock
	logger *slog.Logger
	hook   TransitionFunc

	mu      sync.Mutex
	state   State
	mounted bool
	gen     uint64 // bumped on every mount and unmount
	timer   *clock.Timer
	ready   chan struct{}
	err     error
}

// New creates a gate in the NotReady state with nothing mounted.
func New(opts ...Option) *Gate {
	g := &Gate{
		clock:  clock.New(),
		logger: slog.Default(),
		ready:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Arm records a fresh widget mount: the gate returns to NotReady and the
// fallback timer starts.
func (g *Gate) Arm() {
	g.mu.Lock()
	g.stopTimerLocked()
	g.gen++
	gen := g.gen
	g.mounted = true
	g.err = nil
	g.ready = make(chan struct{})
	from, to := g.applyLocked(Mounted)
	g.timer = g.clock.AfterFunc(FallbackTimeout, func() {
		g.signal(gen, FallbackElapsed, nil)
	})
	g.mu.Unlock()

	g.notify(from, to, Mounted)
}

// MarkReady handles the widget's ready callback.
func (g *Gate) MarkReady() {
	g.mu.Lock()
	gen := g.gen
	g.mu.Unlock()
	g.signal(gen, ReadyCallback, nil)
}

// Fail handles the widget's load error. The fallback timer is stopped so the
// gate stays NotReady for this mount.
func (g *Gate) Fail(err error) {
	g.mu.Lock()
	gen := g.gen
	g.mu.Unlock()
	g.signal(gen, LoadFailed, err)
}

// Stop records the widget unmounting and cancels the fallback timer.
func (g *Gate) Stop() {
	g.mu.Lock()
	g.stopTimerLocked()
	g.gen++
	g.mounted = false
	g.err = nil
	g.ready = make(chan struct{})
	from, to := g.applyLocked(Unmounted)
	g.mu.Unlock()

	g.notify(from, to, Unmounted)
}

// State returns the current state.
func (g *Gate) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// CanSubmit reports whether submission is allowed.
func (g *Gate) CanSubmit() bool {
	return g.State() == Ready
}

// Ready returns a channel closed when the current mount becomes Ready.
func (g *Gate) Ready() <-chan struct{} {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.ready
}

// Err returns the load error reported for the current mount, if any.
func (g *Gate) Err() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.err
}

// signal applies ev if the mount it belongs to is still current.
func (g *Gate) signal(gen uint64, ev Event, err error) {
	g.mu.Lock()
	if !g.mounted || gen != g.gen {
		g.mu.Unlock()
		return
	}
	if ev == FallbackElapsed && g.timer == nil {
		// Stopped by a load error after the timer had already fired.
		g.mu.Unlock()
		return
	}
	if ev == LoadFailed {
		g.stopTimerLocked()
		g.err = err
	}
	from, to := g.applyLocked(ev)
	g.mu.Unlock()

	if ev == LoadFailed {
		g.logger.Warn("payment widget failed to load", slog.Any("error", err))
	}
	if ev == FallbackElapsed && from == NotReady {
		g.logger.Info("payment widget ready callback missing, enabling submit after fallback",
			slog.Duration("timeout", FallbackTimeout))
	}
	g.notify(from, to, ev)
}

func (g *Gate) applyLocked(ev Event) (from, to State) {
	from = g.state
	to = from
	if next, ok := transitions[from][ev]; ok {
		to = next
	}
	g.state = to
	if from != Ready && to == Ready {
		close(g.ready)
	}
	if to == Ready {
		g.stopTimerLocked()
	}
	return from, to
}

func (g *Gate) stopTimerLocked() {
	if g.timer != nil {
		g.timer.Stop()
		g.timer = nil
	}
}

func (g *Gate) notify(from, to State, ev Event) {
	if g.hook != nil {
		g.hook(from, to, ev)
	}
}
