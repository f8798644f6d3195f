// Package elements wraps the hosted card widget and the vendor SDK behind
// small interfaces so the checkout state machines can run against fakes.
package elements

import (
	"errors"
	"sync"
)

// ErrNotMounted is returned when an element is used before Mount.
var ErrNotMounted = errors.New("payment element is not mounted")

// ChangeEvent is the widget's onChange payload.
type ChangeEvent struct {
	Complete bool
	Empty    bool
	Err      error
}

// Sink receives the widget's lifecycle callbacks. Implementations must be
// safe to call from any goroutine.
type Sink interface {
	OnReady()
	OnLoadError(err error)
	OnChange(ev ChangeEvent)
}

// Node is the queryable card handle inside a mounted widget. PaymentMethod is
// the tokenized card the widget collected, for example "pm_card_visa" in test mode.
type Node struct {
	PaymentMethod string
}

// Element is one hosted card widget instance.
type Element interface {
	// Mount attaches the widget to an intent's client secret. Callbacks may
	// fire before Mount returns.
	Mount(clientSecret string, sink Sink) error
	// Unmount detaches the widget. Safe to call when not mounted.
	Unmount()
	// Node returns the card handle once the widget has rendered it.
	Node() (Node, bool)
}

// StaticElement is an Element backed by an already tokenized payment method.
// It is what the CLI mounts, and what tests use to script widget behaviour.
type StaticElement struct {
	// PaymentMethod is handed out as the card node.
	PaymentMethod string
	// SkipReady suppresses the ready callback so the fallback timer decides.
	SkipReady bool
	// LoadErr, when set, is reported through OnLoadError instead of ready.
	LoadErr error
	// NodeDelay is the number of Node calls that report the handle as absent.
	NodeDelay int

	mu      sync.Mutex
	mounted bool
	secret  string
	polls   int
	mounts  int
}

// NewStaticElement returns an element that yields paymentMethod as its card.
func NewStaticElement(paymentMethod string) *StaticElement {
	return &StaticElement{PaymentMethod: paymentMethod}
}

func (e *StaticElement) Mount(clientSecret string, sink Sink) error {
	e.mu.Lock()
	e.mounted = true
	e.secret = clientSecret
	e.polls = 0
	e.mounts++
	loadErr, skip, pm := e.LoadErr, e.SkipReady, e.PaymentMethod
	e.mu.Unlock()

	if loadErr != nil {
		sink.OnLoadError(loadErr)
		return nil
	}
	if !skip {
		sink.OnReady()
	}
	sink.OnChange(ChangeEvent{Complete: pm != "", Empty: pm == ""})
	return nil
}

func (e *StaticElement) Unmount() {
	e.mu.Lock()
	e.mounted = false
	e.secret = ""
	e.mu.Unlock()
}

func (e *StaticElement) Node() (Node, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.mounted || e.LoadErr != nil {
		return Node{}, false
	}
	e.polls++
	if e.polls <= e.NodeDelay {
		return Node{}, false
	}
	return Node{PaymentMethod: e.PaymentMethod}, true
}

// Mounted reports whether the element is mounted and the secret it holds.
func (e *StaticElement) Mounted() (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.secret, e.mounted
}

// Mounts returns how many times Mount was called.
func (e *StaticElement) Mounts() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.mounts
}
