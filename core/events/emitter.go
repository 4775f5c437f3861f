// Package events provides the named-event emitter that stores, collections
// and transport channels are built on.
package events

import (
	"sync"

	"github.com/rs/zerolog"
)

// DefaultMaxListeners is the per-event listener count above which a warning is logged.
const DefaultMaxListeners = 10

// Handler is a function invoked with the arguments passed to Emit.
type Handler func(args ...any)

// Listener is a single registration returned by On and Once.
// It is the identity used to unregister a handler.
type Listener struct {
	fn      Handler
	once    bool
	event   string
	emitter *Emitter

	mu    sync.Mutex
	calls int
}

// Calls returns how many times the listener has been invoked.
func (l *Listener) Calls() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls
}

// Remove unregisters the listener from its emitter.
func (l *Listener) Remove() {
	if l.emitter != nil {
		l.emitter.Off(l.event, l)
	}
}

func (l *Listener) invoke(args []any) {
	l.mu.Lock()
	l.calls++
	l.mu.Unlock()
	l.fn(args...)
}

// Emitter maps event names to ordered listener lists.
type Emitter struct {
	mu           sync.RWMutex
	listeners    map[string][]*Listener
	maxListeners int
	logger       zerolog.Logger
}

// New creates an emitter with the default listener threshold.
func New(logger zerolog.Logger) *Emitter {
	return &Emitter{
		listeners:    make(map[string][]*Listener),
		maxListeners: DefaultMaxListeners,
		logger:       logger,
	}
}

// SetMaxListeners changes the warning threshold. Zero or less disables the warning.
func (e *Emitter) SetMaxListeners(n int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.maxListeners = n
}

// On registers fn for event.
func (e *Emitter) On(event string, fn Handler) *Listener {
	return e.add(event, fn, false)
}

// Once registers fn for a single invocation of event.
func (e *Emitter) Once(event string, fn Handler) *Listener {
	return e.add(event, fn, true)
}

func (e *Emitter) add(event string, fn Handler, once bool) *Listener {
	l := &Listener{fn: fn, once: once, event: event, emitter: e}

	e.mu.Lock()
	e.listeners[event] = append(e.listeners[event], l)
	n := len(e.listeners[event])
	max := e.maxListeners
	e.mu.Unlock()

	if max > 0 && n > max {
		e.logger.Warn().
			Str("event", event).
			Int("listeners", n).
			Int("max", max).
			Msg("listener count exceeds maximum, possible leak")
	}
	return l
}

// Off removes listeners for event. Without listeners every registration for the
// event is dropped; otherwise only the given ones. It returns the number removed.
func (e *Emitter) Off(event string, listeners ...*Listener) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	bucket, ok := e.listeners[event]
	if !ok {
		return 0
	}

	if len(listeners) == 0 {
		delete(e.listeners, event)
		return len(bucket)
	}

	drop := make(map[*Listener]bool, len(listeners))
	for _, l := range listeners {
		drop[l] = true
	}

	kept := bucket[:0:0]
	for _, l := range bucket {
		if !drop[l] {
			kept = append(kept, l)
		}
	}
	removed := len(bucket) - len(kept)

	if len(kept) == 0 {
		delete(e.listeners, event)
	} else {
		e.listeners[event] = kept
	}
	return removed
}

// Emit invokes every listener of event, most recently registered first.
// Once-listeners are unregistered before their call. Returns the number of
// listeners invoked; an unknown event is a no-op returning 0.
func (e *Emitter) Emit(event string, args ...any) int {
	e.mu.RLock()
	bucket := e.listeners[event]
	snapshot := make([]*Listener, len(bucket))
	copy(snapshot, bucket)
	e.mu.RUnlock()

	if len(snapshot) == 0 {
		return 0
	}

	e.logger.Debug().
		Str("event", event).
		Int("listeners", len(snapshot)).
		Msg("event emitted")

	called := 0
	for i := len(snapshot) - 1; i >= 0; i-- {
		l := snapshot[i]
		// a once-listener may already have fired in a nested Emit
		if l.once && e.Off(event, l) == 0 {
			continue
		}
		l.invoke(args)
		called++
	}
	return called
}

// ListenerCount returns the number of listeners registered for event.
func (e *Emitter) ListenerCount(event string) int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.listeners[event])
}

// Events returns the names that currently have listeners.
func (e *Emitter) Events() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	names := make([]string, 0, len(e.listeners))
	for name := range e.listeners {
		names = append(names, name)
	}
	return names
}

// ClearEvents drops every listener of every event.
func (e *Emitter) ClearEvents() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listeners = make(map[string][]*Listener)
}
