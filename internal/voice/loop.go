package voice

import (
	"context"
	"log/slog"
	"sync"
)

// defaultQueueSize bounds the event channel. Producers block when the loop
// falls this far behind, which keeps the single-writer timeline intact.
const defaultQueueSize = 64

// EffectHandler executes the side effects requested by the reducer. The
// handler runs I/O in the background and reports outcomes by dispatching
// events back into the loop, echoing the effect's epoch.
type EffectHandler interface {
	HandleEffect(ctx context.Context, effect Effect)
}

// EffectHandlerFunc adapts a function to the [EffectHandler] interface.
type EffectHandlerFunc func(ctx context.Context, effect Effect)

// HandleEffect implements [EffectHandler].
func (f EffectHandlerFunc) HandleEffect(ctx context.Context, effect Effect) { f(ctx, effect) }

// Loop serializes all orchestrator events onto one logical timeline. Events
// from any goroutine are queued through [Loop.Dispatch]; the loop applies
// them to the reducer one at a time and hands the resulting effects to the
// handler, so the machine itself never needs a lock for transitions.
type Loop struct {
	handler EffectHandler
	logger  *slog.Logger
	events  chan Event

	mu      sync.RWMutex
	machine Machine
}

// LoopOption configures a [Loop] during construction.
type LoopOption func(*Loop)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) LoopOption {
	return func(lp *Loop) {
		if l != nil {
			lp.logger = l
		}
	}
}

// WithQueueSize sets the event channel capacity. The default is 64.
func WithQueueSize(n int) LoopOption {
	return func(lp *Loop) {
		if n > 0 {
			lp.events = make(chan Event, n)
		}
	}
}

// NewLoop creates a loop around a fresh idle machine.
func NewLoop(handler EffectHandler, opts ...LoopOption) *Loop {
	l := &Loop{
		handler: handler,
		logger:  slog.Default(),
		events:  make(chan Event, defaultQueueSize),
		machine: NewMachine(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Dispatch queues an event for processing. It blocks if the queue is full
// and returns ctx.Err() if ctx is cancelled while waiting.
func (l *Loop) Dispatch(ctx context.Context, e Event) error {
	select {
	case l.events <- e:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Snapshot returns a copy of the current machine state.
func (l *Loop) Snapshot() Machine {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.machine
}

// Run processes events until ctx is cancelled. It is the only goroutine
// that mutates the machine.
func (l *Loop) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case e := <-l.events:
			l.step(ctx, e)
		}
	}
}

// step applies one event and executes the resulting effects in order.
func (l *Loop) step(ctx context.Context, e Event) {
	l.mu.Lock()
	before := l.machine.State
	next, effects := Apply(l.machine, e)
	l.machine = next
	l.mu.Unlock()

	if before != next.State {
		l.logger.Debug("voice state transition",
			"from", before,
			"to", next.State,
			"event", e.Type,
			"epoch", next.Epoch,
		)
	}

	for _, ef := range effects {
		l.handler.HandleEffect(ctx, ef)
	}
}
