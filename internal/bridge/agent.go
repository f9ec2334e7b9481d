package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	xlog "github.com/duisenbekovayan/order_live/internal/log"
)

// State is the lifecycle state of one agent version.
type State string

const (
	StateParsed     State = "parsed"
	StateInstalling State = "installing"
	StateInstalled  State = "installed" // waiting to take over
	StateActivating State = "activating"
	StateActivated  State = "activated"
	StateRedundant  State = "redundant"
)

// Handler processes one event.
type Handler func(ctx context.Context, ev *Event) error

// Handlers is the event-handler table of an agent.
type Handlers map[EventKind]Handler

const inboxSize = 64

type envelope struct {
	ctx  context.Context
	ev   *Event
	done chan error // nil for fire-and-forget
}

// Agent is one installed version of the background agent.
type Agent struct {
	version  string
	handlers Handlers
	logger   zerolog.Logger

	inbox chan envelope
	stop  chan struct{}
	once  sync.Once

	state atomic.Value // State
	reg   atomic.Pointer[Registration]
}

func NewAgent(version string, handlers Handlers, logger *zerolog.Logger) *Agent {
	l := xlog.WithComponent("bridge")
	if logger != nil {
		l = *logger
	}
	a := &Agent{
		version:  version,
		handlers: handlers,
		logger:   l.With().Str("version", version).Logger(),
		inbox:    make(chan envelope, inboxSize),
		stop:     make(chan struct{}),
	}
	a.state.Store(StateParsed)
	return a
}

func (a *Agent) Version() string { return a.version }

func (a *Agent) State() State { return a.state.Load().(State) }

func (a *Agent) setState(s State) {
	old := a.State()
	a.state.Store(s)
	a.logger.Debug().Str("old_state", string(old)).Str("new_state", string(s)).Msg("agent state changed")
}

// Dispatch runs the handler for ev and waits for all work registered with WaitUntil.
func (a *Agent) Dispatch(ctx context.Context, ev *Event) error {
	h, ok := a.handlers[ev.Kind]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoHandler, ev.Kind)
	}
	ev.agent = a
	err := h(ctx, ev)
	if werr := ev.wait(ctx); werr != nil {
		err = errors.Join(err, werr)
	}
	return err
}

// Post enqueues ev for the agent's own goroutine and returns without waiting for it.
func (a *Agent) Post(ctx context.Context, ev *Event) error {
	return a.enqueue(ctx, envelope{ctx: context.WithoutCancel(ctx), ev: ev})
}

// Send enqueues ev and waits until the agent has processed it.
func (a *Agent) Send(ctx context.Context, ev *Event) error {
	done := make(chan error, 1)
	if err := a.enqueue(ctx, envelope{ctx: ctx, ev: ev, done: done}); err != nil {
		return err
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *Agent) enqueue(ctx context.Context, env envelope) error {
	select {
	case <-a.stop:
		return ErrAgentStopped
	default:
	}
	select {
	case a.inbox <- env:
		return nil
	case <-a.stop:
		return ErrAgentStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run processes inbox events one at a time until ctx is done or the agent is stopped.
func (a *Agent) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-a.stop:
			return nil
		case env := <-a.inbox:
			err := a.Dispatch(env.ctx, env.ev)
			if err != nil {
				a.logger.Warn().Err(err).Str(xlog.FieldEvent, string(env.ev.Kind)).Msg("event handler failed")
			}
			if env.done != nil {
				env.done <- err
			}
		}
	}
}

// Stop ends Run. Pending inbox events are dropped.
func (a *Agent) Stop() {
	a.once.Do(func() { close(a.stop) })
}

// SkipWaiting asks the owning registration to activate this agent now instead of waiting
// for every client of the previous version to go away.
func (a *Agent) SkipWaiting(ctx context.Context) error {
	reg := a.reg.Load()
	if reg == nil {
		return errors.New("agent is not registered")
	}
	return reg.promote(ctx, a)
}
