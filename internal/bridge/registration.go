package bridge

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/rs/zerolog"

	"github.com/duisenbekovayan/order_live/internal/cache"
	xlog "github.com/duisenbekovayan/order_live/internal/log"
)

// Registration tracks the active and the waiting agent version of one deployment.
// A newly installed version waits until either it calls SkipWaiting or all clients of the
// active version are gone.
type Registration struct {
	base   context.Context
	logger zerolog.Logger

	mu      sync.Mutex
	active  *Agent
	waiting *Agent
	cancels map[*Agent]context.CancelFunc
}

// NewRegistration ties agent goroutines to ctx.
func NewRegistration(ctx context.Context, logger *zerolog.Logger) *Registration {
	l := xlog.WithComponent("registration")
	if logger != nil {
		l = *logger
	}
	return &Registration{base: ctx, logger: l, cancels: make(map[*Agent]context.CancelFunc)}
}

// Register installs a new version. On install failure the version is discarded and
// Register may be retried. Without an active version the new one activates immediately.
func (r *Registration) Register(ctx context.Context, a *Agent) error {
	a.reg.Store(r)
	runCtx, cancel := context.WithCancel(r.base)
	go func() { _ = a.Run(runCtx) }()

	a.setState(StateInstalling)
	if err := a.Dispatch(ctx, &Event{Kind: EventInstall}); err != nil {
		cancel()
		a.Stop()
		a.setState(StateRedundant)
		return fmt.Errorf("install %s: %w", a.Version(), err)
	}
	a.setState(StateInstalled)

	r.mu.Lock()
	r.cancels[a] = cancel
	if r.waiting != nil {
		r.retireLocked(r.waiting)
	}
	r.waiting = a
	hasActive := r.active != nil
	r.mu.Unlock()

	if !hasActive {
		return r.promote(ctx, a)
	}
	r.logger.Info().Str("version", a.Version()).Msg("new version installed, waiting")
	return nil
}

// promote activates a if it is the waiting version. Calling it for the active version is a no-op.
func (r *Registration) promote(ctx context.Context, a *Agent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active == a {
		return nil
	}
	if r.waiting != a {
		return fmt.Errorf("version %s is not waiting", a.Version())
	}

	a.setState(StateActivating)
	if err := a.Dispatch(ctx, &Event{Kind: EventActivate}); err != nil {
		a.setState(StateInstalled)
		return fmt.Errorf("activate %s: %w", a.Version(), err)
	}
	a.setState(StateActivated)

	if r.active != nil {
		r.retireLocked(r.active)
	}
	r.active = a
	r.waiting = nil
	r.logger.Info().Str("version", a.Version()).Msg("version activated")
	return nil
}

func (r *Registration) retireLocked(a *Agent) {
	if cancel, ok := r.cancels[a]; ok {
		cancel()
		delete(r.cancels, a)
	}
	a.Stop()
	a.setState(StateRedundant)
}

// ClientsGone is called by the host when the last client of the active version closed.
func (r *Registration) ClientsGone(ctx context.Context) error {
	r.mu.Lock()
	waiting := r.waiting
	r.mu.Unlock()
	if waiting == nil {
		return nil
	}
	return r.promote(ctx, waiting)
}

// ActiveAgent returns the serving version, or nil.
func (r *Registration) ActiveAgent() *Agent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// WaitingAgent returns the installed-but-waiting version, or nil.
func (r *Registration) WaitingAgent() *Agent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.waiting
}

// HasActive reports whether a version is serving.
func (r *Registration) HasActive() bool { return r.ActiveAgent() != nil }

// Post delivers a foreground message. Control messages go to the waiting version when
// there is one; data messages go to the active version.
func (r *Registration) Post(ctx context.Context, msg Message) error {
	r.mu.Lock()
	target := r.active
	if msg.Type == MessageSkipWaiting && r.waiting != nil {
		target = r.waiting
	}
	r.mu.Unlock()
	if target == nil {
		return ErrNoActiveAgent
	}
	return target.Post(ctx, MessageEvent(msg))
}

// Deliver sends an event to the active version's inbox and waits for it to be handled.
func (r *Registration) Deliver(ctx context.Context, ev *Event) error {
	a := r.ActiveAgent()
	if a == nil {
		return ErrNoActiveAgent
	}
	return a.Send(ctx, ev)
}

// Fetch routes an intercepted request through the active version.
// Fetches are dispatched directly so slow network legs do not queue behind other events.
func (r *Registration) Fetch(ctx context.Context, req *http.Request) (*cache.Response, error) {
	a := r.ActiveAgent()
	if a == nil {
		return nil, ErrNoActiveAgent
	}
	ev := FetchEvent(req)
	if err := a.Dispatch(ctx, ev); err != nil {
		return nil, err
	}
	resp := ev.Response()
	if resp == nil {
		return nil, fmt.Errorf("%w: fetch handler produced no response", cache.ErrResourceUnavailable)
	}
	return resp, nil
}

// Close stops every agent goroutine.
func (r *Registration) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for a, cancel := range r.cancels {
		cancel()
		a.Stop()
	}
	r.cancels = make(map[*Agent]context.CancelFunc)
}
