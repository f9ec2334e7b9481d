// Package tracker ties one order's change subscription to its progress state and
// notification queue for the lifetime of a tracking screen.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	xlog "github.com/duisenbekovayan/order_live/internal/log"
	"github.com/duisenbekovayan/order_live/internal/models"
	"github.com/duisenbekovayan/order_live/internal/notify"
	"github.com/duisenbekovayan/order_live/internal/progress"
	"github.com/duisenbekovayan/order_live/internal/realtime"
)

// OrderStore looks up the current order record.
type OrderStore interface {
	GetOrder(ctx context.Context, publicID string) (models.Order, error)
}

type Options struct {
	OrderID   string
	Client    *realtime.Client
	Presenter *notify.Presenter
	// Store seeds the progress from the stored order. Optional.
	Store    OrderStore
	OnRender func(progress.View)
	OnState  realtime.StateFunc
	Logger   *zerolog.Logger
}

// Session is one open tracking screen. Close must be called when the screen goes away.
type Session struct {
	orderID   string
	machine   *progress.Machine
	presenter *notify.Presenter
	sub       *realtime.Subscription
	onState   realtime.StateFunc
	logger    zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	finished  chan struct{}
	finish    sync.Once
	closeOnce sync.Once
	closeErr  error
}

// Open seeds the progress (when a store is given) and subscribes to the order's changes.
func Open(ctx context.Context, opts Options) (*Session, error) {
	if opts.OrderID == "" {
		return nil, errors.New("tracker: empty order id")
	}
	if opts.Client == nil || opts.Presenter == nil {
		return nil, errors.New("tracker: client and presenter are required")
	}
	l := xlog.WithComponent("tracker")
	if opts.Logger != nil {
		l = *opts.Logger
	}

	sctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s := &Session{
		orderID:   opts.OrderID,
		presenter: opts.Presenter,
		onState:   opts.OnState,
		logger:    l.With().Str(xlog.FieldOrderID, opts.OrderID).Logger(),
		ctx:       sctx,
		cancel:    cancel,
		finished:  make(chan struct{}),
	}
	s.machine = progress.New(progress.Options{
		Notifier: opts.Presenter,
		OnRender: opts.OnRender,
		Logger:   &s.logger,
	})

	if opts.Store != nil {
		s.seed(ctx, opts.Store)
	}

	sub, err := opts.Client.Subscribe(ctx, opts.OrderID, s.onUpdate, s.stateChanged)
	if err != nil {
		if sub != nil {
			_ = sub.Unsubscribe()
		}
		cancel()
		opts.Presenter.Close()
		return nil, fmt.Errorf("tracker: %w", err)
	}
	s.sub = sub
	return s, nil
}

func (s *Session) seed(ctx context.Context, store OrderStore) {
	o, err := store.GetOrder(ctx, s.orderID)
	if err != nil {
		s.logger.Warn().Err(err).Msg("order lookup failed, waiting for live updates")
		return
	}
	if err := s.machine.Restore(o.Status); err != nil {
		s.logger.Warn().Err(err).Str(xlog.FieldStatus, string(o.Status)).Msg("stored status not applied")
		return
	}
	if o.Status.IsTerminal() {
		s.markFinished()
	}
}

func (s *Session) onUpdate(u realtime.Update) {
	err := s.machine.UpdateStatus(s.ctx, u.Status)
	switch {
	case err == nil:
	case errors.Is(err, progress.ErrInvalidStatus):
		s.logger.Warn().Err(err).Str(xlog.FieldChannel, string(u.Source)).Msg("update rejected")
	default:
		s.logger.Debug().Err(err).Str(xlog.FieldChannel, string(u.Source)).Msg("update ignored")
	}
	if s.machine.Current().IsTerminal() {
		s.markFinished()
	}
}

func (s *Session) stateChanged(st realtime.State, err error) {
	if s.onState != nil {
		s.onState(st, err)
	}
}

func (s *Session) markFinished() {
	s.finish.Do(func() { close(s.finished) })
}

func (s *Session) OrderID() string { return s.orderID }

// Finished is closed once the order reaches completed or cancelled.
func (s *Session) Finished() <-chan struct{} { return s.finished }

func (s *Session) View() progress.View { return s.machine.View() }

func (s *Session) Cards() []notify.Card { return s.presenter.Cards() }

// State returns the subscription state.
func (s *Session) State() realtime.State { return s.sub.State() }

// Close unsubscribes and drops pending notifications. It is safe to call repeatedly.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.sub.Unsubscribe()
		s.cancel()
		s.presenter.Close()
	})
	return s.closeErr
}
