// Package progress tracks where an order is on its preparation scale and announces
// every transition.
package progress

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/rs/zerolog"

	xlog "github.com/duisenbekovayan/order_live/internal/log"
	"github.com/duisenbekovayan/order_live/internal/models"
)

var (
	ErrInvalidStatus = errors.New("invalid order status")
	ErrStaleStatus   = errors.New("status is behind current progress")
	ErrTerminal      = errors.New("order already reached a terminal status")
)

// Message is the announcement for one status.
type Message struct {
	Title string
	Body  string
}

var messages = map[models.OrderStatus]Message{
	models.StatusPending:   {"Order Confirmed!", "The stall has received your order."},
	models.StatusPreparing: {"Cooking Started!", "Your food is being prepared."},
	models.StatusReady:     {"Order Ready!", "Your order is ready for pickup."},
	models.StatusCompleted: {"Enjoy Your Meal!", "Thanks for ordering with us."},
	models.StatusCancelled: {"Order Cancelled", "Your order has been cancelled."},
}

// MessageFor returns the announcement for status.
func MessageFor(status models.OrderStatus) (Message, bool) {
	m, ok := messages[status]
	return m, ok
}

// Width is the rendered bar width in percent for a status on the linear scale, rounded
// to one decimal.
func Width(status models.OrderStatus) (float64, bool) {
	i := status.Index()
	if i < 0 {
		return 0, false
	}
	w := float64(i) / float64(len(models.Steps)-1) * 100
	return math.Round(w*10) / 10, true
}

// Notifier surfaces a status announcement. Implementations must not fail the update.
type Notifier interface {
	Notify(ctx context.Context, status models.OrderStatus, title, body string)
}

type Options struct {
	Notifier Notifier
	// OnRender receives every new view.
	OnRender func(View)
	Logger   *zerolog.Logger
}

// Machine owns the progress state of one order. UpdateStatus calls are serialized.
type Machine struct {
	notifier Notifier
	onRender func(View)
	logger   zerolog.Logger

	update sync.Mutex

	mu        sync.RWMutex
	step      models.OrderStatus // last status on the linear scale
	width     float64
	cancelled bool
}

func New(opts Options) *Machine {
	l := xlog.WithComponent("progress")
	if opts.Logger != nil {
		l = *opts.Logger
	}
	return &Machine{notifier: opts.Notifier, onRender: opts.OnRender, logger: l}
}

// Current returns the last applied status, or "" before the first one.
func (m *Machine) Current() models.OrderStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.currentLocked()
}

func (m *Machine) currentLocked() models.OrderStatus {
	if m.cancelled {
		return models.StatusCancelled
	}
	return m.step
}

// UpdateStatus applies status. A repeat of the current status is a silent no-op.
func (m *Machine) UpdateStatus(ctx context.Context, status models.OrderStatus) error {
	m.update.Lock()
	defer m.update.Unlock()

	v, changed, err := m.apply(status)
	if err != nil || !changed {
		return err
	}
	logger := m.logger.With().Str(xlog.FieldStatus, string(status)).Logger()
	logger.Info().Float64("width", v.Width).Msg("order progress updated")
	m.render(v)

	if m.notifier != nil {
		msg := messages[status]
		m.notifier.Notify(ctx, status, msg.Title, msg.Body)
	}
	return nil
}

// Restore applies status without announcing it, for seeding from a stored order.
func (m *Machine) Restore(status models.OrderStatus) error {
	m.update.Lock()
	defer m.update.Unlock()

	v, changed, err := m.apply(status)
	if err != nil || !changed {
		return err
	}
	m.render(v)
	return nil
}

func (m *Machine) apply(status models.OrderStatus) (View, bool, error) {
	if !status.Valid() {
		return View{}, false, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	current := m.currentLocked()
	if status == current {
		return View{}, false, nil
	}
	if current.IsTerminal() {
		return View{}, false, fmt.Errorf("%w: %s, got %s", ErrTerminal, current, status)
	}
	if status == models.StatusCancelled {
		// width stays where it was
		m.cancelled = true
		return m.viewLocked(), true, nil
	}
	if current != "" && status.Index() < current.Index() {
		return View{}, false, fmt.Errorf("%w: %s after %s", ErrStaleStatus, status, current)
	}
	m.step = status
	m.width, _ = Width(status)
	return m.viewLocked(), true, nil
}

func (m *Machine) render(v View) {
	if m.onRender != nil {
		m.onRender(v)
	}
}

// View returns the current rendering of the progress state.
func (m *Machine) View() View {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.viewLocked()
}
