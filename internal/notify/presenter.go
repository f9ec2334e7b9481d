// Package notify shows order notifications as a bounded queue of auto-dismissing cards,
// mirrored to the system notification surface when the user allowed it.
package notify

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/duisenbekovayan/order_live/internal/bridge"
	xlog "github.com/duisenbekovayan/order_live/internal/log"
	"github.com/duisenbekovayan/order_live/internal/metrics"
	"github.com/duisenbekovayan/order_live/internal/models"
)

const (
	DefaultDuration     = 5 * time.Second
	DefaultExitDuration = 300 * time.Millisecond
	DefaultMaxVisible   = 3
)

// Permission is the user's system notification permission.
type Permission string

const (
	PermissionDefault Permission = "default"
	PermissionGranted Permission = "granted"
	PermissionDenied  Permission = "denied"
)

// SystemBridge forwards notifications to the background agent.
type SystemBridge interface {
	HasActive() bool
	Post(ctx context.Context, msg bridge.Message) error
}

// Foreground shows a plain notification that is only visible while the session is open.
type Foreground interface {
	Show(ctx context.Context, title, body string) error
}

// WriterForeground prints notifications as lines.
type WriterForeground struct {
	W io.Writer
}

func (f WriterForeground) Show(_ context.Context, title, body string) error {
	_, err := fmt.Fprintf(f.W, "%s: %s\n", title, body)
	return err
}

// Notification is one queued card.
type Notification struct {
	ID        string
	Status    models.OrderStatus
	Title     string
	Message   string
	CreatedAt time.Time
	DismissAt time.Time
	Leaving   bool
}

type Options struct {
	// OrderID tags system notifications so updates of one order replace each other.
	OrderID      string
	Clock        Clock
	MaxVisible   int
	ExitDuration time.Duration
	Permission   Permission
	Bridge       SystemBridge
	Foreground   Foreground
	Player       Player
	// OnChange receives the cards after every queue change.
	OnChange func([]Card)
	Logger   *zerolog.Logger
}

type entry struct {
	n     Notification
	timer Timer
}

// Presenter owns the notification queue of one session.
type Presenter struct {
	orderID    string
	clock      Clock
	maxVisible int
	exit       time.Duration
	permission Permission
	bridge     SystemBridge
	foreground Foreground
	player     Player
	onChange   func([]Card)
	logger     zerolog.Logger

	mu     sync.Mutex
	items  []*entry
	closed bool
}

func NewPresenter(opts Options) *Presenter {
	if opts.Clock == nil {
		opts.Clock = realClock{}
	}
	if opts.MaxVisible <= 0 {
		opts.MaxVisible = DefaultMaxVisible
	}
	if opts.ExitDuration <= 0 {
		opts.ExitDuration = DefaultExitDuration
	}
	if opts.Permission == "" {
		opts.Permission = PermissionDefault
	}
	l := xlog.WithComponent("notify")
	if opts.Logger != nil {
		l = *opts.Logger
	}
	return &Presenter{
		orderID:    opts.OrderID,
		clock:      opts.Clock,
		maxVisible: opts.MaxVisible,
		exit:       opts.ExitDuration,
		permission: opts.Permission,
		bridge:     opts.Bridge,
		foreground: opts.Foreground,
		player:     opts.Player,
		onChange:   opts.OnChange,
		logger:     l.With().Str(xlog.FieldOrderID, opts.OrderID).Logger(),
	}
}

// Show queues a card that dismisses itself after duration (DefaultDuration when <= 0).
// When the queue is full the oldest card is removed at once. Sound and system delivery
// failures are logged and never returned.
func (p *Presenter) Show(ctx context.Context, status models.OrderStatus, title, message string, duration time.Duration, playSound bool) Notification {
	if duration <= 0 {
		duration = DefaultDuration
	}
	now := p.clock.Now()
	n := Notification{
		ID:        uuid.NewString(),
		Status:    status,
		Title:     title,
		Message:   message,
		CreatedAt: now,
		DismissAt: now.Add(duration),
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return n
	}
	for len(p.items) >= p.maxVisible {
		oldest := p.items[0]
		oldest.timer.Stop()
		p.items = p.items[1:]
		p.logger.Debug().Str("notification_id", oldest.n.ID).Msg("evicted oldest notification")
	}
	id := n.ID
	p.items = append(p.items, &entry{n: n, timer: p.clock.AfterFunc(duration, func() { p.Dismiss(id) })})
	cards := p.cardsLocked()
	p.mu.Unlock()

	metrics.IncNotification("card")
	p.publish(cards)
	if playSound {
		p.play(ctx, status)
	}
	p.system(ctx, status, title, message)
	return n
}

// Notify shows a status announcement with the default duration and sound.
func (p *Presenter) Notify(ctx context.Context, status models.OrderStatus, title, body string) {
	p.Show(ctx, status, title, body, 0, true)
}

// Dismiss starts the exit transition of a card and removes it when the transition ends.
// It reports false when the card is unknown or already leaving.
func (p *Presenter) Dismiss(id string) bool {
	p.mu.Lock()
	e := p.find(id)
	if e == nil || e.n.Leaving || p.closed {
		p.mu.Unlock()
		return false
	}
	e.n.Leaving = true
	e.timer.Stop()
	e.timer = p.clock.AfterFunc(p.exit, func() { p.remove(id) })
	cards := p.cardsLocked()
	p.mu.Unlock()

	p.publish(cards)
	return true
}

func (p *Presenter) remove(id string) {
	p.mu.Lock()
	removed := false
	for i, e := range p.items {
		if e.n.ID == id {
			p.items = append(p.items[:i], p.items[i+1:]...)
			removed = true
			break
		}
	}
	cards := p.cardsLocked()
	p.mu.Unlock()
	if removed {
		p.publish(cards)
	}
}

func (p *Presenter) find(id string) *entry {
	for _, e := range p.items {
		if e.n.ID == id {
			return e
		}
	}
	return nil
}

// Visible returns the queued notifications, oldest first.
func (p *Presenter) Visible() []Notification {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Notification, 0, len(p.items))
	for _, e := range p.items {
		out = append(out, e.n)
	}
	return out
}

// Cards renders the queue at the current time.
func (p *Presenter) Cards() []Card {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cardsLocked()
}

func (p *Presenter) cardsLocked() []Card {
	items := make([]Notification, 0, len(p.items))
	for _, e := range p.items {
		items = append(items, e.n)
	}
	return Render(items, p.clock.Now())
}

func (p *Presenter) publish(cards []Card) {
	if p.onChange != nil {
		p.onChange(cards)
	}
}

// Close stops all timers and drops the queue.
func (p *Presenter) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	for _, e := range p.items {
		e.timer.Stop()
	}
	p.items = nil
}

func (p *Presenter) play(ctx context.Context, status models.OrderStatus) {
	if p.player == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			p.logger.Debug().Interface("panic", r).Msg("sound playback panicked")
		}
	}()
	if err := p.player.Play(ctx, ToneFor(status)); err != nil {
		p.logger.Debug().Err(err).Msg("sound unavailable")
	}
}

func (p *Presenter) system(ctx context.Context, status models.OrderStatus, title, message string) {
	if p.permission != PermissionGranted {
		return
	}
	if p.bridge != nil && p.bridge.HasActive() {
		err := p.bridge.Post(ctx, bridge.Message{
			Type:    bridge.MessageOrderUpdate,
			OrderID: p.orderID,
			Status:  status,
			Title:   title,
			Message: message,
		})
		if err == nil {
			metrics.IncNotification("system")
			return
		}
		p.logger.Warn().Err(err).Str(xlog.FieldStatus, string(status)).Msg("system notification failed, using foreground")
	}
	if p.foreground == nil {
		return
	}
	if err := p.foreground.Show(ctx, title, message); err != nil {
		p.logger.Debug().Err(err).Msg("foreground notification failed")
		return
	}
	metrics.IncNotification("foreground")
}
