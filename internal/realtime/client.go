package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	xlog "github.com/duisenbekovayan/order_live/internal/log"
	"github.com/duisenbekovayan/order_live/internal/metrics"
	"github.com/duisenbekovayan/order_live/internal/models"
)

// State is the connection state of a subscription.
type State string

const (
	StateConnecting State = "connecting"
	StateSubscribed State = "subscribed"
	StateErrored    State = "errored"
	StateClosed     State = "closed"
)

// Kind distinguishes the two channels of an order subscription.
type Kind string

const (
	KindOrder Kind = "order"
	KindItems Kind = "items"
)

// OrderColumn is the public identifier column both tables are filtered on.
const OrderColumn = "order_public_id"

// Update is a normalized change. Order is set only for order-record updates; item updates
// carry the item status alone.
type Update struct {
	OrderID string
	Source  Kind
	Status  models.OrderStatus
	Order   *models.Order
}

// Callback receives updates in receipt order. It must treat Status as last-write-wins.
type Callback func(Update)

// StateFunc observes subscription state changes.
type StateFunc func(State, error)

type channelKey struct {
	orderID string
	kind    Kind
}

// Client opens order subscriptions on a feed.
type Client struct {
	feed   Feed
	logger zerolog.Logger

	mu     sync.Mutex
	active map[channelKey]*Subscription
}

func NewClient(feed Feed, logger *zerolog.Logger) *Client {
	l := xlog.WithComponent("realtime")
	if logger != nil {
		l = *logger
	}
	return &Client{feed: feed, logger: l, active: make(map[channelKey]*Subscription)}
}

// Subscribe opens the order and order-items channels of orderID. An existing subscription
// for the same order is closed first.
func (c *Client) Subscribe(ctx context.Context, orderID string, cb Callback, onState StateFunc) (*Subscription, error) {
	if orderID == "" {
		return nil, errors.New("subscribe: empty order id")
	}
	if cb == nil {
		return nil, errors.New("subscribe: nil callback")
	}

	s := &Subscription{
		orderID:  orderID,
		client:   c,
		callback: cb,
		onState:  onState,
		state:    StateConnecting,
		chState:  map[Kind]ChannelStatus{},
		logger:   c.logger.With().Str(xlog.FieldOrderID, orderID).Logger(),
	}

	s.channel = c.feed.Channel("order:"+orderID, Filter{
		Schema: "public", Table: models.TableOrders, Event: models.ChangeUpdate,
		Column: OrderColumn, Value: orderID,
	})
	s.itemsChannel = c.feed.Channel("order-items:"+orderID, Filter{
		Schema: "public", Table: models.TableOrderItems, Event: models.ChangeUpdate,
		Column: OrderColumn, Value: orderID,
	})
	s.channel.OnChange(func(rc models.RowChange) { s.handle(KindOrder, rc) })
	s.itemsChannel.OnChange(func(rc models.RowChange) { s.handle(KindItems, rc) })

	c.mu.Lock()
	var previous []*Subscription
	for _, kind := range []Kind{KindOrder, KindItems} {
		key := channelKey{orderID, kind}
		if old, ok := c.active[key]; ok && (len(previous) == 0 || previous[0] != old) {
			previous = append(previous, old)
		}
		c.active[key] = s
	}
	c.mu.Unlock()
	for _, old := range previous {
		_ = old.Unsubscribe()
	}
	metrics.IncSubscriptionState(string(StateConnecting))

	channels := []struct {
		kind Kind
		ch   Channel
	}{{KindOrder, s.channel}, {KindItems, s.itemsChannel}}
	for _, entry := range channels {
		kind := entry.kind
		if err := entry.ch.Subscribe(ctx, func(st ChannelStatus, err error) { s.channelStatus(kind, st, err) }); err != nil {
			s.channelStatus(kind, StatusChannelError, err)
			return s, fmt.Errorf("subscribe %s channel: %w", kind, err)
		}
	}
	return s, nil
}

func (c *Client) release(s *Subscription) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, kind := range []Kind{KindOrder, KindItems} {
		key := channelKey{s.orderID, kind}
		if c.active[key] == s {
			delete(c.active, key)
		}
	}
}

// Subscription is the handle of an open order subscription. The opener must call
// Unsubscribe when it goes away.
type Subscription struct {
	orderID      string
	client       *Client
	channel      Channel
	itemsChannel Channel
	callback     Callback
	onState      StateFunc
	logger       zerolog.Logger

	// deliver serializes callbacks from both channels.
	deliver sync.Mutex

	mu      sync.Mutex
	state   State
	chState map[Kind]ChannelStatus
}

func (s *Subscription) OrderID() string { return s.orderID }

func (s *Subscription) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Subscription) channelStatus(kind Kind, st ChannelStatus, err error) {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	s.chState[kind] = st

	next := s.state
	switch st {
	case StatusChannelError, StatusTimedOut:
		next = StateErrored
	case StatusClosed:
		// A server-side close of one channel leaves the handle unusable.
		next = StateErrored
		if err == nil {
			err = fmt.Errorf("%s channel closed by server", kind)
		}
	case StatusSubscribed:
		if s.state != StateErrored && s.chState[KindOrder] == StatusSubscribed && s.chState[KindItems] == StatusSubscribed {
			next = StateSubscribed
		}
	}
	changed := next != s.state
	s.state = next
	onState := s.onState
	s.mu.Unlock()

	if !changed {
		return
	}
	metrics.IncSubscriptionState(string(next))
	ev := s.logger.Info()
	if next == StateErrored {
		ev = s.logger.Warn().Err(err)
	}
	ev.Str(xlog.FieldChannel, string(kind)).Str(xlog.FieldState, string(next)).Msg("subscription state changed")
	if onState != nil {
		onState(next, err)
	}
}

func (s *Subscription) handle(kind Kind, rc models.RowChange) {
	u := Update{OrderID: s.orderID, Source: kind}
	switch kind {
	case KindOrder:
		var o models.Order
		if err := json.Unmarshal(rc.Record, &o); err != nil {
			s.logger.Warn().Err(err).Msg("undecodable order record")
			return
		}
		u.Order = &o
		u.Status = o.Status
	case KindItems:
		var it models.Item
		if err := json.Unmarshal(rc.Record, &it); err != nil {
			s.logger.Warn().Err(err).Msg("undecodable order item record")
			return
		}
		u.Status = it.Status
	}

	s.deliver.Lock()
	defer s.deliver.Unlock()
	if s.State() == StateClosed {
		return
	}
	s.callback(u)
}

// Unsubscribe releases both channels. It is safe to call repeatedly and before the
// subscription reached StateSubscribed.
func (s *Subscription) Unsubscribe() error {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return nil
	}
	s.state = StateClosed
	onState := s.onState
	s.mu.Unlock()

	s.client.release(s)
	ctx := context.Background()
	var errs []error
	for _, ch := range []Channel{s.channel, s.itemsChannel} {
		if ch == nil {
			continue
		}
		if err := ch.Unsubscribe(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	metrics.IncSubscriptionState(string(StateClosed))
	s.logger.Debug().Msg("subscription closed")
	if onState != nil {
		onState(StateClosed, nil)
	}
	return errors.Join(errs...)
}
