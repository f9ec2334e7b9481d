// Package realtime watches backend row changes of one order and forwards normalized
// status updates to the screen that opened the subscription.
package realtime

import (
	"context"

	"github.com/duisenbekovayan/order_live/internal/models"
)

// ChannelStatus is reported by a transport channel as its join progresses.
type ChannelStatus string

const (
	StatusSubscribed   ChannelStatus = "SUBSCRIBED"
	StatusChannelError ChannelStatus = "CHANNEL_ERROR"
	StatusTimedOut     ChannelStatus = "TIMED_OUT"
	StatusClosed       ChannelStatus = "CLOSED"
)

// Filter selects row changes of one table.
type Filter struct {
	Schema string
	Table  string
	Event  models.ChangeType
	Column string
	Value  string
}

// String renders the filter in the feed's "column=eq.value" predicate syntax.
func (f Filter) String() string {
	if f.Column == "" {
		return ""
	}
	return f.Column + "=eq." + f.Value
}

// Match reports whether a change passes the filter.
func (f Filter) Match(c models.RowChange) bool {
	if f.Schema != "" && c.Schema != "" && f.Schema != c.Schema {
		return false
	}
	if f.Table != c.Table {
		return false
	}
	if f.Event != "" && f.Event != c.Type {
		return false
	}
	if f.Column != "" && c.Column(f.Column) != f.Value {
		return false
	}
	return true
}

// Channel is one logical subscription on a feed.
type Channel interface {
	// OnChange registers the change handler. It must be called before Subscribe.
	OnChange(fn func(models.RowChange))
	// Subscribe starts the join; onStatus receives every status change.
	Subscribe(ctx context.Context, onStatus func(ChannelStatus, error)) error
	// Unsubscribe leaves the channel. Calling it more than once is allowed.
	Unsubscribe(ctx context.Context) error
}

// Feed is a row-change transport.
type Feed interface {
	Channel(name string, filter Filter) Channel
}
