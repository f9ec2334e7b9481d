package realtime

import (
	"context"
	"errors"
	"sync"

	"github.com/duisenbekovayan/order_live/internal/models"
)

// MemoryFeed is an in-process feed for tests and local demos. Publish delivers to matching
// channels synchronously, in subscription order.
type MemoryFeed struct {
	mu      sync.RWMutex
	subs    []*memoryChannel
	joinErr error
}

func NewMemoryFeed() *MemoryFeed { return &MemoryFeed{} }

// FailJoins makes subsequent joins report StatusChannelError with err. A nil err restores
// normal joins.
func (f *MemoryFeed) FailJoins(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.joinErr = err
}

func (f *MemoryFeed) Channel(name string, filter Filter) Channel {
	return &memoryChannel{feed: f, name: name, filter: filter}
}

// Publish delivers c to every joined channel whose filter matches.
func (f *MemoryFeed) Publish(ctx context.Context, c models.RowChange) error {
	if ctx == nil {
		return errors.New("publish context is nil")
	}
	f.mu.RLock()
	subs := append([]*memoryChannel(nil), f.subs...)
	f.mu.RUnlock()
	for _, ch := range subs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if ch.filter.Match(c) {
			ch.emit(c)
		}
	}
	return nil
}

// Channels returns the number of joined channels.
func (f *MemoryFeed) Channels() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.subs)
}

func (f *MemoryFeed) remove(ch *memoryChannel) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.subs[:0]
	for _, c := range f.subs {
		if c != ch {
			out = append(out, c)
		}
	}
	f.subs = out
}

type memoryChannel struct {
	feed   *MemoryFeed
	name   string
	filter Filter

	mu       sync.Mutex
	onChange func(models.RowChange)
	joined   bool
}

func (c *memoryChannel) OnChange(fn func(models.RowChange)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onChange = fn
}

func (c *memoryChannel) Subscribe(_ context.Context, onStatus func(ChannelStatus, error)) error {
	c.feed.mu.Lock()
	joinErr := c.feed.joinErr
	if joinErr == nil {
		c.feed.subs = append(c.feed.subs, c)
	}
	c.feed.mu.Unlock()

	if joinErr != nil {
		if onStatus != nil {
			onStatus(StatusChannelError, joinErr)
		}
		return nil
	}
	c.mu.Lock()
	c.joined = true
	c.mu.Unlock()
	if onStatus != nil {
		onStatus(StatusSubscribed, nil)
	}
	return nil
}

func (c *memoryChannel) Unsubscribe(context.Context) error {
	c.mu.Lock()
	joined := c.joined
	c.joined = false
	c.mu.Unlock()
	if joined {
		c.feed.remove(c)
	}
	return nil
}

func (c *memoryChannel) emit(rc models.RowChange) {
	c.mu.Lock()
	fn, joined := c.onChange, c.joined
	c.mu.Unlock()
	if joined && fn != nil {
		fn(rc)
	}
}
