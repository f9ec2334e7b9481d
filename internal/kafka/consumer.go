// Package kafka carries backend row changes over a Kafka CDC topic.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	kafkago "github.com/segmentio/kafka-go"

	xlog "github.com/duisenbekovayan/order_live/internal/log"
	"github.com/duisenbekovayan/order_live/internal/models"
	"github.com/duisenbekovayan/order_live/internal/realtime"
)

type messageReader interface {
	FetchMessage(ctx context.Context) (kafkago.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

type Config struct {
	Brokers          []string
	Topic            string
	GroupID          string
	DLQTopic         string // "" disables the dead-letter queue
	MinBytes         int
	MaxBytes         int
	MaxWait          time.Duration
	ReadErrorBackoff time.Duration
	Logger           *zerolog.Logger
}

// Feed consumes the change topic and fans records out to the channels registered on it.
// It implements realtime.Feed; Run must be started for channels to receive anything.
type Feed struct {
	reader  messageReader
	dlq     messageWriter
	backoff time.Duration
	logger  zerolog.Logger

	mu       sync.RWMutex
	channels []*channel
}

// GroupID derives a consumer group unique to this process, so that every tracker sees
// every change instead of sharing partitions with its peers.
func GroupID(base string) string {
	if base == "" {
		base = "order-live"
	}
	return base + "-" + uuid.NewString()
}

func NewFeed(cfg Config) *Feed {
	if cfg.MinBytes == 0 {
		cfg.MinBytes = 1
	}
	if cfg.MaxBytes == 0 {
		cfg.MaxBytes = 10e6
	}
	if cfg.MaxWait == 0 {
		cfg.MaxWait = 500 * time.Millisecond
	}

	r := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:  cfg.Brokers,
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: cfg.MinBytes,
		MaxBytes: cfg.MaxBytes,
		MaxWait:  cfg.MaxWait,
		// commit manually after fan-out
		CommitInterval: 0,
		StartOffset:    kafkago.LastOffset,
	})
	var w messageWriter
	if cfg.DLQTopic != "" {
		w = &kafkago.Writer{
			Addr:     kafkago.TCP(cfg.Brokers...),
			Topic:    cfg.DLQTopic,
			Balancer: &kafkago.LeastBytes{},
		}
	}
	return newFeed(r, w, cfg.ReadErrorBackoff, cfg.Logger)
}

func newFeed(r messageReader, dlq messageWriter, backoff time.Duration, logger *zerolog.Logger) *Feed {
	if backoff == 0 {
		backoff = 2 * time.Second
	}
	l := xlog.WithComponent("kafka_feed")
	if logger != nil {
		l = *logger
	}
	return &Feed{reader: r, dlq: dlq, backoff: backoff, logger: l}
}

func (f *Feed) Close() error {
	var errs []error
	if f.reader != nil {
		errs = append(errs, f.reader.Close())
	}
	if f.dlq != nil {
		errs = append(errs, f.dlq.Close())
	}
	return errors.Join(errs...)
}

func (f *Feed) Channel(name string, filter realtime.Filter) realtime.Channel {
	return &channel{feed: f, name: name, filter: filter}
}

// Run fetches until ctx is cancelled. A message is committed only after it was fanned out
// or dead-lettered.
func (f *Feed) Run(ctx context.Context) error {
	f.logger.Info().Msg("kafka feed started")
	for {
		m, err := f.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
				return nil
			}
			f.logger.Warn().Err(err).Dur("retry_in", f.backoff).Msg("kafka fetch failed")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(f.backoff):
			}
			continue
		}

		if err := f.processMessage(ctx, m); err != nil {
			// leave uncommitted so the message is redelivered
			f.logger.Error().Err(err).Int64("offset", m.Offset).Msg("kafka message not processed")
			continue
		}
		if err := f.reader.CommitMessages(ctx, m); err != nil {
			f.logger.Warn().Err(err).Int64("offset", m.Offset).Msg("kafka commit failed")
		}
	}
}

func (f *Feed) processMessage(ctx context.Context, m kafkago.Message) error {
	var rc models.RowChange
	if err := json.Unmarshal(m.Value, &rc); err != nil || rc.Table == "" {
		if err == nil {
			err = errors.New("change without table")
		}
		f.logger.Warn().Err(err).Int64("offset", m.Offset).Msg("invalid change record")
		if f.dlq == nil {
			// nothing to retry on garbage
			return nil
		}
		return f.dlq.WriteMessages(ctx, kafkago.Message{Key: m.Key, Value: m.Value, Time: time.Now()})
	}

	f.mu.RLock()
	targets := append([]*channel(nil), f.channels...)
	f.mu.RUnlock()
	for _, ch := range targets {
		if ch.filter.Match(rc) {
			ch.emit(rc)
		}
	}
	f.logger.Debug().Str("table", rc.Table).Int64("offset", m.Offset).Int("partition", m.Partition).Msg("change fanned out")
	return nil
}

func (f *Feed) add(ch *channel) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.channels = append(f.channels, ch)
}

func (f *Feed) remove(ch *channel) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.channels[:0]
	for _, c := range f.channels {
		if c != ch {
			out = append(out, c)
		}
	}
	f.channels = out
}

// channel has no server-side join: subscribing only registers it with the feed.
type channel struct {
	feed   *Feed
	name   string
	filter realtime.Filter

	mu       sync.Mutex
	onChange func(models.RowChange)
	joined   bool
}

func (c *channel) OnChange(fn func(models.RowChange)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onChange = fn
}

func (c *channel) Subscribe(_ context.Context, onStatus func(realtime.ChannelStatus, error)) error {
	c.mu.Lock()
	if c.joined {
		c.mu.Unlock()
		return nil
	}
	c.joined = true
	c.mu.Unlock()
	c.feed.add(c)
	if onStatus != nil {
		onStatus(realtime.StatusSubscribed, nil)
	}
	return nil
}

func (c *channel) Unsubscribe(context.Context) error {
	c.mu.Lock()
	joined := c.joined
	c.joined = false
	c.mu.Unlock()
	if joined {
		c.feed.remove(c)
	}
	return nil
}

func (c *channel) emit(rc models.RowChange) {
	c.mu.Lock()
	fn, joined := c.onChange, c.joined
	c.mu.Unlock()
	if joined && fn != nil {
		fn(rc)
	}
}
