package kafka

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/duisenbekovayan/order_live/internal/models"
	"github.com/duisenbekovayan/order_live/internal/realtime"
)

// fakeReader serves queued messages and then blocks until ctx is done.
type fakeReader struct {
	mu        sync.Mutex
	queue     []kafkago.Message
	fetchErrs []error
	committed []int64
	drained   chan struct{}
}

func newFakeReader(msgs ...kafkago.Message) *fakeReader {
	return &fakeReader{queue: msgs, drained: make(chan struct{})}
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafkago.Message, error) {
	r.mu.Lock()
	if len(r.fetchErrs) > 0 {
		err := r.fetchErrs[0]
		r.fetchErrs = r.fetchErrs[1:]
		r.mu.Unlock()
		return kafkago.Message{}, err
	}
	if len(r.queue) > 0 {
		m := r.queue[0]
		r.queue = r.queue[1:]
		r.mu.Unlock()
		return m, nil
	}
	r.mu.Unlock()
	select {
	case <-r.drained:
	default:
		close(r.drained)
	}
	<-ctx.Done()
	return kafkago.Message{}, ctx.Err()
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafkago.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Committed() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.committed...)
}

func (r *fakeReader) Close() error { return nil }

type fakeWriter struct {
	mu   sync.Mutex
	msgs []kafkago.Message
	err  error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafkago.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Messages() []kafkago.Message {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]kafkago.Message(nil), w.msgs...)
}

func (w *fakeWriter) Close() error { return nil }

func nopLogger() *zerolog.Logger {
	l := zerolog.Nop()
	return &l
}

func encode(t *testing.T, offset int64, table, id string, st models.OrderStatus) kafkago.Message {
	t.Helper()
	rc, err := StatusChange(table, id, st)
	require.NoError(t, err)
	w := &fakeWriter{}
	require.NoError(t, (&Producer{w: w}).Publish(context.Background(), rc))
	m := w.Messages()[0]
	m.Offset = offset
	return m
}

func runFeed(t *testing.T, f *Feed, r *fakeReader) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.Run(ctx) }()
	select {
	case <-r.drained:
	case <-time.After(2 * time.Second):
		t.Fatal("feed did not drain")
	}
	cancel()
	require.NoError(t, <-done)
}

func TestFeed_FansOutToMatchingSubscriptions(t *testing.T) {
	r := newFakeReader(
		encode(t, 1, models.TableOrders, "A1", models.StatusPreparing),
		encode(t, 2, models.TableOrders, "B2", models.StatusReady),
		encode(t, 3, models.TableOrderItems, "A1", models.StatusReady),
	)
	f := newFeed(r, nil, time.Millisecond, nopLogger())
	c := realtime.NewClient(f, nopLogger())

	var (
		mu  sync.Mutex
		got []realtime.Update
	)
	sub, err := c.Subscribe(context.Background(), "A1", func(u realtime.Update) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, u)
	}, nil)
	require.NoError(t, err)
	defer sub.Unsubscribe()
	assert.Equal(t, realtime.StateSubscribed, sub.State())

	runFeed(t, f, r)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 2)
	assert.Equal(t, realtime.KindOrder, got[0].Source)
	assert.Equal(t, models.StatusPreparing, got[0].Status)
	assert.Equal(t, realtime.KindItems, got[1].Source)
	assert.Equal(t, []int64{1, 2, 3}, r.Committed())
}

func TestFeed_InvalidRecordGoesToDLQ(t *testing.T) {
	r := newFakeReader(
		kafkago.Message{Offset: 7, Key: []byte("k"), Value: []byte("{not json")},
		kafkago.Message{Offset: 8, Value: []byte(`{"type":"UPDATE"}`)},
	)
	dlq := &fakeWriter{}
	f := newFeed(r, dlq, time.Millisecond, nopLogger())

	runFeed(t, f, r)

	assert.Len(t, dlq.Messages(), 2)
	assert.Equal(t, []int64{7, 8}, r.Committed())
}

func TestFeed_DLQFailureLeavesMessageUncommitted(t *testing.T) {
	r := newFakeReader(kafkago.Message{Offset: 9, Value: []byte("garbage")})
	f := newFeed(r, &fakeWriter{err: errors.New("broker down")}, time.Millisecond, nopLogger())

	runFeed(t, f, r)

	assert.Empty(t, r.Committed())
}

func TestFeed_FetchErrorIsRetried(t *testing.T) {
	r := newFakeReader(encode(t, 1, models.TableOrders, "A1", models.StatusReady))
	r.fetchErrs = []error{errors.New("leader not available")}
	f := newFeed(r, nil, time.Millisecond, nopLogger())

	runFeed(t, f, r)

	assert.Equal(t, []int64{1}, r.Committed())
}

func TestFeed_UnsubscribedChannelReceivesNothing(t *testing.T) {
	r := newFakeReader(encode(t, 1, models.TableOrders, "A1", models.StatusReady))
	f := newFeed(r, nil, time.Millisecond, nopLogger())
	c := realtime.NewClient(f, nopLogger())

	called := false
	sub, err := c.Subscribe(context.Background(), "A1", func(realtime.Update) { called = true }, nil)
	require.NoError(t, err)
	require.NoError(t, sub.Unsubscribe())

	runFeed(t, f, r)
	assert.False(t, called)
}

func TestProducer_KeysByOrder(t *testing.T) {
	w := &fakeWriter{}
	p := &Producer{w: w}

	rc, err := StatusChange(models.TableOrders, "A1", models.StatusReady)
	require.NoError(t, err)
	require.NoError(t, p.Publish(context.Background(), rc))

	msgs := w.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "A1", string(msgs[0].Key))
	assert.Contains(t, string(msgs[0].Value), `"status":"ready"`)
	assert.False(t, msgs[0].Time.IsZero())

	_, err = StatusChange(models.TableOrders, "A1", "delivered")
	require.Error(t, err)
	require.Error(t, p.Publish(context.Background(), models.RowChange{Table: models.TableOrders}))
}

func TestGroupIDIsUniquePerCall(t *testing.T) {
	a, b := GroupID("trackers"), GroupID("trackers")
	assert.NotEqual(t, a, b)
	assert.Contains(t, a, "trackers-")
	assert.Contains(t, GroupID(""), "order-live-")
}
