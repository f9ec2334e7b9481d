package tracker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/duisenbekovayan/order_live/internal/models"
	"github.com/duisenbekovayan/order_live/internal/notify"
	"github.com/duisenbekovayan/order_live/internal/realtime"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type stubStore struct {
	order models.Order
	err   error
}

func (s stubStore) GetOrder(context.Context, string) (models.Order, error) { return s.order, s.err }

func nop() *zerolog.Logger {
	l := zerolog.Nop()
	return &l
}

func change(t *testing.T, table, id string, st models.OrderStatus) models.RowChange {
	t.Helper()
	rec, err := json.Marshal(map[string]any{"order_public_id": id, "status": st})
	require.NoError(t, err)
	return models.RowChange{Schema: "public", Table: table, Type: models.ChangeUpdate, Record: rec}
}

func open(t *testing.T, feed *realtime.MemoryFeed, store OrderStore) *Session {
	t.Helper()
	s, err := Open(context.Background(), Options{
		OrderID:   "A1",
		Client:    realtime.NewClient(feed, nop()),
		Presenter: notify.NewPresenter(notify.Options{OrderID: "A1", MaxVisible: 10, Logger: nop()}),
		Store:     store,
		Logger:    nop(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func titles(s *Session) []string {
	var out []string
	for _, c := range s.Cards() {
		out = append(out, c.Title)
	}
	return out
}

func TestSession_StatusFlow(t *testing.T) {
	ctx := context.Background()
	feed := realtime.NewMemoryFeed()
	s := open(t, feed, nil)
	assert.Equal(t, realtime.StateSubscribed, s.State())

	for _, st := range models.Steps {
		require.NoError(t, feed.Publish(ctx, change(t, models.TableOrders, "A1", st)))
	}

	assert.Equal(t, []string{"Order Confirmed!", "Cooking Started!", "Order Ready!", "Enjoy Your Meal!"}, titles(s))
	assert.Equal(t, 100.0, s.View().Width)
	select {
	case <-s.Finished():
	case <-time.After(time.Second):
		t.Fatal("session not finished after completed")
	}
}

func TestSession_DuplicateItemEventIsSilent(t *testing.T) {
	ctx := context.Background()
	feed := realtime.NewMemoryFeed()
	s := open(t, feed, nil)

	require.NoError(t, feed.Publish(ctx, change(t, models.TableOrders, "A1", models.StatusReady)))
	require.NoError(t, feed.Publish(ctx, change(t, models.TableOrderItems, "A1", models.StatusReady)))

	assert.Equal(t, []string{"Order Ready!"}, titles(s))
}

func TestSession_ItemEventAdvancesBeforeOrder(t *testing.T) {
	ctx := context.Background()
	feed := realtime.NewMemoryFeed()
	s := open(t, feed, nil)

	require.NoError(t, feed.Publish(ctx, change(t, models.TableOrderItems, "A1", models.StatusPreparing)))
	require.NoError(t, feed.Publish(ctx, change(t, models.TableOrders, "A1", models.StatusPreparing)))

	assert.Equal(t, []string{"Cooking Started!"}, titles(s))
	assert.Equal(t, 33.3, s.View().Width)
}

func TestSession_SeedsFromStoreWithoutNotifying(t *testing.T) {
	feed := realtime.NewMemoryFeed()
	s := open(t, feed, stubStore{order: models.Order{PublicID: "A1", Status: models.StatusPreparing}})

	assert.Equal(t, 33.3, s.View().Width)
	assert.Empty(t, s.Cards())

	require.NoError(t, feed.Publish(context.Background(), change(t, models.TableOrders, "A1", models.StatusReady)))
	assert.Equal(t, []string{"Order Ready!"}, titles(s))
}

func TestSession_StoreFailureIsNotFatal(t *testing.T) {
	s := open(t, realtime.NewMemoryFeed(), stubStore{err: errors.New("connection refused")})
	assert.Empty(t, s.View().Status)
}

func TestSession_CancelledFinishes(t *testing.T) {
	ctx := context.Background()
	feed := realtime.NewMemoryFeed()
	s := open(t, feed, nil)

	require.NoError(t, feed.Publish(ctx, change(t, models.TableOrders, "A1", models.StatusPreparing)))
	require.NoError(t, feed.Publish(ctx, change(t, models.TableOrders, "A1", models.StatusCancelled)))
	require.NoError(t, feed.Publish(ctx, change(t, models.TableOrders, "A1", models.StatusReady)))

	v := s.View()
	assert.True(t, v.Cancelled)
	assert.Equal(t, 33.3, v.Width)
	assert.Equal(t, []string{"Cooking Started!", "Order Cancelled"}, titles(s))
	<-s.Finished()
}

func TestSession_CloseReleasesSubscription(t *testing.T) {
	feed := realtime.NewMemoryFeed()
	s := open(t, feed, nil)
	assert.Equal(t, 2, feed.Channels())

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.Equal(t, 0, feed.Channels())
	assert.Equal(t, realtime.StateClosed, s.State())

	require.NoError(t, feed.Publish(context.Background(), change(t, models.TableOrders, "A1", models.StatusReady)))
	assert.Empty(t, s.Cards())
}

func TestOpen_Validation(t *testing.T) {
	_, err := Open(context.Background(), Options{})
	require.Error(t, err)
	_, err = Open(context.Background(), Options{OrderID: "A1"})
	require.Error(t, err)
}
