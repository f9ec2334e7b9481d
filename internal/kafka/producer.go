package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/duisenbekovayan/order_live/internal/models"
	"github.com/duisenbekovayan/order_live/internal/realtime"
)

// Producer publishes row changes to the change topic, keyed by order so that the changes
// of one order stay in one partition.
type Producer struct {
	w messageWriter
}

func NewProducer(brokers []string, topic string) *Producer {
	return &Producer{w: &kafkago.Writer{
		Addr:         kafkago.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireOne,
	}}
}

func (p *Producer) Close() error { return p.w.Close() }

func (p *Producer) Publish(ctx context.Context, rc models.RowChange) error {
	key := rc.Column(realtime.OrderColumn)
	if key == "" {
		return errors.New("publish: change has no order_public_id")
	}
	if rc.CommitAt.IsZero() {
		rc.CommitAt = time.Now().UTC()
	}
	data, err := json.Marshal(rc)
	if err != nil {
		return fmt.Errorf("encode change: %w", err)
	}
	return p.w.WriteMessages(ctx, kafkago.Message{Key: []byte(key), Value: data, Time: rc.CommitAt})
}

// StatusChange builds an UPDATE change for the given table moving one order to status.
func StatusChange(table, orderID string, status models.OrderStatus) (models.RowChange, error) {
	if !status.Valid() {
		return models.RowChange{}, fmt.Errorf("unknown order status %q", status)
	}
	rec, err := json.Marshal(map[string]any{realtime.OrderColumn: orderID, "status": status})
	if err != nil {
		return models.RowChange{}, err
	}
	return models.RowChange{Schema: "public", Table: table, Type: models.ChangeUpdate, Record: rec}, nil
}
