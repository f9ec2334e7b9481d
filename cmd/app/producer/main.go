// Command producer publishes one order status change to the change topic, the way the
// stall backend's change capture would.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/duisenbekovayan/order_live/internal/config"
	"github.com/duisenbekovayan/order_live/internal/kafka"
	xlog "github.com/duisenbekovayan/order_live/internal/log"
	"github.com/duisenbekovayan/order_live/internal/models"
)

func main() {
	var items bool

	cmd := &cobra.Command{
		Use:   "producer <orderId> <status>",
		Short: "Publish an order status change",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			xlog.Configure(xlog.Config{Level: cfg.LogLevel, Service: "order_live_producer"})
			logger := xlog.WithComponent("producer")

			status, err := models.ParseStatus(args[1])
			if err != nil {
				return err
			}
			table := models.TableOrders
			if items {
				table = models.TableOrderItems
			}
			rc, err := kafka.StatusChange(table, args[0], status)
			if err != nil {
				return err
			}

			p := kafka.NewProducer([]string{cfg.Kafka.Broker}, cfg.Kafka.Topic)
			defer p.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()
			if err := p.Publish(ctx, rc); err != nil {
				return fmt.Errorf("publish: %w", err)
			}
			logger.Info().
				Str(xlog.FieldOrderID, args[0]).
				Str(xlog.FieldStatus, string(status)).
				Str("table", table).
				Str("topic", cfg.Kafka.Topic).
				Msg("status change published")
			return nil
		},
	}
	cmd.Flags().BoolVar(&items, "items", false, "publish on the order_items table instead of orders")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
