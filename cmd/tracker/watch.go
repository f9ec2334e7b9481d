package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/duisenbekovayan/order_live/internal/bridge"
	"github.com/duisenbekovayan/order_live/internal/config"
	"github.com/duisenbekovayan/order_live/internal/kafka"
	xlog "github.com/duisenbekovayan/order_live/internal/log"
	"github.com/duisenbekovayan/order_live/internal/notify"
	"github.com/duisenbekovayan/order_live/internal/realtime"
	"github.com/duisenbekovayan/order_live/internal/storage"
	"github.com/duisenbekovayan/order_live/internal/tracker"
)

type watchFlags struct {
	agentURL   string
	permission string
	maxVisible int
	linger     time.Duration
	sound      bool
}

func newWatchCmd() *cobra.Command {
	var f watchFlags
	cmd := &cobra.Command{
		Use:   "watch <orderId>",
		Short: "Follow an order until it is completed or cancelled",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd.Context(), args[0], f)
		},
	}
	cmd.Flags().StringVar(&f.agentURL, "agent", "", "base URL of the background agent for system notifications")
	cmd.Flags().StringVar(&f.permission, "permission", string(notify.PermissionDefault), "system notification permission: default, granted or denied")
	cmd.Flags().IntVar(&f.maxVisible, "max-visible", notify.DefaultMaxVisible, "notification cards shown at once")
	cmd.Flags().DurationVar(&f.linger, "linger", 3*time.Second, "keep the screen open this long after the order finished")
	cmd.Flags().BoolVar(&f.sound, "sound", true, "ring the terminal bell on every update")
	return cmd
}

func runWatch(parent context.Context, orderID string, f watchFlags) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	// logs go to stderr, the screen owns stdout
	xlog.Configure(xlog.Config{Level: cfg.LogLevel, Output: os.Stderr, Service: "order_live_tracker"})
	logger := xlog.WithComponent("tracker_cli")

	perm := notify.Permission(f.permission)
	switch perm {
	case notify.PermissionDefault, notify.PermissionGranted, notify.PermissionDenied:
	default:
		return fmt.Errorf("--permission: unsupported value %q", f.permission)
	}

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	feed, closeFeed, err := openFeed(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeFeed()

	var store tracker.OrderStore
	if cfg.PG.Enabled {
		pg, err := storage.New(storage.DSN(cfg.PG.Host, cfg.PG.Port, cfg.PG.User, cfg.PG.Password, cfg.PG.DB))
		if err != nil {
			logger.Warn().Err(err).Msg("order store unavailable, progress starts empty")
		} else {
			defer pg.Close()
			store = pg
		}
	}

	scr := newScreen(os.Stdout, orderID)
	var player notify.Player
	if f.sound {
		player = notify.BellPlayer{W: os.Stdout}
	}
	presenter := notify.NewPresenter(notify.Options{
		OrderID:    orderID,
		MaxVisible: f.maxVisible,
		Permission: perm,
		Bridge:     bridge.NewHTTPPoster(f.agentURL, nil),
		Foreground: notify.WriterForeground{W: os.Stderr},
		Player:     player,
		OnChange:   scr.SetCards,
	})

	sess, err := tracker.Open(ctx, tracker.Options{
		OrderID:   orderID,
		Client:    realtime.NewClient(feed, nil),
		Presenter: presenter,
		Store:     store,
		OnRender:  scr.SetView,
		OnState:   scr.SetState,
	})
	if err != nil {
		return err
	}
	defer sess.Close()
	scr.SetView(sess.View())

	select {
	case <-sess.Finished():
		logger.Info().Str(xlog.FieldOrderID, orderID).Str(xlog.FieldStatus, string(sess.View().Status)).Msg("order finished")
		select {
		case <-time.After(f.linger):
		case <-ctx.Done():
		}
	case <-ctx.Done():
	}
	return nil
}

// openFeed builds the configured change feed. The returned func releases it.
func openFeed(ctx context.Context, cfg config.Config, logger zerolog.Logger) (realtime.Feed, func(), error) {
	switch cfg.Feed {
	case "memory":
		logger.Warn().Msg("memory feed selected, no live updates will arrive")
		return realtime.NewMemoryFeed(), func() {}, nil
	case "realtime":
		s := realtime.NewSocket(realtime.SocketConfig{URL: cfg.RealtimeURL, APIKey: cfg.RealtimeAPIKey})
		return s, func() {
			if err := s.Close(); err != nil {
				logger.Debug().Err(err).Msg("close realtime socket")
			}
		}, nil
	case "kafka":
		kf := kafka.NewFeed(kafka.Config{
			Brokers:  []string{cfg.Kafka.Broker},
			Topic:    cfg.Kafka.Topic,
			GroupID:  kafka.GroupID(cfg.Kafka.GroupID),
			DLQTopic: cfg.Kafka.DLQTopic,
		})
		runCtx, cancel := context.WithCancel(ctx)
		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := kf.Run(runCtx); err != nil {
				logger.Error().Err(err).Msg("kafka feed stopped")
			}
		}()
		return kf, func() {
			cancel()
			wg.Wait()
			if err := kf.Close(); err != nil {
				logger.Debug().Err(err).Msg("close kafka feed")
			}
		}, nil
	default:
		return nil, nil, errors.New("unsupported feed " + cfg.Feed)
	}
}
