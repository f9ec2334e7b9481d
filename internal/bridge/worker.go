package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/duisenbekovayan/order_live/internal/cache"
	xlog "github.com/duisenbekovayan/order_live/internal/log"
	"github.com/duisenbekovayan/order_live/internal/metrics"
	"github.com/duisenbekovayan/order_live/internal/models"
)

// SyncOrdersTag is the background-sync tag that replays the outbox.
const SyncOrdersTag = "sync-orders"

// ErrUnknownMessage is returned for a message type the agent does not handle.
var ErrUnknownMessage = errors.New("unknown message type")

// Settings configures a Worker.
type Settings struct {
	CustomerPrefix string // path prefix of customer-facing pages
	TrackingPath   string // order-tracking view
	OutboxPrefix   string // non-GET requests under this prefix are queued when offline
	Defaults       Defaults
}

func DefaultSettings() Settings {
	return Settings{
		CustomerPrefix: "/customer/",
		TrackingPath:   "/customer/order-tracking.html",
		OutboxPrefix:   "/api/orders",
		Defaults:       DefaultDefaults(),
	}
}

// Worker holds the dependencies of the agent's handlers.
type Worker struct {
	cache    *cache.ResourceCache
	fetcher  cache.Fetcher
	host     Host
	outbox   Outbox
	settings Settings
	logger   zerolog.Logger
	now      func() time.Time
}

type WorkerOptions struct {
	Cache    *cache.ResourceCache
	Fetcher  cache.Fetcher // network leg used to replay the outbox
	Host     Host
	Outbox   Outbox
	Settings *Settings
	Logger   *zerolog.Logger
}

func NewWorker(opts WorkerOptions) *Worker {
	s := DefaultSettings()
	if opts.Settings != nil {
		s = *opts.Settings
	}
	l := xlog.WithComponent("bridge")
	if opts.Logger != nil {
		l = *opts.Logger
	}
	return &Worker{
		cache:    opts.Cache,
		fetcher:  opts.Fetcher,
		host:     opts.Host,
		outbox:   opts.Outbox,
		settings: s,
		logger:   l,
		now:      time.Now,
	}
}

// Handlers returns the handler table of the agent.
func (w *Worker) Handlers() Handlers {
	return Handlers{
		EventInstall:  func(ctx context.Context, _ *Event) error { return w.cache.Install(ctx) },
		EventActivate: func(ctx context.Context, _ *Event) error { return w.cache.Activate(ctx) },
		EventFetch:    w.onFetch,
		EventPush: func(_ context.Context, ev *Event) error {
			ev.WaitUntil(func(ctx context.Context) error { return w.OnPush(ctx, ev.Data) })
			return nil
		},
		EventNotificationClick: func(_ context.Context, ev *Event) error {
			ev.WaitUntil(func(ctx context.Context) error {
				return w.OnNotificationClick(ctx, ev.Action, ev.Notification)
			})
			return nil
		},
		EventMessage: func(ctx context.Context, ev *Event) error {
			if ev.Message.Type == MessageSkipWaiting {
				return ev.Agent().SkipWaiting(ctx)
			}
			return w.OnMessage(ctx, ev.Message)
		},
		EventSync: func(_ context.Context, ev *Event) error {
			ev.WaitUntil(func(ctx context.Context) error { return w.OnSync(ctx, ev.Tag) })
			return nil
		},
	}
}

// OnPush displays a system notification for a push payload.
func (w *Worker) OnPush(ctx context.Context, raw []byte) error {
	p := ResolvePush(raw, w.settings.Defaults)
	if err := w.host.ShowNotification(ctx, p); err != nil {
		return fmt.Errorf("show push notification: %w", err)
	}
	metrics.IncNotification("push")
	w.logger.Info().Str(xlog.FieldTag, p.Tag).Str(xlog.FieldOrderID, p.Data.OrderID).Msg("push notification displayed")
	return nil
}

// OnNotificationClick closes the notification and, unless dismissed, brings the user to
// the order-tracking view.
func (w *Worker) OnNotificationClick(ctx context.Context, action string, n models.NotificationPayload) error {
	if err := w.host.CloseNotification(ctx, n.Tag); err != nil {
		w.logger.Debug().Err(err).Str(xlog.FieldTag, n.Tag).Msg("close notification failed")
	}
	if action != "" && action != ActionView {
		return nil
	}

	target := w.TrackingURL(n.Data.OrderID)
	clients, err := w.host.Clients(ctx)
	if err != nil {
		return fmt.Errorf("list clients: %w", err)
	}
	for _, c := range clients {
		if !w.isCustomerURL(c.URL) {
			continue
		}
		if err := w.host.Focus(ctx, c.ID); err != nil {
			return fmt.Errorf("focus client %s: %w", c.ID, err)
		}
		return w.host.Navigate(ctx, c.ID, target)
	}
	return w.host.OpenWindow(ctx, target)
}

// TrackingURL is the order-tracking view, parameterized by orderID when known.
func (w *Worker) TrackingURL(orderID string) string {
	if orderID == "" {
		return w.settings.TrackingPath
	}
	return w.settings.TrackingPath + "?orderId=" + url.QueryEscape(orderID)
}

func (w *Worker) isCustomerURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return strings.HasPrefix(u.Path, w.settings.CustomerPrefix)
}

// OnMessage handles data messages from the foreground.
func (w *Worker) OnMessage(ctx context.Context, msg Message) error {
	switch msg.Type {
	case MessageOrderUpdate:
		p := OrderUpdatePayload(msg, w.settings.Defaults)
		if err := w.host.ShowNotification(ctx, p); err != nil {
			return fmt.Errorf("show order update: %w", err)
		}
		metrics.IncNotification("system")
		w.logger.Info().Str(xlog.FieldOrderID, msg.OrderID).Str(xlog.FieldStatus, string(msg.Status)).Msg("order update notification displayed")
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownMessage, msg.Type)
	}
}

// OnSync replays queued requests once. Failures stay queued for the next trigger.
func (w *Worker) OnSync(ctx context.Context, tag string) error {
	if tag != SyncOrdersTag {
		w.logger.Debug().Str(xlog.FieldTag, tag).Msg("ignoring unknown sync tag")
		return nil
	}
	if w.outbox == nil || w.fetcher == nil {
		return nil
	}
	pending, err := w.outbox.Pending(ctx)
	if err != nil {
		return fmt.Errorf("load outbox: %w", err)
	}
	for _, req := range pending {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		w.replay(ctx, req)
	}
	return nil
}

func (w *Worker) replay(ctx context.Context, q OutboundRequest) {
	logger := w.logger.With().Str("outbox_id", q.ID).Str(xlog.FieldURL, q.URL).Logger()

	r, err := http.NewRequestWithContext(ctx, q.Method, q.URL, bytes.NewReader(q.Body))
	if err != nil {
		logger.Warn().Err(err).Msg("dropping unreplayable request")
		_ = w.outbox.Fail(ctx, q.ID, err.Error())
		return
	}
	r.Header = q.Header.Clone()
	if r.Header == nil {
		r.Header = http.Header{}
	}

	resp, err := w.fetcher.Fetch(ctx, r)
	switch {
	case err != nil:
		reason := err.Error()
		metrics.IncSyncReplay("network_error")
		logger.Warn().Err(err).Msg("replay failed, left for next sync")
		if ferr := w.outbox.Fail(ctx, q.ID, reason); ferr != nil {
			logger.Warn().Err(ferr).Msg("record replay failure")
		}
	case !resp.OK():
		metrics.IncSyncReplay("rejected")
		logger.Warn().Int("status", resp.Status).Msg("replay rejected, left for next sync")
		if ferr := w.outbox.Fail(ctx, q.ID, fmt.Sprintf("status %d", resp.Status)); ferr != nil {
			logger.Warn().Err(ferr).Msg("record replay failure")
		}
	default:
		metrics.IncSyncReplay("ok")
		if err := w.outbox.Complete(ctx, q.ID, resp.Status, resp.Body); err != nil {
			logger.Warn().Err(err).Msg("record replay result")
			return
		}
		logger.Info().Msg("queued request replayed")
	}
}

func (w *Worker) onFetch(ctx context.Context, ev *Event) error {
	r := ev.Request
	var body []byte
	if r.Method != http.MethodGet && r.Body != nil {
		b, err := io.ReadAll(r.Body)
		if err != nil {
			return fmt.Errorf("read request body: %w", err)
		}
		body = b
		r.Body = io.NopCloser(bytes.NewReader(b))
	}

	resp, err := w.cache.HandleFetch(ctx, r)
	if err == nil {
		ev.RespondWith(resp)
		return nil
	}
	if !errors.Is(err, cache.ErrResourceUnavailable) {
		return err
	}

	if r.Method != http.MethodGet && w.outbox != nil && strings.HasPrefix(r.URL.Path, w.settings.OutboxPrefix) {
		q := OutboundRequest{
			ID:        uuid.NewString(),
			Method:    r.Method,
			URL:       r.URL.RequestURI(),
			Header:    r.Header.Clone(),
			Body:      body,
			CreatedAt: w.now(),
		}
		qerr := w.outbox.Enqueue(ctx, q)
		if qerr == nil {
			ev.RespondWith(jsonResponse(http.StatusAccepted, map[string]any{"queued": true, "id": q.ID, "sync": SyncOrdersTag}))
			return nil
		}
		w.logger.Warn().Err(qerr).Msg("enqueue outbound request")
	}

	w.logger.Debug().Err(err).Str(xlog.FieldURL, r.URL.RequestURI()).Msg("resource unavailable")
	ev.RespondWith(jsonResponse(http.StatusServiceUnavailable, map[string]string{"error": "unavailable"}))
	return nil
}

func jsonResponse(status int, v any) *cache.Response {
	b, _ := json.Marshal(v)
	return &cache.Response{
		Status: status,
		Header: http.Header{"Content-Type": {"application/json; charset=utf-8"}},
		Body:   b,
	}
}
