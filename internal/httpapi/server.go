// Package httpapi exposes the background agent over HTTP: intercepted fetches, push and
// message delivery, notification clicks, background sync, the client hub and metrics.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/duisenbekovayan/order_live/internal/bridge"
	"github.com/duisenbekovayan/order_live/internal/cache"
	xlog "github.com/duisenbekovayan/order_live/internal/log"
	"github.com/duisenbekovayan/order_live/internal/models"
	"github.com/duisenbekovayan/order_live/internal/notify"
)

const maxPushBytes = 4 << 10

// Agent is the registration surface the server drives.
type Agent interface {
	Fetch(ctx context.Context, req *http.Request) (*cache.Response, error)
	Deliver(ctx context.Context, ev *bridge.Event) error
	Post(ctx context.Context, msg bridge.Message) error
	HasActive() bool
}

// OrderStore looks up orders for GET /orders/{id}.
type OrderStore interface {
	GetOrder(ctx context.Context, publicID string) (models.Order, error)
}

type Options struct {
	Addr  string
	Agent Agent
	Hub   *Hub
	// Orders is optional; without it /orders/{id} answers 404.
	Orders     OrderStore
	RateLimit  int
	RateWindow time.Duration
	Logger     *zerolog.Logger
}

type Server struct {
	srv    *http.Server
	agent  Agent
	hub    *Hub
	orders OrderStore
	logger zerolog.Logger
}

func New(opts Options) *Server {
	l := xlog.WithComponent("httpapi")
	if opts.Logger != nil {
		l = *opts.Logger
	}
	if opts.RateLimit <= 0 {
		opts.RateLimit = 120
	}
	if opts.RateWindow <= 0 {
		opts.RateWindow = time.Minute
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	s := &Server{
		srv:    &http.Server{Addr: opts.Addr, Handler: r, ReadHeaderTimeout: 10 * time.Second},
		agent:  opts.Agent,
		hub:    opts.Hub,
		orders: opts.Orders,
		logger: l,
	}

	// agent endpoints first, the catch-all fetch would swallow them otherwise
	r.Get("/healthz", s.health)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	if s.hub != nil {
		r.Method(http.MethodGet, "/ws", s.hub)
		r.Get("/notifications", s.listNotifications)
	}
	r.Get("/orders/{id}", s.getOrder)
	r.Get("/sounds/{file}", s.sound)

	r.Group(func(r chi.Router) {
		r.Use(rateLimit(opts.RateLimit, opts.RateWindow))
		r.Post("/push", s.push)
		r.Post("/messages", s.message)
	})
	r.Post("/notifications/click", s.click)
	r.Post("/sync", s.sync)

	r.Handle("/*", http.HandlerFunc(s.fetch))
	return s
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.srv.Handler }

func rateLimit(limit int, window time.Duration) func(http.Handler) http.Handler {
	return httprate.Limit(
		limit,
		window,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Retry-After", strconv.Itoa(int(window.Seconds())))
			writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "rate_limit_exceeded"})
		}),
	)
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "active_agent": s.agent.HasActive()})
}

func (s *Server) fetch(w http.ResponseWriter, r *http.Request) {
	resp, err := s.agent.Fetch(r.Context(), r)
	if err != nil {
		s.fail(w, err)
		return
	}
	h := w.Header()
	for k, vs := range resp.Header {
		h[k] = append([]string(nil), vs...)
	}
	status := resp.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	_, _ = w.Write(resp.Body)
}

func (s *Server) push(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxPushBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unreadable body"})
		return
	}
	if err := s.agent.Deliver(r.Context(), bridge.PushEvent(raw)); err != nil {
		s.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) message(w http.ResponseWriter, r *http.Request) {
	var msg bridge.Message
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid message"})
		return
	}
	switch msg.Type {
	case bridge.MessageSkipWaiting, bridge.MessageOrderUpdate:
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown message type"})
		return
	}
	if err := s.agent.Post(r.Context(), msg); err != nil {
		s.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

type clickRequest struct {
	Action       string                     `json:"action"`
	Notification models.NotificationPayload `json:"notification"`
}

func (s *Server) click(w http.ResponseWriter, r *http.Request) {
	var req clickRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid click"})
		return
	}
	if err := s.agent.Deliver(r.Context(), bridge.ClickEvent(req.Action, req.Notification)); err != nil {
		s.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) sync(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Tag string `json:"tag"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Tag == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "tag required"})
		return
	}
	if err := s.agent.Deliver(r.Context(), bridge.SyncEvent(req.Tag)); err != nil {
		s.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) listNotifications(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.hub.Notifications())
}

func (s *Server) getOrder(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if s.orders == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}
	o, err := s.orders.GetOrder(r.Context(), id)
	if err != nil {
		s.logger.Debug().Err(err).Str(xlog.FieldOrderID, id).Msg("order lookup failed")
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (s *Server) sound(w http.ResponseWriter, r *http.Request) {
	name, ok := strings.CutSuffix(chi.URLParam(r, "file"), ".wav")
	st, err := models.ParseStatus(strings.ToLower(name))
	if !ok || err != nil {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "audio/wav")
	w.Header().Set("Cache-Control", "public, max-age=86400")
	_, _ = w.Write(notify.ToneFor(st).WAV(22050))
}

func (s *Server) fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, bridge.ErrNoActiveAgent), errors.Is(err, bridge.ErrAgentStopped):
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
	case errors.Is(err, cache.ErrResourceUnavailable):
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "unavailable"})
	case errors.Is(err, bridge.ErrUnknownMessage):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeJSON(w, http.StatusGatewayTimeout, map[string]string{"error": "timeout"})
	default:
		s.logger.Error().Err(err).Msg("agent request failed")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.srv.Addr).Msg("http server listening")
	err := s.srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error { return s.srv.Shutdown(ctx) }
