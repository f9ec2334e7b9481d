package bridge

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/duisenbekovayan/order_live/internal/cache"
	"github.com/duisenbekovayan/order_live/internal/models"
)

type recordingHost struct {
	mu        sync.Mutex
	shown     []models.NotificationPayload
	closed    []string
	clients   []Client
	focused   []string
	navigated map[string]string
	opened    []string
	showErr   error
}

func newRecordingHost(clients ...Client) *recordingHost {
	return &recordingHost{clients: clients, navigated: map[string]string{}}
}

func (h *recordingHost) ShowNotification(_ context.Context, p models.NotificationPayload) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.showErr != nil {
		return h.showErr
	}
	h.shown = append(h.shown, p)
	return nil
}

func (h *recordingHost) CloseNotification(_ context.Context, tag string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = append(h.closed, tag)
	return nil
}

func (h *recordingHost) Clients(context.Context) ([]Client, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Client(nil), h.clients...), nil
}

func (h *recordingHost) Focus(_ context.Context, id string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.focused = append(h.focused, id)
	return nil
}

func (h *recordingHost) Navigate(_ context.Context, id, url string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.navigated[id] = url
	return nil
}

func (h *recordingHost) OpenWindow(_ context.Context, url string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.opened = append(h.opened, url)
	return nil
}

func (h *recordingHost) Shown() []models.NotificationPayload {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]models.NotificationPayload(nil), h.shown...)
}

// originFetcher answers every request with 200 unless the path is listed in down.
type originFetcher struct {
	mu      sync.Mutex
	down    bool
	calls   []string
	failFor map[string]bool
	status  int
}

func (f *originFetcher) Fetch(_ context.Context, r *http.Request) (*cache.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, r.Method+" "+r.URL.RequestURI())
	if f.down || f.failFor[r.URL.Path] {
		return nil, errors.New("network unreachable")
	}
	status := f.status
	if status == 0 {
		status = http.StatusOK
	}
	body := "ok " + r.URL.Path
	if strings.HasPrefix(r.URL.Path, "/api/") {
		body = `{"id":"created"}`
	}
	return &cache.Response{Status: status, Body: []byte(body)}, nil
}

func (f *originFetcher) setDown(down bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.down = down
}

func nopLogger() *zerolog.Logger {
	l := zerolog.Nop()
	return &l
}

func newTestWorker(t *testing.T, gen string, storage cache.Storage, host Host, outbox Outbox, f *originFetcher) *Worker {
	t.Helper()
	rc := cache.New(cache.Options{
		Manifest: cache.Manifest{Generation: gen, Offline: "/offline.html", Resources: []string{"/", "/customer/order-tracking.html"}},
		Storage:  storage,
		Fetcher:  f,
		Logger:   nopLogger(),
	})
	return NewWorker(WorkerOptions{Cache: rc, Fetcher: f, Host: host, Outbox: outbox, Logger: nopLogger()})
}
