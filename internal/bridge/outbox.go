package bridge

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"
)

// OutboundRequest is an order request that failed on the network and waits for
// background sync.
type OutboundRequest struct {
	ID        string      `json:"id"`
	Method    string      `json:"method"`
	URL       string      `json:"url"`
	Header    http.Header `json:"header,omitempty"`
	Body      []byte      `json:"body,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
	Attempts  int         `json:"attempts"`
	LastError string      `json:"last_error,omitempty"`
}

// Outbox stores outbound requests until a replay succeeds.
type Outbox interface {
	Enqueue(ctx context.Context, req OutboundRequest) error
	Pending(ctx context.Context) ([]OutboundRequest, error)
	Complete(ctx context.Context, id string, status int, body []byte) error
	Fail(ctx context.Context, id string, reason string) error
}

// MemoryOutbox is an in-process Outbox used when no database is configured.
type MemoryOutbox struct {
	mu      sync.Mutex
	pending map[string]OutboundRequest
	done    map[string]Completed
}

// Completed is the stored outcome of a replayed request.
type Completed struct {
	Status int
	Body   []byte
}

func NewMemoryOutbox() *MemoryOutbox {
	return &MemoryOutbox{pending: map[string]OutboundRequest{}, done: map[string]Completed{}}
}

func (o *MemoryOutbox) Enqueue(_ context.Context, req OutboundRequest) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.pending[req.ID] = req
	return nil
}

func (o *MemoryOutbox) Pending(_ context.Context) ([]OutboundRequest, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]OutboundRequest, 0, len(o.pending))
	for _, r := range o.pending {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (o *MemoryOutbox) Complete(_ context.Context, id string, status int, body []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.pending, id)
	o.done[id] = Completed{Status: status, Body: body}
	return nil
}

func (o *MemoryOutbox) Fail(_ context.Context, id string, reason string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	r, ok := o.pending[id]
	if !ok {
		return nil
	}
	r.Attempts++
	r.LastError = reason
	o.pending[id] = r
	return nil
}

// Result returns the stored outcome of a completed request.
func (o *MemoryOutbox) Result(id string) (Completed, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	c, ok := o.done[id]
	return c, ok
}
