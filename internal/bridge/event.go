// Package bridge implements the delivery bridge: the background agent that outlives any
// foreground session, primes and serves the resource cache, displays system notifications
// for pushes and order updates, routes notification clicks and replays queued requests on
// background sync.
//
// The agent is an explicit handler table keyed by event kind. The hosting runtime delivers
// events through Agent.Dispatch (synchronous) or Agent.Post / Agent.Send (through the
// agent's own inbox and goroutine).
package bridge

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/duisenbekovayan/order_live/internal/cache"
	"github.com/duisenbekovayan/order_live/internal/models"
)

// EventKind selects the handler of an event.
type EventKind string

const (
	EventInstall           EventKind = "install"
	EventActivate          EventKind = "activate"
	EventFetch             EventKind = "fetch"
	EventPush              EventKind = "push"
	EventNotificationClick EventKind = "notificationclick"
	EventMessage           EventKind = "message"
	EventSync              EventKind = "sync"
)

var (
	ErrNoHandler     = errors.New("no handler registered")
	ErrNoActiveAgent = errors.New("no active agent")
	ErrAgentStopped  = errors.New("agent stopped")
)

// Event is one unit of work delivered to the agent. Only the fields of its Kind are set.
type Event struct {
	Kind EventKind

	Request      *http.Request              // fetch
	Data         []byte                     // push
	Action       string                     // notificationclick
	Notification models.NotificationPayload // notificationclick
	Message      Message                    // message
	Tag          string                     // sync

	agent *Agent

	mu       sync.Mutex
	waits    []func(context.Context) error
	response *cache.Response
}

// WaitUntil extends the event's lifetime: dispatch does not complete until fn returns.
func (e *Event) WaitUntil(fn func(context.Context) error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.waits = append(e.waits, fn)
}

// RespondWith sets the response of a fetch event.
func (e *Event) RespondWith(resp *cache.Response) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.response = resp
}

// Response returns the response set by the fetch handler, if any.
func (e *Event) Response() *cache.Response {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.response
}

// Agent returns the agent the event was dispatched to.
func (e *Event) Agent() *Agent { return e.agent }

func (e *Event) wait(ctx context.Context) error {
	e.mu.Lock()
	waits := e.waits
	e.waits = nil
	e.mu.Unlock()
	if len(waits) == 0 {
		return nil
	}
	g, gctx := errgroup.WithContext(ctx)
	for _, fn := range waits {
		g.Go(func() error { return fn(gctx) })
	}
	return g.Wait()
}

// PushEvent builds a push event from a raw transport payload.
func PushEvent(raw []byte) *Event { return &Event{Kind: EventPush, Data: raw} }

// MessageEvent builds a message event.
func MessageEvent(msg Message) *Event { return &Event{Kind: EventMessage, Message: msg} }

// SyncEvent builds a background-sync event.
func SyncEvent(tag string) *Event { return &Event{Kind: EventSync, Tag: tag} }

// FetchEvent builds a fetch event for an intercepted request.
func FetchEvent(r *http.Request) *Event { return &Event{Kind: EventFetch, Request: r} }

// ClickEvent builds a notification click event.
func ClickEvent(action string, n models.NotificationPayload) *Event {
	return &Event{Kind: EventNotificationClick, Action: action, Notification: n}
}
