package bridge

import (
	"context"

	"github.com/duisenbekovayan/order_live/internal/models"
)

// Client is an open foreground window known to the host.
type Client struct {
	ID      string `json:"id"`
	URL     string `json:"url"`
	Focused bool   `json:"focused"`
}

// Host is the platform surface the agent acts on.
type Host interface {
	ShowNotification(ctx context.Context, p models.NotificationPayload) error
	CloseNotification(ctx context.Context, tag string) error
	Clients(ctx context.Context) ([]Client, error)
	Focus(ctx context.Context, clientID string) error
	Navigate(ctx context.Context, clientID, url string) error
	OpenWindow(ctx context.Context, url string) error
}
