package bridge

import "github.com/duisenbekovayan/order_live/internal/models"

// MessageType is the kind of a foreground -> background message.
type MessageType string

const (
	// MessageSkipWaiting makes a waiting version take over immediately.
	MessageSkipWaiting MessageType = "SKIP_WAITING"
	// MessageOrderUpdate asks for a system notification about an order.
	MessageOrderUpdate MessageType = "ORDER_UPDATE"
)

// Message is a message posted by the foreground application.
type Message struct {
	Type    MessageType        `json:"type"`
	OrderID string             `json:"orderId,omitempty"`
	Status  models.OrderStatus `json:"status,omitempty"`
	Title   string             `json:"title,omitempty"`
	Message string             `json:"message,omitempty"`
}
