package bridge

import (
	"encoding/json"
	"strings"

	"github.com/duisenbekovayan/order_live/internal/models"
)

// Notification actions.
const (
	ActionView  = "view"
	ActionClose = "close"
)

// Defaults fills absent push fields.
type Defaults struct {
	Title   string
	Body    string
	Icon    string
	Badge   string
	Tag     string
	Vibrate []int
}

func DefaultDefaults() Defaults {
	return Defaults{
		Title:   "Order Update",
		Body:    "You have a new update on your order.",
		Icon:    "/icons/icon-192x192.png",
		Badge:   "/icons/badge-72x72.png",
		Tag:     "order-update",
		Vibrate: []int{200, 100, 200},
	}
}

// Actions are the buttons shown on every system notification.
func Actions() []models.NotificationAction {
	return []models.NotificationAction{
		{Action: ActionView, Title: "View Order", Icon: "/icons/view.png"},
		{Action: ActionClose, Title: "Dismiss", Icon: "/icons/close.png"},
	}
}

type pushBody struct {
	Title              string                  `json:"title"`
	Body               string                  `json:"body"`
	Icon               string                  `json:"icon"`
	Badge              string                  `json:"badge"`
	Vibrate            []int                   `json:"vibrate"`
	Tag                string                  `json:"tag"`
	RequireInteraction bool                    `json:"requireInteraction"`
	Data               models.NotificationData `json:"data"`
}

// ResolvePush turns a raw push payload into a notification. A payload that is not a JSON
// object is delivered as plain text under the default title.
func ResolvePush(raw []byte, d Defaults) models.NotificationPayload {
	p := models.NotificationPayload{
		Title:   d.Title,
		Body:    d.Body,
		Icon:    d.Icon,
		Badge:   d.Badge,
		Tag:     d.Tag,
		Vibrate: d.Vibrate,
		Actions: Actions(),
	}
	if len(raw) == 0 {
		return p
	}

	var b pushBody
	if err := json.Unmarshal(raw, &b); err != nil {
		if text := strings.TrimSpace(string(raw)); text != "" {
			p.Body = text
		}
		return p
	}
	if b.Title != "" {
		p.Title = b.Title
	}
	if b.Body != "" {
		p.Body = b.Body
	}
	if b.Icon != "" {
		p.Icon = b.Icon
	}
	if b.Badge != "" {
		p.Badge = b.Badge
	}
	if len(b.Vibrate) > 0 {
		p.Vibrate = b.Vibrate
	}
	if b.Tag != "" {
		p.Tag = b.Tag
	}
	p.RequireInteraction = b.RequireInteraction
	p.Data = b.Data
	return p
}

// OrderTag is the notification slot of one order.
func OrderTag(orderID string) string { return "order-" + orderID }

// OrderUpdatePayload builds the notification for an ORDER_UPDATE message.
func OrderUpdatePayload(msg Message, d Defaults) models.NotificationPayload {
	p := ResolvePush(nil, d)
	if msg.Title != "" {
		p.Title = msg.Title
	}
	if msg.Message != "" {
		p.Body = msg.Message
	}
	if msg.OrderID != "" {
		p.Tag = OrderTag(msg.OrderID)
	}
	p.RequireInteraction = msg.Status == models.StatusReady
	p.Data = models.NotificationData{OrderID: msg.OrderID, Status: msg.Status}
	return p
}
