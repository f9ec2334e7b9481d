package models

// NotificationData is the routing data attached to a system notification.
type NotificationData struct {
	OrderID string      `json:"orderId,omitempty"`
	Status  OrderStatus `json:"status,omitempty"`
	URL     string      `json:"url,omitempty"`
}

// NotificationAction is a button on a system notification.
type NotificationAction struct {
	Action string `json:"action"`
	Title  string `json:"title"`
	Icon   string `json:"icon,omitempty"`
}

// NotificationPayload is a resolved system notification. A payload with the same Tag
// as a visible one replaces it.
type NotificationPayload struct {
	Title              string               `json:"title"`
	Body               string               `json:"body"`
	Icon               string               `json:"icon,omitempty"`
	Badge              string               `json:"badge,omitempty"`
	Vibrate            []int                `json:"vibrate,omitempty"`
	Tag                string               `json:"tag,omitempty"`
	RequireInteraction bool                 `json:"requireInteraction,omitempty"`
	Actions            []NotificationAction `json:"actions,omitempty"`
	Data               NotificationData     `json:"data"`
}
