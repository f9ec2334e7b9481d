package models

import "time"

// Order is the backend order record as carried by the change feed and the order store.
type Order struct {
	ID            int64       `json:"id,omitempty"`
	PublicID      string      `json:"order_public_id"`
	StallID       string      `json:"stall_id,omitempty"`
	CustomerName  string      `json:"customer_name,omitempty"`
	Status        OrderStatus `json:"status"`
	TotalAmount   float64     `json:"total_amount,omitempty"`
	PaymentStatus string      `json:"payment_status,omitempty"`
	CreatedAt     time.Time   `json:"created_at,omitempty"`
	UpdatedAt     time.Time   `json:"updated_at,omitempty"`
	Items         []Item      `json:"items,omitempty"`
}

// Item is one line of an order. Status is tracked per item by the kitchen.
type Item struct {
	ID            int64       `json:"id,omitempty"`
	OrderPublicID string      `json:"order_public_id"`
	MenuItemID    string      `json:"menu_item_id,omitempty"`
	Name          string      `json:"name,omitempty"`
	Quantity      int         `json:"quantity,omitempty"`
	Price         float64     `json:"price,omitempty"`
	Status        OrderStatus `json:"status"`
}
