package models

import (
	"encoding/json"
	"time"
)

// Backend tables carried by the row-change feed.
const (
	TableOrders     = "orders"
	TableOrderItems = "order_items"
)

// ChangeType is the kind of row change.
type ChangeType string

const (
	ChangeInsert ChangeType = "INSERT"
	ChangeUpdate ChangeType = "UPDATE"
	ChangeDelete ChangeType = "DELETE"
)

// RowChange is one row-level change event from the backend feed. Record holds the new row
// image; OldRecord is present only when the table publishes full replica identity.
type RowChange struct {
	Schema    string          `json:"schema"`
	Table     string          `json:"table"`
	Type      ChangeType      `json:"type"`
	Record    json.RawMessage `json:"record"`
	OldRecord json.RawMessage `json:"old_record,omitempty"`
	CommitAt  time.Time       `json:"commit_timestamp"`
}

// Column returns a top-level string column from the new row image.
func (c RowChange) Column(name string) string {
	if len(c.Record) == 0 {
		return ""
	}
	var row map[string]any
	if err := json.Unmarshal(c.Record, &row); err != nil {
		return ""
	}
	v, _ := row[name].(string)
	return v
}
