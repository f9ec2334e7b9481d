package log

// Canonical field name constants for structured logging.
const (
	FieldComponent = "component"
	FieldEvent     = "event"

	FieldOrderID = "order_id"
	FieldStatus  = "status"
	FieldChannel = "channel"
	FieldState   = "state"

	FieldGeneration = "generation"
	FieldURL        = "url"
	FieldTag        = "tag"
	FieldClientID   = "client_id"
)
