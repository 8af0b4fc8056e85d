package models

import "time"

// Change operations carried on the feed.
const (
	OpInsert = "insert"
	OpUpdate = "update"
	OpDelete = "delete"
)

// Row is one backing-store row in wire form. Values are whatever the JSON
// decoder produced; timestamps travel as RFC 3339 strings.
type Row = map[string]any

// ChangeEvent is the envelope for a single row change, published after every
// committed write and by every other session writing to the same store. For
// deletes the row may carry only the id.
type ChangeEvent struct {
	EventID   string    `json:"event_id"`
	Table     string    `json:"table"`
	Op        string    `json:"op"`
	Row       Row       `json:"row"`
	Timestamp time.Time `json:"timestamp"`
}

// RowID extracts the row's id, empty if absent.
func (e ChangeEvent) RowID() string {
	id, _ := e.Row["id"].(string)
	return id
}

// RowTime extracts a timestamp column from the row, handling both decoded
// strings and native time values. Returns the zero time when missing.
func (e ChangeEvent) RowTime(column string) time.Time {
	switch v := e.Row[column].(type) {
	case time.Time:
		return v
	case string:
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			return t
		}
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			return t
		}
	}
	return time.Time{}
}
