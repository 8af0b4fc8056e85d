// Package backing is the seam to the remote persistence layer: a table store
// with generic select/insert/update/delete, and a row-change event feed that
// carries every committed write to all listening sessions.
package backing

import (
	"context"
	"errors"
	"time"

	"workshop-sync/internal/models"
)

var (
	// ErrNotFound is returned when an update or delete targets a missing row.
	ErrNotFound = errors.New("row not found")
	// ErrBadIdentifier is returned for table or column names that are not
	// plain lowercase identifiers.
	ErrBadIdentifier = errors.New("invalid identifier")
)

// TimeRange bounds a select on a timestamp column. A zero Start or End leaves
// that side open.
type TimeRange struct {
	Column string
	Start  time.Time
	End    time.Time
}

// SelectOptions narrows a table read. All fields are optional.
type SelectOptions struct {
	// Filter adds equality conditions, one per column.
	Filter map[string]any
	// In adds `column IN (...)` conditions.
	In map[string][]string
	// Match adds case-insensitive substring conditions.
	Match map[string]string
	// Range bounds a timestamp column.
	Range *TimeRange
	// OrderBy names the sort column; Descending flips the direction.
	OrderBy    string
	Descending bool
	// Limit and Offset page the result. A zero Limit means no limit.
	Limit  int
	Offset int
}

// Store is the remote table store. Insert and Update return the authoritative
// row as the server committed it, defaults and timestamps included.
type Store interface {
	Select(ctx context.Context, table string, opts SelectOptions) ([]models.Row, error)
	Insert(ctx context.Context, table string, payload models.Row) (models.Row, error)
	Update(ctx context.Context, table string, id string, patch models.Row) (models.Row, error)
	Delete(ctx context.Context, table string, id string) error
}

// Feed delivers row-change events per table. The returned function cancels
// the subscription.
type Feed interface {
	Subscribe(table string, handler func(models.ChangeEvent)) (unsubscribe func())
}

// Publisher pushes a change event onto the feed for other sessions.
type Publisher interface {
	Publish(ctx context.Context, event models.ChangeEvent) error
}
