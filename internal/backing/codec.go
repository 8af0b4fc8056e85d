package backing

import (
	"encoding/json"
	"fmt"

	"workshop-sync/internal/models"
)

// DecodeRow decodes a wire row into a typed entity via its json tags.
func DecodeRow[T any](row models.Row) (T, error) {
	var out T
	raw, err := json.Marshal(row)
	if err != nil {
		return out, fmt.Errorf("failed to encode row: %w", err)
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("failed to decode row: %w", err)
	}
	return out, nil
}

// DecodeRows decodes a batch of wire rows.
func DecodeRows[T any](rows []models.Row) ([]T, error) {
	out := make([]T, 0, len(rows))
	for _, row := range rows {
		item, err := DecodeRow[T](row)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, nil
}

// EncodeRow turns a typed entity into a wire row.
func EncodeRow(v any) (models.Row, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode entity: %w", err)
	}
	var row models.Row
	if err := json.Unmarshal(raw, &row); err != nil {
		return nil, fmt.Errorf("failed to decode entity row: %w", err)
	}
	return row, nil
}
