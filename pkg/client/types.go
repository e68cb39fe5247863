package client

import (
	"encoding/json"
	"fmt"
)

// Neighbor is one vector query result, decoded from the wire pair
// [vector, distance].
type Neighbor struct {
	Vector   []float64
	Distance float64
}

// UnmarshalJSON decodes the two-element array form.
func (n *Neighbor) UnmarshalJSON(data []byte) error {
	var pair [2]json.RawMessage
	if err := json.Unmarshal(data, &pair); err != nil {
		return fmt.Errorf("neighbor is not a [vector, distance] pair: %w", err)
	}
	if err := json.Unmarshal(pair[0], &n.Vector); err != nil {
		return fmt.Errorf("failed to decode neighbor vector: %w", err)
	}
	if err := json.Unmarshal(pair[1], &n.Distance); err != nil {
		return fmt.Errorf("failed to decode neighbor distance: %w", err)
	}
	return nil
}

// DocMatch is one document query result, decoded from the wire pair
// [document, distance].
type DocMatch struct {
	Document map[string]any
	Distance float64
}

// UnmarshalJSON decodes the two-element array form.
func (m *DocMatch) UnmarshalJSON(data []byte) error {
	var pair [2]json.RawMessage
	if err := json.Unmarshal(data, &pair); err != nil {
		return fmt.Errorf("match is not a [document, distance] pair: %w", err)
	}
	if err := json.Unmarshal(pair[0], &m.Document); err != nil {
		return fmt.Errorf("failed to decode match document: %w", err)
	}
	if err := json.Unmarshal(pair[1], &m.Distance); err != nil {
		return fmt.Errorf("failed to decode match distance: %w", err)
	}
	return nil
}
