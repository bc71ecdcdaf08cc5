package store

import (
	"encoding/json"
	"fmt"
)

// Columns holds the JSON-encoded parts of a checkpoint as stored by the SQL backends.
type Columns struct {
	State     []byte
	Pending   []byte
	Interrupt []byte
	Metadata  []byte
}

// MarshalColumns encodes the structured fields of cp.
func MarshalColumns(cp *Checkpoint) (Columns, error) {
	var cols Columns
	var err error

	if cols.State, err = json.Marshal(cp.State); err != nil {
		return cols, fmt.Errorf("failed to marshal state: %w", err)
	}
	if cols.Pending, err = json.Marshal(cp.Pending); err != nil {
		return cols, fmt.Errorf("failed to marshal pending tasks: %w", err)
	}
	if cols.Interrupt, err = json.Marshal(cp.Interrupt); err != nil {
		return cols, fmt.Errorf("failed to marshal interrupt: %w", err)
	}
	if cols.Metadata, err = json.Marshal(cp.Metadata); err != nil {
		return cols, fmt.Errorf("failed to marshal metadata: %w", err)
	}
	return cols, nil
}

// Decode fills the structured fields of cp from the encoded columns.
func (c Columns) Decode(cp *Checkpoint) error {
	if err := unmarshalColumn(c.State, &cp.State); err != nil {
		return fmt.Errorf("failed to unmarshal state: %w", err)
	}
	if err := unmarshalColumn(c.Pending, &cp.Pending); err != nil {
		return fmt.Errorf("failed to unmarshal pending tasks: %w", err)
	}
	if err := unmarshalColumn(c.Interrupt, &cp.Interrupt); err != nil {
		return fmt.Errorf("failed to unmarshal interrupt: %w", err)
	}
	if err := unmarshalColumn(c.Metadata, &cp.Metadata); err != nil {
		return fmt.Errorf("failed to unmarshal metadata: %w", err)
	}
	return nil
}

func unmarshalColumn(data []byte, v any) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}
