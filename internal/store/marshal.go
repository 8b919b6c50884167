package store

import (
	"encoding/json"
	"fmt"
)

// marshalFloats encodes a table axis or value grid as a JSON array.
// A nil slice is stored as [] so reads never see null.
func marshalFloats(values []float64) (string, error) {
	if values == nil {
		values = []float64{}
	}
	data, err := json.Marshal(values)
	if err != nil {
		return "", fmt.Errorf("marshal values: %w", err)
	}
	return string(data), nil
}

// unmarshalFloats decodes a JSON array written by marshalFloats.
func unmarshalFloats(text string) ([]float64, error) {
	var values []float64
	if err := json.Unmarshal([]byte(text), &values); err != nil {
		return nil, fmt.Errorf("unmarshal values: %w", err)
	}
	return values, nil
}

// marshalSettings stores the run settings as JSON TEXT for audit.
func marshalSettings(settings any) (string, error) {
	data, err := json.Marshal(settings)
	if err != nil {
		return "", fmt.Errorf("marshal settings: %w", err)
	}
	return string(data), nil
}

// marshalMargins encodes sequential margins as a JSON array.
func marshalMargins(margins []Margin) (string, error) {
	if margins == nil {
		margins = []Margin{}
	}
	data, err := json.Marshal(margins)
	if err != nil {
		return "", fmt.Errorf("marshal margins: %w", err)
	}
	return string(data), nil
}

// unmarshalMargins decodes margins; an empty array yields nil.
func unmarshalMargins(text string) ([]Margin, error) {
	var margins []Margin
	if err := json.Unmarshal([]byte(text), &margins); err != nil {
		return nil, fmt.Errorf("unmarshal margins: %w", err)
	}
	if len(margins) == 0 {
		return nil, nil
	}
	return margins, nil
}
