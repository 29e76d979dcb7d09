package utils

import (
	"bytes"
	"encoding/json"
	"fmt"
)

func ToRawMessage(v interface{}) (json.RawMessage, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal struct to JSON: %w", err)
	}
	return json.RawMessage(data), nil
}

// DecodeStrict unmarshals body into a T, rejecting unknown fields and trailing data.
func DecodeStrict[T any](body []byte) (T, error) {
	var out T
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&out); err != nil {
		return out, fmt.Errorf("failed to unmarshal JSON: %w", err)
	}
	if dec.More() {
		return out, fmt.Errorf("failed to unmarshal JSON: trailing data")
	}
	return out, nil
}
