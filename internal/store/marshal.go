package store

import (
	"encoding/json"
	"fmt"

	"github.com/roach88/stablecall/internal/ir"
)

// marshalSpec converts a ModuleSpec to JSON TEXT for storage.
func marshalSpec(spec ir.ModuleSpec) (string, error) {
	data, err := json.Marshal(spec)
	if err != nil {
		return "", fmt.Errorf("marshal spec: %w", err)
	}
	return string(data), nil
}

// unmarshalSpec converts JSON TEXT from the database back to a ModuleSpec.
func unmarshalSpec(data string) (ir.ModuleSpec, error) {
	var spec ir.ModuleSpec
	if err := json.Unmarshal([]byte(data), &spec); err != nil {
		return ir.ModuleSpec{}, fmt.Errorf("unmarshal spec: %w", err)
	}
	return spec, nil
}

// marshalEventData converts an event payload to canonical JSON TEXT.
// Canonical form keeps stored audit rows byte-identical across runs.
func marshalEventData(data ir.Object) (string, error) {
	if data == nil {
		data = ir.Object{}
	}
	out, err := ir.MarshalCanonical(data)
	if err != nil {
		return "", fmt.Errorf("marshal event data: %w", err)
	}
	return string(out), nil
}

// unmarshalEventData converts JSON TEXT from the database back to an Object.
func unmarshalEventData(data string) (ir.Object, error) {
	var obj ir.Object
	if err := json.Unmarshal([]byte(data), &obj); err != nil {
		return nil, fmt.Errorf("unmarshal event data: %w", err)
	}
	return obj, nil
}
