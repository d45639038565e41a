package workflow

import (
	"encoding/json"

	"gopkg.in/yaml.v3"
)

// RawValue holds an opaque JSON-encoded value: a state-schema fragment, a
// param default, a matrix value, or a step's template inputs/action config.
// It must round-trip through both JSON and hand-authored YAML unchanged.
// A bare json.RawMessage cannot do that: yaml.v3 has no notion of
// json.RawMessage and falls back to treating it as a []byte, so an ordinary
// YAML scalar like "us-east" decodes to the raw bytes "us-east" instead of
// the JSON string "\"us-east\"", and nested mappings/sequences fail to
// decode at all. RawValue always stores its value as JSON bytes internally
// and converts through a YAML node at the YAML boundary, so every other
// consumer in this module keeps treating it as opaque JSON.
type RawValue []byte

// MarshalJSON renders v as-is; RawValue is already JSON.
func (v RawValue) MarshalJSON() ([]byte, error) {
	if len(v) == 0 {
		return []byte("null"), nil
	}
	return []byte(v), nil
}

// UnmarshalJSON stores data verbatim, same as json.RawMessage.
func (v *RawValue) UnmarshalJSON(data []byte) error {
	*v = append((*v)[0:0], data...)
	return nil
}

// MarshalYAML decodes the stored JSON back into a plain Go value so yaml.v3
// encodes it as native YAML (a mapping, sequence, or scalar) rather than a
// base64 byte blob.
func (v RawValue) MarshalYAML() (any, error) {
	if len(v) == 0 {
		return nil, nil
	}
	var decoded any
	if err := json.Unmarshal(v, &decoded); err != nil {
		return nil, err
	}
	return decoded, nil
}

// UnmarshalYAML decodes node into a plain Go value and re-encodes it as
// JSON. yaml.v3 decodes mappings into map[string]interface{} (unlike v2's
// map[interface{}]interface{}), which is already JSON-marshalable without
// any key-type fixup.
func (v *RawValue) UnmarshalYAML(node *yaml.Node) error {
	if node.Tag == "!!null" {
		*v = nil
		return nil
	}
	var decoded any
	if err := node.Decode(&decoded); err != nil {
		return err
	}
	encoded, err := json.Marshal(decoded)
	if err != nil {
		return err
	}
	*v = encoded
	return nil
}
