// Package codec provides the textual encodings used for table files.
//
// A table's dataset and tombstone index are each persisted as one whole file
// in the codec's format. Two implementations are provided: pretty-printed
// JSON (the default) and YAML. Both round-trip the value types produced by
// the record package.
package codec

import (
	"bytes"
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// Codec encodes and decodes the in-memory structures persisted to disk.
type Codec interface {
	// Encode serializes v into the codec's textual format.
	Encode(v any) ([]byte, error)
	// Decode deserializes data into v.
	Decode(data []byte, v any) error
	// Ext returns the file extension (without dot) for this format.
	Ext() string
}

// JSON is the default codec: pretty-printed JSON.
var JSON Codec = jsonCodec{}

// YAML encodes as YAML documents.
var YAML Codec = yamlCodec{}

// ByName returns the codec registered under the given name.
func ByName(name string) (Codec, error) {
	switch name {
	case "json", "":
		return JSON, nil
	case "yaml", "yml":
		return YAML, nil
	default:
		return nil, fmt.Errorf("unknown codec %q", name)
	}
}

type jsonCodec struct{}

func (jsonCodec) Encode(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode json: %w", err)
	}
	var out bytes.Buffer
	if err := json.Indent(&out, data, "", "  "); err != nil {
		return nil, fmt.Errorf("failed to indent json: %w", err)
	}
	out.WriteByte('\n')
	return out.Bytes(), nil
}

func (jsonCodec) Decode(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to decode json: %w", err)
	}
	return nil
}

func (jsonCodec) Ext() string {
	return "json"
}

type yamlCodec struct{}

func (yamlCodec) Encode(v any) ([]byte, error) {
	data, err := yaml.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode yaml: %w", err)
	}
	return data, nil
}

func (yamlCodec) Decode(data []byte, v any) error {
	if err := yaml.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to decode yaml: %w", err)
	}
	return nil
}

func (yamlCodec) Ext() string {
	return "yaml"
}
