package statesync

import (
	"bytes"
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// Serializer converts state values to stored bytes and back. Deserialize
// reports ok=false with a nil error when raw holds no prior state.
type Serializer interface {
	Serialize(value any) ([]byte, error)
	Deserialize(raw []byte) (value any, ok bool, err error)
}

// JSONSerializer is the default text encoding.
type JSONSerializer struct{}

func (JSONSerializer) Serialize(value any) ([]byte, error) {
	return json.Marshal(value)
}

func (JSONSerializer) Deserialize(raw []byte) (any, bool, error) {
	trimmed := bytes.TrimSpace(raw)
	if isAbsentText(trimmed) {
		return nil, false, nil
	}
	var out any
	if err := json.Unmarshal(trimmed, &out); err != nil {
		return nil, false, err
	}
	return out, true, nil
}

// YAMLSerializer stores records as YAML documents.
type YAMLSerializer struct{}

func (YAMLSerializer) Serialize(value any) ([]byte, error) {
	return yaml.Marshal(value)
}

func (YAMLSerializer) Deserialize(raw []byte) (any, bool, error) {
	trimmed := bytes.TrimSpace(raw)
	if isAbsentText(trimmed) || bytes.Equal(trimmed, []byte("~")) {
		return nil, false, nil
	}
	var out any
	if err := yaml.Unmarshal(trimmed, &out); err != nil {
		return nil, false, err
	}
	if out == nil {
		return nil, false, nil
	}
	return normalizeYAML(out), true, nil
}

// SerializerFuncs adapts a pair of functions. A nil Encode or Decode falls
// back to JSON.
type SerializerFuncs struct {
	Encode func(value any) ([]byte, error)
	Decode func(raw []byte) (any, bool, error)
}

func (s SerializerFuncs) Serialize(value any) ([]byte, error) {
	if s.Encode == nil {
		return JSONSerializer{}.Serialize(value)
	}
	return s.Encode(value)
}

func (s SerializerFuncs) Deserialize(raw []byte) (any, bool, error) {
	if s.Decode == nil {
		return JSONSerializer{}.Deserialize(raw)
	}
	if len(raw) == 0 {
		return nil, false, nil
	}
	return s.Decode(raw)
}

// SerializerByName resolves the serializer names accepted in config files.
func SerializerByName(name string) (Serializer, error) {
	switch name {
	case "", "json":
		return JSONSerializer{}, nil
	case "yaml", "yml":
		return YAMLSerializer{}, nil
	default:
		return nil, fmt.Errorf("unknown serializer %q", name)
	}
}

func isAbsentText(raw []byte) bool {
	return len(raw) == 0 || bytes.Equal(raw, []byte("null")) || bytes.Equal(raw, []byte("undefined"))
}

// normalizeYAML turns map[any]any nodes (non-string keys) into
// map[string]any so dotted-path lookups work on YAML records.
func normalizeYAML(value any) any {
	switch v := value.(type) {
	case map[string]any:
		for key, item := range v {
			v[key] = normalizeYAML(item)
		}
		return v
	case map[any]any:
		out := make(map[string]any, len(v))
		for key, item := range v {
			out[fmt.Sprint(key)] = normalizeYAML(item)
		}
		return out
	case []any:
		for i, item := range v {
			v[i] = normalizeYAML(item)
		}
		return v
	default:
		return v
	}
}
