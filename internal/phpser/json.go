package phpser

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
)

// ToJSON encodes a decoded value. Lists become JSON arrays; other arrays
// become objects with their keys in insertion order. Objects carry their
// class name under "__class". Non-finite floats encode as null.
func ToJSON(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := writeJSON(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeJSON(buf *bytes.Buffer, v any) error {
	switch x := v.(type) {
	case nil:
		buf.WriteString("null")
	case bool, int64, string:
		return writeScalar(buf, x)
	case float64:
		if math.IsInf(x, 0) || math.IsNaN(x) {
			buf.WriteString("null")
			return nil
		}
		return writeScalar(buf, x)
	case *Array:
		if x.IsList() {
			return writeList(buf, x)
		}
		return writeObject(buf, "", x)
	case *Object:
		return writeObject(buf, x.Class, &x.Array)
	default:
		return fmt.Errorf("phpser: cannot encode %T", v)
	}
	return nil
}

func writeList(buf *bytes.Buffer, a *Array) error {
	buf.WriteByte('[')
	for i, e := range a.Entries {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := writeJSON(buf, e.Value); err != nil {
			return err
		}
	}
	buf.WriteByte(']')
	return nil
}

func writeObject(buf *bytes.Buffer, class string, a *Array) error {
	buf.WriteByte('{')
	first := true
	if class != "" {
		buf.WriteString(`"__class":`)
		if err := writeScalar(buf, class); err != nil {
			return err
		}
		first = false
	}
	for _, e := range a.Entries {
		if !first {
			buf.WriteByte(',')
		}
		first = false
		if err := writeScalar(buf, KeyString(e.Key)); err != nil {
			return err
		}
		buf.WriteByte(':')
		if err := writeJSON(buf, e.Value); err != nil {
			return err
		}
	}
	buf.WriteByte('}')
	return nil
}

// writeScalar encodes without HTML escaping so markup in menu text survives.
func writeScalar(buf *bytes.Buffer, v any) error {
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return err
	}
	// Encode appends a newline.
	buf.Truncate(buf.Len() - 1)
	return nil
}
