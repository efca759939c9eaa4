// Package phpser decodes PHP serialize() output, the storage format of the
// legacy BLOB columns.
//
// Decoded values are nil, bool, int64, float64, string, *Array and *Object.
// Arrays keep their insertion order.
package phpser

import (
	"strconv"
)

// Entry is one key/value pair of an Array. Key is an int64 or a string.
type Entry struct {
	Key   any
	Value any
}

// Array is an ordered PHP array.
type Array struct {
	Entries []Entry
}

// Len returns the number of entries.
func (a *Array) Len() int { return len(a.Entries) }

// Get returns the value stored under key. Integer keys may be given as any
// Go integer type or as their decimal string.
func (a *Array) Get(key any) (any, bool) {
	k := normalizeKey(key)
	for _, e := range a.Entries {
		if e.Key == k {
			return e.Value, true
		}
	}
	return nil, false
}

// IsList reports whether the keys are exactly 0..n-1 in order.
func (a *Array) IsList() bool {
	for i, e := range a.Entries {
		if k, ok := e.Key.(int64); !ok || k != int64(i) {
			return false
		}
	}
	return true
}

// Values returns the values in order.
func (a *Array) Values() []any {
	out := make([]any, len(a.Entries))
	for i, e := range a.Entries {
		out[i] = e.Value
	}
	return out
}

// Object is a serialized PHP object: a class name and its properties.
type Object struct {
	Class string
	Array
}

func normalizeKey(key any) any {
	switch k := key.(type) {
	case int:
		return int64(k)
	case int32:
		return int64(k)
	case int64:
		return k
	case uint:
		return int64(k)
	case string:
		// PHP stores canonical decimal string keys as integers.
		if n, err := strconv.ParseInt(k, 10, 64); err == nil && strconv.FormatInt(n, 10) == k {
			return n
		}
		return k
	default:
		return key
	}
}

// KeyString renders an array key the way PHP prints it.
func KeyString(key any) string {
	switch k := key.(type) {
	case int64:
		return strconv.FormatInt(k, 10)
	case string:
		return k
	default:
		return ""
	}
}

// String renders scalar PHP values as PHP's string conversion would. Arrays
// and objects yield "".
func String(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case bool:
		if x {
			return "1"
		}
		return ""
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case string:
		return x
	default:
		return ""
	}
}
