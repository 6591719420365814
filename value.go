package wirehome

import (
	"encoding/json"
	"fmt"
	"reflect"
)

// Value is a dynamically typed setting or status value. It is restricted to
// JSON shapes: nil, bool, float64, string, []interface{} and
// map[string]interface{}. Values read from storage or the HTTP API already
// arrive in this form; values produced by Go code are normalized before they
// are stored or compared.
type Value = interface{}

// NormalizeValue converts an arbitrary serializable value into its canonical
// JSON shape (numbers become float64, structs and typed maps become
// map[string]interface{}). It returns an error when the value cannot be
// represented as JSON.
func NormalizeValue(v Value) (Value, error) {
	if v == nil {
		return nil, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("normalize value: %w", err)
	}
	var out Value
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("normalize value: %w", err)
	}
	return out, nil
}

// ValuesEqual reports deep equality of two values after normalization, so
// int(50) equals float64(50) and a struct equals the map it marshals to.
func ValuesEqual(a, b Value) bool {
	na, errA := NormalizeValue(a)
	nb, errB := NormalizeValue(b)
	if errA != nil || errB != nil {
		return reflect.DeepEqual(a, b)
	}
	return reflect.DeepEqual(na, nb)
}

// CloneValue returns a deep copy of the value in normalized form. Non
// serializable values are returned as-is.
func CloneValue(v Value) Value {
	nv, err := NormalizeValue(v)
	if err != nil {
		return v
	}
	return nv
}

// CloneValueMap returns a deep copy of a value map. A nil input yields an
// empty, non-nil map so callers can mutate the result directly.
func CloneValueMap(m map[string]Value) map[string]Value {
	out := make(map[string]Value, len(m))
	for k, v := range m {
		out[k] = CloneValue(v)
	}
	return out
}
