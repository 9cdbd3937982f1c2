package routing

import (
	"encoding/json"
	"fmt"
)

// Args are the positional arguments of a call. Locally dispatched calls
// carry the caller's Go values unchanged; calls that crossed a process
// boundary carry their JSON decoding (map[string]any, []any, float64, ...).
// Decode reads either form.
type Args []any

// Len returns the number of arguments.
func (a Args) Len() int {
	return len(a)
}

// Value returns argument i or nil when absent.
func (a Args) Value(i int) any {
	if i < 0 || i >= len(a) {
		return nil
	}
	return a[i]
}

// String returns argument i when it is a string.
func (a Args) String(i int) (string, bool) {
	s, ok := a.Value(i).(string)
	return s, ok
}

// Decode converts argument i into out through its JSON form.
func (a Args) Decode(i int, out any) error {
	if i < 0 || i >= len(a) {
		return fmt.Errorf("argument %d missing (have %d)", i, len(a))
	}
	data, err := json.Marshal(a[i])
	if err != nil {
		return fmt.Errorf("encode argument %d: %w", i, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode argument %d: %w", i, err)
	}
	return nil
}

// normalize converts v into plain JSON values so it survives structpb
// encoding.
func normalize(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}
