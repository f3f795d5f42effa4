package record

import (
	"encoding/json"
	"fmt"
)

// Raw column coercion. The sqlite driver hands back int64, string,
// []byte, bool, or nil depending on storage class; constructors go
// through these instead of asserting driver types directly.

func colInt64(v any) (int64, error) {
	switch x := v.(type) {
	case int64:
		return x, nil
	case int:
		return int64(x), nil
	case bool:
		if x {
			return 1, nil
		}
		return 0, nil
	default:
		return 0, fmt.Errorf("%w: want integer, got %T", ErrColumnType, v)
	}
}

func colString(v any) (string, error) {
	switch x := v.(type) {
	case string:
		return x, nil
	case []byte:
		return string(x), nil
	case nil:
		return "", nil
	default:
		return "", fmt.Errorf("%w: want text, got %T", ErrColumnType, v)
	}
}

func colBool(v any) (bool, error) {
	switch x := v.(type) {
	case bool:
		return x, nil
	case int64:
		return x != 0, nil
	case int:
		return x != 0, nil
	default:
		return false, fmt.Errorf("%w: want boolean, got %T", ErrColumnType, v)
	}
}

// colRef reads a nullable foreign reference. NULL maps to 0.
func colRef(v any) (int64, error) {
	if v == nil {
		return 0, nil
	}
	return colInt64(v)
}

// colJSON decodes a structured text column into dst. NULL and the empty
// string leave dst at its zero value.
func colJSON(v any, dst any) error {
	s, err := colString(v)
	if err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(s), dst); err != nil {
		return fmt.Errorf("%w: decoding json column: %v", ErrColumnType, err)
	}
	return nil
}
