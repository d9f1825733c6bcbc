package cache

import (
	"encoding/json"
	"fmt"
)

// encodeValue stores strings and byte slices verbatim and everything else as JSON,
// so counters stay readable by INCR and redis-cli.
func encodeValue(value interface{}) ([]byte, error) {
	switch v := value.(type) {
	case string:
		return []byte(v), nil
	case []byte:
		return v, nil
	default:
		data, err := json.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("cache encode %T: %w", value, err)
		}
		return data, nil
	}
}

func decodeValue(data []byte, dest interface{}) error {
	switch d := dest.(type) {
	case *string:
		*d = string(data)
		return nil
	case *[]byte:
		*d = append((*d)[:0], data...)
		return nil
	default:
		if err := json.Unmarshal(data, dest); err != nil {
			return fmt.Errorf("cache decode %T: %w", dest, err)
		}
		return nil
	}
}
