package postgres

import (
	"encoding/json"

	"github.com/lib/pq"
)

func marshalJSON(v interface{}) ([]byte, error) {
	if v == nil {
		return []byte("null"), nil
	}
	return json.Marshal(v)
}

func unmarshalJSON(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}

// pqStringArray adapts a []string for use with ANY($n) via lib/pq's array
// support, the same idiom the teacher reaches for with decimal/uuid scans.
func pqStringArray(values []string) interface{} {
	return pq.Array(values)
}
