package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
)

// JSON type for flexible metadata storage
type JSON map[string]interface{}

// NewJSON wraps a plain map as a JSON column value.
func NewJSON(m map[string]interface{}) JSON {
	return JSON(m)
}

// Value implements driver.Valuer.
func (j JSON) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

// Scan implements sql.Scanner.
func (j *JSON) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return errors.New("unsupported type for JSON column")
	}
	return json.Unmarshal(data, j)
}
