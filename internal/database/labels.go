package database

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
)

// Labels stores an event's label map as a JSON text column
type Labels map[string]string

// Scan implements the sql.Scanner interface
func (l *Labels) Scan(value interface{}) error {
	switch v := value.(type) {
	case nil:
		*l = make(Labels)
		return nil
	case []byte:
		return json.Unmarshal(v, l)
	case string:
		return json.Unmarshal([]byte(v), l)
	default:
		return errors.New("labels: unsupported column type")
	}
}

// Value implements the driver.Valuer interface
func (l Labels) Value() (driver.Value, error) {
	if l == nil {
		return nil, nil
	}
	b, err := json.Marshal(l)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}
