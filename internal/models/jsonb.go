package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// JSONMap is a schema-on-read JSONB column (audit snapshots, webhook
// headers and payloads).
type JSONMap map[string]interface{}

func (m *JSONMap) Scan(value interface{}) error {
	if value == nil {
		*m = nil
		return nil
	}
	var raw []byte
	switch v := value.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("unsupported JSONMap source %T", value)
	}
	if len(raw) == 0 {
		*m = nil
		return nil
	}
	return json.Unmarshal(raw, (*map[string]interface{})(m))
}

func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(map[string]interface{}(m))
}

// StringList is a JSONB array of strings (API key permissions).
type StringList []string

func (l *StringList) Scan(value interface{}) error {
	if value == nil {
		*l = nil
		return nil
	}
	var raw []byte
	switch v := value.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("unsupported StringList source %T", value)
	}
	if len(raw) == 0 {
		*l = nil
		return nil
	}
	return json.Unmarshal(raw, (*[]string)(l))
}

func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return []byte("[]"), nil
	}
	return json.Marshal([]string(l))
}

// ToJSONMap round-trips v through JSON so structs can be stored as audit
// snapshots with their json tags as keys.
func ToJSONMap(v interface{}) JSONMap {
	if v == nil {
		return nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return JSONMap{"marshal_error": err.Error()}
	}
	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return JSONMap{"marshal_error": err.Error()}
	}
	return JSONMap(m)
}
