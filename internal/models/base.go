package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Variables represents a JSON object for storing arbitrary document fields
type Variables map[string]interface{}

// Value implements driver.Valuer interface
func (v Variables) Value() (driver.Value, error) {
	if v == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(v)
}

// Scan implements sql.Scanner interface
func (v *Variables) Scan(value interface{}) error {
	if value == nil {
		*v = make(Variables)
		return nil
	}

	switch data := value.(type) {
	case []byte:
		return json.Unmarshal(data, v)
	case string:
		return json.Unmarshal([]byte(data), v)
	default:
		return fmt.Errorf("unsupported variables type %T", value)
	}
}

// Lookup resolves a dotted field path ("metadata.processedAt") inside the object.
func (v Variables) Lookup(path string) (interface{}, bool) {
	var cur interface{} = map[string]interface{}(v)
	for _, part := range strings.Split(path, ".") {
		m, ok := asMap(cur)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// String returns the string stored at path, or "" when absent or not a string.
func (v Variables) String(path string) string {
	raw, ok := v.Lookup(path)
	if !ok {
		return ""
	}
	s, _ := raw.(string)
	return s
}

// Time returns the timestamp stored at path. Both time.Time values and
// RFC3339 strings are accepted.
func (v Variables) Time(path string) (time.Time, bool) {
	raw, ok := v.Lookup(path)
	if !ok {
		return time.Time{}, false
	}
	switch t := raw.(type) {
	case time.Time:
		return t, true
	case string:
		parsed, err := time.Parse(time.RFC3339Nano, t)
		if err != nil {
			return time.Time{}, false
		}
		return parsed, true
	}
	return time.Time{}, false
}

func asMap(v interface{}) (map[string]interface{}, bool) {
	switch m := v.(type) {
	case map[string]interface{}:
		return m, true
	case Variables:
		return m, true
	}
	return nil, false
}

// Document is a single record of a collection in the document store.
type Document struct {
	Collection string    `json:"collection" db:"collection"`
	ID         string    `json:"id" db:"id"`
	CreatedAt  time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt  time.Time `json:"updatedAt" db:"updated_at"`
	Data       Variables `json:"data" db:"data"`
}

// Ref returns the document's address.
func (d *Document) Ref() DocRef {
	return DocRef{Collection: d.Collection, ID: d.ID}
}

// DocRef addresses a document.
type DocRef struct {
	Collection string `json:"collection"`
	ID         string `json:"id"`
}

func (r DocRef) String() string {
	return r.Collection + "/" + r.ID
}
