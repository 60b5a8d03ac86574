package entity

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// IDList 以 JSON 文本存储的 ID 列表
type IDList []string

func (l IDList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	b, err := json.Marshal([]string(l))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (l *IDList) Scan(value interface{}) error {
	var raw []byte
	switch v := value.(type) {
	case nil:
		*l = IDList{}
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("failed to scan IDList: %v", value)
	}
	if len(raw) == 0 {
		*l = IDList{}
		return nil
	}
	return json.Unmarshal(raw, l)
}

// GormDataType keeps the column portable between postgres and sqlite.
func (IDList) GormDataType() string {
	return "text"
}

// Contains reports whether id is in the list.
func (l IDList) Contains(id string) bool {
	for _, v := range l {
		if v == id {
			return true
		}
	}
	return false
}
