package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ID is the canonical identifier form used after the data-access boundary.
// The hosted store hands out numeric ids for some tables and string ids for others;
// both decode to the same ID so comparisons stay strict.
type ID string

func NormalizeID(s string) ID {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && isDecimal(s) && f == math.Trunc(f) && math.Abs(f) < 1<<53 {
		return ID(strconv.FormatInt(int64(f), 10))
	}
	return ID(s)
}

func isDecimal(s string) bool {
	for i, r := range s {
		switch {
		case r >= '0' && r <= '9', r == '.':
		case (r == '-' || r == '+') && i == 0:
		default:
			return false
		}
	}
	return true
}

// ParseID normalizes a decoded JSON value (string, float64, json.Number, ints).
func ParseID(v any) ID {
	switch t := v.(type) {
	case nil:
		return ""
	case ID:
		return NormalizeID(string(t))
	case string:
		return NormalizeID(t)
	case json.Number:
		return NormalizeID(t.String())
	case float64:
		return NormalizeID(strconv.FormatFloat(t, 'f', -1, 64))
	case int:
		return ID(strconv.Itoa(t))
	case int64:
		return ID(strconv.FormatInt(t, 10))
	default:
		return NormalizeID(fmt.Sprint(t))
	}
}

func (id ID) String() string { return string(id) }

func (id ID) IsZero() bool { return id == "" }

func (id ID) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(id))
}

func (id *ID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*id = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return fmt.Errorf("id: %w", err)
		}
		*id = NormalizeID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("id: %w", err)
	}
	*id = NormalizeID(n.String())
	return nil
}
