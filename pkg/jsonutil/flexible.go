// Package jsonutil parses connection payloads whose scalar fields arrive with
// inconsistent JSON types (ports as strings, booleans as "1", and so on).
package jsonutil

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

func isNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || string(trimmed) == "null"
}

// FlexibleStringValue converts a json.RawMessage to a string, accepting numbers and
// booleans as well. Returns empty string for null/empty.
func FlexibleStringValue(raw json.RawMessage) string {
	if isNull(raw) {
		return ""
	}

	var strVal string
	if err := json.Unmarshal(raw, &strVal); err == nil {
		return strVal
	}

	var numVal float64
	if err := json.Unmarshal(raw, &numVal); err == nil {
		if numVal == float64(int64(numVal)) {
			return strconv.FormatInt(int64(numVal), 10)
		}
		return strconv.FormatFloat(numVal, 'g', -1, 64)
	}

	var boolVal bool
	if err := json.Unmarshal(raw, &boolVal); err == nil {
		return strconv.FormatBool(boolVal)
	}

	return string(raw)
}

// FlexibleIntValue parses a number or a numeric string. Null yields 0.
func FlexibleIntValue(raw json.RawMessage) (int, error) {
	s := strings.TrimSpace(FlexibleStringValue(raw))
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("expected an integer, got %s", string(raw))
	}
	return n, nil
}

// FlexibleBoolValue parses true/false, 1/0, "yes"/"no". Null yields nil.
func FlexibleBoolValue(raw json.RawMessage) (*bool, error) {
	s := strings.ToLower(strings.TrimSpace(FlexibleStringValue(raw)))
	if s == "" {
		return nil, nil
	}
	var v bool
	switch s {
	case "true", "1", "yes", "on":
		v = true
	case "false", "0", "no", "off":
		v = false
	default:
		return nil, fmt.Errorf("expected a boolean, got %s", string(raw))
	}
	return &v, nil
}

// EmbeddedDocument returns the text of a JSON document that may be sent either
// inline (an object) or encoded as a string. The result is not validated.
func EmbeddedDocument(raw json.RawMessage) string {
	if isNull(raw) {
		return ""
	}
	trimmed := bytes.TrimSpace(raw)
	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err == nil {
			return s
		}
	}
	return string(trimmed)
}
