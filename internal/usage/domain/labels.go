package domain

import (
	"encoding/json"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Labels is the schemaless key/value payload attached to metric points. It is persisted as a JSON
// text blob; callers read it only through the accessors below.
type Labels map[string]string

// Get returns the value of the first key in keys that is present and non-empty.
func (l Labels) Get(keys ...string) string {
	for _, k := range keys {
		if v, ok := l[k]; ok && v != "" {
			return v
		}
	}
	return ""
}

// Int returns the first alias parsed as an integer. Float strings are truncated. ok is false when none
// parse or the value does not fit in an int64.
func (l Labels) Int(keys ...string) (int64, bool) {
	for _, k := range keys {
		v := strings.TrimSpace(l[k])
		if v == "" {
			continue
		}
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n, true
		}
		if f, err := strconv.ParseFloat(v, 64); err == nil && f >= math.MinInt64 && f < math.MaxInt64 {
			return int64(f), true
		}
	}
	return 0, false
}

// Float returns the first alias parsed as a float. ok is false when none parse.
func (l Labels) Float(keys ...string) (float64, bool) {
	for _, k := range keys {
		v := strings.TrimSpace(l[k])
		if v == "" {
			continue
		}
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f, true
		}
	}
	return 0, false
}

// Bool returns the first alias parsed as a bool ("true", "1", "yes" are true). ok is false when none parse.
func (l Labels) Bool(keys ...string) (bool, bool) {
	for _, k := range keys {
		switch strings.ToLower(strings.TrimSpace(l[k])) {
		case "true", "1", "yes", "success", "ok":
			return true, true
		case "false", "0", "no", "failure", "error":
			return false, true
		}
	}
	return false, false
}

// Keys returns the label keys sorted.
func (l Labels) Keys() []string {
	keys := make([]string, 0, len(l))
	for k := range l {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// EncodeLabels serializes labels for storage. nil encodes as "{}".
func EncodeLabels(l Labels) (string, error) {
	if len(l) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(map[string]string(l))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// DecodeLabels parses a stored label blob. Empty input yields empty labels.
func DecodeLabels(s string) (Labels, error) {
	out := Labels{}
	if strings.TrimSpace(s) == "" {
		return out, nil
	}
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil, err
	}
	return out, nil
}
