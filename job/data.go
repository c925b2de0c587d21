package job

import (
	"encoding/json"
	"math"
	"sort"
	"strconv"
)

// Reserved bundle keys written by the dispatcher.
const (
	KeyRetryCount           = "Job_retry_count"
	KeyRetryUntil           = "Job_retry_until"
	KeyRequiresMasterSecret = "Job_requires_master_secret"
	KeyRequiresSQLCipher    = "Job_requires_sqlcipher"
)

// Data is the durable key/value bundle a job is rebuilt from. It is
// immutable; use Builder to make one.
//
// Getters coerce between numeric representations so a bundle read back from
// any codec yields the values that were put in.
type Data struct {
	values map[string]any
}

// NewData copies values into a Data. Values should be of the kinds Builder
// produces (integers, floats, bools, strings, string slices).
func NewData(values map[string]any) Data {
	if len(values) == 0 {
		return Data{}
	}
	m := make(map[string]any, len(values))
	for k, v := range values {
		m[k] = v
	}
	return Data{values: m}
}

// Len returns the number of keys.
func (d Data) Len() int { return len(d.values) }

// Has reports whether key is present.
func (d Data) Has(key string) bool {
	_, ok := d.values[key]
	return ok
}

// Keys returns the keys in sorted order.
func (d Data) Keys() []string {
	keys := make([]string, 0, len(d.values))
	for k := range d.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Map returns a copy of the underlying values.
func (d Data) Map() map[string]any {
	m := make(map[string]any, len(d.values))
	for k, v := range d.values {
		m[k] = v
	}
	return m
}

// GetInt returns key as an int, or def when absent or not an integer.
func (d Data) GetInt(key string, def int) int {
	n, ok := toInt64(d.values[key])
	if !ok || n < math.MinInt || n > math.MaxInt {
		return def
	}
	return int(n)
}

// GetInt64 returns key as an int64, or def when absent or not an integer.
func (d Data) GetInt64(key string, def int64) int64 {
	n, ok := toInt64(d.values[key])
	if !ok {
		return def
	}
	return n
}

// GetFloat64 returns key as a float64, or def when absent or not a number.
func (d Data) GetFloat64(key string, def float64) float64 {
	switch v := d.values[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case json.Number:
		if f, err := v.Float64(); err == nil {
			return f
		}
		return def
	}
	if n, ok := toInt64(d.values[key]); ok {
		return float64(n)
	}
	return def
}

// GetBool returns key as a bool, or def when absent or not a bool.
func (d Data) GetBool(key string, def bool) bool {
	if v, ok := d.values[key].(bool); ok {
		return v
	}
	return def
}

// GetString returns key as a string, or def when absent or not a string.
func (d Data) GetString(key, def string) string {
	if v, ok := d.values[key].(string); ok {
		return v
	}
	return def
}

// GetStrings returns key as a string slice, or nil.
func (d Data) GetStrings(key string) []string {
	switch v := d.values[key].(type) {
	case []string:
		out := make([]string, len(v))
		copy(out, v)
		return out
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			s, ok := e.(string)
			if !ok {
				return nil
			}
			out = append(out, s)
		}
		return out
	}
	return nil
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint:
		if uint64(n) > math.MaxInt64 {
			return 0, false
		}
		return int64(n), true
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		if n > math.MaxInt64 {
			return 0, false
		}
		return int64(n), true
	case float32:
		return floatToInt64(float64(n))
	case float64:
		return floatToInt64(n)
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i, true
		}
		if i, err := strconv.ParseFloat(string(n), 64); err == nil {
			return floatToInt64(i)
		}
	}
	return 0, false
}

func floatToInt64(f float64) (int64, bool) {
	if f != math.Trunc(f) || f < math.MinInt64 || f >= math.MaxInt64 {
		return 0, false
	}
	return int64(f), true
}

// Builder accumulates bundle values. The zero value is ready to use.
type Builder struct {
	values map[string]any
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder {
	return &Builder{values: make(map[string]any)}
}

func (b *Builder) put(key string, v any) *Builder {
	if b.values == nil {
		b.values = make(map[string]any)
	}
	b.values[key] = v
	return b
}

// PutInt stores an int.
func (b *Builder) PutInt(key string, v int) *Builder { return b.put(key, int64(v)) }

// PutInt64 stores an int64.
func (b *Builder) PutInt64(key string, v int64) *Builder { return b.put(key, v) }

// PutFloat64 stores a float64.
func (b *Builder) PutFloat64(key string, v float64) *Builder { return b.put(key, v) }

// PutBool stores a bool.
func (b *Builder) PutBool(key string, v bool) *Builder { return b.put(key, v) }

// PutString stores a string.
func (b *Builder) PutString(key, v string) *Builder { return b.put(key, v) }

// PutStrings stores a copy of a string slice.
func (b *Builder) PutStrings(key string, v []string) *Builder {
	cp := make([]string, len(v))
	copy(cp, v)
	return b.put(key, cp)
}

// PutAll copies every entry of d, overwriting existing keys.
func (b *Builder) PutAll(d Data) *Builder {
	for k, v := range d.values {
		b.put(k, v)
	}
	return b
}

// Build returns an immutable snapshot. The builder stays usable.
func (b *Builder) Build() Data {
	return NewData(b.values)
}
