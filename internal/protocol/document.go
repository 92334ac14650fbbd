package protocol

import (
	"fmt"
	"math"

	"github.com/bytedance/sonic"
)

// codec matches encoding/json semantics with sorted map keys, so encoded
// responses are byte-for-byte stable.
var codec = sonic.ConfigStd

// Document is a decoded message: string keys mapped to JSON values.
type Document map[string]any

// Decode parses a message body. The top level must be an object; a JSON null
// yields an empty Document.
func Decode(body []byte) (Document, error) {
	var doc Document
	if err := codec.Unmarshal(body, &doc); err != nil {
		return nil, err
	}
	if doc == nil {
		doc = Document{}
	}
	return doc, nil
}

// Encode serializes a document.
func Encode(doc Document) ([]byte, error) {
	if doc == nil {
		doc = Document{}
	}
	data, err := codec.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	return data, nil
}

// Has reports whether key is present, even with a null value.
func (d Document) Has(key string) bool {
	_, ok := d[key]
	return ok
}

// String returns the string at key, or def when absent or not a string.
func (d Document) String(key, def string) string {
	if s, ok := d[key].(string); ok {
		return s
	}
	return def
}

// Bool returns the boolean at key, or def when absent or not a boolean.
func (d Document) Bool(key string, def bool) bool {
	if b, ok := d[key].(bool); ok {
		return b
	}
	return def
}

// Float returns the number at key, or def when absent or not a number.
func (d Document) Float(key string, def float64) float64 {
	switch v := d[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return def
}

// Int returns the number at key truncated toward zero, or def when absent,
// not a number, or outside the int range.
func (d Document) Int(key string, def int) int {
	switch v := d[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		if math.IsNaN(v) || v > math.MaxInt32 || v < math.MinInt32 {
			return def
		}
		return int(v)
	}
	return def
}

// Uint32 is Int for fields that carry unsigned 32-bit values.
func (d Document) Uint32(key string, def uint32) uint32 {
	v := d.Float(key, -1)
	if v < 0 || v > math.MaxUint32 {
		return def
	}
	return uint32(v)
}
