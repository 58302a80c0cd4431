package feed

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// The types below decode loosely-shaped feed payloads. Their UnmarshalJSON
// methods never return an error: a missing or wrong-typed value simply
// decodes as "no information".

var (
	jsonNull = []byte("null")
	zero     = decimal.Zero
)

// Number is an optional decimal. It accepts JSON numbers and numeric strings.
type Number struct {
	decimal.NullDecimal
}

// UnmarshalJSON implements json.Unmarshaler.
func (n *Number) UnmarshalJSON(data []byte) error {
	n.NullDecimal = decimal.NullDecimal{}
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, jsonNull) {
		return nil
	}

	var raw string
	switch data[0] {
	case '"':
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil
		}
		raw = strings.TrimSpace(raw)
	case '-', '0', '1', '2', '3', '4', '5', '6', '7', '8', '9':
		raw = string(data)
	default:
		return nil
	}

	if d, err := decimal.NewFromString(raw); err == nil {
		n.NullDecimal = decimal.NewNullDecimal(d)
	}
	return nil
}

// Or returns the value, or def when absent.
func (n Number) Or(def decimal.Decimal) decimal.Decimal {
	if n.Valid {
		return n.Decimal
	}
	return def
}

// Text is an optional string. JSON numbers and booleans are rendered as text.
type Text string

// UnmarshalJSON implements json.Unmarshaler.
func (t *Text) UnmarshalJSON(data []byte) error {
	*t = ""
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil
	}
	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err == nil {
			*t = Text(s)
		}
	case 't', 'f':
		if b, err := strconv.ParseBool(string(data)); err == nil {
			*t = Text(strconv.FormatBool(b))
		}
	case 'n', '[', '{':
	default:
		var num json.Number
		if err := json.Unmarshal(data, &num); err == nil {
			*t = Text(num.String())
		}
	}
	return nil
}

// String returns the trimmed text.
func (t Text) String() string {
	return strings.TrimSpace(string(t))
}

// Ticker returns the text as a canonical uppercase symbol.
func (t Text) Ticker() string {
	return strings.ToUpper(t.String())
}

// Flag is a boolean that is true only for a literal JSON true.
type Flag bool

// UnmarshalJSON implements json.Unmarshaler.
func (f *Flag) UnmarshalJSON(data []byte) error {
	*f = Flag(bytes.Equal(bytes.TrimSpace(data), []byte("true")))
	return nil
}

// List is an optional array. Besides a JSON array it accepts a string holding
// a JSON-encoded array, which is how the store returns text columns.
// Elements that fail to decode as T are skipped.
type List[T any] struct {
	Items   []T
	Present bool
}

// UnmarshalJSON implements json.Unmarshaler.
func (l *List[T]) UnmarshalJSON(data []byte) error {
	l.Items, l.Present = nil, false

	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var inner string
		if err := json.Unmarshal(data, &inner); err != nil {
			return nil
		}
		data = bytes.TrimSpace([]byte(inner))
	}
	if len(data) == 0 || data[0] != '[' {
		return nil
	}

	var elems []json.RawMessage
	if err := json.Unmarshal(data, &elems); err != nil {
		return nil
	}

	l.Present = true
	l.Items = make([]T, 0, len(elems))
	for _, raw := range elems {
		var item T
		if err := json.Unmarshal(raw, &item); err != nil {
			continue
		}
		l.Items = append(l.Items, item)
	}
	return nil
}
