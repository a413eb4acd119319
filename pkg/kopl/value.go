// Package kopl defines the typed vocabulary shared by every query primitive:
// typed scalar values, provenance triples and the two shapes of entity sets.
package kopl

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	kerrors "github.com/jllopis/kopl/pkg/errors"
)

// ValueType tags the variant held by a Value.
type ValueType string

const (
	TypeString   ValueType = "string"
	TypeQuantity ValueType = "quantity"
	TypeYear     ValueType = "year"
	TypeDate     ValueType = "date"
)

// Dimensionless is the unit carried by quantities without a unit.
const Dimensionless = "1"

const dateLayout = "2006-01-02"

// Value is a typed scalar: a string, a quantity with an optional unit, a year
// or a calendar date. The zero Value is the empty string.
type Value struct {
	Type ValueType
	Str  string
	Num  float64
	Unit string
	Year int
	Date time.Time
}

// String builds a string value.
func String(s string) Value { return Value{Type: TypeString, Str: s} }

// Quantity builds a numeric value. An empty unit is stored as given; the
// comparison Policy decides whether it equals Dimensionless.
func Quantity(n float64, unit string) Value {
	return Value{Type: TypeQuantity, Num: n, Unit: unit}
}

// Year builds a year value.
func Year(y int) Value { return Value{Type: TypeYear, Year: y} }

// Date builds a date value truncated to the calendar day in UTC.
func Date(t time.Time) Value {
	y, m, d := t.Date()
	return Value{Type: TypeDate, Date: time.Date(y, m, d, 0, 0, 0, 0, time.UTC)}
}

// MustDate parses an ISO date and panics on error. Intended for fixtures.
func MustDate(s string) Value {
	v, err := ParseValue(TypeDate, s)
	if err != nil {
		panic(err)
	}
	return v
}

func (v Value) kind() ValueType {
	if v.Type == "" {
		return TypeString
	}
	return v.Type
}

// String renders the value the way answers are written: integral quantities
// without a fraction, the unit appended unless dimensionless, ISO dates.
func (v Value) String() string {
	switch v.kind() {
	case TypeQuantity:
		num := FormatNumber(v.Num, DefaultPolicy.Tolerance)
		if v.Unit == "" || v.Unit == Dimensionless {
			return num
		}
		return num + " " + v.Unit
	case TypeYear:
		return strconv.Itoa(v.Year)
	case TypeDate:
		return v.Date.Format(dateLayout)
	default:
		return v.Str
	}
}

// FormatNumber prints n as an integer when it is within tol of one.
func FormatNumber(n, tol float64) string {
	if math.Abs(n-math.Round(n)) < tol {
		return strconv.FormatInt(int64(math.Round(n)), 10)
	}
	return strconv.FormatFloat(n, 'f', -1, 64)
}

// ParseValue parses a literal argument as the given type. Quantities are
// written "<number> [unit]"; years "YYYY"; dates "YYYY-MM-DD".
func ParseValue(typ ValueType, s string) (Value, error) {
	s = strings.TrimSpace(s)
	switch typ {
	case TypeString, "":
		return String(s), nil
	case TypeQuantity:
		num, unit, _ := strings.Cut(s, " ")
		n, err := strconv.ParseFloat(num, 64)
		if err != nil {
			return Value{}, kerrors.New(kerrors.CodeInvalidInput, fmt.Sprintf("invalid number %q", s), err)
		}
		return Quantity(n, strings.TrimSpace(unit)), nil
	case TypeYear:
		if y, err := strconv.Atoi(s); err == nil {
			return Year(y), nil
		}
		if d, err := parseDate(s); err == nil {
			return Year(d.Year()), nil
		}
		return Value{}, kerrors.Newf(kerrors.CodeInvalidInput, "invalid year %q", s)
	case TypeDate:
		d, err := parseDate(s)
		if err != nil {
			return Value{}, kerrors.New(kerrors.CodeInvalidInput, fmt.Sprintf("invalid date %q", s), err)
		}
		return Date(d), nil
	default:
		return Value{}, kerrors.Newf(kerrors.CodeInvalidInput, "unknown value type %q", typ)
	}
}

// ParseLike parses s as the same type as ref.
func ParseLike(ref Value, s string) (Value, error) {
	return ParseValue(ref.kind(), s)
}

func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse(dateLayout, s); err == nil {
		return t, nil
	}
	return time.Parse("2006-1-2", s)
}

type valueJSON struct {
	Type  ValueType       `json:"type"`
	Value json.RawMessage `json:"value"`
	Unit  string          `json:"unit,omitempty"`
}

// MarshalJSON encodes the value in the knowledge-base wire shape
// {"type": ..., "value": ..., "unit": ...}.
func (v Value) MarshalJSON() ([]byte, error) {
	var raw any
	switch v.kind() {
	case TypeQuantity:
		raw = v.Num
	case TypeYear:
		raw = v.Year
	case TypeDate:
		raw = v.Date.Format(dateLayout)
	default:
		raw = v.Str
	}
	payload, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	out := valueJSON{Type: v.kind(), Value: payload}
	if v.kind() == TypeQuantity {
		out.Unit = v.Unit
	}
	return json.Marshal(out)
}

// UnmarshalJSON accepts the typed object form, a bare JSON string (string
// value) or a bare number (quantity without a unit). Units are kept as
// written.
func (v *Value) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	switch {
	case strings.HasPrefix(trimmed, `"`):
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = String(s)
		return nil
	case strings.HasPrefix(trimmed, "{"):
	default:
		var n float64
		if err := json.Unmarshal(data, &n); err != nil {
			return fmt.Errorf("kopl value: unsupported JSON %s", trimmed)
		}
		*v = Quantity(n, "")
		return nil
	}

	var in valueJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	switch in.Type {
	case TypeString, "":
		var s string
		if err := json.Unmarshal(in.Value, &s); err != nil {
			return fmt.Errorf("kopl value: string: %w", err)
		}
		*v = String(s)
	case TypeQuantity:
		n, err := numberOrString(in.Value)
		if err != nil {
			return fmt.Errorf("kopl value: quantity: %w", err)
		}
		*v = Quantity(n, in.Unit)
	case TypeYear:
		n, err := numberOrString(in.Value)
		if err != nil {
			return fmt.Errorf("kopl value: year: %w", err)
		}
		*v = Year(int(n))
	case TypeDate:
		var s string
		if err := json.Unmarshal(in.Value, &s); err != nil {
			return fmt.Errorf("kopl value: date: %w", err)
		}
		d, err := parseDate(s)
		if err != nil {
			return fmt.Errorf("kopl value: date: %w", err)
		}
		*v = Date(d)
	default:
		return fmt.Errorf("kopl value: unknown type %q", in.Type)
	}
	return nil
}

func numberOrString(raw json.RawMessage) (float64, error) {
	var n float64
	if err := json.Unmarshal(raw, &n); err == nil {
		return n, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, err
	}
	return strconv.ParseFloat(strings.TrimSpace(s), 64)
}
