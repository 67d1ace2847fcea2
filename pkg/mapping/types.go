package mapping

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"entitygraph/pkg/identity"

	"github.com/shopspring/decimal"
)

// Type converts a scalar between its runtime and storage forms and decides
// semantic equality for change detection.
type Type interface {
	Name() string
	ToStorage(v any) (any, error)
	ToRuntime(v any) (any, error)
	Equal(a, b any) bool
}

// Comparer is implemented by types that can order values (used for
// collection ordering).
type Comparer interface {
	Compare(a, b any) int
}

// String is unbounded text.
var String Type = textType{}

// Integer maps to int64 at runtime.
var Integer Type = integerType{}

// Boolean maps to bool at runtime.
var Boolean Type = booleanType{}

// Timestamp maps to UTC time.Time at microsecond precision.
var Timestamp Type = timestampType{}

// Identifier maps to identity.ID at runtime and its string form in storage.
var Identifier Type = identifierType{}

// Text is text with a declared maximum length.
func Text(length int) Type { return textType{length: length} }

// Decimal maps to decimal.Decimal at runtime and a fixed-scale string in
// storage. Equality is numeric, so 11 equals 11.00.
func Decimal(scale int32) Type { return decimalType{scale: scale} }

func nilEqual(a, b any) (bool, bool) {
	an, bn := a == nil, b == nil
	if an || bn {
		return an == bn, true
	}
	return false, false
}

type textType struct{ length int }

func (t textType) Name() string {
	if t.length > 0 {
		return "text(" + strconv.Itoa(t.length) + ")"
	}
	return "text"
}

func (t textType) ToStorage(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	s, err := asString(v)
	if err != nil {
		return nil, err
	}
	if t.length > 0 && len([]rune(s)) > t.length {
		return nil, fmt.Errorf("value %q exceeds length %d", s, t.length)
	}
	return s, nil
}

func (textType) ToRuntime(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	return asString(v)
}

func (t textType) Equal(a, b any) bool {
	if eq, ok := nilEqual(a, b); ok {
		return eq
	}
	as, err1 := asString(a)
	bs, err2 := asString(b)
	return err1 == nil && err2 == nil && as == bs
}

func (textType) Compare(a, b any) int {
	as, _ := asString(a)
	bs, _ := asString(b)
	return strings.Compare(as, bs)
}

func asString(v any) (string, error) {
	switch s := v.(type) {
	case string:
		return s, nil
	case []byte:
		return string(s), nil
	case fmt.Stringer:
		return s.String(), nil
	default:
		return "", fmt.Errorf("expected text, got %T", v)
	}
}

type integerType struct{}

func (integerType) Name() string { return "integer" }

func (integerType) ToStorage(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	return asInt64(v)
}

func (integerType) ToRuntime(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	return asInt64(v)
}

func (integerType) Equal(a, b any) bool {
	if eq, ok := nilEqual(a, b); ok {
		return eq
	}
	ai, err1 := asInt64(a)
	bi, err2 := asInt64(b)
	return err1 == nil && err2 == nil && ai == bi
}

func (integerType) Compare(a, b any) int {
	ai, _ := asInt64(a)
	bi, _ := asInt64(b)
	switch {
	case ai < bi:
		return -1
	case ai > bi:
		return 1
	}
	return 0
}

func asInt64(v any) (int64, error) {
	switch n := v.(type) {
	case int:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case int64:
		return n, nil
	case uint32:
		return int64(n), nil
	case float64:
		if n != float64(int64(n)) {
			return 0, fmt.Errorf("expected integer, got %v", n)
		}
		return int64(n), nil
	case string:
		return strconv.ParseInt(n, 10, 64)
	case []byte:
		return strconv.ParseInt(string(n), 10, 64)
	default:
		return 0, fmt.Errorf("expected integer, got %T", v)
	}
}

type booleanType struct{}

func (booleanType) Name() string { return "boolean" }

func (booleanType) ToStorage(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	return asBool(v)
}

func (booleanType) ToRuntime(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	return asBool(v)
}

func (booleanType) Equal(a, b any) bool {
	if eq, ok := nilEqual(a, b); ok {
		return eq
	}
	ab, err1 := asBool(a)
	bb, err2 := asBool(b)
	return err1 == nil && err2 == nil && ab == bb
}

func asBool(v any) (bool, error) {
	switch b := v.(type) {
	case bool:
		return b, nil
	case int64:
		return b != 0, nil
	case int:
		return b != 0, nil
	case string:
		return strconv.ParseBool(b)
	default:
		return false, fmt.Errorf("expected boolean, got %T", v)
	}
}

type decimalType struct{ scale int32 }

func (t decimalType) Name() string { return "decimal(" + strconv.Itoa(int(t.scale)) + ")" }

// ToStorage renders the value at the declared scale.
func (t decimalType) ToStorage(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	d, err := asDecimal(v)
	if err != nil {
		return nil, err
	}
	return d.StringFixed(t.scale), nil
}

// ToRuntime parses the value and rounds it to the declared scale.
func (t decimalType) ToRuntime(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	return t.rounded(v)
}

// Equal compares numerically at the declared scale, the precision the
// column keeps.
func (t decimalType) Equal(a, b any) bool {
	if eq, ok := nilEqual(a, b); ok {
		return eq
	}
	ad, err1 := t.rounded(a)
	bd, err2 := t.rounded(b)
	return err1 == nil && err2 == nil && ad.Equal(bd)
}

func (t decimalType) Compare(a, b any) int {
	ad, _ := t.rounded(a)
	bd, _ := t.rounded(b)
	return ad.Cmp(bd)
}

func (t decimalType) rounded(v any) (decimal.Decimal, error) {
	d, err := asDecimal(v)
	if err != nil {
		return d, err
	}
	return d.Round(t.scale), nil
}

func asDecimal(v any) (decimal.Decimal, error) {
	switch d := v.(type) {
	case decimal.Decimal:
		return d, nil
	case *decimal.Decimal:
		if d == nil {
			return decimal.Zero, fmt.Errorf("expected decimal, got nil pointer")
		}
		return *d, nil
	case string:
		return decimal.NewFromString(d)
	case []byte:
		return decimal.NewFromString(string(d))
	case int:
		return decimal.NewFromInt(int64(d)), nil
	case int64:
		return decimal.NewFromInt(d), nil
	case float64:
		return decimal.NewFromFloat(d), nil
	default:
		return decimal.Zero, fmt.Errorf("expected decimal, got %T", v)
	}
}

type timestampType struct{}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
}

func (timestampType) Name() string { return "timestamp" }

func (timestampType) ToStorage(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	t, err := asTime(v)
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (timestampType) ToRuntime(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	return asTime(v)
}

func (timestampType) Equal(a, b any) bool {
	if eq, ok := nilEqual(a, b); ok {
		return eq
	}
	at, err1 := asTime(a)
	bt, err2 := asTime(b)
	return err1 == nil && err2 == nil && at.Equal(bt)
}

func (timestampType) Compare(a, b any) int {
	at, _ := asTime(a)
	bt, _ := asTime(b)
	return at.Compare(bt)
}

func asTime(v any) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t.UTC().Truncate(time.Microsecond), nil
	case string:
		return parseTime(t)
	case []byte:
		return parseTime(string(t))
	default:
		return time.Time{}, fmt.Errorf("expected timestamp, got %T", v)
	}
}

func parseTime(s string) (time.Time, error) {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC().Truncate(time.Microsecond), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", s)
}

type identifierType struct{}

func (identifierType) Name() string { return "identifier" }

func (identifierType) ToStorage(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	id, err := asID(v)
	if err != nil {
		return nil, err
	}
	if id.IsZero() {
		return nil, nil
	}
	return id.String(), nil
}

func (identifierType) ToRuntime(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	return asID(v)
}

func (identifierType) Equal(a, b any) bool {
	if eq, ok := nilEqual(a, b); ok {
		return eq
	}
	ai, err1 := asID(a)
	bi, err2 := asID(b)
	return err1 == nil && err2 == nil && ai.Equal(bi)
}

func (identifierType) Compare(a, b any) int {
	ai, _ := asID(a)
	bi, _ := asID(b)
	return ai.Compare(bi)
}

func asID(v any) (identity.ID, error) {
	switch id := v.(type) {
	case identity.ID:
		return id, nil
	case string:
		return identity.Parse(id)
	default:
		var out identity.ID
		err := out.Scan(v)
		return out, err
	}
}
