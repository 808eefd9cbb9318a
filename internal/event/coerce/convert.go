package coerce

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

// decimalIntegerDigits is the number of digits allowed before the decimal point by the destination numeric(18,2) column.
const decimalIntegerDigits = 16

// dateLayouts are the accepted date formats, tried in order. Layouts without a zone are read as UTC.
var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

var errUnsupportedType = errors.New("unsupported value type")

// String copies non empty JSON strings. Any other value has no value.
func String(v any) pgtype.Text {
	s, ok := v.(string)
	if !ok || s == "" {
		return pgtype.Text{}
	}
	return pgtype.Text{String: s, Valid: true}
}

// Bool accepts JSON booleans and the case insensitive "true" and "false" strings.
// Any other value has no value.
func Bool(v any) pgtype.Bool {
	switch v := v.(type) {
	case bool:
		return pgtype.Bool{Bool: v, Valid: true}
	case string:
		switch {
		case strings.EqualFold(v, "true"):
			return pgtype.Bool{Bool: true, Valid: true}
		case strings.EqualFold(v, "false"):
			return pgtype.Bool{Bool: false, Valid: true}
		}
	}
	return pgtype.Bool{}
}

// GUID accepts the canonical 8-4-4-4-12 hexadecimal form, in any case.
// Any other value has no value.
func GUID(v any) pgtype.UUID {
	s, ok := v.(string)
	if !ok || len(s) != 36 {
		return pgtype.UUID{}
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return pgtype.UUID{}
	}
	return pgtype.UUID{Bytes: id, Valid: true}
}

// Decimal converts JSON numbers and numeric strings.
// Absent, null and empty values have no value without error.
func Decimal(v any) (pgtype.Numeric, error) {
	s, err := numberText(v)
	if err != nil || s == "" {
		return pgtype.Numeric{}, err
	}

	if strings.ContainsAny(s, "eE") {
		f, err := strconv.ParseFloat(s, 64)
		if err != nil || math.IsInf(f, 0) || math.IsNaN(f) {
			return pgtype.Numeric{}, fmt.Errorf("%q is not a decimal number", s)
		}
		s = strconv.FormatFloat(f, 'f', -1, 64)
	}

	var n pgtype.Numeric
	if err := n.Scan(s); err != nil {
		return pgtype.Numeric{}, fmt.Errorf("%q is not a decimal number", s)
	}
	if n.NaN || n.InfinityModifier != pgtype.Finite {
		return pgtype.Numeric{}, fmt.Errorf("%q is not a finite number", s)
	}
	if digits := len(new(big.Int).Abs(n.Int).String()) + int(n.Exp); digits > decimalIntegerDigits {
		return pgtype.Numeric{}, fmt.Errorf("%q has more than %d integer digits", s, decimalIntegerDigits)
	}

	return n, nil
}

// SmallInt converts integral JSON numbers and integer strings within the int16 range.
// Absent, null and empty values have no value without error.
func SmallInt(v any) (pgtype.Int2, error) {
	s, err := numberText(v)
	if err != nil || s == "" {
		return pgtype.Int2{}, err
	}

	i, err := strconv.ParseInt(s, 10, 16)
	if err != nil {
		// Integral numbers may be written with a fractional part, such as 5.0.
		f, ferr := strconv.ParseFloat(s, 64)
		if ferr != nil || f != math.Trunc(f) || f < math.MinInt16 || f > math.MaxInt16 {
			return pgtype.Int2{}, fmt.Errorf("%q is not a small integer", s)
		}
		i = int64(f)
	}

	return pgtype.Int2{Int16: int16(i), Valid: true}, nil
}

// Date converts date and timestamp strings.
// Absent, null and empty values have no value without error.
func Date(v any) (pgtype.Timestamptz, error) {
	var s string
	switch v := v.(type) {
	case nil:
		return pgtype.Timestamptz{}, nil
	case string:
		s = strings.TrimSpace(v)
	default:
		return pgtype.Timestamptz{}, fmt.Errorf("%w %T", errUnsupportedType, v)
	}
	if s == "" {
		return pgtype.Timestamptz{}, nil
	}

	for _, layout := range dateLayouts {
		t, err := time.Parse(layout, s)
		if err != nil {
			continue
		}
		return pgtype.Timestamptz{Time: t, Valid: true}, nil
	}
	return pgtype.Timestamptz{}, fmt.Errorf("%q is not a recognised date", s)
}

// numberText returns the textual form of a numeric value, trimmed.
// nil is returned as an empty string.
func numberText(v any) (string, error) {
	switch v := v.(type) {
	case nil:
		return "", nil
	case json.Number:
		return v.String(), nil
	case string:
		return strings.TrimSpace(v), nil
	case float64:
		if math.IsInf(v, 0) || math.IsNaN(v) {
			return "", fmt.Errorf("%v is not a finite number", v)
		}
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	default:
		return "", fmt.Errorf("%w %T", errUnsupportedType, v)
	}
}
