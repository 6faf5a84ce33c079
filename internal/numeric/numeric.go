// Package numeric coerces loosely typed wire values (indexer rows, RPC payloads,
// JSON numbers) into the numeric types used by the analytics engines.
//
// None of the helpers return errors: values that cannot be interpreted as a
// finite number collapse to zero, and BigInt/Decimal additionally report whether
// coercion succeeded so callers can skip a row instead of counting it as zero.
package numeric

import (
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/spf13/cast"
)

// Decimal converts v into a decimal. ok is false when v is nil, non-finite,
// or cannot be parsed.
func Decimal(v any) (decimal.Decimal, bool) {
	switch t := v.(type) {
	case nil:
		return decimal.Zero, false
	case decimal.Decimal:
		return t, true
	case *decimal.Decimal:
		if t == nil {
			return decimal.Zero, false
		}
		return *t, true
	case decimal.NullDecimal:
		if !t.Valid {
			return decimal.Zero, false
		}
		return t.Decimal, true
	case *big.Int:
		if t == nil {
			return decimal.Zero, false
		}
		return decimal.NewFromBigInt(t, 0), true
	case *big.Float:
		if t == nil || t.IsInf() {
			return decimal.Zero, false
		}
		return parseString(t.Text('f', -1))
	case float64:
		return fromFloat(t)
	case float32:
		return fromFloat(float64(t))
	case int64:
		return decimal.NewFromInt(t), true
	case uint64:
		return decimal.NewFromBigInt(new(big.Int).SetUint64(t), 0), true
	case string:
		return parseString(t)
	case []byte:
		return parseString(string(t))
	case json.Number:
		return parseString(t.String())
	case fmt.Stringer:
		return parseString(t.String())
	}

	f, err := cast.ToFloat64E(v)
	if err != nil {
		return decimal.Zero, false
	}
	return fromFloat(f)
}

// DecimalOrZero is Decimal without the ok flag.
func DecimalOrZero(v any) decimal.Decimal {
	d, _ := Decimal(v)
	return d
}

// Float converts v into a finite float64, or 0.
func Float(v any) float64 {
	d, ok := Decimal(v)
	if !ok {
		return 0
	}
	f := d.InexactFloat64()
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}

// Int converts v into an int64, truncating toward zero. Values outside the
// int64 range collapse to 0.
func Int(v any) int64 {
	d, ok := Decimal(v)
	if !ok {
		return 0
	}
	bi := d.BigInt()
	if !bi.IsInt64() {
		return 0
	}
	return bi.Int64()
}

// BigInt converts v into an integer, truncating any fractional part.
func BigInt(v any) (*big.Int, bool) {
	d, ok := Decimal(v)
	if !ok {
		return new(big.Int), false
	}
	return d.BigInt(), true
}

// BigIntOrZero is BigInt without the ok flag. Negative values collapse to 0.
func BigIntOrZero(v any) *big.Int {
	bi, ok := BigInt(v)
	if !ok || bi.Sign() < 0 {
		return new(big.Int)
	}
	return bi
}

// IsFinite reports whether f is neither NaN nor infinite.
func IsFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

func fromFloat(f float64) (decimal.Decimal, bool) {
	if !IsFinite(f) {
		return decimal.Zero, false
	}
	return decimal.NewFromFloat(f), true
}

func parseString(s string) (decimal.Decimal, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}
