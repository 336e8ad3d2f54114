package amount

import (
	"github.com/shopspring/decimal"
)

// Value is a decimal that may be unknown, for example when a price or the
// token decimals were not available.
type Value struct {
	d     decimal.Decimal
	known bool
}

// Unknown is the value used when a result cannot be computed.
var Unknown = Value{}

// Known wraps a computed decimal.
func Known(d decimal.Decimal) Value {
	return Value{d: d, known: true}
}

// Decimal returns the wrapped decimal and whether it is known.
func (v Value) Decimal() (decimal.Decimal, bool) {
	return v.d, v.known
}

// Known reports whether the value was computed.
func (v Value) Known() bool {
	return v.known
}

// String renders unknown values as an empty string.
func (v Value) String() string {
	if !v.known {
		return ""
	}
	return v.d.String()
}

// MultiplyByPrice converts the amount to token units and multiplies it by a USD
// price. The product is rounded half-up (away from zero) to precision
// fractional digits. A Raw amount with unknown decimals yields Unknown.
func MultiplyByPrice(a Amount, price decimal.Decimal, s Scale, precision int32) Value {
	units, err := ToDecimal(a, s)
	if err != nil {
		return Unknown
	}

	return Known(units.Mul(price).Round(precision))
}

// Rate holds both directions of an exchange rate between a trade's input and output.
type Rate struct {
	InputPerOutput Value
	OutputPerInput Value
}

// DivideForRate computes input/output and output/input. Each direction is
// rounded to the precision of its numerator side: the token decimals when known,
// otherwise the fractional digits of an Adjusted value. A zero denominator or a
// Raw side with unknown decimals yields Unknown for the affected direction.
func DivideForRate(in, out Amount, inScale, outScale Scale) Rate {
	inUnits, inErr := ToDecimal(in, inScale)
	outUnits, outErr := ToDecimal(out, outScale)
	if inErr != nil || outErr != nil {
		return Rate{InputPerOutput: Unknown, OutputPerInput: Unknown}
	}

	var r Rate
	if !outUnits.IsZero() {
		r.InputPerOutput = Known(inUnits.DivRound(outUnits, precisionOf(in, inScale)))
	}
	if !inUnits.IsZero() {
		r.OutputPerInput = Known(outUnits.DivRound(inUnits, precisionOf(out, outScale)))
	}

	return r
}

func precisionOf(a Amount, s Scale) int32 {
	if s.known {
		return s.decimals
	}
	if exp := a.value.Exponent(); exp < 0 {
		return -exp
	}
	return 0
}
