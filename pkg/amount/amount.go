// Package amount implements token quantities that are either raw integers in a
// token's smallest unit or already-scaled decimals. The two encodings never mix
// silently: arithmetic across encodings returns ErrEncodingMismatch.
package amount

import (
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// DefaultPrecision is the number of fractional digits used for display values.
const DefaultPrecision int32 = 6

var (
	// ErrEncodingMismatch is returned when Raw and Adjusted amounts are combined.
	ErrEncodingMismatch = errors.New("amount encodings differ")
	// ErrUnknownDecimals is returned when a Raw amount is scaled without token decimals.
	ErrUnknownDecimals = errors.New("token decimals are unknown")
	// ErrInvalidAmount is returned for text that is not a valid amount of the requested encoding.
	ErrInvalidAmount = errors.New("invalid amount")
)

// Encoding tells how the value of an Amount must be interpreted.
type Encoding int

const (
	// EncodingRaw is an integer count of the token's smallest unit.
	EncodingRaw Encoding = iota
	// EncodingAdjusted is a decimal already divided by 10^decimals.
	EncodingAdjusted
)

func (e Encoding) String() string {
	switch e {
	case EncodingRaw:
		return "raw"
	case EncodingAdjusted:
		return "adjusted"
	default:
		return "unknown"
	}
}

// Amount is a token quantity tagged with its encoding. The zero value is a Raw zero.
type Amount struct {
	enc   Encoding
	value decimal.Decimal
}

// NewRaw parses an integer amount in smallest units.
func NewRaw(s string) (Amount, error) {
	v, err := decimal.NewFromString(s)
	if err != nil {
		return Amount{}, errors.Wrapf(ErrInvalidAmount, "raw %q", s)
	}
	if !v.IsInteger() {
		return Amount{}, errors.Wrapf(ErrInvalidAmount, "raw %q is not an integer", s)
	}

	return Amount{enc: EncodingRaw, value: v}, nil
}

// NewAdjusted parses a decimal amount that is already scaled.
func NewAdjusted(s string) (Amount, error) {
	v, err := decimal.NewFromString(s)
	if err != nil {
		return Amount{}, errors.Wrapf(ErrInvalidAmount, "adjusted %q", s)
	}

	return Amount{enc: EncodingAdjusted, value: v}, nil
}

// MustRaw is like NewRaw but panics on invalid input.
func MustRaw(s string) Amount {
	a, err := NewRaw(s)
	if err != nil {
		panic(err)
	}
	return a
}

// MustAdjusted is like NewAdjusted but panics on invalid input.
func MustAdjusted(s string) Amount {
	a, err := NewAdjusted(s)
	if err != nil {
		panic(err)
	}
	return a
}

// Encoding returns the amount's tag.
func (a Amount) Encoding() Encoding {
	return a.enc
}

// IsZero reports whether the amount is zero regardless of encoding.
func (a Amount) IsZero() bool {
	return a.value.IsZero()
}

// Equal reports whether both amounts share an encoding and a numeric value.
func (a Amount) Equal(b Amount) bool {
	return a.enc == b.enc && a.value.Equal(b.value)
}

// String returns the amount in its own encoding, without scaling.
func (a Amount) String() string {
	return a.value.String()
}

// Scale carries a token's decimals. The zero value means the decimals are unknown.
type Scale struct {
	decimals int32
	known    bool
}

// Decimals returns a known scale.
func Decimals(n int32) Scale {
	return Scale{decimals: n, known: true}
}

// Value returns the decimals and whether they are known.
func (s Scale) Value() (int32, bool) {
	return s.decimals, s.known
}

// Known reports whether the decimals are available.
func (s Scale) Known() bool {
	return s.known
}

// ToDecimal converts the amount to a token-unit decimal. Raw amounts are
// shifted by the scale's decimals; Adjusted amounts are returned as is.
func ToDecimal(a Amount, s Scale) (decimal.Decimal, error) {
	if a.enc == EncodingAdjusted {
		return a.value, nil
	}
	if !s.known {
		return decimal.Decimal{}, ErrUnknownDecimals
	}

	return a.value.Shift(-s.decimals), nil
}

// Add sums two amounts of the same encoding.
func Add(a, b Amount) (Amount, error) {
	if a.enc != b.enc {
		return Amount{}, errors.Wrapf(ErrEncodingMismatch, "add %s to %s", b.enc, a.enc)
	}

	return Amount{enc: a.enc, value: a.value.Add(b.value)}, nil
}

// Sub subtracts b from a. Both must share an encoding.
func Sub(a, b Amount) (Amount, error) {
	if a.enc != b.enc {
		return Amount{}, errors.Wrapf(ErrEncodingMismatch, "subtract %s from %s", b.enc, a.enc)
	}

	return Amount{enc: a.enc, value: a.value.Sub(b.value)}, nil
}
