// Package domain defines core data structures used throughout jupalyse.
package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// BucketSize is the price granularity in seconds.
const BucketSize int64 = 60

// Bucket rounds a unix timestamp in seconds down to its minute boundary.
// Bucket(Bucket(t)) == Bucket(t) and 0 <= t-Bucket(t) < BucketSize.
func Bucket(t int64) int64 {
	r := t % BucketSize
	if r < 0 {
		r += BucketSize
	}
	return t - r
}

// PriceKey identifies one minute of price history for a token.
type PriceKey struct {
	// Mint token address.
	Mint string
	// Bucket minute boundary in unix seconds.
	Bucket int64
}

// NewPriceKey builds the key for a token at an arbitrary timestamp.
func NewPriceKey(mint string, timestamp int64) PriceKey {
	return PriceKey{Mint: mint, Bucket: Bucket(timestamp)}
}

// Normalize returns the key with its bucket rounded to a minute boundary.
func (k PriceKey) Normalize() PriceKey {
	return PriceKey{Mint: k.Mint, Bucket: Bucket(k.Bucket)}
}

// String returns the string representation.
func (k PriceKey) String() string {
	return fmt.Sprintf("%s@%d", k.Mint, k.Bucket)
}

// PricePoint is one item of a provider's price history.
type PricePoint struct {
	// Address token address.
	Address string `json:"address"`
	// UnixTime start of the interval in unix seconds.
	UnixTime int64 `json:"unixTime"`
	// Value USD price.
	Value decimal.Decimal `json:"value"`
}
