// Package pricecache stores resolved historical prices per (mint, minute).
// Historical prices never change, so entries are written once and never expire:
// every backend ignores a Set for a key that is already present.
package pricecache

import (
	"context"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/mcintyre94/jupalyse/internal/domain"
)

const noDataMarker = "none"

// Entry is a cached lookup result: a price, or a marker saying the provider
// had no data for that minute.
type Entry struct {
	Price   decimal.Decimal
	Missing bool
}

// Found returns an entry holding a price.
func Found(price decimal.Decimal) Entry {
	return Entry{Price: price}
}

// NoData is the entry stored when the provider answered with an empty history.
var NoData = Entry{Missing: true}

// Cache is the price cache boundary used by the fetcher and the pipeline.
type Cache interface {
	// Get returns the entry for key and whether it exists.
	Get(ctx context.Context, key domain.PriceKey) (Entry, bool, error)
	// Set stores an entry unless the key already has one.
	Set(ctx context.Context, key domain.PriceKey, entry Entry) error
	// Has reports whether key has an entry.
	Has(ctx context.Context, key domain.PriceKey) (bool, error)
}

func encodeEntry(e Entry) string {
	if e.Missing {
		return noDataMarker
	}
	return e.Price.String()
}

func decodeEntry(s string) (Entry, error) {
	if s == noDataMarker {
		return NoData, nil
	}

	price, err := decimal.NewFromString(s)
	if err != nil {
		return Entry{}, errors.Wrapf(err, "decode cached price %q", s)
	}
	return Found(price), nil
}
