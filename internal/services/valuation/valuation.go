// Package valuation works out which prices a timeline needs and values each
// event in USD once prices are known.
package valuation

import (
	"context"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/mcintyre94/jupalyse/internal/domain"
	"github.com/mcintyre94/jupalyse/internal/services/tokens"
	"github.com/mcintyre94/jupalyse/internal/storage/pricecache"
	"github.com/mcintyre94/jupalyse/pkg/amount"
)

// RequiredPriceKeys lists the (mint, minute) keys needed to value events:
// both sides of every trade and the input of every deposit. Keys are unique
// and in first-seen order.
func RequiredPriceKeys(events []domain.Event) []domain.PriceKey {
	seen := make(map[domain.PriceKey]struct{})
	var keys []domain.PriceKey

	add := func(mint string, ts int64) {
		k := domain.NewPriceKey(mint, ts)
		if _, ok := seen[k]; ok {
			return
		}
		seen[k] = struct{}{}
		keys = append(keys, k)
	}

	for _, e := range events {
		switch ev := e.(type) {
		case domain.Trade:
			add(ev.InputMint, ev.Timestamp)
			add(ev.OutputMint, ev.Timestamp)
		case domain.Deposit:
			add(ev.InputMint, ev.Timestamp)
		}
	}

	return keys
}

// PartitionCached splits keys into cache entries already known (prices and
// no-data markers) and keys that still have to be fetched.
func PartitionCached(ctx context.Context, keys []domain.PriceKey, cache pricecache.Cache) (map[domain.PriceKey]pricecache.Entry, []domain.PriceKey, error) {
	resolved := make(map[domain.PriceKey]pricecache.Entry)
	var stillNeeded []domain.PriceKey

	for _, k := range keys {
		entry, ok, err := cache.Get(ctx, k)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "read cached price %s", k)
		}
		if ok {
			resolved[k] = entry
			continue
		}
		stillNeeded = append(stillNeeded, k)
	}

	return resolved, stillNeeded, nil
}

// Prices maps keys to resolved USD prices.
type Prices map[domain.PriceKey]decimal.Decimal

// Merge builds a price table from cache entries and freshly fetched prices.
func Merge(cached map[domain.PriceKey]pricecache.Entry, fetched map[domain.PriceKey]decimal.Decimal) Prices {
	out := make(Prices, len(cached)+len(fetched))
	for k, e := range cached {
		if !e.Missing {
			out[k] = e.Price
		}
	}
	for k, p := range fetched {
		out[k] = p
	}
	return out
}

// At returns the price of mint during the minute containing ts.
func (p Prices) At(mint string, ts int64) (decimal.Decimal, bool) {
	v, ok := p[domain.NewPriceKey(mint, ts)]
	return v, ok
}

// Row is one valued event. Unknown values render as blanks.
type Row struct {
	Event domain.Event

	InputAmount  amount.Value
	OutputAmount amount.Value
	FeeAmount    amount.Value
	NetAmount    amount.Value

	InputUSD  amount.Value
	OutputUSD amount.Value
	FeeUSD    amount.Value
	NetUSD    amount.Value

	Rate amount.Rate
}

// Valuer values events with a fixed price table and token registry.
type Valuer struct {
	prices    Prices
	tokens    tokens.Registry
	precision int32
}

func NewValuer(prices Prices, registry tokens.Registry, precision int32) *Valuer {
	return &Valuer{prices: prices, tokens: registry, precision: precision}
}

// ValueAll values every event, keeping order.
func (v *Valuer) ValueAll(events []domain.Event) ([]Row, error) {
	rows := make([]Row, 0, len(events))
	for _, e := range events {
		row, err := v.Value(e)
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// Value computes token amounts, USD values and rates for one event. Missing
// prices or decimals leave the affected fields unknown; an encoding mismatch
// inside a trade is an error.
func (v *Valuer) Value(e domain.Event) (Row, error) {
	row := Row{Event: e}

	switch ev := e.(type) {
	case domain.Deposit:
		scale := v.tokens.Scale(ev.InputMint)
		row.InputAmount = v.units(ev.Input, scale)
		row.InputUSD = v.usd(ev.Input, ev.InputMint, ev.Timestamp, scale)

	case domain.Trade:
		net, err := ev.Net()
		if err != nil {
			return Row{}, errors.Wrapf(err, "trade %s", ev.Tx)
		}

		inScale := v.tokens.Scale(ev.InputMint)
		outScale := v.tokens.Scale(ev.OutputMint)

		row.InputAmount = v.units(ev.Input, inScale)
		row.OutputAmount = v.units(ev.Output, outScale)
		row.FeeAmount = v.units(ev.Fee, outScale)
		row.NetAmount = v.units(net, outScale)

		row.InputUSD = v.usd(ev.Input, ev.InputMint, ev.Timestamp, inScale)
		row.OutputUSD = v.usd(ev.Output, ev.OutputMint, ev.Timestamp, outScale)
		row.FeeUSD = v.usd(ev.Fee, ev.OutputMint, ev.Timestamp, outScale)
		row.NetUSD = v.usd(net, ev.OutputMint, ev.Timestamp, outScale)

		row.Rate = amount.DivideForRate(ev.Input, ev.Output, inScale, outScale)

	default:
		return Row{}, errors.Errorf("unsupported event %T", e)
	}

	return row, nil
}

func (v *Valuer) units(a amount.Amount, scale amount.Scale) amount.Value {
	d, err := amount.ToDecimal(a, scale)
	if err != nil {
		return amount.Unknown
	}
	return amount.Known(d)
}

func (v *Valuer) usd(a amount.Amount, mint string, ts int64, scale amount.Scale) amount.Value {
	price, ok := v.prices.At(mint, ts)
	if !ok {
		return amount.Unknown
	}
	return amount.MultiplyByPrice(a, price, scale, v.precision)
}
