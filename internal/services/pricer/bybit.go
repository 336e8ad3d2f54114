package pricer

import (
	"context"
	"sort"
	"strconv"

	bybit "github.com/hirokisan/bybit/v2"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/mcintyre94/jupalyse/internal/domain"
)

// BybitPricer answers price history from Bybit spot 1m klines.
type BybitPricer struct {
	client  *bybit.Client
	symbols map[string]string
}

func NewBybitPricer(client *bybit.Client, symbols map[string]string) *BybitPricer {
	return &BybitPricer{client: client, symbols: symbols}
}

// PriceHistory reports ErrRateLimited for the V5 rate-limit return codes.
func (p *BybitPricer) PriceHistory(_ context.Context, _ string, mint string, from, to int64) ([]domain.PricePoint, error) {
	symbol, ok := p.symbols[mint]
	if !ok {
		return nil, errors.Wrapf(ErrUnsupportedMint, "bybit has no symbol for %s", mint)
	}

	startTime := from * 1000
	endTime := to * 1000
	limit := int((to-from)/domain.BucketSize) + 1

	result, err := p.client.V5().Market().GetKline(bybit.V5GetKlineParam{
		Category: bybit.CategoryV5Spot,
		Symbol:   bybit.SymbolV5(symbol),
		Interval: bybit.Interval("1"),
		Start:    &startTime,
		End:      &endTime,
		Limit:    &limit,
	})
	if err != nil {
		var rateLimited *bybit.RateLimitV5Error
		if errors.As(err, &rateLimited) {
			return nil, errors.Wrapf(ErrRateLimited, "bybit %s", symbol)
		}
		return nil, errors.Wrapf(err, "failed to fetch klines from Bybit for %s", symbol)
	}
	if result == nil {
		return nil, errors.Errorf("empty result from Bybit API for %s", symbol)
	}

	points := make([]domain.PricePoint, 0, len(result.Result.List))
	for i, k := range result.Result.List {
		startMs, err := strconv.ParseInt(k.StartTime, 10, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to parse start time at index %d", i)
		}
		open, err := decimal.NewFromString(k.Open)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to parse open price at index %d", i)
		}
		points = append(points, domain.PricePoint{
			Address:  mint,
			UnixTime: startMs / 1000,
			Value:    open,
		})
	}

	// bybit lists newest first
	sort.Slice(points, func(i, j int) bool {
		return points[i].UnixTime < points[j].UnixTime
	})

	return points, nil
}
