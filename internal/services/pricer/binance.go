package pricer

import (
	"context"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/mcintyre94/jupalyse/internal/domain"
)

// binance error code for too much request weight
const binanceTooManyRequests = -1003

// BinancePricer answers price history from Binance 1m klines. Mints are
// mapped to USD-quoted symbols (e.g. SOLUSDT); the kline open is the minute's price.
type BinancePricer struct {
	client  *binance.Client
	symbols map[string]string
}

func NewBinancePricer(client *binance.Client, symbols map[string]string) *BinancePricer {
	return &BinancePricer{client: client, symbols: symbols}
}

func (p *BinancePricer) PriceHistory(ctx context.Context, _ string, mint string, from, to int64) ([]domain.PricePoint, error) {
	symbol, ok := p.symbols[mint]
	if !ok {
		return nil, errors.Wrapf(ErrUnsupportedMint, "binance has no symbol for %s", mint)
	}

	klines, err := p.client.NewKlinesService().Symbol(symbol).Interval("1m").
		StartTime(from * 1000).
		EndTime(to * 1000).
		Limit(int((to-from)/domain.BucketSize) + 1).
		Do(ctx)
	if err != nil {
		if apiErr, ok := err.(*common.APIError); ok && apiErr.Code == binanceTooManyRequests {
			return nil, errors.Wrapf(ErrRateLimited, "binance %s", symbol)
		}
		return nil, errors.Wrapf(err, "failed to fetch klines from Binance for %s", symbol)
	}

	points := make([]domain.PricePoint, 0, len(klines))
	for _, k := range klines {
		open, err := decimal.NewFromString(k.Open)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to parse open price for %s", symbol)
		}
		points = append(points, domain.PricePoint{
			Address:  mint,
			UnixTime: k.OpenTime / 1000,
			Value:    open,
		})
	}

	return points, nil
}
