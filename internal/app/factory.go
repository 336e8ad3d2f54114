package app

import (
	"context"
	"io"
	"net/http"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/mcintyre94/jupalyse/config"
	"github.com/mcintyre94/jupalyse/internal/clients"
	"github.com/mcintyre94/jupalyse/internal/services/orders"
	"github.com/mcintyre94/jupalyse/internal/services/pricer"
	"github.com/mcintyre94/jupalyse/internal/services/tokens"
	"github.com/mcintyre94/jupalyse/internal/storage/pricecache"
)

// publicCredential is passed to providers whose history endpoints need no key.
const publicCredential = "public"

// newCache opens the configured cache backend. The returned closer may be nil.
func newCache(ctx context.Context, conf config.Config) (pricecache.Cache, io.Closer, error) {
	switch conf.CacheBackend {
	case config.CacheMemory:
		return pricecache.NewMemory(), nil, nil
	case config.CacheWAL:
		store, err := pricecache.NewWALStore(conf.CacheDir)
		if err != nil {
			return nil, nil, errors.Wrap(err, "failed to open wal price cache")
		}
		return store, store, nil
	case config.CacheRedis:
		store, err := pricecache.NewRedisStoreFromURL(ctx, conf.CacheRedisURL)
		if err != nil {
			return nil, nil, errors.Wrap(err, "failed to connect redis price cache")
		}
		return store, store, nil
	case config.CachePostgres:
		store, err := pricecache.NewPostgresStoreFromURL(ctx, conf.CachePostgresURL)
		if err != nil {
			return nil, nil, errors.Wrap(err, "failed to connect postgres price cache")
		}
		return store, store, nil
	default:
		return nil, nil, errors.Errorf("unsupported cache backend: %s", conf.CacheBackend)
	}
}

// newPriceProvider dispatches on the configured price source and returns the
// credential the fetcher should use with it.
func newPriceProvider(conf config.Config, httpClient *http.Client) (pricer.HistoryProvider, string, error) {
	switch conf.PriceSource {
	case config.PriceSourceBirdeye:
		return pricer.NewBirdeyePricer(conf.PriceBaseURL, httpClient), conf.PriceCredential, nil
	case config.PriceSourceBinance:
		client := clients.NewBinanceClient("", "")
		if conf.PriceBaseURL != "" {
			client.BaseURL = conf.PriceBaseURL
		}
		return pricer.NewBinancePricer(client, conf.PriceSymbols), publicCredential, nil
	case config.PriceSourceBybit:
		client := clients.NewBybitClient("", "")
		if conf.PriceBaseURL != "" {
			client = client.WithBaseURL(conf.PriceBaseURL)
		}
		return pricer.NewBybitPricer(client, conf.PriceSymbols), publicCredential, nil
	default:
		return nil, "", errors.Errorf("unsupported price source: %s", conf.PriceSource)
	}
}

func newOrderSource(conf config.Config, httpClient *http.Client) orders.Source {
	if conf.OrdersSource == config.OrdersHTTP {
		return orders.NewHTTPSource(conf.OrdersURLs, httpClient)
	}
	return orders.NewFileSource(conf.OrdersDir)
}

// newTokenProvider prefers configured overrides over the token API.
func newTokenProvider(conf config.Config, httpClient *http.Client, logger *zap.Logger) tokens.Provider {
	return tokens.Chain{
		tokens.Static(conf.TokenOverrides),
		tokens.NewHTTPProvider(conf.TokensBaseURL, httpClient, logger),
	}
}
