// Package pricefetcher resolves historical USD prices for (mint, minute) keys
// against a rate-limited price history provider.
package pricefetcher

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/mcintyre94/jupalyse/internal/domain"
	"github.com/mcintyre94/jupalyse/internal/metrics"
	"github.com/mcintyre94/jupalyse/internal/services/pricer"
	"github.com/mcintyre94/jupalyse/internal/storage/pricecache"
	"github.com/mcintyre94/jupalyse/pkg/retrier"
)

const (
	// DefaultMinInterval keeps requests at or below 100 per minute.
	DefaultMinInterval = 600 * time.Millisecond
	// DefaultCooldown is the wait after a rate-limit rejection before the single retry.
	DefaultCooldown = 10 * time.Second
)

// ErrMissingCredential is returned before any work when no API key is configured.
var ErrMissingCredential = errors.New("price provider credential is required")

// KeyStatus is the lifecycle state of one key within a batch.
type KeyStatus int

const (
	StatusUnfetched KeyStatus = iota
	StatusInFlight
	StatusFetched
	StatusFetchedMissing
	StatusFailed
)

func (s KeyStatus) String() string {
	switch s {
	case StatusUnfetched:
		return "unfetched"
	case StatusInFlight:
		return "in-flight"
	case StatusFetched:
		return "fetched"
	case StatusFetchedMissing:
		return "fetched-missing"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Result of a batch. Prices holds only keys that resolved to a price.
type Result struct {
	Prices   map[domain.PriceKey]decimal.Decimal
	Statuses map[domain.PriceKey]KeyStatus
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithMinInterval sets the minimum spacing between provider requests.
func WithMinInterval(d time.Duration) Option {
	return func(f *Fetcher) {
		f.minInterval = d
	}
}

// WithCooldown sets the wait before retrying a rate-limited request.
func WithCooldown(d time.Duration) Option {
	return func(f *Fetcher) {
		f.cooldown = d
	}
}

// WithCacheMissing controls whether empty provider answers are cached as NoData.
// When disabled such keys are requested again by the next batch.
func WithCacheMissing(enabled bool) Option {
	return func(f *Fetcher) {
		f.cacheMissing = enabled
	}
}

// Fetcher resolves prices one request at a time. A single Fetcher should be
// shared by every batch so the spacing and the in-flight registry apply across them.
type Fetcher struct {
	provider pricer.HistoryProvider
	cache    pricecache.Cache
	logger   *zap.Logger

	minInterval  time.Duration
	cooldown     time.Duration
	cacheMissing bool
	limiter      *rate.Limiter

	mu       sync.Mutex
	inflight map[domain.PriceKey]*call
}

type outcome struct {
	status KeyStatus
	price  decimal.Decimal
	// cancelled is set when the caller's context ended the request.
	cancelled bool
}

type call struct {
	done chan struct{}
	out  outcome
}

// New creates a Fetcher.
func New(provider pricer.HistoryProvider, cache pricecache.Cache, logger *zap.Logger, opts ...Option) *Fetcher {
	f := &Fetcher{
		provider:     provider,
		cache:        cache,
		logger:       logger,
		minInterval:  DefaultMinInterval,
		cooldown:     DefaultCooldown,
		cacheMissing: true,
		inflight:     make(map[domain.PriceKey]*call),
	}

	for _, opt := range opts {
		opt(f)
	}

	f.limiter = rate.NewLimiter(rate.Every(f.minInterval), 1)

	return f
}

// FetchPrices resolves keys and returns the prices that succeeded. Failed,
// missing and unprocessed keys are absent. Cancelling ctx stops the batch
// and returns what was resolved so far without an error.
func (f *Fetcher) FetchPrices(ctx context.Context, keys []domain.PriceKey, credential string) (map[domain.PriceKey]decimal.Decimal, error) {
	res, err := f.Fetch(ctx, keys, credential)
	if err != nil {
		return nil, err
	}
	return res.Prices, nil
}

// Fetch is FetchPrices with the final status of every key.
func (f *Fetcher) Fetch(ctx context.Context, keys []domain.PriceKey, credential string) (*Result, error) {
	if credential == "" {
		return nil, ErrMissingCredential
	}

	start := time.Now()
	defer func() {
		metrics.PriceBatchDuration.Observe(time.Since(start).Seconds())
	}()

	logger := f.logger.With(zap.String("batch", uuid.NewString()))
	unique := Dedupe(keys)

	res := &Result{
		Prices:   make(map[domain.PriceKey]decimal.Decimal, len(unique)),
		Statuses: make(map[domain.PriceKey]KeyStatus, len(unique)),
	}
	for _, key := range unique {
		res.Statuses[key] = StatusUnfetched
	}

	logger.Info("Resolving prices", zap.Int("keys", len(unique)))

	for i, key := range unique {
		if ctx.Err() != nil {
			logger.Info("Price batch cancelled",
				zap.Int("resolved", len(res.Prices)),
				zap.Int("skipped", len(unique)-i))
			break
		}

		out, hit := f.cached(ctx, logger, key)
		if !hit {
			res.Statuses[key] = StatusInFlight
			out = f.resolve(ctx, logger, key, credential)
		}
		res.Statuses[key] = out.status
		if out.status == StatusFetched {
			res.Prices[key] = out.price
		}
	}

	logger.Info("Prices resolved", zap.Int("resolved", len(res.Prices)), zap.Int("requested", len(unique)))

	return res, nil
}

func (f *Fetcher) cached(ctx context.Context, logger *zap.Logger, key domain.PriceKey) (outcome, bool) {
	entry, ok, err := f.cache.Get(ctx, key)
	if err != nil {
		logger.Warn("Price cache read failed", zap.String("key", key.String()), zap.Error(err))
		return outcome{}, false
	}
	if !ok {
		return outcome{}, false
	}

	metrics.PriceCacheHitsTotal.Inc()
	if entry.Missing {
		return outcome{status: StatusFetchedMissing}, true
	}
	return outcome{status: StatusFetched, price: entry.Price}, true
}

// resolve runs the request for key, or waits for the batch already running it.
func (f *Fetcher) resolve(ctx context.Context, logger *zap.Logger, key domain.PriceKey, credential string) outcome {
	for {
		f.mu.Lock()
		c, ok := f.inflight[key]
		if !ok {
			c = &call{done: make(chan struct{})}
			f.inflight[key] = c
			f.mu.Unlock()

			// a batch that finished between our cache miss and the claim
			// has already stored the answer.
			if out, hit := f.cached(ctx, logger, key); hit {
				c.out = out
			} else {
				c.out = f.fetchOne(ctx, logger, key, credential)
			}

			f.mu.Lock()
			delete(f.inflight, key)
			f.mu.Unlock()
			close(c.done)

			return c.out
		}
		f.mu.Unlock()

		metrics.PriceCoalescedTotal.Inc()
		logger.Debug("Waiting for in-flight price request", zap.String("key", key.String()))

		select {
		case <-c.done:
		case <-ctx.Done():
			return outcome{status: StatusUnfetched, cancelled: true}
		}

		// the other batch was cancelled before it got an answer; take over.
		if c.out.cancelled && ctx.Err() == nil {
			continue
		}
		return c.out
	}
}

func (f *Fetcher) fetchOne(ctx context.Context, logger *zap.Logger, key domain.PriceKey, credential string) outcome {
	r := retrier.New(
		retrier.WithMaxRetries(1),
		retrier.WithInitialInterval(f.cooldown),
		retrier.WithMaxInterval(f.cooldown),
		retrier.WithJitter(0),
		retrier.WithRetryIf(func(err error) bool {
			return errors.Is(err, pricer.ErrRateLimited)
		}),
		retrier.WithOnRetry(func(_ int, _ error, wait time.Duration) {
			logger.Warn("Price provider rate limited, cooling down",
				zap.String("key", key.String()), zap.Duration("cooldown", wait))
		}),
	)

	points, err := retrier.DoWithData(r, ctx, func(ctx context.Context) ([]domain.PricePoint, error) {
		if err := f.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		points, err := f.provider.PriceHistory(ctx, credential, key.Mint, key.Bucket, key.Bucket)
		if errors.Is(err, pricer.ErrRateLimited) {
			metrics.PriceRateLimitedTotal.Inc()
		}
		return points, err
	})
	if err != nil {
		if ctx.Err() != nil {
			return outcome{status: StatusUnfetched, cancelled: true}
		}
		if errors.Is(err, pricer.ErrRateLimited) {
			metrics.PriceRequestsTotal.WithLabelValues("rate_limited").Inc()
			logger.Warn("Price request still rate limited after retry", zap.String("key", key.String()))
		} else {
			metrics.PriceRequestsTotal.WithLabelValues("error").Inc()
			logger.Error("Price request failed", zap.String("key", key.String()), zap.Error(err))
		}
		return outcome{status: StatusFailed}
	}

	if len(points) == 0 || !points[0].Value.IsPositive() {
		metrics.PriceRequestsTotal.WithLabelValues("empty").Inc()
		logger.Debug("No price data", zap.String("key", key.String()))
		if f.cacheMissing {
			if err := f.cache.Set(ctx, key, pricecache.NoData); err != nil {
				logger.Warn("Price cache write failed", zap.String("key", key.String()), zap.Error(err))
			}
		}
		return outcome{status: StatusFetchedMissing}
	}

	price := points[0].Value
	if err := f.cache.Set(ctx, key, pricecache.Found(price)); err != nil {
		logger.Warn("Price cache write failed", zap.String("key", key.String()), zap.Error(err))
	}
	metrics.PriceRequestsTotal.WithLabelValues("ok").Inc()

	return outcome{status: StatusFetched, price: price}
}

// Dedupe normalizes keys to minute buckets and drops repeats, keeping the
// first-seen order.
func Dedupe(keys []domain.PriceKey) []domain.PriceKey {
	seen := make(map[domain.PriceKey]struct{}, len(keys))
	out := make([]domain.PriceKey, 0, len(keys))
	for _, k := range keys {
		k = k.Normalize()
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}
