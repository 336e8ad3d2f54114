package pricefetcher

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/mcintyre94/jupalyse/internal/domain"
	"github.com/mcintyre94/jupalyse/internal/services/pricer"
	"github.com/mcintyre94/jupalyse/internal/storage/pricecache"
)

type fakeProvider struct {
	mu    sync.Mutex
	calls []domain.PriceKey
	fn    func(ctx context.Context, call int, mint string, from, to int64) ([]domain.PricePoint, error)
}

func (p *fakeProvider) PriceHistory(ctx context.Context, credential, mint string, from, to int64) ([]domain.PricePoint, error) {
	p.mu.Lock()
	p.calls = append(p.calls, domain.PriceKey{Mint: mint, Bucket: from})
	n := len(p.calls)
	p.mu.Unlock()

	if credential == "" {
		return nil, errors.New("credential not passed")
	}
	return p.fn(ctx, n, mint, from, to)
}

func (p *fakeProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

func priceOf(v string) func(context.Context, int, string, int64, int64) ([]domain.PricePoint, error) {
	return func(_ context.Context, _ int, mint string, from, _ int64) ([]domain.PricePoint, error) {
		return []domain.PricePoint{{Address: mint, UnixTime: from, Value: decimal.RequireFromString(v)}}, nil
	}
}

func newTestFetcher(p pricer.HistoryProvider, cache pricecache.Cache, opts ...Option) *Fetcher {
	opts = append([]Option{WithMinInterval(time.Millisecond), WithCooldown(time.Millisecond)}, opts...)
	return New(p, cache, zap.NewNop(), opts...)
}

func TestFetchPrices_MissingCredential(t *testing.T) {
	p := &fakeProvider{fn: priceOf("1")}
	f := newTestFetcher(p, pricecache.NewMemory())

	_, err := f.FetchPrices(context.Background(), []domain.PriceKey{domain.NewPriceKey("A", 0)}, "")
	assert.ErrorIs(t, err, ErrMissingCredential)
	assert.Equal(t, 0, p.callCount())
}

func TestFetchPrices_Dedupe(t *testing.T) {
	p := &fakeProvider{fn: priceOf("2.5")}
	cache := pricecache.NewMemory()
	f := newTestFetcher(p, cache)

	keys := []domain.PriceKey{
		domain.NewPriceKey("A", 61),
		domain.NewPriceKey("A", 90),
		{Mint: "A", Bucket: 119},
	}
	prices, err := f.FetchPrices(context.Background(), keys, "key")
	require.NoError(t, err)

	assert.Equal(t, 1, p.callCount())
	require.Len(t, prices, 1)
	assert.Equal(t, "2.5", prices[domain.PriceKey{Mint: "A", Bucket: 60}].String())
	assert.Equal(t, []domain.PriceKey{{Mint: "A", Bucket: 60}}, p.calls)
}

func TestFetchPrices_SkipsCached(t *testing.T) {
	p := &fakeProvider{fn: priceOf("3")}
	cache := pricecache.NewMemory()
	require.NoError(t, cache.Set(context.Background(), domain.PriceKey{Mint: "A", Bucket: 0}, pricecache.Found(decimal.NewFromInt(7))))
	require.NoError(t, cache.Set(context.Background(), domain.PriceKey{Mint: "B", Bucket: 0}, pricecache.NoData))
	f := newTestFetcher(p, cache)

	res, err := f.Fetch(context.Background(), []domain.PriceKey{
		{Mint: "A", Bucket: 0}, {Mint: "B", Bucket: 0}, {Mint: "C", Bucket: 0},
	}, "key")
	require.NoError(t, err)

	assert.Equal(t, 1, p.callCount())
	assert.Equal(t, "7", res.Prices[domain.PriceKey{Mint: "A", Bucket: 0}].String())
	assert.Equal(t, "3", res.Prices[domain.PriceKey{Mint: "C", Bucket: 0}].String())
	assert.Equal(t, StatusFetchedMissing, res.Statuses[domain.PriceKey{Mint: "B", Bucket: 0}])
	assert.NotContains(t, res.Prices, domain.PriceKey{Mint: "B", Bucket: 0})
}

func TestFetchPrices_RetryBound(t *testing.T) {
	p := &fakeProvider{fn: func(_ context.Context, _ int, mint string, from, _ int64) ([]domain.PricePoint, error) {
		if mint == "limited" {
			return nil, pricer.ErrRateLimited
		}
		return []domain.PricePoint{{Address: mint, UnixTime: from, Value: decimal.NewFromInt(5)}}, nil
	}}
	cache := pricecache.NewMemory()
	f := newTestFetcher(p, cache)

	res, err := f.Fetch(context.Background(), []domain.PriceKey{
		{Mint: "limited", Bucket: 0}, {Mint: "ok", Bucket: 0},
	}, "key")
	require.NoError(t, err)

	limitedCalls := 0
	for _, c := range p.calls {
		if c.Mint == "limited" {
			limitedCalls++
		}
	}
	assert.Equal(t, 2, limitedCalls)
	assert.NotContains(t, res.Prices, domain.PriceKey{Mint: "limited", Bucket: 0})
	assert.Equal(t, StatusFailed, res.Statuses[domain.PriceKey{Mint: "limited", Bucket: 0}])
	assert.Contains(t, res.Prices, domain.PriceKey{Mint: "ok", Bucket: 0})

	// failures are not cached
	ok, err := cache.Has(context.Background(), domain.PriceKey{Mint: "limited", Bucket: 0})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFetchPrices_RetrySucceeds(t *testing.T) {
	p := &fakeProvider{fn: func(_ context.Context, call int, mint string, from, _ int64) ([]domain.PricePoint, error) {
		if call == 1 {
			return nil, pricer.ErrRateLimited
		}
		return []domain.PricePoint{{Address: mint, UnixTime: from, Value: decimal.NewFromInt(9)}}, nil
	}}
	f := newTestFetcher(p, pricecache.NewMemory())

	prices, err := f.FetchPrices(context.Background(), []domain.PriceKey{{Mint: "A", Bucket: 0}}, "key")
	require.NoError(t, err)
	assert.Equal(t, 2, p.callCount())
	assert.Equal(t, "9", prices[domain.PriceKey{Mint: "A", Bucket: 0}].String())
}

func TestFetchPrices_OtherErrorsAreNotRetried(t *testing.T) {
	p := &fakeProvider{fn: func(context.Context, int, string, int64, int64) ([]domain.PricePoint, error) {
		return nil, errors.New("boom")
	}}
	f := newTestFetcher(p, pricecache.NewMemory())

	prices, err := f.FetchPrices(context.Background(), []domain.PriceKey{{Mint: "A", Bucket: 0}, {Mint: "B", Bucket: 0}}, "key")
	require.NoError(t, err)
	assert.Empty(t, prices)
	assert.Equal(t, 2, p.callCount())
}

func TestFetchPrices_Cancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p := &fakeProvider{fn: func(_ context.Context, call int, mint string, from, _ int64) ([]domain.PricePoint, error) {
		if call == 1 {
			cancel()
		}
		return []domain.PricePoint{{Address: mint, UnixTime: from, Value: decimal.NewFromInt(1)}}, nil
	}}
	f := newTestFetcher(p, pricecache.NewMemory())

	keys := []domain.PriceKey{
		{Mint: "A", Bucket: 0}, {Mint: "B", Bucket: 0}, {Mint: "C", Bucket: 0}, {Mint: "D", Bucket: 0}, {Mint: "E", Bucket: 0},
	}
	res, err := f.Fetch(ctx, keys, "key")
	require.NoError(t, err)

	assert.Len(t, res.Prices, 1)
	assert.Contains(t, res.Prices, domain.PriceKey{Mint: "A", Bucket: 0})
	assert.Equal(t, 1, p.callCount())
	assert.Equal(t, StatusUnfetched, res.Statuses[domain.PriceKey{Mint: "E", Bucket: 0}])
}

func TestFetchPrices_CooldownIsInterruptible(t *testing.T) {
	p := &fakeProvider{fn: func(context.Context, int, string, int64, int64) ([]domain.PricePoint, error) {
		return nil, pricer.ErrRateLimited
	}}
	f := newTestFetcher(p, pricecache.NewMemory(), WithCooldown(time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	prices, err := f.FetchPrices(ctx, []domain.PriceKey{{Mint: "A", Bucket: 0}, {Mint: "B", Bucket: 0}}, "key")
	require.NoError(t, err)

	assert.Less(t, time.Since(start), time.Minute)
	assert.Empty(t, prices)
	assert.Equal(t, 1, p.callCount())
}

func TestFetchPrices_MissingDataPolicy(t *testing.T) {
	empty := func(context.Context, int, string, int64, int64) ([]domain.PricePoint, error) {
		return nil, nil
	}
	key := domain.PriceKey{Mint: "A", Bucket: 0}

	tests := []struct {
		name          string
		cacheMissing  bool
		wantCalls     int
		wantCachedKey bool
	}{
		{name: "cached as no data", cacheMissing: true, wantCalls: 1, wantCachedKey: true},
		{name: "requested again", cacheMissing: false, wantCalls: 2, wantCachedKey: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &fakeProvider{fn: empty}
			cache := pricecache.NewMemory()
			f := newTestFetcher(p, cache, WithCacheMissing(tt.cacheMissing))

			for i := 0; i < 2; i++ {
				res, err := f.Fetch(context.Background(), []domain.PriceKey{key}, "key")
				require.NoError(t, err)
				assert.Empty(t, res.Prices)
				assert.Equal(t, StatusFetchedMissing, res.Statuses[key])
			}

			assert.Equal(t, tt.wantCalls, p.callCount())
			ok, err := cache.Has(context.Background(), key)
			require.NoError(t, err)
			assert.Equal(t, tt.wantCachedKey, ok)
		})
	}
}

func TestFetchPrices_CoalescesAcrossBatches(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})

	p := &fakeProvider{fn: func(_ context.Context, call int, mint string, from, _ int64) ([]domain.PricePoint, error) {
		if call == 1 {
			close(entered)
			<-release
		}
		return []domain.PricePoint{{Address: mint, UnixTime: from, Value: decimal.NewFromInt(4)}}, nil
	}}
	f := newTestFetcher(p, pricecache.NewMemory())
	key := domain.PriceKey{Mint: "A", Bucket: 0}

	var wg sync.WaitGroup
	results := make([]map[domain.PriceKey]decimal.Decimal, 2)

	wg.Add(1)
	go func() {
		defer wg.Done()
		results[0], _ = f.FetchPrices(context.Background(), []domain.PriceKey{key}, "key")
	}()
	<-entered

	wg.Add(1)
	go func() {
		defer wg.Done()
		results[1], _ = f.FetchPrices(context.Background(), []domain.PriceKey{key}, "key")
	}()

	time.Sleep(10 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, 1, p.callCount())
	for _, r := range results {
		assert.Equal(t, "4", r[key].String())
	}
}

// gatedCache holds the first cache miss after arm until release is closed.
type gatedCache struct {
	*pricecache.Memory
	armed   atomic.Bool
	missed  chan struct{}
	release chan struct{}
}

func newGatedCache() *gatedCache {
	return &gatedCache{
		Memory:  pricecache.NewMemory(),
		missed:  make(chan struct{}),
		release: make(chan struct{}),
	}
}

func (g *gatedCache) Get(ctx context.Context, key domain.PriceKey) (pricecache.Entry, bool, error) {
	entry, ok, err := g.Memory.Get(ctx, key)
	if err == nil && !ok && g.armed.CompareAndSwap(true, false) {
		close(g.missed)
		<-g.release
	}
	return entry, ok, err
}

func TestFetchPrices_OverlappingBatchRechecksCache(t *testing.T) {
	started := make(chan struct{})
	unblock := make(chan struct{})

	p := &fakeProvider{fn: func(_ context.Context, call int, mint string, from, _ int64) ([]domain.PricePoint, error) {
		if call == 1 {
			close(started)
			<-unblock
		}
		return []domain.PricePoint{{Address: mint, UnixTime: from, Value: decimal.NewFromInt(4)}}, nil
	}}
	cache := newGatedCache()
	f := newTestFetcher(p, cache)
	key := domain.PriceKey{Mint: "A", Bucket: 0}

	doneA := make(chan struct{})
	go func() {
		defer close(doneA)
		_, _ = f.FetchPrices(context.Background(), []domain.PriceKey{key}, "key")
	}()
	<-started

	// B misses the cache while A is still in flight, then stalls until A is done.
	cache.armed.Store(true)
	doneB := make(chan map[domain.PriceKey]decimal.Decimal, 1)
	go func() {
		prices, _ := f.FetchPrices(context.Background(), []domain.PriceKey{key}, "key")
		doneB <- prices
	}()
	<-cache.missed

	close(unblock)
	<-doneA
	close(cache.release)

	select {
	case prices := <-doneB:
		assert.Equal(t, "4", prices[key].String())
	case <-time.After(5 * time.Second):
		t.Fatal("second batch did not finish")
	}
	assert.Equal(t, 1, p.callCount())
}

func TestFetchPrices_WaiterTakesOverCancelledRequest(t *testing.T) {
	ctxA, cancelA := context.WithCancel(context.Background())
	defer cancelA()

	started := make(chan struct{})
	p := &fakeProvider{fn: func(ctx context.Context, call int, mint string, from, _ int64) ([]domain.PricePoint, error) {
		if call == 1 {
			close(started)
			<-ctx.Done()
			return nil, ctx.Err()
		}
		return []domain.PricePoint{{Address: mint, UnixTime: from, Value: decimal.NewFromInt(4)}}, nil
	}}
	core, logs := observer.New(zap.DebugLevel)
	f := New(p, pricecache.NewMemory(), zap.New(core), WithMinInterval(time.Millisecond), WithCooldown(time.Millisecond))
	key := domain.PriceKey{Mint: "A", Bucket: 0}

	doneA := make(chan *Result, 1)
	go func() {
		res, _ := f.Fetch(ctxA, []domain.PriceKey{key}, "key")
		doneA <- res
	}()
	<-started

	doneB := make(chan *Result, 1)
	go func() {
		res, _ := f.Fetch(context.Background(), []domain.PriceKey{key}, "key")
		doneB <- res
	}()
	require.Eventually(t, func() bool {
		return logs.FilterMessage("Waiting for in-flight price request").Len() > 0
	}, 5*time.Second, time.Millisecond)

	cancelA()

	resA := <-doneA
	assert.Equal(t, StatusUnfetched, resA.Statuses[key])
	assert.Empty(t, resA.Prices)

	select {
	case resB := <-doneB:
		assert.Equal(t, StatusFetched, resB.Statuses[key])
		assert.Equal(t, "4", resB.Prices[key].String())
	case <-time.After(5 * time.Second):
		t.Fatal("waiting batch did not take over")
	}
	assert.Equal(t, 2, p.callCount())
}

func TestFetchPrices_CancelledWaiterLeavesRequestRunning(t *testing.T) {
	started := make(chan struct{})
	unblock := make(chan struct{})

	p := &fakeProvider{fn: func(_ context.Context, call int, mint string, from, _ int64) ([]domain.PricePoint, error) {
		if call == 1 {
			close(started)
			<-unblock
		}
		return []domain.PricePoint{{Address: mint, UnixTime: from, Value: decimal.NewFromInt(4)}}, nil
	}}
	core, logs := observer.New(zap.DebugLevel)
	f := New(p, pricecache.NewMemory(), zap.New(core), WithMinInterval(time.Millisecond), WithCooldown(time.Millisecond))
	key := domain.PriceKey{Mint: "A", Bucket: 0}

	doneA := make(chan *Result, 1)
	go func() {
		res, _ := f.Fetch(context.Background(), []domain.PriceKey{key}, "key")
		doneA <- res
	}()
	<-started

	ctxB, cancelB := context.WithCancel(context.Background())
	defer cancelB()

	doneB := make(chan *Result, 1)
	go func() {
		res, _ := f.Fetch(ctxB, []domain.PriceKey{key}, "key")
		doneB <- res
	}()
	require.Eventually(t, func() bool {
		return logs.FilterMessage("Waiting for in-flight price request").Len() > 0
	}, 5*time.Second, time.Millisecond)

	cancelB()

	select {
	case resB := <-doneB:
		assert.Equal(t, StatusUnfetched, resB.Statuses[key])
		assert.Empty(t, resB.Prices)
	case <-time.After(5 * time.Second):
		t.Fatal("cancelled batch kept waiting")
	}

	close(unblock)
	resA := <-doneA
	assert.Equal(t, StatusFetched, resA.Statuses[key])
	assert.Equal(t, "4", resA.Prices[key].String())
	assert.Equal(t, 1, p.callCount())
}

func TestFetchPrices_NonPositivePriceIsMissing(t *testing.T) {
	p := &fakeProvider{fn: priceOf("0")}
	f := newTestFetcher(p, pricecache.NewMemory())

	res, err := f.Fetch(context.Background(), []domain.PriceKey{{Mint: "A", Bucket: 0}}, "key")
	require.NoError(t, err)
	assert.Empty(t, res.Prices)
	assert.Equal(t, StatusFetchedMissing, res.Statuses[domain.PriceKey{Mint: "A", Bucket: 0}])
}

func TestDedupe(t *testing.T) {
	got := Dedupe([]domain.PriceKey{
		{Mint: "B", Bucket: 125},
		{Mint: "A", Bucket: 0},
		{Mint: "B", Bucket: 120},
		{Mint: "A", Bucket: 59},
	})
	assert.Equal(t, []domain.PriceKey{{Mint: "B", Bucket: 120}, {Mint: "A", Bucket: 0}}, got)
}
