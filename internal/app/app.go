// Package app wires order collection, price resolution, valuation and export
// into a single run.
package app

import (
	"context"
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mcintyre94/jupalyse/config"
	"github.com/mcintyre94/jupalyse/internal/clients"
	"github.com/mcintyre94/jupalyse/internal/domain"
	"github.com/mcintyre94/jupalyse/internal/services/aggregator"
	"github.com/mcintyre94/jupalyse/internal/services/export"
	"github.com/mcintyre94/jupalyse/internal/services/orders"
	"github.com/mcintyre94/jupalyse/internal/services/pricefetcher"
	"github.com/mcintyre94/jupalyse/internal/services/pricer"
	"github.com/mcintyre94/jupalyse/internal/services/tokens"
	"github.com/mcintyre94/jupalyse/internal/services/valuation"
	"github.com/mcintyre94/jupalyse/internal/storage/pricecache"
)

// App is one export run.
type App struct {
	conf       config.Config
	logger     *zap.Logger
	aggregator *aggregator.Aggregator
	tokens     tokens.Provider
	overrides  tokens.Static
	cache      pricecache.Cache
	fetcher    *pricefetcher.Fetcher
	credential string
	closer     io.Closer
}

// Deps are the collaborators of a run.
type Deps struct {
	Orders     orders.Source
	Tokens     tokens.Provider
	Prices     pricer.HistoryProvider
	Cache      pricecache.Cache
	Credential string
}

// New builds an App from configuration.
func New(ctx context.Context, conf config.Config, logger *zap.Logger) (*App, error) {
	httpClient := clients.NewHTTPClient()

	cache, closer, err := newCache(ctx, conf)
	if err != nil {
		return nil, err
	}

	provider, credential, err := newPriceProvider(conf, httpClient)
	if err != nil {
		if closer != nil {
			if cerr := closer.Close(); cerr != nil {
				logger.Warn("Failed to close price cache", zap.Error(cerr))
			}
		}
		return nil, err
	}

	a := NewWithDeps(conf, logger, Deps{
		Orders:     newOrderSource(conf, httpClient),
		Tokens:     newTokenProvider(conf, httpClient, logger),
		Prices:     provider,
		Cache:      cache,
		Credential: credential,
	})
	a.closer = closer

	return a, nil
}

// NewWithDeps builds an App around explicit collaborators.
func NewWithDeps(conf config.Config, logger *zap.Logger, deps Deps) *App {
	var opts []pricefetcher.Option
	if conf.MinInterval > 0 {
		opts = append(opts, pricefetcher.WithMinInterval(conf.MinInterval))
	}
	if conf.Cooldown > 0 {
		opts = append(opts, pricefetcher.WithCooldown(conf.Cooldown))
	}
	opts = append(opts, pricefetcher.WithCacheMissing(conf.CacheMissing))

	return &App{
		conf:       conf,
		logger:     logger,
		aggregator: aggregator.New(deps.Orders, logger),
		tokens:     deps.Tokens,
		overrides:  tokens.Static(conf.TokenOverrides),
		cache:      deps.Cache,
		fetcher:    pricefetcher.New(deps.Prices, deps.Cache, logger, opts...),
		credential: deps.Credential,
	}
}

// Close releases the cache backend.
func (a *App) Close() error {
	if a.closer == nil {
		return nil
	}
	return a.closer.Close()
}

// Summary describes a finished run.
type Summary struct {
	Events    int
	Deposits  int
	Trades    int
	PriceKeys int
	Cached    int
	Fetched   int
	NoData    int
	Failed    int
	Skipped   int
	Unpriced  int
	OutPath   string
}

// Run collects events, resolves prices and writes the CSV export. A cancelled
// ctx during price resolution still exports what was resolved.
func (a *App) Run(ctx context.Context) (Summary, error) {
	s := Summary{OutPath: a.conf.OutPath}

	events, err := a.aggregator.Collect(ctx, a.conf.Addresses, a.conf.Products)
	if err != nil {
		return s, errors.Wrap(err, "failed to collect order history")
	}
	s.Events = len(events)
	for _, e := range events {
		if e.Kind() == domain.EventTrade {
			s.Trades++
		} else {
			s.Deposits++
		}
	}

	registry := a.resolveTokens(ctx, events)

	keys := valuation.RequiredPriceKeys(events)
	s.PriceKeys = len(keys)

	cached, needed, err := valuation.PartitionCached(ctx, keys, a.cache)
	if err != nil {
		return s, errors.Wrap(err, "failed to read price cache")
	}
	s.Cached = len(cached)

	fetched, err := a.fetch(ctx, needed, &s)
	if err != nil {
		return s, err
	}

	rows, err := valuation.NewValuer(valuation.Merge(cached, fetched), registry, a.conf.Precision).ValueAll(events)
	if err != nil {
		return s, errors.Wrap(err, "failed to value events")
	}
	for _, row := range rows {
		if !row.InputUSD.Known() {
			s.Unpriced++
		}
	}

	if err := export.WriteFile(a.conf.OutPath, rows, registry); err != nil {
		return s, errors.Wrap(err, "failed to write export")
	}

	a.logger.Info("Export written", zap.String("path", a.conf.OutPath), zap.Int("rows", len(rows)))
	return s, nil
}

// fetch resolves keys missing from the cache. Without a credential the export
// goes ahead with cached prices only.
func (a *App) fetch(ctx context.Context, needed []domain.PriceKey, s *Summary) (map[domain.PriceKey]decimal.Decimal, error) {
	if len(needed) == 0 {
		return nil, nil
	}

	res, err := a.fetcher.Fetch(ctx, needed, a.credential)
	if errors.Is(err, pricefetcher.ErrMissingCredential) {
		a.logger.Warn("No price API key set, USD values limited to cached prices",
			zap.Strings("env", config.CredentialEnvVars), zap.Int("keys", len(needed)))
		s.Skipped = len(needed)
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to fetch prices")
	}

	for _, status := range res.Statuses {
		switch status {
		case pricefetcher.StatusFetched:
			s.Fetched++
		case pricefetcher.StatusFetchedMissing:
			s.NoData++
		case pricefetcher.StatusFailed:
			s.Failed++
		default:
			s.Skipped++
		}
	}

	if ctx.Err() != nil {
		a.logger.Warn("Price resolution interrupted, exporting partial prices", zap.Int("skipped", s.Skipped))
	}

	return res.Prices, nil
}

func (a *App) resolveTokens(ctx context.Context, events []domain.Event) tokens.Registry {
	mints := eventMints(events)

	registry, err := tokens.Resolve(ctx, a.tokens, mints)
	if err != nil {
		a.logger.Warn("Token metadata lookup failed, using configured overrides only", zap.Error(err))
		registry, _ = tokens.Resolve(ctx, a.overrides, mints)
	}

	for _, m := range mints {
		if _, ok := registry[m]; !ok {
			a.logger.Warn("Unknown token decimals, amounts left blank", zap.String("mint", m))
		}
	}

	return registry
}

// eventMints lists every mint referenced by events in first-seen order.
func eventMints(events []domain.Event) []string {
	seen := make(map[string]struct{})
	var mints []string

	add := func(m string) {
		if m == "" {
			return
		}
		if _, ok := seen[m]; ok {
			return
		}
		seen[m] = struct{}{}
		mints = append(mints, m)
	}

	for _, e := range events {
		switch ev := e.(type) {
		case domain.Deposit:
			add(ev.InputMint)
		case domain.Trade:
			add(ev.InputMint)
			add(ev.OutputMint)
		}
	}

	return mints
}

var (
	summaryTitle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	summaryBox   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
)

// Render formats the summary for the terminal.
func (s Summary) Render() string {
	body := fmt.Sprintf(
		"Events: %d (%d deposits, %d trades)\nPrice keys: %d (cached %d, fetched %d, no data %d, failed %d, skipped %d)\nOutput: %s",
		s.Events, s.Deposits, s.Trades,
		s.PriceKeys, s.Cached, s.Fetched, s.NoData, s.Failed, s.Skipped,
		s.OutPath,
	)
	if s.Unpriced > 0 {
		body += "\n" + warnStyle.Render(fmt.Sprintf("%d events without a USD value", s.Unpriced))
	}

	return summaryBox.Render(summaryTitle.Render("jupalyse export") + "\n" + body)
}
