// Package aggregator collects order history across products and wallets and
// normalizes it into one chronological list of deposits and trades.
package aggregator

import (
	"cmp"
	"context"
	"slices"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mcintyre94/jupalyse/internal/domain"
	"github.com/mcintyre94/jupalyse/internal/metrics"
	"github.com/mcintyre94/jupalyse/internal/services/orders"
)

// Aggregator builds the event timeline.
type Aggregator struct {
	source orders.Source
	logger *zap.Logger
}

func New(source orders.Source, logger *zap.Logger) *Aggregator {
	return &Aggregator{source: source, logger: logger}
}

// Normalize decodes one product's payload. Amounts carry the product's
// encoding: Raw for legacy products, Adjusted for the others.
func Normalize(product domain.Product, payload []byte) ([]domain.Event, error) {
	if len(payload) == 0 {
		return nil, nil
	}

	decoded, err := decodeOrders(product, payload)
	if err != nil {
		return nil, err
	}

	var events []domain.Event
	for _, o := range decoded {
		evs, err := o.events(product.Encoding())
		if err != nil {
			return nil, errors.Wrapf(err, "normalize %s", product)
		}
		events = append(events, evs...)
	}

	return events, nil
}

// Collect fetches every (address, product) pair concurrently and returns the
// sorted timeline. Any failing source fails the whole pass.
func (a *Aggregator) Collect(ctx context.Context, addresses []string, products []domain.Product) ([]domain.Event, error) {
	type job struct {
		address string
		product domain.Product
	}

	jobs := make([]job, 0, len(addresses)*len(products))
	for _, addr := range addresses {
		for _, p := range products {
			jobs = append(jobs, job{address: addr, product: p})
		}
	}

	results := make([][]domain.Event, len(jobs))
	g, gctx := errgroup.WithContext(ctx)

	for i, j := range jobs {
		g.Go(func() error {
			payload, err := a.source.Orders(gctx, j.address, j.product)
			if err != nil {
				return errors.Wrapf(err, "fetch %s orders for %s", j.product, j.address)
			}

			events, err := Normalize(j.product, payload)
			if err != nil {
				return errors.Wrapf(err, "wallet %s", j.address)
			}

			for _, e := range events {
				metrics.EventsCollectedTotal.WithLabelValues(string(j.product), e.Kind().String()).Inc()
			}
			a.logger.Debug("Orders normalized",
				zap.String("address", j.address),
				zap.String("product", string(j.product)),
				zap.Int("events", len(events)))

			results[i] = events
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	var all []domain.Event
	for _, r := range results {
		all = append(all, r...)
	}
	SortEvents(all)

	a.logger.Info("Order history collected", zap.Int("events", len(all)), zap.Int("sources", len(jobs)))

	return all, nil
}

// SortEvents orders events by time. Equal timestamps are ordered by
// transaction, then deposits before trades, then strategy key.
func SortEvents(events []domain.Event) {
	slices.SortStableFunc(events, func(a, b domain.Event) int {
		return cmp.Or(
			cmp.Compare(a.Time(), b.Time()),
			strings.Compare(a.TxRef(), b.TxRef()),
			cmp.Compare(a.Kind(), b.Kind()),
			strings.Compare(a.Strategy().Key, b.Strategy().Key),
		)
	})
}
