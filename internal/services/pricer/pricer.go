// Package pricer holds historical price providers. Every provider answers the
// same question: the USD price history of one mint over a window of minutes.
package pricer

import (
	"context"

	"github.com/pkg/errors"

	"github.com/mcintyre94/jupalyse/internal/domain"
)

var (
	// ErrRateLimited is returned when the provider rejected the request for exceeding its quota.
	ErrRateLimited = errors.New("price provider rate limit exceeded")
	// ErrUnsupportedMint is returned when a provider has no market for the mint.
	ErrUnsupportedMint = errors.New("mint is not supported by price provider")
)

// HistoryProvider returns 1-minute price points for mint within [from, to]
// (unix seconds, inclusive). An empty slice with a nil error means the
// provider has no data for the window.
type HistoryProvider interface {
	PriceHistory(ctx context.Context, credential, mint string, from, to int64) ([]domain.PricePoint, error)
}
