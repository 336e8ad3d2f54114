// Package tokens resolves token metadata (symbol, decimals) for mints.
package tokens

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mcintyre94/jupalyse/internal/clients"
	"github.com/mcintyre94/jupalyse/pkg/amount"
)

// DefaultTokenAPIURL is Jupiter's public token API.
const DefaultTokenAPIURL = "https://lite-api.jup.ag"

const lookupConcurrency = 4

// Info is the metadata of one token.
type Info struct {
	Address  string `json:"address" yaml:"address"`
	Symbol   string `json:"symbol" yaml:"symbol"`
	Decimals int32  `json:"decimals" yaml:"decimals"`
	LogoURI  string `json:"logoURI,omitempty" yaml:"logo_uri,omitempty"`
}

// Provider looks up metadata. Mints it does not know are absent from the result.
type Provider interface {
	Tokens(ctx context.Context, mints []string) (map[string]Info, error)
}

// Registry is resolved metadata keyed by mint.
type Registry map[string]Info

// Scale returns the mint's decimals, or an unknown scale.
func (r Registry) Scale(mint string) amount.Scale {
	if info, ok := r[mint]; ok {
		return amount.Decimals(info.Decimals)
	}
	return amount.Scale{}
}

// Symbol returns the mint's symbol or the mint itself.
func (r Registry) Symbol(mint string) string {
	if info, ok := r[mint]; ok && info.Symbol != "" {
		return info.Symbol
	}
	return mint
}

// Static serves metadata from configuration.
type Static map[string]Info

func (s Static) Tokens(_ context.Context, mints []string) (map[string]Info, error) {
	out := make(map[string]Info, len(mints))
	for _, m := range mints {
		if info, ok := s[m]; ok {
			info.Address = m
			out[m] = info
		}
	}
	return out, nil
}

// Chain asks each provider in order for the mints still unresolved.
type Chain []Provider

func (c Chain) Tokens(ctx context.Context, mints []string) (map[string]Info, error) {
	out := make(map[string]Info, len(mints))
	remaining := mints

	for _, p := range c {
		if len(remaining) == 0 {
			break
		}

		found, err := p.Tokens(ctx, remaining)
		if err != nil {
			return nil, err
		}

		next := remaining[:0:0]
		for _, m := range remaining {
			if info, ok := found[m]; ok {
				out[m] = info
				continue
			}
			next = append(next, m)
		}
		remaining = next
	}

	return out, nil
}

// HTTPProvider reads metadata from the Jupiter token API.
type HTTPProvider struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewHTTPProvider creates a token API client. An empty baseURL selects DefaultTokenAPIURL.
func NewHTTPProvider(baseURL string, httpClient *http.Client, logger *zap.Logger) *HTTPProvider {
	if baseURL == "" {
		baseURL = DefaultTokenAPIURL
	}
	if httpClient == nil {
		httpClient = clients.NewHTTPClient()
	}

	return &HTTPProvider{baseURL: strings.TrimRight(baseURL, "/"), httpClient: httpClient, logger: logger}
}

// Tokens looks up each mint. Unknown mints and mints whose lookup fails are
// skipped; the run continues with their decimals unknown. Only cancellation of
// ctx fails the whole lookup.
func (p *HTTPProvider) Tokens(ctx context.Context, mints []string) (map[string]Info, error) {
	var mu sync.Mutex
	out := make(map[string]Info, len(mints))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(lookupConcurrency)

	for _, mint := range mints {
		g.Go(func() error {
			var info Info
			err := clients.GetJSON(gctx, p.httpClient, "token", fmt.Sprintf("%s/tokens/v1/token/%s", p.baseURL, mint), nil, &info)
			if err != nil {
				var se *clients.StatusError
				if errors.As(err, &se) && se.StatusCode == http.StatusNotFound {
					p.logger.Warn("Token metadata not found", zap.String("mint", mint))
					return nil
				}
				if ctx.Err() != nil {
					return errors.Wrapf(err, "lookup token %s", mint)
				}
				p.logger.Warn("Token metadata lookup failed", zap.String("mint", mint), zap.Error(err))
				return nil
			}

			info.Address = mint
			mu.Lock()
			out[mint] = info
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return out, nil
}

// Resolve builds a registry for mints using p.
func Resolve(ctx context.Context, p Provider, mints []string) (Registry, error) {
	found, err := p.Tokens(ctx, mints)
	if err != nil {
		return nil, err
	}
	return Registry(found), nil
}
