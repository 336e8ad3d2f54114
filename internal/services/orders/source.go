// Package orders fetches raw order history pages for a wallet and product.
package orders

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"

	"github.com/mcintyre94/jupalyse/internal/clients"
	"github.com/mcintyre94/jupalyse/internal/domain"
)

// Source returns the raw JSON order history of address for one product.
// A nil payload means the wallet has no orders for the product.
type Source interface {
	Orders(ctx context.Context, address string, product domain.Product) ([]byte, error)
}

// FileSource reads exported pages from <dir>/<address>/<product>.json.
type FileSource struct {
	dir string
}

func NewFileSource(dir string) *FileSource {
	return &FileSource{dir: dir}
}

func (s *FileSource) Orders(ctx context.Context, address string, product domain.Product) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	path := filepath.Join(s.dir, address, string(product)+".json")
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "read orders file %s", path)
	}

	return data, nil
}

// HTTPSource fetches a single page per product from URL templates containing
// an {address} placeholder.
type HTTPSource struct {
	urls       map[domain.Product]string
	httpClient *http.Client
}

func NewHTTPSource(urls map[domain.Product]string, httpClient *http.Client) *HTTPSource {
	if httpClient == nil {
		httpClient = clients.NewHTTPClient()
	}
	return &HTTPSource{urls: urls, httpClient: httpClient}
}

func (s *HTTPSource) Orders(ctx context.Context, address string, product domain.Product) ([]byte, error) {
	tmpl, ok := s.urls[product]
	if !ok {
		return nil, errors.Errorf("no order history URL configured for %s", product)
	}

	u := strings.ReplaceAll(tmpl, "{address}", url.PathEscape(address))

	var raw json.RawMessage
	if err := clients.GetJSON(ctx, s.httpClient, string(product), u, nil, &raw); err != nil {
		return nil, err
	}

	return raw, nil
}
