package pricer

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/mcintyre94/jupalyse/internal/clients"
	"github.com/mcintyre94/jupalyse/internal/domain"
)

// DefaultBirdeyeURL is the public Birdeye API.
const DefaultBirdeyeURL = "https://public-api.birdeye.so"

type birdeyeHistoryResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    struct {
		Items []domain.PricePoint `json:"items"`
	} `json:"data"`
}

// BirdeyePricer reads Solana token price history from Birdeye.
type BirdeyePricer struct {
	baseURL    string
	httpClient *http.Client
}

// NewBirdeyePricer creates a Birdeye provider. An empty baseURL selects DefaultBirdeyeURL.
func NewBirdeyePricer(baseURL string, httpClient *http.Client) *BirdeyePricer {
	if baseURL == "" {
		baseURL = DefaultBirdeyeURL
	}
	if httpClient == nil {
		httpClient = clients.NewHTTPClient()
	}

	return &BirdeyePricer{baseURL: strings.TrimRight(baseURL, "/"), httpClient: httpClient}
}

// PriceHistory requests 1m history for mint. The credential is sent only in
// the X-API-KEY header.
func (p *BirdeyePricer) PriceHistory(ctx context.Context, credential, mint string, from, to int64) ([]domain.PricePoint, error) {
	q := url.Values{}
	q.Set("address", mint)
	q.Set("address_type", "token")
	q.Set("type", "1m")
	q.Set("time_from", strconv.FormatInt(from, 10))
	q.Set("time_to", strconv.FormatInt(to, 10))

	headers := map[string]string{
		"X-API-KEY": credential,
		"x-chain":   "solana",
	}

	var resp birdeyeHistoryResponse
	err := clients.GetJSON(ctx, p.httpClient, "birdeye", p.baseURL+"/defi/history_price?"+q.Encode(), headers, &resp)
	if err != nil {
		var se *clients.StatusError
		if errors.As(err, &se) && se.StatusCode == http.StatusTooManyRequests {
			return nil, errors.Wrapf(ErrRateLimited, "birdeye %s", mint)
		}
		return nil, err
	}

	if !resp.Success {
		return nil, errors.Errorf("birdeye request for %s failed: %s", mint, resp.Message)
	}

	return resp.Data.Items, nil
}
