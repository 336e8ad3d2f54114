package clients

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"
)

const defaultTimeout = 60 * time.Second

// StatusError is returned by GetJSON for non-200 responses.
type StatusError struct {
	Service    string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s API returned status %d: %s", e.Service, e.StatusCode, e.Body)
}

// NewHTTPClient returns the HTTP client shared by the JSON API clients.
func NewHTTPClient() *http.Client {
	return &http.Client{
		Timeout: defaultTimeout,
	}
}

// GetJSON performs a GET request with the given headers and decodes a JSON
// body into out. Requests are bound to ctx.
func GetJSON(ctx context.Context, httpClient *http.Client, service, url string, headers map[string]string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return errors.Wrap(err, "failed to create HTTP request")
	}

	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return errors.Wrapf(err, "%s HTTP request failed", service)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrap(err, "failed to read response body")
	}

	if resp.StatusCode != http.StatusOK {
		return &StatusError{Service: service, StatusCode: resp.StatusCode, Body: string(body)}
	}

	if err := json.Unmarshal(body, out); err != nil {
		return errors.Wrapf(err, "failed to unmarshal %s response", service)
	}

	return nil
}
