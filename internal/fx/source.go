package fx

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// HTTPSource fetches rates from an external JSON endpoint. The endpoint
// receives base and quote as query parameters and answers {"rate": <float>}.
type HTTPSource struct {
	BaseURL string
	Client  *http.Client
}

// NewHTTPSource constructs an HTTPSource with a bounded client timeout.
func NewHTTPSource(baseURL string) *HTTPSource {
	return &HTTPSource{
		BaseURL: baseURL,
		Client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// FetchRate queries the provider for one pair.
func (s *HTTPSource) FetchRate(ctx context.Context, base, quote string) (float64, error) {
	if s == nil || s.BaseURL == "" {
		return 0, ErrRateUnavailable
	}
	endpoint, err := url.Parse(s.BaseURL)
	if err != nil {
		return 0, fmt.Errorf("fx: provider url: %w", err)
	}
	q := endpoint.Query()
	q.Set("base", base)
	q.Set("quote", quote)
	endpoint.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return 0, err
	}
	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("fx: provider returned %d", resp.StatusCode)
	}

	var body struct {
		Rate float64 `json:"rate"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return 0, fmt.Errorf("fx: decode provider response: %w", err)
	}
	if body.Rate <= 0 {
		return 0, ErrRateUnavailable
	}
	return body.Rate, nil
}
