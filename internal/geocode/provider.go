package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/fieldserve/workorder/internal/domain"
)

// HTTPProvider implements Provider against the hosted geocoder:
// GET {base}?q={query} -> 200 {lat,lng,city,state} | 404 not found.
type HTTPProvider struct {
	baseURL string
	timeout time.Duration
	client  *http.Client
}

func NewHTTPProvider(baseURL string, timeout time.Duration) *HTTPProvider {
	return &HTTPProvider{
		baseURL: baseURL,
		timeout: timeout,
		client:  &http.Client{},
	}
}

type lookupResponse struct {
	Lat   float64 `json:"lat"`
	Lng   float64 `json:"lng"`
	City  string  `json:"city"`
	State string  `json:"state"`
}

func (p *HTTPProvider) Lookup(ctx context.Context, query string) (domain.Location, error) {
	timeout := p.timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	ctxTimeout, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	reqURL := p.baseURL + "?q=" + url.QueryEscape(query)
	req, err := http.NewRequestWithContext(ctxTimeout, http.MethodGet, reqURL, nil)
	if err != nil {
		return domain.Location{}, fmt.Errorf("create request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return domain.Location{}, fmt.Errorf("geocoder request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		var body lookupResponse
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return domain.Location{}, fmt.Errorf("decode geocoder response: %w", err)
		}
		return domain.Location{Lat: body.Lat, Lng: body.Lng, City: body.City, State: body.State}, nil
	case resp.StatusCode == http.StatusNotFound:
		return domain.Location{}, ErrNotFound
	default:
		return domain.Location{}, fmt.Errorf("geocoder status %d", resp.StatusCode)
	}
}
