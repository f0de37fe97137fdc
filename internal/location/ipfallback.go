package location

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

const DefaultIPLookupURL = "https://ipapi.co/json/"

// IPClient looks up an approximate position for the server's view of the
// caller's public IP.
type IPClient struct {
	httpClient *http.Client
	url        string
}

type ipLookupResponse struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
	Error     bool     `json:"error"`
	Reason    string   `json:"reason"`
}

func NewIPClient(url string) *IPClient {
	if url == "" {
		url = DefaultIPLookupURL
	}
	return &IPClient{
		httpClient: &http.Client{Timeout: 5 * time.Second},
		url:        url,
	}
}

func (c *IPClient) Locate(ctx context.Context) (Point, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return Point{}, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Point{}, fmt.Errorf("fetching ip location: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Point{}, fmt.Errorf("ip location lookup returned status %d", resp.StatusCode)
	}

	var body ipLookupResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Point{}, fmt.Errorf("decoding ip location: %w", err)
	}
	if body.Error {
		return Point{}, fmt.Errorf("ip location lookup failed: %s", body.Reason)
	}
	if body.Latitude == nil || body.Longitude == nil {
		return Point{}, fmt.Errorf("ip location response missing coordinates")
	}

	return Point{Lat: *body.Latitude, Lng: *body.Longitude}, nil
}
