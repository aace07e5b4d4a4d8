package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go-aftershock/types"
)

// updatedAfterLayout is ISO-8601 with seconds precision and no zone, which
// the feed interprets as UTC.
const updatedAfterLayout = "2006-01-02T15:04:05"

// FetchError means the feed could not be reached or its reply could not be
// used. The tick that saw it is dropped.
type FetchError struct {
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("feed fetch failed (HTTP %d): %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("feed fetch failed: %v", e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Client queries a GeoJSON earthquake feed.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a feed client; a zero timeout means 10 seconds.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// FeedURL builds the query URL for events updated after since with at least
// minMagnitude.
func (c *Client) FeedURL(minMagnitude float64, since time.Time) (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid feed url %q: %w", c.baseURL, err)
	}
	q := u.Query()
	q.Set("format", "geojson")
	q.Set("updatedafter", since.UTC().Format(updatedAfterLayout))
	q.Set("minmagnitude", strconv.FormatFloat(minMagnitude, 'f', -1, 64))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// FetchFeatures returns the feature collection for the given window. Every
// failure is a *FetchError.
func (c *Client) FetchFeatures(ctx context.Context, minMagnitude float64, since time.Time) (*types.FeatureCollection, error) {
	feedURL, err := c.FeedURL(minMagnitude, since)
	if err != nil {
		return nil, &FetchError{Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return nil, &FetchError{Err: err}
	}
	req.Header.Set("Accept", "application/geo+json, application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &FetchError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &FetchError{StatusCode: resp.StatusCode, Err: fmt.Errorf("unexpected status %s", resp.Status)}
	}

	var fc types.FeatureCollection
	if err := json.NewDecoder(resp.Body).Decode(&fc); err != nil {
		return nil, &FetchError{StatusCode: resp.StatusCode, Err: fmt.Errorf("decoding feature collection: %w", err)}
	}
	return &fc, nil
}
