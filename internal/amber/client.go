// Package amber talks to the upstream electricity price/usage provider.
// Every call is bounded by the configured timeout so a hung upstream can
// never hang the dashboard.
package amber

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Source is the capability the resolver and the sync job consume.
type Source interface {
	CurrentPrices(ctx context.Context, siteID string) ([]PriceInterval, error)
	RecentUsage(ctx context.Context, siteID string, intervals int) ([]UsageInterval, error)
}

// Options parameterise the API client.
type Options struct {
	BaseURL   string
	Token     string
	Timeout   time.Duration
	UserAgent string
	// Location is the site's billing timezone. The usage route takes civil
	// dates in that zone, not UTC.
	Location *time.Location
}

// Client fetches price and usage intervals over HTTP.
type Client struct {
	opts    Options
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
	loc     *time.Location
	now     func() time.Time
}

// NewClient constructs an API client.
func NewClient(opts Options, logger zerolog.Logger) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.amber.com.au/v1"
	}

	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}

	return &Client{
		opts:    opts,
		logger:  logger.With().Str("component", "amber_client").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
		loc:     loc,
		now:     time.Now,
	}
}

func (c *Client) get(ctx context.Context, path string, query url.Values) (int, []byte, error) {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.opts.Token)
	if ua := strings.TrimSpace(c.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("amber: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("amber: read response: %w", err)
	}
	return resp.StatusCode, body, nil
}

// CurrentPrices fetches the current and upcoming price intervals. The
// dedicated /prices/current route is preferred; some plans 404 on it, in
// which case the bounded list route serves the same data.
func (c *Client) CurrentPrices(ctx context.Context, siteID string) ([]PriceInterval, error) {
	if siteID == "" {
		return nil, errors.New("amber: site id cannot be empty")
	}

	status, body, err := c.get(ctx, "/sites/"+siteID+"/prices/current", nil)
	switch {
	case err != nil:
		return nil, err
	case status == http.StatusOK:
		return decodePrices(body)
	case status == http.StatusNotFound:
		c.logger.Debug().Str("site", siteID).Msg("prices/current unavailable, using list route")
	default:
		return nil, statusError(status, body)
	}

	query := url.Values{"next": {"12"}, "previous": {"0"}}
	status, body, err = c.get(ctx, "/sites/"+siteID+"/prices", query)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, statusError(status, body)
	}
	return decodePrices(body)
}

// RecentUsage fetches the most recent metered intervals, newest first. The
// meter feed lags, so today's window is probed first and yesterday's is the
// fallback when today is still empty.
func (c *Client) RecentUsage(ctx context.Context, siteID string, intervals int) ([]UsageInterval, error) {
	if siteID == "" {
		return nil, errors.New("amber: site id cannot be empty")
	}
	if intervals < 1 {
		intervals = 1
	}

	// Probe dates are civil dates in the site's timezone; the UTC date is
	// still yesterday for hours after local midnight.
	for daysAgo := 0; daysAgo <= 1; daysAgo++ {
		day := c.now().In(c.loc).AddDate(0, 0, -daysAgo).Format("2006-01-02")
		query := url.Values{"startDate": {day}, "endDate": {day}}

		status, body, err := c.get(ctx, "/sites/"+siteID+"/usage", query)
		if err != nil {
			return nil, err
		}
		if status != http.StatusOK {
			if daysAgo == 0 {
				c.logger.Warn().Int("status", status).Str("date", day).Msg("usage fetch failed, trying previous day")
				continue
			}
			return nil, statusError(status, body)
		}

		var usage []UsageInterval
		if err := json.Unmarshal(body, &usage); err != nil {
			return nil, fmt.Errorf("amber: decode usage: %w", err)
		}
		if len(usage) == 0 {
			continue
		}

		sort.Slice(usage, func(i, j int) bool {
			return usage[i].EndTime.After(usage[j].EndTime)
		})
		if len(usage) > intervals {
			usage = usage[:intervals]
		}
		return usage, nil
	}

	return nil, nil
}

// The current-price route returns a single object on some plans and a list
// on others.
func decodePrices(body []byte) ([]PriceInterval, error) {
	var prices []PriceInterval
	if err := json.Unmarshal(body, &prices); err == nil {
		return prices, nil
	}
	var single PriceInterval
	if err := json.Unmarshal(body, &single); err != nil {
		return nil, fmt.Errorf("amber: decode prices: %w", err)
	}
	return []PriceInterval{single}, nil
}

var _ Source = (*Client)(nil)
