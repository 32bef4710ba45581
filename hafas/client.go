package hafas

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"linewatch.dev/linewatch/model"
)

const (
	DefaultBaseURL     = "https://cdt.hafas.de/opendata/apiserver"
	DefaultLanguage    = "fr"
	DefaultTimeout     = 10 * time.Second
	DefaultMaxAttempts = 3
	DefaultRetryDelay  = 1 * time.Second
	DefaultMaxSize     = 8 << 20 // 8 MB
)

// A thing that archives raw provider responses.
type BackupWriter interface {
	Store(endpoint string, body []byte) (string, error)
}

// ClientMetrics receives request accounting from the client.
type ClientMetrics interface {
	RequestInc()
	RequestErrInc()
	RetryInc()
}

// Client fetches stop listings and departure boards from a HAFAS
// style open data API. Failures are retried up to MaxAttempts with
// exponential backoff starting at RetryDelay; the last error is
// propagated. Every call acquires a credential from Quota before the
// first attempt, so failed calls count against the budget too.
//
// TLS certificate verification is disabled: the provider serves a
// chain that fails verification on some hosts, and the data carries
// no secrets in either direction.
type Client struct {
	BaseURL     string
	Language    string
	Timeout     time.Duration
	MaxAttempts int
	RetryDelay  time.Duration
	MaxSize     int

	Quota   *Quota
	Backup  BackupWriter
	Metrics ClientMetrics
}

// NewClient returns a Client with defaults, sharing the given quota.
func NewClient(quota *Quota) *Client {
	return &Client{
		BaseURL:     DefaultBaseURL,
		Language:    DefaultLanguage,
		Timeout:     DefaultTimeout,
		MaxAttempts: DefaultMaxAttempts,
		RetryDelay:  DefaultRetryDelay,
		MaxSize:     DefaultMaxSize,
		Quota:       quota,
	}
}

// NearbyStops fetches the provider's stop listing around an origin
// coordinate. Entries without a usable stop location are dropped.
// The raw response is archived when a backup writer is configured.
func (c *Client) NearbyStops(ctx context.Context, lat, lon float64, radiusMeters, maxResults int) ([]model.Stop, error) {
	params := url.Values{}
	params.Set("originCoordLat", strconv.FormatFloat(lat, 'f', 6, 64))
	params.Set("originCoordLong", strconv.FormatFloat(lon, 'f', 6, 64))
	params.Set("r", strconv.Itoa(radiusMeters))
	params.Set("maxNo", strconv.Itoa(maxResults))

	body, err := c.get(ctx, "location.nearbystops", params)
	if err != nil {
		return nil, fmt.Errorf("fetching stop listing: %w", err)
	}

	if c.Backup != nil {
		// Best effort; a full disk must not abort discovery.
		_, _ = c.Backup.Store("nearbystops", body)
	}

	var listing stopListing
	if err := json.Unmarshal(body, &listing); err != nil {
		return nil, fmt.Errorf("decoding stop listing: %w", err)
	}
	if err := providerError(listing.ErrorCode, listing.ErrorText); err != nil {
		return nil, err
	}

	stops := make([]model.Stop, 0, len(listing.Locations))
	for _, loc := range listing.Locations {
		sl := loc.StopLocation
		if sl == nil || sl.ID == "" {
			// Coordinate-only locations carry no stop.
			continue
		}
		stops = append(stops, model.Stop{
			ID:   sl.ID,
			Name: sl.Name,
			Lat:  sl.Lat,
			Lon:  sl.Lon,
		})
	}
	return stops, nil
}

// DepartureBoard fetches a stop's departure board, optionally scoped
// to a single line.
func (c *Client) DepartureBoard(ctx context.Context, stopID, line string) (*Board, error) {
	params := url.Values{}
	params.Set("id", stopID)
	params.Set("lang", c.Language)
	if line != "" {
		params.Set("lines", line)
	}

	body, err := c.get(ctx, "departureBoard", params)
	if err != nil {
		return nil, fmt.Errorf("fetching departure board for stop %s: %w", stopID, err)
	}

	var board Board
	if err := json.Unmarshal(body, &board); err != nil {
		return nil, fmt.Errorf("decoding departure board for stop %s: %w", stopID, err)
	}
	if err := providerError(board.ErrorCode, board.ErrorText); err != nil {
		return nil, err
	}
	return &board, nil
}

func (c *Client) get(ctx context.Context, endpoint string, params url.Values) ([]byte, error) {
	// Counted up front: quota is spent whether or not the call
	// succeeds.
	params.Set("accessId", c.Quota.Acquire())
	params.Set("format", "json")
	target := c.BaseURL + "/" + endpoint + "?" + params.Encode()

	if c.Metrics != nil {
		c.Metrics.RequestInc()
	}

	var lastErr error
	delay := c.RetryDelay
	for attempt := 0; attempt < c.MaxAttempts; attempt++ {
		if attempt > 0 {
			if c.Metrics != nil {
				c.Metrics.RetryInc()
			}
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}

		body, err := c.do(ctx, target)
		if err == nil {
			return body, nil
		}
		lastErr = err

		// Quota exhaustion won't clear within the attempt
		// budget; surface it so the caller can pause.
		if errors.Is(err, ErrQuotaExceeded) {
			break
		}
	}

	if c.Metrics != nil {
		c.Metrics.RequestErrInc()
	}
	return nil, lastErr
}

func (c *Client) do(ctx context.Context, target string) ([]byte, error) {
	client := &http.Client{
		Timeout: c.Timeout,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		},
	}

	req, err := http.NewRequestWithContext(ctx, "GET", target, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("making request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, ErrQuotaExceeded
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &HTTPError{StatusCode: resp.StatusCode}
	}

	var reader io.Reader = resp.Body
	if c.MaxSize > 0 {
		reader = io.LimitReader(resp.Body, int64(c.MaxSize))
	}

	body, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("reading body: %w", err)
	}
	return body, nil
}
